// Copyright 2020 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package diffbuf

import (
	"math/rand"
	"testing"
)

// applyDiff replays a Diff's WRITE runs onto dst, pulling pixel values from
// src in rotated scan order. It mimics what the uploader does, minus the
// scanline gating, so tests can assert bit-exact reconstruction.
func applyDiff(t *testing.T, d *Diff, dst []uint16, w, h int, r Rotation, newFB []uint16) {
	t.Helper()
	wr, _ := RotatedDims(w, h, r)
	d.InitRead()
	for {
		x, y, length, _, done := d.ReadDiff(1 << 30)
		if done {
			return
		}
		start := y*wr + x
		for i := 0; i < length; i++ {
			idx := start + i
			rx := idx % wr
			ry := idx / wr
			lx, ly := logicalAt(r, rx, ry, w, h)
			dst[ly*w+lx] = newFB[ly*w+lx]
		}
	}
}

func randFB(n int, seed int64) []uint16 {
	rng := rand.New(rand.NewSource(seed))
	fb := make([]uint16, n)
	for i := range fb {
		fb[i] = uint16(rng.Intn(1 << 16))
	}
	return fb
}

// Invariant: applying a computed diff against the old framebuffer
// reproduces the new framebuffer bit-exactly.
func TestComputeDiffReproducesNewFrame(t *testing.T) {
	const w, h = 16, 12
	for _, r := range []Rotation{R0, R1, R2, R3} {
		old := randFB(w*h, 1)
		newFB := randFB(w*h, 2)
		mirror := append([]uint16(nil), old...)

		d := New(4096)
		d.ComputeDiff(mirror, newFB, w, h, r, 0, 0, false)

		got := append([]uint16(nil), old...)
		applyDiff(t, d, got, w, h, r, newFB)

		for i := range got {
			if got[i] != newFB[i] {
				t.Fatalf("rotation %d: pixel %d = %#x, want %#x", r, i, got[i], newFB[i])
			}
		}
	}
}

// Invariant: an identical pair of frames produces an empty diff (no WRITE
// runs, only END).
func TestComputeDiffNoChangeIsEmpty(t *testing.T) {
	const w, h = 8, 8
	fb := randFB(w*h, 3)
	mirror := append([]uint16(nil), fb...)

	d := New(1024)
	d.ComputeDiff(mirror, fb, w, h, R0, 0, 0, false)

	d.InitRead()
	_, _, _, _, done := d.ReadDiff(1 << 30)
	if !done {
		t.Fatalf("expected no WRITE runs for identical frames")
	}
}

// Invariant: ComputeDummyDiff always yields exactly one WRITE spanning the
// whole rotated frame.
func TestComputeDummyDiffIsFullFrame(t *testing.T) {
	const w, h = 10, 20
	for _, r := range []Rotation{R0, R1, R2, R3} {
		d := New(64)
		d.ComputeDummyDiff(w, h, r)
		wr, hr := RotatedDims(w, h, r)

		d.InitRead()
		x, y, length, _, done := d.ReadDiff(1 << 30)
		if done {
			t.Fatalf("rotation %d: expected one run, got none", r)
		}
		if x != 0 || y != 0 || length != wr*hr {
			t.Fatalf("rotation %d: got (%d,%d,len=%d), want (0,0,len=%d)", r, x, y, length, wr*hr)
		}
		_, _, _, _, done = d.ReadDiff(1 << 30)
		if !done {
			t.Fatalf("rotation %d: expected exactly one run", r)
		}
	}
}

// Invariant: a compare mask that covers every changed bit suppresses the
// diff entirely, even though the raw values differ.
func TestCompareMaskSuppressesMaskedBits(t *testing.T) {
	const w, h = 4, 4
	old := make([]uint16, w*h)
	newFB := make([]uint16, w*h)
	for i := range old {
		old[i] = 0x0000
		newFB[i] = 0x001F // differs only in the blue channel
	}
	mirror := append([]uint16(nil), old...)

	d := New(256)
	d.ComputeDiff(mirror, newFB, w, h, R0, 0, 0x001F, false)

	d.InitRead()
	_, _, _, _, done := d.ReadDiff(1 << 30)
	if !done {
		t.Fatalf("expected masked bits to suppress the diff")
	}
}

// Invariant: with a gap large enough to absorb an entire scanline, two
// changed pixels at the ends of a row collapse into a single WRITE run.
func TestGapMergesAcrossRow(t *testing.T) {
	const w, h = 8, 1
	old := make([]uint16, w*h)
	newFB := make([]uint16, w*h)
	newFB[0] = 1
	newFB[w-1] = 1
	mirror := append([]uint16(nil), old...)

	d := New(256)
	d.ComputeDiff(mirror, newFB, w, h, R0, w, 0, false)

	d.InitRead()
	x, y, length, _, done := d.ReadDiff(1 << 30)
	if done {
		t.Fatalf("expected a merged run")
	}
	if x != 0 || y != 0 || length != w {
		t.Fatalf("got (%d,%d,len=%d), want (0,0,len=%d)", x, y, length, w)
	}
	_, _, _, _, done = d.ReadDiff(1 << 30)
	if !done {
		t.Fatalf("expected exactly one run after merging")
	}
}

// Invariant: mapping every rotated-scan point to its logical position and
// rotating that position back recovers the point, and R1/R3 undo one
// another while R0/R2 are each self-inverse.
func TestRotationRoundTrip(t *testing.T) {
	const w, h = 30, 50
	for _, r := range []Rotation{R0, R1, R2, R3} {
		for rx := 0; rx < h+w; rx++ {
			for ry := 0; ry < h+w; ry++ {
				wr, hr := RotatedDims(w, h, r)
				if rx >= wr || ry >= hr {
					continue
				}
				lx, ly := logicalAt(r, rx, ry, w, h)
				back, back2 := rotateCoord(r, lx, ly, w, h)
				if back != rx || back2 != ry {
					t.Fatalf("rotation %d: round trip failed at (%d,%d) -> logical (%d,%d) -> (%d,%d)", r, rx, ry, lx, ly, back, back2)
				}
			}
		}
	}

	if Inverse(R1) != R3 || Inverse(R3) != R1 {
		t.Fatalf("R1 and R3 must be mutual inverses")
	}
	if Inverse(R0) != R0 || Inverse(R2) != R2 {
		t.Fatalf("R0 and R2 must be self-inverse")
	}
}

// Invariant: encoding overflow falls back to a single WRITE to end of frame
// and sets the overflow flag, without panicking or exceeding capacity.
func TestOverflowFallsBackToSingleWrite(t *testing.T) {
	const w, h = 64, 64
	old := make([]uint16, w*h)
	newFB := randFB(w*h, 7) // dense random diff: every pixel likely changes
	mirror := append([]uint16(nil), old...)

	d := New(8) // deliberately tiny
	d.ComputeDiff(mirror, newFB, w, h, R0, 0, 0, false)

	if !d.Overflowed() {
		t.Fatalf("expected overflow with an 8 byte budget against a dense diff")
	}
	if len(d.buf) > 8 {
		t.Fatalf("encoded buffer exceeded its 8 byte capacity: len=%d cap=%d", len(d.buf), cap(d.buf))
	}

	d.InitRead()
	_, _, _, _, done := d.ReadDiff(1 << 30)
	if done {
		t.Fatalf("expected the fallback WRITE to be readable")
	}
}

// Invariant: ReadDiff withholds a run whose scanline exceeds the allowed
// scanline, and yields it once the allowed scanline catches up, without
// losing or reordering it.
func TestReadDiffScanlineGating(t *testing.T) {
	const w, h = 4, 4
	old := make([]uint16, w*h)
	newFB := make([]uint16, w*h)
	newFB[3*w] = 1 // first pixel of the last row

	d := New(256)
	d.ComputeDiff(old, newFB, w, h, R0, 0, 0, false)

	d.InitRead()
	_, _, _, waitLine, done := d.ReadDiff(1)
	if done {
		t.Fatalf("expected the run to be withheld, not finished")
	}
	if waitLine != 3 {
		t.Fatalf("waitLine = %d, want 3", waitLine)
	}

	x, y, length, _, done := d.ReadDiff(3)
	if done {
		t.Fatalf("expected the run once allowed scanline reached it")
	}
	if x != 0 || y != 3 || length != 1 {
		t.Fatalf("got (%d,%d,len=%d), want (0,3,len=1)", x, y, length)
	}
}

func TestCopyRegion(t *testing.T) {
	const w, h = 6, 6
	dst := make([]uint16, w*h)
	src := []uint16{1, 2, 3, 4, 5, 6}
	CopyRegion(dst, w, src, 3, 1, 3, 2, 3)

	want := map[[2]int]uint16{
		{1, 2}: 1, {2, 2}: 2, {3, 2}: 3,
		{1, 3}: 4, {2, 3}: 5, {3, 3}: 6,
	}
	for p, v := range want {
		if got := dst[p[1]*w+p[0]]; got != v {
			t.Fatalf("dst[%v] = %d, want %d", p, got, v)
		}
	}
}
