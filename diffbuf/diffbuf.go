// Copyright 2020 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package diffbuf implements the differential frame encoder consumed by the
// uploader: it walks two framebuffers under a rotation, gap and compare
// mask, and produces a compact run-list of SKIP/WRITE/END instructions
// describing which pixels changed.
package diffbuf

// Opcodes packed into bits 6-5 of the first byte of each instruction.
const (
	opSkip  byte = 0
	opWrite byte = 1
	opEnd   byte = 2
)

// Diff is a run-list encoding of the pixels that differ between two
// framebuffers, in panel scan order under some rotation. It is reused in
// place across frames: Compute* overwrites the previous content.
type Diff struct {
	buf      []byte
	overflow bool

	wr, hr int // rotated dimensions recorded at compute time

	// read-side cursor
	readPos     int
	cursorIdx   int
	havePending bool
	pendingX    int
	pendingY    int
	pendingLen  int
}

// New allocates a Diff with room for capacity bytes of encoded instructions.
func New(capacity int) *Diff {
	return &Diff{buf: make([]byte, 0, capacity)}
}

// Overflowed reports whether the last Compute* call exceeded the buffer's
// capacity and fell back to a single conservative WRITE to end of frame.
func (d *Diff) Overflowed() bool {
	return d.overflow
}

// Len returns the number of bytes currently encoded.
func (d *Diff) Len() int {
	return len(d.buf)
}

func (d *Diff) reset(wr, hr int) {
	d.buf = d.buf[:0]
	d.overflow = false
	d.wr, d.hr = wr, hr
	d.readPos = 0
	d.cursorIdx = 0
	d.havePending = false
}

// ComputeDiff compares old and newFB, two logical w x h RGB565 framebuffers,
// in panel scan order under rotation r, merging unchanged runs of at most
// gap pixels into the surrounding WRITE and ignoring mask bits when
// comparing. If copy is true, every visited pixel of newFB is written into
// old, establishing old as the mirror for the next comparison.
func (d *Diff) ComputeDiff(old, newFB []uint16, w, h int, r Rotation, gap int, mask uint16, copy bool) {
	wr, hr := RotatedDims(w, h, r)
	d.reset(wr, hr)
	d.encode(wr, hr, gap, func(rx, ry int) bool {
		lx, ly := logicalAt(r, rx, ry, w, h)
		idx := ly*w + lx
		o, n := old[idx], newFB[idx]
		changed := (o^n)&^mask != 0
		if copy {
			old[idx] = n
		}
		return changed
	})
}

// ComputeRegionDiff is the regional variant of ComputeDiff: only pixels
// inside the logical rectangle [xmin, xmax] x [ymin, ymax] are compared,
// read from newRegion (whose own stride may differ from w). Pixels outside
// the rectangle are treated as unchanged. If newStride <= 0 it defaults to
// the rectangle's own width.
func (d *Diff) ComputeRegionDiff(old []uint16, w, h int, newRegion []uint16, newStride int, xmin, xmax, ymin, ymax int, r Rotation, gap int, mask uint16, copy bool) {
	wr, hr := RotatedDims(w, h, r)
	d.reset(wr, hr)
	if newStride <= 0 {
		newStride = xmax - xmin + 1
	}
	d.encode(wr, hr, gap, func(rx, ry int) bool {
		lx, ly := logicalAt(r, rx, ry, w, h)
		if lx < xmin || lx > xmax || ly < ymin || ly > ymax {
			return false
		}
		idx := ly*w + lx
		ridx := (ly-ymin)*newStride + (lx - xmin)
		o, n := old[idx], newRegion[ridx]
		changed := (o^n)&^mask != 0
		if copy {
			old[idx] = n
		}
		return changed
	})
}

// ComputeDummyDiff produces a single WRITE spanning the entire w x h
// rotated frame, used when the caller wants a full-frame upload but still
// wants to drive the uploader through the ordinary diff-reading state
// machine. Unlike an ordinary diff, this single run is allowed to span
// multiple scanlines: the panel auto-advances rows during a RAMWR burst, so
// there is no address-window update to schedule mid-run.
func (d *Diff) ComputeDummyDiff(w, h int, r Rotation) {
	wr, hr := RotatedDims(w, h, r)
	d.reset(wr, hr)
	total := wr * hr
	d.buf = encodeInstr(d.buf, opWrite, total)
	d.buf = encodeInstr(d.buf, opEnd, 0)
}

// encode is the shared run-length walk described in spec.md 4.1: it visits
// every rotated-scan position in order, calling changed to decide whether
// the pixel differs, and emits SKIP/WRITE instructions accordingly. A WRITE
// never crosses a scanline boundary.
func (d *Diff) encode(wr, hr, gap int, changed func(rx, ry int) bool) {
	total := wr * hr
	writing := false
	writeLen := 0
	accum := 0
	committed := 0 // number of pixels already represented by emitted instructions

	fallback := func(from int) {
		remaining := total - from
		d.buf = encodeInstr(d.buf, opWrite, remaining)
		d.buf = encodeInstr(d.buf, opEnd, 0)
		d.overflow = true
	}

	// reserve is the room the fallback needs: a WRITE to end of frame plus
	// END.
	reserve := len(encodeInstr(nil, opWrite, total)) + 1

	// emit appends an instruction, respecting the buffer's capacity: it
	// always leaves reserve bytes free. On overflow it truncates back to the
	// last good state and replaces the remainder of the stream with a
	// conservative WRITE to end of frame.
	emit := func(op byte, n int) bool {
		if n == 0 {
			return true
		}
		before := len(d.buf)
		candidate := encodeInstr(d.buf, op, n)
		if cap(d.buf) > 0 && len(candidate)+reserve > cap(d.buf) {
			d.buf = d.buf[:before]
			fallback(committed)
			return false
		}
		d.buf = candidate
		committed += n
		return true
	}

	for idx := 0; idx < total; idx++ {
		rx := idx % wr
		if rx == 0 && idx != 0 && writing {
			if !emit(opWrite, writeLen) {
				return
			}
			writing = false
			writeLen = 0
		}
		ry := idx / wr
		if !changed(rx, ry) {
			accum++
			continue
		}
		if !writing {
			if !emit(opSkip, accum) {
				return
			}
			accum = 0
			writing = true
			writeLen = 1
		} else if accum <= gap {
			writeLen += accum + 1
			accum = 0
		} else {
			if !emit(opWrite, writeLen) {
				return
			}
			if !emit(opSkip, accum) {
				return
			}
			accum = 0
			writing = true
			writeLen = 1
		}
	}
	if writing {
		if !emit(opWrite, writeLen) {
			return
		}
	}
	d.buf = encodeInstr(d.buf, opEnd, 0)
}

// InitRead rewinds the read cursor to the start of the stream.
func (d *Diff) InitRead() {
	d.readPos = 0
	d.cursorIdx = 0
	d.havePending = false
}

// ReadDiff yields the next WRITE run as (x, y, length) in panel
// coordinates, unless the run's starting scanline y is strictly greater
// than asl (the current allowed scanline), in which case it returns that
// required scanline and consumes nothing, so a later call with a larger asl
// sees the same run. done is true once END has been reached.
func (d *Diff) ReadDiff(asl int) (x, y, length, waitLine int, done bool) {
	if !d.havePending {
		for {
			op, n, next, ok := decodeInstr(d.buf, d.readPos)
			if !ok || op == opEnd {
				d.readPos = next
				return 0, 0, 0, 0, true
			}
			d.readPos = next
			if op == opSkip {
				d.cursorIdx += n
				continue
			}
			// opWrite
			start := d.cursorIdx
			d.pendingX = start % d.wr
			d.pendingY = start / d.wr
			d.pendingLen = n
			d.cursorIdx += n
			d.havePending = true
			break
		}
	}
	if d.pendingY > asl {
		return 0, 0, 0, d.pendingY, false
	}
	d.havePending = false
	return d.pendingX, d.pendingY, d.pendingLen, 0, false
}

// CopyRegion copies the logical rectangle [xmin, xmax] x [ymin, ymax] from
// src (whose own stride may differ from w) into dst, a logical w-wide
// framebuffer. If srcStride <= 0 it defaults to the rectangle's width.
func CopyRegion(dst []uint16, w int, src []uint16, srcStride, xmin, xmax, ymin, ymax int) {
	if srcStride <= 0 {
		srcStride = xmax - xmin + 1
	}
	for ly := ymin; ly <= ymax; ly++ {
		drow := ly * w
		srow := (ly - ymin) * srcStride
		copy(dst[drow+xmin:drow+xmax+1], src[srow:srow+(xmax-xmin+1)])
	}
}

// encodeInstr appends one instruction to dst. The first byte packs a
// continuation flag (bit 7), the 2-bit opcode (bits 6-5) and the low 5 bits
// of n; if n doesn't fit in 5 bits, standard 7-bit continuation bytes
// follow. Typical short runs (n < 32) cost a single byte.
func encodeInstr(dst []byte, op byte, n int) []byte {
	v := uint32(n)
	low := byte(v & 0x1F)
	rest := v >> 5
	first := (op << 5) | low
	if rest == 0 {
		return append(dst, first)
	}
	dst = append(dst, first|0x80)
	for {
		b := byte(rest & 0x7F)
		rest >>= 7
		if rest == 0 {
			return append(dst, b)
		}
		dst = append(dst, b|0x80)
	}
}

// decodeInstr reads one instruction starting at pos, returning the opcode,
// its value, and the position just past it.
func decodeInstr(buf []byte, pos int) (op byte, n int, next int, ok bool) {
	if pos >= len(buf) {
		return 0, 0, pos, false
	}
	first := buf[pos]
	pos++
	op = (first >> 5) & 0x3
	v := uint32(first & 0x1F)
	if first&0x80 != 0 {
		shift := uint(5)
		for {
			if pos >= len(buf) {
				return 0, 0, pos, false
			}
			b := buf[pos]
			pos++
			v |= uint32(b&0x7F) << shift
			if b&0x80 == 0 {
				break
			}
			shift += 7
		}
	}
	return op, int(v), pos, true
}
