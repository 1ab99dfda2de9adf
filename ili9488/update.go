// Copyright 2020 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package ili9488

import (
	"github.com/sepp89117/ILI9488-T4/buffering"
	"github.com/sepp89117/ILI9488-T4/diffbuf"
)

// Update submits a new frame for display. Depending on the configured
// buffering mode and whether a previous asynchronous upload is still in
// flight, the frame may be uploaded immediately, staged for later upload,
// or dropped.
func (d *Dev) Update(fb []uint16, forceFull bool) {
	d.mu.Lock()
	inFlight := d.inFlight
	rotation := d.rotation
	gap := d.diffGap
	mask := d.compareMask
	fullRedraw := forceFull || d.buf.Mirror == buffering.MirrorNone
	dec := d.buf.Update(inFlight, forceFull)
	d.buf.OngoingDiff = false
	d.mu.Unlock()

	switch dec.Action {
	case buffering.ActionDrop:
		return

	case buffering.ActionWaitInFlight:
		d.WaitUpdateComplete()
		d.Update(fb, forceFull)

	case buffering.ActionUploadNow:
		diff := d.diff1
		if diff == nil {
			return
		}
		diff.ComputeDummyDiff(width, height, rotation)
		d.runSync(fb, diff, rotation)
		d.mu.Lock()
		d.buf.Mirror = buffering.MirrorNone
		d.mu.Unlock()

	case buffering.ActionUploadAsync:
		diff := d.diffSlot(dec.DiffTarget)
		if diff == nil || dec.FBTarget == nil {
			return
		}
		target := *dec.FBTarget
		if fullRedraw {
			// The panel contents are unknown (or a full redraw was asked
			// for): copy the frame and upload all of it.
			copy(target, fb)
			diff.ComputeDummyDiff(width, height, rotation)
		} else if dec.Copy {
			diff.ComputeDiff(target, fb, width, height, rotation, gap, mask, true)
		} else {
			diff.ComputeDummyDiff(width, height, rotation)
		}
		d.mu.Lock()
		d.buf.Mirror = dec.NewMirror
		d.mu.Unlock()
		d.runAsync(target, diff, rotation, nil)

	case buffering.ActionDeferredSwap:
		d.handleDeferredSwap(fb, rotation, gap, mask, dec)

	case buffering.ActionRetry:
		d.waitForFB2Clear()
		d.Update(fb, forceFull)
	}
}

// diffSlot returns diff1 or diff2 for slot in {1, 2}.
func (d *Dev) diffSlot(slot int) *diffbuf.Diff {
	if slot == 2 {
		return d.diff2
	}
	return d.diff1
}

// handleDeferredSwap implements the triple-buffer and double-buffer
// "diff2 present, upload in flight" branches of the decision table: the new
// frame is diffed into the secondary buffer now, but the actual swap and
// launch only happen once the in-flight upload completes.
func (d *Dev) handleDeferredSwap(fb []uint16, rotation diffbuf.Rotation, gap int, mask uint16, dec buffering.Decision) {
	diff := d.diffSlot(dec.DiffTarget)
	if diff == nil || dec.FBTarget == nil {
		return
	}
	target := *dec.FBTarget
	if dec.Copy && dec.SourceForDiff != nil && dec.SourceForDiff != dec.FBTarget {
		// Triple buffering: diff against the committed buffer, which the
		// in-flight upload only reads, and stage the frame in the target.
		diff.ComputeDiff(*dec.SourceForDiff, fb, width, height, rotation, gap, mask, false)
		copy(target, fb)
	} else {
		diff.ComputeDiff(target, fb, width, height, rotation, gap, mask, dec.Copy)
	}

	// The double-buffer path diffs the new frame into diff2 against the
	// still-stale fb1 (Copy=false, so fb1 isn't touched above): fb1 and
	// diff1 must be brought up to date once the in-flight upload is clear,
	// by copying fb into fb1 and swapping diff1/diff2, mirroring the
	// original's copyfb(_fb1, fb) + _swapdiff().
	doubleSwap := dec.FBTarget == &d.buf.FB1 && dec.DiffTarget == 2

	d.mu.Lock()
	stillInFlight := d.inFlight
	if dec.FBTarget == &d.buf.FB2 {
		// FB2Full can only become true here while it was previously false
		// (buffering.State.Update returns ActionRetry instead of reaching
		// this point otherwise), so fb2ClearCh is never replaced while a
		// waiter might already be blocked on the old one.
		d.buf.FB2Full = true
		d.fb2ClearCh = make(chan struct{})
	}
	d.mu.Unlock()

	launch := func() {
		d.mu.Lock()
		wasFull := d.buf.FB2Full
		d.buf.FB2Full = false
		if wasFull {
			close(d.fb2ClearCh)
		}
		d.buf.Mirror = dec.NewMirror
		if doubleSwap {
			copy(d.buf.FB1, fb)
			d.diff1, d.diff2 = d.diff2, d.diff1
		}
		fb1, fb2 := d.buf.FB1, d.buf.FB2
		diff1, diff2 := d.diff1, d.diff2
		d.mu.Unlock()

		var launchFB []uint16
		var launchDiff *diffbuf.Diff
		if dec.NewMirror == buffering.MirrorFB2 {
			launchFB, launchDiff = fb2, diff2
		} else {
			launchFB, launchDiff = fb1, diff1
		}
		d.runAsync(launchFB, launchDiff, rotation, nil)
	}

	if stillInFlight {
		d.mu.Lock()
		prevDone := d.doneCh
		d.mu.Unlock()
		go func() {
			<-prevDone
			launch()
		}()
	} else {
		launch()
	}
}

// handleDeferredRegionSwap implements UpdateRegion's ActionDeferredSwap
// branch. When dec.Copy is true, fb1 isn't being read by any in-flight
// upload, so the region diff can copy into it directly. When dec.Copy is
// false, an upload is still reading fb1, so the diff is computed against
// the stale contents (Copy=false, fb1 untouched) and the actual region
// copy is deferred until that upload's completion, mirroring the
// original's asyncUpdateActive()/waitUpdateAsyncComplete() guard around
// copyfb in its updateRegion() mirror branch.
func (d *Dev) handleDeferredRegionSwap(sub []uint16, stride, xmin, xmax, ymin, ymax int, rotation diffbuf.Rotation, gap int, mask uint16, dec buffering.Decision) {
	diff := d.diffSlot(dec.DiffTarget)
	if diff == nil || dec.FBTarget == nil {
		return
	}
	target := *dec.FBTarget
	diff.ComputeRegionDiff(target, width, height, sub, stride, xmin, xmax, ymin, ymax, rotation, gap, mask, dec.Copy)

	d.mu.Lock()
	d.buf.OngoingDiff = true
	d.buf.Mirror = buffering.MirrorNone
	stillInFlight := d.inFlight
	doneCh := d.doneCh
	d.mu.Unlock()

	if dec.Copy {
		return
	}

	copyIntoFB1 := func() {
		d.mu.Lock()
		diffbuf.CopyRegion(d.buf.FB1, width, sub, stride, xmin, xmax, ymin, ymax)
		d.mu.Unlock()
	}

	if stillInFlight {
		go func() {
			<-doneCh
			copyIntoFB1()
		}()
	} else {
		copyIntoFB1()
	}
}

// UpdateRegion updates only the logical rectangle [xmin, xmax] x [ymin,
// ymax] of the panel from sub, a buffer with the given stride. If
// redrawNow is false and a secondary diff buffer is bound, the update is
// deferred and merged into the next full Update call instead of uploading
// immediately.
func (d *Dev) UpdateRegion(redrawNow bool, sub []uint16, stride, xmin, xmax, ymin, ymax int) {
	d.mu.Lock()
	inFlight := d.inFlight
	rotation := d.rotation
	gap := d.diffGap
	mask := d.compareMask
	dec := d.buf.UpdateRegion(redrawNow, inFlight)
	d.mu.Unlock()

	switch dec.Action {
	case buffering.ActionDrop:
		return
	case buffering.ActionWaitInFlight:
		d.WaitUpdateComplete()
		d.UpdateRegion(redrawNow, sub, stride, xmin, xmax, ymin, ymax)
	case buffering.ActionDeferredSwap:
		d.handleDeferredRegionSwap(sub, stride, xmin, xmax, ymin, ymax, rotation, gap, mask, dec)
	default:
		full := make([]uint16, width*height)
		if dec.FBTarget != nil {
			copy(full, *dec.FBTarget)
		}
		diffbuf.CopyRegion(full, width, sub, stride, xmin, xmax, ymin, ymax)
		d.Update(full, false)
	}
}
