// Copyright 2020 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package buffering implements the buffer-selection decision table that
// sits between the caller-facing update calls and the differential upload
// pipeline: given the buffering mode, whether an upload is currently in
// flight, and whether the committed mirror is known, it decides which
// framebuffer and diff buffer the next frame should target.
//
// The decisions here are pure: State.Update and State.UpdateRegion compute
// a Decision value without touching the bus, leaving execution (building
// the actual diff, starting the DMA transfer, waiting on barriers) to the
// caller. This mirrors how ssd1306's windowed-redraw helper returns a plain
// result tuple instead of performing I/O itself.
package buffering

// Mode selects how many framebuffers and diff buffers back the driver.
type Mode int

const (
	// None performs a synchronous full redraw on every update; no
	// framebuffer is retained as a mirror.
	None Mode = iota
	// Double keeps one committed framebuffer (fb1) and diffs directly
	// against the caller's incoming frame.
	Double
	// Triple adds a second framebuffer (fb2) and a second diff buffer so a
	// new frame can be staged while the previous upload is still async.
	Triple
)

// Mirror names which buffer is currently believed to equal the panel.
type Mirror int

const (
	// MirrorNone means no buffer is known to match the panel; the next
	// update must be a full redraw.
	MirrorNone Mirror = iota
	MirrorFB1
	MirrorFB2
)

// Action tells the caller what to do with the Decision.
type Action int

const (
	// ActionDrop means the frame must be discarded without touching any
	// buffer: vsync_spacing=-1 and an upload is in flight.
	ActionDrop Action = iota
	// ActionUploadNow means build a dummy diff over the source and drive
	// it through the synchronous upload path.
	ActionUploadNow
	// ActionUploadAsync means build a diff into DiffTarget and launch an
	// asynchronous upload of FBTarget.
	ActionUploadAsync
	// ActionDeferredSwap means a diff was computed into the secondary diff
	// buffer while the engine was busy; the caller must register a
	// completion callback that performs the buffer/diff swap and launches
	// the deferred upload once the in-flight transfer finishes.
	ActionDeferredSwap
	// ActionRetry means fb2 is still full with a previously staged frame;
	// the caller must wait until fb2 is no longer full (the staged frame
	// has been promoted to the active upload) and then call Update again
	// with the same arguments. State.Update itself never blocks; waiting
	// is the caller's responsibility, matching spec 4.5's "block until
	// fb2_full clears" with the blocking moved to the execution layer.
	ActionRetry
	// ActionWaitInFlight means fb1 cannot be touched yet because the
	// previous asynchronous upload is still reading it and no secondary
	// diff buffer is available to absorb the new frame. The caller must
	// wait for the in-flight upload to complete and then call Update (or
	// UpdateRegion) again with the same arguments, mirroring the original
	// driver's waitUpdateAsyncComplete() barrier before it touches fb1.
	ActionWaitInFlight
)

// Decision is the pure result of State.Update / State.UpdateRegion: what to
// do, and with which buffers.
type Decision struct {
	Action Action

	// FBTarget is the framebuffer the diff should be written into (when
	// Copy is true) and the buffer that should be handed to the uploader.
	FBTarget *[]uint16
	// DiffTarget is the diff buffer slot the new diff should be encoded
	// into.
	DiffTarget int // 1 or 2: the driver's first or second diff buffer
	// SourceForDiff is the buffer to compare the caller's new frame
	// against.
	SourceForDiff *[]uint16
	// Copy indicates the diff computation should also copy the new frame
	// into FBTarget as it walks.
	Copy bool

	// NewMirror is the mirror value that takes effect once this decision's
	// upload is launched (ActionUploadAsync/ActionUploadNow) or completes
	// (ActionDeferredSwap, applied by the completion callback, not here).
	NewMirror Mirror
}

// State holds the buffer-selection state machine described in spec 4.5.
// FB1/FB2 are slices owned by the embedder; the diff buffers are not held
// here, only whether a second one is bound (HaveDiff2).
type State struct {
	Mode Mode

	FB1, FB2     []uint16
	HaveDiff2    bool
	Mirror       Mirror
	OngoingDiff  bool // true when diff2 holds a deferred region update
	FB2Full      bool // a replacement frame has been staged in fb2 while busy
	VsyncSpacing int
}

// Update computes the Decision for update(new_fb, force_full). inFlight
// reports whether an asynchronous upload is currently running.
func (s *State) Update(inFlight, forceFull bool) Decision {
	switch s.Mode {
	case None:
		return Decision{
			Action:    ActionUploadNow,
			FBTarget:  &s.FB1,
			NewMirror: MirrorNone,
		}

	case Double:
		if !s.HaveDiff2 && s.Mirror == MirrorFB1 && !forceFull && !inFlight {
			return Decision{
				Action:        ActionUploadAsync,
				FBTarget:      &s.FB1,
				DiffTarget:    1,
				SourceForDiff: &s.FB1,
				Copy:          true,
				NewMirror:     MirrorFB1,
			}
		}
		// A forced full redraw can never be satisfied by staging a diff into
		// diff2 for later: checked ahead of the deferred-swap branch so
		// forceFull is never silently downgraded to a partial deferred
		// update. If the engine is busy, the caller must wait for it to
		// drain before fb1 can be touched.
		if forceFull && inFlight {
			return Decision{Action: ActionWaitInFlight}
		}
		if s.HaveDiff2 && inFlight {
			return Decision{
				Action:        ActionDeferredSwap,
				FBTarget:      &s.FB1,
				DiffTarget:    2,
				SourceForDiff: &s.FB1,
				Copy:          false,
				NewMirror:     MirrorFB1,
			}
		}
		// No diff2 available: fb1 cannot be safely diffed into or copied
		// over while an upload is still reading it, so the caller must wait
		// for that upload to finish before retrying, mirroring the
		// original's waitUpdateAsyncComplete() barrier.
		if inFlight {
			return Decision{Action: ActionWaitInFlight}
		}
		return Decision{
			Action:        ActionUploadAsync,
			FBTarget:      &s.FB1,
			DiffTarget:    1,
			SourceForDiff: &s.FB1,
			Copy:          true,
			NewMirror:     MirrorFB1,
		}

	case Triple:
		if s.VsyncSpacing < 0 && inFlight {
			return Decision{Action: ActionDrop}
		}
		if inFlight && s.Mirror != MirrorNone {
			if s.FB2Full {
				return Decision{Action: ActionRetry}
			}
			return Decision{
				Action:        ActionDeferredSwap,
				FBTarget:      &s.FB2,
				DiffTarget:    2,
				SourceForDiff: &s.FB1,
				Copy:          true,
				NewMirror:     MirrorFB2,
			}
		}
		target := &s.FB1
		mirror := MirrorFB1
		if s.Mirror == MirrorFB2 {
			target = &s.FB2
			mirror = MirrorFB2
		}
		return Decision{
			Action:        ActionUploadAsync,
			FBTarget:      target,
			DiffTarget:    1,
			SourceForDiff: target,
			Copy:          true,
			NewMirror:     mirror,
		}
	}
	return Decision{Action: ActionDrop}
}

// UpdateRegion computes the Decision for update_region(redrawNow, fb,
// rect). When redrawNow is false and a secondary diff buffer exists, the
// region diff is deferred: it is written into diff2 and OngoingDiff is set
// so the next full update integrates it, and Mirror is invalidated.
//
// When an upload is in flight, fb1 is still being read by that upload's
// goroutine, so the region diff must be computed against the stale fb1
// without copying into it (Copy: false); the caller defers the actual
// copy until the in-flight upload completes, the same pattern State.Update
// uses for its own deferred-swap branch.
func (s *State) UpdateRegion(redrawNow, inFlight bool) Decision {
	if !redrawNow && s.HaveDiff2 {
		return Decision{
			Action:        ActionDeferredSwap,
			FBTarget:      &s.FB1,
			DiffTarget:    2,
			SourceForDiff: &s.FB1,
			Copy:          !inFlight,
			NewMirror:     MirrorNone,
		}
	}
	return s.Update(inFlight, false)
}
