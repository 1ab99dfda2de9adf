// Copyright 2020 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package ili9488

import (
	"time"

	"github.com/sepp89117/ILI9488-T4/scanclock"
)

// maxVsyncSpacing bounds how many refreshes a single frame may legitimately
// span before the scheduler treats the gap as a resync rather than normal
// pacing.
const maxVsyncSpacing = 32

// minWaitTime is the shortest wait waitForScanline sleeps for; shorter
// computed waits are rounded up to it.
const minWaitTime = 50 * time.Microsecond

// scheduler gates the uploader on the panel's beam position, per spec 4.4.
// It replaces the bare-metal interval-timer ISR with plain blocking waits:
// since Go has no interrupt-masked critical sections, every wait here is
// just a goroutine sleeping on its own stack, which the async upload path
// runs from a dedicated worker goroutine (see uploader.go).
type scheduler struct {
	clock *scanclock.Clock

	vsyncSpacing           int
	lateStartRatio         float64
	lateStartRatioOverride bool

	timeframestart time.Time
	lastDelta      int

	slinitpos    int
	asyncStartAt time.Time

	margin int
	teared bool
}

func newScheduler(clock *scanclock.Clock) *scheduler {
	return &scheduler{clock: clock, vsyncSpacing: 0, lateStartRatio: 0}
}

// emAsync returns elapsed time since the async upload's recorded start.
func (s *scheduler) emAsync() time.Duration {
	if s.asyncStartAt.IsZero() {
		return 0
	}
	return time.Since(s.asyncStartAt)
}

// nbScanlineDuring converts an elapsed duration into a scanline count at the
// clock's current period.
func (s *scheduler) nbScanlineDuring(d time.Duration) int {
	period := s.clock.Period()
	if period <= 0 {
		return 0
	}
	return int(int64(d) * int64(totalScanlines) / int64(period))
}

// timeForScanlines converts a scanline count into a wait duration at the
// clock's current period.
func (s *scheduler) timeForScanlines(n int) time.Duration {
	period := s.clock.Period()
	if period <= 0 || n <= 0 {
		return 0
	}
	return time.Duration(n) * period / time.Duration(totalScanlines)
}

// startFrame resets per-frame bookkeeping.
func (s *scheduler) startFrame() {
	s.margin = totalScanlines
	s.teared = false
}

// handleEmptyDiff updates timeframestart bookkeeping for a frame whose diff
// carried no WRITE runs at all, mirroring the reference driver's handling
// of an empty diff under vsync pacing.
func (s *scheduler) handleEmptyDiff() {
	if s.vsyncSpacing <= 0 {
		return
	}
	period := s.clock.Period()
	t1 := time.Now().Add(s.clock.MicrosToReach(0, true))
	t2 := s.timeframestart.Add(time.Duration(s.vsyncSpacing) * period)
	third := period / 3
	if absDuration(t1.Sub(t2)) < third {
		t1 = t2
	}
	tfs := t1
	if !s.lateStartRatioOverride && t1.Before(t2) && t2.Sub(t1) <= time.Duration(maxVsyncSpacing+1)*period {
		tfs = t2
	}
	if tfs.Before(s.timeframestart) {
		tfs = t2
	}
	s.lateStartRatioOverride = false
	if period > 0 {
		s.lastDelta = int(round(float64(tfs.Sub(s.timeframestart)) / float64(period)))
	}
	s.timeframestart = tfs
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}

func round(f float64) float64 {
	if f < 0 {
		return float64(int64(f - 0.5))
	}
	return float64(int64(f + 0.5))
}

// beginSyncedFrame blocks until the right instant to start an upload whose
// first run begins at scanline sc1, per the vsync_spacing>=1 pacing rule,
// and records slinitpos/asyncStartAt for subsequent allowedScanline calls.
func (s *scheduler) beginSyncedFrame(sc1 int) {
	if s.vsyncSpacing <= 0 {
		s.slinitpos = s.clock.LineNow()
		s.asyncStartAt = time.Now()
		return
	}
	period := s.clock.Period()
	dd := s.timeframestart.Add(time.Duration(s.vsyncSpacing-1) * period).Sub(time.Now())
	if dd > 0 {
		time.Sleep(dd)
	}

	sc2 := sc1 + int(float64(totalScanlines-1-sc1)*s.lateStartRatio)
	t2 := s.clock.MicrosToReach(sc2, true)
	t := s.clock.MicrosToReach(sc1, false)
	if s.lateStartRatioOverride {
		s.lateStartRatioOverride = false
	} else if t2 < t {
		t = 0 // already late, start right away
	}
	if t > 0 {
		time.Sleep(t)
	}
	for {
		w := s.clock.MicrosToExitRange(0, sc1)
		if w <= 0 {
			break
		}
		time.Sleep(w)
	}

	s.slinitpos = s.clock.LineNow()
	s.asyncStartAt = time.Now()
	tfs := time.Now().Add(s.clock.MicrosToReach(0, false))
	if period > 0 {
		s.lastDelta = int(round(float64(tfs.Sub(s.timeframestart)) / float64(period)))
	}
	s.timeframestart = tfs
}

// allowedScanline returns the scanline the write cursor is currently
// permitted to reach without overtaking the beam by an unsafe margin.
func (s *scheduler) allowedScanline() int {
	if s.vsyncSpacing > 0 {
		return s.slinitpos + s.nbScanlineDuring(s.emAsync())
	}
	return 2 * totalScanlines
}

// waitForScanline blocks until the allowed scanline has advanced one line
// past r, the scanline a pending run requires.
func (s *scheduler) waitForScanline(r int) {
	asl := s.allowedScanline()
	t := s.timeForScanlines(r - asl + 1)
	if t < minWaitTime {
		t = minWaitTime
	}
	time.Sleep(t)
}

// recordMargin updates the frame's minimum margin after writing a run
// ending at panel coordinate (x+len, y) in a frame W_rot wide.
func (s *scheduler) recordMargin(wRot, x, y, length int) {
	if s.vsyncSpacing <= 0 {
		return
	}
	m := (wRot*y+x+length)/wRot + totalScanlines - s.slinitpos - s.nbScanlineDuring(s.emAsync())
	if m < s.margin {
		s.margin = m
	}
	if m < 0 {
		s.teared = true
	}
}

// endFrame finalizes margin/teared bookkeeping for the frame that just
// completed.
func (s *scheduler) endFrame() (margin int, teared bool) {
	return s.margin, s.teared
}
