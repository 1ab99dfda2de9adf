// Copyright 2020 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package scanclock estimates the panel's current scan position between
// hardware reads. The panel has a fixed number of internal scanlines driven
// by its own refresh oscillator; reading the real position over SPI is slow,
// so the clock extrapolates from a periodic anchor sample plus an elapsed
// time measurement.
package scanclock

import (
	"math"
	"sync"
	"time"
)

// Clock tracks the panel's scan position. It is safe for concurrent use.
type Clock struct {
	totalLines int
	readLine   func() int // hardware read, returns [0, totalLines)

	mu         sync.Mutex
	syncedLine int
	syncedAt   time.Time
	period     time.Duration // time for one full refresh, all totalLines
}

// New creates a Clock for a panel with the given number of internal
// scanlines. readLine performs the hardware read of the current scanline;
// it is called only from ReadLineHW.
func New(totalLines int, readLine func() int) *Clock {
	return &Clock{totalLines: totalLines, readLine: readLine}
}

// ReadLineHW performs a hardware read of the current scanline, uses it to
// re-anchor the clock, and returns the line read.
func (c *Clock) ReadLineHW() int {
	line := c.readLine()
	now := time.Now()
	c.mu.Lock()
	c.syncedLine = line
	c.syncedAt = now
	c.mu.Unlock()
	return line
}

// LineNow extrapolates the current scanline from the last anchor without
// touching hardware.
func (c *Clock) LineNow() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lineAt(time.Now())
}

func (c *Clock) lineAt(t time.Time) int {
	if c.period <= 0 {
		return c.syncedLine
	}
	elapsed := t.Sub(c.syncedAt)
	advance := int64(elapsed) * int64(c.totalLines) / int64(c.period)
	return int(int64(c.syncedLine)+advance) % c.totalLines
}

// MicrosToReach returns how long to wait until the panel's beam reaches
// target. If sync is true, the current position is re-read from hardware
// before computing the wait.
func (c *Clock) MicrosToReach(target int, sync bool) time.Duration {
	if sync {
		c.ReadLineHW()
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.period <= 0 {
		return 0
	}
	now := c.lineAt(time.Now())
	delta := target - now
	if delta < 0 {
		delta += c.totalLines
	}
	return time.Duration(delta) * c.period / time.Duration(c.totalLines)
}

// MicrosToExitRange returns how long until the beam's current position
// leaves [lo, hi] (inclusive, wrapping), or zero if it is already outside
// the range.
func (c *Clock) MicrosToExitRange(lo, hi int) time.Duration {
	c.mu.Lock()
	now := c.lineAt(time.Now())
	period := c.period
	total := c.totalLines
	c.mu.Unlock()

	inRange := false
	if lo <= hi {
		inRange = now >= lo && now <= hi
	} else {
		inRange = now >= lo || now <= hi
	}
	if !inRange || period <= 0 {
		return 0
	}
	delta := hi + 1 - now
	if delta < 0 {
		delta += total
	}
	return time.Duration(delta) * period / time.Duration(total)
}

// SampleRefreshPeriod blocks waiting for nbFrames full scan cycles (each
// delimited by a transition into and back out of scanline 0) and records the
// average period observed. waitLine0 and waitNotLine0 are expected to block
// until the hardware scanline reaches, respectively leaves, scanline 0; they
// exist as parameters so tests can drive the state machine without a real
// panel.
func (c *Clock) SampleRefreshPeriod(nbFrames int, waitLine0, waitNotLine0 func()) {
	waitLine0()
	waitNotLine0()
	start := time.Now()
	for i := 0; i < nbFrames; i++ {
		waitLine0()
		waitNotLine0()
	}
	elapsed := time.Since(start)
	c.SetPeriod(time.Duration(math.Round(float64(elapsed) / float64(nbFrames))))
}

// SetPeriod sets the clock's full-refresh period directly.
func (c *Clock) SetPeriod(p time.Duration) {
	c.mu.Lock()
	c.period = p
	c.mu.Unlock()
}

// Period returns the clock's current full-refresh period estimate.
func (c *Clock) Period() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.period
}

// RefreshRateForMode returns the refresh rate in Hz for a given panel
// refresh mode, given the period measured at mode 0. Modes 0..15 run at the
// base oscillator divider; modes 16..31 halve the frequency.
func RefreshRateForMode(mode int, periodMode0 time.Duration) float64 {
	freq := 1e6 / (float64(periodMode0) / float64(time.Microsecond))
	if mode >= 16 {
		freq /= 2
		mode -= 16
	}
	return (freq * 16) / (16 + float64(mode))
}

// ModeForRefreshRate finds the refresh mode whose rate is closest to hz,
// given the period measured at mode 0, via binary search over the
// monotonically decreasing RefreshRateForMode(mode, periodMode0).
func ModeForRefreshRate(hz float64, periodMode0 time.Duration) int {
	if hz <= RefreshRateForMode(31, periodMode0) {
		return 31
	}
	if hz >= RefreshRateForMode(0, periodMode0) {
		return 0
	}
	a, b := 0, 31
	for b-a > 1 {
		c := (a + b) / 2
		if hz < RefreshRateForMode(c, periodMode0) {
			a = c
		} else {
			b = c
		}
	}
	da := RefreshRateForMode(a, periodMode0) - hz
	db := hz - RefreshRateForMode(b, periodMode0)
	if da < db {
		return a
	}
	return b
}
