// Copyright 2020 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package stats collects and prints per-frame timing statistics for the
// ili9488 driver: upload counts, scanline margin, and tear detection. It is
// an out-of-scope collaborator the core talks to only through the Sink
// interface, adapted from screen1d's console-output pattern.
package stats

import (
	"fmt"
	"image/color"
	"io"
	"sync"
	"time"

	"github.com/maruel/ansi256"
	"github.com/mattn/go-colorable"
)

// Frame records one update's timing and bandwidth statistics.
type Frame struct {
	UploadedPixels int
	Transactions   int
	Margin         int
	Teared         bool
	LastDelta      int
	Duration       time.Duration
}

// Sink receives a Frame after every completed update. Implementations must
// not block; the driver calls Record from the upload goroutine.
type Sink interface {
	Record(Frame)
}

// DiscardSink is a Sink that drops every frame; it is the default when no
// sink is configured.
type DiscardSink struct{}

// Record implements Sink.
func (DiscardSink) Record(Frame) {}

// Console is a Sink that prints a compact, color-coded one-line summary per
// frame to the terminal, in the spirit of screen1d's ANSI output.
type Console struct {
	w       io.Writer
	palette ansi256.Palette

	mu         sync.Mutex
	total      int
	teared     int
	lastMargin int
	lastTeared bool
	lastFPS    float64
	lastRecord time.Time
}

// NewConsole returns a Console sink writing to a colorable stdout.
func NewConsole() *Console {
	return &Console{w: colorable.NewColorableStdout(), palette: *ansi256.Default}
}

var (
	healthyColor = color.NRGBA{G: 200, A: 255}
	tightColor   = color.NRGBA{R: 220, G: 180, A: 255}
	tearedColor  = color.NRGBA{R: 220, A: 255}
)

// Record implements Sink.
func (c *Console) Record(f Frame) {
	c.mu.Lock()
	c.total++
	now := time.Now()
	if !c.lastRecord.IsZero() {
		if dt := now.Sub(c.lastRecord).Seconds(); dt > 0 {
			c.lastFPS = 1 / dt
		}
	}
	c.lastRecord = now
	c.lastMargin = f.Margin
	c.lastTeared = f.Teared

	shade := healthyColor
	if f.Teared {
		c.teared++
		shade = tearedColor
	} else if f.Margin < 8 {
		shade = tightColor
	}
	total := c.total
	c.mu.Unlock()

	fmt.Fprintf(c.w, "%sframe %d: px=%d tx=%d margin=%d delta=%d dur=%s\033[0m\n",
		c.palette.Block(shade), total, f.UploadedPixels, f.Transactions, f.Margin, f.LastDelta, f.Duration)
}

// TearRate returns the fraction of recorded frames that teared.
func (c *Console) TearRate() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.total == 0 {
		return 0
	}
	return float64(c.teared) / float64(c.total)
}

// LastMargin returns the scanline margin recorded for the most recent frame.
func (c *Console) LastMargin() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastMargin
}

// LastTeared reports whether the most recently recorded frame teared.
func (c *Console) LastTeared() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastTeared
}

// FPS returns an instantaneous frames-per-second estimate derived from the
// interval between the two most recently recorded frames. It is 0 until at
// least two frames have been recorded.
func (c *Console) FPS() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastFPS
}
