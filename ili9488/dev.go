// Copyright 2020 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package ili9488

import (
	"fmt"
	"image"
	"image/color"
	"sync"
	"time"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/spi"

	"github.com/sepp89117/ILI9488-T4/buffering"
	"github.com/sepp89117/ILI9488-T4/diffbuf"
	"github.com/sepp89117/ILI9488-T4/internal/rgb565"
	"github.com/sepp89117/ILI9488-T4/panel"
	"github.com/sepp89117/ILI9488-T4/scanclock"
	"github.com/sepp89117/ILI9488-T4/stats"
)

// Logical framebuffer dimensions in orientation R0 (portrait). The panel's
// scan generator always runs totalScanlines lines regardless of rotation.
const (
	width          = 320
	height         = 480
	totalScanlines = 320
)

// Opts configures a Dev at construction time.
type Opts struct {
	PanelOpts *panel.Opts
	// Sink receives per-frame timing statistics. Defaults to stats.DiscardSink{}.
	Sink stats.Sink
}

// Dev is an ILI9488 panel driver optimized for partial, differential frame
// updates. Construct one with NewSPI, bind framebuffers and diff buffers
// with BindFramebuffers/BindDiffBuffers, then drive it with Update.
type Dev struct {
	session *panel.Session
	clock   *scanclock.Clock
	sched   *scheduler
	sink    stats.Sink

	mu sync.Mutex

	rotation    diffbuf.Rotation
	refreshMode int
	periodMode0 time.Duration
	diffGap     int
	compareMask uint16

	buf buffering.State

	diff1, diff2 *diffbuf.Diff

	inFlight bool
	doneCh   chan struct{}

	// fb2ClearCh is closed whenever buf.FB2Full transitions back to false,
	// so a caller blocked in waitForFB2Clear wakes as soon as the staged
	// frame is promoted to the active upload.
	fb2ClearCh chan struct{}
}

// NewSPI brings up a Dev over SPI. dc and rst are the command/data and
// (optional) reset GPIO pins; rst may be nil.
func NewSPI(p spi.Port, dc, rst gpio.PinOut, opts *Opts) (*Dev, error) {
	if opts == nil {
		opts = &Opts{}
	}
	popts := panel.DefaultOpts
	if opts.PanelOpts != nil {
		popts = *opts.PanelOpts
	}
	popts.Reset = rst
	s, err := panel.NewSPI(p, dc, &popts)
	if err != nil {
		return nil, err
	}
	if err := s.Begin(); err != nil {
		return nil, err
	}

	sink := opts.Sink
	if sink == nil {
		sink = stats.DiscardSink{}
	}

	d := &Dev{
		session:     s,
		sink:        sink,
		rotation:    diffbuf.R0,
		periodMode0: 16667 * time.Microsecond,
		doneCh:      closedChan(),
		fb2ClearCh:  closedChan(),
	}
	d.clock = scanclock.New(totalScanlines, func() int { return readScanLine(s) })
	d.sched = newScheduler(d.clock)
	d.resync()
	return d, nil
}

func closedChan() chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}

// readScanLine issues the panel's "read scanline" command sequence, a
// vendor-specific secret register read distinct from the public status
// registers Session exposes directly.
func readScanLine(s *panel.Session) int {
	raw := s.ReadCommand8(0x45)
	sc := 2*int(raw) - 3
	if sc < 0 {
		sc = 0
	}
	return sc % totalScanlines
}

func (d *Dev) resync() {
	d.clock.ReadLineHW()
	d.sched.lateStartRatioOverride = true
}

// String implements conn.Resource.
func (d *Dev) String() string {
	return fmt.Sprintf("ili9488.Dev{%s}", d.session)
}

// Halt implements conn.Resource: waits for any in-flight upload then sleeps
// the panel.
func (d *Dev) Halt() error {
	d.WaitUpdateComplete()
	d.session.Sleep(true)
	return nil
}

// ColorModel returns the panel's RGB565 color model. Dev has no Draw
// method, so it does not implement display.Drawer.
func (d *Dev) ColorModel() color.Model {
	return rgb565Model{}
}

// Bounds returns the panel-facing frame bounds; it reflects the current
// rotation.
func (d *Dev) Bounds() image.Rectangle {
	d.mu.Lock()
	defer d.mu.Unlock()
	wr, hr := diffbuf.RotatedDims(width, height, d.rotation)
	return image.Rect(0, 0, wr, hr)
}

// BindFramebuffers rebinds the driver's framebuffer(s). Passing a nil fb2
// selects double-buffer mode; a non-nil fb2 selects triple-buffer mode.
// Both buffers, if present, are zeroed and the mirror is invalidated so the
// next update performs a full redraw.
func (d *Dev) BindFramebuffers(fb1, fb2 []uint16) {
	d.WaitUpdateComplete()
	d.mu.Lock()
	defer d.mu.Unlock()

	zero(fb1)
	zero(fb2)
	d.buf.FB1 = fb1
	d.buf.FB2 = fb2
	if fb2 != nil {
		d.buf.Mode = buffering.Triple
	} else {
		d.buf.Mode = buffering.Double
	}
	d.buf.Mirror = buffering.MirrorNone
	d.buf.OngoingDiff = false
	if d.buf.FB2Full {
		close(d.fb2ClearCh)
	}
	d.buf.FB2Full = false
}

func zero(fb []uint16) {
	for i := range fb {
		fb[i] = 0
	}
}

// BindDiffBuffers rebinds the diff buffer(s) used to encode changes. A
// nil diff2 means updateRegion cannot defer a redraw.
func (d *Dev) BindDiffBuffers(diff1, diff2 *diffbuf.Diff) {
	d.WaitUpdateComplete()
	d.mu.Lock()
	defer d.mu.Unlock()
	d.diff1 = diff1
	d.diff2 = diff2
	d.buf.HaveDiff2 = diff2 != nil
}

// SetRotation selects one of the panel's four scan orientations.
func (d *Dev) SetRotation(r diffbuf.Rotation) {
	d.WaitUpdateComplete()
	d.mu.Lock()
	defer d.mu.Unlock()
	d.rotation = r
	d.buf.Mirror = buffering.MirrorNone
	d.buf.OngoingDiff = false
}

// SetRefreshMode selects one of the panel's 32 frame rates and remeasures
// the scan period.
func (d *Dev) SetRefreshMode(mode int) {
	if mode < 0 || mode > 31 {
		return
	}
	d.WaitUpdateComplete()
	diva := byte(0)
	m := mode
	if m >= 16 {
		m -= 16
		diva = 1
	}
	d.session.WriteCommand(0xB1, []byte{diva, byte(0x10 + m)})
	time.Sleep(50 * time.Microsecond)

	d.mu.Lock()
	d.refreshMode = mode
	d.mu.Unlock()
	d.sampleRefreshPeriod()
	d.resync()
}

func (d *Dev) sampleRefreshPeriod() {
	waitLine0 := func() {
		for d.clock.ReadLineHW() != 0 {
		}
	}
	waitNotLine0 := func() {
		for d.clock.ReadLineHW() == 0 {
		}
	}
	d.clock.SampleRefreshPeriod(10, waitLine0, waitNotLine0)
}

// SetVsyncSpacing sets the target number of panel refreshes per uploaded
// frame; -1 allows frames to be dropped, 0 disables beam tracking.
func (d *Dev) SetVsyncSpacing(k int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sched.vsyncSpacing = k
	d.buf.VsyncSpacing = k
}

// SetDiffGap sets the gap tolerance used when merging adjacent change runs.
func (d *Dev) SetDiffGap(g int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.diffGap = g
}

// SetCompareMask sets the bits ignored when comparing pixels.
func (d *Dev) SetCompareMask(m uint16) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.compareMask = m
}

// SetLateStartRatio sets how far past scanline 0 an upload may still start
// without being considered late.
func (d *Dev) SetLateStartRatio(r float64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sched.lateStartRatio = r
}

// AsyncUpdateActive reports whether an asynchronous upload is in flight.
func (d *Dev) AsyncUpdateActive() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.inFlight
}

// DiffUpdateActive reports whether a deferred region diff is pending
// integration into the next update.
func (d *Dev) DiffUpdateActive() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.buf.OngoingDiff
}

// BufferingMode reports the currently configured buffering mode.
func (d *Dev) BufferingMode() buffering.Mode {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.buf.Mode
}

// WaitUpdateComplete blocks until any in-flight asynchronous upload
// finishes. It is the core's only synchronization barrier.
func (d *Dev) WaitUpdateComplete() {
	d.mu.Lock()
	ch := d.doneCh
	d.mu.Unlock()
	<-ch
}

// waitForFB2Clear blocks until fb2 is no longer holding a staged frame,
// i.e. until the previously staged frame has been promoted to the active
// upload (see ActionRetry in package buffering).
func (d *Dev) waitForFB2Clear() {
	d.mu.Lock()
	ch := d.fb2ClearCh
	d.mu.Unlock()
	<-ch
}

// Clear fills the panel with a solid color synchronously, and fills fb1 (if
// bound) with the same color so it remains the mirror.
func (d *Dev) Clear(c uint16) {
	d.WaitUpdateComplete()
	d.mu.Lock()
	if d.buf.FB1 != nil {
		for i := range d.buf.FB1 {
			d.buf.FB1[i] = c
		}
	}
	rotation := d.rotation
	d.buf.Mirror = buffering.MirrorFB1
	d.mu.Unlock()

	wr, hr := diffbuf.RotatedDims(width, height, rotation)
	d.uploadSolid(c, wr, hr)
}

func (d *Dev) uploadSolid(c uint16, wr, hr int) {
	d.sched.startFrame()
	d.session.CASET(0, uint16(wr-1))
	d.session.PASET(0, uint16(hr-1))
	d.session.RAMWR()
	px := rgb565.Pack18(c)
	row := make([]byte, 0, wr*3)
	for i := 0; i < wr; i++ {
		row = append(row, px[0], px[1], px[2])
	}
	for y := 0; y < hr; y++ {
		d.session.Tx(row)
	}
}

// rgb565Model implements color.Model for RGB565 pixels.
type rgb565Model struct{}

func (rgb565Model) Convert(c color.Color) color.Color {
	r, g, b, _ := c.RGBA()
	r5 := (r >> 11) & 0x1F
	g6 := (g >> 10) & 0x3F
	b5 := (b >> 11) & 0x1F
	return rgb565Color(uint16(r5<<11 | g6<<5 | b5))
}

// rgb565Color is a color.Color backed directly by an RGB565 value.
type rgb565Color uint16

func (c rgb565Color) RGBA() (r, g, b, a uint32) {
	px := rgb565.Pack18(uint16(c))
	r = uint32(px[0]) * 0x101
	g = uint32(px[1]) * 0x101
	b = uint32(px[2]) * 0x101
	a = 0xFFFF
	return
}
