// Copyright 2020 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package ili9488

import (
	"time"

	"github.com/sepp89117/ILI9488-T4/diffbuf"
	"github.com/sepp89117/ILI9488-T4/internal/rgb565"
	"github.com/sepp89117/ILI9488-T4/stats"
)

// uploadCore drives diff through the panel protocol, consuming it as the
// stream of (x, y, len) runs spec 4.3 describes. It is the single engine
// behind both the synchronous and asynchronous upload paths: the bare-metal
// original split these into inline code and a DMA-completion ISR chain,
// but since Go has no interrupt context to resume into, both paths here are
// just this same blocking loop, the asynchronous one run from a worker
// goroutine (see runAsync).
func (d *Dev) uploadCore(fb []uint16, diff *diffbuf.Diff, rotation diffbuf.Rotation) stats.Frame {
	start := time.Now()
	d.sched.startFrame()

	diff.InitRead()
	x, y, length, waitLine, done := diff.ReadDiff(0)
	if done {
		d.sched.handleEmptyDiff()
		return stats.Frame{LastDelta: d.sched.lastDelta, Duration: time.Since(start)}
	}
	if length == 0 {
		// The first run starts past scanline 0 and was withheld; read it
		// again with its own scanline allowed.
		x, y, length, _, _ = diff.ReadDiff(waitLine)
	}

	d.sched.beginSyncedFrame(y)

	wr, _ := diffbuf.RotatedDims(width, height, rotation)
	d.session.CASET(uint16(x), uint16(wr-1))
	d.session.PASET(uint16(y), uint16(height-1))

	prevX, prevY := x, y
	uploadedPixels := 0
	transactions := 0
	payload := make([]byte, 0, 4096)

	writeRun := func(x, y, length int) {
		uploadedPixels += length
		transactions++
		if x != prevX {
			d.session.CASET(uint16(x), uint16(wr-1))
			prevX = x
		}
		if y != prevY {
			d.session.PASET(uint16(y), uint16(height-1))
			prevY = y
		}
		d.session.RAMWR()

		payload = payload[:0]
		for i := 0; i < length; i++ {
			idx := y*wr + x + i
			rxp := idx % wr
			ryp := idx / wr
			lx, ly := rotationLogical(rotation, rxp, ryp)
			payload = rgb565.AppendPack18(payload, fb[ly*width+lx])
		}
		d.session.Tx(payload)

		d.sched.recordMargin(wr, x, y, length)
	}

	writeRun(x, y, length)

	for {
		asl := d.sched.allowedScanline()
		rx, ry, rl, waitLine, finished := diff.ReadDiff(asl)
		if finished {
			break
		}
		if rl == 0 {
			d.sched.waitForScanline(waitLine)
			continue
		}
		writeRun(rx, ry, rl)
	}

	margin, teared := d.sched.endFrame()
	return stats.Frame{
		UploadedPixels: uploadedPixels,
		Transactions:   transactions,
		Margin:         margin,
		Teared:         teared,
		LastDelta:      d.sched.lastDelta,
		Duration:       time.Since(start),
	}
}

// rotationLogical maps a rotated-scan coordinate back to the logical
// framebuffer position it reads from, for the driver's fixed width/height.
func rotationLogical(r diffbuf.Rotation, rx, ry int) (int, int) {
	switch r {
	case diffbuf.R0:
		return rx, ry
	case diffbuf.R1:
		return ry, height - 1 - rx
	case diffbuf.R2:
		return width - 1 - rx, height - 1 - ry
	case diffbuf.R3:
		return width - 1 - ry, rx
	default:
		return rx, ry
	}
}

// runSync performs an upload inline on the calling goroutine.
func (d *Dev) runSync(fb []uint16, diff *diffbuf.Diff, rotation diffbuf.Rotation) {
	f := d.uploadCore(fb, diff, rotation)
	d.sink.Record(f)
}

// runAsync launches an upload on a worker goroutine, the Go analogue of the
// reference driver's DMA-completion interrupt chain: there is no hardware
// to interrupt, so a goroutine plays the same "resume on the next event"
// role a state machine resumed from an ISR would.
func (d *Dev) runAsync(fb []uint16, diff *diffbuf.Diff, rotation diffbuf.Rotation, onComplete func()) {
	d.mu.Lock()
	d.inFlight = true
	done := make(chan struct{})
	d.doneCh = done
	d.mu.Unlock()

	go func() {
		f := d.uploadCore(fb, diff, rotation)
		d.sink.Record(f)

		d.mu.Lock()
		d.inFlight = false
		if onComplete != nil {
			onComplete()
		}
		d.mu.Unlock()
		close(done)
	}()
}
