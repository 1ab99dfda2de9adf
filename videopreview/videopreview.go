// Copyright 2020 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package videopreview serves a live browser preview of an ili9488
// framebuffer over HTTP. Connected clients receive an initial snapshot of
// the logical RGB565 frame and a refreshed image on every UpdateFromFB call.
//
// The protocol is "MJPEG" (https://en.wikipedia.org/wiki/Motion_JPEG), the
// same streaming scheme IP cameras use. PNG is selected by default because
// it compresses ILI9488 UI content (sharp edges, flat fills) far better
// than JPEG; JPEG can be requested with the "format" URL parameter
// ("?format=jpeg") for photographic content.
package videopreview

import (
	"image"
	"image/color"
	"image/draw"
	"net/http"
	"sync"

	"periph.io/x/conn/v3/display"

	"github.com/sepp89117/ILI9488-T4/internal/rgb565"
)

// Options configures a Preview.
type Options struct {
	// Width and Height are the logical (post-rotation) dimensions of the
	// framebuffer served.
	Width, Height int

	// Format is the image format streamed to clients by default.
	Format ImageFormat
}

// Preview serves an HTTP MJPEG stream of an ili9488 logical framebuffer. It
// holds an RGBA copy of the panel contents and re-encodes it lazily, once
// per distinct client image-format request, caching the result until the
// next update.
type Preview struct {
	defaultFormat ImageFormat

	mu       sync.Mutex
	buffer   *image.RGBA
	clients  map[*client]struct{}
	snapshot map[imageConfig][]byte
}

var _ display.Drawer = (*Preview)(nil)
var _ http.Handler = (*Preview)(nil)

// New creates a Preview sized to bounds, whose origin must be (0, 0).
func New(bounds image.Rectangle) *Preview {
	return NewWithOptions(&Options{Width: bounds.Dx(), Height: bounds.Dy()})
}

// NewWithOptions creates a Preview with explicit dimensions and a default
// image format.
func NewWithOptions(opt *Options) *Preview {
	buffer := image.NewRGBA(image.Rect(0, 0, opt.Width, opt.Height))

	// The alpha channel starts fully transparent; make it opaque so the
	// first snapshot a client receives isn't blank.
	draw.Draw(buffer, buffer.Bounds(), image.Black, image.Point{}, draw.Src)

	return &Preview{
		buffer:        buffer,
		clients:       map[*client]struct{}{},
		snapshot:      map[imageConfig][]byte{},
		defaultFormat: opt.Format,
	}
}

// String implements conn.Resource.
func (p *Preview) String() string {
	return "ili9488.Preview"
}

// Halt implements conn.Resource and terminates all running client requests
// asynchronously.
func (p *Preview) Halt() error {
	p.mu.Lock()
	p.terminateClientsLocked()
	p.mu.Unlock()
	return nil
}

// ColorModel implements display.Drawer.
func (p *Preview) ColorModel() color.Model {
	return p.buffer.ColorModel()
}

// Bounds implements display.Drawer.
func (p *Preview) Bounds() image.Rectangle {
	return p.buffer.Bounds()
}

// Draw implements display.Drawer: src is composited into the preview
// buffer at dstRect, and connected clients are signaled to refresh.
func (p *Preview) Draw(dstRect image.Rectangle, src image.Image, srcPts image.Point) error {
	p.mu.Lock()
	draw.Draw(p.buffer, dstRect, src, srcPts, draw.Src)
	p.bufferChangedLocked()
	p.mu.Unlock()
	return nil
}

// UpdateFromFB pushes a logical w*h RGB565 framebuffer to connected
// clients, expanding each pixel to 8 bits per channel as it copies into the
// RGBA preview buffer.
func (p *Preview) UpdateFromFB(fb []uint16) error {
	p.mu.Lock()
	b := p.buffer
	if len(fb) != b.Bounds().Dx()*b.Bounds().Dy() {
		p.mu.Unlock()
		return nil
	}
	for i, px := range fb {
		c := rgb565.Pack18(px)
		o := i * 4
		b.Pix[o] = c[0]
		b.Pix[o+1] = c[1]
		b.Pix[o+2] = c[2]
		b.Pix[o+3] = 0xFF
	}
	p.bufferChangedLocked()
	p.mu.Unlock()
	return nil
}
