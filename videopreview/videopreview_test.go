// Copyright 2020 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package videopreview

import (
	"image"
	"testing"
)

func TestNewHalt(t *testing.T) {
	p := New(image.Rect(0, 0, 100, 100))

	if err := p.Halt(); err != nil {
		t.Errorf("Halt() failed: %v", err)
	}
}

// UpdateFromFB must expand each RGB565 pixel into the RGBA buffer at full
// opacity, in row-major logical order.
func TestUpdateFromFBExpandsPixels(t *testing.T) {
	p := New(image.Rect(0, 0, 2, 2))

	fb := []uint16{0xF800, 0x07E0, 0x001F, 0xFFFF}
	if err := p.UpdateFromFB(fb); err != nil {
		t.Fatalf("UpdateFromFB() failed: %v", err)
	}

	b := p.buffer
	if r, g, bl, a := b.Pix[0], b.Pix[1], b.Pix[2], b.Pix[3]; r != 0xFF || g != 0 || bl != 0 || a != 0xFF {
		t.Fatalf("pixel 0 = (%d,%d,%d,%d), want pure red opaque", r, g, bl, a)
	}
	if r, g, bl, a := b.Pix[4], b.Pix[5], b.Pix[6], b.Pix[7]; r != 0 || g != 0xFF || bl != 0 || a != 0xFF {
		t.Fatalf("pixel 1 = (%d,%d,%d,%d), want pure green opaque", r, g, bl, a)
	}
}

// A framebuffer whose length doesn't match the configured bounds is
// ignored rather than causing an out-of-range panic.
func TestUpdateFromFBRejectsMismatchedLength(t *testing.T) {
	p := New(image.Rect(0, 0, 4, 4))
	if err := p.UpdateFromFB([]uint16{0, 1, 2}); err != nil {
		t.Fatalf("UpdateFromFB() failed: %v", err)
	}
}
