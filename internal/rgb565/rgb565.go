// Copyright 2020 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package rgb565 expands RGB565 pixels to the 18-bit-per-channel wire format
// expected by the ILI9488 RAMWR pixel stream.
package rgb565

// Pack18 expands a RGB565 pixel into the three MSB-first bytes the panel
// expects on the wire: 8 bits red, 8 bits green, 8 bits blue, with the
// original 5/6/5 bit channels scaled up to 0..255.
func Pack18(color uint16) [3]byte {
	r5 := (color & 0xF800) >> 11
	g6 := (color & 0x07E0) >> 5
	b5 := color & 0x001F
	r8 := byte((r5 * 255) / 31)
	g8 := byte((g6 * 255) / 63)
	b8 := byte((b5 * 255) / 31)
	return [3]byte{r8, g8, b8}
}

// AppendPack18 appends the 18-bit expansion of color to dst and returns the
// extended slice. Used by the uploader to build a pixel-run payload without
// a per-pixel Tx call.
func AppendPack18(dst []byte, color uint16) []byte {
	p := Pack18(color)
	return append(dst, p[0], p[1], p[2])
}
