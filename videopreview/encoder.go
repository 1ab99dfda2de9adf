// Copyright 2020 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package videopreview

import (
	"image/jpeg"
	"image/png"
	"sync"
)

type pngEncoderBufferPool sync.Pool

func (p *pngEncoderBufferPool) Get() *png.EncoderBuffer {
	buf, _ := (*sync.Pool)(p).Get().(*png.EncoderBuffer)
	return buf
}

func (p *pngEncoderBufferPool) Put(buf *png.EncoderBuffer) {
	(*sync.Pool)(p).Put(buf)
}

type pngEncoderManager struct {
	mu   sync.Mutex
	pool pngEncoderBufferPool
	enc  map[png.CompressionLevel]*png.Encoder
}

var pngEncoder pngEncoderManager

// get returns a PNG encoder for level, backed by a globally shared buffer
// pool.
func (m *pngEncoderManager) get(level png.CompressionLevel) *png.Encoder {
	m.mu.Lock()
	defer m.mu.Unlock()

	enc := m.enc[level]
	if enc == nil {
		if m.enc == nil {
			// Panel previews overwhelmingly use a single compression level.
			m.enc = make(map[png.CompressionLevel]*png.Encoder, 1)
		}
		enc = &png.Encoder{
			CompressionLevel: level,
			BufferPool:       &m.pool,
		}
		m.enc[level] = enc
	}

	return enc
}

// jpegOptions configures the JPEG fallback encoder for preview clients that
// request "?format=jpeg".
var jpegOptions = jpeg.Options{Quality: jpeg.DefaultQuality}
