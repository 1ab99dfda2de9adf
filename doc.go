// Copyright 2021 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package ili9488 implements a driver for the ILI9488 SPI TFT panel
// optimized for partial, differential frame updates: only pixels that
// changed since the last update are re-sent over SPI, gated against the
// panel's internal scan position to avoid tearing.
//
// The driver itself lives in the ili9488 subpackage: use ili9488.NewSPI to
// construct a Dev bound to a periph.io spi.Port, then call BindFramebuffers
// and Update to drive the panel.
package ili9488
