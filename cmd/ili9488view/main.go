// Copyright 2020 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Command ili9488view brings up an ILI9488 panel, drives it with a test
// pattern, and serves a live MJPEG preview plus a PNG snapshot with a
// timing-stats overlay, for development on a host machine with the panel
// attached over SPI.
package main

import (
	"flag"
	"fmt"
	"image"
	"image/png"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/fogleman/gg"
	"github.com/golang/freetype/truetype"
	"golang.org/x/image/font/gofont/goregular"

	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/conn/v3/spi/spireg"
	"periph.io/x/host/v3"

	"github.com/sepp89117/ILI9488-T4/ili9488"
	"github.com/sepp89117/ILI9488-T4/diffbuf"
	"github.com/sepp89117/ILI9488-T4/internal/rgb565"
	"github.com/sepp89117/ILI9488-T4/stats"
	"github.com/sepp89117/ILI9488-T4/videopreview"
)

func main() {
	addr := flag.String("http", ":8080", "address to serve the MJPEG preview on")
	dcName := flag.String("dc", "", "GPIO pin name for D/C")
	rstName := flag.String("rst", "", "GPIO pin name for RST (optional)")
	snapshot := flag.String("snapshot", "", "write one PNG snapshot with a stats overlay to this path and exit")
	flag.Parse()

	if _, err := host.Init(); err != nil {
		log.Fatal(err)
	}
	bus, err := spireg.Open("")
	if err != nil {
		log.Fatal(err)
	}
	defer bus.Close()

	dc := gpioreg.ByName(*dcName)
	if dc == nil {
		log.Fatalf("no such GPIO pin: %q", *dcName)
	}
	var rst = gpioreg.ByName(*rstName)

	console := stats.NewConsole()
	dev, err := ili9488.NewSPI(bus, dc, rst, &ili9488.Opts{Sink: console})
	if err != nil {
		log.Fatal(err)
	}

	fb1 := make([]uint16, 320*480)
	src := make([]uint16, 320*480)
	dev.BindFramebuffers(fb1, nil)
	dev.BindDiffBuffers(diffbuf.New(64*1024), nil)
	dev.SetVsyncSpacing(2)

	preview := videopreview.New(dev.Bounds())
	http.Handle("/", preview)

	drawTestPattern(src, 0)
	dev.Update(src, true)

	if *snapshot != "" {
		if err := writeSnapshot(*snapshot, dev, fb1, console); err != nil {
			log.Fatal(err)
		}
		return
	}

	go func() {
		log.Printf("serving preview at http://localhost%s/", *addr)
		log.Fatal(http.ListenAndServe(*addr, nil))
	}()

	frame := 0
	for range time.Tick(time.Second / 30) {
		drawTestPattern(src, frame)
		dev.Update(src, false)
		preview.UpdateFromFB(src)
		frame++
	}
}

// drawTestPattern paints a moving diagonal gradient bar, cheap enough to
// exercise the differential upload path frame after frame without a real
// rendering pipeline.
func drawTestPattern(fb []uint16, frame int) {
	const w, h = 320, 480
	offset := frame % w
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			v := uint16((x + y + offset) % 32)
			fb[y*w+x] = (v << 11) | (v << 6) | v
		}
	}
}

// writeSnapshot renders the current framebuffer plus a text overlay of the
// last recorded stats to a PNG file.
func writeSnapshot(path string, dev *ili9488.Dev, fb1 []uint16, console *stats.Console) error {
	b := dev.Bounds()
	ctx := gg.NewContext(b.Dx(), b.Dy())
	ctx.SetRGB(0, 0, 0)
	ctx.Clear()

	fbImg := image.NewRGBA(b)
	for i, px := range fb1 {
		c := rgb565.Pack18(px)
		o := i * 4
		fbImg.Pix[o], fbImg.Pix[o+1], fbImg.Pix[o+2], fbImg.Pix[o+3] = c[0], c[1], c[2], 0xFF
	}
	ctx.DrawImage(fbImg, 0, 0)

	font, err := truetype.Parse(goregular.TTF)
	if err != nil {
		return err
	}
	face := truetype.NewFace(font, &truetype.Options{Size: 14})
	ctx.SetFontFace(face)

	text := fmt.Sprintf("margin: %d  teared: %t  fps: %.1f", console.LastMargin(), console.LastTeared(), console.FPS())
	tw, th := ctx.MeasureString(text)
	padding := 8.0
	ctx.SetRGB(0, 0, 0)
	ctx.DrawRoundedRectangle(padding, padding, tw+padding*2, th+padding*2, 6)
	ctx.Fill()
	ctx.SetRGB(1, 1, 1)
	ctx.DrawRoundedRectangle(padding, padding, tw+padding*2, th+padding*2, 6)
	ctx.Stroke()
	ctx.DrawString(text, padding*2, padding+th)

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return png.Encode(f, ctx.Image())
}
