// Copyright 2020 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package panel owns the ILI9488 command/data protocol over a periph.io SPI
// connection: bring-up, the command/data GPIO toggle, the self-diagnostic
// register read, sleep, and the CASET/PASET/RAMWR address-window commands
// the rest of the driver drives the bus with.
package panel

import (
	"errors"
	"fmt"
	"time"

	"periph.io/x/conn/v3"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi"
)

// Panel commands used by Session. Only the subset the core touches.
const (
	cmdNOP        = 0x00
	cmdSWRESET    = 0x01
	cmdRDMODE     = 0x0A
	cmdRDMADCTL   = 0x0B
	cmdRDPIXFMT   = 0x0C
	cmdRDIMGFMT   = 0x0D
	cmdRDSELFDIAG = 0x0F
	cmdSLPOUT     = 0x11
	cmdDISPOFF    = 0x28
	cmdDISPON     = 0x29
	cmdCASET      = 0x2A
	cmdPASET      = 0x2B
	cmdRAMWR      = 0x2C
	cmdSLPIN      = 0x10
)

// Expected post-bring-up status register readings. Begin requires all four
// to match exactly before declaring the panel initialized.
const (
	selfDiagMode   = 0x9C // Display Power Mode
	selfDiagPixFmt = 0x05 // Pixel Format
	selfDiagImgFmt = 0x00 // Image Format
	selfDiagOK     = 0xC0 // Self Diagnostic
)

// initCommands is the panel bring-up table: each entry is a command byte
// followed by its data bytes, grounded on the manufacturer init sequence.
var initCommands = [][]byte{
	{0xE0, 0x00, 0x03, 0x09, 0x08, 0x16, 0x0A, 0x3F, 0x78, 0x4C, 0x09, 0x0A, 0x08, 0x16, 0x1A, 0x0F},
	{0xE1, 0x00, 0x16, 0x19, 0x03, 0x0F, 0x05, 0x32, 0x45, 0x46, 0x04, 0x0E, 0x0D, 0x35, 0x37, 0x0F},
	{0xC0, 0x17, 0x15},
	{0xC1, 0x41},
	{0xC5, 0x00, 0x12, 0x80},
	{0x36, 0x48},
	{0x3A, 0x66},
	{0xB0, 0x80},
	{0xB1, 0xA0},
	{0xB4, 0x02},
	{0xB6, 0x02, 0x02},
	{0xE9, 0x00},
	{0xF7, 0xA9, 0x51, 0x2C, 0x82},
}

// ErrBringUpFailed is returned by Begin when the panel's status registers
// never settle to their expected values after all retries.
var ErrBringUpFailed = errors.New("panel: bring-up failed, check MISO wiring or lower the read clock")

// Opts configures a Session.
type Opts struct {
	// WriteClock is the SPI clock used for commands and pixel data.
	WriteClock physic.Frequency
	// ReadClock is stored but not used by Session: status register reads
	// go over the same connection, at WriteClock, as every other transfer.
	ReadClock physic.Frequency
	// Retries is how many times Begin retries the init sequence before
	// giving up.
	Retries int
	// Reset, if non-nil, is toggled low then high to hardware-reset the
	// panel before the init sequence. If nil, a software reset is issued
	// over the bus instead.
	Reset gpio.PinOut
}

// DefaultOpts are conservative defaults grounded on the reference driver.
var DefaultOpts = Opts{
	WriteClock: 30 * physic.MegaHertz,
	ReadClock:  2 * physic.MegaHertz,
	Retries:    4,
}

// Session owns the SPI connection and the command/data GPIO pin for an
// ILI9488 panel.
type Session struct {
	port spi.Port
	dc   gpio.PinOut
	opts Opts

	cmdConn  conn.Conn
	dataConn conn.Conn
}

// NewSPI opens a Session over p, toggling dc low for commands and high for
// data. opts may be nil to use DefaultOpts.
func NewSPI(p spi.Port, dc gpio.PinOut, opts *Opts) (*Session, error) {
	if dc == nil {
		return nil, errors.New("panel: dc pin is required")
	}
	o := DefaultOpts
	if opts != nil {
		o = *opts
	}
	cmdConn, err := p.Connect(o.WriteClock, spi.Mode0, 8)
	if err != nil {
		return nil, err
	}
	if err := dc.Out(gpio.Low); err != nil {
		return nil, err
	}
	return &Session{port: p, dc: dc, opts: o, cmdConn: cmdConn, dataConn: cmdConn}, nil
}

// String implements conn.Resource.
func (s *Session) String() string {
	return fmt.Sprintf("ili9488.Session{%s}", s.cmdConn)
}

// Halt implements conn.Resource; it puts the panel to sleep.
func (s *Session) Halt() error {
	s.Sleep(true)
	return nil
}

// Begin resets and initializes the panel, retrying the bring-up sequence
// on failure, and returns an error once the first attempt and Opts.Retries
// retries have all failed to produce the expected status register readings.
func (s *Session) Begin() error {
	for attempt := 0; attempt <= s.opts.Retries; attempt++ {
		if s.opts.Reset != nil {
			s.opts.Reset.Out(gpio.High)
			time.Sleep(10 * time.Millisecond)
			s.opts.Reset.Out(gpio.Low)
			time.Sleep(20 * time.Millisecond)
			s.opts.Reset.Out(gpio.High)
		} else {
			for i := 0; i < 5; i++ {
				s.WriteCommand(cmdNOP, nil)
			}
			s.WriteCommand(cmdSWRESET, nil)
		}
		time.Sleep(150 * time.Millisecond)

		for _, c := range initCommands {
			s.WriteCommand(c[0], c[1:])
		}
		s.WriteCommand(cmdSLPOUT, nil)
		time.Sleep(150 * time.Millisecond)
		s.WriteCommand(cmdDISPON, nil)

		mode := s.ReadCommand8(cmdRDMODE)
		pixFmt := s.ReadCommand8(cmdRDPIXFMT)
		imgFmt := s.ReadCommand8(cmdRDIMGFMT)
		diag := s.ReadCommand8(cmdRDSELFDIAG)
		if mode == 0 && pixFmt == 0 && imgFmt == 0 && diag == 0 {
			continue // likely a MISO wiring problem, retry
		}
		if mode == selfDiagMode && pixFmt == selfDiagPixFmt && imgFmt == selfDiagImgFmt && diag == selfDiagOK {
			return nil
		}
		// Registers responded but at least one didn't match the expected
		// power-on values: the self-diagnostic genuinely failed, not a
		// wiring problem. Retry in case this batch needed another reset.
	}
	return ErrBringUpFailed
}

// SelfDiagStatus reads the self-diagnostic register; 0xC0 indicates all
// self tests passed.
func (s *Session) SelfDiagStatus() byte {
	return s.ReadCommand8(cmdRDSELFDIAG)
}

// Sleep toggles the panel's sleep mode.
func (s *Session) Sleep(enable bool) {
	if enable {
		s.WriteCommand(cmdDISPOFF, nil)
		s.WriteCommand(cmdSLPIN, nil)
	} else {
		s.WriteCommand(cmdDISPON, nil)
		s.WriteCommand(cmdSLPOUT, nil)
	}
}

// WriteCommand sends a command byte followed by its data bytes.
func (s *Session) WriteCommand(cmd byte, data []byte) {
	s.dc.Out(gpio.Low)
	s.cmdConn.Tx([]byte{cmd}, nil)
	if len(data) > 0 {
		s.dc.Out(gpio.High)
		s.cmdConn.Tx(data, nil)
	}
}

// ReadCommand8 reads a single status byte following command c. It returns 0
// on any transfer error or if the connection has no read support, matching
// the reference driver's "no timeout configured" default.
func (s *Session) ReadCommand8(c byte) byte {
	s.dc.Out(gpio.Low)
	s.cmdConn.Tx([]byte{c}, nil)
	s.dc.Out(gpio.High)
	rx := make([]byte, 1)
	if err := s.cmdConn.Tx([]byte{0x00}, rx); err != nil {
		return 0
	}
	return rx[0]
}

// CASET sets the column address window [x0, x1].
func (s *Session) CASET(x0, x1 uint16) {
	s.WriteCommand(cmdCASET, []byte{byte(x0 >> 8), byte(x0), byte(x1 >> 8), byte(x1)})
}

// PASET sets the page (row) address window [y0, y1].
func (s *Session) PASET(y0, y1 uint16) {
	s.WriteCommand(cmdPASET, []byte{byte(y0 >> 8), byte(y0), byte(y1 >> 8), byte(y1)})
}

// RAMWR begins a pixel-write burst; subsequent Tx calls on the session send
// pixel data until the next command.
func (s *Session) RAMWR() {
	s.dc.Out(gpio.Low)
	s.cmdConn.Tx([]byte{cmdRAMWR}, nil)
	s.dc.Out(gpio.High)
}

// Tx sends raw pixel bytes during an open RAMWR burst.
func (s *Session) Tx(pixels []byte) error {
	return s.dataConn.Tx(pixels, nil)
}
