// Package spi9 implements the 3-wire, 9-bit serial protocol used to program
// the ST7701S panel controller.
//
// Every frame is one mode bit (0 = command, 1 = data) followed by eight
// payload bits, most significant bit first. Link produces the protocol by
// toggling GPIO lines in software; HWLink hands 9-bit words to a hardware SPI
// controller.
package spi9

import (
	"time"

	"periph.io/x/conn/v3/gpio"

	"rgblcd/internal/clock"
)

// Sender is what the panel programmer needs from a link.
type Sender interface {
	SendCommand(code uint16)
	SendData(b byte)
}

// Frame layout.
const (
	FrameBits = 9
	modeBit   = 0x0100
	// pageMarker tags the high half of a split command. It lies above the nine
	// transmitted bits, so it never reaches the wire.
	pageMarker = 0x2000
)

// BitDelay is the half period of the bit clock and the settle time around
// chip-select edges.
const BitDelay = 10 * time.Microsecond

// Link bit-bangs frames over CLK and MOSI with CS gated through any
// gpio.PinOut (on the indicator board, an expander line).
type Link struct {
	clk   gpio.PinOut
	mosi  gpio.PinOut
	cs    gpio.PinOut
	delay clock.Delayer
}

// NewLink builds a link. Pins are not touched until Init.
func NewLink(clk, mosi, cs gpio.PinOut, d clock.Delayer) *Link {
	if d == nil {
		d = clock.Real{}
	}
	return &Link{clk: clk, mosi: mosi, cs: cs, delay: d}
}

// Init configures CLK and MOSI as outputs idling high.
func (l *Link) Init() error {
	if err := l.clk.Out(gpio.High); err != nil {
		return err
	}
	return l.mosi.Out(gpio.High)
}

// Idle parks CS, CLK and MOSI high once programming is over.
func (l *Link) Idle() {
	l.setCS(gpio.High)
	l.setClock(gpio.High)
	l.setData(gpio.High)
}

// SendCommand writes a 16-bit command code as two frames: the high byte as a
// command frame, then, after a chip-select toggle, the low byte as a
// data-shaped frame. The controller expects exactly this sequence, including
// the extra clock pulse after the first frame.
func (l *Link) SendCommand(code uint16) {
	l.setCS(gpio.Low)
	l.wait()
	l.setClock(gpio.Low)
	l.wait()

	l.shift((code>>8)&0x00FF | pageMarker)

	l.setClock(gpio.High)
	l.wait()
	l.setClock(gpio.Low)

	l.setCS(gpio.High)
	l.wait()
	l.setCS(gpio.Low)
	l.wait()

	l.shift(code&0x00FF | modeBit)
	l.setCS(gpio.High)
	l.wait()
}

// SendData writes one data frame.
func (l *Link) SendData(b byte) {
	l.setCS(gpio.Low)
	l.wait()
	l.setClock(gpio.Low)
	l.wait()

	l.shift(uint16(b) | modeBit)

	l.setClock(gpio.High)
	l.wait()
	l.setClock(gpio.Low)
	l.wait()

	l.setCS(gpio.High)
	l.wait()
}

// shift clocks out the low nine bits of frame, MSB first. The controller
// samples MOSI on the rising edge.
func (l *Link) shift(frame uint16) {
	for i := 0; i < FrameBits; i++ {
		l.setData(frame&modeBit != 0)
		frame <<= 1
		l.setClock(gpio.High)
		l.wait()
		l.setClock(gpio.Low)
		l.wait()
	}
}

func (l *Link) wait() { l.delay.Delay(BitDelay) }

// Pin errors are ignored: the protocol has no acknowledgement, so a failed
// edge is indistinguishable from a misread frame.
func (l *Link) setClock(v gpio.Level) { _ = l.clk.Out(v) }
func (l *Link) setData(v gpio.Level)  { _ = l.mosi.Out(v) }
func (l *Link) setCS(v gpio.Level)    { _ = l.cs.Out(v) }

var _ Sender = (*Link)(nil)
