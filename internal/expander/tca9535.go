// Package expander drives the TCA9535 16-bit I2C I/O expander that carries
// the panel's chip-select and reset lines.
//
// The chip is write-mostly here: after a single probe read, every pin change
// is a full 16-bit write of the output register, and pin levels are answered
// from an in-memory mirror of that register.
package expander

import (
	"errors"
	"fmt"
	"sync"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/i2c"

	appLog "rgblcd/internal/log"
)

// DefaultAddr is the 7-bit address of the expander on the indicator board.
const DefaultAddr = 0x39

// TCA9535 registers.
const (
	regInput  = 0x00
	regOutput = 0x02
	regConfig = 0x06
)

// Pin is an expander IO number.
type Pin uint8

// Lines wired to the panel controller.
const (
	ChipSelect Pin = 4
	Reset      Pin = 5
)

func (p Pin) String() string {
	switch p {
	case ChipSelect:
		return "LCD_CS"
	case Reset:
		return "LCD_RST"
	default:
		return fmt.Sprintf("IO%d", uint8(p))
	}
}

func (p Pin) mask() uint16 { return 1 << p }

// ErrNotResponding is returned by Init when the probe read fails.
var ErrNotResponding = errors.New("expander: chip not responding")

// Bus owns the expander and the mirror of its output and direction registers.
type Bus struct {
	mu     sync.Mutex
	dev    *i2c.Dev
	output uint16
	config uint16 // 1 = input, power-on default is all inputs
	ready  bool
}

// New wraps an I2C bus. Nothing is sent until Init.
func New(bus i2c.Bus, addr uint16) *Bus {
	return &Bus{
		dev:    &i2c.Dev{Bus: bus, Addr: addr},
		config: 0xFFFF,
	}
}

// Init probes the chip, turns CS and RST into outputs and drives both high.
// Any bus error here is fatal for the panel.
func (b *Bus) Init() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	appLog.Info("initializing io expander", "addr", fmt.Sprintf("0x%02X", b.dev.Addr))

	var in [2]byte
	if err := b.dev.Tx([]byte{regInput}, in[:]); err != nil {
		return fmt.Errorf("%w at 0x%02X: %v", ErrNotResponding, b.dev.Addr, err)
	}
	appLog.Debug("io expander probe ok", "input", fmt.Sprintf("0x%02X%02X", in[1], in[0]))

	config := b.config &^ (ChipSelect.mask() | Reset.mask())
	if err := b.writeReg(regConfig, config); err != nil {
		return fmt.Errorf("expander: configure outputs: %w", err)
	}
	b.config = config

	output := b.output | ChipSelect.mask() | Reset.mask()
	if err := b.writeReg(regOutput, output); err != nil {
		return fmt.Errorf("expander: set idle levels: %w", err)
	}
	b.output = output

	b.ready = true
	appLog.Info("io expander ready")
	return nil
}

// Ready reports whether Init succeeded.
func (b *Bus) Ready() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.ready
}

// Set drives pin to level. It does nothing if Init never succeeded, and bus
// errors are logged rather than returned so a bit-banged transfer can run to
// completion.
func (b *Bus) Set(p Pin, level gpio.Level) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.ready {
		return
	}
	if level {
		b.output |= p.mask()
	} else {
		b.output &^= p.mask()
	}
	if err := b.writeReg(regOutput, b.output); err != nil {
		appLog.Error("io expander write failed", err, "pin", p, "level", level)
	}
}

// Level returns the mirrored level of pin.
func (b *Bus) Level(p Pin) gpio.Level {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.output&p.mask() != 0
}

// Output returns the output register mirror.
func (b *Bus) Output() uint16 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.output
}

// writeReg sends [reg][low][high].
func (b *Bus) writeReg(reg byte, v uint16) error {
	return b.dev.Tx([]byte{reg, byte(v), byte(v >> 8)}, nil)
}
