// Package sim models the indicator board's panel hardware in memory: the
// TCA9535 expander on I2C, plain output lines, and an ST7701S controller that
// decodes the 9-bit serial protocol from pin edges.
//
// It backs the "sim" backend and the end-to-end tests.
package sim

import (
	"errors"
	"fmt"
	"sync"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/physic"
)

// ErrNack is returned for transactions the simulated chip does not answer.
var ErrNack = errors.New("sim: i2c address not acknowledged")

// TCA9535 register file layout: input, output, polarity, config; each a
// low/high pair.
const (
	regInput0  = 0
	regOutput0 = 2
	regPolar0  = 4
	regConfig0 = 6
)

// Expander is an i2c.Bus with one TCA9535 on it.
type Expander struct {
	mu     sync.Mutex
	addr   uint16
	absent bool
	regs   [8]byte
	outs   map[uint8]gpio.PinOut
	driven map[uint8]gpio.Level
	txs    int
	writes []uint16
}

// NewExpander returns a chip at addr in its power-on state.
func NewExpander(addr uint16) *Expander {
	e := &Expander{
		addr:   addr,
		outs:   map[uint8]gpio.PinOut{},
		driven: map[uint8]gpio.Level{},
	}
	e.regs[regOutput0], e.regs[regOutput0+1] = 0xFF, 0xFF
	e.regs[regConfig0], e.regs[regConfig0+1] = 0xFF, 0xFF
	return e
}

// SetAbsent makes every transaction fail, as if the chip were not fitted.
func (e *Expander) SetAbsent(absent bool) {
	e.mu.Lock()
	e.absent = absent
	e.mu.Unlock()
}

// Connect routes expander IO n to p. p follows the pin whenever the pin is
// configured as an output.
func (e *Expander) Connect(n uint8, p gpio.PinOut) {
	e.mu.Lock()
	e.outs[n] = p
	e.mu.Unlock()
}

func (e *Expander) String() string { return fmt.Sprintf("sim-tca9535@0x%02X", e.addr) }

func (e *Expander) SetSpeed(physic.Frequency) error { return nil }

func (e *Expander) Close() error { return nil }

// Tx implements i2c.Bus. The register pointer toggles within a register pair
// the way the real part auto-increments.
func (e *Expander) Tx(addr uint16, w, r []byte) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.absent || addr != e.addr {
		return ErrNack
	}
	if len(w) == 0 {
		return errors.New("sim: missing register pointer")
	}
	e.txs++

	reg := w[0] & 0x07
	touched := false
	for i, b := range w[1:] {
		idx := reg&^1 | (reg+byte(i))&1
		if idx == regInput0 || idx == regInput0+1 {
			continue
		}
		e.regs[idx] = b
		touched = true
	}
	for i := range r {
		idx := reg&^1 | (reg+byte(i))&1
		r[i] = e.read(idx)
	}
	if touched {
		e.writes = append(e.writes, e.output())
		e.propagate()
	}
	return nil
}

// read returns a register, synthesizing the input port from the output latch
// for outputs and pull-ups for inputs.
func (e *Expander) read(idx byte) byte {
	if idx > regInput0+1 {
		return e.regs[idx]
	}
	out := e.regs[regOutput0+idx]
	cfg := e.regs[regConfig0+idx]
	return out&^cfg | cfg
}

func (e *Expander) output() uint16 {
	return uint16(e.regs[regOutput0]) | uint16(e.regs[regOutput0+1])<<8
}

func (e *Expander) config() uint16 {
	return uint16(e.regs[regConfig0]) | uint16(e.regs[regConfig0+1])<<8
}

func (e *Expander) propagate() {
	out, cfg := e.output(), e.config()
	for n, p := range e.outs {
		if cfg&(1<<n) != 0 {
			continue
		}
		level := gpio.Level(out&(1<<n) != 0)
		if prev, ok := e.driven[n]; ok && prev == level {
			continue
		}
		e.driven[n] = level
		_ = p.Out(level)
	}
}

// Output returns the output latch.
func (e *Expander) Output() uint16 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.output()
}

// Config returns the direction register (1 = input).
func (e *Expander) Config() uint16 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.config()
}

// Transactions counts acknowledged transactions.
func (e *Expander) Transactions() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.txs
}

// OutputWrites returns the output latch after every register write.
func (e *Expander) OutputWrites() []uint16 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]uint16(nil), e.writes...)
}

var _ i2c.Bus = &Expander{}
