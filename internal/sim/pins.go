package sim

import (
	"errors"
	"fmt"
	"sync"

	"periph.io/x/conn/v3"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi"
)

// LevelPin is a bare output line that remembers its level, e.g. the
// backlight enable.
type LevelPin struct {
	mu      sync.Mutex
	name    string
	level   gpio.Level
	changes int
	failOut error
}

func NewLevelPin(name string) *LevelPin {
	return &LevelPin{name: name}
}

// FailWith makes every Out return err.
func (p *LevelPin) FailWith(err error) {
	p.mu.Lock()
	p.failOut = err
	p.mu.Unlock()
}

func (p *LevelPin) String() string   { return p.name }
func (p *LevelPin) Name() string     { return p.name }
func (p *LevelPin) Number() int      { return -1 }
func (p *LevelPin) Function() string { return "Out/" + p.Read().String() }
func (p *LevelPin) Halt() error      { return nil }

func (p *LevelPin) Out(l gpio.Level) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failOut != nil {
		return p.failOut
	}
	if p.level != l {
		p.changes++
	}
	p.level = l
	return nil
}

func (p *LevelPin) PWM(gpio.Duty, physic.Frequency) error {
	return fmt.Errorf("sim: %s cannot PWM", p.name)
}

func (p *LevelPin) Read() gpio.Level {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.level
}

// Changes counts level transitions.
func (p *LevelPin) Changes() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.changes
}

// SPIConn feeds 9-bit words sent through a hardware SPI controller into the
// panel. Chip-select is implicit per packet.
type SPIConn struct {
	panel *Panel
	mu    sync.Mutex
	words []uint16
}

// SPIConn returns a connection wired to the panel's serial input.
func (p *Panel) SPIConn() *SPIConn {
	return &SPIConn{panel: p}
}

func (c *SPIConn) String() string { return "sim-spi9" }

func (c *SPIConn) Duplex() conn.Duplex { return conn.Half }

func (c *SPIConn) Tx(w, r []byte) error {
	return c.TxPackets([]spi.Packet{{W: w, R: r, BitsPerWord: 9}})
}

func (c *SPIConn) TxPackets(pkts []spi.Packet) error {
	for _, pk := range pkts {
		if pk.BitsPerWord != 9 {
			return errors.New("sim: controller expects 9-bit words")
		}
		if len(pk.W)%2 != 0 {
			return errors.New("sim: 9-bit words need 2-byte slots")
		}
		for i := 0; i < len(pk.W); i += 2 {
			w := (uint16(pk.W[i]) | uint16(pk.W[i+1])<<8) & 0x1FF
			c.mu.Lock()
			c.words = append(c.words, w)
			c.mu.Unlock()
			c.panel.word(w)
		}
	}
	return nil
}

// Words returns every word received.
func (c *SPIConn) Words() []uint16 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]uint16(nil), c.words...)
}

func (p *Panel) word(w uint16) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.consume(Frame{Data: w&0x100 != 0, Byte: byte(w)}, false)
}

var (
	_ gpio.PinOut = &LevelPin{}
	_ spi.Conn    = &SPIConn{}
)
