// Package st7701 brings an ST7701S RGB panel controller from reset to
// displaying by replaying its register table over a 9-bit serial link.
//
// The controller never acknowledges anything, so Run cannot fail: a bad
// transfer only shows up as a blank or corrupted picture.
package st7701

import (
	"sync"
	"time"

	"periph.io/x/conn/v3/gpio"

	"rgblcd/internal/clock"
	appLog "rgblcd/internal/log"
	"rgblcd/internal/spi9"
)

// State is the programming progress. There is exactly one path through it.
type State int

const (
	StateUnknown State = iota
	StateReset
	StatePage1
	StatePage2
	StatePage3
	StatePage0
	StatePixelFormat
	StateInverted
	StateAwake
	StateDisplaying
)

func (s State) String() string {
	switch s {
	case StateReset:
		return "reset"
	case StatePage1:
		return "page1-programmed"
	case StatePage2:
		return "page2-programmed"
	case StatePage3:
		return "page3-programmed"
	case StatePage0:
		return "back-to-page0"
	case StatePixelFormat:
		return "pixel-format-set"
	case StateInverted:
		return "inverted-on"
	case StateAwake:
		return "awake"
	case StateDisplaying:
		return "displaying"
	default:
		return "unknown"
	}
}

// ResetHold is how long reset is held low.
const ResetHold = 10 * time.Millisecond

// Programmer owns the controller's reset line and the replay of the table.
type Programmer struct {
	rst   gpio.PinOut
	delay clock.Delayer
	table []RegisterOp

	mu    sync.Mutex
	state State
}

// NewProgrammer returns a programmer for the built-in table.
func NewProgrammer(rst gpio.PinOut, d clock.Delayer) *Programmer {
	if d == nil {
		d = clock.Real{}
	}
	return &Programmer{rst: rst, delay: d, table: initTable}
}

// Run pulses reset and replays the whole table. It returns once the
// controller is displaying; State reports StateDisplaying afterwards.
func (p *Programmer) Run(link spi9.Sender) {
	appLog.Info("st7701: starting initialization sequence", "ops", len(p.table))
	start := time.Now()

	// Pin errors cannot be acted upon here; see Bus.Set.
	_ = p.rst.Out(gpio.Low)
	p.delay.Delay(ResetHold)
	_ = p.rst.Out(gpio.High)
	p.enter(StateReset)

	for _, op := range p.table {
		link.SendCommand(op.Cmd)
		for _, b := range op.Params {
			link.SendData(b)
		}
		if op.Settle > 0 {
			p.delay.Delay(op.Settle)
		}
		if op.Enters != StateUnknown {
			p.enter(op.Enters)
		}
	}

	appLog.Info("st7701: initialization complete", "state", p.State(), "took", time.Since(start))
}

func (p *Programmer) enter(s State) {
	p.mu.Lock()
	p.state = s
	p.mu.Unlock()
	appLog.Debug("st7701: state", "state", s)
}

// State returns the last state reached.
func (p *Programmer) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Done reports whether the controller reached StateDisplaying.
func (p *Programmer) Done() bool {
	return p.State() == StateDisplaying
}
