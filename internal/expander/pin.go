package expander

import (
	"errors"
	"fmt"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/physic"
)

// OutPin exposes one expander line as a periph gpio.PinOut so the serial link
// can treat it like any other output.
type OutPin struct {
	bus *Bus
	pin Pin
}

// Pin returns the gpio view of p.
func (b *Bus) Pin(p Pin) *OutPin {
	return &OutPin{bus: b, pin: p}
}

func (p *OutPin) String() string { return p.Name() }

func (p *OutPin) Name() string { return "EXP_" + p.pin.String() }

func (p *OutPin) Number() int { return int(p.pin) }

func (p *OutPin) Function() string {
	return fmt.Sprintf("Out/%s", p.Read())
}

func (p *OutPin) Halt() error { return nil }

// Out never fails; see Bus.Set.
func (p *OutPin) Out(l gpio.Level) error {
	p.bus.Set(p.pin, l)
	return nil
}

func (p *OutPin) PWM(gpio.Duty, physic.Frequency) error {
	return errors.New("expander: PWM not supported")
}

// Read returns the mirrored level.
func (p *OutPin) Read() gpio.Level {
	return p.bus.Level(p.pin)
}

var _ gpio.PinOut = &OutPin{}
