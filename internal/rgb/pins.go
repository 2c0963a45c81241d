package rgb

import "fmt"

// NoPin marks an unused control line.
const NoPin = -1

// Pins maps the parallel interface onto GPIO numbers. Data[0] is B0 and
// Data[15] is R4 (RGB565 bit order).
type Pins struct {
	Data  [16]int
	HSync int
	VSync int
	DE    int
	PClk  int
	Disp  int
}

// IndicatorPins is the wiring of the 480x480 panel board.
var IndicatorPins = Pins{
	Data:  [16]int{15, 14, 13, 12, 11, 10, 9, 8, 7, 6, 5, 4, 3, 2, 1, 0},
	HSync: 16,
	VSync: 17,
	DE:    18,
	PClk:  21,
	Disp:  NoPin,
}

// Validate checks that every required line is assigned and no GPIO is used
// twice.
func (p Pins) Validate() error {
	seen := map[int]string{}
	claim := func(name string, n int, required bool) error {
		if n == NoPin && !required {
			return nil
		}
		if n < 0 {
			return fmt.Errorf("%w: %s unassigned", ErrTiming, name)
		}
		if other, ok := seen[n]; ok {
			return fmt.Errorf("%w: GPIO%d used by both %s and %s", ErrTiming, n, other, name)
		}
		seen[n] = name
		return nil
	}
	for i, n := range p.Data {
		if err := claim(fmt.Sprintf("D%d", i), n, true); err != nil {
			return err
		}
	}
	for _, c := range []struct {
		name     string
		n        int
		required bool
	}{
		{"HSYNC", p.HSync, true},
		{"VSYNC", p.VSync, true},
		{"DE", p.DE, false},
		{"PCLK", p.PClk, true},
		{"DISP", p.Disp, false},
	} {
		if err := claim(c.name, c.n, c.required); err != nil {
			return err
		}
	}
	return nil
}
