// Package rgb owns the continuous parallel pixel interface: the fixed panel
// timings, the framebuffer the panel is scanned out of, and the streamers
// that do the scanning.
package rgb

import (
	"errors"
	"fmt"
	"time"

	"periph.io/x/conn/v3/physic"
)

var (
	// ErrTiming is returned for timings or pin maps the interface cannot drive.
	ErrTiming = errors.New("rgb: invalid timing")
	// ErrAlloc is returned when no memory pool could hold the framebuffer.
	ErrAlloc = errors.New("rgb: framebuffer allocation failed")
)

// Timing describes one scanout frame in pixel clocks.
type Timing struct {
	PixelClock physic.Frequency

	HRes, VRes int

	HBackPorch, HFrontPorch, HPulseWidth int
	VBackPorch, VFrontPorch, VPulseWidth int

	// PClkActiveNeg latches data on the falling pixel clock edge.
	PClkActiveNeg bool
}

// Indicator is the timing of the 480x480 ST7701S panel. It is not
// configurable at runtime.
var Indicator = Timing{
	PixelClock:  16 * physic.MegaHertz,
	HRes:        480,
	VRes:        480,
	HBackPorch:  50,
	HFrontPorch: 10,
	HPulseWidth: 8,
	VBackPorch:  50,
	VFrontPorch: 10,
	VPulseWidth: 8,
}

// LineTotal is the number of pixel clocks per line, blanking included.
func (t Timing) LineTotal() int {
	return t.HRes + t.HBackPorch + t.HFrontPorch + t.HPulseWidth
}

// FrameTotal is the number of lines per frame, blanking included.
func (t Timing) FrameTotal() int {
	return t.VRes + t.VBackPorch + t.VFrontPorch + t.VPulseWidth
}

// FramePeriod is the time one full scanout takes.
func (t Timing) FramePeriod() time.Duration {
	hz := int64(t.PixelClock / physic.Hertz)
	if hz <= 0 {
		return 0
	}
	clocks := int64(t.LineTotal()) * int64(t.FrameTotal())
	return time.Duration(clocks * int64(time.Second) / hz)
}

// RefreshRate is the resulting frame rate in Hz.
func (t Timing) RefreshRate() float64 {
	p := t.FramePeriod()
	if p == 0 {
		return 0
	}
	return float64(time.Second) / float64(p)
}

// PixclockPicos is the pixel clock period in picoseconds, as fbdev wants it.
func (t Timing) PixclockPicos() uint32 {
	hz := int64(t.PixelClock / physic.Hertz)
	if hz <= 0 {
		return 0
	}
	return uint32(1_000_000_000_000 / hz)
}

// Validate rejects timings with missing or negative fields.
func (t Timing) Validate() error {
	if t.PixelClock <= 0 {
		return fmt.Errorf("%w: pixel clock %s", ErrTiming, t.PixelClock)
	}
	if t.HRes <= 0 || t.VRes <= 0 {
		return fmt.Errorf("%w: resolution %dx%d", ErrTiming, t.HRes, t.VRes)
	}
	for _, v := range []int{t.HBackPorch, t.HFrontPorch, t.VBackPorch, t.VFrontPorch} {
		if v < 0 {
			return fmt.Errorf("%w: negative porch", ErrTiming)
		}
	}
	if t.HPulseWidth <= 0 || t.VPulseWidth <= 0 {
		return fmt.Errorf("%w: sync pulse width must be positive", ErrTiming)
	}
	return nil
}

func (t Timing) String() string {
	return fmt.Sprintf("%dx%d@%s (%dx%d total, %.1f Hz)",
		t.HRes, t.VRes, t.PixelClock, t.LineTotal(), t.FrameTotal(), t.RefreshRate())
}
