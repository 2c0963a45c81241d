package panel

import (
	"errors"
	"fmt"
	"image"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/spi"

	"rgblcd/internal/clock"
	"rgblcd/internal/expander"
	appLog "rgblcd/internal/log"
	"rgblcd/internal/rgb"
	"rgblcd/internal/spi9"
	"rgblcd/internal/st7701"
)

// Hardware is everything a backend drives. CLK and MOSI are only used by
// RGBBackend, SPI only by SPIBackend. Backlight may be nil.
type Hardware struct {
	Expander  *expander.Bus
	CLK       gpio.PinOut
	MOSI      gpio.PinOut
	SPI       spi.Conn
	Backlight gpio.PinOut
	Streamer  rgb.Streamer
	Timing    rgb.Timing
	Pins      rgb.Pins
	Delay     clock.Delayer

	// Release is called once on Close, after the streamer is closed.
	Release func() error
}

func (hw *Hardware) timing() rgb.Timing {
	if hw.Timing.PixelClock == 0 {
		return rgb.Indicator
	}
	return hw.Timing
}

func (hw *Hardware) pins() rgb.Pins {
	if hw.Pins == (rgb.Pins{}) {
		return rgb.IndicatorPins
	}
	return hw.Pins
}

func (hw *Hardware) backlight(l gpio.Level) error {
	if hw.Backlight == nil {
		return nil
	}
	if err := hw.Backlight.Out(l); err != nil {
		return fmt.Errorf("panel: backlight %s: %w", l, err)
	}
	return nil
}

// program pulses reset through the expander and replays the register table.
func (hw *Hardware) program(prog *st7701.Programmer, link spi9.Sender) {
	prog.Run(link)
	if !prog.Done() {
		appLog.Warn("panel: controller programming ended early", "state", prog.State())
	}
}

// light turns the backlight on and starts scanout. The backlight goes back
// off if the streamer cannot start.
func (hw *Hardware) light() (*rgb.FrameBuffer, error) {
	if err := hw.backlight(gpio.High); err != nil {
		return nil, err
	}
	appLog.Info("panel: backlight on")

	fb, err := hw.scanout()
	if err != nil {
		if berr := hw.backlight(gpio.Low); berr != nil {
			appLog.Error("panel: backlight off after failure", berr)
		}
		return nil, err
	}
	return fb, nil
}

func (hw *Hardware) scanout() (*rgb.FrameBuffer, error) {
	if err := hw.Streamer.Configure(hw.timing(), hw.pins()); err != nil {
		return nil, fmt.Errorf("panel: configure scanout: %w", err)
	}
	fb, err := hw.Streamer.Start()
	if err != nil {
		return nil, fmt.Errorf("panel: start scanout: %w", err)
	}
	return fb, nil
}

func (hw *Hardware) close() error {
	err := hw.Streamer.Close()
	if hw.Release != nil {
		if rerr := hw.Release(); err == nil {
			err = rerr
		}
	}
	if err != nil {
		return fmt.Errorf("panel: close: %w", err)
	}
	return nil
}

// RGBBackend programs the controller over the bit-banged serial link and
// streams through an RGB streamer.
type RGBBackend struct {
	hw   Hardware
	prog *st7701.Programmer
}

func NewRGBBackend(hw Hardware) *RGBBackend {
	return &RGBBackend{
		hw:   hw,
		prog: st7701.NewProgrammer(hw.Expander.Pin(expander.Reset), hw.Delay),
	}
}

func (b *RGBBackend) Name() string { return "rgb" }

func (b *RGBBackend) State() st7701.State { return b.prog.State() }

func (b *RGBBackend) BringUp() (*rgb.FrameBuffer, error) {
	if err := b.hw.Expander.Init(); err != nil {
		return nil, err
	}
	if err := b.hw.backlight(gpio.Low); err != nil {
		return nil, err
	}

	link := spi9.NewLink(b.hw.CLK, b.hw.MOSI, b.hw.Expander.Pin(expander.ChipSelect), b.hw.Delay)
	if err := link.Init(); err != nil {
		return nil, fmt.Errorf("panel: serial link: %w", err)
	}
	appLog.Info("panel: serial link ready", "clk", b.hw.CLK, "mosi", b.hw.MOSI)

	b.hw.program(b.prog, link)
	link.Idle()

	return b.hw.light()
}

func (b *RGBBackend) NotifyRegionUpdated(r image.Rectangle) {
	b.hw.Streamer.NotifyRegionUpdated(r)
}

func (b *RGBBackend) Close() error { return b.hw.close() }

// SPIBackend programs the controller through a hardware SPI controller in
// 9-bit mode. Chip-select belongs to the SPI controller; the expander only
// drives reset.
type SPIBackend struct {
	hw   Hardware
	prog *st7701.Programmer
}

func NewSPIBackend(hw Hardware) *SPIBackend {
	return &SPIBackend{
		hw:   hw,
		prog: st7701.NewProgrammer(hw.Expander.Pin(expander.Reset), hw.Delay),
	}
}

func (b *SPIBackend) Name() string { return "spi" }

func (b *SPIBackend) State() st7701.State { return b.prog.State() }

func (b *SPIBackend) BringUp() (*rgb.FrameBuffer, error) {
	if b.hw.SPI == nil {
		return nil, errors.New("panel: spi backend without an spi connection")
	}
	if err := b.hw.Expander.Init(); err != nil {
		return nil, err
	}
	if err := b.hw.backlight(gpio.Low); err != nil {
		return nil, err
	}
	appLog.Info("panel: hardware spi link ready", "conn", b.hw.SPI)

	b.hw.program(b.prog, spi9.NewHWLink(b.hw.SPI))
	return b.hw.light()
}

func (b *SPIBackend) NotifyRegionUpdated(r image.Rectangle) {
	b.hw.Streamer.NotifyRegionUpdated(r)
}

func (b *SPIBackend) Close() error { return b.hw.close() }

var (
	_ Backend = &RGBBackend{}
	_ Backend = &SPIBackend{}
)
