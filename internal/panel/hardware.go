package panel

import (
	"errors"
	"fmt"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi"
	"periph.io/x/conn/v3/spi/spireg"
	"periph.io/x/host/v3"

	"rgblcd/internal/clock"
	"rgblcd/internal/expander"
	appLog "rgblcd/internal/log"
	"rgblcd/internal/rgb"
)

// I2CSpeed is the expander bus clock.
const I2CSpeed = 400 * physic.KiloHertz

// HardwareConfig names the host resources of a real board.
type HardwareConfig struct {
	// Backend is "rgb" (bit-banged link) or "spi" (hardware SPI).
	Backend string
	Mode    rgb.Mode

	I2CBus  string // "" opens the first bus
	I2CAddr uint16

	CLK       string // GPIO names as known to gpioreg, e.g. "GPIO41"
	MOSI      string
	Backlight string // optional

	SPIPort  string
	SPISpeed physic.Frequency

	// FBDevice is the framebuffer scanned out of. Without one, frames are
	// kept in memory only.
	FBDevice string
	Pinned   bool
}

// OpenHardware initializes the host drivers and opens every resource cfg
// names. Nothing is written to the hardware until BringUp.
func OpenHardware(cfg HardwareConfig) (Backend, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("panel: periph host init failed: %w", err)
	}

	var closers []func() error
	release := func() error {
		var errs []error
		for i := len(closers) - 1; i >= 0; i-- {
			errs = append(errs, closers[i]())
		}
		return errors.Join(errs...)
	}
	fail := func(err error) (Backend, error) {
		_ = release()
		return nil, err
	}

	bus, err := i2creg.Open(cfg.I2CBus)
	if err != nil {
		return nil, fmt.Errorf("panel: open i2c bus %q: %w", cfg.I2CBus, err)
	}
	closers = append(closers, bus.Close)
	if err := bus.SetSpeed(I2CSpeed); err != nil {
		appLog.Warn("panel: cannot set i2c speed, using bus default", "bus", bus, "err", err)
	}

	addr := cfg.I2CAddr
	if addr == 0 {
		addr = expander.DefaultAddr
	}
	hw := Hardware{
		Expander: expander.New(bus, addr),
		Streamer: newStreamer(cfg),
		Delay:    clock.Real{},
		Release:  release,
	}
	if cfg.Backlight != "" {
		if hw.Backlight, err = outPin(cfg.Backlight); err != nil {
			return fail(err)
		}
	}

	switch cfg.Backend {
	case "spi":
		port, err := spireg.Open(cfg.SPIPort)
		if err != nil {
			return fail(fmt.Errorf("panel: open spi port %q: %w", cfg.SPIPort, err))
		}
		closers = append(closers, port.Close)
		conn, err := port.Connect(cfg.SPISpeed, spi.Mode0, 9)
		if err != nil {
			return fail(fmt.Errorf("panel: connect spi at %s: %w", cfg.SPISpeed, err))
		}
		hw.SPI = conn
		appLog.Info("panel: hardware opened", "backend", "spi", "i2c", bus, "spi", conn)
		return NewSPIBackend(hw), nil

	case "rgb", "":
		if hw.CLK, err = outPin(cfg.CLK); err != nil {
			return fail(err)
		}
		if hw.MOSI, err = outPin(cfg.MOSI); err != nil {
			return fail(err)
		}
		appLog.Info("panel: hardware opened", "backend", "rgb", "i2c", bus, "clk", hw.CLK, "mosi", hw.MOSI)
		return NewRGBBackend(hw), nil
	}
	return fail(fmt.Errorf("panel: unknown backend %q", cfg.Backend))
}

func outPin(name string) (gpio.PinOut, error) {
	p := gpioreg.ByName(name)
	if p == nil {
		return nil, fmt.Errorf("panel: gpio %q not found", name)
	}
	return p, nil
}

func newStreamer(cfg HardwareConfig) rgb.Streamer {
	if cfg.FBDevice != "" {
		return rgb.NewFBDev(cfg.FBDevice, cfg.Mode)
	}
	var alloc rgb.Allocator = rgb.HeapAllocator{}
	if cfg.Pinned {
		alloc = rgb.DefaultAllocator()
	}
	return rgb.NewSoftStreamer(cfg.Mode, nil, alloc)
}
