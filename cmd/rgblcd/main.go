package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/physic"

	"rgblcd/internal/config"
	"rgblcd/internal/convert"
	appLog "rgblcd/internal/log"
	"rgblcd/internal/panel"
	"rgblcd/internal/rgb"
	"rgblcd/internal/simwindow"
	"rgblcd/internal/web"
)

// flagConfig holds CLI flag values that override the config file.
type flagConfig struct {
	configPath string
	listen     string
	backend    string
	pattern    bool
	window     bool
}

func main() {
	appLog.Info("rgblcd starting", "version", "0.1.0")

	flags := parseFlags()

	conf, err := config.Load(flags.configPath)
	if err != nil {
		appLog.Error("failed to load config", err, "config_path", flags.configPath)
		os.Exit(1)
	}

	// CLI flags override the config file when set.
	if flags.listen != "" {
		conf.Listen = flags.listen
	}
	if flags.backend != "" {
		conf.Backend = flags.backend
		conf.Normalize()
	}
	appLog.SetLevel(appLog.ParseLevel(conf.LogLevel))
	if err := conf.Validate(); err != nil {
		appLog.Error("invalid config", err, "config_path", flags.configPath)
		os.Exit(1)
	}

	mode, err := rgb.ParseMode(conf.EffectiveBufferMode())
	if err != nil {
		appLog.Error("invalid buffer mode", err, "buffer_mode", conf.EffectiveBufferMode())
		os.Exit(1)
	}

	appLog.Info("effective config",
		"listen", conf.Listen,
		"backend", conf.Backend,
		"buffer_mode", mode,
		"i2c_bus", conf.I2C.Bus,
		"i2c_addr", conf.I2C.Address,
		"fb_device", conf.Framebuffer.Device,
		"pattern", flags.pattern,
		"window", flags.window,
	)

	// Root context with cancellation on SIGINT/SIGTERM.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		appLog.Info("signal received, shutting down", "signal", sig.String())
		cancel()
	}()

	backend, win, err := openBackend(conf, mode, flags.window)
	if err != nil {
		appLog.Error("failed to open panel hardware", err, "backend", conf.Backend)
		os.Exit(1)
	}

	srv := web.NewServer(conf)

	// A failed bring-up is reported over HTTP; the process keeps running so
	// the failure can be inspected.
	h, err := panel.BringUp(backend)
	if err != nil {
		appLog.Error("PANEL BRING-UP FAILED", err, "backend", backend.Name())
		srv.SetPanel(nil, err)
	} else {
		srv.SetPanel(h, nil)
		defer func() {
			if err := h.Close(); err != nil {
				appLog.Warn("panel close failed", "err", err)
			}
		}()
		if flags.pattern {
			b := h.Bounds()
			if err := h.Flush(b, convert.ColorBars(b.Dx(), b.Dy())); err != nil {
				appLog.Error("test pattern failed", err)
			}
		}
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := srv.Run(ctx); err != nil {
			appLog.Error("HTTP server failed", err, "listen", conf.Listen)
			cancel()
		}
	}()

	if win != nil {
		// The window owns the main goroutine until it is closed.
		go func() {
			<-ctx.Done()
			win.Close()
		}()
		win.Run()
		cancel()
	}

	<-ctx.Done()
	wg.Wait()

	appLog.Info("rgblcd exiting")
}

// openBackend builds the configured bring-up path. The returned window is
// non-nil only for the sim backend with a window requested.
func openBackend(conf *config.Config, mode rgb.Mode, window bool) (panel.Backend, *simwindow.Window, error) {
	if conf.Backend == config.BackendSim {
		var (
			sink  rgb.Sink
			win   *simwindow.Window
			board *panel.SimBoard
		)
		if window {
			b := rgb.Indicator
			win = simwindow.New("rgblcd", b.HRes, b.VRes, func() gpio.Level {
				if board == nil {
					return gpio.Low
				}
				return board.Backlight.Read()
			})
			sink = win
		}
		backend, sb := panel.NewSim(mode, sink, nil)
		board = sb
		return backend, win, nil
	}

	backend, err := panel.OpenHardware(panel.HardwareConfig{
		Backend:   conf.Backend,
		Mode:      mode,
		I2CBus:    conf.I2C.Bus,
		I2CAddr:   conf.I2C.Address,
		CLK:       conf.GPIO.CLK,
		MOSI:      conf.GPIO.MOSI,
		Backlight: conf.GPIO.Backlight,
		SPIPort:   conf.SPI.Port,
		SPISpeed:  physic.Frequency(conf.SPI.SpeedHz) * physic.Hertz,
		FBDevice:  conf.Framebuffer.Device,
		Pinned:    conf.Framebuffer.Pinned,
	})
	return backend, nil, err
}

func parseFlags() flagConfig {
	var cfg flagConfig

	flag.StringVar(&cfg.configPath, "config", "/etc/rgblcd/config.yaml", "Path to config file")
	flag.StringVar(&cfg.listen, "listen", "", "HTTP listen address (overrides config if set)")
	flag.StringVar(&cfg.backend, "backend", "", "Bring-up path: rgb, spi or sim (overrides config if set)")
	flag.BoolVar(&cfg.pattern, "pattern", false, "Draw colour bars after bring-up")
	flag.BoolVar(&cfg.window, "window", false, "Show the sim backend in a desktop window")

	flag.Parse()

	return cfg
}
