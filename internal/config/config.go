package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// NOTE: This file provides the configuration model and full YAML-based
// load/save behavior, including first-run config creation and 0600
// permissions. Panel timings are fixed and deliberately not part of it.

// Backends understood by the bring-up code.
const (
	BackendRGB = "rgb"
	BackendSPI = "spi"
	BackendSim = "sim"
)

// I2CConfig locates the I/O expander.
type I2CConfig struct {
	// Bus is the periph bus name ("" = first bus, "1" = /dev/i2c-1).
	Bus string `yaml:"bus" json:"bus"`
	// Address is the 7-bit expander address.
	Address uint16 `yaml:"address" json:"address"`
}

// GPIOConfig names the raw lines of the serial link and the backlight.
type GPIOConfig struct {
	CLK       string `yaml:"clk" json:"clk"`
	MOSI      string `yaml:"mosi" json:"mosi"`
	Backlight string `yaml:"backlight" json:"backlight"`
}

// SPIConfig is only used by the "spi" backend.
type SPIConfig struct {
	Port    string `yaml:"port" json:"port"`
	SpeedHz int64  `yaml:"speed_hz" json:"speed_hz"`
}

// FramebufferConfig selects where scanout reads from.
type FramebufferConfig struct {
	// Device is a Linux framebuffer (e.g. /dev/fb0). Empty keeps frames in
	// memory only.
	Device string `yaml:"device" json:"device"`
	// Pinned locks the in-memory framebuffer into RAM when possible.
	Pinned bool `yaml:"pinned" json:"pinned"`
}

// BasicAuthConfig holds HTTP Basic Auth credentials for the diagnostics API.
type BasicAuthConfig struct {
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"password"`
}

// Config is the top-level application configuration.
type Config struct {
	// Listen is the HTTP listen address for the diagnostics API.
	Listen string `yaml:"listen" json:"listen"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level" json:"log_level"`

	// Backend selects the bring-up path:
	//   - "rgb": bit-banged serial link, RGB scanout (default)
	//   - "spi": hardware SPI link, double-buffered RGB scanout
	//   - "sim": in-memory board model
	Backend string `yaml:"backend" json:"backend"`

	// BufferMode is "single" or "double". Empty follows the backend, see
	// EffectiveBufferMode.
	BufferMode string `yaml:"buffer_mode,omitempty" json:"buffer_mode,omitempty"`

	I2C         I2CConfig         `yaml:"i2c" json:"i2c"`
	GPIO        GPIOConfig        `yaml:"gpio" json:"gpio"`
	SPI         SPIConfig         `yaml:"spi" json:"spi"`
	Framebuffer FramebufferConfig `yaml:"framebuffer" json:"framebuffer"`

	// BasicAuth, if non-nil, enables HTTP Basic Authentication on all endpoints
	// except /health.
	BasicAuth *BasicAuthConfig `yaml:"basic_auth,omitempty" json:"basic_auth,omitempty"`
}

const (
	defaultListen   = "127.0.0.1:8080"
	defaultI2CAddr  = 0x39
	defaultSPISpeed = 10_000_000
)

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	return &Config{
		Listen:     defaultListen,
		LogLevel:   "info",
		Backend:    BackendRGB,
		BufferMode: "",
		I2C:        I2CConfig{Bus: "", Address: defaultI2CAddr},
		GPIO: GPIOConfig{
			CLK:       "GPIO41",
			MOSI:      "GPIO48",
			Backlight: "GPIO45",
		},
		SPI:         SPIConfig{Port: "", SpeedHz: defaultSPISpeed},
		Framebuffer: FramebufferConfig{Device: "/dev/fb0", Pinned: true},
		BasicAuth:   nil,
	}
}

// Normalize fills in missing/zero values with sensible defaults so that
// partially-filled configs still behave correctly.
func (c *Config) Normalize() {
	if c.Listen == "" {
		c.Listen = defaultListen
	}
	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "warning", "error":
		c.LogLevel = strings.ToLower(c.LogLevel)
	default:
		c.LogLevel = "info"
	}
	switch c.Backend {
	case BackendRGB, BackendSPI, BackendSim:
		// ok
	case "":
		c.Backend = BackendRGB
	default:
		// Left as-is; Validate reports it.
	}
	switch strings.ToLower(c.BufferMode) {
	case "single", "double":
		c.BufferMode = strings.ToLower(c.BufferMode)
	default:
		c.BufferMode = ""
	}
	if c.I2C.Address == 0 {
		c.I2C.Address = defaultI2CAddr
	}
	if c.SPI.SpeedHz <= 0 {
		c.SPI.SpeedHz = defaultSPISpeed
	}
	if c.BasicAuth != nil && c.BasicAuth.Username == "" && c.BasicAuth.Password == "" {
		c.BasicAuth = nil
	}
}

// EffectiveBufferMode is BufferMode, or the backend's default when it is
// unset: the hardware SPI variant runs double-buffered, the others single.
func (c *Config) EffectiveBufferMode() string {
	if c.BufferMode != "" {
		return c.BufferMode
	}
	if c.Backend == BackendSPI {
		return "double"
	}
	return "single"
}

// Validate reports settings Normalize cannot repair.
func (c *Config) Validate() error {
	switch c.Backend {
	case BackendRGB:
		if c.GPIO.CLK == "" || c.GPIO.MOSI == "" {
			return errors.New("config: rgb backend needs gpio.clk and gpio.mosi")
		}
	case BackendSPI, BackendSim:
	default:
		return fmt.Errorf("config: unknown backend %q", c.Backend)
	}
	if c.I2C.Address > 0x7F {
		return fmt.Errorf("config: i2c address 0x%X is not a 7-bit address", c.I2C.Address)
	}
	return nil
}

// Load loads configuration from the given YAML path.
//
// Behavior:
//   - If the file does not exist:
//   - create parent directory if needed
//   - write a default config with 0600 perms
//   - return the default config
//   - If the file exists:
//   - read YAML and unmarshal into Config
//   - normalize defaults
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			// First run: create default config file.
			cfg := DefaultConfig()
			if err := Save(path, cfg); err != nil {
				// Even if save fails, return cfg with error so caller can decide.
				return cfg, err
			}
			return cfg, nil
		}
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	cfg.Normalize()

	return &cfg, nil
}

// Save writes the given configuration to the specified path.
//
// Implementation details:
//   - Ensures parent directory exists (0700).
//   - Marshals cfg to YAML.
//   - Writes atomically via a temp file + rename.
//   - Ensures final file permissions are 0600.
func Save(path string, cfg *Config) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	if cfg == nil {
		return errors.New("config is nil")
	}

	cfg.Normalize()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}

	// Atomic write: write to temp file in same directory then rename.
	tmp, err := os.CreateTemp(dir, ".rgblcd-config-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	// Ensure we clean up temp file on error.
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}

	// Flush and close before chmod/rename.
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}

	if err := os.Chmod(tmpName, 0o600); err != nil {
		return err
	}

	return os.Rename(tmpName, path)
}

// Save is a convenience method on Config that delegates to the package-level
// Save function.
func (c *Config) Save(path string) error {
	return Save(path, c)
}
