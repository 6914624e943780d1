// Package config loads the daemon configuration from the XDG config directory.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/mil-ad/audioswitch/bluetooth"
	"github.com/mil-ad/audioswitch/device"
)

const appName = "audioswitch"

// Duration is a time.Duration written as a Go duration string ("500ms").
type Duration time.Duration

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

type Config struct {
	PreferredOrder   []device.Kind `json:"preferred_order,omitempty"`
	ScoRetryInterval Duration      `json:"sco_retry_interval,omitempty"`
	ScoTimeout       Duration      `json:"sco_timeout,omitempty"`
	Adapter          string        `json:"adapter,omitempty"`
	LogLevel         string        `json:"log_level,omitempty"`
	LogFormat        string        `json:"log_format,omitempty"`
	Socket           string        `json:"socket,omitempty"`
	WiredDetection   *bool         `json:"wired_detection,omitempty"`
}

// Default returns the configuration used when no file exists.
func Default() Config {
	wired := true
	return Config{
		PreferredOrder:   device.DefaultOrder(),
		ScoRetryInterval: Duration(bluetooth.DefaultRetryInterval),
		ScoTimeout:       Duration(bluetooth.DefaultTimeout),
		Adapter:          "hci0",
		LogLevel:         "info",
		LogFormat:        "text",
		Socket:           SocketPath(),
		WiredDetection:   &wired,
	}
}

// Path is $XDG_CONFIG_HOME/audioswitch/config.json, falling back to
// ~/.config.
func Path() string {
	dir := os.Getenv("XDG_CONFIG_HOME")
	if dir == "" {
		dir = filepath.Join(os.Getenv("HOME"), ".config")
	}
	return filepath.Join(dir, appName, "config.json")
}

// SocketPath is the default control socket location.
func SocketPath() string {
	dir := os.Getenv("XDG_RUNTIME_DIR")
	if dir == "" {
		dir = "/tmp"
	}
	return filepath.Join(dir, appName+".sock")
}

// Load reads the file at path over the defaults. A missing file is not an
// error.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := json.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks field ranges and completes the device order.
func (c *Config) Validate() error {
	order, err := device.NewOrder(c.PreferredOrder...)
	if err != nil {
		return fmt.Errorf("preferred_order: %w", err)
	}
	c.PreferredOrder = order
	if c.ScoRetryInterval <= 0 {
		return fmt.Errorf("sco_retry_interval must be positive, got %v", time.Duration(c.ScoRetryInterval))
	}
	if c.ScoTimeout < c.ScoRetryInterval {
		return fmt.Errorf("sco_timeout %v is shorter than sco_retry_interval %v",
			time.Duration(c.ScoTimeout), time.Duration(c.ScoRetryInterval))
	}
	if c.Adapter == "" {
		return fmt.Errorf("adapter must not be empty")
	}
	if c.Socket == "" {
		c.Socket = SocketPath()
	}
	return nil
}

// Order is PreferredOrder as a device.Order.
func (c Config) Order() device.Order { return device.Order(c.PreferredOrder) }

// Bluetooth returns the SCO job timing.
func (c Config) Bluetooth() bluetooth.Config {
	return bluetooth.Config{
		RetryInterval: time.Duration(c.ScoRetryInterval),
		Timeout:       time.Duration(c.ScoTimeout),
	}
}

// Wired reports whether the udev wired headset monitor should run.
func (c Config) Wired() bool { return c.WiredDetection == nil || *c.WiredDetection }
