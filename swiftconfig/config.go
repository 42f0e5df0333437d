package swiftconfig

import (
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/SyNdicateFoundation/swiftap/device"
)

// Option configures a Config.
type Option func(*Config) error

// Config holds the parameters shared by every adapter a Manager opens.
type Config struct {
	// HardwareID selects adapters of this driver family on Windows.
	HardwareID string
	// AdapterName is the name hint used when creating adapters.
	AdapterName string

	MinMTU uint32
	MaxMTU uint32

	ReadTimeout   time.Duration
	WriteTimeout  time.Duration
	CreateTimeout time.Duration

	FrameOverhead int

	// IPTool overrides the path of the IP configuration program.
	IPTool string

	Logger *slog.Logger
}

const (
	DefaultHardwareID    = "tap0901"
	DefaultCreateTimeout = 2 * time.Second
)

// New initializes a Config with defaults and applies opts in order.
func New(opts ...Option) (*Config, error) {
	cfg := &Config{
		HardwareID:    DefaultHardwareID,
		AdapterName:   "Swiftap",
		MinMTU:        device.DefaultMinMTU,
		MaxMTU:        device.DefaultMaxMTU,
		CreateTimeout: DefaultCreateTimeout,
		Logger:        slog.New(slog.DiscardHandler),
	}

	for _, opt := range opts {
		if err := opt(cfg); err != nil {
			return nil, err
		}
	}

	return cfg, nil
}

// DeviceOptions returns the handle options derived from c.
func (c *Config) DeviceOptions() device.Options {
	return device.Options{
		ReadTimeout:   c.ReadTimeout,
		WriteTimeout:  c.WriteTimeout,
		FrameOverhead: c.FrameOverhead,
		MinMTU:        c.MinMTU,
		MaxMTU:        c.MaxMTU,
		Logger:        c.Logger,
	}
}

// WithHardwareID sets the driver hardware ID, e.g. "tap0901".
func WithHardwareID(id string) Option {
	return func(c *Config) error {
		id = strings.TrimSpace(id)
		if id == "" {
			return errors.New("HardwareID cannot be empty")
		}
		c.HardwareID = id
		return nil
	}
}

// WithAdapterName sets the name hint for new adapters.
func WithAdapterName(name string) Option {
	return func(c *Config) error {
		if name == "" {
			return errors.New("AdapterName cannot be empty")
		}
		c.AdapterName = name
		return nil
	}
}

// WithMTUBounds sets the range of MTU values accepted from the driver.
func WithMTUBounds(lo, hi uint32) Option {
	return func(c *Config) error {
		if lo < device.DefaultMinMTU || hi > device.DefaultMaxMTU {
			return errors.New("MTU must be between 576 and 65535")
		}
		if lo > hi {
			return errors.New("minimum MTU exceeds maximum MTU")
		}
		c.MinMTU, c.MaxMTU = lo, hi
		return nil
	}
}

// WithReadTimeout bounds each frame read. Zero blocks until a frame
// arrives or the handle is closed.
func WithReadTimeout(d time.Duration) Option {
	return func(c *Config) error {
		if d < 0 {
			return errors.New("read timeout cannot be negative")
		}
		c.ReadTimeout = d
		return nil
	}
}

func WithWriteTimeout(d time.Duration) Option {
	return func(c *Config) error {
		if d < 0 {
			return errors.New("write timeout cannot be negative")
		}
		c.WriteTimeout = d
		return nil
	}
}

// WithCreateTimeout bounds how long adapter creation waits for the new
// instance to appear.
func WithCreateTimeout(d time.Duration) Option {
	return func(c *Config) error {
		if d <= 0 {
			return errors.New("create timeout must be positive")
		}
		c.CreateTimeout = d
		return nil
	}
}

// WithFrameOverhead allows frames of MTU+n bytes.
func WithFrameOverhead(n int) Option {
	return func(c *Config) error {
		if n < 0 {
			return errors.New("frame overhead cannot be negative")
		}
		c.FrameOverhead = n
		return nil
	}
}

func WithIPTool(path string) Option {
	return func(c *Config) error {
		c.IPTool = path
		return nil
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(c *Config) error {
		if l == nil {
			return errors.New("logger cannot be nil")
		}
		c.Logger = l
		return nil
	}
}
