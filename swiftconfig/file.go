package swiftconfig

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"
)

// File is the on-disk configuration.
type File struct {
	HardwareID    string        `yaml:"hardwareId"`
	AdapterName   string        `yaml:"adapterName"`
	MTU           MTUFile       `yaml:"mtu"`
	ReadTimeout   time.Duration `yaml:"readTimeout"`
	WriteTimeout  time.Duration `yaml:"writeTimeout"`
	CreateTimeout time.Duration `yaml:"createTimeout"`
	FrameOverhead int           `yaml:"frameOverhead"`
	IPTool        string        `yaml:"ipTool"`
	Log           LogFile       `yaml:"log"`
}

type MTUFile struct {
	Min uint32 `yaml:"min"`
	Max uint32 `yaml:"max"`
}

// LogFile configures the command-line tool's log output. An empty Path
// logs to stderr.
type LogFile struct {
	Path       string `yaml:"path"`
	Level      string `yaml:"level"`
	MaxSizeMB  int    `yaml:"maxSizeMb"`
	MaxBackups int    `yaml:"maxBackups"`
	MaxAgeDays int    `yaml:"maxAgeDays"`
}

// Load reads a YAML configuration file.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}

	f := &File{}
	if err := yaml.UnmarshalStrict(data, f); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	return f, nil
}

// Options converts the fields that are set into options for New.
func (f *File) Options() []Option {
	var opts []Option
	if f.HardwareID != "" {
		opts = append(opts, WithHardwareID(f.HardwareID))
	}
	if f.AdapterName != "" {
		opts = append(opts, WithAdapterName(f.AdapterName))
	}
	if f.MTU.Min != 0 || f.MTU.Max != 0 {
		lo, hi := f.MTU.Min, f.MTU.Max
		if lo == 0 {
			lo = 576
		}
		if hi == 0 {
			hi = 65535
		}
		opts = append(opts, WithMTUBounds(lo, hi))
	}
	if f.ReadTimeout != 0 {
		opts = append(opts, WithReadTimeout(f.ReadTimeout))
	}
	if f.WriteTimeout != 0 {
		opts = append(opts, WithWriteTimeout(f.WriteTimeout))
	}
	if f.CreateTimeout != 0 {
		opts = append(opts, WithCreateTimeout(f.CreateTimeout))
	}
	if f.FrameOverhead != 0 {
		opts = append(opts, WithFrameOverhead(f.FrameOverhead))
	}
	if f.IPTool != "" {
		opts = append(opts, WithIPTool(f.IPTool))
	}
	return opts
}
