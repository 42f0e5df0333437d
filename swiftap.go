// Package swiftap controls virtual TAP adapters: it finds adapter
// instances, opens one exclusively, moves Ethernet frames through it, and
// queries or changes its driver-level settings.
package swiftap

import (
	"errors"
	"log/slog"

	"github.com/SyNdicateFoundation/swiftap/device"
	"github.com/SyNdicateFoundation/swiftap/netcfg"
	"github.com/SyNdicateFoundation/swiftap/swiftconfig"
	"github.com/SyNdicateFoundation/swiftap/swiftypes"
)

// ManagerOption overrides a Manager component.
type ManagerOption func(*Manager)

// WithDriver replaces the platform driver.
func WithDriver(d device.Driver) ManagerOption {
	return func(m *Manager) { m.driver = d }
}

// WithConfigurator replaces the platform IP configuration tool.
func WithConfigurator(c netcfg.Configurator) ManagerOption {
	return func(m *Manager) { m.configurator = c }
}

// Manager resolves, opens, creates and deletes adapters of one driver.
type Manager struct {
	cfg          *swiftconfig.Config
	driver       device.Driver
	configurator netcfg.Configurator
	log          *slog.Logger
}

// NewManager builds a Manager for the running platform. A nil cfg uses
// swiftconfig defaults.
func NewManager(cfg *swiftconfig.Config, opts ...ManagerOption) (*Manager, error) {
	if cfg == nil {
		var err error
		if cfg, err = swiftconfig.New(); err != nil {
			return nil, err
		}
	}

	m := &Manager{cfg: cfg, log: cfg.Logger}
	for _, opt := range opts {
		opt(m)
	}

	if m.configurator == nil {
		m.configurator = netcfg.Default(cfg.IPTool)
		if t, ok := m.configurator.(*netcfg.Tool); ok {
			t.Log = m.log
		}
	}
	if m.driver == nil {
		m.driver = defaultDriver(cfg, m.configurator)
	}

	return m, nil
}

// Driver returns the driver the Manager uses.
func (m *Manager) Driver() device.Driver {
	return m.driver
}

// ListAdapters returns every adapter instance of the driver.
func (m *Manager) ListAdapters() ([]swiftypes.AdapterIdentity, error) {
	return device.List(m.driver)
}

// Open resolves a friendly name and opens the adapter exclusively.
func (m *Manager) Open(name string) (*SwiftInterface, error) {
	id, err := device.Lookup(m.driver, name)
	if err != nil {
		return nil, err
	}
	return m.OpenIdentity(id)
}

// OpenIdentity opens an adapter returned by ListAdapters.
func (m *Manager) OpenIdentity(id swiftypes.AdapterIdentity) (*SwiftInterface, error) {
	h, err := device.Open(m.driver, id, m.cfg.DeviceOptions())
	if err != nil {
		return nil, err
	}
	return m.wrap(h), nil
}

// Create provisions a new adapter and opens it. An empty name uses the
// configured adapter name.
func (m *Manager) Create(name string) (*SwiftInterface, error) {
	if name == "" {
		name = m.cfg.AdapterName
	}
	h, _, err := device.Create(m.driver, name, m.cfg.DeviceOptions())
	if err != nil {
		return nil, err
	}
	return m.wrap(h), nil
}

// Delete removes the adapter with the given friendly name.
func (m *Manager) Delete(name string) error {
	id, err := device.Lookup(m.driver, name)
	if err != nil {
		return err
	}
	if err := device.Delete(m.driver, id); err != nil {
		return err
	}
	m.log.Info("adapter deleted", "name", name, "instance", id.InstanceID)
	return nil
}

func (m *Manager) wrap(h *device.Handle) *SwiftInterface {
	return &SwiftInterface{
		handle:       h,
		configurator: m.configurator,
		log:          m.log.With("instance", h.Identity().InstanceID),
	}
}

// NewSwiftInterface opens the adapter named by cfg.AdapterName, creating it
// when no such adapter exists.
func NewSwiftInterface(cfg *swiftconfig.Config, opts ...ManagerOption) (*SwiftInterface, error) {
	m, err := NewManager(cfg, opts...)
	if err != nil {
		return nil, err
	}

	s, err := m.Open(m.cfg.AdapterName)
	if errors.Is(err, swiftypes.ErrNotFound) {
		return m.Create(m.cfg.AdapterName)
	}
	return s, err
}
