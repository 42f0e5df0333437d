//go:build !linux && !windows

package swiftap

import (
	"errors"

	"github.com/SyNdicateFoundation/swiftap/device"
	"github.com/SyNdicateFoundation/swiftap/netcfg"
	"github.com/SyNdicateFoundation/swiftap/swiftconfig"
	"github.com/SyNdicateFoundation/swiftap/swiftypes"
)

var errUnsupported = errors.New("no TAP driver on this platform")

// unsupportedDriver stands in on platforms without a TAP driver. Use
// WithDriver to supply one.
type unsupportedDriver struct{}

func defaultDriver(*swiftconfig.Config, netcfg.Configurator) device.Driver {
	return unsupportedDriver{}
}

func (unsupportedDriver) Name() string { return "unsupported" }

func (unsupportedDriver) Enumerate() ([]swiftypes.AdapterIdentity, error) {
	return nil, swiftypes.NewError("enumerate", "", swiftypes.ErrEnumeration, errUnsupported)
}

func (unsupportedDriver) Open(id swiftypes.AdapterIdentity) (device.Port, error) {
	return nil, swiftypes.NewError("open", id.InstanceID, swiftypes.ErrNotImplemented, errUnsupported)
}

func (unsupportedDriver) Create(name string) (swiftypes.AdapterIdentity, error) {
	return swiftypes.AdapterIdentity{}, swiftypes.NewError("create", name, swiftypes.ErrNotImplemented, errUnsupported)
}

func (unsupportedDriver) Delete(id swiftypes.AdapterIdentity) error {
	return swiftypes.NewError("delete", id.InstanceID, swiftypes.ErrNotImplemented, errUnsupported)
}
