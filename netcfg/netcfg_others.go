//go:build !linux && !windows

package netcfg

import (
	"context"

	"github.com/SyNdicateFoundation/swiftap/swiftypes"
)

type unsupported struct{}

func Default(string) Configurator {
	return unsupported{}
}

func (unsupported) ApplyIPv4(_ context.Context, id swiftypes.AdapterIdentity, _ swiftypes.IPConfig) error {
	return swiftypes.Errorf("set ip", id.InstanceID, swiftypes.ErrNotImplemented, "no configuration tool on this platform")
}
