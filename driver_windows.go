//go:build windows

package swiftap

import (
	"github.com/SyNdicateFoundation/swiftap/device"
	"github.com/SyNdicateFoundation/swiftap/netcfg"
	"github.com/SyNdicateFoundation/swiftap/openvpn"
	"github.com/SyNdicateFoundation/swiftap/swiftconfig"
)

func defaultDriver(cfg *swiftconfig.Config, c netcfg.Configurator) device.Driver {
	renamer, _ := c.(netcfg.Renamer)
	return openvpn.New(openvpn.Config{
		HardwareID:    cfg.HardwareID,
		CreateTimeout: cfg.CreateTimeout,
		Renamer:       renamer,
		Logger:        cfg.Logger,
	})
}
