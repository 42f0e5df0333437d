//go:build linux

package swiftap

import (
	"github.com/SyNdicateFoundation/swiftap/device"
	"github.com/SyNdicateFoundation/swiftap/linuxtap"
	"github.com/SyNdicateFoundation/swiftap/netcfg"
	"github.com/SyNdicateFoundation/swiftap/swiftconfig"
)

func defaultDriver(cfg *swiftconfig.Config, _ netcfg.Configurator) device.Driver {
	return linuxtap.New(cfg.Logger)
}
