//go:build windows

package netcfg

// Default returns the platform configurator. An empty path uses "netsh"
// from PATH.
func Default(path string) Configurator {
	return Netsh(path)
}
