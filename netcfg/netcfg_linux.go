//go:build linux

package netcfg

// Default returns the platform configurator. An empty path uses "ip" from
// PATH.
func Default(path string) Configurator {
	return IPRoute(path)
}
