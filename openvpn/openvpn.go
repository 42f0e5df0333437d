// Package openvpn drives tap-windows6 adapters (the OpenVPN TAP driver):
// registry enumeration, SetupAPI provisioning, and overlapped I/O on the
// per-instance device path.
package openvpn

import (
	"strings"

	"github.com/SyNdicateFoundation/swiftap/swiftypes"
)

const (
	// NetClassGUID is the device setup class of network adapters.
	NetClassGUID = "{4D36E972-E325-11CE-BFC1-08002BE10318}"

	adapterClassKey = `SYSTEM\CurrentControlSet\Control\Class\` + NetClassGUID
	networkKey      = `SYSTEM\CurrentControlSet\Control\Network\` + NetClassGUID

	DefaultHardwareID = "tap0901"
)

// DevicePath returns the path that opens the instance with the given
// NetCfgInstanceId.
func DevicePath(instanceID string) string {
	return `\\.\Global\` + instanceID + `.tap`
}

// MatchesHardwareID reports whether a ComponentId or hardware ID value
// belongs to the driver family hwid. Comparison ignores case and a
// leading "root\".
func MatchesHardwareID(value, hwid string) bool {
	trim := func(s string) string {
		s = strings.ToLower(strings.TrimSpace(s))
		return strings.TrimPrefix(s, `root\`)
	}
	return value != "" && trim(value) == trim(hwid)
}

func connectionKey(instanceID string) string {
	return networkKey + `\` + instanceID + `\Connection`
}

// canonicalID normalizes a NetCfgInstanceId registry value to the braced
// upper-case GUID form. It reports false for values that are not GUIDs.
func canonicalID(value string) (string, bool) {
	g, err := swiftypes.ParseGUID(strings.TrimSpace(value))
	if err != nil {
		return "", false
	}
	return g.String(), true
}
