package tapctl

import (
	"encoding/binary"
	"net"
	"net/netip"

	"github.com/SyNdicateFoundation/swiftap/swiftypes"
)

// The helpers below are the driver side of the buffer layouts. Drivers
// that answer control codes in user space use them so that both ends
// agree on byte order.

// PutMTU encodes mtu into a GET_MTU output buffer.
func PutMTU(out []byte, mtu uint32) int {
	binary.LittleEndian.PutUint32(out, mtu)
	return 4
}

// PutVersion encodes v into a GET_VERSION output buffer.
func PutVersion(out []byte, v swiftypes.DriverVersion) int {
	binary.LittleEndian.PutUint32(out[0:4], v.Major)
	binary.LittleEndian.PutUint32(out[4:8], v.Minor)
	var debug uint32
	if v.Debug {
		debug = 1
	}
	binary.LittleEndian.PutUint32(out[8:12], debug)
	return 12
}

// PutMAC encodes mac into a GET_MAC output buffer.
func PutMAC(out []byte, mac net.HardwareAddr) int {
	return copy(out[:6], mac)
}

// MediaStatus decodes a SET_MEDIA_STATUS input buffer.
func MediaStatus(in []byte) bool {
	return binary.LittleEndian.Uint32(in) != 0
}

// IPv4s decodes the consecutive IPv4 addresses of a CONFIG_* input buffer.
func IPv4s(in []byte) []netip.Addr {
	addrs := make([]netip.Addr, 0, len(in)/4)
	for i := 0; i+4 <= len(in); i += 4 {
		addrs = append(addrs, netip.AddrFrom4([4]byte(in[i:i+4])))
	}
	return addrs
}
