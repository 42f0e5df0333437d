// Package tapctl implements the control-code channel of the tap-windows
// driver family: fixed numeric codes paired with fixed-size input and
// output buffers.
package tapctl

import (
	"encoding/binary"
	"fmt"
	"net"
	"net/netip"

	"github.com/SyNdicateFoundation/swiftap/swiftypes"
)

// Code is a driver control code.
type Code uint32

const (
	fileDeviceUnknown = uint32(0x00000022)
	methodBuffered    = uint32(0)
	fileAnyAccess     = uint32(0)
)

var (
	CodeGetMAC             = tapControlCode(1, methodBuffered)
	CodeGetVersion         = tapControlCode(2, methodBuffered)
	CodeGetMTU             = tapControlCode(3, methodBuffered)
	CodeConfigPointToPoint = tapControlCode(5, methodBuffered)
	CodeSetMediaStatus     = tapControlCode(6, methodBuffered)
	CodeConfigDHCPMasq     = tapControlCode(7, methodBuffered)
	CodeConfigTUN          = tapControlCode(10, methodBuffered)
)

func ctlCode(deviceType, function, method, access uint32) uint32 {
	return (deviceType << 16) | (access << 14) | (function << 2) | method
}

func tapControlCode(request, method uint32) Code {
	return Code(ctlCode(fileDeviceUnknown, request, method, fileAnyAccess))
}

// Function returns the request number encoded in the code.
func (c Code) Function() uint32 {
	return (uint32(c) >> 2) & 0xfff
}

func (c Code) String() string {
	if l, ok := layouts[c]; ok {
		return l.Name
	}
	return fmt.Sprintf("Code(%#x)", uint32(c))
}

// Layout is the fixed buffer contract of one control code.
type Layout struct {
	Name string
	In   int
	Out  int
}

var layouts = map[Code]Layout{
	CodeGetMAC:             {Name: "GET_MAC", In: 0, Out: 6},
	CodeGetVersion:         {Name: "GET_VERSION", In: 0, Out: 12},
	CodeGetMTU:             {Name: "GET_MTU", In: 0, Out: 4},
	CodeConfigPointToPoint: {Name: "CONFIG_POINT_TO_POINT", In: 8, Out: 0},
	CodeSetMediaStatus:     {Name: "SET_MEDIA_STATUS", In: 4, Out: 0},
	CodeConfigDHCPMasq:     {Name: "CONFIG_DHCP_MASQ", In: 16, Out: 0},
	CodeConfigTUN:          {Name: "CONFIG_TUN", In: 12, Out: 0},
}

// LayoutOf returns the buffer contract of code.
func LayoutOf(code Code) (Layout, bool) {
	l, ok := layouts[code]
	return l, ok
}

// Controller performs one synchronous control exchange. It returns the
// number of bytes the driver wrote into out.
type Controller interface {
	Control(code Code, in, out []byte) (int, error)
}

// Exchange validates in and out against the layout of code, issues the
// call, and validates the returned length.
func Exchange(c Controller, code Code, in, out []byte) error {
	l, ok := layouts[code]
	if !ok {
		return swiftypes.Errorf("control", "", swiftypes.ErrProtocol, "unknown control code %#x", uint32(code))
	}
	if len(in) != l.In {
		return swiftypes.Errorf("control", "", swiftypes.ErrProtocol, "%s: input is %d bytes, driver expects %d", l.Name, len(in), l.In)
	}
	if len(out) != l.Out {
		return swiftypes.Errorf("control", "", swiftypes.ErrProtocol, "%s: output is %d bytes, driver expects %d", l.Name, len(out), l.Out)
	}

	n, err := c.Control(code, in, out)
	if err != nil {
		return err
	}
	if n != l.Out {
		return swiftypes.Errorf("control", "", swiftypes.ErrProtocol, "%s: driver returned %d bytes, expected %d", l.Name, n, l.Out)
	}
	return nil
}

// GetMAC reads the adapter hardware address.
func GetMAC(c Controller) (net.HardwareAddr, error) {
	mac := make([]byte, 6)
	if err := Exchange(c, CodeGetMAC, nil, mac); err != nil {
		return nil, err
	}
	return net.HardwareAddr(mac), nil
}

// GetVersion reads the driver version triple.
func GetVersion(c Controller) (swiftypes.DriverVersion, error) {
	var buf [12]byte
	if err := Exchange(c, CodeGetVersion, nil, buf[:]); err != nil {
		return swiftypes.DriverVersion{}, err
	}
	return swiftypes.DriverVersion{
		Major: binary.LittleEndian.Uint32(buf[0:4]),
		Minor: binary.LittleEndian.Uint32(buf[4:8]),
		Debug: binary.LittleEndian.Uint32(buf[8:12]) != 0,
	}, nil
}

// GetMTU reads the adapter MTU.
func GetMTU(c Controller) (uint32, error) {
	var buf [4]byte
	if err := Exchange(c, CodeGetMTU, nil, buf[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(buf[:]), nil
}

// SetMediaStatus reports the adapter as connected (up) or disconnected.
func SetMediaStatus(c Controller, up bool) error {
	var buf [4]byte
	if up {
		binary.LittleEndian.PutUint32(buf[:], 1)
	}
	return Exchange(c, CodeSetMediaStatus, buf[:], nil)
}

// ConfigPointToPoint puts the adapter in point-to-point mode between local
// and remote.
func ConfigPointToPoint(c Controller, local, remote netip.Addr) error {
	in, err := packIPv4(local, remote)
	if err != nil {
		return err
	}
	return Exchange(c, CodeConfigPointToPoint, in, nil)
}

// ConfigTUN puts the adapter in TUN mode for the given local address and
// remote network.
func ConfigTUN(c Controller, local, network, mask netip.Addr) error {
	in, err := packIPv4(local, network, mask)
	if err != nil {
		return err
	}
	return Exchange(c, CodeConfigTUN, in, nil)
}

// ConfigDHCPMasq enables the driver's DHCP masquerade for ip/mask, answered
// from server with the given lease time in seconds.
func ConfigDHCPMasq(c Controller, ip, mask, server netip.Addr, leaseSeconds uint32) error {
	in, err := packIPv4(ip, mask, server)
	if err != nil {
		return err
	}
	in = binary.LittleEndian.AppendUint32(in, leaseSeconds)
	return Exchange(c, CodeConfigDHCPMasq, in, nil)
}

func packIPv4(addrs ...netip.Addr) ([]byte, error) {
	buf := make([]byte, 0, 4*len(addrs)+4)
	for _, a := range addrs {
		if !a.Is4() {
			return nil, swiftypes.Errorf("control", "", swiftypes.ErrConfigurationFailed, "%v is not an IPv4 address", a)
		}
		b := a.As4()
		buf = append(buf, b[:]...)
	}
	return buf, nil
}
