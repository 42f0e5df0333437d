package swiftypes

import (
	"encoding/hex"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"strings"
)

var NilGUID = GUID{}

var errInvalidGUID = errors.New("invalid GUID")

// InterfaceStatus is the media status reported to the host network stack.
type InterfaceStatus int

const (
	InterfaceUp InterfaceStatus = iota
	InterfaceDown
)

func (s InterfaceStatus) String() string {
	if s == InterfaceUp {
		return "up"
	}
	return "down"
}

// AdapterIdentity names one adapter instance as reported by enumeration.
type AdapterIdentity struct {
	InstanceID   string
	FriendlyName string
}

func (a AdapterIdentity) String() string {
	if a.FriendlyName == "" {
		return a.InstanceID
	}
	return fmt.Sprintf("%s (%s)", a.FriendlyName, a.InstanceID)
}

// DriverVersion is the version triple returned by the driver.
type DriverVersion struct {
	Major uint32
	Minor uint32
	Debug bool
}

func (v DriverVersion) String() string {
	if v.Debug {
		return fmt.Sprintf("%d.%d (debug)", v.Major, v.Minor)
	}
	return fmt.Sprintf("%d.%d", v.Major, v.Minor)
}

// DriverMetadata is a snapshot of driver state. It is never cached.
type DriverMetadata struct {
	MTU     uint32
	Version DriverVersion
	MAC     net.HardwareAddr
}

func (m DriverMetadata) String() string {
	return fmt.Sprintf("DriverMetadata{MTU: %d, Version: %s, MAC: %s}", m.MTU, m.Version, m.MAC)
}

// Frame is one complete link-layer frame.
type Frame []byte

// IPConfig is an IPv4 address and mask to apply to an adapter.
type IPConfig struct {
	Address netip.Addr
	Mask    netip.Addr
}

// PrefixLen returns the prefix length of the mask. Masks that are not
// IPv4, all-zero or non-contiguous are rejected.
func (c IPConfig) PrefixLen() (int, error) {
	if !c.Mask.Is4() {
		return 0, fmt.Errorf("mask %v is not an IPv4 mask", c.Mask)
	}
	m := c.Mask.As4()
	ones, bits := net.IPv4Mask(m[0], m[1], m[2], m[3]).Size()
	if bits == 0 {
		return 0, fmt.Errorf("mask %v is not contiguous", c.Mask)
	}
	if ones == 0 {
		return 0, fmt.Errorf("mask %v is empty", c.Mask)
	}
	return ones, nil
}

// Validate checks the address and mask without touching the system.
func (c IPConfig) Validate() error {
	if !c.Address.Is4() {
		return fmt.Errorf("address %v is not an IPv4 address", c.Address)
	}
	if c.Address.IsUnspecified() {
		return fmt.Errorf("address %v is unspecified", c.Address)
	}
	_, err := c.PrefixLen()
	return err
}

func (c IPConfig) String() string {
	return fmt.Sprintf("%s/%s", c.Address, c.Mask)
}

func (g GUID) String() string {
	return fmt.Sprintf("{%08X-%04X-%04X-%02X%02X-%02X%02X%02X%02X%02X%02X}", g.Data1, g.Data2, g.Data3, g.Data4[0], g.Data4[1], g.Data4[2], g.Data4[3], g.Data4[4], g.Data4[5], g.Data4[6], g.Data4[7])
}

// ParseGUID parses a GUID with or without surrounding braces.
func ParseGUID(s string) (GUID, error) {
	s = strings.TrimSuffix(strings.TrimPrefix(s, "{"), "}")
	parts := strings.Split(s, "-")
	if len(parts) != 5 || len(parts[0]) != 8 || len(parts[1]) != 4 || len(parts[2]) != 4 || len(parts[3]) != 4 || len(parts[4]) != 12 {
		return NilGUID, fmt.Errorf("%w: %q", errInvalidGUID, s)
	}

	raw, err := hex.DecodeString(strings.Join(parts, ""))
	if err != nil {
		return NilGUID, fmt.Errorf("%w: %q", errInvalidGUID, s)
	}

	var g GUID
	g.Data1 = uint32(raw[0])<<24 | uint32(raw[1])<<16 | uint32(raw[2])<<8 | uint32(raw[3])
	g.Data2 = uint16(raw[4])<<8 | uint16(raw[5])
	g.Data3 = uint16(raw[6])<<8 | uint16(raw[7])
	copy(g.Data4[:], raw[8:])
	return g, nil
}
