package swiftutils

import (
	"encoding/binary"
	"fmt"
	"net"
)

// EtherType values seen on TAP adapters.
const (
	EtherTypeIPv4 = 0x0800
	EtherTypeARP  = 0x0806
	EtherTypeVLAN = 0x8100
	EtherTypeIPv6 = 0x86dd
)

// EthernetHeaderLen is the length of an untagged Ethernet II header.
const EthernetHeaderLen = 14

var broadcast = net.HardwareAddr{0xff, 0xff, 0xff, 0xff, 0xff, 0xff}

func Destination(frame []byte) net.HardwareAddr {
	if len(frame) < EthernetHeaderLen {
		return nil
	}
	return net.HardwareAddr(frame[0:6])
}

func Source(frame []byte) net.HardwareAddr {
	if len(frame) < EthernetHeaderLen {
		return nil
	}
	return net.HardwareAddr(frame[6:12])
}

// EtherType returns the payload type, looking through one VLAN tag.
func EtherType(frame []byte) uint16 {
	if len(frame) < EthernetHeaderLen {
		return 0
	}
	t := binary.BigEndian.Uint16(frame[12:14])
	if t == EtherTypeVLAN && len(frame) >= EthernetHeaderLen+4 {
		t = binary.BigEndian.Uint16(frame[16:18])
	}
	return t
}

// Payload returns the bytes after the Ethernet header.
func Payload(frame []byte) []byte {
	if len(frame) < EthernetHeaderLen {
		return nil
	}
	if binary.BigEndian.Uint16(frame[12:14]) == EtherTypeVLAN {
		if len(frame) < EthernetHeaderLen+4 {
			return nil
		}
		return frame[EthernetHeaderLen+4:]
	}
	return frame[EthernetHeaderLen:]
}

func IsBroadcast(frame []byte) bool {
	dst := Destination(frame)
	return dst != nil && string(dst) == string(broadcast)
}

func IsMulticast(frame []byte) bool {
	return len(frame) >= EthernetHeaderLen && frame[0]&0x01 != 0
}

func IsIPv4(frame []byte) bool {
	p := Payload(frame)
	return EtherType(frame) == EtherTypeIPv4 && len(p) >= 20 && p[0]>>4 == 4
}

func IsIPv6(frame []byte) bool {
	p := Payload(frame)
	return EtherType(frame) == EtherTypeIPv6 && len(p) >= 40 && p[0]>>4 == 6
}

// IPv4Destination returns the destination of an IPv4 frame, or nil.
func IPv4Destination(frame []byte) net.IP {
	if !IsIPv4(frame) {
		return nil
	}
	p := Payload(frame)
	return net.IPv4(p[16], p[17], p[18], p[19])
}

// IPv6Destination returns the destination of an IPv6 frame, or nil.
func IPv6Destination(frame []byte) net.IP {
	if !IsIPv6(frame) {
		return nil
	}
	return net.IP(Payload(frame)[24:40])
}

// Describe renders a one-line summary of a frame for diagnostics.
func Describe(frame []byte) string {
	if len(frame) < EthernetHeaderLen {
		return fmt.Sprintf("runt frame (%d bytes)", len(frame))
	}

	kind := fmt.Sprintf("type %#04x", EtherType(frame))
	switch EtherType(frame) {
	case EtherTypeIPv4:
		kind = "IPv4"
		if dst := IPv4Destination(frame); dst != nil {
			kind += " to " + dst.String()
		}
	case EtherTypeIPv6:
		kind = "IPv6"
		if dst := IPv6Destination(frame); dst != nil {
			kind += " to " + dst.String()
		}
	case EtherTypeARP:
		kind = "ARP"
	}
	return fmt.Sprintf("%s > %s %s, %d bytes", Source(frame), Destination(frame), kind, len(frame))
}
