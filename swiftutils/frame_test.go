package swiftutils

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
)

func ipv4Frame(dst net.IP) []byte {
	f := []byte{
		0xff, 0xff, 0xff, 0xff, 0xff, 0xff, // dst
		0x02, 0x00, 0x00, 0x00, 0x00, 0x01, // src
		0x08, 0x00,
	}
	ip := make([]byte, 20)
	ip[0] = 0x45
	copy(ip[16:20], dst.To4())
	return append(f, ip...)
}

func TestIPv4Frame(t *testing.T) {
	f := ipv4Frame(net.IPv4(10, 20, 60, 2))

	assert.True(t, IsIPv4(f))
	assert.False(t, IsIPv6(f))
	assert.True(t, IsBroadcast(f))
	assert.True(t, IsMulticast(f))
	assert.Equal(t, uint16(EtherTypeIPv4), EtherType(f))
	assert.Equal(t, "02:00:00:00:00:01", Source(f).String())
	assert.True(t, IPv4Destination(f).Equal(net.IPv4(10, 20, 60, 2)))
	assert.Equal(t, "02:00:00:00:00:01 > ff:ff:ff:ff:ff:ff IPv4 to 10.20.60.2, 34 bytes", Describe(f))
}

func TestVLANTaggedFrame(t *testing.T) {
	f := []byte{
		0x02, 0, 0, 0, 0, 2,
		0x02, 0, 0, 0, 0, 1,
		0x81, 0x00, 0x00, 0x0a, // VLAN 10
		0x08, 0x06,
		0x00, 0x01,
	}
	assert.Equal(t, uint16(EtherTypeARP), EtherType(f))
	assert.Equal(t, []byte{0x00, 0x01}, Payload(f))
	assert.False(t, IsBroadcast(f))
	assert.False(t, IsMulticast(f))
	assert.Contains(t, Describe(f), "ARP")
}

func TestRuntFrame(t *testing.T) {
	f := []byte{1, 2, 3}
	assert.Nil(t, Destination(f))
	assert.Zero(t, EtherType(f))
	assert.False(t, IsIPv4(f))
	assert.Nil(t, IPv4Destination(f))
	assert.Equal(t, "runt frame (3 bytes)", Describe(f))
}
