package openvpn

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDevicePath(t *testing.T) {
	id := "{6C5E4F2A-91B0-4D0B-8C3C-57A1F0E3B5D1}"
	assert.Equal(t, `\\.\Global\{6C5E4F2A-91B0-4D0B-8C3C-57A1F0E3B5D1}.tap`, DevicePath(id))
	assert.Equal(t,
		`SYSTEM\CurrentControlSet\Control\Network\{4D36E972-E325-11CE-BFC1-08002BE10318}\`+id+`\Connection`,
		connectionKey(id))
}

func TestMatchesHardwareID(t *testing.T) {
	assert.True(t, MatchesHardwareID("tap0901", "tap0901"))
	assert.True(t, MatchesHardwareID(`root\tap0901`, "tap0901"))
	assert.True(t, MatchesHardwareID("TAP0901", `Root\tap0901`))
	assert.False(t, MatchesHardwareID("wintun", "tap0901"))
	assert.False(t, MatchesHardwareID("", "tap0901"))
}

func TestCanonicalID(t *testing.T) {
	id, ok := canonicalID("{6c5e4f2a-91b0-4d0b-8c3c-57a1f0e3b5d1}")
	assert.True(t, ok)
	assert.Equal(t, "{6C5E4F2A-91B0-4D0B-8C3C-57A1F0E3B5D1}", id)

	id, ok = canonicalID(" 6C5E4F2A-91B0-4D0B-8C3C-57A1F0E3B5D1 ")
	assert.True(t, ok)
	assert.Equal(t, "{6C5E4F2A-91B0-4D0B-8C3C-57A1F0E3B5D1}", id)

	for _, bad := range []string{"", "tap0901", "{6C5E4F2A-91B0-4D0B-8C3C}"} {
		_, ok := canonicalID(bad)
		assert.False(t, ok, bad)
	}
}
