package netcfg

import (
	"context"
	"net/netip"
	"os/exec"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SyNdicateFoundation/swiftap/swiftypes"
)

var (
	testID  = swiftypes.AdapterIdentity{InstanceID: "{6C5E4F2A-0000-0000-0000-000000000001}", FriendlyName: "Ethernet 3"}
	testCfg = swiftypes.IPConfig{
		Address: netip.MustParseAddr("10.20.60.1"),
		Mask:    netip.MustParseAddr("255.255.255.0"),
	}
)

func TestNetshArgs(t *testing.T) {
	args, err := Netsh("").Args(testID, testCfg)
	require.NoError(t, err)

	want := []string{"interface", "ipv4", "set", "address", "name=Ethernet 3", "source=static", "address=10.20.60.1", "mask=255.255.255.0"}
	if diff := cmp.Diff(want, args); diff != "" {
		t.Errorf("netsh args (-want +got):\n%s", diff)
	}
	assert.Equal(t, "netsh", Netsh("").Path)
	assert.Equal(t,
		[]string{"interface", "set", "interface", "name=Ethernet 3", "newname=TAP Bridge"},
		Netsh("").RenameArgs(testID, "TAP Bridge"))
}

func TestIPRouteArgs(t *testing.T) {
	id := swiftypes.AdapterIdentity{InstanceID: "7", FriendlyName: "tap0"}
	args, err := IPRoute("/sbin/ip").Args(id, testCfg)
	require.NoError(t, err)

	want := []string{"addr", "replace", "10.20.60.1/24", "dev", "tap0"}
	if diff := cmp.Diff(want, args); diff != "" {
		t.Errorf("ip args (-want +got):\n%s", diff)
	}
}

func lookTool(t *testing.T, name string) string {
	t.Helper()
	path, err := exec.LookPath(name)
	if err != nil {
		t.Skipf("%s not available: %v", name, err)
	}
	return path
}

func TestApplyIPv4RunsTool(t *testing.T) {
	tool := IPRoute(lookTool(t, "true"))
	require.NoError(t, tool.ApplyIPv4(context.Background(), testID, testCfg))

	tool = IPRoute(lookTool(t, "false"))
	err := tool.ApplyIPv4(context.Background(), testID, testCfg)
	assert.ErrorIs(t, err, swiftypes.ErrConfigurationFailed)

	tool = IPRoute("/nonexistent/ip")
	err = tool.ApplyIPv4(context.Background(), testID, testCfg)
	assert.ErrorIs(t, err, swiftypes.ErrConfigurationFailed)
}

func TestApplyIPv4RejectsMalformedInput(t *testing.T) {
	ran := false
	tool := &Tool{
		Path: lookTool(t, "true"),
		Args: func(swiftypes.AdapterIdentity, swiftypes.IPConfig) ([]string, error) {
			ran = true
			return nil, nil
		},
	}

	bad := []swiftypes.IPConfig{
		{Address: netip.MustParseAddr("10.0.0.1"), Mask: netip.MustParseAddr("255.0.255.0")},
		{Address: netip.MustParseAddr("10.0.0.1"), Mask: netip.MustParseAddr("0.0.0.0")},
		{Address: netip.MustParseAddr("fd00::1"), Mask: netip.MustParseAddr("255.255.255.0")},
		{},
	}
	for _, cfg := range bad {
		err := tool.ApplyIPv4(context.Background(), testID, cfg)
		assert.ErrorIs(t, err, swiftypes.ErrConfigurationFailed, cfg.String())
	}
	assert.False(t, ran, "tool must not run for malformed input")
}

func TestRename(t *testing.T) {
	tool := Netsh(lookTool(t, "true"))
	require.NoError(t, tool.Rename(context.Background(), testID, "TAP Bridge"))

	err := tool.Rename(context.Background(), testID, "")
	assert.ErrorIs(t, err, swiftypes.ErrConfigurationFailed)

	err = (&Tool{Path: "true"}).Rename(context.Background(), testID, "x")
	assert.ErrorIs(t, err, swiftypes.ErrNotImplemented)
}
