//go:build linux

package linuxtap

import (
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vishvananda/netlink"
	"golang.org/x/sys/unix"

	"github.com/SyNdicateFoundation/swiftap/device"
	"github.com/SyNdicateFoundation/swiftap/swiftypes"
	"github.com/SyNdicateFoundation/swiftap/tapctl"
)

func TestKernelVersion(t *testing.T) {
	assert.Equal(t, swiftypes.DriverVersion{Major: 6, Minor: 8}, kernelVersion("6.8.0-45-generic"))
	assert.Equal(t, swiftypes.DriverVersion{Major: 5, Minor: 15}, kernelVersion("5.15.153.1-microsoft-standard-WSL2"))
	assert.Equal(t, swiftypes.DriverVersion{Major: 6, Minor: 1}, kernelVersion("6.1rc2"))
	assert.Equal(t, swiftypes.DriverVersion{}, kernelVersion(""))
}

func TestMapErrno(t *testing.T) {
	cases := map[unix.Errno]error{
		unix.ENOENT: swiftypes.ErrNotFound,
		unix.ENODEV: swiftypes.ErrNotFound,
		unix.EBUSY:  swiftypes.ErrAccessDenied,
		unix.EPERM:  swiftypes.ErrAccessDenied,
		unix.EINVAL: swiftypes.ErrProtocol,
		unix.EIO:    swiftypes.ErrProvisioning,
	}
	for errno, want := range cases {
		err := mapErrno("open", "3", swiftypes.ErrProvisioning, fmt.Errorf("TUNSETIFF: %w", errno))
		assert.ErrorIs(t, err, want, errno.Error())
		assert.ErrorIs(t, err, errno)
	}
}

func TestControlErrorKinds(t *testing.T) {
	p := &port{index: 7}
	cases := []struct {
		err  error
		want error
	}{
		{fmt.Errorf("failed to set link state: %w", unix.EPERM), swiftypes.ErrAccessDenied},
		{fmt.Errorf("failed to add point-to-point address: %w", unix.EACCES), swiftypes.ErrAccessDenied},
		{fmt.Errorf("failed to set link state: %w", unix.ENODEV), swiftypes.ErrNotFound},
		{fmt.Errorf("failed to find interface: %w", netlink.LinkNotFoundError{}), swiftypes.ErrNotFound},
		{fmt.Errorf("failed to set link state: %w", unix.EIO), swiftypes.ErrProtocol},
	}
	for _, c := range cases {
		err := p.controlError(tapctl.CodeSetMediaStatus, c.err)
		assert.ErrorIs(t, err, c.want, c.err.Error())

		// the handle wraps with ErrProtocol as a fallback only
		wrapped := swiftypes.NewError("set media status", "7", swiftypes.ErrProtocol, err)
		assert.Equal(t, c.want, swiftypes.KindOf(wrapped), c.err.Error())
	}
}

func TestCreateRejectsExistingInterface(t *testing.T) {
	_, err := New(nil).Create("lo")
	assert.ErrorIs(t, err, swiftypes.ErrProvisioning)
	assert.Equal(t, swiftypes.ErrProvisioning, swiftypes.KindOf(err))
}

func TestProvisionErrorKeepsErrno(t *testing.T) {
	for _, errno := range []unix.Errno{unix.EPERM, unix.EBUSY, unix.EINVAL} {
		err := provisionError("tap9", fmt.Errorf("TUNSETIFF tap9: %w", errno))
		assert.Equal(t, swiftypes.ErrProvisioning, swiftypes.KindOf(err), errno.Error())
		assert.ErrorIs(t, err, errno)
	}
}

func TestLookupRejectsBadIndex(t *testing.T) {
	_, err := New(nil).Open(swiftypes.AdapterIdentity{InstanceID: "eth0"})
	assert.ErrorIs(t, err, swiftypes.ErrNotFound)
}

func requireRoot(t *testing.T) {
	t.Helper()
	if os.Geteuid() != 0 {
		t.Skip("requires root")
	}
	if _, err := os.Stat(cloneDevice); err != nil {
		t.Skipf("%s not available: %v", cloneDevice, err)
	}
}

func TestDeviceLifecycle(t *testing.T) {
	requireRoot(t)

	d := New(nil)
	name := fmt.Sprintf("swtap%d", os.Getpid()%10000)

	h, id, err := device.Create(d, name, device.Options{ReadTimeout: 50 * time.Millisecond})
	require.NoError(t, err)
	assert.Equal(t, name, id.FriendlyName)

	ids, err := device.List(d)
	require.NoError(t, err)
	assert.Contains(t, ids, id)

	_, err = d.Open(id)
	assert.ErrorIs(t, err, swiftypes.ErrAccessDenied, "second attach must fail")

	md, err := h.Metadata()
	require.NoError(t, err)
	assert.Equal(t, uint32(1500), md.MTU)
	assert.Len(t, md.MAC, 6)

	require.NoError(t, h.SetMediaStatus(swiftypes.InterfaceUp))

	_, err = d.Create(name)
	assert.ErrorIs(t, err, swiftypes.ErrProvisioning, "a taken name must not be reused")
	_, again, err := device.Create(d, name, device.Options{})
	assert.ErrorIs(t, err, swiftypes.ErrProvisioning)
	assert.Zero(t, again)

	_, err = h.ReadFrame()
	if err != nil {
		assert.ErrorIs(t, err, swiftypes.ErrTimeout)
	}

	err = h.WriteFrame(make([]byte, md.MTU+1))
	assert.ErrorIs(t, err, swiftypes.ErrFrameTooLarge)

	err = d.Delete(id)
	assert.ErrorIs(t, err, swiftypes.ErrBusy)

	require.NoError(t, h.Close())
	require.NoError(t, device.Delete(d, id))

	_, err = d.Open(id)
	assert.ErrorIs(t, err, swiftypes.ErrNotFound)
}
