package swiftap

import (
	"context"
	"errors"
	"net/netip"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/SyNdicateFoundation/swiftap/loopback"
	"github.com/SyNdicateFoundation/swiftap/swiftconfig"
	"github.com/SyNdicateFoundation/swiftap/swiftypes"
	"github.com/SyNdicateFoundation/swiftap/tapctl"
)

type mockConfigurator struct {
	mock.Mock
}

func (m *mockConfigurator) ApplyIPv4(ctx context.Context, id swiftypes.AdapterIdentity, cfg swiftypes.IPConfig) error {
	args := m.Called(ctx, id, cfg)
	return args.Error(0)
}

type mockRenamer struct {
	mockConfigurator
}

func (m *mockRenamer) Rename(ctx context.Context, id swiftypes.AdapterIdentity, name string) error {
	args := m.Called(ctx, id, name)
	return args.Error(0)
}

func newTestManager(t *testing.T, opts ...swiftconfig.Option) (*Manager, *loopback.Driver, *mockConfigurator) {
	t.Helper()
	cfg, err := swiftconfig.New(opts...)
	require.NoError(t, err)

	d := loopback.New(nil)
	c := &mockConfigurator{}
	m, err := NewManager(cfg, WithDriver(d), WithConfigurator(c))
	require.NoError(t, err)
	return m, d, c
}

func openTest(t *testing.T, m *Manager, d *loopback.Driver, name string) *SwiftInterface {
	t.Helper()
	_, err := d.Create(name)
	require.NoError(t, err)
	s, err := m.Open(name)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestOpenByName(t *testing.T) {
	m, d, _ := newTestManager(t)
	_, err := d.Create("Ethernet 2")
	require.NoError(t, err)

	s, err := m.Open("Ethernet 2")
	require.NoError(t, err)
	assert.Equal(t, "Ethernet 2", s.Identity().FriendlyName)

	name, err := s.GetAdapterName()
	require.NoError(t, err)
	assert.Equal(t, "Ethernet 2", name)

	_, err = m.Open("Ethernet 2")
	assert.ErrorIs(t, err, swiftypes.ErrAccessDenied)

	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	_, err = m.Open("Ethernet 9")
	assert.ErrorIs(t, err, swiftypes.ErrNotFound)
}

func TestOpenCloseEveryAdapter(t *testing.T) {
	m, d, _ := newTestManager(t)
	for _, name := range []string{"TAP 1", "TAP 2", "TAP 3"} {
		_, err := d.Create(name)
		require.NoError(t, err)
	}

	ids, err := m.ListAdapters()
	require.NoError(t, err)
	require.Len(t, ids, 3)

	for _, id := range ids {
		s, err := m.OpenIdentity(id)
		require.NoError(t, err, id.String())

		_, err = m.OpenIdentity(id)
		assert.ErrorIs(t, err, swiftypes.ErrAccessDenied, id.String())

		require.NoError(t, s.Close())
	}
}

func TestGetMetadata(t *testing.T) {
	m, d, _ := newTestManager(t)
	s := openTest(t, m, d, "TAP Meta")

	md, err := s.GetMetadata()
	require.NoError(t, err)
	assert.Equal(t, uint32(loopback.DefaultMTU), md.MTU)
	assert.Equal(t, loopback.DefaultVersion, md.Version)
	assert.Equal(t, d.Instance("TAP Meta").MAC(), md.MAC)

	mtu, err := s.GetMTU()
	require.NoError(t, err)
	assert.Equal(t, md.MTU, mtu)

	v, err := s.GetVersion()
	require.NoError(t, err)
	assert.Equal(t, "9.27", v.String())

	mac, err := s.GetMAC()
	require.NoError(t, err)
	assert.Equal(t, md.MAC, mac)
}

func TestSetIPDelegatesToConfigurator(t *testing.T) {
	m, d, c := newTestManager(t)
	s := openTest(t, m, d, "TAP IP")

	want := swiftypes.IPConfig{
		Address: netip.MustParseAddr("10.20.60.1"),
		Mask:    netip.MustParseAddr("255.255.255.0"),
	}
	c.On("ApplyIPv4", mock.Anything, s.Identity(), want).Return(nil).Once()

	require.NoError(t, s.SetIP(want.Address, want.Mask))
	c.AssertExpectations(t)
}

func TestSetIPToolFailure(t *testing.T) {
	m, d, c := newTestManager(t)
	s := openTest(t, m, d, "TAP IP")

	cause := errors.New("exit status 1")
	c.On("ApplyIPv4", mock.Anything, mock.Anything, mock.Anything).Return(cause).Once()

	err := s.SetIP(netip.MustParseAddr("10.20.60.1"), netip.MustParseAddr("255.255.255.0"))
	assert.ErrorIs(t, err, swiftypes.ErrConfigurationFailed)
	assert.ErrorIs(t, err, cause)
}

func TestSetIPRejectsMalformedMask(t *testing.T) {
	m, d, c := newTestManager(t)
	s := openTest(t, m, d, "TAP IP")

	for _, mask := range []string{"0.0.0.0", "255.0.255.0", "ffff::"} {
		err := s.SetIP(netip.MustParseAddr("10.20.60.1"), netip.MustParseAddr(mask))
		assert.ErrorIs(t, err, swiftypes.ErrConfigurationFailed, mask)
	}
	err := s.SetIP(netip.Addr{}, netip.MustParseAddr("255.255.255.0"))
	assert.ErrorIs(t, err, swiftypes.ErrConfigurationFailed)

	c.AssertNotCalled(t, "ApplyIPv4", mock.Anything, mock.Anything, mock.Anything)
}

func TestGetIPNotImplemented(t *testing.T) {
	m, d, _ := newTestManager(t)
	s := openTest(t, m, d, "TAP IP")

	_, err := s.GetIP()
	assert.ErrorIs(t, err, swiftypes.ErrNotImplemented)

	require.NoError(t, s.Close())
	_, err = s.GetIP()
	assert.ErrorIs(t, err, swiftypes.ErrNotImplemented)
}

func TestClosedInterface(t *testing.T) {
	m, d, c := newTestManager(t)
	s := openTest(t, m, d, "TAP Closed")
	require.NoError(t, s.Close())

	assert.ErrorIs(t, s.SetIP(netip.MustParseAddr("10.0.0.1"), netip.MustParseAddr("255.0.0.0")), swiftypes.ErrClosedHandle)
	assert.ErrorIs(t, s.SetStatus(swiftypes.InterfaceUp), swiftypes.ErrClosedHandle)
	assert.ErrorIs(t, s.WriteFrame(make([]byte, 60)), swiftypes.ErrClosedHandle)
	_, err := s.GetMetadata()
	assert.ErrorIs(t, err, swiftypes.ErrClosedHandle)
	_, err = s.GetAdapterName()
	assert.ErrorIs(t, err, swiftypes.ErrClosedHandle)
	c.AssertNotCalled(t, "ApplyIPv4", mock.Anything, mock.Anything, mock.Anything)
}

func TestCreateAndDelete(t *testing.T) {
	m, _, _ := newTestManager(t, swiftconfig.WithAdapterName("TAP Bridge"))

	s, err := m.Create("")
	require.NoError(t, err)
	assert.Equal(t, "TAP Bridge", s.Identity().FriendlyName)

	ids, err := m.ListAdapters()
	require.NoError(t, err)
	assert.Equal(t, []swiftypes.AdapterIdentity{s.Identity()}, ids)

	assert.ErrorIs(t, m.Delete("TAP Bridge"), swiftypes.ErrBusy)

	require.NoError(t, s.Close())
	require.NoError(t, m.Delete("TAP Bridge"))
	assert.ErrorIs(t, m.Delete("TAP Bridge"), swiftypes.ErrNotFound)

	ids, err = m.ListAdapters()
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestNewSwiftInterfaceCreatesOnce(t *testing.T) {
	cfg, err := swiftconfig.New(swiftconfig.WithAdapterName("TAP Auto"))
	require.NoError(t, err)
	d := loopback.New(nil)

	s, err := NewSwiftInterface(cfg, WithDriver(d), WithConfigurator(&mockConfigurator{}))
	require.NoError(t, err)
	first := s.Identity()
	require.NoError(t, s.Close())

	s, err = NewSwiftInterface(cfg, WithDriver(d), WithConfigurator(&mockConfigurator{}))
	require.NoError(t, err)
	defer s.Close()
	assert.Equal(t, first, s.Identity(), "existing adapter must be reused")
}

func TestDriverModes(t *testing.T) {
	m, d, _ := newTestManager(t)
	s := openTest(t, m, d, "TAP Modes")
	inst := d.Instance("TAP Modes")

	require.NoError(t, s.SetStatus(swiftypes.InterfaceUp))
	assert.True(t, inst.MediaUp())

	require.NoError(t, s.SetPointToPoint(netip.MustParseAddr("10.3.0.1"), netip.MustParseAddr("10.3.0.2")))
	assert.Equal(t, []byte{10, 3, 0, 1, 10, 3, 0, 2}, inst.LastConfig(tapctl.CodeConfigPointToPoint))

	require.NoError(t, s.SetTUN(netip.MustParseAddr("10.3.0.1"), netip.MustParseAddr("10.3.0.0"), netip.MustParseAddr("255.255.255.0")))
	assert.Equal(t, []byte{10, 3, 0, 1, 10, 3, 0, 0, 255, 255, 255, 0}, inst.LastConfig(tapctl.CodeConfigTUN))

	require.NoError(t, s.SetDHCPMasq(netip.MustParseAddr("10.3.0.1"), netip.MustParseAddr("255.255.255.0"), netip.MustParseAddr("10.3.0.254"), time.Hour))
	assert.Equal(t, []byte{10, 3, 0, 1, 255, 255, 255, 0, 10, 3, 0, 254, 0x10, 0x0e, 0, 0}, inst.LastConfig(tapctl.CodeConfigDHCPMasq))

	err := s.SetPointToPoint(netip.MustParseAddr("fd00::1"), netip.MustParseAddr("10.3.0.2"))
	assert.ErrorIs(t, err, swiftypes.ErrConfigurationFailed)
}

func TestFrameExchange(t *testing.T) {
	m, d, _ := newTestManager(t, swiftconfig.WithReadTimeout(time.Second))
	a := openTest(t, m, d, "TAP A")
	b := openTest(t, m, d, "TAP B")
	loopback.Pair(d.Instance("TAP A"), d.Instance("TAP B"))

	require.NoError(t, a.WriteFrame(make([]byte, loopback.DefaultMTU)))
	assert.ErrorIs(t, a.WriteFrame(make([]byte, loopback.DefaultMTU+1)), swiftypes.ErrFrameTooLarge)

	f, err := b.ReadFrame()
	require.NoError(t, err)
	assert.Len(t, f, loopback.DefaultMTU)

	_, err = b.ReadFrame()
	assert.ErrorIs(t, err, swiftypes.ErrTimeout)
}

func TestCloseUnblocksReader(t *testing.T) {
	m, d, _ := newTestManager(t)
	s := openTest(t, m, d, "TAP Reader")

	var wg sync.WaitGroup
	errs := make(chan error, 1)
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, err := s.ReadFrame()
		errs <- err
	}()

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, s.Close())

	select {
	case err := <-errs:
		assert.ErrorIs(t, err, swiftypes.ErrClosedHandle)
	case <-time.After(2 * time.Second):
		t.Fatal("reader still blocked after close")
	}
	wg.Wait()
}

func TestSetAdapterName(t *testing.T) {
	cfg, err := swiftconfig.New()
	require.NoError(t, err)
	d := loopback.New(nil)
	r := &mockRenamer{}
	m, err := NewManager(cfg, WithDriver(d), WithConfigurator(r))
	require.NoError(t, err)
	s := openTest(t, m, d, "TAP Old")

	before := s.Identity()
	r.On("Rename", mock.Anything, before, "TAP New").Return(nil).Once()

	require.NoError(t, s.SetAdapterName(context.Background(), "TAP New"))
	assert.Equal(t, "TAP New", s.Identity().FriendlyName)
	assert.Equal(t, before.InstanceID, s.Identity().InstanceID)
	name, err := s.GetAdapterName()
	require.NoError(t, err)
	assert.Equal(t, "TAP New", name)

	cause := errors.New("exit status 1: The interface name is already in use")
	r.On("Rename", mock.Anything, mock.Anything, "TAP Taken").Return(cause).Once()
	err = s.SetAdapterName(context.Background(), "TAP Taken")
	assert.ErrorIs(t, err, swiftypes.ErrConfigurationFailed)
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "TAP New", s.Identity().FriendlyName)

	assert.ErrorIs(t, s.SetAdapterName(context.Background(), ""), swiftypes.ErrConfigurationFailed)
	r.AssertExpectations(t)

	require.NoError(t, s.Close())
	assert.ErrorIs(t, s.SetAdapterName(context.Background(), "TAP Late"), swiftypes.ErrClosedHandle)
}

func TestSetAdapterNameWithoutRenamer(t *testing.T) {
	m, d, c := newTestManager(t)
	s := openTest(t, m, d, "TAP Fixed")

	err := s.SetAdapterName(context.Background(), "TAP Other")
	assert.ErrorIs(t, err, swiftypes.ErrNotImplemented)
	assert.Equal(t, "TAP Fixed", s.Identity().FriendlyName)
	c.AssertExpectations(t)
}
