package swiftap

import (
	"context"
	"log/slog"
	"net"
	"net/netip"
	"time"

	"github.com/SyNdicateFoundation/swiftap/device"
	"github.com/SyNdicateFoundation/swiftap/netcfg"
	"github.com/SyNdicateFoundation/swiftap/swiftypes"
	"github.com/SyNdicateFoundation/swiftap/tapctl"
)

// SwiftInterface is an open adapter. It owns the underlying handle until
// Close.
type SwiftInterface struct {
	handle       *device.Handle
	configurator netcfg.Configurator
	log          *slog.Logger
}

func (s *SwiftInterface) Identity() swiftypes.AdapterIdentity { return s.handle.Identity() }

// GetAdapterName returns the friendly name the adapter was opened under.
func (s *SwiftInterface) GetAdapterName() (string, error) {
	if s.handle.Closed() {
		return "", s.closedError("get name")
	}
	return s.handle.Identity().FriendlyName, nil
}

// SetAdapterName renames the adapter through the configuration tool. It
// fails with swiftypes.ErrNotImplemented when the tool cannot rename.
func (s *SwiftInterface) SetAdapterName(ctx context.Context, name string) error {
	if s.handle.Closed() {
		return s.closedError("set name")
	}
	id := s.Identity()
	if name == "" {
		return swiftypes.Errorf("set name", id.InstanceID, swiftypes.ErrConfigurationFailed, "empty adapter name")
	}

	r, ok := s.configurator.(netcfg.Renamer)
	if !ok {
		return swiftypes.Errorf("set name", id.InstanceID, swiftypes.ErrNotImplemented, "configurator cannot rename adapters")
	}
	if err := r.Rename(ctx, id, name); err != nil {
		return swiftypes.NewError("set name", id.InstanceID, swiftypes.ErrConfigurationFailed, err)
	}

	s.handle.SetFriendlyName(name)
	s.log.Info("adapter renamed", "from", id.FriendlyName, "to", name)
	return nil
}

// Close releases the adapter. Further calls are no-ops.
func (s *SwiftInterface) Close() error { return s.handle.Close() }

func (s *SwiftInterface) ReadFrame() (swiftypes.Frame, error) { return s.handle.ReadFrame() }

func (s *SwiftInterface) ReadFrameContext(ctx context.Context) (swiftypes.Frame, error) {
	return s.handle.ReadFrameContext(ctx)
}

func (s *SwiftInterface) WriteFrame(frame swiftypes.Frame) error { return s.handle.WriteFrame(frame) }

func (s *SwiftInterface) WriteFrameContext(ctx context.Context, frame swiftypes.Frame) error {
	return s.handle.WriteFrameContext(ctx, frame)
}

// Read reads one frame into buf.
func (s *SwiftInterface) Read(buf []byte) (int, error) { return s.handle.Read(buf) }

// Write writes buf as one frame.
func (s *SwiftInterface) Write(buf []byte) (int, error) { return s.handle.Write(buf) }

func (s *SwiftInterface) GetMTU() (uint32, error) { return s.handle.GetMTU() }

func (s *SwiftInterface) GetVersion() (swiftypes.DriverVersion, error) { return s.handle.GetVersion() }

func (s *SwiftInterface) GetMAC() (net.HardwareAddr, error) { return s.handle.GetMAC() }

// GetMetadata queries MTU, version and MAC. Nothing is cached.
func (s *SwiftInterface) GetMetadata() (swiftypes.DriverMetadata, error) { return s.handle.Metadata() }

// SetStatus reports the adapter media as connected or disconnected.
func (s *SwiftInterface) SetStatus(status swiftypes.InterfaceStatus) error {
	return s.handle.SetMediaStatus(status)
}

// SetPointToPoint configures point-to-point mode between local and remote.
func (s *SwiftInterface) SetPointToPoint(local, remote netip.Addr) error {
	if err := tapctl.ConfigPointToPoint(s.handle, local, remote); err != nil {
		return s.wrap("set point-to-point", err)
	}
	return nil
}

// SetTUN switches the adapter to TUN mode for local and the remote
// network/mask.
func (s *SwiftInterface) SetTUN(local, network, mask netip.Addr) error {
	if err := tapctl.ConfigTUN(s.handle, local, network, mask); err != nil {
		return s.wrap("set tun", err)
	}
	return nil
}

// SetDHCPMasq enables the driver's DHCP responder for ip/mask, answering
// as server with the given lease time.
func (s *SwiftInterface) SetDHCPMasq(ip, mask, server netip.Addr, lease time.Duration) error {
	if err := tapctl.ConfigDHCPMasq(s.handle, ip, mask, server, uint32(lease/time.Second)); err != nil {
		return s.wrap("set dhcp masq", err)
	}
	return nil
}

// SetIP assigns a static IPv4 address through the configuration tool.
func (s *SwiftInterface) SetIP(addr, mask netip.Addr) error {
	return s.SetIPContext(context.Background(), addr, mask)
}

// SetIPContext is SetIP with cancellation of the tool process. A malformed
// address or mask fails without running the tool.
func (s *SwiftInterface) SetIPContext(ctx context.Context, addr, mask netip.Addr) error {
	if s.handle.Closed() {
		return s.closedError("set ip")
	}

	cfg := swiftypes.IPConfig{Address: addr, Mask: mask}
	if err := cfg.Validate(); err != nil {
		return swiftypes.NewError("set ip", s.Identity().InstanceID, swiftypes.ErrConfigurationFailed, err)
	}

	if err := s.configurator.ApplyIPv4(ctx, s.Identity(), cfg); err != nil {
		return swiftypes.NewError("set ip", s.Identity().InstanceID, swiftypes.ErrConfigurationFailed, err)
	}
	s.log.Info("address assigned", "address", cfg.String())
	return nil
}

// GetIP is not supported: the driver has no address read-back. It always
// fails with swiftypes.ErrNotImplemented.
func (s *SwiftInterface) GetIP() (swiftypes.IPConfig, error) {
	return swiftypes.IPConfig{}, swiftypes.Errorf("get ip", s.Identity().InstanceID, swiftypes.ErrNotImplemented, "IP read-back is not supported")
}

func (s *SwiftInterface) closedError(op string) error {
	return swiftypes.NewError(op, s.Identity().InstanceID, swiftypes.ErrClosedHandle, nil)
}

func (s *SwiftInterface) wrap(op string, err error) error {
	return swiftypes.NewError(op, s.Identity().InstanceID, swiftypes.ErrProtocol, err)
}
