//go:build linux

package linuxtap

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/vishvananda/netlink"
	"golang.org/x/sys/unix"

	"github.com/SyNdicateFoundation/swiftap/swiftypes"
	"github.com/SyNdicateFoundation/swiftap/tapctl"
)

// port is an attached TAP queue. The fd is non-blocking and owned by the
// runtime poller, so Close and deadlines interrupt a pending Read.
type port struct {
	file  *os.File
	index int
}

func (p *port) Read(b []byte) (int, error)         { return p.file.Read(b) }
func (p *port) Write(b []byte) (int, error)        { return p.file.Write(b) }
func (p *port) SetReadDeadline(t time.Time) error  { return p.file.SetReadDeadline(t) }
func (p *port) SetWriteDeadline(t time.Time) error { return p.file.SetWriteDeadline(t) }
func (p *port) Close() error                       { return p.file.Close() }

// Control answers the tap-windows control codes from link state. Codes
// with no kernel equivalent fail with ENOTTY.
func (p *port) Control(code tapctl.Code, in, out []byte) (int, error) {
	l, ok := tapctl.LayoutOf(code)
	if !ok || len(in) < l.In || len(out) < l.Out {
		return 0, fmt.Errorf("%s: %w", code, unix.EINVAL)
	}

	link, err := netlink.LinkByIndex(p.index)
	if err != nil {
		return 0, p.controlError(code, fmt.Errorf("failed to find interface: %w", err))
	}

	switch code {
	case tapctl.CodeGetMTU:
		return tapctl.PutMTU(out, uint32(link.Attrs().MTU)), nil

	case tapctl.CodeGetMAC:
		return tapctl.PutMAC(out, hardwareAddr(link)), nil

	case tapctl.CodeGetVersion:
		var uts unix.Utsname
		if err := unix.Uname(&uts); err != nil {
			return 0, p.controlError(code, fmt.Errorf("uname: %w", err))
		}
		return tapctl.PutVersion(out, kernelVersion(unix.ByteSliceToString(uts.Release[:]))), nil

	case tapctl.CodeSetMediaStatus:
		if tapctl.MediaStatus(in) {
			err = netlink.LinkSetUp(link)
		} else {
			err = netlink.LinkSetDown(link)
		}
		if err != nil {
			return 0, p.controlError(code, fmt.Errorf("failed to set link state: %w", err))
		}
		return 0, nil

	case tapctl.CodeConfigPointToPoint:
		addrs := tapctl.IPv4s(in[:l.In])
		addr := &netlink.Addr{
			IPNet: &net.IPNet{IP: addrs[0].AsSlice(), Mask: net.CIDRMask(32, 32)},
			Peer:  &net.IPNet{IP: addrs[1].AsSlice(), Mask: net.CIDRMask(32, 32)},
		}
		if err := netlink.AddrReplace(link, addr); err != nil {
			return 0, p.controlError(code, fmt.Errorf("failed to add point-to-point address: %w", err))
		}
		return 0, nil
	}

	return 0, fmt.Errorf("%s: %w", code, unix.ENOTTY)
}

// controlError classifies a failed emulated exchange by errno, with
// ErrProtocol as the fallback.
func (p *port) controlError(code tapctl.Code, err error) error {
	instance := strconv.Itoa(p.index)
	if errors.As(err, &netlink.LinkNotFoundError{}) {
		return swiftypes.NewError("control "+code.String(), instance, swiftypes.ErrNotFound, err)
	}
	return mapErrno("control "+code.String(), instance, swiftypes.ErrProtocol, err)
}
