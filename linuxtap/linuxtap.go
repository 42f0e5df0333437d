//go:build linux

// Package linuxtap drives kernel TAP interfaces through /dev/net/tun and
// rtnetlink. Instance IDs are interface indexes and friendly names are
// interface names.
package linuxtap

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"strconv"
	"strings"

	"github.com/vishvananda/netlink"
	"golang.org/x/sys/unix"

	"github.com/SyNdicateFoundation/swiftap/device"
	"github.com/SyNdicateFoundation/swiftap/swiftypes"
)

const cloneDevice = "/dev/net/tun"

// Driver manages TAP interfaces of the running kernel.
type Driver struct {
	log *slog.Logger
}

// New returns a driver. A nil logger discards output.
func New(log *slog.Logger) *Driver {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &Driver{log: log.With("driver", "linuxtap")}
}

func (d *Driver) Name() string { return "linuxtap" }

// Enumerate lists TAP-mode tuntap links in kernel order.
func (d *Driver) Enumerate() ([]swiftypes.AdapterIdentity, error) {
	links, err := netlink.LinkList()
	if err != nil {
		return nil, swiftypes.NewError("enumerate", "", swiftypes.ErrEnumeration, fmt.Errorf("failed to list links: %w", err))
	}

	var ids []swiftypes.AdapterIdentity
	for _, l := range links {
		t, ok := l.(*netlink.Tuntap)
		if !ok || t.Mode != netlink.TUNTAP_MODE_TAP {
			continue
		}
		ids = append(ids, identity(t))
	}
	return ids, nil
}

func (d *Driver) Open(id swiftypes.AdapterIdentity) (device.Port, error) {
	link, err := linkOf(id)
	if err != nil {
		return nil, err
	}

	fd, err := attach(link.Attrs().Name)
	if err != nil {
		return nil, mapErrno("open", id.InstanceID, swiftypes.ErrAccessDenied, err)
	}

	return &port{
		file:  os.NewFile(uintptr(fd), cloneDevice),
		index: link.Attrs().Index,
	}, nil
}

// Create adds a persistent TAP interface. An empty hint lets the kernel
// pick a tapN name. TUNSETIFF would attach to an existing interface of
// the same name, so a taken name is refused up front.
func (d *Driver) Create(nameHint string) (swiftypes.AdapterIdentity, error) {
	if len(nameHint) >= unix.IFNAMSIZ {
		return swiftypes.AdapterIdentity{}, swiftypes.Errorf("create", nameHint, swiftypes.ErrProvisioning, "interface name longer than %d bytes", unix.IFNAMSIZ-1)
	}
	if nameHint == "" {
		nameHint = "tap%d"
	}
	if !strings.Contains(nameHint, "%") {
		if _, err := netlink.LinkByName(nameHint); err == nil {
			return swiftypes.AdapterIdentity{}, swiftypes.Errorf("create", nameHint, swiftypes.ErrProvisioning, "interface %s already exists", nameHint)
		}
	}

	fd, err := attach(nameHint)
	if err != nil {
		return swiftypes.AdapterIdentity{}, provisionError(nameHint, err)
	}
	defer unix.Close(fd)

	name, err := attachedName(fd)
	if err != nil {
		return swiftypes.AdapterIdentity{}, provisionError(nameHint, err)
	}
	if err := unix.IoctlSetInt(fd, unix.TUNSETPERSIST, 1); err != nil {
		return swiftypes.AdapterIdentity{}, provisionError(name, fmt.Errorf("TUNSETPERSIST: %w", err))
	}

	link, err := netlink.LinkByName(name)
	if err != nil {
		return swiftypes.AdapterIdentity{}, provisionError(name, fmt.Errorf("failed to find new interface: %w", err))
	}

	d.log.Info("interface created", "name", name, "index", link.Attrs().Index)
	return swiftypes.AdapterIdentity{InstanceID: strconv.Itoa(link.Attrs().Index), FriendlyName: name}, nil
}

// provisionError reports a create failure. The errno stays reachable
// through errors.Is but the kind is always ErrProvisioning.
func provisionError(name string, err error) error {
	return &swiftypes.OpError{Op: "create", Instance: name, Kind: swiftypes.ErrProvisioning, Err: err}
}

// Delete removes a TAP interface. An interface attached elsewhere is busy.
func (d *Driver) Delete(id swiftypes.AdapterIdentity) error {
	link, err := linkOf(id)
	if err != nil {
		return err
	}
	name := link.Attrs().Name

	fd, err := attach(name)
	if err != nil {
		if errors.Is(err, unix.EBUSY) {
			return swiftypes.Errorf("delete", id.InstanceID, swiftypes.ErrBusy, "%s is attached by another process", name)
		}
		return mapErrno("delete", id.InstanceID, swiftypes.ErrProvisioning, err)
	}
	perr := unix.IoctlSetInt(fd, unix.TUNSETPERSIST, 0)
	unix.Close(fd)

	if perr == nil {
		if _, err := netlink.LinkByIndex(link.Attrs().Index); errors.As(err, &netlink.LinkNotFoundError{}) {
			d.log.Info("interface deleted", "name", name)
			return nil
		}
	}

	if err := netlink.LinkDel(link); err != nil {
		return swiftypes.Errorf("delete", id.InstanceID, swiftypes.ErrProvisioning, "failed to delete %s: %w", name, err)
	}
	d.log.Info("interface deleted", "name", name)
	return nil
}

func identity(l netlink.Link) swiftypes.AdapterIdentity {
	return swiftypes.AdapterIdentity{
		InstanceID:   strconv.Itoa(l.Attrs().Index),
		FriendlyName: l.Attrs().Name,
	}
}

func linkOf(id swiftypes.AdapterIdentity) (netlink.Link, error) {
	index, err := strconv.Atoi(id.InstanceID)
	if err != nil {
		return nil, swiftypes.Errorf("lookup", id.InstanceID, swiftypes.ErrNotFound, "not an interface index")
	}

	link, err := netlink.LinkByIndex(index)
	if err != nil {
		if errors.As(err, &netlink.LinkNotFoundError{}) {
			return nil, swiftypes.NewError("lookup", id.InstanceID, swiftypes.ErrNotFound, err)
		}
		return nil, swiftypes.NewError("lookup", id.InstanceID, swiftypes.ErrEnumeration, err)
	}

	t, ok := link.(*netlink.Tuntap)
	if !ok || t.Mode != netlink.TUNTAP_MODE_TAP {
		return nil, swiftypes.Errorf("lookup", id.InstanceID, swiftypes.ErrNotFound, "%s is not a TAP interface", link.Attrs().Name)
	}
	return link, nil
}

// attach opens the clone device and binds it to name. Without
// IFF_MULTI_QUEUE a second attach fails with EBUSY.
func attach(name string) (int, error) {
	fd, err := unix.Open(cloneDevice, unix.O_RDWR|unix.O_NONBLOCK|unix.O_CLOEXEC, 0)
	if err != nil {
		return -1, fmt.Errorf("open %s: %w", cloneDevice, err)
	}

	ifr, err := unix.NewIfreq(name)
	if err != nil {
		unix.Close(fd)
		return -1, err
	}
	ifr.SetUint16(unix.IFF_TAP | unix.IFF_NO_PI)

	if err := unix.IoctlIfreq(fd, unix.TUNSETIFF, ifr); err != nil {
		unix.Close(fd)
		return -1, fmt.Errorf("TUNSETIFF %s: %w", name, err)
	}
	return fd, nil
}

func attachedName(fd int) (string, error) {
	ifr, err := unix.NewIfreq("")
	if err != nil {
		return "", err
	}
	if err := unix.IoctlIfreq(fd, unix.TUNGETIFF, ifr); err != nil {
		return "", fmt.Errorf("TUNGETIFF: %w", err)
	}
	return ifr.Name(), nil
}

// mapErrno classifies a syscall failure; fallback applies when the errno
// has no specific kind.
func mapErrno(op, instance string, fallback, err error) error {
	kind := fallback
	switch {
	case errors.Is(err, unix.ENOENT), errors.Is(err, unix.ENODEV), errors.Is(err, unix.ENXIO):
		kind = swiftypes.ErrNotFound
	case errors.Is(err, unix.EACCES), errors.Is(err, unix.EPERM), errors.Is(err, unix.EBUSY):
		kind = swiftypes.ErrAccessDenied
	case errors.Is(err, unix.EINVAL), errors.Is(err, unix.ENOTTY):
		kind = swiftypes.ErrProtocol
	}
	return swiftypes.NewError(op, instance, kind, err)
}

// kernelVersion parses the major and minor numbers of a kernel release
// string such as "6.8.0-45-generic".
func kernelVersion(release string) swiftypes.DriverVersion {
	var v swiftypes.DriverVersion
	parts := strings.SplitN(release, ".", 3)
	if len(parts) > 0 {
		major, _ := strconv.ParseUint(parts[0], 10, 32)
		v.Major = uint32(major)
	}
	if len(parts) > 1 {
		minor := parts[1]
		if i := strings.IndexFunc(minor, func(r rune) bool { return r < '0' || r > '9' }); i >= 0 {
			minor = minor[:i]
		}
		n, _ := strconv.ParseUint(minor, 10, 32)
		v.Minor = uint32(n)
	}
	return v
}

func hardwareAddr(l netlink.Link) net.HardwareAddr {
	mac := l.Attrs().HardwareAddr
	if len(mac) != 6 {
		return make(net.HardwareAddr, 6)
	}
	return mac
}
