//go:build windows

package openvpn

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sys/windows"
	"golang.org/x/sys/windows/registry"

	"github.com/SyNdicateFoundation/swiftap/device"
	"github.com/SyNdicateFoundation/swiftap/netcfg"
	"github.com/SyNdicateFoundation/swiftap/swiftypes"
)

// Config tunes a Driver.
type Config struct {
	HardwareID    string
	CreateTimeout time.Duration
	// Renamer applies the name hint of Create. Without one the name hint
	// is ignored and the system-assigned name is kept.
	Renamer netcfg.Renamer
	Logger  *slog.Logger
}

// Driver manages tap-windows6 adapters.
type Driver struct {
	hwid          string
	createTimeout time.Duration
	renamer       netcfg.Renamer
	log           *slog.Logger
}

func New(cfg Config) *Driver {
	d := &Driver{
		hwid:          cfg.HardwareID,
		createTimeout: cfg.CreateTimeout,
		renamer:       cfg.Renamer,
		log:           cfg.Logger,
	}
	if d.hwid == "" {
		d.hwid = DefaultHardwareID
	}
	if d.createTimeout <= 0 {
		d.createTimeout = 2 * time.Second
	}
	if d.log == nil {
		d.log = slog.New(slog.DiscardHandler)
	}
	d.log = d.log.With("driver", "openvpn")
	return d
}

func (d *Driver) Name() string { return "openvpn" }

// Enumerate walks the network adapter class key and keeps instances whose
// ComponentId matches the configured hardware ID.
func (d *Driver) Enumerate() ([]swiftypes.AdapterIdentity, error) {
	key, err := registry.OpenKey(registry.LOCAL_MACHINE, adapterClassKey, registry.ENUMERATE_SUB_KEYS|registry.QUERY_VALUE)
	if err != nil {
		return nil, swiftypes.NewError("enumerate", "", swiftypes.ErrEnumeration, fmt.Errorf("could not access adapter class key: %w", err))
	}
	defer key.Close()

	subKeys, err := key.ReadSubKeyNames(-1)
	if err != nil {
		return nil, swiftypes.NewError("enumerate", "", swiftypes.ErrEnumeration, err)
	}

	var ids []swiftypes.AdapterIdentity
	for _, sub := range subKeys {
		if id, ok := d.readInstance(sub); ok {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

// readInstance reads one class subkey. Subkeys that cannot be opened or
// belong to other drivers are skipped.
func (d *Driver) readInstance(sub string) (swiftypes.AdapterIdentity, bool) {
	key, err := registry.OpenKey(registry.LOCAL_MACHINE, adapterClassKey+`\`+sub, registry.QUERY_VALUE)
	if err != nil {
		return swiftypes.AdapterIdentity{}, false
	}
	defer key.Close()

	componentID, _, err := key.GetStringValue("ComponentId")
	if err != nil || !MatchesHardwareID(componentID, d.hwid) {
		return swiftypes.AdapterIdentity{}, false
	}

	raw, _, err := key.GetStringValue("NetCfgInstanceId")
	if err != nil {
		return swiftypes.AdapterIdentity{}, false
	}
	id, ok := canonicalID(raw)
	if !ok {
		return swiftypes.AdapterIdentity{}, false
	}

	return swiftypes.AdapterIdentity{InstanceID: id, FriendlyName: connectionName(id)}, true
}

// connectionName returns the friendly name of an instance, or "" when the
// network key has not been written yet.
func connectionName(instanceID string) string {
	key, err := registry.OpenKey(registry.LOCAL_MACHINE, connectionKey(instanceID), registry.QUERY_VALUE)
	if err != nil {
		return ""
	}
	defer key.Close()

	name, _, err := key.GetStringValue("Name")
	if err != nil {
		return ""
	}
	return name
}

// Open opens the device path exclusively.
func (d *Driver) Open(id swiftypes.AdapterIdentity) (device.Port, error) {
	h, err := openDevice(id.InstanceID)
	if err != nil {
		return nil, mapErr("open", id.InstanceID, swiftypes.ErrAccessDenied, err)
	}

	p, err := newPort(h)
	if err != nil {
		windows.CloseHandle(h)
		return nil, swiftypes.NewError("open", id.InstanceID, swiftypes.ErrAccessDenied, err)
	}
	return p, nil
}

func openDevice(instanceID string) (windows.Handle, error) {
	path, err := windows.UTF16PtrFromString(DevicePath(instanceID))
	if err != nil {
		return windows.InvalidHandle, err
	}
	return windows.CreateFile(path,
		windows.GENERIC_READ|windows.GENERIC_WRITE,
		0, nil,
		windows.OPEN_EXISTING,
		windows.FILE_ATTRIBUTE_SYSTEM|windows.FILE_FLAG_OVERLAPPED,
		0)
}

// Create provisions a new adapter and waits for it to become openable.
func (d *Driver) Create(nameHint string) (swiftypes.AdapterIdentity, error) {
	deadline := time.Now().Add(d.createTimeout)

	instanceID, err := d.install(deadline)
	if err != nil {
		return swiftypes.AdapterIdentity{}, swiftypes.NewError("create", nameHint, swiftypes.ErrProvisioning, err)
	}

	id := swiftypes.AdapterIdentity{InstanceID: instanceID}
	if err := waitOpenable(instanceID, deadline); err != nil {
		d.rollback(id)
		return swiftypes.AdapterIdentity{}, swiftypes.NewError("create", instanceID, swiftypes.ErrProvisioning, err)
	}

	id.FriendlyName = waitConnectionName(instanceID, deadline)

	if nameHint != "" && d.renamer != nil && id.FriendlyName != nameHint {
		ctx, cancel := context.WithTimeout(context.Background(), d.createTimeout)
		err := d.renamer.Rename(ctx, id, nameHint)
		cancel()
		if err != nil {
			d.rollback(id)
			return swiftypes.AdapterIdentity{}, swiftypes.Errorf("create", instanceID, swiftypes.ErrProvisioning, "failed to rename adapter: %w", err)
		}
		id.FriendlyName = nameHint
	}

	d.log.Info("adapter created", "instance", id.InstanceID, "name", id.FriendlyName)
	return id, nil
}

func (d *Driver) rollback(id swiftypes.AdapterIdentity) {
	if err := d.remove(id.InstanceID); err != nil {
		d.log.Warn("failed to remove half-created adapter", "instance", id.InstanceID, "error", err)
	}
}

// Delete removes an adapter. An instance opened by another process is
// busy.
func (d *Driver) Delete(id swiftypes.AdapterIdentity) error {
	h, err := openDevice(id.InstanceID)
	if err != nil {
		switch {
		case errors.Is(err, windows.ERROR_ACCESS_DENIED), errors.Is(err, windows.ERROR_SHARING_VIOLATION), errors.Is(err, windows.ERROR_BUSY):
			return swiftypes.Errorf("delete", id.InstanceID, swiftypes.ErrBusy, "adapter is open in another process: %w", err)
		case errors.Is(err, windows.ERROR_FILE_NOT_FOUND), errors.Is(err, windows.ERROR_PATH_NOT_FOUND):
			return swiftypes.NewError("delete", id.InstanceID, swiftypes.ErrNotFound, err)
		}
		return mapErr("delete", id.InstanceID, swiftypes.ErrProvisioning, err)
	}
	windows.CloseHandle(h)

	if err := d.remove(id.InstanceID); err != nil {
		return swiftypes.NewError("delete", id.InstanceID, swiftypes.ErrProvisioning, err)
	}
	d.log.Info("adapter deleted", "instance", id.InstanceID, "name", id.FriendlyName)
	return nil
}

func waitOpenable(instanceID string, deadline time.Time) error {
	for {
		h, err := openDevice(instanceID)
		if err == nil {
			windows.CloseHandle(h)
			return nil
		}
		if !errors.Is(err, windows.ERROR_FILE_NOT_FOUND) && !errors.Is(err, windows.ERROR_PATH_NOT_FOUND) {
			return err
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("device path did not appear: %w", err)
		}
		time.Sleep(pollInterval)
	}
}

func waitConnectionName(instanceID string, deadline time.Time) string {
	for {
		if name := connectionName(instanceID); name != "" || time.Now().After(deadline) {
			return name
		}
		time.Sleep(pollInterval)
	}
}

// mapErr classifies a Win32 error; fallback applies when the code has no
// specific kind.
func mapErr(op, instance string, fallback, err error) error {
	kind := fallback
	switch {
	case errors.Is(err, windows.ERROR_FILE_NOT_FOUND), errors.Is(err, windows.ERROR_PATH_NOT_FOUND):
		kind = swiftypes.ErrNotFound
	case errors.Is(err, windows.ERROR_ACCESS_DENIED), errors.Is(err, windows.ERROR_SHARING_VIOLATION),
		errors.Is(err, windows.ERROR_GEN_FAILURE), errors.Is(err, windows.ERROR_BUSY):
		kind = swiftypes.ErrAccessDenied
	case errors.Is(err, windows.ERROR_INVALID_PARAMETER), errors.Is(err, windows.ERROR_INSUFFICIENT_BUFFER),
		errors.Is(err, windows.ERROR_MORE_DATA), errors.Is(err, windows.ERROR_NOT_SUPPORTED),
		errors.Is(err, windows.ERROR_INVALID_FUNCTION):
		kind = swiftypes.ErrProtocol
	}
	return swiftypes.NewError(op, instance, kind, err)
}
