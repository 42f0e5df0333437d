// Package device owns adapter handles: resolving identities through a
// driver, opening and creating instances, and moving frames and control
// requests over the resulting native handle.
package device

import (
	"log/slog"
	"strings"
	"time"

	"github.com/SyNdicateFoundation/swiftap/swiftypes"
	"github.com/SyNdicateFoundation/swiftap/tapctl"
)

// Port is the native handle of one open adapter instance.
//
// Read and Write move exactly one frame per call. After Close they fail
// with an error matching os.ErrClosed, and once a deadline passes they
// fail with an error matching os.ErrDeadlineExceeded. Close must unblock
// a Read that is in progress on another goroutine.
type Port interface {
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)
	Control(code tapctl.Code, in, out []byte) (int, error)
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

// Driver is the OS-level side of one adapter family.
type Driver interface {
	// Name identifies the driver in logs and in the exclusivity table.
	Name() string
	Enumerate() ([]swiftypes.AdapterIdentity, error)
	Open(id swiftypes.AdapterIdentity) (Port, error)
	Create(nameHint string) (swiftypes.AdapterIdentity, error)
	Delete(id swiftypes.AdapterIdentity) error
}

// Options tune a Handle.
type Options struct {
	// ReadTimeout and WriteTimeout bound each frame operation. Zero blocks
	// until the driver responds or the handle is closed.
	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	// FrameOverhead is added to the MTU to get the largest accepted frame.
	FrameOverhead int

	MinMTU uint32
	MaxMTU uint32

	Logger *slog.Logger
}

const (
	DefaultMinMTU = 576
	DefaultMaxMTU = 65535

	// Room for an Ethernet header with one VLAN tag on top of MaxMTU.
	ethernetHeaderRoom = 18
)

func (o Options) withDefaults() Options {
	if o.MinMTU == 0 {
		o.MinMTU = DefaultMinMTU
	}
	if o.MaxMTU == 0 {
		o.MaxMTU = DefaultMaxMTU
	}
	if o.Logger == nil {
		o.Logger = slog.New(slog.DiscardHandler)
	}
	return o
}

// List returns every adapter instance the driver knows about, in the
// driver's enumeration order.
func List(d Driver) ([]swiftypes.AdapterIdentity, error) {
	ids, err := d.Enumerate()
	if err != nil {
		return nil, swiftypes.NewError("enumerate", "", swiftypes.ErrEnumeration, err)
	}
	return ids, nil
}

// Lookup resolves a friendly name to an identity. An exact match wins
// over a case-insensitive one.
func Lookup(d Driver, name string) (swiftypes.AdapterIdentity, error) {
	ids, err := List(d)
	if err != nil {
		return swiftypes.AdapterIdentity{}, err
	}

	for _, id := range ids {
		if id.FriendlyName == name {
			return id, nil
		}
	}
	for _, id := range ids {
		if strings.EqualFold(id.FriendlyName, name) {
			return id, nil
		}
	}
	return swiftypes.AdapterIdentity{}, swiftypes.Errorf("lookup", name, swiftypes.ErrNotFound, "no adapter named %q", name)
}
