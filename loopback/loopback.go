// Package loopback is an in-memory adapter family. It answers the full
// control-code set and moves frames between instances without touching
// the host network stack, so handles and facades can be exercised without
// privileges.
package loopback

import (
	"fmt"
	"log/slog"
	"net"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/SyNdicateFoundation/swiftap/device"
	"github.com/SyNdicateFoundation/swiftap/swiftypes"
	"github.com/SyNdicateFoundation/swiftap/tapctl"
)

const (
	DefaultMTU = 1500

	// QueueLen is the number of frames an instance buffers in each direction.
	QueueLen = 64
)

// DefaultVersion is reported for GET_VERSION.
var DefaultVersion = swiftypes.DriverVersion{Major: 9, Minor: 27}

// Driver holds a set of loopback instances.
type Driver struct {
	mu        sync.Mutex
	instances map[string]*Instance
	order     []string
	log       *slog.Logger
}

// New returns an empty loopback driver. A nil logger discards output.
func New(log *slog.Logger) *Driver {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &Driver{
		instances: make(map[string]*Instance),
		log:       log.With("driver", "loopback"),
	}
}

func (d *Driver) Name() string { return "loopback" }

func (d *Driver) Enumerate() ([]swiftypes.AdapterIdentity, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	ids := make([]swiftypes.AdapterIdentity, 0, len(d.order))
	for _, id := range d.order {
		ids = append(ids, d.instances[id].id)
	}
	return ids, nil
}

// Create adds an instance. An empty hint gets a generated name.
func (d *Driver) Create(nameHint string) (swiftypes.AdapterIdentity, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	name := nameHint
	if name == "" {
		name = fmt.Sprintf("Loopback %d", len(d.order)+1)
	}
	for _, inst := range d.instances {
		if inst.id.FriendlyName == name {
			return swiftypes.AdapterIdentity{}, swiftypes.Errorf("create", name, swiftypes.ErrProvisioning, "name %q is taken", name)
		}
	}

	inst := newInstance(swiftypes.AdapterIdentity{
		InstanceID:   "{" + uuid.NewString() + "}",
		FriendlyName: name,
	})
	d.instances[inst.id.InstanceID] = inst
	d.order = append(d.order, inst.id.InstanceID)

	d.log.Debug("instance created", "instance", inst.id.InstanceID, "name", name)
	return inst.id, nil
}

// Open attaches a port to an instance. Only one port may be attached at a
// time.
func (d *Driver) Open(id swiftypes.AdapterIdentity) (device.Port, error) {
	inst, err := d.lookup(id)
	if err != nil {
		return nil, err
	}

	inst.mu.Lock()
	defer inst.mu.Unlock()
	if inst.attached {
		return nil, swiftypes.Errorf("open", id.InstanceID, swiftypes.ErrAccessDenied, "instance is attached")
	}
	inst.attached = true

	return &port{
		inst:          inst,
		closed:        make(chan struct{}),
		readDeadline:  makeDeadline(),
		writeDeadline: makeDeadline(),
	}, nil
}

func (d *Driver) Delete(id swiftypes.AdapterIdentity) error {
	inst, err := d.lookup(id)
	if err != nil {
		return err
	}

	inst.mu.Lock()
	attached := inst.attached
	inst.mu.Unlock()
	if attached {
		return swiftypes.Errorf("delete", id.InstanceID, swiftypes.ErrBusy, "instance is attached")
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.instances, id.InstanceID)
	for i, v := range d.order {
		if v == id.InstanceID {
			d.order = append(d.order[:i], d.order[i+1:]...)
			break
		}
	}

	d.log.Debug("instance deleted", "instance", id.InstanceID)
	return nil
}

// Instance returns the instance with the given friendly name, or nil.
func (d *Driver) Instance(name string) *Instance {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, inst := range d.instances {
		if inst.id.FriendlyName == name {
			return inst
		}
	}
	return nil
}

func (d *Driver) lookup(id swiftypes.AdapterIdentity) (*Instance, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	inst, ok := d.instances[id.InstanceID]
	if !ok {
		return nil, swiftypes.Errorf("lookup", id.InstanceID, swiftypes.ErrNotFound, "no such instance")
	}
	return inst, nil
}

// Instance is the driver-side state of one adapter.
type Instance struct {
	id swiftypes.AdapterIdentity

	// rx holds frames waiting to be read; tx holds frames written while
	// neither echo nor a peer is set.
	rx chan []byte
	tx chan []byte

	mu         sync.Mutex
	attached   bool
	mtu        uint32
	mac        net.HardwareAddr
	version    swiftypes.DriverVersion
	mediaUp    bool
	echo       bool
	peer       *Instance
	config     map[tapctl.Code][]byte
	controlErr map[tapctl.Code]error
}

func newInstance(id swiftypes.AdapterIdentity) *Instance {
	u := uuid.New()
	// Locally administered unicast address derived from the instance UUID.
	mac := net.HardwareAddr{0x02, u[0], u[1], u[2], u[3], u[4]}

	return &Instance{
		id:         id,
		rx:         make(chan []byte, QueueLen),
		tx:         make(chan []byte, QueueLen),
		mtu:        DefaultMTU,
		mac:        mac,
		version:    DefaultVersion,
		config:     make(map[tapctl.Code][]byte),
		controlErr: make(map[tapctl.Code]error),
	}
}

func (i *Instance) Identity() swiftypes.AdapterIdentity { return i.id }

func (i *Instance) SetMTU(mtu uint32) {
	i.mu.Lock()
	i.mtu = mtu
	i.mu.Unlock()
}

// SetEcho makes every written frame readable again on the same instance.
func (i *Instance) SetEcho(on bool) {
	i.mu.Lock()
	i.echo = on
	i.mu.Unlock()
}

// SetControlError makes every exchange of code fail with err.
func (i *Instance) SetControlError(code tapctl.Code, err error) {
	i.mu.Lock()
	defer i.mu.Unlock()
	if err == nil {
		delete(i.controlErr, code)
		return
	}
	i.controlErr[code] = err
}

func (i *Instance) MAC() net.HardwareAddr {
	i.mu.Lock()
	defer i.mu.Unlock()
	return append(net.HardwareAddr(nil), i.mac...)
}

// MediaUp reports the last SET_MEDIA_STATUS value.
func (i *Instance) MediaUp() bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.mediaUp
}

// LastConfig returns the input of the last accepted exchange for a
// configuration code, or nil.
func (i *Instance) LastConfig(code tapctl.Code) []byte {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.config[code]
}

// Inject queues a frame as if the host stack had sent it to the adapter.
// It reports false when the queue is full.
func (i *Instance) Inject(frame []byte) bool {
	select {
	case i.rx <- append([]byte(nil), frame...):
		return true
	default:
		return false
	}
}

// Sent returns frames written while neither echo nor a peer is set.
func (i *Instance) Sent() <-chan []byte {
	return i.tx
}

// Pair connects a and b so that frames written to one are read from the
// other.
func Pair(a, b *Instance) {
	a.mu.Lock()
	a.peer = b
	a.mu.Unlock()

	b.mu.Lock()
	b.peer = a
	b.mu.Unlock()
}

func (i *Instance) route() chan []byte {
	i.mu.Lock()
	defer i.mu.Unlock()
	switch {
	case i.echo:
		return i.rx
	case i.peer != nil:
		return i.peer.rx
	default:
		return i.tx
	}
}

func (i *Instance) control(code tapctl.Code, in, out []byte) (int, error) {
	l, ok := tapctl.LayoutOf(code)
	if !ok {
		return 0, fmt.Errorf("%w: unsupported control code %s", swiftypes.ErrProtocol, code)
	}
	if len(in) < l.In || len(out) < l.Out {
		return 0, fmt.Errorf("%w: %s: buffer too small", swiftypes.ErrProtocol, code)
	}

	i.mu.Lock()
	defer i.mu.Unlock()

	if err := i.controlErr[code]; err != nil {
		return 0, err
	}

	switch code {
	case tapctl.CodeGetMAC:
		return tapctl.PutMAC(out, i.mac), nil
	case tapctl.CodeGetVersion:
		return tapctl.PutVersion(out, i.version), nil
	case tapctl.CodeGetMTU:
		return tapctl.PutMTU(out, i.mtu), nil
	case tapctl.CodeSetMediaStatus:
		i.mediaUp = tapctl.MediaStatus(in)
	default:
		i.config[code] = append([]byte(nil), in[:l.In]...)
	}
	return 0, nil
}

type port struct {
	inst *Instance

	closeOnce sync.Once
	closed    chan struct{}

	readDeadline  pipeDeadline
	writeDeadline pipeDeadline
}

func (p *port) Read(b []byte) (int, error) {
	select {
	case <-p.closed:
		return 0, os.ErrClosed
	case <-p.readDeadline.wait():
		return 0, os.ErrDeadlineExceeded
	default:
	}

	select {
	case f := <-p.inst.rx:
		return copy(b, f), nil
	case <-p.closed:
		return 0, os.ErrClosed
	case <-p.readDeadline.wait():
		return 0, os.ErrDeadlineExceeded
	}
}

func (p *port) Write(b []byte) (int, error) {
	select {
	case <-p.closed:
		return 0, os.ErrClosed
	case <-p.writeDeadline.wait():
		return 0, os.ErrDeadlineExceeded
	default:
	}

	frame := append([]byte(nil), b...)
	select {
	case p.inst.route() <- frame:
		return len(b), nil
	case <-p.closed:
		return 0, os.ErrClosed
	case <-p.writeDeadline.wait():
		return 0, os.ErrDeadlineExceeded
	}
}

func (p *port) Control(code tapctl.Code, in, out []byte) (int, error) {
	select {
	case <-p.closed:
		return 0, os.ErrClosed
	default:
	}
	return p.inst.control(code, in, out)
}

func (p *port) SetReadDeadline(t time.Time) error {
	select {
	case <-p.closed:
		return os.ErrClosed
	default:
	}
	p.readDeadline.set(t)
	return nil
}

func (p *port) SetWriteDeadline(t time.Time) error {
	select {
	case <-p.closed:
		return os.ErrClosed
	default:
	}
	p.writeDeadline.set(t)
	return nil
}

func (p *port) Close() error {
	err := os.ErrClosed
	p.closeOnce.Do(func() {
		close(p.closed)
		p.inst.mu.Lock()
		p.inst.attached = false
		p.inst.mu.Unlock()
		err = nil
	})
	return err
}
