package device

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/SyNdicateFoundation/swiftap/swiftypes"
	"github.com/SyNdicateFoundation/swiftap/tapctl"
)

// aLongTimeAgo is a deadline in the past, used to interrupt a blocked read.
var aLongTimeAgo = time.Unix(1, 0)

// held is the in-process exclusivity table. The OS enforces exclusivity
// across processes; this catches a second open in the same process before
// it reaches the driver.
var held = struct {
	sync.Mutex
	m map[string]struct{}
}{m: make(map[string]struct{})}

func acquire(key string) bool {
	held.Lock()
	defer held.Unlock()
	if _, ok := held.m[key]; ok {
		return false
	}
	held.m[key] = struct{}{}
	return true
}

func release(key string) {
	held.Lock()
	delete(held.m, key)
	held.Unlock()
}

func heldKey(d Driver, id swiftypes.AdapterIdentity) string {
	return d.Name() + "/" + id.InstanceID
}

// Handle is the exclusive owner of one open adapter instance. A Handle
// must not be copied; pass the pointer. Close releases the native handle
// and every later call fails with swiftypes.ErrClosedHandle.
type Handle struct {
	idMu sync.RWMutex
	id   swiftypes.AdapterIdentity
	key  string
	port Port
	opts Options
	log  *slog.Logger

	closed atomic.Bool

	readMu  sync.Mutex
	readBuf []byte
}

// Open attaches to an existing adapter instance.
func Open(d Driver, id swiftypes.AdapterIdentity, opts Options) (*Handle, error) {
	opts = opts.withDefaults()
	key := heldKey(d, id)

	if !acquire(key) {
		return nil, swiftypes.Errorf("open", id.InstanceID, swiftypes.ErrAccessDenied, "adapter is already open in this process")
	}

	port, err := d.Open(id)
	if err != nil {
		release(key)
		return nil, swiftypes.NewError("open", id.InstanceID, swiftypes.ErrAccessDenied, err)
	}

	h := &Handle{
		id:      id,
		key:     key,
		port:    port,
		opts:    opts,
		log:     opts.Logger.With("driver", d.Name(), "instance", id.InstanceID, "name", id.FriendlyName),
		readBuf: make([]byte, int(opts.MaxMTU)+opts.FrameOverhead+ethernetHeaderRoom),
	}
	h.log.Debug("adapter opened")
	return h, nil
}

// Create provisions a new adapter instance and opens it. If the new
// instance cannot be opened it is deleted again.
func Create(d Driver, nameHint string, opts Options) (*Handle, swiftypes.AdapterIdentity, error) {
	opts = opts.withDefaults()

	id, err := d.Create(nameHint)
	if err != nil {
		return nil, swiftypes.AdapterIdentity{}, swiftypes.NewError("create", nameHint, swiftypes.ErrProvisioning, err)
	}

	h, err := Open(d, id, opts)
	if err != nil {
		if derr := d.Delete(id); derr != nil {
			opts.Logger.Warn("failed to remove adapter after open failure", "instance", id.InstanceID, "error", derr)
		}
		return nil, swiftypes.AdapterIdentity{}, swiftypes.Errorf("create", id.InstanceID, swiftypes.ErrProvisioning, "open new adapter: %w", err)
	}

	opts.Logger.Info("adapter created", "driver", d.Name(), "instance", id.InstanceID, "name", id.FriendlyName)
	return h, id, nil
}

// Delete removes an adapter instance. It fails with swiftypes.ErrBusy while
// the instance is open.
func Delete(d Driver, id swiftypes.AdapterIdentity) error {
	key := heldKey(d, id)
	if !acquire(key) {
		return swiftypes.Errorf("delete", id.InstanceID, swiftypes.ErrBusy, "adapter is open in this process")
	}
	defer release(key)

	if err := d.Delete(id); err != nil {
		return swiftypes.NewError("delete", id.InstanceID, swiftypes.ErrProvisioning, err)
	}
	return nil
}

// Identity returns the instance this handle is attached to.
func (h *Handle) Identity() swiftypes.AdapterIdentity {
	h.idMu.RLock()
	defer h.idMu.RUnlock()
	return h.id
}

// SetFriendlyName records a new friendly name after the adapter was
// renamed. The instance ID does not change.
func (h *Handle) SetFriendlyName(name string) {
	h.idMu.Lock()
	h.id.FriendlyName = name
	h.idMu.Unlock()
}

// Closed reports whether Close has been called.
func (h *Handle) Closed() bool {
	return h.closed.Load()
}

// Close releases the native handle. It unblocks a pending read on another
// goroutine. Calling Close more than once is a no-op.
func (h *Handle) Close() error {
	if h.closed.Swap(true) {
		return nil
	}

	err := h.port.Close()
	release(h.key)

	if err != nil && !errors.Is(err, os.ErrClosed) {
		return swiftypes.NewError("close", h.id.InstanceID, swiftypes.ErrProtocol, err)
	}
	h.log.Debug("adapter closed")
	return nil
}

// Control issues one control exchange. It makes Handle a tapctl.Controller.
func (h *Handle) Control(code tapctl.Code, in, out []byte) (int, error) {
	if h.closed.Load() {
		return 0, h.closedError("control")
	}
	n, err := h.port.Control(code, in, out)
	if err != nil {
		return 0, h.classify("control "+code.String(), err)
	}
	return n, nil
}

// GetMTU queries the adapter MTU.
func (h *Handle) GetMTU() (uint32, error) {
	mtu, err := tapctl.GetMTU(h)
	if err != nil {
		return 0, swiftypes.NewError("get mtu", h.id.InstanceID, swiftypes.ErrProtocol, err)
	}
	if mtu < h.opts.MinMTU || mtu > h.opts.MaxMTU {
		return 0, swiftypes.Errorf("get mtu", h.id.InstanceID, swiftypes.ErrProtocol, "driver reported MTU %d outside [%d, %d]", mtu, h.opts.MinMTU, h.opts.MaxMTU)
	}
	return mtu, nil
}

// GetVersion queries the driver version.
func (h *Handle) GetVersion() (swiftypes.DriverVersion, error) {
	v, err := tapctl.GetVersion(h)
	if err != nil {
		return swiftypes.DriverVersion{}, swiftypes.NewError("get version", h.id.InstanceID, swiftypes.ErrProtocol, err)
	}
	return v, nil
}

// GetMAC queries the adapter hardware address.
func (h *Handle) GetMAC() (net.HardwareAddr, error) {
	mac, err := tapctl.GetMAC(h)
	if err != nil {
		return nil, swiftypes.NewError("get mac", h.id.InstanceID, swiftypes.ErrProtocol, err)
	}
	return mac, nil
}

// Metadata fetches MTU, version and MAC in one snapshot.
func (h *Handle) Metadata() (swiftypes.DriverMetadata, error) {
	var (
		md  swiftypes.DriverMetadata
		err error
	)
	if md.MTU, err = h.GetMTU(); err != nil {
		return swiftypes.DriverMetadata{}, err
	}
	if md.Version, err = h.GetVersion(); err != nil {
		return swiftypes.DriverMetadata{}, err
	}
	if md.MAC, err = h.GetMAC(); err != nil {
		return swiftypes.DriverMetadata{}, err
	}
	return md, nil
}

// SetMediaStatus reports the adapter as connected or disconnected.
func (h *Handle) SetMediaStatus(status swiftypes.InterfaceStatus) error {
	if err := tapctl.SetMediaStatus(h, status == swiftypes.InterfaceUp); err != nil {
		return swiftypes.NewError("set media status", h.id.InstanceID, swiftypes.ErrProtocol, err)
	}
	h.log.Debug("media status changed", "status", status)
	return nil
}

// ReadFrame blocks until the driver delivers one frame.
func (h *Handle) ReadFrame() (swiftypes.Frame, error) {
	return h.ReadFrameContext(context.Background())
}

// ReadFrameContext is ReadFrame with cancellation. A cancelled or expired
// context fails the read with swiftypes.ErrTimeout wrapping ctx.Err().
func (h *Handle) ReadFrameContext(ctx context.Context) (swiftypes.Frame, error) {
	h.readMu.Lock()
	defer h.readMu.Unlock()

	n, err := h.read(ctx, h.readBuf)
	if err != nil {
		return nil, err
	}
	frame := make(swiftypes.Frame, n)
	copy(frame, h.readBuf[:n])
	return frame, nil
}

// Read reads one frame into p. A frame longer than p is truncated by the
// driver.
func (h *Handle) Read(p []byte) (int, error) {
	h.readMu.Lock()
	defer h.readMu.Unlock()
	return h.read(context.Background(), p)
}

func (h *Handle) read(ctx context.Context, p []byte) (int, error) {
	if h.closed.Load() {
		return 0, h.closedError("read")
	}
	if err := ctx.Err(); err != nil {
		return 0, swiftypes.NewError("read", h.id.InstanceID, swiftypes.ErrTimeout, err)
	}

	if err := h.port.SetReadDeadline(deadline(ctx, h.opts.ReadTimeout)); err != nil {
		return 0, h.classify("read", err)
	}
	defer interruptOn(ctx, h.port.SetReadDeadline)()

	n, err := h.port.Read(p)
	if err != nil {
		if ctx.Err() != nil && !h.closed.Load() {
			return 0, swiftypes.NewError("read", h.id.InstanceID, swiftypes.ErrTimeout, ctx.Err())
		}
		return 0, h.classify("read", err)
	}
	if n == 0 {
		return 0, swiftypes.Errorf("read", h.id.InstanceID, swiftypes.ErrProtocol, "driver returned an empty frame")
	}
	return n, nil
}

// WriteFrame submits one frame. Frames larger than the adapter MTU fail
// with swiftypes.ErrFrameTooLarge and nothing is written.
func (h *Handle) WriteFrame(frame swiftypes.Frame) error {
	return h.WriteFrameContext(context.Background(), frame)
}

// WriteFrameContext is WriteFrame with cancellation.
func (h *Handle) WriteFrameContext(ctx context.Context, frame swiftypes.Frame) error {
	if h.closed.Load() {
		return h.closedError("write")
	}
	if len(frame) == 0 {
		return swiftypes.Errorf("write", h.id.InstanceID, swiftypes.ErrProtocol, "empty frame")
	}
	if err := ctx.Err(); err != nil {
		return swiftypes.NewError("write", h.id.InstanceID, swiftypes.ErrTimeout, err)
	}

	mtu, err := h.GetMTU()
	if err != nil {
		return err
	}
	if limit := int(mtu) + h.opts.FrameOverhead; len(frame) > limit {
		return swiftypes.Errorf("write", h.id.InstanceID, swiftypes.ErrFrameTooLarge, "frame of %d bytes exceeds limit of %d", len(frame), limit)
	}

	if err := h.port.SetWriteDeadline(deadline(ctx, h.opts.WriteTimeout)); err != nil {
		return h.classify("write", err)
	}
	defer interruptOn(ctx, h.port.SetWriteDeadline)()

	n, err := h.port.Write(frame)
	if err != nil {
		if ctx.Err() != nil && !h.closed.Load() {
			return swiftypes.NewError("write", h.id.InstanceID, swiftypes.ErrTimeout, ctx.Err())
		}
		return h.classify("write", err)
	}
	if n != len(frame) {
		return swiftypes.Errorf("write", h.id.InstanceID, swiftypes.ErrProtocol, "driver accepted %d of %d bytes", n, len(frame))
	}
	return nil
}

// Write writes p as one frame.
func (h *Handle) Write(p []byte) (int, error) {
	if err := h.WriteFrame(p); err != nil {
		return 0, err
	}
	return len(p), nil
}

func (h *Handle) closedError(op string) error {
	return swiftypes.NewError(op, h.id.InstanceID, swiftypes.ErrClosedHandle, nil)
}

// classify maps a port error onto the error taxonomy. Errors that already
// carry a kind keep it.
func (h *Handle) classify(op string, err error) error {
	switch {
	case h.closed.Load(), errors.Is(err, os.ErrClosed), errors.Is(err, net.ErrClosed):
		return h.closedError(op)
	case errors.Is(err, os.ErrDeadlineExceeded):
		return swiftypes.NewError(op, h.id.InstanceID, swiftypes.ErrTimeout, err)
	default:
		return swiftypes.NewError(op, h.id.InstanceID, swiftypes.ErrProtocol, err)
	}
}

// interruptOn arranges for set to receive a past deadline once ctx is
// done. The returned func must be called when the operation ends; it does
// not return while the callback is still running, so a later call cannot
// have its fresh deadline overwritten.
func interruptOn(ctx context.Context, set func(time.Time) error) func() {
	if ctx.Done() == nil {
		return func() {}
	}
	done := make(chan struct{})
	stop := context.AfterFunc(ctx, func() {
		defer close(done)
		_ = set(aLongTimeAgo)
	})
	return func() {
		if !stop() {
			<-done
		}
	}
}

// deadline combines a per-operation timeout with the context deadline.
func deadline(ctx context.Context, timeout time.Duration) time.Time {
	var d time.Time
	if timeout > 0 {
		d = time.Now().Add(timeout)
	}
	if cd, ok := ctx.Deadline(); ok && (d.IsZero() || cd.Before(d)) {
		d = cd
	}
	return d
}
