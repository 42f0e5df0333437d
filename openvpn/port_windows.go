//go:build windows

package openvpn

import (
	"os"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sys/windows"

	"github.com/SyNdicateFoundation/swiftap/swiftypes"
	"github.com/SyNdicateFoundation/swiftap/tapctl"
)

// deadline is a resettable timeout for one direction. kick wakes a
// waiter so it can recompute its timeout after the deadline changes.
type deadline struct {
	at   atomic.Int64
	kick windows.Handle
}

func (d *deadline) set(t time.Time) {
	if t.IsZero() {
		d.at.Store(0)
	} else {
		d.at.Store(t.UnixNano())
	}
	windows.SetEvent(d.kick)
}

// timeout returns the wait in milliseconds, or expired when the deadline
// has passed.
func (d *deadline) timeout() (ms uint32, expired bool) {
	at := d.at.Load()
	if at == 0 {
		return windows.INFINITE, false
	}
	rem := time.Until(time.Unix(0, at))
	if rem <= 0 {
		return 0, true
	}
	return uint32((rem + time.Millisecond - 1) / time.Millisecond), false
}

// channel serializes one kind of overlapped operation. The OVERLAPPED
// lives in the heap-allocated port so its address is stable while the
// kernel owns it.
type channel struct {
	mu       sync.Mutex
	ov       windows.Overlapped
	deadline *deadline
}

// port is an open device path. Each operation is overlapped and waits on
// its completion event together with the close event.
type port struct {
	handle     windows.Handle
	closeEvent windows.Handle

	mu       sync.Mutex
	closed   bool
	inflight sync.WaitGroup

	read, write, control channel
	readDL, writeDL      deadline
}

func newPort(h windows.Handle) (*port, error) {
	p := &port{handle: h}

	var events []*windows.Handle
	events = append(events, &p.closeEvent, &p.readDL.kick, &p.writeDL.kick,
		&p.read.ov.HEvent, &p.write.ov.HEvent, &p.control.ov.HEvent)

	for i, ev := range events {
		// kick events auto-reset; the rest are manual-reset.
		manual := uint32(1)
		if ev == &p.readDL.kick || ev == &p.writeDL.kick {
			manual = 0
		}
		e, err := windows.CreateEvent(nil, manual, 0, nil)
		if err != nil {
			for _, prev := range events[:i] {
				windows.CloseHandle(*prev)
			}
			return nil, err
		}
		*ev = e
	}

	p.read.deadline = &p.readDL
	p.write.deadline = &p.writeDL
	return p, nil
}

func (p *port) begin() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return false
	}
	p.inflight.Add(1)
	return true
}

// do starts an overlapped operation and waits for completion, close, or
// the channel deadline.
func (p *port) do(c *channel, start func(ov *windows.Overlapped) error) (int, error) {
	if !p.begin() {
		return 0, os.ErrClosed
	}
	defer p.inflight.Done()

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.deadline != nil {
		if _, expired := c.deadline.timeout(); expired {
			return 0, os.ErrDeadlineExceeded
		}
	}

	windows.ResetEvent(c.ov.HEvent)
	if err := start(&c.ov); err != nil && err != windows.ERROR_IO_PENDING {
		return 0, err
	}

	handles := []windows.Handle{c.ov.HEvent, p.closeEvent}
	if c.deadline != nil {
		handles = append(handles, c.deadline.kick)
	}

	for {
		ms := uint32(windows.INFINITE)
		if c.deadline != nil {
			var expired bool
			if ms, expired = c.deadline.timeout(); expired {
				return p.cancel(c, os.ErrDeadlineExceeded)
			}
		}

		r, err := windows.WaitForMultipleObjects(handles, false, ms)
		switch r {
		case windows.WAIT_OBJECT_0:
			var n uint32
			if err := windows.GetOverlappedResult(p.handle, &c.ov, &n, false); err != nil {
				return int(n), err
			}
			return int(n), nil
		case windows.WAIT_OBJECT_0 + 1:
			return p.cancel(c, os.ErrClosed)
		case windows.WAIT_OBJECT_0 + 2:
			continue
		case uint32(windows.WAIT_TIMEOUT):
			return p.cancel(c, os.ErrDeadlineExceeded)
		default:
			return p.cancel(c, err)
		}
	}
}

// cancel aborts the pending operation and waits until the kernel releases
// the OVERLAPPED. An operation that completed anyway keeps its result.
func (p *port) cancel(c *channel, reason error) (int, error) {
	windows.CancelIoEx(p.handle, &c.ov)
	var n uint32
	if err := windows.GetOverlappedResult(p.handle, &c.ov, &n, true); err == nil {
		return int(n), nil
	}
	return 0, reason
}

func (p *port) Read(b []byte) (int, error) {
	if len(b) == 0 {
		return 0, nil
	}
	return p.do(&p.read, func(ov *windows.Overlapped) error {
		return windows.ReadFile(p.handle, b, nil, ov)
	})
}

func (p *port) Write(b []byte) (int, error) {
	if len(b) == 0 {
		return 0, nil
	}
	return p.do(&p.write, func(ov *windows.Overlapped) error {
		return windows.WriteFile(p.handle, b, nil, ov)
	})
}

func (p *port) Control(code tapctl.Code, in, out []byte) (int, error) {
	var inPtr, outPtr *byte
	if len(in) > 0 {
		inPtr = &in[0]
	}
	if len(out) > 0 {
		outPtr = &out[0]
	}

	n, err := p.do(&p.control, func(ov *windows.Overlapped) error {
		return windows.DeviceIoControl(p.handle, uint32(code), inPtr, uint32(len(in)), outPtr, uint32(len(out)), nil, ov)
	})
	if err != nil && err != os.ErrClosed {
		return n, mapErr("control "+code.String(), "", swiftypes.ErrProtocol, err)
	}
	return n, err
}

func (p *port) SetReadDeadline(t time.Time) error {
	if !p.begin() {
		return os.ErrClosed
	}
	defer p.inflight.Done()
	p.readDL.set(t)
	return nil
}

func (p *port) SetWriteDeadline(t time.Time) error {
	if !p.begin() {
		return os.ErrClosed
	}
	defer p.inflight.Done()
	p.writeDL.set(t)
	return nil
}

// Close wakes every waiter, cancels outstanding I/O, waits for in-flight
// operations to drain, and only then closes the handle.
func (p *port) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return os.ErrClosed
	}
	p.closed = true
	p.mu.Unlock()

	windows.SetEvent(p.closeEvent)
	windows.CancelIoEx(p.handle, nil)
	p.inflight.Wait()

	err := windows.CloseHandle(p.handle)
	for _, ev := range []windows.Handle{p.closeEvent, p.readDL.kick, p.writeDL.kick, p.read.ov.HEvent, p.write.ov.HEvent, p.control.ov.HEvent} {
		windows.CloseHandle(ev)
	}
	return err
}
