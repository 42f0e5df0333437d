package swiftypes

import (
	"errors"
	"fmt"
)

// Error kinds. Every failure surfaced by this module matches exactly one
// of these through errors.Is.
var (
	ErrEnumeration         = errors.New("device class enumeration failed")
	ErrNotFound            = errors.New("adapter not found")
	ErrAccessDenied        = errors.New("access denied")
	ErrBusy                = errors.New("adapter is busy")
	ErrProvisioning        = errors.New("adapter provisioning failed")
	ErrProtocol            = errors.New("driver protocol mismatch")
	ErrFrameTooLarge       = errors.New("frame exceeds adapter MTU")
	ErrClosedHandle        = errors.New("use of closed adapter handle")
	ErrTimeout             = errors.New("operation timed out")
	ErrConfigurationFailed = errors.New("adapter configuration failed")
	ErrNotImplemented      = errors.New("not implemented")
)

var kinds = []error{
	ErrEnumeration,
	ErrNotFound,
	ErrAccessDenied,
	ErrBusy,
	ErrProvisioning,
	ErrProtocol,
	ErrFrameTooLarge,
	ErrClosedHandle,
	ErrTimeout,
	ErrConfigurationFailed,
	ErrNotImplemented,
}

// OpError describes a failed operation on an adapter instance.
type OpError struct {
	Op       string
	Instance string
	Kind     error
	Err      error
}

func (e *OpError) Error() string {
	s := e.Op
	if e.Instance != "" {
		s += " " + e.Instance
	}
	s += ": " + e.Kind.Error()
	if e.Err != nil && e.Err != e.Kind {
		s += ": " + e.Err.Error()
	}
	return s
}

func (e *OpError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// NewError wraps cause into an OpError of the given kind. A cause that
// already carries a kind keeps it; the new kind is only a fallback.
func NewError(op, instance string, kind, cause error) error {
	var inner *OpError
	if errors.As(cause, &inner) {
		if instance == "" {
			instance = inner.Instance
		}
		return &OpError{Op: op, Instance: instance, Kind: inner.Kind, Err: inner.Err}
	}
	if k := KindOf(cause); k != nil {
		kind = k
	}
	return &OpError{Op: op, Instance: instance, Kind: kind, Err: cause}
}

// Errorf builds an OpError of the given kind from a formatted cause.
func Errorf(op, instance string, kind error, format string, args ...any) error {
	return &OpError{Op: op, Instance: instance, Kind: kind, Err: fmt.Errorf(format, args...)}
}

// KindOf returns the error kind carried by err, or nil if it has none.
func KindOf(err error) error {
	if err == nil {
		return nil
	}
	var op *OpError
	if errors.As(err, &op) {
		return op.Kind
	}
	for _, k := range kinds {
		if errors.Is(err, k) {
			return k
		}
	}
	return nil
}

// IsRetryable reports whether a caller may retry the failed operation.
// Only timeouts qualify.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrTimeout)
}
