package netfront

import (
	"errors"
	"fmt"

	"github.com/jcorbin/go-netfront/internal/transport"
)

// Kind is the error kind exposed to callers of the public API.
type Kind string

const (
	// KindUnknown covers any unanticipated failure; Msg carries detail.
	KindUnknown Kind = "unknown"
	// KindUnimplemented marks an operation recognized but unsupported
	// in the current build.
	KindUnimplemented Kind = "unimplemented"
	// KindDisconnected marks a device previously connected that has
	// since been removed from the registry.
	KindDisconnected Kind = "disconnected"
)

// Error is the structured error type returned by every public
// operation.
type Error struct {
	Op       string // operation that failed, e.g. "connect", "write"
	DeviceID int    // VIF id, -1 if not applicable
	Kind     Kind
	Msg      string
	Inner    error
}

func (e *Error) Error() string {
	msg := e.Msg
	if msg == "" {
		msg = string(e.Kind)
	}
	if e.DeviceID >= 0 {
		return fmt.Sprintf("netfront: %s: dev=%d: %s", e.Op, e.DeviceID, msg)
	}
	return fmt.Sprintf("netfront: %s: %s", e.Op, msg)
}

func (e *Error) Unwrap() error { return e.Inner }

// Is supports errors.Is comparison against another *Error by Kind.
func (e *Error) Is(target error) bool {
	te, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == te.Kind
}

// Unknown builds an Op-scoped Unknown error, unassociated with a
// specific device.
func Unknown(op, msg string) *Error {
	return &Error{Op: op, DeviceID: -1, Kind: KindUnknown, Msg: msg}
}

// Unknownf is Unknown with fmt.Sprintf-style formatting.
func Unknownf(op, format string, args ...any) *Error {
	return Unknown(op, fmt.Sprintf(format, args...))
}

// DeviceUnknown builds an Unknown error scoped to a device id.
func DeviceUnknown(op string, deviceID int, msg string) *Error {
	return &Error{Op: op, DeviceID: deviceID, Kind: KindUnknown, Msg: msg}
}

// Disconnected builds a Disconnected error for a device id.
func Disconnected(op string, deviceID int) *Error {
	return &Error{Op: op, DeviceID: deviceID, Kind: KindDisconnected, Msg: "device disconnected"}
}

// Unimplemented builds an Unimplemented error.
func Unimplemented(op string) *Error {
	return &Error{Op: op, DeviceID: -1, Kind: KindUnimplemented, Msg: "not implemented"}
}

// Wrap attaches op context to an existing error. A *Error is
// re-tagged with the new Op while preserving its Kind and Inner; any
// other error is wrapped as KindUnknown.
func Wrap(op string, err error) *Error {
	if err == nil {
		return nil
	}
	var fe *Error
	if errors.As(err, &fe) {
		return &Error{Op: op, DeviceID: fe.DeviceID, Kind: fe.Kind, Msg: fe.Msg, Inner: fe.Inner}
	}
	return &Error{Op: op, DeviceID: -1, Kind: KindUnknown, Msg: err.Error(), Inner: err}
}

// ErrShutdown is the internal ring-shutdown signal: it resolves every
// awaiter pending on a ring when that ring's Transport is swapped out
// by resume. It is not one of the three public Kinds; callers observe
// it only transiently, inside the single retry write() performs before
// surfacing failure.
var ErrShutdown = transport.ErrShutdown

// IsDisconnected reports whether err is (or wraps) a KindDisconnected
// Error.
func IsDisconnected(err error) bool {
	var fe *Error
	return errors.As(err, &fe) && fe.Kind == KindDisconnected
}

// IsShutdown reports whether err is (or wraps) ErrShutdown.
func IsShutdown(err error) bool {
	return errors.Is(err, ErrShutdown)
}
