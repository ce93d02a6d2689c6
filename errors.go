package compute

import (
	"errors"
	"fmt"
)

// Error kinds. Every error returned by this package wraps exactly one of
// these sentinels, so callers classify with errors.Is:
//
//	if errors.Is(err, compute.ErrCompileFailed) { ... }
var (
	// ErrUnsupportedBackend means the requested backend name is not
	// registered.
	ErrUnsupportedBackend = errors.New("unsupported backend")

	// ErrBackendInitFailed means the backend was found but could not open
	// a device.
	ErrBackendInitFailed = errors.New("backend initialization failed")

	// ErrDeviceFailed means a device-level operation failed after
	// initialization.
	ErrDeviceFailed = errors.New("device operation failed")

	// ErrCompileFailed means kernel compilation or library loading failed.
	// The compiler log, when available, is carried by the *Error.
	ErrCompileFailed = errors.New("kernel compilation failed")

	// ErrInvalidArgument means the caller passed an argument that fails
	// validation before any device work is submitted.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrDispatchFailed means a dispatch was rejected at encode time or
	// failed during execution.
	ErrDispatchFailed = errors.New("dispatch failed")

	// ErrNotSupported means the device does not support the requested
	// capability-gated feature.
	ErrNotSupported = errors.New("not supported on this device")
)

// Error is the concrete error type returned by this package. It wraps one
// of the kind sentinels so errors.Is classification works, and carries the
// failing operation plus an optional compiler log.
type Error struct {
	kind error
	op   string
	msg  string
	log  string
}

func newError(kind error, op, format string, args ...any) *Error {
	return &Error{kind: kind, op: op, msg: fmt.Sprintf(format, args...)}
}

func newCompileError(op, msg, log string) *Error {
	return &Error{kind: ErrCompileFailed, op: op, msg: msg, log: log}
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.msg == "" {
		return fmt.Sprintf("compute: %s: %v", e.op, e.kind)
	}
	return fmt.Sprintf("compute: %s: %v: %s", e.op, e.kind, e.msg)
}

// Unwrap returns the error kind, making errors.Is work against the
// package sentinels.
func (e *Error) Unwrap() error { return e.kind }

// Op returns the operation that failed, e.g. "NewKernelFromSource".
func (e *Error) Op() string { return e.op }

// Log returns the compiler log for compilation failures, empty otherwise.
func (e *Error) Log() string { return e.log }
