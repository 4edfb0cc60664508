package shmstore

import (
	"errors"
	"fmt"
	"syscall"
)

// Error is the structured error type returned by NewServer,
// NewMetricsServer, and Serve when the event loop itself fails: an
// operation name, a high-level category, the kernel errno if one was
// involved, a message, and an optionally wrapped cause. Fatal
// conditions hit while serving requests are returned by Serve as
// *dispatch.FatalError instead.
type Error struct {
	Op    string    // operation that failed, e.g. "CREATE", "arena.Alloc"
	ID    string    // object identifier involved, hex-encoded ("" if not applicable)
	Code  ErrorCode // high-level error category
	Errno syscall.Errno
	Msg   string
	Inner error
}

func (e *Error) Error() string {
	var parts []string
	if e.Op != "" {
		parts = append(parts, fmt.Sprintf("op=%s", e.Op))
	}
	if e.ID != "" {
		parts = append(parts, fmt.Sprintf("id=%s", e.ID))
	}
	if e.Errno != 0 {
		parts = append(parts, fmt.Sprintf("errno=%d", e.Errno))
	}

	msg := e.Msg
	if msg == "" {
		msg = string(e.Code)
	}
	if len(parts) > 0 {
		return fmt.Sprintf("shmstore: %s (%s)", msg, parts[0])
	}
	return fmt.Sprintf("shmstore: %s", msg)
}

func (e *Error) Unwrap() error { return e.Inner }

func (e *Error) Is(target error) bool {
	if target == nil {
		return false
	}
	te, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Code == te.Code
}

// ErrorCode is a high-level error category. Codes line up with
// spec.md §7's error taxonomy: precondition violations are fatal to
// the server, transient I/O on notification sockets is locally
// recovered, and protocol errors are fatal.
type ErrorCode string

const (
	// ErrCodePrecondition marks a client-bug precondition violation:
	// duplicate CREATE, DELETE of an unsealed object, SUBSCRIBE after
	// objects already exist, or an unknown message type. Per spec.md
	// §7 these are fatal to the server process.
	ErrCodePrecondition ErrorCode = "precondition violation"

	// ErrCodeIO marks a failed syscall on the command path (a write
	// that should have fit in the socket buffer but didn't, a failed
	// mmap, a failed memfd_create). Also fatal on the command path,
	// per spec.md §7.
	ErrCodeIO ErrorCode = "I/O error"

	// ErrCodeAllocation marks an arena allocation failure (segment
	// creation failed, e.g. out of memory).
	ErrCodeAllocation ErrorCode = "allocation failure"

	// ErrCodeProtocol marks a malformed frame: short read, bad header,
	// length mismatch. Fatal to the offending connection.
	ErrCodeProtocol ErrorCode = "protocol error"
)

// NewError creates a structured error with no identifier or errno.
func NewError(op string, code ErrorCode, msg string) *Error {
	return &Error{Op: op, Code: code, Msg: msg}
}

// NewObjectError creates a structured error naming the object
// identifier it involves (hex-encoded, per types.ObjectID.String).
func NewObjectError(op, id string, code ErrorCode, msg string) *Error {
	return &Error{Op: op, ID: id, Code: code, Msg: msg}
}

// WrapError wraps inner with shmstore context, preserving its code and
// identifier if inner was already a *Error.
func WrapError(op string, inner error) *Error {
	if inner == nil {
		return nil
	}
	if se, ok := inner.(*Error); ok {
		return &Error{Op: op, ID: se.ID, Code: se.Code, Errno: se.Errno, Msg: se.Msg, Inner: se.Inner}
	}
	if errno, ok := inner.(syscall.Errno); ok {
		return &Error{Op: op, Code: ErrCodeIO, Errno: errno, Msg: errno.Error(), Inner: inner}
	}
	return &Error{Op: op, Code: ErrCodeIO, Msg: inner.Error(), Inner: inner}
}

// IsCode reports whether err is (or wraps) a *Error with the given code.
func IsCode(err error, code ErrorCode) bool {
	var se *Error
	if errors.As(err, &se) {
		return se.Code == code
	}
	return false
}
