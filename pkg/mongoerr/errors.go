// Package mongoerr defines the tagged error type shared by every layer of the
// server. Each failure carries a Kind so the request pipeline can render all
// of them through one envelope formatter instead of converting errors ad hoc
// per handler.
package mongoerr

import (
	"errors"
	"fmt"
)

// Kind classifies a failure by where it originated.
type Kind string

const (
	// KindValidation marks a rejected collection name, tool name or argument.
	KindValidation Kind = "validation"
	// KindConnection marks an unreachable store or a failed handshake.
	KindConnection Kind = "connection"
	// KindOperation marks a store call that failed on an established
	// connection.
	KindOperation Kind = "operation"
	// KindProtocol marks a malformed inbound request.
	KindProtocol Kind = "protocol"
)

// Error is the concrete error returned by validation, connection management,
// and store operations.
type Error struct {
	Kind Kind
	// Op names the step that failed, for example "find" or "connect".
	Op  string
	Err error
}

func (e *Error) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("%s error: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("%s error: %s: %v", e.Kind, e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error of the same Kind, so errors.Is(err, ErrValidation)
// works regardless of the wrapped cause.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Err == nil && t.Op == "" && t.Kind == e.Kind
}

// Sentinels for errors.Is comparisons.
var (
	ErrValidation = &Error{Kind: KindValidation}
	ErrConnection = &Error{Kind: KindConnection}
	ErrOperation  = &Error{Kind: KindOperation}
	ErrProtocol   = &Error{Kind: KindProtocol}
)

// Validation builds a validation error.
func Validation(op string, format string, args ...any) error {
	return &Error{Kind: KindValidation, Op: op, Err: fmt.Errorf(format, args...)}
}

// Protocol builds a protocol error.
func Protocol(op string, format string, args ...any) error {
	return &Error{Kind: KindProtocol, Op: op, Err: fmt.Errorf(format, args...)}
}

// Connection wraps err as a connection error. A nil err yields nil.
func Connection(op string, err error) error {
	return wrap(KindConnection, op, err)
}

// Operation wraps err as an operation error. A nil err yields nil.
func Operation(op string, err error) error {
	return wrap(KindOperation, op, err)
}

func wrap(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	var existing *Error
	if errors.As(err, &existing) {
		return err
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf reports the Kind of err. Errors that were never tagged, including
// context cancellations surfacing from the driver, are treated as operation
// failures.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindOperation
}

// Message returns the human-readable text shown to protocol clients.
func Message(err error) string {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) && e.Err != nil {
		return e.Err.Error()
	}
	return err.Error()
}
