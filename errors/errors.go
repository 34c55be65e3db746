// Package errors provides the session error taxonomy: transport-level
// failures, command timeouts and retry exhaustion.
package errors

import (
	"errors"
	"fmt"
)

var (
	// ErrNotConnected is returned when a command is issued while the
	// transport is down.
	ErrNotConnected = errors.New("not connected")

	// ErrConnectionFailed is returned when the transport could not be
	// established.
	ErrConnectionFailed = errors.New("connection failed")

	// ErrSendFailed is returned when an outbound frame could not be
	// written to the transport.
	ErrSendFailed = errors.New("send failed")

	// ErrCommandTimeout is returned when a command's expected response
	// did not arrive within the configured timeout. Recoverable by
	// retrying the command.
	ErrCommandTimeout = errors.New("command timed out")

	// ErrWaitTimeout is returned when no event matched the predicate
	// within the wait timeout.
	ErrWaitTimeout = errors.New("wait timeout exceeded")

	// ErrRetryExhausted is returned when a message got no delivery
	// confirmation after all retry attempts. Expected outcome on a lossy
	// mesh, not a programming error.
	ErrRetryExhausted = errors.New("no acknowledgement after all attempts")

	// ErrAlreadyStarted is returned when Start is called on a session
	// that is already running.
	ErrAlreadyStarted = errors.New("session already started")

	// ErrClosed is returned when an operation is attempted on a closed
	// publisher or session.
	ErrClosed = errors.New("closed")
)

// TransportError wraps a transport failure with the operation that
// triggered it. Transport errors are fatal to the session and require a
// reconnect.
type TransportError struct {
	Op  string // "connect", "send", "disconnect", "receive"
	Err error
}

// Error implements the error interface.
func (e *TransportError) Error() string {
	return fmt.Sprintf("transport %s: %s", e.Op, e.Err.Error())
}

// Unwrap returns the underlying error.
func (e *TransportError) Unwrap() error {
	return e.Err
}

// NewTransportError wraps err with the failing transport operation.
func NewTransportError(op string, err error) *TransportError {
	return &TransportError{Op: op, Err: err}
}

// GetTransportError extracts a TransportError from an error chain, or
// returns nil.
func GetTransportError(err error) *TransportError {
	var tErr *TransportError
	if errors.As(err, &tErr) {
		return tErr
	}
	return nil
}

// IsTimeout reports whether err is a command or wait timeout.
func IsTimeout(err error) bool {
	return errors.Is(err, ErrCommandTimeout) || errors.Is(err, ErrWaitTimeout)
}
