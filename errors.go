package comm

import (
	"github.com/pkg/errors"
)

// Error kinds. Returned errors match them with errors.Is.
var (
	// ErrBind is returned by Listener.Start when the address cannot be bound.
	ErrBind = errors.New("bind failed")
	// ErrConnect is returned by NewConnector when the dial fails.
	ErrConnect = errors.New("connect failed")
	// ErrShortRead is returned when a connection ends in the middle of a frame.
	ErrShortRead = errors.New("short read")
	// ErrWrite is returned when a frame cannot be written to the transport.
	ErrWrite = errors.New("write failed")

	// ErrMessageTooLarge is returned when a declared frame length exceeds the limit.
	ErrMessageTooLarge = errors.New("message too large")
	// ErrBodySize is returned when a fixed-size frame is sent with a body of the wrong length.
	ErrBodySize = errors.New("body size does not match frame size")
)

// ErrConnectionClosed is returned when operating on a closed connection.
var ErrConnectionClosed = errors.New("connection closed")

var (
	// ErrPoolStopped is returned by ThreadPool.Post after Stop.
	ErrPoolStopped = errors.New("thread pool stopped")
	// ErrInvalidWorkers is returned when a pool is created with fewer than one worker.
	ErrInvalidWorkers = errors.New("worker count must be positive")
	// ErrListenerStarted is returned by a second Listener.Start.
	ErrListenerStarted = errors.New("listener already started")
	// ErrListenerNotStarted is returned by Listener.Stop before Start.
	ErrListenerNotStarted = errors.New("listener not started")
	// ErrListenerClosed is returned by Listener.Start after Close.
	ErrListenerClosed = errors.New("listener closed")
)

// OpError describes a failed transport operation.
// Kind is one of the error kinds above; Err is the underlying cause.
type OpError struct {
	Op   string
	Addr string
	Kind error
	Err  error
}

func newOpError(op, addr string, kind, err error) *OpError {
	return &OpError{Op: op, Addr: addr, Kind: kind, Err: err}
}

// Error formats the operation, address, kind and cause.
func (e *OpError) Error() string {
	s := e.Op
	if e.Addr != "" {
		s += " " + e.Addr
	}
	s += ": " + e.Kind.Error()
	if e.Err != nil {
		s += ": " + e.Err.Error()
	}
	return s
}

// Is reports whether target is the kind of this error.
func (e *OpError) Is(target error) bool {
	return target == e.Kind
}

// Unwrap returns the underlying cause.
func (e *OpError) Unwrap() error {
	return e.Err
}

// Cause implements the causer interface of github.com/pkg/errors.
func (e *OpError) Cause() error {
	if e.Err == nil {
		return e.Kind
	}
	return e.Err
}
