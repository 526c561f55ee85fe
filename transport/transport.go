package transport

import (
	"errors"
	"io"
	"time"
)

// Transport is a reliable duplex byte channel to a single device, either a
// claimed USB interface or a TCP socket. Implementations are not safe for
// concurrent writers.
type Transport interface {
	io.ReadWriteCloser

	// SetTimeout bounds every subsequent Read and Write. Zero disables the
	// bound. An unbounded blocking device read is never acceptable, so
	// callers are expected to keep a timeout set during protocol exchanges.
	SetTimeout(d time.Duration)
}

// ErrClosed reports use of a transport after Close.
var ErrClosed = errors.New("transport closed")

// Error wraps a transport level I/O failure.
type Error struct {
	Op  string
	Err error
}

func (e *Error) Error() string {
	return "transport " + e.Op + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error {
	return e.Err
}
