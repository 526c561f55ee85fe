package session

import "errors"

// ErrSessionClosed reports use of a session whose connection is gone.
var ErrSessionClosed = errors.New("session closed")

// ErrStreamClosed reports a write on a stream that has been closed by either
// side. A new stream may be opened on the same session.
var ErrStreamClosed = errors.New("stream closed")

// AuthError means every signer and the public key fallback were exhausted
// without the device accepting us.
type AuthError struct {
	Hint string
}

func (e *AuthError) Error() string {
	if e.Hint == "" {
		return "device rejected authentication"
	}
	return "device rejected authentication: " + e.Hint
}

// StreamRejectedError means the device refused an OPEN, usually because the
// destination service does not exist or is busy.
type StreamRejectedError struct {
	Destination string
}

func (e *StreamRejectedError) Error() string {
	return "device rejected stream to " + e.Destination
}
