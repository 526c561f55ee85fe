package protocol

// Reason classifies a protocol violation.
type Reason int

const (
	MalformedHeader Reason = iota
	ChecksumMismatch
	UnexpectedCommand
)

func (r Reason) String() string {
	switch r {
	case MalformedHeader:
		return "malformed header"
	case ChecksumMismatch:
		return "checksum mismatch"
	case UnexpectedCommand:
		return "unexpected command"
	}
	return "protocol violation"
}

// Error is a wire protocol violation. These are fatal to the connection:
// there is no way to resynchronize a corrupted frame stream, and silent
// retries could mask a real device incompatibility.
type Error struct {
	Reason Reason
	Detail string
}

func (e *Error) Error() string {
	if e.Detail == "" {
		return "protocol error: " + e.Reason.String()
	}
	return "protocol error: " + e.Reason.String() + ": " + e.Detail
}
