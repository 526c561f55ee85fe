package session

import (
	"io"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"go_adb_bridge/protocol"
	"go_adb_bridge/transport"
)

// Session is one authenticated connection to a device. It owns the transport
// and the stream table; a dispatcher goroutine routes inbound frames to
// streams so one slow consumer never blocks the others. There is no ambient
// registry: every Session is an explicit value owned by its caller.
type Session struct {
	tr transport.Transport

	device     Banner
	version    uint32
	maxPayload uint32
	features   map[string]bool

	// writeMu serializes frames onto the single transport.
	writeMu sync.Mutex

	mu      sync.Mutex
	streams map[uint32]*Stream
	nextID  uint32

	timeout time.Duration

	done     chan struct{}
	doneOnce sync.Once
	errMu    sync.Mutex
	err      error
}

// DeviceBanner returns the banner the device sent in its CNXN.
func (s *Session) DeviceBanner() Banner {
	return s.device
}

// MaxPayload is the negotiated per-message payload ceiling.
func (s *Session) MaxPayload() uint32 {
	return s.maxPayload
}

// HasFeature reports whether both ends advertised the feature.
func (s *Session) HasFeature(name string) bool {
	return s.features[name]
}

// Close tears the connection down and fails every pending stream operation
// with ErrSessionClosed.
func (s *Session) Close() error {
	s.fail(ErrSessionClosed)
	return nil
}

func (s *Session) send(msg *protocol.Message) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	log.WithFields(log.Fields{
		"cmd":  protocol.CommandString(msg.Command),
		"arg0": msg.Arg0,
		"arg1": msg.Arg1,
		"len":  msg.Length,
	}).Debug("send")

	if _, err := s.tr.Write(protocol.EncodeMessage(msg)); err != nil {
		return err
	}
	return nil
}

// readMessage reads one complete frame off the transport. Checksum or
// framing violations here are fatal to the connection.
func (s *Session) readMessage() (*protocol.Message, error) {
	raw := make([]byte, protocol.HeaderLength)
	if _, err := io.ReadFull(s.tr, raw); err != nil {
		return nil, err
	}
	header, err := protocol.DecodeHeader(raw)
	if err != nil {
		return nil, err
	}

	var payload []byte
	if header.Length > 0 {
		payload = make([]byte, header.Length)
		if _, err := io.ReadFull(s.tr, payload); err != nil {
			return nil, err
		}
	}
	// An empty payload must still claim checksum 0.
	if !protocol.VerifyChecksum(payload, header.Checksum) {
		return nil, &protocol.Error{
			Reason: protocol.ChecksumMismatch,
			Detail: protocol.CommandString(header.Command) + " payload",
		}
	}

	log.WithFields(log.Fields{
		"cmd":  protocol.CommandString(header.Command),
		"arg0": header.Arg0,
		"arg1": header.Arg1,
		"len":  header.Length,
	}).Debug("recv")

	return &protocol.Message{Header: *header, Payload: payload}, nil
}

// dispatch demultiplexes inbound frames by local stream id until the
// connection dies. It never blocks on a stream consumer.
func (s *Session) dispatch() {
	for {
		msg, err := s.readMessage()
		if err != nil {
			s.fail(err)
			return
		}

		switch msg.Command {
		case protocol.OKAY:
			if st := s.lookup(msg.Arg1); st != nil {
				st.onOkay(msg.Arg0)
			}
		case protocol.WRTE:
			if st := s.lookup(msg.Arg1); st != nil {
				st.onData(msg.Payload)
			} else {
				log.WithField("localId", msg.Arg1).Debug("WRTE for unknown stream dropped")
			}
		case protocol.CLSE:
			// CLSE for an id we no longer track is the doubled-close some
			// devices send; ignore it.
			if st := s.lookup(msg.Arg1); st != nil {
				st.onRemoteClose()
			}
		default:
			s.fail(&protocol.Error{
				Reason: protocol.UnexpectedCommand,
				Detail: protocol.CommandString(msg.Command) + " on established connection",
			})
			return
		}
	}
}

func (s *Session) lookup(localID uint32) *Stream {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.streams[localID]
}

func (s *Session) drop(localID uint32) {
	s.mu.Lock()
	delete(s.streams, localID)
	s.mu.Unlock()
}

// fail records the first fatal error, closes the transport and wakes every
// blocked stream operation.
func (s *Session) fail(err error) {
	s.errMu.Lock()
	if s.err == nil {
		s.err = err
	}
	s.errMu.Unlock()

	s.doneOnce.Do(func() {
		close(s.done)
		s.tr.Close()

		s.mu.Lock()
		streams := make([]*Stream, 0, len(s.streams))
		for _, st := range s.streams {
			streams = append(streams, st)
		}
		s.mu.Unlock()
		for _, st := range streams {
			st.markClosed()
		}
	})
}

// fatalErr returns the error that killed the session, nil while it is alive
// or when it was closed deliberately.
func (s *Session) fatalErr() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	if s.err == ErrSessionClosed {
		return nil
	}
	return s.err
}

func (s *Session) closedErr() error {
	if err := s.fatalErr(); err != nil {
		return err
	}
	return ErrSessionClosed
}
