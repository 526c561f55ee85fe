package session

import (
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"

	"go_adb_bridge/constants"
	"go_adb_bridge/protocol"
)

// Stream is one logical channel multiplexed over the session. Reads come out
// of a bounded inbox fed by the dispatcher; writes obey the one-outstanding-
// WRTE credit the remote grants with OKAY.
type Stream struct {
	sess        *Session
	localID     uint32
	remoteID    uint32
	destination string

	opened    chan struct{}
	openOnce  sync.Once
	closed    chan struct{}
	closeOnce sync.Once
	closing   atomic.Bool

	inbox chan []byte
	// pending holds frames that arrived while the inbox was full. They have
	// not been acknowledged yet: withholding the OKAY is what stalls the
	// remote sender for this stream alone.
	pmu     sync.Mutex
	pending [][]byte

	credit chan struct{}

	timeout atomic.Int64
}

// OpenStream opens a logical stream to a device destination such as
// "shell:ls" or "sync:". It blocks until the device binds the stream with
// OKAY, rejects it with CLSE, or the timeout passes.
func (s *Session) OpenStream(destination string) (*Stream, error) {
	select {
	case <-s.done:
		return nil, s.closedErr()
	default:
	}

	st := &Stream{
		sess:        s,
		destination: destination,
		opened:      make(chan struct{}),
		closed:      make(chan struct{}),
		inbox:       make(chan []byte, constants.STREAM_INBOX_DEPTH),
		credit:      make(chan struct{}, 1),
	}
	st.credit <- struct{}{}
	st.timeout.Store(int64(s.timeout))

	// Local ids are never reused within a connection.
	s.mu.Lock()
	s.nextID++
	st.localID = s.nextID
	s.streams[st.localID] = st
	s.mu.Unlock()

	payload := append([]byte(destination), 0)
	if err := s.send(protocol.NewMessage(protocol.OPEN, st.localID, 0, payload)); err != nil {
		s.drop(st.localID)
		return nil, err
	}

	select {
	case <-st.opened:
		return st, nil
	case <-st.closed:
		// A bind followed by an immediate close still opened the stream;
		// the close case must not mask it when both are ready.
		select {
		case <-st.opened:
			return st, nil
		default:
		}
		return nil, &StreamRejectedError{Destination: destination}
	case <-s.done:
		return nil, s.closedErr()
	case <-time.After(st.timeoutD()):
		s.drop(st.localID)
		return nil, fmt.Errorf("open %s: %w", destination, os.ErrDeadlineExceeded)
	}
}

// LocalID returns the stream's id on this end of the connection.
func (st *Stream) LocalID() uint32 {
	return st.localID
}

// SetTimeout overrides the session timeout for this stream's blocking
// operations.
func (st *Stream) SetTimeout(d time.Duration) {
	st.timeout.Store(int64(d))
}

// Write sends the bytes as one or more WRTE frames chunked to the negotiated
// maximum payload. A new frame is not sent until the previous one has been
// acknowledged.
func (st *Stream) Write(p []byte) error {
	max := int(st.sess.maxPayload)
	for off := 0; off < len(p) || (off == 0 && len(p) == 0); off += max {
		end := off + max
		if end > len(p) {
			end = len(p)
		}

		select {
		case <-st.credit:
		case <-st.closed:
			return st.closedWriteErr()
		case <-time.After(st.timeoutD()):
			return fmt.Errorf("write on stream %d: %w", st.localID, os.ErrDeadlineExceeded)
		}

		msg := protocol.NewMessage(protocol.WRTE, st.localID, st.remoteID, p[off:end])
		if err := st.sess.send(msg); err != nil {
			return err
		}
		if len(p) == 0 {
			break
		}
	}
	return nil
}

// Read returns the next inbound frame. It blocks until data arrives, the
// stream closes (io.EOF after the inbox drains) or the timeout passes.
func (st *Stream) Read() ([]byte, error) {
	select {
	case p := <-st.inbox:
		st.promote()
		return p, nil
	default:
	}

	select {
	case p := <-st.inbox:
		st.promote()
		return p, nil
	case <-st.closed:
		// Frames queued before the close still belong to the caller.
		select {
		case p := <-st.inbox:
			st.promote()
			return p, nil
		default:
		}
		if err := st.sess.fatalErr(); err != nil {
			return nil, err
		}
		return nil, io.EOF
	case <-time.After(st.timeoutD()):
		return nil, fmt.Errorf("read on stream %d: %w", st.localID, os.ErrDeadlineExceeded)
	}
}

// Close closes the stream locally and tells the device. The session stays
// usable for new streams.
func (st *Stream) Close() error {
	if st.closing.Swap(true) {
		return nil
	}
	err := st.sess.send(protocol.NewMessage(protocol.CLSE, st.localID, st.remoteID, nil))
	st.markClosed()
	return err
}

// onOkay handles an OKAY for this stream: the first one binds the remote id,
// later ones return the write credit.
func (st *Stream) onOkay(remoteID uint32) {
	bound := false
	st.openOnce.Do(func() {
		st.remoteID = remoteID
		close(st.opened)
		bound = true
	})
	if bound {
		return
	}
	select {
	case st.credit <- struct{}{}:
	default:
	}
}

// onData queues an inbound frame, acknowledging it only once it fits in the
// inbox. The dispatcher never blocks here.
func (st *Stream) onData(p []byte) {
	st.pmu.Lock()
	defer st.pmu.Unlock()

	if len(st.pending) == 0 {
		select {
		case st.inbox <- p:
			st.ack()
			return
		default:
		}
	}
	st.pending = append(st.pending, p)
}

// promote moves deferred frames into the freed inbox space, sending the
// acknowledgment each one has been waiting for.
func (st *Stream) promote() {
	st.pmu.Lock()
	defer st.pmu.Unlock()

	for len(st.pending) > 0 {
		select {
		case st.inbox <- st.pending[0]:
			st.pending = st.pending[1:]
			st.ack()
		default:
			return
		}
	}
}

func (st *Stream) ack() {
	msg := protocol.NewMessage(protocol.OKAY, st.localID, st.remoteID, nil)
	if err := st.sess.send(msg); err != nil {
		log.WithError(err).WithField("localId", st.localID).Debug("ack failed")
	}
}

// onRemoteClose handles CLSE from the device.
func (st *Stream) onRemoteClose() {
	opening := false
	st.openOnce.Do(func() {
		opening = true
	})
	if !opening && !st.closing.Swap(true) {
		// Mirror the close so the device can retire its end.
		st.sess.send(protocol.NewMessage(protocol.CLSE, st.localID, st.remoteID, nil))
	}
	st.markClosed()
}

func (st *Stream) markClosed() {
	st.closing.Store(true)
	st.closeOnce.Do(func() {
		close(st.closed)
	})
	st.sess.drop(st.localID)
}

func (st *Stream) closedWriteErr() error {
	if err := st.sess.fatalErr(); err != nil {
		return err
	}
	return fmt.Errorf("write on stream %d to %s: %w", st.localID, st.destination, ErrStreamClosed)
}

func (st *Stream) timeoutD() time.Duration {
	if d := time.Duration(st.timeout.Load()); d > 0 {
		return d
	}
	return constants.DEFAULT_TIMEOUT
}
