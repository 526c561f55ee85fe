package transport

import (
	"net"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/net/ipv4"

	"go_adb_bridge/constants"
)

type netTransport struct {
	conn    net.Conn
	timeout atomic.Int64
	closed  atomic.Bool
}

// DialTCP opens a TCP transport to a device listening on host:port
// (typically port 5555).
func DialTCP(address string, dscp int) (Transport, error) {
	_, err := net.ResolveTCPAddr("tcp", address)
	if err != nil {
		return nil, &Error{Op: "resolve", Err: err}
	}

	dial := new(net.Dialer)
	dial.Timeout = constants.DEFAULT_TIMEOUT
	conn, err := dial.Dial("tcp", address)
	if err != nil {
		return nil, &Error{Op: "dial", Err: err}
	}

	// Set TCP_NODELAY to always immediately send.
	conn.(*net.TCPConn).SetNoDelay(true)
	// Set DSCP. NOTE: On Windows by default it will not apply the value.
	ipv4.NewConn(conn).SetTOS(dscp)

	log.WithField("address", address).Debug("tcp transport connected")

	return FromConn(conn), nil
}

// FromConn wraps an established connection as a Transport. Deadline support
// on the connection is required for timeouts to hold.
func FromConn(conn net.Conn) Transport {
	t := &netTransport{conn: conn}
	t.timeout.Store(int64(constants.DEFAULT_TIMEOUT))
	return t
}

func (t *netTransport) SetTimeout(d time.Duration) {
	t.timeout.Store(int64(d))
}

func (t *netTransport) Read(p []byte) (int, error) {
	if t.closed.Load() {
		return 0, &Error{Op: "read", Err: ErrClosed}
	}
	if d := time.Duration(t.timeout.Load()); d > 0 {
		t.conn.SetReadDeadline(time.Now().Add(d))
	}
	n, err := t.conn.Read(p)
	if err != nil {
		return n, &Error{Op: "read", Err: err}
	}
	return n, nil
}

func (t *netTransport) Write(p []byte) (int, error) {
	if t.closed.Load() {
		return 0, &Error{Op: "write", Err: ErrClosed}
	}
	if d := time.Duration(t.timeout.Load()); d > 0 {
		t.conn.SetWriteDeadline(time.Now().Add(d))
	}
	n, err := t.conn.Write(p)
	if err != nil {
		return n, &Error{Op: "write", Err: err}
	}
	return n, nil
}

func (t *netTransport) Close() error {
	if t.closed.Swap(true) {
		return nil
	}
	return t.conn.Close()
}
