package transport

import (
	"errors"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadWriteRoundTrip(t *testing.T) {
	near, far := net.Pipe()
	defer far.Close()

	tr := FromConn(near)
	defer tr.Close()
	tr.SetTimeout(time.Second)

	go func() {
		buf := make([]byte, 5)
		far.Read(buf)
		far.Write(buf)
	}()

	_, err := tr.Write([]byte("hello"))
	require.NoError(t, err)

	buf := make([]byte, 5)
	n, err := tr.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(buf[:n]))
}

func TestReadTimeout(t *testing.T) {
	near, far := net.Pipe()
	defer far.Close()

	tr := FromConn(near)
	defer tr.Close()
	tr.SetTimeout(50 * time.Millisecond)

	_, err := tr.Read(make([]byte, 1))
	require.Error(t, err)

	var terr *Error
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, "read", terr.Op)
	var nerr net.Error
	require.ErrorAs(t, err, &nerr)
	assert.True(t, nerr.Timeout())
}

func TestUseAfterClose(t *testing.T) {
	near, far := net.Pipe()
	defer far.Close()

	tr := FromConn(near)
	require.NoError(t, tr.Close())
	assert.NoError(t, tr.Close(), "close is idempotent")

	_, err := tr.Read(make([]byte, 1))
	assert.True(t, errors.Is(err, ErrClosed))
	_, err = tr.Write([]byte("x"))
	assert.True(t, errors.Is(err, ErrClosed))
}

func TestDialTCPBadAddress(t *testing.T) {
	_, err := DialTCP("not a host:port:at all", 0)
	require.Error(t, err)

	var terr *Error
	require.ErrorAs(t, err, &terr)
}

func TestMatcher(t *testing.T) {
	assert.True(t, ADBInterface.Matches(0xFF, 0x42, 0x01, "any-serial"))
	assert.False(t, ADBInterface.Matches(0xFF, 0x42, 0x03, "any-serial"),
		"fastboot interface is not the adb one")
	assert.True(t, FastbootInterface.Matches(0xFF, 0x42, 0x03, ""))

	narrowed := ADBInterface.WithSerial("emulator-5554")
	assert.True(t, narrowed.Matches(0xFF, 0x42, 0x01, "emulator-5554"))
	assert.False(t, narrowed.Matches(0xFF, 0x42, 0x01, "other-device"))
	assert.Equal(t, "", ADBInterface.Serial, "WithSerial does not mutate the original")
}

func TestTimeoutDisabled(t *testing.T) {
	near, far := net.Pipe()
	defer far.Close()

	tr := FromConn(near)
	defer tr.Close()
	tr.SetTimeout(0)

	done := make(chan struct{})
	go func() {
		defer close(done)
		time.Sleep(50 * time.Millisecond)
		far.Write([]byte("late"))
	}()

	buf := make([]byte, 4)
	n, err := tr.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, 4, n)
	<-done
}
