package session

import (
	"bytes"
	"errors"
	"io"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go_adb_bridge/constants"
	"go_adb_bridge/protocol"
)

// connectedPair returns an established session and the device end, with the
// handshake already behind them. maxPayload is what the device offers.
func connectedPair(t *testing.T, maxPayload uint32) (*Session, *fakeDevice) {
	t.Helper()
	tr, device := newTestPair(t)

	done := make(chan struct{})
	go func() {
		defer close(done)
		device.acceptConnect(maxPayload, "device:streamtest:")
	}()

	sess, err := Connect(tr, Options{Timeout: 2 * time.Second})
	require.NoError(t, err)
	t.Cleanup(func() { sess.Close() })
	<-done
	return sess, device
}

// acceptStream consumes an OPEN and binds it with OKAY, returning the
// client's and the device's stream ids.
func (d *fakeDevice) acceptStream(deviceID uint32, destination string) uint32 {
	msg := d.expect(protocol.OPEN)
	if msg == nil {
		return 0
	}
	if got := string(msg.Payload); got != destination+"\x00" {
		d.t.Errorf("OPEN destination %q, want %q", got, destination)
	}
	if msg.Arg1 != 0 {
		d.t.Errorf("OPEN arg1 = %d, want 0", msg.Arg1)
	}
	d.send(protocol.OKAY, deviceID, msg.Arg0, nil)
	return msg.Arg0
}

func TestStreamEchoAndEOF(t *testing.T) {
	sess, device := connectedPair(t, constants.MAX_PAYLOAD)

	deviceDone := make(chan struct{})
	go func() {
		defer close(deviceDone)
		clientID := device.acceptStream(7, "shell:echo hi")

		wrte := device.expect(protocol.WRTE)
		if wrte != nil {
			if wrte.Arg1 != 7 {
				device.t.Errorf("WRTE remote id %d, want 7", wrte.Arg1)
			}
			if !bytes.Equal(wrte.Payload, []byte("echo hi\n")) {
				device.t.Errorf("WRTE payload %q", wrte.Payload)
			}
		}
		device.send(protocol.OKAY, 7, clientID, nil)

		device.send(protocol.WRTE, 7, clientID, []byte("hi\n"))
		device.expect(protocol.OKAY)

		device.send(protocol.CLSE, 7, clientID, nil)
		device.expect(protocol.CLSE)
	}()

	st, err := sess.OpenStream("shell:echo hi")
	require.NoError(t, err)

	require.NoError(t, st.Write([]byte("echo hi\n")))

	out, err := st.Read()
	require.NoError(t, err)
	assert.Equal(t, []byte("hi\n"), out)

	_, err = st.Read()
	assert.Equal(t, io.EOF, err, "remote close drains to EOF")
	<-deviceDone
}

func TestStreamOpenRejected(t *testing.T) {
	sess, device := connectedPair(t, constants.MAX_PAYLOAD)

	go func() {
		msg := device.expect(protocol.OPEN)
		if msg != nil {
			device.send(protocol.CLSE, 0, msg.Arg0, nil)
		}
	}()

	_, err := sess.OpenStream("jdwp:1234")
	var rejected *StreamRejectedError
	require.ErrorAs(t, err, &rejected)
	assert.Equal(t, "jdwp:1234", rejected.Destination)
}

func TestStreamsDemuxIndependently(t *testing.T) {
	sess, device := connectedPair(t, constants.MAX_PAYLOAD)

	go func() {
		a := device.acceptStream(100, "shell:a")
		b := device.acceptStream(200, "shell:b")

		// Deliver b's data first, then a's: each must land on its own
		// stream regardless of arrival order.
		device.send(protocol.WRTE, 200, b, []byte("for-b"))
		device.expect(protocol.OKAY)
		device.send(protocol.WRTE, 100, a, []byte("for-a"))
		device.expect(protocol.OKAY)
	}()

	sa, err := sess.OpenStream("shell:a")
	require.NoError(t, err)
	sb, err := sess.OpenStream("shell:b")
	require.NoError(t, err)
	assert.NotEqual(t, sa.LocalID(), sb.LocalID())

	got, err := sa.Read()
	require.NoError(t, err)
	assert.Equal(t, []byte("for-a"), got)

	got, err = sb.Read()
	require.NoError(t, err)
	assert.Equal(t, []byte("for-b"), got)
}

func TestStreamWriteWaitsForAck(t *testing.T) {
	// Device offers a 16 byte payload ceiling, so a 24 byte write becomes
	// two WRTE frames and the second must wait for the first OKAY.
	sess, device := connectedPair(t, 16)
	require.Equal(t, uint32(16), sess.MaxPayload())

	firstSeen := make(chan struct{})
	release := make(chan struct{})
	deviceDone := make(chan struct{})
	go func() {
		defer close(deviceDone)
		clientID := device.acceptStream(9, "shell:cat")

		first := device.expect(protocol.WRTE)
		if first != nil && len(first.Payload) != 16 {
			device.t.Errorf("first chunk %d bytes, want 16", len(first.Payload))
		}
		close(firstSeen)

		// No OKAY yet: the second frame must not arrive.
		device.expectNoFrame(200 * time.Millisecond)
		close(release)
		device.send(protocol.OKAY, 9, clientID, nil)

		second := device.expect(protocol.WRTE)
		if second != nil && len(second.Payload) != 8 {
			device.t.Errorf("second chunk %d bytes, want 8", len(second.Payload))
		}
		device.send(protocol.OKAY, 9, clientID, nil)
	}()

	st, err := sess.OpenStream("shell:cat")
	require.NoError(t, err)

	written := make(chan error, 1)
	go func() {
		written <- st.Write(make([]byte, 24))
	}()

	<-firstSeen
	select {
	case err := <-written:
		<-release
		t.Fatalf("write finished before the first ack: %v", err)
	case <-release:
	}
	require.NoError(t, <-written)
	<-deviceDone
}

func TestStreamWriteAfterClose(t *testing.T) {
	sess, device := connectedPair(t, constants.MAX_PAYLOAD)

	go func() {
		device.acceptStream(3, "shell:true")
		device.expect(protocol.CLSE)
	}()

	st, err := sess.OpenStream("shell:true")
	require.NoError(t, err)
	require.NoError(t, st.Close())

	err = st.Write([]byte("late"))
	assert.ErrorIs(t, err, ErrStreamClosed)
}

func TestStreamReadTimeout(t *testing.T) {
	sess, device := connectedPair(t, constants.MAX_PAYLOAD)

	go func() {
		device.acceptStream(4, "shell:sleep")
	}()

	st, err := sess.OpenStream("shell:sleep")
	require.NoError(t, err)

	st.SetTimeout(100 * time.Millisecond)
	_, err = st.Read()
	assert.ErrorIs(t, err, os.ErrDeadlineExceeded)
}

func TestTransportLossFailsPendingReads(t *testing.T) {
	sess, device := connectedPair(t, constants.MAX_PAYLOAD)

	go func() {
		device.acceptStream(5, "shell:read")
		device.conn.Close()
	}()

	st, err := sess.OpenStream("shell:read")
	require.NoError(t, err)

	_, err = st.Read()
	require.Error(t, err)
	assert.NotEqual(t, io.EOF, err, "an aborted connection is an error, not EOF")
}

func TestSessionCloseUnblocksRead(t *testing.T) {
	sess, device := connectedPair(t, constants.MAX_PAYLOAD)

	go func() {
		device.acceptStream(6, "shell:wait")
	}()

	st, err := sess.OpenStream("shell:wait")
	require.NoError(t, err)

	go func() {
		time.Sleep(50 * time.Millisecond)
		sess.Close()
	}()

	_, err = st.Read()
	assert.Equal(t, io.EOF, err, "deliberate close reads as end of stream")

	_, err = sess.OpenStream("shell:after")
	assert.ErrorIs(t, err, ErrSessionClosed)
}

func TestStreamBackpressureDefersAck(t *testing.T) {
	sess, device := connectedPair(t, constants.MAX_PAYLOAD)

	depth := constants.STREAM_INBOX_DEPTH
	deviceDone := make(chan error, 1)
	overflow := make(chan struct{})
	go func() {
		clientID := device.acceptStream(8, "shell:flood")

		// The inbox holds depth frames and each is acknowledged as it is
		// accepted. Frame depth+1 parks unacknowledged.
		for i := 0; i < depth; i++ {
			device.send(protocol.WRTE, 8, clientID, []byte{byte(i)})
			device.expect(protocol.OKAY)
		}
		device.send(protocol.WRTE, 8, clientID, []byte{byte(depth)})
		device.expectNoFrame(200 * time.Millisecond)
		close(overflow)

		// A read frees a slot and releases the withheld acknowledgment.
		device.expect(protocol.OKAY)
		deviceDone <- nil
	}()

	st, err := sess.OpenStream("shell:flood")
	require.NoError(t, err)

	<-overflow
	got, err := st.Read()
	require.NoError(t, err)
	assert.Equal(t, []byte{0}, got, "frames come out in arrival order")

	require.NoError(t, <-deviceDone)

	for i := 1; i <= depth; i++ {
		got, err := st.Read()
		require.NoError(t, err)
		assert.Equal(t, []byte{byte(i)}, got)
	}
}

func TestCommandCollectsUntilEOF(t *testing.T) {
	sess, device := connectedPair(t, constants.MAX_PAYLOAD)

	go func() {
		clientID := device.acceptStream(11, "shell:getprop ro.serialno")
		device.send(protocol.WRTE, 11, clientID, []byte("ABC"))
		device.expect(protocol.OKAY)
		device.send(protocol.WRTE, 11, clientID, []byte("123\n"))
		device.expect(protocol.OKAY)
		device.send(protocol.CLSE, 11, clientID, nil)
		device.expect(protocol.CLSE)
	}()

	out, err := sess.Shell("getprop ro.serialno")
	require.NoError(t, err)
	assert.Equal(t, "ABC123\n", string(out))
}

func TestStreamingCommandDeliversChunksBeforeClose(t *testing.T) {
	sess, device := connectedPair(t, constants.MAX_PAYLOAD)

	observed := make(chan string, 2)
	deviceDone := make(chan struct{})
	go func() {
		defer close(deviceDone)
		clientID := device.acceptStream(13, "shell:logcat")

		device.send(protocol.WRTE, 13, clientID, []byte("line one\n"))
		device.expect(protocol.OKAY)
		if got := <-observed; got != "line one\n" {
			device.t.Errorf("chunk %q not delivered before the next was sent", got)
		}

		device.send(protocol.WRTE, 13, clientID, []byte("line two\n"))
		device.expect(protocol.OKAY)
		if got := <-observed; got != "line two\n" {
			device.t.Errorf("chunk %q not delivered before close", got)
		}

		device.send(protocol.CLSE, 13, clientID, nil)
		device.expect(protocol.CLSE)
	}()

	var chunks []string
	err := sess.StreamingCommand("shell:logcat", func(chunk []byte) error {
		chunks = append(chunks, string(chunk))
		observed <- string(chunk)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"line one\n", "line two\n"}, chunks)
	<-deviceDone
}

func TestStreamingCommandStopsOnCallbackError(t *testing.T) {
	sess, device := connectedPair(t, constants.MAX_PAYLOAD)

	go func() {
		clientID := device.acceptStream(14, "shell:yes")
		device.send(protocol.WRTE, 14, clientID, []byte("y\n"))
		device.expect(protocol.OKAY)
		device.expect(protocol.CLSE)
	}()

	stop := errors.New("enough")
	err := sess.StreamingCommand("shell:yes", func(chunk []byte) error {
		return stop
	})
	assert.Equal(t, stop, err)
}

func TestEmptyFrameChecksumEnforced(t *testing.T) {
	sess, device := connectedPair(t, constants.MAX_PAYLOAD)

	go func() {
		clientID := device.acceptStream(15, "shell:sum")
		// An empty payload must still claim checksum zero.
		msg := protocol.NewMessage(protocol.OKAY, 15, clientID, nil)
		msg.Checksum = 0xdeadbeef
		device.conn.SetWriteDeadline(time.Now().Add(2 * time.Second))
		device.conn.Write(protocol.EncodeMessage(msg))
	}()

	st, err := sess.OpenStream("shell:sum")
	require.NoError(t, err)

	_, err = st.Read()
	var perr *protocol.Error
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, protocol.ChecksumMismatch, perr.Reason)
}

func TestOpenOnDeadSession(t *testing.T) {
	sess, _ := connectedPair(t, constants.MAX_PAYLOAD)
	sess.Close()

	_, err := sess.OpenStream("shell:ls")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrSessionClosed))
}
