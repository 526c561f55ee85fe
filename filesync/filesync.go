package filesync

import (
	"encoding/binary"
	"fmt"
	"io"
	"strconv"
	"time"

	"go_adb_bridge/constants"
	"go_adb_bridge/protocol"
	"go_adb_bridge/session"
)

// FileInfo is the answer to a STAT request. Mode is the raw st_mode word
// from the device.
type FileInfo struct {
	Mode  uint32
	Size  uint32
	MTime time.Time
}

// DirEntry is one DENT record from a directory listing.
type DirEntry struct {
	Name  string
	Mode  uint32
	Size  uint32
	MTime time.Time
}

// NotFoundError reports a STAT of a path the device does not have.
type NotFoundError struct {
	Path string
}

func (e *NotFoundError) Error() string {
	return "remote path not found: " + e.Path
}

// RemoteError carries a FAIL message verbatim from the device. It is an
// application level failure: the session stays usable unless the stream died
// with it.
type RemoteError struct {
	Op   string
	Path string
	Msg  string
}

func (e *RemoteError) Error() string {
	return e.Op + " " + e.Path + ": device said: " + e.Msg
}

// Client runs the FileSync sub-protocol inside one "sync:" stream. Requests
// are coalesced into a send buffer that flushes at negotiated payload
// boundaries; one Client serves any number of operations until Close.
type Client struct {
	st      *session.Stream
	lz4     bool
	maxData int
	maxBuf  int
	sendBuf []byte
	recvBuf []byte
}

// Open binds a sync stream on the session.
func Open(s *session.Session) (*Client, error) {
	st, err := s.OpenStream("sync:")
	if err != nil {
		return nil, err
	}

	maxData := constants.SYNC_CHUNK_SIZE
	if int(s.MaxPayload()) < maxData {
		maxData = int(s.MaxPayload())
	}

	return &Client{
		st:      st,
		lz4:     s.HasFeature(constants.SyncLZ4Feature),
		maxData: maxData,
		maxBuf:  int(s.MaxPayload()),
	}, nil
}

// Close sends QUIT and closes the stream. A stream that died mid-session
// surfaces here rather than reporting a clean close.
func (c *Client) Close() error {
	err := c.writeRecord(idQUIT, 0, nil)
	if ferr := c.flush(); err == nil {
		err = ferr
	}
	if cerr := c.st.Close(); err == nil {
		err = cerr
	}
	return err
}

// Stat queries mode, size and mtime of a remote path.
func (c *Client) Stat(path string) (*FileInfo, error) {
	if err := c.request(idSTAT, path); err != nil {
		return nil, err
	}

	// Reply shape is id, mode, size, mtime.
	id, mode, err := c.readRecordHeader()
	if err != nil {
		return nil, err
	}
	if id == idFAIL {
		return nil, c.readFail("stat", path, mode)
	}
	if id != idSTAT {
		return nil, unexpectedRecord("STAT", id)
	}
	rest, err := c.readBytes(8)
	if err != nil {
		return nil, err
	}
	if mode == 0 {
		return nil, &NotFoundError{Path: path}
	}
	return &FileInfo{
		Mode:  mode,
		Size:  binary.LittleEndian.Uint32(rest),
		MTime: time.Unix(int64(binary.LittleEndian.Uint32(rest[4:])), 0),
	}, nil
}

// Walk streams the directory listing of path through fn in server order.
// The sequence is finite and not restartable; list again to re-read it.
func (c *Client) Walk(path string, fn func(DirEntry) error) error {
	if err := c.request(idLIST, path); err != nil {
		return err
	}

	for {
		// DENT records are id, mode, size, mtime, namelen then the name.
		// The terminating DONE is sent dent-shaped with zeroed fields.
		id, mode, err := c.readRecordHeader()
		if err != nil {
			return err
		}
		switch id {
		case idDONE:
			if _, err := c.readBytes(12); err != nil {
				return err
			}
			return nil
		case idFAIL:
			return c.readFail("list", path, mode)
		case idDENT:
			rest, err := c.readBytes(12)
			if err != nil {
				return err
			}
			name, err := c.readBytes(int(binary.LittleEndian.Uint32(rest[8:])))
			if err != nil {
				return err
			}
			entry := DirEntry{
				Name:  string(name),
				Mode:  mode,
				Size:  binary.LittleEndian.Uint32(rest),
				MTime: time.Unix(int64(binary.LittleEndian.Uint32(rest[4:])), 0),
			}
			if err := fn(entry); err != nil {
				return err
			}
		default:
			return unexpectedRecord("DENT", id)
		}
	}
}

// List collects a full directory listing.
func (c *Client) List(path string) ([]DirEntry, error) {
	var entries []DirEntry
	err := c.Walk(path, func(e DirEntry) error {
		entries = append(entries, e)
		return nil
	})
	return entries, err
}

// Push streams r to a remote path. The transfer is atomic from this side:
// the device either acknowledges the whole file with OKAY or reports FAIL.
func (c *Client) Push(r io.Reader, remotePath string, mode uint32, mtime time.Time) error {
	sendID := idSEND
	if c.lz4 {
		sendID = idSND2
	}
	spec := remotePath + "," + strconv.FormatUint(uint64(mode), 10)
	if err := c.writeRecord(sendID, uint32(len(spec)), []byte(spec)); err != nil {
		return err
	}

	buf := make([]byte, c.maxData)
	for {
		n, err := io.ReadFull(r, buf)
		if n > 0 {
			if werr := c.writeChunk(buf[:n]); werr != nil {
				return werr
			}
		}
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			break
		}
		if err != nil {
			return fmt.Errorf("read push source: %w", err)
		}
	}

	if mtime.IsZero() {
		mtime = time.Now()
	}
	// DONE carries the mtime in the length word.
	if err := c.writeRecord(idDONE, uint32(mtime.Unix()), nil); err != nil {
		return err
	}
	if err := c.flush(); err != nil {
		return err
	}

	id, value, err := c.readRecordHeader()
	if err != nil {
		return err
	}
	switch id {
	case idOKAY:
		return nil
	case idFAIL:
		return c.readFail("push", remotePath, value)
	}
	return unexpectedRecord("OKAY", id)
}

// Pull streams a remote path into w. On FAIL the device's message is
// returned; bytes already written to w are the caller's to discard when
// strict atomicity matters, the protocol has no rollback.
func (c *Client) Pull(remotePath string, w io.Writer) error {
	recvID := idRECV
	if c.lz4 {
		recvID = idRCV2
	}
	if err := c.request(recvID, remotePath); err != nil {
		return err
	}

	for {
		id, value, err := c.readRecordHeader()
		if err != nil {
			return err
		}
		switch id {
		case idDONE:
			return nil
		case idFAIL:
			return c.readFail("pull", remotePath, value)
		case idDATA, idDAT2:
			data, err := c.readBytes(int(value))
			if err != nil {
				return err
			}
			if id == idDAT2 {
				if data, err = decompressChunk(data, c.maxData); err != nil {
					return fmt.Errorf("pull %s: %w", remotePath, err)
				}
			}
			if _, err := w.Write(data); err != nil {
				return fmt.Errorf("write pull destination: %w", err)
			}
		default:
			return unexpectedRecord("DATA", id)
		}
	}
}

// writeChunk emits one DATA record, compressed when the extension is active
// and compression actually wins.
func (c *Client) writeChunk(chunk []byte) error {
	id := idDATA
	if c.lz4 {
		if compressed, ok := compressChunk(chunk); ok {
			return c.writeRecord(idDAT2, uint32(len(compressed)), compressed)
		}
	}
	return c.writeRecord(id, uint32(len(chunk)), chunk)
}

// request sends a path-carrying record and flushes, since every request has
// a response.
func (c *Client) request(id uint32, path string) error {
	if err := c.writeRecord(id, uint32(len(path)), []byte(path)); err != nil {
		return err
	}
	return c.flush()
}

// writeRecord buffers an 8-byte header plus data, flushing at negotiated
// payload boundaries.
func (c *Client) writeRecord(id, value uint32, data []byte) error {
	size := 8 + len(data)
	if len(c.sendBuf) > 0 && len(c.sendBuf)+size > c.maxBuf {
		if err := c.flush(); err != nil {
			return err
		}
	}

	var header [8]byte
	binary.LittleEndian.PutUint32(header[0:], id)
	binary.LittleEndian.PutUint32(header[4:], value)
	c.sendBuf = append(c.sendBuf, header[:]...)
	c.sendBuf = append(c.sendBuf, data...)

	if len(c.sendBuf) >= c.maxBuf {
		return c.flush()
	}
	return nil
}

func (c *Client) flush() error {
	if len(c.sendBuf) == 0 {
		return nil
	}
	err := c.st.Write(c.sendBuf)
	c.sendBuf = c.sendBuf[:0]
	return err
}

// readRecordHeader returns the id and second word of the next record.
func (c *Client) readRecordHeader() (uint32, uint32, error) {
	raw, err := c.readBytes(8)
	if err != nil {
		return 0, 0, err
	}
	return binary.LittleEndian.Uint32(raw), binary.LittleEndian.Uint32(raw[4:]), nil
}

func (c *Client) readFail(op, path string, length uint32) error {
	msg, err := c.readBytes(int(length))
	if err != nil {
		return err
	}
	return &RemoteError{Op: op, Path: path, Msg: string(msg)}
}

// readBytes returns exactly n bytes of the sync byte stream, pulling more
// WRTE frames as needed.
func (c *Client) readBytes(n int) ([]byte, error) {
	for len(c.recvBuf) < n {
		chunk, err := c.st.Read()
		if err == io.EOF {
			return nil, fmt.Errorf("sync stream closed mid-record: %w", session.ErrStreamClosed)
		}
		if err != nil {
			return nil, err
		}
		c.recvBuf = append(c.recvBuf, chunk...)
	}
	out := c.recvBuf[:n:n]
	c.recvBuf = c.recvBuf[n:]
	return out, nil
}

func unexpectedRecord(want string, got uint32) error {
	return &protocol.Error{
		Reason: protocol.UnexpectedCommand,
		Detail: "sync record " + idString(got) + " while expecting " + want,
	}
}
