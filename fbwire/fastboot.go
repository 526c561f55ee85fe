// Package fbwire speaks the fastboot bootloader protocol: stateless ASCII
// commands over the raw transport, answered by INFO/OKAY/FAIL/DATA records
// of at most 64 bytes. No multiplexing, no authentication.
package fbwire

import (
	"errors"
	"fmt"
	"io"
	"strconv"

	log "github.com/sirupsen/logrus"

	"go_adb_bridge/constants"
	"go_adb_bridge/transport"
)

// RemoteError carries a FAIL message verbatim from the bootloader.
type RemoteError struct {
	Command string
	Msg     string
}

func (e *RemoteError) Error() string {
	return e.Command + ": bootloader said: " + e.Msg
}

// Response is the terminal reply to a command.
type Response struct {
	Status  string // "OKAY" or "DATA"
	Message string
}

// Client is a fastboot protocol client over one transport.
type Client struct {
	tr        transport.Transport
	chunkSize int

	// pending holds bytes read past a response boundary. USB delivers one
	// response per bulk transfer; TCP may coalesce or split them.
	pending []byte

	// Info, when set, receives INFO lines as they arrive.
	Info func(msg string)
}

// New wraps a transport in a fastboot client.
func New(tr transport.Transport) *Client {
	return &Client{tr: tr, chunkSize: constants.FASTBOOT_CHUNK}
}

// SetChunkSize overrides the download chunk size; older bootloaders need
// 4KB.
func (c *Client) SetChunkSize(size int) {
	c.chunkSize = size
}

// SendCommand issues one command (with optional arg joined by a colon) and
// waits for its OKAY, surfacing INFO lines along the way.
func (c *Client) SendCommand(command, arg string) (string, error) {
	if err := c.write(command, arg); err != nil {
		return "", err
	}
	resp, err := c.accept(command, "OKAY")
	if err != nil {
		return "", err
	}
	return resp.Message, nil
}

// Getvar returns a bootloader variable such as "product" or "version".
func (c *Client) Getvar(name string) (string, error) {
	return c.SendCommand("getvar", name)
}

// Flash writes the previously downloaded image to a partition.
func (c *Client) Flash(partition string) (string, error) {
	return c.SendCommand("flash", partition)
}

// Erase clears a partition.
func (c *Client) Erase(partition string) (string, error) {
	return c.SendCommand("erase", partition)
}

// Oem runs a vendor command like "poweroff".
func (c *Client) Oem(command string) (string, error) {
	return c.SendCommand("oem "+command, "")
}

// Continue boots past fastboot into the system.
func (c *Client) Continue() error {
	_, err := c.SendCommand("continue", "")
	return err
}

// Reboot reboots the device, optionally into a target such as "bootloader".
func (c *Client) Reboot(target string) error {
	command := "reboot"
	if target == "bootloader" {
		command = "reboot-bootloader"
	}
	_, err := c.SendCommand(command, "")
	return err
}

// Download sends size bytes from r to the device's staging buffer. The
// device advertises how much it accepts in its DATA reply; a mismatch is a
// transfer error before any bytes move.
func (c *Client) Download(r io.Reader, size int64) (string, error) {
	if err := c.write("download", fmt.Sprintf("%08x", size)); err != nil {
		return "", err
	}

	resp, err := c.accept("download", "DATA")
	if err != nil {
		return "", err
	}
	accepted, err := strconv.ParseInt(resp.Message, 16, 64)
	if err != nil || len(resp.Message) < 8 {
		return "", errors.New("download: malformed DATA size " + strconv.Quote(resp.Message))
	}
	if accepted != size {
		return "", fmt.Errorf("download: device accepts %d bytes, have %d", accepted, size)
	}

	buf := make([]byte, c.chunkSize)
	remaining := size
	for remaining > 0 {
		want := int64(len(buf))
		if remaining < want {
			want = remaining
		}
		n, err := io.ReadFull(r, buf[:want])
		if err != nil {
			return "", fmt.Errorf("download: read source: %w", err)
		}
		if _, err := c.tr.Write(buf[:n]); err != nil {
			return "", err
		}
		remaining -= int64(n)
	}

	final, err := c.accept("download", "OKAY")
	if err != nil {
		return "", err
	}
	return final.Message, nil
}

// FlashFile stages and flashes an image in one call.
func (c *Client) FlashFile(partition string, r io.Reader, size int64) (string, error) {
	downloaded, err := c.Download(r, size)
	if err != nil {
		return "", err
	}
	flashed, err := c.Flash(partition)
	if err != nil {
		return "", err
	}
	return downloaded + flashed, nil
}

func (c *Client) write(command, arg string) error {
	if arg != "" {
		command = command + ":" + arg
	}
	log.WithField("cmd", command).Debug("fastboot send")
	_, err := c.tr.Write([]byte(command))
	return err
}

// accept reads responses until the expected terminal header arrives.
func (c *Client) accept(command, expected string) (*Response, error) {
	for {
		header, message, err := c.readResponse()
		if err != nil {
			return nil, err
		}
		log.WithFields(log.Fields{"header": header, "msg": message}).Debug("fastboot recv")

		switch header {
		case "INFO":
			if c.Info != nil {
				c.Info(message)
			}
		case "FAIL":
			return nil, &RemoteError{Command: command, Msg: message}
		case "OKAY", "DATA":
			if header != expected {
				return nil, fmt.Errorf("%s: expected %s, got %s", command, expected, header)
			}
			return &Response{Status: header, Message: message}, nil
		default:
			return nil, errors.New(command + ": unknown response header " + strconv.Quote(header))
		}
	}
}

// readResponse returns the next response's header and message. The protocol
// has no length framing, so responses read from a stream transport are
// re-delimited at known header words and the 64 byte response ceiling;
// leftover bytes are kept for the next call.
func (c *Client) readResponse() (string, string, error) {
	for len(c.pending) < 4 {
		buf := make([]byte, constants.FASTBOOT_RESPONSE)
		n, err := c.tr.Read(buf)
		if err != nil {
			return "", "", err
		}
		c.pending = append(c.pending, buf[:n]...)
	}

	end := len(c.pending)
	if end > constants.FASTBOOT_RESPONSE {
		end = constants.FASTBOOT_RESPONSE
	}
	for i := 4; i < end && i+4 <= len(c.pending); i++ {
		if isResponseHeader(c.pending[i:]) {
			end = i
			break
		}
	}

	header := string(c.pending[:4])
	message := string(c.pending[4:end])
	c.pending = c.pending[end:]
	return header, message, nil
}

func isResponseHeader(b []byte) bool {
	switch string(b[:4]) {
	case "INFO", "OKAY", "FAIL", "DATA":
		return true
	}
	return false
}
