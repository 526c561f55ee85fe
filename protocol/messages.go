package protocol

import (
	"bytes"
	"encoding/binary"

	"go_adb_bridge/constants"
)

// Wire command words. These are the little-endian values of the four ASCII
// characters and must match adbd exactly.
const (
	CNXN uint32 = 0x4e584e43
	AUTH uint32 = 0x48545541
	OPEN uint32 = 0x4e45504f
	OKAY uint32 = 0x59414b4f
	WRTE uint32 = 0x45545257
	CLSE uint32 = 0x45534c43
	SYNC uint32 = 0x434e5953
)

// AUTH sub-types carried in arg0.
const (
	AuthToken        uint32 = 1
	AuthSignature    uint32 = 2
	AuthRSAPublicKey uint32 = 3
)

// HeaderLength is the fixed size of an encoded message header.
const HeaderLength = 24

// Header contains static message parts
type Header struct {
	Command  uint32
	Arg0     uint32
	Arg1     uint32
	Length   uint32
	Checksum uint32
	Magic    uint32
}

// Message contains Header + payload
type Message struct {
	Header
	Payload []byte
}

// NewMessage builds a message with length, checksum and magic filled in.
func NewMessage(command, arg0, arg1 uint32, payload []byte) *Message {
	return &Message{
		Header: Header{
			Command:  command,
			Arg0:     arg0,
			Arg1:     arg1,
			Length:   uint32(len(payload)),
			Checksum: Checksum(payload),
			Magic:    command ^ 0xFFFFFFFF,
		},
		Payload: payload,
	}
}

// EncodeHeader encodes header to a slice of 24 bytes
func EncodeHeader(header *Header) []byte {
	buffer := bytes.NewBuffer(make([]byte, 0, HeaderLength))
	binary.Write(buffer, binary.LittleEndian, header)
	return buffer.Bytes()
}

// EncodeMessage encodes header followed by payload ready for the wire
func EncodeMessage(msg *Message) []byte {
	return append(EncodeHeader(&msg.Header), msg.Payload...)
}

// DecodeHeader decodes a slice of 24 bytes to Header and validates the
// command word and magic.
func DecodeHeader(raw []byte) (*Header, error) {
	if len(raw) != HeaderLength {
		return nil, &Error{Reason: MalformedHeader, Detail: "header must be 24 bytes"}
	}

	header := new(Header)
	buffer := bytes.NewBuffer(raw)
	if err := binary.Read(buffer, binary.LittleEndian, header); err != nil {
		return nil, &Error{Reason: MalformedHeader, Detail: err.Error()}
	}

	if !knownCommand(header.Command) {
		return nil, &Error{Reason: MalformedHeader, Detail: "unknown command " + CommandString(header.Command)}
	}
	if header.Magic != header.Command^0xFFFFFFFF {
		return nil, &Error{Reason: MalformedHeader, Detail: "bad magic for " + CommandString(header.Command)}
	}
	if header.Length > constants.MAX_PAYLOAD {
		return nil, &Error{Reason: MalformedHeader, Detail: "payload length exceeds maximum"}
	}
	return header, nil
}

// Checksum is the sum of all unsigned payload bytes, truncated to 32 bits.
func Checksum(payload []byte) uint32 {
	var sum uint32
	for _, b := range payload {
		sum += uint32(b)
	}
	return sum
}

// VerifyChecksum checks payload against the checksum claimed in the header
func VerifyChecksum(payload []byte, claimed uint32) bool {
	return Checksum(payload) == claimed
}

// CommandString renders a command word as its ASCII tag for logs and errors
func CommandString(command uint32) string {
	tag := []byte{
		byte(command),
		byte(command >> 8),
		byte(command >> 16),
		byte(command >> 24),
	}
	for _, c := range tag {
		if c < 0x20 || c > 0x7e {
			return "0x" + hexUint32(command)
		}
	}
	return string(tag)
}

func knownCommand(command uint32) bool {
	switch command {
	case CNXN, AUTH, OPEN, OKAY, WRTE, CLSE, SYNC:
		return true
	}
	return false
}

func hexUint32(v uint32) string {
	const digits = "0123456789abcdef"
	out := make([]byte, 8)
	for i := 7; i >= 0; i-- {
		out[i] = digits[v&0xf]
		v >>= 4
	}
	return string(out)
}
