// Package slimproto implements framing and message codecs for the SlimProto
// control channel.
//
// Frames travel in two shapes. Client to server: a 4-char ASCII opcode, a
// 4-byte big-endian payload length, then the payload — the opcode leads so
// the dispatcher can recognize a handshake from the first bytes on the wire.
// Server to client: a 2-byte big-endian length covering opcode plus payload,
// then the 4-char opcode, then the payload.
package slimproto

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"net"
	"strings"

	"slimcast/internal/core/domain"
)

// Client to server opcodes.
const (
	OpHello = "HELO"
	OpPong  = "PONG"
	OpBye   = "BYE!"
)

// Server to client opcodes.
const (
	OpStream = "strm"
	OpPing   = "ping"
)

const (
	opcodeLen        = 4
	clientHeaderLen  = opcodeLen + 4
	serverHeaderLen  = 2
	maxPayloadLength = 1 << 20
)

// ErrShortFrame reports that the buffer does not yet hold a complete frame;
// the caller should wait for more bytes.
var ErrShortFrame = fmt.Errorf("slimproto: incomplete frame")

// Frame is one decoded message, from either direction.
type Frame struct {
	Op      string
	Payload []byte
}

// DecodeFrame decodes the first client frame in buf and returns the bytes
// that follow it. ErrShortFrame means buf does not yet hold a complete frame
// (the opcode and length are only checked once the 8-byte header is
// present); any other error means the stream is unrecoverable.
func DecodeFrame(buf []byte) (Frame, []byte, error) {
	if len(buf) < clientHeaderLen {
		return Frame{}, buf, ErrShortFrame
	}
	op := string(buf[:opcodeLen])
	for i := 0; i < opcodeLen; i++ {
		if buf[i] < 0x20 || buf[i] > 0x7e {
			return Frame{}, buf, fmt.Errorf("slimproto: invalid opcode %q", op)
		}
	}
	size := binary.BigEndian.Uint32(buf[opcodeLen:clientHeaderLen])
	if size > maxPayloadLength {
		return Frame{}, buf, fmt.Errorf("slimproto: payload length %d exceeds limit", size)
	}
	total := clientHeaderLen + int(size)
	if len(buf) < total {
		return Frame{}, buf, ErrShortFrame
	}
	return Frame{Op: op, Payload: buf[clientHeaderLen:total]}, buf[total:], nil
}

// EncodeFrame builds a client-to-server frame. Used by tests and clients.
func EncodeFrame(op string, payload []byte) []byte {
	buf := make([]byte, clientHeaderLen+len(payload))
	copy(buf, op)
	binary.BigEndian.PutUint32(buf[opcodeLen:], uint32(len(payload)))
	copy(buf[clientHeaderLen:], payload)
	return buf
}

// EncodeServerFrame builds a server-to-client frame. The length header
// covers the opcode and the payload.
func EncodeServerFrame(op string, payload []byte) []byte {
	buf := make([]byte, serverHeaderLen+opcodeLen+len(payload))
	binary.BigEndian.PutUint16(buf, uint16(opcodeLen+len(payload)))
	copy(buf[serverHeaderLen:], op)
	copy(buf[serverHeaderLen+opcodeLen:], payload)
	return buf
}

// DecodeServerFrame decodes one server-to-client frame. Used by tests and
// clients.
func DecodeServerFrame(buf []byte) (Frame, []byte, error) {
	if len(buf) < serverHeaderLen {
		return Frame{}, buf, ErrShortFrame
	}
	size := int(binary.BigEndian.Uint16(buf))
	if size < opcodeLen {
		return Frame{}, buf, fmt.Errorf("slimproto: server frame length %d below opcode size", size)
	}
	total := serverHeaderLen + size
	if len(buf) < total {
		return Frame{}, buf, ErrShortFrame
	}
	op := string(buf[serverHeaderLen : serverHeaderLen+opcodeLen])
	return Frame{Op: op, Payload: buf[serverHeaderLen+opcodeLen : total]}, buf[total:], nil
}

// Hello carries the client handshake: device identity plus the capability
// list the client advertises.
type Hello struct {
	DeviceID     uint8
	Revision     uint8
	MAC          net.HardwareAddr
	Capabilities []string
}

// ParseHello parses a HELO payload: device id byte, revision byte, 6-byte
// MAC, then an optional comma-separated capability list.
func ParseHello(payload []byte) (Hello, error) {
	if len(payload) < 8 {
		return Hello{}, fmt.Errorf("slimproto: HELO payload too short (%d bytes)", len(payload))
	}
	h := Hello{
		DeviceID: payload[0],
		Revision: payload[1],
		MAC:      net.HardwareAddr(append([]byte(nil), payload[2:8]...)),
	}
	if rest := strings.Trim(string(payload[8:]), "\x00 "); rest != "" {
		h.Capabilities = strings.Split(rest, ",")
	}
	return h, nil
}

// EncodeHello builds a HELO payload. Used by tests and clients.
func EncodeHello(h Hello) []byte {
	payload := make([]byte, 8, 8+64)
	payload[0] = h.DeviceID
	payload[1] = h.Revision
	copy(payload[2:8], h.MAC)
	if len(h.Capabilities) > 0 {
		payload = append(payload, strings.Join(h.Capabilities, ",")...)
	}
	return payload
}

// ClientIDFromMAC derives the wire client identity from a MAC address:
// lowercase hex without separators.
func ClientIDFromMAC(mac net.HardwareAddr) domain.ClientID {
	return domain.ClientID(hex.EncodeToString(mac))
}

// Selection selects the stream command action.
type Selection byte

const (
	SelectionStart   Selection = 's'
	SelectionStop    Selection = 'q'
	SelectionPause   Selection = 'p'
	SelectionUnpause Selection = 'u'
)

// Format bytes for the stream command.
const (
	FormatPCM byte = 'p'
	FormatMP3 byte = 'm'
)

// StreamCommand instructs the client to act on its audio connection. On
// Start the client opens an HTTP GET to the embedded URL.
type StreamCommand struct {
	Selection  Selection
	Format     byte
	SampleSize uint8
	SampleRate int
	URL        string
}

// EncodeStream builds a complete strm server frame.
func EncodeStream(cmd StreamCommand) []byte {
	payload := make([]byte, 7+len(cmd.URL))
	payload[0] = byte(cmd.Selection)
	payload[1] = cmd.Format
	payload[2] = cmd.SampleSize
	binary.BigEndian.PutUint32(payload[3:7], uint32(cmd.SampleRate))
	copy(payload[7:], cmd.URL)
	return EncodeServerFrame(OpStream, payload)
}

// DecodeStream parses a strm payload. Used by tests and clients.
func DecodeStream(payload []byte) (StreamCommand, error) {
	if len(payload) < 7 {
		return StreamCommand{}, fmt.Errorf("slimproto: strm payload too short (%d bytes)", len(payload))
	}
	return StreamCommand{
		Selection:  Selection(payload[0]),
		Format:     payload[1],
		SampleSize: payload[2],
		SampleRate: int(binary.BigEndian.Uint32(payload[3:7])),
		URL:        string(payload[7:]),
	}, nil
}

// EncodePing builds a complete ping server frame carrying the send
// timestamp in nanoseconds.
func EncodePing(timestamp uint64) []byte {
	payload := make([]byte, 8)
	binary.BigEndian.PutUint64(payload, timestamp)
	return EncodeServerFrame(OpPing, payload)
}

// ParsePong extracts the echoed timestamp from a PONG payload.
func ParsePong(payload []byte) (uint64, error) {
	if len(payload) != 8 {
		return 0, fmt.Errorf("slimproto: PONG payload must be 8 bytes, got %d", len(payload))
	}
	return binary.BigEndian.Uint64(payload), nil
}

// EncodePong builds a PONG client frame. Used by tests and clients.
func EncodePong(timestamp uint64) []byte {
	payload := make([]byte, 8)
	binary.BigEndian.PutUint64(payload, timestamp)
	return EncodeFrame(OpPong, payload)
}
