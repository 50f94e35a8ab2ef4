// Package remote carries a PTY byte stream between the console and a remote
// session host over a framed streaming protocol. The wire format is shared
// with the browser client; treat it as a stable, versioned schema.
package remote

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"
)

// ProtocolVersion is exchanged in the hello control message. Bump only with
// a compatible decoding path for the previous version.
const ProtocolVersion = 1

// MessageType discriminates frames on the wire.
type MessageType byte

const (
	MsgData      MessageType = 1
	MsgResize    MessageType = 2
	MsgControl   MessageType = 3
	MsgHeartbeat MessageType = 4
	MsgError     MessageType = 5
)

func (t MessageType) String() string {
	switch t {
	case MsgData:
		return "data"
	case MsgResize:
		return "resize"
	case MsgControl:
		return "control"
	case MsgHeartbeat:
		return "heartbeat"
	case MsgError:
		return "error"
	default:
		return fmt.Sprintf("unknown(%d)", byte(t))
	}
}

// Control kinds used by both ends.
const (
	ControlHello  = "hello"
	ControlDetach = "detach"
	ControlReset  = "reset"
)

// Message is one logical protocol unit. Exactly one payload group is
// meaningful per type: Data for MsgData, Cols/Rows for MsgResize, Kind for
// MsgControl, Timestamp for MsgHeartbeat, Reason for MsgError.
type Message struct {
	Type MessageType
	Seq  uint64

	Data      []byte
	Cols      int
	Rows      int
	Kind      string
	Timestamp time.Time
	Reason    string
}

// Frame layout: type(1) | payloadLen(4, big-endian) | seq(8, big-endian) |
// payload(payloadLen). payloadLen excludes the header and seq.
const frameHeaderLen = 1 + 4 + 8

// maxFrameLen rejects absurd frames before allocating for them.
const maxFrameLen = 8 * 1024 * 1024

// ErrFrameTooLarge is returned when a frame declares a payload beyond
// maxFrameLen, which means corruption or a protocol mismatch.
var ErrFrameTooLarge = errors.New("frame payload exceeds limit")

// ErrUnknownMessageType is returned for a type byte outside the schema.
var ErrUnknownMessageType = errors.New("unknown message type")

// Encoder writes messages as frames. Not safe for concurrent use; the
// session's write path is the single writer.
type Encoder struct {
	w io.Writer
}

// NewEncoder wraps a writer.
func NewEncoder(w io.Writer) *Encoder {
	return &Encoder{w: w}
}

// Encode writes one message as a single frame.
func (e *Encoder) Encode(m Message) error {
	payload, err := encodePayload(m)
	if err != nil {
		return err
	}
	if len(payload) > maxFrameLen {
		return ErrFrameTooLarge
	}

	header := make([]byte, frameHeaderLen, frameHeaderLen+len(payload))
	header[0] = byte(m.Type)
	binary.BigEndian.PutUint32(header[1:5], uint32(len(payload)))
	binary.BigEndian.PutUint64(header[5:13], m.Seq)

	_, err = e.w.Write(append(header, payload...))
	return err
}

func encodePayload(m Message) ([]byte, error) {
	switch m.Type {
	case MsgData:
		return m.Data, nil
	case MsgResize:
		p := make([]byte, 4)
		binary.BigEndian.PutUint16(p[0:2], uint16(m.Cols))
		binary.BigEndian.PutUint16(p[2:4], uint16(m.Rows))
		return p, nil
	case MsgControl:
		return []byte(m.Kind), nil
	case MsgHeartbeat:
		p := make([]byte, 8)
		ts := m.Timestamp
		if ts.IsZero() {
			ts = time.Now()
		}
		binary.BigEndian.PutUint64(p, uint64(ts.UnixNano()))
		return p, nil
	case MsgError:
		return []byte(m.Reason), nil
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnknownMessageType, m.Type)
	}
}

// Decoder reconstructs messages from a byte stream. The underlying reader
// may deliver frames in arbitrarily small pieces; Decode buffers until a
// complete frame is available and never yields a partial message.
type Decoder struct {
	r io.Reader

	header [frameHeaderLen]byte
}

// NewDecoder wraps a reader.
func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{r: r}
}

// Decode blocks until one full frame has arrived and returns it as a
// Message. io.EOF means a clean end of stream at a frame boundary;
// io.ErrUnexpectedEOF means the stream died mid-frame.
func (d *Decoder) Decode() (Message, error) {
	if _, err := io.ReadFull(d.r, d.header[:]); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return Message{}, io.ErrUnexpectedEOF
		}
		return Message{}, err
	}

	msgType := MessageType(d.header[0])
	payloadLen := binary.BigEndian.Uint32(d.header[1:5])
	seq := binary.BigEndian.Uint64(d.header[5:13])

	if payloadLen > maxFrameLen {
		return Message{}, fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, payloadLen)
	}

	payload := make([]byte, payloadLen)
	if _, err := io.ReadFull(d.r, payload); err != nil {
		if errors.Is(err, io.EOF) {
			return Message{}, io.ErrUnexpectedEOF
		}
		return Message{}, err
	}

	return decodePayload(msgType, seq, payload)
}

func decodePayload(t MessageType, seq uint64, payload []byte) (Message, error) {
	m := Message{Type: t, Seq: seq}
	switch t {
	case MsgData:
		m.Data = payload
	case MsgResize:
		if len(payload) != 4 {
			return Message{}, fmt.Errorf("resize payload must be 4 bytes, got %d", len(payload))
		}
		m.Cols = int(binary.BigEndian.Uint16(payload[0:2]))
		m.Rows = int(binary.BigEndian.Uint16(payload[2:4]))
	case MsgControl:
		m.Kind = string(payload)
	case MsgHeartbeat:
		if len(payload) != 8 {
			return Message{}, fmt.Errorf("heartbeat payload must be 8 bytes, got %d", len(payload))
		}
		m.Timestamp = time.Unix(0, int64(binary.BigEndian.Uint64(payload)))
	case MsgError:
		m.Reason = string(payload)
	default:
		return Message{}, fmt.Errorf("%w: %d", ErrUnknownMessageType, byte(t))
	}
	return m, nil
}

// HelloKind formats the hello control payload for this protocol version.
func HelloKind() string {
	return fmt.Sprintf("%s:%d", ControlHello, ProtocolVersion)
}
