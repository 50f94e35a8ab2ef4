package remote

import (
	"bytes"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleMessages() []Message {
	return []Message{
		{Type: MsgControl, Seq: 1, Kind: HelloKind()},
		{Type: MsgData, Seq: 2, Data: []byte("hello \x1b[31mworld\x1b[0m\r\n")},
		{Type: MsgResize, Seq: 3, Cols: 120, Rows: 40},
		{Type: MsgData, Seq: 4, Data: []byte{}},
		{Type: MsgHeartbeat, Seq: 5, Timestamp: time.Unix(0, 1700000000000000000)},
		{Type: MsgError, Seq: 6, Reason: "session host going away"},
		{Type: MsgControl, Seq: 7, Kind: ControlDetach},
		{Type: MsgData, Seq: 8, Data: bytes.Repeat([]byte{0x00, 0xff, 0x1b}, 1000)},
	}
}

func encodeAll(t *testing.T, msgs []Message) []byte {
	t.Helper()
	var buf bytes.Buffer
	enc := NewEncoder(&buf)
	for _, m := range msgs {
		require.NoError(t, enc.Encode(m))
	}
	return buf.Bytes()
}

func assertMessagesEqual(t *testing.T, want, got Message) {
	t.Helper()
	assert.Equal(t, want.Type, got.Type)
	assert.Equal(t, want.Seq, got.Seq)
	switch want.Type {
	case MsgData:
		assert.Equal(t, len(want.Data), len(got.Data))
		assert.True(t, bytes.Equal(want.Data, got.Data), "data payload must round-trip byte-exact")
	case MsgResize:
		assert.Equal(t, want.Cols, got.Cols)
		assert.Equal(t, want.Rows, got.Rows)
	case MsgControl:
		assert.Equal(t, want.Kind, got.Kind)
	case MsgHeartbeat:
		assert.True(t, want.Timestamp.Equal(got.Timestamp))
	case MsgError:
		assert.Equal(t, want.Reason, got.Reason)
	}
}

func TestRoundTrip(t *testing.T) {
	msgs := sampleMessages()
	wire := encodeAll(t, msgs)

	dec := NewDecoder(bytes.NewReader(wire))
	for _, want := range msgs {
		got, err := dec.Decode()
		require.NoError(t, err)
		assertMessagesEqual(t, want, got)
	}
	_, err := dec.Decode()
	assert.ErrorIs(t, err, io.EOF)
}

// chunkReader delivers at most n bytes per Read to simulate transport
// fragmentation.
type chunkReader struct {
	data []byte
	n    int
}

func (c *chunkReader) Read(p []byte) (int, error) {
	if len(c.data) == 0 {
		return 0, io.EOF
	}
	n := c.n
	if n > len(c.data) {
		n = len(c.data)
	}
	if n > len(p) {
		n = len(p)
	}
	copy(p, c.data[:n])
	c.data = c.data[n:]
	return n, nil
}

func TestRoundTripFragmented(t *testing.T) {
	msgs := sampleMessages()
	wire := encodeAll(t, msgs)

	for _, chunkSize := range []int{1, 2, 3, 7, 13, 64} {
		dec := NewDecoder(&chunkReader{data: append([]byte(nil), wire...), n: chunkSize})
		for _, want := range msgs {
			got, err := dec.Decode()
			require.NoError(t, err, "chunk size %d", chunkSize)
			assertMessagesEqual(t, want, got)
		}
		_, err := dec.Decode()
		assert.ErrorIs(t, err, io.EOF)
	}
}

func TestDecodeMidFrameEOF(t *testing.T) {
	wire := encodeAll(t, []Message{{Type: MsgData, Seq: 1, Data: []byte("truncated payload")}})

	// Cut inside the header and inside the payload.
	for _, cut := range []int{1, 5, 12, len(wire) - 3} {
		dec := NewDecoder(bytes.NewReader(wire[:cut]))
		_, err := dec.Decode()
		assert.ErrorIs(t, err, io.ErrUnexpectedEOF, "cut at %d", cut)
	}
}

func TestDecodeRejectsOversizedFrame(t *testing.T) {
	var buf bytes.Buffer
	buf.WriteByte(byte(MsgData))
	buf.Write([]byte{0xff, 0xff, 0xff, 0xff}) // absurd length
	buf.Write(make([]byte, 8))

	dec := NewDecoder(&buf)
	_, err := dec.Decode()
	assert.ErrorIs(t, err, ErrFrameTooLarge)
}

func TestDecodeRejectsUnknownType(t *testing.T) {
	var buf bytes.Buffer
	buf.WriteByte(0x7f)
	buf.Write([]byte{0, 0, 0, 0})
	buf.Write(make([]byte, 8))

	dec := NewDecoder(&buf)
	_, err := dec.Decode()
	assert.ErrorIs(t, err, ErrUnknownMessageType)
}

func TestRelativeOrderPreserved(t *testing.T) {
	// A resize issued after a block of data must decode after that data.
	msgs := []Message{
		{Type: MsgData, Seq: 1, Data: []byte("before resize")},
		{Type: MsgResize, Seq: 2, Cols: 80, Rows: 24},
		{Type: MsgData, Seq: 3, Data: []byte("after resize")},
	}
	dec := NewDecoder(bytes.NewReader(encodeAll(t, msgs)))

	var order []MessageType
	for range msgs {
		m, err := dec.Decode()
		require.NoError(t, err)
		order = append(order, m.Type)
	}
	assert.Equal(t, []MessageType{MsgData, MsgResize, MsgData}, order)
}
