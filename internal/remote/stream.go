package remote

import (
	"io"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// wsStream adapts a websocket connection to an ordered byte stream for the
// frame codec. Websocket message boundaries are ignored on the read side:
// the codec's framing, not the websocket's, defines message boundaries, so
// the protocol also fits plain TCP or any other reliable duplex transport.
type wsStream struct {
	conn *websocket.Conn

	reader io.Reader // current websocket message being drained

	writeMu sync.Mutex
}

const wsWriteDeadline = 10 * time.Second

func newWSStream(conn *websocket.Conn) *wsStream {
	return &wsStream{conn: conn}
}

func (s *wsStream) Read(p []byte) (int, error) {
	for {
		if s.reader == nil {
			_, r, err := s.conn.NextReader()
			if err != nil {
				return 0, err
			}
			s.reader = r
		}
		n, err := s.reader.Read(p)
		if err == io.EOF {
			// Current websocket message drained; continue with the next.
			s.reader = nil
			if n > 0 {
				return n, nil
			}
			continue
		}
		return n, err
	}
}

func (s *wsStream) Write(p []byte) (int, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(wsWriteDeadline))
	if err := s.conn.WriteMessage(websocket.BinaryMessage, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

func (s *wsStream) Close() error {
	return s.conn.Close()
}
