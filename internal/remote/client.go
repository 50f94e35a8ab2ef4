package remote

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/twistedxcom/ciab/internal/logging"
)

var remoteLog = logging.ForComponent(logging.CompRemote)

// ConnState is the connection lifecycle of a remote transport.
type ConnState int

const (
	StateConnecting ConnState = iota
	StateConnected
	StateReconnecting
	StateDisconnected
	StateFailed
)

func (s ConnState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	case StateDisconnected:
		return "disconnected"
	case StateFailed:
		return "failed"
	default:
		return "invalid"
	}
}

// ErrConnFailed is returned for operations on a client in the Failed state.
// The client stays failed until Reset.
var ErrConnFailed = errors.New("remote connection failed")

// ErrHandshake is returned when the host's hello does not match ours.
var ErrHandshake = errors.New("protocol handshake failed")

// Config tunes the remote client. Zero values select the defaults.
type Config struct {
	// URL is the websocket endpoint of the session host, e.g.
	// ws://host:8423/ws/session/ciab_my-branch
	URL string

	HeartbeatInterval time.Duration // default 5s
	HeartbeatTimeout  time.Duration // default 15s

	MaxReconnectAttempts int           // default 5
	BackoffBase          time.Duration // default 500ms
	BackoffMax           time.Duration // default 16s
}

func (c *Config) applyDefaults() {
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = 5 * time.Second
	}
	if c.HeartbeatTimeout <= 0 {
		c.HeartbeatTimeout = 15 * time.Second
	}
	if c.MaxReconnectAttempts <= 0 {
		c.MaxReconnectAttempts = 5
	}
	if c.BackoffBase <= 0 {
		c.BackoffBase = 500 * time.Millisecond
	}
	if c.BackoffMax <= 0 {
		c.BackoffMax = 16 * time.Second
	}
}

// Client is the remote PTY transport: it frames protocol messages over a
// websocket to a session host and reconnects with bounded exponential
// backoff when the stream stalls or drops.
//
// Output data, resizes and control messages all flow through one writer
// goroutine, so a Resize issued after a block of input keeps its position
// relative to that input on the wire.
type Client struct {
	cfg Config

	mu         sync.Mutex
	state      ConnState
	failReason string

	output chan []byte
	sendCh chan Message

	seq      atomic.Uint64
	lastRecv atomic.Int64

	started   bool
	closeOnce sync.Once
	done      chan struct{}
}

// NewClient builds a client; no connection is made until Start.
func NewClient(cfg Config) *Client {
	cfg.applyDefaults()
	return &Client{
		cfg:    cfg,
		state:  StateDisconnected,
		output: make(chan []byte, 64),
		sendCh: make(chan Message, 64),
		done:   make(chan struct{}),
	}
}

// State returns the current connection state and, for Failed, the reason.
func (c *Client) State() (ConnState, string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state, c.failReason
}

func (c *Client) setState(s ConnState, reason string) {
	c.mu.Lock()
	prev := c.state
	c.state = s
	c.failReason = reason
	c.mu.Unlock()
	if prev != s {
		remoteLog.Info("conn_state",
			slog.String("from", prev.String()),
			slog.String("to", s.String()),
			slog.String("reason", reason))
	}
}

// Start dials the host and begins streaming. It returns once the first
// connection attempt resolves; reconnection afterwards is automatic.
func (c *Client) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return errors.New("client already started")
	}
	if c.state == StateFailed {
		c.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrConnFailed, c.failReason)
	}
	c.started = true
	c.mu.Unlock()

	c.setState(StateConnecting, "")
	conn, err := c.dial(ctx)
	if err != nil {
		c.setState(StateDisconnected, "")
		c.mu.Lock()
		c.started = false
		c.mu.Unlock()
		return fmt.Errorf("connect %s: %w", c.cfg.URL, err)
	}
	c.setState(StateConnected, "")

	go c.run(ctx, conn)
	return nil
}

// dial opens the websocket and performs the hello exchange.
func (c *Client) dial(ctx context.Context) (*wsStream, error) {
	ws, _, err := websocket.DefaultDialer.DialContext(ctx, c.cfg.URL, nil)
	if err != nil {
		return nil, err
	}
	stream := newWSStream(ws)

	enc := NewEncoder(stream)
	if err := enc.Encode(Message{Type: MsgControl, Seq: c.seq.Add(1), Kind: HelloKind()}); err != nil {
		stream.Close()
		return nil, err
	}

	dec := NewDecoder(stream)
	hello, err := dec.Decode()
	if err != nil {
		stream.Close()
		return nil, fmt.Errorf("%w: %v", ErrHandshake, err)
	}
	if hello.Type != MsgControl || hello.Kind != HelloKind() {
		stream.Close()
		return nil, fmt.Errorf("%w: got %s %q", ErrHandshake, hello.Type, hello.Kind)
	}

	c.lastRecv.Store(time.Now().UnixNano())
	return stream, nil
}

// run owns the live connection, replacing it on failure until the retry
// budget is spent.
func (c *Client) run(ctx context.Context, stream *wsStream) {
	defer close(c.output)

	for {
		err := c.serveConn(ctx, stream)
		stream.Close()

		select {
		case <-c.done:
			c.setState(StateDisconnected, "")
			return
		case <-ctx.Done():
			c.setState(StateDisconnected, "")
			return
		default:
		}

		remoteLog.Warn("conn_lost", slog.String("error", errString(err)))
		c.setState(StateReconnecting, "")

		stream = c.redial(ctx)
		if stream == nil {
			return // state already Failed or shutdown
		}
		c.setState(StateConnected, "")
	}
}

// redial attempts reconnection with exponential backoff. Returns nil after
// the attempt budget is exhausted (state Failed) or on shutdown.
func (c *Client) redial(ctx context.Context) *wsStream {
	backoff := c.cfg.BackoffBase
	for attempt := 1; attempt <= c.cfg.MaxReconnectAttempts; attempt++ {
		select {
		case <-c.done:
			return nil
		case <-ctx.Done():
			return nil
		case <-time.After(backoff):
		}

		stream, err := c.dial(ctx)
		if err == nil {
			remoteLog.Info("reconnected", slog.Int("attempt", attempt))
			return stream
		}
		remoteLog.Warn("reconnect_attempt_failed",
			slog.Int("attempt", attempt),
			slog.String("error", err.Error()))

		backoff *= 2
		if backoff > c.cfg.BackoffMax {
			backoff = c.cfg.BackoffMax
		}
	}

	c.setState(StateFailed, fmt.Sprintf("gave up after %d reconnect attempts", c.cfg.MaxReconnectAttempts))
	return nil
}

// serveConn pumps one live connection: a reader goroutine decodes inbound
// frames while this goroutine writes outbound messages, heartbeats and
// watches for a stalled peer.
func (c *Client) serveConn(ctx context.Context, stream *wsStream) error {
	readErr := make(chan error, 1)
	inbound := make(chan Message, 64)

	go func() {
		dec := NewDecoder(stream)
		for {
			m, err := dec.Decode()
			if err != nil {
				readErr <- err
				return
			}
			select {
			case inbound <- m:
			case <-c.done:
				return
			}
		}
	}()

	enc := NewEncoder(stream)
	heartbeat := time.NewTicker(c.cfg.HeartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-c.done:
			// Best-effort polite detach.
			_ = enc.Encode(Message{Type: MsgControl, Seq: c.seq.Add(1), Kind: ControlDetach})
			return nil
		case <-ctx.Done():
			return ctx.Err()
		case err := <-readErr:
			return err
		case m := <-inbound:
			if err := c.handleInbound(m); err != nil {
				return err
			}
		case m := <-c.sendCh:
			m.Seq = c.seq.Add(1)
			if err := enc.Encode(m); err != nil {
				return err
			}
		case <-heartbeat.C:
			if err := enc.Encode(Message{Type: MsgHeartbeat, Seq: c.seq.Add(1)}); err != nil {
				return err
			}
			last := time.Unix(0, c.lastRecv.Load())
			if time.Since(last) > c.cfg.HeartbeatTimeout {
				return fmt.Errorf("no data or heartbeat within %s", c.cfg.HeartbeatTimeout)
			}
		}
	}
}

func (c *Client) handleInbound(m Message) error {
	c.lastRecv.Store(time.Now().UnixNano())
	switch m.Type {
	case MsgData:
		select {
		case c.output <- m.Data:
		case <-c.done:
		}
	case MsgHeartbeat:
		// lastRecv already updated.
	case MsgError:
		return fmt.Errorf("host error: %s", m.Reason)
	case MsgControl:
		if m.Kind == ControlDetach {
			return errors.New("host requested detach")
		}
	}
	return nil
}

// Output returns the remote PTY byte stream. Closed when the connection
// shuts down or fails permanently.
func (c *Client) Output() <-chan []byte {
	return c.output
}

// Write queues input bytes for the remote PTY.
func (c *Client) Write(p []byte) error {
	return c.send(Message{Type: MsgData, Data: append([]byte(nil), p...)})
}

// Resize queues a terminal resize. Ordering relative to previously written
// input is preserved because both flow through the same send queue.
func (c *Client) Resize(cols, rows int) error {
	if cols <= 0 || rows <= 0 {
		return fmt.Errorf("invalid dimensions: cols=%d rows=%d", cols, rows)
	}
	return c.send(Message{Type: MsgResize, Cols: cols, Rows: rows})
}

func (c *Client) send(m Message) error {
	state, reason := c.State()
	if state == StateFailed {
		return fmt.Errorf("%w: %s", ErrConnFailed, reason)
	}
	select {
	case c.sendCh <- m:
		return nil
	case <-c.done:
		return errors.New("client closed")
	}
}

// Close shuts the client down and unblocks all pending operations.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		close(c.done)
	})
	return nil
}

// Reset clears the Failed state so the owning Session may retry attach.
// Channels are replaced, so the client can Start again. Only meaningful once
// the previous run loop has finished; callers serialize attach transitions.
func (c *Client) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateFailed {
		return
	}
	c.state = StateDisconnected
	c.failReason = ""
	c.started = false
	c.output = make(chan []byte, 64)
	c.sendCh = make(chan Message, 64)
	c.done = make(chan struct{})
	c.closeOnce = sync.Once{}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
