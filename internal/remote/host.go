package remote

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"

	"github.com/twistedxcom/ciab/internal/tmux"
)

// HostConfig configures the session host side of the protocol.
type HostConfig struct {
	// ListenAddr defaults to 127.0.0.1:8423.
	ListenAddr string

	// ReadOnly rejects inbound Data and Resize messages.
	ReadOnly bool

	// HeartbeatTimeout drops clients that go silent. Default 30s.
	HeartbeatTimeout time.Duration
}

// Host serves tmux-backed PTY sessions to remote consoles over the frame
// protocol. One websocket connection drives one PTY attach.
type Host struct {
	cfg        HostConfig
	httpServer *http.Server
	baseCtx    context.Context
	cancelBase context.CancelFunc
}

var hostUpgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     allowOrigin,
}

func allowOrigin(r *http.Request) bool {
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" {
		return true
	}
	originURL, err := url.Parse(origin)
	if err != nil || originURL.Host == "" {
		return false
	}
	return strings.EqualFold(originURL.Host, r.Host)
}

// NewHost builds a host server. Call ListenAndServe to start it.
func NewHost(cfg HostConfig) *Host {
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = "127.0.0.1:8423"
	}
	if cfg.HeartbeatTimeout <= 0 {
		cfg.HeartbeatTimeout = 30 * time.Second
	}

	h := &Host{cfg: cfg}
	h.baseCtx, h.cancelBase = context.WithCancel(context.Background())

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", h.handleHealth)
	mux.HandleFunc("/ws/session/", h.handleSessionWS)

	h.httpServer = &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           mux,
		BaseContext:       func(_ net.Listener) context.Context { return h.baseCtx },
		ReadHeaderTimeout: 5 * time.Second,
	}
	return h
}

// ListenAndServe blocks serving connections until Shutdown.
func (h *Host) ListenAndServe() error {
	remoteLog.Info("host_listening", slog.String("addr", h.cfg.ListenAddr))
	err := h.httpServer.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown stops the server and cancels all session bridges.
func (h *Host) Shutdown(ctx context.Context) error {
	h.cancelBase()
	return h.httpServer.Shutdown(ctx)
}

func (h *Host) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	fmt.Fprintf(w, `{"ok":true,"readOnly":%v,"protocol":%d}`, h.cfg.ReadOnly, ProtocolVersion)
}

func (h *Host) handleSessionWS(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	const prefix = "/ws/session/"
	sessionName := strings.TrimPrefix(r.URL.Path, prefix)
	if sessionName == "" || strings.Contains(sessionName, "/") {
		http.Error(w, "session name is required", http.StatusBadRequest)
		return
	}
	// Only our namespaced sessions are reachable through the host.
	if !strings.HasPrefix(sessionName, tmux.SessionPrefix) {
		http.Error(w, "unknown session namespace", http.StatusNotFound)
		return
	}

	ws, err := hostUpgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	stream := newWSStream(ws)
	defer stream.Close()

	if err := h.serveSession(r.Context(), stream, sessionName); err != nil {
		remoteLog.Warn("session_bridge_ended",
			slog.String("session", sessionName),
			slog.String("error", err.Error()))
	}
}

// serveSession performs the hello exchange, attaches a PTY to the tmux
// session and pumps frames both ways until either side goes away.
func (h *Host) serveSession(ctx context.Context, stream *wsStream, sessionName string) error {
	dec := NewDecoder(stream)
	enc := &lockedEncoder{enc: NewEncoder(stream)}

	hello, err := dec.Decode()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrHandshake, err)
	}
	if hello.Type != MsgControl || hello.Kind != HelloKind() {
		_ = enc.Encode(Message{Type: MsgError, Reason: "protocol version mismatch"})
		return fmt.Errorf("%w: got %s %q", ErrHandshake, hello.Type, hello.Kind)
	}
	if err := enc.Encode(Message{Type: MsgControl, Kind: HelloKind()}); err != nil {
		return err
	}

	session := &tmux.Session{Name: sessionName}
	transport, err := tmux.NewPtyTransport(ctx, session)
	if err != nil {
		reason := "failed to attach terminal"
		if errors.Is(err, tmux.ErrSessionNotFound) {
			reason = "tmux session is not available"
		}
		_ = enc.Encode(Message{Type: MsgError, Reason: reason})
		return err
	}
	defer transport.Close()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, ctx := errgroup.WithContext(ctx)

	// PTY output to client.
	g.Go(func() error {
		var seq uint64
		for {
			select {
			case chunk, ok := <-transport.Output():
				if !ok {
					_ = enc.Encode(Message{Type: MsgControl, Kind: ControlDetach})
					return errors.New("pty stream ended")
				}
				seq++
				if err := enc.Encode(Message{Type: MsgData, Seq: seq, Data: chunk}); err != nil {
					return err
				}
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	})

	// Client input to PTY.
	g.Go(func() error {
		deadline := time.NewTimer(h.cfg.HeartbeatTimeout)
		defer deadline.Stop()

		frames := make(chan Message, 16)
		decodeErr := make(chan error, 1)
		go func() {
			for {
				m, err := dec.Decode()
				if err != nil {
					decodeErr <- err
					return
				}
				select {
				case frames <- m:
				case <-ctx.Done():
					return
				}
			}
		}()

		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case err := <-decodeErr:
				return err
			case <-deadline.C:
				return fmt.Errorf("client silent for %s", h.cfg.HeartbeatTimeout)
			case m := <-frames:
				if !deadline.Stop() {
					select {
					case <-deadline.C:
					default:
					}
				}
				deadline.Reset(h.cfg.HeartbeatTimeout)

				switch m.Type {
				case MsgData:
					if h.cfg.ReadOnly {
						continue
					}
					if err := transport.Write(m.Data); err != nil {
						return err
					}
				case MsgResize:
					if h.cfg.ReadOnly {
						continue
					}
					if err := transport.Resize(m.Cols, m.Rows); err != nil {
						_ = enc.Encode(Message{Type: MsgError, Reason: "resize failed"})
					}
				case MsgHeartbeat:
					if err := enc.Encode(Message{Type: MsgHeartbeat}); err != nil {
						return err
					}
				case MsgControl:
					if m.Kind == ControlDetach {
						return errors.New("client detached")
					}
				}
			}
		}
	})

	return g.Wait()
}

// lockedEncoder serializes frames from the output pump and the control
// plane onto one stream.
type lockedEncoder struct {
	mu  sync.Mutex
	enc *Encoder
}

func (l *lockedEncoder) Encode(m Message) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.enc.Encode(m)
}
