// Package session hosts the attach/detach lifecycle around a terminal
// transport. Each Session owns at most one live transport; all screen
// mutation happens on a single feed goroutine and readers only ever see
// immutable snapshots.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/twistedxcom/ciab/internal/activity"
	"github.com/twistedxcom/ciab/internal/logging"
	"github.com/twistedxcom/ciab/internal/term"
)

var sessionLog = logging.ForComponent(logging.CompSession)

// ErrSessionBusy is returned when a lifecycle transition is requested while
// another one is still in flight. Callers should retry after the current
// transition settles.
var ErrSessionBusy = errors.New("session transition in progress")

// ErrNotAttached is returned by operations that require a live transport.
var ErrNotAttached = errors.New("session not attached")

// ErrSessionTerminated is returned when operating on a terminated session.
var ErrSessionTerminated = errors.New("session terminated")

// ErrSessionExists is returned when creating a session whose sanitized name
// collides with an existing one.
var ErrSessionExists = errors.New("session already exists")

// ErrSessionNotFound is returned by manager lookups for unknown names.
var ErrSessionNotFound = errors.New("session not found")

// AttachState is the lifecycle state of a session's console attachment.
type AttachState int

const (
	Detached AttachState = iota
	Attaching
	Attached
	ScrollMode
	Detaching
	Terminated
)

func (s AttachState) String() string {
	switch s {
	case Detached:
		return "detached"
	case Attaching:
		return "attaching"
	case Attached:
		return "attached"
	case ScrollMode:
		return "scroll"
	case Detaching:
		return "detaching"
	case Terminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// Transport is a live byte stream to a running terminal session. Both the
// local PTY attach and the remote streaming client satisfy it.
type Transport interface {
	// Output delivers terminal bytes. The channel closes when the
	// transport ends for any reason.
	Output() <-chan []byte
	Write(p []byte) error
	Resize(cols, rows int) error
	Close() error
}

// TransportFactory builds the transport for an attach. The manager picks the
// factory based on whether the session is local or remote.
type TransportFactory func(ctx context.Context) (Transport, error)

// attachTimeout bounds how long an attach waits for the first output bytes.
// tmux redraws the whole pane on attach, so a healthy session responds
// within milliseconds.
const attachTimeout = 10 * time.Second

// Session is one tracked terminal session. Metadata fields are immutable
// after creation; lifecycle state is guarded by mu.
type Session struct {
	ID        string
	Label     string
	Name      string // sanitized tmux session name
	WorkDir   string
	Command   string
	RemoteURL string // empty for local sessions
	CreatedAt time.Time

	mu            sync.Mutex
	state         AttachState
	transitioning bool
	lastAttached  time.Time
	lastErr       error

	// scrollOffset is the view offset set by the last Scroll call and
	// scrollAnchor the snapshot's ScrollbackTotal at that moment. Together
	// they pin the scrolled view to absolute history rows: as output pushes
	// more rows into scrollback the effective offset grows by the same
	// amount, so the rows on screen do not move.
	scrollOffset int
	scrollAnchor uint64

	activityState atomic.Value // activity.State

	capture  CaptureOptions
	detector *activity.Detector

	// existsFn reports whether the underlying session is still alive.
	// Used to distinguish Terminated from Detached when a transport dies.
	// Nil means "assume alive".
	existsFn func() bool

	transport Transport
	resizeCh  chan resizeRequest
	feedDone  chan struct{}

	snapshot atomic.Pointer[term.Snapshot]
}

type resizeRequest struct {
	cols, rows int
	errc       chan error
}

// NewSession builds a session with the given identity and capture options.
func NewSession(id, label, name string, capture CaptureOptions, detector *activity.Detector) *Session {
	s := &Session{
		ID:        id,
		Label:     label,
		Name:      name,
		CreatedAt: time.Now(),
		capture:   capture,
		detector:  detector,
	}
	s.activityState.Store(activity.StateUnknown)
	return s
}

// State returns the current lifecycle state.
func (s *Session) State() AttachState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// LastError returns the error recorded by the most recent failed transition
// or transport loss.
func (s *Session) LastError() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

// Activity returns the last sampled activity state.
func (s *Session) Activity() activity.State {
	if v := s.activityState.Load(); v != nil {
		return v.(activity.State)
	}
	return activity.StateUnknown
}

// SetActivity records a sampled activity state.
func (s *Session) SetActivity(st activity.State) {
	s.activityState.Store(st)
}

// Snapshot returns the most recently published screen snapshot, or nil if
// the session has never been attached.
func (s *Session) Snapshot() *term.Snapshot {
	return s.snapshot.Load()
}

// ScrollOffset returns the current view offset (0 means live bottom). In
// ScrollMode the offset tracks output arriving underneath, so rendering
// snap.ViewRows(s.ScrollOffset()) shows the same rows frame after frame.
func (s *Session) ScrollOffset() int {
	snap := s.snapshot.Load()
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.effectiveOffset(snap)
}

// effectiveOffset translates the anchored scroll position into an offset
// against snap. Rows evicted from bounded scrollback clamp the result to the
// oldest retained row. Callers hold mu.
func (s *Session) effectiveOffset(snap *term.Snapshot) int {
	if s.scrollOffset == 0 || snap == nil {
		return s.scrollOffset
	}
	offset := s.scrollOffset + int(snap.ScrollbackTotal-s.scrollAnchor)
	if max := snap.MaxScrollOffset(); offset > max {
		offset = max
	}
	if offset < 0 {
		offset = 0
	}
	return offset
}

// LastAttached returns when the session was last successfully attached.
func (s *Session) LastAttached() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastAttached
}

// beginTransition moves the session from one of the allowed source states
// into the transitional state `to`. Concurrent transitions are rejected
// with ErrSessionBusy rather than queued.
func (s *Session) beginTransition(to AttachState, from ...AttachState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == Terminated {
		return ErrSessionTerminated
	}
	if s.transitioning {
		return ErrSessionBusy
	}
	ok := false
	for _, f := range from {
		if s.state == f {
			ok = true
			break
		}
	}
	if !ok {
		return fmt.Errorf("cannot transition %s -> %s", s.state, to)
	}
	s.transitioning = true
	s.state = to
	return nil
}

// settle completes a transition, recording the final state and error.
func (s *Session) settle(state AttachState, err error) {
	s.mu.Lock()
	s.state = state
	s.transitioning = false
	s.lastErr = err
	s.mu.Unlock()
}

// Attach builds a transport via factory and streams its output into a fresh
// screen. It blocks until the first bytes arrive or the attach fails. The
// session must be Detached.
func (s *Session) Attach(ctx context.Context, factory TransportFactory, cols, rows int) error {
	if err := s.beginTransition(Attaching, Detached); err != nil {
		return err
	}

	transport, err := factory(ctx)
	if err != nil {
		s.settle(Detached, err)
		sessionLog.Warn("attach_failed",
			slog.String("session", s.Name),
			slog.String("error", err.Error()))
		return err
	}

	screen := term.NewScreen(cols, rows, s.capture.HistoryLines)
	firstByte := make(chan struct{})
	feedDone := make(chan struct{})
	resizeCh := make(chan resizeRequest)

	s.mu.Lock()
	s.transport = transport
	s.feedDone = feedDone
	s.resizeCh = resizeCh
	s.mu.Unlock()

	go s.feedLoop(transport, screen, firstByte, feedDone, resizeCh)

	timer := time.NewTimer(attachTimeout)
	defer timer.Stop()
	select {
	case <-firstByte:
	case <-feedDone:
		err := fmt.Errorf("transport closed before first byte")
		s.clearTransport()
		s.settle(Detached, err)
		return err
	case <-timer.C:
		transport.Close()
		<-feedDone
		err := fmt.Errorf("no output within %s", attachTimeout)
		s.clearTransport()
		s.settle(Detached, err)
		return err
	case <-ctx.Done():
		transport.Close()
		<-feedDone
		s.clearTransport()
		s.settle(Detached, ctx.Err())
		return ctx.Err()
	}

	if err := transport.Resize(cols, rows); err != nil {
		sessionLog.Debug("attach_resize_failed",
			slog.String("session", s.Name),
			slog.String("error", err.Error()))
	}

	s.mu.Lock()
	// The transport can die between the first byte and here; transportLost
	// has then already settled the state and nilled the transport. Settling
	// to Attached on top of that would leave an attached session with no
	// transport behind it.
	if s.transport == nil {
		state := s.state
		err := s.lastErr
		s.mu.Unlock()
		<-feedDone
		if state == Terminated {
			return ErrSessionTerminated
		}
		if err == nil {
			err = ErrNotAttached
		}
		return err
	}
	s.state = Attached
	s.transitioning = false
	s.lastErr = nil
	s.lastAttached = time.Now()
	s.mu.Unlock()

	sessionLog.Info("attached",
		slog.String("session", s.Name),
		slog.Int("cols", cols), slog.Int("rows", rows))
	return nil
}

// feedLoop is the only goroutine that mutates screen. It applies output
// bytes and resize requests in arrival order and publishes a snapshot after
// every change, so resizes never interleave with partial escape sequences.
func (s *Session) feedLoop(t Transport, screen *term.Screen, firstByte chan struct{}, feedDone chan struct{}, resizeCh chan resizeRequest) {
	defer close(feedDone)

	sawBytes := false
	for {
		select {
		case chunk, ok := <-t.Output():
			if !ok {
				s.snapshot.Store(ptrSnapshot(screen))
				s.transportLost()
				return
			}
			screen.Feed(chunk)
			s.snapshot.Store(ptrSnapshot(screen))
			if !sawBytes {
				sawBytes = true
				close(firstByte)
			}
		case req := <-resizeCh:
			screen.Resize(req.cols, req.rows)
			s.snapshot.Store(ptrSnapshot(screen))
			req.errc <- t.Resize(req.cols, req.rows)
		}
	}
}

func ptrSnapshot(screen *term.Screen) *term.Snapshot {
	snap := screen.Snapshot()
	return &snap
}

// transportLost records a transport that ended outside of Detach. If the
// underlying session is gone the state becomes Terminated, otherwise the
// session drops back to Detached and can be re-attached.
func (s *Session) transportLost() {
	s.mu.Lock()
	if s.state == Detaching || s.state == Terminated {
		s.mu.Unlock()
		return
	}
	exists := true
	if s.existsFn != nil {
		exists = s.existsFn()
	}
	if exists {
		s.state = Detached
		s.lastErr = ErrNotAttached
	} else {
		s.state = Terminated
	}
	s.transitioning = false
	s.transport = nil
	s.scrollOffset = 0
	state := s.state
	s.mu.Unlock()

	sessionLog.Info("transport_lost",
		slog.String("session", s.Name),
		slog.String("state", state.String()))
}

func (s *Session) clearTransport() {
	s.mu.Lock()
	s.transport = nil
	s.resizeCh = nil
	s.feedDone = nil
	s.scrollOffset = 0
	s.mu.Unlock()
}

// Detach closes the transport and waits for the feed goroutine to drain.
// The underlying tmux session keeps running. The session must be Attached
// or in ScrollMode.
func (s *Session) Detach() error {
	if err := s.beginTransition(Detaching, Attached, ScrollMode); err != nil {
		return err
	}

	s.mu.Lock()
	transport := s.transport
	feedDone := s.feedDone
	s.mu.Unlock()

	if transport != nil {
		transport.Close()
	}
	if feedDone != nil {
		<-feedDone
	}

	s.clearTransport()
	s.settle(Detached, nil)
	sessionLog.Info("detached", slog.String("session", s.Name))
	return nil
}

// Terminate marks the session dead and tears down any live transport.
// Safe to call from any state.
func (s *Session) Terminate() {
	s.mu.Lock()
	if s.state == Terminated {
		s.mu.Unlock()
		return
	}
	s.state = Terminated
	s.transitioning = false
	transport := s.transport
	feedDone := s.feedDone
	s.transport = nil
	s.mu.Unlock()

	if transport != nil {
		transport.Close()
	}
	if feedDone != nil {
		<-feedDone
	}
	sessionLog.Info("terminated", slog.String("session", s.Name))
}

// SendInput writes bytes to the live transport.
func (s *Session) SendInput(p []byte) error {
	s.mu.Lock()
	transport := s.transport
	state := s.state
	s.mu.Unlock()

	if transport == nil || (state != Attached && state != ScrollMode) {
		return ErrNotAttached
	}
	return transport.Write(p)
}

// Resize applies new dimensions to the screen and the transport. The screen
// reflow and the transport resize are serialized through the feed goroutine
// so no output bytes are applied at the stale size.
func (s *Session) Resize(cols, rows int) error {
	s.mu.Lock()
	resizeCh := s.resizeCh
	feedDone := s.feedDone
	s.mu.Unlock()

	if resizeCh == nil {
		return ErrNotAttached
	}
	req := resizeRequest{cols: cols, rows: rows, errc: make(chan error, 1)}
	select {
	case resizeCh <- req:
		err := <-req.errc
		s.reanchorScroll()
		return err
	case <-feedDone:
		return ErrNotAttached
	}
}

// reanchorScroll re-pins a scrolled view after a reflow. Reflow rebuilds
// scrollback row by row, so the snapshot's ScrollbackTotal jumps and the old
// anchor no longer lines up; the offset is kept and re-anchored against the
// post-reflow snapshot.
func (s *Session) reanchorScroll() {
	snap := s.snapshot.Load()
	if snap == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.scrollOffset == 0 {
		return
	}
	if max := snap.MaxScrollOffset(); s.scrollOffset > max {
		s.scrollOffset = max
	}
	s.scrollAnchor = snap.ScrollbackTotal
	if s.scrollOffset == 0 && s.state == ScrollMode {
		s.state = Attached
	}
}

// Scroll adjusts the view offset by delta lines (positive scrolls back in
// history). A nonzero offset puts the session in ScrollMode; returning to
// offset 0 resumes the live view. Output continues to stream underneath.
func (s *Session) Scroll(delta int) (int, error) {
	snap := s.snapshot.Load()

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != Attached && s.state != ScrollMode {
		return 0, ErrNotAttached
	}

	offset := s.effectiveOffset(snap) + delta
	if offset < 0 {
		offset = 0
	}
	if snap != nil {
		if max := snap.MaxScrollOffset(); offset > max {
			offset = max
		}
		s.scrollAnchor = snap.ScrollbackTotal
	}
	s.scrollOffset = offset
	if offset > 0 {
		s.state = ScrollMode
	} else {
		s.state = Attached
	}
	return offset, nil
}

// ScrollToBottom leaves ScrollMode and resumes the live view.
func (s *Session) ScrollToBottom() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scrollOffset = 0
	if s.state == ScrollMode {
		s.state = Attached
	}
}
