package session

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/twistedxcom/ciab/internal/activity"
	"github.com/twistedxcom/ciab/internal/remote"
	"github.com/twistedxcom/ciab/internal/statedb"
	"github.com/twistedxcom/ciab/internal/tmux"
)

// Manager owns the session registry. Sessions are keyed by their sanitized
// tmux name, so two labels that sanitize to the same name collide at
// creation time instead of silently sharing a tmux session.
type Manager struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	cfg      *UserConfig
	detector *activity.Detector

	db *statedb.StateDB // nil disables persistence

	samplerOnce sync.Once
	samplerStop context.CancelFunc
}

// NewManager creates a manager with the given config and optional database.
// Pass a nil db to run without persistence.
func NewManager(cfg *UserConfig, db *statedb.StateDB) *Manager {
	if cfg == nil {
		cfg = DefaultUserConfig()
	}
	return &Manager{
		sessions: make(map[string]*Session),
		cfg:      cfg,
		detector: activity.NewDetector(cfg.Markers, cfg.Capture.TailLines),
		db:       db,
	}
}

// ApplyConfig swaps in a freshly loaded config. Existing sessions pick up
// the new markers on their next activity sample.
func (m *Manager) ApplyConfig(cfg *UserConfig) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cfg = cfg
	m.detector = activity.NewDetector(cfg.Markers, cfg.Capture.TailLines)
}

// CreateOptions describes a session to create.
type CreateOptions struct {
	Label   string
	WorkDir string
	Command string // started inside the tmux session; empty means the user shell

	// RemoteURL makes this a remote session streamed from another host's
	// serve endpoint, e.g. "ws://10.0.0.5:8423". Local when empty.
	RemoteURL string
}

// Create registers a new session and, for local sessions, starts the backing
// tmux session. Name collisions are rejected with ErrSessionExists.
func (m *Manager) Create(opts CreateOptions) (*Session, error) {
	name := tmux.SessionName(opts.Label)

	m.mu.Lock()
	if existing, ok := m.sessions[name]; ok {
		if existing.State() != Terminated {
			m.mu.Unlock()
			return nil, fmt.Errorf("%w: %s", ErrSessionExists, name)
		}
		// Terminated is terminal; the dead entry yields its name.
		delete(m.sessions, name)
	}
	capture := m.cfg.Capture
	detector := m.detector
	m.mu.Unlock()

	s := NewSession(uuid.NewString(), opts.Label, name, capture, detector)
	s.WorkDir = opts.WorkDir
	s.Command = opts.Command
	s.RemoteURL = opts.RemoteURL

	var ts *tmux.Session
	if opts.RemoteURL == "" {
		ts = tmux.NewSession(opts.Label, opts.WorkDir)
		if err := ts.Start(opts.Command); err != nil {
			return nil, err
		}
		s.existsFn = func() bool {
			ok, err := ts.Exists()
			return err != nil || ok
		}
	}

	m.mu.Lock()
	// Re-check under lock; a concurrent Create for the same label loses
	// unless the entry it raced against has terminated in the meantime.
	if existing, ok := m.sessions[name]; ok && existing.State() != Terminated {
		m.mu.Unlock()
		if ts != nil {
			_ = ts.Kill()
		}
		return nil, fmt.Errorf("%w: %s", ErrSessionExists, name)
	}
	m.sessions[name] = s
	m.mu.Unlock()

	m.persist(s)
	sessionLog.Info("session_created",
		slog.String("session", name),
		slog.Bool("remote", opts.RemoteURL != ""))
	return s, nil
}

// Restore loads persisted sessions from the database. Local sessions whose
// tmux session no longer exists are dropped from the database instead of
// being resurrected as ghosts.
func (m *Manager) Restore() error {
	if m.db == nil {
		m.adoptOrphans()
		return nil
	}
	rows, err := m.db.LoadAll()
	if err != nil {
		return err
	}

	for _, row := range rows {
		if row.Kind == "local" {
			ts := tmux.NewSession(row.Label, row.WorkDir)
			ok, err := ts.Exists()
			if err == nil && !ok {
				_ = m.db.Delete(row.Name)
				continue
			}
		}

		m.mu.Lock()
		if _, dup := m.sessions[row.Name]; dup {
			m.mu.Unlock()
			continue
		}
		s := NewSession(row.ID, row.Label, row.Name, m.cfg.Capture, m.detector)
		s.WorkDir = row.WorkDir
		s.RemoteURL = row.RemoteURL
		s.CreatedAt = row.CreatedAt
		if row.Kind == "local" {
			ts := tmux.NewSession(row.Label, row.WorkDir)
			s.existsFn = func() bool {
				ok, err := ts.Exists()
				return err != nil || ok
			}
		}
		m.sessions[row.Name] = s
		m.mu.Unlock()
	}

	m.adoptOrphans()
	return nil
}

// adoptOrphans registers live ciab_ tmux sessions the database does not know
// about, so sessions survive a lost or corrupted state file. A missing tmux
// server just means there is nothing to adopt.
func (m *Manager) adoptOrphans() {
	names, err := tmux.ListSessions()
	if err != nil {
		sessionLog.Debug("orphan_scan_failed", slog.String("error", err.Error()))
		return
	}
	for _, name := range names {
		label := strings.TrimPrefix(name, tmux.SessionPrefix)
		ts := tmux.NewSession(label, "")

		m.mu.Lock()
		if _, known := m.sessions[name]; known {
			m.mu.Unlock()
			continue
		}
		s := NewSession(uuid.NewString(), label, name, m.cfg.Capture, m.detector)
		s.existsFn = func() bool {
			ok, err := ts.Exists()
			return err != nil || ok
		}
		m.sessions[name] = s
		m.mu.Unlock()

		m.persist(s)
		sessionLog.Info("session_adopted", slog.String("session", name))
	}
}

// Get looks a session up by sanitized name.
func (m *Manager) Get(name string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, name)
	}
	return s, nil
}

// List returns all sessions ordered by creation time.
func (m *Manager) List() []*Session {
	m.mu.RLock()
	out := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, s)
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].Name < out[j].Name
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// Attach attaches the console to the named session at the given size.
func (m *Manager) Attach(ctx context.Context, name string, cols, rows int) error {
	s, err := m.Get(name)
	if err != nil {
		return err
	}

	var factory TransportFactory
	if s.RemoteURL == "" {
		ts := tmux.NewSession(s.Label, s.WorkDir)
		factory = func(ctx context.Context) (Transport, error) {
			return tmux.NewPtyTransport(ctx, ts)
		}
	} else {
		m.mu.RLock()
		rc := m.cfg.Remote
		m.mu.RUnlock()
		url := fmt.Sprintf("%s/ws/session/%s", s.RemoteURL, s.Name)
		factory = func(ctx context.Context) (Transport, error) {
			c := remote.NewClient(remote.Config{
				URL:                  url,
				HeartbeatInterval:    time.Duration(rc.HeartbeatInterval),
				HeartbeatTimeout:     time.Duration(rc.HeartbeatTimeout),
				MaxReconnectAttempts: rc.MaxReconnectAttempts,
				BackoffBase:          time.Duration(rc.BackoffBase),
				BackoffMax:           time.Duration(rc.BackoffMax),
			})
			if err := c.Start(ctx); err != nil {
				return nil, err
			}
			return c, nil
		}
	}

	if err := s.Attach(ctx, factory, cols, rows); err != nil {
		return err
	}
	m.persist(s)
	return nil
}

// Detach detaches the console from the named session.
func (m *Manager) Detach(name string) error {
	s, err := m.Get(name)
	if err != nil {
		return err
	}
	return s.Detach()
}

// SendInput routes input bytes to the named session. Attached sessions get
// the bytes on the live transport; detached local sessions fall back to
// tmux send-keys so background sessions stay drivable.
func (m *Manager) SendInput(name string, p []byte) error {
	s, err := m.Get(name)
	if err != nil {
		return err
	}
	if err := s.SendInput(p); err == nil {
		return nil
	} else if err != ErrNotAttached {
		return err
	}
	if s.RemoteURL != "" {
		return ErrNotAttached
	}
	return tmux.NewSession(s.Label, s.WorkDir).SendKeys(string(p))
}

// Resize resizes the named session's screen and transport.
func (m *Manager) Resize(name string, cols, rows int) error {
	s, err := m.Get(name)
	if err != nil {
		return err
	}
	return s.Resize(cols, rows)
}

// Scroll adjusts the named session's view offset.
func (m *Manager) Scroll(name string, delta int) (int, error) {
	s, err := m.Get(name)
	if err != nil {
		return 0, err
	}
	return s.Scroll(delta)
}

// Remove terminates the named session, kills its tmux session if local, and
// forgets it. Persistence failures are logged, not returned.
func (m *Manager) Remove(name string) error {
	s, err := m.Get(name)
	if err != nil {
		return err
	}

	s.Terminate()
	if s.RemoteURL == "" {
		if err := tmux.NewSession(s.Label, s.WorkDir).Kill(); err != nil {
			sessionLog.Warn("kill_failed",
				slog.String("session", name),
				slog.String("error", err.Error()))
		}
	}

	m.mu.Lock()
	delete(m.sessions, name)
	m.mu.Unlock()

	if m.db != nil {
		if err := m.db.Delete(name); err != nil {
			sessionLog.Warn("persist_delete_failed",
				slog.String("session", name),
				slog.String("error", err.Error()))
		}
	}
	return nil
}

// StartSampler begins the background activity sampling loop. The limiter
// spaces samples at the configured poll interval so a large session list
// doesn't hammer tmux.
func (m *Manager) StartSampler(ctx context.Context) {
	m.samplerOnce.Do(func() {
		ctx, cancel := context.WithCancel(ctx)
		m.samplerStop = cancel
		go m.sampleLoop(ctx)
	})
}

func (m *Manager) sampleLoop(ctx context.Context) {
	interval := m.pollInterval()
	limiter := rate.NewLimiter(rate.Every(interval), 1)
	for {
		if err := limiter.Wait(ctx); err != nil {
			return
		}
		m.sampleAll()
		// A hot-reloaded poll interval takes effect on the next tick.
		if cur := m.pollInterval(); cur != interval {
			interval = cur
			limiter = rate.NewLimiter(rate.Every(interval), 1)
		}
	}
}

func (m *Manager) pollInterval() time.Duration {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return time.Duration(m.cfg.Capture.PollInterval)
}

// sampleAll classifies every session's recent output. Attached sessions are
// sampled from their live snapshot; detached local sessions via
// capture-pane. Detached remote sessions stay at their last known state.
func (m *Manager) sampleAll() {
	m.mu.RLock()
	detector := m.detector
	capture := m.cfg.Capture
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.RUnlock()

	for _, s := range sessions {
		switch s.State() {
		case Attached, ScrollMode:
			if snap := s.Snapshot(); snap != nil {
				s.SetActivity(detector.Classify(snap.TailText(capture.TailLines)))
			}
		case Detached:
			if s.RemoteURL != "" {
				continue
			}
			text, err := tmux.NewSession(s.Label, s.WorkDir).CapturePane(capture.TailLines)
			if err != nil {
				continue
			}
			s.SetActivity(detector.Classify(text))
		}
	}
}

// persist saves one session row. Failures are logged and swallowed; losing
// metadata persistence must never take the console down.
func (m *Manager) persist(s *Session) {
	if m.db == nil {
		return
	}
	if err := m.db.Save(sessionRow(s)); err != nil {
		sessionLog.Warn("persist_failed",
			slog.String("session", s.Name),
			slog.String("error", err.Error()))
	}
}

// persistAll writes the full session set in one transaction, pruning rows
// whose sessions were removed while persistence was failing.
func (m *Manager) persistAll() {
	if m.db == nil {
		return
	}
	sessions := m.List()
	rows := make([]*statedb.SessionRow, 0, len(sessions))
	for _, s := range sessions {
		rows = append(rows, sessionRow(s))
	}
	if err := m.db.SaveAll(rows); err != nil {
		sessionLog.Warn("persist_all_failed", slog.String("error", err.Error()))
	}
}

func sessionRow(s *Session) *statedb.SessionRow {
	kind := "local"
	if s.RemoteURL != "" {
		kind = "remote"
	}
	return &statedb.SessionRow{
		ID:           s.ID,
		Name:         s.Name,
		Label:        s.Label,
		WorkDir:      s.WorkDir,
		Kind:         kind,
		RemoteURL:    s.RemoteURL,
		Activity:     string(s.Activity()),
		CreatedAt:    s.CreatedAt,
		LastAttached: s.LastAttached(),
	}
}

// Close stops the sampler and detaches every live session. tmux sessions
// keep running so they can be re-adopted next launch.
func (m *Manager) Close() {
	if m.samplerStop != nil {
		m.samplerStop()
	}
	for _, s := range m.List() {
		switch s.State() {
		case Attached, ScrollMode:
			if err := s.Detach(); err != nil {
				sessionLog.Warn("close_detach_failed",
					slog.String("session", s.Name),
					slog.String("error", err.Error()))
			}
		}
	}
	m.persistAll()
}
