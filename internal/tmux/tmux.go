package tmux

import (
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/twistedxcom/ciab/internal/logging"
	"golang.org/x/sync/singleflight"
)

var tmuxLog = logging.ForComponent(logging.CompTmux)

// ErrTmuxNotInstalled means the tmux binary is missing or broken. Fatal at
// startup for local-transport sessions; reported once.
var ErrTmuxNotInstalled = errors.New("tmux is not installed or not working")

// ErrSessionNotFound means the named tmux session does not exist.
var ErrSessionNotFound = errors.New("tmux session not found")

// ErrAttachFailed means attaching to an existing session failed.
var ErrAttachFailed = errors.New("attach to tmux session failed")

// ErrPtyCreationFailed means the OS could not allocate a pseudo-terminal.
var ErrPtyCreationFailed = errors.New("pty allocation failed")

// IsAvailable checks that the tmux binary is present and responding.
func IsAvailable() error {
	cmd := exec.Command("tmux", "-V")
	output, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("%w: %v (output: %s)", ErrTmuxNotInstalled, err, strings.TrimSpace(string(output)))
	}
	return nil
}

// Session is a named tmux session used as a local PTY host.
// The Name is always the sanitized canonical name.
type Session struct {
	Name    string
	WorkDir string
	Created time.Time
}

// NewSession builds a handle for the canonical session of a label.
// No tmux state is touched until Start or Attach.
func NewSession(label, workDir string) *Session {
	return &Session{
		Name:    SessionName(label),
		WorkDir: workDir,
	}
}

// listGroup deduplicates concurrent list-sessions calls: one subprocess
// serves every caller in the same window.
var listGroup singleflight.Group

// ListSessions returns the names of all our sessions known to the tmux
// server. A missing server is reported as an empty list, not an error.
func ListSessions() ([]string, error) {
	v, err, _ := listGroup.Do("list", func() (any, error) {
		cmd := exec.Command("tmux", "list-sessions", "-F", "#{session_name}")
		output, err := cmd.Output()
		if err != nil {
			// Exit status 1 with no server running is a normal empty state.
			var exitErr *exec.ExitError
			if errors.As(err, &exitErr) && exitErr.ExitCode() == 1 {
				return []string{}, nil
			}
			return nil, fmt.Errorf("tmux list-sessions: %w", err)
		}
		var names []string
		for _, line := range strings.Split(strings.TrimSpace(string(output)), "\n") {
			if strings.HasPrefix(line, SessionPrefix) {
				names = append(names, line)
			}
		}
		return names, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]string), nil
}

// Exists reports whether the session is live on the tmux server.
func (s *Session) Exists() (bool, error) {
	cmd := exec.Command("tmux", "has-session", "-t", "="+s.Name)
	output, err := cmd.CombinedOutput()
	if err == nil {
		return true, nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) && exitErr.ExitCode() == 1 {
		return false, nil
	}
	return false, fmt.Errorf("tmux has-session: %s: %w", strings.TrimSpace(string(output)), err)
}

// Start creates the detached session running the given command in the
// session's working directory. Creating a name that already exists is an
// error: distinct labels that sanitize identically must be rejected, never
// silently merged.
func (s *Session) Start(command string) error {
	exists, err := s.Exists()
	if err != nil {
		return err
	}
	if exists {
		return fmt.Errorf("tmux session %q already exists", s.Name)
	}

	args := []string{"new-session", "-d", "-s", s.Name}
	if s.WorkDir != "" {
		args = append(args, "-c", s.WorkDir)
	}
	if command != "" {
		args = append(args, command)
	}
	cmd := exec.Command("tmux", args...)
	if output, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("tmux new-session %q: %s: %w", s.Name, strings.TrimSpace(string(output)), err)
	}
	s.Created = time.Now()
	tmuxLog.Info("session_started", slog.String("name", s.Name))
	return nil
}

// Kill terminates the session and its process.
func (s *Session) Kill() error {
	cmd := exec.Command("tmux", "kill-session", "-t", "="+s.Name)
	if output, err := cmd.CombinedOutput(); err != nil {
		exists, exErr := s.Exists()
		if exErr == nil && !exists {
			return nil // already gone
		}
		return fmt.Errorf("tmux kill-session %q: %s: %w", s.Name, strings.TrimSpace(string(output)), err)
	}
	tmuxLog.Info("session_killed", slog.String("name", s.Name))
	return nil
}

// CapturePane returns the pane's current text, including historyLines of
// scrollback above the visible area. The capture feeds the activity
// detector; it is plain text, no escape sequences.
func (s *Session) CapturePane(historyLines int) (string, error) {
	if historyLines < 0 {
		historyLines = 0
	}
	args := []string{
		"capture-pane", "-p", "-t", "=" + s.Name,
		"-S", "-" + strconv.Itoa(historyLines),
	}
	cmd := exec.Command("tmux", args...)
	output, err := cmd.Output()
	if err != nil {
		return "", fmt.Errorf("tmux capture-pane %q: %w", s.Name, err)
	}
	return string(output), nil
}

// SendKeys sends literal text to the session without a trailing newline.
func (s *Session) SendKeys(keys string) error {
	cmd := exec.Command("tmux", "send-keys", "-t", "="+s.Name, "-l", keys)
	if output, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("tmux send-keys %q: %s: %w", s.Name, strings.TrimSpace(string(output)), err)
	}
	return nil
}

// ResizeWindow forces the session's window to the given size. Attached
// clients normally drive the size through their PTY; this is the detached
// escape hatch.
func (s *Session) ResizeWindow(cols, rows int) error {
	cmd := exec.Command("tmux", "resize-window", "-t", "="+s.Name,
		"-x", strconv.Itoa(cols), "-y", strconv.Itoa(rows))
	if output, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("tmux resize-window %q: %s: %w", s.Name, strings.TrimSpace(string(output)), err)
	}
	return nil
}

// SendEnter sends a carriage return.
func (s *Session) SendEnter() error {
	cmd := exec.Command("tmux", "send-keys", "-t", "="+s.Name, "Enter")
	if output, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("tmux send-keys enter %q: %s: %w", s.Name, strings.TrimSpace(string(output)), err)
	}
	return nil
}
