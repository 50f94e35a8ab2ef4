//go:build !windows

package tmux

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"syscall"

	"github.com/creack/pty"
)

// PtyTransport owns a pseudo-terminal attached to a tmux session and the
// tmux client process behind it. Output is delivered as byte chunks on a
// channel that closes when the process exits or the transport is closed;
// Close unblocks an in-progress read promptly rather than waiting for
// natural end-of-stream.
type PtyTransport struct {
	session *Session

	cmd  *exec.Cmd
	ptmx *os.File

	output chan []byte

	closeOnce sync.Once
	done      chan struct{}
}

// readBufSize matches the websocket bridge chunk size so local and remote
// transports fragment output comparably.
const readBufSize = 4096

// NewPtyTransport attaches a fresh PTY client to the session.
// Fails with ErrAttachFailed if the session does not exist and with
// ErrPtyCreationFailed if the OS denies a pseudo-terminal.
func NewPtyTransport(ctx context.Context, session *Session) (*PtyTransport, error) {
	exists, err := session.Exists()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAttachFailed, err)
	}
	if !exists {
		return nil, fmt.Errorf("%w: %s: %w", ErrAttachFailed, session.Name, ErrSessionNotFound)
	}

	// ignore-size keeps this client from shrinking the shared tmux window
	// for other attached clients.
	cmd := exec.CommandContext(ctx, "tmux", "attach-session", "-f", "ignore-size", "-t", "="+session.Name)

	ptmx, err := pty.Start(cmd)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPtyCreationFailed, err)
	}

	t := &PtyTransport{
		session: session,
		cmd:     cmd,
		ptmx:    ptmx,
		output:  make(chan []byte, 64),
		done:    make(chan struct{}),
	}
	go t.readLoop()
	return t, nil
}

func (t *PtyTransport) readLoop() {
	defer close(t.output)

	buf := make([]byte, readBufSize)
	for {
		n, err := t.ptmx.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			select {
			case t.output <- chunk:
			case <-t.done:
				return
			}
		}
		if err != nil {
			// EOF and EIO both mean the PTY slave side went away.
			if !errors.Is(err, io.EOF) && !errors.Is(err, syscall.EIO) {
				tmuxLog.Warn("pty_read_error",
					slog.String("session", t.session.Name),
					slog.String("error", err.Error()))
			}
			return
		}
	}
}

// Output returns the stream of raw byte chunks. The channel closes when the
// underlying process exits or the transport is closed.
func (t *PtyTransport) Output() <-chan []byte {
	return t.output
}

// Write sends input bytes to the PTY.
func (t *PtyTransport) Write(p []byte) error {
	if len(p) == 0 {
		return nil
	}
	_, err := t.ptmx.Write(p)
	return err
}

// Resize adjusts this client's PTY dimensions. tmux recomputes the visible
// layout from its attached clients.
func (t *PtyTransport) Resize(cols, rows int) error {
	if cols <= 0 || rows <= 0 {
		return fmt.Errorf("invalid dimensions: cols=%d rows=%d", cols, rows)
	}
	return pty.Setsize(t.ptmx, &pty.Winsize{Cols: uint16(cols), Rows: uint16(rows)})
}

// Close detaches from the session, terminating only the attach client; the
// tmux session and its process keep running. Safe to call more than once.
// Closing the PTY unblocks the read loop immediately.
func (t *PtyTransport) Close() error {
	t.closeOnce.Do(func() {
		close(t.done)
		if t.ptmx != nil {
			_ = t.ptmx.Close()
		}
		if t.cmd != nil && t.cmd.Process != nil {
			pgid, err := syscall.Getpgid(t.cmd.Process.Pid)
			if err == nil {
				_ = syscall.Kill(-pgid, syscall.SIGTERM)
			} else {
				_ = t.cmd.Process.Kill()
			}
		}
		if t.cmd != nil {
			_ = t.cmd.Wait()
		}
	})
	return nil
}
