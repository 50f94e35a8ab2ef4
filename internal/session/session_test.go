package session

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/twistedxcom/ciab/internal/activity"
)

// fakeTransport is an in-memory Transport for lifecycle tests.
type fakeTransport struct {
	out chan []byte

	mu      sync.Mutex
	writes  [][]byte
	resizes [][2]int

	// resizeGate, when set, blocks Resize until it closes, and resizeEntered
	// reports the block was reached. Tests use the pair to hold an attach
	// mid-flight at a known point.
	resizeGate    chan struct{}
	resizeEntered chan struct{}
	enteredOnce   sync.Once

	closeOnce sync.Once
}

func newFakeTransport(initial ...string) *fakeTransport {
	t := &fakeTransport{out: make(chan []byte, 16)}
	for _, s := range initial {
		t.out <- []byte(s)
	}
	return t
}

func (t *fakeTransport) Output() <-chan []byte { return t.out }

func (t *fakeTransport) Write(p []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	buf := make([]byte, len(p))
	copy(buf, p)
	t.writes = append(t.writes, buf)
	return nil
}

func (t *fakeTransport) Resize(cols, rows int) error {
	if t.resizeEntered != nil {
		t.enteredOnce.Do(func() { close(t.resizeEntered) })
	}
	if t.resizeGate != nil {
		<-t.resizeGate
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.resizes = append(t.resizes, [2]int{cols, rows})
	return nil
}

func (t *fakeTransport) Close() error {
	t.closeOnce.Do(func() { close(t.out) })
	return nil
}

func (t *fakeTransport) writeCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.writes)
}

func newTestSession() *Session {
	cfg := DefaultUserConfig()
	det := activity.NewDetector(cfg.Markers, cfg.Capture.TailLines)
	return NewSession("id-1", "demo", "ciab_demo", cfg.Capture, det)
}

func staticFactory(t *fakeTransport) TransportFactory {
	return func(ctx context.Context) (Transport, error) {
		return t, nil
	}
}

func TestAttachDetachRoundTrip(t *testing.T) {
	s := newTestSession()
	require.Equal(t, Detached, s.State())

	ft := newFakeTransport("hello from tmux\r\n")
	require.NoError(t, s.Attach(context.Background(), staticFactory(ft), 80, 24))
	require.Equal(t, Attached, s.State())

	snap := s.Snapshot()
	require.NotNil(t, snap)
	require.Contains(t, snap.Text(), "hello from tmux")

	require.NoError(t, s.Detach())
	require.Equal(t, Detached, s.State())

	// Snapshot survives detach for the preview pane.
	require.Contains(t, s.Snapshot().Text(), "hello from tmux")

	// Re-attach works after a clean detach.
	ft2 := newFakeTransport("round two\r\n")
	require.NoError(t, s.Attach(context.Background(), staticFactory(ft2), 80, 24))
	require.Equal(t, Attached, s.State())
	require.NoError(t, s.Detach())
}

func TestAttachRejectsConcurrentTransition(t *testing.T) {
	s := newTestSession()

	entered := make(chan struct{})
	release := make(chan struct{})
	slowFactory := func(ctx context.Context) (Transport, error) {
		close(entered)
		<-release
		return newFakeTransport("ok\r\n"), nil
	}

	done := make(chan error, 1)
	go func() { done <- s.Attach(context.Background(), slowFactory, 80, 24) }()
	<-entered

	// A second transition while the first is in flight is rejected, not queued.
	err := s.Attach(context.Background(), staticFactory(newFakeTransport()), 80, 24)
	require.ErrorIs(t, err, ErrSessionBusy)
	require.ErrorIs(t, s.Detach(), ErrSessionBusy)

	close(release)
	require.NoError(t, <-done)
	require.Equal(t, Attached, s.State())
	require.NoError(t, s.Detach())
}

func TestAttachFailsWhenTransportDiesEarly(t *testing.T) {
	s := newTestSession()

	ft := newFakeTransport() // no output at all
	ft.Close()
	err := s.Attach(context.Background(), staticFactory(ft), 80, 24)
	require.Error(t, err)
	require.Equal(t, Detached, s.State())
}

func TestAttachFactoryError(t *testing.T) {
	s := newTestSession()
	factory := func(ctx context.Context) (Transport, error) {
		return nil, ErrNotAttached
	}
	require.Error(t, s.Attach(context.Background(), factory, 80, 24))
	require.Equal(t, Detached, s.State())
	require.ErrorIs(t, s.LastError(), ErrNotAttached)
}

func TestSendInputRequiresAttach(t *testing.T) {
	s := newTestSession()
	require.ErrorIs(t, s.SendInput([]byte("ls\r")), ErrNotAttached)

	ft := newFakeTransport("$ ")
	require.NoError(t, s.Attach(context.Background(), staticFactory(ft), 80, 24))
	require.NoError(t, s.SendInput([]byte("ls\r")))
	require.Equal(t, 1, ft.writeCount())

	require.NoError(t, s.Detach())
	require.ErrorIs(t, s.SendInput([]byte("x")), ErrNotAttached)
}

func TestResizeReflowsThroughFeedGoroutine(t *testing.T) {
	s := newTestSession()

	ft := newFakeTransport("abcdefghij\r\n")
	require.NoError(t, s.Attach(context.Background(), staticFactory(ft), 80, 24))

	require.NoError(t, s.Resize(40, 10))
	snap := s.Snapshot()
	require.Equal(t, 40, snap.Cols)
	require.Equal(t, 10, snap.Rows)

	ft.mu.Lock()
	resizes := len(ft.resizes)
	last := ft.resizes[resizes-1]
	ft.mu.Unlock()
	require.Equal(t, [2]int{40, 10}, last)

	require.NoError(t, s.Detach())
	require.ErrorIs(t, s.Resize(80, 24), ErrNotAttached)
}

func TestScrollModeTransitions(t *testing.T) {
	s := newTestSession()

	// 30 lines on a 24-row screen leaves history to scroll into.
	var b strings.Builder
	for i := 0; i < 30; i++ {
		b.WriteString("line\r\n")
	}
	ft := newFakeTransport(b.String())
	require.NoError(t, s.Attach(context.Background(), staticFactory(ft), 80, 24))

	offset, err := s.Scroll(3)
	require.NoError(t, err)
	require.Equal(t, 3, offset)
	require.Equal(t, ScrollMode, s.State())

	// Output keeps flowing while scrolled.
	ft.out <- []byte("while scrolled\r\n")
	require.Eventually(t, func() bool {
		return strings.Contains(s.Snapshot().Text(), "while scrolled")
	}, time.Second, 10*time.Millisecond)
	require.Equal(t, ScrollMode, s.State())

	// Clamped at the top of history.
	offset, err = s.Scroll(100000)
	require.NoError(t, err)
	require.Equal(t, s.Snapshot().MaxScrollOffset(), offset)

	// Scrolling back to the bottom resumes the live view.
	offset, err = s.Scroll(-offset)
	require.NoError(t, err)
	require.Equal(t, 0, offset)
	require.Equal(t, Attached, s.State())

	_, err = s.Scroll(5)
	require.NoError(t, err)
	s.ScrollToBottom()
	require.Equal(t, Attached, s.State())
	require.Equal(t, 0, s.ScrollOffset())

	require.NoError(t, s.Detach())
}

func TestScrollViewFrozenWhileStreaming(t *testing.T) {
	s := newTestSession()

	var b strings.Builder
	for i := 0; i < 40; i++ {
		fmt.Fprintf(&b, "line %d\r\n", i)
	}
	ft := newFakeTransport(b.String())
	require.NoError(t, s.Attach(context.Background(), staticFactory(ft), 80, 24))

	offset, err := s.Scroll(5)
	require.NoError(t, err)
	require.Equal(t, 5, offset)
	frozen := s.Snapshot().ViewText(s.ScrollOffset())

	// Three more lines push three rows into scrollback underneath the
	// frozen view. The rows on screen must not move.
	before := s.Snapshot().ScrollbackTotal
	ft.out <- []byte("line 40\r\nline 41\r\nline 42\r\n")
	require.Eventually(t, func() bool {
		return s.Snapshot().ScrollbackTotal == before+3
	}, time.Second, 10*time.Millisecond)

	require.Equal(t, 8, s.ScrollOffset())
	require.Equal(t, frozen, s.Snapshot().ViewText(s.ScrollOffset()))
	require.Equal(t, ScrollMode, s.State())

	// The model underneath kept accepting the bytes.
	require.Contains(t, s.Snapshot().Text(), "line 42")

	s.ScrollToBottom()
	require.Equal(t, 0, s.ScrollOffset())
	require.NoError(t, s.Detach())
}

func TestAttachDetectsTransportLostBeforeSettle(t *testing.T) {
	s := newTestSession()

	// The gate holds Attach inside the transport resize, which runs after
	// the first byte arrives and before the state settles.
	ft := newFakeTransport("hello\r\n")
	ft.resizeGate = make(chan struct{})
	ft.resizeEntered = make(chan struct{})

	done := make(chan error, 1)
	go func() { done <- s.Attach(context.Background(), staticFactory(ft), 80, 24) }()
	<-ft.resizeEntered

	// Transport dies in that window and the loss settles the session.
	ft.Close()
	require.Eventually(t, func() bool {
		return s.State() == Detached
	}, time.Second, 10*time.Millisecond)

	// Attach must notice instead of declaring Attached with no transport.
	close(ft.resizeGate)
	require.ErrorIs(t, <-done, ErrNotAttached)
	require.Equal(t, Detached, s.State())

	// The session stays re-attachable.
	ft2 := newFakeTransport("back again\r\n")
	require.NoError(t, s.Attach(context.Background(), staticFactory(ft2), 80, 24))
	require.Equal(t, Attached, s.State())
	require.NoError(t, s.Detach())
}

func TestTransportLostWhileAttached(t *testing.T) {
	s := newTestSession()

	ft := newFakeTransport("up\r\n")
	require.NoError(t, s.Attach(context.Background(), staticFactory(ft), 80, 24))

	// No existsFn set, so a lost transport means detached, not terminated.
	ft.Close()
	require.Eventually(t, func() bool {
		return s.State() == Detached
	}, time.Second, 10*time.Millisecond)
}

func TestTransportLostForDeadSession(t *testing.T) {
	s := newTestSession()
	s.existsFn = func() bool { return false }

	ft := newFakeTransport("up\r\n")
	require.NoError(t, s.Attach(context.Background(), staticFactory(ft), 80, 24))

	ft.Close()
	require.Eventually(t, func() bool {
		return s.State() == Terminated
	}, time.Second, 10*time.Millisecond)

	// Terminated is terminal.
	err := s.Attach(context.Background(), staticFactory(newFakeTransport("x")), 80, 24)
	require.ErrorIs(t, err, ErrSessionTerminated)
}

func TestTerminateFromAttached(t *testing.T) {
	s := newTestSession()

	ft := newFakeTransport("up\r\n")
	require.NoError(t, s.Attach(context.Background(), staticFactory(ft), 80, 24))

	s.Terminate()
	require.Equal(t, Terminated, s.State())
	require.ErrorIs(t, s.SendInput([]byte("x")), ErrNotAttached)
}
