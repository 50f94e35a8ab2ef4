package ui

import (
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/require"

	"github.com/twistedxcom/ciab/internal/activity"
	"github.com/twistedxcom/ciab/internal/session"
)

func testSession(label string) *session.Session {
	cfg := session.DefaultUserConfig()
	det := activity.NewDetector(activity.DefaultMarkers(), 40)
	return session.NewSession("id-"+label, label, "ciab_"+label, cfg.Capture, det)
}

func TestListFuzzyFilter(t *testing.T) {
	l := NewList()
	l.SetItems([]*session.Session{
		testSession("api-server"),
		testSession("frontend"),
		testSession("db-migration"),
	})
	require.Equal(t, 3, l.Len())

	l.Filter("apsv")
	require.Equal(t, 1, l.Len())
	require.Equal(t, "api-server", l.Selected().Label)

	l.Filter("zzz")
	require.Equal(t, 0, l.Len())
	require.Nil(t, l.Selected())

	l.Filter("")
	require.Equal(t, 3, l.Len())
}

func TestListCursorFollowsSelection(t *testing.T) {
	l := NewList()
	a, b, c := testSession("alpha"), testSession("bravo"), testSession("charlie")
	l.SetItems([]*session.Session{a, b, c})

	l.MoveDown()
	require.Equal(t, "bravo", l.Selected().Label)

	// The cursor stays on bravo when the set is refreshed in a new order.
	l.SetItems([]*session.Session{c, b, a})
	require.Equal(t, "bravo", l.Selected().Label)

	// Cursor clamps when the list shrinks.
	l.SetItems([]*session.Session{a})
	require.Equal(t, "alpha", l.Selected().Label)

	l.MoveUp()
	require.Equal(t, "alpha", l.Selected().Label)
}

func TestKeyToBytes(t *testing.T) {
	tests := []struct {
		name string
		msg  tea.KeyMsg
		want []byte
	}{
		{"runes", tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("ls")}, []byte("ls")},
		{"alt rune", tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("b"), Alt: true}, []byte{0x1b, 'b'}},
		{"enter", tea.KeyMsg{Type: tea.KeyEnter}, []byte{'\r'}},
		{"tab", tea.KeyMsg{Type: tea.KeyTab}, []byte{'\t'}},
		{"backspace", tea.KeyMsg{Type: tea.KeyBackspace}, []byte{0x7f}},
		{"esc", tea.KeyMsg{Type: tea.KeyEsc}, []byte{0x1b}},
		{"up", tea.KeyMsg{Type: tea.KeyUp}, []byte("\x1b[A")},
		{"ctrl+c", tea.KeyMsg{Type: tea.KeyCtrlC}, []byte{0x03}},
		{"space", tea.KeyMsg{Type: tea.KeySpace, Runes: []rune(" ")}, []byte{' '}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, keyToBytes(tt.msg))
		})
	}
}

func TestRenderToasts(t *testing.T) {
	require.Empty(t, renderToasts(nil))

	toasts := []session.Notification{
		{Message: "attached", Severity: session.SeverityInfo, CreatedAt: time.Now(), Duration: time.Minute},
		{Message: "commit failed", Severity: session.SeverityError, CreatedAt: time.Now(), Duration: time.Minute},
	}
	out := renderToasts(toasts)
	require.Contains(t, out, "attached")
	require.Contains(t, out, "commit failed")
}

func TestTruncate(t *testing.T) {
	require.Equal(t, "short", truncate("short", 10))
	out := truncate("a very long session label", 10)
	require.True(t, strings.HasSuffix(out, "…"))
}

func TestTerminalPaneNilSnapshot(t *testing.T) {
	p := NewTerminalPane()
	p.SetSize(80, 24)
	out := p.View(testSession("fresh"))
	require.Contains(t, out, "attaching")
}

func TestHomeListViewSmoke(t *testing.T) {
	mgr := session.NewManager(session.DefaultUserConfig(), nil)
	_, err := mgr.Create(session.CreateOptions{Label: "demo", RemoteURL: "ws://127.0.0.1:8423"})
	require.NoError(t, err)

	notifier := session.NewNotifier(session.DefaultUserConfig().Notifications)
	notifier.Push("hello", session.SeverityInfo)

	h := NewHome(mgr, notifier)
	h.Init()
	model, _ := h.Update(tea.WindowSizeMsg{Width: 100, Height: 30})
	view := model.View()
	require.Contains(t, view, "demo")
	require.Contains(t, view, "hello")
}
