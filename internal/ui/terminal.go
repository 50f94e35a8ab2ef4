package ui

import (
	"fmt"
	"os"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/muesli/termenv"

	"github.com/twistedxcom/ciab/internal/session"
	"github.com/twistedxcom/ciab/internal/term"
)

// TerminalPane renders an attached session's screen snapshot.
type TerminalPane struct {
	width  int
	height int
	output *termenv.Output
}

func NewTerminalPane() *TerminalPane {
	return &TerminalPane{
		output: termenv.NewOutput(os.Stdout),
	}
}

func (p *TerminalPane) SetSize(width, height int) {
	p.width = width
	p.height = height
}

// ContentSize returns the cols/rows available for the terminal grid inside
// the pane chrome (border and status line).
func (p *TerminalPane) ContentSize() (cols, rows int) {
	cols = p.width - 2
	rows = p.height - 3
	if cols < 1 {
		cols = 1
	}
	if rows < 1 {
		rows = 1
	}
	return cols, rows
}

// View renders the snapshot at the session's scroll offset with a status
// line. A nil snapshot renders a placeholder.
func (p *TerminalPane) View(s *session.Session) string {
	snap := s.Snapshot()
	if snap == nil {
		return paneBorderStyle.Render(dimStyle.Render("attaching..."))
	}

	offset := s.ScrollOffset()
	rows := snap.ViewRows(offset)
	body := snap.RenderANSI(rows, offset == 0, p.output)

	status := p.statusLine(s, snap, offset)
	return paneBorderStyle.Width(p.width - 2).Render(body) + "\n" + status
}

func (p *TerminalPane) statusLine(s *session.Session, snap *term.Snapshot, offset int) string {
	left := titleStyle.Render(s.Label)
	if snap.Title != "" {
		left += dimStyle.Render(" · " + truncate(snap.Title, 30))
	}
	mid := dimStyle.Render(fmt.Sprintf(" %dx%d ", snap.Cols, snap.Rows))

	var right string
	if offset > 0 {
		right = scrollBadgeStyle.Render(fmt.Sprintf("SCROLL -%d", offset))
	} else {
		right = activityBadge(string(s.Activity()))
	}
	return left + mid + right
}

// keyToBytes translates a bubbletea key press into the bytes a terminal
// application expects on its input stream.
func keyToBytes(msg tea.KeyMsg) []byte {
	switch msg.Type {
	case tea.KeyRunes:
		if msg.Alt {
			return append([]byte{0x1b}, []byte(string(msg.Runes))...)
		}
		return []byte(string(msg.Runes))
	case tea.KeySpace:
		return []byte{' '}
	case tea.KeyEnter:
		return []byte{'\r'}
	case tea.KeyTab:
		return []byte{'\t'}
	case tea.KeyShiftTab:
		return []byte("\x1b[Z")
	case tea.KeyBackspace:
		return []byte{0x7f}
	case tea.KeyDelete:
		return []byte("\x1b[3~")
	case tea.KeyEsc:
		return []byte{0x1b}
	case tea.KeyUp:
		return []byte("\x1b[A")
	case tea.KeyDown:
		return []byte("\x1b[B")
	case tea.KeyRight:
		return []byte("\x1b[C")
	case tea.KeyLeft:
		return []byte("\x1b[D")
	case tea.KeyHome:
		return []byte("\x1b[H")
	case tea.KeyEnd:
		return []byte("\x1b[F")
	case tea.KeyPgUp:
		return []byte("\x1b[5~")
	case tea.KeyPgDown:
		return []byte("\x1b[6~")
	case tea.KeyCtrlA:
		return []byte{0x01}
	case tea.KeyCtrlB:
		return []byte{0x02}
	case tea.KeyCtrlC:
		return []byte{0x03}
	case tea.KeyCtrlD:
		return []byte{0x04}
	case tea.KeyCtrlE:
		return []byte{0x05}
	case tea.KeyCtrlF:
		return []byte{0x06}
	case tea.KeyCtrlG:
		return []byte{0x07}
	case tea.KeyCtrlK:
		return []byte{0x0b}
	case tea.KeyCtrlL:
		return []byte{0x0c}
	case tea.KeyCtrlN:
		return []byte{0x0e}
	case tea.KeyCtrlO:
		return []byte{0x0f}
	case tea.KeyCtrlP:
		return []byte{0x10}
	case tea.KeyCtrlR:
		return []byte{0x12}
	case tea.KeyCtrlT:
		return []byte{0x14}
	case tea.KeyCtrlU:
		return []byte{0x15}
	case tea.KeyCtrlV:
		return []byte{0x16}
	case tea.KeyCtrlW:
		return []byte{0x17}
	case tea.KeyCtrlX:
		return []byte{0x18}
	case tea.KeyCtrlY:
		return []byte{0x19}
	case tea.KeyCtrlZ:
		return []byte{0x1a}
	}

	// Fall back on the string form for anything else printable.
	str := msg.String()
	if len(str) == 1 {
		return []byte(str)
	}
	return nil
}

// renderToasts renders the active toasts as a single line, newest first.
func renderToasts(toasts []session.Notification) string {
	if len(toasts) == 0 {
		return ""
	}
	parts := make([]string, 0, len(toasts))
	for _, t := range toasts {
		var style = toastInfoStyle
		switch t.Severity {
		case session.SeverityWarn:
			style = toastWarnStyle
		case session.SeverityError:
			style = toastErrorStyle
		}
		parts = append(parts, style.Render(t.Message))
	}
	return strings.Join(parts, " ")
}
