// Package ui is the bubbletea console: a session list on the left-hand
// screen and a live terminal pane when attached.
package ui

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/twistedxcom/ciab/internal/clipboard"
	"github.com/twistedxcom/ciab/internal/git"
	"github.com/twistedxcom/ciab/internal/logging"
	"github.com/twistedxcom/ciab/internal/session"
)

var uiLog = logging.ForComponent(logging.CompUI)

// Version is set by main for the header line.
var Version = "dev"

type mode int

const (
	modeList mode = iota
	modeFilter
	modeAttached
	modeLogs
)

const (
	listTickInterval     = 2 * time.Second
	attachedTickInterval = 250 * time.Millisecond

	// scrollPage is how many lines PgUp/PgDn move the view.
	scrollPage = 10
)

type tickMsg time.Time

type attachResultMsg struct {
	name string
	err  error
}

// Home is the root console model.
type Home struct {
	mgr      *session.Manager
	notifier *session.Notifier

	list        *List
	pane        *TerminalPane
	filterInput textinput.Model

	mode     mode
	attached *session.Session

	width  int
	height int
}

// NewHome builds the console over a manager.
func NewHome(mgr *session.Manager, notifier *session.Notifier) *Home {
	ti := textinput.New()
	ti.Placeholder = "filter sessions..."
	ti.CharLimit = 60
	ti.Width = 30

	return &Home{
		mgr:         mgr,
		notifier:    notifier,
		list:        NewList(),
		pane:        NewTerminalPane(),
		filterInput: ti,
	}
}

func (h *Home) Init() tea.Cmd {
	h.list.SetItems(h.mgr.List())
	return h.tick()
}

func (h *Home) tick() tea.Cmd {
	interval := listTickInterval
	if h.mode == modeAttached {
		interval = attachedTickInterval
	}
	return tea.Tick(interval, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (h *Home) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		h.width = msg.Width
		h.height = msg.Height
		h.list.SetSize(msg.Width/3, msg.Height-4)
		h.pane.SetSize(msg.Width, msg.Height-1)
		if h.attached != nil {
			cols, rows := h.pane.ContentSize()
			if err := h.mgr.Resize(h.attached.Name, cols, rows); err != nil {
				uiLog.Debug("resize_failed", slog.String("error", err.Error()))
			}
		}
		return h, nil

	case tickMsg:
		h.list.SetItems(h.mgr.List())
		return h, h.tick()

	case attachResultMsg:
		if msg.err != nil {
			h.notifier.Push(fmt.Sprintf("attach %s: %v", msg.name, msg.err), session.SeverityError)
			h.mode = modeList
			h.attached = nil
		}
		return h, nil

	case tea.KeyMsg:
		switch h.mode {
		case modeAttached:
			return h.updateAttached(msg)
		case modeFilter:
			return h.updateFilter(msg)
		case modeLogs:
			h.mode = modeList
			return h, nil
		default:
			return h.updateList(msg)
		}
	}
	return h, nil
}

func (h *Home) updateList(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "ctrl+c":
		return h, tea.Quit

	case "j", "down":
		h.list.MoveDown()
	case "k", "up":
		h.list.MoveUp()

	case "/":
		h.mode = modeFilter
		h.filterInput.SetValue(h.list.Query())
		h.filterInput.Focus()

	case "L":
		h.mode = modeLogs

	case "enter":
		sel := h.list.Selected()
		if sel == nil {
			return h, nil
		}
		h.mode = modeAttached
		h.attached = sel
		cols, rows := h.pane.ContentSize()
		name := sel.Name
		return h, func() tea.Msg {
			err := h.mgr.Attach(context.Background(), name, cols, rows)
			return attachResultMsg{name: name, err: err}
		}

	case "d":
		sel := h.list.Selected()
		if sel == nil {
			return h, nil
		}
		if err := h.mgr.Remove(sel.Name); err != nil {
			h.notifier.Push(fmt.Sprintf("remove %s: %v", sel.Label, err), session.SeverityError)
		} else {
			h.notifier.Push(fmt.Sprintf("removed %s", sel.Label), session.SeverityInfo)
		}
		h.list.SetItems(h.mgr.List())

	case "c":
		sel := h.list.Selected()
		if sel == nil || sel.WorkDir == "" {
			return h, nil
		}
		if !git.IsGitRepo(sel.WorkDir) {
			h.notifier.Push(fmt.Sprintf("%s is not a git repository", sel.WorkDir), session.SeverityWarn)
			return h, nil
		}
		changed := 0
		if status, serr := git.ShortStatus(sel.WorkDir); serr == nil {
			changed = len(status)
		}
		err := git.QuickCommit(sel.WorkDir, fmt.Sprintf("checkpoint: %s", sel.Label))
		switch {
		case err == git.ErrNothingToCommit:
			h.notifier.Push("working tree clean", session.SeverityInfo)
		case err != nil:
			h.notifier.Push(fmt.Sprintf("commit: %v", err), session.SeverityError)
		default:
			summary, serr := git.HeadSummary(sel.WorkDir)
			if serr != nil {
				summary = sel.Label
			}
			h.notifier.Push(fmt.Sprintf("committed %d files: %s", changed, summary), session.SeverityInfo)
		}
	}
	return h, nil
}

func (h *Home) updateFilter(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "enter":
		h.mode = modeList
		h.filterInput.Blur()
		return h, nil
	case "esc":
		h.mode = modeList
		h.filterInput.Blur()
		h.filterInput.SetValue("")
		h.list.Filter("")
		return h, nil
	}

	var cmd tea.Cmd
	h.filterInput, cmd = h.filterInput.Update(msg)
	h.list.Filter(h.filterInput.Value())
	return h, cmd
}

func (h *Home) updateAttached(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	s := h.attached
	if s == nil {
		h.mode = modeList
		return h, nil
	}

	switch msg.Type {
	case tea.KeyCtrlQ:
		if err := s.Detach(); err != nil {
			uiLog.Warn("detach_failed",
				slog.String("session", s.Name),
				slog.String("error", err.Error()))
		}
		h.mode = modeList
		h.attached = nil
		return h, nil

	case tea.KeyCtrlY:
		if snap := s.Snapshot(); snap != nil {
			// Copy what is on screen, not the live bottom, when scrolled.
			text := snap.Text()
			if offset := s.ScrollOffset(); offset > 0 {
				text = snap.ViewText(offset)
			}
			res, err := clipboard.Copy(text)
			if err != nil {
				h.notifier.Push(fmt.Sprintf("copy: %v", err), session.SeverityWarn)
			} else {
				h.notifier.Push(fmt.Sprintf("copied %d lines (%s)", res.LineCount, res.Method), session.SeverityInfo)
			}
		}
		return h, nil

	case tea.KeyPgUp:
		if _, err := s.Scroll(scrollPage); err != nil {
			uiLog.Debug("scroll_failed", slog.String("error", err.Error()))
		}
		return h, nil

	case tea.KeyPgDown:
		if _, err := s.Scroll(-scrollPage); err != nil {
			uiLog.Debug("scroll_failed", slog.String("error", err.Error()))
		}
		return h, nil

	case tea.KeyEsc:
		if s.ScrollOffset() > 0 {
			s.ScrollToBottom()
			return h, nil
		}
	}

	if b := keyToBytes(msg); b != nil {
		if err := s.SendInput(b); err != nil {
			h.notifier.Push(fmt.Sprintf("input: %v", err), session.SeverityWarn)
		}
	}
	return h, nil
}

func (h *Home) View() string {
	switch h.mode {
	case modeAttached:
		if h.attached != nil {
			return h.pane.View(h.attached)
		}
		return ""
	case modeLogs:
		return h.logsView()
	default:
		return h.listView()
	}
}

func (h *Home) listView() string {
	var b strings.Builder

	header := titleStyle.Render("ciab ") + dimStyle.Render(Version)
	if toasts := renderToasts(h.notifier.Active()); toasts != "" {
		header += "  " + toasts
	}
	b.WriteString(header)
	b.WriteString("\n\n")

	if h.mode == modeFilter {
		b.WriteString(h.filterInput.View())
		b.WriteString("\n")
	}
	b.WriteString(h.list.View())
	b.WriteString("\n")
	b.WriteString(helpStyle.Render("enter attach · d remove · c commit · / filter · L logs · q quit"))
	return b.String()
}

func (h *Home) logsView() string {
	content := string(logging.RingBufferBytes())
	lines := strings.Split(strings.TrimRight(content, "\n"), "\n")
	max := h.height - 3
	if max > 0 && len(lines) > max {
		lines = lines[len(lines)-max:]
	}
	return titleStyle.Render("Recent logs") + "\n" +
		lipgloss.NewStyle().Foreground(ColorTextDim).Render(strings.Join(lines, "\n")) +
		"\n" + helpStyle.Render("any key to close")
}

// Run starts the console event loop.
func Run(mgr *session.Manager, notifier *session.Notifier) error {
	p := tea.NewProgram(NewHome(mgr, notifier), tea.WithAltScreen())
	_, err := p.Run()
	return err
}
