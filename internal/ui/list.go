package ui

import (
	"fmt"
	"strings"

	"github.com/mattn/go-runewidth"
	"github.com/sahilm/fuzzy"

	"github.com/twistedxcom/ciab/internal/session"
)

// List is the left-hand session list with fuzzy filtering.
type List struct {
	all     []*session.Session
	items   []*session.Session
	cursor  int
	query   string
	width   int
	height  int
}

func NewList() *List {
	return &List{}
}

// fuzzySource implements fuzzy.Source over session labels.
type fuzzySource struct {
	sessions []*session.Session
}

func (s fuzzySource) String(i int) string { return s.sessions[i].Label }
func (s fuzzySource) Len() int            { return len(s.sessions) }

// SetItems replaces the backing session set, preserving the cursor on the
// same session where possible.
func (l *List) SetItems(items []*session.Session) {
	var selectedName string
	if sel := l.Selected(); sel != nil {
		selectedName = sel.Name
	}
	l.all = items
	l.applyFilter()

	if selectedName != "" {
		for i, s := range l.items {
			if s.Name == selectedName {
				l.cursor = i
				return
			}
		}
	}
	if l.cursor >= len(l.items) {
		l.cursor = len(l.items) - 1
	}
	if l.cursor < 0 {
		l.cursor = 0
	}
}

// Filter sets the fuzzy query. Empty query shows everything.
func (l *List) Filter(query string) {
	l.query = query
	l.cursor = 0
	l.applyFilter()
}

func (l *List) applyFilter() {
	if l.query == "" {
		l.items = l.all
		return
	}
	source := fuzzySource{sessions: l.all}
	matches := fuzzy.FindFrom(l.query, source)
	results := make([]*session.Session, 0, len(matches))
	for _, m := range matches {
		results = append(results, l.all[m.Index])
	}
	l.items = results
}

func (l *List) Query() string { return l.query }

func (l *List) Len() int { return len(l.items) }

// Selected returns the session under the cursor, or nil for an empty list.
func (l *List) Selected() *session.Session {
	if len(l.items) == 0 {
		return nil
	}
	if l.cursor >= len(l.items) {
		l.cursor = len(l.items) - 1
	}
	return l.items[l.cursor]
}

func (l *List) MoveUp() {
	if l.cursor > 0 {
		l.cursor--
	}
}

func (l *List) MoveDown() {
	if l.cursor < len(l.items)-1 {
		l.cursor++
	}
}

func (l *List) SetSize(width, height int) {
	l.width = width
	l.height = height
}

// View renders the list.
func (l *List) View() string {
	var b strings.Builder

	header := "Sessions"
	if l.query != "" {
		header = fmt.Sprintf("Sessions /%s", l.query)
	}
	b.WriteString(titleStyle.Render(header))
	b.WriteString("\n")

	if len(l.items) == 0 {
		b.WriteString(dimStyle.Render("  no sessions"))
		return b.String()
	}

	maxRows := l.height - 1
	if maxRows < 1 {
		maxRows = len(l.items)
	}
	start := 0
	if l.cursor >= maxRows {
		start = l.cursor - maxRows + 1
	}

	for i := start; i < len(l.items) && i < start+maxRows; i++ {
		s := l.items[i]
		label := s.Label
		if s.RemoteURL != "" {
			label += " ⇄"
		}
		line := fmt.Sprintf("%s  %s", truncate(label, l.width-14), activityBadge(string(s.Activity())))
		if i == l.cursor {
			b.WriteString(selectedItemStyle.Render(line))
		} else {
			b.WriteString(listItemStyle.Render(line))
		}
		b.WriteString("\n")
	}
	return b.String()
}

// truncate cuts s to the given display width, appending an ellipsis.
func truncate(s string, width int) string {
	if width <= 0 || runewidth.StringWidth(s) <= width {
		return s
	}
	return runewidth.Truncate(s, width, "…")
}
