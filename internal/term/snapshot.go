package term

import (
	"strings"

	"github.com/muesli/termenv"
)

// Snapshot is an immutable copy of the screen taken between Feed calls.
// The render loop reads snapshots only; it never touches the live grid, so a
// snapshot is always internally consistent.
type Snapshot struct {
	Cols, Rows       int
	CursorX, CursorY int
	CursorVisible    bool
	Title            string
	Grid             []Row
	Scrollback       []Row
	UnknownSeqs      uint64

	// ScrollbackTotal is the monotonic count of rows ever pushed into
	// scrollback. The difference between two snapshots' totals is how many
	// rows the view slid between them, which lets a scroll position stay
	// pinned to the same history rows while output streams.
	ScrollbackTotal uint64
}

// Snapshot deep-copies the visible grid, cursor and scrollback.
// Must be called from the goroutine that owns the screen.
func (s *Screen) Snapshot() Snapshot {
	grid := make([]Row, len(s.grid))
	for i, row := range s.grid {
		grid[i] = row.clone()
	}
	scrollback := make([]Row, len(s.scrollback))
	for i, row := range s.scrollback {
		scrollback[i] = row.clone()
	}
	return Snapshot{
		Cols:            s.cols,
		Rows:            s.rows,
		CursorX:         s.cursorX,
		CursorY:         s.cursorY,
		CursorVisible:   s.cursorVisible,
		Title:           s.title,
		Grid:            grid,
		Scrollback:      scrollback,
		UnknownSeqs:     s.unknownSeqs,
		ScrollbackTotal: s.pushedRows,
	}
}

// Text returns the visible grid as plain text.
func (sn Snapshot) Text() string {
	var b strings.Builder
	for i, row := range sn.Grid {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(row.text())
	}
	return b.String()
}

// TailText returns the last n lines of visible text. The activity detector
// classifies from this tail so its cost stays bounded.
func (sn Snapshot) TailText(n int) string {
	lines := strings.Split(sn.Text(), "\n")
	if n > 0 && len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, "\n")
}

// ViewRows returns the rows visible at a scrollback offset. Offset 0 is the
// live view; each increment moves one row further into history. The result
// always has exactly sn.Rows rows.
func (sn Snapshot) ViewRows(offset int) []Row {
	if offset < 0 {
		offset = 0
	}
	if offset > len(sn.Scrollback) {
		offset = len(sn.Scrollback)
	}
	if offset == 0 {
		return sn.Grid
	}

	combined := make([]Row, 0, len(sn.Scrollback)+len(sn.Grid))
	combined = append(combined, sn.Scrollback...)
	combined = append(combined, sn.Grid...)

	end := len(combined) - offset
	start := end - sn.Rows
	if start < 0 {
		start = 0
	}
	view := combined[start:end]
	if len(view) < sn.Rows {
		padded := make([]Row, 0, sn.Rows)
		for i := len(view); i < sn.Rows; i++ {
			padded = append(padded, newRow(sn.Cols))
		}
		view = append(padded, view...)
	}
	return view
}

// ViewText returns the rows at a scroll offset as plain text, one line per
// row with trailing blanks trimmed. Clipboard copy in scroll mode uses this
// so the copied text matches what is on screen.
func (sn Snapshot) ViewText(offset int) string {
	var b strings.Builder
	for i, row := range sn.ViewRows(offset) {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(row.text())
	}
	return b.String()
}

// MaxScrollOffset returns the furthest ViewRows offset with content.
func (sn Snapshot) MaxScrollOffset() int {
	return len(sn.Scrollback)
}

// RenderANSI renders rows as styled terminal output for the console view.
// Cursor is drawn as a reverse-video cell when visible and withCursor is set.
func (sn Snapshot) RenderANSI(rows []Row, withCursor bool, output *termenv.Output) string {
	var b strings.Builder
	for y, row := range rows {
		if y > 0 {
			b.WriteByte('\n')
		}
		for x, cell := range row.Cells {
			style := output.String(string(cellRune(cell)))
			if fg := termenvColor(cell.FG, output); fg != nil {
				style = style.Foreground(fg)
			}
			if bg := termenvColor(cell.BG, output); bg != nil {
				style = style.Background(bg)
			}
			if cell.Attrs&AttrBold != 0 {
				style = style.Bold()
			}
			if cell.Attrs&AttrFaint != 0 {
				style = style.Faint()
			}
			if cell.Attrs&AttrItalic != 0 {
				style = style.Italic()
			}
			if cell.Attrs&AttrUnderline != 0 {
				style = style.Underline()
			}
			if cell.Attrs&AttrReverse != 0 {
				style = style.Reverse()
			}
			if cell.Attrs&AttrStrike != 0 {
				style = style.CrossOut()
			}
			if withCursor && sn.CursorVisible && y == sn.CursorY && x == sn.CursorX {
				style = style.Reverse()
			}
			b.WriteString(style.String())
		}
	}
	return b.String()
}

func cellRune(c Cell) rune {
	if c.Rune == 0 {
		return ' '
	}
	return c.Rune
}

func termenvColor(c Color, output *termenv.Output) termenv.Color {
	switch c.Mode {
	case ColorANSI:
		return termenv.ANSIColor(c.Value)
	case Color256:
		return termenv.ANSI256Color(c.Value)
	case ColorRGB:
		return output.Profile.FromColor(rgbColor(c.Value))
	default:
		return nil
	}
}

// rgbColor adapts a packed 0xRRGGBB value to image/color.
type rgbColor uint32

func (c rgbColor) RGBA() (r, g, b, a uint32) {
	r = uint32(c>>16&0xff) * 0x101
	g = uint32(c>>8&0xff) * 0x101
	b = uint32(c&0xff) * 0x101
	a = 0xffff
	return
}
