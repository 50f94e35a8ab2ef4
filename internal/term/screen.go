package term

import (
	"strings"

	"github.com/twistedxcom/ciab/internal/logging"
)

var termLog = logging.ForComponent(logging.CompTerm)

// DefaultScrollbackLines bounds the history buffer when the caller does not
// configure one.
const DefaultScrollbackLines = 2000

// Screen is the terminal grid plus the emulation parser that mutates it.
// It is not safe for concurrent use: exactly one goroutine may call Feed and
// Resize, and readers must go through Snapshot.
type Screen struct {
	cols, rows int

	grid []Row

	cursorX, cursorY int
	cursorVisible    bool

	// Saved cursor for ESC 7 / ESC 8 and CSI s/u.
	savedX, savedY int

	// Current SGR pen applied to newly written cells.
	pen Cell

	// pendingWrap implements deferred auto-wrap: writing to the last column
	// leaves the cursor on it and wraps on the next printable byte.
	pendingWrap bool

	scrollback    []Row
	maxScrollback int

	// pushedRows counts every row ever promoted into scrollback, including
	// rows the bound has since evicted. Monotonic; scroll positions anchor
	// against it so a frozen view survives new output.
	pushedRows uint64

	title string

	parser parser

	unknownSeqs uint64
}

// NewScreen creates an empty screen with the given dimensions.
// scrollbackLines <= 0 selects DefaultScrollbackLines.
func NewScreen(cols, rows, scrollbackLines int) *Screen {
	if cols < 1 {
		cols = 1
	}
	if rows < 1 {
		rows = 1
	}
	if scrollbackLines <= 0 {
		scrollbackLines = DefaultScrollbackLines
	}
	s := &Screen{
		cols:          cols,
		rows:          rows,
		cursorVisible: true,
		maxScrollback: scrollbackLines,
		pen:           Cell{Rune: ' '},
	}
	s.grid = make([]Row, rows)
	for i := range s.grid {
		s.grid[i] = newRow(cols)
	}
	return s
}

// Size returns the current grid dimensions.
func (s *Screen) Size() (cols, rows int) {
	return s.cols, s.rows
}

// Title returns the window title from the most recent OSC 0/2 sequence.
func (s *Screen) Title() string {
	return s.title
}

// UnknownSequences returns how many unrecognized escape sequences have been
// consumed so far. Diagnostics only; unknown sequences are never errors.
func (s *Screen) UnknownSequences() uint64 {
	return s.unknownSeqs
}

// Feed consumes a chunk of raw terminal output. Chunks may split escape
// sequences and UTF-8 runes at any byte boundary; the parser carries the
// partial state to the next call.
func (s *Screen) Feed(data []byte) {
	s.parser.feed(s, data)
}

// ParserState exposes the parser's current state for tests and diagnostics.
func (s *Screen) ParserState() ParserState {
	return s.parser.state
}

// putRune writes one printable rune at the cursor, handling deferred wrap.
func (s *Screen) putRune(r rune) {
	if s.pendingWrap {
		s.grid[s.cursorY].Wrapped = true // next row continues this logical line
		s.cursorX = 0
		s.lineFeed()
		// lineFeed may have scrolled; the wrap flag travels with the row.
		s.pendingWrap = false
	}

	cell := s.pen
	cell.Rune = r
	s.grid[s.cursorY].Cells[s.cursorX] = cell

	if s.cursorX == s.cols-1 {
		s.pendingWrap = true
	} else {
		s.cursorX++
	}
}

// lineFeed moves the cursor down one row, scrolling at the bottom.
func (s *Screen) lineFeed() {
	if s.cursorY == s.rows-1 {
		s.scrollUp(1)
	} else {
		s.cursorY++
	}
}

// carriageReturn moves the cursor to column zero.
func (s *Screen) carriageReturn() {
	s.cursorX = 0
	s.pendingWrap = false
}

// backspace moves the cursor left one column, stopping at the margin.
func (s *Screen) backspace() {
	if s.pendingWrap {
		s.pendingWrap = false
		return
	}
	if s.cursorX > 0 {
		s.cursorX--
	}
}

// tab advances the cursor to the next 8-column tab stop.
func (s *Screen) tab() {
	next := (s.cursorX/8 + 1) * 8
	if next >= s.cols {
		next = s.cols - 1
	}
	s.cursorX = next
	s.pendingWrap = false
}

// scrollUp promotes n rows from the top of the grid into scrollback and
// appends blank rows at the bottom.
func (s *Screen) scrollUp(n int) {
	if n < 1 {
		n = 1
	}
	if n > s.rows {
		n = s.rows
	}
	for i := 0; i < n; i++ {
		s.pushScrollback(s.grid[0])
		copy(s.grid, s.grid[1:])
		s.grid[s.rows-1] = newRow(s.cols)
	}
}

// scrollDown inserts n blank rows at the top, dropping rows off the bottom.
// Content scrolled off the bottom is not retained.
func (s *Screen) scrollDown(n int) {
	if n < 1 {
		n = 1
	}
	if n > s.rows {
		n = s.rows
	}
	for i := 0; i < n; i++ {
		copy(s.grid[1:], s.grid[:s.rows-1])
		s.grid[0] = newRow(s.cols)
	}
}

func (s *Screen) pushScrollback(row Row) {
	s.pushedRows++
	s.scrollback = append(s.scrollback, row)
	if len(s.scrollback) > s.maxScrollback {
		drop := len(s.scrollback) - s.maxScrollback
		s.scrollback = append(s.scrollback[:0], s.scrollback[drop:]...)
	}
}

// moveCursor sets an absolute position, clamping into bounds.
func (s *Screen) moveCursor(x, y int) {
	if x < 0 {
		x = 0
	}
	if x >= s.cols {
		x = s.cols - 1
	}
	if y < 0 {
		y = 0
	}
	if y >= s.rows {
		y = s.rows - 1
	}
	s.cursorX, s.cursorY = x, y
	s.pendingWrap = false
}

// eraseInDisplay implements CSI J. Mode 0 erases cursor to end, 1 erases
// start to cursor, 2 and 3 erase the full screen (3 additionally drops
// scrollback).
func (s *Screen) eraseInDisplay(mode int) {
	blank := blankCell(s.pen.BG)
	switch mode {
	case 0:
		s.eraseLineRange(s.cursorY, s.cursorX, s.cols)
		for y := s.cursorY + 1; y < s.rows; y++ {
			s.fillRow(y, blank)
		}
	case 1:
		s.eraseLineRange(s.cursorY, 0, s.cursorX+1)
		for y := 0; y < s.cursorY; y++ {
			s.fillRow(y, blank)
		}
	case 2, 3:
		for y := 0; y < s.rows; y++ {
			s.fillRow(y, blank)
		}
		if mode == 3 {
			s.scrollback = nil
		}
	}
	s.pendingWrap = false
}

// eraseInLine implements CSI K. Mode 0 erases cursor to line end, 1 erases
// line start to cursor, 2 erases the whole line.
func (s *Screen) eraseInLine(mode int) {
	switch mode {
	case 0:
		s.eraseLineRange(s.cursorY, s.cursorX, s.cols)
	case 1:
		s.eraseLineRange(s.cursorY, 0, s.cursorX+1)
	case 2:
		s.fillRow(s.cursorY, blankCell(s.pen.BG))
	}
	s.pendingWrap = false
}

func (s *Screen) eraseLineRange(y, from, to int) {
	blank := blankCell(s.pen.BG)
	row := s.grid[y]
	for x := from; x < to && x < s.cols; x++ {
		row.Cells[x] = blank
	}
}

func (s *Screen) fillRow(y int, c Cell) {
	row := s.grid[y]
	for x := range row.Cells {
		row.Cells[x] = c
	}
	s.grid[y].Wrapped = false
}

// insertLines implements CSI L: insert n blank rows at the cursor, pushing
// rows below off the bottom.
func (s *Screen) insertLines(n int) {
	if n < 1 {
		n = 1
	}
	for i := 0; i < n && s.cursorY < s.rows; i++ {
		copy(s.grid[s.cursorY+1:], s.grid[s.cursorY:s.rows-1])
		s.grid[s.cursorY] = newRow(s.cols)
	}
}

// deleteLines implements CSI M: delete n rows at the cursor, pulling rows up
// and filling with blanks at the bottom.
func (s *Screen) deleteLines(n int) {
	if n < 1 {
		n = 1
	}
	for i := 0; i < n && s.cursorY < s.rows; i++ {
		copy(s.grid[s.cursorY:], s.grid[s.cursorY+1:])
		s.grid[s.rows-1] = newRow(s.cols)
	}
}

// deleteChars implements CSI P: delete n cells at the cursor, shifting the
// remainder of the line left.
func (s *Screen) deleteChars(n int) {
	if n < 1 {
		n = 1
	}
	row := s.grid[s.cursorY].Cells
	blank := blankCell(s.pen.BG)
	for i := 0; i < n; i++ {
		copy(row[s.cursorX:], row[s.cursorX+1:])
		row[s.cols-1] = blank
	}
}

// reset restores the power-on state, clearing grid, scrollback and pen.
func (s *Screen) reset() {
	for y := range s.grid {
		s.grid[y] = newRow(s.cols)
	}
	s.scrollback = nil
	s.cursorX, s.cursorY = 0, 0
	s.savedX, s.savedY = 0, 0
	s.cursorVisible = true
	s.pen = Cell{Rune: ' '}
	s.pendingWrap = false
	s.title = ""
}

// Resize reflows the screen to new dimensions. Logical lines are reassembled
// across wrap boundaries and re-wrapped at the new width, so visible content
// plus scrollback carries the same characters before and after (up to the
// scrollback bound). The cursor is clamped into the new grid.
func (s *Screen) Resize(cols, rows int) {
	if cols < 1 {
		cols = 1
	}
	if rows < 1 {
		rows = 1
	}
	if cols == s.cols && rows == s.rows {
		return
	}

	// Reassemble logical lines from scrollback + grid.
	logical := s.logicalLines()

	// Drop trailing blank logical lines below the cursor so an empty prompt
	// area does not pad scrollback after shrinking.
	usedRows := s.usedRows()
	trailingBlank := s.rows - usedRows
	for trailingBlank > 0 && len(logical) > 0 && len(logical[len(logical)-1]) == 0 {
		logical = logical[:len(logical)-1]
		trailingBlank--
	}

	s.cols, s.rows = cols, rows

	// Re-wrap every logical line at the new width.
	var rewrapped []Row
	for _, line := range logical {
		rewrapped = append(rewrapped, wrapLine(line, cols)...)
	}

	// Bottom-align: the last rows become the grid, the rest scrollback.
	s.grid = make([]Row, rows)
	gridStart := len(rewrapped) - rows
	if gridStart < 0 {
		gridStart = 0
	}
	s.scrollback = nil
	for _, row := range rewrapped[:gridStart] {
		s.pushScrollback(row)
	}
	n := 0
	for _, row := range rewrapped[gridStart:] {
		s.grid[n] = row
		n++
	}
	for ; n < rows; n++ {
		s.grid[n] = newRow(cols)
	}

	s.moveCursor(s.cursorX, s.cursorY)
	s.pendingWrap = false
	termLog.Debug("screen_resized")
}

// usedRows returns the number of grid rows from the top through the last
// non-blank row or the cursor row, whichever is lower.
func (s *Screen) usedRows() int {
	last := s.cursorY
	for y := s.rows - 1; y > last; y-- {
		if s.grid[y].text() != "" {
			last = y
			break
		}
	}
	return last + 1
}

// logicalLines merges scrollback and grid rows into logical lines, joining
// rows marked as wrap continuations.
func (s *Screen) logicalLines() [][]Cell {
	all := make([]Row, 0, len(s.scrollback)+s.rows)
	all = append(all, s.scrollback...)
	all = append(all, s.grid...)

	var lines [][]Cell
	var current []Cell
	open := false
	for _, row := range all {
		trimmed := trimRow(row)
		if open {
			current = append(current, trimmed...)
		} else {
			current = append([]Cell(nil), trimmed...)
		}
		open = row.Wrapped
		if !open {
			lines = append(lines, current)
			current = nil
		}
	}
	if open {
		lines = append(lines, current)
	}
	return lines
}

// trimRow returns a row's cells with trailing blanks removed.
func trimRow(r Row) []Cell {
	end := len(r.Cells)
	for end > 0 {
		c := r.Cells[end-1]
		if c.Rune != ' ' && c.Rune != 0 {
			break
		}
		// Cells with explicit background survive trimming.
		if c.BG != DefaultColor {
			break
		}
		end--
	}
	return r.Cells[:end]
}

// wrapLine splits one logical line into grid rows of the given width.
func wrapLine(line []Cell, cols int) []Row {
	if len(line) == 0 {
		return []Row{newRow(cols)}
	}
	var rows []Row
	for start := 0; start < len(line); start += cols {
		end := start + cols
		last := false
		if end >= len(line) {
			end = len(line)
			last = true
		}
		row := newRow(cols)
		copy(row.Cells, line[start:end])
		row.Wrapped = !last
		rows = append(rows, row)
	}
	return rows
}

// Text renders the visible grid as plain text, one line per row, trailing
// blanks trimmed. Used by the activity detector and tests.
func (s *Screen) Text() string {
	var b strings.Builder
	for y := 0; y < s.rows; y++ {
		if y > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(s.grid[y].text())
	}
	return b.String()
}
