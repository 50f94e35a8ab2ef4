package term

// AttrMask holds SGR style flags as a bitset.
type AttrMask uint16

const (
	AttrBold AttrMask = 1 << iota
	AttrFaint
	AttrItalic
	AttrUnderline
	AttrBlink
	AttrReverse
	AttrStrike
)

// ColorMode distinguishes how a Color value should be interpreted.
type ColorMode uint8

const (
	ColorDefault ColorMode = iota // terminal default fg/bg
	ColorANSI                     // 0-15 basic palette
	Color256                      // 0-255 extended palette
	ColorRGB                      // 24-bit truecolor
)

// Color is a packed terminal color. Value holds the palette index for ANSI
// and 256-color modes, or 0xRRGGBB for RGB mode.
type Color struct {
	Mode  ColorMode
	Value uint32
}

// DefaultColor is the terminal's default foreground/background.
var DefaultColor = Color{}

// RGB builds a truecolor value.
func RGB(r, g, b uint8) Color {
	return Color{Mode: ColorRGB, Value: uint32(r)<<16 | uint32(g)<<8 | uint32(b)}
}

// ANSI builds a basic palette color (0-15).
func ANSI(idx uint8) Color {
	return Color{Mode: ColorANSI, Value: uint32(idx)}
}

// Palette256 builds an extended palette color (0-255).
func Palette256(idx uint8) Color {
	return Color{Mode: Color256, Value: uint32(idx)}
}

// Cell is one character position in the grid.
type Cell struct {
	Rune  rune
	FG    Color
	BG    Color
	Attrs AttrMask
}

// blankCell returns an empty cell carrying the current background color so
// that erase operations paint with the active SGR background.
func blankCell(bg Color) Cell {
	return Cell{Rune: ' ', BG: bg}
}

// Row is one visible or scrollback line. Wrapped marks a continuation row
// produced by auto-wrap; reflow uses it to reassemble logical lines.
type Row struct {
	Cells   []Cell
	Wrapped bool
}

func newRow(cols int) Row {
	cells := make([]Cell, cols)
	for i := range cells {
		cells[i] = Cell{Rune: ' '}
	}
	return Row{Cells: cells}
}

// clone returns a deep copy of the row.
func (r Row) clone() Row {
	cells := make([]Cell, len(r.Cells))
	copy(cells, r.Cells)
	return Row{Cells: cells, Wrapped: r.Wrapped}
}

// text returns the row's characters with trailing blanks trimmed.
func (r Row) text() string {
	end := len(r.Cells)
	for end > 0 && (r.Cells[end-1].Rune == ' ' || r.Cells[end-1].Rune == 0) {
		end--
	}
	out := make([]rune, 0, end)
	for _, c := range r.Cells[:end] {
		ch := c.Rune
		if ch == 0 {
			ch = ' '
		}
		out = append(out, ch)
	}
	return string(out)
}
