package term

import (
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/twistedxcom/ciab/internal/logging"
)

// ParserState is the emulation parser's current state. It is first-class
// data: callers can observe it between Feed calls, and a sequence split
// across chunks resumes from exactly this state.
type ParserState int

const (
	Ground ParserState = iota
	EscapeEntered
	CsiParameter
	CsiIntermediate
	OscString
)

func (ps ParserState) String() string {
	switch ps {
	case Ground:
		return "ground"
	case EscapeEntered:
		return "escape"
	case CsiParameter:
		return "csi-param"
	case CsiIntermediate:
		return "csi-intermediate"
	case OscString:
		return "osc"
	default:
		return "invalid"
	}
}

// oscMaxLen caps OSC payload buffering so a malformed stream cannot grow the
// buffer without bound.
const oscMaxLen = 4096

// parser is the resumable escape-sequence state machine. All of its fields
// survive across Feed calls, so sequences and UTF-8 runes may split at any
// byte boundary.
type parser struct {
	state ParserState

	paramBuf      []byte
	intermediates []byte
	private       byte

	oscBuf []byte
	oscEsc bool

	// Partial UTF-8 rune carried between chunks.
	utf8Buf  [utf8.UTFMax]byte
	utf8Len  int
	utf8Need int

	// Two-byte escape sequences like charset designation (ESC ( B).
	escIntermediate bool
}

func (p *parser) feed(s *Screen, data []byte) {
	for _, b := range data {
		p.step(s, b)
	}
}

func (p *parser) step(s *Screen, b byte) {
	switch p.state {
	case Ground:
		p.stepGround(s, b)
	case EscapeEntered:
		p.stepEscape(s, b)
	case CsiParameter:
		p.stepCsiParam(s, b)
	case CsiIntermediate:
		p.stepCsiIntermediate(s, b)
	case OscString:
		p.stepOsc(s, b)
	}
}

func (p *parser) enterEscape() {
	p.state = EscapeEntered
	p.paramBuf = p.paramBuf[:0]
	p.intermediates = p.intermediates[:0]
	p.private = 0
	p.oscBuf = p.oscBuf[:0]
	p.oscEsc = false
	p.escIntermediate = false
}

func (p *parser) stepGround(s *Screen, b byte) {
	switch {
	case b == 0x1b:
		p.flushPartialRune(s)
		p.enterEscape()
	case b < 0x20 || b == 0x7f:
		p.flushPartialRune(s)
		p.execControl(s, b)
	default:
		p.feedRune(s, b)
	}
}

// execControl handles C0 controls in Ground state.
func (p *parser) execControl(s *Screen, b byte) {
	switch b {
	case '\n', 0x0b, 0x0c:
		s.lineFeed()
	case '\r':
		s.carriageReturn()
	case '\b':
		s.backspace()
	case '\t':
		s.tab()
	case 0x07:
		// BEL: no-op
	default:
		// Remaining C0 bytes (NUL, SO, SI, ...) are absorbed.
	}
}

// feedRune accumulates UTF-8 bytes, emitting a rune once complete. Invalid
// encodings produce U+FFFD rather than dropping bytes.
func (p *parser) feedRune(s *Screen, b byte) {
	if p.utf8Need == 0 {
		if b < 0x80 {
			s.putRune(rune(b))
			return
		}
		switch {
		case b&0xe0 == 0xc0:
			p.utf8Need = 2
		case b&0xf0 == 0xe0:
			p.utf8Need = 3
		case b&0xf8 == 0xf0:
			p.utf8Need = 4
		default:
			s.putRune(utf8.RuneError)
			return
		}
		p.utf8Buf[0] = b
		p.utf8Len = 1
		return
	}

	if b&0xc0 != 0x80 {
		// Broken continuation: emit replacement and reprocess this byte.
		p.utf8Len = 0
		p.utf8Need = 0
		s.putRune(utf8.RuneError)
		p.stepGround(s, b)
		return
	}

	p.utf8Buf[p.utf8Len] = b
	p.utf8Len++
	if p.utf8Len == p.utf8Need {
		r, _ := utf8.DecodeRune(p.utf8Buf[:p.utf8Len])
		p.utf8Len = 0
		p.utf8Need = 0
		s.putRune(r)
	}
}

// flushPartialRune discards an interrupted multi-byte rune as a replacement
// character when a control byte cuts it off.
func (p *parser) flushPartialRune(s *Screen) {
	if p.utf8Need > 0 {
		p.utf8Len = 0
		p.utf8Need = 0
		s.putRune(utf8.RuneError)
	}
}

func (p *parser) stepEscape(s *Screen, b byte) {
	if p.escIntermediate {
		// Second byte of a two-byte sequence (charset designation etc).
		// Selection is accepted and ignored.
		p.escIntermediate = false
		p.state = Ground
		return
	}

	switch b {
	case '[':
		p.state = CsiParameter
	case ']':
		p.state = OscString
	case '7':
		s.savedX, s.savedY = s.cursorX, s.cursorY
		p.state = Ground
	case '8':
		s.moveCursor(s.savedX, s.savedY)
		p.state = Ground
	case 'c':
		s.reset()
		p.state = Ground
	case 'D':
		s.lineFeed()
		p.state = Ground
	case 'E':
		s.carriageReturn()
		s.lineFeed()
		p.state = Ground
	case 'M':
		// Reverse index: cursor up, scrolling down at the top margin.
		if s.cursorY == 0 {
			s.scrollDown(1)
		} else {
			s.cursorY--
		}
		p.state = Ground
	case '\\':
		// Stray string terminator.
		p.state = Ground
	case '(', ')', '#', '%', '*', '+':
		p.escIntermediate = true
	case 0x1b:
		p.enterEscape()
	default:
		p.unknown(s, "esc", b)
		p.state = Ground
	}
}

func (p *parser) stepCsiParam(s *Screen, b byte) {
	switch {
	case b >= '0' && b <= '9' || b == ';' || b == ':':
		p.paramBuf = append(p.paramBuf, b)
	case b == '?' || b == '<' || b == '=' || b == '>':
		p.private = b
	case b >= 0x20 && b <= 0x2f:
		p.intermediates = append(p.intermediates, b)
		p.state = CsiIntermediate
	case b >= 0x40 && b <= 0x7e:
		p.csiDispatch(s, b)
		p.state = Ground
	case b == 0x1b:
		p.enterEscape()
	case b == 0x18 || b == 0x1a:
		p.state = Ground
	case b < 0x20:
		// C0 controls execute mid-sequence without aborting it.
		p.execControl(s, b)
	default:
		p.unknown(s, "csi", b)
		p.state = Ground
	}
}

func (p *parser) stepCsiIntermediate(s *Screen, b byte) {
	switch {
	case b >= 0x20 && b <= 0x2f:
		p.intermediates = append(p.intermediates, b)
	case b >= 0x40 && b <= 0x7e:
		// No sequences with intermediates are in the supported set.
		p.unknown(s, "csi-intermediate", b)
		p.state = Ground
	case b == 0x1b:
		p.enterEscape()
	default:
		p.unknown(s, "csi-intermediate", b)
		p.state = Ground
	}
}

func (p *parser) stepOsc(s *Screen, b byte) {
	if p.oscEsc {
		p.oscEsc = false
		if b == '\\' {
			p.oscDispatch(s)
			p.state = Ground
			return
		}
		// ESC inside OSC that is not ST: abandon the string and reprocess.
		p.enterEscape()
		p.stepEscape(s, b)
		return
	}

	switch b {
	case 0x07:
		p.oscDispatch(s)
		p.state = Ground
	case 0x1b:
		p.oscEsc = true
	default:
		if len(p.oscBuf) < oscMaxLen {
			p.oscBuf = append(p.oscBuf, b)
		}
	}
}

// oscDispatch applies a completed OSC string. Titles (OSC 0 and 2) are
// recorded; everything else is absorbed.
func (p *parser) oscDispatch(s *Screen) {
	payload := string(p.oscBuf)
	p.oscBuf = p.oscBuf[:0]

	code, rest, ok := strings.Cut(payload, ";")
	if !ok {
		return
	}
	switch code {
	case "0", "2":
		s.title = rest
	default:
		s.unknownSeqs++
		logging.Aggregate(logging.CompTerm, "osc_ignored")
	}
}

// csiDispatch applies a completed CSI sequence.
func (p *parser) csiDispatch(s *Screen, final byte) {
	params := p.parseParams()

	switch final {
	case 'A':
		s.moveCursor(s.cursorX, s.cursorY-paramOr(params, 0, 1))
	case 'B':
		s.moveCursor(s.cursorX, s.cursorY+paramOr(params, 0, 1))
	case 'C':
		s.moveCursor(s.cursorX+paramOr(params, 0, 1), s.cursorY)
	case 'D':
		s.moveCursor(s.cursorX-paramOr(params, 0, 1), s.cursorY)
	case 'E':
		s.moveCursor(0, s.cursorY+paramOr(params, 0, 1))
	case 'F':
		s.moveCursor(0, s.cursorY-paramOr(params, 0, 1))
	case 'G':
		s.moveCursor(paramOr(params, 0, 1)-1, s.cursorY)
	case 'H', 'f':
		s.moveCursor(paramOr(params, 1, 1)-1, paramOr(params, 0, 1)-1)
	case 'd':
		s.moveCursor(s.cursorX, paramOr(params, 0, 1)-1)
	case 'J':
		s.eraseInDisplay(paramOr(params, 0, 0))
	case 'K':
		s.eraseInLine(paramOr(params, 0, 0))
	case 'L':
		s.insertLines(paramOr(params, 0, 1))
	case 'M':
		s.deleteLines(paramOr(params, 0, 1))
	case 'P':
		s.deleteChars(paramOr(params, 0, 1))
	case 'S':
		s.scrollUp(paramOr(params, 0, 1))
	case 'T':
		s.scrollDown(paramOr(params, 0, 1))
	case 'm':
		s.applySGR(params)
	case 's':
		s.savedX, s.savedY = s.cursorX, s.cursorY
	case 'u':
		s.moveCursor(s.savedX, s.savedY)
	case 'h', 'l':
		if p.private == '?' && paramOr(params, 0, 0) == 25 {
			s.cursorVisible = final == 'h'
			return
		}
		// Remaining mode sets (alt screen, bracketed paste, mouse...) are
		// absorbed without effect.
		s.unknownSeqs++
		logging.Aggregate(logging.CompTerm, "csi_mode_ignored")
	default:
		p.unknown(s, "csi-final", final)
	}
}

// parseParams splits the accumulated parameter bytes into integers.
// Sub-parameter colons (SGR 38:2:...) are treated like semicolons.
func (p *parser) parseParams() []int {
	if len(p.paramBuf) == 0 {
		return nil
	}
	raw := strings.ReplaceAll(string(p.paramBuf), ":", ";")
	parts := strings.Split(raw, ";")
	params := make([]int, len(parts))
	for i, part := range parts {
		if part == "" {
			continue
		}
		n, err := strconv.Atoi(part)
		if err != nil {
			continue
		}
		params[i] = n
	}
	return params
}

// paramOr returns params[i], or def when missing or zero.
func paramOr(params []int, i, def int) int {
	if i >= len(params) || params[i] == 0 {
		return def
	}
	return params[i]
}

// unknown records an unrecognized sequence. They are consumed silently and
// counted; rendering continues.
func (p *parser) unknown(s *Screen, kind string, b byte) {
	s.unknownSeqs++
	logging.Aggregate(logging.CompTerm, "unknown_sequence_"+kind)
	_ = b
}

// applySGR mutates the pen from an SGR parameter list.
func (s *Screen) applySGR(params []int) {
	if len(params) == 0 {
		params = []int{0}
	}
	for i := 0; i < len(params); i++ {
		n := params[i]
		switch {
		case n == 0:
			s.pen = Cell{Rune: ' '}
		case n == 1:
			s.pen.Attrs |= AttrBold
		case n == 2:
			s.pen.Attrs |= AttrFaint
		case n == 3:
			s.pen.Attrs |= AttrItalic
		case n == 4:
			s.pen.Attrs |= AttrUnderline
		case n == 5:
			s.pen.Attrs |= AttrBlink
		case n == 7:
			s.pen.Attrs |= AttrReverse
		case n == 9:
			s.pen.Attrs |= AttrStrike
		case n == 22:
			s.pen.Attrs &^= AttrBold | AttrFaint
		case n == 23:
			s.pen.Attrs &^= AttrItalic
		case n == 24:
			s.pen.Attrs &^= AttrUnderline
		case n == 25:
			s.pen.Attrs &^= AttrBlink
		case n == 27:
			s.pen.Attrs &^= AttrReverse
		case n == 29:
			s.pen.Attrs &^= AttrStrike
		case n >= 30 && n <= 37:
			s.pen.FG = ANSI(uint8(n - 30))
		case n == 38:
			color, skip := extendedColor(params[i+1:])
			if skip == 0 {
				return
			}
			s.pen.FG = color
			i += skip
		case n == 39:
			s.pen.FG = DefaultColor
		case n >= 40 && n <= 47:
			s.pen.BG = ANSI(uint8(n - 40))
		case n == 48:
			color, skip := extendedColor(params[i+1:])
			if skip == 0 {
				return
			}
			s.pen.BG = color
			i += skip
		case n == 49:
			s.pen.BG = DefaultColor
		case n >= 90 && n <= 97:
			s.pen.FG = ANSI(uint8(n - 90 + 8))
		case n >= 100 && n <= 107:
			s.pen.BG = ANSI(uint8(n - 100 + 8))
		}
	}
}

// extendedColor parses the tail of a 38/48 SGR: "5;n" or "2;r;g;b".
// Returns the color and how many params were consumed; 0 means malformed.
func extendedColor(rest []int) (Color, int) {
	if len(rest) >= 2 && rest[0] == 5 {
		return Palette256(uint8(rest[1])), 2
	}
	if len(rest) >= 4 && rest[0] == 2 {
		return RGB(uint8(rest[1]), uint8(rest[2]), uint8(rest[3])), 4
	}
	return DefaultColor, 0
}
