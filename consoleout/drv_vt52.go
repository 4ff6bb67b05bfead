// VT52 output driver: a full-screen terminal emulation on termbox.
//
// The emulated screen is a fixed grid of cells; escape sequences move
// the cursor, clear regions, scroll, and toggle attributes the way a
// VT52 did, plus a handful of extensions (attribute control, alternate
// character set, insert/delete operations).

package consoleout

import (
	"io"
	"sync"
	"time"

	termbox "github.com/nsf/termbox-go"

	"github.com/cpmrun/cpmrun/charset"
)

// Escape-parser states.
const (
	vtNormal = iota
	vtEscape
	vtEscapeY  // ESC Y seen, expecting the line byte
	vtEscapeYL // ESC Y <line> seen, expecting the column byte
)

// vtCell is one character cell of the emulated screen.
type vtCell struct {
	ch   rune
	attr termbox.Attribute
}

// VT52OutputDriver holds the emulated screen state.
type VT52OutputDriver struct {

	// cs translates CP/M code points to host runes.
	cs *charset.Charset

	// lines and cols hold the configured screen size; -1 means "use
	// the current terminal size", resolved at Setup.
	lines int
	cols  int

	// screenDelay is the exit delay in seconds.
	screenDelay int

	// cursor position.
	x, y int

	// state of the escape sequence parser.
	state   int
	escLine int

	// is the graphics character set active?
	graphics bool

	// character attributes.
	bold, underline, blink, reverse, standout bool

	// cursor visibility.
	cursorOff bool

	// keypad mode, stored but not really implemented.
	appKeypad bool

	// Reply, when non-nil, receives the terminal identification
	// bytes, to be stuffed into the input stream.
	Reply func(s string)

	// AltKeysChanged, when non-nil, is told when the guest switches
	// the cursor-key sequences.
	AltKeysChanged func(enabled bool)

	// mu guards the cell grid: the resize callback repaints from the
	// input goroutine.
	mu    sync.Mutex
	cells [][]vtCell
	dirty bool
}

// SetCharset stores the translation tables.
func (v *VT52OutputDriver) SetCharset(cs *charset.Charset) {
	v.cs = cs
}

// SetSize configures the screen dimensions; -1 selects the current
// terminal size.
func (v *VT52OutputDriver) SetSize(cols, lines int) {
	v.cols = cols
	v.lines = lines
}

// SetScreenDelay configures the exit delay in seconds.
func (v *VT52OutputDriver) SetScreenDelay(seconds int) {
	v.screenDelay = seconds
}

// SetApplicationCursor selects the startup keypad mode, as if the
// guest had sent ESC = itself.
func (v *VT52OutputDriver) SetApplicationCursor(enabled bool) {
	v.appKeypad = enabled
}

// GetName returns the name of this driver.
func (v *VT52OutputDriver) GetName() string {
	return "vt52"
}

// SetWriter is a no-op; the screen is the writer.
func (v *VT52OutputDriver) SetWriter(w io.Writer) {
}

// Size returns the emulated screen dimensions.
func (v *VT52OutputDriver) Size() (int, int) {
	return v.cols, v.lines
}

// Setup initializes termbox and the cell grid.
func (v *VT52OutputDriver) Setup() error {
	err := termbox.Init()
	if err != nil {
		return err
	}
	termbox.SetInputMode(termbox.InputEsc)
	termbox.HideCursor()

	tw, th := termbox.Size()
	if v.cols <= 0 {
		v.cols = tw
	}
	if v.lines <= 0 {
		v.lines = th
	}

	v.cells = make([][]vtCell, v.lines)
	for i := range v.cells {
		v.cells[i] = v.blankRow()
	}
	v.dirty = true
	v.Flush()
	return nil
}

// TearDown shows the final screen for the configured delay, then
// closes termbox.
func (v *VT52OutputDriver) TearDown() error {
	v.Flush()
	if v.screenDelay > 0 {
		time.Sleep(time.Duration(v.screenDelay) * time.Second)
	}
	if termbox.IsInit {
		termbox.Close()
	}
	return nil
}

func (v *VT52OutputDriver) blankRow() []vtCell {
	row := make([]vtCell, v.cols)
	for i := range row {
		row[i] = vtCell{ch: ' '}
	}
	return row
}

// attr assembles the termbox attribute for the active modes.
func (v *VT52OutputDriver) attr() termbox.Attribute {
	var a termbox.Attribute
	if v.bold {
		a |= termbox.AttrBold
	}
	if v.underline {
		a |= termbox.AttrUnderline
	}
	if v.blink {
		a |= termbox.AttrBlink
	}
	if v.reverse || v.standout {
		a |= termbox.AttrReverse
	}
	return a
}

// PutCharacter feeds one character into the emulation.
func (v *VT52OutputDriver) PutCharacter(c uint8) {
	v.mu.Lock()
	defer v.mu.Unlock()

	// ASCII control characters act regardless of the parser state.
	if c <= 0x1F {
		switch c {
		case 0x08: // BS
			if v.x > 0 {
				v.x--
			}
		case 0x09: // TAB
			// The VT52 way of TAB expansion: every eighth column,
			// then a single column, and ignored at the margin.
			t := ((v.x / 8) + 1) * 8
			if t >= v.cols {
				t = v.x + 1
			}
			if t < v.cols {
				v.x = t
			}
		case 0x0A: // LF
			if v.y+1 < v.lines {
				v.y++
			} else {
				v.scrollUp()
			}
		case 0x0D: // CR
			v.x = 0
		case 0x1B: // ESC
			v.state = vtEscape
		}
		v.dirty = true
		return
	}
	if c == 0x7F {
		return
	}

	switch v.state {
	case vtNormal:
		var wc rune
		if v.graphics {
			wc = v.cs.FromGraph(c)
		} else {
			wc = v.cs.FromCpm(c)
		}
		if wc == charset.None {
			return
		}
		v.cells[v.y][v.x] = vtCell{ch: wc, attr: v.attr()}
		if v.x+1 < v.cols {
			v.x++
		}
		v.dirty = true

	case vtEscape:
		v.state = vtNormal
		v.escapeChar(c)

	case vtEscapeY:
		v.state = vtEscapeYL
		v.escLine = int(c) - 32

	case vtEscapeYL:
		v.state = vtNormal
		col := int(c) - 32
		// A line number beyond the screen positions the cursor on
		// the last line; a column beyond the screen leaves the
		// column unchanged.
		if v.escLine >= v.lines {
			v.escLine = v.lines - 1
		}
		if v.escLine < 0 {
			v.escLine = 0
		}
		if col >= v.cols || col < 0 {
			col = v.x
		}
		v.y = v.escLine
		v.x = col
		v.dirty = true
	}
}

// escapeChar handles the second byte of an escape sequence.
func (v *VT52OutputDriver) escapeChar(c uint8) {
	switch c {
	case ')':
		v.appKeypad = false
	case '=':
		v.appKeypad = true

	case 'A': // cursor up, stop at first line
		if v.y > 0 {
			v.y--
		}
	case 'B': // cursor down, stop at last line
		if v.y+1 < v.lines {
			v.y++
		}
	case 'C': // cursor right, stop at last column
		if v.x+1 < v.cols {
			v.x++
		}
	case 'D': // cursor left, stop at first column
		if v.x > 0 {
			v.x--
		}

	case 'E': // clear screen, cursor home
		for i := range v.cells {
			v.cells[i] = v.blankRow()
		}
		v.x = 0
		v.y = 0

	case 'F': // graphics mode on
		v.graphics = true
	case 'G': // graphics mode off
		v.graphics = false

	case 'H': // cursor home
		v.x = 0
		v.y = 0

	case 'I': // reverse linefeed, scroll back at first line
		if v.y > 0 {
			v.y--
		} else {
			v.scrollDown()
		}

	case 'J': // clear to end of screen
		v.clearToEOL()
		for i := v.y + 1; i < v.lines; i++ {
			v.cells[i] = v.blankRow()
		}
	case 'K': // clear to end of line
		v.clearToEOL()

	case 'L': // insert empty line at cursor
		v.cells = append(v.cells[:v.y],
			append([][]vtCell{v.blankRow()}, v.cells[v.y:v.lines-1]...)...)
	case 'M': // delete line at cursor
		v.cells = append(v.cells[:v.y], v.cells[v.y+1:]...)
		v.cells = append(v.cells, v.blankRow())

	case 'N': // insert blank character at cursor
		row := v.cells[v.y]
		copy(row[v.x+1:], row[v.x:v.cols-1])
		row[v.x] = vtCell{ch: ' '}
	case 'O': // delete character at cursor
		row := v.cells[v.y]
		copy(row[v.x:], row[v.x+1:])
		row[v.cols-1] = vtCell{ch: ' '}

	case 'Y': // direct cursor positioning
		v.state = vtEscapeY

	case 'Z': // identify: VT52 without hardcopy device
		if v.Reply != nil {
			v.Reply("\x1b/K")
		}

	case '[', '\\': // hold screen mode is not implemented

	case 'a': // cursor off
		v.cursorOff = true
	case 'b': // cursor on
		v.cursorOff = false

	case 'c': // alternate character set
		v.cs.UseAlternate = true
	case 'd': // regular character set
		v.cs.UseAlternate = false

	case 'e':
		v.bold = true
	case 'f':
		v.bold = false
	case 'g':
		v.underline = true
	case 'h':
		v.underline = false
	case 'i':
		v.reverse = true
	case 'j':
		v.reverse = false
	case 'k':
		v.blink = true
	case 'l':
		v.blink = false
	case 'm': // all attributes off
		v.bold = false
		v.blink = false
		v.reverse = false
		v.underline = false
		v.standout = false
	case 'n': // alternate cursor keys
		if v.AltKeysChanged != nil {
			v.AltKeysChanged(true)
		}
	case 'o': // VT52 cursor keys
		if v.AltKeysChanged != nil {
			v.AltKeysChanged(false)
		}
	case 'p':
		v.standout = true
	case 'q':
		v.standout = false

	default:
		// all other characters terminate the sequence silently
	}
	v.dirty = true
}

func (v *VT52OutputDriver) clearToEOL() {
	for i := v.x; i < v.cols; i++ {
		v.cells[v.y][i] = vtCell{ch: ' '}
	}
}

func (v *VT52OutputDriver) scrollUp() {
	v.cells = append(v.cells[1:], v.blankRow())
}

func (v *VT52OutputDriver) scrollDown() {
	v.cells = append([][]vtCell{v.blankRow()}, v.cells[:v.lines-1]...)
}

// Flush repaints the termbox screen from the cell grid.
func (v *VT52OutputDriver) Flush() {
	v.mu.Lock()
	defer v.mu.Unlock()

	if !termbox.IsInit || !v.dirty {
		return
	}
	v.dirty = false

	termbox.Clear(termbox.ColorDefault, termbox.ColorDefault)
	for y, row := range v.cells {
		for x, cell := range row {
			termbox.SetCell(x, y, cell.ch,
				termbox.ColorDefault|cell.attr, termbox.ColorDefault)
		}
	}
	if v.cursorOff {
		termbox.HideCursor()
	} else {
		termbox.SetCursor(v.x, v.y)
	}
	termbox.Flush()
}

// Redraw forces a repaint; called after terminal resize events.
func (v *VT52OutputDriver) Redraw() {
	v.mu.Lock()
	v.dirty = true
	v.mu.Unlock()
	v.Flush()
}

// init registers our driver, by name.
func init() {
	Register("vt52", func() ConsoleOutput {
		return &VT52OutputDriver{cols: -1, lines: -1}
	})
}
