// Package chario is the character-device layer of the emulator.
//
// It owns the console (input and output drivers, plus the column
// bookkeeping the BDOS output conventions require) and the three
// auxiliary devices: printer, punch, and reader.  Everything the BDOS
// and BIOS console entries need funnels through the Console type.
package chario

import (
	"log/slog"
	"os"

	"golang.org/x/term"

	"github.com/cpmrun/cpmrun/config"
	"github.com/cpmrun/cpmrun/consolein"
	"github.com/cpmrun/cpmrun/consoleout"
)

// Console bundles the input and output sides of the emulated console.
type Console struct {

	// In is the input driver wrapper.
	In *consolein.ConsoleIn

	// Out is the output driver wrapper.
	Out *consoleout.ConsoleOut

	// col is the column the BDOS thinks the cursor is in.
	col int

	// fullScreen is true when the VT52 emulation is active; only
	// then does output wrap at the right margin.
	fullScreen bool

	// cols is the wrap margin in full-screen mode.
	cols int

	// Interrupt, when non-nil, is called when the console requests
	// termination (the full-screen reset key).
	Interrupt func()

	// waitKeyOnExit makes TearDown wait for a keypress before the
	// screen is torn down.
	waitKeyOnExit bool

	logger *slog.Logger
}

// NewConsole builds the console described by the configuration.
//
// The line-mode console automatically falls back to the stream-based
// driver when stdin is not a terminal, so redirected input behaves.
func NewConsole(cfg *config.Config, logger *slog.Logger) (*Console, error) {

	c := &Console{logger: logger}

	if cfg.Console == config.ConsoleFullScreen {
		out, err := consoleout.New("vt52", cfg.Charset)
		if err != nil {
			return nil, err
		}
		in, err := consolein.New("termbox", cfg.Charset)
		if err != nil {
			return nil, err
		}

		vt := out.GetDriver().(*consoleout.VT52OutputDriver)
		tb := in.GetDriver().(*consolein.TermboxInput)

		vt.SetSize(cfg.Cols, cfg.Lines)
		vt.SetApplicationCursor(cfg.ApplicationCursor)
		if cfg.ScreenDelay >= 0 {
			vt.SetScreenDelay(cfg.ScreenDelay)
		} else {
			c.waitKeyOnExit = true
		}
		vt.Reply = in.StuffInput
		vt.AltKeysChanged = tb.SetAltKeys
		tb.SetAltKeys(cfg.AltKeys == 1)
		tb.Resized = vt.Redraw
		tb.Interrupt = func() {
			if c.Interrupt != nil {
				c.Interrupt()
			}
		}

		// The key exchange applies to the full-screen console only.
		in.SetReverseBsDel(cfg.ReverseBsDel == 1)

		c.In = in
		c.Out = out
		c.fullScreen = true
	} else {
		name := "term"
		if !term.IsTerminal(int(os.Stdin.Fd())) {
			name = "file"
		}
		in, err := consolein.New(name, cfg.Charset)
		if err != nil {
			return nil, err
		}
		out, err := consoleout.New("text", cfg.Charset)
		if err != nil {
			return nil, err
		}
		c.In = in
		c.Out = out
	}

	return c, nil
}

// Setup initializes both sides of the console.
func (c *Console) Setup() error {
	err := c.Out.Setup()
	if err != nil {
		return err
	}
	err = c.In.Setup()
	if err != nil {
		c.Out.TearDown()
		return err
	}
	c.cols, _ = c.Out.Size()
	return nil
}

// TearDown restores the host terminal.
func (c *Console) TearDown() error {
	if c.waitKeyOnExit {
		c.Out.Flush()
		c.In.BlockForCharacterNoEcho()
	}
	errIn := c.In.TearDown()
	errOut := c.Out.TearDown()
	if errOut != nil {
		return errOut
	}
	return errIn
}

// Poll keeps the console responsive; called in regular intervals from
// the interpreter loop.
func (c *Console) Poll() {
	c.Out.Flush()
}

// Status reports whether console input is ready.
func (c *Console) Status() bool {
	return c.In.PendingInput()
}

// RawIn reads one character without echo or interpretation.
func (c *Console) RawIn() (byte, error) {
	c.Out.Flush()
	return c.In.BlockForCharacterNoEcho()
}

// RawOut writes one character without interpretation.
func (c *Console) RawOut(b byte) {
	c.Out.PutCharacter(b)
}

// Column returns the column the BDOS believes the cursor is in.
func (c *Console) Column() int {
	return c.col
}

// PutCrlf outputs a newline and resets the column.
func (c *Console) PutCrlf() {
	c.Out.PutCharacter(0x0D)
	c.Out.PutCharacter(0x0A)
	c.col = 0
}

// PutGraph outputs a graphical character; in full-screen mode output
// wraps at the right margin.
func (c *Console) PutGraph(b byte) {
	c.Out.PutCharacter(b)
	c.col++
	if c.fullScreen && c.col == c.cols {
		c.PutCrlf()
	}
}

// PutChar outputs a character, interpreting BS, LF, TAB, and CR, and
// suppressing all other control characters.
func (c *Console) PutChar(b byte) {
	switch b {
	case 0x08: // BS
		if c.col == 0 {
			return
		}
		c.Out.PutCharacter(b)
		c.col--
		return
	case 0x0A: // LF
		c.Out.PutCharacter(b)
		return
	case 0x09: // TAB
		n := ((c.col / 8) + 1) * 8 - c.col
		for ; n > 0; n-- {
			c.PutGraph(0x20)
		}
		return
	case 0x0D: // CR
		c.Out.PutCharacter(b)
		c.col = 0
		return
	}
	if b < 0x20 || b == 0x7F {
		return
	}
	c.PutGraph(b)
}

// PutCtrl outputs a character, echoing control characters as ^ and an
// upper-case letter.
func (c *Console) PutCtrl(b byte) {
	if b < 0x20 {
		c.PutGraph('^')
		b += 0x40
	}
	c.PutGraph(b)
}

// GetChar reads a character, echoing it with interpretation.
func (c *Console) GetChar() (byte, error) {
	b, err := c.RawIn()
	if err != nil {
		return 0, err
	}
	c.PutChar(b)
	return b, nil
}
