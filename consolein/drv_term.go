// Terminal input driver.
//
// This is the driver used by the line-mode console when stdin is a
// terminal: reads switch the terminal into raw mode for the duration
// of the read, and the select(2) system call is used to test for
// pending input without consuming it.

package consolein

import (
	"fmt"
	"os"
	"unicode/utf8"

	"golang.org/x/term"

	"github.com/cpmrun/cpmrun/charset"
)

// TermInput reads single characters from the terminal on stdin.
type TermInput struct {

	// cs translates host runes to CP/M code points.
	cs *charset.Charset

	// pending holds stuffed or decoded-but-undelivered bytes.
	pending []byte
}

// SetCharset stores the translation tables.
func (ti *TermInput) SetCharset(cs *charset.Charset) {
	ti.cs = cs
}

// Setup only checks that stdin is a terminal: the terminal state is
// changed per-read.
func (ti *TermInput) Setup() error {
	if !term.IsTerminal(int(os.Stdin.Fd())) {
		return fmt.Errorf("stdin is not a terminal; use the file driver")
	}
	return nil
}

// TearDown is a no-op.
func (ti *TermInput) TearDown() error {
	return nil
}

// PendingInput reports whether stdin has data available.
func (ti *TermInput) PendingInput() bool {
	if len(ti.pending) > 0 {
		return true
	}
	return canSelect()
}

// StuffInput adds fake input, for tests and terminal replies.
func (ti *TermInput) StuffInput(input string) {
	ti.pending = append(ti.pending, []byte(input)...)
}

// BlockForCharacterNoEcho returns the next character from the console,
// blocking until one is available.
//
// Multi-byte host characters are assembled and translated through the
// active table; untranslatable characters are skipped, as the guest
// has no representation for them.
func (ti *TermInput) BlockForCharacterNoEcho() (byte, error) {

	for {
		if len(ti.pending) > 0 {
			b := ti.pending[0]
			ti.pending = ti.pending[1:]
			return b, nil
		}

		// switch stdin into 'raw' mode
		oldState, err := term.MakeRaw(int(os.Stdin.Fd()))
		if err != nil {
			return 0x00, fmt.Errorf("error making raw terminal %s", err)
		}

		// read the bytes of a single character
		var buf []byte
		one := make([]byte, 1)
		for {
			_, err = os.Stdin.Read(one)
			if err != nil {
				term.Restore(int(os.Stdin.Fd()), oldState)
				return 0x00, fmt.Errorf("error reading a byte from stdin %s", err)
			}
			buf = append(buf, one[0])
			if utf8.FullRune(buf) || len(buf) >= utf8.UTFMax {
				break
			}
		}

		// restore the state of the terminal to avoid mixing RAW/Cooked
		err = term.Restore(int(os.Stdin.Fd()), oldState)
		if err != nil {
			return 0x00, fmt.Errorf("error restoring terminal state %s", err)
		}

		r, _ := utf8.DecodeRune(buf)
		if r == utf8.RuneError {
			continue
		}
		if c, ok := ti.cs.ToCpm(r); ok {
			return c, nil
		}
		// untranslatable characters are ignored
	}
}

// GetName returns the name of this driver.
func (ti *TermInput) GetName() string {
	return "term"
}

// init registers our driver, by name.
func init() {
	Register("term", func() ConsoleInput {
		return &TermInput{}
	})
}
