// Text output driver, used by the line-orientated console.
//
// Characters are translated through the active table and written to
// the underlying stream; untranslatable characters are silently
// dropped.

package consoleout

import (
	"bufio"
	"io"
	"os"

	"golang.org/x/term"

	"github.com/cpmrun/cpmrun/charset"
)

// TextOutputDriver writes translated characters to a stream.
type TextOutputDriver struct {

	// cs translates CP/M code points to host runes.
	cs *charset.Charset

	// writer is where we send our output.
	writer *bufio.Writer

	// raw is the unbuffered writer, kept for SetWriter.
	raw io.Writer
}

// SetCharset stores the translation tables.
func (td *TextOutputDriver) SetCharset(cs *charset.Charset) {
	td.cs = cs
}

// GetName returns the name of this driver.
func (td *TextOutputDriver) GetName() string {
	return "text"
}

// Setup is a no-op.
func (td *TextOutputDriver) Setup() error {
	return nil
}

// TearDown flushes pending output.
func (td *TextOutputDriver) TearDown() error {
	td.Flush()
	return nil
}

// PutCharacter writes the character to the stream.
func (td *TextOutputDriver) PutCharacter(c uint8) {
	wc := td.cs.FromCpm(c)
	if wc == charset.None {
		return
	}
	td.writer.WriteRune(wc)

	// The buffer exists only to merge the bytes of multi-byte
	// characters; interactive output must not lag behind.
	td.Flush()
}

// Flush drains the buffered writer.
func (td *TextOutputDriver) Flush() {
	td.writer.Flush()
}

// SetWriter updates the writer.
func (td *TextOutputDriver) SetWriter(w io.Writer) {
	td.raw = w
	td.writer = bufio.NewWriter(w)
}

// Size reports the terminal size when stdout is a terminal, and the
// classic 80x24 otherwise.
func (td *TextOutputDriver) Size() (int, int) {
	if f, ok := td.raw.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		w, h, err := term.GetSize(int(f.Fd()))
		if err == nil && w > 0 && h > 0 {
			return w, h
		}
	}
	return 80, 24
}

// init registers our driver, by name.
func init() {
	Register("text", func() ConsoleOutput {
		t := &TextOutputDriver{}
		t.SetWriter(os.Stdout)
		return t
	})
}
