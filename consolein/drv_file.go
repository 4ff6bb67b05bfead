// Batch input driver.
//
// This driver reads console input from a stream without any terminal
// control, which is what you want when stdin is redirected from a file
// or a pipe.  End of input is reported CP/M style as the SUB (^Z)
// character, and line feeds become carriage returns so that programs
// reading lines behave as they would on a real console.

package consolein

import (
	"bufio"
	"io"
	"os"

	"github.com/cpmrun/cpmrun/charset"
)

// FileInput reads console input from an arbitrary stream.
type FileInput struct {

	// reader is the source of our input.
	reader *bufio.Reader

	// source is what the reader was built from; defaults to stdin.
	source io.Reader

	// cs translates host runes to CP/M code points.
	cs *charset.Charset

	// pending holds stuffed input, delivered ahead of the stream.
	pending []byte

	// eof is set once the stream is exhausted.
	eof bool
}

// SetCharset stores the translation tables.
func (fi *FileInput) SetCharset(cs *charset.Charset) {
	fi.cs = cs
}

// SetSource changes the input stream; used by tests.
func (fi *FileInput) SetSource(r io.Reader) {
	fi.source = r
	fi.reader = nil
}

// Setup prepares the buffered reader.
func (fi *FileInput) Setup() error {
	if fi.source == nil {
		fi.source = os.Stdin
	}
	fi.reader = bufio.NewReader(fi.source)
	return nil
}

// TearDown is a no-op.
func (fi *FileInput) TearDown() error {
	return nil
}

// PendingInput reports whether input is available; a stream always has
// data until it hits EOF, and even then the EOF marker is deliverable.
func (fi *FileInput) PendingInput() bool {
	return true
}

// StuffInput adds fake input.
func (fi *FileInput) StuffInput(input string) {
	fi.pending = append(fi.pending, []byte(input)...)
}

// BlockForCharacterNoEcho returns the next character from the stream.
func (fi *FileInput) BlockForCharacterNoEcho() (byte, error) {

	if len(fi.pending) > 0 {
		b := fi.pending[0]
		fi.pending = fi.pending[1:]
		return b, nil
	}

	if fi.reader == nil {
		err := fi.Setup()
		if err != nil {
			return 0x1A, nil
		}
	}

	for {
		if fi.eof {
			return 0x1A, nil
		}

		r, _, err := fi.reader.ReadRune()
		if err != nil {
			fi.eof = true
			return 0x1A, nil
		}

		c, ok := fi.cs.ToCpm(r)
		if !ok {
			// untranslatable characters are ignored
			continue
		}
		if c == 0x0A {
			c = 0x0D
		}
		return c, nil
	}
}

// GetName returns the name of this driver.
func (fi *FileInput) GetName() string {
	return "file"
}

// init registers our driver, by name.
func init() {
	Register("file", func() ConsoleInput {
		return &FileInput{}
	})
}
