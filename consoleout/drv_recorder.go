// Recording output driver, for tests: output is stored, not shown.

package consoleout

import (
	"io"
	"strings"

	"github.com/cpmrun/cpmrun/charset"
)

// RecordingOutputDriver holds our state.
type RecordingOutputDriver struct {

	// cs translates CP/M code points to host runes.
	cs *charset.Charset

	// history stores everything written.
	history strings.Builder
}

// SetCharset stores the translation tables.
func (rd *RecordingOutputDriver) SetCharset(cs *charset.Charset) {
	rd.cs = cs
}

// GetName returns the name of this driver.
func (rd *RecordingOutputDriver) GetName() string {
	return "recorder"
}

// Setup is a no-op.
func (rd *RecordingOutputDriver) Setup() error {
	return nil
}

// TearDown is a no-op.
func (rd *RecordingOutputDriver) TearDown() error {
	return nil
}

// PutCharacter records the translated character.
func (rd *RecordingOutputDriver) PutCharacter(c uint8) {
	wc := rd.cs.FromCpm(c)
	if wc == charset.None {
		return
	}
	rd.history.WriteRune(wc)
}

// Flush is a no-op.
func (rd *RecordingOutputDriver) Flush() {
}

// SetWriter is a no-op; the recorder never writes anywhere.
func (rd *RecordingOutputDriver) SetWriter(w io.Writer) {
}

// GetOutput returns our history.
//
// This is part of the ConsoleRecorder interface.
func (rd *RecordingOutputDriver) GetOutput() string {
	return rd.history.String()
}

// Reset removes any stored state.
//
// This is part of the ConsoleRecorder interface.
func (rd *RecordingOutputDriver) Reset() {
	rd.history.Reset()
}

// init registers our driver, by name.
func init() {
	Register("recorder", func() ConsoleOutput {
		return &RecordingOutputDriver{}
	})
}
