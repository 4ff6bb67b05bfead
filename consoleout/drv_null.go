// Null output driver: output is discarded.

package consoleout

import "io"

// NullOutputDriver holds no state at all.
type NullOutputDriver struct {
}

// GetName returns the name of this driver.
func (no *NullOutputDriver) GetName() string {
	return "null"
}

// Setup is a no-op.
func (no *NullOutputDriver) Setup() error {
	return nil
}

// TearDown is a no-op.
func (no *NullOutputDriver) TearDown() error {
	return nil
}

// PutCharacter discards the character.
func (no *NullOutputDriver) PutCharacter(c uint8) {
}

// Flush is a no-op.
func (no *NullOutputDriver) Flush() {
}

// SetWriter is a no-op.
func (no *NullOutputDriver) SetWriter(w io.Writer) {
}

// init registers our driver, by name.
func init() {
	Register("null", func() ConsoleOutput {
		return &NullOutputDriver{}
	})
}
