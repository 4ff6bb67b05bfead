// Error input driver, which only returns errors.
//
// This driver exists for testing the error-handling paths of our
// callers.

package consolein

import "fmt"

var (
	// ErrInput is returned by every read of the error driver.
	ErrInput = fmt.Errorf("input is not available")
)

// ErrorInput is a driver that fails every read.
type ErrorInput struct {
}

// Setup is a no-op.
func (ei *ErrorInput) Setup() error {
	return nil
}

// TearDown is a no-op.
func (ei *ErrorInput) TearDown() error {
	return nil
}

// PendingInput always reports input, so reads are attempted.
func (ei *ErrorInput) PendingInput() bool {
	return true
}

// StuffInput discards the given input.
func (ei *ErrorInput) StuffInput(input string) {
}

// BlockForCharacterNoEcho returns an error, always.
func (ei *ErrorInput) BlockForCharacterNoEcho() (byte, error) {
	return 0x00, ErrInput
}

// GetName returns the name of this driver.
func (ei *ErrorInput) GetName() string {
	return "error"
}

// init registers our driver, by name.
func init() {
	Register("error", func() ConsoleInput {
		return &ErrorInput{}
	})
}
