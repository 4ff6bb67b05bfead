// Package consolein handles the reading of console input for our
// emulator.
//
// The package supports the minimum required functionality we need -
// which boils down to reading a single character of input without
// echo, and testing whether input is pending.  Echoing and line
// editing are layered on top by the chario package.
//
// Note that no output functions are handled by this package, it is
// exclusively used for input.  Drivers register themselves by name;
// the line console uses the "term" driver, the VT52 emulation the
// "termbox" driver, and batch operation the "file" driver.
package consolein

import (
	"fmt"
	"strings"

	"github.com/cpmrun/cpmrun/charset"
)

// ConsoleInput is the interface that must be implemented by anything
// that wishes to be used as a console input driver.
//
// Drivers produce CP/M code points, already translated through the
// active character set where that applies.
type ConsoleInput interface {

	// Setup performs any initialization the driver requires.
	Setup() error

	// TearDown undoes the work of Setup.
	TearDown() error

	// PendingInput reports whether input is available.
	PendingInput() bool

	// BlockForCharacterNoEcho returns the next character from the
	// console, blocking until one is available.  No echo is shown.
	BlockForCharacterNoEcho() (byte, error)

	// StuffInput prepends input to the driver's buffer, as though
	// it had been typed.  Used by tests and by the terminal
	// identification reply.
	StuffInput(input string)

	// GetName returns the name of the driver.
	GetName() string
}

// charsetUser is implemented by drivers that translate host characters
// through the configured tables.
type charsetUser interface {
	SetCharset(cs *charset.Charset)
}

// This is a map of known-drivers.
var handlers = struct {
	m map[string]Constructor
}{m: make(map[string]Constructor)}

// Constructor is the signature of a constructor-function which is used
// to instantiate an instance of a driver.
type Constructor func() ConsoleInput

// Register makes a console input driver available, by name.
func Register(name string, obj Constructor) {
	name = strings.ToLower(name)
	handlers.m[name] = obj
}

// ConsoleIn holds our state, which is basically just a pointer to the
// object handling our input, plus the key-swap option.
type ConsoleIn struct {

	// driver is the thing that actually reads our input.
	driver ConsoleInput

	// reverseBsDel exchanges the backspace and delete keys.
	reverseBsDel bool
}

// New is our constructor, it creates an input device which uses the
// specified driver.
func New(name string, cs *charset.Charset) (*ConsoleIn, error) {
	name = strings.ToLower(name)

	ctor, ok := handlers.m[name]
	if !ok {
		return nil, fmt.Errorf("failed to lookup input driver by name '%s'", name)
	}

	drv := ctor()
	if cu, ok := drv.(charsetUser); ok {
		cu.SetCharset(cs)
	}
	return &ConsoleIn{driver: drv}, nil
}

// GetDriver allows getting our driver at runtime.
func (ci *ConsoleIn) GetDriver() ConsoleInput {
	return ci.driver
}

// GetName returns the name of our selected driver.
func (ci *ConsoleIn) GetName() string {
	return ci.driver.GetName()
}

// SetReverseBsDel exchanges the backspace and delete keys.
func (ci *ConsoleIn) SetReverseBsDel(enabled bool) {
	ci.reverseBsDel = enabled
}

// Setup initializes the selected driver.
func (ci *ConsoleIn) Setup() error {
	return ci.driver.Setup()
}

// TearDown shuts the selected driver down.
func (ci *ConsoleIn) TearDown() error {
	return ci.driver.TearDown()
}

// PendingInput reports whether input is available.
func (ci *ConsoleIn) PendingInput() bool {
	return ci.driver.PendingInput()
}

// StuffInput inserts fake input, as though it had been typed.
func (ci *ConsoleIn) StuffInput(input string) {
	ci.driver.StuffInput(input)
}

// BlockForCharacterNoEcho returns the next character from the console,
// blocking until one is available, and applying the backspace/delete
// exchange if configured.
func (ci *ConsoleIn) BlockForCharacterNoEcho() (byte, error) {
	b, err := ci.driver.BlockForCharacterNoEcho()
	if err != nil {
		return 0, err
	}
	if ci.reverseBsDel {
		switch b {
		case 0x08:
			b = 0x7F
		case 0x7F:
			b = 0x08
		}
	}
	return b, nil
}
