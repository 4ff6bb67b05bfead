// Package consoleout is an abstraction over console output.
//
// Two real back-ends exist: the "text" driver for the line-orientated
// console and the "vt52" driver for the full-screen emulation.  The
// "recorder" and "null" drivers exist for tests.  Drivers register
// themselves by name from their init functions and are instantiated
// via a factory, given just the name.
package consoleout

import (
	"fmt"
	"io"
	"strings"

	"github.com/cpmrun/cpmrun/charset"
)

// ConsoleOutput is the interface that must be implemented by anything
// that wishes to be used as a console output driver.
//
// Drivers consume CP/M code points; translation to host characters is
// their business, because only they know whether a character becomes a
// terminal rune or a screen cell.
type ConsoleOutput interface {

	// Setup performs any initialization the driver requires.
	Setup() error

	// TearDown undoes the work of Setup.
	TearDown() error

	// PutCharacter outputs the specified character.
	PutCharacter(c uint8)

	// Flush pushes any buffered output to the device.
	Flush()

	// GetName returns the name of the driver.
	GetName() string

	// SetWriter updates the writer output is sent to, where that
	// makes sense for the driver.
	SetWriter(io.Writer)
}

// ConsoleRecorder is an interface that allows returning the contents
// that have been previously sent to the console.
//
// This is used solely for tests.
type ConsoleRecorder interface {

	// GetOutput returns the contents which have been displayed.
	GetOutput() string

	// Reset removes any stored state.
	Reset()
}

// Sizer is implemented by drivers that know their screen dimensions.
type Sizer interface {

	// Size returns the width and height in characters.
	Size() (int, int)
}

// charsetUser is implemented by drivers that translate through the
// configured character tables.
type charsetUser interface {
	SetCharset(cs *charset.Charset)
}

// This is a map of known-drivers.
var handlers = struct {
	m map[string]Constructor
}{m: make(map[string]Constructor)}

// Constructor is the signature of a constructor-function which is used
// to instantiate an instance of a driver.
type Constructor func() ConsoleOutput

// Register makes a console driver available, by name.
func Register(name string, obj Constructor) {
	name = strings.ToLower(name)
	handlers.m[name] = obj
}

// ConsoleOut holds our state, which is basically just a pointer to the
// object handling our output.
type ConsoleOut struct {

	// driver is the thing that actually writes our output.
	driver ConsoleOutput
}

// New is our constructor, it creates an output device which uses the
// specified driver.
func New(name string, cs *charset.Charset) (*ConsoleOut, error) {
	name = strings.ToLower(name)

	ctor, ok := handlers.m[name]
	if !ok {
		return nil, fmt.Errorf("failed to lookup output driver by name '%s'", name)
	}

	drv := ctor()
	if cu, ok := drv.(charsetUser); ok {
		cu.SetCharset(cs)
	}
	return &ConsoleOut{driver: drv}, nil
}

// GetDriver allows getting our driver at runtime.
func (co *ConsoleOut) GetDriver() ConsoleOutput {
	return co.driver
}

// GetName returns the name of our selected driver.
func (co *ConsoleOut) GetName() string {
	return co.driver.GetName()
}

// Setup initializes the selected driver.
func (co *ConsoleOut) Setup() error {
	return co.driver.Setup()
}

// TearDown shuts the selected driver down.
func (co *ConsoleOut) TearDown() error {
	return co.driver.TearDown()
}

// PutCharacter outputs a character, using our selected driver.
func (co *ConsoleOut) PutCharacter(c byte) {
	co.driver.PutCharacter(c)
}

// Flush pushes buffered output to the device.
func (co *ConsoleOut) Flush() {
	co.driver.Flush()
}

// Size returns the screen dimensions of the driver, or the classic
// 80x24 when the driver has no opinion.
func (co *ConsoleOut) Size() (int, int) {
	if s, ok := co.driver.(Sizer); ok {
		return s.Size()
	}
	return 80, 24
}
