// Package config collects everything the emulator can be told from the
// command line and the optional configuration file.
//
// A Config is built by main, finalized with the documented defaults,
// and threaded through the constructors of the other packages; nothing
// here is global.
package config

import (
	"fmt"

	"github.com/cpmrun/cpmrun/charset"
	"github.com/cpmrun/cpmrun/xlog"
)

// Console selects the console back-end.
type Console int

const (
	// ConsoleUnset means neither mode was requested yet.
	ConsoleUnset Console = iota

	// ConsoleLine is the line-orientated console.
	ConsoleLine

	// ConsoleFullScreen is the VT52 emulation.
	ConsoleFullScreen
)

// Dump flags select when a machine-state dump is written to the log.
const (
	DumpNone    = 1 << 0
	DumpStartup = 1 << 1
	DumpExit    = 1 << 2
	DumpSignal  = 1 << 3
	DumpError   = 1 << 4
	DumpAll     = 1 << 5
)

// Screen size limits of the VT52 emulation.
const (
	MinLines = 5
	MaxLines = 95
	MinCols  = 20
	MaxCols  = 95
)

// AuxDevice describes one of the printer/punch/reader data files.
type AuxDevice struct {
	// Path of the data file; empty means the device is not configured.
	Path string

	// Raw selects byte-for-byte transfer instead of text translation.
	Raw bool

	// rawSet remembers whether a mode was configured explicitly.
	rawSet bool
}

// SetMode records an explicit raw/text selection.
func (a *AuxDevice) SetMode(raw bool) {
	a.Raw = raw
	a.rawSet = true
}

// ModeSet reports whether a mode was configured explicitly.
func (a *AuxDevice) ModeSet() bool {
	return a.rawSet
}

// Save describes the optional post-run memory save.
type Save struct {
	// File is the destination path; empty disables the save.
	File string

	// Hex selects Intel-HEX output instead of raw binary.
	Hex bool

	// Start and End bound the saved range, inclusive.
	Start int
	End   int
}

// Config is the complete emulator configuration.
type Config struct {
	// Command is the CP/M command to run; Args is its command tail.
	Command string
	Args    []string

	// Drives maps drive numbers 0..15 (A: to P:) to host
	// directories; an empty string means the drive is not
	// configured.  ReadOnly is the parallel write-protect vector.
	Drives   [16]string
	ReadOnly [16]bool

	// DefaultDrive is the drive selected at startup, 0..15.
	// A value of -1 means "not configured yet".
	DefaultDrive int

	// Console selects the line or full-screen back-end.
	Console Console

	// Lines and Cols size the VT52 screen; -1 means "use the
	// current terminal size".
	Lines int
	Cols  int

	// Charset carries the primary and alternate translation tables.
	Charset *charset.Charset

	// UseAltCharset makes the alternate table active at startup.
	UseAltCharset bool

	// Printer, Punch and Reader are the auxiliary character devices.
	Printer AuxDevice
	Punch   AuxDevice
	Reader  AuxDevice

	// LogPath and LogLevel configure the logger; level -1 means
	// "not configured yet".
	LogPath  string
	LogLevel int

	// DontClose leaves files open when the guest closes them, for
	// programs which keep using an FCB after the close.
	DontClose int // -1 unset, 0 false, 1 true

	// ScreenDelay is the delay in seconds before the VT52 screen is
	// torn down at exit; -1 unset, -2 means "wait for a key".
	ScreenDelay int

	// AltKeys selects the alternate (WordStar) cursor-key sequences.
	AltKeys int // -1 unset, 0 false, 1 true

	// ApplicationCursor selects the application cursor-key encodings.
	ApplicationCursor bool

	// ReverseBsDel exchanges the backspace and delete keys.
	ReverseBsDel int // -1 unset, 0 false, 1 true

	// DelayCount and DelayNanos insert a pause of DelayNanos
	// nanoseconds every DelayCount instructions; count -1 is unset,
	// 0 disables.
	DelayCount int
	DelayNanos int

	// Dump selects when machine-state dumps are logged.
	Dump int

	// Save configures the post-run memory save.
	Save Save

	// primarySet and alternateSet track whether a built-in table
	// was already merged into the respective table.
	primarySet   bool
	alternateSet bool
}

// New returns a configuration with every setting unset.
func New() *Config {
	return &Config{
		DefaultDrive: -1,
		Lines:        0,
		Cols:         0,
		Charset:      &charset.Charset{Unprintable: charset.None},
		LogLevel:     -1,
		DontClose:    -1,
		ScreenDelay:  -1,
		AltKeys:      -1,
		ReverseBsDel: -1,
		DelayCount:   -1,
	}
}

// MarkPrimarySet records that the primary table was filled from a
// built-in set.
func (c *Config) MarkPrimarySet() { c.primarySet = true }

// MarkAlternateSet records that the alternate table was filled from a
// built-in set.
func (c *Config) MarkAlternateSet() { c.alternateSet = true }

// Finalize applies the documented defaults and validates the result.
func (c *Config) Finalize() error {

	if c.DefaultDrive == -1 {
		c.DefaultDrive = 0
	}
	if c.Lines == 0 {
		c.Lines = 24
	}
	if c.Cols == 0 {
		c.Cols = 80
	}
	switch c.ScreenDelay {
	case -2:
		c.ScreenDelay = -1
	case -1:
		c.ScreenDelay = 0
	}
	if c.LogLevel == -1 {
		c.LogLevel = int(xlog.Errors)
	}
	if c.DontClose == -1 {
		c.DontClose = 0
	}
	if c.AltKeys == -1 {
		c.AltKeys = 0
	}
	if c.ReverseBsDel == -1 {
		c.ReverseBsDel = 0
	}
	if c.DelayCount == -1 {
		c.DelayCount = 0
	}
	if c.Console == ConsoleUnset {
		c.Console = ConsoleLine
	}

	// Character tables: fill the gaps from the built-in sets.
	if !c.primarySet {
		if err := charset.FillDefaults(&c.Charset.Primary, "vt52"); err != nil {
			return err
		}
	}
	if !c.alternateSet {
		if err := charset.FillDefaults(&c.Charset.Alternate, "vt52"); err != nil {
			return err
		}
	}
	c.Charset.UseAlternate = c.UseAltCharset

	// If not a single drive is defined, drive A: is the current
	// working directory.
	any := false
	for _, d := range c.Drives {
		if d != "" {
			any = true
			break
		}
	}
	if !any {
		c.Drives[0] = "."
	}

	if c.Drives[c.DefaultDrive] == "" {
		return fmt.Errorf("default drive %c: has no definition", 'a'+c.DefaultDrive)
	}

	if !xlog.Level(c.LogLevel).Valid() {
		return fmt.Errorf("invalid log level %d", c.LogLevel)
	}

	return nil
}
