// The auxiliary character devices: printer, punch, and reader.
//
// Each is backed by an optional host file, opened lazily on first use.
// In text mode characters pass through the translation tables with
// CP/M CR/LF pairs collapsing to host line feeds (and re-expanding on
// the reader side); in raw mode bytes transfer untouched.  An error
// marks the device unavailable; it is reported when the device closes.

package chario

import (
	"bufio"
	"fmt"
	"log/slog"
	"os"

	"github.com/cpmrun/cpmrun/charset"
	"github.com/cpmrun/cpmrun/config"
)

// OutDevice is a write-only auxiliary device (printer or punch).
type OutDevice struct {
	// name of the device, for error messages.
	name string

	// path of the data file; empty means unconfigured.
	path string

	// raw selects byte transfer without translation.
	raw bool

	cs     *charset.Charset
	file   *os.File
	writer *bufio.Writer

	// lastCR tracks a pending CR for the CR/LF collapse.
	lastCR bool

	// err is the first error encountered; the device stays silent
	// afterwards.
	err error
}

// NewOutDevice builds a printer or punch from its configuration.
func NewOutDevice(name string, cfg config.AuxDevice, cs *charset.Charset) *OutDevice {
	return &OutDevice{
		name: name,
		path: cfg.Path,
		raw:  cfg.Raw,
		cs:   cs,
	}
}

// Ready reports whether the device can accept data.
func (d *OutDevice) Ready() bool {
	return d.path != "" && d.err == nil
}

// open opens the data file lazily.
func (d *OutDevice) open() bool {
	if d.file != nil {
		return true
	}
	f, err := os.OpenFile(d.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		d.err = err
		return false
	}
	d.file = f
	d.writer = bufio.NewWriter(f)
	return true
}

// Out sends one character to the device.
func (d *OutDevice) Out(c uint8) {
	if !d.Ready() || !d.open() {
		return
	}

	if d.raw {
		err := d.writer.WriteByte(c)
		if err != nil {
			d.err = err
		}
		return
	}

	// Text mode: collapse CR/LF to the host convention.
	if c != 0x0A && d.lastCR {
		d.writer.WriteRune('\r')
	}
	if c != 0x0D {
		wc := d.cs.FromCpm(c)
		if wc != charset.None {
			_, err := d.writer.WriteRune(wc)
			if err != nil {
				d.err = err
			}
		}
	}
	d.lastCR = c == 0x0D
}

// Close appends any pending CR, reports errors encountered during use,
// and closes the data file.
func (d *OutDevice) Close(logger *slog.Logger) error {
	var rc error

	if d.lastCR && d.err == nil && d.writer != nil {
		d.writer.WriteRune('\r')
	}
	if d.err != nil {
		rc = fmt.Errorf("error on %s: %w", d.path, d.err)
	}
	if d.writer != nil {
		err := d.writer.Flush()
		if err != nil && rc == nil {
			rc = fmt.Errorf("cannot flush %s: %w", d.path, err)
		}
	}
	if d.file != nil {
		err := d.file.Close()
		if err != nil && rc == nil {
			rc = fmt.Errorf("cannot close %s: %w", d.path, err)
		}
		d.file = nil
	}
	if rc != nil && logger != nil {
		logger.Error("aux device close failed",
			slog.String("device", d.name),
			slog.String("error", rc.Error()))
	}
	return rc
}

// InDevice is the read-only reader device.
type InDevice struct {
	path string
	raw  bool

	cs     *charset.Charset
	file   *os.File
	reader *bufio.Reader

	// pendingLF delivers the LF half of an expanded line feed.
	pendingLF bool

	err error
}

// NewInDevice builds the reader from its configuration.
func NewInDevice(cfg config.AuxDevice, cs *charset.Charset) *InDevice {
	return &InDevice{
		path: cfg.Path,
		raw:  cfg.Raw,
		cs:   cs,
	}
}

// open opens the data file lazily.
func (d *InDevice) open() bool {
	if d.file != nil {
		return true
	}
	f, err := os.Open(d.path)
	if err != nil {
		d.err = err
		return false
	}
	d.file = f
	d.reader = bufio.NewReader(f)
	return true
}

// In reads one character from the device.  An unconfigured, errored,
// or exhausted reader yields the SUB (^Z) end-of-file marker.
func (d *InDevice) In() uint8 {
	const sub = 0x1A

	if d.path == "" || d.err != nil || !d.open() {
		return sub
	}

	if d.raw {
		b, err := d.reader.ReadByte()
		if err != nil {
			return sub
		}
		return b
	}

	// Text mode: host line feeds become CR/LF pairs.
	if d.pendingLF {
		d.pendingLF = false
		return 0x0A
	}
	for {
		r, _, err := d.reader.ReadRune()
		if err != nil {
			return sub
		}
		c, ok := d.cs.ToCpm(r)
		if !ok {
			continue
		}
		if c == 0x0A {
			d.pendingLF = true
			return 0x0D
		}
		return c
	}
}

// Close reports errors encountered during use and closes the file.
func (d *InDevice) Close(logger *slog.Logger) error {
	var rc error

	if d.err != nil {
		rc = fmt.Errorf("error on %s: %w", d.path, d.err)
	}
	if d.file != nil {
		err := d.file.Close()
		if err != nil && rc == nil {
			rc = fmt.Errorf("cannot close %s: %w", d.path, err)
		}
		d.file = nil
	}
	if rc != nil && logger != nil {
		logger.Error("reader close failed",
			slog.String("error", rc.Error()))
	}
	return rc
}
