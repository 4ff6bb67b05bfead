// Package xlog wires our five logging verbosities onto log/slog.
//
// The emulator logs at increasing levels of detail: errors only,
// instruction counters, FDOS call tracing, FCB dumps, record dumps, and
// finally every OS-call entry and exit.  Each verbosity maps onto a
// custom slog level so the standard handler machinery does the
// filtering for us.
package xlog

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
)

// Level is the configured verbosity.
type Level int

const (
	// Errors reports only errors.
	Errors Level = iota

	// Counters also collects and reports instruction counters.
	Counters

	// Fdos also traces FDOS (file) functions.
	Fdos

	// Fcbs also dumps FCBs in FDOS functions.
	Fcbs

	// Records also dumps the data read and written.
	Records

	// Syscall also traces every OS function.
	Syscall

	// levelInvalid is one log level too high.
	levelInvalid
)

// Valid reports whether l names a configured verbosity.
func (l Level) Valid() bool {
	return l >= Errors && l < levelInvalid
}

// Slog returns the slog level at which messages of verbosity l are
// emitted.  Higher verbosities use lower slog levels, so setting the
// handler threshold to Slog(configured) shows everything up to and
// including the configured verbosity.
func (l Level) Slog() slog.Level {
	return slog.LevelError - slog.Level(4*int(l))
}

// New creates a logger filtered at the given verbosity.
//
// With an empty path the log goes to stderr.  The returned closer is
// nil when no file was opened.
func New(path string, verbosity Level) (*slog.Logger, io.Closer, error) {

	var w io.Writer = os.Stderr
	var c io.Closer

	if path != "" {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, nil, fmt.Errorf("cannot open logfile %s: %w", path, err)
		}
		w = f
		c = f
	}

	lvl := new(slog.LevelVar)
	lvl.Set(verbosity.Slog())

	log := slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: lvl,
	}))
	return log, c, nil
}

// HexDump formats a region of bytes as the classic sixteen-per-line hex
// and ASCII dump, for attaching to FCB and record log entries.
func HexDump(addr int, data []byte) string {
	var sb strings.Builder

	for off := 0; off < len(data); off += 16 {
		fmt.Fprintf(&sb, "%04X ", addr+off)

		end := off + 16
		if end > len(data) {
			end = len(data)
		}
		for i := off; i < off+16; i++ {
			if i < end {
				fmt.Fprintf(&sb, " %02X", data[i])
			} else {
				sb.WriteString("   ")
			}
		}

		sb.WriteString("  ")
		for i := off; i < end; i++ {
			c := data[i]
			if c < 0x20 || c > 0x7E {
				c = '.'
			}
			sb.WriteByte(c)
		}
		sb.WriteByte('\n')
	}
	return sb.String()
}
