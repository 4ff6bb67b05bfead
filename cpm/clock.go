// Wall-clock support: the CP/M day/time encoding, the date-and-time
// BDOS function, and the file date stamps.

package cpm

import (
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/cpmrun/cpmrun/xlog"
)

// cpmDay converts a local time to the CP/M day number: days since
// 1978-01-01, with 1978-01-01 being day 1.
//
// The day difference is computed between local midnights with a
// twelve-hour bias, which absorbs DST shifts and leap seconds.  Days
// outside 1..65535 yield 0, the invalid marker.
func cpmDay(t time.Time) int {
	yearStart := time.Date(t.Year(), 1, 1, 0, 0, 0, 0, t.Location())
	epoch := time.Date(1978, 1, 1, 0, 0, 0, 0, t.Location())

	days := int((yearStart.Sub(epoch)+12*time.Hour)/(24*time.Hour)) + t.YearDay()
	if days < 1 || days > 65535 {
		return 0
	}
	return days
}

// bcd encodes a two-digit value as packed BCD.
func bcd(n int) uint8 {
	return uint8((n/10)<<4 | n%10)
}

// now is the clock source; a variable so tests can pin it.
var now = time.Now

// SysCallTime implements BDOS 105, Get Date and Time: the day number
// and BCD hour/minute land in the four-byte buffer at DE, the BCD
// seconds in A.
func SysCallTime(cpm *CPM) {
	cpm.sysEntry(xlog.Syscall, "get date and time", cpm.deAttr())

	t := now()
	addr := cpm.CPU.DE()

	cpm.Memory.SetU16(addr, uint16(cpmDay(t)))
	cpm.Memory.Set(addr+2, bcd(t.Hour()))
	cpm.Memory.Set(addr+3, bcd(t.Minute()))

	cpm.setResult(bcd(t.Second()))
	cpm.sysExit(xlog.Syscall, "get date and time")
}

// SysCallFileDateStamps implements BDOS 102, Read File Date Stamps:
// the access and update stamps of the named file land in FCB bytes
// 24..31, and the password mode byte (12) is cleared.
func SysCallFileDateStamps(cpm *CPM) {
	const caller = "read file date stamps"
	cpm.sysEntry(xlog.Fdos, caller, cpm.deAttr())
	defer cpm.sysExit(xlog.Fdos, caller)
	cpm.setResult(0xFF)

	addr := cpm.getFcb(32, caller)
	if addr == -1 {
		return
	}
	f := cpm.readFcb(addr)

	drive := cpm.resolveDrive(&f, caller)
	if drive == -1 {
		return
	}
	name, ok := hostName(&f)
	if !ok {
		cpm.Logger.Error(caller + ": illegal file name")
		return
	}
	if isAmbiguous(name) {
		cpm.Logger.Error(caller + ": ambiguous file name")
		return
	}

	path := filepath.Join(cpm.cfg.Drives[drive], name)
	info, err := os.Stat(path)
	if err != nil {
		cpm.Logger.Error(caller+": stat failed",
			slog.String("path", path),
			slog.String("error", err.Error()))
		return
	}

	atime := accessTime(info)
	mtime := info.ModTime()

	stamp := func(off uint16, t time.Time) {
		local := t.Local()
		cpm.Memory.SetU16(uint16(addr)+off, uint16(cpmDay(local)))
		cpm.Memory.Set(uint16(addr)+off+2, bcd(local.Hour()))
		cpm.Memory.Set(uint16(addr)+off+3, bcd(local.Minute()))
	}
	stamp(24, atime)
	stamp(28, mtime)

	// Clear the password mode byte.
	cpm.Memory.Set(uint16(addr)+12, 0x00)

	cpm.setResult(0x00)
}
