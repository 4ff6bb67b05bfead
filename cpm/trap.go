package cpm

import (
	"log/slog"
	"time"

	"github.com/cpmrun/cpmrun/memory"
	"github.com/cpmrun/cpmrun/xlog"
)

// trap handles an instruction fetch from the magic page.  Offset 0 is
// the BDOS entry, offsets 1..17 are the seventeen CP/M 2.2 BIOS
// entries in their canonical order, and offset 18 is the millisecond
// delay hook.  The interpreter synthesizes a RET when we return, so
// the guest sees an ordinary subroutine.
func (cpm *CPM) trap(offset int) {
	switch offset {
	case memory.MagicBdos:
		cpm.bdosCall()

	case memory.MagicBoot:
		cpm.sysEntry(xlog.Syscall, "bios boot")
		cpm.Logger.Error("bios boot called by program")
		cpm.terminate(ErrBoot)

	case memory.MagicWboot:
		cpm.sysEntry(xlog.Syscall, "bios wboot")
		cpm.terminate(OkTerm)

	case 3: // CONST
		cpm.sysEntry(xlog.Syscall, "bios const")
		if cpm.Console.Status() {
			cpm.CPU.A = 0xFF
		} else {
			cpm.CPU.A = 0x00
		}

	case 4: // CONIN; the high bit is not stripped
		cpm.sysEntry(xlog.Syscall, "bios conin")
		b, err := cpm.Console.RawIn()
		if err != nil {
			cpm.hostError("bios conin", err)
			return
		}
		cpm.CPU.A = b

	case 5: // CONOUT
		cpm.sysEntry(xlog.Syscall, "bios conout",
			slog.Int("c", int(cpm.CPU.C)))
		cpm.Console.RawOut(cpm.CPU.C)

	case 6: // LIST
		cpm.Printer.Out(cpm.CPU.C)

	case 7: // PUNCH
		cpm.Punch.Out(cpm.CPU.C)

	case 8: // READER
		cpm.CPU.A = cpm.Reader.In()

	case 9: // HOME
		cpm.sysEntry(xlog.Syscall, "bios home")

	case 10: // SELDSK: report a nonexisting drive
		cpm.sysEntry(xlog.Syscall, "bios seldsk")
		cpm.CPU.SetHL(0x0000)

	case 11, 12, 13: // SETTRK, SETSEC, SETDMA
		cpm.sysEntry(xlog.Syscall, "bios set track/sector/dma")

	case 14, 15: // READ, WRITE: report an error
		cpm.sysEntry(xlog.Syscall, "bios read/write")
		cpm.CPU.A = 1

	case 16: // LISTST
		if cpm.Printer.Ready() {
			cpm.CPU.A = 0xFF
		} else {
			cpm.CPU.A = 0x00
		}

	case 17: // SECTRAN: no translation, return BC unchanged
		cpm.sysEntry(xlog.Syscall, "bios sectran")
		cpm.CPU.L = cpm.CPU.C
		cpm.CPU.H = cpm.CPU.B

	case memory.MagicDelay:
		cpm.sysEntry(xlog.Syscall, "delay",
			slog.Int("bc", int(cpm.CPU.BC())))
		cpm.sleepMillis(int(cpm.CPU.BC()))
	}
}

// bdosCall dispatches a BDOS function by the number in register C.
func (cpm *CPM) bdosCall() {
	num := cpm.CPU.C

	handler, exists := cpm.Syscalls[num]
	if !exists {
		cpm.sysEntry(xlog.Syscall, "unsupported BDOS function",
			slog.Int("function", int(num)),
			slog.Int("de", int(cpm.CPU.DE())))
		cpm.setResult(0)
		return
	}

	cpm.sysEntry(xlog.Syscall, "BDOS call",
		slog.String("name", handler.Desc),
		slog.Int("function", int(num)))
	handler.Handler(cpm)
}

// hostError terminates the run after an unexpected host failure.
func (cpm *CPM) hostError(what string, err error) {
	cpm.Logger.Error(what+" failed",
		slog.String("error", err.Error()))
	cpm.terminate(ErrHost)
}

// sleepMillis pauses for the given number of wall-clock milliseconds,
// polling the console in quarter-second steps so resizes stay handled,
// and cutting the sleep short when termination is requested.
func (cpm *CPM) sleepMillis(ms int) {
	end := time.Now().Add(time.Duration(ms) * time.Millisecond)
	for {
		if cpm.CPU.Stopped() {
			return
		}
		remaining := time.Until(end)
		if remaining <= 0 {
			return
		}
		if remaining > 250*time.Millisecond {
			remaining = 250 * time.Millisecond
		}
		time.Sleep(remaining)
		cpm.Console.Poll()
	}
}
