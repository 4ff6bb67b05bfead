// The console and disk-less BDOS functions.
//
// NOTE: the handlers are collected into the dispatch table by
// bdosTable, at the bottom of fdos.go.

package cpm

import (
	"log/slog"

	"github.com/cpmrun/cpmrun/memory"
	"github.com/cpmrun/cpmrun/xlog"
)

// deAttr is the conventional log attribute for the DE argument.
func (cpm *CPM) deAttr() slog.Attr {
	return slog.Int("de", int(cpm.CPU.DE()))
}

// SysCallExit implements BDOS 0, System Reset: the program is done.
func SysCallExit(cpm *CPM) {
	cpm.sysEntry(xlog.Syscall, "system reset")
	cpm.terminate(OkTerm)
}

// SysCallReadChar implements BDOS 1, Console Input: a blocking read
// with echo and control-character interpretation.
func SysCallReadChar(cpm *CPM) {
	cpm.sysEntry(xlog.Syscall, "console input")
	b, err := cpm.Console.GetChar()
	if err != nil {
		cpm.hostError("console input", err)
		return
	}
	cpm.setResult(b)
	cpm.sysExit(xlog.Syscall, "console input")
}

// SysCallWriteChar implements BDOS 2, Console Output: write the byte
// in E with BS/TAB/CR/LF interpretation.
func SysCallWriteChar(cpm *CPM) {
	cpm.sysEntry(xlog.Syscall, "console output", slog.Int("e", int(cpm.CPU.E)))
	cpm.Console.PutChar(cpm.CPU.E)
	cpm.setResult(0)
}

// SysCallAuxRead implements BDOS 3, Reader Input.
func SysCallAuxRead(cpm *CPM) {
	cpm.sysEntry(xlog.Syscall, "reader input")
	cpm.setResult(cpm.Reader.In())
	cpm.sysExit(xlog.Syscall, "reader input")
}

// SysCallAuxWrite implements BDOS 4, Punch Output.
func SysCallAuxWrite(cpm *CPM) {
	cpm.sysEntry(xlog.Syscall, "punch output", slog.Int("e", int(cpm.CPU.E)))
	cpm.Punch.Out(cpm.CPU.E)
	cpm.setResult(0)
}

// SysCallPrinterWrite implements BDOS 5, List Output.
func SysCallPrinterWrite(cpm *CPM) {
	cpm.sysEntry(xlog.Syscall, "list output", slog.Int("e", int(cpm.CPU.E)))
	cpm.Printer.Out(cpm.CPU.E)
	cpm.setResult(0)
}

// SysCallRawIO implements BDOS 6, Direct Console I/O: E=0xFF is a
// non-blocking read returning zero when nothing is pending; any other
// value in E is written raw.
func SysCallRawIO(cpm *CPM) {
	cpm.sysEntry(xlog.Syscall, "direct console io", slog.Int("e", int(cpm.CPU.E)))
	if cpm.CPU.E == 0xFF {
		if cpm.Console.Status() {
			b, err := cpm.Console.RawIn()
			if err != nil {
				cpm.hostError("direct console io", err)
				return
			}
			cpm.setResult(b)
		} else {
			cpm.setResult(0x00)
		}
	} else {
		cpm.Console.RawOut(cpm.CPU.E)
		cpm.setResult(0)
	}
	cpm.sysExit(xlog.Syscall, "direct console io")
}

// SysCallGetIOByte implements BDOS 7: load the IOBYTE from location 3.
func SysCallGetIOByte(cpm *CPM) {
	cpm.sysEntry(xlog.Syscall, "get io byte")
	cpm.setResult(cpm.Memory.Get(iobyte))
	cpm.sysExit(xlog.Syscall, "get io byte")
}

// SysCallSetIOByte implements BDOS 8: store E into location 3.
func SysCallSetIOByte(cpm *CPM) {
	cpm.sysEntry(xlog.Syscall, "set io byte", slog.Int("e", int(cpm.CPU.E)))
	cpm.Memory.Set(iobyte, cpm.CPU.E)
	cpm.setResult(0)
}

// SysCallWriteString implements BDOS 9, Print String: output from DE
// until '$'; a string running past the end of memory is fatal.
func SysCallWriteString(cpm *CPM) {
	cpm.sysEntry(xlog.Syscall, "print string", cpm.deAttr())

	start := int(cpm.CPU.DE())
	addr := start
	for {
		b := cpm.Memory.Get(uint16(addr))
		if b == '$' {
			break
		}
		cpm.Console.PutChar(b)
		addr++
		if addr == memory.Size {
			cpm.Logger.Error("print string: invalid string",
				slog.String("start", hexAddr(uint16(start))))
			cpm.terminate(ErrBdosArg)
			break
		}
	}
	cpm.setResult(0)
}

// SysCallReadString implements BDOS 10, Read Console Buffer: the line
// editor.  The buffer at DE starts with the maximum length; the number
// of bytes read lands in the second byte.
func SysCallReadString(cpm *CPM) {
	cpm.sysEntry(xlog.Syscall, "read console buffer", cpm.deAttr())

	addr := int(cpm.CPU.DE())
	size := int(cpm.Memory.Get(uint16(addr)))
	if memory.Size-addr < size+2 {
		cpm.Logger.Error("read console buffer: invalid buffer",
			slog.String("addr", hexAddr(uint16(addr))))
		cpm.terminate(ErrBdosArg)
		cpm.setResult(0)
		return
	}

	curr := addr + 2
	free := size

	// The retype and discard keys redraw from the column the prompt
	// ended in.
	startCol := cpm.Console.Column()

	read := func() (byte, bool) {
		b, err := cpm.Console.RawIn()
		if err != nil {
			cpm.hostError("read console buffer", err)
			return 0, false
		}
		return b, true
	}

	for free > 0 {
		c, ok := read()
		if !ok {
			return
		}

		switch {
		case c == 0x03 && free == size:
			// ^C at the start of a line terminates the program.
			cpm.Console.PutCtrl(c)
			cpm.Console.PutCrlf()
			cpm.terminate(OkCtrlC)
			cpm.setResult(0)
			return

		case c == 0x05:
			// ^E: physical end of line, input continues.
			cpm.Console.PutCrlf()

		case c == 0x08 || c == 0x7F:
			// BS and DEL: delete the previous character by
			// overtyping; a deleted control character is echoed
			// as two positions.
			if free < size {
				curr--
				free++
				cpm.Console.PutChar(0x08)
				cpm.Console.PutGraph(0x20)
				cpm.Console.PutChar(0x08)
				if cpm.Memory.Get(uint16(curr)) < 0x20 {
					cpm.Console.PutChar(0x08)
					cpm.Console.PutGraph(0x20)
					cpm.Console.PutChar(0x08)
				}
			}

		case c == 0x0A || c == 0x0D:
			// Regular end of input.
			free = -1

		case c == 0x12:
			// ^R: retype the line.
			cpm.Console.PutCrlf()
			for i := 0; i < startCol; i++ {
				cpm.Console.PutGraph(0x20)
			}
			for i := addr + 2; i < curr; i++ {
				cpm.Console.PutCtrl(cpm.Memory.Get(uint16(i)))
			}

		case c == 0x15 || c == 0x18:
			// ^U and ^X: discard all previous input.
			cpm.Console.PutCrlf()
			for i := 0; i < startCol; i++ {
				cpm.Console.PutGraph(0x20)
			}
			curr = addr + 2
			free = size

		default:
			// Echo and store.
			cpm.Console.PutCtrl(c)
			cpm.Memory.Set(uint16(curr), c)
			curr++
			free--
		}
	}

	cpm.Memory.Set(uint16(addr+1), uint8(curr-addr-2))
	cpm.Console.PutChar(0x0D)
	cpm.setResult(0)
}

// SysCallConsoleStatus implements BDOS 11: 0xFF when input is ready.
func SysCallConsoleStatus(cpm *CPM) {
	cpm.sysEntry(xlog.Syscall, "get console status")
	if cpm.Console.Status() {
		cpm.setResult(0xFF)
	} else {
		cpm.setResult(0x00)
	}
}

// SysCallBDOSVersion implements BDOS 12: we emulate CP/M 2.2.
func SysCallBDOSVersion(cpm *CPM) {
	cpm.sysEntry(xlog.Syscall, "return version number")
	cpm.setResult(0x22)
}

// SysCallDriveAllReset implements BDOS 13, Reset Disk System.
func SysCallDriveAllReset(cpm *CPM) {
	cpm.sysEntry(xlog.Fdos, "reset disk system")
	cpm.diskReset()
	cpm.setResult(0)
}

// SysCallDriveSet implements BDOS 14, Select Disk.
func SysCallDriveSet(cpm *CPM) {
	cpm.sysEntry(xlog.Fdos, "select disk", slog.Int("e", int(cpm.CPU.E)))
	if cpm.CPU.E > 15 {
		cpm.Logger.Error("select disk: illegal disk",
			slog.Int("disk", int(cpm.CPU.E)))
		cpm.terminate(ErrSelect)
	} else {
		cpm.currentDrive = int(cpm.CPU.E)
		cpm.Memory.Set(drvUser,
			uint8(cpm.currentDrive)|uint8(cpm.currentUser)<<4)
	}
	cpm.setResult(0)
}

// SysCallLoginVec implements BDOS 24: all configured drives are always
// logged in.
func SysCallLoginVec(cpm *CPM) {
	cpm.sysEntry(xlog.Fdos, "return log in vector")
	var vector uint16
	for i := 15; i >= 0; i-- {
		vector <<= 1
		if cpm.cfg.Drives[i] != "" {
			vector |= 1
		}
	}
	cpm.setResultHL(vector)
	cpm.sysExit(xlog.Fdos, "return log in vector")
}

// SysCallDriveGet implements BDOS 25, Return Current Disk.
func SysCallDriveGet(cpm *CPM) {
	cpm.sysEntry(xlog.Fdos, "return current disk")
	cpm.setResult(uint8(cpm.currentDrive))
	cpm.sysExit(xlog.Fdos, "return current disk")
}

// SysCallSetDMA implements BDOS 26, Set DMA Address.
func SysCallSetDMA(cpm *CPM) {
	cpm.sysEntry(xlog.Fdos, "set dma address", cpm.deAttr())
	addr := int(cpm.CPU.DE())
	if memory.Size-addr < dmaSize {
		cpm.Logger.Error("set dma address: illegal address",
			slog.String("addr", hexAddr(uint16(addr))))
		cpm.terminate(ErrBdosArg)
	} else {
		cpm.dma = uint16(addr)
	}
	cpm.setResult(0)
}

// SysCallGetALV implements BDOS 27: all drives share one dummy
// allocation vector.
func SysCallGetALV(cpm *CPM) {
	cpm.sysEntry(xlog.Fdos, "get addr alloc")
	cpm.setResultHL(alv)
	cpm.sysExit(xlog.Fdos, "get addr alloc")
}

// SysCallWriteProtect implements BDOS 28: mark the current drive
// read-only.
func SysCallWriteProtect(cpm *CPM) {
	cpm.sysEntry(xlog.Fdos, "write protect disk")
	cpm.readOnly[cpm.currentDrive] = true
	cpm.setResult(0)
}

// SysCallROVector implements BDOS 29: the read-only vector.
func SysCallROVector(cpm *CPM) {
	cpm.sysEntry(xlog.Fdos, "get read only vector")
	var vector uint16
	for i := 15; i >= 0; i-- {
		vector <<= 1
		if cpm.readOnly[i] {
			vector |= 1
		}
	}
	cpm.setResultHL(vector)
	cpm.sysExit(xlog.Fdos, "get read only vector")
}

// SysCallGetDPB implements BDOS 31: all drives share one dummy disk
// parameter block.
func SysCallGetDPB(cpm *CPM) {
	cpm.sysEntry(xlog.Fdos, "get addr diskparams")
	cpm.setResultHL(dpb)
	cpm.sysExit(xlog.Fdos, "get addr diskparams")
}

// SysCallUserNumber implements BDOS 32: E=0xFF reads the user number,
// anything else stores its low nibble.
func SysCallUserNumber(cpm *CPM) {
	cpm.sysEntry(xlog.Fdos, "get set user code", slog.Int("e", int(cpm.CPU.E)))
	if cpm.CPU.E == 0xFF {
		cpm.setResult(uint8(cpm.currentUser))
	} else {
		cpm.currentUser = int(cpm.CPU.E & 0x0F)
		cpm.Memory.Set(drvUser,
			uint8(cpm.currentDrive)|uint8(cpm.currentUser)<<4)
		cpm.setResult(0)
	}
	cpm.sysExit(xlog.Fdos, "get set user code")
}

// SysCallDriveReset implements BDOS 37: per-bit reset of the read-only
// vector to the configured defaults.
func SysCallDriveReset(cpm *CPM) {
	cpm.sysEntry(xlog.Fdos, "reset drive", cpm.deAttr())
	vector := cpm.CPU.DE()
	for i := 0; i < 16; i++ {
		if vector&(1<<i) == 0 {
			continue
		}
		if cpm.cfg.Drives[i] == "" {
			cpm.Logger.Error("reset drive: illegal disk",
				slog.Int("disk", i))
			cpm.terminate(ErrSelect)
			continue
		}
		cpm.readOnly[i] = cpm.cfg.ReadOnly[i]
	}
	cpm.setResult(0)
}

// SysCallGetSetSCB implements BDOS 49: a small fixed set of CP/M 3
// system control block fields is readable; writes are accepted and
// discarded.
func SysCallGetSetSCB(cpm *CPM) {
	cpm.sysEntry(xlog.Syscall, "get set scb", cpm.deAttr())

	pb := cpm.CPU.DE()
	offset := cpm.Memory.Get(pb)
	set := cpm.Memory.Get(pb + 1)

	if set != 0 {
		// Writes are tolerated but have no effect.
		cpm.setResult(0)
		return
	}

	cols, lines := cpm.Console.Out.Size()
	var v uint16
	switch offset {
	case 0x05: // BDOS version
		v = 0x0022
	case 0x10: // program return code
		v = cpm.returnCode
	case 0x1A: // console width - 1
		v = uint16(cols - 1)
	case 0x1C: // console page length
		v = uint16(lines)
	case 0x3C: // current DMA address
		v = cpm.dma
	case 0x3E: // current disk
		v = uint16(cpm.currentDrive)
	case 0x44: // current user number
		v = uint16(cpm.currentUser)
	case 0x4A: // multi-sector count
		v = 1
	default:
		v = 0
	}
	cpm.setResultHL(v)
	cpm.sysExit(xlog.Syscall, "get set scb")
}

// SysCallDirLabel implements BDOS 101, Return Directory Label Data:
// label present, time stamps enabled, no passwords.
func SysCallDirLabel(cpm *CPM) {
	cpm.sysEntry(xlog.Fdos, "return directory label")
	cpm.setResult(0x61)
}

// SysCallReturnCode implements BDOS 108, Get/Set Program Return Code.
func SysCallReturnCode(cpm *CPM) {
	cpm.sysEntry(xlog.Syscall, "get set program return code", cpm.deAttr())
	if cpm.CPU.DE() == 0xFFFF {
		cpm.setResultHL(cpm.returnCode)
	} else {
		cpm.returnCode = cpm.CPU.DE()
		cpm.setResult(0)
	}
}

// SysCallDelay implements BDOS 141: sleep DE ticks of twenty
// milliseconds each.
func SysCallDelay(cpm *CPM) {
	cpm.sysEntry(xlog.Syscall, "delay", cpm.deAttr())
	cpm.sleepMillis(int(cpm.CPU.DE()) * 20)
	cpm.setResult(0)
}

func hexAddr(a uint16) string {
	const digits = "0123456789abcdef"
	return "0x" + string([]byte{
		digits[a>>12&0xF], digits[a>>8&0xF], digits[a>>4&0xF], digits[a&0xF],
	})
}
