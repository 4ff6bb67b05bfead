// Package z80 implements the Z80 CPU the emulator executes programs on.
//
// The interpreter is cycle-inaccurate but semantically faithful: the
// full documented instruction set, the commonly used undocumented
// instructions (SLL, the IXH/IXL/IYH/IYL halves, the ED NEG and IM
// aliases), and the undocumented Y and X flag results are all
// implemented.  Decoding is a prefix state machine; an instruction
// cycle fetches any 0xDD/0xFD prefixes (last one wins), the primary
// opcode, then a displacement and immediate operands as the dispatch
// tables demand.
//
// Instruction fetches from the magic page at the top of memory are
// handed to the Trap callback before decoding, and a RET is synthesized
// afterwards, so OS calls appear to the guest as subroutines that
// return.
package z80

import (
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/cpmrun/cpmrun/memory"
)

// PollInterval is the number of executed instructions between console
// polls.  The value is empirical: frequent enough to keep the
// full-screen emulation responsive to input and resizes, rare enough
// not to slow the interpreter down.
const PollInterval = 128 * 1024

// Flags holds the flag register as independent booleans.
type Flags struct {
	S bool // sign
	Z bool // zero
	Y bool // undocumented, bit 5 of the result
	H bool // half carry
	X bool // undocumented, bit 3 of the result
	P bool // parity / overflow
	N bool // subtract
	C bool // carry
}

// Byte packs the flags into the F register layout.
func (f Flags) Byte() uint8 {
	var b uint8
	if f.S {
		b |= 0x80
	}
	if f.Z {
		b |= 0x40
	}
	if f.Y {
		b |= 0x20
	}
	if f.H {
		b |= 0x10
	}
	if f.X {
		b |= 0x08
	}
	if f.P {
		b |= 0x04
	}
	if f.N {
		b |= 0x02
	}
	if f.C {
		b |= 0x01
	}
	return b
}

// SetByte unpacks the F register layout into the flags.
func (f *Flags) SetByte(b uint8) {
	f.S = b&0x80 != 0
	f.Z = b&0x40 != 0
	f.Y = b&0x20 != 0
	f.H = b&0x10 != 0
	f.X = b&0x08 != 0
	f.P = b&0x04 != 0
	f.N = b&0x02 != 0
	f.C = b&0x01 != 0
}

// CPU is the complete machine state plus the host hooks driving it.
type CPU struct {
	// Mem is the 64K guest address space.
	Mem *memory.Memory

	// Main register file.
	A, B, C, D, E, H, L uint8
	F                   Flags

	// Shadow register file, reached via EX AF,AF' and EXX.
	AltA, AltB, AltC, AltD, AltE, AltH, AltL uint8
	AltF                                     Flags

	// Index registers, stored as halves because the undocumented
	// instructions access them that way.
	IXH, IXL, IYH, IYL uint8

	// Interrupt vector and refresh registers.
	I, R uint8

	SP uint16
	PC uint16

	// IFF is the interrupt enable flip-flop: stored by EI/DI and
	// reported by LD A,I, but never consulted since nothing ever
	// raises an interrupt.
	IFF bool

	// Trap is called when an instruction fetch lands in the magic
	// page, with the offset of the fetch address from the start of
	// the page.  A RET is synthesized after it returns.
	Trap func(offset int)

	// Poll, when non-nil, is called every PollInterval executed
	// instructions.
	Poll func()

	// DumpRequested is called at the next instruction boundary after
	// RequestDump.
	DumpRequested func()

	// DelayCount and DelayNanos implement the optional CPU delay:
	// every DelayCount instructions the interpreter sleeps for
	// DelayNanos.
	DelayCount int
	DelayNanos time.Duration

	// CountInstructions enables the per-opcode execution counters.
	CountInstructions bool

	// Executed counts every executed instruction.
	Executed uint64

	Logger *slog.Logger

	// stop is set from signal context; the run loop checks it at
	// every instruction boundary.
	stop atomic.Bool

	// dump is set from signal context to request a state dump.
	dump atomic.Bool

	// internal mirrors the CPU's hidden address latch: the last
	// indexed effective address, also clobbered by JR, ADD HL and
	// friends.  BIT n,(IX+d) takes its Y and X flags from here.
	internal uint16

	// Decoding state for the current instruction.
	prefix  uint8
	opcode  uint8
	opcode2 uint8
	disp    uint8
	opLow   uint8
	opHigh  uint8

	// current is the address the current instruction was fetched from.
	current uint16

	// Per-plane execution counters.
	counters   [7][256]uint64
	planeNames [7]string
}

// Plane indices for the execution counters.
const (
	planeBase = iota
	planeDD
	planeFD
	planeCB
	planeDDCB
	planeFDCB
	planeED
)

// New returns a CPU bound to the given memory.
func New(mem *memory.Memory, logger *slog.Logger) *CPU {
	cpu := &CPU{
		Mem:    mem,
		Logger: logger,
	}
	cpu.planeNames = [7]string{
		"base", "0xdd", "0xfd", "0xcb", "0xdd 0xcb", "0xfd 0xcb", "0xed",
	}
	return cpu
}

// Register pair accessors.

// BC returns the BC register pair.
func (c *CPU) BC() uint16 { return uint16(c.B)<<8 | uint16(c.C) }

// DE returns the DE register pair.
func (c *CPU) DE() uint16 { return uint16(c.D)<<8 | uint16(c.E) }

// HL returns the HL register pair.
func (c *CPU) HL() uint16 { return uint16(c.H)<<8 | uint16(c.L) }

// IX returns the IX register.
func (c *CPU) IX() uint16 { return uint16(c.IXH)<<8 | uint16(c.IXL) }

// IY returns the IY register.
func (c *CPU) IY() uint16 { return uint16(c.IYH)<<8 | uint16(c.IYL) }

// SetBC sets the BC register pair.
func (c *CPU) SetBC(v uint16) { c.B = uint8(v >> 8); c.C = uint8(v) }

// SetDE sets the DE register pair.
func (c *CPU) SetDE(v uint16) { c.D = uint8(v >> 8); c.E = uint8(v) }

// SetHL sets the HL register pair.
func (c *CPU) SetHL(v uint16) { c.H = uint8(v >> 8); c.L = uint8(v) }

// SetIX sets the IX register.
func (c *CPU) SetIX(v uint16) { c.IXH = uint8(v >> 8); c.IXL = uint8(v) }

// SetIY sets the IY register.
func (c *CPU) SetIY(v uint16) { c.IYH = uint8(v >> 8); c.IYL = uint8(v) }

// AF returns the accumulator and packed flags as a pair.
func (c *CPU) AF() uint16 { return uint16(c.A)<<8 | uint16(c.F.Byte()) }

// SetAF sets the accumulator and flags from a packed pair.
func (c *CPU) SetAF(v uint16) { c.A = uint8(v >> 8); c.F.SetByte(uint8(v)) }

// hl returns HL, or IX/IY when a prefix is active.
func (c *CPU) hl() uint16 {
	switch c.prefix {
	case 0xDD:
		return c.IX()
	case 0xFD:
		return c.IY()
	default:
		return c.HL()
	}
}

// setHL sets HL, or IX/IY when a prefix is active.
func (c *CPU) setHL(v uint16) {
	switch c.prefix {
	case 0xDD:
		c.SetIX(v)
	case 0xFD:
		c.SetIY(v)
	default:
		c.SetHL(v)
	}
}

// Stack helpers.

func (c *CPU) push(w uint16) {
	c.SP--
	c.Mem.Set(c.SP, uint8(w>>8))
	c.SP--
	c.Mem.Set(c.SP, uint8(w))
}

func (c *CPU) pop() uint16 {
	w := uint16(c.Mem.Get(c.SP))
	c.SP++
	w |= uint16(c.Mem.Get(c.SP)) << 8
	c.SP++
	return w
}

// fetch reads an operand or displacement byte.
func (c *CPU) fetch() uint8 {
	b := c.Mem.Get(c.PC)
	c.PC++
	return b
}

// fetchM1 reads an opcode or prefix byte; the low seven bits of R are
// incremented, the high bit is preserved.
func (c *CPU) fetchM1() uint8 {
	c.R = (c.R & 0x80) | ((c.R + 1) & 0x7F)
	return c.fetch()
}

// fetch16 reads a 16-bit operand into opLow/opHigh.
func (c *CPU) fetch16() {
	c.opLow = c.fetch()
	c.opHigh = c.fetch()
}

// arg16 returns the current 16-bit immediate operand.
func (c *CPU) arg16() uint16 {
	return uint16(c.opHigh)<<8 | uint16(c.opLow)
}

// RequestStop asks the run loop to finish at the next instruction
// boundary.  Safe to call from signal context.
func (c *CPU) RequestStop() {
	c.stop.Store(true)
}

// Stopped reports whether a stop has been requested.
func (c *CPU) Stopped() bool {
	return c.stop.Load()
}

// RequestDump asks for a machine-state dump at the next instruction
// boundary.  Safe to call from signal context.
func (c *CPU) RequestDump() {
	c.dump.Store(true)
}

// Run executes instructions until a stop is requested.
func (c *CPU) Run() {
	pollCounter := 0
	delayCounter := 0

	for !c.stop.Load() {
		if c.dump.CompareAndSwap(true, false) && c.DumpRequested != nil {
			c.DumpRequested()
		}

		c.Step()

		// Poll the console in regular intervals, so the full-screen
		// emulation stays responsive even if a program ignores
		// console input for a prolonged period.
		pollCounter++
		if pollCounter == PollInterval {
			pollCounter = 0
			if c.Poll != nil {
				c.Poll()
			}
		}

		if c.DelayCount > 0 {
			delayCounter++
			if delayCounter >= c.DelayCount {
				delayCounter = 0
				time.Sleep(c.DelayNanos)
			}
		}
	}
}

// Step executes a single instruction, or a single iteration of a
// repeating block instruction.
func (c *CPU) Step() {
	c.current = c.PC

	// Magic addresses trap to the OS dispatcher; afterwards a RET is
	// synthesized so the call site sees an ordinary subroutine.
	if c.current >= memory.MagicAddress {
		if c.Trap != nil {
			c.Trap(int(c.current) - memory.MagicAddress)
		}
		c.PC = c.pop()
		c.Executed++
		return
	}

	// Fetch the opcode, remembering the last 0xDD/0xFD prefix seen.
	c.prefix = 0x00
	for {
		c.opcode = c.fetchM1()
		if c.opcode != 0xDD && c.opcode != 0xFD {
			break
		}
		c.prefix = c.opcode
	}

	fl := baseFlags[c.opcode]

	// The displacement byte is consumed only when a prefix is active.
	if c.prefix != 0 && fl&opIndexed != 0 {
		c.disp = c.fetch()
	}

	switch c.opcode {
	case 0xCB:
		if c.prefix != 0 {
			c.opcode2 = c.fetchM1()
		} else {
			c.opcode2 = c.fetch()
		}
		c.count(c.cbPlane(), c.opcode2)
		c.instCB()

	case 0xED:
		// 0xED instructions ignore prefixes and have non-uniform
		// arguments.
		c.opcode2 = c.fetchM1()
		if edFlags[c.opcode2]&opArg16 != 0 {
			c.fetch16()
		}
		c.count(planeED, c.opcode2)
		c.dispatchED()

	default:
		if fl&opArg8 != 0 {
			c.opLow = c.fetch()
		}
		if fl&opArg16 != 0 {
			c.fetch16()
		}
		c.count(c.basePlane(), c.opcode)
		c.dispatchBase()
	}

	c.Executed++
}

func (c *CPU) basePlane() int {
	switch c.prefix {
	case 0xDD:
		return planeDD
	case 0xFD:
		return planeFD
	default:
		return planeBase
	}
}

func (c *CPU) cbPlane() int {
	switch c.prefix {
	case 0xDD:
		return planeDDCB
	case 0xFD:
		return planeFDCB
	default:
		return planeCB
	}
}

func (c *CPU) count(plane int, op uint8) {
	if c.CountInstructions {
		c.counters[plane][op]++
	}
}

// LogCounters writes the per-opcode execution counters to the logger,
// one grid per instruction plane, skipping planes that never executed.
func (c *CPU) LogCounters(emit func(line string)) {
	emit(fmt.Sprintf("%d instructions executed", c.Executed))
	for p := range c.counters {
		total := uint64(0)
		for _, n := range c.counters[p] {
			total += n
		}
		if total == 0 {
			continue
		}
		emit(fmt.Sprintf("instruction counters for plane %s:", c.planeNames[p]))
		for op := 0; op < 256; op++ {
			if c.counters[p][op] != 0 {
				emit(fmt.Sprintf("  0x%02x: %d", op, c.counters[p][op]))
			}
		}
	}
}

// StateDump formats the architectural state for the dump log.
func (c *CPU) StateDump() []string {
	fl := func(f Flags) string {
		pick := func(b bool, ch byte) byte {
			if b {
				return ch
			}
			return '-'
		}
		return string([]byte{
			pick(f.S, 's'), pick(f.Z, 'z'), pick(f.Y, 'y'), pick(f.H, 'h'),
			pick(f.X, 'x'), pick(f.P, 'p'), pick(f.N, 'n'), pick(f.C, 'c'),
		})
	}
	enabled := "disabled"
	if c.IFF {
		enabled = "enabled"
	}
	return []string{
		fmt.Sprintf("a=0x%02x flags=%s bc=0x%04x de=0x%04x hl=0x%04x",
			c.A, fl(c.F), c.BC(), c.DE(), c.HL()),
		fmt.Sprintf("a'=0x%02x flags'=%s bc'=0x%04x de'=0x%04x hl'=0x%04x",
			c.AltA, fl(c.AltF),
			uint16(c.AltB)<<8|uint16(c.AltC),
			uint16(c.AltD)<<8|uint16(c.AltE),
			uint16(c.AltH)<<8|uint16(c.AltL)),
		fmt.Sprintf("ix=0x%04x iy=0x%04x sp=0x%04x pc=0x%04x r=0x%02x i=0x%02x",
			c.IX(), c.IY(), c.SP, c.PC, c.R, c.I),
		fmt.Sprintf("interrupts %s", enabled),
	}
}
