package z80

import (
	"testing"

	"github.com/cpmrun/cpmrun/memory"
)

// testCPU returns a CPU with a program loaded at 0x0100 and the stack
// placed below the magic page.
func testCPU(prog ...uint8) *CPU {
	mem := new(memory.Memory)
	mem.SetRange(0x0100, prog...)
	cpu := New(mem, nil)
	cpu.PC = 0x0100
	cpu.SP = 0xFE00
	return cpu
}

// runUntil steps the CPU until it reaches the given address, with a
// step limit to catch runaways.
func runUntil(t *testing.T, cpu *CPU, addr uint16) {
	t.Helper()
	for i := 0; i < 100000; i++ {
		if cpu.PC == addr {
			return
		}
		cpu.Step()
	}
	t.Fatalf("CPU never reached 0x%04X, stuck at 0x%04X", addr, cpu.PC)
}

// TestArithmeticRoundTrip runs the §8 scenario: LD A,1 / ADD A,2 /
// LD (0x0200),A / LD A,(0x0200) / CP 3 / JP Z,0x0100 / HALT.  The
// memory cell must hold 3 and the Z flag must be set at the jump.
func TestArithmeticRoundTrip(t *testing.T) {
	cpu := testCPU(
		0x3E, 0x01, // LD A,1
		0xC6, 0x02, // ADD A,2
		0x32, 0x00, 0x02, // LD (0x0200),A
		0x3A, 0x00, 0x02, // LD A,(0x0200)
		0xFE, 0x03, // CP 3
		0xCA, 0x00, 0x01, // JP Z,0x0100
		0x76, // HALT
	)

	// Step up to the JP: 6 instructions.
	for i := 0; i < 6; i++ {
		cpu.Step()
	}

	if cpu.Mem.Get(0x0200) != 3 {
		t.Fatalf("memory[0x0200] = %d, want 3", cpu.Mem.Get(0x0200))
	}
	if !cpu.F.Z {
		t.Fatalf("Z flag should be set after CP 3")
	}
	if cpu.PC != 0x0100 {
		t.Fatalf("JP Z should have been taken, PC=0x%04X", cpu.PC)
	}
}

// TestFlagsAdd checks the add flag recipe against hand-computed cases.
func TestFlagsAdd(t *testing.T) {
	cpu := testCPU()

	// 0x7F + 1 overflows to 0x80: S and V set, H set.
	r := cpu.add8(0x7F, 0x01, false)
	if r != 0x80 {
		t.Fatalf("wrong sum %02X", r)
	}
	if !cpu.F.S || cpu.F.Z || !cpu.F.P || !cpu.F.H || cpu.F.C || cpu.F.N {
		t.Fatalf("wrong flags after overflow add: %+v", cpu.F)
	}

	// 0xFF + 1 carries out to zero.
	r = cpu.add8(0xFF, 0x01, false)
	if r != 0x00 || !cpu.F.Z || !cpu.F.C || cpu.F.P {
		t.Fatalf("wrong result/flags for 0xFF+1: r=%02X %+v", r, cpu.F)
	}

	// Y and X track bits 5 and 3 of the result.
	r = cpu.add8(0x20, 0x08, false)
	if r != 0x28 || !cpu.F.Y || !cpu.F.X {
		t.Fatalf("Y/X not copied from result bits: r=%02X %+v", r, cpu.F)
	}
}

// TestFlagsSub checks the subtract flag recipe.
func TestFlagsSub(t *testing.T) {
	cpu := testCPU()

	// 0x00 - 1 borrows.
	r := cpu.sub8(0x00, 0x01, false)
	if r != 0xFF || !cpu.F.C || !cpu.F.N || !cpu.F.S || !cpu.F.H {
		t.Fatalf("wrong result/flags for 0-1: r=%02X %+v", r, cpu.F)
	}

	// 0x80 - 1 overflows (signed).
	r = cpu.sub8(0x80, 0x01, false)
	if r != 0x7F || !cpu.F.P {
		t.Fatalf("wrong result/flags for 0x80-1: r=%02X %+v", r, cpu.F)
	}

	// Equal compare: Z set, no carry.
	cpu.sub8(0x42, 0x42, false)
	if !cpu.F.Z || cpu.F.C {
		t.Fatalf("wrong flags for equality: %+v", cpu.F)
	}
}

// TestDAA spot-checks BCD adjustment after addition.
func TestDAA(t *testing.T) {
	cpu := testCPU()

	// 0x15 + 0x27 = 0x3C; DAA should give 0x42.
	cpu.A = cpu.add8(0x15, 0x27, false)
	cpu.daa()
	if cpu.A != 0x42 {
		t.Fatalf("DAA after 15+27 gave %02X, want 42", cpu.A)
	}
	if cpu.F.C {
		t.Fatalf("no decimal carry expected")
	}

	// 0x99 + 0x01 = 0x9A; DAA should give 0x00 with carry.
	cpu.A = cpu.add8(0x99, 0x01, false)
	cpu.daa()
	if cpu.A != 0x00 || !cpu.F.C || !cpu.F.Z {
		t.Fatalf("DAA after 99+1 gave %02X C=%v", cpu.A, cpu.F.C)
	}
}

// TestRRegister ensures the low seven bits advance per M1 fetch while
// bit 7 is preserved.
func TestRRegister(t *testing.T) {
	cpu := testCPU(0x00, 0x00, 0x00) // NOP NOP NOP
	cpu.R = 0xFF

	cpu.Step()
	if cpu.R != 0x80 {
		t.Fatalf("R should wrap its low bits, got %02X", cpu.R)
	}
	cpu.Step()
	if cpu.R != 0x81 {
		t.Fatalf("R should increment, got %02X", cpu.R)
	}

	// A prefixed instruction performs two M1 fetches.
	cpu2 := testCPU(0xDD, 0x21, 0x34, 0x12) // LD IX,0x1234
	cpu2.Step()
	if cpu2.R != 0x02 {
		t.Fatalf("prefixed instruction should bump R twice, got %02X", cpu2.R)
	}
	if cpu2.IX() != 0x1234 {
		t.Fatalf("LD IX,nn failed: %04X", cpu2.IX())
	}
}

// TestPrefixLastWins ensures repeated DD/FD prefixes discard earlier
// ones.
func TestPrefixLastWins(t *testing.T) {
	cpu := testCPU(0xDD, 0xFD, 0x21, 0x34, 0x12) // DD FD LD IY,nn
	cpu.Step()

	if cpu.IY() != 0x1234 {
		t.Fatalf("last prefix should win, IY=%04X", cpu.IY())
	}
	if cpu.IX() != 0 {
		t.Fatalf("IX should be untouched")
	}
}

// TestIndexedHalves covers the undocumented IXH/IXL access and the rule
// that H/L stay themselves when the partner operand is indexed memory.
func TestIndexedHalves(t *testing.T) {
	// LD IXH,0x12 via DD 26 12; then LD A,IXH via DD 7C.
	cpu := testCPU(0xDD, 0x26, 0x12, 0xDD, 0x7C)
	cpu.Step()
	cpu.Step()
	if cpu.A != 0x12 {
		t.Fatalf("LD A,IXH gave %02X", cpu.A)
	}

	// LD H,(IX+1): H must stay H, not become IXH.
	cpu = testCPU(0xDD, 0x66, 0x01) // LD H,(IX+1)
	cpu.SetIX(0x0200)
	cpu.Mem.Set(0x0201, 0x55)
	cpu.Step()
	if cpu.H != 0x55 {
		t.Fatalf("LD H,(IX+d) should load H, got %02X", cpu.H)
	}
	if cpu.IXH != 0x02 {
		t.Fatalf("IXH should be untouched, got %02X", cpu.IXH)
	}
}

// TestBitIndexedFlags pins the BIT n,(IX+d) rule: Y and X come from the
// effective address latched in the internal register.
func TestBitIndexedFlags(t *testing.T) {
	// BIT 0,(IX+0) with IX = 0x2800: bits 13 and 11 of the address
	// are both set.
	cpu := testCPU(0xDD, 0xCB, 0x00, 0x46)
	cpu.SetIX(0x2800)
	cpu.Mem.Set(0x2800, 0x01)
	cpu.Step()

	if !cpu.F.Y || !cpu.F.X {
		t.Fatalf("Y/X should come from the effective address: %+v", cpu.F)
	}
	if cpu.F.Z {
		t.Fatalf("bit 0 is set, Z must be clear")
	}
}

// TestBlockLoad covers LDIR.
func TestBlockLoad(t *testing.T) {
	cpu := testCPU(0xED, 0xB0) // LDIR
	cpu.SetHL(0x0200)
	cpu.SetDE(0x0300)
	cpu.SetBC(4)
	cpu.Mem.SetRange(0x0200, 1, 2, 3, 4)

	// The repeating form re-dispatches itself; four steps move four
	// bytes.
	for i := 0; i < 4; i++ {
		cpu.Step()
	}

	for i := 0; i < 4; i++ {
		if cpu.Mem.Get(0x0300+uint16(i)) != uint8(i+1) {
			t.Fatalf("byte %d not copied", i)
		}
	}
	if cpu.BC() != 0 {
		t.Fatalf("BC should be exhausted, got %04X", cpu.BC())
	}
	if cpu.F.P {
		t.Fatalf("P/V should be clear when BC reaches zero")
	}
	if cpu.PC != 0x0102 {
		t.Fatalf("PC should be past the LDIR, got %04X", cpu.PC)
	}
}

// TestShadowRegisters covers EX AF,AF' and EXX.
func TestShadowRegisters(t *testing.T) {
	cpu := testCPU(0x08, 0xD9) // EX AF,AF' ; EXX
	cpu.A = 0x11
	cpu.F.C = true
	cpu.AltA = 0x22
	cpu.SetBC(0x1234)
	cpu.AltB = 0x56
	cpu.AltC = 0x78

	cpu.Step()
	if cpu.A != 0x22 || cpu.AltA != 0x11 {
		t.Fatalf("EX AF,AF' failed")
	}
	if cpu.F.C || !cpu.AltF.C {
		t.Fatalf("flags not exchanged")
	}

	cpu.Step()
	if cpu.BC() != 0x5678 {
		t.Fatalf("EXX failed, BC=%04X", cpu.BC())
	}
}

// TestMagicTrap ensures a fetch in the magic page calls the dispatcher
// and then behaves as a RET.
func TestMagicTrap(t *testing.T) {
	cpu := testCPU(0xCD, 0xED, 0xFF) // CALL 0xFFED

	var got []int
	cpu.Trap = func(offset int) { got = append(got, offset) }

	cpu.Step() // CALL
	cpu.Step() // trapped fetch

	if len(got) != 1 || got[0] != 0 {
		t.Fatalf("trap offsets %v, want [0]", got)
	}
	if cpu.PC != 0x0103 {
		t.Fatalf("synthetic RET should return past the call, PC=%04X", cpu.PC)
	}
	if cpu.SP != 0xFE00 {
		t.Fatalf("stack should be balanced, SP=%04X", cpu.SP)
	}
}

// TestStopRequest ensures a stop request wins over an infinite loop.
func TestStopRequest(t *testing.T) {
	cpu := testCPU(0x18, 0xFE) // JR $

	steps := 0
	cpu.Poll = func() { steps++ }
	cpu.RequestStop()
	cpu.Run()

	if cpu.Executed != 0 {
		t.Fatalf("no instructions should run after a stop request")
	}
}

// TestInPortsReadZero covers the dummy I/O behavior.
func TestInPortsReadZero(t *testing.T) {
	cpu := testCPU(0xDB, 0x42, 0xED, 0x78) // IN A,(0x42) ; IN A,(C)
	cpu.A = 0xAA
	cpu.Step()
	if cpu.A != 0x00 {
		t.Fatalf("IN A,(n) should read zero")
	}

	cpu.A = 0xAA
	cpu.Step()
	if cpu.A != 0x00 || !cpu.F.Z || cpu.F.S {
		t.Fatalf("IN A,(C) should read zero and set flags for it")
	}
}

// TestPushPopAF ensures the flag booleans pack and unpack through the
// stack image.
func TestPushPopAF(t *testing.T) {
	cpu := testCPU(0xF5, 0xF1) // PUSH AF ; POP AF
	cpu.A = 0x5A
	cpu.F.SetByte(0xD7)

	cpu.Step()
	if cpu.Mem.GetU16(cpu.SP) != 0x5AD7 {
		t.Fatalf("pushed AF = %04X", cpu.Mem.GetU16(cpu.SP))
	}

	cpu.F.SetByte(0x00)
	cpu.A = 0
	cpu.Step()
	if cpu.A != 0x5A || cpu.F.Byte() != 0xD7 {
		t.Fatalf("restored AF = %02X%02X", cpu.A, cpu.F.Byte())
	}
}

// TestDJNZ covers the decrement-and-branch loop.
func TestDJNZ(t *testing.T) {
	// LD B,3 ; loop: DJNZ loop ; HALT
	cpu := testCPU(0x06, 0x03, 0x10, 0xFE, 0x76)
	runUntil(t, cpu, 0x0104)

	if cpu.B != 0 {
		t.Fatalf("B should reach zero, got %d", cpu.B)
	}
}
