package z80

import "log/slog"

// dispatchBase executes an instruction from the base plane (everything
// except the 0xCB and 0xED planes, with any 0xDD/0xFD prefix already
// recorded).
func (c *CPU) dispatchBase() {
	op := c.opcode

	switch {
	case op == 0x00:
		// NOP

	case op&0xCF == 0x01:
		c.ldRRImm()

	case op == 0x02:
		c.Mem.Set(c.BC(), c.A)
	case op == 0x12:
		c.Mem.Set(c.DE(), c.A)
	case op == 0x0A:
		c.A = c.Mem.Get(c.BC())
	case op == 0x1A:
		c.A = c.Mem.Get(c.DE())

	case op == 0x22:
		addr := c.arg16()
		v := c.hl()
		c.Mem.Set(addr, uint8(v))
		c.Mem.Set(addr+1, uint8(v>>8))
	case op == 0x2A:
		addr := c.arg16()
		c.setHL(uint16(c.Mem.Get(addr)) | uint16(c.Mem.Get(addr+1))<<8)
	case op == 0x32:
		c.Mem.Set(c.arg16(), c.A)
	case op == 0x3A:
		c.A = c.Mem.Get(c.arg16())

	case op&0xCF == 0x03:
		c.incRR(1)
	case op&0xCF == 0x0B:
		c.incRR(-1)

	case op&0xC7 == 0x04:
		// INC r doesn't affect the carry flag.
		oldC := c.F.C
		t := c.operand((op>>3)&0x07, 0)
		c.store(t, c.add8(c.load(t), 1, false))
		c.F.C = oldC
	case op&0xC7 == 0x05:
		oldC := c.F.C
		t := c.operand((op>>3)&0x07, 0)
		c.store(t, c.sub8(c.load(t), 1, false))
		c.F.C = oldC

	case op&0xC7 == 0x06:
		c.store(c.operand((op>>3)&0x07, 0), c.opLow)

	case op == 0x07:
		c.F.C = c.A&0x80 != 0
		c.A <<= 1
		if c.F.C {
			c.A |= 0x01
		}
		c.rotAFlags()
	case op == 0x0F:
		c.F.C = c.A&0x01 != 0
		c.A >>= 1
		if c.F.C {
			c.A |= 0x80
		}
		c.rotAFlags()
	case op == 0x17:
		carry := c.A&0x80 != 0
		c.A <<= 1
		if c.F.C {
			c.A |= 0x01
		}
		c.F.C = carry
		c.rotAFlags()
	case op == 0x1F:
		carry := c.A&0x01 != 0
		c.A >>= 1
		if c.F.C {
			c.A |= 0x80
		}
		c.F.C = carry
		c.rotAFlags()

	case op == 0x08:
		c.A, c.AltA = c.AltA, c.A
		c.F, c.AltF = c.AltF, c.F

	case op&0xCF == 0x09:
		c.addHL()

	case op == 0x10:
		c.B--
		if c.B != 0 {
			c.jr()
		}
	case op == 0x18:
		c.jr()
	case op&0xE7 == 0x20:
		c.jrCC()

	case op == 0x27:
		c.daa()
	case op == 0x2F:
		c.A ^= 0xFF
		c.F.Y = c.A&0x20 != 0
		c.F.X = c.A&0x08 != 0
		c.F.H = true
		c.F.N = true
	case op == 0x37:
		c.F.Y = c.A&0x20 != 0
		c.F.X = c.A&0x08 != 0
		c.F.H = false
		c.F.N = false
		c.F.C = true
	case op == 0x3F:
		c.F.Y = c.A&0x20 != 0
		c.F.X = c.A&0x08 != 0
		c.F.H = c.F.C
		c.F.N = false
		c.F.C = !c.F.C

	case op == 0x76:
		// HALT: nothing ever raises an interrupt, so a program
		// waiting here will spin.
		if c.Logger != nil {
			c.Logger.Debug("HALT executed",
				slog.String("pc", hex16(c.current)))
		}

	case op >= 0x40 && op <= 0x7F:
		d := (op >> 3) & 0x07
		s := op & 0x07
		dst := c.operand(d, s)
		src := c.operand(s, d)
		c.store(dst, c.load(src))

	case op >= 0x80 && op <= 0xBF:
		c.alu((op>>3)&0x07, c.load(c.operand(op&0x07, 0)))

	case op&0xC7 == 0xC0:
		if c.conditionMet() {
			c.PC = c.pop()
		}
	case op&0xCF == 0xC1:
		c.popRR()
	case op&0xC7 == 0xC2:
		if c.conditionMet() {
			c.PC = c.arg16()
		}
	case op == 0xC3:
		c.PC = c.arg16()
	case op&0xC7 == 0xC4:
		if c.conditionMet() {
			c.push(c.PC)
			c.PC = c.arg16()
		}
	case op&0xCF == 0xC5:
		c.pushRR()
	case op&0xC7 == 0xC6:
		c.alu((op>>3)&0x07, c.opLow)
	case op&0xC7 == 0xC7:
		c.push(c.PC)
		c.PC = uint16(op & 0x38)
	case op == 0xC9:
		c.PC = c.pop()
	case op == 0xCD:
		c.push(c.PC)
		c.PC = c.arg16()

	case op == 0xD3:
		// OUT (n),A: port writes go nowhere.
	case op == 0xDB:
		// IN A,(n): port reads always yield zero.
		c.A = 0x00
	case op == 0xD9:
		c.B, c.AltB = c.AltB, c.B
		c.C, c.AltC = c.AltC, c.C
		c.D, c.AltD = c.AltD, c.D
		c.E, c.AltE = c.AltE, c.E
		c.H, c.AltH = c.AltH, c.H
		c.L, c.AltL = c.AltL, c.L

	case op == 0xE3:
		v := c.hl()
		lo := c.Mem.Get(c.SP)
		hi := c.Mem.Get(c.SP + 1)
		c.Mem.Set(c.SP, uint8(v))
		c.Mem.Set(c.SP+1, uint8(v>>8))
		c.setHL(uint16(hi)<<8 | uint16(lo))
	case op == 0xE9:
		c.PC = c.hl()
	case op == 0xEB:
		c.H, c.D = c.D, c.H
		c.L, c.E = c.E, c.L

	case op == 0xF3:
		c.IFF = false
	case op == 0xFB:
		c.IFF = true
	case op == 0xF9:
		c.SP = c.hl()
	}
}

// ldRRImm implements LD rr,nn; rr follows the prefix for HL.
func (c *CPU) ldRRImm() {
	switch c.opcode & 0x30 {
	case 0x00:
		c.C = c.opLow
		c.B = c.opHigh
	case 0x10:
		c.E = c.opLow
		c.D = c.opHigh
	case 0x20:
		switch c.prefix {
		case 0xDD:
			c.IXL = c.opLow
			c.IXH = c.opHigh
		case 0xFD:
			c.IYL = c.opLow
			c.IYH = c.opHigh
		default:
			c.L = c.opLow
			c.H = c.opHigh
		}
	case 0x30:
		c.SP = c.arg16()
	}
}

// incRR implements INC rr / DEC rr; no flags are affected.
func (c *CPU) incRR(delta int) {
	d := uint16(delta)
	switch c.opcode & 0x30 {
	case 0x00:
		c.SetBC(c.BC() + d)
	case 0x10:
		c.SetDE(c.DE() + d)
	case 0x20:
		c.setHL(c.hl() + d)
	case 0x30:
		c.SP += d
	}
}

// addHL implements ADD HL,rr (and ADD IX,rr / ADD IY,rr); the S, Z and
// P flags are preserved.
func (c *CPU) addHL() {
	oldS, oldZ, oldP := c.F.S, c.F.Z, c.F.P
	var s uint16
	switch c.opcode & 0x30 {
	case 0x00:
		s = c.BC()
	case 0x10:
		s = c.DE()
	case 0x20:
		s = c.hl()
	case 0x30:
		s = c.SP
	}
	c.internal = c.hl()
	c.setHL(c.add16(c.internal, s, false))
	c.F.S, c.F.Z, c.F.P = oldS, oldZ, oldP
}

// jr implements the relative jump, latching the target in the internal
// register.
func (c *CPU) jr() {
	c.internal = c.PC + uint16(int16(int8(c.opLow)))
	c.PC = c.internal
}

func (c *CPU) jrCC() {
	var met bool
	switch c.opcode & 0x18 {
	case 0x00:
		met = !c.F.Z
	case 0x08:
		met = c.F.Z
	case 0x10:
		met = !c.F.C
	case 0x18:
		met = c.F.C
	}
	if met {
		c.jr()
	}
}

// conditionMet evaluates the condition field of JP cc / CALL cc / RET cc.
func (c *CPU) conditionMet() bool {
	switch c.opcode & 0x38 {
	case 0x00:
		return !c.F.Z
	case 0x08:
		return c.F.Z
	case 0x10:
		return !c.F.C
	case 0x18:
		return c.F.C
	case 0x20:
		return !c.F.P
	case 0x28:
		return c.F.P
	case 0x30:
		return !c.F.S
	default: // 0x38
		return c.F.S
	}
}

// alu executes one of the eight accumulator operations selected by the
// middle opcode field.
func (c *CPU) alu(sel, v uint8) {
	switch sel {
	case 0:
		c.A = c.add8(c.A, v, false)
	case 1:
		c.A = c.add8(c.A, v, c.F.C)
	case 2:
		c.A = c.sub8(c.A, v, false)
	case 3:
		c.A = c.sub8(c.A, v, c.F.C)
	case 4:
		c.A &= v
		c.F.H = true
		c.logicFlags(c.A)
	case 5:
		c.A ^= v
		c.F.H = false
		c.logicFlags(c.A)
	case 6:
		c.A |= v
		c.F.H = false
		c.logicFlags(c.A)
	default: // CP
		c.sub8(c.A, v, false)
	}
}

// pushRR implements PUSH rr, assembling AF from the flag booleans.
func (c *CPU) pushRR() {
	var w uint16
	switch c.opcode & 0x30 {
	case 0x00:
		w = c.BC()
	case 0x10:
		w = c.DE()
	case 0x20:
		w = c.hl()
	default:
		w = c.AF()
	}
	c.push(w)
}

// popRR implements POP rr, scattering F back into the flag booleans.
func (c *CPU) popRR() {
	w := c.pop()
	switch c.opcode & 0x30 {
	case 0x00:
		c.SetBC(w)
	case 0x10:
		c.SetDE(w)
	case 0x20:
		c.setHL(w)
	default:
		c.SetAF(w)
	}
}

// rotAFlags sets the flags shared by RLCA/RRCA/RLA/RRA.
func (c *CPU) rotAFlags() {
	c.F.Y = c.A&0x20 != 0
	c.F.X = c.A&0x08 != 0
	c.F.H = false
	c.F.N = false
}

// daa adjusts A for BCD arithmetic after an addition or subtraction.
func (c *CPU) daa() {
	high := (c.A >> 4) & 0x0F
	low := c.A & 0x0F
	var diff uint8
	var newC, newH bool

	switch {
	case c.F.C:
		if low < 0x0A && !c.F.H {
			diff = 0x60
		} else {
			diff = 0x66
		}
	case low < 0x0A:
		if high < 0x0A {
			if c.F.H {
				diff = 0x06
			}
		} else {
			if c.F.H {
				diff = 0x66
			} else {
				diff = 0x60
			}
		}
	default:
		if high < 0x09 {
			diff = 0x06
		} else {
			diff = 0x66
		}
	}

	if c.F.C {
		newC = true
	} else if low < 0x0A {
		newC = high >= 0x0A
	} else {
		newC = high >= 0x09
	}

	if c.F.N {
		newH = c.F.H && low < 0x06
	} else {
		newH = low >= 0x0A
	}

	if c.F.N {
		c.A = c.sub8(c.A, diff, false)
	} else {
		c.A = c.add8(c.A, diff, false)
	}
	c.F.P = parity(c.A)
	c.F.C = newC
	c.F.H = newH
}

func hex16(v uint16) string {
	const digits = "0123456789abcdef"
	return "0x" + string([]byte{
		digits[v>>12&0xF], digits[v>>8&0xF], digits[v>>4&0xF], digits[v&0xF],
	})
}
