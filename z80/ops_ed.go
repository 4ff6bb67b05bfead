package z80

// dispatchED executes the 0xED plane.  Prefixes have no effect here,
// and undefined positions execute as NOPs.
func (c *CPU) dispatchED() {
	op := c.opcode2

	switch {
	case op&0xC7 == 0x40:
		// IN r,(C): port reads always yield zero, so the flags are
		// those of a zero result.
		if dp := c.ioOperand((op >> 3) & 0x07); dp != nil {
			*dp = 0
		}
		c.F.S = false
		c.F.Z = true
		c.F.Y = false
		c.F.H = false
		c.F.X = false
		c.F.P = true
		c.F.N = false

	case op&0xC7 == 0x41:
		// OUT (C),r: port writes go nowhere.  The 0xED71 alias
		// writes zero, which goes equally nowhere.

	case op&0xCF == 0x42:
		// SBC HL,rr
		c.internal = c.HL()
		var v uint16
		switch op & 0x30 {
		case 0x00:
			v = c.BC()
		case 0x10:
			v = c.DE()
		case 0x20:
			v = c.internal
		default:
			v = c.SP
		}
		c.SetHL(c.sub16(c.internal, v, c.F.C))

	case op&0xCF == 0x4A:
		// ADC HL,rr
		c.internal = c.HL()
		var v uint16
		switch op & 0x30 {
		case 0x00:
			v = c.BC()
		case 0x10:
			v = c.DE()
		case 0x20:
			v = c.internal
		default:
			v = c.SP
		}
		c.SetHL(c.add16(c.internal, v, c.F.C))

	case op&0xCF == 0x43:
		// LD (nn),rr
		addr := c.arg16()
		var v uint16
		switch op & 0x30 {
		case 0x00:
			v = c.BC()
		case 0x10:
			v = c.DE()
		case 0x20:
			v = c.HL()
		default:
			v = c.SP
		}
		c.Mem.Set(addr, uint8(v))
		c.Mem.Set(addr+1, uint8(v>>8))

	case op&0xCF == 0x4B:
		// LD rr,(nn)
		addr := c.arg16()
		v := uint16(c.Mem.Get(addr)) | uint16(c.Mem.Get(addr+1))<<8
		switch op & 0x30 {
		case 0x00:
			c.SetBC(v)
		case 0x10:
			c.SetDE(v)
		case 0x20:
			c.SetHL(v)
		default:
			c.SP = v
		}

	case op&0xC7 == 0x44:
		// NEG, including its seven undocumented aliases.
		c.A = c.sub8(0, c.A, false)

	case op&0xC7 == 0x45:
		// RETN and RETI behave as a plain RET: there is no NMI and
		// no IFF2 here.
		c.PC = c.pop()

	case op&0xC7 == 0x46:
		// IM 0/1/2 and aliases: no interrupts exist.

	case op == 0x47:
		c.I = c.A
	case op == 0x4F:
		c.R = c.A
	case op == 0x57:
		c.A = c.I
		c.ldairFlags()
	case op == 0x5F:
		c.A = c.R
		c.ldairFlags()

	case op == 0x67:
		// RRD
		hl := c.HL()
		t := c.Mem.Get(hl)
		c.Mem.Set(hl, ((t>>4)&0x0F)|((c.A<<4)&0xF0))
		c.A = (c.A & 0xF0) | (t & 0x0F)
		c.shiftFlags(c.A)
	case op == 0x6F:
		// RLD
		hl := c.HL()
		t := c.Mem.Get(hl)
		c.Mem.Set(hl, ((t<<4)&0xF0)|(c.A&0x0F))
		c.A = (c.A & 0xF0) | ((t >> 4) & 0x0F)
		c.shiftFlags(c.A)

	case op == 0xA0:
		c.ldx(1)
	case op == 0xA8:
		c.ldx(-1)
	case op == 0xB0:
		c.ldx(1)
		if c.F.P {
			c.repeatBlock()
		}
	case op == 0xB8:
		c.ldx(-1)
		if c.F.P {
			c.repeatBlock()
		}

	case op == 0xA1:
		c.cpx(1)
	case op == 0xA9:
		c.cpx(-1)
	case op == 0xB1:
		c.cpx(1)
		if c.F.P && !c.F.Z {
			c.repeatBlock()
		}
	case op == 0xB9:
		c.cpx(-1)
		if c.F.P && !c.F.Z {
			c.repeatBlock()
		}

	case op == 0xA2:
		c.inx(1)
	case op == 0xAA:
		c.inx(-1)
	case op == 0xB2:
		c.inx(1)
		if c.B != 0 {
			c.repeatBlock()
		}
	case op == 0xBA:
		c.inx(-1)
		if c.B != 0 {
			c.repeatBlock()
		}

	case op == 0xA3:
		c.outx(1)
	case op == 0xAB:
		c.outx(-1)
	case op == 0xB3:
		c.outx(1)
		if c.B != 0 {
			c.repeatBlock()
		}
	case op == 0xBB:
		c.outx(-1)
		if c.B != 0 {
			c.repeatBlock()
		}

	default:
		// Undefined 0xED opcodes execute as NOPs.
	}
}

// ldairFlags sets the flags for LD A,I and LD A,R; P/V reports the
// interrupt flip-flop.
func (c *CPU) ldairFlags() {
	c.F.S = c.A&0x80 != 0
	c.F.Z = c.A == 0
	c.F.Y = c.A&0x20 != 0
	c.F.H = false
	c.F.X = c.A&0x08 != 0
	c.F.P = c.IFF
	c.F.N = false
}

// repeatBlock backs PC up over the two opcode bytes, so the repeating
// block instructions re-dispatch until their termination condition.
func (c *CPU) repeatBlock() {
	c.PC -= 2
}

// ldx is the common part of LDI and LDD.
func (c *CPU) ldx(dir int16) {
	hl := c.HL()
	de := c.DE()
	t := c.Mem.Get(hl)
	c.Mem.Set(de, t)

	c.SetHL(hl + uint16(dir))
	c.SetDE(de + uint16(dir))
	bc := c.BC() - 1
	c.SetBC(bc)

	n := t + c.A
	c.F.Y = n&0x02 != 0
	c.F.X = n&0x08 != 0
	c.F.H = false
	c.F.P = bc != 0
	c.F.N = false
}

// cpx is the common part of CPI and CPD; the carry flag is preserved.
func (c *CPU) cpx(dir int16) {
	oldC := c.F.C
	hl := c.HL()
	t := c.sub8(c.A, c.Mem.Get(hl), false)
	if c.F.H {
		t++
	}

	c.SetHL(hl + uint16(dir))
	bc := c.BC() - 1
	c.SetBC(bc)

	c.F.Y = t&0x02 != 0
	c.F.X = t&0x08 != 0
	c.F.P = bc != 0
	c.F.C = oldC
}

// inx is the common part of INI and IND.  Port reads yield zero, but
// the strange flag side effects are still produced.
func (c *CPU) inx(dir int16) {
	hl := c.HL()
	var data uint8 // port read
	c.Mem.Set(hl, data)
	c.SetHL(hl + uint16(dir))

	newN := data&0x80 != 0
	k := int(data) + int(c.C+uint8(dir))
	newC := k > 255
	newP := parity(uint8(k&7) ^ (c.B - 1))

	c.B = c.sub8(c.B, 1, false)
	c.F.C = newC
	c.F.H = newC
	c.F.N = newN
	c.F.P = newP
}

// outx is the common part of OUTI and OUTD.  The byte read from memory
// is discarded, but the flag side effects are produced.
func (c *CPU) outx(dir int16) {
	hl := c.HL()
	data := c.Mem.Get(hl)
	c.SetHL(hl + uint16(dir))

	newN := data&0x80 != 0
	k := int(data) + int(c.L)
	newC := k > 255
	newP := parity(uint8(k&7) ^ (c.B - 1))

	c.B = c.sub8(c.B, 1, false)
	c.F.C = newC
	c.F.H = newC
	c.F.N = newN
	c.F.P = newP
}
