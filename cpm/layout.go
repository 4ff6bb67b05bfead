package cpm

import "github.com/cpmrun/cpmrun/memory"

// Guest memory layout, built downwards from the magic page: the fake
// allocation vector and disk parameter block, the BIOS jump vector
// (one entry per trapped address past the BDOS hook), the eleven-byte
// BDOS stub, the serial number, and the eight-level CCP stack.
const (
	alvSize = 64
	alv     = memory.MagicAddress - alvSize

	dpbSize = 15
	dpb     = alv - dpbSize

	biosVectorCount = memory.MagicCount - 1
	biosVector      = dpb - biosVectorCount*3

	bdosSize  = 11
	bdosStart = biosVector - bdosSize

	serialAddr = bdosStart - 6

	ccpStackCount = 8
	ccpStack      = serialAddr - ccpStackCount*2

	tpaStart = 0x0100

	// Zero-page locations.
	bootAddr    = 0x0000
	iobyte      = 0x0003
	drvUser     = 0x0004
	bdosEntry   = 0x0005
	defaultFcb1 = 0x005C
	defaultFcb2 = 0x006C
	defaultDma  = 0x0080
	dmaSize     = 128

	// wboot is the address guests jump to in order to terminate: the
	// second entry of the BIOS vector.
	wboot = biosVector + 3
)
