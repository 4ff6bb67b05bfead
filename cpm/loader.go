package cpm

import (
	"fmt"
	"path/filepath"
	"strings"
	"unicode"

	"github.com/cpmrun/cpmrun/fcb"
	"github.com/cpmrun/cpmrun/memory"
)

// checkCommandName validates the base name of the command file and
// reports whether ".com" has to be appended.
func checkCommandName(name string) (addCom bool, err error) {
	if !fcb.IsNice(name) {
		return false, fmt.Errorf("command file name (%s) not valid", name)
	}
	if idx := strings.IndexByte(name, '.'); idx >= 0 {
		if name[idx:] != ".com" {
			return false, fmt.Errorf("command file name must end in .com")
		}
		return false, nil
	}
	return true, nil
}

// commandPath resolves the configured command into a host path.
//
// A name containing a slash is a host path; anything else is a CP/M
// style name, optionally prefixed with a drive letter, relative to the
// directory of that drive.
func (cpm *CPM) commandPath() (string, error) {
	command := cpm.cfg.Command

	if strings.ContainsRune(command, '/') {
		base := filepath.Base(command)
		addCom, err := checkCommandName(base)
		if err != nil {
			return "", err
		}
		if addCom {
			command += ".com"
		}
		return command, nil
	}

	drive := cpm.currentDrive
	name := command
	if len(name) > 2 && name[1] == ':' && name[0] >= 'a' && name[0] <= 'p' {
		drive = int(name[0] - 'a')
		name = name[2:]
	}
	if cpm.cfg.Drives[drive] == "" {
		return "", fmt.Errorf("drive %c: not defined", 'a'+drive)
	}

	addCom, err := checkCommandName(name)
	if err != nil {
		return "", err
	}
	if addCom {
		name += ".com"
	}
	return filepath.Join(cpm.cfg.Drives[drive], name), nil
}

// Load prepares the guest machine: it loads the command file into the
// TPA, lays out the magic page, the BDOS and BIOS stubs, the fake disk
// structures, and the zero page, and splices the command tail into the
// default DMA buffer.
func (cpm *CPM) Load() error {

	path, err := cpm.commandPath()
	if err != nil {
		return err
	}

	// The load limit deliberately exceeds the top of the transient
	// area, so a command file which doesn't fit is caught rather
	// than silently truncated.
	err = cpm.Memory.LoadFile(tpaStart, ccpStack, path)
	if err != nil {
		return err
	}

	mem := cpm.Memory

	// RET opcodes in all magic addresses, to keep debuggers happy.
	mem.FillRange(memory.MagicAddress, memory.MagicCount, 0xC9)

	// The CCP stack, with a pushed return address to WBOOT.
	cpm.CPU.SP = serialAddr
	cpm.CPU.SP -= 2
	mem.SetU16(cpm.CPU.SP, wboot)

	// The OS serial number.
	mem.SetRange(serialAddr, serialNumber...)

	// The BDOS stub: a jump to the first magic address, then four
	// dummy error vectors pointing at WBOOT.
	mem.Set(bdosStart, 0xC3)
	mem.SetU16(bdosStart+1, memory.MagicAddress)
	for i := uint16(0); i < 4; i++ {
		mem.SetU16(bdosStart+3+2*i, memory.MagicAddress+memory.MagicWboot)
	}

	// The BIOS jump vector.
	for i := 0; i < biosVectorCount; i++ {
		mem.Set(uint16(biosVector+i*3), 0xC3)
		mem.SetU16(uint16(biosVector+i*3+1), uint16(memory.MagicAddress+1+i))
	}

	// The fake disk parameter block, shared by all drives: 32
	// sectors per track, 16K blocks, an 8MB drive with 2048
	// directory entries, no reserved tracks.
	mem.SetU16(dpb, 32)
	mem.Set(dpb+2, 7)
	mem.Set(dpb+3, 127)
	mem.Set(dpb+4, 7)
	mem.SetU16(dpb+5, 511)
	mem.SetU16(dpb+7, 2047)
	mem.Set(dpb+9, 0xF0)
	mem.Set(dpb+10, 0x00)
	mem.SetU16(dpb+11, 0)
	mem.SetU16(dpb+13, 0)

	// The fake allocation vector mirrors the directory block bits.
	mem.Set(alv, 0xF0)
	mem.Set(alv+1, 0x00)

	// Zero page: the WBOOT jump, the IOBYTE, the drive/user byte,
	// and the BDOS entry jump.
	mem.Set(bootAddr, 0xC3)
	mem.SetU16(bootAddr+1, wboot)
	mem.Set(iobyte, 0x00)
	mem.Set(drvUser, uint8(cpm.currentDrive)|uint8(cpm.currentUser)<<4)
	mem.Set(bdosEntry, 0xC3)
	mem.SetU16(bdosEntry+1, bdosStart)

	// Splice the command-line arguments into the default DMA buffer
	// as an upper-case, length-prefixed CP/M string.
	err = cpm.spliceTail()
	if err != nil {
		return err
	}

	// The default FCBs describe the first two arguments.  Only the
	// first sixteen bytes of the second one are stored, since the
	// default DMA buffer follows it.
	f1 := fcb.FCB{}
	f2 := fcb.FCB{}
	copy(f1.Name[:], "        ")
	copy(f1.Type[:], "   ")
	copy(f2.Name[:], "        ")
	copy(f2.Type[:], "   ")
	if len(cpm.cfg.Args) > 0 {
		f1 = fcb.FromString(cpm.cfg.Args[0])
	}
	if len(cpm.cfg.Args) > 1 {
		f2 = fcb.FromString(cpm.cfg.Args[1])
	}
	mem.SetRange(defaultFcb1, f1.AsBytes()...)
	mem.SetRange(defaultFcb2, f2.AsBytes()[:16]...)

	// Point the CPU at the start of the transient area.
	cpm.CPU.PC = tpaStart

	if cpm.Logger != nil {
		cpm.Logger.Info("starting execution of program " + path)
	}
	return nil
}

// spliceTail builds the command tail in the default DMA buffer.
func (cpm *CPM) spliceTail() error {
	var tail []uint8

	for _, arg := range cpm.cfg.Args {
		tail = append(tail, 0x20)
		for _, r := range arg {
			c, ok := cpm.cfg.Charset.ToCpm(unicode.ToUpper(r))
			if !ok {
				return fmt.Errorf("invalid character in command line")
			}
			tail = append(tail, c)
		}
		if len(tail) >= dmaSize {
			return fmt.Errorf("too many command line arguments")
		}
	}

	cpm.Memory.Set(defaultDma, uint8(len(tail)))
	cpm.Memory.FillRange(defaultDma+1, dmaSize-1, 0x00)
	cpm.Memory.SetRange(defaultDma+1, tail...)
	return nil
}
