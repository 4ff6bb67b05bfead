package main

import (
	"bufio"
	"fmt"
	"os"

	"github.com/cpmrun/cpmrun/config"
	"github.com/cpmrun/cpmrun/cpm"
)

// saveMemory writes the configured guest memory range to a host file,
// either as raw bytes or as an Intel-HEX image.
func saveMemory(machine *cpm.CPM, save config.Save) error {
	if save.Hex {
		return saveMemoryHex(machine, save)
	}
	return saveMemoryBin(machine, save)
}

// saveMemoryBin writes the range as raw bytes.
func saveMemoryBin(machine *cpm.CPM, save config.Save) error {
	data := machine.Memory.GetRange(uint16(save.Start), save.End-save.Start+1)
	err := os.WriteFile(save.File, data, 0o644)
	if err != nil {
		return fmt.Errorf("cannot write %s: %w", save.File, err)
	}
	return nil
}

// saveMemoryHex writes the range as Intel-HEX: type-0 records of at
// most 32 bytes, closed by a type-1 EOF record carrying the start
// address, each with the usual two's-complement checksum.
func saveMemoryHex(machine *cpm.CPM, save config.Save) error {
	f, err := os.Create(save.File)
	if err != nil {
		return fmt.Errorf("cannot create %s: %w", save.File, err)
	}
	w := bufio.NewWriter(f)

	addr := save.Start
	for addr <= save.End {
		count := save.End - addr + 1
		if count > 32 {
			count = 32
		}

		checksum := count + (addr >> 8 & 0xFF) + (addr & 0xFF)
		fmt.Fprintf(w, ":%02X%04X00", count, addr)
		for i := 0; i < count; i++ {
			b := machine.Memory.Get(uint16(addr + i))
			fmt.Fprintf(w, "%02X", b)
			checksum += int(b)
		}
		fmt.Fprintf(w, "%02X\n", (0x100-(checksum&0xFF))&0xFF)
		addr += count
	}

	checksum := (save.Start >> 8 & 0xFF) + (save.Start & 0xFF) + 1
	fmt.Fprintf(w, ":00%04X01%02X\n", save.Start, (0x100-(checksum&0xFF))&0xFF)

	err = w.Flush()
	if err != nil {
		f.Close()
		return fmt.Errorf("write error on %s: %w", save.File, err)
	}
	err = f.Close()
	if err != nil {
		return fmt.Errorf("cannot close %s: %w", save.File, err)
	}
	return nil
}
