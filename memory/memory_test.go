package memory

import (
	"os"
	"path/filepath"
	"testing"
)

// TestBasics performs trivial get/set tests.
func TestBasics(t *testing.T) {
	mem := new(Memory)

	mem.Set(0x0100, 0x42)
	if mem.Get(0x0100) != 0x42 {
		t.Fatalf("failed to get the value we set")
	}

	mem.SetU16(0x0200, 0xCAFE)
	if mem.Get(0x0200) != 0xFE || mem.Get(0x0201) != 0xCA {
		t.Fatalf("SetU16 stored the wrong bytes")
	}
	if mem.GetU16(0x0200) != 0xCAFE {
		t.Fatalf("GetU16 returned the wrong word")
	}
}

// TestWrap ensures that word accesses wrap at the top of the address
// space rather than running off the end of the array.
func TestWrap(t *testing.T) {
	mem := new(Memory)

	mem.Set(0xFFFF, 0x34)
	mem.Set(0x0000, 0x12)

	if mem.GetU16(0xFFFF) != 0x1234 {
		t.Fatalf("word read at 0xFFFF didn't wrap, got %04X", mem.GetU16(0xFFFF))
	}

	mem.SetU16(0xFFFF, 0xBEEF)
	if mem.Get(0xFFFF) != 0xEF || mem.Get(0x0000) != 0xBE {
		t.Fatalf("word write at 0xFFFF didn't wrap")
	}

	mem.SetRange(0xFFFE, 1, 2, 3, 4)
	if mem.Get(0xFFFE) != 1 || mem.Get(0xFFFF) != 2 || mem.Get(0x0000) != 3 || mem.Get(0x0001) != 4 {
		t.Fatalf("SetRange didn't wrap")
	}
}

// TestRanges covers FillRange and GetRange.
func TestRanges(t *testing.T) {
	mem := new(Memory)

	mem.FillRange(0x1000, 16, 0xE5)
	out := mem.GetRange(0x1000, 16)
	if len(out) != 16 {
		t.Fatalf("wrong length from GetRange")
	}
	for _, b := range out {
		if b != 0xE5 {
			t.Fatalf("FillRange wrote the wrong value")
		}
	}
}

// TestLoadFile loads a binary and confirms both placement and the
// overrun check.
func TestLoadFile(t *testing.T) {
	mem := new(Memory)

	path := filepath.Join(t.TempDir(), "prog.com")
	err := os.WriteFile(path, []byte{0xC3, 0x00, 0x01}, 0o644)
	if err != nil {
		t.Fatalf("failed to write temporary file")
	}

	err = mem.LoadFile(0x0100, 0xF000, path)
	if err != nil {
		t.Fatalf("unexpected error loading file: %s", err)
	}
	if mem.Get(0x0100) != 0xC3 || mem.Get(0x0102) != 0x01 {
		t.Fatalf("program not loaded at 0x0100")
	}

	// Too small a limit must fail.
	err = mem.LoadFile(0x0100, 0x0101, path)
	if err == nil {
		t.Fatalf("expected an overrun error, got none")
	}

	// Missing file must fail.
	err = mem.LoadFile(0x0100, 0xF000, filepath.Join(t.TempDir(), "missing.com"))
	if err == nil {
		t.Fatalf("expected an error for a missing file, got none")
	}
}

// TestMagicLayout pins the constants the trap dispatcher relies upon.
func TestMagicLayout(t *testing.T) {
	if MagicAddress != 0xFFED {
		t.Fatalf("magic page starts at the wrong address: %04X", MagicAddress)
	}
	if MagicCount != 19 {
		t.Fatalf("magic page has the wrong size: %d", MagicCount)
	}
}
