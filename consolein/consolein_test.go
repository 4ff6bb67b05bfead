package consolein

import (
	"strings"
	"testing"

	"github.com/cpmrun/cpmrun/charset"
)

// TestDriverRegistration ensures the known drivers can be constructed
// by name, and unknown ones cannot.
func TestDriverRegistration(t *testing.T) {
	cs := charset.New()

	for _, name := range []string{"term", "file", "termbox", "error", "FILE"} {
		ci, err := New(name, cs)
		if err != nil {
			t.Fatalf("failed to create driver %s: %s", name, err)
		}
		if ci.GetName() != strings.ToLower(name) {
			t.Fatalf("driver has the wrong name: %s", ci.GetName())
		}
	}

	_, err := New("bogus", cs)
	if err == nil {
		t.Fatalf("expected an error for an unknown driver")
	}
}

// TestFileDriver reads from a stuffed stream and observes the EOF and
// LF conversions.
func TestFileDriver(t *testing.T) {
	cs := charset.New()
	ci, err := New("file", cs)
	if err != nil {
		t.Fatalf("failed to create driver")
	}

	fi := ci.GetDriver().(*FileInput)
	fi.SetSource(strings.NewReader("ab\n"))
	err = ci.Setup()
	if err != nil {
		t.Fatalf("setup failed: %s", err)
	}

	want := []byte{'a', 'b', 0x0D, 0x1A, 0x1A}
	for i, w := range want {
		got, err := ci.BlockForCharacterNoEcho()
		if err != nil {
			t.Fatalf("read %d failed: %s", i, err)
		}
		if got != w {
			t.Fatalf("read %d gave %02X, want %02X", i, got, w)
		}
	}

	if !ci.PendingInput() {
		t.Fatalf("file driver should always report pending input")
	}
}

// TestStuffedInput ensures stuffed input is delivered ahead of the
// stream.
func TestStuffedInput(t *testing.T) {
	cs := charset.New()
	ci, err := New("file", cs)
	if err != nil {
		t.Fatalf("failed to create driver")
	}
	ci.GetDriver().(*FileInput).SetSource(strings.NewReader(""))
	_ = ci.Setup()

	ci.StuffInput("xy")
	b1, _ := ci.BlockForCharacterNoEcho()
	b2, _ := ci.BlockForCharacterNoEcho()
	if b1 != 'x' || b2 != 'y' {
		t.Fatalf("stuffed input lost: %c %c", b1, b2)
	}
}

// TestReverseBsDel ensures the backspace/delete exchange applies.
func TestReverseBsDel(t *testing.T) {
	cs := charset.New()
	ci, err := New("file", cs)
	if err != nil {
		t.Fatalf("failed to create driver")
	}
	ci.GetDriver().(*FileInput).SetSource(strings.NewReader(""))
	_ = ci.Setup()

	ci.SetReverseBsDel(true)
	ci.StuffInput("\x08\x7f")
	b1, _ := ci.BlockForCharacterNoEcho()
	b2, _ := ci.BlockForCharacterNoEcho()
	if b1 != 0x7F || b2 != 0x08 {
		t.Fatalf("keys not exchanged: %02X %02X", b1, b2)
	}
}

// TestErrorDriver ensures the error driver fails reads.
func TestErrorDriver(t *testing.T) {
	cs := charset.New()
	ci, err := New("error", cs)
	if err != nil {
		t.Fatalf("failed to create driver")
	}
	_, err = ci.BlockForCharacterNoEcho()
	if err != ErrInput {
		t.Fatalf("expected ErrInput, got %v", err)
	}
}
