package charset

import "testing"

// TestControlPassThrough ensures control codes are never translated.
func TestControlPassThrough(t *testing.T) {
	cs := New()

	for _, b := range []uint8{0x00, 0x07, 0x1F, 0x7F} {
		if cs.FromCpm(b) != rune(b) {
			t.Fatalf("control %02X did not pass through", b)
		}
		got, ok := cs.ToCpm(rune(b))
		if !ok || got != b {
			t.Fatalf("control %02X did not pass through in reverse", b)
		}
	}
}

// TestRoundTrip checks from_cpm(to_cpm(wc)) == wc for every mapped
// position of the active table.
func TestRoundTrip(t *testing.T) {
	cs := New()

	for i := 0x20; i < 0x100; i++ {
		if i == 0x7F || cs.Primary[i] == 0 {
			continue
		}
		wc := cs.Primary[i]
		b, ok := cs.ToCpm(wc)
		if !ok {
			t.Fatalf("no CP/M code for mapped rune %q", wc)
		}
		if cs.FromCpm(b) != wc {
			t.Fatalf("round trip failed for %q: got %q", wc, cs.FromCpm(b))
		}
	}
}

// TestUnprintable covers the substitute character for unmapped codes.
func TestUnprintable(t *testing.T) {
	cs := New()

	// 0xFF is unmapped in the vt52 set.
	if cs.FromCpm(0xFF) != None {
		t.Fatalf("expected None for unmapped code")
	}

	cs.Unprintable = '·'
	if cs.FromCpm(0xFF) != '·' {
		t.Fatalf("expected the substitute for unmapped code")
	}
}

// TestAlternate ensures the alternate table is honored once selected.
func TestAlternate(t *testing.T) {
	cs := New()
	cs.Alternate = Builtin("latin1")

	if cs.FromCpm(0xE9) != None {
		t.Fatalf("primary table should not map 0xE9")
	}

	cs.UseAlternate = true
	if cs.FromCpm(0xE9) != 'é' {
		t.Fatalf("alternate table should map 0xE9 to é, got %q", cs.FromCpm(0xE9))
	}
}

// TestFromGraph exercises the VT52 graphics remapping.
func TestFromGraph(t *testing.T) {
	cs := New()

	// '`' (0x60) remaps to position 0 which vt52 leaves unmapped.
	if cs.FromGraph(0x60) != None {
		t.Fatalf("expected None for unmapped graphics position")
	}

	// 'a' (0x61) remaps to position 1: the solid block.
	if cs.FromGraph(0x61) != '█' {
		t.Fatalf("expected the solid block for graphics 'a', got %q", cs.FromGraph(0x61))
	}

	// '_' remaps to 0x1F: a space in the vt52 set.
	if cs.FromGraph(0x5F) != ' ' {
		t.Fatalf("expected a space for graphics '_'")
	}

	// Plain printable characters outside the remapped range are unchanged.
	if cs.FromGraph(0x41) != 'A' {
		t.Fatalf("expected A for graphics 0x41")
	}
}

// TestFillDefaults ensures explicit entries survive the default fill.
func TestFillDefaults(t *testing.T) {
	var tab Table
	tab[0x41] = 'Ä'

	err := FillDefaults(&tab, "ascii")
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}

	if tab[0x41] != 'Ä' {
		t.Fatalf("explicit entry was overwritten")
	}
	if tab[0x42] != 'B' {
		t.Fatalf("default entry was not filled")
	}

	err = FillDefaults(&tab, "bogus")
	if err == nil {
		t.Fatalf("expected an error for an unknown set")
	}
}
