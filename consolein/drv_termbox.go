// Termbox input driver, used together with the VT52 full-screen
// console.
//
// The termbox library is initialized by the output side; this driver
// merely drains its event queue, translating key events into the byte
// sequences a VT52 would have sent.

package consolein

import (
	"context"
	"fmt"
	"sync"

	termbox "github.com/nsf/termbox-go"

	"github.com/cpmrun/cpmrun/charset"
)

// TermboxInput reads keyboard events from termbox.
type TermboxInput struct {

	// cs translates host runes to CP/M code points.
	cs *charset.Charset

	// altKeys selects the WordStar cursor-key bytes instead of the
	// VT52 escape sequences.  It is flipped at runtime by the
	// ESC n / ESC o sequences of the VT52 emulation.
	altKeys bool

	// Interrupt, when non-nil, is invoked when the F10 reset key is
	// pressed.
	Interrupt func()

	// Resized, when non-nil, is invoked on terminal resize events.
	Resized func()

	// mu guards the pending buffer, which is filled from the
	// polling goroutine.
	mu      sync.Mutex
	pending []byte

	// cancel stops the polling goroutine.
	cancel context.CancelFunc
}

// SetCharset stores the translation tables.
func (ti *TermboxInput) SetCharset(cs *charset.Charset) {
	ti.cs = cs
}

// SetAltKeys switches between VT52 and WordStar cursor-key sequences.
func (ti *TermboxInput) SetAltKeys(enabled bool) {
	ti.mu.Lock()
	ti.altKeys = enabled
	ti.mu.Unlock()
}

// Setup starts the keyboard polling goroutine.  The output driver must
// have initialized termbox already.
func (ti *TermboxInput) Setup() error {
	if !termbox.IsInit {
		return fmt.Errorf("termbox is not initialized; the vt52 console must be active")
	}

	ctx, cancel := context.WithCancel(context.Background())
	ti.cancel = cancel
	go ti.pollKeyboard(ctx)
	return nil
}

// pollKeyboard pumps termbox events into the pending buffer until the
// context is cancelled.
func (ti *TermboxInput) pollKeyboard(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		ev := termbox.PollEvent()
		switch ev.Type {
		case termbox.EventKey:
			ti.handleKey(ev)
		case termbox.EventResize:
			if ti.Resized != nil {
				ti.Resized()
			}
		case termbox.EventInterrupt:
			return
		}
	}
}

// handleKey translates one key event into console bytes.
func (ti *TermboxInput) handleKey(ev termbox.Event) {
	ti.mu.Lock()
	alt := ti.altKeys
	ti.mu.Unlock()

	arrow := func(vt byte, ws byte) {
		if alt {
			ti.put(ws)
		} else {
			ti.put(0x1B, vt)
		}
	}

	switch ev.Key {
	case termbox.KeyArrowUp:
		arrow('A', 0x05)
	case termbox.KeyArrowDown:
		arrow('B', 0x18)
	case termbox.KeyArrowRight:
		arrow('C', 0x04)
	case termbox.KeyArrowLeft:
		arrow('D', 0x13)

	case termbox.KeyBackspace, termbox.KeyBackspace2:
		ti.put(0x08)
	case termbox.KeyDelete:
		ti.put(0x7F)
	case termbox.KeyEnter:
		ti.put(0x0D)
	case termbox.KeyTab:
		ti.put(0x09)
	case termbox.KeySpace:
		ti.put(0x20)
	case termbox.KeyEsc:
		ti.put(0x1B)

	case termbox.KeyF1:
		// The first three function keys emulate the blank keys of
		// the VT52.
		ti.put(0x1B, 'P')
	case termbox.KeyF2:
		ti.put(0x1B, 'Q')
	case termbox.KeyF3:
		ti.put(0x1B, 'R')
	case termbox.KeyF10:
		// The reset switch.
		if ti.Interrupt != nil {
			ti.Interrupt()
		}

	default:
		if ev.Ch != 0 {
			if c, ok := ti.cs.ToCpm(ev.Ch); ok {
				ti.put(c)
			}
			return
		}
		// Control keys arrive as Key values below 0x20.
		if ev.Key < 0x20 {
			ti.put(byte(ev.Key))
		}
	}
}

// put appends bytes to the pending buffer.
func (ti *TermboxInput) put(bs ...byte) {
	ti.mu.Lock()
	ti.pending = append(ti.pending, bs...)
	ti.mu.Unlock()
}

// TearDown stops the polling goroutine.
func (ti *TermboxInput) TearDown() error {
	if ti.cancel != nil {
		ti.cancel()
		if termbox.IsInit {
			termbox.Interrupt()
		}
	}
	return nil
}

// PendingInput reports whether any key bytes are buffered.
func (ti *TermboxInput) PendingInput() bool {
	ti.mu.Lock()
	defer ti.mu.Unlock()
	return len(ti.pending) > 0
}

// StuffInput adds fake input; the VT52 identification reply arrives
// this way.
func (ti *TermboxInput) StuffInput(input string) {
	ti.mu.Lock()
	ti.pending = append(ti.pending, []byte(input)...)
	ti.mu.Unlock()
}

// BlockForCharacterNoEcho returns the next buffered key byte, waiting
// for one to arrive.
func (ti *TermboxInput) BlockForCharacterNoEcho() (byte, error) {
	for {
		ti.mu.Lock()
		if len(ti.pending) > 0 {
			b := ti.pending[0]
			ti.pending = ti.pending[1:]
			ti.mu.Unlock()
			return b, nil
		}
		ti.mu.Unlock()
		// The polling goroutine fills the buffer; yield until it
		// does.
		waitABit()
	}
}

// GetName returns the name of this driver.
func (ti *TermboxInput) GetName() string {
	return "termbox"
}

// init registers our driver, by name.
func init() {
	Register("termbox", func() ConsoleInput {
		return &TermboxInput{}
	})
}
