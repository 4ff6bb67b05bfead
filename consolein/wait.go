package consolein

import "time"

// waitABit sleeps briefly while polling for buffered input.
func waitABit() {
	time.Sleep(5 * time.Millisecond)
}
