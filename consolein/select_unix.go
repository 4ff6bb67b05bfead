//go:build !linux

package consolein

import (
	"os"

	"golang.org/x/sys/unix"
)

// canSelect reports whether stdin has input ready, via a zero-timeout
// select(2).
func canSelect() bool {
	fd := int(os.Stdin.Fd())

	var readfds unix.FdSet
	readfds.Set(fd)

	tv := unix.Timeval{}
	err := unix.Select(fd+1, &readfds, nil, nil, &tv)
	if err != nil {
		return false
	}
	return readfds.IsSet(fd)
}
