//go:build !linux

package cpm

import (
	"os"
	"time"
)

// accessTime falls back to the modification time on platforms where
// the stat layout isn't known to us.
func accessTime(info os.FileInfo) time.Time {
	return info.ModTime()
}
