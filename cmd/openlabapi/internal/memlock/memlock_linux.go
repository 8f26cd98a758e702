//go:build linux

package memlock

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// LockAll locks all current and future pages of the process into memory.
func LockAll() error {
	if err := unix.Mlockall(unix.MCL_CURRENT | unix.MCL_FUTURE); err != nil {
		return fmt.Errorf("mlockall: %w (%s)", err, Hint)
	}
	return nil
}

func unlockAll() error {
	return unix.Munlockall()
}
