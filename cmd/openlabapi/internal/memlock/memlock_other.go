//go:build !linux

package memlock

// LockAll always fails with ErrUnsupported outside Linux.
func LockAll() error {
	return ErrUnsupported
}

func unlockAll() error {
	return nil
}
