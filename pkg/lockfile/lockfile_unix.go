//go:build !windows

package lockfile

import (
	"errors"
	"os"

	"golang.org/x/sys/unix"
)

// tryLockFile takes an exclusive flock without blocking. Locks are bound to
// the open file description, so a second open in the same process contends too.
func tryLockFile(f *os.File) (bool, error) {
	err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, unix.EWOULDBLOCK) {
		return false, nil
	}
	return false, err
}

func unlockFile(f *os.File) {
	_ = unix.Flock(int(f.Fd()), unix.LOCK_UN)
}

// releaseFile unlinks before unlocking, so nobody can lock the old inode
// while the path is still visible.
func releaseFile(f *os.File, path string) error {
	removeErr := os.Remove(path)
	unlockFile(f)
	closeErr := f.Close()
	if removeErr != nil && !os.IsNotExist(removeErr) {
		return removeErr
	}
	return closeErr
}
