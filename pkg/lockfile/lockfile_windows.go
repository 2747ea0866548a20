//go:build windows

package lockfile

import (
	"errors"
	"os"

	"golang.org/x/sys/windows"
)

// lockRange places the byte-range lock far past the JSON content so other
// processes can still read the holder details.
func lockRange() *windows.Overlapped {
	return &windows.Overlapped{OffsetHigh: 1}
}

func tryLockFile(f *os.File) (bool, error) {
	err := windows.LockFileEx(windows.Handle(f.Fd()),
		windows.LOCKFILE_EXCLUSIVE_LOCK|windows.LOCKFILE_FAIL_IMMEDIATELY, 0, 1, 0, lockRange())
	if err == nil {
		return true, nil
	}
	if errors.Is(err, windows.ERROR_LOCK_VIOLATION) {
		return false, nil
	}
	return false, err
}

func unlockFile(f *os.File) {
	_ = windows.UnlockFileEx(windows.Handle(f.Fd()), 0, 1, 0, lockRange())
}

// releaseFile must close before removing: Windows refuses to delete open files.
func releaseFile(f *os.File, path string) error {
	unlockFile(f)
	closeErr := f.Close()
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return closeErr
}
