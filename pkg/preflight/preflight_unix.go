//go:build !windows

package preflight

import "golang.org/x/sys/unix"

// checkVolumeExists is a no-op on Unix; there are no drive letters.
func checkVolumeExists(string) error {
	return nil
}

// checkWritable asks the kernel whether the effective user may write to path.
func checkWritable(path string) error {
	return unix.Access(path, unix.W_OK|unix.X_OK)
}
