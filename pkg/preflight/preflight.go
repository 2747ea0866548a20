// Package preflight provides checks that run before syncs start. They inspect
// the system without changing it, so a misconfigured destination or missing
// rsync is reported up front instead of in the middle of a run.
package preflight

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/paulschiretz/pgl-mirror/pkg/config"
)

// CheckBinary verifies that the sync tool can be found and returns its resolved path.
func CheckBinary(name string) (string, error) {
	path, err := exec.LookPath(name)
	if err != nil {
		return "", fmt.Errorf("sync tool '%s' not found: %w", name, err)
	}
	return path, nil
}

// CheckDestinationAccessible ensures a mirror's local path is usable.
// It provides more user-friendly errors than letting os.MkdirAll fail.
//
// The checks include:
//  1. On Windows, verifies that the drive or network share (e.g., "Z:", "\\Server\Share") exists.
//  2. If the path exists, confirms it is a writable directory.
//  3. If the path does not exist, confirms that its deepest existing ancestor is a
//     writable directory, so it can be created on the first sync.
func CheckDestinationAccessible(localPath string) error {
	if err := checkVolumeExists(localPath); err != nil {
		return err
	}

	info, err := os.Stat(localPath)
	if err == nil {
		if !info.IsDir() {
			return fmt.Errorf("local path exists but is not a directory: %s", localPath)
		}
		if err := checkWritable(localPath); err != nil {
			return fmt.Errorf("local path %s is not writable: %w", localPath, err)
		}
		return nil
	}
	if !os.IsNotExist(err) {
		return fmt.Errorf("cannot access local path: %w", err)
	}

	// Find the Deepest Existing Ancestor
	ancestor := localPath
	for {
		parent := filepath.Dir(ancestor)
		if parent == ancestor {
			return fmt.Errorf("no existing ancestor directory for %s", localPath)
		}
		ancestor = parent
		ancestorInfo, err := os.Stat(ancestor)
		if os.IsNotExist(err) {
			continue
		}
		if err != nil {
			return fmt.Errorf("cannot access ancestor directory %s: %w", ancestor, err)
		}
		if !ancestorInfo.IsDir() {
			return fmt.Errorf("ancestor of local path is not a directory: %s", ancestor)
		}
		break
	}

	if err := checkWritable(ancestor); err != nil {
		return fmt.Errorf("cannot create %s, ancestor directory %s is not writable: %w", localPath, ancestor, err)
	}
	return nil
}

// CheckMirrors runs every destination check and the binary check, reporting all failures at once.
func CheckMirrors(binary string, mirrors []config.Mirror) error {
	var errs []error
	if _, err := CheckBinary(binary); err != nil {
		errs = append(errs, err)
	}
	for _, m := range mirrors {
		if err := CheckDestinationAccessible(m.LocalPath); err != nil {
			errs = append(errs, fmt.Errorf("mirror '%s': %w", m.Name, err))
		}
	}
	return errors.Join(errs...)
}
