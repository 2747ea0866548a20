// Package lockfile provides a host-wide, per-name mutual exclusion lock backed
// by a file and an exclusive, non-blocking OS file lock.
//
// The OS lock is what guarantees exclusion; it is dropped by the kernel when
// the holding process dies, so a lock file orphaned by a killed process never
// blocks later runs. The JSON content of the file only describes the holder
// for error messages.
package lockfile

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/goccy/go-json"

	"github.com/paulschiretz/pgl-mirror/pkg/buildinfo"
	"github.com/paulschiretz/pgl-mirror/pkg/plog"
	"github.com/paulschiretz/pgl-mirror/pkg/util"
)

// ErrLockContention matches (via errors.Is) every *ErrLockActive.
var ErrLockContention = errors.New("lock is held by another process")

// ErrLockSetup indicates the lock file itself could not be created or locked,
// e.g. because the lock directory is missing or not writable.
var ErrLockSetup = errors.New("lock setup failed")

// LockContent defines the structure of the data written to the lock file.
type LockContent struct {
	PID        int64     `json:"pid"`
	Hostname   string    `json:"hostname"`
	LastUpdate time.Time `json:"lastUpdate"`
	Nonce      string    `json:"nonce,omitempty"`
	AppID      string    `json:"appID"`
}

// ErrLockActive is a structured error returned when a lock is already held by another process.
type ErrLockActive struct {
	Name string
	Path string
	// Holder details are zero when the lock file content could not be read.
	PID       int64
	Hostname  string
	AppID     string
	TimeSince time.Duration
}

// Error implements the error interface for ErrLockActive.
func (e *ErrLockActive) Error() string {
	if e.PID == 0 {
		return fmt.Sprintf("lock '%s' is active, held by another process", e.Name)
	}
	// Truncate for cleaner output, e.g., "3m2s" instead of "3m2.123456789s".
	return fmt.Sprintf("lock '%s' is active, held by PID %d on host '%s' (App: %s), acquired %s ago",
		e.Name, e.PID, e.Hostname, e.AppID, e.TimeSince.Truncate(time.Second))
}

// Is makes errors.Is(err, ErrLockContention) true for lock-active errors.
func (e *ErrLockActive) Is(target error) bool {
	return target == ErrLockContention
}

// Lock is a held lock. Release must be called exactly once the protected work is done;
// further calls are no-ops.
type Lock struct {
	name    string
	path    string
	file    *os.File
	content LockContent
	mu      sync.Mutex
	// We keep track if we actually hold the lock to prevent double release
	held bool
}

// maxAttempts bounds retries when a releasing holder unlinks the file between
// our open and our lock.
const maxAttempts = 3

// Path returns the deterministic lock file path for name inside dir.
func Path(dir, name string) string {
	return filepath.Join(dir, buildinfo.BinaryName+"-"+name+".lock")
}

// Acquire attempts to take the lock for name without waiting.
// It returns (nil, *ErrLockActive) if another process holds it, and an error
// wrapping ErrLockSetup if the lock file could not be created or locked.
func Acquire(ctx context.Context, dir, name, appID string) (*Lock, error) {
	absLockFilePath := Path(dir, name)

	for range maxAttempts {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		f, err := os.OpenFile(absLockFilePath, os.O_CREATE|os.O_RDWR, util.UserWritableFilePerms)
		if err != nil {
			return nil, fmt.Errorf("%w: cannot create lock file %s: %w", ErrLockSetup, absLockFilePath, err)
		}

		locked, err := tryLockFile(f)
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("%w: cannot lock %s: %w", ErrLockSetup, absLockFilePath, err)
		}
		if !locked {
			f.Close()
			return nil, activeError(name, absLockFilePath)
		}

		// The previous holder removes the file before unlocking it. If it did so
		// after our open, we now hold a lock on an unlinked file and must retry.
		if !stillLinked(f, absLockFilePath) {
			plog.Debug("Lock file replaced during acquisition, retrying", "path", absLockFilePath)
			unlockFile(f)
			f.Close()
			continue
		}

		l, err := newLock(name, absLockFilePath, f, appID)
		if err != nil {
			unlockFile(f)
			f.Close()
			return nil, fmt.Errorf("%w: %w", ErrLockSetup, err)
		}
		plog.Debug("Lock acquired", "path", absLockFilePath)
		return l, nil
	}

	return nil, &ErrLockActive{Name: name, Path: absLockFilePath}
}

// WithLock runs fn while holding the lock for name. The lock is released on
// every exit path of fn, including a panic.
func WithLock(ctx context.Context, dir, name, appID string, fn func() error) error {
	lock, err := Acquire(ctx, dir, name, appID)
	if err != nil {
		return err
	}
	defer lock.Release()
	return fn()
}

func newLock(name, absLockFilePath string, f *os.File, appID string) (*Lock, error) {
	nonce, err := generateNonce()
	if err != nil {
		return nil, err
	}

	hostname, err := os.Hostname()
	if err != nil {
		return nil, err
	}

	content := LockContent{
		PID:        int64(os.Getpid()),
		Hostname:   hostname,
		LastUpdate: time.Now().UTC(),
		Nonce:      nonce,
		AppID:      appID,
	}

	// A file orphaned by a killed holder still has its old content.
	if err := f.Truncate(0); err != nil {
		return nil, fmt.Errorf("failed to truncate lock file: %w", err)
	}
	if err := writeLockContent(f, content); err != nil {
		return nil, err
	}
	if err := f.Sync(); err != nil {
		return nil, fmt.Errorf("failed to sync lock file: %w", err)
	}

	return &Lock{
		name:    name,
		path:    absLockFilePath,
		file:    f,
		content: content,
		held:    true,
	}, nil
}

// Path returns the lock file path.
func (l *Lock) Path() string {
	return l.path
}

// Content returns what was written to the lock file on acquisition.
func (l *Lock) Content() LockContent {
	return l.content
}

// Release removes the lock file and drops the OS lock.
func (l *Lock) Release() {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.held {
		return
	}
	l.held = false

	if err := releaseFile(l.file, l.path); err != nil {
		plog.Warn("Failed to remove lock file", "path", l.path, "error", err)
		return
	}
	plog.Debug("Lock released", "path", l.path)
}

// activeError describes the current holder as far as the lock file tells us.
func activeError(name, absLockFilePath string) error {
	lockErr := &ErrLockActive{Name: name, Path: absLockFilePath}
	content, err := readLockContent(absLockFilePath)
	if err != nil {
		plog.Debug("Could not read lock holder details", "path", absLockFilePath, "error", err)
		return lockErr
	}
	lockErr.PID = content.PID
	lockErr.Hostname = content.Hostname
	lockErr.AppID = content.AppID
	lockErr.TimeSince = time.Since(content.LastUpdate)
	return lockErr
}

// stillLinked reports whether path still names the file f refers to.
func stillLinked(f *os.File, path string) bool {
	openInfo, err := f.Stat()
	if err != nil {
		return false
	}
	pathInfo, err := os.Stat(path)
	if err != nil {
		return false
	}
	return os.SameFile(openInfo, pathInfo)
}

// generateNonce creates a new random 16-byte token and returns it as a hex string.
func generateNonce() (string, error) {
	nonceBytes := make([]byte, 16)
	if _, err := rand.Read(nonceBytes); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}
	return fmt.Sprintf("%x", nonceBytes), nil
}

// writeLockContent marshals the LockContent and writes it to the provided io.Writer.
func writeLockContent(w io.Writer, content LockContent) error {
	data, err := json.MarshalIndent(content, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal lock content: %w", err)
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("failed to write lock content: %w", err)
	}
	return nil
}

// readLockContent reads the holder description. The holder may still be
// writing it, so an empty or partial file is reported as an error rather
// than waited for.
func readLockContent(absLockFilePath string) (LockContent, error) {
	data, err := os.ReadFile(absLockFilePath)
	if err != nil {
		return LockContent{}, err
	}
	if len(data) == 0 {
		return LockContent{}, errors.New("lock file is empty")
	}
	var content LockContent
	if err := json.Unmarshal(data, &content); err != nil {
		return LockContent{}, fmt.Errorf("lock file is corrupt: %w", err)
	}
	return content, nil
}
