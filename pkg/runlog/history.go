package runlog

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/klauspost/compress/zstd"
	"github.com/klauspost/pgzip"

	"github.com/paulschiretz/pgl-mirror/pkg/plog"
	"github.com/paulschiretz/pgl-mirror/pkg/util"
)

// rotatedTimeFormat sorts lexically in chronological order.
const rotatedTimeFormat = "20060102T150405.000000000Z"

// DefaultHistoryMaxBytes is the active file size that triggers rotation.
const DefaultHistoryMaxBytes int64 = 1 << 20

// DefaultHistoryKeep is the number of rotated files kept per mirror.
const DefaultHistoryKeep = 5

// Entry is a record as stored in the history, tagged with a unique run id.
type Entry struct {
	RunID string `json:"run_id"`
	Record
}

// HistoryConfig configures a History.
type HistoryConfig struct {
	Dir string
	// MaxBytes is the size above which the active file is rotated. Zero disables rotation.
	MaxBytes int64
	// Keep is the number of rotated files retained per mirror.
	Keep        int
	Compression Compression
}

// History appends records to <Dir>/<mirror>.jsonl and rotates that file into
// compressed archives once it grows past MaxBytes.
type History struct {
	cfg HistoryConfig
	mu  sync.Mutex
	now func() time.Time
}

// NewHistory returns a History for cfg. Negative MaxBytes and Keep are
// treated as zero.
func NewHistory(cfg HistoryConfig) *History {
	if cfg.Compression == "" {
		cfg.Compression = Gzip
	}
	cfg.MaxBytes = max(cfg.MaxBytes, 0)
	cfg.Keep = max(cfg.Keep, 0)
	return &History{cfg: cfg, now: time.Now}
}

// Dir returns the history directory.
func (h *History) Dir() string {
	return h.cfg.Dir
}

func (h *History) activePath(mirror string) string {
	return filepath.Join(h.cfg.Dir, mirror+".jsonl")
}

// Append stores r and returns the run id assigned to it.
func (h *History) Append(r *Record) (string, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if err := util.EnsureDir(h.cfg.Dir); err != nil {
		return "", fmt.Errorf("could not create history directory: %w", err)
	}

	entry := Entry{RunID: uuid.NewString(), Record: *r}
	data, err := json.Marshal(entry)
	if err != nil {
		return "", fmt.Errorf("could not marshal history entry: %w", err)
	}
	data = append(data, '\n')

	path := h.activePath(r.Mirror)
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, util.UserWritableFilePerms)
	if err != nil {
		return "", fmt.Errorf("could not open history file %s: %w", path, err)
	}
	_, writeErr := f.Write(data)
	closeErr := f.Close()
	if err := errors.Join(writeErr, closeErr); err != nil {
		return "", fmt.Errorf("could not write history file %s: %w", path, err)
	}

	if h.cfg.MaxBytes > 0 {
		info, err := os.Stat(path)
		if err == nil && info.Size() > h.cfg.MaxBytes {
			if err := h.rotate(r.Mirror); err != nil {
				// The record itself is stored; a failed rotation is retried next time.
				plog.Warn("History rotation failed", "mirror", r.Mirror, "error", err)
			}
		}
	}
	return entry.RunID, nil
}

// rotate compresses the active file into a timestamped archive and prunes old archives.
func (h *History) rotate(mirror string) error {
	src := h.activePath(mirror)
	ext := compressionToExt[h.cfg.Compression]
	dst := filepath.Join(h.cfg.Dir, mirror+"-"+h.now().UTC().Format(rotatedTimeFormat)+ext)

	if err := compressFile(src, dst, h.cfg.Compression); err != nil {
		return err
	}
	if err := os.Remove(src); err != nil {
		return fmt.Errorf("could not remove rotated history file: %w", err)
	}
	plog.Debug("Rotated history file", "mirror", mirror, "archive", dst)
	return h.prune(mirror)
}

func (h *History) prune(mirror string) error {
	rotated, err := h.rotatedFiles(mirror)
	if err != nil {
		return err
	}
	keep := max(h.cfg.Keep, 0)
	if len(rotated) <= keep {
		return nil
	}
	var errs []error
	for _, path := range rotated[:len(rotated)-keep] {
		if err := os.Remove(path); err != nil {
			errs = append(errs, err)
			continue
		}
		plog.Debug("Removed old history archive", "path", path)
	}
	return errors.Join(errs...)
}

// rotatedFiles lists the archives of mirror, oldest first. Names of other
// mirrors sharing a prefix (e.g. "ubuntu" and "ubuntu-ports") are excluded by
// requiring the remainder to be a rotation timestamp.
func (h *History) rotatedFiles(mirror string) ([]string, error) {
	entries, err := os.ReadDir(h.cfg.Dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("could not read history directory: %w", err)
	}

	prefix := mirror + "-"
	var rotated []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, prefix) {
			continue
		}
		if _, ok := parseRotatedName(strings.TrimPrefix(name, prefix)); ok {
			rotated = append(rotated, filepath.Join(h.cfg.Dir, name))
		}
	}
	sort.Strings(rotated)
	return rotated, nil
}

func parseRotatedName(rest string) (Compression, bool) {
	for c, ext := range compressionToExt {
		stamp, found := strings.CutSuffix(rest, ext)
		if !found {
			continue
		}
		if _, err := time.Parse(rotatedTimeFormat, stamp); err == nil {
			return c, true
		}
	}
	return "", false
}

// Read returns up to last entries for mirror, oldest first, across rotated
// archives and the active file. last <= 0 returns everything. Corrupt lines
// are skipped with a warning.
func (h *History) Read(mirror string, last int) ([]Entry, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	files, err := h.rotatedFiles(mirror)
	if err != nil {
		return nil, err
	}
	files = append(files, h.activePath(mirror))

	var entries []Entry
	for _, path := range files {
		fileEntries, err := readEntries(path)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, err
		}
		entries = append(entries, fileEntries...)
	}

	if last > 0 && len(entries) > last {
		entries = entries[len(entries)-last:]
	}
	return entries, nil
}

func readEntries(path string) (entries []Entry, retErr error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var r io.Reader = f
	switch {
	case strings.HasSuffix(path, compressionToExt[Gzip]):
		gz, err := pgzip.NewReader(f)
		if err != nil {
			return nil, fmt.Errorf("could not open gzip history %s: %w", path, err)
		}
		defer gz.Close()
		r = gz
	case strings.HasSuffix(path, compressionToExt[Zstd]):
		zr, err := zstd.NewReader(f)
		if err != nil {
			return nil, fmt.Errorf("could not open zstd history %s: %w", path, err)
		}
		defer zr.Close()
		r = zr
	}

	scanner := bufio.NewScanner(r)
	// Records carry the full rsync output, so lines can be long.
	scanner.Buffer(make([]byte, 0, 64*1024), 64*1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var e Entry
		if err := json.Unmarshal(line, &e); err != nil {
			plog.Warn("Skipping corrupt history line", "path", path, "line", lineNo, "error", err)
			continue
		}
		entries = append(entries, e)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("could not read history %s: %w", path, err)
	}
	return entries, nil
}

// compressFile writes src compressed to dst via a temp file and an atomic rename.
func compressFile(src, dst string, c Compression) (retErr error) {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("could not open history file for rotation: %w", err)
	}
	defer in.Close()

	tmp, err := os.CreateTemp(filepath.Dir(dst), ".rotate-*.tmp")
	if err != nil {
		return fmt.Errorf("could not create temp archive: %w", err)
	}
	tmpName := tmp.Name()
	defer func() {
		if retErr != nil {
			tmp.Close()
			os.Remove(tmpName)
		}
	}()

	bufWriter := bufio.NewWriter(tmp)
	var compressedWriter io.WriteCloser
	switch c {
	case Zstd:
		zw, err := zstd.NewWriter(bufWriter, zstd.WithEncoderLevel(zstd.SpeedBetterCompression))
		if err != nil {
			return fmt.Errorf("failed to create zstd writer: %w", err)
		}
		compressedWriter = zw
	default:
		gw, err := pgzip.NewWriterLevel(bufWriter, pgzip.BestCompression)
		if err != nil {
			return fmt.Errorf("failed to create gzip writer: %w", err)
		}
		compressedWriter = gw
	}

	if _, err := io.Copy(compressedWriter, in); err != nil {
		compressedWriter.Close()
		return fmt.Errorf("failed to compress history: %w", err)
	}
	if err := compressedWriter.Close(); err != nil {
		return fmt.Errorf("compressed writer close failed: %w", err)
	}
	if err := bufWriter.Flush(); err != nil {
		return fmt.Errorf("buffer flush failed: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp archive: %w", err)
	}

	if err := os.Rename(tmpName, dst); err != nil {
		return fmt.Errorf("failed to rename temp archive to final path: %w", err)
	}
	return nil
}
