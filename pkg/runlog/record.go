// Package runlog defines the per-run sync record, its single-line JSON
// emission and an optional on-disk history of past records.
package runlog

import (
	"fmt"
	"io"
	"math"
	"sync"
	"time"

	"github.com/goccy/go-json"

	"github.com/paulschiretz/pgl-mirror/pkg/rsync"
)

// Status is the outcome state of a sync attempt.
type Status string

const (
	StatusStarted   Status = "started"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusError     Status = "error"
)

// Record describes one sync attempt. It is created when the attempt starts,
// updated in place and emitted exactly once when the attempt ends.
// Absent optional values serialize as null.
type Record struct {
	Timestamp       string  `json:"timestamp"`
	Mirror          string  `json:"mirror"`
	Command         string  `json:"command"`
	DryRun          bool    `json:"dry_run"`
	Status          Status  `json:"status"`
	Stdout          string  `json:"stdout"`
	Stderr          string  `json:"stderr"`
	ExitStatus      *int    `json:"exit_status"`
	DurationSeconds float64 `json:"duration_seconds"`

	FilesProcessed   *int64  `json:"files_processed"`
	FilesTransferred *int64  `json:"files_transferred"`
	BytesTransferred *string `json:"bytes_transferred"`
	BytesSent        *int64  `json:"bytes_sent"`
	BytesReceived    *int64  `json:"bytes_received"`
}

// NewRecord returns a record in the started state.
func NewRecord(mirror, command string, dryRun bool, startedAt time.Time) *Record {
	return &Record{
		Timestamp: startedAt.Format(time.RFC3339),
		Mirror:    mirror,
		Command:   command,
		DryRun:    dryRun,
		Status:    StatusStarted,
	}
}

// SetExit stores the exit code and the resulting completed/failed status.
func (r *Record) SetExit(code int) {
	r.ExitStatus = &code
	if code == 0 {
		r.Status = StatusCompleted
	} else {
		r.Status = StatusFailed
	}
}

// SetError marks the attempt as an orchestration error. The error text
// replaces stderr and the exit status is cleared.
func (r *Record) SetError(err error) {
	r.Status = StatusError
	r.ExitStatus = nil
	r.Stderr = err.Error()
}

// MergeStats copies the parsed transfer statistics into the record. A nil
// stats value leaves the record untouched.
func (r *Record) MergeStats(s *rsync.Stats) {
	if s == nil {
		return
	}
	r.FilesProcessed = s.FilesProcessed
	r.FilesTransferred = s.FilesTransferred
	r.BytesTransferred = s.BytesTransferred
	r.BytesSent = s.BytesSent
	r.BytesReceived = s.BytesReceived
}

// SetDuration stores d in seconds, rounded to two decimals.
func (r *Record) SetDuration(d time.Duration) {
	r.DurationSeconds = math.Round(d.Seconds()*100) / 100
}

// Succeeded reports whether the attempt completed.
func (r *Record) Succeeded() bool {
	return r.Status == StatusCompleted
}

// MarshalLine encodes the record as compact JSON terminated by a newline.
func (r *Record) MarshalLine() ([]byte, error) {
	data, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("could not marshal run record: %w", err)
	}
	return append(data, '\n'), nil
}

// Emitter writes records as JSON lines. It is safe for concurrent use; each
// record is written with a single Write call.
type Emitter struct {
	mu sync.Mutex
	w  io.Writer
}

// NewEmitter returns an Emitter writing to w.
func NewEmitter(w io.Writer) *Emitter {
	return &Emitter{w: w}
}

// Emit writes r as one line.
func (e *Emitter) Emit(r *Record) error {
	line, err := r.MarshalLine()
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, err := e.w.Write(line); err != nil {
		return fmt.Errorf("could not write run record: %w", err)
	}
	return nil
}
