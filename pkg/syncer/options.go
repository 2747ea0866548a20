package syncer

import (
	"io"
	"time"

	"github.com/paulschiretz/pgl-mirror/pkg/hook"
	"github.com/paulschiretz/pgl-mirror/pkg/metrics"
	"github.com/paulschiretz/pgl-mirror/pkg/procrun"
	"github.com/paulschiretz/pgl-mirror/pkg/runlog"
)

// Option configures a Syncer.
type Option func(*Syncer)

// WithLockDir sets the directory holding the per-mirror lock files.
func WithLockDir(dir string) Option {
	return func(s *Syncer) { s.lockDir = dir }
}

// WithRunner replaces the process runner used to execute rsync.
func WithRunner(r procrun.Runner) Option {
	return func(s *Syncer) { s.runner = r }
}

// WithBinary sets the rsync executable.
func WithBinary(binary string) Option {
	return func(s *Syncer) { s.builder.Binary = binary }
}

// WithRecordWriter sets where run records are written, one JSON line each.
func WithRecordWriter(w io.Writer) Option {
	return func(s *Syncer) { s.emitter = runlog.NewEmitter(w) }
}

// WithHistory enables the on-disk run history.
func WithHistory(h *runlog.History) Option {
	return func(s *Syncer) { s.history = h }
}

// WithHooks sets the hook executor and whether hooks run at all.
func WithHooks(e *hook.HookExecutor, enabled bool) Option {
	return func(s *Syncer) {
		s.hooks = e
		s.hooksEnabled = enabled
	}
}

// WithEcho controls whether rsync's captured output is copied to the console.
func WithEcho(enabled bool) Option {
	return func(s *Syncer) { s.echo = enabled }
}

// WithEchoWriters sets the console streams used for echoing rsync's output.
func WithEchoWriters(stdout, stderr io.Writer) Option {
	return func(s *Syncer) {
		s.echoStdout = stdout
		s.echoStderr = stderr
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Syncer) { s.now = now }
}

// WithMetrics sets the collector that accumulates run outcomes.
func WithMetrics(m metrics.Metrics) Option {
	return func(s *Syncer) { s.metrics = m }
}
