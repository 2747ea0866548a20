// Package syncer runs mirror syncs: it takes the per-mirror lock, builds and
// runs the rsync command and emits exactly one run record per attempt.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/paulschiretz/pgl-mirror/pkg/buildinfo"
	"github.com/paulschiretz/pgl-mirror/pkg/config"
	"github.com/paulschiretz/pgl-mirror/pkg/hints"
	"github.com/paulschiretz/pgl-mirror/pkg/hook"
	"github.com/paulschiretz/pgl-mirror/pkg/lockfile"
	"github.com/paulschiretz/pgl-mirror/pkg/metrics"
	"github.com/paulschiretz/pgl-mirror/pkg/plog"
	"github.com/paulschiretz/pgl-mirror/pkg/procrun"
	"github.com/paulschiretz/pgl-mirror/pkg/rsync"
	"github.com/paulschiretz/pgl-mirror/pkg/runlog"
	"github.com/paulschiretz/pgl-mirror/pkg/util"
)

// errAborted marks a record whose attempt ended without reaching an outcome,
// e.g. because the runner panicked.
var errAborted = errors.New("sync aborted before completion")

// Syncer orchestrates syncs for the mirrors of one configuration.
type Syncer struct {
	config  config.Config
	lockDir string
	builder rsync.Builder
	runner  procrun.Runner
	emitter *runlog.Emitter
	history *runlog.History
	metrics metrics.Metrics

	hooks        *hook.HookExecutor
	hooksEnabled bool

	echo       bool
	echoStdout io.Writer
	echoStderr io.Writer
	echoMu     sync.Mutex

	now func() time.Time
}

// New creates a Syncer for cfg. Without options it locks in os.TempDir(),
// runs the real rsync, writes records to stdout, echoes rsync's output and
// runs configured hooks.
func New(cfg config.Config, opts ...Option) *Syncer {
	s := &Syncer{
		config:       cfg,
		lockDir:      os.TempDir(),
		runner:       procrun.NewExecRunner(nil),
		emitter:      runlog.NewEmitter(os.Stdout),
		hooks:        hook.NewHookExecutor(nil, os.Stderr),
		hooksEnabled: true,
		echo:         true,
		echoStdout:   os.Stdout,
		echoStderr:   os.Stderr,
		metrics:      &metrics.NoopMetrics{},
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Config returns the configuration the Syncer was created with.
func (s *Syncer) Config() config.Config {
	return s.config
}

// Sync runs one sync of the named mirror and reports whether it completed.
//
// Only configuration lookup and lock errors are returned; they happen before
// any record exists. Every other outcome, including launch failures, is
// reported through the emitted record and a false result.
func (s *Syncer) Sync(ctx context.Context, name string, dryRun bool) (bool, error) {
	m, err := s.config.Mirror(name)
	if err != nil {
		return false, err
	}

	plog.Debug("Attempting to acquire lock", "mirror", name, "dir", s.lockDir)
	lock, err := lockfile.Acquire(ctx, s.lockDir, name, buildinfo.BinaryName+":"+name)
	if err != nil {
		return false, fmt.Errorf("cannot sync mirror '%s': %w", name, err)
	}
	defer lock.Release()

	rec := s.run(ctx, m, dryRun)
	return rec.Succeeded(), nil
}

// run performs the locked part of a sync. The record is finalized and
// emitted on every path out of it.
func (s *Syncer) run(ctx context.Context, m config.Mirror, dryRun bool) (rec *runlog.Record) {
	startedAt := s.now()
	argv := s.builder.Build(m, dryRun)
	rec = runlog.NewRecord(m.Name, strings.Join(argv, " "), dryRun, startedAt)
	defer s.finish(ctx, m, rec, startedAt)

	plog.Info("Starting sync for " + m.Name)
	plog.Info("Command: " + rec.Command)

	plan := s.hookPlan(m)
	if err := s.hooks.RunPreSync(ctx, plan, hook.Env{Mirror: m.Name, DryRun: dryRun}); err != nil && !hints.IsHint(err) {
		rec.SetError(fmt.Errorf("pre-sync hook failed: %w", err))
		return rec
	}

	if err := os.MkdirAll(m.LocalPath, util.UserWritableDirPerms); err != nil {
		rec.SetError(fmt.Errorf("could not create local path %s: %w", m.LocalPath, err))
		return rec
	}

	res, err := s.runner.Run(ctx, argv)
	rec.Stdout = res.Stdout
	rec.Stderr = res.Stderr
	s.echoOutput(res)
	if err != nil {
		rec.SetError(err)
		return rec
	}

	rec.SetExit(res.ExitCode)
	if rec.Succeeded() {
		rec.MergeStats(rsync.ParseStats(res.Stdout))
	}
	return rec
}

// finish computes the duration, emits the record and runs post-sync hooks.
func (s *Syncer) finish(ctx context.Context, m config.Mirror, rec *runlog.Record, startedAt time.Time) {
	if rec.Status == runlog.StatusStarted {
		rec.SetError(errAborted)
	}
	rec.SetDuration(s.now().Sub(startedAt))

	if err := s.emitter.Emit(rec); err != nil {
		plog.Error("Failed to emit run record", "mirror", m.Name, "error", err)
	}

	s.recordMetrics(rec)

	if s.history != nil {
		if runID, err := s.history.Append(rec); err != nil {
			plog.Warn("Failed to append run to history", "mirror", m.Name, "error", err)
		} else {
			plog.Debug("Run stored in history", "mirror", m.Name, "run_id", runID)
		}
	}

	if ctx.Err() != nil {
		plog.Info("Post-sync hooks skipped due to cancellation", "mirror", m.Name)
	} else {
		env := hook.Env{Mirror: m.Name, Status: string(rec.Status), DryRun: rec.DryRun}
		if err := s.hooks.RunPostSync(ctx, s.hookPlan(m), env); err != nil && !hints.IsHint(err) {
			plog.Warn("Post-sync hook failed", "mirror", m.Name, "error", err)
		}
	}

	switch rec.Status {
	case runlog.StatusCompleted:
		plog.Info("Sync completed successfully!", "mirror", m.Name, "duration_seconds", rec.DurationSeconds)
	case runlog.StatusFailed:
		plog.Warn("Sync failed", "mirror", m.Name, "exit_status", *rec.ExitStatus)
	default:
		plog.Error("Sync error", "mirror", m.Name, "error", rec.Stderr)
	}
}

func (s *Syncer) recordMetrics(rec *runlog.Record) {
	switch rec.Status {
	case runlog.StatusCompleted:
		s.metrics.AddCompleted(1)
	case runlog.StatusFailed:
		s.metrics.AddFailed(1)
	default:
		s.metrics.AddErrored(1)
	}
	if rec.FilesTransferred != nil {
		s.metrics.AddFilesTransferred(*rec.FilesTransferred)
	}
	if rec.BytesReceived != nil {
		s.metrics.AddBytesReceived(*rec.BytesReceived)
	}
}

func (s *Syncer) hookPlan(m config.Mirror) *hook.Plan {
	return &hook.Plan{
		Enabled:          s.hooksEnabled,
		PreSyncCommands:  m.Hooks.PreSync,
		PostSyncCommands: m.Hooks.PostSync,
	}
}

func (s *Syncer) echoOutput(res procrun.Result) {
	if !s.echo {
		return
	}
	s.echoMu.Lock()
	defer s.echoMu.Unlock()
	if res.Stdout != "" {
		io.WriteString(s.echoStdout, res.Stdout)
	}
	if res.Stderr != "" {
		io.WriteString(s.echoStderr, res.Stderr)
	}
}
