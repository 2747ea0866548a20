// Package scheduler runs mirror syncs on the cron schedules from the
// configuration until its context is canceled.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/robfig/cron/v3"

	"github.com/paulschiretz/pgl-mirror/pkg/config"
	"github.com/paulschiretz/pgl-mirror/pkg/hints"
	"github.com/paulschiretz/pgl-mirror/pkg/lockfile"
	"github.com/paulschiretz/pgl-mirror/pkg/plog"
)

// ErrNothingScheduled is returned by New when no mirror has a schedule.
var ErrNothingScheduled = errors.New("no mirror has a schedule")

// SyncFunc syncs one mirror and reports whether it completed.
type SyncFunc func(ctx context.Context, name string) (bool, error)

// Entry describes one scheduled mirror.
type Entry struct {
	Mirror   string
	Schedule string
	Next     time.Time
}

// Scheduler triggers SyncFunc per mirror. A mirror whose previous run is
// still going is skipped for that tick; runs of different mirrors overlap freely.
type Scheduler struct {
	cron    *cron.Cron
	entries map[string]cron.EntryID
	specs   map[string]string
	syncFn  SyncFunc

	mu  sync.Mutex
	ctx context.Context
}

// New registers every mirror of cfg that has a schedule.
func New(cfg config.Config, syncFn SyncFunc) (*Scheduler, error) {
	logger := cronLogger{}
	s := &Scheduler{
		cron: cron.New(
			cron.WithLogger(logger),
			cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
		),
		entries: make(map[string]cron.EntryID),
		specs:   make(map[string]string),
		syncFn:  syncFn,
		ctx:     context.Background(),
	}

	for _, name := range cfg.Names() {
		m := cfg.Mirrors[name]
		if m.Schedule == "" {
			plog.Debug("Mirror has no schedule, not scheduling", "mirror", name)
			continue
		}
		id, err := s.cron.AddFunc(m.Schedule, func() { s.runMirror(name) })
		if err != nil {
			return nil, fmt.Errorf("invalid schedule '%s' for mirror '%s': %w", m.Schedule, name, err)
		}
		s.entries[name] = id
		s.specs[name] = m.Schedule
	}

	if len(s.entries) == 0 {
		return nil, ErrNothingScheduled
	}
	return s, nil
}

// Entries lists the scheduled mirrors sorted by name. Next is zero until Run starts.
func (s *Scheduler) Entries() []Entry {
	out := make([]Entry, 0, len(s.entries))
	for name, id := range s.entries {
		out = append(out, Entry{Mirror: name, Schedule: s.specs[name], Next: s.cron.Entry(id).Next})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Mirror < out[j].Mirror })
	return out
}

// Run starts the schedule and blocks until ctx is done. Running syncs see
// the cancellation through their context and are waited for before Run returns.
func (s *Scheduler) Run(ctx context.Context) error {
	s.mu.Lock()
	s.ctx = ctx
	s.mu.Unlock()

	s.cron.Start()
	for _, e := range s.Entries() {
		plog.Info("Scheduled mirror", "mirror", e.Mirror, "schedule", e.Schedule, "next", humanize.Time(e.Next))
	}

	<-ctx.Done()
	plog.Info("Stopping scheduler, waiting for running syncs")
	<-s.cron.Stop().Done()
	return nil
}

func (s *Scheduler) runMirror(name string) {
	s.mu.Lock()
	ctx := s.ctx
	s.mu.Unlock()
	if ctx.Err() != nil {
		return
	}

	completed, err := s.syncFn(ctx, name)
	switch {
	case errors.Is(err, lockfile.ErrLockContention):
		// Another process (e.g. a manual sync) holds the mirror.
		plog.Warn("Scheduled sync skipped, mirror is locked", "mirror", name, "details", err.Error())
	case err != nil && !hints.IsHint(err):
		plog.Error("Scheduled sync could not start", "mirror", name, "error", err)
	case !completed:
		plog.Warn("Scheduled sync did not complete", "mirror", name)
	}

	if id, ok := s.entries[name]; ok {
		if next := s.cron.Entry(id).Next; !next.IsZero() {
			plog.Info("Next sync", "mirror", name, "at", next.Format(time.RFC3339), "in", humanize.Time(next))
		}
	}
}

// cronLogger routes cron's internal logging through plog.
type cronLogger struct{}

func (cronLogger) Info(msg string, keysAndValues ...any) {
	plog.Debug("cron: "+msg, keysAndValues...)
}

func (cronLogger) Error(err error, msg string, keysAndValues ...any) {
	plog.Error("cron: "+msg, append(keysAndValues, "error", err)...)
}
