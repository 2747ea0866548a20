package syncer

import (
	"context"
	"errors"

	"golang.org/x/sync/errgroup"

	"github.com/paulschiretz/pgl-mirror/pkg/hints"
	"github.com/paulschiretz/pgl-mirror/pkg/lockfile"
	"github.com/paulschiretz/pgl-mirror/pkg/plog"
)

// ErrSkipped marks a mirror that was not synced because another process holds its lock.
var ErrSkipped = hints.New("mirror is already being synced")

// Result is the outcome of one mirror in SyncAll.
type Result struct {
	Mirror    string
	Completed bool
	// Err is set when Sync returned an error. It is a hint wrapping
	// ErrSkipped when the mirror was locked elsewhere.
	Err error
}

// Skipped reports whether the mirror was left alone due to lock contention.
func (r Result) Skipped() bool {
	return hints.Is(r.Err, ErrSkipped)
}

// OK reports whether the mirror completed or was skipped.
func (r Result) OK() bool {
	return r.Completed || r.Skipped()
}

// SyncAll syncs the named mirrors, or every configured mirror when names is
// empty, running at most limit syncs at once. A mirror that is locked by
// another process is skipped rather than treated as a failure. The results
// are in the order of names.
func (s *Syncer) SyncAll(ctx context.Context, names []string, dryRun bool, limit int) []Result {
	if len(names) == 0 {
		names = s.config.Names()
	}
	if limit <= 0 {
		limit = 1
	}

	results := make([]Result, len(names))
	var g errgroup.Group
	g.SetLimit(limit)

	for i, name := range names {
		g.Go(func() error {
			if ctx.Err() != nil {
				results[i] = Result{Mirror: name, Err: ctx.Err()}
				return nil
			}
			completed, err := s.Sync(ctx, name, dryRun)
			if errors.Is(err, lockfile.ErrLockContention) {
				plog.Warn("Mirror is already being synced, skipping", "mirror", name, "details", err.Error())
				err = errors.Join(ErrSkipped, err)
			}
			results[i] = Result{Mirror: name, Completed: completed, Err: err}
			return nil
		})
	}
	_ = g.Wait()
	return results
}
