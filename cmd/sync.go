package cmd

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/paulschiretz/pgl-mirror/pkg/buildinfo"
	"github.com/paulschiretz/pgl-mirror/pkg/metrics"
	"github.com/paulschiretz/pgl-mirror/pkg/plog"
	"github.com/paulschiretz/pgl-mirror/pkg/syncer"
)

// RunSync syncs one mirror. It returns ErrSyncFailed when the sync ran but
// did not complete; the run record carries the details.
func RunSync(ctx context.Context, opts Options, name string, dryRun bool, extra ...syncer.Option) error {
	if name == "" {
		return fmt.Errorf("the --mirror flag is required to run a sync")
	}

	cfg, err := loadConfig(opts)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	s, err := newSyncer(cfg, opts, extra...)
	if err != nil {
		return err
	}

	startTime := time.Now()
	completed, err := s.Sync(ctx, name, dryRun)
	duration := time.Since(startTime).Round(time.Millisecond)
	if err != nil {
		return err // The error will be logged with full details by main()
	}
	if !completed {
		return fmt.Errorf("mirror '%s': %w", name, ErrSyncFailed)
	}
	plog.Info(buildinfo.Name+" finished successfully.", "mirror", name, "duration", duration)
	return nil
}

// RunSyncAll syncs every configured mirror concurrently. Mirrors locked by
// another process are skipped and do not fail the run.
func RunSyncAll(ctx context.Context, opts Options, dryRun bool, extra ...syncer.Option) error {
	cfg, err := loadConfig(opts)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	runMetrics := &metrics.RunMetrics{}
	s, err := newSyncer(cfg, opts, append([]syncer.Option{syncer.WithMetrics(runMetrics)}, extra...)...)
	if err != nil {
		return err
	}

	startTime := time.Now()
	results := s.SyncAll(ctx, nil, dryRun, opts.Concurrency)
	duration := time.Since(startTime).Round(time.Millisecond)

	var errs []error
	completed, skipped := 0, 0
	for _, r := range results {
		switch {
		case r.Completed:
			completed++
		case r.Skipped():
			skipped++
		case r.Err != nil:
			errs = append(errs, fmt.Errorf("mirror '%s': %w", r.Mirror, r.Err))
		default:
			errs = append(errs, fmt.Errorf("mirror '%s': %w", r.Mirror, ErrSyncFailed))
		}
	}

	plog.Info(buildinfo.Name+" finished syncing all mirrors.",
		"completed", completed, "skipped", skipped, "failed", len(errs), "duration", duration)
	runMetrics.Log()
	return errors.Join(errs...)
}
