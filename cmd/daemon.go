package cmd

import (
	"context"
	"fmt"

	"github.com/paulschiretz/pgl-mirror/pkg/buildinfo"
	"github.com/paulschiretz/pgl-mirror/pkg/metrics"
	"github.com/paulschiretz/pgl-mirror/pkg/plog"
	"github.com/paulschiretz/pgl-mirror/pkg/scheduler"
	"github.com/paulschiretz/pgl-mirror/pkg/syncer"
)

// RunDaemon syncs every scheduled mirror on its cron schedule until ctx is canceled.
// rsync output is never echoed in daemon mode; run records are still written.
func RunDaemon(ctx context.Context, opts Options, extra ...syncer.Option) error {
	cfg, err := loadConfig(opts)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if err := runPreflight(cfg, opts); err != nil {
		return err
	}

	opts.Quiet = true
	runMetrics := &metrics.RunMetrics{}
	s, err := newSyncer(cfg, opts, append([]syncer.Option{syncer.WithMetrics(runMetrics)}, extra...)...)
	if err != nil {
		return err
	}

	sched, err := scheduler.New(cfg, func(ctx context.Context, name string) (bool, error) {
		return s.Sync(ctx, name, false)
	})
	if err != nil {
		return err
	}

	plog.Info(buildinfo.Name+" daemon started.", "mirrors", len(sched.Entries()))
	if err := sched.Run(ctx); err != nil {
		return err
	}
	plog.Info(buildinfo.Name + " daemon stopped.")
	runMetrics.Log()
	return nil
}
