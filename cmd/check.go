package cmd

import (
	"context"
	"fmt"

	"github.com/paulschiretz/pgl-mirror/pkg/buildinfo"
	"github.com/paulschiretz/pgl-mirror/pkg/config"
	"github.com/paulschiretz/pgl-mirror/pkg/plog"
	"github.com/paulschiretz/pgl-mirror/pkg/preflight"
	"github.com/paulschiretz/pgl-mirror/pkg/util"
)

// RunCheck validates the configuration and runs the preflight checks
// without syncing anything.
func RunCheck(ctx context.Context, opts Options) error {
	cfg, err := loadConfig(opts)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if err := runPreflight(cfg, opts); err != nil {
		return err
	}
	plog.Info(buildinfo.Name+" check passed.", "config", cfg.Path, "mirrors", len(cfg.Mirrors))
	return nil
}

func runPreflight(cfg config.Config, opts Options) error {
	mirrors := make([]config.Mirror, 0, len(cfg.Mirrors))
	for _, name := range cfg.Names() {
		mirrors = append(mirrors, cfg.Mirrors[name])
	}
	if err := preflight.CheckMirrors(opts.RsyncBinary, mirrors); err != nil {
		return fmt.Errorf("preflight failed: %w", err)
	}

	lockDir, err := util.ExpandPath(opts.LockDir)
	if err != nil {
		return err
	}
	if err := preflight.CheckDestinationAccessible(lockDir); err != nil {
		return fmt.Errorf("preflight failed: lock directory: %w", err)
	}
	return nil
}
