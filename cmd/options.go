package cmd

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/paulschiretz/pgl-mirror/pkg/config"
	"github.com/paulschiretz/pgl-mirror/pkg/hook"
	"github.com/paulschiretz/pgl-mirror/pkg/rsync"
	"github.com/paulschiretz/pgl-mirror/pkg/runlog"
	"github.com/paulschiretz/pgl-mirror/pkg/syncer"
	"github.com/paulschiretz/pgl-mirror/pkg/util"
)

// ErrSyncFailed is returned when a sync ran but did not complete.
var ErrSyncFailed = errors.New("sync did not complete")

// Options are the application settings shared by all commands.
type Options struct {
	ConfigPath string
	LockDir    string
	// HistoryDir enables the run history when non-empty.
	HistoryDir         string
	HistoryMaxBytes    int64
	HistoryKeep        int
	HistoryCompression string
	RsyncBinary        string
	NoHooks            bool
	// Quiet disables echoing rsync's output; records are still written.
	Quiet       bool
	Concurrency int
}

// DefaultOptions returns the settings used when neither flags nor environment override them.
func DefaultOptions() Options {
	return Options{
		ConfigPath:         config.DefaultFileName,
		LockDir:            os.TempDir(),
		HistoryMaxBytes:    runlog.DefaultHistoryMaxBytes,
		HistoryKeep:        runlog.DefaultHistoryKeep,
		HistoryCompression: runlog.Gzip.String(),
		RsyncBinary:        rsync.DefaultBinary,
		Concurrency:        2,
	}
}

func loadConfig(opts Options) (config.Config, error) {
	path, err := util.ExpandPath(opts.ConfigPath)
	if err != nil {
		return config.Config{}, err
	}
	cfg, err := config.Load(path)
	if err != nil {
		return config.Config{}, err
	}
	cfg.LogSummary()
	return cfg, nil
}

func newHistory(opts Options) (*runlog.History, error) {
	if opts.HistoryDir == "" {
		return nil, nil
	}
	dir, err := util.ExpandPath(opts.HistoryDir)
	if err != nil {
		return nil, err
	}
	if dir, err = filepath.Abs(dir); err != nil {
		return nil, err
	}
	if opts.HistoryMaxBytes < 0 {
		return nil, fmt.Errorf("invalid history max bytes %d: must not be negative", opts.HistoryMaxBytes)
	}
	if opts.HistoryKeep < 0 {
		return nil, fmt.Errorf("invalid history keep %d: must not be negative", opts.HistoryKeep)
	}
	compression, err := runlog.ParseCompression(opts.HistoryCompression)
	if err != nil {
		return nil, err
	}
	return runlog.NewHistory(runlog.HistoryConfig{
		Dir:         dir,
		MaxBytes:    opts.HistoryMaxBytes,
		Keep:        opts.HistoryKeep,
		Compression: compression,
	}), nil
}

// newSyncer wires a Syncer from the options. extra options are applied last.
func newSyncer(cfg config.Config, opts Options, extra ...syncer.Option) (*syncer.Syncer, error) {
	lockDir, err := util.ExpandPath(opts.LockDir)
	if err != nil {
		return nil, err
	}
	history, err := newHistory(opts)
	if err != nil {
		return nil, err
	}

	syncOpts := []syncer.Option{
		syncer.WithLockDir(lockDir),
		syncer.WithBinary(opts.RsyncBinary),
		syncer.WithEcho(!opts.Quiet),
		syncer.WithHooks(hook.NewHookExecutor(nil, os.Stderr), !opts.NoHooks),
	}
	if history != nil {
		syncOpts = append(syncOpts, syncer.WithHistory(history))
	}
	return syncer.New(cfg, append(syncOpts, extra...)...), nil
}
