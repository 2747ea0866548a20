package cmd_test

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/paulschiretz/pgl-mirror/cmd"
	"github.com/paulschiretz/pgl-mirror/pkg/config"
	"github.com/paulschiretz/pgl-mirror/pkg/lockfile"
	"github.com/paulschiretz/pgl-mirror/pkg/procrun"
	"github.com/paulschiretz/pgl-mirror/pkg/syncer"
)

const mirrorsYAML = `
debian:
  upstream: rsync://ftp.debian.org/debian/
  local_path: ./mirrors/debian
  exclude:
    - "*.iso"
ubuntu:
  upstream: rsync://rsync.releases.ubuntu.com/releases/
  local_path: ./mirrors/ubuntu
  bwlimit: 10000
  schedule: "0 3,15 * * *"
`

// exitRunner answers every rsync invocation with a fixed exit code per upstream host.
type exitRunner map[string]int

func (r exitRunner) Run(_ context.Context, argv []string, _ ...string) (procrun.Result, error) {
	for host, code := range r {
		if strings.Contains(strings.Join(argv, " "), host) {
			return procrun.Result{ExitCode: code, Stdout: "Number of files: 10\nNumber of files transferred: 2\n"}, nil
		}
	}
	return procrun.Result{}, nil
}

func setup(t *testing.T) (cmd.Options, *bytes.Buffer) {
	t.Helper()
	dir := t.TempDir()
	configPath := filepath.Join(dir, config.DefaultFileName)
	require.NoError(t, os.WriteFile(configPath, []byte(mirrorsYAML), 0644))

	lockDir := filepath.Join(dir, "locks")
	require.NoError(t, os.Mkdir(lockDir, 0755))

	opts := cmd.DefaultOptions()
	opts.ConfigPath = configPath
	opts.LockDir = lockDir
	opts.HistoryDir = filepath.Join(dir, "history")
	opts.Quiet = true
	return opts, &bytes.Buffer{}
}

func TestRunSync(t *testing.T) {
	t.Run("Requires Mirror", func(t *testing.T) {
		opts, _ := setup(t)
		assert.ErrorContains(t, cmd.RunSync(context.Background(), opts, "", false), "--mirror")
	})

	t.Run("Missing Config", func(t *testing.T) {
		opts, _ := setup(t)
		opts.ConfigPath = filepath.Join(t.TempDir(), "nope.yml")
		assert.ErrorIs(t, cmd.RunSync(context.Background(), opts, "ubuntu", false), config.ErrConfigNotFound)
	})

	t.Run("Negative History Limits", func(t *testing.T) {
		opts, records := setup(t)
		opts.HistoryKeep = -1
		err := cmd.RunSync(context.Background(), opts, "ubuntu", false, syncer.WithRecordWriter(records), syncer.WithRunner(exitRunner{}))
		assert.ErrorContains(t, err, "invalid history keep")

		opts.HistoryKeep = 1
		opts.HistoryMaxBytes = -1
		err = cmd.RunSync(context.Background(), opts, "ubuntu", false, syncer.WithRecordWriter(records), syncer.WithRunner(exitRunner{}))
		assert.ErrorContains(t, err, "invalid history max bytes")
		assert.Empty(t, records.String())
	})

	t.Run("Unknown Mirror", func(t *testing.T) {
		opts, records := setup(t)
		err := cmd.RunSync(context.Background(), opts, "fedora", false, syncer.WithRecordWriter(records), syncer.WithRunner(exitRunner{}))
		assert.ErrorIs(t, err, config.ErrMirrorNotFound)
		assert.Empty(t, records.String())
	})

	t.Run("Completed", func(t *testing.T) {
		opts, records := setup(t)
		err := cmd.RunSync(context.Background(), opts, "ubuntu", false, syncer.WithRecordWriter(records), syncer.WithRunner(exitRunner{}))
		require.NoError(t, err)
		assert.Contains(t, records.String(), `"status":"completed"`)
		assert.Equal(t, 1, strings.Count(records.String(), "\n"))
	})

	t.Run("Failed", func(t *testing.T) {
		opts, records := setup(t)
		err := cmd.RunSync(context.Background(), opts, "ubuntu", false,
			syncer.WithRecordWriter(records), syncer.WithRunner(exitRunner{"ubuntu.com": 12}))
		assert.ErrorIs(t, err, cmd.ErrSyncFailed)
		assert.Contains(t, records.String(), `"exit_status":12`)
	})

	t.Run("Locked", func(t *testing.T) {
		opts, records := setup(t)
		held, err := lockfile.Acquire(context.Background(), opts.LockDir, "ubuntu", "other")
		require.NoError(t, err)
		defer held.Release()

		err = cmd.RunSync(context.Background(), opts, "ubuntu", false, syncer.WithRecordWriter(records), syncer.WithRunner(exitRunner{}))
		assert.ErrorIs(t, err, lockfile.ErrLockContention)
		assert.Empty(t, records.String())
	})
}

func TestRunSyncAll(t *testing.T) {
	t.Run("All Complete", func(t *testing.T) {
		opts, records := setup(t)
		err := cmd.RunSyncAll(context.Background(), opts, false, syncer.WithRecordWriter(records), syncer.WithRunner(exitRunner{}))
		require.NoError(t, err)
		assert.Equal(t, 2, strings.Count(records.String(), `"status":"completed"`))
	})

	t.Run("Locked Mirror Is Skipped", func(t *testing.T) {
		opts, records := setup(t)
		held, err := lockfile.Acquire(context.Background(), opts.LockDir, "debian", "other")
		require.NoError(t, err)
		defer held.Release()

		err = cmd.RunSyncAll(context.Background(), opts, false, syncer.WithRecordWriter(records), syncer.WithRunner(exitRunner{}))
		require.NoError(t, err)
		assert.Equal(t, 1, strings.Count(records.String(), "\n"))
	})

	t.Run("Failure Is Reported", func(t *testing.T) {
		opts, records := setup(t)
		err := cmd.RunSyncAll(context.Background(), opts, true,
			syncer.WithRecordWriter(records), syncer.WithRunner(exitRunner{"debian.org": 5}))
		require.Error(t, err)
		assert.ErrorIs(t, err, cmd.ErrSyncFailed)
		assert.Contains(t, err.Error(), "debian")
		assert.NotContains(t, err.Error(), "ubuntu")
	})
}

func TestRunListAndHistory(t *testing.T) {
	opts, records := setup(t)

	var out bytes.Buffer
	require.NoError(t, cmd.RunList(context.Background(), opts, &out))
	assert.Contains(t, out.String(), "NAME")
	assert.Contains(t, out.String(), "rsync://ftp.debian.org/debian/")
	assert.Contains(t, out.String(), "0 3,15 * * *")
	assert.Contains(t, out.String(), "never")

	require.NoError(t, cmd.RunSync(context.Background(), opts, "ubuntu", false, syncer.WithRecordWriter(records), syncer.WithRunner(exitRunner{})))
	require.Error(t, cmd.RunSync(context.Background(), opts, "ubuntu", false, syncer.WithRecordWriter(records), syncer.WithRunner(exitRunner{"ubuntu.com": 23})))

	out.Reset()
	require.NoError(t, cmd.RunList(context.Background(), opts, &out))
	assert.Regexp(t, `ubuntu\s.*failed`, out.String())

	out.Reset()
	require.NoError(t, cmd.RunHistory(context.Background(), opts, "ubuntu", 10, &out))
	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 3, out.String())
	assert.Contains(t, lines[1], "completed")
	assert.Contains(t, lines[2], "failed")
	assert.Contains(t, lines[2], "23")

	out.Reset()
	require.NoError(t, cmd.RunHistory(context.Background(), opts, "debian", 10, &out))
	assert.Contains(t, out.String(), "No runs recorded")
}

func TestRunHistory_Errors(t *testing.T) {
	opts, _ := setup(t)
	assert.ErrorContains(t, cmd.RunHistory(context.Background(), opts, "", 10, &bytes.Buffer{}), "--mirror")
	assert.ErrorIs(t, cmd.RunHistory(context.Background(), opts, "fedora", 10, &bytes.Buffer{}), config.ErrMirrorNotFound)

	opts.HistoryDir = ""
	assert.ErrorIs(t, cmd.RunHistory(context.Background(), opts, "ubuntu", 10, &bytes.Buffer{}), cmd.ErrHistoryDisabled)

	opts.HistoryDir = t.TempDir()
	opts.HistoryCompression = "lz4"
	assert.ErrorContains(t, cmd.RunHistory(context.Background(), opts, "ubuntu", 10, &bytes.Buffer{}), "invalid history compression")
}

func TestRunCheck(t *testing.T) {
	opts, _ := setup(t)
	opts.RsyncBinary = os.Args[0]
	require.NoError(t, cmd.RunCheck(context.Background(), opts))

	opts.RsyncBinary = "pgl-mirror-no-such-rsync"
	assert.ErrorContains(t, cmd.RunCheck(context.Background(), opts), "preflight failed")
}

func TestRunDaemon_NothingScheduled(t *testing.T) {
	dir := t.TempDir()
	opts := cmd.DefaultOptions()
	opts.ConfigPath = filepath.Join(dir, config.DefaultFileName)
	opts.RsyncBinary = os.Args[0]
	require.NoError(t, os.WriteFile(opts.ConfigPath, []byte("debian:\n  upstream: rsync://x/\n  local_path: ./d\n"), 0644))

	err := cmd.RunDaemon(context.Background(), opts)
	assert.ErrorContains(t, err, "no mirror has a schedule")
}

func TestRunVersion(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, cmd.RunVersion(&out, "PGL-Mirror", "1.2.3"))
	assert.Equal(t, "PGL-Mirror version 1.2.3\n", out.String())
}
