package main

import (
	"context"
	"errors"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/paulschiretz/pgl-mirror/cmd"
	"github.com/paulschiretz/pgl-mirror/pkg/buildinfo"
	"github.com/paulschiretz/pgl-mirror/pkg/config"
	"github.com/paulschiretz/pgl-mirror/pkg/plog"
)

// version holds the application's version string.
// It's a `var` so it can be set at compile time using ldflags.
// Example: go build -ldflags="-X main.version=1.0.0"
var version = buildinfo.Version

// envPrefix namespaces environment overrides, e.g. PGL_MIRROR_LOCK_DIR.
const envPrefix = "PGL_MIRROR"

// newRootCmd builds the command tree. v receives flag bindings and environment overrides.
func newRootCmd(v *viper.Viper) *cobra.Command {
	defaults := cmd.DefaultOptions()

	root := &cobra.Command{
		Use:           buildinfo.BinaryName,
		Short:         "Mirror remote trees to local storage with rsync",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(c *cobra.Command, args []string) error {
			if err := v.BindPFlags(c.Flags()); err != nil {
				return err
			}
			plog.SetLevel(plog.LevelFromString(v.GetString("log-level")))
			return nil
		},
	}

	pf := root.PersistentFlags()
	pf.SortFlags = false
	pf.StringP("config", "c", defaults.ConfigPath, "Mirrors configuration file")
	pf.String("lock-dir", defaults.LockDir, "Directory for per-mirror lock files")
	pf.String("history-dir", "", "Directory for the run history (disabled when empty)")
	pf.Int64("history-max-bytes", defaults.HistoryMaxBytes, "Rotate a mirror's history file once it exceeds this size")
	pf.Int("history-keep", defaults.HistoryKeep, "Number of rotated history files kept per mirror")
	pf.String("history-compression", defaults.HistoryCompression, "Compression of rotated history files: 'gzip' or 'zstd'")
	pf.String("rsync", defaults.RsyncBinary, "rsync executable")
	pf.String("log-level", "info", "Set the logging level: 'debug', 'notice', 'info', 'warn', 'error'.")

	root.AddCommand(
		newSyncCmd(v, defaults),
		newListCmd(v),
		newHistoryCmd(v),
		newCheckCmd(v),
		newDaemonCmd(v),
		newInitCmd(v),
		newVersionCmd(),
	)
	return root
}

// options reads the bound settings. Flags win over environment, environment over defaults.
func options(v *viper.Viper) cmd.Options {
	return cmd.Options{
		ConfigPath:         v.GetString("config"),
		LockDir:            v.GetString("lock-dir"),
		HistoryDir:         v.GetString("history-dir"),
		HistoryMaxBytes:    v.GetInt64("history-max-bytes"),
		HistoryKeep:        v.GetInt("history-keep"),
		HistoryCompression: v.GetString("history-compression"),
		RsyncBinary:        v.GetString("rsync"),
		NoHooks:            v.GetBool("no-hooks"),
		Quiet:              v.GetBool("quiet"),
		Concurrency:        v.GetInt("concurrency"),
	}
}

func newSyncCmd(v *viper.Viper, defaults cmd.Options) *cobra.Command {
	c := &cobra.Command{
		Use:   "sync",
		Short: "Sync one mirror, or all of them with --all",
		Args:  cobra.NoArgs,
		RunE: func(c *cobra.Command, args []string) error {
			opts := options(v)
			dryRun, _ := c.Flags().GetBool("dry-run")
			if all, _ := c.Flags().GetBool("all"); all {
				return cmd.RunSyncAll(c.Context(), opts, dryRun)
			}
			name, _ := c.Flags().GetString("mirror")
			return cmd.RunSync(c.Context(), opts, name, dryRun)
		},
	}
	f := c.Flags()
	f.StringP("mirror", "m", "", "Name of the mirror to sync")
	f.Bool("dry-run", false, "Show what would be transferred without changing anything")
	f.Bool("all", false, "Sync every configured mirror")
	f.Int("concurrency", defaults.Concurrency, "Maximum number of mirrors synced at once with --all")
	f.Bool("no-hooks", false, "Do not run pre/post sync hooks")
	f.BoolP("quiet", "q", false, "Do not echo rsync's output")
	c.MarkFlagsMutuallyExclusive("mirror", "all")
	c.MarkFlagsOneRequired("mirror", "all")
	return c
}

func newListCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List configured mirrors",
		Args:  cobra.NoArgs,
		RunE: func(c *cobra.Command, args []string) error {
			return cmd.RunList(c.Context(), options(v), c.OutOrStdout())
		},
	}
}

func newHistoryCmd(v *viper.Viper) *cobra.Command {
	c := &cobra.Command{
		Use:   "history",
		Short: "Show the last runs of a mirror",
		Args:  cobra.NoArgs,
		RunE: func(c *cobra.Command, args []string) error {
			name, _ := c.Flags().GetString("mirror")
			last, _ := c.Flags().GetInt("last")
			return cmd.RunHistory(c.Context(), options(v), name, last, c.OutOrStdout())
		},
	}
	c.Flags().StringP("mirror", "m", "", "Name of the mirror")
	c.Flags().IntP("last", "n", 20, "Number of runs to show (0 for all)")
	_ = c.MarkFlagRequired("mirror")
	return c
}

func newCheckCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Validate the configuration and run preflight checks",
		Args:  cobra.NoArgs,
		RunE: func(c *cobra.Command, args []string) error {
			return cmd.RunCheck(c.Context(), options(v))
		},
	}
}

func newDaemonCmd(v *viper.Viper) *cobra.Command {
	c := &cobra.Command{
		Use:   "daemon",
		Short: "Sync mirrors on their configured schedules",
		Args:  cobra.NoArgs,
		RunE: func(c *cobra.Command, args []string) error {
			return cmd.RunDaemon(c.Context(), options(v))
		},
	}
	c.Flags().Bool("no-hooks", false, "Do not run pre/post sync hooks")
	return c
}

func newInitCmd(v *viper.Viper) *cobra.Command {
	c := &cobra.Command{
		Use:   "init",
		Short: "Write a starter " + config.DefaultFileName,
		Args:  cobra.NoArgs,
		RunE: func(c *cobra.Command, args []string) error {
			force, _ := c.Flags().GetBool("force")
			return cmd.RunInit(c.Context(), options(v), force)
		},
	}
	c.Flags().Bool("force", false, "Overwrite an existing configuration without asking")
	return c
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the application version",
		Args:  cobra.NoArgs,
		RunE: func(c *cobra.Command, args []string) error {
			return cmd.RunVersion(c.OutOrStdout(), buildinfo.Name, version)
		},
	}
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	return v
}

// run executes the command line and returns an error if something goes
// wrong, allowing main to handle exit codes.
func run(ctx context.Context, args []string, stdout io.Writer) error {
	root := newRootCmd(newViper())
	root.SetArgs(args)
	root.SetOut(stdout)
	return root.ExecuteContext(ctx)
}

func main() {
	// Setup root context with signal handling
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout); err != nil {
		if errors.Is(err, cmd.ErrSyncFailed) {
			plog.Warn(buildinfo.Name+" sync did not complete", "error", err)
		} else {
			plog.Error(buildinfo.Name+" exited with error", "error", err)
		}
		os.Exit(1)
	}
}
