package cmd

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/paulschiretz/pgl-mirror/pkg/plog"
	"github.com/paulschiretz/pgl-mirror/pkg/runlog"
)

// RunList prints the configured mirrors and, when a history is configured,
// the outcome of each mirror's last run.
func RunList(ctx context.Context, opts Options, w io.Writer) error {
	cfg, err := loadConfig(opts)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	history, err := newHistory(opts)
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tUPSTREAM\tLOCAL PATH\tSCHEDULE\tLAST RUN")
	for _, name := range cfg.Names() {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		m := cfg.Mirrors[name]
		schedule := m.Schedule
		if schedule == "" {
			schedule = "-"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", name, m.Upstream, m.LocalPath, schedule, lastRun(history, name))
	}
	return tw.Flush()
}

// lastRun summarizes the newest history entry, e.g. "completed 3 hours ago".
func lastRun(history *runlog.History, name string) string {
	if history == nil {
		return "-"
	}
	entries, err := history.Read(name, 1)
	if err != nil {
		plog.Warn("Could not read history", "mirror", name, "error", err)
		return "?"
	}
	if len(entries) == 0 {
		return "never"
	}
	last := entries[0]
	return fmt.Sprintf("%s %s", last.Status, relativeTime(last.Timestamp))
}

func relativeTime(timestamp string) string {
	t, err := time.Parse(time.RFC3339, timestamp)
	if err != nil {
		return timestamp
	}
	return humanize.Time(t)
}
