package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
)

// ErrHistoryDisabled is returned by RunHistory when no history directory is configured.
var ErrHistoryDisabled = errors.New("history is disabled, set --history-dir")

// RunHistory prints the last runs of a mirror, oldest first.
func RunHistory(ctx context.Context, opts Options, name string, last int, w io.Writer) error {
	if name == "" {
		return fmt.Errorf("the --mirror flag is required to show history")
	}
	cfg, err := loadConfig(opts)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if _, err := cfg.Mirror(name); err != nil {
		return err
	}

	history, err := newHistory(opts)
	if err != nil {
		return err
	}
	if history == nil {
		return ErrHistoryDisabled
	}

	entries, err := history.Read(name, last)
	if err != nil {
		return fmt.Errorf("failed to read history: %w", err)
	}
	if len(entries) == 0 {
		fmt.Fprintf(w, "No runs recorded for mirror '%s'.\n", name)
		return nil
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "STARTED\tSTATUS\tEXIT\tDURATION\tFILES\tTRANSFERRED\tRECEIVED\tDRY RUN\tRUN ID")
	for _, e := range entries {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		fmt.Fprintf(tw, "%s (%s)\t%s\t%s\t%.2fs\t%s\t%s\t%s\t%t\t%s\n",
			e.Timestamp, relativeTime(e.Timestamp),
			e.Status,
			optionalInt(e.ExitStatus),
			e.DurationSeconds,
			optionalCount(e.FilesTransferred),
			optionalString(e.BytesTransferred),
			optionalBytes(e.BytesReceived),
			e.DryRun,
			e.RunID)
	}
	return tw.Flush()
}

func optionalInt(v *int) string {
	if v == nil {
		return "-"
	}
	return fmt.Sprint(*v)
}

func optionalCount(v *int64) string {
	if v == nil {
		return "-"
	}
	return humanize.Comma(*v)
}

func optionalBytes(v *int64) string {
	if v == nil || *v < 0 {
		return "-"
	}
	return humanize.Bytes(uint64(*v))
}

func optionalString(v *string) string {
	if v == nil {
		return "-"
	}
	return *v
}

