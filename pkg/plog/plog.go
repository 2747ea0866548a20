package plog

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/lmittmann/tint"
	"github.com/mattn/go-isatty"
)

// Level mirrors slog.Level and adds a NOTICE level between DEBUG and INFO.
type Level slog.Level

const (
	LevelDebug  Level = Level(slog.LevelDebug)
	LevelNotice Level = Level(slog.LevelDebug + 2)
	LevelInfo   Level = Level(slog.LevelInfo)
	LevelWarn   Level = Level(slog.LevelWarn)
	LevelError  Level = Level(slog.LevelError)
)

// String returns the upper-case name used in log output.
func (l Level) String() string {
	if l == LevelNotice {
		return "NOTICE"
	}
	return slog.Level(l).String()
}

// LevelFromString parses a level name. Unknown names fall back to INFO.
func LevelFromString(s string) Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LevelDebug
	case "notice":
		return LevelNotice
	case "warn", "warning":
		return LevelWarn
	case "error":
		return LevelError
	default:
		return LevelInfo
	}
}

// LevelDispatchHandler is a slog.Handler that writes log records to different
// handlers based on the record's level. INFO and below go to one handler,
// while WARNING and above go to another.
type LevelDispatchHandler struct {
	stdoutHandler slog.Handler
	stderrHandler slog.Handler
}

// Enabled checks if the level is enabled for either of the underlying handlers.
func (h *LevelDispatchHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.stdoutHandler.Enabled(ctx, level) || h.stderrHandler.Enabled(ctx, level)
}

// Handle dispatches the record to the appropriate handler.
func (h *LevelDispatchHandler) Handle(ctx context.Context, r slog.Record) error {
	if r.Level >= slog.LevelWarn {
		return h.stderrHandler.Handle(ctx, r)
	}
	return h.stdoutHandler.Handle(ctx, r)
}

// WithAttrs returns a new LevelDispatchHandler with the given attributes added.
func (h *LevelDispatchHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &LevelDispatchHandler{
		stdoutHandler: h.stdoutHandler.WithAttrs(attrs),
		stderrHandler: h.stderrHandler.WithAttrs(attrs),
	}
}

// WithGroup returns a new LevelDispatchHandler with the given group.
func (h *LevelDispatchHandler) WithGroup(name string) slog.Handler {
	return &LevelDispatchHandler{
		stdoutHandler: h.stdoutHandler.WithGroup(name),
		stderrHandler: h.stderrHandler.WithGroup(name),
	}
}

var (
	defaultLogger *slog.Logger
	level         = new(slog.LevelVar)
)

// replaceLevel renders the custom NOTICE level by name instead of "DEBUG+2".
func replaceLevel(groups []string, a slog.Attr) slog.Attr {
	if a.Key == slog.LevelKey && len(groups) == 0 {
		if lvl, ok := a.Value.Any().(slog.Level); ok {
			a.Value = slog.StringValue(Level(lvl).String())
		}
	}
	return a
}

func newConsoleHandler(f *os.File) slog.Handler {
	return tint.NewHandler(f, &tint.Options{
		Level:       level,
		TimeFormat:  time.DateTime,
		NoColor:     !isatty.IsTerminal(f.Fd()),
		ReplaceAttr: replaceLevel,
	})
}

func init() {
	level.Set(slog.LevelInfo)
	defaultLogger = slog.New(&LevelDispatchHandler{
		stdoutHandler: newConsoleHandler(os.Stdout),
		stderrHandler: newConsoleHandler(os.Stderr),
	})
}

// SetOutput redirects all levels to a single plain-text writer, primarily for testing.
func SetOutput(w io.Writer) {
	defaultLogger = slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{
		Level:       level,
		ReplaceAttr: replaceLevel,
	}))
}

// SetLevel sets the minimum level of the global logger.
func SetLevel(l Level) {
	level.Set(slog.Level(l))
}

// Default returns the underlying logger.
func Default() *slog.Logger {
	return defaultLogger
}

// Debug logs a debug message.
func Debug(msg string, args ...any) {
	defaultLogger.Debug(msg, args...)
}

// Notice logs a message that is more detailed than INFO but still useful to operators.
func Notice(msg string, args ...any) {
	defaultLogger.Log(context.Background(), slog.Level(LevelNotice), msg, args...)
}

// Info logs an informational message.
func Info(msg string, args ...any) {
	defaultLogger.Info(msg, args...)
}

// Warn logs a warning message.
func Warn(msg string, args ...any) {
	defaultLogger.Warn(msg, args...)
}

// Error logs an error message.
func Error(msg string, args ...any) {
	defaultLogger.Error(msg, args...)
}
