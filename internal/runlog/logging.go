// Package runlog builds the run logger: a file sink that keeps everything
// from the configured level (endings included by default) and a console
// sink that only shows errors.
package runlog

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/fatih/color"
)

// LevelEnding sits between debug and info and marks every reached ending.
const LevelEnding = slog.Level(-2)

type Options struct {
	Level  string
	Format string
	// File is the path of the run log. Empty disables the file sink.
	File string
	// Console receives error records. Nil disables the console sink.
	Console io.Writer
	Color   bool
	// Stream receives every record at Level, like the file sink. Used by
	// long running processes that log to stderr.
	Stream io.Writer
}

// Logger is a slog.Logger that owns the sinks it writes to.
type Logger struct {
	*slog.Logger
	closers []io.Closer
}

func New(opts Options) (*Logger, error) {
	l := &Logger{}
	var handlers []slog.Handler
	if opts.File != "" {
		f, err := os.OpenFile(opts.File, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, err
		}
		l.closers = append(l.closers, f)
		handlers = append(handlers, newHandler(f, opts.Format, ParseLevel(opts.Level)))
	}
	if opts.Stream != nil {
		handlers = append(handlers, newHandler(opts.Stream, opts.Format, ParseLevel(opts.Level)))
	}
	if opts.Console != nil {
		red := color.New(color.FgRed)
		if opts.Color {
			red.EnableColor()
		} else {
			red.DisableColor()
		}
		handlers = append(handlers, newHandler(colorWriter{opts.Console, red}, "text", slog.LevelError))
	}
	l.Logger = slog.New(fanout(handlers))
	return l, nil
}

// Close flushes and closes the file sink. It is safe to call twice.
func (l *Logger) Close() error {
	var errs []error
	for _, c := range l.closers {
		errs = append(errs, c.Close())
	}
	l.closers = nil
	return errors.Join(errs...)
}

// With returns a Logger that adds args to every record. The child shares
// the parent's sinks; only the parent closes them.
func (l *Logger) With(args ...any) *Logger {
	return &Logger{Logger: l.Logger.With(args...)}
}

// Ending logs at LevelEnding.
func (l *Logger) Ending(msg string, args ...any) {
	l.Log(context.Background(), LevelEnding, msg, args...)
}

func ParseLevel(raw string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug":
		return slog.LevelDebug
	case "ending", "":
		return LevelEnding
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func levelName(l slog.Level) string {
	if l == LevelEnding {
		return "ENDING"
	}
	return l.String()
}

// colorWriter paints each record it receives.
type colorWriter struct {
	w io.Writer
	c *color.Color
}

func (cw colorWriter) Write(p []byte) (int, error) {
	line := strings.TrimSuffix(string(p), "\n")
	if _, err := cw.c.Fprintln(cw.w, line); err != nil {
		return 0, err
	}
	return len(p), nil
}

func newHandler(w io.Writer, format string, level slog.Level) slog.Handler {
	opts := &slog.HandlerOptions{
		Level: level,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key != slog.LevelKey || len(groups) > 0 {
				return a
			}
			lvl, ok := a.Value.Any().(slog.Level)
			if !ok {
				return a
			}
			return slog.String(slog.LevelKey, levelName(lvl))
		},
	}
	if strings.EqualFold(strings.TrimSpace(format), "json") {
		return slog.NewJSONHandler(w, opts)
	}
	return slog.NewTextHandler(w, opts)
}

// multi sends each record to every handler that accepts its level.
type multi []slog.Handler

func fanout(hs []slog.Handler) slog.Handler { return multi(hs) }

func (m multi) Enabled(ctx context.Context, level slog.Level) bool {
	for _, h := range m {
		if h.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (m multi) Handle(ctx context.Context, r slog.Record) error {
	var errs []error
	for _, h := range m {
		if h.Enabled(ctx, r.Level) {
			errs = append(errs, h.Handle(ctx, r.Clone()))
		}
	}
	return errors.Join(errs...)
}

func (m multi) WithAttrs(attrs []slog.Attr) slog.Handler {
	out := make(multi, len(m))
	for i, h := range m {
		out[i] = h.WithAttrs(attrs)
	}
	return out
}

func (m multi) WithGroup(name string) slog.Handler {
	out := make(multi, len(m))
	for i, h := range m {
		out[i] = h.WithGroup(name)
	}
	return out
}
