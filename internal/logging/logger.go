// v1
// internal/logging/logger.go
package logging

import (
	"context"
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// Init builds the service logger. Entries fan out to stdout and to
// <dir>/housebrain.log; when the file cannot be opened the logger falls back to
// stdout only. The returned writer carries the same fan-out so access logs and
// the stdlib logger land in the same places.
func Init(dir, level string) (*slog.Logger, io.Writer, func() error) {
	return InitConsole(os.Stdout, dir, level)
}

// InitConsole is Init with console in place of stdout. One-shot commands pass
// os.Stderr so their stdout carries only command output.
func InitConsole(console io.Writer, dir, level string) (*slog.Logger, io.Writer, func() error) {
	lvl := ParseLevel(level)
	opts := &slog.HandlerOptions{Level: lvl}
	if strings.TrimSpace(dir) == "" {
		dir = "./logs"
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		lg := slog.New(slog.NewTextHandler(console, opts))
		lg.Error("log_dir_create_failed", "dir", dir, "error", err)
		return lg, console, func() error { return nil }
	}
	fp := filepath.Join(dir, "housebrain.log")
	f, err := os.OpenFile(fp, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		lg := slog.New(slog.NewTextHandler(console, opts))
		lg.Error("log_file_open_failed", "path", fp, "error", err)
		return lg, console, func() error { return nil }
	}
	lg := New(opts, console, f)
	mw := io.MultiWriter(console, f)
	log.SetOutput(mw)
	return lg, mw, f.Close
}

// New returns a logger writing text records to every writer.
func New(opts *slog.HandlerOptions, writers ...io.Writer) *slog.Logger {
	handlers := make([]slog.Handler, 0, len(writers))
	for _, w := range writers {
		handlers = append(handlers, slog.NewTextHandler(w, opts))
	}
	if len(handlers) == 1 {
		return slog.New(handlers[0])
	}
	return slog.New(&teeHandler{handlers: handlers})
}

// Discard is the logger used by tests and by callers that pass nil.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// ParseLevel maps debug/info/warn/error to a slog level. Unknown values mean info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// StdLogger adapts lg to the Println-style interface some middlewares expect.
func StdLogger(lg *slog.Logger, level slog.Level) *log.Logger {
	return slog.NewLogLogger(lg.Handler(), level)
}

type teeHandler struct {
	handlers []slog.Handler
}

func (t *teeHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, h := range t.handlers {
		if h.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (t *teeHandler) Handle(ctx context.Context, record slog.Record) error {
	var firstErr error
	for _, h := range t.handlers {
		if !h.Enabled(ctx, record.Level) {
			continue
		}
		if err := h.Handle(ctx, record.Clone()); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("tee handler: %w", err)
		}
	}
	return firstErr
}

func (t *teeHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := make([]slog.Handler, 0, len(t.handlers))
	for _, h := range t.handlers {
		next = append(next, h.WithAttrs(attrs))
	}
	return &teeHandler{handlers: next}
}

func (t *teeHandler) WithGroup(name string) slog.Handler {
	next := make([]slog.Handler, 0, len(t.handlers))
	for _, h := range t.handlers {
		next = append(next, h.WithGroup(name))
	}
	return &teeHandler{handlers: next}
}
