// Package runlog mirrors a run's log records to the console, an append-only
// log file and a separate append-only error file.
package runlog

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
)

type Options struct {
	// Console receives every record; usually built by pkg/logger.
	Console   slog.Handler
	LogFile   string
	ErrorFile string
	Level     slog.Leveler
	// Stderr receives file I/O failures. Defaults to os.Stderr.
	Stderr io.Writer
}

// Logger is a *slog.Logger whose records also land in the run's log files.
// Logging never fails from the caller's point of view.
type Logger struct {
	*slog.Logger
	files []*appendFile
}

func New(opts Options) *Logger {
	if opts.Stderr == nil {
		opts.Stderr = os.Stderr
	}
	level := opts.Level
	if level == nil {
		level = slog.LevelInfo
	}

	var handlers []slog.Handler
	var files []*appendFile

	if opts.Console != nil {
		handlers = append(handlers, opts.Console)
	}
	if opts.LogFile != "" {
		f := &appendFile{path: opts.LogFile, stderr: opts.Stderr}
		files = append(files, f)
		handlers = append(handlers, slog.NewTextHandler(f, &slog.HandlerOptions{
			Level:       level,
			ReplaceAttr: expandError,
		}))
	}
	if opts.ErrorFile != "" {
		f := &appendFile{path: opts.ErrorFile, stderr: opts.Stderr}
		files = append(files, f)
		handlers = append(handlers, slog.NewTextHandler(f, &slog.HandlerOptions{
			Level:       slog.LevelError,
			ReplaceAttr: expandError,
		}))
	}

	return &Logger{
		Logger: slog.New(fanout(handlers)),
		files:  files,
	}
}

// Log writes an informational line.
func (l *Logger) Log(msg string, args ...any) {
	l.Logger.Info(msg, args...)
}

// Fail writes an error line with the failure's detail to every sink,
// including the error file.
func (l *Logger) Fail(msg string, err error, args ...any) {
	l.Logger.Error(msg, append([]any{"error", err}, args...)...)
}

// Close flushes and closes the log files.
func (l *Logger) Close() error {
	var errs []error
	for _, f := range l.files {
		if err := f.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// expandError renders an error attribute with its unwrap chain so the
// error file carries more than the top-level message.
func expandError(_ []string, a slog.Attr) slog.Attr {
	if a.Key != "error" {
		return a
	}
	err, ok := a.Value.Any().(error)
	if !ok || err == nil {
		return a
	}

	attrs := []any{"message", err.Error(), "type", fmt.Sprintf("%T", err)}
	root := err
	for {
		next := errors.Unwrap(root)
		if next == nil {
			break
		}
		root = next
	}
	if root != err {
		attrs = append(attrs, "cause", root.Error(), "cause_type", fmt.Sprintf("%T", root))
	}
	return slog.Group("error", attrs...)
}

type fanoutHandler struct {
	handlers []slog.Handler
}

func fanout(handlers []slog.Handler) slog.Handler {
	return &fanoutHandler{handlers: handlers}
}

func (f *fanoutHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, h := range f.handlers {
		if h.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (f *fanoutHandler) Handle(ctx context.Context, r slog.Record) error {
	for _, h := range f.handlers {
		if !h.Enabled(ctx, r.Level) {
			continue
		}
		_ = h.Handle(ctx, r.Clone())
	}
	return nil
}

func (f *fanoutHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := make([]slog.Handler, len(f.handlers))
	for i, h := range f.handlers {
		next[i] = h.WithAttrs(attrs)
	}
	return &fanoutHandler{handlers: next}
}

func (f *fanoutHandler) WithGroup(name string) slog.Handler {
	next := make([]slog.Handler, len(f.handlers))
	for i, h := range f.handlers {
		next[i] = h.WithGroup(name)
	}
	return &fanoutHandler{handlers: next}
}

// appendFile opens lazily, creating parent directories, and reports the
// first I/O failure to stderr before going quiet.
type appendFile struct {
	path     string
	stderr   io.Writer
	mu       sync.Mutex
	file     *os.File
	reported bool
}

func (a *appendFile) Write(p []byte) (int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.file == nil {
		if err := os.MkdirAll(filepath.Dir(a.path), 0o755); err != nil {
			a.report(err)
			return len(p), nil
		}
		f, err := os.OpenFile(a.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			a.report(err)
			return len(p), nil
		}
		a.file = f
	}

	if _, err := a.file.Write(p); err != nil {
		a.report(err)
	}
	return len(p), nil
}

func (a *appendFile) report(err error) {
	if a.reported {
		return
	}
	a.reported = true
	fmt.Fprintf(a.stderr, "runlog: cannot write %s: %v\n", a.path, err)
}

func (a *appendFile) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.file == nil {
		return nil
	}
	if err := a.file.Sync(); err != nil {
		a.report(err)
	}
	err := a.file.Close()
	a.file = nil
	return err
}
