// Package logging builds the structured logger handed to every digin
// component. There is no package-level logger: callers construct one per
// run and pass it down explicitly.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// LogFileName is the file created inside Config.Dir.
const LogFileName = "digin.log"

// Config configures a Logger. The zero value logs Info and above to stderr
// as text.
type Config struct {
	// Level is one of debug, info, warn, error (default info).
	Level string
	// Dir, when set, adds a JSON log file at Dir/digin.log.
	Dir string
	// JSON switches the console handler to JSON.
	JSON bool
	// Quiet drops the console handler entirely.
	Quiet bool
	// Console overrides stderr, mainly for tests.
	Console io.Writer
}

// Logger wraps slog.Logger with ownership of its log file.
type Logger struct {
	*slog.Logger

	mu   sync.Mutex
	file *os.File
}

// New constructs a Logger from cfg.
func New(cfg Config) (*Logger, error) {
	level, err := ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}
	opts := &slog.HandlerOptions{Level: level}

	var handlers []slog.Handler
	if !cfg.Quiet {
		console := cfg.Console
		if console == nil {
			console = os.Stderr
		}
		if cfg.JSON {
			handlers = append(handlers, slog.NewJSONHandler(console, opts))
		} else {
			handlers = append(handlers, slog.NewTextHandler(console, opts))
		}
	}

	l := &Logger{}
	if cfg.Dir != "" {
		if err := os.MkdirAll(cfg.Dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create log directory: %w", err)
		}
		f, err := os.OpenFile(filepath.Join(cfg.Dir, LogFileName), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file: %w", err)
		}
		l.file = f
		handlers = append(handlers, slog.NewJSONHandler(f, &slog.HandlerOptions{Level: slog.LevelDebug}))
	}

	switch len(handlers) {
	case 0:
		l.Logger = Discard()
	case 1:
		l.Logger = slog.New(handlers[0])
	default:
		l.Logger = slog.New(&fanout{handlers: handlers})
	}
	return l, nil
}

// Close releases the log file, if any. Safe to call more than once.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	return err
}

// Discard returns a logger that drops everything.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError + 1}))
}

// OrDiscard returns l, or a discard logger when l is nil.
func OrDiscard(l *slog.Logger) *slog.Logger {
	if l == nil {
		return Discard()
	}
	return l
}

// ParseLevel maps a level name onto slog.Level.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "info":
		return slog.LevelInfo, nil
	case "debug":
		return slog.LevelDebug, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return slog.LevelInfo, fmt.Errorf("unknown log level %q", s)
}
