package logger

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Config describes how the application logger should behave.
type Config struct {
	Level       string      `json:"level"`
	Format      string      `json:"format"`
	OutputPaths []string    `json:"output_paths"`
	Audit       AuditConfig `json:"audit"`
}

// AuditConfig controls the audit trail of chain switches, additions,
// removals and submitted transactions.
type AuditConfig struct {
	Enabled    bool   `json:"enabled"`
	Path       string `json:"path"`
	MaxSizeMB  int    `json:"max_size_mb"`
	MaxBackups int    `json:"max_backups"`
	MaxAgeDays int    `json:"max_age_days"`
	Compress   bool   `json:"compress"`
}

// loggers is the configuration installed by the last Init call.
type loggers struct {
	app     *slog.Logger
	audit   *slog.Logger
	closers []io.Closer
}

var (
	mu      sync.Mutex
	current *loggers
)

// Init configures the global logger instances. Calling it again replaces the
// previous configuration and closes its files.
func Init(cfg Config) error {
	next, err := build(cfg)
	if err != nil {
		return err
	}
	mu.Lock()
	previous := current
	current = next
	mu.Unlock()

	if previous == nil {
		return nil
	}
	return closeAll(previous.closers)
}

func build(cfg Config) (*loggers, error) {
	l := &loggers{}
	writers := make([]io.Writer, 0, len(cfg.OutputPaths))
	for _, out := range cfg.OutputPaths {
		w, err := openOutput(out)
		if err != nil {
			closeAll(l.closers)
			return nil, err
		}
		if c, ok := w.(io.Closer); ok && w != os.Stdout && w != os.Stderr {
			l.closers = append(l.closers, c)
		}
		writers = append(writers, w)
	}

	var out io.Writer = os.Stdout
	if len(writers) == 1 {
		out = writers[0]
	} else if len(writers) > 1 {
		out = io.MultiWriter(writers...)
	}

	opts := &slog.HandlerOptions{Level: parseLevel(cfg.Level), AddSource: true}
	if strings.EqualFold(cfg.Format, "text") {
		l.app = slog.New(slog.NewTextHandler(out, opts))
	} else {
		l.app = slog.New(slog.NewJSONHandler(out, opts))
	}

	l.audit = l.app.With("stream", "audit")
	if cfg.Audit.Enabled {
		if cfg.Audit.Path == "" {
			closeAll(l.closers)
			return nil, errors.New("audit log path cannot be empty when enabled")
		}
		if err := os.MkdirAll(filepath.Dir(cfg.Audit.Path), 0o755); err != nil {
			closeAll(l.closers)
			return nil, fmt.Errorf("create audit log directory: %w", err)
		}
		rotating := &lumberjack.Logger{
			Filename:   cfg.Audit.Path,
			MaxSize:    orDefault(cfg.Audit.MaxSizeMB, 100),
			MaxBackups: orDefault(cfg.Audit.MaxBackups, 7),
			MaxAge:     orDefault(cfg.Audit.MaxAgeDays, 30),
			Compress:   cfg.Audit.Compress,
		}
		l.closers = append(l.closers, rotating)
		l.audit = slog.New(slog.NewJSONHandler(rotating, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}
	return l, nil
}

func openOutput(path string) (io.Writer, error) {
	switch strings.ToLower(path) {
	case "", "stdout":
		return os.Stdout, nil
	case "stderr":
		return os.Stderr, nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log file %s: %w", path, err)
	}
	return file, nil
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
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

func orDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

func closeAll(list []io.Closer) error {
	var err error
	for _, c := range list {
		err = errors.Join(err, c.Close())
	}
	return err
}

func installed() *loggers {
	mu.Lock()
	l := current
	mu.Unlock()
	if l != nil {
		return l
	}
	_ = Init(Config{})
	mu.Lock()
	defer mu.Unlock()
	return current
}

// L returns the structured logger instance.
func L() *slog.Logger {
	return installed().app
}

// Audit returns the audit logger. Without a configured audit file it writes
// to the application logger tagged stream=audit.
func Audit() *slog.Logger {
	return installed().audit
}

// Sync flushes and closes file outputs.
func Sync() error {
	mu.Lock()
	l := current
	var list []io.Closer
	if l != nil {
		list, l.closers = l.closers, nil
	}
	mu.Unlock()
	return closeAll(list)
}

// Named returns a child logger tagged with the component name.
func Named(name string) *slog.Logger {
	return L().With("component", name)
}

// ForChain returns a child logger tagged with the chain id.
func ForChain(l *slog.Logger, chainID string) *slog.Logger {
	if l == nil {
		l = L()
	}
	return l.With("chain_id", chainID)
}

// Discard returns a logger that drops every record.
func Discard() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}
