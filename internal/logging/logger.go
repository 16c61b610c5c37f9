// Package logging provides structured logging with file and console
// output plus a bounded in-memory history the gateway can stream.
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Entry is one captured log line, shaped for the UI log panel.
type Entry struct {
	Timestamp string `json:"timestamp"`
	Level     string `json:"level"`
	Component string `json:"component"`
	Message   string `json:"message"`
}

// Config holds logger configuration.
type Config struct {
	LogDir     string // default: ~/.voicetwin/logs
	Level      string // debug, info, warn, error (default: debug)
	MaxHistory int    // default: 500
	Console    bool   // also log to console (default: true)
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	home, _ := os.UserHomeDir()
	return &Config{
		LogDir:     filepath.Join(home, ".voicetwin", "logs"),
		Level:      "debug",
		MaxHistory: 500,
		Console:    true,
	}
}

// Logger wraps zerolog with a log file and in-memory history.
type Logger struct {
	base    zerolog.Logger // no history hook; Component and Zerolog derive from it
	zlog    zerolog.Logger
	file    *os.File
	logPath string

	mu      sync.RWMutex
	history []Entry
	maxHist int
	onEntry func(Entry)
}

// New creates a Logger writing to a date-stamped file under LogDir.
func New(cfg *Config) (*Logger, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	if err := os.MkdirAll(cfg.LogDir, 0o755); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}

	logPath := filepath.Join(cfg.LogDir, fmt.Sprintf("voicetwin_%s.log", time.Now().Format("2006-01-02")))
	file, err := os.OpenFile(logPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}

	writers := []io.Writer{file}
	if cfg.Console {
		writers = append(writers, zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: "15:04:05"})
	}

	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.DebugLevel
	}
	zerolog.SetGlobalLevel(level)

	l := &Logger{
		file:    file,
		logPath: logPath,
		history: make([]Entry, 0, cfg.MaxHistory),
		maxHist: cfg.MaxHistory,
	}
	l.base = zerolog.New(io.MultiWriter(writers...)).With().
		Timestamp().
		Str("app", "voicetwin").
		Logger()
	l.zlog = l.base.Hook(historyHook{l: l})

	l.zlog.Info().Str("logFile", logPath).Msg("Logger initialized")
	return l, nil
}

// Component returns a child logger with the component field set. Its
// history hook carries the component name so the log panel can show it.
func (l *Logger) Component(name string) zerolog.Logger {
	child := l.base.With().Str("component", name).Logger()
	return child.Hook(historyHook{l: l, component: name})
}

// Zerolog returns the underlying zerolog.Logger.
func (l *Logger) Zerolog() zerolog.Logger {
	return l.zlog
}

// SetLevel changes the log level at runtime. Unknown level names are
// ignored, keeping the current level.
func (l *Logger) SetLevel(level string) {
	lv, err := zerolog.ParseLevel(level)
	if err != nil {
		l.zlog.Warn().Str("level", level).Msg("Unknown log level, keeping current")
		return
	}
	zerolog.SetGlobalLevel(lv)
	l.zlog.Info().Str("level", lv.String()).Msg("Log level changed")
}

// SetOnEntry sets a callback invoked for every captured entry.
func (l *Logger) SetOnEntry(fn func(Entry)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.onEntry = fn
}

// History returns up to limit recent entries, oldest first.
func (l *Logger) History(limit int) []Entry {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if limit <= 0 || limit > len(l.history) {
		limit = len(l.history)
	}
	out := make([]Entry, limit)
	copy(out, l.history[len(l.history)-limit:])
	return out
}

// Path returns the current log file path.
func (l *Logger) Path() string {
	return l.logPath
}

// Close flushes and closes the log file.
func (l *Logger) Close() error {
	l.zlog.Info().Msg("Logger shutting down")
	if l.file != nil {
		return l.file.Close()
	}
	return nil
}

func (l *Logger) record(e Entry) {
	l.mu.Lock()
	l.history = append(l.history, e)
	if len(l.history) > l.maxHist {
		l.history = l.history[len(l.history)-l.maxHist:]
	}
	fn := l.onEntry
	l.mu.Unlock()
	if fn != nil {
		go fn(e)
	}
}

// historyHook mirrors every emitted event into the in-memory history.
// Hooks cannot read fields off the event, so the component name is baked
// into the hook when the child logger is created.
type historyHook struct {
	l         *Logger
	component string
}

func (h historyHook) Run(e *zerolog.Event, level zerolog.Level, msg string) {
	if level == zerolog.NoLevel || msg == "" {
		return
	}
	h.l.record(Entry{
		Timestamp: time.Now().Format("15:04:05.000"),
		Level:     level.String(),
		Component: h.component,
		Message:   msg,
	})
}
