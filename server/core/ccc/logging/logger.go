package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

type Logger interface {
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
	Debug(msg string, args ...any)
}

type LogLevel string

const (
	LogLevelDebug LogLevel = "debug"
	LogLevelInfo  LogLevel = "info"
	LogLevelWarn  LogLevel = "warn"
	LogLevelError LogLevel = "error"
)

// ParseLogLevel maps a configured level name onto a LogLevel.
// Unknown or empty names fall back to info.
func ParseLogLevel(name string) LogLevel {
	switch LogLevel(strings.ToLower(strings.TrimSpace(name))) {
	case LogLevelDebug:
		return LogLevelDebug
	case LogLevelWarn:
		return LogLevelWarn
	case LogLevelError:
		return LogLevelError
	default:
		return LogLevelInfo
	}
}

func (l LogLevel) slogLevel() slog.Level {
	switch l {
	case LogLevelDebug:
		return slog.LevelDebug
	case LogLevelWarn:
		return slog.LevelWarn
	case LogLevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// dailyRotatingWriter opens one log file per local calendar day, named
// <prefix>-YYYY-MM-DD.log inside dir.
type dailyRotatingWriter struct {
	dir     string
	prefix  string
	file    *os.File
	day     string
	mu      sync.Mutex
	nowFunc func() time.Time
}

func newDailyRotatingWriter(dir, prefix string) *dailyRotatingWriter {
	return &dailyRotatingWriter{
		dir:     dir,
		prefix:  prefix,
		nowFunc: time.Now,
	}
}

func (w *dailyRotatingWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	day := w.nowFunc().Format("2006-01-02")
	if w.file == nil || w.day != day {
		if err := w.openDay(day); err != nil {
			return 0, err
		}
	}

	return w.file.Write(p)
}

func (w *dailyRotatingWriter) openDay(day string) error {
	if w.file != nil {
		w.file.Close()
		w.file = nil
	}

	path := filepath.Join(w.dir, fmt.Sprintf("%s-%s.log", w.prefix, day))
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
	if err != nil {
		return err
	}

	w.file = file
	w.day = day
	return nil
}

func (w *dailyRotatingWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.file == nil {
		return nil
	}
	err := w.file.Close()
	w.file = nil
	return err
}

// CreateLogger returns a JSON logger writing into daily files under logDir.
// When logDir cannot be created the logger writes to stdout instead.
func CreateLogger(level LogLevel, logDir string, service string) Logger {
	if err := os.MkdirAll(logDir, 0750); err != nil {
		return NewWriterLogger(level, os.Stdout)
	}
	return NewWriterLogger(level, newDailyRotatingWriter(logDir, service))
}

// NewWriterLogger returns a JSON logger writing to w.
func NewWriterLogger(level LogLevel, w io.Writer) Logger {
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: level.slogLevel(),
	}))
}

type nopLogger struct{}

// NopLogger discards everything. Services fall back to it when constructed without a logger.
var NopLogger Logger = &nopLogger{}

func (l *nopLogger) Info(msg string, args ...any)  {}
func (l *nopLogger) Warn(msg string, args ...any)  {}
func (l *nopLogger) Error(msg string, args ...any) {}
func (l *nopLogger) Debug(msg string, args ...any) {}
