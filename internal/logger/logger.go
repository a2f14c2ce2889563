// Package logger provides BackFS's structured logging, used by cmd: a
// package-level, level-filtered logger configurable between text and json
// output, with an optional file sink that rotates via lumberjack.
package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
)

// Severity names, ordered from most to least verbose. These mirror the
// levels an operator picks in configuration; OFF disables logging entirely.
const (
	TRACE   = "TRACE"
	DEBUG   = "DEBUG"
	INFO    = "INFO"
	WARNING = "WARNING"
	ERROR   = "ERROR"
	OFF     = "OFF"
)

// Exported slog levels for each severity. LevelTrace sits below slog's
// built-in Debug so verbose engine tracing (every block fetched, every
// link replaced) can be filtered out independently of ordinary debug
// logging; LevelOff sits above Error so nothing at all passes through.
const (
	LevelTrace = slog.LevelDebug - 4
	LevelDebug = slog.LevelDebug
	LevelInfo  = slog.LevelInfo
	LevelWarn  = slog.LevelWarn
	LevelError = slog.LevelError
	LevelOff   = slog.LevelError + 4
)

var severityRanking = map[string]slog.Level{
	TRACE:   LevelTrace,
	DEBUG:   LevelDebug,
	INFO:    LevelInfo,
	WARNING: LevelWarn,
	ERROR:   LevelError,
	OFF:     LevelOff,
}

// textTimeFormat produces a fixed-width 26-character timestamp for text
// output, e.g. "2026/07/31 10:04:05.123456".
const textTimeFormat = "2006/01/02 15:04:05.000000"

type loggerFactory struct {
	format string
}

func (f *loggerFactory) createJsonOrTextHandler(w io.Writer, level *slog.LevelVar, prefix string) slog.Handler {
	return &textOrJSONHandler{w: w, level: level, format: f.format, prefix: prefix}
}

var (
	defaultLoggerFactory = &loggerFactory{format: "text"}
	defaultLogger        = slog.New(defaultLoggerFactory.createJsonOrTextHandler(os.Stderr, new(slog.LevelVar), ""))
	closer                io.Closer
)

// Config controls how Init sets up the package-level logger.
type Config struct {
	// Format is "text" or "json".
	Format string
	// Severity is one of the severity constants above.
	Severity string
	// FilePath, if non-empty, sends output to a rotated file instead of
	// stderr.
	FilePath string
	// MaxSizeMB, MaxBackups and MaxAgeDays configure rotation, passed
	// straight through to lumberjack; zero means its defaults.
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

// Init (re)configures the package-level logger. It is safe to call again
// later, e.g. if configuration is reloaded; the previous file sink, if
// any, is closed first.
func Init(cfg Config) error {
	if closer != nil {
		_ = closer.Close()
		closer = nil
	}

	var w io.Writer = os.Stderr
	if cfg.FilePath != "" {
		rotated := newRotatingWriter(cfg.FilePath, cfg.MaxSizeMB, cfg.MaxBackups, cfg.MaxAgeDays)
		async := NewAsyncLogger(rotated, 4096)
		w = async
		closer = async
	}

	format := cfg.Format
	if format == "" {
		format = "text"
	}
	defaultLoggerFactory = &loggerFactory{format: format}

	level := new(slog.LevelVar)
	setLoggingLevel(cfg.Severity, level)

	defaultLogger = slog.New(defaultLoggerFactory.createJsonOrTextHandler(w, level, ""))
	return nil
}

func setLoggingLevel(severity string, level *slog.LevelVar) {
	l, ok := severityRanking[severity]
	if !ok {
		l = severityRanking[INFO]
	}
	level.Set(l)
}

func severityName(level slog.Level) string {
	switch {
	case level < LevelDebug:
		return TRACE
	case level < LevelInfo:
		return DEBUG
	case level < LevelWarn:
		return INFO
	case level < LevelError:
		return WARNING
	default:
		return ERROR
	}
}

// textOrJSONHandler formats each record on its own line, in one of two
// fixed shapes, rather than delegating to slog's stock handlers: neither
// produces the quoted-timestamp text form or the nested-object timestamp
// json form this package's on-disk format requires.
type textOrJSONHandler struct {
	w      io.Writer
	level  *slog.LevelVar
	format string
	prefix string
	mu     sync.Mutex
}

func (h *textOrJSONHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

func (h *textOrJSONHandler) Handle(_ context.Context, r slog.Record) error {
	sev := severityName(r.Level)
	msg := h.prefix + r.Message

	var line string
	if h.format == "json" {
		line = fmt.Sprintf("{\"timestamp\":{\"seconds\":%d,\"nanos\":%d},\"severity\":%q,\"message\":%q}\n",
			r.Time.Unix(), r.Time.Nanosecond(), sev, msg)
	} else {
		line = fmt.Sprintf("time=%q severity=%s message=%q\n", r.Time.Format(textTimeFormat), sev, msg)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := io.WriteString(h.w, line)
	return err
}

func (h *textOrJSONHandler) WithAttrs(_ []slog.Attr) slog.Handler { return h }
func (h *textOrJSONHandler) WithGroup(_ string) slog.Handler      { return h }

// Tracef logs at TRACE severity.
func Tracef(format string, args ...any) { logf(LevelTrace, format, args...) }

// Debugf logs at DEBUG severity.
func Debugf(format string, args ...any) { logf(LevelDebug, format, args...) }

// Infof logs at INFO severity.
func Infof(format string, args ...any) { logf(LevelInfo, format, args...) }

// Warnf logs at WARNING severity.
func Warnf(format string, args ...any) { logf(LevelWarn, format, args...) }

// Errorf logs at ERROR severity.
func Errorf(format string, args ...any) { logf(LevelError, format, args...) }

func logf(level slog.Level, format string, args ...any) {
	ctx := context.Background()
	if !defaultLogger.Enabled(ctx, level) {
		return
	}
	defaultLogger.Log(ctx, level, fmt.Sprintf(format, args...))
}

// Close releases the file sink, if one is configured, flushing buffered
// log lines first.
func Close() error {
	if closer == nil {
		return nil
	}
	err := closer.Close()
	closer = nil
	return err
}
