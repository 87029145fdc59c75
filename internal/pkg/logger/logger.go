package logger

import (
	"io"
	"log/slog"
	"os"
	"regexp"
	"strings"
	"sync/atomic"
)

// Level represents the severity of a log entry.
type Level = slog.Level

const (
	DEBUG = slog.LevelDebug
	INFO  = slog.LevelInfo
	WARN  = slog.LevelWarn
	ERROR = slog.LevelError
)

var (
	level     = new(slog.LevelVar)
	redactPII atomic.Bool
	std       atomic.Pointer[slog.Logger]
)

func init() {
	redactPII.Store(true)
	SetOutput(os.Stderr)
}

// SetOutput redirects the default logger. Used by cmd/ and tests.
func SetOutput(w io.Writer) {
	h := slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level:       level,
		ReplaceAttr: replaceAttr,
	})
	std.Store(slog.New(h))
}

// SetLevel sets the minimum log level for the default logger.
func SetLevel(l Level) { level.Set(l) }

// ParseLevel maps a config string to a Level, defaulting to INFO.
func ParseLevel(s string) Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return DEBUG
	case "warn", "warning":
		return WARN
	case "error":
		return ERROR
	default:
		return INFO
	}
}

// SetRedactPII enables or disables PII redaction for the default logger.
func SetRedactPII(r bool) { redactPII.Store(r) }

// Slog exposes the underlying logger for libraries that accept *slog.Logger.
func Slog() *slog.Logger { return std.Load() }

// Debug emits a DEBUG-level structured log entry.
func Debug(msg string, fields ...any) { std.Load().Debug(msg, fields...) }

// Info emits an INFO-level structured log entry.
func Info(msg string, fields ...any) { std.Load().Info(msg, fields...) }

// Warn emits a WARN-level structured log entry.
func Warn(msg string, fields ...any) { std.Load().Warn(msg, fields...) }

// Error emits an ERROR-level structured log entry.
func Error(msg string, fields ...any) { std.Load().Error(msg, fields...) }

var emailRegex = regexp.MustCompile(`[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}`)

func replaceAttr(_ []string, a slog.Attr) slog.Attr {
	if !redactPII.Load() {
		return a
	}
	switch a.Key {
	case slog.TimeKey, slog.LevelKey:
		return a
	}
	if a.Value.Kind() != slog.KindString && a.Value.Kind() != slog.KindAny {
		return a
	}
	val := a.Value.String()
	if a.Value.Kind() == slog.KindAny {
		if err, ok := a.Value.Any().(error); ok {
			val = err.Error()
		} else {
			return a
		}
	}
	return slog.String(a.Key, redactPIIValue(a.Key, val))
}

func redactPIIValue(key, val string) string {
	key = strings.ToLower(key)
	if strings.Contains(key, "email") || strings.Contains(key, "recipient") {
		if strings.Contains(val, "@") {
			return RedactEmail(val)
		}
		return val
	}
	return emailRegex.ReplaceAllStringFunc(val, RedactEmail)
}
