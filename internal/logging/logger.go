package logging

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Logger interface for structured logging
type Logger interface {
	Debug(msg string, fields ...Field)
	Info(msg string, fields ...Field)
	Warn(msg string, fields ...Field)
	Error(msg string, fields ...Field)
}

// Field represents a structured log field
type Field struct {
	Key   string
	Value any
}

func F(key string, value any) Field {
	return Field{Key: key, Value: value}
}

// ZeroLogger writes leveled JSON lines through zerolog.
type ZeroLogger struct {
	zl zerolog.Logger
}

// NewZeroLogger creates a logger writing to w. level is one of
// debug/info/warn/error; anything else means info.
func NewZeroLogger(w io.Writer, level string) *ZeroLogger {
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}
	return &ZeroLogger{zl: zerolog.New(w).Level(lvl).With().Timestamp().Logger()}
}

// NewConsoleLogger is a human readable logger for interactive use.
func NewConsoleLogger(level string) *ZeroLogger {
	l := NewZeroLogger(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}, level)
	return l
}

func (l *ZeroLogger) Debug(msg string, fields ...Field) {
	l.log(l.zl.Debug(), msg, fields)
}

func (l *ZeroLogger) Info(msg string, fields ...Field) {
	l.log(l.zl.Info(), msg, fields)
}

func (l *ZeroLogger) Warn(msg string, fields ...Field) {
	l.log(l.zl.Warn(), msg, fields)
}

func (l *ZeroLogger) Error(msg string, fields ...Field) {
	l.log(l.zl.Error(), msg, fields)
}

func (l *ZeroLogger) log(e *zerolog.Event, msg string, fields []Field) {
	if e == nil {
		return
	}
	for _, f := range fields {
		switch v := f.Value.(type) {
		case string:
			e = e.Str(f.Key, sanitizeValue(v))
		case error:
			e = e.AnErr(f.Key, v)
		case int:
			e = e.Int(f.Key, v)
		case int64:
			e = e.Int64(f.Key, v)
		case bool:
			e = e.Bool(f.Key, v)
		case time.Duration:
			e = e.Dur(f.Key, v)
		case fmt.Stringer:
			e = e.Str(f.Key, sanitizeValue(v.String()))
		default:
			e = e.Interface(f.Key, v)
		}
	}
	e.Msg(msg)
}

// sanitizeValue cuts long values (header dumps, URIs).
func sanitizeValue(s string) string {
	if len(s) > 100 {
		return s[:100] + "...[truncated]"
	}
	return s
}

// NullLogger discards all logs (for testing)
type NullLogger struct{}

func (NullLogger) Debug(msg string, fields ...Field) {}
func (NullLogger) Info(msg string, fields ...Field)  {}
func (NullLogger) Warn(msg string, fields ...Field)  {}
func (NullLogger) Error(msg string, fields ...Field) {}
