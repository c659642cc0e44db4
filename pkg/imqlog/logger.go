// Package imqlog provides the structured, leveled logger used by every
// imq component. It wraps github.com/rs/zerolog rather than hand-rolling a
// JSON-lines writer: zerolog already gives allocation-free leveled logging,
// a well-tested field API, and console/JSON output modes, which is exactly
// the ecosystem answer to the ambient "structured logger (log/info/warn/
// error)" requirement.
package imqlog

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Level mirrors the four levels every imq component logs at.
type Level string

const (
	LevelDebug Level = "debug"
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

// Options configures a Logger.
type Options struct {
	// Service names the component in every line ("imq.watcher", "imqd", ...).
	Service string
	// Level is the minimum level that is actually written.
	Level Level
	// Console, if true, uses zerolog's human-readable console writer
	// instead of raw JSON lines (handy for `imqd` running in a terminal).
	Console bool
	// Writer overrides the output sink; defaults to os.Stderr.
	Writer io.Writer
}

// Logger implements pkg/imq.Logger.
type Logger struct {
	zl zerolog.Logger
}

// New builds a Logger per Options.
func New(opts Options) *Logger {
	w := opts.Writer
	if w == nil {
		w = os.Stderr
	}
	if opts.Console {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	}
	zl := zerolog.New(w).With().Timestamp().Logger()
	if opts.Service != "" {
		zl = zl.With().Str("service", opts.Service).Logger()
	}
	zl = zl.Level(zerologLevel(opts.Level))
	return &Logger{zl: zl}
}

func zerologLevel(l Level) zerolog.Level {
	switch l {
	case LevelDebug:
		return zerolog.DebugLevel
	case LevelWarn:
		return zerolog.WarnLevel
	case LevelError:
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

func (l *Logger) event(e *zerolog.Event, msg string, fields map[string]any) {
	for k, v := range fields {
		e = e.Interface(k, v)
	}
	e.Msg(msg)
}

func (l *Logger) Debug(msg string, fields map[string]any) { l.event(l.zl.Debug(), msg, fields) }
func (l *Logger) Info(msg string, fields map[string]any)  { l.event(l.zl.Info(), msg, fields) }
func (l *Logger) Warn(msg string, fields map[string]any)  { l.event(l.zl.Warn(), msg, fields) }
func (l *Logger) Error(msg string, fields map[string]any) { l.event(l.zl.Error(), msg, fields) }

// With returns a Logger with additional fields attached to every future
// line: span/trace fields merged into every log call rather than logged
// separately.
func (l *Logger) With(fields map[string]any) *Logger {
	ctx := l.zl.With()
	for k, v := range fields {
		ctx = ctx.Interface(k, v)
	}
	return &Logger{zl: ctx.Logger()}
}
