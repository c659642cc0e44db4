// Package profiling implements the optional timing/argument-logging
// decorator wrapped around imq operations, gated by the IMQ_LOG_TIME and
// IMQ_LOG_ARGS environment variables. With both disabled it is a pure
// passthrough: no extra allocation, no extra call.
package profiling

import (
	"context"
	"os"
	"strconv"
	"strings"
	"time"
)

// TimeFormat controls the unit IMQ_LOG_TIME_FORMAT renders durations in.
type TimeFormat string

const (
	Microseconds TimeFormat = "microseconds"
	Milliseconds TimeFormat = "milliseconds"
	Seconds      TimeFormat = "seconds"
)

// Logger is the minimal sink profiling writes decorated lines to.
type Logger interface {
	Info(msg string, fields map[string]any)
}

// Fn is the operation shape Wrap decorates.
type Fn func(ctx context.Context) (any, error)

// Config is read once from the environment via FromEnv; callers that want
// to bypass env vars entirely (tests) can construct it directly.
type Config struct {
	LogTime    bool
	LogArgs    bool
	TimeFormat TimeFormat
}

// FromEnv reads IMQ_LOG_TIME, IMQ_LOG_ARGS, IMQ_LOG_TIME_FORMAT.
func FromEnv() Config {
	return Config{
		LogTime:    envBool("IMQ_LOG_TIME"),
		LogArgs:    envBool("IMQ_LOG_ARGS"),
		TimeFormat: envTimeFormat("IMQ_LOG_TIME_FORMAT"),
	}
}

func envBool(name string) bool {
	v, ok := os.LookupEnv(name)
	if !ok {
		return false
	}
	b, err := strconv.ParseBool(v)
	return err == nil && b
}

func envTimeFormat(name string) TimeFormat {
	switch TimeFormat(strings.ToLower(os.Getenv(name))) {
	case Milliseconds:
		return Milliseconds
	case Seconds:
		return Seconds
	default:
		return Microseconds
	}
}

// Wrap returns fn decorated per cfg: if both LogTime and LogArgs are
// disabled, fn is returned completely unchanged (no wrapper call, no extra
// allocation). Otherwise the returned function times the call and logs one
// line per enabled channel through logger, without altering fn's return
// value or error.
func Wrap(name string, cfg Config, logger Logger, args map[string]any, fn Fn) Fn {
	if !cfg.LogTime && !cfg.LogArgs {
		return fn
	}
	return func(ctx context.Context) (any, error) {
		start := time.Now()
		result, err := fn(ctx)
		elapsed := time.Since(start)

		emit := func(fields map[string]any) {
			fields["operation"] = name
			if err != nil {
				fields["error"] = err.Error()
			}
			if logger != nil {
				logger.Info(name, fields)
			}
		}
		if cfg.LogTime {
			emit(map[string]any{"duration": formatDuration(elapsed, cfg.TimeFormat)})
		}
		if cfg.LogArgs {
			fields := map[string]any{}
			for k, v := range args {
				fields["arg."+k] = v
			}
			emit(fields)
		}
		return result, err
	}
}

func formatDuration(d time.Duration, f TimeFormat) float64 {
	switch f {
	case Milliseconds:
		return float64(d.Microseconds()) / 1000
	case Seconds:
		return d.Seconds()
	default:
		return float64(d.Microseconds())
	}
}
