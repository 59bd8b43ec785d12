// Package envutil reads typed configuration values from the environment.
//
//	attempts := envutil.Int("RETRY_MAX_ATTEMPTS", envutil.Default(3)).ValueOrElse(3)
//	level, err := envutil.SlogLevel("LOG_LEVEL", envutil.Default(slog.LevelInfo)).Value()
//
// Package-level readers consult the process environment. A Source reads from
// anything else, which keeps tests independent of os.Setenv.
package envutil

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

var (
	ErrInvalidLogLevel = errors.New("invalid log level")
	ErrNegative        = errors.New("value must not be negative")
)

// Source looks up a raw environment value.
type Source func(key string) (string, bool)

// OS reads the process environment.
//
//nolint:gochecknoglobals
var OS Source = os.LookupEnv

// FromMap reads from a fixed map. A nil map has no values.
func FromMap(vars map[string]string) Source {
	return func(key string) (string, bool) {
		val, ok := vars[key]

		return val, ok
	}
}

// Prefixed returns a Source that looks up prefix + "_" + key.
func (s Source) Prefixed(prefix string) Source {
	if prefix == "" {
		return s
	}

	return func(key string) (string, bool) {
		return s(prefix + "_" + key)
	}
}

func (s Source) get(key string) Reader[string] {
	val, ok := s(key)

	return Reader[string]{
		key:     key,
		present: ok,
		value:   val,
	}
}

func (s Source) String(key string, opts ...Option[string]) Reader[string] {
	return apply(s.get(key), opts)
}

func (s Source) Bool(key string, opts ...Option[bool]) Reader[bool] {
	return apply(Map(s.get(key), parseBool), opts)
}

func (s Source) Int(key string, opts ...Option[int]) Reader[int] {
	return apply(Map(s.get(key), parseInt), opts)
}

func (s Source) Float64(key string, opts ...Option[float64]) Reader[float64] {
	return apply(Map(s.get(key), parseFloat64), opts)
}

// Duration parses Go duration syntax ("250ms", "1m30s"). A bare integer is
// taken as milliseconds.
func (s Source) Duration(key string, opts ...Option[time.Duration]) Reader[time.Duration] {
	return apply(Map(s.get(key), ParseDuration), opts)
}

func (s Source) SlogLevel(key string, opts ...Option[slog.Level]) Reader[slog.Level] {
	return apply(Map(s.get(key), parseSlogLevel), opts)
}

// String returns a Reader for the given environment variable key.
func String(key string, opts ...Option[string]) Reader[string] {
	return OS.String(key, opts...)
}

func Bool(key string, opts ...Option[bool]) Reader[bool] {
	return OS.Bool(key, opts...)
}

func Int(key string, opts ...Option[int]) Reader[int] {
	return OS.Int(key, opts...)
}

func Float64(key string, opts ...Option[float64]) Reader[float64] {
	return OS.Float64(key, opts...)
}

func Duration(key string, opts ...Option[time.Duration]) Reader[time.Duration] {
	return OS.Duration(key, opts...)
}

// SlogLevel returns a Reader for the given environment variable key.
func SlogLevel(key string, opts ...Option[slog.Level]) Reader[slog.Level] {
	return OS.SlogLevel(key, opts...)
}

// NonNegative rejects values below zero.
func NonNegative[T int | float64 | time.Duration](val T) error {
	if val < 0 {
		return fmt.Errorf("%w: %v", ErrNegative, val)
	}

	return nil
}

// ParseDuration parses a duration, accepting a bare integer as milliseconds.
func ParseDuration(value string) (time.Duration, error) {
	value = strings.TrimSpace(value)

	if ms, err := strconv.ParseInt(value, 10, 64); err == nil {
		return time.Duration(ms) * time.Millisecond, nil
	}

	return time.ParseDuration(value)
}

func parseBool(value string) (bool, error) {
	return strconv.ParseBool(strings.TrimSpace(value))
}

func parseInt(value string) (int, error) {
	return strconv.Atoi(strings.TrimSpace(value))
}

func parseFloat64(value string) (float64, error) {
	return strconv.ParseFloat(strings.TrimSpace(value), 64)
}

func parseSlogLevel(value string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrInvalidLogLevel, value)
	}
}
