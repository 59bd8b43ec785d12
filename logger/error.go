package logger

import (
	"context"
	"log/slog"
	"time"
)

// AnnotateError attaches slog key-value pairs to an error. When the error (or
// any error wrapping it) is logged through a logger installed by
// ConfigureLogging, the pairs are added to the log record.
//
// Example:
//
//	if err := conn.Ping(ctx); err != nil {
//	    return logger.AnnotateError(err, "target", target, "kind", "postgres")
//	}
//
// Returns nil if err is nil.
func AnnotateError(err error, args ...any) error {
	if err == nil {
		return nil
	}

	r := slog.NewRecord(time.Time{}, slog.LevelDebug, "", 0)
	r.Add(args...)

	attrs := make([]slog.Attr, 0, r.NumAttrs())

	r.Attrs(func(attr slog.Attr) bool {
		attrs = append(attrs, attr)

		return true
	})

	return &slogError{
		err:   err,
		attrs: attrs,
	}
}

// slogError is an error carrying structured logging attributes. It is
// transparent to errors.Is and errors.As.
type slogError struct {
	err   error
	attrs []slog.Attr
}

func (s *slogError) Error() string {
	return s.err.Error()
}

func (s *slogError) Unwrap() error {
	return s.err
}

// annotations collects the attributes of every annotated error in err's tree,
// outermost first.
func annotations(err error) []slog.Attr {
	var out []slog.Attr

	var walk func(error)

	walk = func(e error) {
		if e == nil {
			return
		}

		if se, ok := e.(*slogError); ok { //nolint:errorlint // walking the tree by hand
			out = append(out, se.attrs...)
		}

		switch u := e.(type) { //nolint:errorlint // walking the tree by hand
		case interface{ Unwrap() error }:
			walk(u.Unwrap())
		case interface{ Unwrap() []error }:
			for _, inner := range u.Unwrap() {
				walk(inner)
			}
		}
	}

	walk(err)

	return out
}

// slogErrorLogger decorates a slog.Handler so that error attributes created
// with AnnotateError contribute their attributes to the record.
type slogErrorLogger struct {
	inner slog.Handler
}

var _ slog.Handler = (*slogErrorLogger)(nil)

func (s *slogErrorLogger) Enabled(ctx context.Context, level slog.Level) bool {
	return s.inner.Enabled(ctx, level)
}

func (s *slogErrorLogger) Handle(ctx context.Context, record slog.Record) error {
	var extra []slog.Attr

	record.Attrs(func(attr slog.Attr) bool {
		if err, ok := attr.Value.Any().(error); ok {
			extra = append(extra, annotations(err)...)
		}

		return true
	})

	if len(extra) == 0 {
		return s.inner.Handle(ctx, record)
	}

	r := record.Clone()
	r.AddAttrs(extra...)

	return s.inner.Handle(ctx, r)
}

func (s *slogErrorLogger) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &slogErrorLogger{inner: s.inner.WithAttrs(attrs)}
}

func (s *slogErrorLogger) WithGroup(name string) slog.Handler {
	return &slogErrorLogger{inner: s.inner.WithGroup(name)}
}
