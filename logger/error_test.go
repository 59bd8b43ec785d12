//nolint:err113 // Test file uses errors.New() for creating test errors
package logger

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAnnotateError_NilError(t *testing.T) {
	t.Parallel()

	assert.NoError(t, AnnotateError(nil, "key", "value"))
}

func TestAnnotateError_Transparent(t *testing.T) {
	t.Parallel()

	baseErr := errors.New("base error")
	annotated := AnnotateError(baseErr, "target", "db:5432", "attempt", 2)

	assert.Equal(t, "base error", annotated.Error())
	require.ErrorIs(t, annotated, baseErr)

	var se *slogError
	require.ErrorAs(t, annotated, &se)
	require.Len(t, se.attrs, 2)
	assert.Equal(t, "target", se.attrs[0].Key)
	assert.Equal(t, int64(2), se.attrs[1].Value.Any())
}

func TestAnnotations_WalksTree(t *testing.T) {
	t.Parallel()

	inner := AnnotateError(errors.New("dial"), "host", "db")
	outer := AnnotateError(fmt.Errorf("probe: %w", inner), "target", "postgres://db")
	joined := errors.Join(errors.New("other"), outer)

	attrs := annotations(joined)
	require.Len(t, attrs, 2)
	assert.Equal(t, "target", attrs[0].Key)
	assert.Equal(t, "host", attrs[1].Key)

	assert.Empty(t, annotations(errors.New("plain")))
}

func newJSONLogger(buf *bytes.Buffer) *slog.Logger {
	return slog.New(&slogErrorLogger{inner: slog.NewJSONHandler(buf, nil)})
}

func decode(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()

	var out map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &out))

	return out
}

func TestSlogErrorLogger_ExpandsAnnotations(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer

	err := fmt.Errorf("wrapped: %w", AnnotateError(errors.New("refused"), "target", "tcp://db:5432"))
	newJSONLogger(&buf).Error("probe failed", "error", err, "attempt", 1)

	rec := decode(t, &buf)
	assert.Equal(t, "wrapped: refused", rec["error"])
	assert.Equal(t, "tcp://db:5432", rec["target"])
	assert.InDelta(t, 1, rec["attempt"], 0)
}

func TestSlogErrorLogger_PlainErrorsUntouched(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer

	newJSONLogger(&buf).Warn("failed", "error", errors.New("plain"))

	rec := decode(t, &buf)
	assert.Equal(t, "plain", rec["error"])
	assert.Equal(t, "failed", rec["msg"])
}

func TestSlogErrorLogger_WithAttrsAndGroup(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer

	logger := newJSONLogger(&buf).With("run_id", "r1").WithGroup("attempt")
	logger.Info("failed", "error", AnnotateError(errors.New("boom"), "code", 503))

	rec := decode(t, &buf)
	assert.Equal(t, "r1", rec["run_id"])

	group, ok := rec["attempt"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "boom", group["error"])
	assert.InDelta(t, 503, group["code"], 0)
}

func TestSlogErrorLogger_Enabled(t *testing.T) {
	t.Parallel()

	handler := &slogErrorLogger{inner: slog.NewTextHandler(&bytes.Buffer{}, &slog.HandlerOptions{Level: slog.LevelWarn})}

	assert.False(t, handler.Enabled(t.Context(), slog.LevelInfo))
	assert.True(t, handler.Enabled(t.Context(), slog.LevelError))
}
