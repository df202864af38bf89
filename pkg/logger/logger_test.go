package logger

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLoggerWritesFiles(t *testing.T) {
	dir := t.TempDir()
	out := filepath.Join(dir, "logs", "app.log")
	errOut := filepath.Join(dir, "logs", "error.log")

	log, err := NewLogger(
		WithLevel("debug"),
		WithOutputPaths([]string{out}),
		WithErrorPaths([]string{errOut}),
		WithInitialField("service", "test"),
	)
	require.NoError(t, err)
	log.Info("page done", Int("page", 1))
	log.Warn("image skipped", String("reason", "decode_failed"))
	require.NoError(t, log.Sync())

	all, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Contains(t, string(all), "page done")
	assert.Contains(t, string(all), `"service":"test"`)

	warnings, err := os.ReadFile(errOut)
	require.NoError(t, err)
	assert.NotContains(t, string(warnings), "page done")
	assert.Contains(t, string(warnings), "image skipped")
}

func TestNewLoggerRejectsLevel(t *testing.T) {
	_, err := NewLogger(WithLevel("loud"))
	assert.Error(t, err)
}

func TestFromContext(t *testing.T) {
	fallback := NewTestLogger()
	ctx := context.WithValue(context.Background(), TaskIDKey, "task-1")

	FromContext(ctx, fallback).Info("hello")
	entries := fallback.GetEntries()
	require.Len(t, entries, 1)
	require.Len(t, entries[0].Fields, 1)
	assert.Equal(t, "taskId", entries[0].Fields[0].Key)

	stored := NewTestLogger()
	FromContext(NewContext(context.Background(), stored.Named("worker")), fallback).Warn("stored")
	assert.Equal(t, 1, stored.Count("WARN"))
	assert.Equal(t, "worker", stored.GetEntries()[0].Name)
}
