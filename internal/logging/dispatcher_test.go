package logging

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openrp/presence/internal/dispatcher"
)

var _ dispatcher.Logger = (*DispatcherLogger)(nil)

func newTestDispatcherLogger() (*DispatcherLogger, *bytes.Buffer) {
	var buf bytes.Buffer
	zl := zerolog.New(&buf).Level(zerolog.DebugLevel)
	return NewDispatcherLogger(zl), &buf
}

func parseLine(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	return entry
}

func TestDispatcherLogger_Debug(t *testing.T) {
	logger, buf := newTestDispatcherLogger()
	logger.Debug("queue drained", "pending", 0)

	entry := parseLine(t, buf)
	assert.Equal(t, "debug", entry["level"])
	assert.Equal(t, "queue drained", entry["message"])
	assert.Equal(t, float64(0), entry["pending"])
}

func TestDispatcherLogger_Info(t *testing.T) {
	logger, buf := newTestDispatcherLogger()
	logger.Info("handler registered", "event", "player_join")

	entry := parseLine(t, buf)
	assert.Equal(t, "info", entry["level"])
	assert.Equal(t, "handler registered", entry["message"])
	assert.Equal(t, "player_join", entry["event"])
}

func TestDispatcherLogger_Error(t *testing.T) {
	logger, buf := newTestDispatcherLogger()
	logger.Error("handler failed", "event", "player_move", "attempt", 3)

	entry := parseLine(t, buf)
	assert.Equal(t, "error", entry["level"])
	assert.Equal(t, "handler failed", entry["message"])
	assert.Equal(t, "player_move", entry["event"])
	assert.Equal(t, float64(3), entry["attempt"])
}

func TestDispatcherLogger_NoFields(t *testing.T) {
	logger, buf := newTestDispatcherLogger()
	logger.Info("plain message")

	entry := parseLine(t, buf)
	assert.Equal(t, "plain message", entry["message"])
}

func TestDispatcherLogger_OddFieldsIgnored(t *testing.T) {
	logger, buf := newTestDispatcherLogger()
	logger.Info("odd args", "key1", "value1", "dangling")

	entry := parseLine(t, buf)
	assert.Equal(t, "value1", entry["key1"])
	assert.NotContains(t, entry, "dangling")
}

func TestToFields_NonStringKeysSkipped(t *testing.T) {
	fields := toFields([]any{42, "value", "key", "kept"})
	assert.Equal(t, map[string]any{"key": "kept"}, fields)
}
