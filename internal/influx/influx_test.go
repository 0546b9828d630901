package influx

import (
	"bytes"
	"compress/gzip"
	"context"
	"io"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWritePoint_NoClientNoBackup(t *testing.T) {
	m := NewManager(zerolog.Nop(), "")
	err := m.WritePoint(context.Background(), BucketSessions, SessionPoint(1, 0, 0, time.Now()))
	assert.Error(t, err)
}

func TestWritePoint_BackupWriter(t *testing.T) {
	var buf bytes.Buffer
	m := NewManager(zerolog.Nop(), "")
	m.BackupWriter = gzip.NewWriter(&buf)

	at := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	err := m.WritePoint(context.Background(), BucketSessions, SessionPoint(4, 1, 2, at))
	require.NoError(t, err)
	require.NoError(t, m.BackupWriter.Close())

	reader, err := gzip.NewReader(&buf)
	require.NoError(t, err)
	raw, err := io.ReadAll(reader)
	require.NoError(t, err)

	line := string(raw)
	assert.Contains(t, line, "sessions")
	assert.Contains(t, line, "online=4i")
	assert.Contains(t, line, "offline_retained=1i")
	assert.Contains(t, line, "purged=2i")
}

func TestConnectionPoint_RoleFields(t *testing.T) {
	at := time.Now()
	point := ConnectionPoint(10, 7, map[string]int{"admin": 2, "viewer": 5}, at)

	fields := make(map[string]any)
	for _, f := range point.FieldList() {
		fields[f.Key] = f.Value
	}
	assert.Equal(t, int64(10), fields["total"])
	assert.Equal(t, int64(7), fields["authenticated"])
	assert.Equal(t, int64(2), fields["role_admin"])
	assert.Equal(t, int64(5), fields["role_viewer"])
}

func TestEventPoint(t *testing.T) {
	point := EventPoint(120, 3, time.Now())

	fields := make(map[string]any)
	for _, f := range point.FieldList() {
		fields[f.Key] = f.Value
	}
	assert.Equal(t, int64(120), fields["processed"])
	assert.Equal(t, int64(3), fields["dropped"])
}
