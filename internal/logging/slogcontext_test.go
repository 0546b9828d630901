package logging

import (
	"bytes"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSetup_ContextAssignedAfterSetup(t *testing.T) {
	var buf bytes.Buffer
	m := NewSlogManager()
	m.Setup(&buf, "info", nil)

	m.Logger().Info("before context")

	m.Context = func() []slog.Attr {
		return []slog.Attr{slog.String("phase", "running")}
	}
	m.Logger().Info("after context")

	out := buf.String()
	assert.Contains(t, out, "after context")
	assert.Contains(t, out, "phase=running")
}
