package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"civitas.org/internal/obs"
)

func captureLog(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	prev := obs.SetLogger(obs.NewLogger(&buf, slog.LevelDebug))
	t.Cleanup(func() { obs.SetLogger(prev) })
	return &buf
}

func TestLogEvent(t *testing.T) {
	buf := captureLog(t)

	ctx := WithRequestID(context.Background(), "req-123")
	ctx = WithActor(ctx, 42)

	require.NoError(t, LogEvent(ctx, "vote.cast", map[string]any{"ballot_id": 7}))

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "audit", entry["type"])
	assert.Equal(t, "vote.cast", entry["event"])
	assert.Equal(t, "req-123", entry["request_id"])
	assert.EqualValues(t, 42, entry["account_id"])
	assert.NotEmpty(t, entry["audit_id"])

	fields, ok := entry["fields"].(map[string]any)
	require.True(t, ok, "fields missing: %v", entry)
	assert.EqualValues(t, 7, fields["ballot_id"])
}

func TestLogEventRequiresName(t *testing.T) {
	captureLog(t)
	assert.Error(t, LogEvent(context.Background(), "  ", nil))
}

func TestEnsureRequestID(t *testing.T) {
	ctx := EnsureRequestID(context.Background())
	first := RequestID(ctx)
	require.NotEmpty(t, first)
	assert.Equal(t, first, RequestID(EnsureRequestID(ctx)))

	_, ok := Actor(WithActor(context.Background(), 0))
	assert.False(t, ok)
}
