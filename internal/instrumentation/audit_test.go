package instrumentation

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newJSONAudit(t *testing.T, cfg AuditLoggingConfig) (*AuditLogger, *bytes.Buffer) {
	t.Helper()
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	return NewAuditLoggerWithConfig(logger, cfg), &buf
}

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var m map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &m))
		out = append(out, m)
	}
	return out
}

func TestToolInvocation(t *testing.T) {
	ti := NewToolInvocation("send-email").WithAction("sendEmail")
	assert.NotEmpty(t, ti.RequestID)
	assert.Equal(t, StatusError, ti.Status())

	ti.CompleteWithError(errors.New("boom"))
	assert.False(t, ti.Success)
	assert.Equal(t, "boom", ti.Error)

	other := NewToolInvocation("send-email").CompleteSuccess()
	assert.True(t, other.Success)
	assert.Equal(t, StatusSuccess, other.Status())
	assert.NotEqual(t, ti.RequestID, other.RequestID)
}

func TestAuditLogger_LogToolInvocation(t *testing.T) {
	al, buf := newJSONAudit(t, AuditLoggingConfig{Enabled: true})

	al.LogToolInvocation(context.Background(), NewToolInvocation("about").CompleteSuccess())
	al.LogToolInvocation(context.Background(), NewToolInvocation("send-email").WithAction("sendEmail").CompleteWithError(errors.New("denied")))

	lines := decodeLines(t, buf)
	require.Len(t, lines, 2)
	assert.Equal(t, "tool_executed", lines[0]["msg"])
	assert.Equal(t, "INFO", lines[0]["level"])
	assert.Equal(t, "audit", lines[0]["log_type"])
	assert.Equal(t, "tool_failed", lines[1]["msg"])
	assert.Equal(t, "WARN", lines[1]["level"])
	assert.Equal(t, "sendEmail", lines[1]["action"])
	assert.Equal(t, "denied", lines[1]["error"])
}

func TestAuditLogger_LogEvent(t *testing.T) {
	al, buf := newJSONAudit(t, AuditLoggingConfig{Enabled: true})

	al.LogEvent(context.Background(), EventApprovalConsumed, slog.String("action", "sendEmail"))
	al.LogEvent(context.Background(), EventSuspiciousInput)

	lines := decodeLines(t, buf)
	require.Len(t, lines, 2)
	assert.Equal(t, EventApprovalConsumed, lines[0]["event"])
	assert.Equal(t, "INFO", lines[0]["level"])
	assert.Equal(t, EventSuspiciousInput, lines[1]["event"])
	assert.Equal(t, "WARN", lines[1]["level"])
}

func TestAuditLogger_DisabledAndNil(t *testing.T) {
	al, buf := newJSONAudit(t, AuditLoggingConfig{Enabled: false})
	al.LogEvent(context.Background(), EventCredentialSaved)
	al.LogToolInvocation(context.Background(), NewToolInvocation("x").CompleteSuccess())
	assert.Zero(t, buf.Len())

	var nilLogger *AuditLogger
	nilLogger.LogEvent(context.Background(), EventCredentialSaved)
	nilLogger.LogToolInvocation(context.Background(), NewToolInvocation("x"))
}

func TestAuditLogger_Recipients(t *testing.T) {
	masked, _ := newJSONAudit(t, AuditLoggingConfig{Enabled: true})
	attr := masked.Recipients("a@b.com")
	assert.NotContains(t, attr.Value.String(), "a@b.com")
	assert.True(t, strings.HasPrefix(attr.Value.String(), "user:"))

	clear, _ := newJSONAudit(t, AuditLoggingConfig{Enabled: true, IncludePII: true})
	assert.Equal(t, "a@b.com", clear.Recipients("a@b.com").Value.String())
}
