package instrumentation

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"

	"github.com/teemow/mailgate/internal/logging"
)

// Security event types written by AuditLogger.LogEvent.
const (
	EventCredentialSaved       = "credential_saved"
	EventCredentialRefreshed   = "credential_refreshed"
	EventCredentialInvalidated = "credential_invalidated"
	EventCredentialCleared     = "credential_cleared"
	EventApprovalIssued        = "approval_issued"
	EventApprovalConsumed      = "approval_consumed"
	EventApprovalRejected      = "approval_rejected"
	EventSuspiciousInput       = "suspicious_input"
	EventRateLimited           = "rate_limited"
)

// ToolInvocation captures one MCP tool call for the audit trail.
type ToolInvocation struct {
	// RequestID correlates all log lines of one call.
	RequestID string

	Tool string

	// Action is the gated action type, empty for read-only tools.
	Action string

	StartTime time.Time
	Duration  time.Duration
	Success   bool
	Error     string

	TraceID string
	SpanID  string
}

// Status returns "success" or "error" based on the Success field.
func (ti *ToolInvocation) Status() string {
	if ti.Success {
		return StatusSuccess
	}
	return StatusError
}

// LogAttrs returns slog attributes for structured logging.
func (ti *ToolInvocation) LogAttrs() []slog.Attr {
	attrs := []slog.Attr{
		slog.String("request_id", ti.RequestID),
		logging.Tool(ti.Tool),
		slog.Duration(logging.KeyDuration, ti.Duration),
		slog.Bool("success", ti.Success),
	}

	if ti.Action != "" {
		attrs = append(attrs, logging.Action(ti.Action))
	}
	if ti.TraceID != "" {
		attrs = append(attrs, slog.String("trace_id", ti.TraceID))
	}
	if ti.SpanID != "" {
		attrs = append(attrs, slog.String("span_id", ti.SpanID))
	}
	if ti.Error != "" {
		attrs = append(attrs, slog.String(logging.KeyError, ti.Error))
	}
	return attrs
}

// NewToolInvocation creates a new ToolInvocation with timing started.
// Call Complete() when the tool operation finishes.
func NewToolInvocation(tool string) *ToolInvocation {
	return &ToolInvocation{
		RequestID: uuid.NewString(),
		Tool:      tool,
		StartTime: time.Now(),
	}
}

// WithAction sets the gated action type.
func (ti *ToolInvocation) WithAction(action string) *ToolInvocation {
	ti.Action = action
	return ti
}

// WithSpanContext extracts trace context from the current span.
func (ti *ToolInvocation) WithSpanContext(ctx context.Context) *ToolInvocation {
	span := trace.SpanFromContext(ctx)
	if span.SpanContext().IsValid() {
		ti.TraceID = span.SpanContext().TraceID().String()
		ti.SpanID = span.SpanContext().SpanID().String()
	}
	return ti
}

// Complete marks the invocation as completed and calculates duration.
func (ti *ToolInvocation) Complete(success bool, err error) *ToolInvocation {
	ti.Duration = time.Since(ti.StartTime)
	ti.Success = success
	if err != nil {
		ti.Error = err.Error()
	}
	return ti
}

// CompleteWithError marks the invocation as failed with the given error.
func (ti *ToolInvocation) CompleteWithError(err error) *ToolInvocation {
	return ti.Complete(false, err)
}

// CompleteSuccess marks the invocation as successful.
func (ti *ToolInvocation) CompleteSuccess() *ToolInvocation {
	return ti.Complete(true, nil)
}

// AuditLogger writes security-relevant events as structured logs.
// A nil *AuditLogger is valid and discards everything.
type AuditLogger struct {
	logger     *slog.Logger
	includePII bool
	enabled    bool
}

// NewAuditLogger creates an enabled AuditLogger that hashes addresses.
func NewAuditLogger(logger *slog.Logger) *AuditLogger {
	return NewAuditLoggerWithConfig(logger, AuditLoggingConfig{Enabled: true})
}

// NewAuditLoggerWithConfig creates a new AuditLogger with the given configuration.
func NewAuditLoggerWithConfig(logger *slog.Logger, config AuditLoggingConfig) *AuditLogger {
	if logger == nil {
		logger = slog.Default()
	}
	return &AuditLogger{
		logger:     logger.With(slog.String("log_type", "audit")),
		includePII: config.IncludePII,
		enabled:    config.Enabled,
	}
}

func (al *AuditLogger) active() bool {
	return al != nil && al.enabled
}

// LogToolInvocation logs a completed tool invocation.
func (al *AuditLogger) LogToolInvocation(ctx context.Context, ti *ToolInvocation) {
	if !al.active() {
		return
	}
	level := slog.LevelInfo
	msg := "tool_executed"
	if !ti.Success {
		level = slog.LevelWarn
		msg = "tool_failed"
	}
	al.logger.LogAttrs(ctx, level, msg, ti.LogAttrs()...)
}

// LogEvent logs a security event such as EventApprovalConsumed.
func (al *AuditLogger) LogEvent(ctx context.Context, event string, attrs ...slog.Attr) {
	if !al.active() {
		return
	}
	level := slog.LevelInfo
	switch event {
	case EventApprovalRejected, EventSuspiciousInput, EventRateLimited, EventCredentialInvalidated:
		level = slog.LevelWarn
	}
	all := make([]slog.Attr, 0, len(attrs)+2)
	all = append(all, slog.String("event", event))
	if traceID := GetTraceID(ctx); traceID != "" {
		all = append(all, slog.String("trace_id", traceID))
	}
	all = append(all, attrs...)
	al.logger.LogAttrs(ctx, level, "security_event", all...)
}

// Recipients returns an attribute for a recipient list, hashed unless
// the logger was configured to include PII.
func (al *AuditLogger) Recipients(list string) slog.Attr {
	if al != nil && al.includePII {
		return slog.String("recipients", list)
	}
	return slog.String("recipients", logging.MaskEmails(list))
}
