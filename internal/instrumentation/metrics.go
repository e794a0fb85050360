package instrumentation

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metric attribute keys
const (
	attrMethod    = "method"
	attrPath      = "path"
	attrStatus    = "status"
	attrOperation = "operation"
	attrResult    = "result"
	attrTool      = "tool"
	attrAction    = "action"
	attrMode      = "mode"
)

var (
	latencyBuckets = []float64{0.001, 0.01, 0.1, 0.5, 1.0, 2.5, 5.0, 10.0}
	remoteBuckets  = []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0}
)

// Metrics provides methods for recording observability metrics.
// A nil *Metrics, or one from a disabled Provider, records nothing.
type Metrics struct {
	// Confirmation service HTTP metrics
	httpRequestsTotal   metric.Int64Counter
	httpRequestDuration metric.Float64Histogram

	// Credential lifecycle
	tokenRefreshTotal metric.Int64Counter
	codeExchangeTotal metric.Int64Counter

	// Confirmation gate
	approvalRequestsTotal    metric.Int64Counter
	approvalValidationsTotal metric.Int64Counter
	pendingApprovals         metric.Int64UpDownCounter

	// Remote mailbox API
	graphOperationsTotal   metric.Int64Counter
	graphOperationDuration metric.Float64Histogram

	// MCP tools
	toolInvocationsTotal metric.Int64Counter
	toolDuration         metric.Float64Histogram

	// detailedLabels adds the tool name to approval metrics.
	detailedLabels bool
}

// NewMetrics creates a new Metrics instance with all metrics initialized.
func NewMetrics(meter metric.Meter, detailedLabels bool) (*Metrics, error) {
	m := &Metrics{detailedLabels: detailedLabels}

	var err error
	counter := func(dst *metric.Int64Counter, name, desc, unit string) {
		if err != nil {
			return
		}
		*dst, err = meter.Int64Counter(name, metric.WithDescription(desc), metric.WithUnit(unit))
		if err != nil {
			err = fmt.Errorf("failed to create %s counter: %w", name, err)
		}
	}
	histogram := func(dst *metric.Float64Histogram, name, desc string, buckets []float64) {
		if err != nil {
			return
		}
		*dst, err = meter.Float64Histogram(name,
			metric.WithDescription(desc),
			metric.WithUnit("s"),
			metric.WithExplicitBucketBoundaries(buckets...))
		if err != nil {
			err = fmt.Errorf("failed to create %s histogram: %w", name, err)
		}
	}

	counter(&m.httpRequestsTotal, "http_requests_total", "Total number of confirmation service HTTP requests", "{request}")
	histogram(&m.httpRequestDuration, "http_request_duration_seconds", "Confirmation service HTTP request duration in seconds", latencyBuckets)

	counter(&m.tokenRefreshTotal, "oauth_token_refresh_total", "Total number of token refresh attempts", "{attempt}")
	counter(&m.codeExchangeTotal, "oauth_code_exchange_total", "Total number of authorization code exchanges", "{attempt}")

	counter(&m.approvalRequestsTotal, "approval_requests_total", "Total number of approval challenges requested", "{request}")
	counter(&m.approvalValidationsTotal, "approval_validations_total", "Total number of approval validation attempts", "{attempt}")

	counter(&m.graphOperationsTotal, "graph_api_operations_total", "Total number of remote mailbox API operations", "{operation}")
	histogram(&m.graphOperationDuration, "graph_api_operation_duration_seconds", "Remote mailbox API operation duration in seconds", remoteBuckets)

	counter(&m.toolInvocationsTotal, "mcp_tool_invocations_total", "Total number of MCP tool invocations", "{invocation}")
	histogram(&m.toolDuration, "mcp_tool_duration_seconds", "MCP tool execution duration in seconds", remoteBuckets)
	if err != nil {
		return nil, err
	}

	m.pendingApprovals, err = meter.Int64UpDownCounter(
		"pending_approvals",
		metric.WithDescription("Number of approvals waiting for a human"),
		metric.WithUnit("{approval}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create pending_approvals gauge: %w", err)
	}

	return m, nil
}

// RecordHTTPRequest records an HTTP request with method, route pattern, status code, and duration.
func (m *Metrics) RecordHTTPRequest(ctx context.Context, method, path string, statusCode int, duration time.Duration) {
	if m == nil || m.httpRequestsTotal == nil {
		return // Instrumentation not initialized
	}

	attrs := metric.WithAttributes(
		attribute.String(attrMethod, method),
		attribute.String(attrPath, path),
		attribute.String(attrStatus, strconv.Itoa(statusCode)),
	)
	m.httpRequestsTotal.Add(ctx, 1, attrs)
	m.httpRequestDuration.Record(ctx, duration.Seconds(), attrs)
}

// RecordTokenRefresh records a refresh attempt.
// Result is one of ResultSuccess, ResultRejected, ResultTransient.
func (m *Metrics) RecordTokenRefresh(ctx context.Context, result string) {
	if m == nil || m.tokenRefreshTotal == nil {
		return
	}
	m.tokenRefreshTotal.Add(ctx, 1, metric.WithAttributes(attribute.String(attrResult, result)))
}

// RecordCodeExchange records an authorization code exchange.
func (m *Metrics) RecordCodeExchange(ctx context.Context, result string) {
	if m == nil || m.codeExchangeTotal == nil {
		return
	}
	m.codeExchangeTotal.Add(ctx, 1, metric.WithAttributes(attribute.String(attrResult, result)))
}

// RecordApprovalRequest records a challenge request for an action.
// Result is ResultIssued, ResultPending or ResultError.
func (m *Metrics) RecordApprovalRequest(ctx context.Context, action, mode, result string) {
	if m == nil || m.approvalRequestsTotal == nil {
		return
	}
	m.approvalRequestsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String(attrAction, action),
		attribute.String(attrMode, mode),
		attribute.String(attrResult, result),
	))
}

// RecordApprovalValidation records a validation attempt.
// Result is ResultSuccess, ResultRejected or ResultPending.
func (m *Metrics) RecordApprovalValidation(ctx context.Context, action, mode, result string) {
	if m == nil || m.approvalValidationsTotal == nil {
		return
	}
	m.approvalValidationsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String(attrAction, action),
		attribute.String(attrMode, mode),
		attribute.String(attrResult, result),
	))
}

// AddPendingApprovals adjusts the pending approvals gauge by delta.
func (m *Metrics) AddPendingApprovals(ctx context.Context, delta int64) {
	if m == nil || m.pendingApprovals == nil || delta == 0 {
		return
	}
	m.pendingApprovals.Add(ctx, delta)
}

// RecordGraphOperation records a remote mailbox API call.
//
// Parameters:
//   - operation: the gated action or read operation (e.g. "sendEmail", "me")
//   - status: StatusSuccess or StatusError
//   - duration: time taken for the call
func (m *Metrics) RecordGraphOperation(ctx context.Context, operation, status string, duration time.Duration) {
	if m == nil || m.graphOperationsTotal == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String(attrOperation, operation),
		attribute.String(attrStatus, status),
	)
	m.graphOperationsTotal.Add(ctx, 1, attrs)
	m.graphOperationDuration.Record(ctx, duration.Seconds(), attrs)
}

// RecordToolInvocation records an MCP tool invocation with tool name, status, and duration.
func (m *Metrics) RecordToolInvocation(ctx context.Context, toolName, status string, duration time.Duration) {
	if m == nil || m.toolInvocationsTotal == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String(attrTool, toolName),
		attribute.String(attrStatus, status),
	)
	m.toolInvocationsTotal.Add(ctx, 1, attrs)
	m.toolDuration.Record(ctx, duration.Seconds(), attrs)
}
