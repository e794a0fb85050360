package instrumentation

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func newTestMetrics(t *testing.T) (*Metrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	m, err := NewMetrics(mp.Meter("test"), false)
	require.NoError(t, err)
	return m, reader
}

// sumFor returns the value of an int64 sum metric for the data point whose
// attributes include all of want.
func sumFor(t *testing.T, reader *sdkmetric.ManualReader, name string, want ...attribute.KeyValue) int64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != name {
				continue
			}
			sum, ok := m.Data.(metricdata.Sum[int64])
			require.True(t, ok, "%s is not an int64 sum", name)
			var total int64
			for _, dp := range sum.DataPoints {
				match := true
				for _, kv := range want {
					v, ok := dp.Attributes.Value(kv.Key)
					if !ok || v != kv.Value {
						match = false
						break
					}
				}
				if match {
					total += dp.Value
				}
			}
			return total
		}
	}
	return 0
}

func TestMetrics_CredentialCounters(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordTokenRefresh(ctx, ResultSuccess)
	m.RecordTokenRefresh(ctx, ResultSuccess)
	m.RecordTokenRefresh(ctx, ResultRejected)
	m.RecordCodeExchange(ctx, ResultSuccess)

	assert.Equal(t, int64(2), sumFor(t, reader, "oauth_token_refresh_total", attribute.String("result", ResultSuccess)))
	assert.Equal(t, int64(1), sumFor(t, reader, "oauth_token_refresh_total", attribute.String("result", ResultRejected)))
	assert.Equal(t, int64(1), sumFor(t, reader, "oauth_code_exchange_total"))
}

func TestMetrics_ApprovalCounters(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordApprovalRequest(ctx, "sendEmail", "inline", ResultIssued)
	m.RecordApprovalValidation(ctx, "sendEmail", "inline", ResultSuccess)
	m.RecordApprovalValidation(ctx, "sendEmail", "inline", ResultRejected)
	m.AddPendingApprovals(ctx, 2)
	m.AddPendingApprovals(ctx, -1)

	assert.Equal(t, int64(1), sumFor(t, reader, "approval_requests_total", attribute.String("action", "sendEmail")))
	assert.Equal(t, int64(2), sumFor(t, reader, "approval_validations_total", attribute.String("mode", "inline")))
	assert.Equal(t, int64(1), sumFor(t, reader, "pending_approvals"))
}

func TestMetrics_RemoteAndTools(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordGraphOperation(ctx, "sendEmail", StatusSuccess, 30*time.Millisecond)
	m.RecordToolInvocation(ctx, "send-email", StatusError, time.Second)
	m.RecordHTTPRequest(ctx, "GET", "/confirm/{id}", 200, time.Millisecond)

	assert.Equal(t, int64(1), sumFor(t, reader, "graph_api_operations_total", attribute.String("operation", "sendEmail")))
	assert.Equal(t, int64(1), sumFor(t, reader, "mcp_tool_invocations_total", attribute.String("status", StatusError)))
	assert.Equal(t, int64(1), sumFor(t, reader, "http_requests_total", attribute.String("status", "200")))
}

func TestMetrics_NilSafe(t *testing.T) {
	ctx := context.Background()
	for _, m := range []*Metrics{nil, {}} {
		// Should not panic
		m.RecordHTTPRequest(ctx, "GET", "/", 200, time.Millisecond)
		m.RecordTokenRefresh(ctx, ResultSuccess)
		m.RecordCodeExchange(ctx, ResultSuccess)
		m.RecordApprovalRequest(ctx, "a", "inline", ResultIssued)
		m.RecordApprovalValidation(ctx, "a", "inline", ResultSuccess)
		m.AddPendingApprovals(ctx, 1)
		m.RecordGraphOperation(ctx, "op", StatusSuccess, time.Millisecond)
		m.RecordToolInvocation(ctx, "tool", StatusSuccess, time.Millisecond)
	}
}
