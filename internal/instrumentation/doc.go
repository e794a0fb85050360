// Package instrumentation provides OpenTelemetry metrics and tracing for
// mailgate, plus the structured audit logger for security events.
//
// # Metrics
//
// Credential lifecycle:
//   - oauth_token_refresh_total{result}
//   - oauth_code_exchange_total{result}
//
// Confirmation gate:
//   - approval_requests_total{action,mode,result}
//   - approval_validations_total{action,mode,result}
//   - pending_approvals
//
// Remote API and tools:
//   - graph_api_operations_total, graph_api_operation_duration_seconds
//   - mcp_tool_invocations_total, mcp_tool_duration_seconds
//
// Confirmation service:
//   - http_requests_total, http_request_duration_seconds
//
// A nil *Metrics records nothing, so components can be built without a
// provider in tests.
//
// # Tracing
//
// Spans are created for tool invocations (tool.<name>) and remote API calls
// (graph.<operation>). Tracing is off unless TRACING_EXPORTER is set.
//
// # Configuration
//
//   - INSTRUMENTATION_ENABLED: Enable/disable instrumentation (default: true)
//   - METRICS_EXPORTER: prometheus, otlp or stdout (default: prometheus)
//   - TRACING_EXPORTER: otlp, stdout or none (default: none)
//   - OTEL_EXPORTER_OTLP_ENDPOINT: OTLP endpoint for traces/metrics
//   - OTEL_TRACES_SAMPLER_ARG: Sampling rate (0.0 to 1.0, default: 0.1)
//   - AUDIT_LOGGING_ENABLED, AUDIT_LOGGING_INCLUDE_PII
//
// The stdout exporters write to stderr because stdout carries the MCP
// stdio transport.
package instrumentation
