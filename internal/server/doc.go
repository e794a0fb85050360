// Package server holds the long lived runtime of mailgate and the HTTP
// surfaces around it.
//
// # Key Components
//
// ServerContext wires the credential store and refresher, the confirmation
// registry, the action gate and the remote API client from a config.Config.
// It reports the credential state (absent, authenticated, expired, or a test
// credential left over outside test mode) and can probe the credential
// against the remote API.
//
// HTTPServer exposes the MCP server over streamable HTTP or SSE. Plain HTTP
// base URLs are accepted only for loopback hosts.
//
// MetricsServer serves Prometheus metrics on a dedicated port, and
// HealthChecker provides /healthz, /readyz and /healthz/detailed for both
// the metrics server and the confirmation service.
package server
