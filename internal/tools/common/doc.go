// Package common provides shared helpers for the MCP tool packages:
// argument parsing, handler instrumentation, and running gated actions.
package common
