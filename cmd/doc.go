// Package cmd implements the command-line interface for mailgate.
//
// This package provides the following commands:
//   - serve: Start the MCP server to provide mailbox tools for AI assistants
//   - auth: Log in, show and remove the stored credential and consent history
//   - confirm-server: Run the browser confirmation service on its own
//   - generate-docs: Generate markdown documentation for all MCP tools
//   - version: Display version information
package cmd
