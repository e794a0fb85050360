// Package mailbox_tools provides MCP tools for inbox rules and mailbox
// settings.
//
// # Available Tools
//
//   - list-rules: List inbox rules (read-only)
//   - get-mailbox-settings: Show time zone and automatic replies (read-only)
//   - create-rule: Create an inbox rule
//   - edit-rule-sequence: Change the execution order of a rule
//   - set-auto-reply: Configure automatic replies
//
// The last three require human confirmation.
package mailbox_tools
