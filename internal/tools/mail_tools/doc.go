// Package mail_tools provides MCP tools for reading, sending and filing mail.
//
// # Available Tools
//
//   - list-folders: List mail folders (read-only)
//   - list-emails: List recent messages in a folder (read-only)
//   - read-email: Read one message, HTML reduced to text (read-only)
//   - send-email: Send a message
//   - move-emails: Move messages to another folder
//
// send-email and move-emails run through the action gate: the first call
// returns a confirmation prompt and the action only runs once the human
// approves it.
package mail_tools
