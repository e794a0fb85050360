// Package calendar_tools provides MCP tools for the signed-in user's
// calendar.
//
// list-events is read-only. create-event, delete-event and the responses
// to existing events (cancel-event, accept-event, decline-event) require
// human confirmation and are not registered in read-only mode.
package calendar_tools
