// Package contact_tools provides MCP tools for the default address book.
//
// list-contacts is read-only. create-contact, update-contact and
// delete-contact require human confirmation.
package contact_tools
