// Package auth_tools provides the MCP tools that manage the mailbox
// credential.
//
// # Available Tools
//
//   - about: Describe the server
//   - authenticate: Start a login, or install a test credential in test mode
//   - complete-authentication: Redeem the authorization code of a login
//   - check-auth-status: Report whether the stored credential is usable
//
// An authentication flow issues a state value with the login URL. The
// code is only redeemed when it comes back with a state this process
// issued in the last ten minutes.
package auth_tools
