// Package config loads and validates mailgate's runtime configuration.
//
// Values are layered: built-in defaults, then ~/.config/mailgate/config.yaml,
// then environment variables. The CLI applies its flags on top before
// calling Validate.
//
// Validate fails closed. A missing or malformed MCP_TOKEN_KEY, missing
// client credentials, test mode in production and a disabled confirmation
// gate in production all stop the process at startup.
//
// Scope handling lives in scopes.go: the allow-list, the least-privilege
// profiles and ScopeSatisfied, which treats ReadWrite scopes as covering
// their Read counterparts.
package config
