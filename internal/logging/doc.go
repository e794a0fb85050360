// Package logging provides structured logging helpers for mailgate.
//
// Everything logs through log/slog. Because the MCP stdio transport owns
// stdout, New is always pointed at stderr by the CLI.
//
// # Attributes
//
// Use the attribute constructors so keys stay consistent across packages:
//
//	logger.Info("approval issued",
//	    logging.Action("sendEmail"),
//	    logging.Mode("inline"),
//	    logging.Fingerprint(fp))
//
// # Sensitive values
//
// Tokens, codes and recipient addresses must never reach a log line in clear:
//
//   - SanitizeToken logs only the length of a token
//   - AnonymizeEmail and MaskEmails hash addresses so entries can still be correlated
//   - Fingerprint truncates action fingerprints to a short prefix
package logging
