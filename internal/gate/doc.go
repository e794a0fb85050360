// Package gate puts a human approval in front of every mailbox change.
//
// Each sensitive operation is an Action with a fixed field order. Gate.Run
// journals the attempt, blocks injection-like input, validates the fields,
// checks the credential's scopes and then either asks the Approver for a
// new approval (no token) or validates the supplied token. Only an
// approved action reaches the Executor, and each approval runs it once.
package gate
