// Package confirm gates mutating actions behind short-lived, single-use
// human approvals.
//
// A Registry maps the Fingerprint of an action's type and raw parameters
// to one pending approval. In ModeInline the human is shown a 6 character
// code to hand back to the agent. In ModeOutOfBand the action is registered
// with the confirmation service (see OOBClient) and the human confirms it in
// a browser while the agent resubmits the external id until the service
// reports it as confirmed.
//
// Changing any parameter changes the fingerprint, so an approval can never
// be applied to parameters other than the ones that were shown.
package confirm
