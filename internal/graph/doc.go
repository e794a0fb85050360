// Package graph is the client for the remote mailbox API.
//
// Requests are authorized through an oauth2.Transport whose token source
// is the credential refresher, so every call uses a currently valid access
// token. Client implements gate.Executor for the gated actions.
//
// In test mode the Client is given a Simulator as its transport, which
// answers the same endpoints in process.
package graph
