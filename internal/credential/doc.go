// Package credential manages the OAuth2 credential of a single local
// installation.
//
// # Storage
//
// FileStore keeps one Record on disk, sealed with AES-256-GCM by a Cipher.
// The file holds "nonce_hex:tag_hex:ciphertext_hex", is written through a
// temp file and rename, and is readable by the owner only. Saving without a
// valid key fails; there is no plaintext mode. Loading fails soft: any
// problem is logged and reported as ErrNoCredential so the user is asked to
// authenticate again.
//
// # Refresh
//
// Refresher owns the in-memory record. AccessToken refreshes when the
// token expires within RefreshSkew. Refreshes go through a singleflight
// group, so any number of concurrent callers produce one token endpoint
// request. A provider rejection, or a missing refresh token, invalidates
// the record and removes the file. Transient failures leave the stored
// record alone so the next call can try again.
//
// Exchange redeems an authorization code and is never deduplicated.
// Every successful grant is appended to the ConsentLog.
package credential
