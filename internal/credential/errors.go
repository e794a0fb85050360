package credential

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

var (
	// ErrNoCredential means no usable credential record is available.
	ErrNoCredential = errors.New("no credential available")

	// ErrMissingKey is returned when the encryption key is not configured.
	ErrMissingKey = errors.New("encryption key is not configured")

	// ErrInvalidKey is returned when the encryption key has the wrong size or encoding.
	ErrInvalidKey = errors.New("encryption key must be 32 bytes (64 hex characters)")

	// ErrMalformedBlob is returned when a persisted blob is not nonce:tag:ciphertext.
	ErrMalformedBlob = errors.New("malformed credential blob")

	// ErrNoRefreshToken is returned when a refresh is attempted without a refresh token.
	ErrNoRefreshToken = errors.New("no refresh token available")
)

// ProviderError is an error reported by the token endpoint or the transport
// in front of it.
type ProviderError struct {
	Code        string // OAuth error code (e.g. "invalid_grant"), empty for transport failures
	Description string // error_description from the provider, or the transport error text
	Status      int    // HTTP status code, 0 when no response was received

	err error
}

// Error implements the error interface
func (e *ProviderError) Error() string {
	switch {
	case e.Code != "" && e.Description != "":
		return fmt.Sprintf("%s: %s", e.Code, e.Description)
	case e.Code != "":
		return e.Code
	case e.Status != 0:
		return fmt.Sprintf("token endpoint returned status %d: %s", e.Status, e.Description)
	default:
		return fmt.Sprintf("token endpoint unreachable: %s", e.Description)
	}
}

func (e *ProviderError) Unwrap() error {
	return e.err
}

// Retryable reports whether the failure was transient. Status 0 covers
// transport errors, timeouts and unparseable bodies; 5xx and 429 are
// transient too. Any other non-2xx answer is a rejection.
func (e *ProviderError) Retryable() bool {
	if e.Status == 0 {
		return true
	}
	return e.Status >= http.StatusInternalServerError || e.Status == http.StatusTooManyRequests
}

func newTransportError(err error) *ProviderError {
	return &ProviderError{Description: err.Error(), err: err}
}

// IsRetryable reports whether err is a transient token endpoint failure.
func IsRetryable(err error) bool {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Retryable()
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded)
}
