package graph

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrUnauthorized is wrapped by 401 responses. The credential was rejected.
	ErrUnauthorized = errors.New("UNAUTHORIZED")

	// ErrForbidden is wrapped by 403 responses.
	ErrForbidden = errors.New("FORBIDDEN")

	// ErrNotFound is wrapped by 404 responses.
	ErrNotFound = errors.New("NOT_FOUND")
)

// APIError is a non-2xx response from the remote API.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("API call failed with status %d: %s", e.Status, e.Message)
	}
	return fmt.Sprintf("API call failed with status %d", e.Status)
}

// Unwrap maps well known statuses onto the package sentinels.
func (e *APIError) Unwrap() error {
	switch e.Status {
	case http.StatusUnauthorized:
		return ErrUnauthorized
	case http.StatusForbidden:
		return ErrForbidden
	case http.StatusNotFound:
		return ErrNotFound
	default:
		return nil
	}
}

// errorBody is the remote API error envelope.
type errorBody struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}
