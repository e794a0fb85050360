package graph

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"github.com/teemow/mailgate/internal/credential"
)

func staticToken(token string) oauth2.TokenSource {
	return oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token, TokenType: "Bearer"})
}

func newTestClient(t *testing.T, baseURL string, ts oauth2.TokenSource) *Client {
	t.Helper()
	c, err := New(Config{BaseURL: baseURL, TokenSource: ts})
	require.NoError(t, err)
	return c
}

func TestClient_RequestShape(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1.0/me", r.URL.Path)
		assert.Equal(t, "id", r.URL.Query().Get("$select"))
		assert.Equal(t, "Bearer tok-123", r.Header.Get("Authorization"))
		assert.Equal(t, `IdType="ImmutableId"`, r.Header.Get("Prefer"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"user-1"}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL+"/v1.0", staticToken("tok-123"))
	u, err := c.Me(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "user-1", u.ID)
}

func TestClient_ErrorMapping(t *testing.T) {
	tests := []struct {
		status   int
		sentinel error
	}{
		{http.StatusUnauthorized, ErrUnauthorized},
		{http.StatusForbidden, ErrForbidden},
		{http.StatusNotFound, ErrNotFound},
		{http.StatusInternalServerError, nil},
	}

	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
				_ = json.NewEncoder(w).Encode(map[string]any{
					"error": map[string]string{"code": "Code", "message": "went wrong"},
				})
			}))
			defer srv.Close()

			_, err := newTestClient(t, srv.URL, staticToken("t")).Me(context.Background())
			require.Error(t, err)

			var apiErr *APIError
			require.ErrorAs(t, err, &apiErr)
			assert.Equal(t, tt.status, apiErr.Status)
			assert.Equal(t, "went wrong", apiErr.Message)
			if tt.sentinel != nil {
				assert.ErrorIs(t, err, tt.sentinel)
			} else {
				assert.False(t, errors.Is(err, ErrUnauthorized))
			}
		})
	}
}

type failingSource struct{ calls atomic.Int32 }

func (s *failingSource) Token() (*oauth2.Token, error) {
	s.calls.Add(1)
	return nil, credential.ErrNoCredential
}

func TestClient_MissingCredential(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		hits.Add(1)
	}))
	defer srv.Close()

	src := &failingSource{}
	_, err := newTestClient(t, srv.URL, src).Me(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, credential.ErrNoCredential)
	assert.Equal(t, int32(1), src.calls.Load())
	assert.Zero(t, hits.Load(), "nothing is sent without a credential")
}

func TestClient_MalformedResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("not json"))
	}))
	defer srv.Close()

	_, err := newTestClient(t, srv.URL, staticToken("t")).Me(context.Background())
	assert.ErrorContains(t, err, "failed to decode response")
}

func TestNew_Validation(t *testing.T) {
	_, err := New(Config{BaseURL: "https://graph.example.com/v1.0/"})
	assert.Error(t, err)

	_, err = New(Config{BaseURL: "not a url", TokenSource: staticToken("t")})
	assert.Error(t, err)
}

func TestEscapePath(t *testing.T) {
	assert.Equal(t, "me/events/AAMk%2Fx=/cancel", escapePath("me", "events", "AAMk/x=", "cancel"))
}
