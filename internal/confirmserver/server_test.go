package confirmserver

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teemow/mailgate/internal/confirm"
	"github.com/teemow/mailgate/internal/server"
)

var display = confirm.Display{
	Title: "Send email",
	Lines: []confirm.Line{
		{Label: "To", Value: "a@b.com"},
		{Label: "Subject", Value: "<b>hi</b>"},
	},
}

func newTestServer(t *testing.T, cfg Config) (*Server, *httptest.Server) {
	t.Helper()
	s := New(cfg)
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)
	s.baseURL = ts.URL
	return s, ts
}

func getStatus(t *testing.T, c *confirm.OOBClient, id string) bool {
	t.Helper()
	ok, err := c.Status(context.Background(), id)
	require.NoError(t, err)
	return ok
}

func postCode(t *testing.T, ts *httptest.Server, id, code string) *http.Response {
	t.Helper()
	resp, err := http.PostForm(ts.URL+"/confirm/"+id, url.Values{"code": {code}})
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestServer_OutOfBandRoundTrip(t *testing.T) {
	_, ts := newTestServer(t, Config{})
	client := confirm.NewOOBClient(ts.URL, nil)

	created, err := client.CreatePending(context.Background(), display)
	require.NoError(t, err)
	assert.NotEmpty(t, created.ExternalID)
	assert.Regexp(t, `^[0-9A-F]{6}$`, created.Code)
	assert.Equal(t, ts.URL+"/confirm/"+created.ExternalID, created.ConfirmURL)

	assert.False(t, getStatus(t, client, created.ExternalID))

	resp := postCode(t, ts, created.ExternalID, created.Code)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	assert.True(t, getStatus(t, client, created.ExternalID))
}

func TestServer_WrongCodeAllowsRetry(t *testing.T) {
	_, ts := newTestServer(t, Config{})
	client := confirm.NewOOBClient(ts.URL, nil)

	created, err := client.CreatePending(context.Background(), display)
	require.NoError(t, err)

	resp := postCode(t, ts, created.ExternalID, "000000")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	body, _ := io.ReadAll(resp.Body)
	assert.Contains(t, string(body), "Incorrect code")
	assert.False(t, getStatus(t, client, created.ExternalID))

	resp = postCode(t, ts, created.ExternalID, strings.ToLower(created.Code))
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, getStatus(t, client, created.ExternalID))
}

func TestServer_SubmissionRateLimit(t *testing.T) {
	_, ts := newTestServer(t, Config{SubmitBurst: 2, SubmitLimit: 0.0001})
	client := confirm.NewOOBClient(ts.URL, nil)

	created, err := client.CreatePending(context.Background(), display)
	require.NoError(t, err)

	assert.Equal(t, http.StatusBadRequest, postCode(t, ts, created.ExternalID, "000000").StatusCode)
	assert.Equal(t, http.StatusBadRequest, postCode(t, ts, created.ExternalID, "000001").StatusCode)
	assert.Equal(t, http.StatusTooManyRequests, postCode(t, ts, created.ExternalID, created.Code).StatusCode)
	assert.False(t, getStatus(t, client, created.ExternalID))
}

func TestServer_Page(t *testing.T) {
	_, ts := newTestServer(t, Config{})
	client := confirm.NewOOBClient(ts.URL, nil)

	created, err := client.CreatePending(context.Background(), display)
	require.NoError(t, err)

	resp, err := http.Get(created.ConfirmURL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/html; charset=utf-8", resp.Header.Get("Content-Type"))
	assert.Equal(t, "DENY", resp.Header.Get("X-Frame-Options"))
	assert.Contains(t, string(body), "Send email")
	assert.Contains(t, string(body), "a@b.com")
	assert.Contains(t, string(body), created.Code)
	assert.Contains(t, string(body), "&lt;b&gt;hi&lt;/b&gt;", "values are escaped")
	assert.NotContains(t, string(body), "<b>hi</b>")
}

func TestServer_UnknownIDs(t *testing.T) {
	_, ts := newTestServer(t, Config{})
	client := confirm.NewOOBClient(ts.URL, nil)

	resp, err := http.Get(ts.URL + "/confirm/nope")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	assert.Equal(t, http.StatusNotFound, postCode(t, ts, "nope", "ABC123").StatusCode)
	assert.False(t, getStatus(t, client, "nope"), "unknown ids report unconfirmed")

	resp, err = http.Get(ts.URL + "/status/nope")
	require.NoError(t, err)
	defer resp.Body.Close()
	var st confirm.StatusResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&st))
	assert.False(t, st.Confirmed)
}

func TestServer_CreateValidation(t *testing.T) {
	_, ts := newTestServer(t, Config{})

	tests := []struct {
		name string
		body string
		want int
	}{
		{name: "not json", body: "{", want: http.StatusBadRequest},
		{name: "missing title", body: `{"displayPayload":{"lines":[]}}`, want: http.StatusBadRequest},
		{name: "too large", body: `{"displayPayload":{"title":"` + strings.Repeat("x", maxCreateBodySize) + `"}}`, want: http.StatusRequestEntityTooLarge},
		{name: "ok", body: `{"displayPayload":{"title":"Delete event"}}`, want: http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := http.Post(ts.URL+confirm.CreatePath, "application/json", strings.NewReader(tt.body))
			require.NoError(t, err)
			resp.Body.Close()
			assert.Equal(t, tt.want, resp.StatusCode)
		})
	}
}

func TestServer_RegistryIntegration(t *testing.T) {
	ctx := context.Background()
	_, ts := newTestServer(t, Config{})

	reg, err := confirm.NewRegistry(confirm.RegistryConfig{
		Mode:       confirm.ModeOutOfBand,
		OutOfBand:  confirm.NewOOBClient(ts.URL, nil),
		GCInterval: -1,
	})
	require.NoError(t, err)
	defer reg.Close()

	params := []string{"a@b.com", "", "", "hi", "body"}
	ch, err := reg.RequestApproval(ctx, "sendEmail", params, display)
	require.NoError(t, err)

	out := reg.ValidateApproval(ctx, "sendEmail", params, ch.ExternalID)
	assert.Equal(t, confirm.Pending, out.Status)

	// The human reads the code from the page.
	resp, err := http.Get(ch.ConfirmURL)
	require.NoError(t, err)
	page, _ := io.ReadAll(resp.Body)
	resp.Body.Close()

	created := extractCode(t, string(page))
	assert.Equal(t, http.StatusOK, postCode(t, ts, ch.ExternalID, created).StatusCode)

	assert.True(t, reg.ValidateApproval(ctx, "sendEmail", params, ch.ExternalID).Approved())
}

func TestServer_InProcessService(t *testing.T) {
	s := New(Config{BaseURL: "http://localhost:4000/"})

	created, err := s.CreatePending(context.Background(), display)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(created.ConfirmURL, "http://localhost:4000/confirm/"))

	ok, err := s.Status(context.Background(), created.ExternalID)
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = s.CreatePending(context.Background(), confirm.Display{})
	assert.Error(t, err)
}

func TestServer_Retention(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	s := New(Config{Retention: time.Hour, Now: func() time.Time { return now }})

	first, err := s.CreatePending(context.Background(), display)
	require.NoError(t, err)

	now = now.Add(2 * time.Hour)
	_, err = s.CreatePending(context.Background(), display)
	require.NoError(t, err)

	assert.Equal(t, 1, s.store.len())
	_, ok := s.store.get(first.ExternalID)
	assert.False(t, ok)
}

func TestServer_HealthEndpoints(t *testing.T) {
	_, ts := newTestServer(t, Config{Health: server.NewHealthChecker(nil)})

	for _, path := range []string{"/healthz", "/readyz", "/healthz/detailed"} {
		resp, err := http.Get(ts.URL + path)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode, path)
	}
}

func TestServer_ListenAndServe(t *testing.T) {
	s := New(Config{})
	ctx, cancel := context.WithCancel(context.Background())
	ready := make(chan struct{})
	done := make(chan error, 1)

	go func() { done <- s.ListenAndServe(ctx, "127.0.0.1:0", ready) }()

	select {
	case <-ready:
	case err := <-done:
		t.Fatalf("server failed to start: %v", err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not start")
	}

	cancel()
	require.NoError(t, <-done)
}

func extractCode(t *testing.T, page string) string {
	t.Helper()
	const marker = "<code>"
	i := strings.Index(page, marker)
	require.GreaterOrEqual(t, i, 0, "page shows a code")
	rest := page[i+len(marker):]
	j := strings.Index(rest, "</code>")
	require.Greater(t, j, 0)
	return rest[:j]
}
