package credential

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeProvider struct {
	srv       *httptest.Server
	exchanges atomic.Int32
	refreshes atomic.Int32
	delay     time.Duration

	mu          sync.Mutex
	status      int
	errBody     string
	rotate      bool
	lastRefresh string
}

func newFakeProvider(t *testing.T) *fakeProvider {
	t.Helper()
	p := &fakeProvider{status: http.StatusOK}
	p.srv = httptest.NewServer(http.HandlerFunc(p.handle))
	t.Cleanup(p.srv.Close)
	return p
}

func (p *fakeProvider) handle(w http.ResponseWriter, r *http.Request) {
	_ = r.ParseForm()
	if p.delay > 0 {
		time.Sleep(p.delay)
	}

	p.mu.Lock()
	status, errBody, rotate := p.status, p.errBody, p.rotate
	p.mu.Unlock()

	var n int32
	switch r.PostForm.Get("grant_type") {
	case "authorization_code":
		n = p.exchanges.Add(1)
	case "refresh_token":
		n = p.refreshes.Add(1)
		p.mu.Lock()
		p.lastRefresh = r.PostForm.Get("refresh_token")
		p.mu.Unlock()
	}

	w.Header().Set("Content-Type", "application/json")
	if status != http.StatusOK {
		w.WriteHeader(status)
		_, _ = w.Write([]byte(errBody))
		return
	}
	resp := TokenResponse{
		AccessToken: fmt.Sprintf("%s-access-%d", r.PostForm.Get("grant_type"), n),
		ExpiresIn:   3600,
		Scope:       "offline_access Mail.Read",
		TokenType:   "Bearer",
	}
	if r.PostForm.Get("grant_type") == "authorization_code" || rotate {
		resp.RefreshToken = fmt.Sprintf("refresh-%d", n)
	}
	_ = json.NewEncoder(w).Encode(resp)
}

func (p *fakeProvider) fail(status int, body string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.status, p.errBody = status, body
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fixture struct {
	provider  *fakeProvider
	store     *FileStore
	consent   *ConsentLog
	clock     *clock
	refresher *Refresher
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dir := t.TempDir()
	f := &fixture{
		provider: newFakeProvider(t),
		store:    NewFileStore(filepath.Join(dir, "tokens.json"), newTestCipher(t), nil),
		consent:  NewConsentLog(filepath.Join(dir, "consent.json")),
		clock:    &clock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)},
	}
	f.refresher = f.newRefresher(false)
	return f
}

func (f *fixture) newRefresher(testMode bool) *Refresher {
	return NewRefresher(Config{
		Store:    f.store,
		Endpoint: NewEndpoint(testOAuthConfig(f.provider.srv.URL), nil),
		Consent:  f.consent,
		Scopes:   []string{"offline_access", "Mail.Read"},
		TestMode: testMode,
		Now:      f.clock.Now,
	})
}

// saveExpired persists a record that expired one second ago.
func (f *fixture) saveExpired(t *testing.T) {
	t.Helper()
	now := f.clock.Now()
	require.NoError(t, f.store.Save(&Record{
		AccessToken:  "expired-access",
		RefreshToken: "refresh-0",
		IssuedAt:     now.Add(-time.Hour),
		ExpiresAt:    now.Add(-time.Second),
	}))
}

func TestRefresher_ExchangeThenUse(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	rec, err := f.refresher.Exchange(ctx, "abc")
	require.NoError(t, err)
	assert.True(t, rec.ExpiresAt.Equal(f.clock.Now().Add(3600*time.Second)))
	assert.Equal(t, SourceAuthorizationCode, rec.Consent.Source)

	token, err := f.refresher.AccessToken(ctx)
	require.NoError(t, err)
	assert.Equal(t, rec.AccessToken, token)
	assert.Zero(t, f.provider.refreshes.Load(), "fresh token must not be refreshed")

	persisted, err := f.store.Load()
	require.NoError(t, err)
	assert.Equal(t, rec.AccessToken, persisted.AccessToken)

	entries, err := f.consent.Entries()
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, SourceAuthorizationCode, entries[0].Source)
	assert.Equal(t, []string{"offline_access", "Mail.Read"}, entries[0].Scopes)
}

func TestRefresher_ExpiredTokenRefreshesOnce(t *testing.T) {
	f := newFixture(t)
	f.saveExpired(t)

	token, err := f.refresher.AccessToken(context.Background())
	require.NoError(t, err)
	assert.NotEqual(t, "expired-access", token)
	assert.Equal(t, int32(1), f.provider.refreshes.Load())

	rec := f.refresher.Current()
	require.NotNil(t, rec)
	assert.Equal(t, "refresh-0", rec.RefreshToken, "refresh token kept when provider issues none")
	assert.Equal(t, SourceRefresh, rec.Consent.Source)
	assert.True(t, rec.ExpiresAt.After(f.clock.Now()))

	persisted, err := f.store.Load()
	require.NoError(t, err)
	assert.Equal(t, token, persisted.AccessToken)

	entries, err := f.consent.Entries()
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, SourceRefresh, entries[0].Source)
}

func TestRefresher_SingleFlight(t *testing.T) {
	f := newFixture(t)
	f.provider.delay = 100 * time.Millisecond
	f.saveExpired(t)

	const callers = 25
	var wg sync.WaitGroup
	tokens := make([]string, callers)
	errs := make([]error, callers)
	start := make(chan struct{})
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			tokens[i], errs[i] = f.refresher.AccessToken(context.Background())
		}(i)
	}
	close(start)
	wg.Wait()

	assert.Equal(t, int32(1), f.provider.refreshes.Load())
	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, tokens[0], tokens[i])
	}
}

func TestRefresher_RotatedRefreshToken(t *testing.T) {
	f := newFixture(t)
	f.provider.rotate = true
	f.saveExpired(t)

	_, err := f.refresher.AccessToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "refresh-1", f.refresher.Current().RefreshToken)
}

func TestRefresher_WithinSkewWindow(t *testing.T) {
	f := newFixture(t)
	_, err := f.refresher.Exchange(context.Background(), "abc")
	require.NoError(t, err)

	f.clock.Advance(56 * time.Minute)
	_, err = f.refresher.AccessToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(1), f.provider.refreshes.Load())
}

func TestRefresher_ProviderRejectionInvalidates(t *testing.T) {
	f := newFixture(t)
	f.saveExpired(t)
	f.provider.fail(http.StatusBadRequest, `{"error":"invalid_grant","error_description":"refresh token revoked"}`)

	_, err := f.refresher.AccessToken(context.Background())
	require.ErrorIs(t, err, ErrNoCredential)
	assert.Contains(t, err.Error(), "refresh token revoked")

	assert.Nil(t, f.refresher.Current())
	_, loadErr := f.store.Load()
	assert.ErrorIs(t, loadErr, ErrNoCredential, "invalidation must be persisted")

	_, err = f.refresher.AccessToken(context.Background())
	require.ErrorIs(t, err, ErrNoCredential)
	assert.Equal(t, int32(1), f.provider.refreshes.Load(), "dead refresh token must not be retried")
}

func TestRefresher_TransientFailureKeepsRecord(t *testing.T) {
	f := newFixture(t)
	f.saveExpired(t)
	f.provider.fail(http.StatusBadGateway, "")

	_, err := f.refresher.AccessToken(context.Background())
	require.ErrorIs(t, err, ErrNoCredential)

	persisted, loadErr := f.store.Load()
	require.NoError(t, loadErr)
	assert.Equal(t, "expired-access", persisted.AccessToken)

	f.provider.fail(http.StatusOK, "")
	token, err := f.refresher.AccessToken(context.Background())
	require.NoError(t, err)
	assert.NotEqual(t, "expired-access", token)
	assert.Equal(t, int32(2), f.provider.refreshes.Load())
}

func TestRefresher_NoRefreshTokenInvalidates(t *testing.T) {
	f := newFixture(t)
	now := f.clock.Now()
	require.NoError(t, f.store.Save(&Record{AccessToken: "a", ExpiresAt: now.Add(-time.Minute)}))

	_, err := f.refresher.AccessToken(context.Background())
	require.ErrorIs(t, err, ErrNoCredential)
	assert.Zero(t, f.provider.refreshes.Load())
	_, loadErr := f.store.Load()
	assert.ErrorIs(t, loadErr, ErrNoCredential)
}

func TestRefresher_NoCredential(t *testing.T) {
	f := newFixture(t)
	_, err := f.refresher.AccessToken(context.Background())
	assert.ErrorIs(t, err, ErrNoCredential)

	_, err = f.refresher.Token()
	assert.ErrorIs(t, err, ErrNoCredential)
}

func TestRefresher_ExchangeFailure(t *testing.T) {
	f := newFixture(t)
	f.provider.fail(http.StatusBadRequest, `{"error":"invalid_grant","error_description":"code already redeemed"}`)

	_, err := f.refresher.Exchange(context.Background(), "abc")
	var pe *ProviderError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "code already redeemed", pe.Description)
	assert.Nil(t, f.refresher.Current())
}

func TestRefresher_ExchangeNotDeduplicated(t *testing.T) {
	f := newFixture(t)
	for i := 0; i < 3; i++ {
		_, err := f.refresher.Exchange(context.Background(), fmt.Sprintf("code-%d", i))
		require.NoError(t, err)
	}
	assert.Equal(t, int32(3), f.provider.exchanges.Load())
}

func TestRefresher_TestCredential(t *testing.T) {
	f := newFixture(t)
	testRefresher := f.newRefresher(true)

	rec, err := testRefresher.StoreTestCredential(context.Background())
	require.NoError(t, err)
	assert.True(t, rec.IsTestCredential())
	assert.Equal(t, fmt.Sprintf("test_access_token_%d", f.clock.Now().Unix()), rec.AccessToken)

	token, err := testRefresher.AccessToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, rec.AccessToken, token)

	// A leftover test credential is absent outside test mode.
	prod := f.newRefresher(false)
	_, err = prod.AccessToken(context.Background())
	assert.ErrorIs(t, err, ErrNoCredential)

	_, err = prod.StoreTestCredential(context.Background())
	assert.Error(t, err)
}

func TestRefresher_Clear(t *testing.T) {
	f := newFixture(t)
	_, err := f.refresher.Exchange(context.Background(), "abc")
	require.NoError(t, err)

	require.NoError(t, f.refresher.Clear(context.Background()))
	assert.Nil(t, f.refresher.Current())
	_, err = f.store.Load()
	assert.ErrorIs(t, err, ErrNoCredential)
	entries, err := f.consent.Entries()
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestRefresher_TokenSource(t *testing.T) {
	f := newFixture(t)
	rec, err := f.refresher.Exchange(context.Background(), "abc")
	require.NoError(t, err)

	tok, err := f.refresher.Token()
	require.NoError(t, err)
	assert.Equal(t, rec.AccessToken, tok.AccessToken)
	assert.Equal(t, "Bearer", tok.TokenType)
}

// gatedEndpoint holds every refresh until release is closed.
type gatedEndpoint struct {
	started chan struct{}
	release chan struct{}
	refresh func() (*TokenResponse, error)
}

func newGatedEndpoint(refresh func() (*TokenResponse, error)) *gatedEndpoint {
	return &gatedEndpoint{started: make(chan struct{}, 1), release: make(chan struct{}), refresh: refresh}
}

func (e *gatedEndpoint) Exchange(context.Context, string) (*TokenResponse, error) {
	return &TokenResponse{AccessToken: "exchanged-access", RefreshToken: "exchanged-refresh", ExpiresIn: 3600}, nil
}

func (e *gatedEndpoint) Refresh(context.Context, string) (*TokenResponse, error) {
	e.started <- struct{}{}
	<-e.release
	return e.refresh()
}

func TestRefresher_InFlightRefreshDoesNotOverwriteNewerRecord(t *testing.T) {
	refreshed := func() (*TokenResponse, error) {
		return &TokenResponse{AccessToken: "stale-refreshed-access", ExpiresIn: 3600}, nil
	}
	rejected := func() (*TokenResponse, error) {
		return nil, &ProviderError{Code: "invalid_grant", Status: http.StatusBadRequest}
	}

	tests := []struct {
		name       string
		refresh    func() (*TokenResponse, error)
		replace    func(t *testing.T, r *Refresher)
		wantAccess string
	}{
		{
			name:    "exchange then refresh success",
			refresh: refreshed,
			replace: func(t *testing.T, r *Refresher) {
				_, err := r.Exchange(context.Background(), "abc")
				require.NoError(t, err)
			},
			wantAccess: "exchanged-access",
		},
		{
			name:    "exchange then refresh rejection",
			refresh: rejected,
			replace: func(t *testing.T, r *Refresher) {
				_, err := r.Exchange(context.Background(), "abc")
				require.NoError(t, err)
			},
			wantAccess: "exchanged-access",
		},
		{
			name:    "clear then refresh success",
			refresh: refreshed,
			replace: func(t *testing.T, r *Refresher) {
				require.NoError(t, r.Clear(context.Background()))
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.saveExpired(t)
			endpoint := newGatedEndpoint(tt.refresh)
			r := NewRefresher(Config{Store: f.store, Endpoint: endpoint, Consent: f.consent, Now: f.clock.Now})

			type result struct {
				token string
				err   error
			}
			done := make(chan result, 1)
			go func() {
				token, err := r.AccessToken(context.Background())
				done <- result{token, err}
			}()

			<-endpoint.started
			tt.replace(t, r)
			close(endpoint.release)
			res := <-done

			persisted, loadErr := f.store.Load()
			if tt.wantAccess == "" {
				assert.ErrorIs(t, res.err, ErrNoCredential)
				assert.Nil(t, r.Current())
				assert.ErrorIs(t, loadErr, ErrNoCredential)
				return
			}
			require.NoError(t, res.err)
			assert.Equal(t, tt.wantAccess, res.token)

			current := r.Current()
			require.NotNil(t, current)
			assert.Equal(t, tt.wantAccess, current.AccessToken)
			assert.Equal(t, "exchanged-refresh", current.RefreshToken)

			require.NoError(t, loadErr)
			assert.Equal(t, tt.wantAccess, persisted.AccessToken)
			assert.Equal(t, "exchanged-refresh", persisted.RefreshToken)
		})
	}
}

func TestRefresher_MissingExpiryUsesDefaultLifetime(t *testing.T) {
	f := newFixture(t)
	endpoint := newGatedEndpoint(nil)
	r := NewRefresher(Config{Store: f.store, Endpoint: noExpiryEndpoint{endpoint}, Now: f.clock.Now})

	rec, err := r.Exchange(context.Background(), "abc")
	require.NoError(t, err)
	assert.True(t, rec.ExpiresAt.Equal(f.clock.Now().Add(DefaultTokenLifetime)))
	assert.False(t, rec.NeedsRefresh(f.clock.Now(), RefreshSkew))
}

type noExpiryEndpoint struct{ *gatedEndpoint }

func (e noExpiryEndpoint) Exchange(context.Context, string) (*TokenResponse, error) {
	return &TokenResponse{AccessToken: "a", RefreshToken: "r"}, nil
}
