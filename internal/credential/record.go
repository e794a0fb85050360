package credential

import (
	"errors"
	"strings"
	"time"

	"golang.org/x/oauth2"
)

// Source says how a credential was obtained.
type Source string

const (
	SourceAuthorizationCode Source = "authorization_code"
	SourceRefresh           Source = "refresh"
	SourceTest              Source = "test"
)

// TestTokenPrefix marks synthetic credentials created in test mode.
const TestTokenPrefix = "test_access_token_"

// ConsentMetadata records the grant behind the current credential.
type ConsentMetadata struct {
	GrantedAt       time.Time `json:"granted_at"`
	Source          Source    `json:"source"`
	RequestedScopes []string  `json:"requested_scopes,omitempty"`
}

// Record is the single credential set of this installation.
type Record struct {
	AccessToken  string          `json:"access_token"`
	RefreshToken string          `json:"refresh_token,omitempty"`
	TokenType    string          `json:"token_type,omitempty"`
	Scopes       []string        `json:"scopes,omitempty"`
	IssuedAt     time.Time       `json:"issued_at"`
	ExpiresAt    time.Time       `json:"expires_at"`
	Consent      ConsentMetadata `json:"consent"`
}

// Validate rejects records that can never produce an access token.
func (r *Record) Validate() error {
	if r == nil {
		return ErrNoCredential
	}
	if r.AccessToken == "" && r.RefreshToken != "" {
		return errors.New("credential has a refresh token but no access token")
	}
	if r.AccessToken == "" {
		return ErrNoCredential
	}
	return nil
}

// NeedsRefresh reports whether the access token expires within skew of now.
func (r *Record) NeedsRefresh(now time.Time, skew time.Duration) bool {
	if r.ExpiresAt.IsZero() {
		return true
	}
	return !now.Add(skew).Before(r.ExpiresAt)
}

// IsTestCredential reports whether the record was created by test mode.
func (r *Record) IsTestCredential() bool {
	return strings.HasPrefix(r.AccessToken, TestTokenPrefix)
}

// Token converts the record into an oauth2.Token.
func (r *Record) Token() *oauth2.Token {
	tokenType := r.TokenType
	if tokenType == "" {
		tokenType = "Bearer"
	}
	return &oauth2.Token{
		AccessToken:  r.AccessToken,
		RefreshToken: r.RefreshToken,
		TokenType:    tokenType,
		Expiry:       r.ExpiresAt,
	}
}

// Clone returns a deep copy so callers never share the refresher's record.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	c := *r
	c.Scopes = append([]string(nil), r.Scopes...)
	c.Consent.RequestedScopes = append([]string(nil), r.Consent.RequestedScopes...)
	return &c
}

func newRecord(resp *TokenResponse, issuedAt time.Time, source Source, requested []string) *Record {
	r := &Record{
		AccessToken:  resp.AccessToken,
		RefreshToken: resp.RefreshToken,
		TokenType:    resp.TokenType,
		Scopes:       strings.Fields(resp.Scope),
		Consent: ConsentMetadata{
			GrantedAt:       issuedAt,
			Source:          source,
			RequestedScopes: append([]string(nil), requested...),
		},
	}
	r.setExpiry(issuedAt, resp.ExpiresIn)
	return r
}

// apply merges a refresh response into r. The refresh token is only
// replaced when the provider issued a new one.
func (r *Record) apply(resp *TokenResponse, issuedAt time.Time, requested []string) {
	r.AccessToken = resp.AccessToken
	if resp.RefreshToken != "" {
		r.RefreshToken = resp.RefreshToken
	}
	if resp.TokenType != "" {
		r.TokenType = resp.TokenType
	}
	if scopes := strings.Fields(resp.Scope); len(scopes) > 0 {
		r.Scopes = scopes
	}
	r.Consent = ConsentMetadata{
		GrantedAt:       issuedAt,
		Source:          SourceRefresh,
		RequestedScopes: append([]string(nil), requested...),
	}
	r.setExpiry(issuedAt, resp.ExpiresIn)
}

// DefaultTokenLifetime is assumed when a token response carries no
// usable expires_in.
const DefaultTokenLifetime = time.Hour

func (r *Record) setExpiry(issuedAt time.Time, expiresIn int64) {
	lifetime := time.Duration(expiresIn) * time.Second
	if expiresIn <= 0 {
		lifetime = DefaultTokenLifetime
	}
	r.IssuedAt = issuedAt
	r.ExpiresAt = issuedAt.Add(lifetime)
}
