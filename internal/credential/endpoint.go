package credential

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"
)

// DefaultHTTPTimeout bounds each call to the token endpoint.
const DefaultHTTPTimeout = 15 * time.Second

const maxTokenResponseSize = 1 << 20

// TokenResponse is the token endpoint's success body.
type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token,omitempty"`
	ExpiresIn    int64  `json:"expires_in"`
	Scope        string `json:"scope,omitempty"`
	TokenType    string `json:"token_type,omitempty"`
}

type errorResponse struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
}

// TokenEndpoint performs the two grants this installation needs.
type TokenEndpoint interface {
	Exchange(ctx context.Context, code string) (*TokenResponse, error)
	Refresh(ctx context.Context, refreshToken string) (*TokenResponse, error)
}

// Endpoint talks to the provider's token endpoint with form-encoded POSTs.
type Endpoint struct {
	config     *oauth2.Config
	httpClient *http.Client
}

var _ TokenEndpoint = (*Endpoint)(nil)

// NewEndpoint creates an Endpoint. A nil httpClient gets DefaultHTTPTimeout.
func NewEndpoint(config *oauth2.Config, httpClient *http.Client) *Endpoint {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultHTTPTimeout}
	}
	return &Endpoint{config: config, httpClient: httpClient}
}

// Scopes returns the scopes sent with every grant.
func (e *Endpoint) Scopes() []string {
	return e.config.Scopes
}

// Exchange redeems an authorization code.
func (e *Endpoint) Exchange(ctx context.Context, code string) (*TokenResponse, error) {
	data := e.baseForm("authorization_code")
	data.Set("code", code)
	return e.do(ctx, data)
}

// Refresh redeems a refresh token.
func (e *Endpoint) Refresh(ctx context.Context, refreshToken string) (*TokenResponse, error) {
	if refreshToken == "" {
		return nil, ErrNoRefreshToken
	}
	data := e.baseForm("refresh_token")
	data.Set("refresh_token", refreshToken)
	return e.do(ctx, data)
}

func (e *Endpoint) baseForm(grantType string) url.Values {
	data := url.Values{}
	data.Set("client_id", e.config.ClientID)
	data.Set("client_secret", e.config.ClientSecret)
	data.Set("grant_type", grantType)
	data.Set("redirect_uri", e.config.RedirectURL)
	if len(e.config.Scopes) > 0 {
		data.Set("scope", strings.Join(e.config.Scopes, " "))
	}
	return data
}

func (e *Endpoint) do(ctx context.Context, data url.Values) (*TokenResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.config.Endpoint.TokenURL, strings.NewReader(data.Encode()))
	if err != nil {
		return nil, fmt.Errorf("failed to create token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return nil, newTransportError(err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxTokenResponseSize))
	if err != nil {
		return nil, newTransportError(fmt.Errorf("failed to read token response: %w", err))
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		pe := &ProviderError{Status: resp.StatusCode}
		var er errorResponse
		if json.Unmarshal(body, &er) == nil {
			pe.Code = er.Error
			pe.Description = er.ErrorDescription
		}
		if pe.Description == "" {
			pe.Description = http.StatusText(resp.StatusCode)
		}
		return nil, pe
	}

	var token TokenResponse
	if err := json.Unmarshal(body, &token); err != nil {
		return nil, &ProviderError{Code: "invalid_response", Description: "failed to parse token response", err: err}
	}
	if token.AccessToken == "" {
		return nil, &ProviderError{Code: "invalid_response", Description: "token response has no access_token"}
	}
	return &token, nil
}
