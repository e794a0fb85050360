package config

import (
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"

	"github.com/teemow/mailgate/internal/confirm"
)

// encryptionKeyHexLen is the length of a hex encoded 256-bit key.
const encryptionKeyHexLen = 64

// Validate checks the configuration and fails closed. All problems are
// returned together.
func (c Config) Validate() error {
	var errs []error
	add := func(field, format string, args ...any) {
		errs = append(errs, &Error{Field: field, Reason: fmt.Sprintf(format, args...)})
	}

	if c.Production {
		if c.TestMode {
			add("USE_TEST_MODE", "test mode must not be enabled in production")
		}
		if !c.Confirm.SecurePrompt {
			add("SECURE_PROMPT_MODE", "secure prompting must be enabled in production")
		}
	}

	if !c.TestMode {
		if err := ValidateEncryptionKey(c.EncryptionKey); err != nil {
			add("MCP_TOKEN_KEY", "%v", err)
		}
		if c.ClientID == "" || c.ClientSecret == "" {
			add("client credentials", "set OUTLOOK_CLIENT_ID/OUTLOOK_CLIENT_SECRET or MS_CLIENT_ID/MS_CLIENT_SECRET")
		}
	}

	if _, err := confirm.ParseMode(c.Confirm.Mode); err != nil {
		add("SECURE_CONFIRM_MODE", "%v", err)
	}
	if c.Confirm.Port <= 0 || c.Confirm.Port > 65535 {
		add("SECURE_CONFIRM_PORT", "port %d out of range", c.Confirm.Port)
	}
	if c.SendRateLimit <= 0 {
		add("SEND_RATE_LIMIT_PER_MINUTE", "must be positive, got %d", c.SendRateLimit)
	}

	for name, raw := range map[string]string{
		"MS_TOKEN_ENDPOINT":  c.TokenEndpoint,
		"MS_AUTH_ENDPOINT":   c.AuthEndpoint,
		"MS_REDIRECT_URI":    c.RedirectURI,
		"GRAPH_API_ENDPOINT": c.GraphEndpoint,
	} {
		if u, err := url.Parse(raw); err != nil || u.Scheme == "" || u.Host == "" {
			add(name, "invalid URL %q", raw)
		}
	}

	if c.ScopeProfile != "" {
		if _, ok := ProfileScopes[c.ScopeProfile]; !ok {
			add("OUTLOOK_SCOPE_PROFILE", "unknown profile %q", c.ScopeProfile)
		}
	}
	for _, s := range c.Scopes {
		if !IsAllowedScope(s) {
			add("scopes", "scope %q is not allowed", s)
		}
	}

	return errors.Join(errs...)
}

// ValidateEncryptionKey checks that key is 64 hex characters.
func ValidateEncryptionKey(key string) error {
	if key == "" {
		return errors.New("encryption key is required")
	}
	if len(key) != encryptionKeyHexLen {
		return fmt.Errorf("encryption key must be %d hex characters, got %d", encryptionKeyHexLen, len(key))
	}
	if _, err := hex.DecodeString(key); err != nil {
		return errors.New("encryption key is not valid hex")
	}
	return nil
}

// ConfirmMode returns the parsed confirmation mode.
func (c Config) ConfirmMode() confirm.Mode {
	m, _ := confirm.ParseMode(c.Confirm.Mode)
	return m
}
