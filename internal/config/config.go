package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/microsoft"
	"gopkg.in/yaml.v3"
)

const (
	userConfigDir  = ".config/mailgate"
	configFileName = "config.yaml"

	// DefaultRedirectURI is where the provider sends the browser after consent.
	DefaultRedirectURI = "http://localhost:3333/auth/callback"

	// DefaultGraphEndpoint is the base URL of the remote mailbox API.
	DefaultGraphEndpoint = "https://graph.microsoft.com/v1.0/"

	// DefaultConfirmPort is the port of the out-of-band confirmation service.
	DefaultConfirmPort = 4000

	// DefaultSendRateLimit caps sendEmail executions per minute.
	DefaultSendRateLimit = 5

	defaultTokenFile    = ".outlook-mcp-tokens.json"
	defaultConsentFile  = ".outlook-mcp-consent.json"
	defaultSensitiveLog = "outlook-mcp-sensitive-actions.log"
)

// ConfirmConfig configures the human confirmation gate.
type ConfirmConfig struct {
	// Mode is "inline" (code typed back to the agent) or "oob" (browser page).
	Mode string `yaml:"mode"`

	// Host and Port locate the out-of-band confirmation service.
	Host string `yaml:"host"`
	Port int    `yaml:"port"`

	// SecurePrompt enables the gate. Disabling it is refused in production.
	SecurePrompt bool `yaml:"secure_prompt"`
}

// Config holds everything mailgate needs at runtime.
type Config struct {
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`
	RedirectURI  string `yaml:"redirect_uri"`

	// ScopeProfile names an entry in ProfileScopes. Scopes holds the
	// resolved list after Load.
	ScopeProfile string   `yaml:"scope_profile"`
	Scopes       []string `yaml:"scopes"`

	AuthEndpoint  string `yaml:"auth_endpoint"`
	TokenEndpoint string `yaml:"token_endpoint"`
	GraphEndpoint string `yaml:"graph_endpoint"`

	// EncryptionKey is the hex encoded 256-bit credential key. It is only
	// ever read from the environment.
	EncryptionKey string `yaml:"-"`

	TokenFile    string `yaml:"token_file"`
	ConsentFile  string `yaml:"consent_file"`
	SensitiveLog string `yaml:"sensitive_log"`

	Confirm ConfirmConfig `yaml:"confirm"`

	SendRateLimit int `yaml:"send_rate_limit_per_minute"`

	TestMode   bool `yaml:"test_mode"`
	Production bool `yaml:"production"`

	// Source records where each credential came from, for status output.
	CredentialSource string `yaml:"-"`
}

// DefaultConfigPath returns ~/.config/mailgate/config.yaml.
func DefaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(userConfigDir, configFileName)
	}
	return filepath.Join(home, userConfigDir, configFileName)
}

// Default returns the built-in configuration.
func Default() Config {
	home := homeDir()
	endpoint := microsoft.AzureADEndpoint("common")
	return Config{
		RedirectURI:   DefaultRedirectURI,
		AuthEndpoint:  endpoint.AuthURL,
		TokenEndpoint: endpoint.TokenURL,
		GraphEndpoint: DefaultGraphEndpoint,
		TokenFile:     filepath.Join(home, defaultTokenFile),
		ConsentFile:   filepath.Join(home, defaultConsentFile),
		SensitiveLog:  filepath.Join(home, defaultSensitiveLog),
		Confirm: ConfirmConfig{
			Mode:         "inline",
			Host:         "localhost",
			Port:         DefaultConfirmPort,
			SecurePrompt: true,
		},
		SendRateLimit: DefaultSendRateLimit,
	}
}

// Load builds a Config from defaults, the YAML file at path (a missing file
// is not an error; an empty path means DefaultConfigPath) and the environment.
// The result has not been validated.
func Load(path string) (Config, error) {
	return load(path, os.Getenv)
}

func load(path string, getenv func(string) string) (Config, error) {
	cfg := Default()

	if path == "" {
		path = DefaultConfigPath()
	}
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("error loading config from %s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist):
		// defaults only
	default:
		return Config{}, fmt.Errorf("failed to read config %s: %w", path, err)
	}

	if err := cfg.applyEnv(getenv); err != nil {
		return Config{}, err
	}

	scopes, err := ResolveScopes(cfg.ScopeProfile, cfg.Scopes)
	if err != nil {
		return Config{}, &Error{Field: "scopes", Reason: err.Error()}
	}
	cfg.Scopes = scopes
	cfg.expandPaths()
	return cfg, nil
}

func (c *Config) applyEnv(getenv func(string) string) error {
	if v := firstNonEmpty(getenv("OUTLOOK_CLIENT_ID"), getenv("MS_CLIENT_ID")); v != "" {
		c.ClientID = v
		if getenv("OUTLOOK_CLIENT_ID") != "" {
			c.CredentialSource = "OUTLOOK_*"
		} else {
			c.CredentialSource = "MS_*"
		}
	} else if c.ClientID != "" {
		c.CredentialSource = "config file"
	}
	if v := firstNonEmpty(getenv("OUTLOOK_CLIENT_SECRET"), getenv("MS_CLIENT_SECRET")); v != "" {
		c.ClientSecret = v
	}

	setString(&c.RedirectURI, getenv("MS_REDIRECT_URI"))
	setString(&c.AuthEndpoint, getenv("MS_AUTH_ENDPOINT"))
	setString(&c.TokenEndpoint, getenv("MS_TOKEN_ENDPOINT"))
	setString(&c.GraphEndpoint, getenv("GRAPH_API_ENDPOINT"))
	setString(&c.TokenFile, getenv("MAILGATE_TOKEN_FILE"))
	setString(&c.ConsentFile, getenv("MAILGATE_CONSENT_FILE"))
	setString(&c.SensitiveLog, getenv("SENSITIVE_ACTION_LOG"))
	setString(&c.ScopeProfile, getenv("OUTLOOK_SCOPE_PROFILE"))
	setString(&c.Confirm.Mode, getenv("SECURE_CONFIRM_MODE"))
	setString(&c.Confirm.Host, getenv("SERVER_HOST"))

	c.EncryptionKey = strings.TrimSpace(getenv("MCP_TOKEN_KEY"))

	if v := getenv("OUTLOOK_SCOPES"); v != "" {
		c.Scopes = ParseScopeList(v)
	} else if v := getenv("MS_SCOPES"); v != "" {
		c.Scopes = ParseScopeList(v)
	}

	if v := getenv("SECURE_CONFIRM_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return &Error{Field: "SECURE_CONFIRM_PORT", Reason: fmt.Sprintf("not a number: %q", v)}
		}
		c.Confirm.Port = port
	}
	if v := getenv("SEND_RATE_LIMIT_PER_MINUTE"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return &Error{Field: "SEND_RATE_LIMIT_PER_MINUTE", Reason: fmt.Sprintf("not a number: %q", v)}
		}
		c.SendRateLimit = n
	}

	if strings.EqualFold(strings.TrimSpace(getenv("SECURE_PROMPT_MODE")), "false") {
		c.Confirm.SecurePrompt = false
	}
	if strings.EqualFold(strings.TrimSpace(getenv("USE_TEST_MODE")), "true") {
		c.TestMode = true
	}
	if getenv("NODE_ENV") == "production" || getenv("MCP_ENV") == "production" {
		c.Production = true
	}
	return nil
}

func (c *Config) expandPaths() {
	c.TokenFile = expandHome(c.TokenFile)
	c.ConsentFile = expandHome(c.ConsentFile)
	c.SensitiveLog = expandHome(c.SensitiveLog)
}

// OAuth2Config returns the authorization-code configuration for the provider.
func (c Config) OAuth2Config() *oauth2.Config {
	return &oauth2.Config{
		ClientID:     c.ClientID,
		ClientSecret: c.ClientSecret,
		RedirectURL:  c.RedirectURI,
		Scopes:       append([]string(nil), c.Scopes...),
		Endpoint: oauth2.Endpoint{
			AuthURL:   c.AuthEndpoint,
			TokenURL:  c.TokenEndpoint,
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}
}

// ConfirmBaseURL is the externally reachable base URL of the confirmation service.
func (c Config) ConfirmBaseURL() string {
	return fmt.Sprintf("http://%s:%d", c.Confirm.Host, c.Confirm.Port)
}

// ConfirmListenAddr is the address the confirmation service binds to.
func (c Config) ConfirmListenAddr() string {
	return fmt.Sprintf("%s:%d", c.Confirm.Host, c.Confirm.Port)
}

func homeDir() string {
	if h, err := os.UserHomeDir(); err == nil && h != "" {
		return h
	}
	return os.TempDir()
}

func expandHome(p string) string {
	if p == "~" {
		return homeDir()
	}
	if strings.HasPrefix(p, "~/") {
		return filepath.Join(homeDir(), p[2:])
	}
	return p
}

func setString(dst *string, v string) {
	if v = strings.TrimSpace(v); v != "" {
		*dst = v
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}
