package auth_tools

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/teemow/mailgate/internal/graph"
	"github.com/teemow/mailgate/internal/server"
	"github.com/teemow/mailgate/internal/tools/common"
)

// Status texts shared with tests.
const (
	NotAuthenticated      = "Not authenticated"
	NotAuthenticatedStale = "Not authenticated (leftover test-mode token, please re-authenticate)"
	NotAuthenticatedExp   = "Not authenticated (token expired)"
	NotAuthenticatedProbe = "Not authenticated (stored token rejected by Graph API 401/403)"
	AuthenticatedAndReady = "Authenticated and ready"
)

type authTools struct {
	sc      *server.ServerContext
	version string
	states  *stateStore
}

// RegisterAuthTools registers the credential tools with the MCP server.
// They are available in read-only mode as well.
func RegisterAuthTools(s *mcpserver.MCPServer, sc *server.ServerContext, version string) error {
	t := &authTools{sc: sc, version: version, states: newStateStore(nil)}

	aboutTool := mcp.NewTool("about",
		mcp.WithDescription("Returns information about this mailbox assistant server"),
	)
	s.AddTool(aboutTool, common.InstrumentedToolHandler("about", sc, t.about))

	authenticateTool := mcp.NewTool("authenticate",
		mcp.WithDescription("Authenticate with Microsoft Graph API to access Outlook data"),
		mcp.WithBoolean("force",
			mcp.Description("Force re-authentication even if already authenticated"),
		),
	)
	s.AddTool(authenticateTool, common.InstrumentedToolHandler("authenticate", sc, t.authenticate))

	completeTool := mcp.NewTool("complete-authentication",
		mcp.WithDescription("Complete a login started with 'authenticate' by redeeming the authorization code"),
		mcp.WithString("code",
			mcp.Required(),
			mcp.Description("The authorization code, or the full redirect URL the browser ended up on"),
		),
		mcp.WithString("state",
			mcp.Description("The state value from the redirect URL. Not needed when code is the full URL."),
		),
	)
	s.AddTool(completeTool, common.InstrumentedToolHandler("complete-authentication", sc, t.complete))

	statusTool := mcp.NewTool("check-auth-status",
		mcp.WithDescription("Check the current authentication status with Microsoft Graph API"),
	)
	s.AddTool(statusTool, common.InstrumentedToolHandler("check-auth-status", sc, t.status))

	return nil
}

func (t *authTools) about(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	cfg := t.sc.Config()
	return mcp.NewToolResultText(fmt.Sprintf(`mailgate Outlook Assistant MCP Server %s

Provides access to Microsoft Outlook email, calendar, contacts and mailbox settings through Microsoft Graph API.
Sensitive actions are held until a human approves them (confirmation mode: %s, scope profile: %s).`,
		t.version, t.sc.Registry().Mode(), cfg.ScopeProfile)), nil
}

func (t *authTools) authenticate(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, _ := request.Params.Arguments.(map[string]any)
	cfg := t.sc.Config()

	if cfg.TestMode {
		if _, err := t.sc.Refresher().StoreTestCredential(ctx); err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("Failed to store test credential: %v", err)), nil
		}
		return mcp.NewToolResultText("Successfully authenticated with Microsoft Graph API (test mode)\n" +
			"NOTE: Test access token is distinct from any secure confirmation codes. Confirmation codes NEVER grant API access."), nil
	}

	if cfg.ClientID == "" {
		return mcp.NewToolResultError("No client id is configured. Set OUTLOOK_CLIENT_ID or MS_CLIENT_ID and restart the server."), nil
	}
	if !common.Bool(args, "force") && t.sc.CredentialState() == server.CredentialAuthenticated {
		return mcp.NewToolResultText("Already authenticated. Use force=true to start a new login."), nil
	}

	authURL := cfg.OAuth2Config().AuthCodeURL(t.states.issue())
	return mcp.NewToolResultText(fmt.Sprintf(`AUTHENTICATION FLOW:
Visit this URL in your browser to grant access: %s
After signing in, pass the address the browser was redirected to as 'code' to the complete-authentication tool.
IMPORTANT: These OAuth tokens are NEVER the same as secure confirmation codes.
Secure confirmation codes only approve a single sensitive action and cannot be reused or converted to OAuth credentials.`, authURL)), nil
}

func (t *authTools) complete(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, _ := request.Params.Arguments.(map[string]any)
	if t.sc.Config().TestMode {
		return mcp.NewToolResultError("Test mode is active. Use the 'authenticate' tool instead."), nil
	}

	code, state, err := parseCallback(common.String(args, "code"), common.String(args, "state"))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if !t.states.consume(state) {
		return mcp.NewToolResultError("Unknown or expired login state. Run 'authenticate' again."), nil
	}

	rec, err := t.sc.Refresher().Exchange(ctx, code)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to complete authentication: %v", err)), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("Authentication complete. Granted scopes: %s",
		strings.Join(rec.Scopes, " "))), nil
}

// parseCallback accepts either a bare code and state or the redirect URL
// carrying both.
func parseCallback(code, state string) (string, string, error) {
	if code == "" {
		return "", "", errors.New("code is required")
	}
	if strings.Contains(code, "code=") {
		raw := code
		if i := strings.Index(raw, "?"); i >= 0 {
			raw = raw[i+1:]
		}
		q, err := url.ParseQuery(raw)
		if err != nil {
			return "", "", fmt.Errorf("invalid redirect URL: %w", err)
		}
		if msg := q.Get("error"); msg != "" {
			return "", "", fmt.Errorf("login failed: %s %s", msg, q.Get("error_description"))
		}
		code = q.Get("code")
		if state == "" {
			state = q.Get("state")
		}
	}
	if code == "" {
		return "", "", errors.New("the redirect URL carries no code")
	}
	if state == "" {
		return "", "", errors.New("state is required")
	}
	return code, state, nil
}

func (t *authTools) status(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	cfg := t.sc.Config()

	switch t.sc.CredentialState() {
	case server.CredentialAbsent:
		return mcp.NewToolResultText(NotAuthenticated), nil
	case server.CredentialTestLeftover:
		return mcp.NewToolResultText(NotAuthenticatedStale), nil
	case server.CredentialExpired:
		if cfg.TestMode {
			return mcp.NewToolResultText(NotAuthenticatedExp), nil
		}
		if _, err := t.sc.Refresher().Refresh(ctx); err != nil {
			t.sc.Logger().Debug("refresh during status check failed", slog.String("error", err.Error()))
			return mcp.NewToolResultText(NotAuthenticatedExp), nil
		}
	}

	rec := t.sc.Refresher().Current()
	if rec == nil {
		return mcp.NewToolResultText(NotAuthenticated), nil
	}

	tokenType := "real"
	if rec.IsTestCredential() {
		tokenType = "test"
	}
	details := []string{
		AuthenticatedAndReady,
		"profile=" + cfg.ScopeProfile,
		fmt.Sprintf("test_mode=%t", cfg.TestMode),
		"token_type=" + tokenType,
		"expires_at=" + rec.ExpiresAt.UTC().Format(time.RFC3339),
	}

	if !cfg.TestMode {
		verified := false
		if _, err := t.sc.Probe(ctx); err != nil {
			if errors.Is(err, graph.ErrUnauthorized) || errors.Is(err, graph.ErrForbidden) {
				return mcp.NewToolResultText(NotAuthenticatedProbe), nil
			}
			t.sc.Logger().Warn("remote probe failed during auth status", slog.String("error", err.Error()))
		} else {
			verified = true
		}
		details = append(details, fmt.Sprintf("probe_verified=%t", verified))
	}

	return mcp.NewToolResultText(strings.Join(details, " | ")), nil
}
