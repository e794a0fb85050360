package common

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/teemow/mailgate/internal/credential"
	"github.com/teemow/mailgate/internal/gate"
	"github.com/teemow/mailgate/internal/graph"
	"github.com/teemow/mailgate/internal/server"
)

// AuthRequiredMessage tells the agent to authenticate first.
const AuthRequiredMessage = "Authentication required. Please use the 'authenticate' tool first."

// RunGated runs a through the action gate with the confirmationToken from
// args and renders the outcome. Refusals are error results; a confirmation
// prompt and a pending approval are not.
func RunGated(ctx context.Context, sc *server.ServerContext, a gate.Action, args map[string]any) (*mcp.CallToolResult, error) {
	res, err := sc.Gate().Run(ctx, a, String(args, ConfirmationTokenArg))
	if err != nil {
		return mcp.NewToolResultError(FailureText(string(a.Type()), err)), nil
	}
	switch res.Status {
	case gate.StatusExecuted, gate.StatusConfirmationRequired, gate.StatusPending:
		return mcp.NewToolResultText(res.Text()), nil
	default:
		return mcp.NewToolResultError(res.Text()), nil
	}
}

// FailureText describes a failed remote call. Credential problems become
// the authentication hint.
func FailureText(what string, err error) string {
	if errors.Is(err, credential.ErrNoCredential) || errors.Is(err, graph.ErrUnauthorized) {
		return AuthRequiredMessage
	}
	return fmt.Sprintf("Error running %s: %v", what, err)
}

// JSONResult renders v as indented JSON, optionally after a heading line.
func JSONResult(heading string, v any) *mcp.CallToolResult {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to encode result: %v", err))
	}
	if heading == "" {
		return mcp.NewToolResultText(string(data))
	}
	return mcp.NewToolResultText(heading + "\n" + string(data))
}
