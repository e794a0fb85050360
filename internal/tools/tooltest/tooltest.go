// Package tooltest has helpers for testing MCP tool handlers against a
// test mode ServerContext backed by the in-process simulator.
package tooltest

import (
	"context"
	"encoding/json"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"
	"github.com/stretchr/testify/require"

	"github.com/teemow/mailgate/internal/config"
	"github.com/teemow/mailgate/internal/server"
)

var codePattern = regexp.MustCompile(`token to confirm: ([0-9A-F]{6})`)

// NewServerContext returns a test mode context with the admin-plus scopes
// and an installed test credential. mutate runs before the context is
// built.
func NewServerContext(t *testing.T, mutate ...func(*config.Config)) *server.ServerContext {
	t.Helper()
	dir := t.TempDir()
	cfg := config.Default()
	cfg.TestMode = true
	cfg.EncryptionKey = strings.Repeat("9a", 32)
	cfg.TokenFile = filepath.Join(dir, "tokens.json")
	cfg.ConsentFile = filepath.Join(dir, "consent.json")
	cfg.SensitiveLog = filepath.Join(dir, "sensitive.log")
	cfg.ScopeProfile = "admin-plus"
	cfg.Scopes = config.ProfileScopes["admin-plus"]
	for _, m := range mutate {
		m(&cfg)
	}

	sc, err := server.NewServerContext(context.Background(), server.Options{Config: cfg})
	require.NoError(t, err)
	t.Cleanup(func() { _ = sc.Shutdown() })

	_, err = sc.Refresher().StoreTestCredential(context.Background())
	require.NoError(t, err)
	return sc
}

// Call invokes h with args.
func Call(t *testing.T, h mcpserver.ToolHandlerFunc, args map[string]any) *mcp.CallToolResult {
	t.Helper()
	var req mcp.CallToolRequest
	req.Params.Arguments = args
	res, err := h(context.Background(), req)
	require.NoError(t, err)
	require.NotNil(t, res)
	return res
}

// Text returns the first text content of res.
func Text(t *testing.T, res *mcp.CallToolResult) string {
	t.Helper()
	require.NotEmpty(t, res.Content)
	c, ok := res.Content[0].(mcp.TextContent)
	require.True(t, ok, "first content is %T", res.Content[0])
	return c.Text
}

// Code extracts the inline confirmation code from a prompt.
func Code(t *testing.T, prompt string) string {
	t.Helper()
	m := codePattern.FindStringSubmatch(prompt)
	require.Len(t, m, 2, "no confirmation code in %q", prompt)
	return m[1]
}

// Approve calls a gated handler, reads the code from the prompt and calls
// it again with the code. It returns the second result.
func Approve(t *testing.T, h mcpserver.ToolHandlerFunc, args map[string]any) *mcp.CallToolResult {
	t.Helper()
	first := Call(t, h, args)
	require.False(t, first.IsError, Text(t, first))
	code := Code(t, Text(t, first))

	second := make(map[string]any, len(args)+1)
	for k, v := range args {
		second[k] = v
	}
	second["confirmationToken"] = code
	return Call(t, h, second)
}

// ToolNames lists the tools registered on s, sorted.
func ToolNames(t *testing.T, s *mcpserver.MCPServer) []string {
	t.Helper()
	resp := s.HandleMessage(context.Background(), json.RawMessage(`{"jsonrpc":"2.0","id":1,"method":"tools/list"}`))
	data, err := json.Marshal(resp)
	require.NoError(t, err)

	var decoded struct {
		Result struct {
			Tools []struct {
				Name string `json:"name"`
			} `json:"tools"`
		} `json:"result"`
	}
	require.NoError(t, json.Unmarshal(data, &decoded))

	names := make([]string, 0, len(decoded.Result.Tools))
	for _, tool := range decoded.Result.Tools {
		names = append(names, tool.Name)
	}
	sort.Strings(names)
	return names
}

// NewMCPServer returns an MCP server with tool support for registration
// tests.
func NewMCPServer() *mcpserver.MCPServer {
	return mcpserver.NewMCPServer("mailgate-test", "test", mcpserver.WithToolCapabilities(false))
}
