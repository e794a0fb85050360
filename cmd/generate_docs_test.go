package cmd

import (
	"context"
	"strings"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teemow/mailgate/internal/server"
)

func TestGenerateToolsMarkdown(t *testing.T) {
	sc, err := server.NewServerContext(context.Background(), server.Options{Config: docsConfig(t.TempDir())})
	require.NoError(t, err)
	t.Cleanup(func() { _ = sc.Shutdown() })

	groups, err := collectToolGroups(sc)
	require.NoError(t, err)
	require.Len(t, groups, len(toolGroups))

	md := generateToolsMarkdown(groups)
	assert.True(t, strings.HasPrefix(md, "# MCP Tools Reference"))
	assert.Contains(t, md, "- [Mail Tools](#mail-tools)")
	assert.Contains(t, md, "## Calendar Tools")
	assert.Contains(t, md, "### send-email\n\n**gated**")
	assert.NotContains(t, md, "### list-folders\n\n**gated**")
	assert.Contains(t, md, "- `to` (string, required)")
}

func TestGenerateToolMarkdown(t *testing.T) {
	tool := mcp.NewTool("demo",
		mcp.WithDescription("Demo tool"),
		mcp.WithString("name", mcp.Required(), mcp.Description("The name")),
		mcp.WithNumber("count"),
	)

	md := generateToolMarkdown(tool)
	assert.Equal(t, "### demo\n\nDemo tool\n\n**Arguments:**\n"+
		"- `count` (number, optional): number parameter\n"+
		"- `name` (string, required): The name\n\n", md)
}
