package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/teemow/mailgate/internal/config"
	"github.com/teemow/mailgate/internal/server"
	"github.com/teemow/mailgate/internal/tools/common"
)

func newGenerateDocsCmd() *cobra.Command {
	var (
		outputFile string
	)

	cmd := &cobra.Command{
		Use:   "generate-docs",
		Short: "Generate MCP tool documentation",
		Long: `Generate markdown documentation for all available MCP tools.
This command introspects the registered tools and outputs their documentation
in markdown format, ensuring the documentation is always accurate and in sync
with the actual tool implementations.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGenerateDocs(outputFile)
		},
	}

	cmd.Flags().StringVarP(&outputFile, "output", "o", "", "Output file (default: stdout)")

	return cmd
}

func runGenerateDocs(outputFile string) error {
	dir, err := os.MkdirTemp("", "mailgate-docs-")
	if err != nil {
		return err
	}
	defer func() { _ = os.RemoveAll(dir) }()

	// Tools are only introspected, so a test-mode context without
	// credentials is enough.
	serverContext, err := server.NewServerContext(context.Background(), server.Options{Config: docsConfig(dir)})
	if err != nil {
		return fmt.Errorf("failed to create server context: %w", err)
	}
	defer func() {
		_ = serverContext.Shutdown()
	}()

	groups, err := collectToolGroups(serverContext)
	if err != nil {
		return err
	}
	markdown := generateToolsMarkdown(groups)

	if outputFile != "" {
		if err := os.WriteFile(outputFile, []byte(markdown), 0644); err != nil {
			return fmt.Errorf("failed to write output file: %w", err)
		}
		fmt.Fprintf(os.Stderr, "Documentation written to: %s\n", outputFile)
	} else {
		fmt.Print(markdown)
	}

	return nil
}

func docsConfig(dir string) config.Config {
	cfg := config.Default()
	cfg.TestMode = true
	cfg.ScopeProfile = "admin-plus"
	cfg.Scopes = config.ProfileScopes[cfg.ScopeProfile]
	cfg.TokenFile = filepath.Join(dir, "tokens.json")
	cfg.ConsentFile = filepath.Join(dir, "consent.json")
	cfg.SensitiveLog = filepath.Join(dir, "sensitive.log")
	return cfg
}

type docGroup struct {
	name  string
	tools []mcp.Tool
}

// collectToolGroups registers each group on its own MCP server, with
// mutating tools included, and returns the tools sorted by name.
func collectToolGroups(sc *server.ServerContext) ([]docGroup, error) {
	groups := make([]docGroup, 0, len(toolGroups))
	for _, g := range toolGroups {
		mcpSrv := mcpserver.NewMCPServer("mailgate", version, mcpserver.WithToolCapabilities(true))
		if err := g.register(mcpSrv, sc, false); err != nil {
			return nil, fmt.Errorf("failed to register %s tools: %w", g.name, err)
		}

		serverTools := mcpSrv.ListTools()
		tools := make([]mcp.Tool, 0, len(serverTools))
		for _, serverTool := range serverTools {
			tools = append(tools, serverTool.Tool)
		}
		sort.Slice(tools, func(i, j int) bool {
			return tools[i].Name < tools[j].Name
		})
		groups = append(groups, docGroup{name: g.name, tools: tools})
	}
	return groups, nil
}

func generateToolsMarkdown(groups []docGroup) string {
	var sb strings.Builder

	// Header
	sb.WriteString("# MCP Tools Reference\n\n")
	sb.WriteString("This document provides a complete reference of all tools available when running mailgate as an MCP server.\n\n")
	sb.WriteString("**Note:** This documentation is automatically generated from the tool definitions.\n\n")

	// Table of contents
	sb.WriteString("## Table of Contents\n\n")
	for _, g := range groups {
		sb.WriteString(fmt.Sprintf("- [%s](#%s)\n", g.name+" Tools", anchor(g.name+" Tools")))
	}
	sb.WriteString("\n")

	sb.WriteString("## Confirmation\n\n")
	sb.WriteString("Tools marked **gated** do not act on the first call. They return a confirmation prompt instead:\n\n")
	sb.WriteString("- **inline mode:** the human reads a 6 character code and the agent repeats the call with `confirmationToken` set to it\n")
	sb.WriteString("- **oob mode:** the human approves the action on the linked browser page and the agent repeats the call\n")
	sb.WriteString("- **binding:** an approval only covers the exact parameters it was issued for and is used once\n")
	sb.WriteString("- **read-only:** gated tools are not registered when the server runs with `--read-only`\n\n")

	for _, g := range groups {
		sb.WriteString(fmt.Sprintf("## %s Tools\n\n", g.name))
		for _, tool := range g.tools {
			sb.WriteString(generateToolMarkdown(tool))
			sb.WriteString("\n")
		}
	}

	return sb.String()
}

func anchor(heading string) string {
	return strings.ToLower(strings.ReplaceAll(heading, " ", "-"))
}

func generateToolMarkdown(tool mcp.Tool) string {
	var sb strings.Builder

	// Tool name
	sb.WriteString(fmt.Sprintf("### %s\n\n", tool.Name))

	if isGated(tool) {
		sb.WriteString("**gated**\n\n")
	}

	// Description
	if tool.Description != "" {
		sb.WriteString(fmt.Sprintf("%s\n\n", tool.Description))
	}

	// Input schema
	if len(tool.InputSchema.Properties) > 0 {
		sb.WriteString("**Arguments:**\n")

		// Sort properties for consistent output
		propNames := make([]string, 0, len(tool.InputSchema.Properties))
		for name := range tool.InputSchema.Properties {
			propNames = append(propNames, name)
		}
		sort.Strings(propNames)

		for _, name := range propNames {
			propMap, ok := tool.InputSchema.Properties[name].(map[string]any)
			if !ok {
				continue
			}

			requiredStr := "optional"
			if slices.Contains(tool.InputSchema.Required, name) {
				requiredStr = "required"
			}
			propType := getPropertyType(propMap)

			sb.WriteString(fmt.Sprintf("- `%s` (%s, %s): ", name, propType, requiredStr))
			if desc, ok := propMap["description"].(string); ok {
				sb.WriteString(desc)
			} else {
				sb.WriteString(fmt.Sprintf("%s parameter", propType))
			}
			sb.WriteString("\n")
		}
		sb.WriteString("\n")
	}

	return sb.String()
}

// isGated reports whether the tool takes a confirmation token.
func isGated(tool mcp.Tool) bool {
	_, ok := tool.InputSchema.Properties[common.ConfirmationTokenArg]
	return ok
}

func getPropertyType(prop map[string]any) string {
	if t, ok := prop["type"].(string); ok {
		return t
	}
	return "any"
}
