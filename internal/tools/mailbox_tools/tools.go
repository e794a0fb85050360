package mailbox_tools

import (
	"fmt"

	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/teemow/mailgate/internal/server"
)

// RegisterMailboxTools registers the rule and mailbox settings tools.
func RegisterMailboxTools(s *mcpserver.MCPServer, sc *server.ServerContext, readOnly bool) error {
	if err := registerRuleTools(s, sc, readOnly); err != nil {
		return fmt.Errorf("failed to register rule tools: %w", err)
	}
	if err := registerSettingsTools(s, sc, readOnly); err != nil {
		return fmt.Errorf("failed to register mailbox settings tools: %w", err)
	}
	return nil
}
