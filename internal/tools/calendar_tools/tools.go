package calendar_tools

import (
	"fmt"

	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/teemow/mailgate/internal/server"
)

// Event list bounds.
const (
	defaultEventCount = 10
	maxEventCount     = 50
)

// RegisterCalendarTools registers all calendar tools with the MCP server
func RegisterCalendarTools(s *mcpserver.MCPServer, sc *server.ServerContext, readOnly bool) error {
	if err := registerEventTools(s, sc, readOnly); err != nil {
		return fmt.Errorf("failed to register event tools: %w", err)
	}
	if readOnly {
		return nil
	}
	if err := registerResponseTools(s, sc); err != nil {
		return fmt.Errorf("failed to register event response tools: %w", err)
	}
	return nil
}
