package calendar_tools

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/teemow/mailgate/internal/gate"
	"github.com/teemow/mailgate/internal/server"
	"github.com/teemow/mailgate/internal/tools/common"
)

// eventResponse describes one of the tools that answer an existing event.
type eventResponse struct {
	name   string
	verb   string
	action gate.ActionType
	build  func(eventID, comment string) gate.EventResponse
}

var eventResponses = []eventResponse{
	{name: "cancel-event", verb: "cancel", action: gate.ActionCancelEvent, build: gate.CancelEvent},
	{name: "accept-event", verb: "accept", action: gate.ActionAcceptEvent, build: gate.AcceptEvent},
	{name: "decline-event", verb: "decline", action: gate.ActionDeclineEvent, build: gate.DeclineEvent},
}

func registerResponseTools(s *mcpserver.MCPServer, sc *server.ServerContext) error {
	for _, r := range eventResponses {
		tool := mcp.NewTool(r.name,
			mcp.WithDescription(fmt.Sprintf("Sends a %s for a calendar event. Requires human confirmation.", r.verb)),
			mcp.WithString("eventId",
				mcp.Required(),
				mcp.Description(fmt.Sprintf("The ID of the event to %s", r.verb)),
			),
			mcp.WithString("comment",
				mcp.Description(fmt.Sprintf("Optional comment sent with the %s", r.verb)),
			),
			common.WithConfirmationToken(),
		)
		s.AddTool(tool, common.InstrumentedActionHandler(r.name, r.action, sc, respond(sc, r.build)))
	}
	return nil
}

func respond(sc *server.ServerContext, build func(eventID, comment string) gate.EventResponse) mcpserver.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args, _ := request.Params.Arguments.(map[string]any)
		a := build(common.String(args, "eventId"), common.Text(args, "comment"))
		return common.RunGated(ctx, sc, a, args)
	}
}
