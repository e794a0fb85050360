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

func registerEventTools(s *mcpserver.MCPServer, sc *server.ServerContext, readOnly bool) error {
	listEventsTool := mcp.NewTool("list-events",
		mcp.WithDescription("Lists upcoming events from your calendar"),
		mcp.WithNumber("count",
			mcp.Description(fmt.Sprintf("Number of events to retrieve (default: %d, max: %d)", defaultEventCount, maxEventCount)),
		),
	)
	s.AddTool(listEventsTool, common.InstrumentedToolHandler("list-events", sc, listEvents(sc)))

	if readOnly {
		return nil
	}

	createEventTool := mcp.NewTool("create-event",
		mcp.WithDescription("Creates a new calendar event. Requires human confirmation."),
		mcp.WithString("subject",
			mcp.Required(),
			mcp.Description("The subject of the event"),
		),
		mcp.WithString("start",
			mcp.Required(),
			mcp.Description("The start time of the event in ISO 8601 format"),
		),
		mcp.WithString("end",
			mcp.Required(),
			mcp.Description("The end time of the event in ISO 8601 format"),
		),
		mcp.WithArray("attendees",
			mcp.Description("List of attendee email addresses"),
			mcp.Items(map[string]any{"type": "string"}),
		),
		mcp.WithString("body",
			mcp.Description("Optional body content for the event"),
		),
		common.WithConfirmationToken(),
	)
	s.AddTool(createEventTool, common.InstrumentedActionHandler("create-event", gate.ActionCreateEvent, sc, createEvent(sc)))

	deleteEventTool := mcp.NewTool("delete-event",
		mcp.WithDescription("Deletes a calendar event. Requires human confirmation."),
		mcp.WithString("eventId",
			mcp.Required(),
			mcp.Description("The ID of the event to delete"),
		),
		common.WithConfirmationToken(),
	)
	s.AddTool(deleteEventTool, common.InstrumentedActionHandler("delete-event", gate.ActionDeleteEvent, sc, deleteEvent(sc)))

	return nil
}

func listEvents(sc *server.ServerContext) mcpserver.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args, _ := request.Params.Arguments.(map[string]any)
		count, err := common.Int(args, "count")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		switch {
		case count <= 0:
			count = defaultEventCount
		case count > maxEventCount:
			count = maxEventCount
		}

		events, err := sc.Graph().Events(ctx, count)
		if err != nil {
			return mcp.NewToolResultError(common.FailureText("list-events", err)), nil
		}
		if len(events) == 0 {
			return mcp.NewToolResultText("No calendar events found."), nil
		}
		return common.JSONResult(fmt.Sprintf("Found %d events:", len(events)), events), nil
	}
}

func createEvent(sc *server.ServerContext) mcpserver.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args, _ := request.Params.Arguments.(map[string]any)
		attendees, err := common.StringList(args, "attendees")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		a := gate.CreateEvent{
			Subject:   common.String(args, "subject"),
			Start:     common.String(args, "start"),
			End:       common.String(args, "end"),
			Attendees: attendees,
			Body:      common.Text(args, "body"),
		}
		return common.RunGated(ctx, sc, a, args)
	}
}

func deleteEvent(sc *server.ServerContext) mcpserver.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args, _ := request.Params.Arguments.(map[string]any)
		return common.RunGated(ctx, sc, gate.DeleteEvent{EventID: common.String(args, "eventId")}, args)
	}
}
