package mailbox_tools

import (
	"context"

	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/teemow/mailgate/internal/gate"
	"github.com/teemow/mailgate/internal/server"
	"github.com/teemow/mailgate/internal/tools/common"
)

func registerSettingsTools(s *mcpserver.MCPServer, sc *server.ServerContext, readOnly bool) error {
	getSettingsTool := mcp.NewTool("get-mailbox-settings",
		mcp.WithDescription("Retrieve mailbox settings including time zone and auto-reply configuration."),
	)
	s.AddTool(getSettingsTool, common.InstrumentedToolHandler("get-mailbox-settings", sc, getMailboxSettings(sc)))

	if readOnly {
		return nil
	}

	setAutoReplyTool := mcp.NewTool("set-auto-reply",
		mcp.WithDescription("Configure mailbox automatic replies (out-of-office). Requires MailboxSettings.ReadWrite and human confirmation."),
		mcp.WithString("status",
			mcp.Required(),
			mcp.Enum(gate.AutoReplyDisabled, gate.AutoReplyAlwaysEnabled, gate.AutoReplyScheduled),
			mcp.DefaultString(gate.AutoReplyScheduled),
		),
		mcp.WithString("internalMessage",
			mcp.Description("Reply sent to senders inside the organization"),
		),
		mcp.WithString("externalMessage",
			mcp.Description("Reply sent to external senders"),
		),
		mcp.WithString("externalAudience",
			mcp.Enum(gate.AudienceNone, gate.AudienceContactsOnly, gate.AudienceAll),
			mcp.DefaultString(gate.AudienceContactsOnly),
		),
		mcp.WithString("startDateTime",
			mcp.Description("ISO datetime if status=scheduled"),
		),
		mcp.WithString("endDateTime",
			mcp.Description("ISO datetime if status=scheduled"),
		),
		common.WithConfirmationToken(),
	)
	s.AddTool(setAutoReplyTool, common.InstrumentedActionHandler("set-auto-reply", gate.ActionSetAutoReply, sc, setAutoReply(sc)))

	return nil
}

func getMailboxSettings(sc *server.ServerContext) mcpserver.ToolHandlerFunc {
	return func(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		settings, err := sc.Graph().MailboxSettings(ctx)
		if err != nil {
			return mcp.NewToolResultError(common.FailureText("get-mailbox-settings", err)), nil
		}
		return common.JSONResult("", settings), nil
	}
}

func setAutoReply(sc *server.ServerContext) mcpserver.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args, _ := request.Params.Arguments.(map[string]any)
		a := gate.NewSetAutoReply(gate.SetAutoReply{
			Status:           common.String(args, "status"),
			InternalMessage:  common.Text(args, "internalMessage"),
			ExternalMessage:  common.Text(args, "externalMessage"),
			ExternalAudience: common.String(args, "externalAudience"),
			StartDateTime:    common.String(args, "startDateTime"),
			EndDateTime:      common.String(args, "endDateTime"),
		})
		return common.RunGated(ctx, sc, a, args)
	}
}
