package mail_tools

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/teemow/mailgate/internal/gate"
	"github.com/teemow/mailgate/internal/graph"
	"github.com/teemow/mailgate/internal/server"
	"github.com/teemow/mailgate/internal/tools/common"
)

const defaultEmailCount = 10

// RegisterMailTools registers the mail tools with the MCP server. In
// read-only mode only the listing and reading tools are registered.
func RegisterMailTools(s *mcpserver.MCPServer, sc *server.ServerContext, readOnly bool) error {
	listFoldersTool := mcp.NewTool("list-folders",
		mcp.WithDescription("Lists mail folders in your Outlook account"),
	)
	s.AddTool(listFoldersTool, common.InstrumentedToolHandler("list-folders", sc, listFolders(sc)))

	listEmailsTool := mcp.NewTool("list-emails",
		mcp.WithDescription("Lists recent emails in a folder, newest first"),
		mcp.WithString("folder",
			mcp.Description("Folder name (default is inbox)"),
		),
		mcp.WithNumber("count",
			mcp.Description("Number of emails to return (default 10, max 50)"),
		),
	)
	s.AddTool(listEmailsTool, common.InstrumentedToolHandler("list-emails", sc, listEmails(sc)))

	readEmailTool := mcp.NewTool("read-email",
		mcp.WithDescription("Reads the content of one email"),
		mcp.WithString("id",
			mcp.Required(),
			mcp.Description("ID of the email to read"),
		),
	)
	s.AddTool(readEmailTool, common.InstrumentedToolHandler("read-email", sc, readEmail(sc)))

	if readOnly {
		return nil
	}

	sendEmailTool := mcp.NewTool("send-email",
		mcp.WithDescription("Composes and sends a new email. Requires human confirmation."),
		mcp.WithString("to",
			mcp.Required(),
			mcp.Description("Comma-separated list of recipient email addresses"),
		),
		mcp.WithString("cc",
			mcp.Description("Comma-separated list of CC recipient email addresses"),
		),
		mcp.WithString("bcc",
			mcp.Description("Comma-separated list of BCC recipient email addresses"),
		),
		mcp.WithString("subject",
			mcp.Required(),
			mcp.Description("Email subject"),
		),
		mcp.WithString("body",
			mcp.Required(),
			mcp.Description("Email body content (can be plain text or HTML)"),
		),
		common.WithConfirmationToken(),
	)
	s.AddTool(sendEmailTool, common.InstrumentedActionHandler("send-email", gate.ActionSendEmail, sc, sendEmail(sc)))

	moveEmailsTool := mcp.NewTool("move-emails",
		mcp.WithDescription("Moves emails from one folder to another. Requires human confirmation."),
		mcp.WithString("emailIds",
			mcp.Required(),
			mcp.Description("Comma-separated list of email IDs to move"),
		),
		mcp.WithString("targetFolder",
			mcp.Required(),
			mcp.Description("Name of the folder to move emails to"),
		),
		mcp.WithString("sourceFolder",
			mcp.Description("Optional name of the source folder (default is inbox)"),
		),
		common.WithConfirmationToken(),
	)
	s.AddTool(moveEmailsTool, common.InstrumentedActionHandler("move-emails", gate.ActionMoveEmails, sc, moveEmails(sc)))

	return nil
}

func listFolders(sc *server.ServerContext) mcpserver.ToolHandlerFunc {
	return func(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		folders, err := sc.Graph().Folders(ctx)
		if err != nil {
			return mcp.NewToolResultError(common.FailureText("list-folders", err)), nil
		}
		if len(folders) == 0 {
			return mcp.NewToolResultText("No folders found."), nil
		}
		return common.JSONResult("", folders), nil
	}
}

func listEmails(sc *server.ServerContext) mcpserver.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args, _ := request.Params.Arguments.(map[string]any)
		folder := common.String(args, "folder")
		if folder == "" {
			folder = "inbox"
		}
		count, err := common.Int(args, "count")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		if count <= 0 {
			count = defaultEmailCount
		}

		msgs, err := sc.Graph().Messages(ctx, folder, count)
		if errors.Is(err, graph.ErrFolderNotFound) {
			return mcp.NewToolResultError(fmt.Sprintf("Folder %q not found.", folder)), nil
		}
		if err != nil {
			return mcp.NewToolResultError(common.FailureText("list-emails", err)), nil
		}
		if len(msgs) == 0 {
			return mcp.NewToolResultText(fmt.Sprintf("No emails found in %s.", folder)), nil
		}

		var sb strings.Builder
		fmt.Fprintf(&sb, "Found %d emails in %s:\n\n", len(msgs), folder)
		for i, m := range msgs {
			state := ""
			if !m.IsRead {
				state = "[UNREAD] "
			}
			fmt.Fprintf(&sb, "%d. %s%s - From: %s\nSubject: %s\nID: %s\n\n",
				i+1, state, m.ReceivedDateTime, sender(m.From), m.Subject, m.ID)
		}
		return mcp.NewToolResultText(strings.TrimRight(sb.String(), "\n")), nil
	}
}

func readEmail(sc *server.ServerContext) mcpserver.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args, _ := request.Params.Arguments.(map[string]any)
		id := common.String(args, "id")
		if id == "" {
			return mcp.NewToolResultError("id is required"), nil
		}

		m, err := sc.Graph().Message(ctx, id)
		if err != nil {
			return mcp.NewToolResultError(common.FailureText("read-email", err)), nil
		}

		var sb strings.Builder
		fmt.Fprintf(&sb, "From: %s\n", sender(m.From))
		fmt.Fprintf(&sb, "To: %s\n", addressList(m.ToRecipients))
		if len(m.CcRecipients) > 0 {
			fmt.Fprintf(&sb, "CC: %s\n", addressList(m.CcRecipients))
		}
		fmt.Fprintf(&sb, "Subject: %s\n", m.Subject)
		fmt.Fprintf(&sb, "Date: %s\n", m.ReceivedDateTime)
		if m.Importance != "" && m.Importance != "normal" {
			fmt.Fprintf(&sb, "Importance: %s\n", m.Importance)
		}
		if m.HasAttachments {
			sb.WriteString("Has attachments: yes\n")
		}
		sb.WriteString("\n")
		sb.WriteString(m.Text())
		return mcp.NewToolResultText(sb.String()), nil
	}
}

func sender(r *graph.Recipient) string {
	if r == nil {
		return "Unknown"
	}
	return formatAddress(r.EmailAddress)
}

func addressList(rs []graph.Recipient) string {
	if len(rs) == 0 {
		return "-"
	}
	out := make([]string, 0, len(rs))
	for _, r := range rs {
		out = append(out, formatAddress(r.EmailAddress))
	}
	return strings.Join(out, ", ")
}

func formatAddress(a graph.EmailAddress) string {
	if a.Name == "" {
		return a.Address
	}
	return fmt.Sprintf("%s <%s>", a.Name, a.Address)
}

func sendEmail(sc *server.ServerContext) mcpserver.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args, _ := request.Params.Arguments.(map[string]any)

		var a gate.SendEmail
		var err error
		if a.To, err = common.AddressList(args, "to"); err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		if a.CC, err = common.AddressList(args, "cc"); err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		if a.BCC, err = common.AddressList(args, "bcc"); err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		a.Subject = common.String(args, "subject")
		a.Body = common.Text(args, "body")

		return common.RunGated(ctx, sc, a, args)
	}
}

func moveEmails(sc *server.ServerContext) mcpserver.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args, _ := request.Params.Arguments.(map[string]any)

		ids, err := common.StringList(args, "emailIds")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		a := gate.MoveEmails{
			EmailIDs:     ids,
			TargetFolder: common.String(args, "targetFolder"),
			SourceFolder: common.String(args, "sourceFolder"),
		}
		if a.SourceFolder == "" {
			a.SourceFolder = "inbox"
		}
		return common.RunGated(ctx, sc, a, args)
	}
}
