package mailbox_tools

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/teemow/mailgate/internal/gate"
	"github.com/teemow/mailgate/internal/graph"
	"github.com/teemow/mailgate/internal/server"
	"github.com/teemow/mailgate/internal/tools/common"
)

func registerRuleTools(s *mcpserver.MCPServer, sc *server.ServerContext, readOnly bool) error {
	listRulesTool := mcp.NewTool("list-rules",
		mcp.WithDescription("Lists inbox rules in your Outlook account"),
		mcp.WithBoolean("includeDetails",
			mcp.Description("Include detailed rule conditions and actions"),
		),
	)
	s.AddTool(listRulesTool, common.InstrumentedToolHandler("list-rules", sc, listRules(sc)))

	if readOnly {
		return nil
	}

	createRuleTool := mcp.NewTool("create-rule",
		mcp.WithDescription("Creates a new inbox rule. Requires human confirmation."),
		mcp.WithString("name",
			mcp.Required(),
			mcp.Description("Name of the rule to create"),
		),
		mcp.WithString("fromAddresses",
			mcp.Description("Comma-separated list of sender email addresses for the rule"),
		),
		mcp.WithString("containsSubject",
			mcp.Description("Subject text the email must contain"),
		),
		mcp.WithBoolean("hasAttachments",
			mcp.Description("Whether the rule applies to emails with attachments"),
		),
		mcp.WithString("moveToFolder",
			mcp.Description("Name of the folder to move matching emails to"),
		),
		mcp.WithBoolean("markAsRead",
			mcp.Description("Whether to mark matching emails as read"),
		),
		common.WithConfirmationToken(),
	)
	s.AddTool(createRuleTool, common.InstrumentedActionHandler("create-rule", gate.ActionCreateRule, sc, createRule(sc)))

	editSequenceTool := mcp.NewTool("edit-rule-sequence",
		mcp.WithDescription("Changes the execution order of an existing inbox rule. Requires human confirmation."),
		mcp.WithString("ruleName",
			mcp.Required(),
			mcp.Description("Name of the rule to modify"),
		),
		mcp.WithNumber("sequence",
			mcp.Required(),
			mcp.Description("New sequence value for the rule (lower numbers run first)"),
		),
		common.WithConfirmationToken(),
	)
	s.AddTool(editSequenceTool, common.InstrumentedActionHandler("edit-rule-sequence", gate.ActionEditRuleSequence, sc, editRuleSequence(sc)))

	return nil
}

func listRules(sc *server.ServerContext) mcpserver.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args, _ := request.Params.Arguments.(map[string]any)
		rules, err := sc.Graph().Rules(ctx)
		if err != nil {
			return mcp.NewToolResultError(common.FailureText("list-rules", err)), nil
		}
		if len(rules) == 0 {
			return mcp.NewToolResultText("No inbox rules found."), nil
		}

		sort.SliceStable(rules, func(i, j int) bool { return rules[i].Sequence < rules[j].Sequence })
		if !common.Bool(args, "includeDetails") {
			for i := range rules {
				rules[i].Conditions = nil
				rules[i].Actions = nil
			}
		}
		return common.JSONResult(fmt.Sprintf("Found %d inbox rules:", len(rules)), rules), nil
	}
}

func createRule(sc *server.ServerContext) mcpserver.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args, _ := request.Params.Arguments.(map[string]any)
		from, err := common.StringList(args, "fromAddresses")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		a := gate.CreateRule{
			Name:            common.String(args, "name"),
			FromAddresses:   from,
			ContainsSubject: common.String(args, "containsSubject"),
			HasAttachments:  common.Bool(args, "hasAttachments"),
			MoveToFolder:    common.String(args, "moveToFolder"),
			MarkAsRead:      common.Bool(args, "markAsRead"),
		}
		return common.RunGated(ctx, sc, a, args)
	}
}

func editRuleSequence(sc *server.ServerContext) mcpserver.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args, _ := request.Params.Arguments.(map[string]any)
		name := common.String(args, "ruleName")
		if name == "" {
			return mcp.NewToolResultError("Rule name is required. Please specify the exact name of an existing rule."), nil
		}
		sequence, err := common.Int(args, "sequence")
		if err != nil || sequence < 1 {
			return mcp.NewToolResultError("A positive sequence number is required. Lower numbers run first (higher priority)."), nil
		}

		rules, err := sc.Graph().Rules(ctx)
		if err != nil {
			return mcp.NewToolResultError(common.FailureText("edit-rule-sequence", err)), nil
		}
		rule := findRule(rules, name)
		if rule == nil {
			return mcp.NewToolResultError(fmt.Sprintf("Rule with name %q not found.", name)), nil
		}

		return common.RunGated(ctx, sc, gate.EditRuleSequence{RuleID: rule.ID, Sequence: sequence}, args)
	}
}

func findRule(rules []graph.Rule, name string) *graph.Rule {
	for i := range rules {
		if strings.EqualFold(rules[i].DisplayName, name) {
			return &rules[i]
		}
	}
	return nil
}
