package contact_tools

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/teemow/mailgate/internal/gate"
	"github.com/teemow/mailgate/internal/server"
	"github.com/teemow/mailgate/internal/tools/common"
)

const maxContacts = 100

// contactFieldOptions declares the editable contact attributes.
func contactFieldOptions(required bool) []mcp.ToolOption {
	nameOpts := []mcp.PropertyOption{mcp.Description("Display name of the contact")}
	emailOpts := []mcp.PropertyOption{mcp.Description("Primary email address")}
	if required {
		nameOpts = append(nameOpts, mcp.Required())
		emailOpts = append(emailOpts, mcp.Required())
	}
	return []mcp.ToolOption{
		mcp.WithString("displayName", nameOpts...),
		mcp.WithString("email", emailOpts...),
		mcp.WithString("companyName", mcp.Description("Company name")),
		mcp.WithString("mobilePhone", mcp.Description("Mobile phone number")),
		mcp.WithString("businessPhone", mcp.Description("Business phone number")),
	}
}

// RegisterContactTools registers the contact tools with the MCP server.
func RegisterContactTools(s *mcpserver.MCPServer, sc *server.ServerContext, readOnly bool) error {
	listContactsTool := mcp.NewTool("list-contacts",
		mcp.WithDescription("List contacts with basic fields."),
		mcp.WithNumber("top",
			mcp.Description(fmt.Sprintf("Number of contacts to return (1-%d)", maxContacts)),
			mcp.Min(1),
			mcp.Max(maxContacts),
		),
	)
	s.AddTool(listContactsTool, common.InstrumentedToolHandler("list-contacts", sc, listContacts(sc)))

	if readOnly {
		return nil
	}

	createOpts := append([]mcp.ToolOption{
		mcp.WithDescription("Create a new contact. Requires Contacts.ReadWrite and human confirmation."),
	}, contactFieldOptions(true)...)
	createOpts = append(createOpts, common.WithConfirmationToken())
	s.AddTool(mcp.NewTool("create-contact", createOpts...),
		common.InstrumentedActionHandler("create-contact", gate.ActionCreateContact, sc, createContact(sc)))

	updateOpts := append([]mcp.ToolOption{
		mcp.WithDescription("Update an existing contact by id. Requires Contacts.ReadWrite and human confirmation."),
		mcp.WithString("id", mcp.Required(), mcp.Description("The ID of the contact to update")),
	}, contactFieldOptions(false)...)
	updateOpts = append(updateOpts, common.WithConfirmationToken())
	s.AddTool(mcp.NewTool("update-contact", updateOpts...),
		common.InstrumentedActionHandler("update-contact", gate.ActionUpdateContact, sc, updateContact(sc)))

	deleteContactTool := mcp.NewTool("delete-contact",
		mcp.WithDescription("Delete a contact by id. Requires Contacts.ReadWrite and human confirmation."),
		mcp.WithString("id", mcp.Required(), mcp.Description("The ID of the contact to delete")),
		common.WithConfirmationToken(),
	)
	s.AddTool(deleteContactTool,
		common.InstrumentedActionHandler("delete-contact", gate.ActionDeleteContact, sc, deleteContact(sc)))

	return nil
}

func fieldsFromArgs(args map[string]any) gate.ContactFields {
	return gate.ContactFields{
		DisplayName:   common.String(args, "displayName"),
		Email:         common.String(args, "email"),
		CompanyName:   common.String(args, "companyName"),
		MobilePhone:   common.String(args, "mobilePhone"),
		BusinessPhone: common.String(args, "businessPhone"),
	}
}

func listContacts(sc *server.ServerContext) mcpserver.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args, _ := request.Params.Arguments.(map[string]any)
		top, err := common.Int(args, "top")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		if top > maxContacts {
			top = maxContacts
		}

		contacts, err := sc.Graph().Contacts(ctx, top)
		if err != nil {
			return mcp.NewToolResultError(common.FailureText("list-contacts", err)), nil
		}
		if len(contacts) == 0 {
			return mcp.NewToolResultText("No contacts found."), nil
		}
		return common.JSONResult(fmt.Sprintf("Found %d contacts:", len(contacts)), contacts), nil
	}
}

func createContact(sc *server.ServerContext) mcpserver.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args, _ := request.Params.Arguments.(map[string]any)
		return common.RunGated(ctx, sc, gate.CreateContact{ContactFields: fieldsFromArgs(args)}, args)
	}
}

func updateContact(sc *server.ServerContext) mcpserver.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args, _ := request.Params.Arguments.(map[string]any)
		a := gate.UpdateContact{ID: common.String(args, "id"), ContactFields: fieldsFromArgs(args)}
		return common.RunGated(ctx, sc, a, args)
	}
}

func deleteContact(sc *server.ServerContext) mcpserver.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args, _ := request.Params.Arguments.(map[string]any)
		return common.RunGated(ctx, sc, gate.DeleteContact{ID: common.String(args, "id")}, args)
	}
}
