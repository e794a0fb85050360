package graph

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/teemow/mailgate/internal/gate"
	"github.com/teemow/mailgate/internal/instrumentation"
)

// defaultRuleSequence is used when the inbox has no rules yet.
const defaultRuleSequence = 100

// maxReportedFailures caps how many per-message errors a move reports.
const maxReportedFailures = 3

var _ gate.Executor = (*Client)(nil)

type attendee struct {
	EmailAddress EmailAddress `json:"emailAddress"`
	Type         string       `json:"type"`
}

type idResponse struct {
	ID string `json:"id"`
}

func recipients(addrs []string) []Recipient {
	out := make([]Recipient, 0, len(addrs))
	for _, a := range addrs {
		out = append(out, Recipient{EmailAddress: EmailAddress{Address: a}})
	}
	return out
}

// Execute performs an approved action.
func (c *Client) Execute(ctx context.Context, a gate.Action) (string, error) {
	ctx, span := instrumentation.StartSpan(ctx, "graph.execute", spanAttrs(string(a.Type()))...)
	defer span.End()

	summary, err := c.execute(ctx, a)
	if err != nil {
		instrumentation.SetSpanError(span, err)
		return "", err
	}
	instrumentation.SetSpanSuccess(span)
	return summary, nil
}

func (c *Client) execute(ctx context.Context, a gate.Action) (string, error) {
	switch a := a.(type) {
	case gate.SendEmail:
		return c.sendEmail(ctx, a)
	case gate.CreateEvent:
		return c.createEvent(ctx, a)
	case gate.EventResponse:
		return c.respondToEvent(ctx, a)
	case gate.DeleteEvent:
		if err := c.do(ctx, "delete_event", http.MethodDelete, escapePath("me", "events", a.EventID), nil, nil, nil); err != nil {
			return "", err
		}
		return fmt.Sprintf("Event %s has been deleted.", a.EventID), nil
	case gate.CreateContact:
		return c.createContact(ctx, a)
	case gate.UpdateContact:
		return c.updateContact(ctx, a)
	case gate.DeleteContact:
		if err := c.do(ctx, "delete_contact", http.MethodDelete, escapePath("me", "contacts", a.ID), nil, nil, nil); err != nil {
			return "", err
		}
		return fmt.Sprintf("Contact %s has been deleted.", a.ID), nil
	case gate.CreateRule:
		return c.createRule(ctx, a)
	case gate.EditRuleSequence:
		body := map[string]int{"sequence": a.Sequence}
		path := escapePath("me", "mailFolders", "inbox", "messageRules", a.RuleID)
		if err := c.do(ctx, "update_rule", http.MethodPatch, path, nil, body, nil); err != nil {
			return "", err
		}
		return fmt.Sprintf("Successfully updated the sequence of rule %s to %d.", a.RuleID, a.Sequence), nil
	case gate.SetAutoReply:
		return c.setAutoReply(ctx, a)
	case gate.MoveEmails:
		return c.moveEmails(ctx, a)
	default:
		return "", fmt.Errorf("unsupported action %s", a.Type())
	}
}

func (c *Client) sendEmail(ctx context.Context, a gate.SendEmail) (string, error) {
	to := gate.SplitAddresses(a.To)
	contentType := "text"
	if strings.Contains(strings.ToLower(a.Body), "<html") {
		contentType = "html"
	}

	message := map[string]any{
		"subject":      a.Subject,
		"body":         ItemBody{ContentType: contentType, Content: a.Body},
		"toRecipients": recipients(to),
		"importance":   "normal",
	}
	if cc := gate.SplitAddresses(a.CC); len(cc) > 0 {
		message["ccRecipients"] = recipients(cc)
	}
	if bcc := gate.SplitAddresses(a.BCC); len(bcc) > 0 {
		message["bccRecipients"] = recipients(bcc)
	}

	body := map[string]any{"message": message, "saveToSentItems": true}
	if err := c.do(ctx, "send_mail", http.MethodPost, "me/sendMail", nil, body, nil); err != nil {
		return "", err
	}
	return fmt.Sprintf("Email sent successfully!\n\nSubject: %s\nRecipients: %d", a.Subject, len(to)), nil
}

func (c *Client) createEvent(ctx context.Context, a gate.CreateEvent) (string, error) {
	attendees := make([]attendee, 0, len(a.Attendees))
	for _, addr := range a.Attendees {
		attendees = append(attendees, attendee{EmailAddress: EmailAddress{Address: addr}, Type: "required"})
	}
	body := map[string]any{
		"subject":   a.Subject,
		"start":     DateTime{DateTime: a.Start, TimeZone: "UTC"},
		"end":       DateTime{DateTime: a.End, TimeZone: "UTC"},
		"attendees": attendees,
		"body":      ItemBody{ContentType: "HTML", Content: a.Body},
	}
	var created idResponse
	if err := c.do(ctx, "create_event", http.MethodPost, "me/events", nil, body, &created); err != nil {
		return "", err
	}
	return fmt.Sprintf("Event '%s' has been successfully created (id %s).", a.Subject, created.ID), nil
}

func (c *Client) respondToEvent(ctx context.Context, a gate.EventResponse) (string, error) {
	verb := map[gate.ActionType]string{
		gate.ActionCancelEvent:  "cancel",
		gate.ActionAcceptEvent:  "accept",
		gate.ActionDeclineEvent: "decline",
	}[a.Action]
	if verb == "" {
		return "", fmt.Errorf("unsupported event response %s", a.Action)
	}
	body := map[string]string{"comment": a.DefaultComment()}
	if err := c.do(ctx, verb+"_event", http.MethodPost, escapePath("me", "events", a.EventID, verb), nil, body, nil); err != nil {
		return "", err
	}
	past := map[string]string{"cancel": "cancelled", "accept": "accepted", "decline": "declined"}[verb]
	return fmt.Sprintf("Event %s has been successfully %s.", a.EventID, past), nil
}

func contactBody(f gate.ContactFields) map[string]any {
	body := map[string]any{}
	if f.DisplayName != "" {
		body["displayName"] = f.DisplayName
	}
	if f.Email != "" {
		body["emailAddresses"] = []EmailAddress{{Address: f.Email}}
	}
	if f.CompanyName != "" {
		body["companyName"] = f.CompanyName
	}
	if f.MobilePhone != "" {
		body["mobilePhone"] = f.MobilePhone
	}
	if f.BusinessPhone != "" {
		body["businessPhones"] = []string{f.BusinessPhone}
	}
	return body
}

func (c *Client) createContact(ctx context.Context, a gate.CreateContact) (string, error) {
	var created idResponse
	if err := c.do(ctx, "create_contact", http.MethodPost, "me/contacts", nil, contactBody(a.ContactFields), &created); err != nil {
		return "", err
	}
	return fmt.Sprintf("Contact '%s' created (id %s).", a.DisplayName, created.ID), nil
}

func (c *Client) updateContact(ctx context.Context, a gate.UpdateContact) (string, error) {
	if err := c.do(ctx, "update_contact", http.MethodPatch, escapePath("me", "contacts", a.ID), nil, contactBody(a.ContactFields), nil); err != nil {
		return "", err
	}
	return fmt.Sprintf("Contact %s has been updated.", a.ID), nil
}

// Rule is an inbox message rule.
type Rule struct {
	ID          string         `json:"id"`
	DisplayName string         `json:"displayName"`
	Sequence    int            `json:"sequence"`
	IsEnabled   bool           `json:"isEnabled"`
	Conditions  map[string]any `json:"conditions,omitempty"`
	Actions     map[string]any `json:"actions,omitempty"`
}

// Rules lists the inbox rules.
func (c *Client) Rules(ctx context.Context) ([]Rule, error) {
	var resp struct {
		Value []Rule `json:"value"`
	}
	if err := c.do(ctx, "list_rules", http.MethodGet, "me/mailFolders/inbox/messageRules", nil, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Value, nil
}

func (c *Client) nextRuleSequence(ctx context.Context) int {
	rules, err := c.Rules(ctx)
	if err != nil || len(rules) == 0 {
		return defaultRuleSequence
	}
	highest := 0
	for _, r := range rules {
		if r.Sequence > highest {
			highest = r.Sequence
		}
	}
	return highest + 1
}

func (c *Client) createRule(ctx context.Context, a gate.CreateRule) (string, error) {
	conditions := map[string]any{}
	if len(a.FromAddresses) > 0 {
		conditions["fromAddresses"] = recipients(a.FromAddresses)
	}
	if a.ContainsSubject != "" {
		conditions["subjectContains"] = []string{a.ContainsSubject}
	}
	if a.HasAttachments {
		conditions["hasAttachment"] = true
	}

	actions := map[string]any{}
	if a.MoveToFolder != "" {
		folderID, err := c.FolderID(ctx, a.MoveToFolder)
		if err != nil {
			return "", err
		}
		actions["moveToFolder"] = folderID
	}
	if a.MarkAsRead {
		actions["markAsRead"] = true
	}

	sequence := c.nextRuleSequence(ctx)
	body := map[string]any{
		"displayName": a.Name,
		"sequence":    sequence,
		"isEnabled":   true,
		"conditions":  conditions,
		"actions":     actions,
	}
	if err := c.do(ctx, "create_rule", http.MethodPost, "me/mailFolders/inbox/messageRules", nil, body, nil); err != nil {
		return "", err
	}
	return fmt.Sprintf("Successfully created rule '%s' with sequence %d.", a.Name, sequence), nil
}

func (c *Client) setAutoReply(ctx context.Context, a gate.SetAutoReply) (string, error) {
	setting := map[string]any{
		"status":               a.Status,
		"externalAudience":     a.ExternalAudience,
		"internalReplyMessage": a.InternalMessage,
		"externalReplyMessage": a.ExternalMessage,
	}
	if a.Status == gate.AutoReplyScheduled {
		setting["scheduledStartDateTime"] = DateTime{DateTime: a.StartDateTime, TimeZone: "UTC"}
		setting["scheduledEndDateTime"] = DateTime{DateTime: a.EndDateTime, TimeZone: "UTC"}
	}
	body := map[string]any{"automaticRepliesSetting": setting}
	if err := c.do(ctx, "update_mailbox_settings", http.MethodPatch, "me/mailboxSettings", nil, body, nil); err != nil {
		return "", err
	}
	return "Auto-reply settings updated successfully.", nil
}

func (c *Client) moveEmails(ctx context.Context, a gate.MoveEmails) (string, error) {
	folderID, err := c.FolderID(ctx, a.TargetFolder)
	if errors.Is(err, ErrFolderNotFound) {
		return fmt.Sprintf("Target folder %q not found. Please specify a valid folder name.", a.TargetFolder), nil
	}
	if err != nil {
		return "", err
	}

	var moved int
	var failures []string
	for _, id := range a.EmailIDs {
		body := map[string]string{"destinationId": folderID}
		if err := c.do(ctx, "move_message", http.MethodPost, escapePath("me", "messages", id, "move"), nil, body, nil); err != nil {
			// An expired credential fails every message the same way.
			if errors.Is(err, ErrUnauthorized) {
				return "", err
			}
			failures = append(failures, fmt.Sprintf("%s: %v", id, err))
			continue
		}
		moved++
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Successfully moved %d of %d emails to %q.", moved, len(a.EmailIDs), a.TargetFolder)
	if len(failures) > 0 {
		fmt.Fprintf(&b, "\n%d emails could not be moved.", len(failures))
		for i, f := range failures {
			if i == maxReportedFailures {
				fmt.Fprintf(&b, "\n... and %d more.", len(failures)-maxReportedFailures)
				break
			}
			b.WriteString("\n- ")
			b.WriteString(f)
		}
	}
	return b.String(), nil
}
