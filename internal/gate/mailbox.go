package gate

import (
	"strconv"
	"strings"

	"github.com/teemow/mailgate/internal/confirm"
)

// CreateRule adds an inbox rule. Sequence is chosen when the rule is created.
type CreateRule struct {
	Name            string
	FromAddresses   []string
	ContainsSubject string
	HasAttachments  bool
	MoveToFolder    string
	MarkAsRead      bool
}

func (a CreateRule) Type() ActionType { return ActionCreateRule }

func (a CreateRule) Fields() []Field {
	return []Field{
		{Name: "name", Value: a.Name},
		{Name: "fromAddresses", Value: joinList(a.FromAddresses), Kind: FieldAddress},
		{Name: "containsSubject", Value: a.ContainsSubject},
		{Name: "hasAttachments", Value: formatBool(a.HasAttachments)},
		{Name: "moveToFolder", Value: a.MoveToFolder},
		{Name: "markAsRead", Value: formatBool(a.MarkAsRead)},
	}
}

func (a CreateRule) Validate() error {
	if err := required("name", a.Name); err != nil {
		return err
	}
	if len(a.FromAddresses) == 0 && a.ContainsSubject == "" && !a.HasAttachments {
		return invalid("at least one condition is required (fromAddresses, containsSubject or hasAttachments)")
	}
	if a.MoveToFolder == "" && !a.MarkAsRead {
		return invalid("at least one action is required (moveToFolder or markAsRead)")
	}
	return validateAddresses(a.FromAddresses)
}

func (a CreateRule) Display() confirm.Display {
	var cond, act []string
	if len(a.FromAddresses) > 0 {
		cond = append(cond, "from "+strings.Join(a.FromAddresses, ", "))
	}
	if a.ContainsSubject != "" {
		cond = append(cond, "subject contains "+strconv.Quote(a.ContainsSubject))
	}
	if a.HasAttachments {
		cond = append(cond, "has attachments")
	}
	if a.MoveToFolder != "" {
		act = append(act, "move to "+a.MoveToFolder)
	}
	if a.MarkAsRead {
		act = append(act, "mark as read")
	}
	return confirm.Display{
		Title: "Create inbox rule",
		Lines: lines(
			"Name", a.Name,
			"When", strings.Join(cond, "; "),
			"Then", strings.Join(act, "; "),
		),
	}
}

func (a CreateRule) RequiredScopes() []string { return []string{ScopeMailboxSettings} }

// EditRuleSequence changes the evaluation order of an inbox rule.
type EditRuleSequence struct {
	RuleID   string
	Sequence int
}

func (a EditRuleSequence) Type() ActionType { return ActionEditRuleSequence }

func (a EditRuleSequence) Fields() []Field {
	return []Field{
		{Name: "ruleId", Value: a.RuleID},
		{Name: "sequence", Value: strconv.Itoa(a.Sequence)},
	}
}

func (a EditRuleSequence) Validate() error {
	if err := required("ruleId", a.RuleID); err != nil {
		return err
	}
	if a.Sequence < 1 {
		return invalid("sequence must be a positive number")
	}
	return nil
}

func (a EditRuleSequence) Display() confirm.Display {
	return confirm.Display{
		Title: "Change inbox rule order",
		Lines: lines("Rule", a.RuleID, "New sequence", strconv.Itoa(a.Sequence)),
	}
}

func (a EditRuleSequence) RequiredScopes() []string { return []string{ScopeMailboxSettings} }

// Auto-reply settings values.
const (
	AutoReplyDisabled      = "disabled"
	AutoReplyAlwaysEnabled = "alwaysEnabled"
	AutoReplyScheduled     = "scheduled"

	AudienceNone         = "none"
	AudienceContactsOnly = "contactsOnly"
	AudienceAll          = "all"
)

// SetAutoReply configures automatic replies. Callers fill in the defaults
// (scheduled, contactsOnly) before the action is gated, so the approval
// covers the settings that will actually be applied.
type SetAutoReply struct {
	Status           string
	InternalMessage  string
	ExternalMessage  string
	ExternalAudience string
	StartDateTime    string
	EndDateTime      string
}

// NewSetAutoReply returns a with empty status and audience defaulted.
func NewSetAutoReply(a SetAutoReply) SetAutoReply {
	if a.Status == "" {
		a.Status = AutoReplyScheduled
	}
	if a.ExternalAudience == "" {
		a.ExternalAudience = AudienceContactsOnly
	}
	return a
}

func (a SetAutoReply) Type() ActionType { return ActionSetAutoReply }

func (a SetAutoReply) Fields() []Field {
	return []Field{
		{Name: "status", Value: a.Status},
		{Name: "internalMessage", Value: a.InternalMessage, Kind: FieldText},
		{Name: "externalMessage", Value: a.ExternalMessage, Kind: FieldText},
		{Name: "externalAudience", Value: a.ExternalAudience},
		{Name: "startDateTime", Value: a.StartDateTime},
		{Name: "endDateTime", Value: a.EndDateTime},
	}
}

func (a SetAutoReply) Validate() error {
	switch a.Status {
	case AutoReplyDisabled, AutoReplyAlwaysEnabled, AutoReplyScheduled:
	default:
		return invalid("status must be one of disabled, alwaysEnabled, scheduled")
	}
	switch a.ExternalAudience {
	case AudienceNone, AudienceContactsOnly, AudienceAll:
	default:
		return invalid("externalAudience must be one of none, contactsOnly, all")
	}
	if a.Status == AutoReplyScheduled && (a.StartDateTime == "" || a.EndDateTime == "") {
		return invalid("for scheduled status, startDateTime and endDateTime are required")
	}
	return nil
}

func (a SetAutoReply) Display() confirm.Display {
	return confirm.Display{
		Title: "Configure automatic replies",
		Lines: lines(
			"Status", a.Status,
			"External audience", a.ExternalAudience,
			"Start", a.StartDateTime,
			"End", a.EndDateTime,
			"Internal message", a.InternalMessage,
			"External message", a.ExternalMessage,
		),
	}
}

func (a SetAutoReply) RequiredScopes() []string { return []string{ScopeMailboxSettings} }
