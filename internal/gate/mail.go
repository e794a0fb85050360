package gate

import (
	"strconv"

	"github.com/teemow/mailgate/internal/confirm"
)

// Message limits enforced before a send is offered for approval.
const (
	MaxBodyBytes     = 1 << 20
	MaxSubjectLength = 255
	MaxRecipients    = 50
)

// SendEmail sends a message from the signed-in mailbox.
// Address fields are comma separated lists.
type SendEmail struct {
	To      string
	CC      string
	BCC     string
	Subject string
	Body    string
}

func (a SendEmail) Type() ActionType { return ActionSendEmail }

func (a SendEmail) Fields() []Field {
	return []Field{
		{Name: "to", Value: a.To, Kind: FieldAddress},
		{Name: "cc", Value: a.CC, Kind: FieldAddress},
		{Name: "bcc", Value: a.BCC, Kind: FieldAddress},
		{Name: "subject", Value: a.Subject},
		{Name: "body", Value: a.Body, Kind: FieldText},
	}
}

func (a SendEmail) Validate() error {
	if len(SplitAddresses(a.To)) == 0 {
		return invalid("recipient (to) is required")
	}
	if err := required("subject", a.Subject); err != nil {
		return err
	}
	if err := required("body", a.Body); err != nil {
		return err
	}
	if len([]rune(a.Subject)) > MaxSubjectLength {
		return invalid("subject exceeds %d characters", MaxSubjectLength)
	}
	if len(a.Body) > MaxBodyBytes {
		return invalid("body exceeds %d bytes", MaxBodyBytes)
	}
	all := append(append(SplitAddresses(a.To), SplitAddresses(a.CC)...), SplitAddresses(a.BCC)...)
	if len(all) > MaxRecipients {
		return invalid("too many recipients (max %d)", MaxRecipients)
	}
	return validateAddresses(all)
}

func (a SendEmail) Display() confirm.Display {
	return confirm.Display{
		Title: "Send email",
		Lines: lines(
			"To", a.To,
			"CC", a.CC,
			"BCC", a.BCC,
			"Subject", a.Subject,
			"Body", a.Body,
		),
	}
}

func (a SendEmail) RequiredScopes() []string { return []string{ScopeMailSend} }

// MoveEmails moves messages into the folder named TargetFolder.
type MoveEmails struct {
	EmailIDs     []string
	TargetFolder string
	SourceFolder string
}

func (a MoveEmails) Type() ActionType { return ActionMoveEmails }

func (a MoveEmails) Fields() []Field {
	return []Field{
		{Name: "emailIds", Value: joinList(a.EmailIDs)},
		{Name: "targetFolder", Value: a.TargetFolder},
		{Name: "sourceFolder", Value: a.SourceFolder},
	}
}

func (a MoveEmails) Validate() error {
	if len(a.EmailIDs) == 0 {
		return invalid("at least one email id is required")
	}
	for _, id := range a.EmailIDs {
		if err := required("email id", id); err != nil {
			return err
		}
	}
	return required("targetFolder", a.TargetFolder)
}

func (a MoveEmails) Display() confirm.Display {
	return confirm.Display{
		Title: "Move emails",
		Lines: lines(
			"Messages", strconv.Itoa(len(a.EmailIDs)),
			"From folder", a.SourceFolder,
			"To folder", a.TargetFolder,
		),
	}
}

func (a MoveEmails) RequiredScopes() []string { return []string{ScopeMailReadWrite} }
