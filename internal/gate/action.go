package gate

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/teemow/mailgate/internal/confirm"
)

// ActionType names a gated remote operation.
type ActionType string

const (
	ActionSendEmail        ActionType = "sendEmail"
	ActionCreateEvent      ActionType = "createEvent"
	ActionCancelEvent      ActionType = "cancelEvent"
	ActionDeleteEvent      ActionType = "deleteEvent"
	ActionAcceptEvent      ActionType = "acceptEvent"
	ActionDeclineEvent     ActionType = "declineEvent"
	ActionCreateContact    ActionType = "createContact"
	ActionUpdateContact    ActionType = "updateContact"
	ActionDeleteContact    ActionType = "deleteContact"
	ActionCreateRule       ActionType = "createRule"
	ActionEditRuleSequence ActionType = "editRuleSequence"
	ActionSetAutoReply     ActionType = "setAutoReply"
	ActionMoveEmails       ActionType = "moveEmails"
)

// Scopes required by the gated actions.
const (
	ScopeMailSend        = "Mail.Send"
	ScopeMailReadWrite   = "Mail.ReadWrite"
	ScopeCalendars       = "Calendars.ReadWrite"
	ScopeContacts        = "Contacts.ReadWrite"
	ScopeMailboxSettings = "MailboxSettings.ReadWrite"
)

// ErrInvalidAction is wrapped by every Validate failure.
var ErrInvalidAction = errors.New("invalid action")

// FieldKind controls how a field is masked in the journal.
type FieldKind int

const (
	// FieldPlain values are identifiers and flags, journalled as is.
	FieldPlain FieldKind = iota
	// FieldAddress values are comma separated mail addresses.
	FieldAddress
	// FieldText values are free text, journalled by length only.
	FieldText
)

// Field is one named action parameter.
type Field struct {
	Name  string
	Value string
	Kind  FieldKind
}

// Action is a gated remote operation. Fields are returned in a fixed order;
// that order is what the approval fingerprint is computed over.
type Action interface {
	Type() ActionType
	Fields() []Field
	Validate() error
	Display() confirm.Display
	RequiredScopes() []string
}

// Params returns the field values of a in fingerprint order.
func Params(a Action) []string {
	fields := a.Fields()
	params := make([]string, len(fields))
	for i, f := range fields {
		params[i] = f.Value
	}
	return params
}

var emailRegexp = regexp.MustCompile(`^[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}$`)

// ValidEmail reports whether addr looks like a mail address.
func ValidEmail(addr string) bool {
	return emailRegexp.MatchString(addr)
}

// SplitAddresses splits a comma separated address list, dropping blanks.
func SplitAddresses(list string) []string {
	var out []string
	for _, p := range strings.Split(list, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidAction, fmt.Sprintf(format, args...))
}

func required(name, value string) error {
	if strings.TrimSpace(value) == "" {
		return invalid("%s is required", name)
	}
	return nil
}

func validateAddresses(addrs []string) error {
	for _, a := range addrs {
		if !ValidEmail(a) {
			return invalid("invalid email address: %s", a)
		}
	}
	return nil
}

func joinList(items []string) string {
	return strings.Join(items, ",")
}

func formatBool(b bool) string {
	return strconv.FormatBool(b)
}

// lines builds display lines, skipping empty values. Values are sanitized.
func lines(pairs ...string) []confirm.Line {
	out := make([]confirm.Line, 0, len(pairs)/2)
	for i := 0; i+1 < len(pairs); i += 2 {
		if pairs[i+1] == "" {
			continue
		}
		out = append(out, confirm.Line{Label: pairs[i], Value: SanitizeText(pairs[i+1])})
	}
	return out
}
