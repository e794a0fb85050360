package gate

import (
	"strings"

	"github.com/teemow/mailgate/internal/confirm"
)

// CreateEvent creates a calendar event and invites Attendees.
type CreateEvent struct {
	Subject   string
	Start     string
	End       string
	Attendees []string
	Body      string
}

func (a CreateEvent) Type() ActionType { return ActionCreateEvent }

func (a CreateEvent) Fields() []Field {
	return []Field{
		{Name: "subject", Value: a.Subject},
		{Name: "start", Value: a.Start},
		{Name: "end", Value: a.End},
		{Name: "attendees", Value: joinList(a.Attendees), Kind: FieldAddress},
		{Name: "body", Value: a.Body, Kind: FieldText},
	}
}

func (a CreateEvent) Validate() error {
	for _, f := range [][2]string{{"subject", a.Subject}, {"start", a.Start}, {"end", a.End}} {
		if err := required(f[0], f[1]); err != nil {
			return err
		}
	}
	return validateAddresses(a.Attendees)
}

func (a CreateEvent) Display() confirm.Display {
	return confirm.Display{
		Title: "Create calendar event",
		Lines: lines(
			"Subject", a.Subject,
			"Start", a.Start,
			"End", a.End,
			"Attendees", strings.Join(a.Attendees, ", "),
			"Description", a.Body,
		),
	}
}

func (a CreateEvent) RequiredScopes() []string { return []string{ScopeCalendars} }

// EventResponse is a cancel, accept or decline of an existing event.
// An empty Comment is replaced by a default when the action runs.
type EventResponse struct {
	Action  ActionType
	EventID string
	Comment string
}

// CancelEvent returns the action that cancels eventID.
func CancelEvent(eventID, comment string) EventResponse {
	return EventResponse{Action: ActionCancelEvent, EventID: eventID, Comment: comment}
}

// AcceptEvent returns the action that accepts eventID.
func AcceptEvent(eventID, comment string) EventResponse {
	return EventResponse{Action: ActionAcceptEvent, EventID: eventID, Comment: comment}
}

// DeclineEvent returns the action that declines eventID.
func DeclineEvent(eventID, comment string) EventResponse {
	return EventResponse{Action: ActionDeclineEvent, EventID: eventID, Comment: comment}
}

func (a EventResponse) Type() ActionType { return a.Action }

func (a EventResponse) Fields() []Field {
	return []Field{
		{Name: "eventId", Value: a.EventID},
		{Name: "comment", Value: a.Comment, Kind: FieldText},
	}
}

func (a EventResponse) Validate() error {
	switch a.Action {
	case ActionCancelEvent, ActionAcceptEvent, ActionDeclineEvent:
	default:
		return invalid("unsupported event response %q", a.Action)
	}
	return required("eventId", a.EventID)
}

func (a EventResponse) Display() confirm.Display {
	title := map[ActionType]string{
		ActionCancelEvent:  "Cancel calendar event",
		ActionAcceptEvent:  "Accept calendar event",
		ActionDeclineEvent: "Decline calendar event",
	}[a.Action]
	return confirm.Display{
		Title: title,
		Lines: lines("Event", a.EventID, "Comment", a.Comment),
	}
}

func (a EventResponse) RequiredScopes() []string { return []string{ScopeCalendars} }

// DefaultComment is sent when the caller left Comment empty.
func (a EventResponse) DefaultComment() string {
	if a.Comment != "" {
		return a.Comment
	}
	switch a.Action {
	case ActionCancelEvent:
		return "Cancelled via API"
	case ActionAcceptEvent:
		return "Accepted via API"
	default:
		return "Declined via API"
	}
}

// DeleteEvent removes an event from the calendar without notifying attendees.
type DeleteEvent struct {
	EventID string
}

func (a DeleteEvent) Type() ActionType { return ActionDeleteEvent }

func (a DeleteEvent) Fields() []Field {
	return []Field{{Name: "eventId", Value: a.EventID}}
}

func (a DeleteEvent) Validate() error { return required("eventId", a.EventID) }

func (a DeleteEvent) Display() confirm.Display {
	return confirm.Display{Title: "Delete calendar event", Lines: lines("Event", a.EventID)}
}

func (a DeleteEvent) RequiredScopes() []string { return []string{ScopeCalendars} }
