package calendar_tools

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teemow/mailgate/internal/tools/tooltest"
)

func TestRegisterCalendarTools(t *testing.T) {
	tests := []struct {
		name     string
		readOnly bool
		want     []string
	}{
		{
			name: "read-write",
			want: []string{"accept-event", "cancel-event", "create-event", "decline-event", "delete-event", "list-events"},
		},
		{name: "read-only", readOnly: true, want: []string{"list-events"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sc := tooltest.NewServerContext(t)
			s := tooltest.NewMCPServer()
			require.NoError(t, RegisterCalendarTools(s, sc, tt.readOnly))
			assert.Equal(t, tt.want, tooltest.ToolNames(t, s))
		})
	}
}

func TestListEvents(t *testing.T) {
	sc := tooltest.NewServerContext(t)

	res := tooltest.Call(t, listEvents(sc), map[string]any{"count": float64(500)})
	require.False(t, res.IsError)
	text := tooltest.Text(t, res)
	assert.Contains(t, text, "Found 2 events:")
	assert.Contains(t, text, "Team sync")

	calls := sc.Simulator().Calls()
	require.NotEmpty(t, calls)
	assert.Equal(t, "me/events", calls[len(calls)-1].Path)

	res = tooltest.Call(t, listEvents(sc), map[string]any{"count": 2.5})
	assert.True(t, res.IsError)
}

func TestCreateEvent(t *testing.T) {
	sc := tooltest.NewServerContext(t)
	args := map[string]any{
		"subject":   "Planning",
		"start":     "2025-03-05T10:00:00",
		"end":       "2025-03-05T11:00:00",
		"attendees": []any{"alice@example.com"},
	}

	res := tooltest.Approve(t, createEvent(sc), args)
	require.False(t, res.IsError, tooltest.Text(t, res))
	assert.Contains(t, tooltest.Text(t, res), "'Planning' has been successfully created")

	res = tooltest.Call(t, listEvents(sc), nil)
	assert.Contains(t, tooltest.Text(t, res), "Found 3 events:")
}

func TestCreateEvent_MissingFields(t *testing.T) {
	sc := tooltest.NewServerContext(t)
	res := tooltest.Call(t, createEvent(sc), map[string]any{"subject": "Planning"})
	assert.True(t, res.IsError)
}

func TestEventResponses(t *testing.T) {
	for _, r := range eventResponses {
		t.Run(r.name, func(t *testing.T) {
			sc := tooltest.NewServerContext(t)
			res := tooltest.Approve(t, respond(sc, r.build), map[string]any{"eventId": "event-2"})
			require.False(t, res.IsError, tooltest.Text(t, res))
			assert.Contains(t, tooltest.Text(t, res), "Event event-2 has been successfully")

			calls := sc.Simulator().Calls()
			last := calls[len(calls)-1]
			assert.Equal(t, "me/events/event-2/"+r.verb, last.Path)
			assert.NotEmpty(t, last.Body["comment"])
		})
	}
}

func TestDeleteEvent_UnknownEvent(t *testing.T) {
	sc := tooltest.NewServerContext(t)
	res := tooltest.Approve(t, deleteEvent(sc), map[string]any{"eventId": "event-404"})
	assert.True(t, res.IsError)
	assert.Contains(t, tooltest.Text(t, res), "Error running deleteEvent")
}
