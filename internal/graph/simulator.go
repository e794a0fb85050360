package graph

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/go-chi/chi/v5"
)

// SimulatorBaseURL is the API root served by a Simulator.
const SimulatorBaseURL = "http://graph.simulator.invalid/v1.0/"

// Call is one request the Simulator answered.
type Call struct {
	Method string
	Path   string
	Body   map[string]any
}

// Simulator is an in-process stand-in for the remote API used in test
// mode. It implements http.RoundTripper, so a Client configured with it
// runs its normal request path without touching the network.
type Simulator struct {
	router chi.Router

	mu       sync.Mutex
	calls    []Call
	nextID   int
	events   map[string]map[string]any
	contacts map[string]map[string]any
	messages map[string]*Message
	folders  []Folder
	children []Folder
	rules    []Rule
	settings map[string]any
}

// NewSimulator returns a Simulator seeded with a few folders, events,
// contacts and messages.
func NewSimulator() *Simulator {
	s := &Simulator{
		events: map[string]map[string]any{
			"event-1": simulatedEvent("event-1", "Team sync", "2025-03-03T09:00:00", "2025-03-03T09:30:00"),
			"event-2": simulatedEvent("event-2", "Quarterly review", "2025-03-04T14:00:00", "2025-03-04T15:00:00"),
		},
		contacts: map[string]map[string]any{
			"contact-1": {"displayName": "Alice Adams"},
			"contact-2": {"displayName": "Bob Brown"},
		},
		messages: map[string]*Message{
			"simulated-email-1": simulatedMessage("simulated-email-1", "Welcome", "alice@example.com",
				"2025-03-01T08:00:00Z", "Text", "Welcome to the team."),
			"simulated-email-2": simulatedMessage("simulated-email-2", "Quarterly numbers", "bob@example.com",
				"2025-03-02T10:30:00Z", "HTML", "<html><body><p>Numbers are <b>up</b>.</p><p>See you Monday.</p></body></html>"),
			"simulated-email-3": simulatedMessage("simulated-email-3", "Lunch?", "carol@example.com",
				"2025-03-03T12:15:00Z", "Text", "Free for lunch today?"),
		},
		folders: []Folder{
			{ID: "inbox", DisplayName: "Inbox"},
			{ID: "drafts", DisplayName: "Drafts"},
			{ID: "sentitems", DisplayName: "Sent Items"},
			{ID: "deleteditems", DisplayName: "Deleted Items"},
		},
		children: []Folder{{ID: "folder-projects", DisplayName: "Projects"}},
		settings: map[string]any{},
	}

	r := chi.NewRouter()
	r.Route("/v1.0/me", func(r chi.Router) {
		r.Use(s.authorize)
		r.Get("/", s.me)
		r.Post("/sendMail", s.accepted)
		r.Get("/events", s.listEvents)
		r.Post("/events", s.create(func(id string, body map[string]any) {
			body["id"] = id
			s.events[id] = body
		}))
		r.Post("/events/{id}/{verb:(cancel|accept|decline)}", s.eventResponse)
		r.Delete("/events/{id}", s.deleteEvent)
		r.Get("/contacts", s.listContacts)
		r.Post("/contacts", s.create(func(id string, body map[string]any) { s.contacts[id] = body }))
		r.Patch("/contacts/{id}", s.updateContact)
		r.Delete("/contacts/{id}", s.deleteContact)
		r.Get("/mailFolders", s.listFolders(false))
		r.Get("/mailFolders/inbox/childFolders", s.listFolders(true))
		r.Get("/mailFolders/inbox/messageRules", s.listRules)
		r.Post("/mailFolders/inbox/messageRules", s.createRule)
		r.Patch("/mailFolders/inbox/messageRules/{id}", s.updateRule)
		r.Get("/mailboxSettings", s.getSettings)
		r.Patch("/mailboxSettings", s.updateSettings)
		r.Get("/mailFolders/{folder}/messages", s.listMessages)
		r.Get("/messages/{id}", s.getMessage)
		r.Post("/messages/{id}/move", s.moveMessage)
	})
	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeAPIError(w, http.StatusNotFound, "ResourceNotFound", "Resource not found")
	})
	s.router = r
	return s
}

// RoundTrip serves req in process.
func (s *Simulator) RoundTrip(req *http.Request) (*http.Response, error) {
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	resp := rec.Result()
	resp.Request = req
	return resp, nil
}

// Calls returns the requests answered so far.
func (s *Simulator) Calls() []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Call(nil), s.calls...)
}

// MessageFolder returns the folder id a seeded message is in.
func (s *Simulator) MessageFolder(id string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m, ok := s.messages[id]; ok {
		return m.ParentFolderID
	}
	return ""
}

// Settings returns the last mailbox settings patch.
func (s *Simulator) Settings() map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.settings
}

func (s *Simulator) authorize(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasPrefix(r.Header.Get("Authorization"), "Bearer ") {
			writeAPIError(w, http.StatusUnauthorized, "InvalidAuthenticationToken", "Access token is empty.")
			return
		}

		var body map[string]any
		if r.Body != nil {
			_ = json.NewDecoder(r.Body).Decode(&body)
		}
		s.mu.Lock()
		s.calls = append(s.calls, Call{Method: r.Method, Path: strings.TrimPrefix(r.URL.Path, "/v1.0/"), Body: body})
		s.mu.Unlock()

		next.ServeHTTP(w, r.WithContext(withBody(r.Context(), body)))
	})
}

func (s *Simulator) newID(prefix string) string {
	s.nextID++
	return fmt.Sprintf("%s-%d", prefix, s.nextID)
}

func (s *Simulator) me(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, User{ID: "simulated-user", DisplayName: "Test User", Mail: "test@example.com"})
}

func (s *Simulator) accepted(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusAccepted)
}

func (s *Simulator) create(store func(id string, body map[string]any)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		id := s.newID("simulated")
		store(id, bodyFrom(r.Context()))
		s.mu.Unlock()
		writeJSON(w, http.StatusCreated, idResponse{ID: id})
	}
}

func (s *Simulator) eventResponse(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.events[id]; !ok {
		writeAPIError(w, http.StatusNotFound, "ErrorItemNotFound", "The specified object was not found in the store.")
		return
	}
	if chi.URLParam(r, "verb") == "cancel" {
		delete(s.events, id)
	}
	w.WriteHeader(http.StatusAccepted)
}

func (s *Simulator) deleteEvent(w http.ResponseWriter, r *http.Request) {
	s.deleteFrom(w, chi.URLParam(r, "id"), func(id string) bool {
		_, ok := s.events[id]
		delete(s.events, id)
		return ok
	})
}

func (s *Simulator) updateContact(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.contacts[id]
	if !ok {
		writeAPIError(w, http.StatusNotFound, "ErrorItemNotFound", "The specified object was not found in the store.")
		return
	}
	for k, v := range bodyFrom(r.Context()) {
		c[k] = v
	}
	writeJSON(w, http.StatusOK, idResponse{ID: id})
}

func (s *Simulator) deleteContact(w http.ResponseWriter, r *http.Request) {
	s.deleteFrom(w, chi.URLParam(r, "id"), func(id string) bool {
		_, ok := s.contacts[id]
		delete(s.contacts, id)
		return ok
	})
}

func (s *Simulator) deleteFrom(w http.ResponseWriter, id string, remove func(string) bool) {
	s.mu.Lock()
	ok := remove(id)
	s.mu.Unlock()
	if !ok {
		writeAPIError(w, http.StatusNotFound, "ErrorItemNotFound", "The specified object was not found in the store.")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Simulator) listFolders(children bool) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		s.mu.Lock()
		list := s.folders
		if children {
			list = s.children
		}
		list = append([]Folder(nil), list...)
		s.mu.Unlock()
		writeJSON(w, http.StatusOK, folderList{Value: list})
	}
}

func (s *Simulator) listEvents(w http.ResponseWriter, _ *http.Request) {
	s.mu.Lock()
	list := make([]map[string]any, 0, len(s.events))
	for _, e := range s.events {
		list = append(list, e)
	}
	s.mu.Unlock()
	sort.Slice(list, func(i, j int) bool { return fmt.Sprint(list[i]["id"]) < fmt.Sprint(list[j]["id"]) })
	writeJSON(w, http.StatusOK, map[string]any{"value": list})
}

func (s *Simulator) listContacts(w http.ResponseWriter, _ *http.Request) {
	s.mu.Lock()
	list := make([]map[string]any, 0, len(s.contacts))
	for id, c := range s.contacts {
		entry := map[string]any{"id": id}
		for k, v := range c {
			entry[k] = v
		}
		list = append(list, entry)
	}
	s.mu.Unlock()
	sort.Slice(list, func(i, j int) bool { return fmt.Sprint(list[i]["id"]) < fmt.Sprint(list[j]["id"]) })
	writeJSON(w, http.StatusOK, map[string]any{"value": list})
}

func (s *Simulator) listRules(w http.ResponseWriter, _ *http.Request) {
	s.mu.Lock()
	rules := append([]Rule(nil), s.rules...)
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]any{"value": rules})
}

func (s *Simulator) createRule(w http.ResponseWriter, r *http.Request) {
	body := bodyFrom(r.Context())
	name, _ := body["displayName"].(string)
	seq, _ := body["sequence"].(float64)
	conditions, _ := body["conditions"].(map[string]any)
	actions, _ := body["actions"].(map[string]any)

	s.mu.Lock()
	rule := Rule{
		ID:          s.newID("rule"),
		DisplayName: name,
		Sequence:    int(seq),
		IsEnabled:   true,
		Conditions:  conditions,
		Actions:     actions,
	}
	s.rules = append(s.rules, rule)
	s.mu.Unlock()
	writeJSON(w, http.StatusCreated, rule)
}

func (s *Simulator) updateRule(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	seq, _ := bodyFrom(r.Context())["sequence"].(float64)

	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.rules {
		if s.rules[i].ID == id {
			s.rules[i].Sequence = int(seq)
			writeJSON(w, http.StatusOK, s.rules[i])
			return
		}
	}
	writeAPIError(w, http.StatusNotFound, "ErrorItemNotFound", "The specified rule was not found.")
}

func (s *Simulator) getSettings(w http.ResponseWriter, _ *http.Request) {
	s.mu.Lock()
	settings := map[string]any{"timeZone": "UTC", "language": map[string]any{"locale": "en-US"}}
	if ar, ok := s.settings["automaticRepliesSetting"]; ok {
		settings["automaticRepliesSetting"] = ar
	} else {
		settings["automaticRepliesSetting"] = map[string]any{"status": "disabled", "externalAudience": "none"}
	}
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, settings)
}

func (s *Simulator) updateSettings(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	s.settings = bodyFrom(r.Context())
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]any{})
}

func (s *Simulator) moveMessage(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	dest, _ := bodyFrom(r.Context())["destinationId"].(string)

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.messages[id]; !ok {
		writeAPIError(w, http.StatusNotFound, "ErrorItemNotFound", "The specified object was not found in the store.")
		return
	}
	s.messages[id].ParentFolderID = dest
	writeJSON(w, http.StatusCreated, idResponse{ID: id})
}

func (s *Simulator) listMessages(w http.ResponseWriter, r *http.Request) {
	folder := chi.URLParam(r, "folder")
	top, err := strconv.Atoi(r.URL.Query().Get("$top"))
	if err != nil || top <= 0 {
		top = DefaultListSize
	}

	s.mu.Lock()
	list := make([]Message, 0, len(s.messages))
	for _, m := range s.messages {
		if m.ParentFolderID == folder {
			summary := *m
			summary.Body = nil
			summary.ToRecipients = nil
			list = append(list, summary)
		}
	}
	s.mu.Unlock()

	sort.Slice(list, func(i, j int) bool { return list[i].ReceivedDateTime > list[j].ReceivedDateTime })
	if len(list) > top {
		list = list[:top]
	}
	writeJSON(w, http.StatusOK, map[string]any{"value": list})
}

func (s *Simulator) getMessage(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	m, ok := s.messages[chi.URLParam(r, "id")]
	var msg Message
	if ok {
		msg = *m
	}
	s.mu.Unlock()
	if !ok {
		writeAPIError(w, http.StatusNotFound, "ErrorItemNotFound", "The specified object was not found in the store.")
		return
	}
	writeJSON(w, http.StatusOK, msg)
}

func simulatedMessage(id, subject, from, received, contentType, body string) *Message {
	return &Message{
		ID:               id,
		Subject:          subject,
		From:             &Recipient{EmailAddress: EmailAddress{Address: from}},
		ToRecipients:     []Recipient{{EmailAddress: EmailAddress{Address: "test@example.com", Name: "Test User"}}},
		ReceivedDateTime: received,
		ParentFolderID:   "inbox",
		Body:             &ItemBody{ContentType: contentType, Content: body},
	}
}

func simulatedEvent(id, subject, start, end string) map[string]any {
	return map[string]any{
		"id":      id,
		"subject": subject,
		"start":   map[string]any{"dateTime": start, "timeZone": "UTC"},
		"end":     map[string]any{"dateTime": end, "timeZone": "UTC"},
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeAPIError(w http.ResponseWriter, status int, code, message string) {
	var eb errorBody
	eb.Error.Code = code
	eb.Error.Message = message
	writeJSON(w, status, eb)
}

type bodyKey struct{}

func withBody(ctx context.Context, body map[string]any) context.Context {
	return context.WithValue(ctx, bodyKey{}, body)
}

func bodyFrom(ctx context.Context) map[string]any {
	body, _ := ctx.Value(bodyKey{}).(map[string]any)
	if body == nil {
		body = map[string]any{}
	}
	return body
}
