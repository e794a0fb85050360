package graph

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
)

// DefaultListSize is used when a list call is given no size.
const DefaultListSize = 25

// DateTime is a local time with the zone it is expressed in.
type DateTime struct {
	DateTime string `json:"dateTime"`
	TimeZone string `json:"timeZone"`
}

// Event is a calendar event.
type Event struct {
	ID      string   `json:"id"`
	Subject string   `json:"subject"`
	Start   DateTime `json:"start"`
	End     DateTime `json:"end"`
}

// Contact is an address book entry.
type Contact struct {
	ID             string         `json:"id"`
	DisplayName    string         `json:"displayName"`
	CompanyName    string         `json:"companyName,omitempty"`
	MobilePhone    string         `json:"mobilePhone,omitempty"`
	BusinessPhones []string       `json:"businessPhones,omitempty"`
	EmailAddresses []EmailAddress `json:"emailAddresses,omitempty"`
}

// EmailAddress is a named address.
type EmailAddress struct {
	Address string `json:"address"`
	Name    string `json:"name,omitempty"`
}

// Recipient wraps an address the way message fields carry it.
type Recipient struct {
	EmailAddress EmailAddress `json:"emailAddress"`
}

// ItemBody is a message or event body.
type ItemBody struct {
	ContentType string `json:"contentType"`
	Content     string `json:"content"`
}

// Message is a mail message. Body and the recipient lists are only
// filled by Message.
type Message struct {
	ID               string      `json:"id"`
	Subject          string      `json:"subject"`
	From             *Recipient  `json:"from,omitempty"`
	ToRecipients     []Recipient `json:"toRecipients,omitempty"`
	CcRecipients     []Recipient `json:"ccRecipients,omitempty"`
	ReceivedDateTime string      `json:"receivedDateTime"`
	IsRead           bool        `json:"isRead"`
	HasAttachments   bool        `json:"hasAttachments"`
	Importance       string      `json:"importance,omitempty"`
	ParentFolderID   string      `json:"parentFolderId,omitempty"`
	Body             *ItemBody   `json:"body,omitempty"`
}

// AutoReplySetting is the automatic replies part of the mailbox settings.
type AutoReplySetting struct {
	Status                 string    `json:"status"`
	ExternalAudience       string    `json:"externalAudience,omitempty"`
	InternalReplyMessage   string    `json:"internalReplyMessage,omitempty"`
	ExternalReplyMessage   string    `json:"externalReplyMessage,omitempty"`
	ScheduledStartDateTime *DateTime `json:"scheduledStartDateTime,omitempty"`
	ScheduledEndDateTime   *DateTime `json:"scheduledEndDateTime,omitempty"`
}

// MailboxSettings are the user's mailbox settings.
type MailboxSettings struct {
	TimeZone  string           `json:"timeZone"`
	AutoReply AutoReplySetting `json:"automaticRepliesSetting"`
}

// Folders lists the top level mail folders followed by the inbox children.
func (c *Client) Folders(ctx context.Context) ([]Folder, error) {
	q := url.Values{"$top": {"100"}, "$select": {"id,displayName"}}
	var all []Folder
	for _, path := range []string{"me/mailFolders", "me/mailFolders/inbox/childFolders"} {
		var list folderList
		if err := c.do(ctx, "list_folders", http.MethodGet, path, q, nil, &list); err != nil {
			return nil, err
		}
		all = append(all, list.Value...)
	}
	return all, nil
}

const (
	messageListFields   = "id,subject,from,receivedDateTime,isRead,hasAttachments,importance,parentFolderId"
	messageDetailFields = messageListFields + ",toRecipients,ccRecipients,body"
)

// MaxMessageListSize is the most messages Messages returns.
const MaxMessageListSize = 50

// Messages lists up to n messages of the named folder, newest first.
func (c *Client) Messages(ctx context.Context, folder string, n int) ([]Message, error) {
	folderID, err := c.FolderID(ctx, folder)
	if err != nil {
		return nil, err
	}
	if n > MaxMessageListSize {
		n = MaxMessageListSize
	}

	var resp struct {
		Value []Message `json:"value"`
	}
	q := listQuery(n, messageListFields)
	q.Set("$orderby", "receivedDateTime desc")
	path := escapePath("me", "mailFolders", folderID, "messages")
	if err := c.do(ctx, "list_messages", http.MethodGet, path, q, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Value, nil
}

// Message returns one message with its body.
func (c *Client) Message(ctx context.Context, id string) (*Message, error) {
	var msg Message
	q := url.Values{"$select": {messageDetailFields}}
	if err := c.do(ctx, "read_message", http.MethodGet, escapePath("me", "messages", id), q, nil, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

// Events lists up to n events.
func (c *Client) Events(ctx context.Context, n int) ([]Event, error) {
	var resp struct {
		Value []Event `json:"value"`
	}
	q := listQuery(n, "id,subject,start,end")
	q.Set("$orderby", "start/dateTime")
	if err := c.do(ctx, "list_events", http.MethodGet, "me/events", q, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Value, nil
}

// Contacts lists up to n contacts.
func (c *Client) Contacts(ctx context.Context, n int) ([]Contact, error) {
	var resp struct {
		Value []Contact `json:"value"`
	}
	q := listQuery(n, "id,displayName,emailAddresses,companyName,mobilePhone,businessPhones")
	if err := c.do(ctx, "list_contacts", http.MethodGet, "me/contacts", q, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Value, nil
}

// MailboxSettings returns the mailbox settings.
func (c *Client) MailboxSettings(ctx context.Context) (*MailboxSettings, error) {
	var settings MailboxSettings
	if err := c.do(ctx, "get_mailbox_settings", http.MethodGet, "me/mailboxSettings", nil, nil, &settings); err != nil {
		return nil, err
	}
	return &settings, nil
}

func listQuery(n int, fields string) url.Values {
	if n <= 0 {
		n = DefaultListSize
	}
	return url.Values{"$top": {strconv.Itoa(n)}, "$select": {fields}}
}
