package graph

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"
)

// ErrFolderNotFound is returned by FolderID for an unknown folder name.
var ErrFolderNotFound = errors.New("folder not found")

// wellKnownFolders are addressable by name without a lookup.
var wellKnownFolders = map[string]string{
	"inbox":         "inbox",
	"drafts":        "drafts",
	"sent":          "sentitems",
	"sentitems":     "sentitems",
	"sent items":    "sentitems",
	"deleted":       "deleteditems",
	"deleteditems":  "deleteditems",
	"deleted items": "deleteditems",
	"trash":         "deleteditems",
	"archive":       "archive",
	"junk":          "junkemail",
	"junkemail":     "junkemail",
	"junk email":    "junkemail",
}

// Folder is a mail folder.
type Folder struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
}

type folderList struct {
	Value []Folder `json:"value"`
}

// FolderID resolves a folder name to its id. Top level folders are
// searched first, then the children of the inbox.
func (c *Client) FolderID(ctx context.Context, name string) (string, error) {
	if id, ok := wellKnownFolders[strings.ToLower(strings.TrimSpace(name))]; ok {
		return id, nil
	}

	q := url.Values{"$top": {"100"}, "$select": {"id,displayName"}}
	for _, path := range []string{"me/mailFolders", "me/mailFolders/inbox/childFolders"} {
		var list folderList
		if err := c.do(ctx, "list_folders", http.MethodGet, path, q, nil, &list); err != nil {
			return "", err
		}
		for _, f := range list.Value {
			if strings.EqualFold(f.DisplayName, name) {
				return f.ID, nil
			}
		}
	}
	return "", ErrFolderNotFound
}
