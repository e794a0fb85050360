package config

import (
	"fmt"
	"sort"
	"strings"
)

// AllowedScopes is the allow-list every requested scope is filtered through.
var AllowedScopes = []string{
	"openid",
	"profile",
	"email",
	"offline_access",
	"User.Read",
	"Mail.Read",
	"Mail.ReadWrite",
	"Mail.Send",
	"Calendars.Read",
	"Calendars.ReadWrite",
	"Contacts.Read",
	"Contacts.ReadWrite",
	"MailboxSettings.Read",
	"MailboxSettings.ReadWrite",
	"MailboxFolder.Read",
	"MailboxFolder.ReadWrite",
	"MailboxItem.Read",
}

// DefaultProfile is used when neither a profile nor explicit scopes are configured.
const DefaultProfile = "minimal"

// ProfileScopes maps least-privilege profile names to their scope sets.
var ProfileScopes = map[string][]string{
	"minimal": {
		"openid", "profile", "email", "User.Read",
		"Mail.Read", "Calendars.Read", "Contacts.Read", "MailboxSettings.Read",
	},
	"compose": {
		"openid", "profile", "email", "User.Read",
		"Mail.Read", "Mail.Send", "Calendars.ReadWrite", "Contacts.Read",
	},
	"manage": {
		"openid", "profile", "email", "User.Read", "offline_access",
		"Mail.ReadWrite", "Mail.Send", "Calendars.ReadWrite", "Contacts.ReadWrite",
	},
	"admin-plus": {
		"openid", "profile", "email", "User.Read", "offline_access",
		"Mail.ReadWrite", "Mail.Send", "Calendars.ReadWrite", "Contacts.ReadWrite", "MailboxSettings.ReadWrite",
	},
	"constrained": {
		"openid", "profile", "email", "User.Read",
		"Mail.Read", "Mail.Send", "MailboxFolder.ReadWrite", "Calendars.Read", "Contacts.Read",
	},
}

// readWriteSupersets lists the scopes that imply a narrower read scope.
var readWriteSupersets = map[string]string{
	"Mail.Read":            "Mail.ReadWrite",
	"Calendars.Read":       "Calendars.ReadWrite",
	"Contacts.Read":        "Contacts.ReadWrite",
	"MailboxSettings.Read": "MailboxSettings.ReadWrite",
}

// ProfileNames returns the known profile names in sorted order.
func ProfileNames() []string {
	names := make([]string, 0, len(ProfileScopes))
	for name := range ProfileScopes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// IsAllowedScope reports whether scope is on the allow-list.
func IsAllowedScope(scope string) bool {
	for _, s := range AllowedScopes {
		if s == scope {
			return true
		}
	}
	return false
}

// ResolveScopes computes the scope set to request.
//
// With a profile, requested scopes must already be part of the profile;
// anything extra is an error. Without a profile, requested scopes are
// filtered through the allow-list and the default profile is used when
// nothing survives.
func ResolveScopes(profile string, requested []string) ([]string, error) {
	profile = strings.ToLower(strings.TrimSpace(profile))
	if profile != "" {
		base, ok := ProfileScopes[profile]
		if !ok {
			return nil, fmt.Errorf("scope profile %q is invalid, valid profiles: %s",
				profile, strings.Join(ProfileNames(), ", "))
		}
		var extra []string
		for _, s := range requested {
			if !contains(base, s) {
				extra = append(extra, s)
			}
		}
		if len(extra) > 0 {
			return nil, fmt.Errorf("scopes not allowed under profile %q: %s", profile, strings.Join(extra, ", "))
		}
		return filterAllowed(base), nil
	}

	scopes := filterAllowed(requested)
	if len(scopes) == 0 {
		return append([]string(nil), ProfileScopes[DefaultProfile]...), nil
	}
	return scopes, nil
}

// ScopeSatisfied reports whether granted covers required, treating a
// ReadWrite scope as covering its Read counterpart.
func ScopeSatisfied(required string, granted []string) bool {
	if contains(granted, required) {
		return true
	}
	if sup, ok := readWriteSupersets[required]; ok {
		return contains(granted, sup)
	}
	return false
}

// MissingScopes returns the required scopes that granted does not satisfy.
func MissingScopes(required, granted []string) []string {
	var missing []string
	for _, r := range required {
		if !ScopeSatisfied(r, granted) {
			missing = append(missing, r)
		}
	}
	return missing
}

// ParseScopeList splits a scope list on commas and whitespace.
func ParseScopeList(s string) []string {
	fields := strings.FieldsFunc(s, func(r rune) bool {
		return r == ',' || r == ' ' || r == '\t' || r == '\n'
	})
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		if f = strings.TrimSpace(f); f != "" {
			out = append(out, f)
		}
	}
	return out
}

func filterAllowed(scopes []string) []string {
	seen := make(map[string]bool, len(scopes))
	out := make([]string, 0, len(scopes))
	for _, s := range scopes {
		if seen[s] || !IsAllowedScope(s) {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}

func contains(list []string, item string) bool {
	for _, s := range list {
		if s == item {
			return true
		}
	}
	return false
}
