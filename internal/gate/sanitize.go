package gate

import (
	"regexp"
	"strings"
)

// MaxDisplayLength is how much of a value is shown in a confirmation prompt.
const MaxDisplayLength = 500

const filtered = "[filtered]"

var blankLines = regexp.MustCompile(`\n\s*\n`)

// textPatterns match text that tries to pose as conversation turns or
// markup inside a field that is shown to the human.
var textPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\buser:`),
	regexp.MustCompile(`(?i)\bassistant:`),
	regexp.MustCompile("```"),
	regexp.MustCompile(`###`),
	regexp.MustCompile(`(?i)<script.*?>`),
	regexp.MustCompile(`(?i)</script>`),
}

// suspiciousPatterns also treat blank lines as a turn break.
var suspiciousPatterns = append([]*regexp.Regexp{blankLines}, textPatterns...)

var angleEscaper = strings.NewReplacer("<", "&lt;", ">", "&gt;")

// IsSuspicious reports whether s contains an injection pattern.
func IsSuspicious(s string) bool {
	for _, p := range suspiciousPatterns {
		if p.MatchString(s) {
			return true
		}
	}
	return false
}

// IsSuspiciousText is IsSuspicious for free text such as a message body,
// where paragraphs are expected.
func IsSuspiciousText(s string) bool {
	for _, p := range textPatterns {
		if p.MatchString(s) {
			return true
		}
	}
	return false
}

// AnySuspicious reports whether any of values is suspicious.
func AnySuspicious(values ...string) bool {
	for _, v := range values {
		if IsSuspicious(v) {
			return true
		}
	}
	return false
}

// SanitizeText prepares s for display: it is cut to MaxDisplayLength runes,
// injection patterns are replaced and angle brackets escaped.
func SanitizeText(s string) string {
	if r := []rune(s); len(r) > MaxDisplayLength {
		s = string(r[:MaxDisplayLength])
	}
	for _, p := range suspiciousPatterns {
		s = p.ReplaceAllString(s, filtered)
	}
	return angleEscaper.Replace(s)
}
