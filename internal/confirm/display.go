package confirm

import "strings"

// Line is one labelled value on an approval prompt.
type Line struct {
	Label string `json:"label"`
	Value string `json:"value"`
}

// Display is what a human sees when asked to approve an action, both in
// the inline prompt and on the out-of-band confirmation page. Values are
// expected to be sanitized already.
type Display struct {
	Title string `json:"title"`
	Lines []Line `json:"lines,omitempty"`
}

// Text renders the display as plain text.
func (d Display) Text() string {
	var b strings.Builder
	b.WriteString(d.Title)
	for _, l := range d.Lines {
		b.WriteString("\n")
		b.WriteString(l.Label)
		b.WriteString(": ")
		b.WriteString(l.Value)
	}
	return b.String()
}
