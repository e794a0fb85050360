package graph

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Text returns the message body as plain text. HTML bodies are reduced
// to their visible text with blank runs collapsed.
func (m Message) Text() string {
	if m.Body == nil {
		return ""
	}
	if !strings.EqualFold(m.Body.ContentType, "html") {
		return strings.TrimSpace(m.Body.Content)
	}
	return htmlToText(m.Body.Content)
}

func htmlToText(html string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return strings.TrimSpace(html)
	}
	doc.Find("script, style, head").Remove()
	doc.Find("br").ReplaceWithHtml("\n")
	doc.Find("p, div, li, tr, h1, h2, h3, h4, h5, h6").Each(func(_ int, s *goquery.Selection) {
		s.AppendHtml("\n")
	})

	var lines []string
	blank := false
	for _, line := range strings.Split(doc.Text(), "\n") {
		line = strings.Join(strings.Fields(line), " ")
		if line == "" {
			if !blank && len(lines) > 0 {
				lines = append(lines, "")
			}
			blank = true
			continue
		}
		lines = append(lines, line)
		blank = false
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}
