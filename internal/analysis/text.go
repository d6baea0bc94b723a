package analysis

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// PlainText strips markup from feed content and collapses whitespace.
// Input that does not parse is returned with whitespace collapsed.
func PlainText(content string) string {
	if !strings.ContainsAny(content, "<&") {
		return strings.Join(strings.Fields(content), " ")
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(content))
	if err != nil {
		return strings.Join(strings.Fields(content), " ")
	}
	doc.Find("script, style, noscript").Remove()
	// Keep block boundaries from gluing words together.
	doc.Find("p, br, li, div, h1, h2, h3, h4, h5, h6").Each(func(_ int, s *goquery.Selection) {
		s.AppendHtml(" ")
	})
	return strings.Join(strings.Fields(doc.Text()), " ")
}
