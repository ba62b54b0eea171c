package utils

import (
	"regexp"
	"strings"
)

var (
	blockBreaks = regexp.MustCompile(`(?i)</p>\s*<p>`)
	lineBreaks  = regexp.MustCompile(`(?i)<br\s*/?>`)
	listItems   = regexp.MustCompile(`(?is)<li>(.*?)</li>`)
	anchors     = regexp.MustCompile(`(?is)<a\s+href="(.*?)">(.*?)</a>`)
	anyTag      = regexp.MustCompile(`<[^>]+>`)
	manyBlanks  = regexp.MustCompile(`\n{3,}`)
)

// HTMLToText renders an HTML mail body as readable plain text. Used as the
// correspondence body when an event is configured for plain-text mail but the
// host only provides an HTML rendering.
func HTMLToText(html string) string {
	if html == "" {
		return ""
	}

	text := blockBreaks.ReplaceAllString(html, "\n\n")
	text = lineBreaks.ReplaceAllString(text, "\n")
	text = listItems.ReplaceAllString(text, "* $1\n")
	text = anchors.ReplaceAllString(text, "$2 ($1)")
	text = anyTag.ReplaceAllString(text, "")
	text = manyBlanks.ReplaceAllString(text, "\n\n")

	text = strings.ReplaceAll(text, "&nbsp;", " ")
	text = strings.ReplaceAll(text, "&lt;", "<")
	text = strings.ReplaceAll(text, "&gt;", ">")
	text = strings.ReplaceAll(text, "&quot;", "\"")
	text = strings.ReplaceAll(text, "&#39;", "'")
	text = strings.ReplaceAll(text, "&amp;", "&")

	return strings.TrimSpace(text)
}
