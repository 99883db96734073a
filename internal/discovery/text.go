package discovery

import (
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
)

const PreviewLength = 200

// Preview truncates content to PreviewLength runes, marking the cut with an
// ellipsis.
func Preview(content string) string {
	content = strings.TrimSpace(content)
	if utf8.RuneCountInString(content) <= PreviewLength {
		return content
	}
	runes := []rune(content)
	return string(runes[:PreviewLength]) + "..."
}

// HTMLToText flattens an HTML fragment to plain text, one block per line.
func HTMLToText(html string) string {
	if !strings.Contains(html, "<") {
		return cleanWhitespace(html)
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return cleanWhitespace(html)
	}

	doc.Find("script, style, noscript").Remove()
	doc.Find("br").ReplaceWithHtml("\n")
	doc.Find("p, div, li, tr, h1, h2, h3, h4, h5, h6, pre, blockquote, table").AppendHtml("\n")
	doc.Find("li").PrependHtml("- ")

	return cleanWhitespace(doc.Text())
}

func cleanWhitespace(text string) string {
	lines := strings.Split(text, "\n")
	cleaned := lines[:0]
	for _, line := range lines {
		line = strings.Join(strings.Fields(line), " ")
		if line != "" {
			cleaned = append(cleaned, line)
		}
	}
	return strings.Join(cleaned, "\n")
}

// firstLine returns the first non-empty line of text, cut to max runes.
func firstLine(text string, max int) string {
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if utf8.RuneCountInString(line) > max {
			return string([]rune(line)[:max]) + "..."
		}
		return line
	}
	return ""
}
