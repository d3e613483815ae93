package vocab

import (
	"strings"

	"golang.org/x/net/html"
)

// PlainText converts an HTML content property (e.g. a Note's "content" or an
// actor's "summary") to plain text. It uses the standard HTML tokenizer so
// entity references — named (&amp;), decimal (&#60;), and hexadecimal
// (&#x3C;) — are decoded correctly, and discards <script>/<style> content
// entirely rather than including it as visible text.
func PlainText(h string) string {
	z := html.NewTokenizer(strings.NewReader(h))
	var sb strings.Builder
	skipContent := false
	for {
		tt := z.Next()
		if tt == html.ErrorToken {
			break
		}
		switch tt {
		case html.TextToken:
			if !skipContent {
				sb.WriteString(html.UnescapeString(string(z.Raw())))
			}
		case html.StartTagToken, html.SelfClosingTagToken:
			name, _ := z.TagName()
			switch string(name) {
			case "script", "style":
				skipContent = true
			case "p", "div", "blockquote", "li":
				sb.WriteString("\n\n")
			case "br":
				sb.WriteString("\n")
			}
		case html.EndTagToken:
			name, _ := z.TagName()
			switch string(name) {
			case "script", "style":
				skipContent = false
			case "p", "div", "blockquote", "li":
				sb.WriteString("\n\n")
			}
		}
	}
	text := sb.String()
	for strings.Contains(text, "\n\n\n") {
		text = strings.ReplaceAll(text, "\n\n\n", "\n\n")
	}
	return strings.TrimSpace(text)
}
