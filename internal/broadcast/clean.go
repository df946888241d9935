package broadcast

import (
	"strings"

	"golang.org/x/net/html"
)

// CleanHTML strips markup from authored content, keeping the text and
// turning block boundaries and <br> into newlines.
func CleanHTML(s string) string {
	if !strings.ContainsAny(s, "<&") {
		return strings.TrimSpace(s)
	}

	var b strings.Builder
	tokenizer := html.NewTokenizer(strings.NewReader(s))

loop:
	for {
		switch tokenizer.Next() {
		case html.ErrorToken:
			break loop
		case html.TextToken:
			b.WriteString(tokenizer.Token().Data)
		case html.StartTagToken, html.SelfClosingTagToken:
			name, _ := tokenizer.TagName()
			switch string(name) {
			case "br":
				b.WriteString("\n")
			case "script", "style":
				// Skip embedded code entirely
				skipElement(tokenizer, string(name))
			}
		case html.EndTagToken:
			name, _ := tokenizer.TagName()
			switch string(name) {
			case "p", "div", "li":
				b.WriteString("\n")
			}
		}
	}

	return normalizeWhitespace(b.String())
}

func skipElement(tokenizer *html.Tokenizer, name string) {
	for {
		switch tokenizer.Next() {
		case html.ErrorToken:
			return
		case html.EndTagToken:
			end, _ := tokenizer.TagName()
			if string(end) == name {
				return
			}
		}
	}
}

// normalizeWhitespace collapses runs of spaces and keeps at most one blank
// line between paragraphs.
func normalizeWhitespace(s string) string {
	lines := strings.Split(s, "\n")
	var out []string
	blank := 0
	for _, line := range lines {
		line = strings.Join(strings.Fields(line), " ")
		if line == "" {
			blank++
			if blank > 1 || len(out) == 0 {
				continue
			}
		} else {
			blank = 0
		}
		out = append(out, line)
	}
	// Drop trailing blanks
	for len(out) > 0 && out[len(out)-1] == "" {
		out = out[:len(out)-1]
	}
	return strings.Join(out, "\n")
}
