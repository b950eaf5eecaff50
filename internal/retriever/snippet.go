package retriever

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// SnippetWidth is the approximate snippet length in characters.
const SnippetWidth = 200

// Snippet returns about SnippetWidth characters of text centered on the
// first occurrence of any query token, with "..." marking truncated
// edges. Without a match the head of the text is used.
func Snippet(text string, query []string) string {
	runes := []rune(text)
	if len(runes) <= SnippetWidth {
		return text
	}

	lowered := make([]rune, len(runes))
	for i, r := range runes {
		lowered[i] = unicode.ToLower(r)
	}
	ls := string(lowered)

	pos := -1
	for _, tok := range query {
		if tok == "" {
			continue
		}
		if i := strings.Index(ls, tok); i >= 0 && (pos < 0 || i < pos) {
			pos = i
		}
	}

	start := 0
	if pos > 0 {
		center := utf8.RuneCountInString(ls[:pos])
		start = max(center-SnippetWidth/2, 0)
	}
	end := min(start+SnippetWidth, len(runes))
	if end-start < SnippetWidth {
		start = max(end-SnippetWidth, 0)
	}

	var b strings.Builder
	if start > 0 {
		b.WriteString("...")
	}
	b.WriteString(string(runes[start:end]))
	if end < len(runes) {
		b.WriteString("...")
	}
	return b.String()
}
