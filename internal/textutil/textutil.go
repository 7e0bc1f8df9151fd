package textutil

import (
	"regexp"
	"strings"
)

var (
	whitespaceRe = regexp.MustCompile(`\s+`)
	punctRe      = regexp.MustCompile(`[^\w\s]`)
)

// NormalizeWhitespace collapses all whitespace runs to single spaces and trims.
func NormalizeWhitespace(s string) string {
	return strings.TrimSpace(whitespaceRe.ReplaceAllString(s, " "))
}

// CleanSnippet normalizes a search result snippet for prompting: newlines and
// whitespace runs collapsed, trailing ellipsis stripped, truncated to maxLen.
func CleanSnippet(s string, maxLen int) string {
	if s == "" {
		return ""
	}
	out := NormalizeWhitespace(s)
	out = strings.TrimRight(out, ".")
	out = strings.TrimRight(out, "…")
	out = strings.TrimSpace(out)
	if maxLen > 0 {
		out = TruncateRunes(out, maxLen)
	}
	return out
}

// RemoveDuplicates drops snippets whose normalized form (lowercased, no
// punctuation) was already seen. Order is preserved.
func RemoveDuplicates(snippets []string) []string {
	if len(snippets) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(snippets))
	out := make([]string, 0, len(snippets))
	for _, s := range snippets {
		norm := punctRe.ReplaceAllString(strings.ToLower(s), "")
		norm = NormalizeWhitespace(norm)
		if norm == "" {
			continue
		}
		if _, ok := seen[norm]; ok {
			continue
		}
		seen[norm] = struct{}{}
		out = append(out, s)
	}
	return out
}

func TruncateRunes(s string, maxRunes int) string {
	if maxRunes <= 0 {
		return ""
	}
	runes := []rune(s)
	if len(runes) <= maxRunes {
		return s
	}
	return strings.TrimSpace(string(runes[:maxRunes]))
}
