package nlu

import (
	"regexp"
	"strings"
)

// separatorPatterns are the ordered splitting heuristics for multi-intent
// utterances: the conjunction "and", semicolons, sentence-ending punctuation,
// comma followed by "and", and a standalone ampersand. Each is applied to
// every fragment produced by the previous one; empty fragments are dropped.
var separatorPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i),\s*and\s+`),
	regexp.MustCompile(`(?i)\band\b`),
	regexp.MustCompile(`;`),
	regexp.MustCompile(`[.!?]`),
	regexp.MustCompile(`\s&\s`),
}

// Decompose splits one utterance into ordered sub-statements. The result is
// never empty: an utterance with no separators comes back as a single
// statement, which the caller treats as a single-intent command.
func Decompose(text string) []string {
	parts := []string{strings.TrimSpace(text)}

	for _, sep := range separatorPatterns {
		next := make([]string, 0, len(parts))
		for _, part := range parts {
			for _, frag := range sep.Split(part, -1) {
				if frag = strings.TrimSpace(frag); frag != "" {
					next = append(next, frag)
				}
			}
		}
		parts = next
	}

	if len(parts) == 0 {
		return []string{strings.TrimSpace(text)}
	}
	return parts
}

// IsMultiIntent reports whether text decomposes into more than one statement.
func IsMultiIntent(text string) bool {
	return len(Decompose(text)) > 1
}
