package search

import (
	"strings"
	"unicode"
)

// stopWords are excluded from sparse scoring and keyword overlap.
var stopWords = map[string]bool{
	"the": true, "and": true, "for": true, "are": true, "but": true,
	"not": true, "you": true, "all": true, "can": true, "had": true,
	"her": true, "was": true, "one": true, "our": true, "out": true,
	"has": true, "him": true, "his": true, "how": true, "its": true,
	"may": true, "new": true, "now": true, "old": true, "see": true,
	"two": true, "way": true, "who": true, "did": true, "get": true,
	"use": true, "with": true, "this": true, "that": true, "from": true,
	"they": true, "have": true, "been": true, "were": true, "will": true,
	"would": true, "could": true, "should": true, "there": true,
	"their": true, "what": true, "when": true, "where": true, "which": true,
	"about": true, "into": true, "than": true, "them": true, "then": true,
	"these": true, "those": true, "some": true, "such": true, "only": true,
	"other": true, "more": true, "most": true, "over": true, "also": true,
	"after": true, "before": true, "between": true, "because": true,
	"does": true, "doing": true, "during": true, "each": true, "very": true,
	"your": true, "just": true, "like": true, "make": true, "made": true,
}

// Tokenize lower-cases, splits on non-alphanumerics and drops short tokens
// and stop words.
func Tokenize(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})

	tokens := make([]string, 0, len(fields))
	for _, f := range fields {
		if len(f) < 3 || stopWords[f] {
			continue
		}
		tokens = append(tokens, f)
	}
	return tokens
}
