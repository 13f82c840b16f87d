package retrieval

import (
	"regexp"
	"strings"
)

var (
	disallowedChars = regexp.MustCompile(`[^\p{L}\p{N}_\s\-\.\?\!]`)
	stopWords       = map[string]struct{}{
		"the": {}, "a": {}, "an": {}, "and": {}, "or": {}, "but": {}, "in": {},
		"on": {}, "at": {}, "to": {}, "for": {}, "of": {}, "with": {}, "by": {},
	}
)

// CleanQuery normalizes a question before it is embedded: whitespace is
// collapsed, punctuation other than - . ? ! is stripped, text is lower-cased and
// stopwords are dropped unless the query has three words or fewer.
func CleanQuery(raw string) string {
	cleaned := strings.Join(strings.Fields(raw), " ")
	cleaned = disallowedChars.ReplaceAllString(cleaned, "")
	cleaned = strings.ToLower(cleaned)

	words := strings.Fields(cleaned)
	if len(words) <= 3 {
		return strings.Join(words, " ")
	}
	kept := make([]string, 0, len(words))
	for _, w := range words {
		if _, stop := stopWords[w]; !stop {
			kept = append(kept, w)
		}
	}
	return strings.Join(kept, " ")
}
