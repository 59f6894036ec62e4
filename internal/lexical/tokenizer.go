package lexical

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

// nonWord matches any run of characters that are not letters, digits, or
// whitespace, mirroring the Python tokenizer's regex substitution.
var nonWord = regexp.MustCompile(`[^\p{L}\p{N}\s]+`)

// stopwords is the curated English stopword list the tokenizer drops,
// carried from original_source/keyword_search/tokenizer.py.
var stopwords = map[string]struct{}{
	"a": {}, "an": {}, "and": {}, "are": {}, "as": {}, "at": {}, "be": {},
	"by": {}, "for": {}, "from": {}, "has": {}, "he": {}, "in": {}, "is": {},
	"it": {}, "its": {}, "of": {}, "on": {}, "that": {}, "the": {}, "to": {},
	"was": {}, "were": {}, "will": {}, "with": {}, "this": {}, "these": {},
	"those": {}, "or": {}, "but": {}, "not": {}, "can": {}, "do": {}, "does": {},
	"did": {}, "have": {}, "had": {}, "i": {}, "you": {}, "we": {}, "they": {},
	"what": {}, "which": {}, "who": {}, "so": {}, "if": {}, "than": {},
}

// Tokenize lowercases text, strips non-word characters, splits on
// whitespace, and drops stopwords and single-character tokens. It is
// idempotent: tokenizing the output of Tokenize joined by spaces yields the
// same tokens.
func Tokenize(text string) []string {
	lower := strings.ToLower(text)
	stripped := nonWord.ReplaceAllString(lower, " ")
	fields := strings.Fields(stripped)

	out := make([]string, 0, len(fields))
	for _, tok := range fields {
		if utf8.RuneCountInString(tok) < 2 {
			continue
		}
		if _, stop := stopwords[tok]; stop {
			continue
		}
		out = append(out, tok)
	}
	return out
}
