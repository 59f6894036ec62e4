// Package understanding implements the Query Understanding stage (spec
// §4, stage 1): it normalizes the raw query text, guesses a language tag,
// classifies a coarse intent, and extracts simple constraint filters (year
// mentions, before/after/since time filters). Grounded on
// original_source/query/understanding.py; the language guess in particular
// mirrors that file's own heuristic rather than wrapping a real
// language-id model — see DESIGN.md's Open Question entry.
package understanding

import (
	"context"
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"

	"github.com/knoguchi/ragsentinel/internal/domain"
)

var yearPattern = regexp.MustCompile(`\b(20\d{2})\b`)
var timeFilterPattern = regexp.MustCompile(`(?i)(after|before|since|until)\s+(\w+\s?\d{0,4})`)
var whitespaceRun = regexp.MustCompile(`\s+`)

// Understanding normalizes and classifies incoming queries.
type Understanding struct{}

// New creates a Query Understanding stage.
func New() *Understanding {
	return &Understanding{}
}

// Process normalizes raw, guesses its language, classifies its intent, and
// extracts any year or before/after/since constraints. It never fails: an
// empty or unclassifiable query still returns a ProcessedQuery with
// IntentGeneral and no constraints.
func (u *Understanding) Process(_ context.Context, raw string) (domain.ProcessedQuery, error) {
	normalized := normalize(raw)

	return domain.ProcessedQuery{
		Raw:         raw,
		Normalized:  normalized,
		Language:    guessLanguage(normalized),
		Intent:      classifyIntent(normalized),
		Constraints: extractConstraints(normalized),
	}, nil
}

func normalize(text string) string {
	nfkc := norm.NFKC.String(text)
	collapsed := whitespaceRun.ReplaceAllString(nfkc, " ")
	return strings.TrimSpace(collapsed)
}

// guessLanguage is a lightweight heuristic, not a real language-id model:
// it flags non-Latin-script-dominant text as non-English and otherwise
// defaults to "en". original_source/query/understanding.py wraps a real
// `langdetect` call but falls back to "en" on any failure; no pack example
// vendors an equivalent Go language-id library, so this keeps the
// fallback behavior as the primary path rather than fabricating a
// dependency that was never in the corpus.
func guessLanguage(text string) string {
	if text == "" {
		return "en"
	}
	var letters, nonLatin int
	for _, r := range text {
		if !unicode.IsLetter(r) {
			continue
		}
		letters++
		if r > unicode.MaxLatin1 && !unicode.Is(unicode.Latin, r) {
			nonLatin++
		}
	}
	if letters > 0 && float64(nonLatin)/float64(letters) > 0.5 {
		return "und"
	}
	return "en"
}

// classifyIntent applies the same ordered keyword rules as
// original_source/query/understanding.py's _classify_intent.
func classifyIntent(query string) domain.Intent {
	q := strings.ToLower(query)
	switch {
	case containsAny(q, "compare", "difference", "vs", "versus"):
		return domain.IntentComparison
	case containsAny(q, "how to", "how do", "how can", "steps to"):
		return domain.IntentHowTo
	case containsAny(q, "what is", "what are", "define", "explain"):
		return domain.IntentFactual
	case containsAny(q, "why", "reason", "cause"):
		return domain.IntentCausal
	case containsAny(q, "list", "enumerate", "name all"):
		return domain.IntentList
	default:
		return domain.IntentGeneral
	}
}

func containsAny(haystack string, needles ...string) bool {
	for _, n := range needles {
		if strings.Contains(haystack, n) {
			return true
		}
	}
	return false
}

// extractConstraints pulls year mentions and a single before/after/since/
// until time filter out of the normalized query text.
func extractConstraints(query string) map[string]string {
	constraints := make(map[string]string)

	years := yearPattern.FindAllString(query, -1)
	if len(years) > 0 {
		constraints["years"] = strings.Join(years, ",")
	}

	if m := timeFilterPattern.FindStringSubmatch(query); m != nil {
		constraints["time_filter_type"] = strings.ToLower(m[1])
		constraints["time_filter_value"] = strings.TrimSpace(m[2])
	}

	if len(constraints) == 0 {
		return nil
	}
	return constraints
}
