// Package textutil holds the lexical helpers shared by the generation
// pipeline: tokenizing, token-set similarity, sentence splitting, and
// prompt-safe cleanup.
package textutil

import (
	"strings"
	"unicode"
)

// Tokenize lowercases the input and splits it into alphanumeric word
// tokens. Punctuation and symbols are treated as separators.
func Tokenize(input string) []string {
	var tokens []string
	var current strings.Builder
	for _, r := range input {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			current.WriteRune(unicode.ToLower(r))
			continue
		}
		if current.Len() > 0 {
			tokens = append(tokens, current.String())
			current.Reset()
		}
	}
	if current.Len() > 0 {
		tokens = append(tokens, current.String())
	}
	return tokens
}

// ContentTokens returns the tokens of input whose length is at least minLen.
func ContentTokens(input string, minLen int) []string {
	all := Tokenize(input)
	kept := all[:0]
	for _, tok := range all {
		if len([]rune(tok)) >= minLen {
			kept = append(kept, tok)
		}
	}
	return kept
}

// Set builds a membership set from a token slice.
func Set(tokens []string) map[string]struct{} {
	set := make(map[string]struct{}, len(tokens))
	for _, tok := range tokens {
		set[tok] = struct{}{}
	}
	return set
}

// Jaccard computes token-set Jaccard similarity: |A∩B| / |A∪B|.
// Two empty inputs score 0.
func Jaccard(a, b []string) float64 {
	setA := Set(a)
	setB := Set(b)
	if len(setA) == 0 && len(setB) == 0 {
		return 0
	}

	intersection := 0
	for tok := range setA {
		if _, ok := setB[tok]; ok {
			intersection++
		}
	}
	union := len(setA) + len(setB) - intersection
	if union == 0 {
		return 0
	}
	return float64(intersection) / float64(union)
}

// OverlapRatio reports the fraction of tokens present in the given set.
// An empty token slice scores 0.
func OverlapRatio(tokens []string, set map[string]struct{}) float64 {
	if len(tokens) == 0 {
		return 0
	}
	hits := 0
	for _, tok := range tokens {
		if _, ok := set[tok]; ok {
			hits++
		}
	}
	return float64(hits) / float64(len(tokens))
}

// SplitSentences breaks text at sentence terminators (., !, ?). Trailing
// text without a terminator counts as a final sentence. Fragments holding
// nothing but whitespace or terminators are dropped, so ellipses do not
// produce phantom sentences.
func SplitSentences(text string) []string {
	var sentences []string
	var current strings.Builder
	flush := func() {
		s := strings.TrimSpace(current.String())
		if strings.Trim(s, ".!?") != "" {
			sentences = append(sentences, s)
		}
		current.Reset()
	}
	for _, r := range text {
		current.WriteRune(r)
		if r == '.' || r == '!' || r == '?' {
			flush()
		}
	}
	flush()
	return sentences
}

// WordCount counts whitespace-separated words.
func WordCount(text string) int {
	return len(strings.Fields(text))
}

// Collapse trims the input and folds all internal whitespace runs into
// single spaces.
func Collapse(input string) string {
	return strings.Join(strings.Fields(strings.TrimSpace(input)), " ")
}

// Sanitize collapses whitespace and truncates to limit runes, appending an
// ellipsis when content was dropped. A non-positive limit disables
// truncation.
func Sanitize(input string, limit int) string {
	collapsed := Collapse(input)
	if limit <= 0 {
		return collapsed
	}
	runes := []rune(collapsed)
	if len(runes) <= limit {
		return collapsed
	}
	if limit > 3 {
		return string(runes[:limit-3]) + "..."
	}
	return string(runes[:limit])
}

// TruncateWords keeps at most maxWords words, appending an ellipsis when
// content was dropped.
func TruncateWords(text string, maxWords int) string {
	words := strings.Fields(text)
	if len(words) <= maxWords {
		return strings.Join(words, " ")
	}
	return strings.Join(words[:maxWords], " ") + "..."
}
