package cards

import (
	"strings"

	"studygen/internal/config"
	"studygen/internal/models"
	"studygen/internal/textutil"
)

// Token-overlap floor for treating a source sentence as a replacement
// answer when no literal containment exists.
const sentenceOverlapFloor = 0.6

// NormalizeResult is the outcome for a single answer. Failed items are
// excluded from strict batches and flagged in mixed ones; they are never
// persisted silently.
type NormalizeResult struct {
	Answer  string
	Changed bool
	Failed  bool
}

// Normalizer rewrites answers that violate their difficulty band, always
// preferring text lifted from the source so grounding never weakens.
type Normalizer struct {
	cfg config.Pipeline
	cls LengthClassifier
}

func NewNormalizer(cfg config.Pipeline) *Normalizer {
	return &Normalizer{cfg: cfg, cls: NewLengthClassifier(cfg)}
}

// Normalize fits answer into the target band. Repair order: a source
// sentence matching the answer or question, then truncation of the
// model's own answer. When nothing fits the band the item is marked
// failed with the original answer untouched.
func (n *Normalizer) Normalize(question, answer string, target models.Difficulty, source string) NormalizeResult {
	answer = strings.TrimSpace(answer)
	if n.cls.Conforms(answer, target) {
		return NormalizeResult{Answer: answer}
	}

	if sentence := n.findSourceSentence(question, answer, source); sentence != "" {
		if fitted, ok := n.fitToBand(sentence, target); ok {
			return NormalizeResult{Answer: fitted, Changed: true}
		}
	}

	if fitted, ok := n.fitToBand(answer, target); ok {
		return NormalizeResult{Answer: fitted, Changed: true}
	}

	return NormalizeResult{Answer: answer, Failed: true}
}

// findSourceSentence looks for a sentence that can stand in for the
// answer: literal containment of the answer first, then of the question,
// then the sentence sharing most of the answer's tokens.
func (n *Normalizer) findSourceSentence(question, answer, source string) string {
	sentences := textutil.SplitSentences(source)
	if len(sentences) == 0 {
		return ""
	}

	lowerAnswer := strings.ToLower(strings.TrimSpace(answer))
	lowerQuestion := strings.ToLower(strings.TrimSpace(question))
	for _, s := range sentences {
		lower := strings.ToLower(s)
		if lowerAnswer != "" && strings.Contains(lower, lowerAnswer) {
			return s
		}
		if lowerQuestion != "" && strings.Contains(lower, lowerQuestion) {
			return s
		}
	}

	answerTokens := textutil.ContentTokens(answer, n.cfg.SupportTokenMin)
	if len(answerTokens) == 0 {
		return ""
	}
	best := ""
	bestScore := 0.0
	for _, s := range sentences {
		set := textutil.Set(textutil.ContentTokens(s, n.cfg.SupportTokenMin))
		if score := textutil.OverlapRatio(answerTokens, set); score > bestScore {
			bestScore = score
			best = s
		}
	}
	if bestScore >= sentenceOverlapFloor {
		return best
	}
	return ""
}

// fitToBand shortens text until it satisfies the band: drop excess
// sentences, then excess words. Text that is still too short afterwards
// cannot be repaired here.
func (n *Normalizer) fitToBand(text string, target models.Difficulty) (string, bool) {
	text = strings.TrimSpace(text)
	_, _, maxSentences := n.cls.band(target)

	if sentences := textutil.SplitSentences(text); len(sentences) > maxSentences {
		text = strings.TrimSpace(strings.Join(sentences[:maxSentences], " "))
	}
	_, maxWords, _ := n.cls.band(target)
	if textutil.WordCount(text) > maxWords {
		text = textutil.TruncateWords(text, maxWords)
	}

	return text, n.cls.Conforms(text, target)
}
