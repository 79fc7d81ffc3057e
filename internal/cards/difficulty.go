// Package cards enforces the flashcard difficulty contract: answers match
// their difficulty's length band, and mixed batches split into the
// configured shares. The model's self-reported difficulty is only a hint;
// measured answer shape is authoritative.
package cards

import (
	"math"

	"studygen/internal/config"
	"studygen/internal/models"
	"studygen/internal/textutil"
)

// Sentence caps per band. Word counts come from configuration; sentence
// structure does not.
const (
	easyMaxSentences   = 1
	mediumMaxSentences = 2
	hardMaxSentences   = 6
)

// Classifier derives a difficulty from an answer and checks band
// membership.
type Classifier interface {
	Classify(answer string) models.Difficulty
	Conforms(answer string, difficulty models.Difficulty) bool
}

// LengthClassifier classifies purely by word and sentence counts.
type LengthClassifier struct {
	cfg config.Pipeline
}

func NewLengthClassifier(cfg config.Pipeline) LengthClassifier {
	return LengthClassifier{cfg: cfg}
}

// Classify maps an answer to the tightest band it fits; anything beyond
// the medium band is hard.
func (c LengthClassifier) Classify(answer string) models.Difficulty {
	words := textutil.WordCount(answer)
	sentences := len(textutil.SplitSentences(answer))

	switch {
	case words <= c.cfg.EasyMaxWords && sentences <= easyMaxSentences:
		return models.DifficultyEasy
	case words <= c.cfg.MediumMaxWords && sentences <= mediumMaxSentences:
		return models.DifficultyMedium
	default:
		return models.DifficultyHard
	}
}

// Conforms reports whether the answer sits inside the band for the given
// difficulty, bounds included.
func (c LengthClassifier) Conforms(answer string, difficulty models.Difficulty) bool {
	words := textutil.WordCount(answer)
	sentences := len(textutil.SplitSentences(answer))
	minWords, maxWords, maxSentences := c.band(difficulty)
	return words >= minWords && words <= maxWords && sentences <= maxSentences
}

func (c LengthClassifier) band(difficulty models.Difficulty) (minWords, maxWords, maxSentences int) {
	switch difficulty {
	case models.DifficultyMedium:
		return c.cfg.EasyMaxWords + 1, c.cfg.MediumMaxWords, mediumMaxSentences
	case models.DifficultyHard:
		return c.cfg.MediumMaxWords + 1, c.cfg.HardMaxWords, hardMaxSentences
	default:
		return 1, c.cfg.EasyMaxWords, easyMaxSentences
	}
}

// MixCounts is the per-difficulty split of one requested batch.
type MixCounts struct {
	Easy   int
	Medium int
	Hard   int
}

func (m MixCounts) Total() int {
	return m.Easy + m.Medium + m.Hard
}

// SplitMix divides a requested count across difficulties. A single
// difficulty takes the whole count; mixed follows the configured shares
// with the rounding remainder landing on medium so totals stay exact.
func SplitMix(total int, difficulty models.Difficulty, cfg config.Pipeline) MixCounts {
	switch difficulty {
	case models.DifficultyEasy:
		return MixCounts{Easy: total}
	case models.DifficultyMedium:
		return MixCounts{Medium: total}
	case models.DifficultyHard:
		return MixCounts{Hard: total}
	}

	easy := int(math.Round(float64(total) * cfg.MixEasyShare))
	hard := int(math.Round(float64(total) * cfg.MixHardShare))
	return MixCounts{Easy: easy, Medium: total - easy - hard, Hard: hard}
}
