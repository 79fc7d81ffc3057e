package cards

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"studygen/internal/config"
	"studygen/internal/ground"
	"studygen/internal/models"
)

const respirationSource = "Cellular respiration is the process by which cells convert glucose and oxygen into carbon dioxide, water, and large amounts of adenosine triphosphate energy. Plants store energy differently."

func TestNormalizeConformingAnswerUntouched(t *testing.T) {
	n := NewNormalizer(config.DefaultPipeline())

	res := n.Normalize("What produces ATP?", "The mitochondria.", models.DifficultyEasy, respirationSource)

	assert.Equal(t, "The mitochondria.", res.Answer)
	assert.False(t, res.Changed)
	assert.False(t, res.Failed)
}

func TestNormalizeTruncatesLongAnswer(t *testing.T) {
	n := NewNormalizer(config.DefaultPipeline())
	long := strings.TrimSpace(strings.Repeat("detail ", 20))

	res := n.Normalize("List the details", long, models.DifficultyEasy, "unrelated source text about something else entirely")

	require.False(t, res.Failed)
	assert.True(t, res.Changed)
	assert.LessOrEqual(t, len(strings.Fields(res.Answer)), 12)
	assert.True(t, strings.HasSuffix(res.Answer, "..."))
}

func TestNormalizeDropsExcessSentences(t *testing.T) {
	n := NewNormalizer(config.DefaultPipeline())
	answer := "First invented sentence padding out to length. Second invented sentence padding again nicely. Third sentence that must go away."

	res := n.Normalize("Describe it", answer, models.DifficultyMedium, "no overlapping vocabulary here at all")

	require.False(t, res.Failed)
	assert.True(t, res.Changed)
	assert.Len(t, strings.Split(res.Answer, ". "), 2)
}

func TestNormalizeExpandsFromSourceSentence(t *testing.T) {
	n := NewNormalizer(config.DefaultPipeline())

	// Three words is far below the medium band; the containing source
	// sentence is long enough to stand in.
	res := n.Normalize("What happens in cellular respiration?", "cells convert glucose", models.DifficultyMedium, respirationSource)

	require.False(t, res.Failed)
	assert.True(t, res.Changed)
	assert.Contains(t, res.Answer, "carbon dioxide")
	assert.GreaterOrEqual(t, len(strings.Fields(res.Answer)), 13)
}

func TestNormalizePreservesSupport(t *testing.T) {
	cfg := config.DefaultPipeline()
	n := NewNormalizer(cfg)
	ix := ground.NewIndex(cfg, respirationSource)

	question := "What happens in cellular respiration?"
	answer := "cells convert glucose"
	require.True(t, ix.Supported(question, answer))

	res := n.Normalize(question, answer, models.DifficultyMedium, respirationSource)
	require.False(t, res.Failed)
	assert.True(t, ix.Supported(question, res.Answer), "normalization from source text must not lose grounding")
}

func TestNormalizeFailsWhenNothingFits(t *testing.T) {
	n := NewNormalizer(config.DefaultPipeline())

	res := n.Normalize("Explain the topic", "Completely unrelated words together", models.DifficultyHard, "short source.")

	assert.True(t, res.Failed)
	assert.Equal(t, "Completely unrelated words together", res.Answer)
}
