// Package ground checks generated items for lexical support in the
// source document. Token overlap is a cheap proxy for "not hallucinated":
// crude, but it catches the model drifting away from the text.
package ground

import (
	"fmt"

	"studygen/internal/chunk"
	"studygen/internal/config"
	"studygen/internal/textutil"
)

// Index is the token-membership view of the full extracted text. The
// whole document is indexed on purpose: checking only the sampled chunks
// would reject items that straddle chunk boundaries.
type Index struct {
	cfg    config.Pipeline
	tokens map[string]struct{}
}

func NewIndex(cfg config.Pipeline, text string) *Index {
	return &Index{
		cfg:    cfg,
		tokens: textutil.Set(textutil.ContentTokens(text, cfg.SupportTokenMin)),
	}
}

// Supported reports whether any content token of the question or the
// answer appears verbatim in the source.
func (ix *Index) Supported(question, answer string) bool {
	return ix.anyHit(question) || ix.anyHit(answer)
}

func (ix *Index) anyHit(field string) bool {
	for _, tok := range textutil.ContentTokens(field, ix.cfg.SupportTokenMin) {
		if _, ok := ix.tokens[tok]; ok {
			return true
		}
	}
	return false
}

// Overlap is the fraction of a field's content tokens present in the
// source, 0 when the field has none.
func (ix *Index) Overlap(field string) float64 {
	return textutil.OverlapRatio(textutil.ContentTokens(field, ix.cfg.SupportTokenMin), ix.tokens)
}

// Confidence is the per-item support score persisted with each item. The
// answer weighs more than the question: a grounded answer matters most.
func (ix *Index) Confidence(question, answer string) float64 {
	return ix.cfg.QuestionWeight*ix.Overlap(question) + ix.cfg.AnswerWeight*ix.Overlap(answer)
}

// Report summarizes one batch's grounding check.
type Report struct {
	Supported int
	Total     int
}

func (r Report) Rate() float64 {
	if r.Total == 0 {
		return 0
	}
	return float64(r.Supported) / float64(r.Total)
}

// Check counts supported items. Each element of items is the combined
// question and answer pair to test.
func (ix *Index) Check(items [][2]string) Report {
	rep := Report{Total: len(items)}
	for _, item := range items {
		if ix.Supported(item[0], item[1]) {
			rep.Supported++
		}
	}
	return rep
}

// BatchError rejects an entire generated batch. Producing nothing beats
// persisting unsupported study material.
type BatchError struct {
	Reason      string
	SupportRate float64
	Attempts    int
}

func (e *BatchError) Error() string {
	return fmt.Sprintf("%s (support rate %.0f%% after %d attempts)", e.Reason, e.SupportRate*100, e.Attempts)
}

// Attributor maps item text back to the best-overlapping chunk so items
// can carry a page range.
type Attributor struct {
	chunks []chunk.Chunk
	sets   []map[string]struct{}
	minLen int
}

func NewAttributor(chunks []chunk.Chunk, minTokenLen int) *Attributor {
	a := &Attributor{chunks: chunks, minLen: minTokenLen}
	for _, c := range chunks {
		a.sets = append(a.sets, textutil.Set(textutil.ContentTokens(c.Text, minTokenLen)))
	}
	return a
}

// PageRange returns the page span of the chunk with the highest token
// overlap, or zeros when nothing overlaps.
func (a *Attributor) PageRange(text string) (from, to int) {
	tokens := textutil.ContentTokens(text, a.minLen)
	if len(tokens) == 0 {
		return 0, 0
	}

	best := -1
	bestScore := 0.0
	for i, set := range a.sets {
		if score := textutil.OverlapRatio(tokens, set); score > bestScore {
			bestScore = score
			best = i
		}
	}
	if best < 0 {
		return 0, 0
	}
	return a.chunks[best].PageFrom, a.chunks[best].PageTo
}
