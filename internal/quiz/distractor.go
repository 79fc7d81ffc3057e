// Package quiz assembles multiple-choice options: one correct answer and
// exactly three plausible-but-wrong distractors. Candidates come from
// local material first; a generative fallback call is the last resort,
// and a question that still cannot field three valid distractors is
// skipped rather than shipped weak.
package quiz

import (
	"context"
	"math"
	"math/rand"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"studygen/internal/config"
	"studygen/internal/genai"
	"studygen/internal/ground"
	"studygen/internal/textutil"
)

const (
	distractorsNeeded = 3
	fallbackAskCount  = 4
	promptSourceCap   = 6000
)

// Input is everything available for one question's options.
type Input struct {
	Question string
	Correct  string

	// Local candidate pools, in priority order: sibling answers from the
	// same document, then the model's own wrong options for this question.
	Siblings     []string
	ModelOptions []string

	Source   string
	Language string
}

// Builder validates, ranks, and shuffles options. The generative client
// may be nil, which disables the fallback call.
type Builder struct {
	cfg    config.Pipeline
	client genai.Client
	log    zerolog.Logger
	rng    *rand.Rand
}

func NewBuilder(cfg config.Pipeline, client genai.Client, log zerolog.Logger, rng *rand.Rand) *Builder {
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &Builder{cfg: cfg, client: client, log: log, rng: rng}
}

// Build returns four shuffled options and the correct answer's index, or
// ok=false when the question should be skipped.
func (b *Builder) Build(ctx context.Context, ix *ground.Index, in Input) (options []string, correctIndex int, ok bool) {
	correct := textutil.Collapse(in.Correct)
	if correct == "" {
		return nil, 0, false
	}
	corrSupport := ix.Overlap(correct)

	var chosen []string
	pools := [][]string{
		in.Siblings,
		b.mineSentences(in.Source, correct),
		in.ModelOptions,
	}
	for _, pool := range pools {
		if len(chosen) >= distractorsNeeded {
			break
		}
		chosen = b.pickFrom(ix, correct, corrSupport, pool, chosen)
	}

	if len(chosen) < distractorsNeeded && b.client != nil {
		generated, err := b.generate(ctx, in)
		if err != nil {
			b.log.Warn().Err(err).Str("question", textutil.Sanitize(in.Question, 80)).Msg("distractor fallback call failed")
		} else {
			chosen = b.pickFrom(ix, correct, corrSupport, generated, chosen)
		}
	}

	if len(chosen) < distractorsNeeded {
		return nil, 0, false
	}

	options = append([]string{correct}, chosen[:distractorsNeeded]...)
	b.rng.Shuffle(len(options), func(i, j int) {
		options[i], options[j] = options[j], options[i]
	})
	for i, opt := range options {
		if opt == correct {
			correctIndex = i
			break
		}
	}
	return options, correctIndex, true
}

// BuildBasic is the degraded mode for when no document text is available:
// sibling answers pad the options, and altered copies of the correct
// answer fill any remaining gap. Lower quality, but never fewer than four
// options.
func (b *Builder) BuildBasic(correct string, siblings []string) (options []string, correctIndex int) {
	correct = textutil.Collapse(correct)

	var chosen []string
	for _, s := range siblings {
		if len(chosen) >= distractorsNeeded {
			break
		}
		cand := textutil.Collapse(s)
		if cand == "" || sameText(cand, correct) || b.duplicatesAny(cand, chosen) {
			continue
		}
		chosen = append(chosen, cand)
	}
	for variant := 0; len(chosen) < distractorsNeeded && variant < 8; variant++ {
		alt := alteredCorrect(correct, variant)
		if sameText(alt, correct) || b.duplicatesAny(alt, chosen) {
			continue
		}
		chosen = append(chosen, alt)
	}
	for variant := 8; len(chosen) < distractorsNeeded; variant++ {
		chosen = append(chosen, alteredCorrect(correct, variant))
	}

	options = append([]string{correct}, chosen...)
	b.rng.Shuffle(len(options), func(i, j int) {
		options[i], options[j] = options[j], options[i]
	})
	for i, opt := range options {
		if opt == correct {
			correctIndex = i
			break
		}
	}
	return options, correctIndex
}

// pickFrom filters pool through the validity rule, ranks survivors toward
// the similarity sweet spot with low support, and appends as many as are
// still needed.
func (b *Builder) pickFrom(ix *ground.Index, correct string, corrSupport float64, pool []string, chosen []string) []string {
	type scored struct {
		text string
		rank float64
	}

	var candidates []scored
	for _, raw := range pool {
		cand := textutil.Collapse(raw)
		if cand == "" {
			continue
		}
		sim := similarity(cand, correct)
		support := ix.Overlap(cand)
		if !b.valid(cand, correct, sim, support, corrSupport) {
			continue
		}
		candidates = append(candidates, scored{
			text: cand,
			rank: math.Abs(sim-b.cfg.SimilaritySweet) + support,
		})
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].rank < candidates[j].rank
	})

	for _, c := range candidates {
		if len(chosen) >= distractorsNeeded {
			break
		}
		if b.duplicatesAny(c.text, chosen) {
			continue
		}
		chosen = append(chosen, c.text)
	}
	return chosen
}

// valid is the distractor acceptance rule:
//   - never the correct answer itself, nor a near-duplicate of it
//   - high similarity with support comparable to the correct answer's
//     marks an alternate correct answer, which is worse than no option
//   - the plausible band accepts on similarity alone
//   - below the band a candidate needs at least some topical support
func (b *Builder) valid(cand, correct string, sim, support, corrSupport float64) bool {
	if sameText(cand, correct) {
		return false
	}
	if sim >= b.cfg.NearDuplicate {
		return false
	}
	if sim > b.cfg.PlausibleHigh {
		return support < 0.9*corrSupport
	}
	if sim >= b.cfg.PlausibleLow {
		return true
	}
	return support > 0
}

// mineSentences pulls short declarative sentences from the source that do
// not contain the correct answer. Containment is checked on normalized
// token sequences so trailing punctuation cannot hide a match.
func (b *Builder) mineSentences(source, correct string) []string {
	if strings.TrimSpace(source) == "" {
		return nil
	}
	correctNorm := strings.Join(textutil.Tokenize(correct), " ")

	var out []string
	for _, s := range textutil.SplitSentences(source) {
		words := textutil.WordCount(s)
		if words < b.cfg.DistractorMinWords || words > b.cfg.DistractorMaxWords {
			continue
		}
		if correctNorm != "" && strings.Contains(strings.Join(textutil.Tokenize(s), " "), correctNorm) {
			continue
		}
		out = append(out, s)
	}
	return out
}

func (b *Builder) generate(ctx context.Context, in Input) ([]string, error) {
	system, user := genai.DistractorPrompt(genai.DistractorPromptInput{
		Source:        textutil.Sanitize(in.Source, promptSourceCap),
		Language:      in.Language,
		Question:      in.Question,
		CorrectAnswer: in.Correct,
		Count:         fallbackAskCount,
	})
	raw, err := b.client.GenerateStructured(ctx, genai.Request{
		System:      system,
		User:        user,
		SchemaName:  genai.SchemaDistractors,
		Schema:      genai.DistractorSchema,
		Temperature: b.cfg.Temperature,
		MaxTokens:   b.cfg.MaxTokens,
	})
	if err != nil {
		return nil, err
	}
	return genai.ParseDistractors(raw)
}

func (b *Builder) duplicatesAny(cand string, chosen []string) bool {
	for _, c := range chosen {
		if sameText(cand, c) || similarity(cand, c) >= b.cfg.NearDuplicate {
			return true
		}
	}
	return false
}

func similarity(a, b string) float64 {
	return textutil.Jaccard(textutil.Tokenize(a), textutil.Tokenize(b))
}

func sameText(a, b string) bool {
	return strings.EqualFold(textutil.Collapse(a), textutil.Collapse(b))
}

// alteredCorrect derives a wrong-ish variant of the correct answer for
// BuildBasic padding: progressively truncated copies, with suffix variants
// once the answer is too short to truncate.
func alteredCorrect(correct string, variant int) string {
	words := strings.Fields(correct)
	if len(words) > variant+1 {
		return strings.Join(words[:len(words)-variant-1], " ") + "..."
	}
	suffixes := []string{" only", " (in part)", " at first", " alone"}
	return correct + suffixes[variant%len(suffixes)]
}
