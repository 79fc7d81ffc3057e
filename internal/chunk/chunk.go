// Package chunk slices page text into overlapping windows, scores them
// against a keyword profile of the document, and selects a budget-bounded
// subset of the most relevant ones for prompting.
package chunk

import (
	"math"
	"sort"
	"strings"
	"unicode/utf8"

	"studygen/internal/config"
	"studygen/internal/extract"
	"studygen/internal/textutil"
)

// Chunk is a candidate excerpt for prompting. CharStart and CharEnd are
// rune offsets into the concatenation of the pages the chunker saw, so
// chunks stay ordered and comparable even across pages.
type Chunk struct {
	ID        int
	Text      string
	PageFrom  int
	PageTo    int
	CharStart int
	CharEnd   int
	Score     int
}

// Tokens shorter than this carry no relevance signal.
const minKeywordLen = 3

var stopwords = map[string]struct{}{}

func init() {
	for _, w := range strings.Fields(
		"the and for are but not you all can had her was one our out day get " +
			"has him his how its may new now old see two who did yes this that " +
			"with have from they will been were said each which their there what " +
			"when your more other into some could them than then these about also " +
			"over after most such only just any very being does between") {
		stopwords[w] = struct{}{}
	}
}

// Selector is the relevance-selection stage. It is pure: the same pages
// and configuration always yield the same chunks.
type Selector struct {
	cfg config.Pipeline
}

func NewSelector(cfg config.Pipeline) *Selector {
	return &Selector{cfg: cfg}
}

// Split produces overlapping windows within each page. Windows never cross
// page boundaries here, so provenance is exact.
func (s *Selector) Split(pages []extract.Page) []Chunk {
	step := s.cfg.ChunkSize - s.cfg.ChunkOverlap

	var chunks []Chunk
	offset := 0
	for _, p := range pages {
		runes := []rune(p.Text)
		for start := 0; start < len(runes); start += step {
			end := min(start+s.cfg.ChunkSize, len(runes))
			if text := strings.TrimSpace(string(runes[start:end])); text != "" {
				chunks = append(chunks, Chunk{
					ID:        len(chunks),
					Text:      text,
					PageFrom:  p.Number,
					PageTo:    p.Number,
					CharStart: offset + start,
					CharEnd:   offset + end,
				})
			}
			if end == len(runes) {
				break
			}
		}
		offset += len(runes) + 1
	}
	return chunks
}

// Profile builds the ranked keyword set for the given pages: lowercase
// tokens of at least three characters, stopwords dropped, ordered by
// frequency with first appearance breaking ties, truncated to the
// configured size.
func (s *Selector) Profile(pages []extract.Page) []string {
	counts := make(map[string]int)
	var order []string
	for _, p := range pages {
		for _, tok := range textutil.ContentTokens(p.Text, minKeywordLen) {
			if _, stop := stopwords[tok]; stop {
				continue
			}
			if counts[tok] == 0 {
				order = append(order, tok)
			}
			counts[tok]++
		}
	}

	sort.SliceStable(order, func(i, j int) bool {
		return counts[order[i]] > counts[order[j]]
	})
	if len(order) > s.cfg.KeywordCount {
		order = order[:s.cfg.KeywordCount]
	}
	return order
}

// Select runs the whole stage: split, profile, score, and pick the
// highest-scoring chunks under the character budget. When no chunk matches
// any keyword the profile is degenerate, and selection falls back to even
// sampling across the full text so coverage is still guaranteed.
func (s *Selector) Select(pages []extract.Page) []Chunk {
	chunks := s.Split(pages)
	if len(chunks) == 0 {
		return nil
	}

	keywords := textutil.Set(s.Profile(pages))
	total := 0
	for i := range chunks {
		chunks[i].Score = keywordHits(chunks[i].Text, keywords)
		total += chunks[i].Score
	}
	if total == 0 {
		return s.evenSample(s.splitAcrossPages(pages))
	}

	ranked := make([]Chunk, len(chunks))
	copy(ranked, chunks)
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Score > ranked[j].Score
	})

	var selected []Chunk
	used := 0
	for _, c := range ranked {
		n := utf8.RuneCountInString(c.Text)
		if used+n > s.cfg.CharBudget {
			break
		}
		selected = append(selected, c)
		used += n
	}

	// Prompt assembly wants source order, not score order.
	sort.Slice(selected, func(i, j int) bool {
		return selected[i].ID < selected[j].ID
	})
	return selected
}

// keywordHits counts token occurrences, not distinct tokens, so a chunk
// that repeats key terms outranks one that mentions them once.
func keywordHits(text string, keywords map[string]struct{}) int {
	hits := 0
	for _, tok := range textutil.Tokenize(text) {
		if _, ok := keywords[tok]; ok {
			hits++
		}
	}
	return hits
}

// splitAcrossPages windows the concatenated page text, letting chunks span
// page boundaries. Used only for the even-sampling fallback, where per-page
// windows would fragment short pages.
func (s *Selector) splitAcrossPages(pages []extract.Page) []Chunk {
	type span struct {
		page, start, end int
	}

	var sb strings.Builder
	var spans []span
	offset := 0
	for i, p := range pages {
		if i > 0 {
			sb.WriteString("\n")
			offset++
		}
		n := utf8.RuneCountInString(p.Text)
		spans = append(spans, span{page: p.Number, start: offset, end: offset + n})
		sb.WriteString(p.Text)
		offset += n
	}

	pageAt := func(pos int) int {
		for _, sp := range spans {
			if pos < sp.end {
				return sp.page
			}
		}
		return spans[len(spans)-1].page
	}

	runes := []rune(sb.String())
	step := s.cfg.ChunkSize - s.cfg.ChunkOverlap

	var chunks []Chunk
	for start := 0; start < len(runes); start += step {
		end := min(start+s.cfg.ChunkSize, len(runes))
		if text := strings.TrimSpace(string(runes[start:end])); text != "" {
			chunks = append(chunks, Chunk{
				ID:        len(chunks),
				Text:      text,
				PageFrom:  pageAt(start),
				PageTo:    pageAt(end - 1),
				CharStart: start,
				CharEnd:   end,
			})
		}
		if end == len(runes) {
			break
		}
	}
	return chunks
}

// evenSample keeps every chunk when they all fit, otherwise picks evenly
// spaced chunks from first to last so the selection spans the whole text.
func (s *Selector) evenSample(chunks []Chunk) []Chunk {
	if len(chunks) == 0 {
		return nil
	}
	maxChunks := s.cfg.CharBudget / s.cfg.ChunkSize
	if maxChunks < 1 {
		maxChunks = 1
	}
	if len(chunks) <= maxChunks {
		return chunks
	}
	if maxChunks == 1 {
		return chunks[:1]
	}

	stride := float64(len(chunks)-1) / float64(maxChunks-1)
	out := make([]Chunk, 0, maxChunks)
	last := -1
	for i := 0; i < maxChunks; i++ {
		idx := int(math.Round(float64(i) * stride))
		if idx == last {
			continue
		}
		out = append(out, chunks[idx])
		last = idx
	}
	return out
}

// Concat joins chunk texts in order for prompt assembly.
func Concat(chunks []Chunk) string {
	parts := make([]string, len(chunks))
	for i, c := range chunks {
		parts[i] = c.Text
	}
	return strings.Join(parts, "\n\n")
}

// PageRange reports the page span covered by the chunks, zero when empty.
func PageRange(chunks []Chunk) (from, to int) {
	for _, c := range chunks {
		if from == 0 || c.PageFrom < from {
			from = c.PageFrom
		}
		if c.PageTo > to {
			to = c.PageTo
		}
	}
	return from, to
}
