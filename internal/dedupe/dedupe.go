// Package dedupe collapses near-duplicate generated items. Similarity is
// token-set Jaccard over whatever key text the caller combines, normally
// question plus answer.
package dedupe

import "studygen/internal/textutil"

// Key joins an item's fields into the canonical dedupe key.
func Key(question, answer string) string {
	return question + " ||| " + answer
}

// Collapse removes near-duplicates from items, preserving first-seen
// order. When a later item duplicates an earlier one, whichever has the
// higher confidence survives, upgrading the earlier slot in place rather
// than appending a second copy. Running Collapse on its own output is a
// no-op.
func Collapse[T any](items []T, key func(T) string, confidence func(T) float64, threshold float64) []T {
	out := make([]T, 0, len(items))
	var kept [][]string

	for _, item := range items {
		itemTokens := textutil.Tokenize(key(item))

		dup := -1
		for i := range out {
			if textutil.Jaccard(itemTokens, kept[i]) >= threshold {
				dup = i
				break
			}
		}
		if dup < 0 {
			out = append(out, item)
			kept = append(kept, itemTokens)
			continue
		}
		if confidence(item) > confidence(out[dup]) {
			out[dup] = item
			kept[dup] = itemTokens
		}
	}
	return out
}
