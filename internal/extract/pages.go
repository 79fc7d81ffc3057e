package extract

import (
	"regexp"
	"strings"
)

// Page is a contiguous slice of extracted text. Number is the 1-based
// ordinal within the full document, so restricted ranges keep their
// original numbering.
type Page struct {
	Number int
	Text   string
}

var pageMarker = regexp.MustCompile(`(?m)^\s*Page\s+\d+\b`)

// SplitPages segments text into pages. Structural hints win: form feeds
// first, then lines beginning "Page N". Without hints, pages are estimated
// at charsPerPage characters each.
func SplitPages(text string, charsPerPage int) []Page {
	if strings.TrimSpace(text) == "" {
		return nil
	}

	if strings.Contains(text, "\f") {
		parts := strings.Split(text, "\f")
		for len(parts) > 1 && strings.TrimSpace(parts[len(parts)-1]) == "" {
			parts = parts[:len(parts)-1]
		}
		return numberPages(parts)
	}

	if indices := pageMarker.FindAllStringIndex(text, -1); len(indices) >= 2 {
		var parts []string
		if indices[0][0] > 0 {
			parts = append(parts, text[:indices[0][0]])
		}
		for i, idx := range indices {
			end := len(text)
			if i+1 < len(indices) {
				end = indices[i+1][0]
			}
			parts = append(parts, text[idx[0]:end])
		}
		return numberPages(parts)
	}

	if charsPerPage <= 0 {
		charsPerPage = 3000
	}
	runes := []rune(text)
	var parts []string
	for start := 0; start < len(runes); start += charsPerPage {
		end := start + charsPerPage
		if end > len(runes) {
			end = len(runes)
		}
		parts = append(parts, string(runes[start:end]))
	}
	return numberPages(parts)
}

func numberPages(parts []string) []Page {
	pages := make([]Page, 0, len(parts))
	for i, part := range parts {
		pages = append(pages, Page{Number: i + 1, Text: part})
	}
	return pages
}

// ClampRange clamps a 1-based inclusive page range to [1, pageCount].
// Zero or negative bounds mean "unrestricted" on that side.
func ClampRange(pageCount, start, end int) (int, int) {
	if start < 1 {
		start = 1
	}
	if end < 1 || end > pageCount {
		end = pageCount
	}
	if start > pageCount {
		start = pageCount
	}
	return start, end
}

// Restrict returns the pages whose ordinals fall inside the clamped range.
func Restrict(pages []Page, start, end int) []Page {
	if len(pages) == 0 {
		return nil
	}
	start, end = ClampRange(len(pages), start, end)
	if start > end {
		return nil
	}
	var out []Page
	for _, p := range pages {
		if p.Number >= start && p.Number <= end {
			out = append(out, p)
		}
	}
	return out
}
