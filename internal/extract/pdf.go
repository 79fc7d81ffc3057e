package extract

import (
	"bytes"
	"fmt"
	"regexp"
	"strings"

	"github.com/ledongthuc/pdf"
)

// parsePDF extracts text with the PDF parser, one page at a time, joining
// pages with form feeds so the segmenter sees real page boundaries.
func parsePDF(data []byte) (text string, err error) {
	// The parser panics on some malformed cross-reference tables.
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("pdf parse panic: %v", r)
		}
	}()

	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("pdf reader: %w", err)
	}

	fonts := make(map[string]*pdf.Font)
	var pages []string
	for i := 1; i <= reader.NumPage(); i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			pages = append(pages, "")
			continue
		}
		for _, name := range page.Fonts() {
			if _, ok := fonts[name]; !ok {
				font := page.Font(name)
				fonts[name] = &font
			}
		}
		pageText, err := page.GetPlainText(fonts)
		if err != nil {
			pages = append(pages, "")
			continue
		}
		pages = append(pages, pageText)
	}

	return strings.Join(pages, "\f"), nil
}

var (
	tjStringPattern = regexp.MustCompile(`\(([^)]*)\)\s*Tj`)
	printableRun    = regexp.MustCompile(`[ -~]+`)
)

var pdfStructuralKeywords = []string{"stream", "endobj", "/Type", "/Font", "<<", ">>"}

// recoverPDFText is the zero-cost salvage pass for binary buffers the parser
// cannot read: bracketed strings ahead of the Tj text-show operator, plus
// long printable ASCII runs that carry no PDF structural keywords.
func recoverPDFText(data []byte, minRun int) string {
	var parts []string

	raw := string(data)
	for _, match := range tjStringPattern.FindAllStringSubmatch(raw, -1) {
		if s := strings.TrimSpace(match[1]); s != "" {
			parts = append(parts, s)
		}
	}

	for _, run := range printableRun.FindAllString(raw, -1) {
		if len(run) < minRun {
			continue
		}
		if containsStructuralKeyword(run) {
			continue
		}
		parts = append(parts, strings.TrimSpace(run))
	}

	return strings.Join(strings.Fields(strings.Join(parts, " ")), " ")
}

func containsStructuralKeyword(run string) bool {
	for _, kw := range pdfStructuralKeywords {
		if strings.Contains(run, kw) {
			return true
		}
	}
	return false
}
