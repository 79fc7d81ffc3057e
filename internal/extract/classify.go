package extract

import (
	"bytes"
	"path/filepath"
	"strings"
)

// Kind is the coarse format guess for an uploaded byte buffer.
type Kind int

const (
	KindText Kind = iota
	KindPDF
	KindHTML
	KindBinary
)

func (k Kind) String() string {
	switch k {
	case KindPDF:
		return "pdf"
	case KindHTML:
		return "html"
	case KindBinary:
		return "binary"
	default:
		return "text"
	}
}

// Classifier decides how raw upload bytes should be treated before text
// recovery. Implementations are heuristic guesses with real error rates.
type Classifier interface {
	Classify(data []byte, filename string) Kind
}

var pdfSignature = []byte("%PDF-")

// HeuristicClassifier classifies by PDF signature, HTML sniffing, and the
// fraction of non-printable bytes in a leading sample.
type HeuristicClassifier struct {
	SampleSize      int
	BinaryThreshold float64
}

func (c HeuristicClassifier) Classify(data []byte, filename string) Kind {
	if len(data) >= len(pdfSignature) && bytes.HasPrefix(data, pdfSignature) {
		return KindPDF
	}
	if looksLikeHTML(data, filename) {
		return KindHTML
	}
	if c.nonPrintableFraction(data) > c.BinaryThreshold {
		return KindBinary
	}
	return KindText
}

// nonPrintableFraction samples the first SampleSize bytes and counts control
// bytes (other than tab, CR, LF) and bytes above 126.
func (c HeuristicClassifier) nonPrintableFraction(data []byte) float64 {
	if len(data) == 0 {
		return 0
	}
	sample := data
	if c.SampleSize > 0 && len(sample) > c.SampleSize {
		sample = sample[:c.SampleSize]
	}
	nonPrintable := 0
	for _, b := range sample {
		if b > 126 || (b < 32 && b != '\t' && b != '\r' && b != '\n') {
			nonPrintable++
		}
	}
	return float64(nonPrintable) / float64(len(sample))
}

func looksLikeHTML(data []byte, filename string) bool {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".html", ".htm", ".xhtml":
		return true
	}
	head := data
	if len(head) > 512 {
		head = head[:512]
	}
	lowered := strings.ToLower(string(head))
	return strings.Contains(lowered, "<!doctype html") || strings.Contains(lowered, "<html")
}
