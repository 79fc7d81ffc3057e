package extract

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/rs/zerolog"

	"studygen/internal/config"
)

var (
	// ErrUnreadable means the upload carried no bytes we could work with.
	ErrUnreadable = errors.New("document is unreadable")

	// ErrNoUsableText means every extraction strategy came up short.
	ErrNoUsableText = errors.New("no usable text could be extracted")
)

// OCR recognizes text in scanned or image-only documents. It is the last
// resort after native parsing and heuristic recovery both fail.
type OCR interface {
	RecognizeText(ctx context.Context, data []byte) (string, error)
}

// Input is one document to extract. Cached holds previously extracted
// text, if any, so repeat generations skip the expensive strategies.
type Input struct {
	Data     []byte
	Cached   string
	Filename string
}

// Result carries the extracted text and which strategy produced it.
type Result struct {
	Text   string
	Title  string
	Method string
}

// Extractor turns raw uploads into plain text. Strategy order depends on
// the detected kind; each fallback only replaces the previous result when
// it recovered more text.
type Extractor struct {
	cfg        config.Pipeline
	classifier Classifier
	ocr        OCR
	log        zerolog.Logger
}

// New builds an Extractor with the default content classifier. The OCR
// backend may be nil, in which case scanned documents fail with a
// remediation hint instead.
func New(cfg config.Pipeline, ocr OCR, log zerolog.Logger) *Extractor {
	return &Extractor{
		cfg: cfg,
		classifier: HeuristicClassifier{
			SampleSize:      cfg.BinarySampleSize,
			BinaryThreshold: cfg.BinaryNonPrintable,
		},
		ocr: ocr,
		log: log,
	}
}

// NewWithClassifier is New with a caller-supplied classification strategy.
func NewWithClassifier(cfg config.Pipeline, classifier Classifier, ocr OCR, log zerolog.Logger) *Extractor {
	e := New(cfg, ocr, log)
	e.classifier = classifier
	return e
}

// Extract produces usable text for in, or a typed error explaining why it
// could not. Cached text at least MinUsableChars long short-circuits the
// whole pipeline.
func (e *Extractor) Extract(ctx context.Context, in Input) (Result, error) {
	if runeLen(strings.TrimSpace(in.Cached)) >= e.cfg.MinUsableChars {
		return Result{Text: in.Cached, Method: "cached"}, nil
	}
	if len(in.Data) == 0 {
		return Result{}, fmt.Errorf("%w: empty file %q", ErrUnreadable, in.Filename)
	}

	kind := e.classifier.Classify(in.Data, in.Filename)
	e.log.Debug().Str("file", in.Filename).Stringer("kind", kind).Msg("classified document")

	switch kind {
	case KindPDF, KindBinary:
		return e.extractBinary(ctx, in, kind)
	case KindHTML:
		return e.extractHTML(in)
	default:
		return e.extractPlain(in)
	}
}

func (e *Extractor) extractPlain(in Input) (Result, error) {
	text := normalizeText(string(in.Data))
	if runeLen(text) < e.cfg.MinUsableChars {
		return Result{}, fmt.Errorf("%w: %q contains too little readable text", ErrNoUsableText, in.Filename)
	}
	return Result{Text: text, Method: "text"}, nil
}

func (e *Extractor) extractHTML(in Input) (Result, error) {
	converted, err := htmlToText(in.Data)
	if err != nil {
		e.log.Warn().Err(err).Str("file", in.Filename).Msg("html conversion failed, treating as plain text")
		return e.extractPlain(in)
	}
	text := normalizeText(converted)
	if runeLen(text) < e.cfg.MinUsableChars {
		return Result{}, fmt.Errorf("%w: %q contains too little readable text", ErrNoUsableText, in.Filename)
	}
	return Result{Text: text, Title: htmlTitle(in.Data), Method: "html"}, nil
}

func (e *Extractor) extractBinary(ctx context.Context, in Input, kind Kind) (Result, error) {
	var text, method string

	if kind == KindPDF {
		parsed, err := parsePDF(in.Data)
		if err != nil {
			e.log.Warn().Err(err).Str("file", in.Filename).Msg("pdf parse failed, trying heuristic recovery")
		} else {
			text = normalizeText(parsed)
			method = "pdf"
		}
	}

	if runeLen(text) < e.cfg.MinUsableChars {
		recovered := normalizeText(recoverPDFText(in.Data, e.cfg.PrintableRunMin))
		if runeLen(recovered) > runeLen(text) {
			text = recovered
			method = "heuristic"
		}
	}

	if runeLen(text) < e.cfg.MinUsableChars && e.ocr != nil {
		e.log.Info().Str("file", in.Filename).Int("chars", runeLen(text)).Msg("falling back to ocr")
		ocrText, err := e.ocr.RecognizeText(ctx, in.Data)
		if err != nil {
			return Result{}, fmt.Errorf("ocr fallback for %q: %w", in.Filename, err)
		}
		if cleaned := normalizeText(ocrText); runeLen(cleaned) > runeLen(text) {
			text = cleaned
			method = "ocr"
		}
	}

	if runeLen(text) < e.cfg.MinUsableChars {
		return Result{}, fmt.Errorf("%w: %q appears to be scanned or image-only; enable OCR or upload a text-based version", ErrNoUsableText, in.Filename)
	}
	return Result{Text: text, Method: method}, nil
}

func runeLen(s string) int {
	return utf8.RuneCountInString(s)
}

// normalizeText repairs encoding and strips control noise while keeping
// the whitespace structure the page segmenter relies on: form feeds and
// line breaks survive, everything else collapses.
func normalizeText(s string) string {
	if !utf8.ValidString(s) {
		s = decodeLatin1(s)
	}
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")

	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch {
		case r == '\n' || r == '\f':
			b.WriteRune(r)
		case r == '\t':
			b.WriteRune(' ')
		case r == utf8.RuneError || unicode.IsControl(r):
		default:
			b.WriteRune(r)
		}
	}

	pages := strings.Split(b.String(), "\f")
	for pi, page := range pages {
		lines := strings.Split(page, "\n")
		for li, line := range lines {
			lines[li] = strings.Join(strings.Fields(line), " ")
		}
		pages[pi] = strings.TrimSpace(strings.Join(lines, "\n"))
	}
	return strings.Trim(strings.Join(pages, "\f"), "\f \n")
}

func decodeLatin1(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		b.WriteRune(rune(s[i]))
	}
	return b.String()
}
