package extract

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"studygen/internal/config"
)

type fakeOCR struct {
	text  string
	err   error
	calls int
}

func (f *fakeOCR) RecognizeText(ctx context.Context, data []byte) (string, error) {
	f.calls++
	return f.text, f.err
}

func testExtractor(ocr OCR) *Extractor {
	return New(config.DefaultPipeline(), ocr, zerolog.Nop())
}

func longText(word string, n int) string {
	return strings.TrimSpace(strings.Repeat(word+" ", n))
}

func TestExtractCachedShortCircuit(t *testing.T) {
	cached := longText("photosynthesis", 20)
	ocr := &fakeOCR{}

	res, err := testExtractor(ocr).Extract(context.Background(), Input{
		Data:     []byte{0x00, 0x01, 0x02},
		Cached:   cached,
		Filename: "lecture.pdf",
	})
	require.NoError(t, err)
	assert.Equal(t, "cached", res.Method)
	assert.Equal(t, cached, res.Text)
	assert.Zero(t, ocr.calls)
}

func TestExtractEmptyFile(t *testing.T) {
	_, err := testExtractor(nil).Extract(context.Background(), Input{Filename: "empty.txt"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnreadable)
}

func TestExtractPlainText(t *testing.T) {
	body := "Mitochondria are the powerhouse of the cell.\r\nThey produce ATP through cellular respiration.\r\nEvery eukaryotic cell depends on them."

	res, err := testExtractor(nil).Extract(context.Background(), Input{
		Data:     []byte(body),
		Filename: "notes.txt",
	})
	require.NoError(t, err)
	assert.Equal(t, "text", res.Method)
	assert.NotContains(t, res.Text, "\r")
	assert.Contains(t, res.Text, "powerhouse of the cell")
}

func TestExtractPlainTooShort(t *testing.T) {
	_, err := testExtractor(nil).Extract(context.Background(), Input{
		Data:     []byte("short note"),
		Filename: "note.txt",
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNoUsableText)
}

func TestExtractHTML(t *testing.T) {
	page := `<!DOCTYPE html><html><head><title>Cell Biology Primer</title></head><body>
<h1>Mitochondria</h1>
<p>Mitochondria are organelles that generate most of the chemical energy needed to power the cell's biochemical reactions.</p>
</body></html>`

	res, err := testExtractor(nil).Extract(context.Background(), Input{
		Data:     []byte(page),
		Filename: "primer.html",
	})
	require.NoError(t, err)
	assert.Equal(t, "html", res.Method)
	assert.Equal(t, "Cell Biology Primer", res.Title)
	assert.Contains(t, res.Text, "chemical energy")
	assert.NotContains(t, res.Text, "<p>")
}

func TestExtractHeuristicRecovery(t *testing.T) {
	// Not a parseable PDF, but it carries Tj strings the salvage pass reads.
	var buf bytes.Buffer
	buf.WriteString("%PDF-1.4\n")
	buf.WriteString("<</Type/Catalog/Pages 2 0 R>>\n")
	buf.WriteString("(Photosynthesis converts light energy into chemical energy.) Tj\n")
	buf.WriteString("(The light reactions take place in the thylakoid membranes.) Tj\n")
	buf.WriteString("(The Calvin cycle fixes carbon dioxide into glucose molecules.) Tj\n")
	buf.Write([]byte{0x00, 0x80, 0xff, 0xfe, 0x00})

	res, err := testExtractor(nil).Extract(context.Background(), Input{
		Data:     buf.Bytes(),
		Filename: "slides.pdf",
	})
	require.NoError(t, err)
	assert.Equal(t, "heuristic", res.Method)
	assert.Contains(t, res.Text, "Photosynthesis converts light energy")
	assert.Contains(t, res.Text, "Calvin cycle")
	assert.NotContains(t, res.Text, "/Catalog")
}

func TestExtractBinaryFallsBackToOCR(t *testing.T) {
	ocr := &fakeOCR{text: longText("scanned", 30)}
	data := bytes.Repeat([]byte{0x89, 0x50, 0x4e, 0x47, 0x00, 0x1a}, 200)

	res, err := testExtractor(ocr).Extract(context.Background(), Input{
		Data:     data,
		Filename: "scan.png",
	})
	require.NoError(t, err)
	assert.Equal(t, "ocr", res.Method)
	assert.Equal(t, 1, ocr.calls)
	assert.Contains(t, res.Text, "scanned")
}

func TestExtractBinaryWithoutOCRFails(t *testing.T) {
	data := bytes.Repeat([]byte{0x89, 0x50, 0x4e, 0x47, 0x00, 0x1a}, 200)

	_, err := testExtractor(nil).Extract(context.Background(), Input{
		Data:     data,
		Filename: "scan.png",
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNoUsableText)
	assert.Contains(t, err.Error(), "OCR")
}

func TestExtractOCRErrorPropagates(t *testing.T) {
	ocr := &fakeOCR{err: errors.New("vision api: 503")}
	data := bytes.Repeat([]byte{0x89, 0x50, 0x4e, 0x47, 0x00, 0x1a}, 200)

	_, err := testExtractor(ocr).Extract(context.Background(), Input{
		Data:     data,
		Filename: "scan.png",
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "503")
}

func TestNormalizeText(t *testing.T) {
	t.Run("latin1 fallback", func(t *testing.T) {
		assert.Equal(t, "café au lait", normalizeText("caf\xe9 au lait"))
	})

	t.Run("keeps page structure", func(t *testing.T) {
		got := normalizeText("first   page\x00 text\fsecond\t\tpage")
		assert.Equal(t, "first page text\fsecond page", got)
	})

	t.Run("collapses blank noise", func(t *testing.T) {
		got := normalizeText("  a  line \r\n\r\n next  line  ")
		assert.Equal(t, "a line\n\nnext line", got)
	})
}

func TestClassifyKinds(t *testing.T) {
	c := HeuristicClassifier{SampleSize: 1000, BinaryThreshold: 0.10}

	assert.Equal(t, KindPDF, c.Classify([]byte("%PDF-1.7 junk"), "doc.bin"))
	assert.Equal(t, KindHTML, c.Classify([]byte("plain words"), "page.html"))
	assert.Equal(t, KindHTML, c.Classify([]byte("<!doctype HTML><body>x</body>"), "download"))
	assert.Equal(t, KindText, c.Classify([]byte("just some regular prose\nwith lines"), "notes"))
	assert.Equal(t, KindBinary, c.Classify(bytes.Repeat([]byte{0xff, 0x00, 0x41}, 100), "blob"))
}
