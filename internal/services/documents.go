package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"studygen/internal/config"
	"studygen/internal/extract"
	"studygen/internal/models"
)

// ErrNotFound wraps lookups of missing documents, sets, quizzes, and cards.
var ErrNotFound = errors.New("not found")

// DocumentService stores uploaded files on disk and their extracted text in
// the database.
type DocumentService struct {
	db        *sql.DB
	uploadDir string
	extractor *extract.Extractor
	cfg       config.Pipeline
	log       zerolog.Logger
}

func NewDocumentService(db *sql.DB, uploadDir string, extractor *extract.Extractor, cfg config.Pipeline, log zerolog.Logger) *DocumentService {
	return &DocumentService{db: db, uploadDir: uploadDir, extractor: extractor, cfg: cfg, log: log}
}

// Create stores the upload under a uuid file name and inserts the document
// row. Extraction happens lazily on first use.
func (s *DocumentService) Create(ctx context.Context, original string, src io.Reader) (*models.Document, error) {
	if err := os.MkdirAll(s.uploadDir, 0o755); err != nil {
		return nil, fmt.Errorf("ensure upload dir: %w", err)
	}

	name := uuid.NewString() + filepath.Ext(original)
	storedPath := filepath.Join(s.uploadDir, name)
	out, err := os.Create(storedPath)
	if err != nil {
		return nil, fmt.Errorf("create file: %w", err)
	}
	defer out.Close()

	if _, err := io.Copy(out, src); err != nil {
		return nil, fmt.Errorf("write file: %w", err)
	}

	title := titleFromFilename(original)
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO documents (original_name, stored_path, title, page_count, uploaded_at)
		VALUES (?, ?, ?, 0, ?);
	`, original, storedPath, title, now)
	if err != nil {
		return nil, fmt.Errorf("insert document: %w", err)
	}
	id, _ := res.LastInsertId()

	return &models.Document{
		ID:           id,
		OriginalName: original,
		StoredPath:   storedPath,
		Title:        title,
		UploadedAt:   now,
	}, nil
}

func (s *DocumentService) GetByID(ctx context.Context, id int64) (*models.Document, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, original_name, stored_path, title, content, page_count, uploaded_at
		FROM documents WHERE id = ?;
	`, id)
	var doc models.Document
	if err := row.Scan(
		&doc.ID,
		&doc.OriginalName,
		&doc.StoredPath,
		&doc.Title,
		&doc.Content,
		&doc.PageCount,
		&doc.UploadedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("document %d: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("scan document: %w", err)
	}
	return &doc, nil
}

func (s *DocumentService) List(ctx context.Context) ([]models.Document, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, original_name, stored_path, title, content, page_count, uploaded_at
		FROM documents ORDER BY uploaded_at DESC, id DESC;
	`)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	defer rows.Close()

	var docs []models.Document
	for rows.Next() {
		var doc models.Document
		if err := rows.Scan(
			&doc.ID,
			&doc.OriginalName,
			&doc.StoredPath,
			&doc.Title,
			&doc.Content,
			&doc.PageCount,
			&doc.UploadedAt,
		); err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

// EnsureContent returns the document's extracted text, running extraction
// and caching the result on first use. The passed document is updated in
// place with the cached content, page count, and any recovered title.
func (s *DocumentService) EnsureContent(ctx context.Context, doc *models.Document) (string, error) {
	if doc.Content.Valid && utf8.RuneCountInString(doc.Content.String) >= s.cfg.MinUsableChars {
		return doc.Content.String, nil
	}

	data, err := os.ReadFile(doc.StoredPath)
	if err != nil {
		return "", fmt.Errorf("read stored file: %w", err)
	}

	res, err := s.extractor.Extract(ctx, extract.Input{
		Data:     data,
		Cached:   doc.Content.String,
		Filename: doc.OriginalName,
	})
	if err != nil {
		return "", err
	}

	pages := extract.SplitPages(res.Text, s.cfg.CharsPerPage)
	title := doc.Title
	if res.Title != "" {
		title = res.Title
	}

	if _, err := s.db.ExecContext(ctx, `
		UPDATE documents SET content = ?, page_count = ?, title = ? WHERE id = ?;
	`, res.Text, len(pages), title, doc.ID); err != nil {
		return "", fmt.Errorf("cache extracted content: %w", err)
	}

	doc.Content = sql.NullString{String: res.Text, Valid: true}
	doc.PageCount = len(pages)
	doc.Title = title

	s.log.Info().
		Int64("document_id", doc.ID).
		Str("method", res.Method).
		Int("chars", utf8.RuneCountInString(res.Text)).
		Int("pages", len(pages)).
		Msg("extracted document text")

	return res.Text, nil
}

// titleFromFilename turns "cell-biology_primer.pdf" into "cell biology primer".
func titleFromFilename(name string) string {
	base := strings.TrimSuffix(filepath.Base(name), filepath.Ext(name))
	base = strings.NewReplacer("-", " ", "_", " ").Replace(base)
	title := strings.Join(strings.Fields(base), " ")
	if strings.Trim(title, ".") == "" {
		return "Untitled document"
	}
	return title
}
