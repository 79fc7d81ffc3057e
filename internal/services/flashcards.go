package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	fsrs "github.com/open-spaced-repetition/go-fsrs"

	"studygen/internal/models"
)

// ErrNoDueCards indicates that there are no cards ready to review.
var ErrNoDueCards = errors.New("no due cards")

// FlashcardService persists flashcard sets and schedules reviews with FSRS.
type FlashcardService struct {
	db     *sql.DB
	params fsrs.Parameters
}

func NewFlashcardService(db *sql.DB) *FlashcardService {
	return &FlashcardService{db: db, params: fsrs.DefaultParam()}
}

const cardColumns = `id, set_id, question, answer, difficulty, confidence,
	page_from, page_to, due, stability, fsrs_difficulty, elapsed_days,
	scheduled_days, reps, lapses, state, last_review, created_at, updated_at`

// CreateSet inserts a set and its cards in one transaction and returns both
// with their assigned IDs. New cards carry zero FSRS state until the first
// review.
func (s *FlashcardService) CreateSet(ctx context.Context, set models.FlashcardSet, cards []models.Flashcard) (*models.FlashcardSet, []models.Flashcard, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	now := time.Now().UTC()
	set.CardCount = len(cards)
	set.CreatedAt = now

	res, err := tx.ExecContext(ctx, `
		INSERT INTO flashcard_sets (document_id, title, difficulty, card_count, language, created_at)
		VALUES (?, ?, ?, ?, ?, ?);
	`, set.DocumentID, set.Title, set.Difficulty, set.CardCount, set.Language, now)
	if err != nil {
		return nil, nil, fmt.Errorf("insert set: %w", err)
	}
	set.ID, _ = res.LastInsertId()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO flashcards (set_id, question, answer, difficulty, confidence,
			page_from, page_to, due, stability, fsrs_difficulty, elapsed_days,
			scheduled_days, reps, lapses, state, last_review, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?);
	`)
	if err != nil {
		return nil, nil, fmt.Errorf("prepare card insert: %w", err)
	}
	defer stmt.Close()

	for i := range cards {
		card := &cards[i]
		card.SetID = set.ID
		card.CreatedAt = now
		card.UpdatedAt = now

		var insertRes sql.Result
		insertRes, err = stmt.ExecContext(ctx,
			card.SetID,
			card.Question,
			card.Answer,
			card.Difficulty,
			card.Confidence,
			nullInt64Ptr(card.PageFrom),
			nullInt64Ptr(card.PageTo),
			nullTimePtr(card.Due),
			card.Stability,
			card.FSRSDifficulty,
			card.ElapsedDays,
			card.ScheduledDays,
			card.Reps,
			card.Lapses,
			card.State,
			nullTimePtr(card.LastReview),
			card.CreatedAt,
			card.UpdatedAt,
		)
		if err != nil {
			return nil, nil, fmt.Errorf("insert card %q: %w", card.Question, err)
		}
		card.ID, _ = insertRes.LastInsertId()
	}

	if err = tx.Commit(); err != nil {
		return nil, nil, fmt.Errorf("commit set: %w", err)
	}
	return &set, cards, nil
}

func (s *FlashcardService) GetSet(ctx context.Context, id int64) (*models.FlashcardSet, []models.Flashcard, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, document_id, title, difficulty, card_count, language, created_at
		FROM flashcard_sets WHERE id = ?;
	`, id)
	var set models.FlashcardSet
	if err := row.Scan(&set.ID, &set.DocumentID, &set.Title, &set.Difficulty, &set.CardCount, &set.Language, &set.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil, fmt.Errorf("flashcard set %d: %w", id, ErrNotFound)
		}
		return nil, nil, fmt.Errorf("scan set: %w", err)
	}

	cards, err := s.fetchCards(ctx, `
		SELECT `+cardColumns+` FROM flashcards WHERE set_id = ? ORDER BY id ASC;
	`, id)
	if err != nil {
		return nil, nil, err
	}
	return &set, cards, nil
}

// ListSets returns sets newest first, filtered by document when documentID
// is non-zero.
func (s *FlashcardService) ListSets(ctx context.Context, documentID int64) ([]models.FlashcardSet, error) {
	query := `
		SELECT id, document_id, title, difficulty, card_count, language, created_at
		FROM flashcard_sets`
	var args []any
	if documentID != 0 {
		query += ` WHERE document_id = ?`
		args = append(args, documentID)
	}
	query += ` ORDER BY created_at DESC, id DESC;`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list sets: %w", err)
	}
	defer rows.Close()

	var sets []models.FlashcardSet
	for rows.Next() {
		var set models.FlashcardSet
		if err := rows.Scan(&set.ID, &set.DocumentID, &set.Title, &set.Difficulty, &set.CardCount, &set.Language, &set.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan set: %w", err)
		}
		sets = append(sets, set)
	}
	return sets, rows.Err()
}

// ListByDocument returns a document's cards across all of its sets, highest
// confidence first. A limit of 0 means no limit.
func (s *FlashcardService) ListByDocument(ctx context.Context, documentID int64, limit int) ([]models.Flashcard, error) {
	query := `
		SELECT c.id, c.set_id, c.question, c.answer, c.difficulty, c.confidence,
			c.page_from, c.page_to, c.due, c.stability, c.fsrs_difficulty, c.elapsed_days,
			c.scheduled_days, c.reps, c.lapses, c.state, c.last_review, c.created_at, c.updated_at
		FROM flashcards c
		JOIN flashcard_sets s ON c.set_id = s.id
		WHERE s.document_id = ?
		ORDER BY c.confidence DESC, c.id ASC`
	args := []any{documentID}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	return s.fetchCards(ctx, query+";", args...)
}

// NextCard returns the next card to study: the longest-overdue card first,
// then the oldest card never scheduled.
func (s *FlashcardService) NextCard(ctx context.Context) (*models.Flashcard, error) {
	now := time.Now().UTC()

	card, err := s.fetchCard(ctx, `
		SELECT `+cardColumns+` FROM flashcards
		WHERE due IS NOT NULL AND due <= ?
		ORDER BY due ASC LIMIT 1;
	`, now)
	if err == nil {
		return card, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}

	card, err = s.fetchCard(ctx, `
		SELECT `+cardColumns+` FROM flashcards
		WHERE due IS NULL
		ORDER BY created_at ASC, id ASC LIMIT 1;
	`)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNoDueCards
		}
		return nil, err
	}
	return card, nil
}

// ReviewCard applies a rating to a card, reschedules it, and appends a
// review log entry.
func (s *FlashcardService) ReviewCard(ctx context.Context, cardID int64, rating fsrs.Rating) (*models.Flashcard, *models.ReviewLog, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	card := &models.Flashcard{}
	row := tx.QueryRowContext(ctx, `
		SELECT `+cardColumns+` FROM flashcards WHERE id = ?;
	`, cardID)
	if err = scanCard(row, card); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			err = fmt.Errorf("card %d: %w", cardID, ErrNotFound)
		} else {
			err = fmt.Errorf("load card %d: %w", cardID, err)
		}
		return nil, nil, err
	}

	now := time.Now().UTC()
	scheduling := s.params.Repeat(card.ToFSRSCard(), now)
	info, ok := scheduling[rating]
	if !ok {
		err = fmt.Errorf("rating %d not supported", rating)
		return nil, nil, err
	}
	card.ApplyFSRSCard(info.Card)
	card.UpdatedAt = now

	if _, err = tx.ExecContext(ctx, `
		UPDATE flashcards
		SET due = ?, stability = ?, fsrs_difficulty = ?, elapsed_days = ?, scheduled_days = ?,
		    reps = ?, lapses = ?, state = ?, last_review = ?, updated_at = ?
		WHERE id = ?;
	`,
		nullTimePtr(card.Due),
		card.Stability,
		card.FSRSDifficulty,
		card.ElapsedDays,
		card.ScheduledDays,
		card.Reps,
		card.Lapses,
		card.State,
		nullTimePtr(card.LastReview),
		card.UpdatedAt,
		card.ID,
	); err != nil {
		return nil, nil, fmt.Errorf("update card %d: %w", card.ID, err)
	}

	if _, err = tx.ExecContext(ctx, `
		INSERT INTO review_logs (card_id, rating, scheduled_days, elapsed_days, state, reviewed_at)
		VALUES (?, ?, ?, ?, ?, ?);
	`, card.ID, int(info.ReviewLog.Rating), int(info.ReviewLog.ScheduledDays), int(info.ReviewLog.ElapsedDays), int(info.ReviewLog.State), now); err != nil {
		return nil, nil, fmt.Errorf("insert review log: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return nil, nil, fmt.Errorf("commit review: %w", err)
	}

	log := &models.ReviewLog{
		CardID:        card.ID,
		Rating:        int(info.ReviewLog.Rating),
		ScheduledDays: int(info.ReviewLog.ScheduledDays),
		ElapsedDays:   int(info.ReviewLog.ElapsedDays),
		State:         int(info.ReviewLog.State),
		ReviewedAt:    now,
	}
	return card, log, nil
}

// ParseRating maps the wire rating names onto FSRS ratings.
func ParseRating(s string) (fsrs.Rating, error) {
	switch s {
	case "again":
		return fsrs.Again, nil
	case "hard":
		return fsrs.Hard, nil
	case "good":
		return fsrs.Good, nil
	case "easy":
		return fsrs.Easy, nil
	}
	return 0, fmt.Errorf("unknown rating %q (want again, hard, good, or easy)", s)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCard(row rowScanner, card *models.Flashcard) error {
	return row.Scan(
		&card.ID,
		&card.SetID,
		&card.Question,
		&card.Answer,
		&card.Difficulty,
		&card.Confidence,
		&card.PageFrom,
		&card.PageTo,
		&card.Due,
		&card.Stability,
		&card.FSRSDifficulty,
		&card.ElapsedDays,
		&card.ScheduledDays,
		&card.Reps,
		&card.Lapses,
		&card.State,
		&card.LastReview,
		&card.CreatedAt,
		&card.UpdatedAt,
	)
}

func (s *FlashcardService) fetchCard(ctx context.Context, query string, args ...any) (*models.Flashcard, error) {
	card := &models.Flashcard{}
	if err := scanCard(s.db.QueryRowContext(ctx, query, args...), card); err != nil {
		return nil, err
	}
	return card, nil
}

func (s *FlashcardService) fetchCards(ctx context.Context, query string, args ...any) ([]models.Flashcard, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query cards: %w", err)
	}
	defer rows.Close()

	var cards []models.Flashcard
	for rows.Next() {
		var card models.Flashcard
		if err := scanCard(rows, &card); err != nil {
			return nil, fmt.Errorf("scan card: %w", err)
		}
		cards = append(cards, card)
	}
	return cards, rows.Err()
}

func nullTimePtr(t sql.NullTime) any {
	if t.Valid {
		return t.Time
	}
	return nil
}

func nullInt64Ptr(v sql.NullInt64) any {
	if v.Valid {
		return v.Int64
	}
	return nil
}
