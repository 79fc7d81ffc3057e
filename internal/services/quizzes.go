package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"studygen/internal/models"
)

// QuizService persists quizzes and their questions. Options are stored as a
// JSON array in a single column.
type QuizService struct {
	db *sql.DB
}

func NewQuizService(db *sql.DB) *QuizService {
	return &QuizService{db: db}
}

// Create inserts a quiz and its questions in one transaction and returns
// both with their assigned IDs.
func (s *QuizService) Create(ctx context.Context, quiz models.Quiz, questions []models.QuizQuestion) (*models.Quiz, []models.QuizQuestion, error) {
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
	quiz.QuestionCount = len(questions)
	quiz.CreatedAt = now

	res, err := tx.ExecContext(ctx, `
		INSERT INTO quizzes (document_id, title, question_count, language, created_at)
		VALUES (?, ?, ?, ?, ?);
	`, quiz.DocumentID, quiz.Title, quiz.QuestionCount, quiz.Language, now)
	if err != nil {
		return nil, nil, fmt.Errorf("insert quiz: %w", err)
	}
	quiz.ID, _ = res.LastInsertId()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO quiz_questions (quiz_id, question, options, correct_index,
			explanation, confidence, page_from, page_to, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?);
	`)
	if err != nil {
		return nil, nil, fmt.Errorf("prepare question insert: %w", err)
	}
	defer stmt.Close()

	for i := range questions {
		q := &questions[i]
		q.QuizID = quiz.ID
		q.CreatedAt = now

		var opts []byte
		opts, err = json.Marshal(q.Options)
		if err != nil {
			return nil, nil, fmt.Errorf("marshal options: %w", err)
		}

		var insertRes sql.Result
		insertRes, err = stmt.ExecContext(ctx,
			q.QuizID,
			q.Question,
			string(opts),
			q.CorrectIndex,
			nullStringPtr(q.Explanation),
			q.Confidence,
			nullInt64Ptr(q.PageFrom),
			nullInt64Ptr(q.PageTo),
			q.CreatedAt,
		)
		if err != nil {
			return nil, nil, fmt.Errorf("insert question %q: %w", q.Question, err)
		}
		q.ID, _ = insertRes.LastInsertId()
	}

	if err = tx.Commit(); err != nil {
		return nil, nil, fmt.Errorf("commit quiz: %w", err)
	}
	return &quiz, questions, nil
}

func (s *QuizService) GetQuiz(ctx context.Context, id int64) (*models.Quiz, []models.QuizQuestion, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, document_id, title, question_count, language, created_at
		FROM quizzes WHERE id = ?;
	`, id)
	var quiz models.Quiz
	if err := row.Scan(&quiz.ID, &quiz.DocumentID, &quiz.Title, &quiz.QuestionCount, &quiz.Language, &quiz.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil, fmt.Errorf("quiz %d: %w", id, ErrNotFound)
		}
		return nil, nil, fmt.Errorf("scan quiz: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, quiz_id, question, options, correct_index, explanation,
			confidence, page_from, page_to, created_at
		FROM quiz_questions WHERE quiz_id = ? ORDER BY id ASC;
	`, id)
	if err != nil {
		return nil, nil, fmt.Errorf("query questions: %w", err)
	}
	defer rows.Close()

	var questions []models.QuizQuestion
	for rows.Next() {
		var (
			q    models.QuizQuestion
			opts string
		)
		if err := rows.Scan(
			&q.ID,
			&q.QuizID,
			&q.Question,
			&opts,
			&q.CorrectIndex,
			&q.Explanation,
			&q.Confidence,
			&q.PageFrom,
			&q.PageTo,
			&q.CreatedAt,
		); err != nil {
			return nil, nil, fmt.Errorf("scan question: %w", err)
		}
		if err := json.Unmarshal([]byte(opts), &q.Options); err != nil {
			return nil, nil, fmt.Errorf("unmarshal options for question %d: %w", q.ID, err)
		}
		questions = append(questions, q)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, err
	}
	return &quiz, questions, nil
}

// ListQuizzes returns quizzes newest first, filtered by document when
// documentID is non-zero.
func (s *QuizService) ListQuizzes(ctx context.Context, documentID int64) ([]models.Quiz, error) {
	query := `
		SELECT id, document_id, title, question_count, language, created_at
		FROM quizzes`
	var args []any
	if documentID != 0 {
		query += ` WHERE document_id = ?`
		args = append(args, documentID)
	}
	query += ` ORDER BY created_at DESC, id DESC;`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list quizzes: %w", err)
	}
	defer rows.Close()

	var quizzes []models.Quiz
	for rows.Next() {
		var quiz models.Quiz
		if err := rows.Scan(&quiz.ID, &quiz.DocumentID, &quiz.Title, &quiz.QuestionCount, &quiz.Language, &quiz.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan quiz: %w", err)
		}
		quizzes = append(quizzes, quiz)
	}
	return quizzes, rows.Err()
}

func nullStringPtr(s sql.NullString) any {
	if s.Valid {
		return s.String
	}
	return nil
}
