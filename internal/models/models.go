package models

import (
	"database/sql"
	"time"

	fsrs "github.com/open-spaced-repetition/go-fsrs"
)

// Difficulty labels a flashcard's answer-length band. Mixed is only valid
// on requests and sets, never on individual cards.
type Difficulty string

const (
	DifficultyEasy   Difficulty = "easy"
	DifficultyMedium Difficulty = "medium"
	DifficultyHard   Difficulty = "hard"
	DifficultyMixed  Difficulty = "mixed"
)

// Valid reports whether d is a known difficulty label.
func (d Difficulty) Valid() bool {
	switch d {
	case DifficultyEasy, DifficultyMedium, DifficultyHard, DifficultyMixed:
		return true
	}
	return false
}

type Document struct {
	ID           int64
	OriginalName string
	StoredPath   string
	Title        string
	Content      sql.NullString // cached extracted text, empty until first extraction
	PageCount    int
	UploadedAt   time.Time
}

type FlashcardSet struct {
	ID         int64
	DocumentID int64
	Title      string
	Difficulty Difficulty
	CardCount  int
	Language   string
	CreatedAt  time.Time
}

type Flashcard struct {
	ID         int64
	SetID      int64
	Question   string
	Answer     string
	Difficulty Difficulty
	Confidence float64
	PageFrom   sql.NullInt64
	PageTo     sql.NullInt64

	// FSRS scheduling state.
	Due            sql.NullTime
	Stability      float64
	FSRSDifficulty float64
	ElapsedDays    int
	ScheduledDays  int
	Reps           int
	Lapses         int
	State          int
	LastReview     sql.NullTime

	CreatedAt time.Time
	UpdatedAt time.Time
}

type Quiz struct {
	ID            int64
	DocumentID    int64
	Title         string
	QuestionCount int
	Language      string
	CreatedAt     time.Time
}

type QuizQuestion struct {
	ID           int64
	QuizID       int64
	Question     string
	Options      []string
	CorrectIndex int
	Explanation  sql.NullString
	Confidence   float64
	PageFrom     sql.NullInt64
	PageTo       sql.NullInt64
	CreatedAt    time.Time
}

type ReviewLog struct {
	ID            int64
	CardID        int64
	Rating        int
	ScheduledDays int
	ElapsedDays   int
	State         int
	ReviewedAt    time.Time
}

func (c *Flashcard) ToFSRSCard() fsrs.Card {
	card := fsrs.Card{
		Stability:     c.Stability,
		Difficulty:    c.FSRSDifficulty,
		ElapsedDays:   uint64(max(c.ElapsedDays, 0)),
		ScheduledDays: uint64(max(c.ScheduledDays, 0)),
		Reps:          uint64(max(c.Reps, 0)),
		Lapses:        uint64(max(c.Lapses, 0)),
		State:         fsrs.State(max(c.State, 0)),
	}
	if c.Due.Valid {
		card.Due = c.Due.Time
	}
	if c.LastReview.Valid {
		card.LastReview = c.LastReview.Time
	}
	return card
}

func (c *Flashcard) ApplyFSRSCard(f fsrs.Card) {
	c.Due = sql.NullTime{Time: f.Due, Valid: !f.Due.IsZero()}
	c.Stability = f.Stability
	c.FSRSDifficulty = f.Difficulty
	c.ElapsedDays = int(f.ElapsedDays)
	c.ScheduledDays = int(f.ScheduledDays)
	c.Reps = int(f.Reps)
	c.Lapses = int(f.Lapses)
	c.State = int(f.State)
	c.LastReview = sql.NullTime{Time: f.LastReview, Valid: !f.LastReview.IsZero()}
}
