package services

import (
	"context"
	"database/sql"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"studygen/internal/models"
)

func TestQuizRoundTrip(t *testing.T) {
	env := newTestEnv(t, nil)
	doc := env.upload(t, "biology.txt", bioSource)

	quiz, questions, err := env.quizzes.Create(context.Background(), models.Quiz{
		DocumentID: doc.ID,
		Title:      "Quiz for biology",
		Language:   "en",
	}, []models.QuizQuestion{
		{
			Question:     "What produces ATP in the cell?",
			Options:      []string{"The mitochondria", "The nucleus", "Ribosomes", "The membrane"},
			CorrectIndex: 0,
			Explanation:  sql.NullString{String: "Cellular respiration happens in the mitochondria.", Valid: true},
			Confidence:   0.8,
			PageFrom:     sql.NullInt64{Int64: 1, Valid: true},
			PageTo:       sql.NullInt64{Int64: 1, Valid: true},
		},
		{
			Question:     "What assembles proteins?",
			Options:      []string{"Ribosomes", "The membrane", "ATP", "The nucleus"},
			CorrectIndex: 0,
			Confidence:   0.6,
		},
	})
	require.NoError(t, err)
	assert.NotZero(t, quiz.ID)
	assert.Equal(t, 2, quiz.QuestionCount)
	require.Len(t, questions, 2)
	assert.NotZero(t, questions[0].ID)
	assert.Equal(t, quiz.ID, questions[0].QuizID)

	got, gotQuestions, err := env.quizzes.GetQuiz(context.Background(), quiz.ID)
	require.NoError(t, err)
	assert.Equal(t, "Quiz for biology", got.Title)
	assert.Equal(t, "en", got.Language)
	assert.Equal(t, 2, got.QuestionCount)
	require.Len(t, gotQuestions, 2)

	first := gotQuestions[0]
	assert.Equal(t, "What produces ATP in the cell?", first.Question)
	assert.Equal(t, []string{"The mitochondria", "The nucleus", "Ribosomes", "The membrane"}, first.Options)
	assert.Equal(t, 0, first.CorrectIndex)
	require.True(t, first.Explanation.Valid)
	assert.Equal(t, "Cellular respiration happens in the mitochondria.", first.Explanation.String)
	assert.InDelta(t, 0.8, first.Confidence, 1e-9)
	require.True(t, first.PageFrom.Valid)
	assert.EqualValues(t, 1, first.PageFrom.Int64)

	second := gotQuestions[1]
	assert.Equal(t, []string{"Ribosomes", "The membrane", "ATP", "The nucleus"}, second.Options)
	assert.False(t, second.Explanation.Valid)
	assert.False(t, second.PageFrom.Valid)
}

func TestGetQuizUnknown(t *testing.T) {
	env := newTestEnv(t, nil)

	_, _, err := env.quizzes.GetQuiz(context.Background(), 7)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestListQuizzesFiltersByDocument(t *testing.T) {
	env := newTestEnv(t, nil)
	docA := env.upload(t, "a.txt", "alpha")
	docB := env.upload(t, "b.txt", "beta")

	quizA, _, err := env.quizzes.Create(context.Background(), models.Quiz{DocumentID: docA.ID, Title: "Quiz A", Language: "en"}, []models.QuizQuestion{
		{Question: "qa", Options: []string{"a", "b", "c", "d"}, CorrectIndex: 0},
	})
	require.NoError(t, err)
	_, _, err = env.quizzes.Create(context.Background(), models.Quiz{DocumentID: docB.ID, Title: "Quiz B", Language: "en"}, []models.QuizQuestion{
		{Question: "qb", Options: []string{"a", "b", "c", "d"}, CorrectIndex: 1},
	})
	require.NoError(t, err)

	all, err := env.quizzes.ListQuizzes(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, all, 2)

	only, err := env.quizzes.ListQuizzes(context.Background(), docA.ID)
	require.NoError(t, err)
	require.Len(t, only, 1)
	assert.Equal(t, quizA.ID, only[0].ID)
	assert.Equal(t, "Quiz A", only[0].Title)
}
