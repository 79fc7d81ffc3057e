package services

import (
	"context"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"studygen/internal/config"
	"studygen/internal/db"
	"studygen/internal/extract"
	"studygen/internal/genai"
	"studygen/internal/ground"
	"studygen/internal/models"
	"studygen/internal/textutil"
)

const bioSource = "The mitochondria is the powerhouse of the cell. " +
	"It produces ATP through cellular respiration. " +
	"The nucleus stores genetic material and directs cellular activity. " +
	"Ribosomes assemble proteins from amino acids. " +
	"The cell membrane controls what enters and leaves the cell."

// fakeClient scripts model responses per call.
type fakeClient struct {
	calls   int
	users   []string
	handler func(call int, req genai.Request) (json.RawMessage, error)
}

func (f *fakeClient) GenerateStructured(_ context.Context, req genai.Request) (json.RawMessage, error) {
	f.calls++
	f.users = append(f.users, req.User)
	return f.handler(f.calls, req)
}

type testEnv struct {
	docs    *DocumentService
	cards   *FlashcardService
	quizzes *QuizService
	gen     *GenerationService
}

func newTestEnv(t *testing.T, client genai.Client) *testEnv {
	t.Helper()

	conn, err := db.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	cfg := config.DefaultPipeline()
	log := zerolog.Nop()

	docs := NewDocumentService(conn, t.TempDir(), extract.New(cfg, nil, log), cfg, log)
	cardSvc := NewFlashcardService(conn)
	quizSvc := NewQuizService(conn)

	return &testEnv{
		docs:    docs,
		cards:   cardSvc,
		quizzes: quizSvc,
		gen:     NewGenerationService(cfg, docs, cardSvc, quizSvc, client, log),
	}
}

func (e *testEnv) upload(t *testing.T, name, content string) *models.Document {
	t.Helper()
	doc, err := e.docs.Create(context.Background(), name, strings.NewReader(content))
	require.NoError(t, err)
	return doc
}

func TestGenerateFlashcardsEasyCard(t *testing.T) {
	client := &fakeClient{handler: func(int, genai.Request) (json.RawMessage, error) {
		return json.RawMessage(`{"flashcards":[
			{"question":"What is the mitochondria?","answer":"The powerhouse of the cell.","difficulty":"easy"}
		]}`), nil
	}}
	env := newTestEnv(t, client)
	doc := env.upload(t, "biology.txt", bioSource)

	res, err := env.gen.GenerateFlashcards(context.Background(), GenerateRequest{
		DocumentID: doc.ID,
		Count:      1,
		Difficulty: models.DifficultyEasy,
	}, nil)
	require.NoError(t, err)
	require.Len(t, res.Cards, 1)
	assert.Equal(t, 1, client.calls)

	card := res.Cards[0]
	assert.NotZero(t, card.ID)
	assert.Equal(t, models.DifficultyEasy, card.Difficulty)
	assert.LessOrEqual(t, textutil.WordCount(card.Answer), 12)
	assert.Greater(t, card.Confidence, 0.5)
	require.True(t, card.PageFrom.Valid)
	assert.EqualValues(t, 1, card.PageFrom.Int64)

	// Every answer token must be lifted from the document.
	for _, token := range textutil.ContentTokens(card.Answer, 3) {
		assert.Contains(t, strings.ToLower(bioSource), token)
	}

	assert.Equal(t, "English", res.Language.Name)
	assert.NotZero(t, res.Set.ID)
	assert.Equal(t, 1, res.Set.CardCount)
	assert.Equal(t, models.DifficultyEasy, res.Set.Difficulty)
}

func TestGenerateFlashcardsFailsClosedOnWeakSupport(t *testing.T) {
	// Three drafts grounded in the source, seven about other subjects
	// entirely: support rate 0.3 on every attempt.
	payload := json.RawMessage(`{"flashcards":[
		{"question":"What is the mitochondria?","answer":"The powerhouse of the cell.","difficulty":"easy"},
		{"question":"What does the nucleus store?","answer":"Genetic material for the cell.","difficulty":"easy"},
		{"question":"What do ribosomes assemble?","answer":"Proteins from amino acids.","difficulty":"easy"},
		{"question":"Define quantum chromodynamics.","answer":"Gluon exchange binds quarks.","difficulty":"medium"},
		{"question":"Napoleon's exile island?","answer":"Saint Helena, south Atlantic.","difficulty":"easy"},
		{"question":"Boiling point water Celsius?","answer":"One hundred degrees.","difficulty":"easy"},
		{"question":"Largest planet?","answer":"Jupiter, gas giant.","difficulty":"easy"},
		{"question":"Author Hamlet?","answer":"William Shakespeare.","difficulty":"easy"},
		{"question":"Currency Japan?","answer":"Japanese yen.","difficulty":"easy"},
		{"question":"Speed light vacuum?","answer":"Roughly 300000 kilometers per second.","difficulty":"medium"}
	]}`)
	client := &fakeClient{handler: func(int, genai.Request) (json.RawMessage, error) {
		return payload, nil
	}}
	env := newTestEnv(t, client)
	doc := env.upload(t, "biology.txt", bioSource)

	_, err := env.gen.GenerateFlashcards(context.Background(), GenerateRequest{
		DocumentID: doc.ID,
		Count:      10,
	}, nil)
	require.Error(t, err)

	var batchErr *ground.BatchError
	require.ErrorAs(t, err, &batchErr)
	assert.InDelta(t, 0.3, batchErr.SupportRate, 1e-9)
	assert.Equal(t, 2, batchErr.Attempts)
	assert.Equal(t, 2, client.calls)

	// The second attempt must carry the hardened grounding instructions.
	require.Len(t, client.users, 2)
	assert.NotContains(t, client.users[0], "word for word")
	assert.Contains(t, client.users[1], "word for word")

	// Nothing may be persisted for a failed batch.
	sets, err := env.cards.ListSets(context.Background(), doc.ID)
	require.NoError(t, err)
	assert.Empty(t, sets)
}

func TestGenerateFlashcardsModelHardFailure(t *testing.T) {
	client := &fakeClient{handler: func(int, genai.Request) (json.RawMessage, error) {
		return nil, &genai.GenerationError{Code: genai.CodeNoStructuredOutput, Message: "model returned prose"}
	}}
	env := newTestEnv(t, client)
	doc := env.upload(t, "biology.txt", bioSource)

	_, err := env.gen.GenerateFlashcards(context.Background(), GenerateRequest{DocumentID: doc.ID}, nil)
	require.Error(t, err)

	var genErr *genai.GenerationError
	require.ErrorAs(t, err, &genErr)
	assert.Equal(t, genai.CodeNoStructuredOutput, genErr.Code)
	assert.Equal(t, 2, client.calls)
}

func TestGenerateQuizPersistsQuestions(t *testing.T) {
	client := &fakeClient{handler: func(int, genai.Request) (json.RawMessage, error) {
		return json.RawMessage(`{"questions":[
			{"question":"What produces ATP in the cell?","options":["The mitochondria","The nucleus","The ribosome","The membrane"],"correctIndex":0,"explanation":"Respiration happens in the mitochondria."},
			{"question":"What does the nucleus store?","options":["Genetic material","Amino acids","ATP","Proteins"],"correctIndex":0},
			{"question":"What do ribosomes assemble?","options":["Proteins","Membranes","Acids","Nuclei"],"correctIndex":0}
		]}`), nil
	}}
	env := newTestEnv(t, client)
	doc := env.upload(t, "biology.txt", bioSource)

	res, err := env.gen.GenerateQuiz(context.Background(), GenerateRequest{
		DocumentID: doc.ID,
		Count:      3,
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, client.calls)
	assert.Equal(t, "Quiz for biology", res.Quiz.Title)
	require.Len(t, res.Questions, 3)

	wantCorrect := map[string]string{
		"What produces ATP in the cell?": "The mitochondria",
		"What does the nucleus store?":   "Genetic material",
		"What do ribosomes assemble?":    "Proteins",
	}
	for _, q := range res.Questions {
		assert.NotZero(t, q.ID)
		require.Len(t, q.Options, 4)
		require.GreaterOrEqual(t, q.CorrectIndex, 0)
		require.Less(t, q.CorrectIndex, 4)
		assert.Equal(t, wantCorrect[q.Question], q.Options[q.CorrectIndex])
		assert.Greater(t, q.Confidence, 0.0)
	}

	// Round-trip through storage keeps the options intact.
	stored, questions, err := env.quizzes.GetQuiz(context.Background(), res.Quiz.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, stored.QuestionCount)
	require.Len(t, questions, 3)
	assert.Equal(t, res.Questions[0].Options, questions[0].Options)
	assert.True(t, questions[0].Explanation.Valid)
}

func TestQuizFromFlashcardsWithoutCachedContent(t *testing.T) {
	env := newTestEnv(t, &fakeClient{handler: func(int, genai.Request) (json.RawMessage, error) {
		t.Fatal("model must not be called")
		return nil, nil
	}})
	doc := env.upload(t, "capitals.txt", "unused")

	seed := []models.Flashcard{
		{Question: "Capital of France?", Answer: "Paris", Difficulty: models.DifficultyEasy, Confidence: 0.9},
		{Question: "Capital of Germany?", Answer: "Berlin", Difficulty: models.DifficultyEasy, Confidence: 0.8},
		{Question: "Capital of Spain?", Answer: "Madrid", Difficulty: models.DifficultyEasy, Confidence: 0.7},
		{Question: "Capital of Italy?", Answer: "Rome", Difficulty: models.DifficultyEasy, Confidence: 0.6},
	}
	_, _, err := env.cards.CreateSet(context.Background(), models.FlashcardSet{
		DocumentID: doc.ID,
		Title:      "Capitals",
		Difficulty: models.DifficultyEasy,
		Language:   "English",
	}, seed)
	require.NoError(t, err)

	res, err := env.gen.QuizFromFlashcards(context.Background(), doc.ID, 0, nil)
	require.NoError(t, err)
	require.Len(t, res.Questions, 4)

	answers := map[string]string{
		"Capital of France?":  "Paris",
		"Capital of Germany?": "Berlin",
		"Capital of Spain?":   "Madrid",
		"Capital of Italy?":   "Rome",
	}
	for _, q := range res.Questions {
		require.Len(t, q.Options, 4)
		assert.Equal(t, answers[q.Question], q.Options[q.CorrectIndex])
	}
}

func TestQuizFromFlashcardsRequiresCards(t *testing.T) {
	env := newTestEnv(t, &fakeClient{handler: func(int, genai.Request) (json.RawMessage, error) {
		return nil, nil
	}})
	doc := env.upload(t, "empty.txt", "unused")

	_, err := env.gen.QuizFromFlashcards(context.Background(), doc.ID, 0, nil)
	assert.ErrorIs(t, err, ErrInvalidRequest)
}

func TestGenerateRequestValidation(t *testing.T) {
	client := &fakeClient{handler: func(int, genai.Request) (json.RawMessage, error) {
		t.Fatal("model must not be called")
		return nil, nil
	}}
	env := newTestEnv(t, client)
	cfg := config.DefaultPipeline()

	cases := map[string]GenerateRequest{
		"missing document": {},
		"count too large":  {DocumentID: 1, Count: cfg.MaxItemCount + 1},
		"bad difficulty":   {DocumentID: 1, Difficulty: "impossible"},
		"inverted pages":   {DocumentID: 1, StartPage: 5, EndPage: 2},
	}
	for name, req := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := env.gen.GenerateFlashcards(context.Background(), req, nil)
			assert.ErrorIs(t, err, ErrInvalidRequest)
		})
	}

	t.Run("unknown document", func(t *testing.T) {
		_, err := env.gen.GenerateFlashcards(context.Background(), GenerateRequest{DocumentID: 999}, nil)
		assert.ErrorIs(t, err, ErrNotFound)
	})
}
