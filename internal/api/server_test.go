package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"studygen/internal/config"
	"studygen/internal/db"
	"studygen/internal/extract"
	"studygen/internal/genai"
	"studygen/internal/models"
	"studygen/internal/services"
)

const sourceText = "The mitochondria is the powerhouse of the cell. " +
	"It produces ATP through cellular respiration. " +
	"The nucleus stores genetic material and directs cellular activity. " +
	"Ribosomes assemble proteins from amino acids. " +
	"The cell membrane controls what enters and leaves the cell."

type fakeClient struct {
	mu      sync.Mutex
	calls   int
	handler func(call int, req genai.Request) (json.RawMessage, error)
}

func (f *fakeClient) GenerateStructured(_ context.Context, req genai.Request) (json.RawMessage, error) {
	f.mu.Lock()
	f.calls++
	call := f.calls
	f.mu.Unlock()
	return f.handler(call, req)
}

func groundedFlashcards(int, genai.Request) (json.RawMessage, error) {
	return json.RawMessage(`{"flashcards":[
		{"question":"What is the mitochondria?","answer":"The powerhouse of the cell.","difficulty":"easy"},
		{"question":"What do ribosomes assemble?","answer":"Proteins from amino acids.","difficulty":"easy"}
	]}`), nil
}

func newTestServer(t *testing.T, client genai.Client, token string) *Server {
	t.Helper()

	conn, err := db.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	cfg := config.DefaultPipeline()
	log := zerolog.Nop()

	documents := services.NewDocumentService(conn, t.TempDir(), extract.New(cfg, nil, log), cfg, log)
	flashcards := services.NewFlashcardService(conn)
	quizzes := services.NewQuizService(conn)
	generation := services.NewGenerationService(cfg, documents, flashcards, quizzes, client, log)

	return NewServer(documents, flashcards, quizzes, generation, StaticToken(token), log)
}

func seedDocument(t *testing.T, s *Server, name, content string) *models.Document {
	t.Helper()
	doc, err := s.documents.Create(context.Background(), name, strings.NewReader(content))
	require.NoError(t, err)
	return doc
}

func jsonRequest(t *testing.T, method, target string, payload any) *http.Request {
	t.Helper()
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		require.NoError(t, err)
		body = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, target, body)
	req.Header.Set("Content-Type", "application/json")
	return req
}

func doRequest(t *testing.T, h http.Handler, req *http.Request) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	out := map[string]any{}
	if rec.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), "body: %s", rec.Body.String())
	}
	return rec, out
}

func multipartUpload(t *testing.T, fields map[string]string, files ...[2]string) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for _, file := range files {
		part, err := w.CreateFormFile("files", file[0])
		require.NoError(t, err)
		_, err = io.WriteString(part, file[1])
		require.NoError(t, err)
	}
	for k, v := range fields {
		require.NoError(t, w.WriteField(k, v))
	}
	require.NoError(t, w.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/documents", &buf)
	req.Header.Set("Content-Type", w.FormDataContentType())
	return req
}

func TestHealth(t *testing.T) {
	s := newTestServer(t, nil, "")

	rec, out := doRequest(t, s.Handler(), httptest.NewRequest(http.MethodGet, "/api/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", out["status"])
}

func TestBearerAuth(t *testing.T) {
	s := newTestServer(t, nil, "secret")
	h := s.Handler()

	rec, _ := doRequest(t, h, httptest.NewRequest(http.MethodGet, "/api/documents", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/api/documents", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	rec, _ = doRequest(t, h, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/api/documents", nil)
	req.Header.Set("Authorization", "Bearer secret")
	rec, _ = doRequest(t, h, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	// Health stays open for probes.
	rec, _ = doRequest(t, h, httptest.NewRequest(http.MethodGet, "/api/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestStaticToken(t *testing.T) {
	withHeader := func(value string) *http.Request {
		req := httptest.NewRequest(http.MethodGet, "/api/documents", nil)
		if value != "" {
			req.Header.Set("Authorization", value)
		}
		return req
	}

	assert.True(t, StaticToken("").Authenticate(withHeader("")))
	assert.True(t, StaticToken("secret").Authenticate(withHeader("Bearer secret")))
	assert.False(t, StaticToken("secret").Authenticate(withHeader("")))
	assert.False(t, StaticToken("secret").Authenticate(withHeader("Bearer nope")))
	assert.False(t, StaticToken("secret").Authenticate(withHeader("Basic secret")))
}

func TestUploadAndFetchDocuments(t *testing.T) {
	s := newTestServer(t, nil, "")
	h := s.Handler()

	rec, out := doRequest(t, h, multipartUpload(t,
		map[string]string{"extract": "true"},
		[2]string{"biology.txt", sourceText},
	))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, out["success"])
	assert.EqualValues(t, 1, out["count"])

	items := out["items"].([]any)
	require.Len(t, items, 1)
	item := items[0].(map[string]any)
	assert.Equal(t, "extracted", item["status"])
	assert.Equal(t, "biology", item["title"])
	assert.EqualValues(t, 1, item["pages"])
	docID := int64(item["documentId"].(float64))
	require.NotZero(t, docID)

	rec, out = doRequest(t, h, httptest.NewRequest(http.MethodGet, "/api/documents", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 1, out["count"])

	rec, out = doRequest(t, h, jsonRequest(t, http.MethodGet, "/api/documents/"+itoa(docID), nil))
	require.Equal(t, http.StatusOK, rec.Code)
	doc := out["document"].(map[string]any)
	assert.Equal(t, "biology", doc["title"])
	assert.Equal(t, true, doc["extracted"])

	rec, out = doRequest(t, h, httptest.NewRequest(http.MethodGet, "/api/documents/999", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, out["error"], "not found")
}

func TestUploadRequiresFiles(t *testing.T) {
	s := newTestServer(t, nil, "")

	rec, out := doRequest(t, s.Handler(), multipartUpload(t, nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "no files uploaded", out["error"])
}

func TestMethodNotAllowed(t *testing.T) {
	s := newTestServer(t, nil, "")

	rec, out := doRequest(t, s.Handler(), httptest.NewRequest(http.MethodDelete, "/api/documents", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	assert.Equal(t, "method not allowed", out["error"])
	assert.Contains(t, rec.Header().Get("Allow"), http.MethodGet)
}

func TestGenerateFlashcardsEndpoint(t *testing.T) {
	client := &fakeClient{handler: groundedFlashcards}
	s := newTestServer(t, client, "")
	h := s.Handler()
	doc := seedDocument(t, s, "biology.txt", sourceText)

	rec, out := doRequest(t, h, jsonRequest(t, http.MethodPost, "/api/flashcards/generate", map[string]any{
		"documentId": doc.ID,
		"count":      2,
		"difficulty": "easy",
	}))
	require.Equal(t, http.StatusOK, rec.Code, "body: %s", rec.Body.String())
	assert.Equal(t, true, out["success"])
	assert.EqualValues(t, 2, out["count"])
	assert.Equal(t, "English", out["language"])

	items := out["items"].([]any)
	require.Len(t, items, 2)
	first := items[0].(map[string]any)
	assert.NotEmpty(t, first["question"])
	assert.Equal(t, "easy", first["difficulty"])

	// The set must be readable back through the listing routes.
	rec, out = doRequest(t, h, httptest.NewRequest(http.MethodGet, "/api/flashcards/sets?documentId="+itoa(doc.ID), nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.EqualValues(t, 1, out["count"])
	set := out["items"].([]any)[0].(map[string]any)
	assert.EqualValues(t, 2, set["cardCount"])

	setID := int64(set["id"].(float64))
	rec, out = doRequest(t, h, httptest.NewRequest(http.MethodGet, "/api/flashcards/sets/"+itoa(setID), nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 2, out["count"])
}

func TestGenerateFlashcardsUnknownDocument(t *testing.T) {
	client := &fakeClient{handler: groundedFlashcards}
	s := newTestServer(t, client, "")

	rec, out := doRequest(t, s.Handler(), jsonRequest(t, http.MethodPost, "/api/flashcards/generate", map[string]any{
		"documentId": 999,
	}))
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, out["error"], "not found")
}

func TestGenerateFlashcardsWithoutModel(t *testing.T) {
	s := newTestServer(t, nil, "")
	doc := seedDocument(t, s, "biology.txt", sourceText)

	rec, out := doRequest(t, s.Handler(), jsonRequest(t, http.MethodPost, "/api/flashcards/generate", map[string]any{
		"documentId": doc.ID,
	}))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, out["error"], "not configured")
}

func TestQuizFromFlashcardsEndpoint(t *testing.T) {
	s := newTestServer(t, nil, "")
	h := s.Handler()
	doc := seedDocument(t, s, "capitals.txt", "unused")

	_, _, err := s.flashcards.CreateSet(context.Background(), models.FlashcardSet{
		DocumentID: doc.ID,
		Title:      "Capitals",
		Difficulty: models.DifficultyEasy,
		Language:   "en",
	}, []models.Flashcard{
		{Question: "Capital of France?", Answer: "Paris", Difficulty: models.DifficultyEasy, Confidence: 0.9},
		{Question: "Capital of Germany?", Answer: "Berlin", Difficulty: models.DifficultyEasy, Confidence: 0.8},
		{Question: "Capital of Spain?", Answer: "Madrid", Difficulty: models.DifficultyEasy, Confidence: 0.7},
		{Question: "Capital of Italy?", Answer: "Rome", Difficulty: models.DifficultyEasy, Confidence: 0.6},
	})
	require.NoError(t, err)

	rec, out := doRequest(t, h, jsonRequest(t, http.MethodPost, "/api/quizzes/from-flashcards", map[string]any{
		"documentId": doc.ID,
	}))
	require.Equal(t, http.StatusOK, rec.Code, "body: %s", rec.Body.String())
	assert.Equal(t, true, out["success"])
	assert.EqualValues(t, 4, out["count"])

	quizID := int64(out["quizId"].(float64))
	rec, out = doRequest(t, h, httptest.NewRequest(http.MethodGet, "/api/quizzes/"+itoa(quizID), nil))
	require.Equal(t, http.StatusOK, rec.Code)
	items := out["items"].([]any)
	require.Len(t, items, 4)
	question := items[0].(map[string]any)
	assert.Len(t, question["options"].([]any), 4)
}

func TestReviewFlow(t *testing.T) {
	s := newTestServer(t, nil, "")
	h := s.Handler()
	doc := seedDocument(t, s, "biology.txt", sourceText)

	_, cards, err := s.flashcards.CreateSet(context.Background(), models.FlashcardSet{
		DocumentID: doc.ID,
		Title:      "Cards",
		Difficulty: models.DifficultyEasy,
		Language:   "en",
	}, []models.Flashcard{
		{Question: "q", Answer: "a", Difficulty: models.DifficultyEasy},
	})
	require.NoError(t, err)
	cardID := cards[0].ID

	rec, out := doRequest(t, h, httptest.NewRequest(http.MethodGet, "/api/cards/next", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	card := out["card"].(map[string]any)
	assert.EqualValues(t, cardID, card["id"])

	rec, out = doRequest(t, h, jsonRequest(t, http.MethodPost, "/api/cards/"+itoa(cardID)+"/review", map[string]any{
		"rating": "good",
	}))
	require.Equal(t, http.StatusOK, rec.Code, "body: %s", rec.Body.String())
	card = out["card"].(map[string]any)
	assert.NotNil(t, card["due"])
	assert.EqualValues(t, 1, card["reps"])
	log := out["log"].(map[string]any)
	assert.EqualValues(t, 3, log["rating"])

	// The freshly scheduled card sits minutes out, so nothing is due now.
	rec, out = doRequest(t, h, httptest.NewRequest(http.MethodGet, "/api/cards/next", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Nil(t, out["card"])
	assert.NotEmpty(t, out["message"])
}

func TestReviewRejectsUnknownRating(t *testing.T) {
	s := newTestServer(t, nil, "")

	rec, out := doRequest(t, s.Handler(), jsonRequest(t, http.MethodPost, "/api/cards/1/review", map[string]any{
		"rating": "meh",
	}))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, out["error"], "unknown rating")
}

func TestGenerationJobLifecycle(t *testing.T) {
	client := &fakeClient{handler: groundedFlashcards}
	s := newTestServer(t, client, "")
	h := s.Handler()
	doc := seedDocument(t, s, "biology.txt", sourceText)

	rec, out := doRequest(t, h, jsonRequest(t, http.MethodPost, "/api/generate/jobs", map[string]any{
		"kind":       JobKindFlashcards,
		"documentId": doc.ID,
		"count":      2,
		"difficulty": "easy",
	}))
	require.Equal(t, http.StatusAccepted, rec.Code)
	jobID := out["jobId"].(string)
	require.NotEmpty(t, jobID)
	assert.Equal(t, JobStatusPending, out["status"])

	var final map[string]any
	require.Eventually(t, func() bool {
		_, polled := doRequest(t, h, httptest.NewRequest(http.MethodGet, "/api/generate/jobs/"+jobID, nil))
		if polled["status"] == JobStatusComplete || polled["status"] == JobStatusFailed {
			final = polled
			return true
		}
		return false
	}, 5*time.Second, 10*time.Millisecond)

	require.Equal(t, JobStatusComplete, final["status"], "job: %v", final)
	assert.EqualValues(t, 100, final["percent"])
	result := final["result"].(map[string]any)
	assert.Equal(t, true, result["success"])
	assert.EqualValues(t, 2, result["count"])
}

func TestGenerationJobRejectsUnknownKind(t *testing.T) {
	s := newTestServer(t, nil, "")

	rec, out := doRequest(t, s.Handler(), jsonRequest(t, http.MethodPost, "/api/generate/jobs", map[string]any{
		"kind":       "essays",
		"documentId": 1,
	}))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, out["error"], "kind must be")
}

func TestJobStatusUnknown(t *testing.T) {
	s := newTestServer(t, nil, "")

	rec, out := doRequest(t, s.Handler(), httptest.NewRequest(http.MethodGet, "/api/generate/jobs/nope", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "job not found", out["error"])
}

func itoa(v int64) string {
	return strconv.FormatInt(v, 10)
}
