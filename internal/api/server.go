package api

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"studygen/internal/extract"
	"studygen/internal/genai"
	"studygen/internal/ground"
	"studygen/internal/models"
	"studygen/internal/services"
)

const maxMultipartMemory = 8 << 20 // 8 MB

// Server exposes the document, generation, and review APIs over a plain
// ServeMux. All /api/ routes except health pass through the configured
// Authenticator.
type Server struct {
	mux        *http.ServeMux
	documents  *services.DocumentService
	flashcards *services.FlashcardService
	quizzes    *services.QuizService
	generation *services.GenerationService
	jobs       *JobManager
	auth       Authenticator
	log        zerolog.Logger
}

func NewServer(
	documents *services.DocumentService,
	flashcards *services.FlashcardService,
	quizzes *services.QuizService,
	generation *services.GenerationService,
	auth Authenticator,
	log zerolog.Logger,
) *Server {
	s := &Server{
		mux:        http.NewServeMux(),
		documents:  documents,
		flashcards: flashcards,
		quizzes:    quizzes,
		generation: generation,
		jobs:       NewJobManager(),
		auth:       auth,
		log:        log,
	}
	s.routes()
	return s
}

func (s *Server) Handler() http.Handler {
	if s.auth == nil {
		return s.mux
	}
	return s.requireAuth(s.mux)
}

// requireAuth guards every route except health, which stays open for
// probes.
func (s *Server) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/health" || s.auth.Authenticate(r) {
			next.ServeHTTP(w, r)
			return
		}
		writeError(w, http.StatusUnauthorized, "missing or invalid bearer token")
	})
}

func (s *Server) routes() {
	s.mux.HandleFunc("/api/health", s.handleHealth)
	s.mux.HandleFunc("/api/documents", s.handleDocuments)
	s.mux.HandleFunc("/api/documents/", s.handleDocumentByID)
	s.mux.HandleFunc("/api/flashcards/generate", s.handleGenerateFlashcards)
	s.mux.HandleFunc("/api/flashcards/sets", s.handleListSets)
	s.mux.HandleFunc("/api/flashcards/sets/", s.handleSetByID)
	s.mux.HandleFunc("/api/quizzes", s.handleListQuizzes)
	s.mux.HandleFunc("/api/quizzes/", s.handleQuizByID)
	s.mux.HandleFunc("/api/quizzes/generate", s.handleGenerateQuiz)
	s.mux.HandleFunc("/api/quizzes/from-flashcards", s.handleQuizFromFlashcards)
	s.mux.HandleFunc("/api/cards/next", s.handleNextCard)
	s.mux.HandleFunc("/api/cards/", s.handleCardActions)
	s.mux.HandleFunc("/api/generate/jobs", s.handleCreateJob)
	s.mux.HandleFunc("/api/generate/jobs/", s.handleJobStatus)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleDocuments(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.handleListDocuments(w, r)
	case http.MethodPost:
		s.handleUploadDocuments(w, r)
	default:
		methodNotAllowed(w, http.MethodGet, http.MethodPost)
	}
}

type uploadResult struct {
	DocumentID int64  `json:"documentId"`
	Name       string `json:"name"`
	Title      string `json:"title"`
	Pages      int    `json:"pages"`
	Status     string `json:"status"`
	Message    string `json:"message,omitempty"`
}

func (s *Server) handleUploadDocuments(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxMultipartMemory); err != nil {
		writeError(w, http.StatusBadRequest, "invalid multipart form")
		return
	}
	if form := r.MultipartForm; form != nil {
		defer form.RemoveAll()
	}

	files := r.MultipartForm.File["files"]
	if len(files) == 0 {
		writeError(w, http.StatusBadRequest, "no files uploaded")
		return
	}
	eager := r.FormValue("extract") == "true"

	results := make([]uploadResult, 0, len(files))
	for _, file := range files {
		result := uploadResult{Name: file.Filename, Status: "stored"}

		src, err := file.Open()
		if err != nil {
			result.Status = "error"
			result.Message = err.Error()
			results = append(results, result)
			continue
		}
		doc, err := s.documents.Create(r.Context(), file.Filename, src)
		src.Close()
		if err != nil {
			result.Status = "error"
			result.Message = err.Error()
			results = append(results, result)
			continue
		}

		result.DocumentID = doc.ID
		if eager {
			if _, err := s.documents.EnsureContent(r.Context(), doc); err != nil {
				result.Status = "error"
				result.Message = err.Error()
			} else {
				result.Status = "extracted"
				result.Pages = doc.PageCount
			}
		}
		result.Title = doc.Title
		results = append(results, result)
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"count":   len(results),
		"items":   results,
	})
}

func (s *Server) handleListDocuments(w http.ResponseWriter, r *http.Request) {
	docs, err := s.documents.List(r.Context())
	if err != nil {
		s.writeServiceError(w, err)
		return
	}

	items := make([]map[string]any, 0, len(docs))
	for i := range docs {
		items = append(items, documentJSON(&docs[i]))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"count":   len(items),
		"items":   items,
	})
}

func (s *Server) handleDocumentByID(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	id, err := pathID(r, "/api/documents/")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid document id")
		return
	}

	doc, err := s.documents.GetByID(r.Context(), id)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":  true,
		"document": documentJSON(doc),
	})
}

type generateRequest struct {
	DocumentID int64  `json:"documentId"`
	Count      int    `json:"count"`
	Difficulty string `json:"difficulty"`
	StartPage  int    `json:"startPage"`
	EndPage    int    `json:"endPage"`
}

func (g generateRequest) toService() services.GenerateRequest {
	return services.GenerateRequest{
		DocumentID: g.DocumentID,
		Count:      g.Count,
		Difficulty: models.Difficulty(g.Difficulty),
		StartPage:  g.StartPage,
		EndPage:    g.EndPage,
	}
}

func (s *Server) handleGenerateFlashcards(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}
	var payload generateRequest
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid payload")
		return
	}

	res, err := s.generation.GenerateFlashcards(r.Context(), payload.toService(), nil)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, flashcardPayload(res))
}

func (s *Server) handleGenerateQuiz(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}
	var payload generateRequest
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid payload")
		return
	}

	res, err := s.generation.GenerateQuiz(r.Context(), payload.toService(), nil)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, quizPayload(res))
}

func (s *Server) handleQuizFromFlashcards(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}
	var payload struct {
		DocumentID int64 `json:"documentId"`
		Count      int   `json:"count"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid payload")
		return
	}

	res, err := s.generation.QuizFromFlashcards(r.Context(), payload.DocumentID, payload.Count, nil)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, quizPayload(res))
}

func (s *Server) handleListSets(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	documentID, err := queryID(r, "documentId")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid documentId")
		return
	}

	sets, err := s.flashcards.ListSets(r.Context(), documentID)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}

	items := make([]map[string]any, 0, len(sets))
	for i := range sets {
		items = append(items, setJSON(&sets[i]))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"count":   len(items),
		"items":   items,
	})
}

func (s *Server) handleSetByID(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	id, err := pathID(r, "/api/flashcards/sets/")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid set id")
		return
	}

	set, cards, err := s.flashcards.GetSet(r.Context(), id)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"set":     setJSON(set),
		"count":   len(cards),
		"items":   cardItems(cards),
	})
}

func (s *Server) handleListQuizzes(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	documentID, err := queryID(r, "documentId")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid documentId")
		return
	}

	quizzes, err := s.quizzes.ListQuizzes(r.Context(), documentID)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}

	items := make([]map[string]any, 0, len(quizzes))
	for i := range quizzes {
		items = append(items, quizJSON(&quizzes[i]))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"count":   len(items),
		"items":   items,
	})
}

func (s *Server) handleQuizByID(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	id, err := pathID(r, "/api/quizzes/")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid quiz id")
		return
	}

	quiz, questions, err := s.quizzes.GetQuiz(r.Context(), id)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"quiz":    quizJSON(quiz),
		"count":   len(questions),
		"items":   questionItems(questions),
	})
}

func (s *Server) handleNextCard(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}

	card, err := s.flashcards.NextCard(r.Context())
	if err != nil {
		if errors.Is(err, services.ErrNoDueCards) {
			writeJSON(w, http.StatusOK, map[string]any{
				"success": true,
				"card":    nil,
				"message": "No cards due. Come back later!",
			})
			return
		}
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"card":    cardJSON(card),
	})
}

type reviewRequest struct {
	Rating string `json:"rating"`
}

func (s *Server) handleCardActions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}

	path := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/cards/"), "/")
	parts := strings.Split(path, "/")
	if len(parts) != 2 || parts[1] != "review" {
		http.NotFound(w, r)
		return
	}
	cardID, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid card id")
		return
	}

	var payload reviewRequest
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid payload")
		return
	}
	rating, err := services.ParseRating(strings.ToLower(strings.TrimSpace(payload.Rating)))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	card, logEntry, err := s.flashcards.ReviewCard(r.Context(), cardID, rating)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"card": map[string]any{
			"id":    card.ID,
			"due":   nullTimeToString(card.Due),
			"state": card.State,
			"reps":  card.Reps,
		},
		"log": map[string]any{
			"rating":        logEntry.Rating,
			"scheduledDays": logEntry.ScheduledDays,
			"reviewedAt":    logEntry.ReviewedAt.Format(timeLayout),
		},
	})
}

type jobRequest struct {
	Kind       string `json:"kind"`
	DocumentID int64  `json:"documentId"`
	Count      int    `json:"count"`
	Difficulty string `json:"difficulty"`
	StartPage  int    `json:"startPage"`
	EndPage    int    `json:"endPage"`
}

func (j jobRequest) toService() services.GenerateRequest {
	return generateRequest{
		DocumentID: j.DocumentID,
		Count:      j.Count,
		Difficulty: j.Difficulty,
		StartPage:  j.StartPage,
		EndPage:    j.EndPage,
	}.toService()
}

func (s *Server) handleCreateJob(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}
	var payload jobRequest
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid payload")
		return
	}
	switch payload.Kind {
	case JobKindFlashcards, JobKindQuiz, JobKindQuizFromCards:
	default:
		writeError(w, http.StatusBadRequest, "kind must be 'flashcards', 'quiz', or 'quiz-from-flashcards'")
		return
	}

	jobID, snapshot := s.jobs.Create(payload.Kind, payload.DocumentID)

	// The request context dies with this response; the job carries on.
	go s.runGenerationJob(context.Background(), jobID, payload)

	writeJSON(w, http.StatusAccepted, snapshot)
}

func (s *Server) handleJobStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	jobID := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/generate/jobs/"), "/")
	if jobID == "" {
		http.NotFound(w, r)
		return
	}

	job, ok := s.jobs.Get(jobID)
	if !ok {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) runGenerationJob(ctx context.Context, jobID string, req jobRequest) {
	s.jobs.MarkRunning(jobID)
	progress := func(stage, message string, current, total int) {
		s.jobs.UpdateProgress(jobID, stage, message, current, total)
	}

	var payload map[string]any
	var err error
	switch req.Kind {
	case JobKindFlashcards:
		var res *services.FlashcardResult
		if res, err = s.generation.GenerateFlashcards(ctx, req.toService(), progress); err == nil {
			payload = flashcardPayload(res)
		}
	case JobKindQuiz:
		var res *services.QuizResult
		if res, err = s.generation.GenerateQuiz(ctx, req.toService(), progress); err == nil {
			payload = quizPayload(res)
		}
	case JobKindQuizFromCards:
		var res *services.QuizResult
		if res, err = s.generation.QuizFromFlashcards(ctx, req.DocumentID, req.Count, progress); err == nil {
			payload = quizPayload(res)
		}
	}
	if err != nil {
		s.log.Warn().Err(err).Str("job_id", jobID).Str("kind", req.Kind).Msg("generation job failed")
		s.jobs.Fail(jobID, err.Error())
		return
	}
	s.jobs.Complete(jobID, payload)
}

// writeServiceError maps service errors onto HTTP statuses. Grounding
// failures surface as 422 with the measured support rate so clients can
// tell "bad document" from "bad request".
func (s *Server) writeServiceError(w http.ResponseWriter, err error) {
	var batchErr *ground.BatchError
	var genErr *genai.GenerationError
	switch {
	case errors.Is(err, services.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, services.ErrInvalidRequest):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, services.ErrModelUnavailable):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	case errors.As(err, &batchErr):
		writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
			"error":       batchErr.Reason,
			"supportRate": batchErr.SupportRate,
			"attempts":    batchErr.Attempts,
		})
	case errors.Is(err, extract.ErrUnreadable), errors.Is(err, extract.ErrNoUsableText):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.As(err, &genErr):
		writeError(w, http.StatusBadGateway, err.Error())
	default:
		s.log.Error().Err(err).Msg("request failed")
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func flashcardPayload(res *services.FlashcardResult) map[string]any {
	return map[string]any{
		"success":  true,
		"setId":    res.Set.ID,
		"title":    res.Set.Title,
		"count":    len(res.Cards),
		"language": res.Language.Name,
		"items":    cardItems(res.Cards),
	}
}

func quizPayload(res *services.QuizResult) map[string]any {
	return map[string]any{
		"success":  true,
		"quizId":   res.Quiz.ID,
		"title":    res.Quiz.Title,
		"count":    len(res.Questions),
		"language": res.Language.Name,
		"items":    questionItems(res.Questions),
	}
}

func documentJSON(doc *models.Document) map[string]any {
	return map[string]any{
		"id":         doc.ID,
		"name":       doc.OriginalName,
		"title":      doc.Title,
		"pages":      doc.PageCount,
		"extracted":  doc.Content.Valid,
		"uploadedAt": doc.UploadedAt.Format(timeLayout),
	}
}

func setJSON(set *models.FlashcardSet) map[string]any {
	return map[string]any{
		"id":         set.ID,
		"documentId": set.DocumentID,
		"title":      set.Title,
		"difficulty": set.Difficulty,
		"cardCount":  set.CardCount,
		"language":   set.Language,
		"createdAt":  set.CreatedAt.Format(timeLayout),
	}
}

func cardJSON(card *models.Flashcard) map[string]any {
	return map[string]any{
		"id":         card.ID,
		"setId":      card.SetID,
		"question":   card.Question,
		"answer":     card.Answer,
		"difficulty": card.Difficulty,
		"confidence": card.Confidence,
		"pageFrom":   nullInt(card.PageFrom),
		"pageTo":     nullInt(card.PageTo),
		"due":        nullTimeToString(card.Due),
		"state":      card.State,
		"reps":       card.Reps,
	}
}

func cardItems(cards []models.Flashcard) []map[string]any {
	items := make([]map[string]any, 0, len(cards))
	for i := range cards {
		items = append(items, cardJSON(&cards[i]))
	}
	return items
}

func quizJSON(quiz *models.Quiz) map[string]any {
	return map[string]any{
		"id":            quiz.ID,
		"documentId":    quiz.DocumentID,
		"title":         quiz.Title,
		"questionCount": quiz.QuestionCount,
		"language":      quiz.Language,
		"createdAt":     quiz.CreatedAt.Format(timeLayout),
	}
}

func questionJSON(q *models.QuizQuestion) map[string]any {
	return map[string]any{
		"id":           q.ID,
		"quizId":       q.QuizID,
		"question":     q.Question,
		"options":      q.Options,
		"correctIndex": q.CorrectIndex,
		"explanation":  nullString(q.Explanation),
		"confidence":   q.Confidence,
		"pageFrom":     nullInt(q.PageFrom),
		"pageTo":       nullInt(q.PageTo),
	}
}

func questionItems(questions []models.QuizQuestion) []map[string]any {
	items := make([]map[string]any, 0, len(questions))
	for i := range questions {
		items = append(items, questionJSON(&questions[i]))
	}
	return items
}

func pathID(r *http.Request, prefix string) (int64, error) {
	raw := strings.Trim(strings.TrimPrefix(r.URL.Path, prefix), "/")
	return strconv.ParseInt(raw, 10, 64)
}

// queryID reads an optional int64 query parameter, 0 when absent.
func queryID(r *http.Request, name string) (int64, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, nil
	}
	return strconv.ParseInt(raw, 10, 64)
}

const timeLayout = time.RFC3339

func nullTimeToString(t sql.NullTime) *string {
	if t.Valid {
		str := t.Time.Format(timeLayout)
		return &str
	}
	return nil
}

func nullString(v sql.NullString) *string {
	if v.Valid {
		str := v.String
		return &str
	}
	return nil
}

func nullInt(v sql.NullInt64) *int64 {
	if v.Valid {
		val := v.Int64
		return &val
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func methodNotAllowed(w http.ResponseWriter, allowed ...string) {
	if len(allowed) > 0 {
		w.Header().Set("Allow", strings.Join(allowed, ", "))
	}
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}
