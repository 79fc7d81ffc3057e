package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"studygen/internal/cards"
	"studygen/internal/chunk"
	"studygen/internal/config"
	"studygen/internal/dedupe"
	"studygen/internal/extract"
	"studygen/internal/genai"
	"studygen/internal/ground"
	"studygen/internal/lang"
	"studygen/internal/models"
	"studygen/internal/quiz"
)

// ProgressCallback is called during generation to report pipeline progress.
type ProgressCallback func(stage, message string, current, total int)

var (
	// ErrInvalidRequest wraps caller mistakes that should surface as 400s.
	ErrInvalidRequest = errors.New("invalid request")

	// ErrModelUnavailable reports that no generation model is configured.
	ErrModelUnavailable = errors.New("generation model is not configured")
)

// conformFloor is the minimum fraction of cards that must land in their
// requested length band for a batch to stand.
const conformFloor = 0.5

// GenerateRequest drives both flashcard and quiz generation. Zero Count
// picks the configured default; zero pages mean the whole document.
type GenerateRequest struct {
	DocumentID int64
	Count      int
	Difficulty models.Difficulty
	StartPage  int
	EndPage    int
}

type FlashcardResult struct {
	Set      *models.FlashcardSet
	Cards    []models.Flashcard
	Language lang.Result
}

type QuizResult struct {
	Quiz      *models.Quiz
	Questions []models.QuizQuestion
	Language  lang.Result
}

// GenerationService runs the extract-select-generate-validate pipeline and
// persists what survives.
type GenerationService struct {
	cfg        config.Pipeline
	documents  *DocumentService
	flashcards *FlashcardService
	quizzes    *QuizService
	client     genai.Client
	detector   lang.Detector
	classifier cards.Classifier
	normalizer *cards.Normalizer
	distract   *quiz.Builder
	log        zerolog.Logger
}

func NewGenerationService(
	cfg config.Pipeline,
	documents *DocumentService,
	flashcards *FlashcardService,
	quizzes *QuizService,
	client genai.Client,
	log zerolog.Logger,
) *GenerationService {
	return &GenerationService{
		cfg:        cfg,
		documents:  documents,
		flashcards: flashcards,
		quizzes:    quizzes,
		client:     client,
		detector:   lang.NewDetector(),
		classifier: cards.NewLengthClassifier(cfg),
		normalizer: cards.NewNormalizer(cfg),
		distract:   quiz.NewBuilder(cfg, client, log, nil),
		log:        log,
	}
}

// sourceMaterial bundles everything the generation steps need about one
// document: the full text for grounding, the selected excerpt for the
// prompt, and the page-attribution index.
type sourceMaterial struct {
	doc      *models.Document
	text     string
	selected []chunk.Chunk
	excerpt  string
	language lang.Result
	index    *ground.Index
	attrib   *ground.Attributor
}

func (s *GenerationService) prepare(ctx context.Context, req GenerateRequest, progress ProgressCallback) (*sourceMaterial, error) {
	doc, err := s.documents.GetByID(ctx, req.DocumentID)
	if err != nil {
		return nil, err
	}

	report(progress, "extract", "Extracting document text", 10, 100)
	text, err := s.documents.EnsureContent(ctx, doc)
	if err != nil {
		return nil, err
	}

	pages := extract.SplitPages(text, s.cfg.CharsPerPage)
	scoped := extract.Restrict(pages, req.StartPage, req.EndPage)

	report(progress, "select", "Selecting relevant passages", 25, 100)
	selected := chunk.NewSelector(s.cfg).Select(scoped)
	if len(selected) == 0 {
		return nil, fmt.Errorf("document %d holds no usable text in the requested page range", doc.ID)
	}
	excerpt := chunk.Concat(selected)

	language := s.detector.Detect(text)

	m := &sourceMaterial{
		doc:      doc,
		text:     text,
		selected: selected,
		excerpt:  excerpt,
		language: language,
		index:    ground.NewIndex(s.cfg, text),
		attrib:   ground.NewAttributor(selected, s.cfg.SupportTokenMin),
	}

	s.log.Info().
		Int64("document_id", doc.ID).
		Int("pages", len(pages)).
		Int("pages_in_range", len(scoped)).
		Int("chunks_selected", len(selected)).
		Int("excerpt_chars", len(excerpt)).
		Str("language", language.Code).
		Float64("language_confidence", language.Confidence).
		Msg("prepared source material")

	return m, nil
}

// GenerateFlashcards runs the whole pipeline for one flashcard request and
// persists the accepted batch as a new set.
func (s *GenerationService) GenerateFlashcards(ctx context.Context, req GenerateRequest, progress ProgressCallback) (*FlashcardResult, error) {
	if s.client == nil {
		return nil, ErrModelUnavailable
	}
	if err := s.normalizeRequest(&req, s.cfg.DefaultCardCount); err != nil {
		return nil, err
	}
	if req.Difficulty == "" {
		req.Difficulty = models.DifficultyMixed
	}
	if !req.Difficulty.Valid() {
		return nil, fmt.Errorf("%w: difficulty %q is not one of easy, medium, hard, mixed", ErrInvalidRequest, req.Difficulty)
	}

	m, err := s.prepare(ctx, req, progress)
	if err != nil {
		return nil, err
	}

	mix := cards.SplitMix(req.Count, req.Difficulty, s.cfg)
	report(progress, "generate", "Generating flashcards", 40, 100)

	attemptFn := func(ctx context.Context, attempt int) (cardBatch, error) {
		return s.flashcardAttempt(ctx, m, req, mix, attempt)
	}
	accept := func(b cardBatch) bool {
		return len(b.cards) > 0 && b.supportRate >= s.cfg.RetryThreshold && b.conformRate >= conformFloor
	}

	batch, attempts, err := ground.WithRetry(ctx, s.cfg.MaxAttempts, attemptFn, accept)
	if err != nil && !errors.Is(err, ground.ErrNotAccepted) {
		return nil, err
	}
	if err != nil {
		// Retries are spent; apply the final, softer floor.
		if len(batch.cards) == 0 || batch.supportRate < s.cfg.RejectFloor {
			return nil, &ground.BatchError{
				Reason:      "generated flashcards are not grounded in the document text",
				SupportRate: batch.supportRate,
				Attempts:    attempts,
			}
		}
		if batch.conformRate < conformFloor {
			return nil, &ground.BatchError{
				Reason:      "generated answers repeatedly missed the requested length",
				SupportRate: batch.supportRate,
				Attempts:    attempts,
			}
		}
	}

	s.log.Info().
		Int64("document_id", m.doc.ID).
		Int("attempts", attempts).
		Float64("support_rate", batch.supportRate).
		Float64("conform_rate", batch.conformRate).
		Int("cards", len(batch.cards)).
		Msg("flashcard batch accepted")

	report(progress, "save", "Saving flashcard set", 90, 100)
	set := models.FlashcardSet{
		DocumentID: m.doc.ID,
		Title:      fmt.Sprintf("Flashcards for %s", m.doc.Title),
		Difficulty: req.Difficulty,
		Language:   m.language.Name,
	}
	savedSet, savedCards, err := s.flashcards.CreateSet(ctx, set, batch.cards)
	if err != nil {
		return nil, fmt.Errorf("save flashcard set: %w", err)
	}

	report(progress, "complete", "Flashcards ready", 100, 100)
	return &FlashcardResult{Set: savedSet, Cards: savedCards, Language: m.language}, nil
}

type cardBatch struct {
	cards       []models.Flashcard
	supportRate float64
	conformRate float64
}

func (s *GenerationService) flashcardAttempt(ctx context.Context, m *sourceMaterial, req GenerateRequest, mix cards.MixCounts, attempt int) (cardBatch, error) {
	strict := attempt > 1
	system, user := genai.FlashcardPrompt(genai.FlashcardPromptInput{
		Source:          m.excerpt,
		Language:        m.language.Name,
		Easy:            mix.Easy,
		Medium:          mix.Medium,
		Hard:            mix.Hard,
		StrictGrounding: strict,
		StrictLength:    strict,
	})

	raw, err := s.client.GenerateStructured(ctx, genai.Request{
		System:      system,
		User:        user,
		SchemaName:  genai.SchemaFlashcards,
		Schema:      genai.FlashcardSchema,
		Temperature: s.cfg.Temperature,
		MaxTokens:   s.cfg.MaxTokens,
	})
	if err != nil {
		return cardBatch{}, err
	}
	drafts, err := genai.ParseFlashcards(raw)
	if err != nil {
		return cardBatch{}, err
	}

	return s.buildCards(m, req, drafts, attempt), nil
}

// buildCards filters drafts through the support check, normalizes answers
// into their length bands, scores confidence, and collapses near
// duplicates. Unsupported drafts are dropped but still count against the
// batch support rate.
func (s *GenerationService) buildCards(m *sourceMaterial, req GenerateRequest, drafts []genai.FlashcardDraft, attempt int) cardBatch {
	var (
		total     int
		supported int
		conform   int
		out       []models.Flashcard
	)

	for _, draft := range drafts {
		question := strings.TrimSpace(draft.Question)
		answer := strings.TrimSpace(draft.Answer)
		if question == "" || answer == "" {
			continue
		}
		total++

		if !m.index.Supported(question, answer) {
			continue
		}
		supported++

		target := s.cardTarget(req.Difficulty, draft)
		norm := s.normalizer.Normalize(question, answer, target, m.text)
		answer = norm.Answer

		difficulty := target
		if norm.Failed {
			difficulty = s.classifier.Classify(answer)
		} else {
			conform++
		}

		card := models.Flashcard{
			Question:   question,
			Answer:     answer,
			Difficulty: difficulty,
			Confidence: m.index.Confidence(question, answer),
		}
		if from, to := m.attrib.PageRange(question + " " + answer); from > 0 {
			card.PageFrom = sql.NullInt64{Int64: int64(from), Valid: true}
			card.PageTo = sql.NullInt64{Int64: int64(to), Valid: true}
		}
		out = append(out, card)
	}

	out = dedupe.Collapse(out,
		func(c models.Flashcard) string { return dedupe.Key(c.Question, c.Answer) },
		func(c models.Flashcard) float64 { return c.Confidence },
		s.cfg.DedupeThreshold,
	)
	if len(out) > req.Count {
		out = out[:req.Count]
	}

	batch := cardBatch{cards: out}
	if total > 0 {
		batch.supportRate = float64(supported) / float64(total)
	}
	if supported > 0 {
		batch.conformRate = float64(conform) / float64(supported)
	}

	s.log.Debug().
		Int("attempt", attempt).
		Int("drafts", total).
		Int("supported", supported).
		Int("conforming", conform).
		Int("after_dedupe", len(out)).
		Float64("support_rate", batch.supportRate).
		Msg("flashcard attempt evaluated")

	return batch
}

// cardTarget picks the length band a draft should be normalized into. A
// single-difficulty request overrides whatever the model labeled; under a
// mixed request the label is trusted when valid, with the measured length
// deciding otherwise.
func (s *GenerationService) cardTarget(requested models.Difficulty, draft genai.FlashcardDraft) models.Difficulty {
	if requested != models.DifficultyMixed {
		return requested
	}
	label := models.Difficulty(strings.ToLower(strings.TrimSpace(draft.Difficulty)))
	if label.Valid() && label != models.DifficultyMixed {
		return label
	}
	return s.classifier.Classify(draft.Answer)
}

// GenerateQuiz runs the pipeline with the quiz schema, builds validated
// distractors for every surviving question, and persists the quiz.
func (s *GenerationService) GenerateQuiz(ctx context.Context, req GenerateRequest, progress ProgressCallback) (*QuizResult, error) {
	if s.client == nil {
		return nil, ErrModelUnavailable
	}
	if err := s.normalizeRequest(&req, s.cfg.DefaultQuizCount); err != nil {
		return nil, err
	}

	m, err := s.prepare(ctx, req, progress)
	if err != nil {
		return nil, err
	}

	report(progress, "generate", "Generating quiz questions", 40, 100)

	attemptFn := func(ctx context.Context, attempt int) (questionBatch, error) {
		return s.quizAttempt(ctx, m, req, attempt)
	}
	accept := func(b questionBatch) bool {
		return len(b.questions) > 0 && b.supportRate >= s.cfg.RetryThreshold
	}

	batch, attempts, err := ground.WithRetry(ctx, s.cfg.MaxAttempts, attemptFn, accept)
	if err != nil && !errors.Is(err, ground.ErrNotAccepted) {
		return nil, err
	}
	if err != nil {
		if len(batch.questions) == 0 || batch.supportRate < s.cfg.RejectFloor {
			return nil, &ground.BatchError{
				Reason:      "generated quiz questions are not grounded in the document text",
				SupportRate: batch.supportRate,
				Attempts:    attempts,
			}
		}
	}

	s.log.Info().
		Int64("document_id", m.doc.ID).
		Int("attempts", attempts).
		Float64("support_rate", batch.supportRate).
		Int("questions", len(batch.questions)).
		Msg("quiz batch accepted")

	report(progress, "save", "Saving quiz", 90, 100)
	saved, questions, err := s.quizzes.Create(ctx, models.Quiz{
		DocumentID: m.doc.ID,
		Title:      fmt.Sprintf("Quiz for %s", m.doc.Title),
		Language:   m.language.Name,
	}, batch.questions)
	if err != nil {
		return nil, fmt.Errorf("save quiz: %w", err)
	}

	report(progress, "complete", "Quiz ready", 100, 100)
	return &QuizResult{Quiz: saved, Questions: questions, Language: m.language}, nil
}

type questionBatch struct {
	questions   []models.QuizQuestion
	supportRate float64
}

func (s *GenerationService) quizAttempt(ctx context.Context, m *sourceMaterial, req GenerateRequest, attempt int) (questionBatch, error) {
	system, user := genai.QuizPrompt(genai.QuizPromptInput{
		Source:          m.excerpt,
		Language:        m.language.Name,
		Count:           req.Count,
		StrictGrounding: attempt > 1,
	})

	raw, err := s.client.GenerateStructured(ctx, genai.Request{
		System:      system,
		User:        user,
		SchemaName:  genai.SchemaQuiz,
		Schema:      genai.QuizSchema,
		Temperature: s.cfg.Temperature,
		MaxTokens:   s.cfg.MaxTokens,
	})
	if err != nil {
		return questionBatch{}, err
	}
	drafts, err := genai.ParseQuizQuestions(raw)
	if err != nil {
		return questionBatch{}, err
	}

	return s.buildQuestions(ctx, m, req, drafts, attempt), nil
}

// quizCandidate is a draft that passed the support check, before distractor
// validation.
type quizCandidate struct {
	question    string
	correct     string
	modelWrong  []string
	explanation string
}

func (s *GenerationService) buildQuestions(ctx context.Context, m *sourceMaterial, req GenerateRequest, drafts []genai.QuizDraft, attempt int) questionBatch {
	var (
		total     int
		supported int
		cands     []quizCandidate
	)

	for _, draft := range drafts {
		question := strings.TrimSpace(draft.Question)
		if question == "" || len(draft.Options) == 0 {
			continue
		}
		if draft.CorrectIndex < 0 || draft.CorrectIndex >= len(draft.Options) {
			continue
		}
		correct := strings.TrimSpace(draft.Options[draft.CorrectIndex])
		if correct == "" {
			continue
		}
		total++

		if !m.index.Supported(question, correct) {
			continue
		}
		supported++

		var wrong []string
		for i, opt := range draft.Options {
			if i != draft.CorrectIndex {
				wrong = append(wrong, opt)
			}
		}
		cands = append(cands, quizCandidate{
			question:    question,
			correct:     correct,
			modelWrong:  wrong,
			explanation: strings.TrimSpace(draft.Explanation),
		})
	}

	var questions []models.QuizQuestion
	for i, cand := range cands {
		siblings := make([]string, 0, len(cands)-1)
		for j, other := range cands {
			if j != i {
				siblings = append(siblings, other.correct)
			}
		}

		options, correctIndex, ok := s.distract.Build(ctx, m.index, quiz.Input{
			Question:     cand.question,
			Correct:      cand.correct,
			Siblings:     siblings,
			ModelOptions: cand.modelWrong,
			Source:       m.text,
			Language:     m.language.Name,
		})
		if !ok {
			s.log.Debug().Str("question", cand.question).Msg("skipping question short of distractors")
			continue
		}

		q := models.QuizQuestion{
			Question:     cand.question,
			Options:      options,
			CorrectIndex: correctIndex,
			Confidence:   m.index.Confidence(cand.question, cand.correct),
		}
		if cand.explanation != "" {
			q.Explanation = sql.NullString{String: cand.explanation, Valid: true}
		}
		if from, to := m.attrib.PageRange(cand.question + " " + cand.correct); from > 0 {
			q.PageFrom = sql.NullInt64{Int64: int64(from), Valid: true}
			q.PageTo = sql.NullInt64{Int64: int64(to), Valid: true}
		}
		questions = append(questions, q)
	}

	questions = dedupe.Collapse(questions,
		func(q models.QuizQuestion) string { return dedupe.Key(q.Question, q.Options[q.CorrectIndex]) },
		func(q models.QuizQuestion) float64 { return q.Confidence },
		s.cfg.DedupeThreshold,
	)
	if len(questions) > req.Count {
		questions = questions[:req.Count]
	}

	batch := questionBatch{questions: questions}
	if total > 0 {
		batch.supportRate = float64(supported) / float64(total)
	}

	s.log.Debug().
		Int("attempt", attempt).
		Int("drafts", total).
		Int("supported", supported).
		Int("with_options", len(questions)).
		Float64("support_rate", batch.supportRate).
		Msg("quiz attempt evaluated")

	return batch
}

// QuizFromFlashcards assembles a quiz out of a document's stored cards
// instead of calling the model for new questions. Distractors come from
// sibling answers, with source mining when extracted text is cached.
func (s *GenerationService) QuizFromFlashcards(ctx context.Context, documentID int64, count int, progress ProgressCallback) (*QuizResult, error) {
	if documentID <= 0 {
		return nil, fmt.Errorf("%w: documentId is required", ErrInvalidRequest)
	}
	if count == 0 {
		count = s.cfg.DefaultQuizCount
	}
	if count < 1 || count > s.cfg.MaxItemCount {
		return nil, fmt.Errorf("%w: count must be between 1 and %d", ErrInvalidRequest, s.cfg.MaxItemCount)
	}

	doc, err := s.documents.GetByID(ctx, documentID)
	if err != nil {
		return nil, err
	}

	report(progress, "load", "Loading stored flashcards", 10, 100)
	stored, err := s.flashcards.ListByDocument(ctx, documentID, 0)
	if err != nil {
		return nil, err
	}
	if len(stored) == 0 {
		return nil, fmt.Errorf("%w: document %d has no flashcards to build a quiz from", ErrInvalidRequest, documentID)
	}

	var (
		text string
		ix   *ground.Index
	)
	if doc.Content.Valid {
		text = doc.Content.String
		ix = ground.NewIndex(s.cfg, text)
	}

	langSource := text
	if langSource == "" {
		var sb strings.Builder
		for _, card := range stored {
			sb.WriteString(card.Question)
			sb.WriteByte(' ')
			sb.WriteString(card.Answer)
			sb.WriteByte(' ')
		}
		langSource = sb.String()
	}
	language := s.detector.Detect(langSource)

	report(progress, "build", "Building quiz options", 40, 100)
	var questions []models.QuizQuestion
	for i, card := range stored {
		if len(questions) >= count {
			break
		}

		siblings := make([]string, 0, len(stored)-1)
		for j, other := range stored {
			if j != i {
				siblings = append(siblings, other.Answer)
			}
		}

		var (
			options      []string
			correctIndex int
			ok           bool
		)
		if ix != nil {
			options, correctIndex, ok = s.distract.Build(ctx, ix, quiz.Input{
				Question: card.Question,
				Correct:  card.Answer,
				Siblings: siblings,
				Source:   text,
				Language: language.Name,
			})
		} else {
			options, correctIndex = s.distract.BuildBasic(card.Answer, siblings)
			ok = true
		}
		if !ok {
			continue
		}

		questions = append(questions, models.QuizQuestion{
			Question:     card.Question,
			Options:      options,
			CorrectIndex: correctIndex,
			Confidence:   card.Confidence,
			PageFrom:     card.PageFrom,
			PageTo:       card.PageTo,
		})
	}

	questions = dedupe.Collapse(questions,
		func(q models.QuizQuestion) string { return dedupe.Key(q.Question, q.Options[q.CorrectIndex]) },
		func(q models.QuizQuestion) float64 { return q.Confidence },
		s.cfg.DedupeThreshold,
	)
	if len(questions) == 0 {
		return nil, fmt.Errorf("stored flashcards for document %d could not produce enough quiz options", documentID)
	}

	report(progress, "save", "Saving quiz", 90, 100)
	saved, persisted, err := s.quizzes.Create(ctx, models.Quiz{
		DocumentID: doc.ID,
		Title:      fmt.Sprintf("Quiz for %s", doc.Title),
		Language:   language.Name,
	}, questions)
	if err != nil {
		return nil, fmt.Errorf("save quiz: %w", err)
	}

	report(progress, "complete", "Quiz ready", 100, 100)
	return &QuizResult{Quiz: saved, Questions: persisted, Language: language}, nil
}

func (s *GenerationService) normalizeRequest(req *GenerateRequest, defaultCount int) error {
	if req.DocumentID <= 0 {
		return fmt.Errorf("%w: documentId is required", ErrInvalidRequest)
	}
	if req.Count == 0 {
		req.Count = defaultCount
	}
	if req.Count < 1 || req.Count > s.cfg.MaxItemCount {
		return fmt.Errorf("%w: count must be between 1 and %d", ErrInvalidRequest, s.cfg.MaxItemCount)
	}
	if req.StartPage < 0 {
		req.StartPage = 0
	}
	if req.EndPage < 0 {
		req.EndPage = 0
	}
	if req.StartPage > 0 && req.EndPage > 0 && req.EndPage < req.StartPage {
		return fmt.Errorf("%w: endPage %d is before startPage %d", ErrInvalidRequest, req.EndPage, req.StartPage)
	}
	return nil
}

func report(progress ProgressCallback, stage, message string, current, total int) {
	if progress != nil {
		progress(stage, message, current, total)
	}
}
