package main

import (
	"database/sql"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"studygen/internal/config"
	"studygen/internal/extract"
	"studygen/internal/genai"
	"studygen/internal/ocr"
	"studygen/internal/services"
)

var rootCmd = &cobra.Command{
	Use:   "studygen",
	Short: "Turn documents into grounded flashcards and quizzes",
	Long: `studygen ingests PDF, HTML, markdown, and plain text documents and
builds study material from them: spaced-repetition flashcards and
multiple-choice quizzes, with every item checked against the source text.

Commands:
  serve     Start the HTTP API server
  generate  Generate study material from a file in one shot`,
}

type app struct {
	documents  *services.DocumentService
	flashcards *services.FlashcardService
	quizzes    *services.QuizService
	generation *services.GenerationService
}

// buildApp wires the service graph. The OCR backend and the generation
// client are optional; without an API key the rest of the app still
// serves uploads, listings, and reviews.
func buildApp(cfg config.Config, conn *sql.DB, log zerolog.Logger) *app {
	var ocrBackend extract.OCR
	if cfg.OCRKey != "" {
		ocrBackend = ocr.New(cfg.OCRKey, cfg.OCRBaseURL, cfg.OCRModel, log)
	}
	extractor := extract.New(cfg.Pipeline, ocrBackend, log)

	documents := services.NewDocumentService(conn, cfg.UploadDir, extractor, cfg.Pipeline, log)
	flashcards := services.NewFlashcardService(conn)
	quizzes := services.NewQuizService(conn)

	var client genai.Client
	if cfg.OpenAIKey != "" {
		c, err := genai.NewOpenAI(cfg.OpenAIKey, cfg.OpenAIEndpoint, cfg.OpenAIModel, log)
		if err != nil {
			log.Warn().Err(err).Msg("generation client unavailable")
		} else {
			client = c
		}
	} else {
		log.Warn().Msg("OPENAI_API_KEY not set, generation endpoints are disabled")
	}

	return &app{
		documents:  documents,
		flashcards: flashcards,
		quizzes:    quizzes,
		generation: services.NewGenerationService(cfg.Pipeline, documents, flashcards, quizzes, client, log),
	}
}
