package main

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"studygen/internal/config"
	"studygen/internal/db"
	"studygen/internal/logging"
	"studygen/internal/models"
	"studygen/internal/services"
)

var (
	generateFile       string
	generateKind       string
	generateCount      int
	generateDifficulty string
	generateStartPage  int
	generateEndPage    int
)

var generateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Generate study material from a file in one shot",
	Long: `Generate uploads a file into the document store, runs the full
generation pipeline against it, and prints the persisted result as JSON.

Example:
  studygen generate --file notes.pdf --kind flashcards --count 8 --difficulty mixed`,
	RunE: runGenerate,
}

func init() {
	generateCmd.Flags().StringVar(&generateFile, "file", "", "document to generate from (required)")
	generateCmd.Flags().StringVar(&generateKind, "kind", "flashcards", "what to generate: flashcards or quiz")
	generateCmd.Flags().IntVar(&generateCount, "count", 0, "number of items (0 uses the configured default)")
	generateCmd.Flags().StringVar(&generateDifficulty, "difficulty", "", "easy, medium, hard, or mixed (flashcards only)")
	generateCmd.Flags().IntVar(&generateStartPage, "start-page", 0, "first page to draw from (1-based, 0 means start)")
	generateCmd.Flags().IntVar(&generateEndPage, "end-page", 0, "last page to draw from (0 means end)")
	_ = generateCmd.MarkFlagRequired("file")

	rootCmd.AddCommand(generateCmd)
}

type cardOutput struct {
	Question   string  `json:"question"`
	Answer     string  `json:"answer"`
	Difficulty string  `json:"difficulty"`
	Confidence float64 `json:"confidence"`
	PageFrom   int64   `json:"pageFrom,omitempty"`
	PageTo     int64   `json:"pageTo,omitempty"`
}

type questionOutput struct {
	Question     string   `json:"question"`
	Options      []string `json:"options"`
	CorrectIndex int      `json:"correctIndex"`
	Explanation  string   `json:"explanation,omitempty"`
	Confidence   float64  `json:"confidence"`
	PageFrom     int64    `json:"pageFrom,omitempty"`
	PageTo       int64    `json:"pageTo,omitempty"`
}

type generateOutput struct {
	Success    bool             `json:"success"`
	Kind       string           `json:"kind"`
	DocumentID int64            `json:"documentId"`
	SetID      int64            `json:"setId,omitempty"`
	QuizID     int64            `json:"quizId,omitempty"`
	Title      string           `json:"title"`
	Language   string           `json:"language"`
	Count      int              `json:"count"`
	Cards      []cardOutput     `json:"cards,omitempty"`
	Questions  []questionOutput `json:"questions,omitempty"`
}

func runGenerate(cmd *cobra.Command, args []string) error {
	if generateKind != "flashcards" && generateKind != "quiz" {
		return fmt.Errorf("unknown kind %q (want flashcards or quiz)", generateKind)
	}

	cfg := config.Load()
	log := logging.New(cfg.LogLevel, cfg.LogFormat)

	conn, err := db.Open(cfg.Database)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer conn.Close()

	app := buildApp(cfg, conn, log)
	ctx := cmd.Context()

	f, err := os.Open(generateFile)
	if err != nil {
		return err
	}
	doc, err := app.documents.Create(ctx, filepath.Base(generateFile), f)
	f.Close()
	if err != nil {
		return fmt.Errorf("store document: %w", err)
	}

	// Progress goes to the logger so stdout stays pure JSON.
	progress := func(stage, message string, current, total int) {
		log.Info().Str("stage", stage).Int("percent", current).Msg(message)
	}

	req := services.GenerateRequest{
		DocumentID: doc.ID,
		Count:      generateCount,
		Difficulty: models.Difficulty(generateDifficulty),
		StartPage:  generateStartPage,
		EndPage:    generateEndPage,
	}

	out := generateOutput{Success: true, Kind: generateKind, DocumentID: doc.ID}
	switch generateKind {
	case "flashcards":
		res, err := app.generation.GenerateFlashcards(ctx, req, progress)
		if err != nil {
			return err
		}
		out.SetID = res.Set.ID
		out.Title = res.Set.Title
		out.Language = res.Language.Name
		out.Count = len(res.Cards)
		for _, card := range res.Cards {
			out.Cards = append(out.Cards, cardOutput{
				Question:   card.Question,
				Answer:     card.Answer,
				Difficulty: string(card.Difficulty),
				Confidence: card.Confidence,
				PageFrom:   nullInt64(card.PageFrom),
				PageTo:     nullInt64(card.PageTo),
			})
		}
	case "quiz":
		res, err := app.generation.GenerateQuiz(ctx, req, progress)
		if err != nil {
			return err
		}
		out.QuizID = res.Quiz.ID
		out.Title = res.Quiz.Title
		out.Language = res.Language.Name
		out.Count = len(res.Questions)
		for _, q := range res.Questions {
			out.Questions = append(out.Questions, questionOutput{
				Question:     q.Question,
				Options:      q.Options,
				CorrectIndex: q.CorrectIndex,
				Explanation:  q.Explanation.String,
				Confidence:   q.Confidence,
				PageFrom:     nullInt64(q.PageFrom),
				PageTo:       nullInt64(q.PageTo),
			})
		}
	}

	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(data))
	return nil
}

func nullInt64(v sql.NullInt64) int64 {
	if v.Valid {
		return v.Int64
	}
	return 0
}
