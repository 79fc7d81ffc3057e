// Package genai is the pipeline's port to a generative model. The
// pipeline only ever sees structured JSON matching a schema it supplied;
// vendor envelopes stay behind the Client interface.
package genai

import (
	"context"
	"encoding/json"
	"fmt"
)

// Request is a single structured-output generation call.
type Request struct {
	System      string
	User        string
	SchemaName  string
	Schema      json.RawMessage
	Temperature float32
	MaxTokens   int
}

// Client turns a prompt plus schema into JSON matching that schema.
// Implementations are stateless; every call stands alone.
type Client interface {
	GenerateStructured(ctx context.Context, req Request) (json.RawMessage, error)
}

// Generation error codes.
const (
	CodeUnavailable        = "unavailable"
	CodeRequestFailed      = "request_failed"
	CodeNoStructuredOutput = "no_structured_output"
	CodeBadJSON            = "bad_json"
)

// GenerationError is one failed generation attempt. The grounding loop
// decides whether an attempt is retried; this layer never retries.
type GenerationError struct {
	Code    string
	Message string
	Err     error
}

func (e *GenerationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("generation %s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("generation %s: %s", e.Code, e.Message)
}

func (e *GenerationError) Unwrap() error { return e.Err }

// FlashcardDraft is untrusted model output, nothing more. Validation and
// grounding happen downstream.
type FlashcardDraft struct {
	Question   string `json:"question"`
	Answer     string `json:"answer"`
	Difficulty string `json:"difficulty"`
}

// QuizDraft is an untrusted quiz question from the model.
type QuizDraft struct {
	Question     string   `json:"question"`
	Options      []string `json:"options"`
	CorrectIndex int      `json:"correctIndex"`
	Explanation  string   `json:"explanation"`
}

// ParseFlashcards decodes a flashcard payload.
func ParseFlashcards(raw json.RawMessage) ([]FlashcardDraft, error) {
	var payload struct {
		Flashcards []FlashcardDraft `json:"flashcards"`
	}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, &GenerationError{Code: CodeBadJSON, Message: "decode flashcard payload", Err: err}
	}
	return payload.Flashcards, nil
}

// ParseQuizQuestions decodes a quiz payload.
func ParseQuizQuestions(raw json.RawMessage) ([]QuizDraft, error) {
	var payload struct {
		Questions []QuizDraft `json:"questions"`
	}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, &GenerationError{Code: CodeBadJSON, Message: "decode quiz payload", Err: err}
	}
	return payload.Questions, nil
}

// ParseDistractors decodes a distractor payload.
func ParseDistractors(raw json.RawMessage) ([]string, error) {
	var payload struct {
		Distractors []string `json:"distractors"`
	}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, &GenerationError{Code: CodeBadJSON, Message: "decode distractor payload", Err: err}
	}
	return payload.Distractors, nil
}
