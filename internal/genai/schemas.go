package genai

import "encoding/json"

// Function names the model is asked to call.
const (
	SchemaFlashcards  = "save_flashcards"
	SchemaQuiz        = "save_quiz_questions"
	SchemaDistractors = "save_distractors"
)

// Parameter schemas stay raw JSON so vendor clients pass them through
// untouched.
var (
	FlashcardSchema = json.RawMessage(`{
  "type": "object",
  "properties": {
    "flashcards": {
      "type": "array",
      "items": {
        "type": "object",
        "properties": {
          "question": {"type": "string", "description": "A question testing understanding of the source material"},
          "answer": {"type": "string", "description": "The answer, using only facts from the source"},
          "difficulty": {"type": "string", "enum": ["easy", "medium", "hard"]}
        },
        "required": ["question", "answer", "difficulty"]
      }
    }
  },
  "required": ["flashcards"]
}`)

	QuizSchema = json.RawMessage(`{
  "type": "object",
  "properties": {
    "questions": {
      "type": "array",
      "items": {
        "type": "object",
        "properties": {
          "question": {"type": "string", "description": "A multiple-choice question about the source material"},
          "options": {
            "type": "array",
            "items": {"type": "string"},
            "minItems": 4,
            "maxItems": 4,
            "description": "Exactly four answer options, one correct"
          },
          "correctIndex": {"type": "integer", "minimum": 0, "maximum": 3},
          "explanation": {"type": "string", "description": "One sentence explaining the correct answer"}
        },
        "required": ["question", "options", "correctIndex"]
      }
    }
  },
  "required": ["questions"]
}`)

	DistractorSchema = json.RawMessage(`{
  "type": "object",
  "properties": {
    "distractors": {
      "type": "array",
      "items": {"type": "string"},
      "minItems": 3,
      "maxItems": 6,
      "description": "Plausible but wrong answer options"
    }
  },
  "required": ["distractors"]
}`)
)
