package genai

import (
	"fmt"
	"strings"

	"studygen/internal/textutil"
)

const (
	flashcardSystemPrompt  = "You are an expert educator who writes study flashcards grounded strictly in provided source material."
	quizSystemPrompt       = "You are an expert educator who writes multiple-choice quiz questions grounded strictly in provided source material."
	distractorSystemPrompt = "You are an expert educator who writes plausible but clearly wrong multiple-choice options."
)

// FlashcardPromptInput describes one flashcard generation batch.
type FlashcardPromptInput struct {
	Source   string
	Language string
	Easy     int
	Medium   int
	Hard     int

	// StrictGrounding is set on the grounding retry, StrictLength on the
	// length-compliance retry.
	StrictGrounding bool
	StrictLength    bool
}

func (in FlashcardPromptInput) total() int {
	return in.Easy + in.Medium + in.Hard
}

// FlashcardPrompt builds the system and user messages for a flashcard
// batch, including the per-difficulty few-shot examples.
func FlashcardPrompt(in FlashcardPromptInput) (system, user string) {
	var b strings.Builder

	b.WriteString("Rules:\n")
	b.WriteString("- Use only facts stated in the SOURCE text. Never invent facts or bring in outside knowledge.\n")
	b.WriteString("- Never ask about the document itself, its title, author, formatting, or page numbers.\n")
	fmt.Fprintf(&b, "- Write every question and answer in %s.\n", in.Language)
	b.WriteString("- Answer length by difficulty: easy answers are 1-12 words in one sentence, medium answers are 13-40 words in up to two sentences, hard answers are 41-250 words in up to six sentences.\n")
	fmt.Fprintf(&b, "- Call %s exactly once with every card.\n", SchemaFlashcards)
	if in.StrictGrounding {
		b.WriteString("- Only include flashcards whose question and answer are directly supported by the SOURCE text, word for word where possible.\n")
	}
	if in.StrictLength {
		b.WriteString("- Strictly follow the answer length rules. Recount the words of every answer before including it.\n")
	}

	b.WriteString("\nExamples of the expected style:\n")
	b.WriteString(`- easy: {"question": "What molecule carries energy in cells?", "answer": "ATP.", "difficulty": "easy"}` + "\n")
	b.WriteString(`- medium: {"question": "How does the cell membrane control what enters the cell?", "answer": "The membrane is selectively permeable, letting small molecules diffuse through while transport proteins move larger ones.", "difficulty": "medium"}` + "\n")
	b.WriteString(`- hard: {"question": "Explain how the electron transport chain drives ATP synthesis.", "answer": "Electrons from NADH and FADH2 pass along carrier complexes in the inner membrane, releasing energy that pumps protons into the intermembrane space. The resulting gradient drives protons back through ATP synthase, which phosphorylates ADP. Oxygen accepts the spent electrons, forming water and keeping the chain flowing.", "difficulty": "hard"}` + "\n")

	fmt.Fprintf(&b, "\nCreate exactly %d flashcards: %d easy, %d medium, %d hard.\n", in.total(), in.Easy, in.Medium, in.Hard)
	b.WriteString("\nSOURCE:\n")
	b.WriteString(in.Source)

	return flashcardSystemPrompt, b.String()
}

// QuizPromptInput describes one quiz generation batch.
type QuizPromptInput struct {
	Source          string
	Language        string
	Count           int
	StrictGrounding bool
}

// QuizPrompt builds the system and user messages for a quiz batch.
func QuizPrompt(in QuizPromptInput) (system, user string) {
	var b strings.Builder

	b.WriteString("Rules:\n")
	b.WriteString("- Use only facts stated in the SOURCE text. Never invent facts or bring in outside knowledge.\n")
	b.WriteString("- Never ask about the document itself, its title, author, formatting, or page numbers.\n")
	fmt.Fprintf(&b, "- Write every question, option, and explanation in %s.\n", in.Language)
	b.WriteString("- Each question has exactly four options with exactly one correct answer.\n")
	b.WriteString("- Wrong options must be plausible: same topic, same style, same rough length as the correct one.\n")
	b.WriteString("- Set correctIndex to the zero-based position of the correct option.\n")
	fmt.Fprintf(&b, "- Call %s exactly once with every question.\n", SchemaQuiz)
	if in.StrictGrounding {
		b.WriteString("- Only include questions whose correct answer is directly supported by the SOURCE text, word for word where possible.\n")
	}

	fmt.Fprintf(&b, "\nCreate exactly %d quiz questions.\n", in.Count)
	b.WriteString("\nSOURCE:\n")
	b.WriteString(in.Source)

	return quizSystemPrompt, b.String()
}

// DistractorPromptInput asks for wrong options for one known question.
type DistractorPromptInput struct {
	Source        string
	Language      string
	Question      string
	CorrectAnswer string
	Count         int
}

// DistractorPrompt builds the system and user messages for the distractor
// fallback call.
func DistractorPrompt(in DistractorPromptInput) (system, user string) {
	var b strings.Builder

	b.WriteString("Rules:\n")
	b.WriteString("- Every option must be clearly wrong given the SOURCE text, but believable to someone who skimmed it.\n")
	b.WriteString("- Match the style and rough length of the correct answer.\n")
	b.WriteString("- Never produce a synonym, paraphrase, or partial copy of the correct answer.\n")
	fmt.Fprintf(&b, "- Write every option in %s.\n", in.Language)
	fmt.Fprintf(&b, "- Call %s exactly once.\n", SchemaDistractors)

	fmt.Fprintf(&b, "\nQuestion: %s\n", textutil.Sanitize(in.Question, 300))
	fmt.Fprintf(&b, "Correct answer: %s\n", textutil.Sanitize(in.CorrectAnswer, 300))
	fmt.Fprintf(&b, "\nProvide %d wrong options.\n", in.Count)
	b.WriteString("\nSOURCE:\n")
	b.WriteString(in.Source)

	return distractorSystemPrompt, b.String()
}
