// Package lang guesses the language of extracted text so prompts can ask
// the model to answer in kind. It is a stopword-frequency heuristic, good
// enough for a prompt instruction and nothing more.
package lang

import (
	"strings"

	"studygen/internal/textutil"
)

// Result is a best-guess language. Confidence is the share of stopword
// hits belonging to the winning language, zero when nothing matched.
type Result struct {
	Code       string
	Name       string
	Confidence float64
}

// Detector classifies text into one of the supported languages. It never
// fails; unknown input falls back to English with zero confidence.
type Detector interface {
	Detect(text string) Result
}

type profile struct {
	code  string
	name  string
	words map[string]struct{}
}

func newProfile(code, name, words string) profile {
	return profile{code: code, name: name, words: textutil.Set(strings.Fields(words))}
}

// Function words only. Accented forms are kept because tokenization
// preserves them.
var profiles = []profile{
	newProfile("en", "English",
		"the and of to in is you that it for on with as are this be was have not at by from or an which"),
	newProfile("es", "Spanish",
		"el la los las de que y en un una por con para es su al lo como más pero sus le ya o este"),
	newProfile("fr", "French",
		"le la les de des un une et est en que qui dans pour ce il au sur avec ne pas plus par mais ses"),
	newProfile("de", "German",
		"der die das und ist in den dem von zu mit sich des auf für ein eine als auch es an werden aus er"),
	newProfile("pt", "Portuguese",
		"o os as de do da em um uma e para com não por mais dos como mas foi ele das tem à seu sua ou ser"),
	newProfile("it", "Italian",
		"il lo la gli le di che e è un una per con del della si da nel anche sono come dei non più nella"),
}

// StopwordDetector is the default Detector implementation.
type StopwordDetector struct{}

func NewDetector() StopwordDetector {
	return StopwordDetector{}
}

// Detect counts whole-word stopword matches per language and picks the
// highest. Ties go to the earlier profile, which keeps English the
// default for ambiguous input.
func (StopwordDetector) Detect(text string) Result {
	tokens := textutil.Tokenize(text)

	counts := make([]int, len(profiles))
	total := 0
	for _, tok := range tokens {
		for i, p := range profiles {
			if _, ok := p.words[tok]; ok {
				counts[i]++
				total++
			}
		}
	}

	if total == 0 {
		return Result{Code: "en", Name: "English", Confidence: 0}
	}

	best := 0
	for i, c := range counts {
		if c > counts[best] {
			best = i
		}
	}
	return Result{
		Code:       profiles[best].code,
		Name:       profiles[best].name,
		Confidence: float64(counts[best]) / float64(total),
	}
}
