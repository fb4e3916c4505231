// Package analyzer scores prompt text with cheap local heuristics.
//
// The scores are advisory only. They are computed from surface features of
// the text (length, keywords, punctuation) and never call out to a model.
package analyzer

import (
	"math"
	"regexp"
	"strings"

	"github.com/manash/promptbridge/pkg/models"
)

// MinLength is the trimmed length a text must exceed before it is analyzed.
const MinLength = 10

const (
	SuggestDetail    = "Add more detail to your request"
	SuggestConstrain = "Specify constraints or requirements"
	SuggestStructure = "Use bullet points or numbered lists for clarity"
	SuggestContext   = "Provide more context about what you need"
	SuggestOrganize  = "Consider organizing your request with sections or lists"
)

var (
	constraintPattern = regexp.MustCompile(`(?i)constraint|requirement|must|should|need|limit|only|avoid|don't|do not`)
	numberedPattern   = regexp.MustCompile(`\d\.`)
)

// Analyze computes the heuristic analysis for text. It never fails; empty
// text yields zero clarity and the full set of applicable suggestions.
func Analyze(text string) models.Analysis {
	words := len(strings.Fields(text))

	hasQuestion := strings.Contains(text, "?")
	hasConstraints := constraintPattern.MatchString(text)
	hasContext := words > 20
	hasStructure := strings.ContainsAny(text, "\n-") || numberedPattern.MatchString(text)

	clarity := math.Min(100, float64(words)/50*100)

	specificity := 0.0
	if hasQuestion {
		specificity += 20
	}
	if hasConstraints {
		specificity += 30
	}
	if hasContext {
		specificity += 30
	}
	if words > 50 {
		specificity += 20
	}
	specificity = math.Min(100, specificity)

	structure := 40.0
	if hasStructure {
		structure = 80
	}

	completeness := math.Round((clarity + specificity + structure) / 3)

	suggestions := []string{}
	if clarity < 50 {
		suggestions = append(suggestions, SuggestDetail)
	}
	if !hasConstraints {
		suggestions = append(suggestions, SuggestConstrain)
	}
	if !hasStructure {
		suggestions = append(suggestions, SuggestStructure)
	}
	if words < 10 {
		suggestions = append(suggestions, SuggestContext)
	}
	if words > 200 && !hasStructure {
		suggestions = append(suggestions, SuggestOrganize)
	}

	return models.Analysis{
		Clarity:      clarity,
		Specificity:  specificity,
		Structure:    structure,
		Completeness: completeness,
		Suggestions:  suggestions,
	}
}

// ShouldAnalyze reports whether text is long enough to be worth analyzing.
func ShouldAnalyze(text string) bool {
	return len(strings.TrimSpace(text)) > MinLength
}
