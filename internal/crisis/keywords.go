package crisis

import (
	"strings"

	"github.com/halcyon-health/tapestry/internal/plan"
)

// crisisPhrases maps indicator categories to the phrases that trigger the
// fast pre-check. Matching is case-insensitive substring matching and errs
// toward false positives; a match raises the severity floor, never lowers it.
var crisisPhrases = map[string][]string{
	"suicidal": {
		"kill myself",
		"suicide",
		"suicidal",
		"end my life",
		"end it all",
		"take my own life",
		"want to die",
		"don't want to live",
		"better off dead",
		"no reason to live",
	},
	"self_harm": {
		"hurt myself",
		"cut myself",
		"cutting myself",
		"self-harm",
		"self harm",
		"burn myself",
	},
	"violence": {
		"kill him",
		"kill her",
		"kill them",
		"hurt him",
		"hurt her",
		"hurt them",
		"hurt someone",
		"make them pay",
	},
	"psychosis": {
		"hearing voices",
		"voices telling me",
		"voices tell me",
		"they're watching me",
		"they are watching me",
		"people following me",
	},
	"emergency": {
		"pills ready",
		"have the pills",
		"took the pills",
		"overdose",
		"loaded gun",
		"have a gun",
		"wrote a note",
		"goodbye letter",
	},
}

// categorySeverity maps a matched category to its suggested severity.
var categorySeverity = map[string]plan.Severity{
	"suicidal":  plan.SeverityHigh,
	"self_harm": plan.SeverityMedium,
	"violence":  plan.SeverityHigh,
	"psychosis": plan.SeverityMedium,
	"emergency": plan.SeverityCritical,
}

// KeywordResult is the output of the pre-check phase.
type KeywordResult struct {
	Matched           bool
	Categories        []string
	MatchedPhrases    []string
	SuggestedSeverity plan.Severity
}

// categoryOrder fixes the scan order so matched categories and phrases come
// out stable across runs.
var categoryOrder = []string{"suicidal", "self_harm", "violence", "psychosis", "emergency"}

// CheckKeywords scans text for categorized crisis phrases.
func CheckKeywords(text string) KeywordResult {
	lower := strings.ToLower(text)
	result := KeywordResult{SuggestedSeverity: plan.SeverityNone}

	for _, category := range categoryOrder {
		matched := false
		for _, phrase := range crisisPhrases[category] {
			if strings.Contains(lower, phrase) {
				result.MatchedPhrases = append(result.MatchedPhrases, phrase)
				matched = true
			}
		}
		if matched {
			result.Matched = true
			result.Categories = append(result.Categories, category)
			result.SuggestedSeverity = plan.MaxSeverity(result.SuggestedSeverity, categorySeverity[category])
		}
	}

	return result
}

// HasKeywords reports whether any crisis phrase appears in text.
func HasKeywords(text string) bool {
	return CheckKeywords(text).Matched
}
