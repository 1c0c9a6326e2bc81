package readability

import "fmt"

// Validation reports whether a text meets the configured readability targets.
type Validation struct {
	Passes      bool     `json:"passes"`
	Score       Score    `json:"score"`
	Issues      []string `json:"issues,omitempty"`
	Suggestions []string `json:"suggestions,omitempty"`
}

const (
	maxAvgSentenceLength = 20.0
	maxComplexWordPct    = 15.0
	minEaseScore         = 60.0
)

// Validate scores text against a target and maximum grade level. The result
// passes when the grade is at or below max; the target drives suggestions
// only.
func Validate(text string, targetGrade, maxGrade float64) Validation {
	score := Analyze(text)
	v := Validation{Score: score, Passes: true}

	if score.Words == 0 {
		return v
	}

	if score.GradeLevel > maxGrade {
		v.Passes = false
		v.Issues = append(v.Issues, fmt.Sprintf("grade level %.1f exceeds maximum %.1f", score.GradeLevel, maxGrade))
	}

	avgSentence := float64(score.Words) / float64(score.Sentences)
	if avgSentence > maxAvgSentenceLength {
		v.Issues = append(v.Issues, fmt.Sprintf("average sentence length %.1f words exceeds %d", avgSentence, int(maxAvgSentenceLength)))
		v.Suggestions = append(v.Suggestions, "break long sentences into shorter ones")
	}

	complexPct := 100 * float64(score.ComplexWords) / float64(score.Words)
	if complexPct > maxComplexWordPct {
		v.Issues = append(v.Issues, fmt.Sprintf("%.0f%% of words have three or more syllables", complexPct))
		v.Suggestions = append(v.Suggestions, "replace long words with everyday alternatives")
	}

	if score.EaseScore < minEaseScore {
		v.Issues = append(v.Issues, fmt.Sprintf("reading ease %.0f is below %d", score.EaseScore, int(minEaseScore)))
	}

	if score.GradeLevel > targetGrade && score.GradeLevel <= maxGrade {
		v.Suggestions = append(v.Suggestions, fmt.Sprintf("text is readable but above the %.0f grade target", targetGrade))
	}

	return v
}
