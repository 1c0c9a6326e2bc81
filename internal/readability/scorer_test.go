package readability

import "testing"

func TestCountSyllables(t *testing.T) {
	tests := []struct {
		word string
		want int
	}{
		{"cat", 1},
		{"hello", 2},
		{"beautiful", 3},
		{"the", 1},
		{"make", 1},   // silent e
		{"little", 2}, // consonant+le keeps the syllable
		{"jumped", 1},
		{"wanted", 2}, // -ted keeps the syllable
		{"people", 2}, // irregular table
		{"anxiety", 4},
		{"a", 1},
		{"", 0},
		{"123", 0}, // no letters, no syllables
	}

	for _, tt := range tests {
		if got := CountSyllables(tt.word); got != tt.want {
			t.Errorf("CountSyllables(%q) = %d, want %d", tt.word, got, tt.want)
		}
	}
}

func TestAnalyzeSimpleText(t *testing.T) {
	// Short words, short sentences: early grade school territory.
	text := "The cat sat on the mat. The dog ran to the park. We had fun all day."
	score := Analyze(text)

	if score.Sentences != 3 {
		t.Errorf("expected 3 sentences, got %d", score.Sentences)
	}
	if score.Words != 17 {
		t.Errorf("expected 17 words, got %d", score.Words)
	}
	if score.GradeLevel > 4 {
		t.Errorf("expected low grade level for simple text, got %.1f", score.GradeLevel)
	}
	if score.EaseScore < 80 {
		t.Errorf("expected high ease score for simple text, got %.1f", score.EaseScore)
	}
}

func TestAnalyzeComplexText(t *testing.T) {
	text := "Comprehensive psychoeducational interventions necessitate considerable " +
		"interdisciplinary collaboration regarding neuropsychological assessment methodologies."
	score := Analyze(text)

	if score.GradeLevel < 12 {
		t.Errorf("expected college-level grade for clinical jargon, got %.1f", score.GradeLevel)
	}
}

func TestAnalyzeDeterministic(t *testing.T) {
	text := "Practice deep breathing twice a day. Write down one worry each night."
	first := Analyze(text)
	for i := 0; i < 5; i++ {
		if got := Analyze(text); got != first {
			t.Fatalf("Analyze is not deterministic: %+v vs %+v", got, first)
		}
	}
}

func TestAnalyzeEmptyInput(t *testing.T) {
	score := Analyze("")
	if score.Words != 0 || score.GradeLevel != 0 {
		t.Errorf("expected zero score for empty text, got %+v", score)
	}
}

func TestValidatePassAndFail(t *testing.T) {
	simple := "You did well today. Keep going. Try to rest more this week."
	v := Validate(simple, 6, 8)
	if !v.Passes {
		t.Errorf("expected simple text to pass, issues: %v", v.Issues)
	}

	complex := "Psychopharmacological considerations notwithstanding, comprehensive " +
		"neuropsychological rehabilitation methodologies demonstrate considerable " +
		"interdisciplinary epistemological complications throughout contemporary " +
		"psychotherapeutic administration frameworks."
	v = Validate(complex, 6, 8)
	if v.Passes {
		t.Error("expected clinical jargon to fail validation")
	}
	if len(v.Issues) == 0 {
		t.Error("expected issues for failing text")
	}
	if len(v.Suggestions) == 0 {
		t.Error("expected suggestions for failing text")
	}
}
