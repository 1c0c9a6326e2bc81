// Package readability implements Flesch–Kincaid scoring used as the
// post-condition gate on client-facing text. Syllable counting is heuristic;
// callers must tolerate roughly one grade level of error.
package readability

import (
	"strings"
	"unicode"
)

// Score holds the metrics for one text.
type Score struct {
	GradeLevel   float64 `json:"grade_level"`
	EaseScore    float64 `json:"ease_score"`
	Words        int     `json:"words"`
	Sentences    int     `json:"sentences"`
	Syllables    int     `json:"syllables"`
	ComplexWords int     `json:"complex_words"` // 3+ syllables
}

// Analyze computes Flesch–Kincaid grade level and reading ease.
func Analyze(text string) Score {
	words := splitWords(text)
	sentences := countSentences(text)
	if sentences == 0 {
		sentences = 1
	}

	var syllables, complex int
	for _, w := range words {
		n := CountSyllables(w)
		syllables += n
		if n >= 3 {
			complex++
		}
	}

	s := Score{
		Words:        len(words),
		Sentences:    sentences,
		Syllables:    syllables,
		ComplexWords: complex,
	}
	if len(words) == 0 {
		return s
	}

	wordsPerSentence := float64(len(words)) / float64(sentences)
	syllablesPerWord := float64(syllables) / float64(len(words))

	s.GradeLevel = 0.39*wordsPerSentence + 11.8*syllablesPerWord - 15.59
	if s.GradeLevel < 0 {
		s.GradeLevel = 0
	}
	s.EaseScore = 206.835 - 1.015*wordsPerSentence - 84.6*syllablesPerWord
	return s
}

// irregulars covers common words the vowel-group heuristic gets wrong.
var irregulars = map[string]int{
	"people":    2,
	"anxious":   2,
	"anxiety":   4,
	"being":     2,
	"every":     2,
	"different": 3,
	"exercise":  3,
	"medicine":  3,
	"quiet":     2,
	"idea":      3,
	"area":      3,
	"create":    2,
	"really":    2,
	"business":  2,
	"evening":   2,
	"science":   2,
}

// CountSyllables estimates the syllable count of a single word by counting
// vowel groups with silent-e and common suffix adjustments.
func CountSyllables(word string) int {
	w := strings.ToLower(strings.TrimFunc(word, func(r rune) bool {
		return !unicode.IsLetter(r)
	}))
	if w == "" {
		return 0
	}
	if n, ok := irregulars[w]; ok {
		return n
	}

	count := 0
	prevVowel := false
	for _, r := range w {
		v := isVowel(r)
		if v && !prevVowel {
			count++
		}
		prevVowel = v
	}

	// Silent trailing e, except consonant+le ("little", "able").
	if strings.HasSuffix(w, "e") && !strings.HasSuffix(w, "le") && count > 1 {
		count--
	}
	// "-es"/"-ed" after a consonant cluster usually add no syllable.
	if (strings.HasSuffix(w, "es") || strings.HasSuffix(w, "ed")) && count > 1 {
		if len(w) > 2 && !isVowel(rune(w[len(w)-3])) && w[len(w)-3] != 't' && w[len(w)-3] != 'd' {
			count--
		}
	}

	if count < 1 {
		count = 1
	}
	return count
}

func isVowel(r rune) bool {
	switch r {
	case 'a', 'e', 'i', 'o', 'u', 'y':
		return true
	}
	return false
}

func splitWords(text string) []string {
	return strings.FieldsFunc(text, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '\'' && r != '-'
	})
}

func countSentences(text string) int {
	count := 0
	inTerminator := false
	for _, r := range text {
		switch r {
		case '.', '!', '?':
			if !inTerminator {
				count++
			}
			inTerminator = true
		default:
			if !unicode.IsSpace(r) {
				inTerminator = false
			}
		}
	}
	if count == 0 && strings.TrimSpace(text) != "" {
		count = 1
	}
	return count
}
