package preprocess

import (
	"math"
	"strings"

	"github.com/halcyon-health/tapestry/internal/crisis"
)

// Metadata holds the lightweight heuristics computed over a cleaned
// transcript. These inform prompting and triage, not clinical judgment.
type Metadata struct {
	WordCount            int     `json:"word_count"`
	EstimatedDurationMin float64 `json:"estimated_duration_min"`
	TopicDensity         float64 `json:"topic_density"`
	EmotionalIntensity   float64 `json:"emotional_intensity"`
	HasCrisisKeywords    bool    `json:"has_crisis_keywords"`
}

// spokenWordsPerMinute is the assumed conversational rate.
const spokenWordsPerMinute = 150.0

var fillerWords = map[string]bool{
	"um": true, "uh": true, "like": true, "yeah": true, "okay": true,
	"ok": true, "hmm": true, "mhm": true, "right": true, "so": true,
	"well": true, "know": true, "just": true, "really": true,
}

// emotionWeights scores emotionally charged vocabulary. Heavier weights for
// acute distress language.
var emotionWeights = map[string]float64{
	"sad": 1, "angry": 2, "mad": 1.5, "upset": 1.5, "scared": 2,
	"afraid": 2, "anxious": 2, "worried": 1.5, "stressed": 1.5,
	"overwhelmed": 2.5, "hopeless": 3, "worthless": 3, "helpless": 2.5,
	"terrified": 3, "panic": 2.5, "crying": 2, "cried": 2, "furious": 2.5,
	"devastated": 3, "numb": 2, "empty": 2, "alone": 1.5, "lonely": 1.5,
	"exhausted": 1.5, "trapped": 2.5, "desperate": 3, "ashamed": 2,
	"guilty": 1.5, "hate": 2, "hurt": 1.5, "pain": 1.5, "suffering": 2.5,
}

func analyze(clean string) Metadata {
	words := strings.Fields(clean)
	meta := Metadata{
		WordCount:         len(words),
		HasCrisisKeywords: crisis.HasKeywords(clean),
	}
	if len(words) == 0 {
		return meta
	}

	meta.EstimatedDurationMin = float64(len(words)) / spokenWordsPerMinute
	meta.TopicDensity = topicDensity(clean)

	var raw float64
	for _, w := range words {
		w = strings.ToLower(strings.Trim(w, ".,!?;:'\"()"))
		if weight, ok := emotionWeights[w]; ok {
			raw += weight
		}
	}
	// Log scaling keeps long transcripts from dominating by sheer length.
	meta.EmotionalIntensity = raw / math.Log(float64(len(words))+math.E)
	if meta.EmotionalIntensity > 10 {
		meta.EmotionalIntensity = 10
	}

	return meta
}

// topicDensity is the fraction of sentences that carry content: longer than
// five words and not mostly filler.
func topicDensity(text string) float64 {
	sentences := splitSentences(text)
	if len(sentences) == 0 {
		return 0
	}

	meaningful := 0
	for _, s := range sentences {
		words := strings.Fields(s)
		if len(words) <= 5 {
			continue
		}
		filler := 0
		for _, w := range words {
			if fillerWords[strings.ToLower(strings.Trim(w, ".,!?;:'\""))] {
				filler++
			}
		}
		if float64(filler)/float64(len(words)) < 0.5 {
			meaningful++
		}
	}
	return float64(meaningful) / float64(len(sentences))
}

func splitSentences(text string) []string {
	var out []string
	var sb strings.Builder
	for _, r := range text {
		sb.WriteRune(r)
		if r == '.' || r == '!' || r == '?' {
			if s := strings.TrimSpace(sb.String()); s != "" && s != "." && s != "!" && s != "?" {
				out = append(out, s)
			}
			sb.Reset()
		}
	}
	if s := strings.TrimSpace(sb.String()); s != "" {
		out = append(out, s)
	}
	return out
}
