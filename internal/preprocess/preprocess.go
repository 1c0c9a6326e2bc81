// Package preprocess cleans raw session transcripts, segments them into
// speaker turns, and chunks them for downstream prompting. It is best-effort
// by contract: malformed input degrades, it never errors.
package preprocess

import (
	"regexp"
	"strings"
)

const (
	SpeakerTherapist = "Therapist"
	SpeakerClient    = "Client"
	SpeakerOther     = "Other"
)

// Turn is one contiguous utterance by a single speaker.
type Turn struct {
	Speaker string `json:"speaker"`
	Text    string `json:"text"`
}

// Chunk is a slice of the cleaned transcript sized for one model prompt.
// Text includes OverlapChars characters duplicated from the previous chunk;
// concatenating Text[OverlapChars:] across all chunks reproduces the cleaned
// transcript exactly.
type Chunk struct {
	Index        int    `json:"index"`
	Text         string `json:"text"`
	OverlapChars int    `json:"overlap_chars"`
}

// Result is the full preprocessing output.
type Result struct {
	CleanText string   `json:"clean_text"`
	Turns     []Turn   `json:"turns"`
	Chunks    []Chunk  `json:"chunks"`
	Meta      Metadata `json:"metadata"`
}

var (
	// [00:12:34], (12:34), [00:12] — bracketed timestamps anywhere.
	bracketTimestampRe = regexp.MustCompile(`[\[(]\d{1,2}:\d{2}(:\d{2})?[\])]`)
	// Bare timestamps at line start, e.g. "12:34 " or "00:12:34 - ".
	leadingTimestampRe = regexp.MustCompile(`^\d{1,2}:\d{2}(:\d{2})?\s*[-–]?\s*`)

	therapistLabelRe = regexp.MustCompile(`(?i)^(therapist|counselor|counsellor|clinician|thera?|t|dr\.?\s?[a-z]*)\s*[:\-—]\s*`)
	clientLabelRe    = regexp.MustCompile(`(?i)^(client|patient|cl|c)\s*[:\-—]\s*`)
	otherLabelRe     = regexp.MustCompile(`^[A-Za-z][A-Za-z .']{0,30}:\s*`)

	multiBlankRe = regexp.MustCompile(`\n{3,}`)
	trailingWSRe = regexp.MustCompile(`[ \t]+\n`)
)

// Process cleans and chunks a raw transcript. maxChunkChars bounds each
// chunk; overlapChars is the target overlap seeded into each chunk after the
// first.
func Process(raw string, maxChunkChars, overlapChars int) Result {
	if maxChunkChars <= 0 {
		maxChunkChars = 12_000
	}
	if overlapChars < 0 || overlapChars >= maxChunkChars/2 {
		overlapChars = maxChunkChars / 20
	}

	clean := Clean(raw)
	turns := SplitTurns(clean)

	return Result{
		CleanText: clean,
		Turns:     turns,
		Chunks:    split(clean, maxChunkChars, overlapChars),
		Meta:      analyze(clean),
	}
}

// Clean normalizes line endings and whitespace, strips timestamp artifacts,
// and rewrites speaker-label variants to canonical form.
func Clean(raw string) string {
	s := strings.ReplaceAll(raw, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")
	s = strings.ReplaceAll(s, " ", " ")

	lines := strings.Split(s, "\n")
	for i, line := range lines {
		line = bracketTimestampRe.ReplaceAllString(line, "")
		line = leadingTimestampRe.ReplaceAllString(strings.TrimSpace(line), "")
		line = normalizeSpeakerLabel(line)
		lines[i] = strings.TrimRight(line, " \t")
	}
	s = strings.Join(lines, "\n")

	s = trailingWSRe.ReplaceAllString(s, "\n")
	s = multiBlankRe.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}

func normalizeSpeakerLabel(line string) string {
	if m := therapistLabelRe.FindString(line); m != "" {
		return SpeakerTherapist + ": " + strings.TrimSpace(line[len(m):])
	}
	if m := clientLabelRe.FindString(line); m != "" {
		return SpeakerClient + ": " + strings.TrimSpace(line[len(m):])
	}
	if m := otherLabelRe.FindString(line); m != "" {
		return SpeakerOther + ": " + strings.TrimSpace(line[len(m):])
	}
	return line
}

// SplitTurns segments cleaned text into speaker turns. Unlabeled leading
// text is attributed to Other.
func SplitTurns(clean string) []Turn {
	var turns []Turn
	current := Turn{}

	flush := func() {
		current.Text = strings.TrimSpace(current.Text)
		if current.Text != "" {
			if current.Speaker == "" {
				current.Speaker = SpeakerOther
			}
			turns = append(turns, current)
		}
		current = Turn{}
	}

	for _, line := range strings.Split(clean, "\n") {
		speaker, rest, ok := splitLabel(line)
		if ok {
			flush()
			current.Speaker = speaker
			current.Text = rest
			continue
		}
		if current.Text != "" {
			current.Text += " "
		}
		current.Text += strings.TrimSpace(line)
	}
	flush()
	return turns
}

func splitLabel(line string) (speaker, rest string, ok bool) {
	for _, s := range []string{SpeakerTherapist, SpeakerClient, SpeakerOther} {
		prefix := s + ": "
		if strings.HasPrefix(line, prefix) {
			return s, strings.TrimSpace(line[len(prefix):]), true
		}
		if line == s+":" {
			return s, "", true
		}
	}
	return "", "", false
}

// split cuts clean into chunks at most maxChars long (excluding overlap),
// preferring sentence boundaries, then speaker-turn boundaries, then word
// boundaries for both the cut point and the overlap window.
func split(clean string, maxChars, overlap int) []Chunk {
	if clean == "" {
		return []Chunk{{Index: 0, Text: ""}}
	}
	if len(clean) <= maxChars {
		return []Chunk{{Index: 0, Text: clean}}
	}

	var chunks []Chunk
	pos := 0
	for pos < len(clean) {
		end := pos + maxChars
		if end >= len(clean) {
			end = len(clean)
		} else {
			end = findCut(clean, pos, end)
		}

		prefix := ""
		if pos > 0 {
			prefix = overlapWindow(clean, pos, overlap)
		}

		chunks = append(chunks, Chunk{
			Index:        len(chunks),
			Text:         prefix + clean[pos:end],
			OverlapChars: len(prefix),
		})
		pos = end
	}
	return chunks
}

// findCut picks a cut point in (start, limit], preferring the latest
// sentence end past the window midpoint, then a newline, then a space.
func findCut(text string, start, limit int) int {
	window := text[start:limit]
	mid := len(window) / 2

	if i := lastSentenceEnd(window); i > mid {
		return start + i
	}
	if i := strings.LastIndexByte(window, '\n'); i > mid {
		return start + i + 1
	}
	if i := strings.LastIndexByte(window, ' '); i > mid {
		return start + i + 1
	}
	return limit
}

// lastSentenceEnd returns the index just past the last sentence terminator
// that is followed by whitespace, or -1.
func lastSentenceEnd(s string) int {
	for i := len(s) - 1; i > 0; i-- {
		switch s[i] {
		case '.', '!', '?':
			if i+1 < len(s) && (s[i+1] == ' ' || s[i+1] == '\n') {
				return i + 1
			}
		}
	}
	return -1
}

// overlapWindow returns the overlap prefix ending at pos, opened at a
// sentence boundary, then a turn boundary, then a word boundary.
func overlapWindow(text string, pos, overlap int) string {
	start := pos - overlap
	if start <= 0 {
		return text[:pos]
	}
	window := text[start:pos]

	if i := lastSentenceEnd(window[:len(window)/2+1]); i > 0 {
		return strings.TrimLeft(window[i:], " \n")
	}
	if i := strings.IndexByte(window, '\n'); i >= 0 && i < len(window)/2 {
		return window[i+1:]
	}
	if i := strings.IndexByte(window, ' '); i >= 0 {
		return window[i+1:]
	}
	return window
}
