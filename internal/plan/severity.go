package plan

import "strings"

// Severity is the five-level crisis scale: none < low < medium < high < critical.
type Severity string

const (
	SeverityNone     Severity = "none"
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

var severityRank = map[Severity]int{
	SeverityNone:     0,
	SeverityLow:      1,
	SeverityMedium:   2,
	SeverityHigh:     3,
	SeverityCritical: 4,
}

// Rank returns the ordinal position of s on the scale. Unknown values rank
// as none.
func (s Severity) Rank() int {
	return severityRank[s]
}

// AtLeast reports whether s is at or above other on the scale.
func (s Severity) AtLeast(other Severity) bool {
	return s.Rank() >= other.Rank()
}

// MaxSeverity returns the higher of a and b.
func MaxSeverity(a, b Severity) Severity {
	if b.Rank() > a.Rank() {
		return b
	}
	return a
}

// ParseSeverity normalizes a severity label. "moderate" is a legacy alias
// for medium; aliased is true when that mapping was applied so callers can
// surface a warning instead of silently rewriting clinical data.
func ParseSeverity(raw string) (sev Severity, aliased bool, ok bool) {
	switch Severity(strings.ToLower(strings.TrimSpace(raw))) {
	case SeverityNone:
		return SeverityNone, false, true
	case SeverityLow:
		return SeverityLow, false, true
	case SeverityMedium:
		return SeverityMedium, false, true
	case "moderate":
		return SeverityMedium, true, true
	case SeverityHigh:
		return SeverityHigh, false, true
	case SeverityCritical:
		return SeverityCritical, false, true
	}
	return SeverityNone, false, false
}
