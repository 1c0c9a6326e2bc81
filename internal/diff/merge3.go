package diff

import (
	"encoding/json"
	"fmt"
	"reflect"

	"github.com/halcyon-health/tapestry/internal/plan"
)

// Conflict records a field where current and incoming both diverged from
// base in different ways. The default resolution keeps current; a clinician
// can override later with all three values in hand.
type Conflict struct {
	Section     string          `json:"section"`
	EntityID    string          `json:"entity_id,omitempty"`
	Field       string          `json:"field"`
	Base        json.RawMessage `json:"base"`
	Current     json.RawMessage `json:"current"`
	Incoming    json.RawMessage `json:"incoming"`
	Resolution  string          `json:"resolution"` // always "current" until overridden
	Description string          `json:"description"`
}

// MergeOutcome is the result of a three-way merge.
type MergeOutcome struct {
	Plan      *plan.CanonicalPlan `json:"plan"`
	Conflicts []Conflict          `json:"conflicts,omitempty"`
}

// ThreeWay reconciles two plans that diverged from a common base. Within an
// entity, fields changed on only one side merge cleanly; fields changed on
// both sides to different values conflict and keep current.
func ThreeWay(base, current, incoming *plan.CanonicalPlan) (*MergeOutcome, error) {
	baseMap := toMap(base)
	curMap := toMap(current)
	incMap := toMap(incoming)

	merged := map[string]any{}
	var conflicts []Conflict

	for _, section := range entitySections {
		items, sectionConflicts := mergeEntitySection(
			section,
			asEntityList(baseMap[section]),
			asEntityList(curMap[section]),
			asEntityList(incMap[section]),
		)
		merged[section] = toAnyList(items)
		conflicts = append(conflicts, sectionConflicts...)
	}

	// Scalar sections use the same base/current/incoming field rule.
	crisis, crisisConflicts := mergeFields("crisis_assessment", "",
		asFieldMap(baseMap["crisis_assessment"]),
		asFieldMap(curMap["crisis_assessment"]),
		asFieldMap(incMap["crisis_assessment"]),
	)
	merged["crisis_assessment"] = crisis
	conflicts = append(conflicts, crisisConflicts...)

	merged["session_ids"] = unionStrings(curMap["session_ids"], incMap["session_ids"])

	// Identity and lineage come from current; version assignment belongs to
	// the persistence boundary.
	for _, key := range []string{"id", "client_id", "version", "created_at", "updated_at"} {
		merged[key] = curMap[key]
	}

	mergedPlan, err := fromMap(merged)
	if err != nil {
		return nil, fmt.Errorf("assemble merged plan: %w", err)
	}
	return &MergeOutcome{Plan: mergedPlan, Conflicts: conflicts}, nil
}

func mergeEntitySection(section string, base, current, incoming []map[string]any) ([]map[string]any, []Conflict) {
	baseByID := indexByID(base)
	curByID := indexByID(current)
	incByID := indexByID(incoming)

	var out []map[string]any
	var conflicts []Conflict

	// Current order first, then incoming-only additions.
	for _, cur := range current {
		id := entityID(cur)
		inc, inInc := incByID[id]
		b, inBase := baseByID[id]

		switch {
		case !inInc && !inBase:
			// New in current only.
			out = append(out, cur)
		case !inInc && inBase:
			// Incoming deleted it. Honor the deletion when current left it
			// untouched; otherwise keep current and flag the disagreement.
			if reflect.DeepEqual(b, cur) {
				continue
			}
			conflicts = append(conflicts, Conflict{
				Section:     section,
				EntityID:    id,
				Field:       "(entity)",
				Base:        marshal(b),
				Current:     marshal(cur),
				Incoming:    nil,
				Resolution:  "current",
				Description: fmt.Sprintf("%s %q was edited here but deleted in the incoming update", sectionLabels[section], entityName(cur)),
			})
			out = append(out, cur)
		default:
			mergedItem, itemConflicts := mergeFields(section, id, b, cur, inc)
			out = append(out, mergedItem)
			conflicts = append(conflicts, itemConflicts...)
		}
	}

	for _, inc := range incoming {
		id := entityID(inc)
		if _, inCur := curByID[id]; inCur {
			continue
		}
		b, inBase := baseByID[id]
		if !inBase {
			// New in incoming only.
			out = append(out, inc)
			continue
		}
		// Current deleted it. Deleted-in-both drops silently; an incoming
		// edit against a current deletion keeps the deletion but records it.
		if reflect.DeepEqual(b, inc) {
			continue
		}
		conflicts = append(conflicts, Conflict{
			Section:     section,
			EntityID:    id,
			Field:       "(entity)",
			Base:        marshal(b),
			Current:     nil,
			Incoming:    marshal(inc),
			Resolution:  "current",
			Description: fmt.Sprintf("%s %q was deleted here but edited in the incoming update", sectionLabels[section], entityName(inc)),
		})
	}

	return out, conflicts
}

// mergeFields runs the three-way rule per field of one entity or scalar
// section. entityID is empty for scalar sections.
func mergeFields(section, entityID string, base, current, incoming map[string]any) (map[string]any, []Conflict) {
	merged := map[string]any{}
	var conflicts []Conflict

	for _, key := range sortedKeys(base, current, incoming) {
		b, c, i := base[key], current[key], incoming[key]
		switch {
		case reflect.DeepEqual(c, i):
			merged[key] = c
		case reflect.DeepEqual(b, c):
			// Only incoming changed.
			merged[key] = i
		case reflect.DeepEqual(b, i):
			// Only current changed.
			merged[key] = c
		default:
			merged[key] = c
			conflicts = append(conflicts, Conflict{
				Section:     section,
				EntityID:    entityID,
				Field:       key,
				Base:        marshal(b),
				Current:     marshal(c),
				Incoming:    marshal(i),
				Resolution:  "current",
				Description: fmt.Sprintf("%s %s changed in both branches (%s vs %s); kept current", sectionLabels[section], key, compact(c), compact(i)),
			})
		}
	}

	// Dropped nil entries would otherwise linger as explicit nulls.
	for key, val := range merged {
		if val == nil {
			delete(merged, key)
		}
	}
	return merged, conflicts
}

func asFieldMap(v any) map[string]any {
	m, _ := v.(map[string]any)
	if m == nil {
		m = map[string]any{}
	}
	return m
}

func unionStrings(a, b any) []any {
	var out []any
	seen := map[string]bool{}
	for _, v := range append(toAnySlice(a), toAnySlice(b)...) {
		s, ok := v.(string)
		if !ok || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}

func toAnySlice(v any) []any {
	s, _ := v.([]any)
	return s
}
