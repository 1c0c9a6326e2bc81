// Package diff computes structural change sets between plan snapshots,
// performs three-way merges of divergent edits, and builds restore
// snapshots. Everything here is pure computation over immutable inputs.
package diff

import (
	"encoding/json"
	"fmt"
	"reflect"
	"sort"

	"github.com/halcyon-health/tapestry/internal/plan"
)

type ChangeType string

const (
	Added    ChangeType = "added"
	Removed  ChangeType = "removed"
	Modified ChangeType = "modified"
)

// Change is one typed difference between two snapshots.
type Change struct {
	Type        ChangeType      `json:"type"`
	Section     string          `json:"section"`
	Field       string          `json:"field,omitempty"`
	EntityID    string          `json:"entity_id,omitempty"`
	OldValue    json.RawMessage `json:"old_value,omitempty"`
	NewValue    json.RawMessage `json:"new_value,omitempty"`
	Description string          `json:"description"`
}

// Result is a computed change set. It is derived data with no lifecycle of
// its own.
type Result struct {
	Changes    []Change `json:"changes"`
	HasChanges bool     `json:"has_changes"`
	Added      int      `json:"added"`
	Removed    int      `json:"removed"`
	Modified   int      `json:"modified"`
}

// entitySections lists every array-valued plan section diffed by stable ID,
// in presentation order.
var entitySections = []string{
	"presenting_concerns",
	"clinical_impressions",
	"diagnoses",
	"goals",
	"interventions",
	"strengths",
	"risk_factors",
	"homework",
}

// sectionLabels gives the singular human label per section.
var sectionLabels = map[string]string{
	"presenting_concerns":  "presenting concern",
	"clinical_impressions": "clinical impression",
	"diagnoses":            "diagnosis",
	"goals":                "goal",
	"interventions":        "intervention",
	"strengths":            "strength",
	"risk_factors":         "risk factor",
	"homework":             "homework item",
	"crisis_assessment":    "crisis assessment",
	"session_ids":          "session list",
	"metadata":             "plan",
}

// Compute diffs two plan snapshots. Array sections are compared by entity
// ID; the crisis assessment is field-diffed recursively; plan timestamps
// surface as metadata field changes so applying the set reproduces the new
// snapshot exactly.
func Compute(old, new *plan.CanonicalPlan) *Result {
	result := &Result{}

	oldMap := toMap(old)
	newMap := toMap(new)

	for _, section := range entitySections {
		diffEntitySection(section, asEntityList(oldMap[section]), asEntityList(newMap[section]), result)
	}

	diffScalarSection("crisis_assessment", oldMap["crisis_assessment"], newMap["crisis_assessment"], result)
	diffLeaf("session_ids", "", oldMap["session_ids"], newMap["session_ids"], result)
	diffLeaf("metadata", "version", oldMap["version"], newMap["version"], result)
	diffLeaf("metadata", "created_at", oldMap["created_at"], newMap["created_at"], result)
	diffLeaf("metadata", "updated_at", oldMap["updated_at"], newMap["updated_at"], result)

	result.HasChanges = len(result.Changes) > 0
	return result
}

func diffEntitySection(section string, old, new []map[string]any, result *Result) {
	oldByID := indexByID(old)
	newByID := indexByID(new)

	// Stable output order: new snapshot order for adds/modifies, old
	// snapshot order for removals.
	for _, item := range new {
		id := entityID(item)
		prev, existed := oldByID[id]
		if !existed {
			result.add(Change{
				Type:        Added,
				Section:     section,
				EntityID:    id,
				NewValue:    marshal(item),
				Description: fmt.Sprintf("added %s %q", sectionLabels[section], entityName(item)),
			})
			continue
		}
		if !reflect.DeepEqual(prev, item) {
			result.add(Change{
				Type:        Modified,
				Section:     section,
				EntityID:    id,
				OldValue:    marshal(prev),
				NewValue:    marshal(item),
				Description: fmt.Sprintf("modified %s %q (%s)", sectionLabels[section], entityName(item), changedFields(prev, item)),
			})
		}
	}

	for _, item := range old {
		id := entityID(item)
		if _, kept := newByID[id]; !kept {
			result.add(Change{
				Type:        Removed,
				Section:     section,
				EntityID:    id,
				OldValue:    marshal(item),
				Description: fmt.Sprintf("removed %s %q", sectionLabels[section], entityName(item)),
			})
		}
	}
}

// diffScalarSection walks two maps recursively, emitting one modified
// change per differing leaf field.
func diffScalarSection(section string, oldVal, newVal any, result *Result) {
	oldMap, okOld := oldVal.(map[string]any)
	newMap, okNew := newVal.(map[string]any)
	if !okOld || !okNew {
		diffLeaf(section, "", oldVal, newVal, result)
		return
	}

	for _, key := range sortedKeys(oldMap, newMap) {
		o, n := oldMap[key], newMap[key]
		if om, ok1 := o.(map[string]any); ok1 {
			if nm, ok2 := n.(map[string]any); ok2 {
				diffNestedMap(section, key, om, nm, result)
				continue
			}
		}
		diffLeaf(section, key, o, n, result)
	}
}

func diffNestedMap(section, prefix string, oldMap, newMap map[string]any, result *Result) {
	for _, key := range sortedKeys(oldMap, newMap) {
		diffLeaf(section, prefix+"."+key, oldMap[key], newMap[key], result)
	}
}

func diffLeaf(section, field string, o, n any, result *Result) {
	if reflect.DeepEqual(o, n) {
		return
	}
	desc := fmt.Sprintf("changed %s", sectionLabels[section])
	if field != "" {
		desc = fmt.Sprintf("changed %s %s from %s to %s", sectionLabels[section], field, compact(o), compact(n))
	}
	result.add(Change{
		Type:        Modified,
		Section:     section,
		Field:       field,
		OldValue:    marshal(o),
		NewValue:    marshal(n),
		Description: desc,
	})
}

func (r *Result) add(c Change) {
	r.Changes = append(r.Changes, c)
	switch c.Type {
	case Added:
		r.Added++
	case Removed:
		r.Removed++
	case Modified:
		r.Modified++
	}
}

// Apply replays a change set onto a snapshot, producing the plan the diff
// was computed against.
func Apply(base *plan.CanonicalPlan, result *Result) (*plan.CanonicalPlan, error) {
	m := toMap(base)

	for _, c := range result.Changes {
		if isEntitySection(c.Section) {
			items := asEntityList(m[c.Section])
			switch c.Type {
			case Added, Modified:
				var item map[string]any
				if err := json.Unmarshal(c.NewValue, &item); err != nil {
					return nil, fmt.Errorf("apply %s to %s: %w", c.Type, c.Section, err)
				}
				items = upsert(items, item)
			case Removed:
				items = removeByID(items, c.EntityID)
			}
			m[c.Section] = toAnyList(items)
			continue
		}

		var val any
		if len(c.NewValue) > 0 {
			if err := json.Unmarshal(c.NewValue, &val); err != nil {
				return nil, fmt.Errorf("apply %s.%s: %w", c.Section, c.Field, err)
			}
		}
		switch c.Section {
		case "session_ids":
			m["session_ids"] = val
		case "metadata":
			m[c.Field] = val
		case "crisis_assessment":
			setField(m, "crisis_assessment", c.Field, val)
		}
	}

	return fromMap(m)
}

func setField(m map[string]any, section, field string, val any) {
	target, _ := m[section].(map[string]any)
	if target == nil {
		target = map[string]any{}
		m[section] = target
	}
	if field == "" {
		m[section] = val
		return
	}
	// Nested paths like "indicators.0" are not produced; one dot level max.
	for {
		i := indexDot(field)
		if i < 0 {
			target[field] = val
			return
		}
		next, _ := target[field[:i]].(map[string]any)
		if next == nil {
			next = map[string]any{}
			target[field[:i]] = next
		}
		target = next
		field = field[i+1:]
	}
}

func indexDot(s string) int {
	for i := 0; i < len(s); i++ {
		if s[i] == '.' {
			return i
		}
	}
	return -1
}

// --- map plumbing ---

func toMap(p *plan.CanonicalPlan) map[string]any {
	data, _ := json.Marshal(p)
	var m map[string]any
	_ = json.Unmarshal(data, &m)
	return m
}

func fromMap(m map[string]any) (*plan.CanonicalPlan, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	var p plan.CanonicalPlan
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

func asEntityList(v any) []map[string]any {
	list, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]map[string]any, 0, len(list))
	for _, item := range list {
		if m, ok := item.(map[string]any); ok {
			out = append(out, m)
		}
	}
	return out
}

func toAnyList(items []map[string]any) []any {
	if len(items) == 0 {
		return nil
	}
	out := make([]any, len(items))
	for i, item := range items {
		out[i] = item
	}
	return out
}

func indexByID(items []map[string]any) map[string]map[string]any {
	out := make(map[string]map[string]any, len(items))
	for _, item := range items {
		out[entityID(item)] = item
	}
	return out
}

func entityID(item map[string]any) string {
	id, _ := item["id"].(string)
	return id
}

// entityName picks the best human-readable handle an entity offers.
func entityName(item map[string]any) string {
	for _, key := range []string{"name", "description", "text", "title"} {
		if s, ok := item[key].(string); ok && s != "" {
			if len(s) > 60 {
				return s[:57] + "..."
			}
			return s
		}
	}
	return entityID(item)
}

func changedFields(old, new map[string]any) string {
	var fields []string
	for _, key := range sortedKeys(old, new) {
		if !reflect.DeepEqual(old[key], new[key]) {
			fields = append(fields, key)
		}
	}
	if len(fields) == 0 {
		return "content"
	}
	out := fields[0]
	for _, f := range fields[1:] {
		out += ", " + f
	}
	return out
}

func upsert(items []map[string]any, item map[string]any) []map[string]any {
	id := entityID(item)
	for i := range items {
		if entityID(items[i]) == id {
			items[i] = item
			return items
		}
	}
	return append(items, item)
}

func removeByID(items []map[string]any, id string) []map[string]any {
	out := items[:0]
	for _, item := range items {
		if entityID(item) != id {
			out = append(out, item)
		}
	}
	return out
}

func isEntitySection(section string) bool {
	for _, s := range entitySections {
		if s == section {
			return true
		}
	}
	return false
}

func sortedKeys(maps ...map[string]any) []string {
	seen := map[string]bool{}
	var keys []string
	for _, m := range maps {
		for k := range m {
			if !seen[k] {
				seen[k] = true
				keys = append(keys, k)
			}
		}
	}
	sort.Strings(keys)
	return keys
}

func marshal(v any) json.RawMessage {
	data, _ := json.Marshal(v)
	return data
}

func compact(v any) string {
	data, _ := json.Marshal(v)
	s := string(data)
	if len(s) > 40 {
		return s[:37] + "..."
	}
	return s
}
