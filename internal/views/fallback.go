package views

import (
	"fmt"
	"strings"

	"github.com/halcyon-health/tapestry/internal/plan"
	"github.com/halcyon-health/tapestry/internal/readability"
)

// fallbackTherapist assembles the clinical view directly from the plan.
// Templated but complete; every section the model would have written is
// covered from structured data.
func (g *Generator) fallbackTherapist(p *plan.CanonicalPlan, sessionSummary string) *plan.TherapistView {
	view := &plan.TherapistView{
		SessionSummary:  sessionSummary,
		Presentation:    "See session summary. Generated without model assistance.",
		GeneratedFromAI: false,
		GeneratedAt:     g.now().UTC(),
	}

	var dx []string
	for _, d := range p.Diagnoses {
		entry := d.Name
		if d.Code != "" {
			entry += " (" + d.Code + ")"
		}
		entry += " - " + string(d.Status)
		dx = append(dx, entry)
	}
	if len(dx) > 0 {
		view.DiagnosticNotes = "Current diagnoses: " + strings.Join(dx, "; ") + "."
	} else {
		view.DiagnosticNotes = "No diagnoses recorded."
	}

	for _, goal := range p.Goals {
		view.GoalsReview = append(view.GoalsReview, plan.GoalReview{
			GoalID:      goal.ID,
			Description: goal.Description,
			Progress:    goal.Progress,
			Note:        fmt.Sprintf("Status: %s.", goal.Status),
		})
	}

	for _, iv := range p.Interventions {
		entry := iv.Description
		if iv.Modality != "" {
			entry += " (" + iv.Modality + ")"
		}
		view.InterventionPlan = append(view.InterventionPlan, entry)
	}

	risk := fmt.Sprintf("Crisis severity: %s.", p.Crisis.Severity)
	if p.Crisis.SafetyPlanStatus != "" {
		risk += fmt.Sprintf(" Safety plan: %s.", p.Crisis.SafetyPlanStatus)
	}
	for _, rf := range p.RiskFactors {
		risk += " " + rf.Description + "."
	}
	view.RiskSummary = risk

	if len(p.Goals) > 0 {
		view.PlanForNext = fmt.Sprintf("Review progress on %q and continue planned interventions.", p.Goals[0].Description)
	} else {
		view.PlanForNext = "Establish initial treatment goals with the client."
	}
	return view
}

// fallbackClient assembles the plain-language view from the plan and runs it
// through the same substitution pass so templated text stays readable.
func (g *Generator) fallbackClient(p *plan.CanonicalPlan, sessionSummary string) *plan.ClientView {
	view := &plan.ClientView{
		WhatWeTalkedAbout: sessionSummary,
		NextSteps:         "We will keep working on your goals next time.",
		GeneratedFromAI:   false,
		GeneratedAt:       g.now().UTC(),
	}
	if view.WhatWeTalkedAbout == "" {
		view.WhatWeTalkedAbout = "We met and talked about how things are going for you."
	}

	for _, goal := range p.Goals {
		view.MyGoals = append(view.MyGoals, plan.ClientGoal{
			Description:   goal.Description,
			Progress:      goal.Progress,
			Encouragement: "Keep going. Every step counts.",
		})
	}
	for _, hw := range p.Homework {
		view.ThingsToTry = append(view.ThingsToTry, hw.Description)
	}
	for _, s := range p.Strengths {
		view.MyStrengths = append(view.MyStrengths, s.Description)
	}

	final := substituteClinicalTerms(view)
	final.ReadabilityGrade = readability.Analyze(final.CombinedText()).GradeLevel
	return final
}

// plainTerms maps clinical vocabulary to everyday equivalents. Longest keys
// are applied first so multi-word phrases win over their parts.
var plainTerms = []struct{ from, to string }{
	{"cognitive behavioral therapy", "CBT skills work"},
	{"cognitive restructuring", "changing thought habits"},
	{"behavioral activation", "doing more of what matters"},
	{"psychoeducation", "learning about this together"},
	{"emotional dysregulation", "big feelings that are hard to steer"},
	{"catastrophizing", "expecting the worst"},
	{"rumination", "getting stuck on a thought"},
	{"interventions", "steps"},
	{"intervention", "step"},
	{"approximately", "about"},
	{"additionally", "also"},
	{"significantly", "a lot"},
	{"significant", "big"},
	{"demonstrated", "showed"},
	{"demonstrate", "show"},
	{"utilization", "use"},
	{"utilize", "use"},
	{"experiencing", "having"},
	{"techniques", "skills"},
	{"frequently", "often"},
	{"individuals", "people"},
	{"symptoms", "signs"},
	{"anxiety disorder", "worry that gets too big"},
}

// substituteClinicalTerms rewrites every text field of a client view with
// plain alternatives and splits semicolon chains into sentences. It returns
// a new view; provenance flags are preserved on the copy.
func substituteClinicalTerms(v *plan.ClientView) *plan.ClientView {
	out := *v
	out.WhatWeTalkedAbout = simplifyText(v.WhatWeTalkedAbout)
	out.NextSteps = simplifyText(v.NextSteps)

	out.MyGoals = make([]plan.ClientGoal, len(v.MyGoals))
	for i, goal := range v.MyGoals {
		out.MyGoals[i] = plan.ClientGoal{
			Description:   simplifyText(goal.Description),
			Progress:      goal.Progress,
			Encouragement: simplifyText(goal.Encouragement),
		}
	}
	out.ThingsToTry = simplifyAll(v.ThingsToTry)
	out.MyStrengths = simplifyAll(v.MyStrengths)
	return &out
}

func simplifyAll(items []string) []string {
	if items == nil {
		return nil
	}
	out := make([]string, len(items))
	for i, item := range items {
		out[i] = simplifyText(item)
	}
	return out
}

func simplifyText(text string) string {
	lower := strings.ToLower(text)
	for _, term := range plainTerms {
		for {
			i := strings.Index(lower, term.from)
			if i < 0 {
				break
			}
			text = text[:i] + term.to + text[i+len(term.from):]
			lower = strings.ToLower(text)
		}
	}
	text = strings.ReplaceAll(text, "; ", ". ")
	return text
}
