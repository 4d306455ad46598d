package models

import (
	"fmt"
	"regexp"
	"strings"
)

// PlanStatus is the review state of a plan.
type PlanStatus string

const (
	PlanPending  PlanStatus = "pending"
	PlanApproved PlanStatus = "approved"
	PlanRejected PlanStatus = "rejected"
	PlanModified PlanStatus = "modified"
)

// PlanSection is one section of a structured plan.
type PlanSection struct {
	Title           string `json:"title"`
	Description     string `json:"description"`
	EstimatedLength string `json:"estimated_length,omitempty"`
	ContentType     string `json:"content_type,omitempty"`
}

// Plan is a structured execution plan produced by a sub-agent and gated by a
// human approval step before the orchestrator lets the phase advance.
type Plan struct {
	ID          string        `json:"id"`
	Type        string        `json:"type"`
	Title       string        `json:"title"`
	Description string        `json:"description"`
	Sections    []PlanSection `json:"sections"`
	Status      PlanStatus    `json:"status"`

	// Phase names the workflow phase the plan belongs to.
	Phase string `json:"phase,omitempty"`

	// Feedback holds reviewer feedback for rejected or modified plans.
	Feedback string `json:"feedback,omitempty"`
}

var lengthNumbers = regexp.MustCompile(`\d+`)

// EstimatedPages sums the section length estimates. Ranges like "2-3 pages"
// count as their midpoint; sections without a parseable estimate count as one
// page.
func (p Plan) EstimatedPages() int {
	total := 0.0
	for _, s := range p.Sections {
		nums := lengthNumbers.FindAllString(s.EstimatedLength, 2)
		switch len(nums) {
		case 0:
			total++
		case 1:
			total += atoiSafe(nums[0])
		default:
			total += (atoiSafe(nums[0]) + atoiSafe(nums[1])) / 2
		}
	}
	return int(total)
}

func atoiSafe(s string) float64 {
	n := 0
	for _, c := range s {
		n = n*10 + int(c-'0')
	}
	return float64(n)
}

// FormatForReview renders the plan as markdown for human review.
func (p Plan) FormatForReview() string {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n## Description\n%s\n\n## Planned Sections\n\n", p.Title, p.Description)
	for i, s := range p.Sections {
		fmt.Fprintf(&b, "### %d. %s\n", i+1, s.Title)
		fmt.Fprintf(&b, "**Description:** %s\n", s.Description)
		if s.EstimatedLength != "" {
			fmt.Fprintf(&b, "**Estimated Length:** %s\n", s.EstimatedLength)
		}
		if s.ContentType != "" {
			fmt.Fprintf(&b, "**Content Type:** %s\n", s.ContentType)
		}
		b.WriteString("\n")
	}
	fmt.Fprintf(&b, "\n## Summary\n- **Total Sections:** %d\n- **Estimated Total Length:** %d pages (estimated)\n- **Plan ID:** %s\n",
		len(p.Sections), p.EstimatedPages(), p.ID)
	return b.String()
}

// PlanModifications describes reviewer edits applied to a plan.
type PlanModifications struct {
	Title       string        `json:"title,omitempty"`
	Description string        `json:"description,omitempty"`
	AddSections []PlanSection `json:"add_sections,omitempty"`

	// RemoveSections lists zero-based indexes into the current section list.
	RemoveSections []int `json:"remove_sections,omitempty"`

	// ModifySections maps zero-based indexes to replacement sections.
	ModifySections map[int]PlanSection `json:"modify_sections,omitempty"`
}

// ApplyModifications returns a modified copy of the plan with status
// PlanModified. Out-of-range indexes are ignored.
func (p Plan) ApplyModifications(mods PlanModifications, feedback string) Plan {
	out := p
	out.ID = p.ID + "_modified"
	out.Status = PlanModified
	out.Feedback = feedback
	if mods.Title != "" {
		out.Title = mods.Title
	}
	if mods.Description != "" {
		out.Description = mods.Description
	}

	sections := make([]PlanSection, len(p.Sections))
	copy(sections, p.Sections)
	for idx, repl := range mods.ModifySections {
		if idx >= 0 && idx < len(sections) {
			sections[idx] = repl
		}
	}
	if len(mods.RemoveSections) > 0 {
		remove := make(map[int]bool, len(mods.RemoveSections))
		for _, idx := range mods.RemoveSections {
			remove[idx] = true
		}
		kept := sections[:0]
		for i, s := range sections {
			if !remove[i] {
				kept = append(kept, s)
			}
		}
		sections = kept
	}
	sections = append(sections, mods.AddSections...)
	out.Sections = sections
	return out
}

// MergePlans deduplicates plans by id, with later entries winning.
func MergePlans(existing, update []Plan) []Plan {
	if len(existing) == 0 {
		return update
	}
	if len(update) == 0 {
		return existing
	}
	order := make([]string, 0, len(existing)+len(update))
	byID := make(map[string]Plan, len(existing)+len(update))
	for _, p := range existing {
		if _, ok := byID[p.ID]; !ok {
			order = append(order, p.ID)
		}
		byID[p.ID] = p
	}
	for _, p := range update {
		if _, ok := byID[p.ID]; !ok {
			order = append(order, p.ID)
		}
		byID[p.ID] = p
	}
	out := make([]Plan, 0, len(order))
	for _, id := range order {
		out = append(out, byID[id])
	}
	return out
}
