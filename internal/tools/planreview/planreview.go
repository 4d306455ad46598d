// Package planreview implements the review_plan tool. Calling it does not
// execute anything: the loop recognises the tool as interrupting, suspends,
// and emits a plan-approval request for the host.
package planreview

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/haasonsaas/deepplan/internal/agent"
	"github.com/haasonsaas/deepplan/internal/tools"
	"github.com/haasonsaas/deepplan/pkg/models"
)

// Tool is the review_plan interrupting tool.
type Tool struct{}

type sectionInput struct {
	Title           string `json:"title" jsonschema:"required,description=Section title"`
	Description     string `json:"description" jsonschema:"required,description=What the section covers"`
	EstimatedLength string `json:"estimated_length,omitempty" jsonschema:"description=Rough length estimate, e.g. 2-3 pages"`
	ContentType     string `json:"content_type,omitempty" jsonschema:"description=Section content type, e.g. technical or overview"`
}

type reviewPlanInput struct {
	PlanType    string         `json:"plan_type" jsonschema:"required,description=Kind of plan, e.g. implementation or documentation"`
	Title       string         `json:"title" jsonschema:"required,description=Plan title"`
	Description string         `json:"description" jsonschema:"required,description=One-paragraph plan description"`
	Sections    []sectionInput `json:"sections" jsonschema:"required,description=The plan sections in order"`
}

func (t *Tool) Name() string { return "review_plan" }
func (t *Tool) Description() string {
	return "Submit a structured plan for human review. The run pauses until the reviewer approves, edits, or rejects the plan."
}
func (t *Tool) Schema() json.RawMessage {
	return tools.MustSchema(&reviewPlanInput{})
}

// Execute is never reached for interrupting tools; the loop intercepts the
// call via BuildInterrupt. It exists to satisfy the Tool interface and to
// fail loudly if the interception is ever bypassed.
func (t *Tool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolOutput, error) {
	return &agent.ToolOutput{
		Content: "review_plan must be handled by the runtime interrupt path",
		IsError: true,
	}, nil
}

// BuildInterrupt parses the call into the plan under review and the
// interrupt to emit. Malformed parameters are an error: a malformed approval
// request must not suspend the loop.
func (t *Tool) BuildInterrupt(ctx context.Context, params json.RawMessage) (*models.Interrupt, models.Plan, error) {
	var in reviewPlanInput
	if err := json.Unmarshal(params, &in); err != nil {
		return nil, models.Plan{}, fmt.Errorf("parse review_plan arguments: %w", err)
	}
	if in.Title == "" {
		return nil, models.Plan{}, errors.New("plan title is required")
	}
	if len(in.Sections) == 0 {
		return nil, models.Plan{}, errors.New("plan must have at least one section")
	}

	planType := in.PlanType
	if planType == "" {
		planType = "implementation"
	}
	sections := make([]models.PlanSection, 0, len(in.Sections))
	for _, s := range in.Sections {
		sections = append(sections, models.PlanSection{
			Title:           s.Title,
			Description:     s.Description,
			EstimatedLength: s.EstimatedLength,
			ContentType:     s.ContentType,
		})
	}

	plan := models.Plan{
		ID:          planType + "_plan_" + uuid.NewString()[:8],
		Type:        planType,
		Title:       in.Title,
		Description: in.Description,
		Sections:    sections,
		Status:      models.PlanPending,
	}
	return models.NewPlanApprovalInterrupt(plan), plan, nil
}
