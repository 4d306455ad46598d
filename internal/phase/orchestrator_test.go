package phase

import (
	"strings"
	"testing"

	"github.com/haasonsaas/deepplan/internal/state"
	"github.com/haasonsaas/deepplan/pkg/models"
)

func TestValidateTransition_BlockedOnMissingOutput(t *testing.T) {
	o := NewOrchestrator(nil, nil)
	st := state.New()

	ok, next, missing := o.ValidateTransition(st)
	if ok {
		t.Fatal("transition allowed with no outputs")
	}
	if next != "" {
		t.Errorf("next = %q, want empty", next)
	}
	found := false
	for _, m := range missing {
		if strings.Contains(m, "investigation_findings.md missing") {
			found = true
		}
	}
	if !found {
		t.Errorf("missing = %v, want investigation_findings.md missing", missing)
	}
	if st.Phase.CurrentPhase != models.PhaseInvestigation {
		t.Errorf("current phase changed to %s", st.Phase.CurrentPhase)
	}
}

func TestAdvance_LinearSuccession(t *testing.T) {
	o := NewOrchestrator(nil, nil)
	st := state.New()
	st.Apply(state.Update{PhaseOutputs: map[string]string{"investigation_findings.md": "investigation_findings.md"}})

	advanced, missing := o.Advance(st)
	if !advanced {
		t.Fatalf("advance blocked: %v", missing)
	}
	if st.Phase.CurrentPhase != models.PhaseDiscussion {
		t.Errorf("current phase = %s, want discussion", st.Phase.CurrentPhase)
	}
	if len(st.Phase.CompletedPhases) != 1 || st.Phase.CompletedPhases[0] != models.PhaseInvestigation {
		t.Errorf("completed = %v, want [investigation]", st.Phase.CompletedPhases)
	}
	if st.Phase.ContextSummary == "" {
		t.Error("context summary not written on advance")
	}
	if st.Todos != nil {
		t.Error("todos should reset on phase advance")
	}
}

func TestAdvance_ApprovalGate(t *testing.T) {
	o := NewOrchestrator(nil, nil)
	st := state.New()
	st.Phase.CurrentPhase = models.PhasePlanning
	st.Apply(state.Update{PhaseOutputs: map[string]string{"implementation_plan.md": "implementation_plan.md"}})

	advanced, missing := o.Advance(st)
	if advanced {
		t.Fatal("planning advanced without approved plan")
	}
	found := false
	for _, m := range missing {
		if strings.Contains(m, "approved plan missing") {
			found = true
		}
	}
	if !found {
		t.Errorf("missing = %v, want approval requirement", missing)
	}

	// Approve a plan for the phase and try again.
	st.Apply(state.Update{ApprovedPlan: &models.Plan{
		ID: "p1", Status: models.PlanApproved, Phase: string(models.PhasePlanning),
	}})
	advanced, missing = o.Advance(st)
	if !advanced {
		t.Fatalf("advance still blocked: %v", missing)
	}
	if st.Phase.CurrentPhase != models.PhaseTaskGeneration {
		t.Errorf("current phase = %s, want task_generation", st.Phase.CurrentPhase)
	}
}

func TestValidateTransition_TerminalPhase(t *testing.T) {
	o := NewOrchestrator(nil, nil)
	st := state.New()
	st.Phase.CurrentPhase = models.PhaseComplete

	ok, _, missing := o.ValidateTransition(st)
	if ok {
		t.Error("terminal phase allowed a transition")
	}
	if len(missing) == 0 {
		t.Error("no reason given")
	}
}

func TestHandleApprovalResponse(t *testing.T) {
	o := NewOrchestrator(nil, nil)
	st := state.New()
	st.Phase.CurrentPhase = models.PhasePlanning
	plan := models.Plan{
		ID: "p1", Type: "implementation", Title: "Plan",
		Sections: make([]models.PlanSection, 5),
		Status:   models.PlanPending,
	}

	t.Run("approve", func(t *testing.T) {
		update := o.HandleApprovalResponse(st, plan, models.InterruptResponse{Action: models.ApprovalActionApprove})
		if update.ApprovedPlan == nil || update.ApprovedPlan.Status != models.PlanApproved {
			t.Fatalf("approved plan not stored: %+v", update.ApprovedPlan)
		}
		if update.ApprovedPlan.Phase != string(models.PhasePlanning) {
			t.Errorf("plan phase = %q", update.ApprovedPlan.Phase)
		}
	})

	t.Run("edit adds section", func(t *testing.T) {
		update := o.HandleApprovalResponse(st, plan, models.InterruptResponse{
			Action:   models.ApprovalActionEdit,
			Feedback: "add security section",
			Modifications: &models.PlanModifications{
				AddSections: []models.PlanSection{{Title: "Security", Description: "Threat model"}},
			},
		})
		if update.ApprovedPlan != nil {
			t.Error("edited plan must not be approved")
		}
		if len(update.PendingPlans) != 1 {
			t.Fatalf("pending plans = %d, want 1", len(update.PendingPlans))
		}
		modified := update.PendingPlans[0]
		if len(modified.Sections) != 6 {
			t.Errorf("sections = %d, want 6", len(modified.Sections))
		}
		if modified.Status != models.PlanModified {
			t.Errorf("status = %s, want modified", modified.Status)
		}
	})

	t.Run("reject", func(t *testing.T) {
		update := o.HandleApprovalResponse(st, plan, models.InterruptResponse{Action: models.ApprovalActionReject})
		if len(update.PendingPlans) != 1 || update.PendingPlans[0].Status != models.PlanRejected {
			t.Errorf("rejected plan not recorded: %+v", update.PendingPlans)
		}
		if update.PendingPlans[0].Feedback == "" {
			t.Error("rejection feedback defaulted empty")
		}
	})
}

func TestCurrentAgent_RendersPromptAndTodos(t *testing.T) {
	o := NewOrchestrator(nil, nil)
	st := state.New()

	agent, err := o.CurrentAgent(st)
	if err != nil {
		t.Fatalf("CurrentAgent: %v", err)
	}
	if agent.Config.Phase != models.PhaseInvestigation {
		t.Errorf("phase = %s", agent.Config.Phase)
	}
	if len(agent.Todos) == 0 {
		t.Error("no todos generated from template")
	}
	if !strings.Contains(agent.Prompt, "Investigation") {
		t.Error("prompt missing phase label")
	}
	if !strings.Contains(agent.Prompt, "investigation_findings.md") {
		t.Error("prompt missing required output")
	}
}

func TestToolVisible(t *testing.T) {
	cfg := Config{AllowedTools: []string{"read_file", "mcp_*"}}
	cases := map[string]bool{
		"read_file":  true,
		"mcp_search": true,
		"write_file": false,
	}
	for name, want := range cases {
		if got := cfg.ToolVisible(name); got != want {
			t.Errorf("ToolVisible(%s) = %v, want %v", name, got, want)
		}
	}
	open := Config{}
	if !open.ToolVisible("anything") {
		t.Error("empty allowlist must admit all tools")
	}
}

func TestFormatTodos(t *testing.T) {
	todos := []models.Todo{
		{Content: "a", Status: models.TodoPending},
		{Content: "b", Status: models.TodoInProgress},
		{Content: "c", Status: models.TodoCompleted},
	}
	got := FormatTodos(todos)
	for _, want := range []string{"⏳ a", "🔄 b", "✅ c"} {
		if !strings.Contains(got, want) {
			t.Errorf("FormatTodos missing %q in %q", want, got)
		}
	}
	if FormatTodos(nil) != "No specific tasks generated" {
		t.Error("empty todos placeholder wrong")
	}
}
