package planreview

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/haasonsaas/deepplan/pkg/models"
)

func TestBuildInterrupt(t *testing.T) {
	params := json.RawMessage(`{
		"plan_type": "implementation",
		"title": "Billing Migration",
		"description": "Move billing to gRPC",
		"sections": [
			{"title": "Inventory", "description": "List call sites", "estimated_length": "1-2 pages"},
			{"title": "Cutover", "description": "Switch traffic"}
		]
	}`)

	interrupt, plan, err := (&Tool{}).BuildInterrupt(context.Background(), params)
	if err != nil {
		t.Fatalf("BuildInterrupt: %v", err)
	}
	if interrupt.Type != models.InterruptTypePlanApproval {
		t.Errorf("type = %q", interrupt.Type)
	}
	if interrupt.PlanID != plan.ID {
		t.Error("interrupt plan id mismatch")
	}
	if len(interrupt.Options) != 3 {
		t.Errorf("options = %v", interrupt.Options)
	}
	if !strings.Contains(interrupt.FormattedPlan, "Billing Migration") {
		t.Error("formatted plan missing title")
	}
	if plan.Status != models.PlanPending {
		t.Errorf("plan status = %s, want pending", plan.Status)
	}
	if len(plan.Sections) != 2 {
		t.Errorf("sections = %d", len(plan.Sections))
	}
	if !strings.HasPrefix(plan.ID, "implementation_plan_") {
		t.Errorf("plan id = %q", plan.ID)
	}
}

func TestBuildInterrupt_Malformed(t *testing.T) {
	cases := []string{
		`{"title": "", "sections": [{"title": "a", "description": "b"}]}`,
		`{"title": "x", "sections": []}`,
		`not json`,
	}
	for _, params := range cases {
		if _, _, err := (&Tool{}).BuildInterrupt(context.Background(), json.RawMessage(params)); err == nil {
			t.Errorf("malformed params accepted: %s", params)
		}
	}
}

func TestExecute_IsUnreachableGuard(t *testing.T) {
	out, err := (&Tool{}).Execute(context.Background(), nil)
	if err != nil {
		t.Fatal(err)
	}
	if !out.IsError {
		t.Error("direct execution must fail loudly")
	}
}
