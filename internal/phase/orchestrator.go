package phase

import (
	"fmt"
	"log/slog"

	"github.com/haasonsaas/deepplan/internal/state"
	"github.com/haasonsaas/deepplan/pkg/models"
)

// Agent is the resolved configuration of the active phase: the static config
// plus dynamically generated todos and the rendered prompt.
type Agent struct {
	Config Config
	Todos  []models.Todo
	Prompt string
}

// Orchestrator owns phase progression. Transitions are linear and
// all-or-nothing: every validation rule must pass, required outputs must be
// present, and approval-gated phases need an approved plan.
type Orchestrator struct {
	configs map[models.Phase]Config
	logger  *slog.Logger
}

// NewOrchestrator creates an orchestrator. Nil configs use the built-in
// four-phase workflow; a nil logger defaults to slog.Default.
func NewOrchestrator(configs map[models.Phase]Config, logger *slog.Logger) *Orchestrator {
	if configs == nil {
		configs = DefaultConfigs()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		configs: configs,
		logger:  logger.With("component", "phase"),
	}
}

// Config returns the static configuration for a phase.
func (o *Orchestrator) Config(phase models.Phase) (Config, bool) {
	cfg, ok := o.configs[phase]
	return cfg, ok
}

// CurrentAgent resolves the active phase into its agent configuration with
// injected todos and rendered prompt. Existing todos in state take precedence
// over the template so progress is not regenerated away.
func (o *Orchestrator) CurrentAgent(s *state.AgentState) (Agent, error) {
	cfg, ok := o.configs[s.Phase.CurrentPhase]
	if !ok {
		return Agent{}, fmt.Errorf("no configuration for phase %q", s.Phase.CurrentPhase)
	}
	todos := s.Todos
	if len(todos) == 0 && cfg.Todos != nil {
		todos = cfg.Todos(s)
	}
	return Agent{
		Config: cfg,
		Todos:  todos,
		Prompt: RenderPrompt(cfg, todos),
	}, nil
}

// ValidateTransition evaluates all completion rules for the current phase.
// It returns whether the transition may happen, the next phase on success,
// and the human-readable missing requirements on failure. The orchestrator
// never fabricates outputs.
func (o *Orchestrator) ValidateTransition(s *state.AgentState) (bool, models.Phase, []string) {
	current := s.Phase.CurrentPhase
	if current == models.PhaseComplete {
		return false, "", []string{"workflow already complete"}
	}
	cfg, ok := o.configs[current]
	if !ok {
		return false, "", []string{fmt.Sprintf("invalid phase: %s", current)}
	}

	var missing []string
	outputs := s.Phase.PhaseOutputs[current]
	for _, key := range cfg.RequiredOutputs {
		if outputs[key] == "" {
			missing = append(missing, key+" missing")
		}
	}
	for _, rule := range cfg.Rules {
		if !rule.Check(s) {
			missing = append(missing, rule.Description)
		}
	}
	if cfg.RequiresApproval {
		if s.ApprovedPlan == nil || s.ApprovedPlan.Status != models.PlanApproved || s.ApprovedPlan.Phase != string(current) {
			missing = append(missing, "approved plan missing for phase "+string(current))
		}
	}

	if len(missing) > 0 {
		return false, "", missing
	}
	return true, models.NextPhase(current), nil
}

// Advance moves the state to the next phase after validation passes. It
// appends the completing phase to CompletedPhases, records the validation
// result, and writes a context summary note. On validation failure the phase
// stays active and the missing requirements are recorded.
func (o *Orchestrator) Advance(s *state.AgentState) (bool, []string) {
	current := s.Phase.CurrentPhase
	ok, next, missing := o.ValidateTransition(s)

	if s.Phase.ValidationStatus == nil {
		s.Phase.ValidationStatus = make(map[models.Phase]models.ValidationResult)
	}
	s.Phase.ValidationStatus[current] = models.ValidationResult{Valid: ok, Missing: missing}

	if !ok {
		o.logger.Info("phase advance blocked", "phase", current, "missing", missing)
		return false, missing
	}

	s.Phase.CompletedPhases = append(s.Phase.CompletedPhases, current)
	s.Phase.CurrentPhase = next
	s.Phase.ContextSummary = fmt.Sprintf("Advanced from %s to %s", current, next)
	// Fresh phase, fresh todo list: the next CurrentAgent call regenerates.
	s.Todos = nil

	o.logger.Info("phase advanced", "from", current, "to", next)
	return true, nil
}

// HandleApprovalResponse applies the host's answer to a plan-approval
// interrupt and returns the resulting state update. Approved plans are
// stored and allow the phase to advance; edited plans are re-stored pending;
// rejected plans are re-stored with status rejected and the reviewer's
// feedback. A rejected plan is not removed from PendingPlans, and the phase
// stays active.
func (o *Orchestrator) HandleApprovalResponse(s *state.AgentState, plan models.Plan, resp models.InterruptResponse) state.Update {
	switch resp.Action {
	case models.ApprovalActionApprove:
		plan.Status = models.PlanApproved
		if plan.Phase == "" {
			plan.Phase = string(s.Phase.CurrentPhase)
		}
		return state.Update{ApprovedPlan: &plan, PendingPlans: []models.Plan{plan}}
	case models.ApprovalActionEdit:
		mods := models.PlanModifications{}
		if resp.Modifications != nil {
			mods = *resp.Modifications
		}
		modified := plan.ApplyModifications(mods, resp.Feedback)
		if modified.Phase == "" {
			modified.Phase = string(s.Phase.CurrentPhase)
		}
		return state.Update{PendingPlans: []models.Plan{modified}}
	default:
		plan.Status = models.PlanRejected
		plan.Feedback = resp.Feedback
		if plan.Feedback == "" {
			plan.Feedback = "Plan rejected by user"
		}
		return state.Update{PendingPlans: []models.Plan{plan}}
	}
}
