package hooks

import (
	"context"
	"errors"
	"testing"

	"github.com/haasonsaas/deepplan/internal/state"
	"github.com/haasonsaas/deepplan/pkg/models"
)

func TestPipeline_PriorityOrder(t *testing.T) {
	p := NewPipeline(nil)
	var order []string

	p.Register(KindPreStep, "low", PriorityLow, func(ctx context.Context, hc *HookContext) (*Result, error) {
		order = append(order, "low")
		return &Result{Update: state.Update{Files: map[string]string{"low.md": "1"}}}, nil
	})
	p.Register(KindPreStep, "high", PriorityHigh, func(ctx context.Context, hc *HookContext) (*Result, error) {
		order = append(order, "high")
		return &Result{Update: state.Update{Files: map[string]string{"high.md": "1"}}}, nil
	})

	chain := p.Run(context.Background(), KindPreStep, state.New(), nil)

	if len(order) != 2 || order[0] != "high" || order[1] != "low" {
		t.Errorf("execution order = %v, want [high low]", order)
	}
	if len(chain.Updates) != 2 {
		t.Fatalf("updates = %d, want 2", len(chain.Updates))
	}
	// Higher-priority deltas merge first.
	if chain.Updates[0].Files["high.md"] == "" {
		t.Error("high-priority update not first")
	}
}

func TestPipeline_ErrorDoesNotAbortChain(t *testing.T) {
	p := NewPipeline(nil)
	ran := false

	p.Register(KindPostTool, "failing", PriorityHighest, func(ctx context.Context, hc *HookContext) (*Result, error) {
		return nil, errors.New("hook exploded")
	})
	p.Register(KindPostTool, "after", PriorityNormal, func(ctx context.Context, hc *HookContext) (*Result, error) {
		ran = true
		return nil, nil
	})

	chain := p.Run(context.Background(), KindPostTool, state.New(), nil)
	if !ran {
		t.Error("subsequent hook did not run after failure")
	}
	if chain.Fatal {
		t.Error("hook error must not be fatal")
	}

	stats := p.StatsSnapshot()
	if stats["post_tool/failing"].Errors != 1 {
		t.Errorf("failing hook errors = %d, want 1", stats["post_tool/failing"].Errors)
	}
}

func TestPipeline_PanicRecovered(t *testing.T) {
	p := NewPipeline(nil)
	p.Register(KindPreTool, "panicky", PriorityNormal, func(ctx context.Context, hc *HookContext) (*Result, error) {
		panic("boom")
	})

	chain := p.Run(context.Background(), KindPreTool, state.New(), nil)
	if chain.Fatal {
		t.Error("panic must be contained, not fatal")
	}
	stats := p.StatsSnapshot()
	if stats["pre_tool/panicky"].Panics != 1 {
		t.Errorf("panics = %d, want 1", stats["pre_tool/panicky"].Panics)
	}
}

func TestPipeline_FatalEscalation(t *testing.T) {
	p := NewPipeline(nil)
	p.Register(KindPostTool, "guard", PriorityNormal, func(ctx context.Context, hc *HookContext) (*Result, error) {
		return &Result{Fatal: true, FatalReason: "repeated tool failures"}, nil
	})

	chain := p.Run(context.Background(), KindPostTool, state.New(), nil)
	if !chain.Fatal {
		t.Fatal("fatal escalation lost")
	}
	if chain.FatalReason != "repeated tool failures" {
		t.Errorf("reason = %q", chain.FatalReason)
	}
}

func TestPipeline_Unregister(t *testing.T) {
	p := NewPipeline(nil)
	id := p.Register(KindPreStep, "temp", PriorityNormal, func(ctx context.Context, hc *HookContext) (*Result, error) {
		t.Error("unregistered hook ran")
		return nil, nil
	})
	if !p.Unregister(id) {
		t.Fatal("Unregister returned false")
	}
	p.Run(context.Background(), KindPreStep, state.New(), nil)
}

func TestPipeline_SharedSnapshot(t *testing.T) {
	p := NewPipeline(nil)
	snapshot := state.New()
	snapshot.Apply(state.Update{Messages: []models.Message{models.NewUserMessage("one")}})

	var seen []int
	for i := 0; i < 2; i++ {
		p.Register(KindPreStep, "observer", PriorityNormal, func(ctx context.Context, hc *HookContext) (*Result, error) {
			seen = append(seen, len(hc.State.Messages))
			return nil, nil
		})
	}

	p.Run(context.Background(), KindPreStep, snapshot, nil)
	if len(seen) != 2 || seen[0] != seen[1] {
		t.Errorf("hooks observed different message sequences: %v", seen)
	}
}
