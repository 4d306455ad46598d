package hooks

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/haasonsaas/deepplan/internal/state"
)

// Pipeline manages hook registrations and dispatch. Hooks within a kind run
// in ascending priority order; registration order breaks ties.
type Pipeline struct {
	mu     sync.RWMutex
	hooks  map[Kind][]*registration
	byID   map[string]*registration
	stats  map[string]*Stats
	logger *slog.Logger
}

type registration struct {
	id       string
	kind     Kind
	name     string
	priority int
	seq      int
	fn       Func
}

// NewPipeline creates an empty hook pipeline. A nil logger defaults to
// slog.Default.
func NewPipeline(logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		hooks:  make(map[Kind][]*registration),
		byID:   make(map[string]*registration),
		stats:  make(map[string]*Stats),
		logger: logger.With("component", "hooks"),
	}
}

// Register adds a hook of the given kind and returns its registration id.
// Priority runs 1 (highest) to 100 (lowest); out-of-range values are clamped.
func (p *Pipeline) Register(kind Kind, name string, priority int, fn Func) string {
	if priority < PriorityHighest {
		priority = PriorityHighest
	}
	if priority > PriorityLowest {
		priority = PriorityLowest
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	reg := &registration{
		id:       uuid.NewString(),
		kind:     kind,
		name:     name,
		priority: priority,
		seq:      len(p.byID),
		fn:       fn,
	}
	p.hooks[kind] = append(p.hooks[kind], reg)
	sort.SliceStable(p.hooks[kind], func(i, j int) bool {
		a, b := p.hooks[kind][i], p.hooks[kind][j]
		if a.priority != b.priority {
			return a.priority < b.priority
		}
		return a.seq < b.seq
	})
	p.byID[reg.id] = reg
	p.stats[reg.id] = &Stats{}

	p.logger.Debug("registered hook", "id", reg.id, "kind", kind, "name", name, "priority", priority)
	return reg.id
}

// Unregister removes a hook by registration id.
func (p *Pipeline) Unregister(id string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	reg, ok := p.byID[id]
	if !ok {
		return false
	}
	delete(p.byID, id)
	regs := p.hooks[reg.kind]
	for i, r := range regs {
		if r.id == id {
			p.hooks[reg.kind] = append(regs[:i], regs[i+1:]...)
			break
		}
	}
	return true
}

// ChainResult aggregates the outcome of one hook-chain run.
type ChainResult struct {
	// Updates holds the non-empty state deltas in priority order.
	Updates []state.Update

	// Fatal is set when any hook escalated; FatalReason carries the first
	// escalation's reason.
	Fatal       bool
	FatalReason string
}

// Run executes the hook chain for a kind against a snapshot of the state.
// Every hook of the chain observes the same snapshot. Hook errors and panics
// are counted and logged, never propagated; subsequent hooks still run.
func (p *Pipeline) Run(ctx context.Context, kind Kind, snapshot *state.AgentState, metadata map[string]any) ChainResult {
	p.mu.RLock()
	regs := make([]*registration, len(p.hooks[kind]))
	copy(regs, p.hooks[kind])
	p.mu.RUnlock()

	hc := &HookContext{
		Kind:      kind,
		State:     snapshot,
		Metadata:  metadata,
		Timestamp: time.Now(),
	}

	var chain ChainResult
	for _, reg := range regs {
		result, err := p.runOne(ctx, reg, hc)
		if err != nil {
			p.mu.Lock()
			p.statsFor(reg.id).Errors++
			p.mu.Unlock()
			p.logger.Warn("hook failed", "kind", kind, "name", reg.name, "error", err)
			continue
		}
		if result == nil {
			continue
		}
		if !result.Update.IsZero() {
			p.mu.Lock()
			p.statsFor(reg.id).Applied++
			p.mu.Unlock()
			chain.Updates = append(chain.Updates, result.Update)
		}
		if result.Fatal && !chain.Fatal {
			chain.Fatal = true
			chain.FatalReason = result.FatalReason
		}
	}
	return chain
}

func (p *Pipeline) runOne(ctx context.Context, reg *registration, hc *HookContext) (result *Result, err error) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			result = nil
			err = fmt.Errorf("hook panic: %v", r)
			p.mu.Lock()
			p.statsFor(reg.id).Panics++
			p.mu.Unlock()
		}
		p.mu.Lock()
		st := p.statsFor(reg.id)
		st.Runs++
		st.Duration += time.Since(start)
		p.mu.Unlock()
	}()
	return reg.fn(ctx, hc)
}

// statsFor must be called with at least a read lock when only reading, or
// the write lock when mutating.
func (p *Pipeline) statsFor(id string) *Stats {
	st, ok := p.stats[id]
	if !ok {
		st = &Stats{}
		p.stats[id] = st
	}
	return st
}

// StatsSnapshot returns a copy of per-hook stats keyed by "kind/name".
func (p *Pipeline) StatsSnapshot() map[string]Stats {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make(map[string]Stats, len(p.stats))
	for id, st := range p.stats {
		reg := p.byID[id]
		if reg == nil {
			continue
		}
		out[string(reg.kind)+"/"+reg.name] = *st
	}
	return out
}
