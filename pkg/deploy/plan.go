package deploy

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/glidepush/glidepush/pkg/platform"
)

// PlanItem is one artifact in a multi-artifact deployment plan. Needs
// lists the names of artifacts that must deploy and verify first.
type PlanItem struct {
	Request *DeploymentRequest
	Needs   []string
}

// Plan is a validated, ordered multi-artifact deployment. Items execute
// sequentially in dependency order; independent items keep the manifest's
// relative order within their level.
type Plan struct {
	items  map[string]PlanItem
	order  []string
	levels [][]string
}

// PlanBuilder resolves plan items into an executable order. Dependencies
// form a directed acyclic graph; a cycle or a dangling need is a
// validation error before anything touches the platform.
type PlanBuilder struct {
	items     map[string]PlanItem
	adjacency map[string][]string
	inDegree  map[string]int
	levels    [][]string
}

// NewPlanBuilder creates a plan builder.
func NewPlanBuilder() *PlanBuilder {
	return &PlanBuilder{
		items:     make(map[string]PlanItem),
		adjacency: make(map[string][]string),
		inDegree:  make(map[string]int),
	}
}

// Build validates the items and computes the execution order.
func (b *PlanBuilder) Build(items []PlanItem) (*Plan, error) {
	if err := b.initialize(items); err != nil {
		return nil, err
	}
	if err := b.detectCycles(); err != nil {
		return nil, err
	}
	if err := b.computeLevels(); err != nil {
		return nil, err
	}

	order := make([]string, 0, len(b.items))
	for _, level := range b.levels {
		order = append(order, level...)
	}

	return &Plan{
		items:  b.items,
		order:  order,
		levels: b.levels,
	}, nil
}

// initialize indexes the items and builds the dependency graph.
func (b *PlanBuilder) initialize(items []PlanItem) error {
	if len(items) == 0 {
		return NewValidationError("deployment plan is empty", nil)
	}

	for _, item := range items {
		if item.Request == nil {
			return NewValidationError("plan item without a request", nil)
		}
		if err := item.Request.Validate(); err != nil {
			return err
		}
		name := item.Request.Name
		if _, exists := b.items[name]; exists {
			return NewValidationError(
				fmt.Sprintf("duplicate artifact name in plan: %s", name), nil).
				WithArtifact(name)
		}
		b.items[name] = item
		b.inDegree[name] = 0
	}

	for name, item := range b.items {
		for _, need := range item.Needs {
			if _, exists := b.items[need]; !exists {
				return NewValidationError(
					fmt.Sprintf("artifact %s needs unknown artifact %s", name, need), nil).
					WithArtifact(name)
			}
			if need == name {
				return NewValidationError(
					fmt.Sprintf("artifact %s needs itself", name), nil).
					WithArtifact(name)
			}
			b.adjacency[need] = append(b.adjacency[need], name)
			b.inDegree[name]++
		}
	}

	return nil
}

// detectCycles runs a depth-first search over the dependency graph and
// reports the first cycle found.
func (b *PlanBuilder) detectCycles() error {
	visited := make(map[string]bool)
	recStack := make(map[string]bool)

	var visit func(name string, path []string) error
	visit = func(name string, path []string) error {
		visited[name] = true
		recStack[name] = true
		path = append(path, name)

		for _, dependent := range b.adjacency[name] {
			if !visited[dependent] {
				if err := visit(dependent, path); err != nil {
					return err
				}
			} else if recStack[dependent] {
				return NewValidationError(
					"deployment plan has a dependency cycle: "+formatCycle(path, dependent), nil)
			}
		}

		recStack[name] = false
		return nil
	}

	names := make([]string, 0, len(b.items))
	for name := range b.items {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		if !visited[name] {
			if err := visit(name, nil); err != nil {
				return err
			}
		}
	}
	return nil
}

// computeLevels performs Kahn's algorithm, grouping items into levels of
// equal dependency depth.
func (b *PlanBuilder) computeLevels() error {
	inDegree := make(map[string]int, len(b.inDegree))
	for name, deg := range b.inDegree {
		inDegree[name] = deg
	}

	current := make([]string, 0)
	for name, deg := range inDegree {
		if deg == 0 {
			current = append(current, name)
		}
	}
	sort.Strings(current)

	processed := 0
	for len(current) > 0 {
		b.levels = append(b.levels, current)
		processed += len(current)

		next := make([]string, 0)
		for _, name := range current {
			for _, dependent := range b.adjacency[name] {
				inDegree[dependent]--
				if inDegree[dependent] == 0 {
					next = append(next, dependent)
				}
			}
		}
		sort.Strings(next)
		current = next
	}

	if processed != len(b.items) {
		// detectCycles runs first, so this is a safety net.
		return NewValidationError("deployment plan ordering did not converge", nil)
	}
	return nil
}

// formatCycle renders the cycle path from where it closes.
func formatCycle(path []string, repeated string) string {
	start := 0
	for i, name := range path {
		if name == repeated {
			start = i
			break
		}
	}
	cycle := append(append([]string{}, path[start:]...), repeated)
	return strings.Join(cycle, " -> ")
}

// Order returns the artifact names in execution order.
func (p *Plan) Order() []string {
	out := make([]string, len(p.order))
	copy(out, p.order)
	return out
}

// Levels returns the artifact names grouped by dependency depth.
func (p *Plan) Levels() [][]string {
	out := make([][]string, len(p.levels))
	for i, level := range p.levels {
		out[i] = append([]string{}, level...)
	}
	return out
}

// Size returns the number of items in the plan.
func (p *Plan) Size() int {
	return len(p.items)
}

// Item returns the plan item for an artifact name.
func (p *Plan) Item(name string) (PlanItem, bool) {
	item, ok := p.items[name]
	return item, ok
}

// DOT renders the dependency graph in Graphviz format for inspection.
func (p *Plan) DOT() string {
	var b strings.Builder
	b.WriteString("digraph deployment_plan {\n")
	b.WriteString("  rankdir=LR;\n")

	for _, name := range p.order {
		item := p.items[name]
		fmt.Fprintf(&b, "  %q [label=\"%s\\n(%s)\"];\n", name, name, item.Request.Kind)
	}
	for _, name := range p.order {
		for _, need := range p.items[name].Needs {
			fmt.Fprintf(&b, "  %q -> %q;\n", need, name)
		}
	}

	b.WriteString("}\n")
	return b.String()
}

// PlanItemResult is the per-artifact result of a plan run.
type PlanItemResult struct {
	// Name is the artifact name.
	Name string `json:"name"`

	// Kind is the artifact kind.
	Kind platform.ArtifactKind `json:"kind"`

	// Outcome is the deployment outcome, when the item ran.
	Outcome *DeploymentOutcome `json:"outcome,omitempty"`

	// Skipped is true when the item never ran because a dependency
	// failed.
	Skipped bool `json:"skipped"`

	// Error explains a skip or a rejected request.
	Error *DeployError `json:"error,omitempty"`
}

// PlanResult aggregates one sequential run of a deployment plan.
type PlanResult struct {
	// Results holds one entry per plan item, in execution order.
	Results []PlanItemResult `json:"results"`

	// Success is true only when every item deployed and verified.
	Success bool `json:"success"`

	// StartedAt is when the plan run began.
	StartedAt time.Time `json:"started_at"`

	// CompletedAt is when the plan run finished.
	CompletedAt time.Time `json:"completed_at"`

	// Duration is the total plan run time.
	Duration time.Duration `json:"duration"`
}

// DeployPlan runs every item of the plan sequentially in dependency
// order. An item whose needs did not verify is skipped with a dependency
// error; the rest of the plan still runs. The error return is reserved
// for context cancellation.
func (o *Orchestrator) DeployPlan(ctx context.Context, plan *Plan) (*PlanResult, error) {
	result := &PlanResult{
		Results:   make([]PlanItemResult, 0, plan.Size()),
		Success:   true,
		StartedAt: time.Now(),
	}
	failed := make(map[string]bool)

	for _, name := range plan.order {
		item := plan.items[name]
		itemResult := PlanItemResult{
			Name: name,
			Kind: item.Request.Kind,
		}

		if blocked := firstFailedNeed(item.Needs, failed); blocked != "" {
			itemResult.Skipped = true
			itemResult.Error = NewValidationError(
				fmt.Sprintf("dependency %s did not deploy", blocked), nil).
				WithCode(ErrCodeDependencyFailed).
				WithArtifact(name)
			failed[name] = true
			result.Success = false
			result.Results = append(result.Results, itemResult)
			o.logger.WithArtifact(string(item.Request.Kind), name).
				WithField("blocked_by", blocked).
				Warn("Skipping artifact, dependency failed")
			continue
		}

		outcome, err := o.Deploy(ctx, item.Request)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			itemResult.Error = ClassifyRemoteError(err, "deploying "+name)
			failed[name] = true
			result.Success = false
			result.Results = append(result.Results, itemResult)
			continue
		}

		itemResult.Outcome = outcome
		if !outcome.Success {
			failed[name] = true
			result.Success = false
		}
		result.Results = append(result.Results, itemResult)
	}

	result.CompletedAt = time.Now()
	result.Duration = result.CompletedAt.Sub(result.StartedAt)
	return result, nil
}

// firstFailedNeed returns the first dependency that failed or was
// skipped, or "".
func firstFailedNeed(needs []string, failed map[string]bool) string {
	for _, need := range needs {
		if failed[need] {
			return need
		}
	}
	return ""
}
