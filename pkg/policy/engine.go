package policy

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/open-policy-agent/opa/ast"
	"github.com/open-policy-agent/opa/rego"
	"github.com/open-policy-agent/opa/storage"
	"github.com/open-policy-agent/opa/storage/inmem"
	"github.com/rs/zerolog"
)

// fallbackPackage is queried when a policy omits its package clause.
const fallbackPackage = "glidepush.policies"

// Engine evaluates guardrail policies against deployment requests before
// anything is sent to an instance.
type Engine struct {
	mu              sync.RWMutex
	policies        map[string]*compiledPolicy
	store           storage.Store
	logger          zerolog.Logger
	builtinPolicies []Policy
}

type compiledPolicy struct {
	policy   *Policy
	module   *ast.Module
	compiled time.Time
}

// NewEngine creates a new policy engine with the builtin baseline loaded.
func NewEngine(logger zerolog.Logger) (*Engine, error) {
	e := &Engine{
		policies:        make(map[string]*compiledPolicy),
		store:           inmem.New(),
		logger:          logger.With().Str("component", "policy-engine").Logger(),
		builtinPolicies: GetBuiltinPolicies(),
	}

	if err := e.loadBuiltins(context.Background()); err != nil {
		return nil, fmt.Errorf("failed to load built-in policies: %w", err)
	}

	return e, nil
}

// EvaluateRequest evaluates all enabled policies against one deployment
// request. A policy that fails to evaluate lands in Warnings and neither
// approves nor denies; Allowed is false when any violation carries error
// or critical severity.
func (e *Engine) EvaluateRequest(ctx context.Context, input *Input) (*Result, error) {
	startTime := time.Now()
	e.mu.RLock()
	defer e.mu.RUnlock()

	if input.Context == nil {
		input.Context = &EvalContext{Timestamp: time.Now(), Operation: "deploy"}
	}

	var violations []Violation
	var warnings []string
	for _, cp := range e.policies {
		if !cp.policy.Enabled {
			continue
		}
		found, err := e.eval(ctx, cp, input)
		if err != nil {
			e.logger.Error().Err(err).
				Str("policy", cp.policy.Name).
				Msg("Policy evaluation failed")
			warnings = append(warnings, fmt.Sprintf("Policy %s evaluation failed: %v", cp.policy.Name, err))
			continue
		}
		violations = append(violations, found...)
	}

	result := &Result{
		Allowed:     !anyBlocking(violations),
		Violations:  violations,
		Warnings:    warnings,
		EvaluatedAt: time.Now(),
		Duration:    time.Since(startTime),
	}

	e.logger.Debug().
		Bool("allowed", result.Allowed).
		Int("violations", len(violations)).
		Dur("duration", result.Duration).
		Msg("Request policy evaluation completed")

	return result, nil
}

func anyBlocking(violations []Violation) bool {
	for i := range violations {
		if violations[i].Severity == SeverityError || violations[i].Severity == SeverityCritical {
			return true
		}
	}
	return false
}

// eval runs one compiled policy's deny set against the input.
func (e *Engine) eval(ctx context.Context, cp *compiledPolicy, input *Input) ([]Violation, error) {
	query := fmt.Sprintf("data.%s.deny", regoPackage(cp.policy.Rego))

	results, err := rego.New(
		rego.Module(cp.policy.Name, cp.policy.Rego),
		rego.Query(query),
		rego.Input(input),
	).Eval(ctx)
	if err != nil {
		return nil, fmt.Errorf("policy evaluation error: %w", err)
	}

	var violations []Violation
	for _, res := range results {
		for _, expr := range res.Expressions {
			denials, ok := expr.Value.([]interface{})
			if !ok {
				continue
			}
			for _, d := range denials {
				violations = append(violations, newViolation(cp.policy, d, input))
			}
		}
	}
	return violations, nil
}

// regoPackage returns the package declared in the policy source, or the
// fallback when none is found.
func regoPackage(src string) string {
	for _, line := range strings.Split(src, "\n") {
		rest, ok := strings.CutPrefix(strings.TrimSpace(line), "package ")
		if !ok {
			continue
		}
		if fields := strings.Fields(rest); len(fields) > 0 {
			return fields[0]
		}
	}
	return fallbackPackage
}

// newViolation shapes one deny entry. String denials become the message;
// object denials may override severity and artifact.
func newViolation(policy *Policy, denial interface{}, input *Input) Violation {
	v := Violation{
		Policy:     policy.Name,
		Severity:   policy.Severity,
		DetectedAt: time.Now(),
	}
	if input.Request != nil {
		v.Artifact = input.Request.Name
	}

	switch d := denial.(type) {
	case string:
		v.Message = d
	case map[string]interface{}:
		if msg, ok := d["message"].(string); ok {
			v.Message = msg
		}
		if sev, ok := d["severity"].(string); ok {
			v.Severity = Severity(sev)
		}
		if artifact, ok := d["artifact"].(string); ok {
			v.Artifact = artifact
		}
	default:
		v.Message = fmt.Sprintf("%v", denial)
	}
	return v
}

// LoadPolicies loads policy files from the given paths and compiles them
// alongside the builtin baseline.
func (e *Engine) LoadPolicies(ctx context.Context, paths []string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	policies, err := NewLoader(e.logger).LoadFromPaths(ctx, paths)
	if err != nil {
		return fmt.Errorf("failed to load policies: %w", err)
	}

	for i := range policies {
		if err := e.compile(ctx, &policies[i]); err != nil {
			e.logger.Error().Err(err).
				Str("policy", policies[i].Name).
				Msg("Failed to compile policy")
			return fmt.Errorf("failed to compile policy %s: %w", policies[i].Name, err)
		}
	}

	e.logger.Info().
		Int("count", len(policies)).
		Msg("Policies loaded successfully")

	return nil
}

// ReplacePolicies swaps in a fresh policy set: the builtin baseline plus
// the given policies. Used by the hot-reload path so a deleted file's
// rules do not linger.
func (e *Engine) ReplacePolicies(ctx context.Context, policies []Policy) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	old := e.policies
	e.policies = make(map[string]*compiledPolicy)

	if err := e.loadBuiltins(ctx); err != nil {
		e.policies = old
		return err
	}
	for i := range policies {
		if err := e.compile(ctx, &policies[i]); err != nil {
			e.policies = old
			return fmt.Errorf("failed to compile policy %s: %w", policies[i].Name, err)
		}
	}

	e.logger.Info().
		Int("count", len(policies)).
		Msg("Policies replaced")

	return nil
}

// compile parses and prepares the policy, then stores it under its name.
// Preparing eagerly surfaces a broken policy at load, not at the first
// deployment.
func (e *Engine) compile(ctx context.Context, policy *Policy) error {
	module, err := ast.ParseModule(policy.Name, policy.Rego)
	if err != nil {
		return fmt.Errorf("failed to parse policy: %w", err)
	}

	r := rego.New(
		rego.Module(policy.Name, policy.Rego),
		rego.Store(e.store),
		rego.Query("data"),
	)
	if _, err := r.PrepareForEval(ctx); err != nil {
		return fmt.Errorf("failed to prepare query: %w", err)
	}

	e.policies[policy.Name] = &compiledPolicy{
		policy:   policy,
		module:   module,
		compiled: time.Now(),
	}

	e.logger.Debug().
		Str("policy", policy.Name).
		Msg("Policy compiled successfully")

	return nil
}

func (e *Engine) loadBuiltins(ctx context.Context) error {
	for i := range e.builtinPolicies {
		if err := e.compile(ctx, &e.builtinPolicies[i]); err != nil {
			return fmt.Errorf("failed to compile built-in policy %s: %w", e.builtinPolicies[i].Name, err)
		}
	}

	e.logger.Debug().
		Int("count", len(e.builtinPolicies)).
		Msg("Built-in policies loaded")

	return nil
}

// GetPolicy returns a policy by name.
func (e *Engine) GetPolicy(name string) (*Policy, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	cp, ok := e.policies[name]
	if !ok {
		return nil, fmt.Errorf("policy not found: %s", name)
	}
	return cp.policy, nil
}

// ListPolicies returns all loaded policies.
func (e *Engine) ListPolicies() []Policy {
	e.mu.RLock()
	defer e.mu.RUnlock()

	policies := make([]Policy, 0, len(e.policies))
	for _, cp := range e.policies {
		policies = append(policies, *cp.policy)
	}
	return policies
}

// EnablePolicy enables a policy by name.
func (e *Engine) EnablePolicy(name string) error {
	return e.setEnabled(name, true)
}

// DisablePolicy disables a policy by name.
func (e *Engine) DisablePolicy(name string) error {
	return e.setEnabled(name, false)
}

func (e *Engine) setEnabled(name string, enabled bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	cp, ok := e.policies[name]
	if !ok {
		return fmt.Errorf("policy not found: %s", name)
	}
	cp.policy.Enabled = enabled

	msg := "Policy disabled"
	if enabled {
		msg = "Policy enabled"
	}
	e.logger.Info().Str("policy", name).Msg(msg)

	return nil
}
