package policy

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/glidepush/glidepush/pkg/deploy"
)

// Gate screens deployment requests through the policy engine. It
// implements deploy.PolicyGate so the orchestrator stays unaware of OPA.
type Gate struct {
	engine   *Engine
	instance InstanceInput
	logger   zerolog.Logger
}

// NewGate creates a gate bound to one target instance. The instance
// fields reach policies as input.instance.
func NewGate(engine *Engine, instance InstanceInput, logger zerolog.Logger) *Gate {
	return &Gate{
		engine:   engine,
		instance: instance,
		logger:   logger.With().Str("component", "policy-gate").Logger(),
	}
}

// Check evaluates the request against all enabled policies. A denial or
// an engine failure both return a DeployError with code POLICY_DENIED;
// the gate fails closed when the engine itself cannot evaluate.
func (g *Gate) Check(ctx context.Context, req *deploy.DeploymentRequest) error {
	input := &Input{
		Request: &RequestInput{
			Kind:  string(req.Kind),
			Name:  req.Name,
			Mode:  string(req.Mode),
			SysID: req.SysID,
		},
		Instance: &InstanceInput{
			Host:       g.instance.Host,
			Profile:    g.instance.Profile,
			Production: g.instance.Production,
		},
		Context: &EvalContext{
			Timestamp: time.Now(),
			Operation: "deploy",
		},
	}

	result, err := g.engine.EvaluateRequest(ctx, input)
	if err != nil {
		return deploy.NewValidationError("policy evaluation failed", err).
			WithCode(deploy.ErrCodePolicyDenied).
			WithArtifact(req.Name)
	}

	for _, warning := range result.Warnings {
		g.logger.Warn().
			Str("artifact", req.Name).
			Msg(warning)
	}

	if result.Allowed {
		return nil
	}

	denials := result.Denials()
	messages := make([]string, 0, len(denials))
	for _, v := range denials {
		messages = append(messages, fmt.Sprintf("%s: %s", v.Policy, v.Message))
	}

	g.logger.Warn().
		Str("artifact", req.Name).
		Int("denials", len(denials)).
		Msg("Deployment denied by policy")

	return deploy.NewValidationError(
		fmt.Sprintf("denied by policy: %s", strings.Join(messages, "; ")), nil).
		WithCode(deploy.ErrCodePolicyDenied).
		WithArtifact(req.Name)
}
