package deploy

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/glidepush/glidepush/pkg/platform"
)

// Mode selects how far a deployment is taken on the platform.
type Mode string

const (
	// ModeImmediate deploys and commits the artifact in one run.
	ModeImmediate Mode = "immediate"

	// ModePlanned stages the artifact in a remote update set and stops
	// after preview. A human commits the package from the platform UI.
	ModePlanned Mode = "planned"
)

// Validate checks if the mode is valid.
func (m Mode) Validate() error {
	switch m {
	case ModeImmediate, ModePlanned:
		return nil
	default:
		return fmt.Errorf("invalid deployment mode: %s", m)
	}
}

// DeploymentRequest describes one artifact to push to the platform.
// Immutable once submitted to the orchestrator.
type DeploymentRequest struct {
	// ID is the unique identifier for this request.
	ID string `json:"id"`

	// Kind is the artifact kind being deployed.
	Kind platform.ArtifactKind `json:"kind"`

	// Name is the artifact's display name on the platform.
	Name string `json:"name"`

	// Definition is the opaque artifact body. Its shape is owned by the
	// generator that produced it; the orchestrator never interprets it
	// beyond field passthrough.
	Definition json.RawMessage `json:"definition"`

	// Mode selects immediate deployment or planned staging.
	Mode Mode `json:"mode"`

	// SysID is an optional caller-supplied canonical identifier. When set
	// the resolver uses it before falling back to a name lookup.
	SysID string `json:"sys_id,omitempty"`

	// CreatedAt is when the request was constructed.
	CreatedAt time.Time `json:"created_at"`
}

// NewRequest constructs a validated deployment request.
func NewRequest(kind platform.ArtifactKind, name string, definition json.RawMessage, mode Mode) (*DeploymentRequest, error) {
	req := &DeploymentRequest{
		ID:         uuid.New().String(),
		Kind:       kind,
		Name:       name,
		Definition: definition,
		Mode:       mode,
		CreatedAt:  time.Now(),
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}
	return req, nil
}

// Validate checks the request for structural problems before any remote
// call is made.
func (r *DeploymentRequest) Validate() error {
	if err := r.Kind.Validate(); err != nil {
		return NewValidationError("invalid request", err).WithArtifact(r.Name)
	}
	if !r.Kind.Deployable() {
		return NewValidationError(
			fmt.Sprintf("kind %s cannot be deployed directly", r.Kind), nil).
			WithArtifact(r.Name)
	}
	if r.Name == "" {
		return NewValidationError("artifact name is required", nil)
	}
	if len(r.Definition) == 0 {
		return NewValidationError("artifact definition is required", nil).
			WithArtifact(r.Name)
	}
	if !json.Valid(r.Definition) {
		return NewValidationError("artifact definition is not valid JSON", nil).
			WithArtifact(r.Name)
	}
	if err := r.Mode.Validate(); err != nil {
		return NewValidationError("invalid request", err).WithArtifact(r.Name)
	}
	return nil
}

// DeploymentAttempt records one strategy execution. Created once per
// strategy, never mutated after the orchestrator moves on.
type DeploymentAttempt struct {
	// StrategyName is the strategy that produced this attempt.
	StrategyName string `json:"strategy_name"`

	// Status is the terminal status of the attempt.
	Status AttemptStatus `json:"status"`

	// RawResponse is the provider response exactly as returned, when the
	// strategy completed its remote calls.
	RawResponse json.RawMessage `json:"raw_response,omitempty"`

	// StatusCode is the HTTP status of the strategy's final remote call.
	StatusCode int `json:"status_code,omitempty"`

	// Error is the classified failure, when the attempt did not verify.
	Error *DeployError `json:"error,omitempty"`

	// StartedAt is when the strategy began executing.
	StartedAt time.Time `json:"started_at"`

	// CompletedAt is when the attempt reached a terminal status.
	CompletedAt time.Time `json:"completed_at"`

	// Duration is the total attempt time including verification.
	Duration time.Duration `json:"duration"`
}

// SignalSet captures which verification signals matched. The primary
// signal alone decides the verified flag; the other two are evidence for
// diagnostics.
type SignalSet struct {
	// PrimaryExists is true when the artifact's main record was found.
	PrimaryExists bool `json:"primary_exists"`

	// DetailExists is true when structural evidence was found.
	DetailExists bool `json:"detail_exists"`

	// BindingExists is true when activation evidence was found.
	BindingExists bool `json:"binding_exists"`
}

// Score returns the number of signals that matched.
func (s SignalSet) Score() int {
	score := 0
	if s.PrimaryExists {
		score++
	}
	if s.DetailExists {
		score++
	}
	if s.BindingExists {
		score++
	}
	return score
}

// VerificationResult is the outcome of one verification call. Produced
// fresh per call and never cached: remote state may have changed.
type VerificationResult struct {
	// Verified is true only when the primary signal was found and a
	// canonical identifier is known.
	Verified bool `json:"verified"`

	// CanonicalID is the platform's stable identifier for the artifact.
	// Always set when Verified is true.
	CanonicalID string `json:"canonical_id,omitempty"`

	// CompletenessScore is the number of signals found in the deciding
	// round. Advisory only; it never gates the verified flag.
	CompletenessScore int `json:"completeness_score"`

	// Signals are the per-signal results from the deciding round.
	Signals SignalSet `json:"signals"`

	// AttemptsUsed is the 1-indexed round at which verification succeeded,
	// or the round limit if it never did.
	AttemptsUsed int `json:"attempts_used"`

	// Reason explains a failed verification.
	Reason string `json:"reason,omitempty"`
}

// DeploymentOutcome is the terminal result of one orchestrator run and the
// sole externally visible product of a deployment request.
type DeploymentOutcome struct {
	// RequestID is the ID of the request that produced this outcome.
	RequestID string `json:"request_id"`

	// Success is true only when some strategy's result passed independent
	// verification. An HTTP 2xx alone never sets it.
	Success bool `json:"success"`

	// StrategyUsed is the strategy whose attempt verified.
	StrategyUsed string `json:"strategy_used,omitempty"`

	// Verification is the result of the last verification call.
	Verification *VerificationResult `json:"verification,omitempty"`

	// Attempts are all strategy attempts in execution order.
	Attempts []DeploymentAttempt `json:"attempts"`

	// PackageID is the remote update set holding the artifact, when a
	// package strategy staged or committed one.
	PackageID string `json:"package_id,omitempty"`

	// ManualInstructions are literal numbered steps for completing or
	// recovering the deployment by hand. Always set on failure; set on
	// success only when a planned-mode package still needs a commit.
	ManualInstructions string `json:"manual_instructions,omitempty"`

	// StartedAt is when the orchestrator accepted the request.
	StartedAt time.Time `json:"started_at"`

	// CompletedAt is when the run reached a terminal state.
	CompletedAt time.Time `json:"completed_at"`

	// Duration is the total run time.
	Duration time.Duration `json:"duration"`
}

// FailedAttempts returns the number of attempts that did not verify.
func (o *DeploymentOutcome) FailedAttempts() int {
	n := 0
	for _, a := range o.Attempts {
		if a.Status == AttemptStatusFailed || a.Status == AttemptStatusVerifyFailed {
			n++
		}
	}
	return n
}

// LastError returns the classified error of the most recent failed
// attempt, or nil when every attempt verified or was skipped.
func (o *DeploymentOutcome) LastError() *DeployError {
	for i := len(o.Attempts) - 1; i >= 0; i-- {
		if o.Attempts[i].Error != nil {
			return o.Attempts[i].Error
		}
	}
	return nil
}
