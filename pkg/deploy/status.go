package deploy

import (
	"encoding/json"
	"fmt"
)

// DeploymentStatus represents the state of one orchestrator run.
type DeploymentStatus string

const (
	// StatusPending indicates the request is accepted but no strategy has
	// run yet.
	StatusPending DeploymentStatus = "pending"

	// StatusAttempting indicates a strategy is executing against the
	// platform.
	StatusAttempting DeploymentStatus = "attempting"

	// StatusVerifying indicates a strategy finished and the verification
	// engine is querying the platform.
	StatusVerifying DeploymentStatus = "verifying"

	// StatusSucceeded indicates verification passed for some strategy.
	StatusSucceeded DeploymentStatus = "succeeded"

	// StatusFailed indicates every strategy was exhausted without a
	// verified deployment.
	StatusFailed DeploymentStatus = "failed"
)

// IsTerminal returns true if the status represents a final state.
func (s DeploymentStatus) IsTerminal() bool {
	return s == StatusSucceeded || s == StatusFailed
}

// IsActive returns true if the deployment is still in progress.
func (s DeploymentStatus) IsActive() bool {
	return s == StatusPending || s == StatusAttempting || s == StatusVerifying
}

// Validate checks if the deployment status is valid.
func (s DeploymentStatus) Validate() error {
	switch s {
	case StatusPending, StatusAttempting, StatusVerifying, StatusSucceeded, StatusFailed:
		return nil
	default:
		return fmt.Errorf("invalid deployment status: %s", s)
	}
}

// MarshalJSON implements custom JSON marshaling for type-safe enum serialization.
func (s DeploymentStatus) MarshalJSON() ([]byte, error) {
	return json.Marshal(string(s))
}

// UnmarshalJSON implements custom JSON unmarshaling with validation.
func (s *DeploymentStatus) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}
	*s = DeploymentStatus(str)
	return s.Validate()
}

// AttemptStatus represents the outcome of one strategy execution.
type AttemptStatus string

const (
	// AttemptStatusExecuting indicates the strategy is running.
	AttemptStatusExecuting AttemptStatus = "executing"

	// AttemptStatusFailed indicates the strategy threw before verification
	// was invoked.
	AttemptStatusFailed AttemptStatus = "failed"

	// AttemptStatusVerifyFailed indicates the strategy claimed success but
	// verification could not prove the artifact exists.
	AttemptStatusVerifyFailed AttemptStatus = "verify_failed"

	// AttemptStatusVerified indicates the attempt passed verification.
	AttemptStatusVerified AttemptStatus = "verified"

	// AttemptStatusSkipped indicates the strategy was not eligible for the
	// request and never executed.
	AttemptStatusSkipped AttemptStatus = "skipped"
)

// IsTerminal returns true if the attempt status represents a final state.
func (s AttemptStatus) IsTerminal() bool {
	return s == AttemptStatusFailed || s == AttemptStatusVerifyFailed ||
		s == AttemptStatusVerified || s == AttemptStatusSkipped
}

// Validate checks if the attempt status is valid.
func (s AttemptStatus) Validate() error {
	switch s {
	case AttemptStatusExecuting, AttemptStatusFailed, AttemptStatusVerifyFailed,
		AttemptStatusVerified, AttemptStatusSkipped:
		return nil
	default:
		return fmt.Errorf("invalid attempt status: %s", s)
	}
}

// MarshalJSON implements custom JSON marshaling for type-safe enum serialization.
func (s AttemptStatus) MarshalJSON() ([]byte, error) {
	return json.Marshal(string(s))
}

// UnmarshalJSON implements custom JSON unmarshaling with validation.
func (s *AttemptStatus) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}
	*s = AttemptStatus(str)
	return s.Validate()
}
