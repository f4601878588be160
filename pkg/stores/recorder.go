package stores

import (
	"context"
	"fmt"
	"time"

	"github.com/glidepush/glidepush/pkg/deploy"
)

// Recorder adapts a Store to the orchestrator's recording hook. Every
// terminal outcome becomes one deployment row, its attempts, an audit
// entry, and an event per failed attempt.
type Recorder struct {
	store    Store
	instance string
	actor    string
}

// NewRecorder creates a recorder writing to the given store. The instance
// host is stamped on every recorded deployment.
func NewRecorder(store Store, instance string) *Recorder {
	return &Recorder{
		store:    store,
		instance: instance,
		actor:    "glidepush",
	}
}

// WithActor sets the audit actor, typically the invoking user.
func (r *Recorder) WithActor(actor string) *Recorder {
	r.actor = actor
	return r
}

// RecordOutcome persists a terminal deployment outcome.
func (r *Recorder) RecordOutcome(ctx context.Context, req *deploy.DeploymentRequest, outcome *deploy.DeploymentOutcome) error {
	d := &Deployment{
		ID:           outcome.RequestID,
		Kind:         string(req.Kind),
		Name:         req.Name,
		Mode:         string(req.Mode),
		Instance:     r.instance,
		Status:       DeploymentStatusFailed,
		StrategyUsed: outcome.StrategyUsed,
		PackageID:    outcome.PackageID,
		StartedAt:    outcome.StartedAt,
		CompletedAt:  outcome.CompletedAt,
		DurationMS:   outcome.Duration.Milliseconds(),
		CreatedAt:    time.Now(),
	}
	if outcome.Success {
		d.Status = DeploymentStatusSucceeded
	}
	if v := outcome.Verification; v != nil {
		d.CanonicalID = v.CanonicalID
		d.VerificationRounds = v.AttemptsUsed
		d.CompletenessScore = v.CompletenessScore
		if !outcome.Success && v.Reason != "" {
			reason := v.Reason
			d.FailureReason = &reason
		}
	}
	if d.FailureReason == nil && !outcome.Success {
		if derr := outcome.LastError(); derr != nil {
			msg := derr.Message
			d.FailureReason = &msg
		}
	}

	attempts := make([]Attempt, 0, len(outcome.Attempts))
	for i, a := range outcome.Attempts {
		rec := Attempt{
			Position:    i + 1,
			Strategy:    a.StrategyName,
			Status:      string(a.Status),
			StatusCode:  a.StatusCode,
			StartedAt:   a.StartedAt,
			CompletedAt: a.CompletedAt,
			DurationMS:  a.Duration.Milliseconds(),
		}
		if a.Error != nil {
			class := string(a.Error.Class)
			rec.ErrorClass = &class
			if a.Error.Code != "" {
				code := a.Error.Code
				rec.ErrorCode = &code
			}
			msg := a.Error.Message
			rec.ErrorMessage = &msg
		}
		attempts = append(attempts, rec)
	}

	if err := r.store.SaveDeployment(ctx, d, attempts); err != nil {
		return fmt.Errorf("saving deployment %s: %w", d.ID, err)
	}

	for _, a := range outcome.Attempts {
		if a.Error == nil {
			continue
		}
		details := a.Error.Message
		event := &Event{
			DeploymentID: &d.ID,
			Level:        EventLevelError,
			Message:      fmt.Sprintf("strategy %s: %s", a.StrategyName, a.Status),
			Details:      &details,
			Timestamp:    a.CompletedAt,
		}
		if err := r.store.AppendEvent(ctx, event); err != nil {
			return fmt.Errorf("appending event for %s: %w", d.ID, err)
		}
	}

	entry := &AuditEntry{
		Action:    "deployment.recorded",
		Actor:     r.actor,
		TargetID:  &d.ID,
		Timestamp: time.Now(),
	}
	if err := r.store.CreateAuditEntry(ctx, entry); err != nil {
		return fmt.Errorf("auditing deployment %s: %w", d.ID, err)
	}

	return nil
}
