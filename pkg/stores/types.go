package stores

import (
	"context"
	"database/sql"
	"time"
)

// DeploymentStatus is the terminal status of a recorded deployment.
type DeploymentStatus string

const (
	DeploymentStatusSucceeded DeploymentStatus = "succeeded"
	DeploymentStatusFailed    DeploymentStatus = "failed"
)

// EventLevel represents the severity level of an event
type EventLevel string

const (
	EventLevelDebug   EventLevel = "debug"
	EventLevelInfo    EventLevel = "info"
	EventLevelWarning EventLevel = "warning"
	EventLevelError   EventLevel = "error"
)

// Deployment is one recorded deployment run: the request that started it
// and the terminal outcome, flattened for querying.
type Deployment struct {
	ID                 string           `json:"id"`
	Kind               string           `json:"kind"`
	Name               string           `json:"name"`
	Mode               string           `json:"mode"`
	Instance           string           `json:"instance"`
	Status             DeploymentStatus `json:"status"`
	StrategyUsed       string           `json:"strategy_used,omitempty"`
	CanonicalID        string           `json:"canonical_id,omitempty"`
	PackageID          string           `json:"package_id,omitempty"`
	VerificationRounds int              `json:"verification_rounds"`
	CompletenessScore  int              `json:"completeness_score"`
	FailureReason      *string          `json:"failure_reason,omitempty"`
	StartedAt          time.Time        `json:"started_at"`
	CompletedAt        time.Time        `json:"completed_at"`
	DurationMS         int64            `json:"duration_ms"`
	CreatedAt          time.Time        `json:"created_at"`
}

// Attempt is one strategy attempt within a recorded deployment.
type Attempt struct {
	ID           int64     `json:"id"`
	DeploymentID string    `json:"deployment_id"`
	Position     int       `json:"position"`
	Strategy     string    `json:"strategy"`
	Status       string    `json:"status"`
	StatusCode   int       `json:"status_code,omitempty"`
	ErrorClass   *string   `json:"error_class,omitempty"`
	ErrorCode    *string   `json:"error_code,omitempty"`
	ErrorMessage *string   `json:"error_message,omitempty"`
	StartedAt    time.Time `json:"started_at"`
	CompletedAt  time.Time `json:"completed_at"`
	DurationMS   int64     `json:"duration_ms"`
}

// Event represents an append-only log event
type Event struct {
	ID           int64      `json:"id"`
	DeploymentID *string    `json:"deployment_id,omitempty"`
	Level        EventLevel `json:"level"`
	Message      string     `json:"message"`
	Details      *string    `json:"details,omitempty"` // JSON blob
	Timestamp    time.Time  `json:"timestamp"`
}

// AuditEntry represents an audit trail entry
type AuditEntry struct {
	ID        int64     `json:"id"`
	Action    string    `json:"action"` // e.g., "deployment.recorded", "history.pruned"
	Actor     string    `json:"actor"`  // user or system identifier
	TargetID  *string   `json:"target_id,omitempty"`
	Details   *string   `json:"details,omitempty"` // JSON blob
	Timestamp time.Time `json:"timestamp"`
}

// DeploymentFilter narrows a deployment listing. Zero fields match
// everything.
type DeploymentFilter struct {
	Kind   string
	Name   string
	Status DeploymentStatus
	Limit  int
	Offset int
}

// Store defines the interface for the persistence layer
type Store interface {
	// Lifecycle
	Init(ctx context.Context) error
	Close() error
	Migrate(ctx context.Context) error

	// Transaction support
	BeginTx(ctx context.Context) (*sql.Tx, error)
	CommitTx(tx *sql.Tx) error
	RollbackTx(tx *sql.Tx) error

	// Deployment operations
	SaveDeployment(ctx context.Context, d *Deployment, attempts []Attempt) error
	GetDeployment(ctx context.Context, id string) (*Deployment, error)
	ListDeployments(ctx context.Context, filter DeploymentFilter) ([]*Deployment, error)
	LastDeployment(ctx context.Context, kind, name string) (*Deployment, error)
	ListAttempts(ctx context.Context, deploymentID string) ([]*Attempt, error)
	DeleteDeployment(ctx context.Context, id string) error
	PruneBefore(ctx context.Context, cutoff time.Time) (int64, error)

	// Event operations
	AppendEvent(ctx context.Context, event *Event) error
	GetEvents(ctx context.Context, deploymentID *string, level *EventLevel, limit, offset int) ([]*Event, error)

	// Audit operations
	CreateAuditEntry(ctx context.Context, entry *AuditEntry) error
	ListAuditEntries(ctx context.Context, action *string, actor *string, limit, offset int) ([]*AuditEntry, error)

	// Utility
	HealthCheck(ctx context.Context) error
}
