package policy

import (
	"time"
)

// Severity grades a violation. Error and critical block the deployment;
// info and warning surface without blocking.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityError    Severity = "error"
	SeverityCritical Severity = "critical"
)

// Policy is one guardrail rule with its Rego source. Severity is the
// default for violations; a deny entry may override it per violation.
type Policy struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Rego        string `json:"rego"`

	Severity Severity `json:"severity"`
	Enabled  bool     `json:"enabled"`

	Tags     []string               `json:"tags,omitempty"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Violation is one deny entry produced by a policy evaluation.
type Violation struct {
	Policy   string   `json:"policy"`
	Artifact string   `json:"artifact,omitempty"`
	Message  string   `json:"message"`
	Severity Severity `json:"severity"`

	DetectedAt time.Time `json:"detected_at"`
}

// Result is the outcome of evaluating all policies against one
// deployment request.
type Result struct {
	// Allowed is false when any violation carries error or critical
	// severity.
	Allowed    bool        `json:"allowed"`
	Violations []Violation `json:"violations,omitempty"`

	// Warnings lists policies that failed to evaluate; a broken policy
	// never silently approves or denies.
	Warnings []string `json:"warnings,omitempty"`

	EvaluatedAt time.Time     `json:"evaluated_at"`
	Duration    time.Duration `json:"duration"`
}

// Denials returns only the violations that block deployment.
func (r *Result) Denials() []Violation {
	var denials []Violation
	for _, v := range r.Violations {
		if v.Severity == SeverityError || v.Severity == SeverityCritical {
			denials = append(denials, v)
		}
	}
	return denials
}

// Input is the document policies evaluate. Rego rules reach it as
// input.request and input.instance.
type Input struct {
	Request  *RequestInput  `json:"request,omitempty"`
	Instance *InstanceInput `json:"instance,omitempty"`
	Context  *EvalContext   `json:"context"`
}

// RequestInput is the request portion of the policy input.
type RequestInput struct {
	// Kind is flow, widget, or script.
	Kind string `json:"kind"`
	Name string `json:"name"`

	// Mode is immediate or planned.
	Mode string `json:"mode"`

	// SysID is the caller-pinned canonical identifier, when present.
	SysID string `json:"sys_id,omitempty"`
}

// InstanceInput is the target-instance portion of the policy input.
type InstanceInput struct {
	Host    string `json:"host"`
	Profile string `json:"profile,omitempty"`

	// Production marks profiles flagged production in the workspace
	// configuration.
	Production bool `json:"production"`
}

// EvalContext carries evaluation facts that are not part of the request
// itself.
type EvalContext struct {
	User      string    `json:"user,omitempty"`
	Timestamp time.Time `json:"timestamp"`

	// Operation is deploy or validate.
	Operation string `json:"operation,omitempty"`
	DryRun    bool   `json:"dry_run"`
}
