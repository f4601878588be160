package deploy

import (
	"context"
	"encoding/json"

	"github.com/glidepush/glidepush/pkg/platform"
	"github.com/glidepush/glidepush/pkg/telemetry"
)

// Strategy names, in chain order.
const (
	StrategyPackageImport = "package-import"
	StrategyDirectCreate  = "direct-create"
)

// StrategyResult is the raw outcome of one delivery attempt. It carries
// the provider response verbatim; judging whether the artifact really
// exists belongs to the verification engine, never to the strategy.
type StrategyResult struct {
	// Raw is the provider response from the strategy's final remote call.
	// Its shape varies per strategy and platform version.
	Raw json.RawMessage `json:"raw"`

	// StatusCode is the HTTP status of the final remote call.
	StatusCode int `json:"status_code,omitempty"`

	// PackageID is the sys_id of the remote update set the strategy
	// created, when it delivered through a transactional package.
	PackageID string `json:"package_id,omitempty"`

	// PackageName is the name of that update set.
	PackageName string `json:"package_name,omitempty"`

	// Committed is true when the package was committed. Planned-mode runs
	// stop after preview and leave it false.
	Committed bool `json:"committed"`
}

// Strategy performs one concrete delivery attempt against the platform.
//
// A strategy must surface transport and validation errors unjudged: it
// never decides "deployed successfully". Strategies are tried in declared
// order and must be safe to follow after a predecessor's partial failure.
type Strategy interface {
	// Name identifies the strategy in attempts, logs, and outcomes.
	Name() string

	// Eligible reports whether the strategy can serve the request at all.
	// Ineligible strategies are recorded as skipped, not failed.
	Eligible(req *DeploymentRequest) bool

	// Execute performs the delivery attempt.
	Execute(ctx context.Context, req *DeploymentRequest) (*StrategyResult, error)
}

// DefaultStrategies returns the standard ordered chain: transactional
// package import first (captures dependent sub-objects and an audit
// trail), direct record creation second.
func DefaultStrategies(client platform.Client, logger *telemetry.Logger) []Strategy {
	return []Strategy{
		NewPackageImportStrategy(client, logger),
		NewDirectCreateStrategy(client, logger),
	}
}
