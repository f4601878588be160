package deploy

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/glidepush/glidepush/pkg/platform"
	"github.com/glidepush/glidepush/pkg/telemetry"
)

// DirectCreateStrategy delivers an artifact by inserting its record
// straight into the kind's canonical table. It is the fallback behind
// package import: no sub-object capture, no audit package, but far fewer
// moving parts on the instance side.
type DirectCreateStrategy struct {
	client platform.Client
	logger *telemetry.Logger
}

// NewDirectCreateStrategy creates the direct create strategy.
func NewDirectCreateStrategy(client platform.Client, logger *telemetry.Logger) *DirectCreateStrategy {
	return &DirectCreateStrategy{
		client: client,
		logger: logger.WithStrategy(StrategyDirectCreate),
	}
}

// Name identifies the strategy in attempts, logs, and outcomes.
func (s *DirectCreateStrategy) Name() string {
	return StrategyDirectCreate
}

// Eligible reports whether the strategy can serve the request. Direct
// creation writes immediately, so planned mode has nothing for it to
// stage and it is skipped there.
func (s *DirectCreateStrategy) Eligible(req *DeploymentRequest) bool {
	return req.Kind.Deployable() && req.Mode != ModePlanned
}

// Execute posts the artifact record into its canonical table.
func (s *DirectCreateStrategy) Execute(ctx context.Context, req *DeploymentRequest) (*StrategyResult, error) {
	spec, err := platform.SpecFor(req.Kind)
	if err != nil {
		return nil, NewValidationError("resolving artifact table", err).
			WithArtifact(req.Name).
			WithStrategy(s.Name())
	}

	record, err := recordBody(req, spec)
	if err != nil {
		return nil, NewValidationError("preparing record body", err).
			WithArtifact(req.Name).
			WithStrategy(s.Name())
	}

	log := s.logger.WithArtifact(string(req.Kind), req.Name)
	log.WithField("table", spec.Table).Debug("Creating record")

	raw, err := s.client.Execute(ctx, http.MethodPost, "/api/now/table/"+spec.Table, record)
	if err != nil {
		return nil, fmt.Errorf("creating %s record: %w", spec.Table, err)
	}

	log.Info("Record created")
	return &StrategyResult{
		Raw:        raw,
		StatusCode: http.StatusCreated,
	}, nil
}

// recordBody decodes the definition and fills in the kind's name field
// and any pinned sys_id when the definition lacks them.
func recordBody(req *DeploymentRequest, spec *platform.KindSpec) (map[string]interface{}, error) {
	if len(req.Definition) == 0 {
		return nil, fmt.Errorf("definition is empty")
	}

	var record map[string]interface{}
	if err := json.Unmarshal(req.Definition, &record); err != nil {
		return nil, fmt.Errorf("definition is not a JSON object: %w", err)
	}

	if v, ok := record[spec.NameField].(string); !ok || v == "" {
		record[spec.NameField] = req.Name
	}
	if req.SysID != "" {
		record["sys_id"] = req.SysID
	}

	return record, nil
}
