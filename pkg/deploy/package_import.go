package deploy

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/glidepush/glidepush/pkg/bundle"
	"github.com/glidepush/glidepush/pkg/platform"
	"github.com/glidepush/glidepush/pkg/telemetry"
)

// Remote update set states driven through the Table API. The platform
// walks loaded -> previewed -> committed; preview surfaces collisions
// before anything is applied.
const (
	packageStateLoaded    = "loaded"
	packageStatePreviewed = "previewed"
	packageStateCommitted = "committed"
)

const remoteUpdateSetPath = "/api/now/table/sys_remote_update_set"

// PackageImportStrategy delivers an artifact through a transactional
// update set: stage the bundle as a remote update set, preview it for
// conflicts, and commit it. The package captures dependent sub-objects
// and leaves a reviewable audit trail on the instance, which is why it
// runs ahead of direct record creation.
//
// In planned mode the strategy stops after preview: the package stays
// staged on the instance and the result reports Committed false so the
// caller can hand off commit instructions.
type PackageImportStrategy struct {
	client platform.Client
	logger *telemetry.Logger
}

// NewPackageImportStrategy creates the package import strategy.
func NewPackageImportStrategy(client platform.Client, logger *telemetry.Logger) *PackageImportStrategy {
	return &PackageImportStrategy{
		client: client,
		logger: logger.WithStrategy(StrategyPackageImport),
	}
}

// Name identifies the strategy in attempts, logs, and outcomes.
func (s *PackageImportStrategy) Name() string {
	return StrategyPackageImport
}

// Eligible reports whether the strategy can serve the request. Package
// import serves every deployable kind in both modes.
func (s *PackageImportStrategy) Eligible(req *DeploymentRequest) bool {
	return req.Kind.Deployable()
}

// Execute stages the artifact bundle as a remote update set, previews it,
// and commits it unless the request is planned.
func (s *PackageImportStrategy) Execute(ctx context.Context, req *DeploymentRequest) (*StrategyResult, error) {
	b, err := bundle.Build(
		packageName(req),
		fmt.Sprintf("glidepush: %s %q", req.Kind, req.Name),
		[]bundle.Item{{
			Kind:       req.Kind,
			Name:       req.Name,
			Definition: req.Definition,
			SysID:      req.SysID,
		}},
	)
	if err != nil {
		return nil, NewValidationError("building deployment bundle", err).
			WithArtifact(req.Name).
			WithStrategy(s.Name())
	}

	log := s.logger.WithArtifact(string(req.Kind), req.Name)
	log.WithField("package_name", b.Name).Debug("Staging remote update set")

	packageID, err := s.stage(ctx, b)
	if err != nil {
		return nil, fmt.Errorf("staging update set %q: %w", b.Name, err)
	}

	log = log.WithField("package_id", packageID)
	log.Debug("Previewing update set")

	raw, err := s.transition(ctx, packageID, packageStatePreviewed)
	if err != nil {
		return nil, fmt.Errorf("previewing update set %s: %w", packageID, err)
	}

	result := &StrategyResult{
		Raw:         raw,
		StatusCode:  http.StatusOK,
		PackageID:   packageID,
		PackageName: b.Name,
	}

	if req.Mode == ModePlanned {
		log.Info("Update set staged for review")
		return result, nil
	}

	log.Debug("Committing update set")

	raw, err = s.transition(ctx, packageID, packageStateCommitted)
	if err != nil {
		return nil, fmt.Errorf("committing update set %s: %w", packageID, err)
	}

	result.Raw = raw
	result.Committed = true
	log.Info("Update set committed")
	return result, nil
}

// stage creates the sys_remote_update_set row and its sys_update_xml
// members through the Table API, reproducing what an XML import produces.
// Returns the package's server-assigned sys_id.
func (s *PackageImportStrategy) stage(ctx context.Context, b *bundle.Bundle) (string, error) {
	raw, err := s.client.Execute(ctx, http.MethodPost, remoteUpdateSetPath, map[string]interface{}{
		"name":              b.Name,
		"description":       b.Description,
		"state":             packageStateLoaded,
		"application_name":  "Global",
		"application_scope": "global",
	})
	if err != nil {
		return "", err
	}

	packageID, err := createdSysID(raw)
	if err != nil {
		return "", err
	}

	for _, m := range b.Members {
		payload, err := m.Payload()
		if err != nil {
			return "", fmt.Errorf("rendering member %s: %w", m.Name, err)
		}
		_, err = s.client.Execute(ctx, http.MethodPost, "/api/now/table/sys_update_xml", map[string]interface{}{
			"name":              m.Name,
			"type":              m.Type,
			"table":             m.Table,
			"target_name":       m.TargetName,
			"category":          "customer",
			"update_domain":     "global",
			"payload":           payload,
			"remote_update_set": packageID,
		})
		if err != nil {
			return "", fmt.Errorf("staging member %s: %w", m.Name, err)
		}
	}

	return packageID, nil
}

// transition moves the remote update set to the given state.
func (s *PackageImportStrategy) transition(ctx context.Context, packageID, state string) (json.RawMessage, error) {
	return s.client.Execute(ctx, http.MethodPatch,
		remoteUpdateSetPath+"/"+packageID,
		map[string]interface{}{"state": state},
	)
}

// packageName builds the update set name for a request. The request id
// suffix keeps names unique across redeployments of the same artifact.
func packageName(req *DeploymentRequest) string {
	suffix := req.ID
	if len(suffix) > 8 {
		suffix = suffix[:8]
	}
	return fmt.Sprintf("glidepush_%s_%s_%s", req.Kind, req.Name, suffix)
}

// createdSysID pulls the sys_id out of a Table API create response.
func createdSysID(raw json.RawMessage) (string, error) {
	var envelope struct {
		Result struct {
			SysID string `json:"sys_id"`
		} `json:"result"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return "", fmt.Errorf("decoding create response: %w", err)
	}
	if envelope.Result.SysID == "" {
		return "", fmt.Errorf("create response carries no sys_id")
	}
	return envelope.Result.SysID, nil
}
