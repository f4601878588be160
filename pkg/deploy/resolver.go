package deploy

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/PaesslerAG/jsonpath"

	"github.com/glidepush/glidepush/pkg/platform"
	"github.com/glidepush/glidepush/pkg/telemetry"
)

// ResolutionMethod records how the resolver arrived at a canonical id.
type ResolutionMethod string

const (
	// ResolutionDirect means the id was extracted straight from the
	// provider response.
	ResolutionDirect ResolutionMethod = "direct"

	// ResolutionPackage means the response carried a package id that was
	// translated into the artifact's own id through the package members.
	ResolutionPackage ResolutionMethod = "package"

	// ResolutionOverride means the request pinned the id up front.
	ResolutionOverride ResolutionMethod = "override"

	// ResolutionLookup means a name query against the primary collection
	// found the id.
	ResolutionLookup ResolutionMethod = "lookup"

	// ResolutionUnresolved means no id could be determined. This is
	// "cannot verify", never "does not exist".
	ResolutionUnresolved ResolutionMethod = "unresolved"
)

// Resolution is the resolver's answer for one strategy result.
type Resolution struct {
	// CanonicalID is the artifact's sys_id, or "" when unresolved.
	CanonicalID string `json:"canonical_id,omitempty"`

	// Method says which extraction path produced the id.
	Method ResolutionMethod `json:"method"`

	// QueriesUsed counts the remote lookups the resolver issued.
	QueriesUsed int `json:"queries_used"`
}

// extractionPaths are tried in fixed priority order against the raw
// provider response. The platform answers with different envelope shapes
// depending on endpoint and version.
var extractionPaths = []string{
	"$.result.sys_id",
	"$.sys_id",
	"$.result[0].sys_id",
}

// Resolver turns heterogeneous provider responses into the artifact's
// canonical sys_id. It never invents existence: when every path comes up
// empty the resolution is unresolved and verification falls back to the
// primary query's own hit.
type Resolver struct {
	client platform.Client
	logger *telemetry.Logger
}

// NewResolver creates a metadata resolver.
func NewResolver(client platform.Client, logger *telemetry.Logger) *Resolver {
	return &Resolver{
		client: client,
		logger: logger.NewComponentLogger("resolver"),
	}
}

// Resolve determines the canonical sys_id for the artifact a strategy
// just delivered. Priority: id extracted from the response (translated
// when it names the delivery package rather than the artifact), then the
// request's pinned id, then a name lookup, then unresolved.
//
// A direct extraction issues zero remote queries; a name-only response
// costs exactly one lookup.
func (r *Resolver) Resolve(ctx context.Context, req *DeploymentRequest, result *StrategyResult) *Resolution {
	res := &Resolution{Method: ResolutionUnresolved}
	log := r.logger.WithArtifact(string(req.Kind), req.Name)

	if result != nil {
		if id := extractSysID(result.Raw); id != "" {
			if result.PackageID != "" && id == result.PackageID {
				translated := r.translatePackageID(ctx, req, id, res)
				if translated != "" {
					res.CanonicalID = translated
					res.Method = ResolutionPackage
					log.WithSysID(translated).Debug("Resolved through package members")
					return res
				}
				// The package id alone never identifies the artifact.
			} else {
				res.CanonicalID = id
				res.Method = ResolutionDirect
				log.WithSysID(id).Debug("Resolved from response")
				return res
			}
		}
	}

	if req.SysID != "" {
		res.CanonicalID = req.SysID
		res.Method = ResolutionOverride
		log.WithSysID(req.SysID).Debug("Resolved from request override")
		return res
	}

	if id := r.lookupByName(ctx, req, res); id != "" {
		res.CanonicalID = id
		res.Method = ResolutionLookup
		log.WithSysID(id).Debug("Resolved by name lookup")
		return res
	}

	log.Debug("Could not resolve canonical id")
	return res
}

// translatePackageID recovers the artifact's sys_id from the members of a
// delivery package. Member rows are named "<table>_<sys_id>"; the member
// targeting the artifact's table carries the id we want.
func (r *Resolver) translatePackageID(ctx context.Context, req *DeploymentRequest, packageID string, res *Resolution) string {
	spec, err := platform.SpecFor(req.Kind)
	if err != nil {
		return ""
	}

	// Members hang off remote_update_set before commit and update_set
	// after, so both foreign keys are checked.
	query := "remote_update_set=" + packageID + "^ORupdate_set=" + packageID
	res.QueriesUsed++
	records, err := r.client.Query(ctx, "sys_update_xml", query, 20)
	if err != nil {
		r.logger.WithError(err).Warn("Package member lookup failed")
		return ""
	}

	prefix := spec.Table + "_"
	for _, record := range records {
		name := record.GetString("name")
		if strings.HasPrefix(name, prefix) {
			return strings.TrimPrefix(name, prefix)
		}
	}
	return ""
}

// lookupByName queries the kind's primary collection for an exact name
// match. First match wins.
func (r *Resolver) lookupByName(ctx context.Context, req *DeploymentRequest, res *Resolution) string {
	spec, err := platform.SpecFor(req.Kind)
	if err != nil {
		return ""
	}

	res.QueriesUsed++
	records, err := r.client.Query(ctx, spec.Table, spec.NameField+"="+req.Name, 1)
	if err != nil {
		r.logger.WithError(err).Warn("Name lookup failed")
		return ""
	}
	if len(records) == 0 {
		return ""
	}
	return records[0].SysID()
}

// extractSysID walks the extraction paths over the raw response and
// returns the first non-empty string hit.
func extractSysID(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}

	var doc interface{}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return ""
	}

	for _, path := range extractionPaths {
		value, err := jsonpath.Get(path, doc)
		if err != nil {
			continue
		}
		if id, ok := value.(string); ok && id != "" {
			return id
		}
	}
	return ""
}
