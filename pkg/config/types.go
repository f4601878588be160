package config

import (
	"fmt"
	"sort"
	"time"

	"github.com/glidepush/glidepush/pkg/platform"
	"github.com/glidepush/glidepush/pkg/telemetry"
	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration so YAML scalars like "30s" or "2m"
// round-trip through glidepush.yaml.
type Duration time.Duration

// UnmarshalYAML parses a duration scalar.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML renders the duration in time.Duration notation.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Config is the workspace configuration loaded from glidepush.yaml. It
// names the instance profiles deployments can target plus the local
// settings (verification pacing, history database, policies, telemetry).
type Config struct {
	// Version is the configuration format version.
	Version string `yaml:"version,omitempty" json:"version,omitempty"`

	// DefaultProfile names the profile used when no --profile flag or
	// manifest override selects one.
	DefaultProfile string `yaml:"default_profile,omitempty" json:"default_profile,omitempty"`

	// Profiles are the named instance connections.
	Profiles map[string]Profile `yaml:"profiles" json:"profiles" validate:"dive"`

	// Verification tunes the post-deployment verification engine.
	Verification VerificationSettings `yaml:"verification,omitempty" json:"verification,omitempty"`

	// History configures the local deployment history database.
	History HistorySettings `yaml:"history,omitempty" json:"history,omitempty"`

	// Policy configures guardrail policy evaluation.
	Policy PolicySettings `yaml:"policy,omitempty" json:"policy,omitempty"`

	// Export configures bundle export targets.
	Export ExportSettings `yaml:"export,omitempty" json:"export,omitempty"`

	// Logging configures structured log output.
	Logging LoggingSettings `yaml:"logging,omitempty" json:"logging,omitempty"`

	// Metrics configures the Prometheus endpoint.
	Metrics MetricsSettings `yaml:"metrics,omitempty" json:"metrics,omitempty"`

	// Events configures the internal event bus.
	Events EventsSettings `yaml:"events,omitempty" json:"events,omitempty"`

	// Tracing configures OpenTelemetry export.
	Tracing TracingSettings `yaml:"tracing,omitempty" json:"tracing,omitempty"`
}

// Profile is one named instance connection.
type Profile struct {
	// InstanceURL is the base URL, e.g. "https://dev12345.service-now.com".
	InstanceURL string `yaml:"instance_url" json:"instance_url" validate:"required,url"`

	// Username for basic authentication.
	Username string `yaml:"username,omitempty" json:"username,omitempty"`

	// Password for basic authentication. Prefer GLIDEPUSH_PASSWORD over
	// writing this into the file.
	Password string `yaml:"password,omitempty" json:"-"`

	// Token is an OAuth bearer token. Takes precedence over basic auth.
	Token string `yaml:"token,omitempty" json:"-"`

	// Timeout is the per-request transport timeout.
	Timeout Duration `yaml:"timeout,omitempty" json:"timeout,omitempty"`

	// Production marks the profile so guardrail policies can treat it
	// more strictly.
	Production bool `yaml:"production,omitempty" json:"production,omitempty"`
}

// PlatformConfig converts the profile into a platform client configuration.
func (p Profile) PlatformConfig() *platform.Config {
	cfg := platform.DefaultConfig()
	cfg.InstanceURL = p.InstanceURL
	cfg.Username = p.Username
	cfg.Password = p.Password
	cfg.Token = p.Token
	if p.Timeout > 0 {
		cfg.Timeout = p.Timeout.Std()
	}
	return cfg
}

// VerificationSettings tunes the verification engine.
type VerificationSettings struct {
	// MaxAttempts caps verification rounds per deployment.
	MaxAttempts int `yaml:"max_attempts,omitempty" json:"max_attempts,omitempty" validate:"omitempty,min=1,max=20"`

	// BaseDelay is the backoff unit between rounds.
	BaseDelay Duration `yaml:"base_delay,omitempty" json:"base_delay,omitempty"`
}

// HistorySettings configures the local history store.
type HistorySettings struct {
	// Enabled turns outcome recording on.
	Enabled bool `yaml:"enabled,omitempty" json:"enabled,omitempty"`

	// Path is the SQLite database file.
	Path string `yaml:"path,omitempty" json:"path,omitempty"`
}

// PolicySettings configures guardrail policies.
type PolicySettings struct {
	// Enabled turns policy evaluation on.
	Enabled bool `yaml:"enabled,omitempty" json:"enabled,omitempty"`

	// Paths are rego files or directories loaded in addition to the
	// builtin baseline.
	Paths []string `yaml:"paths,omitempty" json:"paths,omitempty"`

	// Watch reloads policies when files under Paths change.
	Watch bool `yaml:"watch,omitempty" json:"watch,omitempty"`
}

// ExportSettings configures where exported bundles go.
type ExportSettings struct {
	// Dir is the local directory for exported bundle files.
	Dir string `yaml:"dir,omitempty" json:"dir,omitempty"`

	// SFTP configures the remote drop target for `glidepush export --push`.
	SFTP SFTPSettings `yaml:"sftp,omitempty" json:"sftp,omitempty"`
}

// SFTPSettings configures the SFTP drop target.
type SFTPSettings struct {
	// Host is the SFTP server host.
	Host string `yaml:"host,omitempty" json:"host,omitempty"`

	// Port defaults to 22.
	Port int `yaml:"port,omitempty" json:"port,omitempty" validate:"omitempty,min=1,max=65535"`

	// Username for the SSH connection.
	Username string `yaml:"username,omitempty" json:"username,omitempty"`

	// Password for password authentication.
	Password string `yaml:"password,omitempty" json:"-"`

	// PrivateKeyPath is the path to an SSH private key; preferred over
	// Password when both are set.
	PrivateKeyPath string `yaml:"private_key_path,omitempty" json:"private_key_path,omitempty"`

	// RemoteDir is the directory bundles are uploaded into.
	RemoteDir string `yaml:"remote_dir,omitempty" json:"remote_dir,omitempty"`

	// Timeout bounds the dial and each transfer.
	Timeout Duration `yaml:"timeout,omitempty" json:"timeout,omitempty"`
}

// LoggingSettings is the YAML surface for log configuration.
type LoggingSettings struct {
	// Level sets the minimum log level (trace, debug, info, warn, error).
	Level string `yaml:"level,omitempty" json:"level,omitempty" validate:"omitempty,oneof=trace debug info warn error fatal"`

	// Format selects console or json output.
	Format string `yaml:"format,omitempty" json:"format,omitempty" validate:"omitempty,oneof=console json"`

	// Output selects stdout, stderr, or a file path.
	Output string `yaml:"output,omitempty" json:"output,omitempty"`
}

// MetricsSettings is the YAML surface for the metrics endpoint.
type MetricsSettings struct {
	// Enabled turns the Prometheus registry and endpoint on.
	Enabled bool `yaml:"enabled,omitempty" json:"enabled,omitempty"`

	// ListenAddress is the metrics HTTP listen address.
	ListenAddress string `yaml:"listen_address,omitempty" json:"listen_address,omitempty"`
}

// EventsSettings is the YAML surface for the event bus.
type EventsSettings struct {
	// Enabled turns event publishing on.
	Enabled bool `yaml:"enabled,omitempty" json:"enabled,omitempty"`

	// BufferSize is the async publish buffer.
	BufferSize int `yaml:"buffer_size,omitempty" json:"buffer_size,omitempty"`
}

// TracingSettings is the YAML surface for tracing.
type TracingSettings struct {
	// Enabled turns span export on.
	Enabled bool `yaml:"enabled,omitempty" json:"enabled,omitempty"`

	// Exporter selects otlp or stdout.
	Exporter string `yaml:"exporter,omitempty" json:"exporter,omitempty" validate:"omitempty,oneof=otlp stdout none"`

	// Endpoint is the OTLP collector endpoint.
	Endpoint string `yaml:"endpoint,omitempty" json:"endpoint,omitempty"`
}

// Profile resolves a profile by name. An empty name falls back to
// DefaultProfile, then to the sole profile when only one is configured.
func (c *Config) Profile(name string) (Profile, error) {
	if name == "" {
		name = c.DefaultProfile
	}
	if name == "" && len(c.Profiles) == 1 {
		for n := range c.Profiles {
			name = n
		}
	}
	if name == "" {
		return Profile{}, fmt.Errorf("no profile selected and no default_profile configured")
	}
	profile, ok := c.Profiles[name]
	if !ok {
		return Profile{}, fmt.Errorf("unknown profile %q (configured: %s)", name, joinProfileNames(c.Profiles))
	}
	return profile, nil
}

func joinProfileNames(profiles map[string]Profile) string {
	names := make([]string, 0, len(profiles))
	for name := range profiles {
		names = append(names, name)
	}
	sort.Strings(names)
	out := ""
	for i, name := range names {
		if i > 0 {
			out += ", "
		}
		out += name
	}
	return out
}

// Telemetry converts the flat YAML telemetry settings into the full
// telemetry configuration, filling unset knobs from the defaults.
func (c *Config) Telemetry(version string) *telemetry.Config {
	tc := telemetry.DefaultConfig()
	tc.ServiceVersion = version

	if c.Logging.Level != "" {
		tc.Logging.Level = c.Logging.Level
	}
	if c.Logging.Format != "" {
		tc.Logging.Format = c.Logging.Format
	}
	if c.Logging.Output != "" {
		tc.Logging.Output = c.Logging.Output
	}

	tc.Metrics.Enabled = c.Metrics.Enabled
	if c.Metrics.ListenAddress != "" {
		tc.Metrics.ListenAddress = c.Metrics.ListenAddress
	}

	tc.Events.Enabled = c.Events.Enabled
	if c.Events.BufferSize > 0 {
		tc.Events.BufferSize = c.Events.BufferSize
	}

	tc.Tracing.Enabled = c.Tracing.Enabled
	if c.Tracing.Exporter != "" {
		tc.Tracing.Exporter = c.Tracing.Exporter
	}
	if c.Tracing.Endpoint != "" {
		tc.Tracing.Endpoint = c.Tracing.Endpoint
	}

	return tc
}

// Manifest is a parsed deployment manifest: which artifacts to push, in
// what order, with what transforms.
type Manifest struct {
	// Deployment carries manifest-wide deployment settings.
	Deployment ManifestDeployment `json:"deployment"`

	// Artifacts are the artifacts to deploy.
	Artifacts []ManifestArtifact `json:"artifacts"`

	// SourceFiles are the CUE files that were parsed.
	SourceFiles []string `json:"source_files"`

	// ParsedAt is when the manifest was parsed.
	ParsedAt time.Time `json:"parsed_at"`

	// Errors lists any validation errors.
	Errors []ValidationError `json:"errors,omitempty"`
}

// HasErrors reports whether parsing or validation produced errors.
func (m *Manifest) HasErrors() bool {
	for _, e := range m.Errors {
		if e.Severity == "error" {
			return true
		}
	}
	return false
}

// ManifestDeployment carries manifest-wide deployment settings.
type ManifestDeployment struct {
	// Profile selects the instance profile. Empty uses the workspace
	// default.
	Profile string `json:"profile,omitempty"`

	// Mode is the default deployment mode for all artifacts.
	Mode string `json:"mode,omitempty" validate:"omitempty,oneof=immediate planned"`
}

// ManifestArtifact is one artifact entry in a manifest.
type ManifestArtifact struct {
	// Kind is the artifact kind (flow, widget, script).
	Kind string `json:"kind" validate:"required,oneof=flow widget script"`

	// Name is the artifact's display name on the platform.
	Name string `json:"name" validate:"required"`

	// SysID optionally pins the canonical identifier; when set the
	// resolver skips the name lookup.
	SysID string `json:"sys_id,omitempty" validate:"omitempty,len=32,hexadecimal"`

	// Definition is the artifact body to deploy.
	Definition map[string]interface{} `json:"definition" validate:"required"`

	// Needs lists artifact names that must deploy and verify first.
	Needs []string `json:"needs,omitempty"`

	// Transform is optional Starlark source run against the definition
	// before deployment.
	Transform string `json:"transform,omitempty"`
}

// ValidationError represents a validation error with location information.
type ValidationError struct {
	// File is the source file path.
	File string `json:"file,omitempty"`

	// Line is the line number (1-indexed).
	Line int `json:"line,omitempty"`

	// Column is the column number (1-indexed).
	Column int `json:"column,omitempty"`

	// Path is the CUE path to the error (e.g., "artifacts[2].kind").
	Path string `json:"path,omitempty"`

	// Message is the error message.
	Message string `json:"message"`

	// Severity is the error severity (error, warning, info).
	Severity string `json:"severity"`
}

// TransformResult is the outcome of one Starlark transform run.
type TransformResult struct {
	// Definition is the transformed artifact definition.
	Definition map[string]interface{} `json:"definition,omitempty"`

	// ExecutionTime is how long the script took to execute.
	ExecutionTime time.Duration `json:"execution_time"`

	// Error is any error that occurred.
	Error string `json:"error,omitempty"`
}
