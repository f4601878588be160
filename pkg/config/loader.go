package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// DefaultFileName is the workspace configuration file name.
const DefaultFileName = "glidepush.yaml"

// DefaultConfig returns a configuration with production defaults and no
// profiles. Callers add profiles from file, environment, or flags.
func DefaultConfig() *Config {
	return &Config{
		Version:  "1",
		Profiles: make(map[string]Profile),
		Verification: VerificationSettings{
			MaxAttempts: 5,
			BaseDelay:   Duration(2 * time.Second),
		},
		History: HistorySettings{
			Enabled: true,
			Path:    "glidepush.db",
		},
		Policy: PolicySettings{
			Enabled: true,
		},
		Logging: LoggingSettings{
			Level:  "info",
			Format: "console",
			Output: "stderr",
		},
	}
}

// Load reads the workspace configuration. An empty path searches the
// default locations; a missing file at a searched location is not an
// error, the defaults apply and GLIDEPUSH_* variables can fill in the
// connection. An explicit path that does not exist is an error.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	explicit := path != ""
	if !explicit {
		path = findConfigFile()
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if explicit || !os.IsNotExist(err) {
				return nil, fmt.Errorf("reading config %s: %w", path, err)
			}
		} else {
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parsing config %s: %w", path, err)
			}
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// findConfigFile returns the first existing default location, or "".
func findConfigFile() string {
	candidates := []string{
		DefaultFileName,
		"glidepush.yml",
	}
	if dir, err := os.UserConfigDir(); err == nil {
		candidates = append(candidates, filepath.Join(dir, "glidepush", DefaultFileName))
	}
	for _, candidate := range candidates {
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return candidate
		}
	}
	return ""
}

// applyEnvOverrides overlays GLIDEPUSH_* environment variables onto the
// configuration. Connection variables target the profile named by
// GLIDEPUSH_PROFILE (default "default"), creating it when absent, so a
// bare environment with GLIDEPUSH_INSTANCE_URL and credentials is a
// complete configuration.
func applyEnvOverrides(cfg *Config) {
	profileName := os.Getenv("GLIDEPUSH_PROFILE")
	if profileName != "" {
		cfg.DefaultProfile = profileName
	}

	instanceURL := os.Getenv("GLIDEPUSH_INSTANCE_URL")
	username := os.Getenv("GLIDEPUSH_USERNAME")
	password := os.Getenv("GLIDEPUSH_PASSWORD")
	token := os.Getenv("GLIDEPUSH_TOKEN")

	if instanceURL != "" || username != "" || password != "" || token != "" {
		if profileName == "" {
			profileName = cfg.DefaultProfile
		}
		if profileName == "" {
			profileName = "default"
			cfg.DefaultProfile = profileName
		}
		profile := cfg.Profiles[profileName]
		if instanceURL != "" {
			profile.InstanceURL = instanceURL
		}
		if username != "" {
			profile.Username = username
		}
		if password != "" {
			profile.Password = password
		}
		if token != "" {
			profile.Token = token
		}
		if cfg.Profiles == nil {
			cfg.Profiles = make(map[string]Profile)
		}
		cfg.Profiles[profileName] = profile
	}

	if level := os.Getenv("GLIDEPUSH_LOG_LEVEL"); level != "" {
		cfg.Logging.Level = strings.ToLower(level)
	}
	if format := os.Getenv("GLIDEPUSH_LOG_FORMAT"); format != "" {
		cfg.Logging.Format = strings.ToLower(format)
	}
	if path := os.Getenv("GLIDEPUSH_HISTORY_PATH"); path != "" {
		cfg.History.Path = path
	}
}

// Validate checks the configuration for structural problems: struct tag
// violations plus cross-field rules the tags cannot express. Credential
// completeness is not checked here; offline commands run without any
// profile, and the platform client rejects incomplete credentials when a
// connection is actually made.
func (c *Config) Validate() error {
	validate := validator.New()
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	if c.DefaultProfile != "" {
		if _, ok := c.Profiles[c.DefaultProfile]; !ok {
			return fmt.Errorf("default_profile %q does not match any configured profile (configured: %s)",
				c.DefaultProfile, joinProfileNames(c.Profiles))
		}
	}

	return nil
}
