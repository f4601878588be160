package commands

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/glidepush/glidepush/pkg/config"
	"github.com/glidepush/glidepush/pkg/stores"
)

const defaultConfigTemplate = `# GlidePush workspace configuration

version: "1"
default_profile: dev

# Instance profiles. Keep passwords out of this file; GLIDEPUSH_PASSWORD
# (or GLIDEPUSH_TOKEN) overrides the default profile's credentials.
profiles:
  dev:
    instance_url: https://dev00000.service-now.com
    username: admin
    timeout: 30s
  # prod:
  #   instance_url: https://acme.service-now.com
  #   username: deploy-bot
  #   production: true

# Post-deployment verification pacing.
verification:
  max_attempts: 5
  base_delay: 2s

# Local deployment history.
history:
  enabled: true
  path: %s

# Guardrail policies: builtin baseline plus anything under paths.
policy:
  enabled: true
  paths:
    - %s
  watch: false

# Bundle export.
export:
  dir: %s

logging:
  level: info
  format: console
`

const sampleManifest = `// GlidePush deployment manifest.
//
// Artifacts deploy in dependency order ("needs"). Each one is pushed
// through the strategy chain and independently verified on the instance.

deployment: {
	profile: "dev"
	mode:    "immediate"
}

artifacts: {
	incident_autoclose: {
		kind: "flow"
		definition: {
			description: "Close resolved incidents after 7 days"
			active:      true
		}
	}
}
`

const samplePolicy = `# Rename to .rego to activate.
#
# Denies artifacts whose names do not carry the team prefix. Input shape:
#   input.request:  kind, name, mode, sys_id
#   input.instance: host, profile, production

package glidepush.policies.team_prefix

import rego.v1

deny contains violation if {
	request := input.request
	not startswith(request.name, "acme_")
	violation := {
		"message":  sprintf("artifact %q must carry the acme_ prefix", [request.name]),
		"severity": "error",
		"artifact": request.name,
	}
}
`

func newInitCommand() *cobra.Command {
	var (
		force bool
	)

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize a GlidePush workspace",
		Long: `Initialize a new GlidePush workspace: configuration file, sample
manifest, policy directory, and the local history database.

Existing files are left alone unless --force is given.`,
		Example: `  # Initialize the current directory
  glidepush init

  # Re-create the config file from the template
  glidepush init --force`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			log.Info().Bool("force", force).Msg("Initializing workspace")

			historyPath := "data/glidepush.db"
			policiesDir := "policies"
			exportDir := "bundles"
			manifestDir := "manifest"

			fmt.Printf("Initializing GlidePush workspace in %s\n\n", mustWorkingDir())

			// Step 1: Create directory structure
			for _, dir := range []string{"data", policiesDir, exportDir, manifestDir} {
				if err := os.MkdirAll(dir, 0755); err != nil {
					return fmt.Errorf("failed to create directory %s: %w", dir, err)
				}
				fmt.Printf("✓ Created directory: %s\n", dir)
			}

			// Step 2: Write the config file
			target := configPath
			if target == "" {
				target = config.DefaultFileName
			}
			content := fmt.Sprintf(defaultConfigTemplate, historyPath, policiesDir, exportDir)
			wrote, err := writeUnlessExists(target, []byte(content), force)
			if err != nil {
				return err
			}
			if wrote {
				fmt.Printf("✓ Created config file: %s\n", target)
			} else {
				fmt.Printf("✓ Config file already exists: %s\n", target)
			}

			// Step 3: Write the sample manifest
			manifestFile := filepath.Join(manifestDir, "glidepush.cue")
			wrote, err = writeUnlessExists(manifestFile, []byte(sampleManifest), force)
			if err != nil {
				return err
			}
			if wrote {
				fmt.Printf("✓ Created sample manifest: %s\n", manifestFile)
			} else {
				fmt.Printf("✓ Manifest already exists: %s\n", manifestFile)
			}

			// Step 4: Write the sample policy (inert until renamed)
			policyFile := filepath.Join(policiesDir, "team-prefix.rego.sample")
			if _, err := writeUnlessExists(policyFile, []byte(samplePolicy), force); err != nil {
				return err
			}
			fmt.Printf("✓ Created sample policy: %s\n", policyFile)

			// Step 5: Initialize the history database
			store, err := stores.NewSQLiteStore(stores.Config{Path: historyPath})
			if err != nil {
				return fmt.Errorf("failed to create history store: %w", err)
			}
			defer store.Close()

			if err := store.Init(cmd.Context()); err != nil {
				return fmt.Errorf("failed to initialize history store: %w", err)
			}
			if err := store.Migrate(cmd.Context()); err != nil {
				return fmt.Errorf("failed to run migrations: %w", err)
			}
			fmt.Printf("✓ Initialized history database: %s\n", historyPath)

			// Done
			fmt.Printf("\n✅ Workspace initialized successfully!\n\n")
			fmt.Printf("Next steps:\n")
			fmt.Printf("  1. Point the dev profile at your instance in %s\n", target)
			fmt.Printf("     and export GLIDEPUSH_PASSWORD (or GLIDEPUSH_TOKEN).\n\n")
			fmt.Printf("  2. Validate the sample manifest:\n")
			fmt.Printf("     glidepush validate ./%s\n\n", manifestDir)
			fmt.Printf("  3. Deploy it:\n")
			fmt.Printf("     glidepush deploy ./%s\n\n", manifestDir)

			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "overwrite existing files")

	return cmd
}

// writeUnlessExists writes a file, skipping silently when it already
// exists and force is off. Reports whether a write happened.
func writeUnlessExists(path string, data []byte, force bool) (bool, error) {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return false, nil
		}
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return false, fmt.Errorf("failed to write %s: %w", path, err)
	}
	return true, nil
}

func mustWorkingDir() string {
	dir, err := os.Getwd()
	if err != nil {
		return "."
	}
	return dir
}
