package commands

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

// timePrecision rounds durations in human output.
const timePrecision = 10 * time.Millisecond

var (
	// Global flags
	configPath  string
	profileName string
	logLevel    string
	logFormat   string
	jsonOutput  bool

	// buildVersion is the bare version string for telemetry and the
	// version command.
	buildVersion = "dev"
)

// Execute runs the root command
func Execute(ctx context.Context, version, commit, buildDate string) error {
	buildVersion = version
	rootCmd := newRootCommand(version, commit, buildDate)
	return rootCmd.ExecuteContext(ctx)
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "glidepush",
		Short: "GlidePush - Artifact Deployment Orchestrator",
		Long: `GlidePush deploys flow, widget, and script artifacts to a ServiceNow-class
platform and refuses to report success until the artifact has been independently
verified on the instance.

Features:
  - Ordered deployment strategies (transactional package import, direct create)
  - Independent post-deployment verification (a 2xx is never trusted)
  - CUE manifests with dependency ordering and Starlark transforms
  - OPA guardrail policies with hot reload
  - Local deployment history in SQLite
  - Update set bundle export to file or SFTP`,
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			applyLogFlags()
		},
	}

	// Persistent flags available to all commands
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file path")
	rootCmd.PersistentFlags().StringVarP(&profileName, "profile", "p", "", "instance profile to target")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (trace, debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "", "log format (console, json)")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output in JSON format")

	// Add subcommands
	rootCmd.AddCommand(newInitCommand())
	rootCmd.AddCommand(newValidateCommand())
	rootCmd.AddCommand(newDeployCommand())
	rootCmd.AddCommand(newVerifyCommand())
	rootCmd.AddCommand(newExportCommand())
	rootCmd.AddCommand(newHistoryCommand())
	rootCmd.AddCommand(newWatchCommand())
	rootCmd.AddCommand(newVersionCommand(version, commit, buildDate))

	return rootCmd
}

// applyLogFlags overrides the global logger from the --log-level and
// --log-format flags. Config file settings are applied later, when the
// command loads its workspace; flags win over both.
func applyLogFlags() {
	if logFormat == "json" {
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	}
	switch logLevel {
	case "trace":
		zerolog.SetGlobalLevel(zerolog.TraceLevel)
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "info":
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	case "warn":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	}
}
