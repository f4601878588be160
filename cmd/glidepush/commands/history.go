package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/glidepush/glidepush/pkg/stores"
)

func newHistoryCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Deployment history",
		Long: `Inspect the local deployment history.

Every deployment run is recorded in the workspace SQLite database: the
request, the terminal outcome, and every strategy attempt with its
classified error. History never contains unverified successes.`,
	}

	cmd.AddCommand(newHistoryListCommand())
	cmd.AddCommand(newHistoryShowCommand())
	cmd.AddCommand(newHistoryPruneCommand())

	return cmd
}

func newHistoryListCommand() *cobra.Command {
	var (
		kind   string
		name   string
		status string
		limit  int
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recorded deployments",
		Example: `  # Most recent deployments
  glidepush history list

  # Failed flow deployments
  glidepush history list --kind flow --status failed

  # Runs for one artifact
  glidepush history list --name incident_autoclose`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			ws, store, err := openHistory(cmd)
			if err != nil {
				return err
			}
			defer ws.Close()

			deployments, err := store.ListDeployments(cmd.Context(), stores.DeploymentFilter{
				Kind:   kind,
				Name:   name,
				Status: stores.DeploymentStatus(status),
				Limit:  limit,
			})
			if err != nil {
				return err
			}

			if jsonOutput {
				printJSON(deployments)
				return nil
			}
			if len(deployments) == 0 {
				fmt.Println("No recorded deployments")
				return nil
			}

			fmt.Printf("%-20s %-26s %-9s %-9s %-16s %-36s\n",
				"STARTED", "ARTIFACT", "MODE", "STATUS", "STRATEGY", "ID")
			for _, d := range deployments {
				fmt.Printf("%-20s %-26s %-9s %-9s %-16s %-36s\n",
					d.StartedAt.Local().Format("2006-01-02 15:04:05"),
					truncate(d.Kind+"/"+d.Name, 26),
					d.Mode, d.Status, d.StrategyUsed, d.ID)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&kind, "kind", "", "filter by artifact kind")
	cmd.Flags().StringVar(&name, "name", "", "filter by artifact name")
	cmd.Flags().StringVar(&status, "status", "", "filter by status (succeeded, failed)")
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum rows")

	return cmd
}

func newHistoryShowCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <deployment-id>",
		Short: "Show one deployment with its attempts",
		Example: `  # Show a run with per-strategy attempts
  glidepush history show 6f4cf662-9ac5-44d8-a1f8-6a9a17f3a7c1`,
		Args:         cobra.ExactArgs(1),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			ws, store, err := openHistory(cmd)
			if err != nil {
				return err
			}
			defer ws.Close()

			deployment, err := store.GetDeployment(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			attempts, err := store.ListAttempts(cmd.Context(), deployment.ID)
			if err != nil {
				return err
			}

			if jsonOutput {
				printJSON(struct {
					Deployment *stores.Deployment `json:"deployment"`
					Attempts   []*stores.Attempt  `json:"attempts"`
				}{deployment, attempts})
				return nil
			}

			printDeployment(deployment, attempts)
			return nil
		},
	}

	return cmd
}

func newHistoryPruneCommand() *cobra.Command {
	var olderThan time.Duration

	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Delete old deployment records",
		Example: `  # Drop everything older than 30 days
  glidepush history prune --older-than 720h`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			ws, store, err := openHistory(cmd)
			if err != nil {
				return err
			}
			defer ws.Close()

			cutoff := time.Now().Add(-olderThan)
			pruned, err := store.PruneBefore(cmd.Context(), cutoff)
			if err != nil {
				return err
			}
			fmt.Printf("✓ Pruned %d deployment(s) older than %s\n", pruned, olderThan)
			return nil
		},
	}

	cmd.Flags().DurationVar(&olderThan, "older-than", 30*24*time.Hour, "age threshold")

	return cmd
}

// openHistory opens the workspace and its history store, failing clearly
// when history is disabled.
func openHistory(cmd *cobra.Command) (*workspace, *stores.SQLiteStore, error) {
	ws, err := openWorkspace(buildVersion)
	if err != nil {
		return nil, nil, err
	}
	store, err := ws.historyStore(cmd.Context())
	if err != nil {
		ws.Close()
		return nil, nil, err
	}
	if store == nil {
		ws.Close()
		return nil, nil, fmt.Errorf("history is disabled (set history.enabled in %s)", configFileHint())
	}
	return ws, store, nil
}

// printDeployment renders one recorded run with its attempts.
func printDeployment(d *stores.Deployment, attempts []*stores.Attempt) {
	fmt.Printf("Deployment %s\n", d.ID)
	fmt.Printf("  artifact:  %s/%s (mode %s)\n", d.Kind, d.Name, d.Mode)
	fmt.Printf("  instance:  %s\n", d.Instance)
	fmt.Printf("  status:    %s\n", d.Status)
	if d.StrategyUsed != "" {
		fmt.Printf("  strategy:  %s\n", d.StrategyUsed)
	}
	if d.CanonicalID != "" {
		fmt.Printf("  sys_id:    %s\n", d.CanonicalID)
	}
	if d.PackageID != "" {
		fmt.Printf("  package:   %s\n", d.PackageID)
	}
	fmt.Printf("  verified:  %d round(s), completeness %d/3\n", d.VerificationRounds, d.CompletenessScore)
	if d.FailureReason != nil {
		fmt.Printf("  failure:   %s\n", *d.FailureReason)
	}
	fmt.Printf("  started:   %s (%dms)\n", d.StartedAt.Local().Format(time.RFC3339), d.DurationMS)

	if len(attempts) > 0 {
		fmt.Println("\nAttempts:")
		for _, a := range attempts {
			line := fmt.Sprintf("  %d. %s: %s", a.Position, a.Strategy, a.Status)
			if a.StatusCode > 0 {
				line += fmt.Sprintf(" (HTTP %d)", a.StatusCode)
			}
			if a.ErrorMessage != nil {
				line += " - " + *a.ErrorMessage
			}
			fmt.Println(line)
		}
	}
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-1] + "…"
}

// configFileHint names the config file in play for error messages.
func configFileHint() string {
	if configPath != "" {
		return configPath
	}
	return "glidepush.yaml"
}
