package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/glidepush/glidepush/pkg/config"
	"github.com/glidepush/glidepush/pkg/deploy"
	"github.com/glidepush/glidepush/pkg/platform"
)

func newDeployCommand() *cobra.Command {
	var (
		kind          string
		name          string
		defFile       string
		sysID         string
		mode          string
		strategyNames []string
		env           map[string]string
	)

	cmd := &cobra.Command{
		Use:   "deploy [manifest-path]",
		Short: "Deploy artifacts to the platform",
		Long: `Deploy artifacts and verify each one independently on the instance.

Two input shapes:
  - A manifest path (CUE file or directory): artifacts deploy in dependency
    order, transforms run first.
  - A single artifact via --kind, --name, and --file.

Every deployment walks the ordered strategy chain (package-import, then
direct-create) until one attempt passes verification. A 2xx response alone
never counts as success. Failures come back with numbered manual recovery
steps.`,
		Example: `  # Deploy everything in the manifest
  glidepush deploy ./manifest

  # Deploy a single flow from a definition file
  glidepush deploy --kind flow --name incident_autoclose --file flow.json

  # Stage in a remote update set instead of committing
  glidepush deploy ./manifest --mode planned

  # Restrict the strategy chain
  glidepush deploy ./manifest --strategy package-import

  # Machine-readable outcome
  glidepush deploy --kind widget --name approvals --file widget.json --json`,
		Args:         cobra.MaximumNArgs(1),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			if mode != "" {
				if err := deploy.Mode(mode).Validate(); err != nil {
					return err
				}
			}

			ws, err := openWorkspace(buildVersion)
			if err != nil {
				return err
			}
			defer ws.Close()

			if kind != "" || name != "" || defFile != "" {
				return deploySingle(ctx, ws, singleArtifact{
					kind: kind, name: name, defFile: defFile,
					sysID: sysID, mode: mode, strategies: strategyNames,
				})
			}

			path := "."
			if len(args) > 0 {
				path = args[0]
			}
			return deployManifest(ctx, ws, path, mode, env, strategyNames)
		},
	}

	cmd.Flags().StringVar(&kind, "kind", "", "artifact kind (flow, widget, script)")
	cmd.Flags().StringVar(&name, "name", "", "artifact display name")
	cmd.Flags().StringVarP(&defFile, "file", "f", "", "artifact definition JSON file")
	cmd.Flags().StringVar(&sysID, "sys-id", "", "known canonical sys_id of the artifact")
	cmd.Flags().StringVarP(&mode, "mode", "m", "", "deployment mode (immediate, planned)")
	cmd.Flags().StringSliceVar(&strategyNames, "strategy", nil, "restrict the strategy chain (package-import, direct-create)")
	cmd.Flags().StringToStringVarP(&env, "env", "e", nil, "variables passed to manifest transforms")

	return cmd
}

type singleArtifact struct {
	kind       string
	name       string
	defFile    string
	sysID      string
	mode       string
	strategies []string
}

// deploySingle deploys one artifact from a definition file.
func deploySingle(ctx context.Context, ws *workspace, art singleArtifact) error {
	if art.kind == "" || art.name == "" || art.defFile == "" {
		return fmt.Errorf("single-artifact deployment needs --kind, --name, and --file together")
	}

	definition, err := os.ReadFile(art.defFile)
	if err != nil {
		return fmt.Errorf("reading definition %s: %w", art.defFile, err)
	}

	mode := deploy.Mode(art.mode)
	if mode == "" {
		mode = deploy.ModeImmediate
	}

	req, err := deploy.NewRequest(platform.ArtifactKind(art.kind), art.name, definition, mode)
	if err != nil {
		return err
	}
	req.SysID = art.sysID

	profName, prof, err := ws.resolveProfile("")
	if err != nil {
		return err
	}
	orch, err := ws.orchestrator(ctx, profName, prof, art.strategies)
	if err != nil {
		return err
	}

	outcome, err := orch.Deploy(ctx, req)
	if err != nil {
		return err
	}

	if jsonOutput {
		printJSON(outcome)
	} else {
		printOutcome(req, outcome)
	}
	if !outcome.Success {
		return fmt.Errorf("deployment of %s/%s failed", art.kind, art.name)
	}
	return nil
}

// deployManifest parses a manifest and deploys its artifacts in
// dependency order.
func deployManifest(ctx context.Context, ws *workspace, path, mode string, env map[string]string, strategyNames []string) error {
	parser := config.NewManifestParser()
	manifest, err := parser.Parse(ctx, []string{path})
	if err != nil {
		return err
	}
	if manifest.HasErrors() {
		printManifestErrors(manifest)
		return fmt.Errorf("manifest %s has validation errors", path)
	}

	items, err := parser.PlanItems(ctx, manifest, config.PlanOptions{
		Mode: deploy.Mode(mode),
		Env:  env,
	})
	if err != nil {
		return err
	}
	plan, err := deploy.NewPlanBuilder().Build(items)
	if err != nil {
		return err
	}

	profName, prof, err := ws.resolveProfile(manifest.Deployment.Profile)
	if err != nil {
		return err
	}
	orch, err := ws.orchestrator(ctx, profName, prof, strategyNames)
	if err != nil {
		return err
	}

	if !jsonOutput {
		fmt.Printf("Deploying %d artifact(s) to %s (profile %s)\n\n",
			plan.Size(), instanceHost(prof), profName)
	}

	result, err := orch.DeployPlan(ctx, plan)
	if err != nil {
		return err
	}

	if jsonOutput {
		printJSON(result)
	} else {
		printPlanResult(result)
	}
	if !result.Success {
		return fmt.Errorf("deployment plan failed")
	}
	return nil
}

// printOutcome renders one deployment outcome for human eyes.
func printOutcome(req *deploy.DeploymentRequest, outcome *deploy.DeploymentOutcome) {
	ref := string(req.Kind) + "/" + req.Name
	if outcome.Success {
		fmt.Printf("✓ %s deployed via %s (sys_id %s, verified in %d round(s), %s)\n",
			ref, outcome.StrategyUsed,
			outcome.Verification.CanonicalID,
			outcome.Verification.AttemptsUsed,
			outcome.Duration.Round(timePrecision))
	} else {
		fmt.Printf("✗ %s failed after %d attempt(s)\n", ref, len(outcome.Attempts))
		if outcome.Verification != nil && outcome.Verification.Reason != "" {
			fmt.Printf("  reason: %s\n", outcome.Verification.Reason)
		} else if derr := outcome.LastError(); derr != nil {
			fmt.Printf("  reason: %s\n", derr.Message)
		}
	}
	for _, a := range outcome.Attempts {
		fmt.Printf("  - %s: %s\n", a.StrategyName, attemptSummary(a))
	}
	if outcome.ManualInstructions != "" {
		fmt.Printf("\n%s\n", outcome.ManualInstructions)
	}
}

// printPlanResult renders a manifest deployment run.
func printPlanResult(result *deploy.PlanResult) {
	succeeded := 0
	for _, item := range result.Results {
		ref := string(item.Kind) + "/" + item.Name
		switch {
		case item.Skipped:
			fmt.Printf("- %s skipped: %s\n", ref, item.Error.Message)
		case item.Outcome != nil && item.Outcome.Success:
			succeeded++
			fmt.Printf("✓ %s via %s (sys_id %s, %s)\n",
				ref, item.Outcome.StrategyUsed,
				item.Outcome.Verification.CanonicalID,
				item.Outcome.Duration.Round(timePrecision))
		case item.Outcome != nil:
			fmt.Printf("✗ %s failed: %s\n", ref, planFailureReason(item.Outcome))
			if item.Outcome.ManualInstructions != "" {
				fmt.Printf("\n%s\n", item.Outcome.ManualInstructions)
			}
		default:
			fmt.Printf("✗ %s rejected: %s\n", ref, item.Error.Message)
		}
	}
	fmt.Printf("\n%d/%d artifact(s) deployed and verified in %s\n",
		succeeded, len(result.Results), result.Duration.Round(timePrecision))
}

// printManifestErrors lists manifest validation errors with locations.
func printManifestErrors(manifest *config.Manifest) {
	for _, e := range manifest.Errors {
		loc := e.File
		if e.Line > 0 {
			loc = fmt.Sprintf("%s:%d:%d", e.File, e.Line, e.Column)
		}
		if e.Path != "" {
			fmt.Printf("%s: %s: %s: %s\n", e.Severity, loc, e.Path, e.Message)
		} else {
			fmt.Printf("%s: %s: %s\n", e.Severity, loc, e.Message)
		}
	}
}

// printJSON writes any value as indented JSON on stdout.
func printJSON(v interface{}) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fmt.Printf("{\"error\": %q}\n", err.Error())
		return
	}
	fmt.Println(string(data))
}

func attemptSummary(a deploy.DeploymentAttempt) string {
	switch a.Status {
	case deploy.AttemptStatusVerified:
		return fmt.Sprintf("verified (%s)", a.Duration.Round(timePrecision))
	case deploy.AttemptStatusSkipped:
		return "skipped (not eligible)"
	case deploy.AttemptStatusVerifyFailed:
		return "executed but never verified"
	default:
		if a.Error != nil {
			return a.Error.Message
		}
		return string(a.Status)
	}
}

func planFailureReason(outcome *deploy.DeploymentOutcome) string {
	if outcome.Verification != nil && outcome.Verification.Reason != "" {
		return outcome.Verification.Reason
	}
	if derr := outcome.LastError(); derr != nil {
		return derr.Message
	}
	return "all strategies exhausted"
}
