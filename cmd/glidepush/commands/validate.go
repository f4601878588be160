package commands

import (
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/glidepush/glidepush/pkg/config"
	"github.com/glidepush/glidepush/pkg/deploy"
	"github.com/glidepush/glidepush/pkg/policy"
)

func newValidateCommand() *cobra.Command {
	var (
		mode string
		env  map[string]string
	)

	cmd := &cobra.Command{
		Use:   "validate [manifest-path]",
		Short: "Validate a manifest without deploying",
		Long: `Validate a deployment manifest end to end without touching the instance.

This command checks:
  - CUE syntax and schema conformance (kind enum, names, sys_id shape)
  - Starlark transforms (each one runs against its definition)
  - Dependency ordering (needs must resolve, no cycles)
  - Guardrail policies (the same gate a real deployment passes through)

Nothing is sent to the platform.`,
		Example: `  # Validate the manifest in the current directory
  glidepush validate

  # Validate a specific manifest
  glidepush validate ./manifest

  # Validate as a planned deployment against the prod profile
  glidepush validate ./manifest --mode planned --profile prod`,
		Args:         cobra.MaximumNArgs(1),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			path := "."
			if len(args) > 0 {
				path = args[0]
			}

			ws, err := openWorkspace(buildVersion)
			if err != nil {
				return err
			}
			defer ws.Close()

			parser := config.NewManifestParser()
			manifest, err := parser.Parse(ctx, []string{path})
			if err != nil {
				return err
			}
			if len(manifest.Errors) > 0 && !jsonOutput {
				printManifestErrors(manifest)
			}
			if manifest.HasErrors() {
				if jsonOutput {
					printJSON(manifest.Errors)
				}
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

			denials := policyDryRun(cmd, ws, manifest.Deployment.Profile, items)

			report := validationReport{
				Manifest:  path,
				Artifacts: len(items),
				Order:     plan.Order(),
				Denials:   denials,
				Valid:     len(denials) == 0,
			}
			if jsonOutput {
				printJSON(report)
			} else {
				printValidationReport(report)
			}
			if !report.Valid {
				return fmt.Errorf("manifest %s denied by policy", path)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&mode, "mode", "m", "", "deployment mode to validate against (immediate, planned)")
	cmd.Flags().StringToStringVarP(&env, "env", "e", nil, "variables passed to manifest transforms")

	return cmd
}

type validationReport struct {
	Manifest  string         `json:"manifest"`
	Artifacts int            `json:"artifacts"`
	Order     []string       `json:"order"`
	Denials   []policyDenial `json:"denials,omitempty"`
	Valid     bool           `json:"valid"`
}

type policyDenial struct {
	Artifact string `json:"artifact"`
	Message  string `json:"message"`
}

// policyDryRun checks every plan item against the guardrail gate. The
// instance fields come from the resolved profile when one exists;
// validation still works in a workspace with no profiles configured, the
// instance-conditional policies just have nothing to match.
func policyDryRun(cmd *cobra.Command, ws *workspace, manifestProfile string, items []deploy.PlanItem) []policyDenial {
	if !ws.cfg.Policy.Enabled {
		return nil
	}

	var instance policy.InstanceInput
	profName, prof, err := ws.resolveProfile(manifestProfile)
	if err != nil {
		log.Debug().Err(err).Msg("No profile resolved, validating policies without instance context")
	} else {
		instance = policy.InstanceInput{
			Host:       instanceHost(prof),
			Profile:    profName,
			Production: prof.Production,
		}
	}

	engine, err := policy.NewEngine(log.Logger)
	if err != nil {
		log.Warn().Err(err).Msg("Policy engine unavailable, skipping policy checks")
		return nil
	}
	if len(ws.cfg.Policy.Paths) > 0 {
		if err := engine.LoadPolicies(cmd.Context(), ws.cfg.Policy.Paths); err != nil {
			log.Warn().Err(err).Msg("Loading policies failed, skipping policy checks")
			return nil
		}
	}
	gate := policy.NewGate(engine, instance, log.Logger)

	var denials []policyDenial
	for _, item := range items {
		if err := gate.Check(cmd.Context(), item.Request); err != nil {
			denials = append(denials, policyDenial{
				Artifact: string(item.Request.Kind) + "/" + item.Request.Name,
				Message:  err.Error(),
			})
		}
	}
	return denials
}

// printValidationReport renders the validation result for human eyes.
func printValidationReport(report validationReport) {
	fmt.Printf("Manifest %s: %d artifact(s)\n", report.Manifest, report.Artifacts)
	fmt.Printf("Deployment order: %s\n", joinOrder(report.Order))
	for _, d := range report.Denials {
		fmt.Printf("✗ %s denied: %s\n", d.Artifact, d.Message)
	}
	if report.Valid {
		fmt.Println("✓ Manifest is valid")
	}
}

func joinOrder(order []string) string {
	out := ""
	for i, name := range order {
		if i > 0 {
			out += " -> "
		}
		out += name
	}
	return out
}
