package commands

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/glidepush/glidepush/pkg/deploy"
	"github.com/glidepush/glidepush/pkg/platform"
)

func newVerifyCommand() *cobra.Command {
	var (
		sysID string
	)

	cmd := &cobra.Command{
		Use:   "verify <kind> <name>",
		Short: "Verify an artifact exists on the instance",
		Long: `Run the verification engine against an existing artifact without
deploying anything.

Verification queries the artifact's canonical table plus its detail and
binding tables, in up to five progressively delayed rounds. It passes only
when the primary record is found and a canonical sys_id is known. This is
the same check every deployment must pass before it may report success.`,
		Example: `  # Verify a flow by name
  glidepush verify flow incident_autoclose

  # Verify with a known sys_id
  glidepush verify widget approvals --sys-id 1c741bd70b2322007518478d83673af3

  # Machine-readable result
  glidepush verify script data_cleanup --json`,
		Args:         cobra.ExactArgs(2),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			kind := platform.ArtifactKind(args[0])
			name := args[1]

			ws, err := openWorkspace(buildVersion)
			if err != nil {
				return err
			}
			defer ws.Close()

			_, prof, err := ws.resolveProfile("")
			if err != nil {
				return err
			}
			client, err := ws.platformClient(prof)
			if err != nil {
				return err
			}

			verifier := deploy.NewVerifier(client, ws.verifierConfig(), ws.logger).
				WithTracer(ws.tracer).
				WithMetrics(ws.metrics)

			result, err := verifier.Verify(cmd.Context(), kind, name, sysID)
			if err != nil {
				return err
			}

			if jsonOutput {
				printJSON(result)
			} else {
				printVerification(kind, name, result)
			}
			if !result.Verified {
				return fmt.Errorf("%s/%s not verified: %s", kind, name, result.Reason)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&sysID, "sys-id", "", "known canonical sys_id of the artifact")

	return cmd
}

// printVerification renders a verification result for human eyes.
func printVerification(kind platform.ArtifactKind, name string, result *deploy.VerificationResult) {
	ref := string(kind) + "/" + name
	if result.Verified {
		fmt.Printf("✓ %s verified (sys_id %s, round %d, completeness %d/3)\n",
			ref, result.CanonicalID, result.AttemptsUsed, result.CompletenessScore)
	} else {
		fmt.Printf("✗ %s not verified after %d round(s)\n", ref, result.AttemptsUsed)
		fmt.Printf("  reason: %s\n", result.Reason)
	}

	signals := []string{
		signalMark("primary", result.Signals.PrimaryExists),
		signalMark("detail", result.Signals.DetailExists),
		signalMark("binding", result.Signals.BindingExists),
	}
	fmt.Printf("  signals: %s\n", strings.Join(signals, "  "))
}

func signalMark(name string, found bool) string {
	if found {
		return name + " ✓"
	}
	return name + " ✗"
}
