package deploy

import (
	"fmt"
	"strings"

	"github.com/glidepush/glidepush/pkg/platform"
)

// manualRecoveryInstructions builds the numbered steps handed to the
// operator when every strategy is exhausted. The text is literal on
// purpose: an outcome must never fail with a bare "unknown error".
func manualRecoveryInstructions(req *DeploymentRequest, packageName string) string {
	display := string(req.Kind)
	table := ""
	if spec, err := platform.SpecFor(req.Kind); err == nil {
		display = spec.DisplayName
		table = spec.Table
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Deployment of %s %q could not be completed automatically. Finish it by hand:\n", display, req.Name)

	if packageName != "" {
		fmt.Fprintf(&b, "1. On the instance, open System Update Sets > Retrieved Update Sets and locate %q.\n", packageName)
	} else {
		b.WriteString("1. Export the artifact bundle (glidepush export) and import the XML under System Update Sets > Retrieved Update Sets.\n")
	}
	b.WriteString("2. Open the update set and run Preview Update Set.\n")
	b.WriteString("3. Resolve any preview problems or collisions it reports.\n")
	b.WriteString("4. Run Commit Update Set.\n")
	if table != "" {
		fmt.Fprintf(&b, "5. Verify the %s %q appears in %s and is active.\n", display, req.Name, table)
	} else {
		fmt.Fprintf(&b, "5. Verify the %s %q exists in the platform UI and is active.\n", display, req.Name)
	}

	return b.String()
}

// commitInstructions builds the steps that accompany a successful planned
// run: the package is staged and previewed but a human still commits it.
func commitInstructions(req *DeploymentRequest, packageName string) string {
	display := string(req.Kind)
	table := ""
	if spec, err := platform.SpecFor(req.Kind); err == nil {
		display = spec.DisplayName
		table = spec.Table
	}

	var b strings.Builder
	fmt.Fprintf(&b, "The %s %q is staged in update set %q, previewed and ready to commit:\n", display, req.Name, packageName)
	fmt.Fprintf(&b, "1. On the instance, open System Update Sets > Retrieved Update Sets and locate %q.\n", packageName)
	b.WriteString("2. Review the preview results and resolve any collisions.\n")
	b.WriteString("3. Run Commit Update Set.\n")
	if table != "" {
		fmt.Fprintf(&b, "4. Verify the %s %q appears in %s and is active.\n", display, req.Name, table)
	} else {
		fmt.Fprintf(&b, "4. Verify the %s %q exists in the platform UI and is active.\n", display, req.Name)
	}

	return b.String()
}

// reauthInstructions builds the steps emitted when the platform rejects
// credentials. Authentication failures abort the chain, so this replaces
// the recovery steps: nothing was deployed.
func reauthInstructions(host string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "The instance %s rejected the configured credentials. Nothing was deployed:\n", host)
	b.WriteString("1. Check the username/password or token in the glidepush configuration.\n")
	b.WriteString("2. Confirm the account is active and not locked out on the instance.\n")
	b.WriteString("3. Re-authenticate (refresh the token if one is used) and run the deployment again.\n")
	return b.String()
}
