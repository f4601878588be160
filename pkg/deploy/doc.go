// Package deploy implements the artifact deployment orchestrator: the
// strategy chain, metadata resolution, independent verification, and the
// run state machine that ties them together.
//
// # Overview
//
// The platform's REST API acknowledges create requests it later drops,
// partially applies, or deactivates. This package therefore never treats
// an HTTP 2xx as a deployment: a run only succeeds once the verification
// engine has independently observed the artifact on the instance.
//
// A deployment request moves through a fixed state machine:
//
//	Pending -> Attempting(strategy i) -> Verifying ->
//	    Succeeded | NextStrategy | ExhaustedFailed
//
// # Core Types
//
//   - DeploymentRequest: one artifact to push, immutable once submitted
//   - Strategy: one delivery mechanism (package import, direct create)
//   - Resolver: extracts the canonical sys_id from raw responses
//   - Verifier: proves existence via repeated multi-signal queries
//   - DeploymentAttempt: the immutable record of one strategy execution
//   - DeploymentOutcome: the terminal result of a run
//   - Plan / PlanBuilder: dependency-ordered multi-artifact deployment
//
// # Strategy Chain
//
// Strategies run strictly in declared order. A strategy that throws is
// recorded and the chain moves on, except for authentication failures,
// which abort the whole run: rejected credentials fail every strategy the
// same way. A strategy that returns is still only a claim; its result
// goes through resolution and verification, and a failed verification
// moves the chain on exactly like a thrown strategy.
//
// When the chain is exhausted the outcome carries the last verification
// diagnostics and literal numbered recovery steps for finishing the
// deployment by hand. There is no "unknown error" terminal state.
//
// # Verification
//
// Verification queries up to three collections per round (primary record,
// structural detail, activation binding) concurrently, with progressive
// backoff between rounds. The primary signal alone decides the pass; the
// other two feed the advisory completeness score. A pass additionally
// requires a canonical sys_id, either resolved from the strategy response
// or taken from the primary hit itself.
//
// # Usage
//
//	client, err := platform.NewHTTPClient(cfg)
//	if err != nil { ... }
//	orch, err := deploy.NewOrchestrator(deploy.Options{Client: client})
//	if err != nil { ... }
//
//	req, err := deploy.NewRequest(platform.KindWidget, "incident_board", definition, deploy.ModeImmediate)
//	if err != nil { ... }
//
//	outcome, err := orch.Deploy(ctx, req)
//	if err != nil { ... }
//	if !outcome.Success {
//	    fmt.Println(outcome.ManualInstructions)
//	}
package deploy
