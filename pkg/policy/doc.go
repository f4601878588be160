// Package policy provides Open Policy Agent (OPA) guardrails for glidepush.
//
// Deployment requests pass through a policy gate before any strategy
// touches the platform. Policies are written in Rego, evaluated against a
// structured input describing the request and the target instance, and a
// denial stops the deployment with nothing sent over the wire.
//
// The Engine compiles and evaluates policies, the Loader reads them from
// .rego and .json files and watches for changes, the Gate adapts the
// engine to the orchestrator's PolicyGate interface, and a builtin
// baseline rides along on every engine.
//
// # Gate Wiring
//
// An engine plus instance facts make a gate, and the gate plugs straight
// into the orchestrator:
//
//	engine, err := policy.NewEngine(logger)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	gate := policy.NewGate(engine, policy.InstanceInput{
//	    Host:       "acme.service-now.com",
//	    Profile:    "prod",
//	    Production: true,
//	}, logger)
//
//	orch, err := deploy.NewOrchestrator(deploy.Options{
//	    Client: client,
//	    Policy: gate,
//	})
//
// Custom policy files load alongside the builtins:
//
//	err = engine.LoadPolicies(ctx, []string{"./policies"})
//
// # Writing Policies
//
// Rego rules see the deployment as structured input:
//
//	input.request.kind       # "flow", "widget" or "script"
//	input.request.name       # artifact display name
//	input.request.mode       # "immediate" or "planned"
//	input.request.sys_id     # pinned canonical id, "" when unset
//	input.instance.host      # target instance host
//	input.instance.profile   # workspace profile name
//	input.instance.production
//
// A policy contributes deny entries:
//
//	package glidepush.policies.naming_prefix
//
//	import rego.v1
//
//	deny contains violation if {
//	    input.request
//	    request := input.request
//
//	    not startswith(request.name, "acme_")
//	    violation := {
//	        "message": sprintf("Artifact '%s' must carry the acme_ prefix", [request.name]),
//	        "severity": "error",
//	        "artifact": request.name,
//	    }
//	}
//
// A deny entry may also be a plain string; it then inherits the policy's
// declared severity.
//
// # Builtin Baseline
//
// Every engine starts with artifact-naming (a usable, non-blank artifact
// name), artifact-kind (supported kinds only), production-immediate
// (planned mode required on production instances), and sys-id-format
// (pinned sys_id values must be well formed).
//
// # Severities
//
// info and warning violations surface without blocking; error and
// critical violations deny the deployment. A policy that fails to
// evaluate lands in Result.Warnings and neither approves nor denies; the
// gate itself fails closed only when the engine cannot evaluate at all.
//
// # Hot Reload
//
// The loader can watch policy paths and swap the engine's set on change:
//
//	loader := policy.NewLoader(logger)
//	err = loader.Watch(ctx, paths, func(policies []policy.Policy) error {
//	    return engine.ReplacePolicies(ctx, policies)
//	})
//
// ReplacePolicies keeps the builtins and installs the reloaded set in one
// step, so rules from a deleted file do not linger.
package policy
