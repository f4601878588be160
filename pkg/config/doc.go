// Package config provides workspace configuration, CUE manifest parsing,
// and Starlark artifact transforms for glidepush.
//
// # Overview
//
// The config package owns everything a deployment run reads before it
// touches an instance: the glidepush.yaml workspace configuration
// (instance profiles, verification pacing, history, policies, telemetry),
// the CUE deployment manifest (which artifacts to push, in what order,
// with what transforms), and the sandboxed Starlark interpreter that
// rewrites artifact definitions per environment.
//
// # Workspace configuration
//
// glidepush.yaml names instance profiles and local settings:
//
//	default_profile: dev
//	profiles:
//	  dev:
//	    instance_url: https://dev12345.service-now.com
//	    username: deploy.bot
//	  prod:
//	    instance_url: https://acme.service-now.com
//	    token: ${oauth token}
//	    production: true
//	verification:
//	  max_attempts: 5
//	  base_delay: 2s
//	history:
//	  enabled: true
//	  path: glidepush.db
//
// Load searches the working directory and the user config directory, then
// overlays GLIDEPUSH_* environment variables (GLIDEPUSH_INSTANCE_URL,
// GLIDEPUSH_USERNAME, GLIDEPUSH_PASSWORD, GLIDEPUSH_TOKEN,
// GLIDEPUSH_PROFILE, GLIDEPUSH_LOG_LEVEL, GLIDEPUSH_HISTORY_PATH), so a
// bare environment is a complete configuration for CI use.
//
// # Deployment manifests
//
// Manifests are CUE, parsed from files, directories, or inline content:
//
//	deployment: {
//		profile: "dev"
//		mode:    "immediate"
//	}
//
//	artifacts: [{
//		kind: "widget"
//		name: "incident_board"
//		definition: {
//			title:    "Incident Board"
//			template: "<div>...</div>"
//		}
//	}, {
//		kind: "flow"
//		name: "escalation_flow"
//		needs: ["incident_board"]
//		definition: {...}
//	}]
//
// Artifacts can also be a struct keyed by artifact name; the key fills a
// missing name field. PlanItems converts a parsed manifest into ordered
// deployment plan items, resolving needs through the deployment planner.
//
// # Transforms
//
// An artifact may carry Starlark source that rewrites its definition
// before deployment:
//
//	transform: """
//		def transform(definition, env):
//		    definition["description"] = "built for " + env["stage"]
//		    return definition
//		"""
//
// Transforms run in a sandboxed interpreter: no filesystem access, no
// network access, print suppressed, and a timeout that cancels the
// evaluation.
//
// # Schema validation
//
// Built-in CUE schemas enforce manifest correctness:
//
//   - artifact: kind enum, non-empty name, 32-hex sys_id, definition shape
//   - deployment: profile and mode enums
//   - manifest: whole-document shape for list-form manifests
//
// Custom schemas can be registered on the parser's SchemaRegistry.
//
// # Error handling
//
// Parse and validation problems accumulate on the manifest instead of
// failing the call, each with location information:
//
//	ValidationError{
//	    File: "manifest.cue",
//	    Line: 12,
//	    Column: 3,
//	    Path: "artifacts[1].kind",
//	    Message: "2 errors in kind: ...",
//	    Severity: "error",
//	}
//
// # Thread safety
//
// All types in this package are safe for concurrent use.
package config
