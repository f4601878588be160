package policy

import (
	"time"
)

// GetBuiltinPolicies returns all built-in policies.
func GetBuiltinPolicies() []Policy {
	return []Policy{
		artifactNamingPolicy(),
		artifactKindPolicy(),
		productionImmediatePolicy(),
		sysIDFormatPolicy(),
	}
}

// artifactNamingPolicy enforces artifact naming conventions.
func artifactNamingPolicy() Policy {
	return Policy{
		Name:        "artifact-naming",
		Description: "Requires every artifact to carry a usable display name",
		Severity:    SeverityError,
		Enabled:     true,
		Tags:        []string{"naming", "conventions"},
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
		Rego: `package glidepush.policies.naming

import rego.v1

# Every artifact needs a name; verification keys on it
deny contains violation if {
	input.request
	request := input.request

	not request.name
	violation := {
		"message": "Artifact must have a name",
		"severity": "error",
		"artifact": "",
	}
}

deny contains violation if {
	input.request
	request := input.request
	name := request.name

	# Name must not be blank or whitespace-only
	trim_space(name) == ""
	violation := {
		"message": "Artifact name must not be blank",
		"severity": "error",
		"artifact": name,
	}
}

deny contains violation if {
	input.request
	request := input.request
	name := request.name

	# Names longer than the platform's display column get truncated
	count(name) > 255
	violation := {
		"message": sprintf("Artifact name '%s' exceeds 255 characters", [name]),
		"severity": "error",
		"artifact": name,
	}
}
`,
	}
}

// artifactKindPolicy restricts deployments to the supported artifact kinds.
func artifactKindPolicy() Policy {
	return Policy{
		Name:        "artifact-kind",
		Description: "Restricts deployments to the supported artifact kinds (flow, widget, script)",
		Severity:    SeverityError,
		Enabled:     true,
		Tags:        []string{"kinds", "safety"},
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
		Rego: `package glidepush.policies.kinds

import rego.v1

supported_kinds := ["flow", "widget", "script"]

deny contains violation if {
	input.request
	request := input.request
	kind := request.kind

	not kind in supported_kinds
	violation := {
		"message": sprintf("Artifact kind '%s' is not supported", [kind]),
		"severity": "error",
		"artifact": request.name,
	}
}
`,
	}
}

// productionImmediatePolicy blocks immediate-mode pushes at production
// instances.
func productionImmediatePolicy() Policy {
	return Policy{
		Name:        "production-immediate",
		Description: "Requires planned mode for deployments to production instances",
		Severity:    SeverityCritical,
		Enabled:     true,
		Tags:        []string{"production", "safety"},
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
		Rego: `package glidepush.policies.production

import rego.v1

deny contains violation if {
	input.instance.production
	input.request
	request := input.request

	request.mode != "planned"
	violation := {
		"message": sprintf("Deployment of '%s' to production instance %s must use planned mode", [request.name, input.instance.host]),
		"severity": "critical",
		"artifact": request.name,
	}
}
`,
	}
}

// sysIDFormatPolicy validates pinned sys_id values.
func sysIDFormatPolicy() Policy {
	return Policy{
		Name:        "sys-id-format",
		Description: "Requires pinned sys_id values to be 32 lowercase hex characters",
		Severity:    SeverityError,
		Enabled:     true,
		Tags:        []string{"identifiers", "conventions"},
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
		Rego: `package glidepush.policies.identifiers

import rego.v1

deny contains violation if {
	input.request
	request := input.request
	sys_id := request.sys_id

	sys_id != ""
	not regex.match("^[0-9a-f]{32}$", sys_id)
	violation := {
		"message": sprintf("Artifact '%s' pins malformed sys_id '%s'", [request.name, sys_id]),
		"severity": "error",
		"artifact": request.name,
	}
}
`,
	}
}
