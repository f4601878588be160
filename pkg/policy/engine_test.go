package policy

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestNewEngine(t *testing.T) {
	logger := zerolog.New(nil).Level(zerolog.Disabled)
	eng, err := NewEngine(logger)
	if err != nil {
		t.Fatalf("Failed to create engine: %v", err)
	}

	if eng == nil {
		t.Fatal("Engine is nil")
	}

	// Check that built-in policies are loaded
	policies := eng.ListPolicies()
	if len(policies) == 0 {
		t.Fatal("No built-in policies loaded")
	}

	expectedPolicies := []string{
		"artifact-naming",
		"artifact-kind",
		"production-immediate",
		"sys-id-format",
	}

	for _, expected := range expectedPolicies {
		found := false
		for _, p := range policies {
			if p.Name == expected {
				found = true
				break
			}
		}
		if !found {
			t.Errorf("Expected built-in policy not found: %s", expected)
		}
	}
}

func TestEvaluateRequest_NamingPolicy(t *testing.T) {
	logger := zerolog.New(nil).Level(zerolog.Disabled)
	eng, err := NewEngine(logger)
	if err != nil {
		t.Fatalf("Failed to create engine: %v", err)
	}

	tests := []struct {
		name            string
		artifactName    string
		expectAllowed   bool
		expectViolation bool
	}{
		{
			name:            "valid artifact name",
			artifactName:    "incident_autoclose",
			expectAllowed:   true,
			expectViolation: false,
		},
		{
			name:            "blank name",
			artifactName:    "   ",
			expectAllowed:   false,
			expectViolation: true,
		},
		{
			name:            "name too long",
			artifactName:    strings.Repeat("x", 256),
			expectAllowed:   false,
			expectViolation: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			input := &Input{
				Request: &RequestInput{
					Kind: "flow",
					Name: tt.artifactName,
					Mode: "immediate",
				},
				Instance: &InstanceInput{Host: "dev.example.com", Profile: "dev"},
			}

			result, err := eng.EvaluateRequest(context.Background(), input)
			if err != nil {
				t.Fatalf("Evaluation failed: %v", err)
			}

			if result.Allowed != tt.expectAllowed {
				t.Errorf("Expected allowed=%v, got %v. Violations: %+v",
					tt.expectAllowed, result.Allowed, result.Violations)
			}

			hasViolation := len(result.Violations) > 0
			if hasViolation != tt.expectViolation {
				t.Errorf("Expected violation=%v, got %v violations: %+v",
					tt.expectViolation, hasViolation, result.Violations)
			}
		})
	}
}

func TestEvaluateRequest_KindPolicy(t *testing.T) {
	logger := zerolog.New(nil).Level(zerolog.Disabled)
	eng, err := NewEngine(logger)
	if err != nil {
		t.Fatalf("Failed to create engine: %v", err)
	}

	tests := []struct {
		name          string
		kind          string
		expectAllowed bool
	}{
		{name: "flow is supported", kind: "flow", expectAllowed: true},
		{name: "widget is supported", kind: "widget", expectAllowed: true},
		{name: "script is supported", kind: "script", expectAllowed: true},
		{name: "unknown kind is denied", kind: "spreadsheet", expectAllowed: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			input := &Input{
				Request: &RequestInput{
					Kind: tt.kind,
					Name: "approval_widget",
					Mode: "immediate",
				},
				Instance: &InstanceInput{Host: "dev.example.com", Profile: "dev"},
			}

			result, err := eng.EvaluateRequest(context.Background(), input)
			if err != nil {
				t.Fatalf("Evaluation failed: %v", err)
			}

			if result.Allowed != tt.expectAllowed {
				t.Errorf("Expected allowed=%v, got %v. Violations: %+v",
					tt.expectAllowed, result.Allowed, result.Violations)
			}
		})
	}
}

func TestEvaluateRequest_ProductionImmediate(t *testing.T) {
	logger := zerolog.New(nil).Level(zerolog.Disabled)
	eng, err := NewEngine(logger)
	if err != nil {
		t.Fatalf("Failed to create engine: %v", err)
	}

	tests := []struct {
		name          string
		mode          string
		production    bool
		expectAllowed bool
	}{
		{
			name:          "immediate to production is denied",
			mode:          "immediate",
			production:    true,
			expectAllowed: false,
		},
		{
			name:          "planned to production is allowed",
			mode:          "planned",
			production:    true,
			expectAllowed: true,
		},
		{
			name:          "immediate to non-production is allowed",
			mode:          "immediate",
			production:    false,
			expectAllowed: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			input := &Input{
				Request: &RequestInput{
					Kind: "script",
					Name: "date_utils",
					Mode: tt.mode,
				},
				Instance: &InstanceInput{
					Host:       "acme.example.com",
					Profile:    "prod",
					Production: tt.production,
				},
			}

			result, err := eng.EvaluateRequest(context.Background(), input)
			if err != nil {
				t.Fatalf("Evaluation failed: %v", err)
			}

			if result.Allowed != tt.expectAllowed {
				t.Errorf("Expected allowed=%v, got %v. Violations: %+v",
					tt.expectAllowed, result.Allowed, result.Violations)
			}

			if !tt.expectAllowed {
				denials := result.Denials()
				if len(denials) == 0 {
					t.Fatal("Expected at least one denial")
				}
				if denials[0].Severity != SeverityCritical {
					t.Errorf("Expected critical severity, got %s", denials[0].Severity)
				}
			}
		})
	}
}

func TestEvaluateRequest_SysIDFormat(t *testing.T) {
	logger := zerolog.New(nil).Level(zerolog.Disabled)
	eng, err := NewEngine(logger)
	if err != nil {
		t.Fatalf("Failed to create engine: %v", err)
	}

	tests := []struct {
		name          string
		sysID         string
		expectAllowed bool
	}{
		{
			name:          "valid sys_id",
			sysID:         "a1b2c3d4a1b2c3d4a1b2c3d4a1b2c3d4",
			expectAllowed: true,
		},
		{
			name:          "unset sys_id",
			sysID:         "",
			expectAllowed: true,
		},
		{
			name:          "malformed sys_id",
			sysID:         "not-a-sys-id",
			expectAllowed: false,
		},
		{
			name:          "uppercase sys_id",
			sysID:         "A1B2C3D4A1B2C3D4A1B2C3D4A1B2C3D4",
			expectAllowed: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			input := &Input{
				Request: &RequestInput{
					Kind:  "widget",
					Name:  "kanban_board",
					Mode:  "immediate",
					SysID: tt.sysID,
				},
				Instance: &InstanceInput{Host: "dev.example.com", Profile: "dev"},
			}

			result, err := eng.EvaluateRequest(context.Background(), input)
			if err != nil {
				t.Fatalf("Evaluation failed: %v", err)
			}

			if result.Allowed != tt.expectAllowed {
				t.Errorf("Expected allowed=%v, got %v. Violations: %+v",
					tt.expectAllowed, result.Allowed, result.Violations)
			}
		})
	}
}

func TestEvaluateRequest_ViolationFields(t *testing.T) {
	logger := zerolog.New(nil).Level(zerolog.Disabled)
	eng, err := NewEngine(logger)
	if err != nil {
		t.Fatalf("Failed to create engine: %v", err)
	}

	input := &Input{
		Request: &RequestInput{
			Kind: "spreadsheet",
			Name: "quarterly_report",
			Mode: "immediate",
		},
		Instance: &InstanceInput{Host: "dev.example.com", Profile: "dev"},
	}

	result, err := eng.EvaluateRequest(context.Background(), input)
	if err != nil {
		t.Fatalf("Evaluation failed: %v", err)
	}

	if len(result.Violations) == 0 {
		t.Fatal("Expected at least one violation")
	}

	v := result.Violations[0]
	if v.Policy == "" {
		t.Error("Violation has empty policy name")
	}
	if v.Artifact != "quarterly_report" {
		t.Errorf("Expected artifact quarterly_report, got %q", v.Artifact)
	}
	if v.Message == "" {
		t.Error("Violation has empty message")
	}
	if v.DetectedAt.IsZero() {
		t.Error("Violation has zero DetectedAt")
	}
}

func TestEnableDisablePolicy(t *testing.T) {
	logger := zerolog.New(nil).Level(zerolog.Disabled)
	eng, err := NewEngine(logger)
	if err != nil {
		t.Fatalf("Failed to create engine: %v", err)
	}

	policyName := "artifact-kind"

	// Disable the policy
	err = eng.DisablePolicy(policyName)
	if err != nil {
		t.Fatalf("Failed to disable policy: %v", err)
	}

	policy, err := eng.GetPolicy(policyName)
	if err != nil {
		t.Fatalf("Failed to get policy: %v", err)
	}

	if policy.Enabled {
		t.Error("Policy should be disabled")
	}

	// A kind the policy would reject now passes
	input := &Input{
		Request: &RequestInput{
			Kind: "spreadsheet",
			Name: "quarterly_report",
			Mode: "immediate",
		},
		Instance: &InstanceInput{Host: "dev.example.com", Profile: "dev"},
	}

	result, err := eng.EvaluateRequest(context.Background(), input)
	if err != nil {
		t.Fatalf("Evaluation failed: %v", err)
	}

	for _, v := range result.Violations {
		if v.Policy == policyName {
			t.Error("Disabled policy should not generate violations")
		}
	}

	// Re-enable the policy
	err = eng.EnablePolicy(policyName)
	if err != nil {
		t.Fatalf("Failed to enable policy: %v", err)
	}

	policy, err = eng.GetPolicy(policyName)
	if err != nil {
		t.Fatalf("Failed to get policy: %v", err)
	}

	if !policy.Enabled {
		t.Error("Policy should be enabled")
	}
}

func TestLoadPolicies_CustomRego(t *testing.T) {
	logger := zerolog.New(nil).Level(zerolog.Disabled)
	eng, err := NewEngine(logger)
	if err != nil {
		t.Fatalf("Failed to create engine: %v", err)
	}

	dir := t.TempDir()
	policyFile := filepath.Join(dir, "no-deprecated.rego")
	content := `# Blocks deployment of artifacts flagged as deprecated
package glidepush.policies.deprecated

import rego.v1

deny contains violation if {
	input.request
	request := input.request

	startswith(request.name, "deprecated_")
	violation := {
		"message": sprintf("Artifact '%s' is deprecated and must not be deployed", [request.name]),
		"severity": "error",
		"artifact": request.name,
	}
}
`
	if err := os.WriteFile(policyFile, []byte(content), 0o644); err != nil {
		t.Fatalf("Failed to write policy file: %v", err)
	}

	if err := eng.LoadPolicies(context.Background(), []string{dir}); err != nil {
		t.Fatalf("Failed to load policies: %v", err)
	}

	if _, err := eng.GetPolicy("no-deprecated"); err != nil {
		t.Fatalf("Custom policy not registered: %v", err)
	}

	input := &Input{
		Request: &RequestInput{
			Kind: "script",
			Name: "deprecated_date_utils",
			Mode: "immediate",
		},
		Instance: &InstanceInput{Host: "dev.example.com", Profile: "dev"},
	}

	result, err := eng.EvaluateRequest(context.Background(), input)
	if err != nil {
		t.Fatalf("Evaluation failed: %v", err)
	}

	if result.Allowed {
		t.Error("Expected request to be denied by custom policy")
	}

	found := false
	for _, v := range result.Violations {
		if v.Policy == "no-deprecated" {
			found = true
			break
		}
	}
	if !found {
		t.Errorf("Expected a no-deprecated violation, got: %+v", result.Violations)
	}
}

func TestLoadPolicies_InvalidRego(t *testing.T) {
	logger := zerolog.New(nil).Level(zerolog.Disabled)
	eng, err := NewEngine(logger)
	if err != nil {
		t.Fatalf("Failed to create engine: %v", err)
	}

	dir := t.TempDir()
	policyFile := filepath.Join(dir, "broken.rego")
	if err := os.WriteFile(policyFile, []byte("this is not rego"), 0o644); err != nil {
		t.Fatalf("Failed to write policy file: %v", err)
	}

	// Loading a single broken file directly must fail at compile time,
	// not at the first deployment
	err = eng.LoadPolicies(context.Background(), []string{policyFile})
	if err == nil {
		t.Fatal("Expected error for invalid Rego")
	}
}

func TestReplacePolicies(t *testing.T) {
	logger := zerolog.New(nil).Level(zerolog.Disabled)
	eng, err := NewEngine(logger)
	if err != nil {
		t.Fatalf("Failed to create engine: %v", err)
	}

	builtinCount := len(eng.ListPolicies())

	custom := Policy{
		Name:     "extra-check",
		Severity: SeverityError,
		Enabled:  true,
		Rego: `package glidepush.policies.extra

import rego.v1

deny contains violation if {
	input.request.name == "forbidden"
	violation := "this name is forbidden"
}
`,
	}

	if err := eng.ReplacePolicies(context.Background(), []Policy{custom}); err != nil {
		t.Fatalf("Failed to replace policies: %v", err)
	}

	if len(eng.ListPolicies()) != builtinCount+1 {
		t.Errorf("Expected %d policies, got %d", builtinCount+1, len(eng.ListPolicies()))
	}

	// Replacing with an empty set drops the custom policy but keeps builtins
	if err := eng.ReplacePolicies(context.Background(), nil); err != nil {
		t.Fatalf("Failed to replace policies: %v", err)
	}

	if len(eng.ListPolicies()) != builtinCount {
		t.Errorf("Expected %d policies after reset, got %d", builtinCount, len(eng.ListPolicies()))
	}
	if _, err := eng.GetPolicy("extra-check"); err == nil {
		t.Error("Replaced policy should be gone")
	}
}

func TestReplacePolicies_StringViolation(t *testing.T) {
	logger := zerolog.New(nil).Level(zerolog.Disabled)
	eng, err := NewEngine(logger)
	if err != nil {
		t.Fatalf("Failed to create engine: %v", err)
	}

	custom := Policy{
		Name:     "string-deny",
		Severity: SeverityError,
		Enabled:  true,
		Rego: `package glidepush.policies.strings

import rego.v1

deny contains msg if {
	input.request.name == "plain_string_case"
	msg := "denied with a bare string"
}
`,
	}

	if err := eng.ReplacePolicies(context.Background(), []Policy{custom}); err != nil {
		t.Fatalf("Failed to replace policies: %v", err)
	}

	input := &Input{
		Request:  &RequestInput{Kind: "flow", Name: "plain_string_case", Mode: "immediate"},
		Instance: &InstanceInput{Host: "dev.example.com", Profile: "dev"},
	}

	result, err := eng.EvaluateRequest(context.Background(), input)
	if err != nil {
		t.Fatalf("Evaluation failed: %v", err)
	}

	if result.Allowed {
		t.Fatal("Expected denial")
	}

	found := false
	for _, v := range result.Violations {
		if v.Policy == "string-deny" {
			found = true
			// Bare string denials inherit the policy's declared severity
			if v.Message != "denied with a bare string" {
				t.Errorf("Unexpected message: %q", v.Message)
			}
			if v.Severity != SeverityError {
				t.Errorf("Expected inherited error severity, got %s", v.Severity)
			}
			if v.Artifact != "plain_string_case" {
				t.Errorf("Expected artifact from request, got %q", v.Artifact)
			}
		}
	}
	if !found {
		t.Error("Expected a string-deny violation")
	}
}

func TestListPolicies(t *testing.T) {
	logger := zerolog.New(nil).Level(zerolog.Disabled)
	eng, err := NewEngine(logger)
	if err != nil {
		t.Fatalf("Failed to create engine: %v", err)
	}

	policies := eng.ListPolicies()

	if len(policies) == 0 {
		t.Fatal("No policies returned")
	}

	// Check that all policies have required fields
	for _, p := range policies {
		if p.Name == "" {
			t.Error("Policy has empty name")
		}
		if p.Rego == "" {
			t.Error("Policy has empty Rego code")
		}
		if p.CreatedAt.IsZero() {
			t.Error("Policy has zero CreatedAt")
		}
	}
}

func TestGetPolicy_NotFound(t *testing.T) {
	logger := zerolog.New(nil).Level(zerolog.Disabled)
	eng, err := NewEngine(logger)
	if err != nil {
		t.Fatalf("Failed to create engine: %v", err)
	}

	if _, err := eng.GetPolicy("no-such-policy"); err == nil {
		t.Error("Expected error for unknown policy")
	}
	if err := eng.EnablePolicy("no-such-policy"); err == nil {
		t.Error("Expected error enabling unknown policy")
	}
	if err := eng.DisablePolicy("no-such-policy"); err == nil {
		t.Error("Expected error disabling unknown policy")
	}
}
