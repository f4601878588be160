package policy

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/glidepush/glidepush/pkg/deploy"
	"github.com/glidepush/glidepush/pkg/platform"
)

func newTestGate(t *testing.T, instance InstanceInput) *Gate {
	t.Helper()
	logger := zerolog.New(nil).Level(zerolog.Disabled)
	eng, err := NewEngine(logger)
	if err != nil {
		t.Fatalf("Failed to create engine: %v", err)
	}
	return NewGate(eng, instance, logger)
}

func TestGate_AllowsValidRequest(t *testing.T) {
	gate := newTestGate(t, InstanceInput{Host: "dev.example.com", Profile: "dev"})

	req, err := deploy.NewRequest(platform.KindFlow, "incident_autoclose",
		json.RawMessage(`{"description": "closes stale incidents"}`), deploy.ModeImmediate)
	if err != nil {
		t.Fatalf("Failed to build request: %v", err)
	}

	if err := gate.Check(context.Background(), req); err != nil {
		t.Fatalf("Expected request to pass, got: %v", err)
	}
}

func TestGate_DeniesProductionImmediate(t *testing.T) {
	gate := newTestGate(t, InstanceInput{
		Host:       "acme.example.com",
		Profile:    "prod",
		Production: true,
	})

	req, err := deploy.NewRequest(platform.KindFlow, "incident_autoclose",
		json.RawMessage(`{}`), deploy.ModeImmediate)
	if err != nil {
		t.Fatalf("Failed to build request: %v", err)
	}

	err = gate.Check(context.Background(), req)
	if err == nil {
		t.Fatal("Expected denial for immediate mode on production")
	}

	var derr *deploy.DeployError
	if !errors.As(err, &derr) {
		t.Fatalf("Expected DeployError, got %T", err)
	}
	if derr.Code != deploy.ErrCodePolicyDenied {
		t.Errorf("Expected code %s, got %s", deploy.ErrCodePolicyDenied, derr.Code)
	}
	if derr.Artifact != "incident_autoclose" {
		t.Errorf("Expected artifact on error, got %q", derr.Artifact)
	}
	if !strings.Contains(derr.Message, "production-immediate") {
		t.Errorf("Expected denial message to name the policy, got %q", derr.Message)
	}
}

func TestGate_AllowsProductionPlanned(t *testing.T) {
	gate := newTestGate(t, InstanceInput{
		Host:       "acme.example.com",
		Profile:    "prod",
		Production: true,
	})

	req, err := deploy.NewRequest(platform.KindFlow, "incident_autoclose",
		json.RawMessage(`{}`), deploy.ModePlanned)
	if err != nil {
		t.Fatalf("Failed to build request: %v", err)
	}

	if err := gate.Check(context.Background(), req); err != nil {
		t.Fatalf("Expected planned request to pass, got: %v", err)
	}
}

func TestGate_DeniesMalformedSysID(t *testing.T) {
	gate := newTestGate(t, InstanceInput{Host: "dev.example.com", Profile: "dev"})

	req, err := deploy.NewRequest(platform.KindScript, "date_utils",
		json.RawMessage(`{"script": "function f() {}"}`), deploy.ModeImmediate)
	if err != nil {
		t.Fatalf("Failed to build request: %v", err)
	}
	req.SysID = "not-a-sys-id"

	err = gate.Check(context.Background(), req)
	if err == nil {
		t.Fatal("Expected denial for malformed sys_id")
	}

	var derr *deploy.DeployError
	if !errors.As(err, &derr) {
		t.Fatalf("Expected DeployError, got %T", err)
	}
	if derr.Code != deploy.ErrCodePolicyDenied {
		t.Errorf("Expected code %s, got %s", deploy.ErrCodePolicyDenied, derr.Code)
	}
}

func TestGate_CollectsAllDenials(t *testing.T) {
	gate := newTestGate(t, InstanceInput{
		Host:       "acme.example.com",
		Profile:    "prod",
		Production: true,
	})

	// Immediate to production plus a malformed sys_id: two policies fire
	req, err := deploy.NewRequest(platform.KindWidget, "kanban_board",
		json.RawMessage(`{}`), deploy.ModeImmediate)
	if err != nil {
		t.Fatalf("Failed to build request: %v", err)
	}
	req.SysID = "XYZ"

	err = gate.Check(context.Background(), req)
	if err == nil {
		t.Fatal("Expected denial")
	}

	if !strings.Contains(err.Error(), "production-immediate") {
		t.Errorf("Expected production-immediate in message, got %q", err.Error())
	}
	if !strings.Contains(err.Error(), "sys-id-format") {
		t.Errorf("Expected sys-id-format in message, got %q", err.Error())
	}
}
