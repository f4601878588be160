package config

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/glidepush/glidepush/pkg/deploy"
	"github.com/glidepush/glidepush/pkg/platform"
)

func TestManifestParser_ParseInline(t *testing.T) {
	parser := NewManifestParser()
	ctx := context.Background()

	tests := []struct {
		name      string
		content   string
		wantErr   bool
		errCount  int
		checkFunc func(*testing.T, *Manifest)
	}{
		{
			name: "valid list manifest",
			content: `
deployment: {
	profile: "dev"
	mode:    "planned"
}

artifacts: [{
	kind: "widget"
	name: "incident_board"
	definition: {
		title:    "Incident Board"
		template: "<div>board</div>"
	}
}, {
	kind: "flow"
	name: "escalation_flow"
	needs: ["incident_board"]
	definition: {
		trigger: "record_created"
	}
}]
`,
			wantErr: false,
			checkFunc: func(t *testing.T, m *Manifest) {
				if m.Deployment.Profile != "dev" {
					t.Errorf("expected profile dev, got %s", m.Deployment.Profile)
				}
				if m.Deployment.Mode != "planned" {
					t.Errorf("expected mode planned, got %s", m.Deployment.Mode)
				}
				if len(m.Artifacts) != 2 {
					t.Fatalf("expected 2 artifacts, got %d", len(m.Artifacts))
				}
				if m.Artifacts[0].Kind != "widget" || m.Artifacts[0].Name != "incident_board" {
					t.Errorf("unexpected first artifact: %+v", m.Artifacts[0])
				}
				if len(m.Artifacts[1].Needs) != 1 || m.Artifacts[1].Needs[0] != "incident_board" {
					t.Errorf("unexpected needs: %v", m.Artifacts[1].Needs)
				}
			},
		},
		{
			name: "struct keyed artifacts take name from key",
			content: `
artifacts: {
	date_utils: {
		kind: "script"
		definition: {
			script: "var DateUtils = Class.create();"
		}
	}
}
`,
			wantErr: false,
			checkFunc: func(t *testing.T, m *Manifest) {
				if len(m.Artifacts) != 1 {
					t.Fatalf("expected 1 artifact, got %d", len(m.Artifacts))
				}
				if m.Artifacts[0].Name != "date_utils" {
					t.Errorf("expected name from key, got %s", m.Artifacts[0].Name)
				}
				if m.Artifacts[0].Kind != "script" {
					t.Errorf("unexpected kind: %s", m.Artifacts[0].Kind)
				}
			},
		},
		{
			name: "invalid CUE syntax",
			content: `
artifacts: [{
	kind: "widget"
	invalid syntax here
}]
`,
			wantErr:  true,
			errCount: 1,
		},
		{
			name: "unknown kind",
			content: `
artifacts: [{
	kind: "spreadsheet"
	name: "budget"
	definition: {cells: 10}
}]
`,
			wantErr:  true,
			errCount: 1,
		},
		{
			name: "missing name",
			content: `
artifacts: [{
	kind: "widget"
	definition: {title: "x"}
}]
`,
			wantErr:  true,
			errCount: 1,
		},
		{
			name: "missing definition",
			content: `
artifacts: [{
	kind: "widget"
	name: "incident_board"
}]
`,
			wantErr:  true,
			errCount: 1,
		},
		{
			name: "bad sys_id shape",
			content: `
artifacts: [{
	kind: "widget"
	name: "incident_board"
	sys_id: "XYZ"
	definition: {title: "x"}
}]
`,
			wantErr:  true,
			errCount: 1,
		},
		{
			name: "bad deployment mode",
			content: `
deployment: {mode: "eventually"}
artifacts: [{
	kind: "widget"
	name: "incident_board"
	definition: {title: "x"}
}]
`,
			wantErr:  true,
			errCount: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			manifest, err := parser.ParseInline(ctx, tt.content)
			if err != nil {
				t.Fatalf("ParseInline returned error: %v", err)
			}

			if tt.wantErr {
				if !manifest.HasErrors() {
					t.Fatal("expected validation errors")
				}
				if tt.errCount > 0 && len(manifest.Errors) < tt.errCount {
					t.Errorf("expected at least %d errors, got %d: %v",
						tt.errCount, len(manifest.Errors), manifest.Errors)
				}
				return
			}

			if manifest.HasErrors() {
				t.Fatalf("unexpected validation errors: %v", manifest.Errors)
			}
			if tt.checkFunc != nil {
				tt.checkFunc(t, manifest)
			}
		})
	}
}

func TestManifestParser_Parse_File(t *testing.T) {
	parser := NewManifestParser()
	ctx := context.Background()

	dir := t.TempDir()
	path := filepath.Join(dir, "manifest.cue")
	content := `
deployment: {mode: "immediate"}

artifacts: [{
	kind: "widget"
	name: "incident_board"
	definition: {title: "Incident Board"}
}]
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("failed to write manifest: %v", err)
	}

	manifest, err := parser.Parse(ctx, []string{path})
	if err != nil {
		t.Fatalf("failed to parse manifest: %v", err)
	}
	if manifest.HasErrors() {
		t.Fatalf("unexpected errors: %v", manifest.Errors)
	}
	if len(manifest.Artifacts) != 1 {
		t.Fatalf("expected 1 artifact, got %d", len(manifest.Artifacts))
	}
	if len(manifest.SourceFiles) != 1 || manifest.SourceFiles[0] != path {
		t.Errorf("unexpected source files: %v", manifest.SourceFiles)
	}
}

func TestManifestParser_Parse_UnifiesSources(t *testing.T) {
	parser := NewManifestParser()
	ctx := context.Background()

	dir := t.TempDir()
	base := filepath.Join(dir, "base.cue")
	overlay := filepath.Join(dir, "overlay.cue")

	if err := os.WriteFile(base, []byte(`
artifacts: [{
	kind: "widget"
	name: "incident_board"
	definition: {title: "Incident Board"}
}]
`), 0o600); err != nil {
		t.Fatalf("failed to write base: %v", err)
	}
	if err := os.WriteFile(overlay, []byte(`
deployment: {mode: "planned"}
`), 0o600); err != nil {
		t.Fatalf("failed to write overlay: %v", err)
	}

	manifest, err := parser.Parse(ctx, []string{base, overlay})
	if err != nil {
		t.Fatalf("failed to parse manifest: %v", err)
	}
	if manifest.HasErrors() {
		t.Fatalf("unexpected errors: %v", manifest.Errors)
	}
	if manifest.Deployment.Mode != "planned" {
		t.Errorf("expected overlay mode, got %s", manifest.Deployment.Mode)
	}
	if len(manifest.Artifacts) != 1 {
		t.Errorf("expected 1 artifact, got %d", len(manifest.Artifacts))
	}
}

func TestManifestParser_Parse_MissingSource(t *testing.T) {
	parser := NewManifestParser()
	_, err := parser.Parse(context.Background(), []string{filepath.Join(t.TempDir(), "nope.cue")})
	if err == nil {
		t.Fatal("expected error for missing source")
	}
}

func TestManifestParser_PlanItems(t *testing.T) {
	parser := NewManifestParser()
	ctx := context.Background()

	manifest, err := parser.ParseInline(ctx, `
deployment: {mode: "planned"}

artifacts: [{
	kind: "widget"
	name: "incident_board"
	sys_id: "a1b2c3d4a1b2c3d4a1b2c3d4a1b2c3d4"
	definition: {title: "Incident Board"}
}, {
	kind: "flow"
	name: "escalation_flow"
	needs: ["incident_board"]
	definition: {trigger: "record_created"}
}]
`)
	if err != nil {
		t.Fatalf("failed to parse manifest: %v", err)
	}
	if manifest.HasErrors() {
		t.Fatalf("unexpected errors: %v", manifest.Errors)
	}

	items, err := parser.PlanItems(ctx, manifest, PlanOptions{})
	if err != nil {
		t.Fatalf("failed to build plan items: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("expected 2 items, got %d", len(items))
	}

	first := items[0].Request
	if first.Kind != platform.KindWidget || first.Name != "incident_board" {
		t.Errorf("unexpected first request: %+v", first)
	}
	if first.Mode != deploy.ModePlanned {
		t.Errorf("expected manifest mode planned, got %s", first.Mode)
	}
	if first.SysID != "a1b2c3d4a1b2c3d4a1b2c3d4a1b2c3d4" {
		t.Errorf("expected pinned sys_id, got %s", first.SysID)
	}

	var def map[string]interface{}
	if err := json.Unmarshal(first.Definition, &def); err != nil {
		t.Fatalf("failed to decode definition: %v", err)
	}
	if def["title"] != "Incident Board" {
		t.Errorf("unexpected definition: %v", def)
	}

	if len(items[1].Needs) != 1 || items[1].Needs[0] != "incident_board" {
		t.Errorf("unexpected needs: %v", items[1].Needs)
	}

	// An explicit mode overrides the manifest's.
	items, err = parser.PlanItems(ctx, manifest, PlanOptions{Mode: deploy.ModeImmediate})
	if err != nil {
		t.Fatalf("failed to build plan items: %v", err)
	}
	if items[0].Request.Mode != deploy.ModeImmediate {
		t.Errorf("expected override mode immediate, got %s", items[0].Request.Mode)
	}
}

func TestManifestParser_PlanItems_RunsTransform(t *testing.T) {
	parser := NewManifestParser()
	ctx := context.Background()

	manifest, err := parser.ParseInline(ctx, `
artifacts: [{
	kind: "widget"
	name: "incident_board"
	definition: {title: "Incident Board"}
	transform: """
		def transform(definition, env):
		    definition["description"] = "built for " + env["stage"]
		    return definition
		"""
}]
`)
	if err != nil {
		t.Fatalf("failed to parse manifest: %v", err)
	}
	if manifest.HasErrors() {
		t.Fatalf("unexpected errors: %v", manifest.Errors)
	}

	items, err := parser.PlanItems(ctx, manifest, PlanOptions{
		Env: map[string]string{"stage": "staging"},
	})
	if err != nil {
		t.Fatalf("failed to build plan items: %v", err)
	}

	var def map[string]interface{}
	if err := json.Unmarshal(items[0].Request.Definition, &def); err != nil {
		t.Fatalf("failed to decode definition: %v", err)
	}
	if def["description"] != "built for staging" {
		t.Errorf("expected transformed description, got %v", def["description"])
	}
	if def["title"] != "Incident Board" {
		t.Errorf("expected original fields preserved, got %v", def)
	}
}

func TestManifestParser_PlanItems_TransformFailure(t *testing.T) {
	parser := NewManifestParser()
	ctx := context.Background()

	manifest, err := parser.ParseInline(ctx, `
artifacts: [{
	kind: "widget"
	name: "incident_board"
	definition: {title: "x"}
	transform: "just_a_variable = 1"
}]
`)
	if err != nil {
		t.Fatalf("failed to parse manifest: %v", err)
	}

	_, err = parser.PlanItems(ctx, manifest, PlanOptions{})
	if err == nil {
		t.Fatal("expected error for script without transform function")
	}
	if !strings.Contains(err.Error(), "incident_board") {
		t.Errorf("expected error to name the artifact, got: %v", err)
	}
}

func TestManifestParser_PlanItems_RejectsInvalidManifest(t *testing.T) {
	parser := NewManifestParser()
	ctx := context.Background()

	manifest, err := parser.ParseInline(ctx, `
artifacts: [{
	kind: "spreadsheet"
	name: "budget"
	definition: {cells: 10}
}]
`)
	if err != nil {
		t.Fatalf("failed to parse manifest: %v", err)
	}
	if !manifest.HasErrors() {
		t.Fatal("expected validation errors")
	}

	if _, err := parser.PlanItems(ctx, manifest, PlanOptions{}); err == nil {
		t.Fatal("expected PlanItems to reject manifest with errors")
	}

	empty := &Manifest{}
	if _, err := parser.PlanItems(ctx, empty, PlanOptions{}); err == nil {
		t.Fatal("expected PlanItems to reject empty manifest")
	}
}
