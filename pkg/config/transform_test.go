package config

import (
	"context"
	"strings"
	"testing"
	"time"
)

func TestTransformer_Transform(t *testing.T) {
	transformer := NewTransformer(5 * time.Second)
	ctx := context.Background()

	tests := []struct {
		name       string
		script     string
		definition map[string]interface{}
		env        map[string]string
		checkFunc  func(*testing.T, *TransformResult)
		wantErr    bool
	}{
		{
			name: "passthrough",
			script: `
def transform(definition, env):
    return definition
`,
			definition: map[string]interface{}{"title": "Incident Board"},
			checkFunc: func(t *testing.T, tr *TransformResult) {
				if tr.Definition["title"] != "Incident Board" {
					t.Errorf("expected title preserved, got %v", tr.Definition)
				}
			},
		},
		{
			name: "rewrite field",
			script: `
def transform(definition, env):
    definition["title"] = definition["title"].upper()
    return definition
`,
			definition: map[string]interface{}{"title": "incident board"},
			checkFunc: func(t *testing.T, tr *TransformResult) {
				if tr.Definition["title"] != "INCIDENT BOARD" {
					t.Errorf("expected uppercased title, got %v", tr.Definition["title"])
				}
			},
		},
		{
			name: "env injection",
			script: `
def transform(definition, env):
    definition["description"] = "deployed to " + env.get("stage", "unknown")
    return definition
`,
			definition: map[string]interface{}{"title": "x"},
			env:        map[string]string{"stage": "staging"},
			checkFunc: func(t *testing.T, tr *TransformResult) {
				if tr.Definition["description"] != "deployed to staging" {
					t.Errorf("unexpected description: %v", tr.Definition["description"])
				}
			},
		},
		{
			name: "computed nested fields",
			script: `
def transform(definition, env):
    definition["options"] = [{"index": i, "label": "opt-" + str(i)} for i in range(3)]
    definition["count"] = len(definition["options"])
    return definition
`,
			definition: map[string]interface{}{"title": "x"},
			checkFunc: func(t *testing.T, tr *TransformResult) {
				options, ok := tr.Definition["options"].([]interface{})
				if !ok {
					t.Fatalf("expected options list, got %T", tr.Definition["options"])
				}
				if len(options) != 3 {
					t.Fatalf("expected 3 options, got %d", len(options))
				}
				first, ok := options[0].(map[string]interface{})
				if !ok {
					t.Fatalf("expected option dict, got %T", options[0])
				}
				if first["label"] != "opt-0" {
					t.Errorf("unexpected label: %v", first["label"])
				}
				if tr.Definition["count"] != int64(3) {
					t.Errorf("expected count=3, got %v", tr.Definition["count"])
				}
			},
		},
		{
			name: "build fresh definition",
			script: `
def transform(definition, env):
    return {"name": definition["name"], "active": True, "weight": 2.5}
`,
			definition: map[string]interface{}{"name": "escalation", "obsolete": true},
			checkFunc: func(t *testing.T, tr *TransformResult) {
				if _, ok := tr.Definition["obsolete"]; ok {
					t.Error("expected obsolete field dropped")
				}
				if tr.Definition["active"] != true {
					t.Errorf("expected active=true, got %v", tr.Definition["active"])
				}
				if tr.Definition["weight"] != 2.5 {
					t.Errorf("expected weight=2.5, got %v", tr.Definition["weight"])
				}
			},
		},
		{
			name:       "missing transform function",
			script:     `x = 1`,
			definition: map[string]interface{}{},
			wantErr:    true,
		},
		{
			name: "transform not callable",
			script: `
transform = "not a function"
`,
			definition: map[string]interface{}{},
			wantErr:    true,
		},
		{
			name: "script error",
			script: `
def transform(definition, env):
    return definition[missing_variable]
`,
			definition: map[string]interface{}{},
			wantErr:    true,
		},
		{
			name: "non-dict return",
			script: `
def transform(definition, env):
    return 42
`,
			definition: map[string]interface{}{},
			wantErr:    true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := transformer.Transform(ctx, tt.script, tt.definition, tt.env)

			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				if result == nil || result.Error == "" {
					t.Error("expected error recorded on result")
				}
				return
			}

			if err != nil {
				t.Fatalf("transform failed: %v", err)
			}
			if result.ExecutionTime <= 0 {
				t.Error("expected execution time to be recorded")
			}
			if tt.checkFunc != nil {
				tt.checkFunc(t, result)
			}
		})
	}
}

func TestTransformer_DoesNotMutateInput(t *testing.T) {
	transformer := NewTransformer(5 * time.Second)
	ctx := context.Background()

	original := map[string]interface{}{"title": "x"}
	script := `
def transform(definition, env):
    definition["title"] = "changed"
    return definition
`

	result, err := transformer.Transform(ctx, script, original, nil)
	if err != nil {
		t.Fatalf("transform failed: %v", err)
	}
	if result.Definition["title"] != "changed" {
		t.Errorf("expected changed title in result, got %v", result.Definition["title"])
	}
	if original["title"] != "x" {
		t.Errorf("expected input untouched, got %v", original["title"])
	}
}

func TestTransformer_Timeout(t *testing.T) {
	transformer := NewTransformer(100 * time.Millisecond)
	ctx := context.Background()

	// Transform that takes too long.
	script := `
def transform(definition, env):
    total = 0
    for i in range(100000000):
        total = total + i
    return definition
`

	result, err := transformer.Transform(ctx, script, map[string]interface{}{}, nil)
	if err == nil {
		t.Fatal("expected timeout error")
	}
	if !strings.Contains(err.Error(), "timeout") {
		t.Errorf("expected timeout in error, got: %v", err)
	}
	if result == nil || result.Error == "" {
		t.Error("expected timeout error recorded on result")
	}
}

func TestTransformer_ContextCancelled(t *testing.T) {
	transformer := NewTransformer(30 * time.Second)
	ctx, cancel := context.WithCancel(context.Background())

	script := `
def transform(definition, env):
    total = 0
    for i in range(100000000):
        total = total + i
    return definition
`

	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	_, err := transformer.Transform(ctx, script, map[string]interface{}{}, nil)
	if err == nil {
		t.Fatal("expected cancellation error")
	}
}

func TestTransformer_TypeConversion(t *testing.T) {
	transformer := NewTransformer(5 * time.Second)
	ctx := context.Background()

	definition := map[string]interface{}{
		"string": "text",
		"int":    int64(42),
		"float":  1.5,
		"bool":   true,
		"null":   nil,
		"list":   []interface{}{"a", int64(1), false},
		"nested": map[string]interface{}{
			"inner": []interface{}{map[string]interface{}{"deep": "value"}},
		},
	}

	// Round-trip everything through the interpreter untouched.
	script := `
def transform(definition, env):
    return definition
`

	result, err := transformer.Transform(ctx, script, definition, nil)
	if err != nil {
		t.Fatalf("transform failed: %v", err)
	}

	if result.Definition["string"] != "text" {
		t.Errorf("string mangled: %v", result.Definition["string"])
	}
	if result.Definition["int"] != int64(42) {
		t.Errorf("int mangled: %v", result.Definition["int"])
	}
	if result.Definition["float"] != 1.5 {
		t.Errorf("float mangled: %v", result.Definition["float"])
	}
	if result.Definition["bool"] != true {
		t.Errorf("bool mangled: %v", result.Definition["bool"])
	}
	if result.Definition["null"] != nil {
		t.Errorf("null mangled: %v", result.Definition["null"])
	}

	list, ok := result.Definition["list"].([]interface{})
	if !ok || len(list) != 3 {
		t.Fatalf("list mangled: %v", result.Definition["list"])
	}
	if list[1] != int64(1) {
		t.Errorf("list element mangled: %v", list[1])
	}

	nested, ok := result.Definition["nested"].(map[string]interface{})
	if !ok {
		t.Fatalf("nested dict mangled: %T", result.Definition["nested"])
	}
	inner, ok := nested["inner"].([]interface{})
	if !ok || len(inner) != 1 {
		t.Fatalf("inner list mangled: %v", nested["inner"])
	}
	deep, ok := inner[0].(map[string]interface{})
	if !ok || deep["deep"] != "value" {
		t.Errorf("deep value mangled: %v", inner[0])
	}
}
