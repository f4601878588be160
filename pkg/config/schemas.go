package config

import (
	"context"
	"fmt"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
)

// SchemaRegistry holds the CUE schemas used for manifest validation.
// The builtins cover artifacts, deployment settings, and whole
// manifests; callers may register more.
type SchemaRegistry struct {
	ctx     *cue.Context
	schemas map[string]cue.Value
	mu      sync.RWMutex
}

// NewSchemaRegistry creates a registry with the builtin schemas
// compiled and installed.
func NewSchemaRegistry() *SchemaRegistry {
	sr := &SchemaRegistry{
		ctx:     cuecontext.New(),
		schemas: make(map[string]cue.Value),
	}
	for name, src := range map[string]string{
		"artifact":   builtinArtifactSchema,
		"deployment": builtinDeploymentSchema,
		"manifest":   builtinManifestSchema,
	} {
		_ = sr.RegisterSchema(name, src)
	}
	return sr
}

// Builtin schema sources. Schemas are open constraint structs rather
// than #definitions: unifying one with encoded data leaves required
// fields non-concrete when the data omits them, which
// Validate(cue.Concrete) then rejects.

const builtinArtifactSchema = `
// One deployable artifact entry

// Kind selects the target table set
kind: "flow" | "widget" | "script"

// Name must contain at least one non-space character
name: string & =~"\\S"

// Optional pinned canonical identifier, 32 hex characters
sys_id?: string & =~"^[0-9a-f]{32}$"

// Definition is the artifact body, shape owned by its generator
definition: {...}

// Needs lists artifact names that must deploy first
needs?: [...string & =~"\\S"]

// Transform is Starlark source run before deployment
transform?: string
`

const builtinDeploymentSchema = `
// Manifest-wide deployment settings

// Profile selects a configured instance profile
profile?: string & =~"\\S"

// Mode is the default deployment mode
mode?: "immediate" | "planned"
`

const builtinManifestSchema = `
// Whole-manifest shape for list-form manifests. Struct-keyed artifact
// maps take the name from the key and are checked entry by entry instead.

deployment?: {
	profile?: string & =~"\\S"
	mode?:    "immediate" | "planned"
}

artifacts?: [...{
	kind: "flow" | "widget" | "script"
	name: string & =~"\\S"
	sys_id?: string & =~"^[0-9a-f]{32}$"
	definition: {...}
	needs?: [...string & =~"\\S"]
	transform?: string
}]
`

// RegisterSchema compiles the schema source and stores it under name.
// The source is a constraint struct; validation unifies it with the
// data.
func (sr *SchemaRegistry) RegisterSchema(name, schema string) error {
	val := sr.ctx.CompileString(schema)
	if err := val.Err(); err != nil {
		return fmt.Errorf("failed to compile schema %s: %w", name, err)
	}

	sr.mu.Lock()
	sr.schemas[name] = val
	sr.mu.Unlock()
	return nil
}

// GetSchema retrieves a schema by name.
func (sr *SchemaRegistry) GetSchema(name string) (cue.Value, bool) {
	sr.mu.RLock()
	defer sr.mu.RUnlock()

	val, ok := sr.schemas[name]
	return val, ok
}

// ListSchemas returns all registered schema names.
func (sr *SchemaRegistry) ListSchemas() []string {
	sr.mu.RLock()
	defer sr.mu.RUnlock()

	names := make([]string, 0, len(sr.schemas))
	for name := range sr.schemas {
		names = append(names, name)
	}
	return names
}

// ValidateAgainstSchema encodes data and unifies it with the named
// schema, requiring every constrained field to come out concrete.
func (sr *SchemaRegistry) ValidateAgainstSchema(ctx context.Context, schemaName string, data interface{}) error {
	schema, ok := sr.GetSchema(schemaName)
	if !ok {
		return fmt.Errorf("schema %s not found", schemaName)
	}

	encoded := sr.ctx.Encode(data)
	if err := encoded.Err(); err != nil {
		return fmt.Errorf("failed to encode data: %w", err)
	}

	if err := schema.Unify(encoded).Validate(cue.Concrete(true)); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}
	return nil
}

// ValidateArtifact validates one manifest artifact against the artifact
// schema.
func (sr *SchemaRegistry) ValidateArtifact(ctx context.Context, artifact ManifestArtifact) error {
	return sr.ValidateAgainstSchema(ctx, "artifact", artifact)
}

// ValidateDeployment validates manifest deployment settings against the
// deployment schema.
func (sr *SchemaRegistry) ValidateDeployment(ctx context.Context, deployment ManifestDeployment) error {
	return sr.ValidateAgainstSchema(ctx, "deployment", deployment)
}
