package config

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/load"
	"github.com/go-playground/validator/v10"

	"github.com/glidepush/glidepush/pkg/deploy"
	"github.com/glidepush/glidepush/pkg/platform"
)

// ManifestParser parses and validates CUE deployment manifests.
type ManifestParser struct {
	ctx         *cue.Context
	registry    *SchemaRegistry
	transformer *Transformer
	validator   *validator.Validate
}

// NewManifestParser creates a new manifest parser.
func NewManifestParser() *ManifestParser {
	return &ManifestParser{
		ctx:         cuecontext.New(),
		registry:    NewSchemaRegistry(),
		transformer: NewTransformer(30 * time.Second),
		validator:   validator.New(),
	}
}

// Parse loads one or more manifest sources. Files are compiled
// individually; directories are loaded as CUE packages. Multiple sources
// unify into one manifest. Parse and validation problems land in the
// returned manifest's Errors rather than failing the call; only source
// access errors are returned.
func (mp *ManifestParser) Parse(ctx context.Context, sources []string) (*Manifest, error) {
	if len(sources) == 0 {
		return nil, fmt.Errorf("no sources provided")
	}

	var cueValue cue.Value
	var sourceFiles []string
	var parseErrors []ValidationError

	for _, source := range sources {
		info, err := os.Stat(source)
		if err != nil {
			return nil, fmt.Errorf("failed to stat source %s: %w", source, err)
		}

		if info.IsDir() {
			val, files, errs := mp.loadDirectory(source)
			if len(errs) > 0 {
				parseErrors = append(parseErrors, errs...)
			}
			if val.Exists() {
				if cueValue.Exists() {
					cueValue = cueValue.Unify(val)
				} else {
					cueValue = val
				}
			}
			sourceFiles = append(sourceFiles, files...)
		} else {
			val, errs := mp.loadFile(source)
			if len(errs) > 0 {
				parseErrors = append(parseErrors, errs...)
			}
			if val.Exists() {
				if cueValue.Exists() {
					cueValue = cueValue.Unify(val)
				} else {
					cueValue = val
				}
			}
			sourceFiles = append(sourceFiles, source)
		}
	}

	if len(parseErrors) > 0 {
		return &Manifest{
			SourceFiles: sourceFiles,
			ParsedAt:    time.Now(),
			Errors:      parseErrors,
		}, nil
	}

	if err := cueValue.Err(); err != nil {
		parseErrors = append(parseErrors, mp.convertCUEErrors(err)...)
		return &Manifest{
			SourceFiles: sourceFiles,
			ParsedAt:    time.Now(),
			Errors:      parseErrors,
		}, nil
	}

	return mp.extract(ctx, cueValue, sourceFiles)
}

// ParseInline parses inline CUE content.
func (mp *ManifestParser) ParseInline(ctx context.Context, content string) (*Manifest, error) {
	val := mp.ctx.CompileString(content)
	if err := val.Err(); err != nil {
		return &Manifest{
			SourceFiles: []string{"inline"},
			ParsedAt:    time.Now(),
			Errors:      mp.convertCUEErrors(err),
		}, nil
	}

	return mp.extract(ctx, val, []string{"inline"})
}

// loadDirectory loads a directory as a CUE package.
func (mp *ManifestParser) loadDirectory(dir string) (cue.Value, []string, []ValidationError) {
	buildInstances := load.Instances([]string{dir}, nil)
	if len(buildInstances) == 0 {
		return cue.Value{}, nil, []ValidationError{{
			File:     dir,
			Message:  "no CUE files found",
			Severity: "error",
		}}
	}

	inst := buildInstances[0]
	if inst.Err != nil {
		return cue.Value{}, nil, mp.convertCUEErrors(inst.Err)
	}

	val := mp.ctx.BuildInstance(inst)
	if err := val.Err(); err != nil {
		return cue.Value{}, nil, mp.convertCUEErrors(err)
	}

	var files []string
	for _, file := range inst.Files {
		if file.Filename != "" {
			files = append(files, file.Filename)
		}
	}

	return val, files, nil
}

// loadFile loads a single CUE file.
func (mp *ManifestParser) loadFile(path string) (cue.Value, []ValidationError) {
	content, err := os.ReadFile(path)
	if err != nil {
		return cue.Value{}, []ValidationError{{
			File:     path,
			Message:  fmt.Sprintf("failed to read file: %v", err),
			Severity: "error",
		}}
	}

	val := mp.ctx.CompileString(string(content), cue.Filename(path))
	if err := val.Err(); err != nil {
		return cue.Value{}, mp.convertCUEErrors(err)
	}

	return val, nil
}

// extract pulls the deployment block and artifact entries out of a CUE
// value. Artifacts can be a list or a struct keyed by artifact name.
func (mp *ManifestParser) extract(ctx context.Context, val cue.Value, sourceFiles []string) (*Manifest, error) {
	manifest := &Manifest{
		SourceFiles: sourceFiles,
		ParsedAt:    time.Now(),
	}

	deploymentVal := val.LookupPath(cue.ParsePath("deployment"))
	if deploymentVal.Exists() {
		var deployment ManifestDeployment
		if err := deploymentVal.Decode(&deployment); err != nil {
			manifest.Errors = append(manifest.Errors, ValidationError{
				Path:     "deployment",
				Message:  fmt.Sprintf("failed to decode deployment: %v", err),
				Severity: "error",
			})
		} else if err := mp.registry.ValidateDeployment(ctx, deployment); err != nil {
			manifest.Errors = append(manifest.Errors, ValidationError{
				Path:     "deployment",
				Message:  err.Error(),
				Severity: "error",
			})
		} else {
			manifest.Deployment = deployment
		}
	}

	artifactsVal := val.LookupPath(cue.ParsePath("artifacts"))
	if artifactsVal.Exists() {
		switch artifactsVal.Kind() {
		case cue.StructKind:
			iter, err := artifactsVal.Fields(cue.All())
			if err != nil {
				manifest.Errors = append(manifest.Errors, ValidationError{
					Path:     "artifacts",
					Message:  fmt.Sprintf("failed to iterate artifacts: %v", err),
					Severity: "error",
				})
				break
			}
			for iter.Next() {
				name := iter.Selector().String()
				artifact, err := mp.extractArtifact(ctx, name, iter.Value())
				if err != nil {
					manifest.Errors = append(manifest.Errors, ValidationError{
						Path:     fmt.Sprintf("artifacts.%s", name),
						Message:  err.Error(),
						Severity: "error",
					})
				} else {
					manifest.Artifacts = append(manifest.Artifacts, artifact)
				}
			}
		case cue.ListKind:
			list, err := artifactsVal.List()
			if err != nil {
				manifest.Errors = append(manifest.Errors, ValidationError{
					Path:     "artifacts",
					Message:  fmt.Sprintf("failed to list artifacts: %v", err),
					Severity: "error",
				})
				break
			}
			idx := 0
			for list.Next() {
				artifact, err := mp.extractArtifact(ctx, "", list.Value())
				if err != nil {
					manifest.Errors = append(manifest.Errors, ValidationError{
						Path:     fmt.Sprintf("artifacts[%d]", idx),
						Message:  err.Error(),
						Severity: "error",
					})
				} else {
					manifest.Artifacts = append(manifest.Artifacts, artifact)
				}
				idx++
			}
		default:
			manifest.Errors = append(manifest.Errors, ValidationError{
				Path:     "artifacts",
				Message:  fmt.Sprintf("artifacts must be a list or a struct, got %s", artifactsVal.Kind()),
				Severity: "error",
			})
		}
	}

	return manifest, nil
}

// extractArtifact decodes one artifact entry. When the manifest keys
// artifacts by name the key fills a missing name field.
func (mp *ManifestParser) extractArtifact(ctx context.Context, name string, val cue.Value) (ManifestArtifact, error) {
	var artifact ManifestArtifact

	if err := val.Decode(&artifact); err != nil {
		return artifact, fmt.Errorf("failed to decode artifact: %w", err)
	}

	if artifact.Name == "" && name != "" {
		artifact.Name = name
	}

	if err := mp.validator.Struct(artifact); err != nil {
		return artifact, fmt.Errorf("validation failed: %w", err)
	}

	if err := mp.registry.ValidateArtifact(ctx, artifact); err != nil {
		return artifact, err
	}

	return artifact, nil
}

// convertCUEErrors converts CUE errors to ValidationError slice.
func (mp *ManifestParser) convertCUEErrors(err error) []ValidationError {
	var validationErrors []ValidationError

	errs := errors.Errors(err)
	for _, e := range errs {
		pos := errors.Positions(e)
		var file string
		var line, column int

		if len(pos) > 0 {
			file = pos[0].Filename()
			line = pos[0].Line()
			column = pos[0].Column()
		}

		validationErrors = append(validationErrors, ValidationError{
			File:     file,
			Line:     line,
			Column:   column,
			Message:  errors.Details(e, nil),
			Severity: "error",
		})
	}

	return validationErrors
}

// GetSchemaRegistry returns the schema registry for custom schema
// registration.
func (mp *ManifestParser) GetSchemaRegistry() *SchemaRegistry {
	return mp.registry
}

// Transformer returns the Starlark transformer used for artifact
// transforms.
func (mp *ManifestParser) Transformer() *Transformer {
	return mp.transformer
}

// PlanOptions shape how a manifest converts into deployment requests.
type PlanOptions struct {
	// Mode overrides the manifest's deployment mode when non-empty.
	Mode deploy.Mode

	// Env is passed to artifact transforms as the env argument.
	Env map[string]string
}

// PlanItems converts a parsed manifest into deployment plan items,
// running each artifact's transform first. The manifest must be free of
// validation errors.
func (mp *ManifestParser) PlanItems(ctx context.Context, m *Manifest, opts PlanOptions) ([]deploy.PlanItem, error) {
	if m.HasErrors() {
		return nil, fmt.Errorf("manifest has %d validation errors", len(m.Errors))
	}
	if len(m.Artifacts) == 0 {
		return nil, fmt.Errorf("manifest defines no artifacts")
	}

	mode := opts.Mode
	if mode == "" && m.Deployment.Mode != "" {
		mode = deploy.Mode(m.Deployment.Mode)
	}
	if mode == "" {
		mode = deploy.ModeImmediate
	}

	items := make([]deploy.PlanItem, 0, len(m.Artifacts))
	for _, artifact := range m.Artifacts {
		definition := artifact.Definition

		if artifact.Transform != "" {
			result, err := mp.transformer.Transform(ctx, artifact.Transform, definition, opts.Env)
			if err != nil {
				return nil, fmt.Errorf("transform for artifact %s: %w", artifact.Name, err)
			}
			definition = result.Definition
		}

		raw, err := json.Marshal(definition)
		if err != nil {
			return nil, fmt.Errorf("encoding definition for artifact %s: %w", artifact.Name, err)
		}

		req, err := deploy.NewRequest(platform.ArtifactKind(artifact.Kind), artifact.Name, raw, mode)
		if err != nil {
			return nil, fmt.Errorf("artifact %s: %w", artifact.Name, err)
		}
		req.SysID = artifact.SysID

		items = append(items, deploy.PlanItem{
			Request: req,
			Needs:   artifact.Needs,
		})
	}

	return items, nil
}
