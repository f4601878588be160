package config

import (
	"context"
	"fmt"
	"time"

	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"
)

// Transformer executes Starlark artifact transforms safely. A transform
// script defines a function
//
//	def transform(definition, env):
//	    ...
//	    return definition
//
// which receives the artifact definition as a dict and the deployment
// environment as a string dict, and returns the definition to deploy.
type Transformer struct {
	timeout time.Duration
}

// NewTransformer creates a new transformer.
func NewTransformer(timeout time.Duration) *Transformer {
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &Transformer{
		timeout: timeout,
	}
}

// Transform runs the script's transform function against the definition.
// Execution is sandboxed: no filesystem, no network, print suppressed,
// and the run is cancelled when the timeout or the context expires.
func (t *Transformer) Transform(ctx context.Context, script string, definition map[string]interface{}, env map[string]string) (*TransformResult, error) {
	startTime := time.Now()

	evalCtx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	thread := &starlark.Thread{
		Name: "glidepush",
		Print: func(_ *starlark.Thread, msg string) {
			// Transforms run sandboxed, print output is dropped.
		},
	}

	// Interrupt the interpreter when the deadline passes. Cancel makes
	// the running evaluation return an error instead of leaking a
	// goroutine.
	watchDone := make(chan struct{})
	defer close(watchDone)
	go func() {
		select {
		case <-evalCtx.Done():
			thread.Cancel("transform deadline exceeded")
		case <-watchDone:
		}
	}()

	transformed, err := t.run(thread, script, definition, env)
	if err != nil {
		switch evalCtx.Err() {
		case context.DeadlineExceeded:
			err = fmt.Errorf("transform timeout after %v", t.timeout)
		case context.Canceled:
			err = fmt.Errorf("transform cancelled: %w", context.Canceled)
		}
		return &TransformResult{
			ExecutionTime: time.Since(startTime),
			Error:         err.Error(),
		}, err
	}

	return &TransformResult{
		Definition:    transformed,
		ExecutionTime: time.Since(startTime),
	}, nil
}

// run executes the script and calls its transform function.
func (t *Transformer) run(thread *starlark.Thread, script string, definition map[string]interface{}, env map[string]string) (map[string]interface{}, error) {
	predeclared := starlark.StringDict{
		"struct": starlarkstruct.Default,
	}

	globals, err := starlark.ExecFile(thread, "transform.star", script, predeclared)
	if err != nil {
		return nil, fmt.Errorf("starlark execution failed: %w", err)
	}

	fnVal, ok := globals["transform"]
	if !ok {
		return nil, fmt.Errorf("script does not define a transform function")
	}
	fn, ok := fnVal.(starlark.Callable)
	if !ok {
		return nil, fmt.Errorf("transform is not callable, got %s", fnVal.Type())
	}

	defArg, err := toStarlarkValue(definition)
	if err != nil {
		return nil, fmt.Errorf("failed to convert definition: %w", err)
	}

	envDict := starlark.NewDict(len(env))
	for key, value := range env {
		if err := envDict.SetKey(starlark.String(key), starlark.String(value)); err != nil {
			return nil, fmt.Errorf("failed to convert env: %w", err)
		}
	}

	result, err := starlark.Call(thread, fn, starlark.Tuple{defArg, envDict}, nil)
	if err != nil {
		return nil, fmt.Errorf("transform call failed: %w", err)
	}

	value, err := fromStarlarkValue(result)
	if err != nil {
		return nil, fmt.Errorf("failed to convert transform result: %w", err)
	}

	transformed, ok := value.(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("transform must return a dict, got %s", result.Type())
	}

	return transformed, nil
}

// toStarlarkValue converts a Go value to a Starlark value.
func toStarlarkValue(v interface{}) (starlark.Value, error) {
	if v == nil {
		return starlark.None, nil
	}

	switch val := v.(type) {
	case bool:
		return starlark.Bool(val), nil
	case int:
		return starlark.MakeInt(val), nil
	case int64:
		return starlark.MakeInt64(val), nil
	case float64:
		return starlark.Float(val), nil
	case string:
		return starlark.String(val), nil
	case []interface{}:
		list := make([]starlark.Value, len(val))
		for i, item := range val {
			starlarkItem, err := toStarlarkValue(item)
			if err != nil {
				return nil, err
			}
			list[i] = starlarkItem
		}
		return starlark.NewList(list), nil
	case map[string]interface{}:
		dict := starlark.NewDict(len(val))
		for k, v := range val {
			starlarkVal, err := toStarlarkValue(v)
			if err != nil {
				return nil, err
			}
			if err := dict.SetKey(starlark.String(k), starlarkVal); err != nil {
				return nil, err
			}
		}
		return dict, nil
	default:
		return nil, fmt.Errorf("unsupported type: %T", v)
	}
}

// fromStarlarkValue converts a Starlark value to a Go value.
func fromStarlarkValue(v starlark.Value) (interface{}, error) {
	switch val := v.(type) {
	case starlark.NoneType:
		return nil, nil
	case starlark.Bool:
		return bool(val), nil
	case starlark.Int:
		i, ok := val.Int64()
		if !ok {
			return nil, fmt.Errorf("integer too large")
		}
		return i, nil
	case starlark.Float:
		return float64(val), nil
	case starlark.String:
		return string(val), nil
	case *starlark.List:
		list := make([]interface{}, val.Len())
		for i := 0; i < val.Len(); i++ {
			item, err := fromStarlarkValue(val.Index(i))
			if err != nil {
				return nil, err
			}
			list[i] = item
		}
		return list, nil
	case starlark.Tuple:
		list := make([]interface{}, len(val))
		for i, item := range val {
			converted, err := fromStarlarkValue(item)
			if err != nil {
				return nil, err
			}
			list[i] = converted
		}
		return list, nil
	case *starlark.Dict:
		dict := make(map[string]interface{})
		for _, item := range val.Items() {
			key, ok := item[0].(starlark.String)
			if !ok {
				return nil, fmt.Errorf("dict key must be string")
			}
			value, err := fromStarlarkValue(item[1])
			if err != nil {
				return nil, err
			}
			dict[string(key)] = value
		}
		return dict, nil
	case *starlarkstruct.Struct:
		dict := make(map[string]interface{})
		for _, name := range val.AttrNames() {
			attr, err := val.Attr(name)
			if err != nil {
				continue
			}
			value, err := fromStarlarkValue(attr)
			if err != nil {
				return nil, err
			}
			dict[name] = value
		}
		return dict, nil
	default:
		return nil, fmt.Errorf("unsupported starlark type: %s", v.Type())
	}
}
