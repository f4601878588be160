package policy

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

const (
	regoExt = ".rego"
	jsonExt = ".json"

	// Editors fire several filesystem events per save. Changes inside
	// this window collapse into a single reload.
	reloadDebounce = 500 * time.Millisecond
)

// Loader reads guardrail policies from .rego and .json files and can
// watch those paths for edits. Parsed files are cached by path until
// the watcher sees them change.
type Loader struct {
	logger  zerolog.Logger
	mu      sync.RWMutex
	cache   map[string]*Policy
	watcher *fsnotify.Watcher
}

// NewLoader returns a loader that logs through the given logger.
func NewLoader(logger zerolog.Logger) *Loader {
	return &Loader{
		logger: logger.With().Str("component", "policy-loader").Logger(),
		cache:  make(map[string]*Policy),
	}
}

// LoadFromPaths loads every policy found under the given files and
// directories, in order.
func (l *Loader) LoadFromPaths(ctx context.Context, paths []string) ([]Policy, error) {
	var loaded []Policy
	for _, path := range paths {
		policies, err := l.loadFromPath(ctx, path)
		if err != nil {
			return nil, fmt.Errorf("failed to load from path %s: %w", path, err)
		}
		loaded = append(loaded, policies...)
	}

	l.logger.Info().
		Int("total", len(loaded)).
		Int("sources", len(paths)).
		Msg("Policies loaded")

	return loaded, nil
}

func (l *Loader) loadFromPath(ctx context.Context, path string) ([]Policy, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat path: %w", err)
	}

	if info.IsDir() {
		return l.loadFromDirectory(ctx, path)
	}

	policy, err := l.loadFromFile(ctx, path)
	if err != nil {
		return nil, err
	}
	return []Policy{*policy}, nil
}

// loadFromDirectory walks dirPath recursively. A file that fails to
// parse is logged and skipped so one bad policy does not take the whole
// directory down.
func (l *Loader) loadFromDirectory(ctx context.Context, dirPath string) ([]Policy, error) {
	var policies []Policy

	walk := func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !isPolicyFile(path) {
			return nil
		}

		policy, err := l.loadFromFile(ctx, path)
		if err != nil {
			l.logger.Warn().Err(err).Str("path", path).Msg("Skipping unparseable policy file")
			return nil
		}
		policies = append(policies, *policy)
		return nil
	}

	if err := filepath.WalkDir(dirPath, walk); err != nil {
		return nil, fmt.Errorf("failed to walk directory: %w", err)
	}
	return policies, nil
}

func (l *Loader) loadFromFile(ctx context.Context, path string) (*Policy, error) {
	l.mu.RLock()
	cached, ok := l.cache[path]
	l.mu.RUnlock()
	if ok {
		return cached, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	policy, err := parsePolicyFile(path, data)
	if err != nil {
		return nil, err
	}

	l.mu.Lock()
	l.cache[path] = policy
	l.mu.Unlock()

	l.logger.Debug().Str("path", path).Str("policy", policy.Name).Msg("Policy file parsed")
	return policy, nil
}

func parsePolicyFile(path string, data []byte) (*Policy, error) {
	switch filepath.Ext(path) {
	case regoExt:
		return policyFromRego(path, data), nil
	case jsonExt:
		return policyFromJSON(data)
	}
	return nil, fmt.Errorf("unsupported file type: %s", path)
}

// policyFromRego builds a Policy from raw Rego source. The name is the
// file name without its extension; the description is the leading
// comment block.
func policyFromRego(path string, data []byte) *Policy {
	now := time.Now()
	return &Policy{
		Name:        strings.TrimSuffix(filepath.Base(path), regoExt),
		Description: leadingComment(string(data)),
		Rego:        string(data),
		Severity:    SeverityError, // a bare deny file blocks by default
		Enabled:     true,
		Tags:        []string{},
		Metadata:    map[string]interface{}{"source": path},
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// policyFromJSON decodes a full policy definition, filling in the
// severity and timestamps when the file leaves them out.
func policyFromJSON(data []byte) (*Policy, error) {
	var policy Policy
	if err := json.Unmarshal(data, &policy); err != nil {
		return nil, fmt.Errorf("failed to parse JSON policy: %w", err)
	}

	if policy.Severity == "" {
		policy.Severity = SeverityError
	}
	now := time.Now()
	if policy.CreatedAt.IsZero() {
		policy.CreatedAt = now
	}
	if policy.UpdatedAt.IsZero() {
		policy.UpdatedAt = now
	}
	return &policy, nil
}

// leadingComment joins the # comment block at the top of a Rego file
// into one line. The first non-comment, non-blank line ends the block.
func leadingComment(src string) string {
	var parts []string
	scanner := bufio.NewScanner(strings.NewReader(src))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		switch {
		case strings.HasPrefix(line, "#"):
			if text := strings.TrimSpace(strings.TrimPrefix(line, "#")); text != "" {
				parts = append(parts, text)
			}
		case line == "":
			continue
		default:
			return strings.Join(parts, " ")
		}
	}
	return strings.Join(parts, " ")
}

func isPolicyFile(path string) bool {
	ext := filepath.Ext(path)
	return ext == regoExt || ext == jsonExt
}

// Watch reloads policies whenever a watched file changes. reloadFn
// receives the full reloaded set, so a removed file drops its rules on
// the next reload.
func (l *Loader) Watch(ctx context.Context, paths []string, reloadFn func([]Policy) error) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	l.watcher = watcher

	for _, path := range paths {
		if err := l.addWatchPath(path); err != nil {
			l.logger.Warn().Err(err).Str("path", path).Msg("Cannot watch policy path")
		}
	}

	go l.watchLoop(ctx, paths, reloadFn)

	l.logger.Info().Int("paths", len(paths)).Msg("Watching policy paths")
	return nil
}

// addWatchPath registers a file, or a directory tree, with the watcher.
func (l *Loader) addWatchPath(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return l.watcher.Add(path)
	}
	return filepath.WalkDir(path, func(sub string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return l.watcher.Add(sub)
		}
		return nil
	})
}

// watchLoop turns filesystem events into debounced reloads.
func (l *Loader) watchLoop(ctx context.Context, paths []string, reloadFn func([]Policy) error) {
	var pending *time.Timer

	for {
		select {
		case <-ctx.Done():
			_ = l.watcher.Close()
			return

		case event, ok := <-l.watcher.Events:
			if !ok {
				return
			}
			if !isPolicyFile(event.Name) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}

			l.logger.Debug().
				Str("file", event.Name).
				Str("op", event.Op.String()).
				Msg("Policy file changed")

			// The edited file must be reparsed on the next load.
			l.mu.Lock()
			delete(l.cache, event.Name)
			l.mu.Unlock()

			if pending != nil {
				pending.Stop()
			}
			pending = time.AfterFunc(reloadDebounce, func() {
				if err := l.reload(ctx, paths, reloadFn); err != nil {
					l.logger.Error().Err(err).Msg("Policy reload failed")
				}
			})

		case err, ok := <-l.watcher.Errors:
			if !ok {
				return
			}
			l.logger.Error().Err(err).Msg("Policy watcher error")
		}
	}
}

func (l *Loader) reload(ctx context.Context, paths []string, reloadFn func([]Policy) error) error {
	policies, err := l.LoadFromPaths(ctx, paths)
	if err != nil {
		return fmt.Errorf("failed to reload policies: %w", err)
	}
	if err := reloadFn(policies); err != nil {
		return fmt.Errorf("failed to apply reloaded policies: %w", err)
	}

	l.logger.Info().Int("count", len(policies)).Msg("Policies reloaded")
	return nil
}

// StopWatching closes the watcher. Safe to call when Watch was never
// started.
func (l *Loader) StopWatching() error {
	if l.watcher != nil {
		return l.watcher.Close()
	}
	return nil
}

// ClearCache drops every cached parse result.
func (l *Loader) ClearCache() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.cache = make(map[string]*Policy)
}
