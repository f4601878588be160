package commands

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/glidepush/glidepush/pkg/config"
	"github.com/glidepush/glidepush/pkg/deploy"
	"github.com/glidepush/glidepush/pkg/platform"
	"github.com/glidepush/glidepush/pkg/policy"
	"github.com/glidepush/glidepush/pkg/stores"
	"github.com/glidepush/glidepush/pkg/telemetry"
)

// workspace bundles the configuration and telemetry every command starts
// from. Commands open it, pull what they need (platform client, policy
// gate, history store, orchestrator), and close it on the way out.
type workspace struct {
	cfg     *config.Config
	logger  *telemetry.Logger
	metrics *telemetry.Metrics
	tracer  *telemetry.Tracer
	events  *telemetry.EventPublisher

	store   *stores.SQLiteStore
	pengine *policy.Engine
	ploader *policy.Loader
}

// openWorkspace loads the configuration and builds the telemetry stack.
// Flag overrides beat config file settings for logging.
func openWorkspace(version string) (*workspace, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	tcfg := cfg.Telemetry(version)
	if logLevel != "" {
		tcfg.Logging.Level = logLevel
	}
	if logFormat != "" {
		tcfg.Logging.Format = logFormat
	}

	logger, err := telemetry.NewLogger(tcfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("building logger: %w", err)
	}
	metrics, err := telemetry.NewMetrics(tcfg.Metrics)
	if err != nil {
		return nil, fmt.Errorf("building metrics: %w", err)
	}
	tracer, err := telemetry.NewTracer(tcfg.Tracing, tcfg.ServiceName, tcfg.ServiceVersion, tcfg.Environment)
	if err != nil {
		return nil, fmt.Errorf("building tracer: %w", err)
	}
	events, err := telemetry.NewEventPublisher(tcfg.Events)
	if err != nil {
		return nil, fmt.Errorf("building event publisher: %w", err)
	}

	return &workspace{
		cfg:     cfg,
		logger:  logger,
		metrics: metrics,
		tracer:  tracer,
		events:  events,
	}, nil
}

// Close flushes telemetry and releases everything the workspace opened.
// Uses its own deadline so shutdown finishes even when the command's
// context is already canceled.
func (w *workspace) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if w.ploader != nil {
		if err := w.ploader.StopWatching(); err != nil {
			log.Warn().Err(err).Msg("Stopping policy watcher failed")
		}
	}
	if w.store != nil {
		if err := w.store.Close(); err != nil {
			log.Warn().Err(err).Msg("Closing history store failed")
		}
	}
	if err := w.events.Shutdown(ctx); err != nil {
		log.Warn().Err(err).Msg("Event publisher shutdown failed")
	}
	if err := w.tracer.Shutdown(ctx); err != nil {
		log.Warn().Err(err).Msg("Tracer shutdown failed")
	}
}

// resolveProfile picks the instance profile: the --profile flag wins,
// then the manifest's profile, then the workspace default.
func (w *workspace) resolveProfile(manifestProfile string) (string, config.Profile, error) {
	name := profileName
	if name == "" {
		name = manifestProfile
	}
	if name == "" {
		name = w.cfg.DefaultProfile
	}
	if name == "" && len(w.cfg.Profiles) == 1 {
		for n := range w.cfg.Profiles {
			name = n
		}
	}
	prof, err := w.cfg.Profile(name)
	if err != nil {
		return "", config.Profile{}, err
	}
	return name, prof, nil
}

// platformClient builds the instrumented Table API client for a profile.
func (w *workspace) platformClient(prof config.Profile) (platform.Client, error) {
	inner, err := platform.NewHTTPClient(prof.PlatformConfig())
	if err != nil {
		return nil, err
	}
	return platform.NewInstrumentedClient(inner, w.metrics, w.tracer), nil
}

// policyGate builds the guardrail gate for a profile, loading user
// policies on top of the builtin baseline. Returns nil when policy
// evaluation is disabled.
func (w *workspace) policyGate(ctx context.Context, profName string, prof config.Profile) (*policy.Gate, error) {
	if !w.cfg.Policy.Enabled {
		return nil, nil
	}

	engine, err := policy.NewEngine(log.Logger)
	if err != nil {
		return nil, fmt.Errorf("building policy engine: %w", err)
	}
	if len(w.cfg.Policy.Paths) > 0 {
		if err := engine.LoadPolicies(ctx, w.cfg.Policy.Paths); err != nil {
			return nil, fmt.Errorf("loading policies: %w", err)
		}
	}
	w.pengine = engine

	return policy.NewGate(engine, policy.InstanceInput{
		Host:       instanceHost(prof),
		Profile:    profName,
		Production: prof.Production,
	}, log.Logger), nil
}

// watchPolicies hot-reloads user policies on file changes. The engine
// swaps in the full reloaded set, so deleted files drop their rules.
func (w *workspace) watchPolicies(ctx context.Context) error {
	if w.pengine == nil || !w.cfg.Policy.Watch || len(w.cfg.Policy.Paths) == 0 {
		return nil
	}
	loader := policy.NewLoader(log.Logger)
	if err := loader.Watch(ctx, w.cfg.Policy.Paths, func(policies []policy.Policy) error {
		return w.pengine.ReplacePolicies(ctx, policies)
	}); err != nil {
		return fmt.Errorf("watching policies: %w", err)
	}
	w.ploader = loader
	return nil
}

// historyStore opens the SQLite history database, creating the schema
// when missing. Returns nil when history is disabled.
func (w *workspace) historyStore(ctx context.Context) (*stores.SQLiteStore, error) {
	if !w.cfg.History.Enabled {
		return nil, nil
	}
	if w.store != nil {
		return w.store, nil
	}

	store, err := stores.NewSQLiteStore(stores.Config{Path: w.cfg.History.Path})
	if err != nil {
		return nil, fmt.Errorf("opening history store: %w", err)
	}
	if err := store.Init(ctx); err != nil {
		return nil, fmt.Errorf("initializing history store: %w", err)
	}
	if err := store.Migrate(ctx); err != nil {
		return nil, fmt.Errorf("migrating history store: %w", err)
	}
	w.store = store
	return store, nil
}

// verifierConfig maps the workspace verification settings onto the
// engine configuration, keeping defaults for unset knobs.
func (w *workspace) verifierConfig() deploy.VerifierConfig {
	vcfg := deploy.DefaultVerifierConfig()
	if w.cfg.Verification.MaxAttempts > 0 {
		vcfg.MaxAttempts = w.cfg.Verification.MaxAttempts
	}
	if d := w.cfg.Verification.BaseDelay.Std(); d > 0 {
		vcfg.BaseDelay = d
	}
	return vcfg
}

// orchestrator assembles the full deployment pipeline for a profile:
// instrumented client, policy gate, history recorder, verifier, and the
// strategy chain (optionally restricted to the named strategies).
func (w *workspace) orchestrator(ctx context.Context, profName string, prof config.Profile, strategyNames []string) (*deploy.Orchestrator, error) {
	client, err := w.platformClient(prof)
	if err != nil {
		return nil, err
	}

	gate, err := w.policyGate(ctx, profName, prof)
	if err != nil {
		return nil, err
	}

	opts := deploy.Options{
		Client:  client,
		Logger:  w.logger,
		Tracer:  w.tracer,
		Metrics: w.metrics,
		Events:  w.events,
		Verifier: deploy.NewVerifier(client, w.verifierConfig(), w.logger).
			WithTracer(w.tracer).
			WithMetrics(w.metrics),
	}
	// The interface fields stay nil unless a concrete value exists; a
	// typed nil would defeat the orchestrator's nil checks.
	if gate != nil {
		opts.Policy = gate
	}

	store, err := w.historyStore(ctx)
	if err != nil {
		return nil, err
	}
	if store != nil {
		recorder := stores.NewRecorder(store, client.Host())
		if user := os.Getenv("USER"); user != "" {
			recorder = recorder.WithActor(user)
		}
		opts.Recorder = recorder
	}

	if len(strategyNames) > 0 {
		strategies, err := strategiesFor(strategyNames, client, w.logger)
		if err != nil {
			return nil, err
		}
		opts.Strategies = strategies
	}

	return deploy.NewOrchestrator(opts)
}

// strategiesFor restricts the default chain to the named strategies,
// preserving the declared order.
func strategiesFor(names []string, client platform.Client, logger *telemetry.Logger) ([]deploy.Strategy, error) {
	all := deploy.DefaultStrategies(client, logger)
	byName := make(map[string]bool, len(names))
	for _, name := range names {
		known := false
		for _, s := range all {
			if s.Name() == name {
				known = true
				break
			}
		}
		if !known {
			return nil, fmt.Errorf("unknown strategy %q (available: %s, %s)",
				name, deploy.StrategyPackageImport, deploy.StrategyDirectCreate)
		}
		byName[name] = true
	}

	selected := make([]deploy.Strategy, 0, len(byName))
	for _, s := range all {
		if byName[s.Name()] {
			selected = append(selected, s)
		}
	}
	return selected, nil
}

// instanceHost extracts the bare host from a profile's instance URL.
func instanceHost(prof config.Profile) string {
	u, err := url.Parse(prof.InstanceURL)
	if err != nil || u.Host == "" {
		return prof.InstanceURL
	}
	return u.Host
}
