package deploy

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	"github.com/glidepush/glidepush/pkg/platform"
	"github.com/glidepush/glidepush/pkg/telemetry"
)

// PolicyGate screens requests before any strategy runs. A non-nil error
// denies the deployment and nothing is sent to the platform.
type PolicyGate interface {
	Check(ctx context.Context, req *DeploymentRequest) error
}

// Recorder persists terminal outcomes for the history surface. Recording
// failures are logged, never surfaced: history is best-effort.
type Recorder interface {
	RecordOutcome(ctx context.Context, req *DeploymentRequest, outcome *DeploymentOutcome) error
}

// Options configures an Orchestrator. Client is required; every other
// field has a working default or is optional.
type Options struct {
	// Client is the platform transport.
	Client platform.Client

	// Strategies overrides the default ordered chain.
	Strategies []Strategy

	// Verifier overrides the default verification engine.
	Verifier *Verifier

	// Resolver overrides the default metadata resolver.
	Resolver *Resolver

	// Policy screens requests before deployment.
	Policy PolicyGate

	// Recorder persists outcomes.
	Recorder Recorder

	// Logger is the base logger. Defaults to a plain stderr logger.
	Logger *telemetry.Logger

	// Tracer wraps runs, strategies, and verification rounds in spans.
	Tracer *telemetry.Tracer

	// Metrics collects deployment counters and durations.
	Metrics *telemetry.Metrics

	// Events publishes lifecycle events to subscribers.
	Events *telemetry.EventPublisher
}

// Orchestrator drives deployment requests through the ordered strategy
// chain until one attempt passes independent verification or the chain is
// exhausted. It owns the run state machine; strategies deliver and the
// verifier judges, neither sees the chain.
type Orchestrator struct {
	client     platform.Client
	strategies []Strategy
	verifier   *Verifier
	resolver   *Resolver
	policy     PolicyGate
	recorder   Recorder
	logger     *telemetry.Logger
	tracer     *telemetry.Tracer
	metrics    *telemetry.Metrics
	events     *telemetry.EventPublisher

	inflight singleflight.Group
}

// NewOrchestrator creates an orchestrator from the given options.
func NewOrchestrator(opts Options) (*Orchestrator, error) {
	if opts.Client == nil {
		return nil, fmt.Errorf("platform client is required")
	}

	logger := opts.Logger
	if logger == nil {
		l, err := telemetry.NewLogger(telemetry.DefaultConfig().Logging)
		if err != nil {
			return nil, fmt.Errorf("building default logger: %w", err)
		}
		logger = l
	}
	logger = logger.NewComponentLogger("orchestrator")

	metrics := opts.Metrics
	if metrics == nil {
		m, err := telemetry.NewMetrics(telemetry.MetricsConfig{})
		if err != nil {
			return nil, fmt.Errorf("building metrics: %w", err)
		}
		metrics = m
	}

	events := opts.Events
	if events == nil {
		ep, err := telemetry.NewEventPublisher(telemetry.EventsConfig{})
		if err != nil {
			return nil, fmt.Errorf("building event publisher: %w", err)
		}
		events = ep
	}

	strategies := opts.Strategies
	if len(strategies) == 0 {
		strategies = DefaultStrategies(opts.Client, logger)
	}

	verifier := opts.Verifier
	if verifier == nil {
		verifier = NewVerifier(opts.Client, DefaultVerifierConfig(), logger).
			WithTracer(opts.Tracer).
			WithMetrics(metrics)
	}

	resolver := opts.Resolver
	if resolver == nil {
		resolver = NewResolver(opts.Client, logger)
	}

	return &Orchestrator{
		client:     opts.Client,
		strategies: strategies,
		verifier:   verifier,
		resolver:   resolver,
		policy:     opts.Policy,
		recorder:   opts.Recorder,
		logger:     logger,
		tracer:     opts.Tracer,
		metrics:    metrics,
		events:     events,
	}, nil
}

// Deploy runs one request to a terminal outcome. Chain failures are
// reported through the outcome, never the error: the error return is
// reserved for rejected requests (validation, policy denial) and context
// cancellation mid-run.
//
// Concurrent calls for the same kind/name coalesce into one run and share
// its outcome.
func (o *Orchestrator) Deploy(ctx context.Context, req *DeploymentRequest) (*DeploymentOutcome, error) {
	if req == nil {
		return nil, NewValidationError("deployment request is required", nil)
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}

	if o.policy != nil {
		if err := o.policy.Check(ctx, req); err != nil {
			o.metrics.RecordError(string(ErrorClassValidation), ErrCodePolicyDenied)
			o.events.PublishPolicyViolation(artifactRef(req), "guardrails", err.Error())
			o.logger.WithArtifact(string(req.Kind), req.Name).WithError(err).
				Warn("Deployment denied by policy")

			var derr *DeployError
			if errors.As(err, &derr) {
				return nil, derr
			}
			return nil, NewValidationError("deployment denied by policy", err).
				WithCode(ErrCodePolicyDenied).
				WithArtifact(req.Name)
		}
	}

	key := string(req.Kind) + "/" + req.Name
	result, err, shared := o.inflight.Do(key, func() (interface{}, error) {
		return o.run(ctx, req)
	})
	if err != nil {
		return nil, err
	}
	if shared {
		o.logger.WithDeploymentID(req.ID).WithArtifact(string(req.Kind), req.Name).
			Debug("Joined deployment already in flight for this artifact")
	}
	return result.(*DeploymentOutcome), nil
}

// run executes the strategy chain for one request.
func (o *Orchestrator) run(ctx context.Context, req *DeploymentRequest) (*DeploymentOutcome, error) {
	log := o.logger.WithDeploymentID(req.ID).WithArtifact(string(req.Kind), req.Name)

	var span trace.Span
	if o.tracer != nil {
		ctx, span = o.tracer.StartDeploymentSpan(ctx, req.ID, string(req.Kind), req.Name)
		defer span.End()
	}

	o.metrics.RecordDeploymentStarted(string(req.Kind))
	o.events.PublishDeploymentStarted(req.ID, artifactRef(req))
	log.WithField("mode", string(req.Mode)).Info("Deployment accepted")

	outcome := &DeploymentOutcome{
		RequestID: req.ID,
		StartedAt: time.Now(),
		Attempts:  make([]DeploymentAttempt, 0, len(o.strategies)),
	}

	var stagedPackageName string

	for i, strategy := range o.strategies {
		slog := log.WithStrategy(strategy.Name())

		if !strategy.Eligible(req) {
			now := time.Now()
			outcome.Attempts = append(outcome.Attempts, DeploymentAttempt{
				StrategyName: strategy.Name(),
				Status:       AttemptStatusSkipped,
				StartedAt:    now,
				CompletedAt:  now,
			})
			slog.Debug("Strategy not eligible for this request, skipped")
			continue
		}

		attempt := DeploymentAttempt{
			StrategyName: strategy.Name(),
			Status:       AttemptStatusExecuting,
			StartedAt:    time.Now(),
		}
		slog.WithField("position", i+1).Info("Executing strategy")
		o.events.PublishStrategyStarted(req.ID, strategy.Name(), artifactRef(req))

		sctx := ctx
		var sspan trace.Span
		if o.tracer != nil {
			sctx, sspan = o.tracer.StartStrategySpan(ctx, strategy.Name(), string(req.Kind), req.Name)
		}

		result, execErr := strategy.Execute(sctx, req)
		if execErr != nil {
			derr := ClassifyRemoteError(execErr, "strategy "+strategy.Name())
			derr.WithArtifact(req.Name).WithStrategy(strategy.Name())

			attempt.Status = AttemptStatusFailed
			attempt.Error = derr
			attempt.StatusCode = derr.StatusCode
			finishAttempt(&attempt)
			outcome.Attempts = append(outcome.Attempts, attempt)
			endSpan(sspan, derr)

			o.metrics.RecordStrategyAttempt(strategy.Name(), string(AttemptStatusFailed), attempt.Duration, string(req.Kind))
			o.metrics.RecordError(string(derr.Class), derr.Code)
			o.events.PublishStrategyFailed(req.ID, strategy.Name(), artifactRef(req), derr.Message)
			slog.WithError(derr).Warn("Strategy failed")

			if IsChainFatal(derr) {
				// Rejected credentials fail every strategy the same way.
				outcome.ManualInstructions = reauthInstructions(o.client.Host())
				slog.Error("Authentication rejected, aborting strategy chain")
				break
			}
			continue
		}

		attempt.RawResponse = result.Raw
		attempt.StatusCode = result.StatusCode
		if result.PackageID != "" {
			outcome.PackageID = result.PackageID
			stagedPackageName = result.PackageName
		}

		slog.Info("Strategy executed, verifying independently")

		verification, verr := o.verify(ctx, req, result)
		if verr != nil {
			// Only cancellation reaches here; the run is abandoned.
			finishAttempt(&attempt)
			endSpan(sspan, verr)
			o.metrics.RecordDeploymentCompleted(string(req.Kind), string(StatusFailed), time.Since(outcome.StartedAt))
			o.events.PublishDeploymentFailed(req.ID, artifactRef(req), verr.Error())
			return nil, verr
		}
		outcome.Verification = verification

		if verification.Verified {
			attempt.Status = AttemptStatusVerified
			finishAttempt(&attempt)
			outcome.Attempts = append(outcome.Attempts, attempt)
			endSpan(sspan, nil)

			outcome.Success = true
			outcome.StrategyUsed = strategy.Name()

			o.metrics.RecordStrategyAttempt(strategy.Name(), string(AttemptStatusVerified), attempt.Duration, string(req.Kind))
			o.metrics.RecordVerification(string(req.Kind), "passed")
			o.events.PublishVerificationPassed(req.ID, artifactRef(req), verification.CanonicalID, verification.AttemptsUsed)
			o.events.PublishStrategyCompleted(req.ID, strategy.Name(), artifactRef(req), attempt.Duration)

			if req.Mode == ModePlanned && result.PackageID != "" && !result.Committed {
				outcome.ManualInstructions = commitInstructions(req, result.PackageName)
				o.events.PublishPlanStaged(req.ID, artifactRef(req), result.PackageID)
				slog.Info("Package staged and previewed, commit pending")
			}
			break
		}

		attempt.Status = AttemptStatusVerifyFailed
		attempt.Error = NewVerificationError(verification.Reason, nil).
			WithArtifact(req.Name).
			WithStrategy(strategy.Name())
		finishAttempt(&attempt)
		outcome.Attempts = append(outcome.Attempts, attempt)
		endSpan(sspan, attempt.Error)

		o.metrics.RecordStrategyAttempt(strategy.Name(), string(AttemptStatusVerifyFailed), attempt.Duration, string(req.Kind))
		o.metrics.RecordVerification(string(req.Kind), "failed")
		o.events.PublishVerificationFailed(req.ID, artifactRef(req), verification.Reason, verification.AttemptsUsed)
		slog.WithField("reason", verification.Reason).Warn("Attempt did not verify, moving to next strategy")
	}

	outcome.CompletedAt = time.Now()
	outcome.Duration = outcome.CompletedAt.Sub(outcome.StartedAt)

	// A success without a verified canonical identity must never escape.
	if outcome.Success && (outcome.Verification == nil ||
		!outcome.Verification.Verified || outcome.Verification.CanonicalID == "") {
		log.Error("Discarding success without verified identity")
		outcome.Success = false
		outcome.StrategyUsed = ""
	}

	if outcome.Success {
		o.metrics.RecordDeploymentCompleted(string(req.Kind), string(StatusSucceeded), outcome.Duration)
		o.events.PublishDeploymentCompleted(req.ID, artifactRef(req), outcome.StrategyUsed, outcome.Duration)
		if span != nil {
			telemetry.RecordSuccess(span)
		}
		log.WithSysID(outcome.Verification.CanonicalID).
			WithField("strategy", outcome.StrategyUsed).
			WithField("duration", outcome.Duration.String()).
			Info("Deployment verified and complete")
	} else {
		if outcome.ManualInstructions == "" {
			outcome.ManualInstructions = manualRecoveryInstructions(req, stagedPackageName)
		}
		reason := failureReason(outcome)
		o.metrics.RecordDeploymentCompleted(string(req.Kind), string(StatusFailed), outcome.Duration)
		o.events.PublishDeploymentFailed(req.ID, artifactRef(req), reason)
		if span != nil {
			telemetry.RecordError(span, errors.New(reason))
		}
		log.WithField("reason", reason).
			WithField("failed_attempts", outcome.FailedAttempts()).
			Error("Deployment failed")
	}

	o.record(ctx, req, outcome)
	return outcome, nil
}

// verify resolves the canonical id for a strategy result and runs the
// verification engine. A planned package result verifies the staged
// package itself: until commit the artifact exists only inside it.
func (o *Orchestrator) verify(ctx context.Context, req *DeploymentRequest, result *StrategyResult) (*VerificationResult, error) {
	if req.Mode == ModePlanned && result.PackageID != "" && !result.Committed {
		return o.verifier.Verify(ctx, platform.KindPackage, result.PackageName, result.PackageID)
	}

	resolution := o.resolver.Resolve(ctx, req, result)
	return o.verifier.Verify(ctx, req.Kind, req.Name, resolution.CanonicalID)
}

// record hands the outcome to the recorder, if one is configured.
func (o *Orchestrator) record(ctx context.Context, req *DeploymentRequest, outcome *DeploymentOutcome) {
	if o.recorder == nil {
		return
	}
	if err := o.recorder.RecordOutcome(ctx, req, outcome); err != nil {
		o.logger.WithDeploymentID(req.ID).WithError(err).
			Warn("Recording deployment history failed")
	}
}

// artifactRef formats the kind/name pair used in event payloads.
func artifactRef(req *DeploymentRequest) string {
	return string(req.Kind) + "/" + req.Name
}

// failureReason picks the most specific explanation for a failed outcome.
func failureReason(outcome *DeploymentOutcome) string {
	if outcome.Verification != nil && outcome.Verification.Reason != "" {
		return outcome.Verification.Reason
	}
	if derr := outcome.LastError(); derr != nil {
		return derr.Message
	}
	return "all deployment strategies exhausted"
}

// finishAttempt stamps the attempt's completion time and duration.
func finishAttempt(a *DeploymentAttempt) {
	a.CompletedAt = time.Now()
	a.Duration = a.CompletedAt.Sub(a.StartedAt)
}

// endSpan closes a strategy span with the attempt's result. A nil span is
// a no-op so call sites stay flat.
func endSpan(span trace.Span, err error) {
	if span == nil {
		return
	}
	if err != nil {
		telemetry.RecordError(span, err)
	} else {
		telemetry.RecordSuccess(span)
	}
	span.End()
}
