package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Telemetry bundles the logger, tracer, metrics registry, and event
// publisher behind one handle so commands can wire all four at once.
type Telemetry struct {
	Logger  *Logger
	Tracer  *Tracer
	Metrics *Metrics
	Events  *EventPublisher
	Config  *Config
}

type telemetryContextKey struct{}

// NewTelemetry validates cfg and brings up every component.
func NewTelemetry(cfg *Config) (*Telemetry, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger, err := NewLogger(cfg.Logging)
	if err != nil {
		return nil, err
	}
	tracer, err := NewTracer(cfg.Tracing, cfg.ServiceName, cfg.ServiceVersion, cfg.Environment)
	if err != nil {
		return nil, err
	}
	metrics, err := NewMetrics(cfg.Metrics)
	if err != nil {
		return nil, err
	}
	events, err := NewEventPublisher(cfg.Events)
	if err != nil {
		return nil, err
	}

	return &Telemetry{
		Logger:  logger,
		Tracer:  tracer,
		Metrics: metrics,
		Events:  events,
		Config:  cfg,
	}, nil
}

// WithContext stores both the telemetry handle and its logger in ctx.
func (t *Telemetry) WithContext(ctx context.Context) context.Context {
	ctx = context.WithValue(ctx, telemetryContextKey{}, t)
	return t.Logger.WithContext(ctx)
}

// FromTelemetryContext returns the telemetry handle carried by ctx, or
// nil when there is none.
func FromTelemetryContext(ctx context.Context) *Telemetry {
	if t, ok := ctx.Value(telemetryContextKey{}).(*Telemetry); ok {
		return t
	}
	return nil
}

// Shutdown stops the event publisher and then the tracer. The metrics
// endpoint keeps serving; scrapers may still want the final counter
// values while the process drains.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	if err := t.Events.Shutdown(ctx); err != nil {
		return err
	}
	return t.Tracer.Shutdown(ctx)
}

// Flush pushes pending spans to the exporter without shutting down.
func (t *Telemetry) Flush(ctx context.Context) error {
	return t.Tracer.ForceFlush(ctx)
}

// StartMetricsServer exposes the scrape endpoint if metrics are enabled.
func (t *Telemetry) StartMetricsServer() error {
	return t.Metrics.StartMetricsServer()
}

// InstrumentedContext carries the span, logger, and timer for one
// instrumented operation.
type InstrumentedContext struct {
	Ctx    context.Context
	Span   trace.Span
	Logger *Logger
	Timer  *Timer
}

// StartOperation opens a span, derives a logger carrying the operation
// name and trace identifiers, and starts a timer. Without telemetry in
// ctx it degrades to a plain logger and timer.
func StartOperation(ctx context.Context, operation string, attrs ...attribute.KeyValue) *InstrumentedContext {
	tel := FromTelemetryContext(ctx)
	if tel == nil {
		return &InstrumentedContext{
			Ctx:    ctx,
			Logger: FromContext(ctx),
			Timer:  NewTimer(),
		}
	}

	spanCtx, span := tel.Tracer.StartSpan(ctx, operation, attrs...)

	logger := tel.Logger.WithField("operation", operation)
	if sc := span.SpanContext(); sc.IsValid() {
		logger = logger.WithFields(map[string]interface{}{
			"trace_id": sc.TraceID().String(),
			"span_id":  sc.SpanID().String(),
		})
	}

	return &InstrumentedContext{
		Ctx:    spanCtx,
		Span:   span,
		Logger: logger,
		Timer:  NewTimer(),
	}
}

// End closes the operation, recording err on the span when present.
func (ic *InstrumentedContext) End(err error) {
	if ic.Span == nil {
		return
	}
	endSpan(ic.Span, err)
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		RecordError(span, err)
	} else {
		RecordSuccess(span)
	}
	span.End()
}

// flowState pairs the span and timer stashed in a context between the
// With* and End* halves of a deployment or strategy flow.
type flowState struct {
	span  trace.Span
	timer *Timer
}

type deploymentFlowKey struct{}

type strategyFlowKey struct{}

// WithDeploymentContext opens the deployment span, derives a logger
// scoped to the deployment, records the started metric, and publishes
// the started event. Pass the returned context to EndDeploymentContext.
func WithDeploymentContext(ctx context.Context, deploymentID, kind, name string) context.Context {
	tel := FromTelemetryContext(ctx)
	if tel == nil {
		return ctx
	}

	spanCtx, span := tel.Tracer.StartDeploymentSpan(ctx, deploymentID, kind, name)
	spanCtx = tel.Logger.WithDeploymentID(deploymentID).WithArtifact(kind, name).WithContext(spanCtx)

	tel.Metrics.RecordDeploymentStarted(kind)
	_ = tel.Events.PublishDeploymentStarted(deploymentID, kind+"/"+name)

	return context.WithValue(spanCtx, deploymentFlowKey{}, &flowState{span: span, timer: NewTimer()})
}

// EndDeploymentContext closes the deployment flow: span status, the
// completion metric, and the terminal event.
func EndDeploymentContext(ctx context.Context, deploymentID, kind, name, status, strategy string, err error) {
	tel := FromTelemetryContext(ctx)
	if tel == nil {
		return
	}

	var duration time.Duration
	if flow, ok := ctx.Value(deploymentFlowKey{}).(*flowState); ok {
		flow.span.SetAttributes(AttrDeploymentStatus.String(status))
		endSpan(flow.span, err)
		duration = flow.timer.Duration()
	}

	tel.Metrics.RecordDeploymentCompleted(kind, status, duration)

	artifact := kind + "/" + name
	if err != nil {
		_ = tel.Events.PublishDeploymentFailed(deploymentID, artifact, err.Error())
	} else {
		_ = tel.Events.PublishDeploymentCompleted(deploymentID, artifact, strategy, duration)
	}
}

// WithStrategyContext opens a span and logger for one strategy attempt
// inside a deployment flow.
func WithStrategyContext(ctx context.Context, deploymentID, strategy, kind, name string) context.Context {
	tel := FromTelemetryContext(ctx)
	if tel == nil {
		return ctx
	}

	spanCtx, span := tel.Tracer.StartStrategySpan(ctx, strategy, kind, name)
	spanCtx = tel.Logger.
		WithDeploymentID(deploymentID).
		WithStrategy(strategy).
		WithArtifact(kind, name).
		WithContext(spanCtx)

	_ = tel.Events.PublishStrategyStarted(deploymentID, strategy, kind+"/"+name)

	return context.WithValue(spanCtx, strategyFlowKey{}, &flowState{span: span, timer: NewTimer()})
}

// EndStrategyContext closes the strategy attempt with its metric and
// terminal event.
func EndStrategyContext(ctx context.Context, deploymentID, strategy, kind, name, status string, err error) {
	tel := FromTelemetryContext(ctx)
	if tel == nil {
		return
	}

	var duration time.Duration
	if flow, ok := ctx.Value(strategyFlowKey{}).(*flowState); ok {
		endSpan(flow.span, err)
		duration = flow.timer.Duration()
	}

	tel.Metrics.RecordStrategyAttempt(strategy, status, duration, kind)

	artifact := kind + "/" + name
	if err != nil {
		_ = tel.Events.PublishStrategyFailed(deploymentID, strategy, artifact, err.Error())
	} else {
		_ = tel.Events.PublishStrategyCompleted(deploymentID, strategy, artifact, duration)
	}
}

// RecordPlatformOperation wraps one REST call against the instance with
// a span and the call-latency metric. fn's error passes through
// unchanged.
func RecordPlatformOperation(ctx context.Context, operation, table string, fn func() error) error {
	tel := FromTelemetryContext(ctx)
	if tel == nil {
		return fn()
	}

	_, span := tel.Tracer.StartPlatformSpan(ctx, operation, table)
	timer := NewTimer()

	err := fn()

	tel.Metrics.RecordPlatformCall(operation, table, timer.Duration())
	endSpan(span, err)

	return err
}
