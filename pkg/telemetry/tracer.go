package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.4.0"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// Attribute keys used on deployment spans. Helpers below apply them so
// call sites cannot misspell a key.
var (
	AttrDeploymentID      = attribute.Key("deployment.id")
	AttrDeploymentStatus  = attribute.Key("deployment.status")
	AttrArtifactKind      = attribute.Key("artifact.kind")
	AttrArtifactName      = attribute.Key("artifact.name")
	AttrStrategyName      = attribute.Key("strategy.name")
	AttrVerificationRound = attribute.Key("verification.round")
	AttrPlatformTable     = attribute.Key("platform.table")
	AttrPlatformOp        = attribute.Key("platform.operation")
)

// Tracer owns the OpenTelemetry provider and the span helpers used
// around deployments, strategy attempts, and verification rounds.
type Tracer struct {
	provider *sdktrace.TracerProvider
	tracer   trace.Tracer
	config   TracingConfig
}

// NewTracer wires up trace export according to cfg. With tracing
// disabled the returned Tracer still hands out valid spans; they are
// simply never exported.
func NewTracer(cfg TracingConfig, serviceName, serviceVersion, environment string) (*Tracer, error) {
	if !cfg.Enabled {
		return &Tracer{
			provider: sdktrace.NewTracerProvider(),
			tracer:   otel.Tracer(serviceName),
			config:   cfg,
		}, nil
	}

	res, err := resource.New(context.Background(),
		resource.WithAttributes(
			semconv.ServiceNameKey.String(serviceName),
			semconv.ServiceVersionKey.String(serviceVersion),
			attribute.String("environment", environment),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create trace resource: %w", err)
	}

	exporter, err := newSpanExporter(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create trace exporter: %w", err)
	}

	opts := []sdktrace.TracerProviderOption{
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.SamplingRate))),
	}
	if exporter != nil {
		opts = append(opts, sdktrace.WithBatcher(exporter,
			sdktrace.WithMaxExportBatchSize(cfg.MaxExportBatchSize),
			sdktrace.WithExportTimeout(cfg.ExportTimeout),
		))
	}

	provider := sdktrace.NewTracerProvider(opts...)
	otel.SetTracerProvider(provider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	return &Tracer{
		provider: provider,
		tracer:   provider.Tracer(serviceName),
		config:   cfg,
	}, nil
}

// newSpanExporter builds the exporter named in the configuration. The
// none exporter returns nil: spans are generated but never leave the
// process.
func newSpanExporter(cfg TracingConfig) (sdktrace.SpanExporter, error) {
	switch cfg.Exporter {
	case "otlp":
		opts := []otlptracegrpc.Option{
			otlptracegrpc.WithEndpoint(cfg.Endpoint),
			otlptracegrpc.WithDialOption(grpc.WithBlock()),
		}
		if cfg.Insecure {
			opts = append(opts, otlptracegrpc.WithTLSCredentials(insecure.NewCredentials()))
		}
		if len(cfg.Headers) > 0 {
			opts = append(opts, otlptracegrpc.WithHeaders(cfg.Headers))
		}
		return otlptracegrpc.New(context.Background(), opts...)
	case "stdout":
		return stdouttrace.New(stdouttrace.WithPrettyPrint())
	case "none":
		return nil, nil
	}
	return nil, fmt.Errorf("unsupported trace exporter: %s", cfg.Exporter)
}

// Start opens a raw span. Most callers want one of the Start*Span
// helpers, which pin the attribute names.
func (t *Tracer) Start(ctx context.Context, spanName string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, spanName, opts...)
}

// StartSpan opens a span carrying the given attributes.
func (t *Tracer) StartSpan(ctx context.Context, operation string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, operation, trace.WithAttributes(attrs...))
}

// StartDeploymentSpan opens the root span for one deployment.
func (t *Tracer) StartDeploymentSpan(ctx context.Context, deploymentID, kind, name string) (context.Context, trace.Span) {
	return t.StartSpan(ctx, "deployment.execute",
		AttrDeploymentID.String(deploymentID),
		AttrArtifactKind.String(kind),
		AttrArtifactName.String(name),
		attribute.String("span.kind", "deployment"),
	)
}

// StartStrategySpan opens a span covering one strategy attempt.
func (t *Tracer) StartStrategySpan(ctx context.Context, strategy, kind, name string) (context.Context, trace.Span) {
	return t.StartSpan(ctx, "strategy.execute",
		AttrStrategyName.String(strategy),
		AttrArtifactKind.String(kind),
		AttrArtifactName.String(name),
		attribute.String("span.kind", "strategy"),
	)
}

// StartVerificationSpan opens a span for a single verification round.
func (t *Tracer) StartVerificationSpan(ctx context.Context, kind, name string, round int) (context.Context, trace.Span) {
	return t.StartSpan(ctx, "verification.round",
		AttrArtifactKind.String(kind),
		AttrArtifactName.String(name),
		AttrVerificationRound.Int(round),
		attribute.String("span.kind", "verification"),
	)
}

// StartPlatformSpan opens a span for one REST call against the target
// instance.
func (t *Tracer) StartPlatformSpan(ctx context.Context, operation, table string) (context.Context, trace.Span) {
	return t.StartSpan(ctx, fmt.Sprintf("platform.%s", operation),
		AttrPlatformTable.String(table),
		AttrPlatformOp.String(operation),
		attribute.String("span.kind", "platform"),
	)
}

// RecordError marks the span failed and attaches err. A nil err is a
// no-op so callers can pass whatever the operation returned.
func RecordError(span trace.Span, err error) {
	if err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// RecordSuccess marks the span as completed cleanly.
func RecordSuccess(span trace.Span) {
	span.SetStatus(codes.Ok, "")
}

// Shutdown flushes pending spans and stops the provider.
func (t *Tracer) Shutdown(ctx context.Context) error {
	if t.provider == nil {
		return nil
	}
	return t.provider.Shutdown(ctx)
}

// ForceFlush exports all pending spans without stopping the provider.
func (t *Tracer) ForceFlush(ctx context.Context) error {
	if t.provider == nil {
		return nil
	}
	return t.provider.ForceFlush(ctx)
}
