// Package telemetry wires structured logging, tracing, metrics, and
// event publishing into one handle that the rest of GlidePush carries
// through context.
//
// Logging is zerolog, tracing is OpenTelemetry, metrics are Prometheus,
// and events are an in-process pub/sub used by the watch command and
// deployment history. Each piece can be switched off independently; a
// disabled piece degrades to a no-op rather than forcing nil checks on
// callers.
//
// # Setup
//
// Build the handle once at startup and push it into context:
//
//	cfg := telemetry.DefaultConfig()
//	cfg.ServiceName = "glidepush"
//	cfg.ServiceVersion = "1.0.0"
//
//	tel, err := telemetry.NewTelemetry(cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer tel.Shutdown(context.Background())
//
//	ctx = tel.WithContext(ctx)
//
// DevelopmentConfig gives verbose console logging with tracing printed
// to stdout; ProductionConfig gives JSON logs, OTLP export with 10%
// sampling, and the metrics server.
//
// # Logging
//
// Loggers are built per component and accumulate deployment fields as
// the work descends:
//
//	logger := tel.Logger.NewComponentLogger("orchestrator")
//	logger = logger.WithDeploymentID("dep-123").WithArtifact("widget", "incident_board")
//	logger.Info("Starting deployment")
//	logger.WithError(err).Error("Deployment failed")
//
// Accepted levels are trace, debug, info, warn, error, and fatal.
//
// # Tracing
//
// Spans cover the deployment flow down to individual platform calls:
//
//	ctx, span := tel.Tracer.Start(ctx, "deployment.execute")
//	defer span.End()
//
//	span.SetAttributes(
//	    attribute.String("artifact.kind", "widget"),
//	    attribute.String("artifact.name", "incident_board"),
//	)
//
//	if err != nil {
//	    telemetry.RecordError(span, err)
//	}
//
// The otlp exporter is meant for production collectors; stdout prints
// spans for local work.
//
// # Metrics
//
// Counters and histograms follow deployments, strategy attempts,
// verification, and platform traffic:
//
//	tel.Metrics.RecordDeploymentStarted("widget")
//	tel.Metrics.RecordDeploymentCompleted("widget", "succeeded", duration)
//	tel.Metrics.RecordStrategyAttempt("package-import", "verified", duration, "flow")
//	tel.Metrics.RecordPlatformCall("GET", "sp_widget", duration)
//	tel.Metrics.RecordError("throttled", "RATE_LIMITED")
//
// Served over HTTP, by default at :9090/metrics. The series are:
//
//	glidepush_deployments_started_total{kind}
//	glidepush_deployments_completed_total{kind,status}
//	glidepush_deployment_duration_seconds{status}
//	glidepush_strategy_attempts_total{strategy,status}
//	glidepush_strategy_attempt_duration_seconds{strategy,kind}
//	glidepush_verification_rounds_total{kind}
//	glidepush_verifications_total{kind,outcome}
//	glidepush_platform_calls_total{method,table}
//	glidepush_platform_call_duration_seconds{method,table}
//	glidepush_platform_errors_total{method,status_code}
//	glidepush_errors_by_class_total{class}
//	glidepush_errors_by_code_total{code}
//	glidepush_active_deployments
//
// # Events
//
// The publisher buffers events and fans them out to subscribers, each
// optionally behind a filter:
//
//	tel.Events.PublishDeploymentStarted(deploymentID, "widget/incident_board")
//	tel.Events.PublishVerificationPassed(deploymentID, "widget/incident_board", sysID, 1)
//
//	tel.Events.Subscribe(func(event telemetry.Event) {
//	    fmt.Printf("Event: %s - %s\n", event.Type, event.Message)
//	}, telemetry.FilterByLevel("warning"))
//
// Filters: FilterByLevel, FilterByType, FilterByDeploymentID,
// FilterByArtifact.
//
// # Flow Helpers
//
// The context helpers bundle span, logger, metrics, and events for the
// common shapes so call sites stay short:
//
//	ic := telemetry.StartOperation(ctx, "resolve.metadata",
//	    attribute.String("artifact.kind", kind))
//	defer ic.End(err)
//	ic.Logger.Info("Resolving canonical sys_id")
//
//	ctx = telemetry.WithDeploymentContext(ctx, deploymentID, kind, name)
//	defer telemetry.EndDeploymentContext(ctx, deploymentID, kind, name, status, strategy, err)
//
//	ctx = telemetry.WithStrategyContext(ctx, deploymentID, strategy, kind, name)
//	defer telemetry.EndStrategyContext(ctx, deploymentID, strategy, kind, name, status, err)
//
//	err := telemetry.RecordPlatformOperation(ctx, "GET", "sp_widget", func() error {
//	    return client.Query(ctx, "sp_widget", query, 1)
//	})
//
// # Shutdown
//
// Shutdown drains buffered events and flushes pending spans, so give it
// a deadline and call it on every exit path:
//
//	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
//	defer cancel()
//	if err := tel.Shutdown(ctx); err != nil {
//	    log.Printf("Telemetry shutdown error: %v", err)
//	}
//
// Credentials and API tokens must never reach log fields or span
// attributes, and production trace export should run over TLS.
package telemetry
