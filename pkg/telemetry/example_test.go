package telemetry_test

import (
	"context"
	"fmt"
	"time"

	"github.com/glidepush/glidepush/pkg/telemetry"
	"go.opentelemetry.io/otel/attribute"
)

func Example_basicSetup() {
	cfg := telemetry.DefaultConfig()
	cfg.ServiceName = "glidepush"
	cfg.ServiceVersion = "1.0.0"

	tel, err := telemetry.NewTelemetry(cfg)
	if err != nil {
		panic(err)
	}
	defer tel.Shutdown(context.Background())

	ctx := tel.WithContext(context.Background())
	telemetry.FromContext(ctx).Info("Application started")

	// Output varies, none specified.
}

func Example_structuredLogging() {
	cfg := telemetry.DevelopmentConfig()
	cfg.Logging.Output = "stdout"

	tel, _ := telemetry.NewTelemetry(cfg)
	defer tel.Shutdown(context.Background())

	// Component loggers carry their context fields on every line.
	logger := tel.Logger.NewComponentLogger("orchestrator").
		WithDeploymentID("dep-123").
		WithArtifact("widget", "incident_board")

	logger.Debug("Starting deployment")
	logger.Info("Strategy attempt succeeded")
	logger.Warn("Verification round returned no records")

	err := fmt.Errorf("request timeout")
	logger.WithError(err).Error("Failed to reach instance")

	// Output varies, none specified.
}

func Example_metricsCollection() {
	cfg := telemetry.DefaultConfig()
	cfg.Metrics.Enabled = true

	tel, _ := telemetry.NewTelemetry(cfg)
	defer tel.Shutdown(context.Background())

	tel.Metrics.RecordDeploymentStarted("widget")

	start := time.Now()
	time.Sleep(50 * time.Millisecond)
	tel.Metrics.RecordDeploymentCompleted("widget", "succeeded", time.Since(start))

	tel.Metrics.RecordStrategyAttempt("package-import", "verified", 25*time.Millisecond, "widget")
	tel.Metrics.RecordPlatformCall("GET", "sp_widget", 15*time.Millisecond)
	tel.Metrics.RecordError("throttled", "RATE_LIMITED")

	fmt.Println("Metrics recorded successfully")
	// Output: Metrics recorded successfully
}

func Example_eventPublishing() {
	cfg := telemetry.DefaultConfig()
	cfg.Events.Enabled = true
	cfg.Events.EnableAsync = false

	tel, _ := telemetry.NewTelemetry(cfg)
	defer tel.Shutdown(context.Background())

	// A nil filter receives everything.
	tel.Events.Subscribe(func(event telemetry.Event) {
		fmt.Printf("Event: %s - %s\n", event.Type, event.Message)
	}, nil)

	tel.Events.PublishDeploymentStarted("dep-123", "widget/incident_board")
	tel.Events.PublishStrategyStarted("dep-123", "package-import", "widget/incident_board")
	tel.Events.PublishVerificationPassed("dep-123", "widget/incident_board", "a1b2c3", 1)

	// Subscribers run on their own goroutines, so output order varies.
}

func Example_deploymentInstrumentation() {
	tel, _ := telemetry.NewTelemetry(telemetry.DevelopmentConfig())
	defer tel.Shutdown(context.Background())

	ctx := tel.WithContext(context.Background())

	deploymentID := "dep-123"
	ctx = telemetry.WithDeploymentContext(ctx, deploymentID, "widget", "incident_board")

	runStrategy(ctx, deploymentID)

	telemetry.EndDeploymentContext(ctx, deploymentID, "widget", "incident_board", "succeeded", "package-import", nil)

	fmt.Println("Deployment instrumentation complete")
	// Output: Deployment instrumentation complete
}

func runStrategy(ctx context.Context, deploymentID string) {
	strategy := "package-import"
	ctx = telemetry.WithStrategyContext(ctx, deploymentID, strategy, "widget", "incident_board")

	telemetry.FromContext(ctx).Info("Executing strategy")
	time.Sleep(10 * time.Millisecond)

	telemetry.EndStrategyContext(ctx, deploymentID, strategy, "widget", "incident_board", "verified", nil)
}

func Example_platformInstrumentation() {
	tel, _ := telemetry.NewTelemetry(telemetry.DevelopmentConfig())
	defer tel.Shutdown(context.Background())

	ctx := tel.WithContext(context.Background())

	err := telemetry.RecordPlatformOperation(ctx, "GET", "sp_widget", func() error {
		time.Sleep(15 * time.Millisecond)
		return nil
	})

	if err == nil {
		fmt.Println("Platform operation completed successfully")
	}

	// Output: Platform operation completed successfully
}

func Example_instrumentedOperation() {
	tel, _ := telemetry.NewTelemetry(telemetry.DevelopmentConfig())
	defer tel.Shutdown(context.Background())

	ctx := tel.WithContext(context.Background())

	ic := telemetry.StartOperation(ctx, "resolve.metadata",
		attribute.String("artifact.kind", "widget"),
	)
	defer ic.End(nil)

	ic.Logger.Info("Resolving canonical sys_id")
	time.Sleep(5 * time.Millisecond)
	ic.Logger.Debug("Resolution complete")

	fmt.Println("Operation instrumentation complete")
	// Output: Operation instrumentation complete
}

func Example_eventFiltering() {
	cfg := telemetry.DefaultConfig()
	cfg.Events.Enabled = true
	cfg.Events.EnableAsync = false

	tel, _ := telemetry.NewTelemetry(cfg)
	defer tel.Shutdown(context.Background())

	// Warnings and errors only.
	tel.Events.Subscribe(func(event telemetry.Event) {
		fmt.Printf("Important event: %s\n", event.Type)
	}, telemetry.FilterByLevel(telemetry.EventLevelWarning))

	// Verification failures only.
	tel.Events.Subscribe(func(event telemetry.Event) {
		fmt.Printf("Verification event: %s\n", event.Message)
	}, telemetry.FilterByType("verification.failed"))

	tel.Events.PublishDeploymentStarted("dep-123", "widget/w")
	tel.Events.PublishVerificationFailed("dep-123", "widget/w", "no records", 5)
	tel.Events.PublishDeploymentFailed("dep-123", "widget/w", "all strategies failed")

	// Output varies, none specified.
}

func Example_productionConfiguration() {
	cfg := telemetry.ProductionConfig()
	cfg.ServiceName = "glidepush"
	cfg.ServiceVersion = "1.2.3"
	cfg.Environment = "production"

	cfg.Tracing.Exporter = "otlp"
	cfg.Tracing.Endpoint = "otel-collector.monitoring.svc.cluster.local:4317"
	cfg.Tracing.SamplingRate = 0.1
	cfg.Tracing.Insecure = false

	cfg.Metrics.ListenAddress = ":9090"
	cfg.Metrics.Namespace = "glidepush"

	cfg.Events.BufferSize = 10000
	cfg.Events.FlushInterval = 5 * time.Second

	if err := cfg.Validate(); err != nil {
		panic(err)
	}

	fmt.Println("Production configuration validated")
	// Output: Production configuration validated
}

func Example_multipleComponents() {
	tel, _ := telemetry.NewTelemetry(telemetry.DevelopmentConfig())
	defer tel.Shutdown(context.Background())

	orchestratorLogger := tel.Logger.NewComponentLogger("orchestrator")
	verifierLogger := tel.Logger.NewComponentLogger("verifier")
	resolverLogger := tel.Logger.NewComponentLogger("resolver")

	orchestratorLogger.Info("Orchestrator initialized")
	verifierLogger.Info("Verifier configured with 5 rounds")
	resolverLogger.Info("Metadata resolver ready")

	fmt.Println("Multi-component logging complete")
	// Output: Multi-component logging complete
}
