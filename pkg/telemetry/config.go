package telemetry

import (
	"fmt"
	"time"
)

// Config is the root telemetry configuration. The zero value is not
// usable; start from DefaultConfig and override fields.
type Config struct {
	// ServiceName and ServiceVersion identify this binary in logs,
	// traces, and metrics.
	ServiceName    string
	ServiceVersion string

	// Environment separates development, staging, and production data.
	Environment string

	Logging LoggingConfig
	Tracing TracingConfig
	Metrics MetricsConfig
	Events  EventsConfig
}

// LoggingConfig controls the structured logger.
type LoggingConfig struct {
	// Level is the minimum level emitted: trace, debug, info, warn,
	// error, or fatal.
	Level string

	// Format selects json or console rendering.
	Format string

	// Output names the destination: stdout, stderr, or a file path.
	Output string

	// EnableCaller annotates every entry with file:line.
	EnableCaller bool

	// Sampling, when enabled, caps throughput at SamplingInitial
	// entries per second and then every SamplingThereafter-th entry.
	EnableSampling     bool
	SamplingInitial    int
	SamplingThereafter int

	// TimeFormat is the timestamp style: rfc3339, unix, unixms, or
	// unixmicro.
	TimeFormat string
}

// TracingConfig controls OpenTelemetry trace export.
type TracingConfig struct {
	Enabled bool

	// Exporter selects otlp, stdout, or none.
	Exporter string

	// Endpoint is the OTLP collector address as host:port.
	Endpoint string

	// SamplingRate is the fraction of traces kept, 0.0 through 1.0.
	SamplingRate float64

	MaxExportBatchSize int
	ExportTimeout      time.Duration

	// Headers are attached to every OTLP export request.
	Headers map[string]string

	// Insecure disables TLS toward the collector.
	Insecure bool
}

// MetricsConfig controls the Prometheus registry and scrape endpoint.
type MetricsConfig struct {
	Enabled bool

	// ListenAddress and Path locate the scrape endpoint.
	ListenAddress string
	Path          string

	// Namespace prefixes every metric name.
	Namespace string

	// DefaultHistogramBuckets are latency bucket bounds in seconds.
	// The upper buckets must cover full verification cycles, which
	// can run for minutes on a slow instance.
	DefaultHistogramBuckets []float64
}

// EventsConfig controls the in-process event publisher.
type EventsConfig struct {
	Enabled bool

	// BufferSize is the channel capacity for asynchronous delivery.
	BufferSize int

	// FlushInterval and MaxBatchSize bound how long an event can wait
	// in a batch before subscribers see it.
	FlushInterval time.Duration
	MaxBatchSize  int

	// EnableAsync delivers events on a background goroutine instead of
	// on the publishing call.
	EnableAsync bool
}

// DefaultConfig returns the baseline configuration: console logging at
// info level, events on, tracing and metrics off. Profiles in the main
// configuration file override individual fields on top of this.
func DefaultConfig() *Config {
	return &Config{
		ServiceName:    "glidepush",
		ServiceVersion: "dev",
		Environment:    "development",
		Logging: LoggingConfig{
			Level:              "info",
			Format:             "console",
			Output:             "stderr",
			EnableCaller:       true,
			SamplingInitial:    100,
			SamplingThereafter: 100,
			TimeFormat:         "rfc3339",
		},
		Tracing: TracingConfig{
			Exporter:           "stdout",
			SamplingRate:       1.0,
			MaxExportBatchSize: 512,
			ExportTimeout:      30 * time.Second,
			Headers:            make(map[string]string),
			Insecure:           true,
		},
		Metrics: MetricsConfig{
			ListenAddress: ":9090",
			Path:          "/metrics",
			Namespace:     "glidepush",
			DefaultHistogramBuckets: []float64{
				0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0, 60.0, 120.0,
			},
		},
		Events: EventsConfig{
			Enabled:       true,
			BufferSize:    1000,
			FlushInterval: 5 * time.Second,
			MaxBatchSize:  100,
			EnableAsync:   true,
		},
	}
}

// ProductionConfig returns defaults tuned for production: JSON logs
// with sampling, OTLP tracing at a reduced rate, and metrics exposed.
func ProductionConfig() *Config {
	cfg := DefaultConfig()
	cfg.Environment = "production"
	cfg.Logging.Format = "json"
	cfg.Logging.EnableSampling = true
	cfg.Logging.TimeFormat = "unix"
	cfg.Tracing.Enabled = true
	cfg.Tracing.Exporter = "otlp"
	cfg.Tracing.SamplingRate = 0.1
	cfg.Tracing.Insecure = false
	cfg.Metrics.Enabled = true
	return cfg
}

// DevelopmentConfig returns defaults tuned for local work: debug-level
// console logs and every trace sampled to stdout.
func DevelopmentConfig() *Config {
	cfg := DefaultConfig()
	cfg.Logging.Level = "debug"
	cfg.Tracing.Exporter = "stdout"
	cfg.Tracing.SamplingRate = 1.0
	return cfg
}

// Validate reports the first configuration problem found.
func (c *Config) Validate() error {
	if c.ServiceName == "" {
		return fmt.Errorf("service name is required")
	}
	if c.ServiceVersion == "" {
		return fmt.Errorf("service version is required")
	}
	if !oneOf(c.Logging.Level, "trace", "debug", "info", "warn", "error", "fatal") {
		return fmt.Errorf("invalid log level: %s", c.Logging.Level)
	}
	if !oneOf(c.Logging.Format, "console", "json") {
		return fmt.Errorf("invalid log format: %s (must be console or json)", c.Logging.Format)
	}
	if c.Tracing.Enabled && !oneOf(c.Tracing.Exporter, "otlp", "stdout", "none") {
		return fmt.Errorf("invalid trace exporter: %s", c.Tracing.Exporter)
	}
	if c.Tracing.SamplingRate < 0 || c.Tracing.SamplingRate > 1 {
		return fmt.Errorf("trace sampling rate must be between 0 and 1, got: %v", c.Tracing.SamplingRate)
	}
	if c.Metrics.Enabled && c.Metrics.ListenAddress == "" {
		return fmt.Errorf("metrics listen address is required when metrics are enabled")
	}
	if c.Events.Enabled && c.Events.BufferSize <= 0 {
		return fmt.Errorf("event buffer size must be positive, got: %d", c.Events.BufferSize)
	}
	return nil
}

func oneOf(value string, allowed ...string) bool {
	for _, a := range allowed {
		if value == a {
			return true
		}
	}
	return false
}
