package telemetry

import (
	"context"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Field names shared by every component. Keeping them in one place is
// what lets a deployment be traced across orchestrator, strategy, and
// verifier log streams by value alone.
const (
	fieldComponent    = "component"
	fieldDeploymentID = "deployment_id"
	fieldStrategy     = "strategy"
	fieldArtifactKind = "artifact_kind"
	fieldArtifactName = "artifact_name"
	fieldSysID        = "sys_id"
)

// Logger is the structured logger used throughout the deployment flow.
// It is a thin layer over zerolog; the With* helpers pin the canonical
// field names so call sites cannot drift.
type Logger struct {
	zlog zerolog.Logger
	cfg  LoggingConfig
}

type loggerContextKey struct{}

// NewLogger builds a logger from the logging section of the telemetry
// configuration. Output targets other than stdout and stderr are
// treated as file paths and opened append-only.
func NewLogger(cfg LoggingConfig) (*Logger, error) {
	sink, err := openLogSink(cfg.Output)
	if err != nil {
		return nil, err
	}
	if cfg.Format == "console" {
		// Console output is for humans watching a deployment live.
		sink = zerolog.ConsoleWriter{Out: sink, TimeFormat: time.RFC3339}
	}

	zerolog.TimeFieldFormat = timeFieldFormat(cfg.TimeFormat)

	zlog := zerolog.New(sink).With().Timestamp().Logger().Level(levelFor(cfg.Level))
	if cfg.EnableCaller {
		zlog = zlog.With().Caller().Logger()
	}
	if cfg.EnableSampling {
		zlog = zlog.Sample(&zerolog.BurstSampler{
			Burst:       uint32(cfg.SamplingInitial),
			Period:      time.Second,
			NextSampler: &zerolog.BasicSampler{N: uint32(cfg.SamplingThereafter)},
		})
	}
	return &Logger{zlog: zlog, cfg: cfg}, nil
}

func openLogSink(target string) (io.Writer, error) {
	switch target {
	case "stdout", "":
		return os.Stdout, nil
	case "stderr":
		return os.Stderr, nil
	}
	return os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
}

// child carries the configuration forward onto a derived logger.
func (l *Logger) child(zlog zerolog.Logger) *Logger {
	return &Logger{zlog: zlog, cfg: l.cfg}
}

// NewComponentLogger returns a logger whose entries are tagged with the
// named component (orchestrator, verifier, resolver, and so on).
func (l *Logger) NewComponentLogger(component string) *Logger {
	return l.child(l.zlog.With().Str(fieldComponent, component).Logger())
}

// WithContext stores the logger in ctx for retrieval deeper in the
// call chain.
func (l *Logger) WithContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, loggerContextKey{}, l)
}

// FromContext returns the logger carried by ctx. Callers outside any
// deployment flow get a plain stderr logger rather than a nil.
func FromContext(ctx context.Context) *Logger {
	if l, ok := ctx.Value(loggerContextKey{}).(*Logger); ok {
		return l
	}
	return &Logger{zlog: zerolog.New(os.Stderr).With().Timestamp().Logger()}
}

// WithField returns a logger with one extra field attached.
func (l *Logger) WithField(key string, value interface{}) *Logger {
	return l.child(l.zlog.With().Interface(key, value).Logger())
}

// WithFields returns a logger with every field in the map attached.
func (l *Logger) WithFields(fields map[string]interface{}) *Logger {
	zctx := l.zlog.With()
	for k, v := range fields {
		zctx = zctx.Interface(k, v)
	}
	return l.child(zctx.Logger())
}

// WithDeploymentID tags entries with the deployment being executed.
func (l *Logger) WithDeploymentID(id string) *Logger {
	return l.child(l.zlog.With().Str(fieldDeploymentID, id).Logger())
}

// WithStrategy tags entries with the strategy currently attempting the
// artifact.
func (l *Logger) WithStrategy(name string) *Logger {
	return l.child(l.zlog.With().Str(fieldStrategy, name).Logger())
}

// WithArtifact tags entries with the artifact under deployment.
func (l *Logger) WithArtifact(kind, name string) *Logger {
	return l.child(l.zlog.With().
		Str(fieldArtifactKind, kind).
		Str(fieldArtifactName, name).
		Logger())
}

// WithSysID tags entries with the canonical platform record identifier.
func (l *Logger) WithSysID(sysID string) *Logger {
	return l.child(l.zlog.With().Str(fieldSysID, sysID).Logger())
}

// WithError attaches err to every entry from the returned logger.
func (l *Logger) WithError(err error) *Logger {
	return l.child(l.zlog.With().Err(err).Logger())
}

// Trace emits msg at trace level. Trace is the level for per-round
// verification waits and other high-volume detail.
func (l *Logger) Trace(msg string) {
	l.zlog.Trace().Msg(msg)
}

// Tracef emits a formatted message at trace level.
func (l *Logger) Tracef(format string, args ...interface{}) {
	l.zlog.Trace().Msgf(format, args...)
}

// Debug emits msg at debug level.
func (l *Logger) Debug(msg string) {
	l.zlog.Debug().Msg(msg)
}

// Debugf emits a formatted message at debug level.
func (l *Logger) Debugf(format string, args ...interface{}) {
	l.zlog.Debug().Msgf(format, args...)
}

// Info emits msg at info level.
func (l *Logger) Info(msg string) {
	l.zlog.Info().Msg(msg)
}

// Infof emits a formatted message at info level.
func (l *Logger) Infof(format string, args ...interface{}) {
	l.zlog.Info().Msgf(format, args...)
}

// Warn emits msg at warn level.
func (l *Logger) Warn(msg string) {
	l.zlog.Warn().Msg(msg)
}

// Warnf emits a formatted message at warn level.
func (l *Logger) Warnf(format string, args ...interface{}) {
	l.zlog.Warn().Msgf(format, args...)
}

// Error emits msg at error level.
func (l *Logger) Error(msg string) {
	l.zlog.Error().Msg(msg)
}

// Errorf emits a formatted message at error level.
func (l *Logger) Errorf(format string, args ...interface{}) {
	l.zlog.Error().Msgf(format, args...)
}

var logLevels = map[string]zerolog.Level{
	"trace": zerolog.TraceLevel,
	"debug": zerolog.DebugLevel,
	"info":  zerolog.InfoLevel,
	"warn":  zerolog.WarnLevel,
	"error": zerolog.ErrorLevel,
	"fatal": zerolog.FatalLevel,
}

// levelFor resolves a configured level name. Unknown names fall back to
// info so a typo never silences the log entirely.
func levelFor(name string) zerolog.Level {
	if lvl, ok := logLevels[name]; ok {
		return lvl
	}
	return zerolog.InfoLevel
}

// timeFieldFormat maps the configured timestamp style to the format
// zerolog applies to the time field.
func timeFieldFormat(style string) string {
	switch style {
	case "unix":
		return zerolog.TimeFormatUnix
	case "unixms":
		return zerolog.TimeFormatUnixMs
	case "unixmicro":
		return zerolog.TimeFormatUnixMicro
	}
	return time.RFC3339
}
