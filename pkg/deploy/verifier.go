package deploy

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/glidepush/glidepush/pkg/platform"
	"github.com/glidepush/glidepush/pkg/telemetry"
)

// VerifierConfig tunes the verification engine.
type VerifierConfig struct {
	// MaxAttempts is the verification round limit.
	MaxAttempts int `json:"max_attempts" yaml:"max_attempts"`

	// BaseDelay scales the inter-round wait: round k starts baseDelay*k
	// after the previous round began. Round 1 runs immediately.
	BaseDelay time.Duration `json:"base_delay" yaml:"base_delay"`
}

// DefaultVerifierConfig returns the production verification settings:
// five rounds, 2s base delay (so rounds wait 4s, 6s, 8s, 10s).
func DefaultVerifierConfig() VerifierConfig {
	return VerifierConfig{
		MaxAttempts: 5,
		BaseDelay:   2 * time.Second,
	}
}

// Verifier proves, independently of anything a strategy claimed, that an
// artifact exists on the platform and is in a usable state. A 2xx from a
// create call is never evidence; only these queries are.
type Verifier struct {
	client  platform.Client
	config  VerifierConfig
	logger  *telemetry.Logger
	tracer  *telemetry.Tracer
	metrics *telemetry.Metrics
}

// NewVerifier creates a verification engine. Zero config fields fall back
// to the defaults.
func NewVerifier(client platform.Client, config VerifierConfig, logger *telemetry.Logger) *Verifier {
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = DefaultVerifierConfig().MaxAttempts
	}
	if config.BaseDelay <= 0 {
		config.BaseDelay = DefaultVerifierConfig().BaseDelay
	}
	return &Verifier{
		client: client,
		config: config,
		logger: logger.NewComponentLogger("verifier"),
	}
}

// WithTracer attaches a tracer so each verification round runs in its own
// span.
func (v *Verifier) WithTracer(tracer *telemetry.Tracer) *Verifier {
	v.tracer = tracer
	return v
}

// WithMetrics attaches a metrics collector for round counting.
func (v *Verifier) WithMetrics(metrics *telemetry.Metrics) *Verifier {
	v.metrics = metrics
	return v
}

// Verify runs up to MaxAttempts rounds of signal queries for the named
// artifact. It passes as soon as the primary signal is found and a
// canonical id is known, either the one handed in from resolution or the
// primary hit's own sys_id. The returned result is fresh; remote state is
// never cached between calls.
//
// The only error it returns is context cancellation; verification
// failure is expressed through the result.
func (v *Verifier) Verify(ctx context.Context, kind platform.ArtifactKind, name, canonicalID string) (*VerificationResult, error) {
	spec, err := platform.SpecFor(kind)
	if err != nil {
		return nil, NewValidationError("cannot verify unknown kind", err).WithArtifact(name)
	}

	log := v.logger.WithArtifact(string(kind), name)
	result := &VerificationResult{}

	knownID := canonicalID
	var lastErr error
	var idlessPrimary bool

	for round := 1; round <= v.config.MaxAttempts; round++ {
		if round > 1 {
			delay := v.config.BaseDelay * time.Duration(round)
			log.WithField("round", round).Tracef("Waiting %s before next round", delay)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		if v.metrics != nil {
			v.metrics.RecordVerificationRound(string(kind))
		}
		roundCtx := ctx
		var span trace.Span
		if v.tracer != nil {
			roundCtx, span = v.tracer.StartVerificationSpan(ctx, string(kind), name, round)
		}

		signals, primaryID, roundErr := v.probe(roundCtx, spec, name, knownID)
		if span != nil {
			if roundErr != nil {
				telemetry.RecordError(span, roundErr)
			} else {
				telemetry.RecordSuccess(span)
			}
			span.End()
		}

		result.Signals = signals
		result.CompletenessScore = signals.Score()
		result.AttemptsUsed = round

		if roundErr != nil {
			lastErr = roundErr
			log.WithError(roundErr).WithField("round", round).Warn("Verification round failed")
			continue
		}
		lastErr = nil

		if primaryID != "" {
			knownID = primaryID
		}

		if !signals.PrimaryExists {
			log.WithField("round", round).Debug("Primary record not found yet")
			continue
		}

		id := canonicalID
		if id == "" {
			id = primaryID
		}
		if id == "" {
			// A primary hit without an extractable sys_id is not a pass.
			idlessPrimary = true
			log.WithField("round", round).Warn("Primary record found but carries no sys_id")
			continue
		}

		result.Verified = true
		result.CanonicalID = id
		log.WithSysID(id).WithField("round", round).
			WithField("score", result.CompletenessScore).Info("Artifact verified")
		return result, nil
	}

	result.AttemptsUsed = v.config.MaxAttempts
	result.Reason = exhaustReason(spec, name, result, lastErr, idlessPrimary)
	log.WithField("reason", result.Reason).Warn("Verification exhausted")
	return result, nil
}

// probe runs the round's three signal queries concurrently. Each query
// settles on its own: a detail or binding failure is logged and absorbed,
// only a primary query failure fails the round. Returns the signal set
// and the primary hit's sys_id when one was found.
func (v *Verifier) probe(ctx context.Context, spec *platform.KindSpec, name, knownID string) (SignalSet, string, error) {
	var (
		signals   SignalSet
		primaryID string
	)

	var g errgroup.Group

	g.Go(func() error {
		records, err := v.client.Query(ctx, spec.Table, spec.NameField+"="+name, 1)
		if err != nil {
			return fmt.Errorf("primary query against %s: %w", spec.Table, err)
		}
		if len(records) > 0 {
			signals.PrimaryExists = true
			primaryID = records[0].SysID()
		}
		return nil
	})

	if query, ok := signalQuery(spec.Detail, name, knownID); ok {
		g.Go(func() error {
			records, err := v.client.Query(ctx, spec.Detail.Table, query, 1)
			if err != nil {
				v.logger.WithError(err).Warn("Detail signal query failed")
				return nil
			}
			signals.DetailExists = len(records) > 0
			return nil
		})
	}

	if query, ok := signalQuery(spec.Binding, name, knownID); ok {
		g.Go(func() error {
			records, err := v.client.Query(ctx, spec.Binding.Table, query, 1)
			if err != nil {
				v.logger.WithError(err).Warn("Binding signal query failed")
				return nil
			}
			signals.BindingExists = len(records) > 0
			return nil
		})
	}

	err := g.Wait()
	return signals, primaryID, err
}

// signalQuery builds the encoded query for a secondary signal. Reference
// signals need the primary record's sys_id and are skipped until one is
// known; name signals work immediately.
func signalQuery(sig *platform.SignalSpec, name, knownID string) (string, bool) {
	if sig == nil {
		return "", false
	}

	var base string
	switch {
	case sig.RefField != "" && knownID != "":
		base = sig.RefField + "=" + knownID
	case sig.NameField != "":
		base = sig.NameField + "=" + name
	default:
		return "", false
	}

	if sig.ExtraQuery != "" {
		base += "^" + sig.ExtraQuery
	}
	return base, true
}

// exhaustReason composes the failure reason after every round came up
// short. The message always ends with the manual check recommendation.
func exhaustReason(spec *platform.KindSpec, name string, result *VerificationResult, lastErr error, idlessPrimary bool) string {
	var b strings.Builder
	fmt.Fprintf(&b, "could not confirm %s %q after %d verification rounds (primary=%t, detail=%t, binding=%t)",
		spec.DisplayName, name, result.AttemptsUsed,
		result.Signals.PrimaryExists, result.Signals.DetailExists, result.Signals.BindingExists)

	if idlessPrimary {
		b.WriteString("; a primary record was seen but carried no sys_id")
	}
	if lastErr != nil {
		fmt.Fprintf(&b, "; last round error: %v", lastErr)
	}

	b.WriteString("; check the artifact on the instance manually before retrying")
	return b.String()
}
