package platform

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/glidepush/glidepush/pkg/telemetry"
)

// InstrumentedClient decorates a Client with call metrics and trace
// spans. A nil Metrics or Tracer disables that signal; the wrapped calls
// are otherwise passthrough, so the deployment layer never knows whether
// it is talking to a bare or an instrumented transport.
type InstrumentedClient struct {
	inner   Client
	metrics *telemetry.Metrics
	tracer  *telemetry.Tracer
}

// NewInstrumentedClient wraps an existing client.
func NewInstrumentedClient(inner Client, metrics *telemetry.Metrics, tracer *telemetry.Tracer) *InstrumentedClient {
	return &InstrumentedClient{
		inner:   inner,
		metrics: metrics,
		tracer:  tracer,
	}
}

// Execute performs the request through the wrapped client, recording the
// call duration and, on failure, the response status code.
func (c *InstrumentedClient) Execute(ctx context.Context, method, path string, body interface{}) (json.RawMessage, error) {
	table := tableFromPath(path)
	ctx, finish := c.startSpan(ctx, strings.ToLower(method), table)

	start := time.Now()
	raw, err := c.inner.Execute(ctx, method, path, body)
	c.recordCall(method, table, time.Since(start), err)
	finish(err)

	return raw, err
}

// Query runs the query through the wrapped client.
func (c *InstrumentedClient) Query(ctx context.Context, table, query string, limit int) ([]Record, error) {
	ctx, finish := c.startSpan(ctx, "query", table)

	start := time.Now()
	records, err := c.inner.Query(ctx, table, query, limit)
	c.recordCall("QUERY", table, time.Since(start), err)
	finish(err)

	return records, err
}

// Host returns the wrapped client's instance host.
func (c *InstrumentedClient) Host() string {
	return c.inner.Host()
}

// Unwrap returns the underlying client.
func (c *InstrumentedClient) Unwrap() Client {
	return c.inner
}

func (c *InstrumentedClient) recordCall(method, table string, duration time.Duration, err error) {
	if c.metrics == nil {
		return
	}

	c.metrics.RecordPlatformCall(method, table, duration)
	if err == nil {
		return
	}

	var apiErr *APIError
	if errors.As(err, &apiErr) {
		c.metrics.RecordPlatformError(method, strconv.Itoa(apiErr.StatusCode))
	} else {
		// Transport failures never reached the platform, there is no
		// status code to report
		c.metrics.RecordPlatformError(method, "transport")
	}
}

func (c *InstrumentedClient) startSpan(ctx context.Context, operation, table string) (context.Context, func(error)) {
	if c.tracer == nil {
		return ctx, func(error) {}
	}

	ctx, span := c.tracer.StartPlatformSpan(ctx, operation, table)
	return ctx, func(err error) {
		if err != nil {
			telemetry.RecordError(span, err)
		} else {
			telemetry.RecordSuccess(span)
		}
		span.End()
	}
}

// tableFromPath extracts the table name from a Table API path for use as
// a metric label. Paths that do not address a table collapse to "other"
// so label cardinality stays bounded.
func tableFromPath(path string) string {
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}

	segments := strings.Split(strings.Trim(path, "/"), "/")
	for i, seg := range segments {
		if seg == "table" && i+1 < len(segments) {
			return segments[i+1]
		}
	}

	return "other"
}
