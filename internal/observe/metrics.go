// Package observe provides the gateway's observability primitives:
// OpenTelemetry metrics, tracing helpers, and HTTP middleware that ties them
// together.
//
// Metrics are recorded through the OpenTelemetry Metrics API and exported via
// a Prometheus bridge (see [InitProvider]) so they can be scraped from the
// standard /metrics endpoint. Tests should use [NewMetrics] with their own
// [metric.MeterProvider] to avoid cross-test pollution.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name for all gateway metrics.
const meterName = "github.com/bad-Al-code/learnsphere-voice-gateway"

// Metrics holds the gateway's OpenTelemetry metric instruments. All fields
// are safe for concurrent use.
type Metrics struct {
	// ActiveConnections tracks the number of live tutoring connections.
	ActiveConnections metric.Int64UpDownCounter

	// SessionsEvicted counts sessions closed because the same user opened a
	// newer connection.
	SessionsEvicted metric.Int64Counter

	// InboundFrames counts client frames by kind. Use with
	// attribute.String("kind", "audio"|"text").
	InboundFrames metric.Int64Counter

	// FrameErrors counts per-frame handling failures answered with an error
	// frame instead of a disconnect.
	FrameErrors metric.Int64Counter

	// MessagesPersisted counts transcript messages written to storage. Use
	// with attribute.String("role", "user"|"model").
	MessagesPersisted metric.Int64Counter

	// UpstreamConnectDuration tracks how long opening an upstream AI session
	// takes, including circuit breaker rejections.
	UpstreamConnectDuration metric.Float64Histogram

	// UpstreamErrors counts fatal upstream session errors by provider.
	UpstreamErrors metric.Int64Counter

	// HTTPRequestDuration tracks HTTP request processing time. Use with
	// attribute.String("method", ...) and attribute.String("path", ...).
	HTTPRequestDuration metric.Float64Histogram
}

// connectBuckets defines histogram boundaries (seconds) sized for upstream
// WebSocket session establishment.
var connectBuckets = []float64{
	0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30,
}

// NewMetrics creates a fully initialised [Metrics] using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.ActiveConnections, err = m.Int64UpDownCounter("voicegateway.connections.active",
		metric.WithDescription("Number of live tutoring connections."),
	); err != nil {
		return nil, err
	}
	if met.SessionsEvicted, err = m.Int64Counter("voicegateway.sessions.evicted",
		metric.WithDescription("Sessions closed in favour of a newer connection from the same user."),
	); err != nil {
		return nil, err
	}
	if met.InboundFrames, err = m.Int64Counter("voicegateway.frames.inbound",
		metric.WithDescription("Client frames received, by kind."),
	); err != nil {
		return nil, err
	}
	if met.FrameErrors, err = m.Int64Counter("voicegateway.frames.errors",
		metric.WithDescription("Per-frame handling failures answered with an error frame."),
	); err != nil {
		return nil, err
	}
	if met.MessagesPersisted, err = m.Int64Counter("voicegateway.messages.persisted",
		metric.WithDescription("Transcript messages persisted, by role."),
	); err != nil {
		return nil, err
	}
	if met.UpstreamConnectDuration, err = m.Float64Histogram("voicegateway.upstream.connect.duration",
		metric.WithDescription("Time to open an upstream AI session."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(connectBuckets...),
	); err != nil {
		return nil, err
	}
	if met.UpstreamErrors, err = m.Int64Counter("voicegateway.upstream.errors",
		metric.WithDescription("Fatal upstream session errors, by provider."),
	); err != nil {
		return nil, err
	}
	if met.HTTPRequestDuration, err = m.Float64Histogram("voicegateway.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call from [otel.GetMeterProvider]. Panics if instrument creation
// fails, which does not happen with the global provider.
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// RecordInboundFrame increments the inbound frame counter for the given kind.
func (m *Metrics) RecordInboundFrame(ctx context.Context, kind string) {
	m.InboundFrames.Add(ctx, 1,
		metric.WithAttributes(attribute.String("kind", kind)),
	)
}

// RecordPersistedMessage increments the persisted-message counter for the
// given role.
func (m *Metrics) RecordPersistedMessage(ctx context.Context, role string) {
	m.MessagesPersisted.Add(ctx, 1,
		metric.WithAttributes(attribute.String("role", role)),
	)
}

// RecordUpstreamError increments the upstream error counter for the given
// provider name.
func (m *Metrics) RecordUpstreamError(ctx context.Context, provider string) {
	m.UpstreamErrors.Add(ctx, 1,
		metric.WithAttributes(attribute.String("provider", provider)),
	)
}
