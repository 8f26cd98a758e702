package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// ServerMetrics holds metric instruments for HTTP server telemetry.
// Initialize once at server startup and reuse throughout the application lifecycle.
type ServerMetrics struct {
	RequestCounter  metric.Int64Counter     // Total HTTP requests
	RequestDuration metric.Float64Histogram // HTTP request latency
	ErrorCounter    metric.Int64Counter     // Total HTTP errors (5xx)
}

// NewServerMetrics creates a new ServerMetrics instance with pre-configured instruments.
func NewServerMetrics() (*ServerMetrics, error) {
	meter := otel.Meter("openlabapi/http")

	requestCounter, err := meter.Int64Counter(
		"http.server.request.count",
		metric.WithDescription("Total number of HTTP requests"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, err
	}

	// Buckets: 5ms .. 10s; user-info lookups dominate latency
	requestDuration, err := meter.Float64Histogram(
		"http.server.request.duration",
		metric.WithDescription("HTTP request duration"),
		metric.WithUnit("ms"),
		metric.WithExplicitBucketBoundaries(5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000),
	)
	if err != nil {
		return nil, err
	}

	errorCounter, err := meter.Int64Counter(
		"http.server.error.count",
		metric.WithDescription("Total number of HTTP server errors (5xx)"),
		metric.WithUnit("{error}"),
	)
	if err != nil {
		return nil, err
	}

	return &ServerMetrics{
		RequestCounter:  requestCounter,
		RequestDuration: requestDuration,
		ErrorCounter:    errorCounter,
	}, nil
}

// RecordRequest records an HTTP request with method, route, status, and duration.
func (m *ServerMetrics) RecordRequest(ctx context.Context, method, route, status string, durationMs float64) {
	attrs := metric.WithAttributes(
		attribute.String("http.method", method),
		attribute.String("http.route", route),
		attribute.String("http.status_code", status),
	)

	m.RequestCounter.Add(ctx, 1, attrs)
	m.RequestDuration.Record(ctx, durationMs, attrs)

	if len(status) > 0 && status[0] == '5' {
		m.ErrorCounter.Add(ctx, 1, attrs)
	}
}

// AuthMetrics holds metric instruments for bearer authentication.
type AuthMetrics struct {
	AuthAttempts metric.Int64Counter // Total auth attempts
	AuthFailures metric.Int64Counter // Failed auth attempts, by reason
	AuthDuration metric.Float64Histogram
}

// NewAuthMetrics creates metric instruments for authentication telemetry.
func NewAuthMetrics() (*AuthMetrics, error) {
	meter := otel.Meter("openlabapi/auth")

	authAttempts, err := meter.Int64Counter(
		"auth.attempt.count",
		metric.WithDescription("Total number of authentication attempts"),
		metric.WithUnit("{attempt}"),
	)
	if err != nil {
		return nil, err
	}

	authFailures, err := meter.Int64Counter(
		"auth.failure.count",
		metric.WithDescription("Total number of failed authentication attempts"),
		metric.WithUnit("{failure}"),
	)
	if err != nil {
		return nil, err
	}

	authDuration, err := meter.Float64Histogram(
		"auth.duration",
		metric.WithDescription("Time spent resolving a bearer credential"),
		metric.WithUnit("ms"),
		metric.WithExplicitBucketBoundaries(5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000),
	)
	if err != nil {
		return nil, err
	}

	return &AuthMetrics{
		AuthAttempts: authAttempts,
		AuthFailures: authFailures,
		AuthDuration: authDuration,
	}, nil
}

// RecordAuth records one authentication attempt. reason is empty on success.
func (a *AuthMetrics) RecordAuth(ctx context.Context, durationMs float64, reason string) {
	a.AuthAttempts.Add(ctx, 1)
	a.AuthDuration.Record(ctx, durationMs)
	if reason != "" {
		a.AuthFailures.Add(ctx, 1, metric.WithAttributes(attribute.String("auth.failure.reason", reason)))
	}
}

// PresenceMetrics counts writes against the in-memory stores.
type PresenceMetrics struct {
	Writes metric.Int64Counter // Inserts and removals, by store and operation
	Panics metric.Int64Counter // Completed panic wipes
}

// NewPresenceMetrics creates metric instruments for presence state.
func NewPresenceMetrics() (*PresenceMetrics, error) {
	meter := otel.Meter("openlabapi/presence")

	writes, err := meter.Int64Counter(
		"presence.store.write.count",
		metric.WithDescription("Total number of store inserts and removals"),
		metric.WithUnit("{write}"),
	)
	if err != nil {
		return nil, err
	}

	panics, err := meter.Int64Counter(
		"presence.panic.count",
		metric.WithDescription("Total number of panic wipes"),
		metric.WithUnit("{wipe}"),
	)
	if err != nil {
		return nil, err
	}

	return &PresenceMetrics{Writes: writes, Panics: panics}, nil
}

// RecordWrite records a store insert or removal.
func (p *PresenceMetrics) RecordWrite(ctx context.Context, store, operation string) {
	p.Writes.Add(ctx, 1, metric.WithAttributes(
		attribute.String(AttrStoreName, store),
		attribute.String("store.operation", operation),
	))
}

// RecordPanic records a panic wipe.
func (p *PresenceMetrics) RecordPanic(ctx context.Context) {
	p.Panics.Add(ctx, 1)
}

// ObserveEntries registers a gauge reporting the live entry count of each
// store returned by counts.
func (p *PresenceMetrics) ObserveEntries(counts func() map[string]int) error {
	meter := otel.Meter("openlabapi/presence")
	_, err := meter.Int64ObservableGauge(
		"presence.store.entries",
		metric.WithDescription("Number of live entries per store"),
		metric.WithUnit("{entry}"),
		metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
			for name, n := range counts() {
				o.Observe(int64(n), metric.WithAttributes(attribute.String(AttrStoreName, name)))
			}
			return nil
		}),
	)
	return err
}
