package client

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// metrics records cache and request outcomes.
type metrics struct {
	cacheHits        metric.Int64Counter
	cacheMisses      metric.Int64Counter
	cacheWrites      metric.Int64Counter
	cacheWriteErrors metric.Int64Counter
	requestTotal     metric.Int64Counter
	requestErrors    metric.Int64Counter
	requestDuration  metric.Float64Histogram
}

func newMetrics(meter metric.Meter) (*metrics, error) {
	m := &metrics{}
	var err error

	if m.cacheHits, err = meter.Int64Counter(
		"nethelper.cache.hits",
		metric.WithDescription("Cache lookups that delivered a payload"),
		metric.WithUnit("{lookup}"),
	); err != nil {
		return nil, err
	}

	if m.cacheMisses, err = meter.Int64Counter(
		"nethelper.cache.misses",
		metric.WithDescription("Cache lookups without a usable entry"),
		metric.WithUnit("{lookup}"),
	); err != nil {
		return nil, err
	}

	if m.cacheWrites, err = meter.Int64Counter(
		"nethelper.cache.writes",
		metric.WithDescription("Successful cache write-backs"),
		metric.WithUnit("{write}"),
	); err != nil {
		return nil, err
	}

	if m.cacheWriteErrors, err = meter.Int64Counter(
		"nethelper.cache.write_errors",
		metric.WithDescription("Failed cache write-backs"),
		metric.WithUnit("{error}"),
	); err != nil {
		return nil, err
	}

	if m.requestTotal, err = meter.Int64Counter(
		"nethelper.request.total",
		metric.WithDescription("Live requests issued"),
		metric.WithUnit("{request}"),
	); err != nil {
		return nil, err
	}

	if m.requestErrors, err = meter.Int64Counter(
		"nethelper.request.errors",
		metric.WithDescription("Live requests that failed"),
		metric.WithUnit("{error}"),
	); err != nil {
		return nil, err
	}

	if m.requestDuration, err = meter.Float64Histogram(
		"nethelper.request.duration_ms",
		metric.WithDescription("Live request duration in milliseconds"),
		metric.WithUnit("ms"),
	); err != nil {
		return nil, err
	}

	return m, nil
}

func (m *metrics) recordLookup(ctx context.Context, hit bool) {
	if hit {
		m.cacheHits.Add(ctx, 1)
	} else {
		m.cacheMisses.Add(ctx, 1)
	}
}

func (m *metrics) recordWrite(ctx context.Context, err error) {
	if err != nil {
		m.cacheWriteErrors.Add(ctx, 1)
		return
	}
	m.cacheWrites.Add(ctx, 1)
}

func (m *metrics) recordRequest(ctx context.Context, method string, duration time.Duration, err error) {
	opt := metric.WithAttributes(attribute.String("http.method", method))

	m.requestTotal.Add(ctx, 1, opt)
	if err != nil {
		m.requestErrors.Add(ctx, 1, opt)
	}
	m.requestDuration.Record(ctx, float64(duration.Milliseconds()), opt)
}
