// Package observe provides application-wide observability primitives:
// OpenTelemetry metrics, tracing, and the provider setup that ties them
// together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can be
// scraped via the standard /metrics endpoint. A package-level default
// [Metrics] instance ([DefaultMetrics]) is provided for convenience; tests
// should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
package observe

import (
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all metrics.
const meterName = "github.com/dealscribe/dealscribe"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// Stage1Duration tracks the deterministic correction pass latency per
	// segment.
	Stage1Duration metric.Float64Histogram

	// RefineDuration tracks the outbound refinement call latency per
	// segment, including the schema-violation retry when one happens.
	RefineDuration metric.Float64Histogram

	// RefineRequests counts refinement calls. Use with attribute:
	//   attribute.String("status", "ok"|"degraded")
	RefineRequests metric.Int64Counter

	// RefineRetries counts schema-violation retries issued by the client.
	RefineRetries metric.Int64Counter

	// SegmentChanges tracks the number of Stage-1 substitutions per segment.
	SegmentChanges metric.Int64Histogram

	// AuditRows counts rows appended to the audit trail. Use with attribute:
	//   attribute.String("destination", "review"|"accepted")
	AuditRows metric.Int64Counter

	// GazetteerCollisions counts normalized-key collisions observed while
	// building request gazetteers.
	GazetteerCollisions metric.Int64Counter
}

// latencyBuckets defines histogram bucket boundaries (in seconds). Stage 1
// lands in the sub-millisecond buckets; refinement calls in the seconds
// range.
var latencyBuckets = []float64{
	0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.Stage1Duration, err = m.Float64Histogram("dealscribe.stage1.duration",
		metric.WithDescription("Latency of the deterministic correction pass per segment."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.RefineDuration, err = m.Float64Histogram("dealscribe.refine.duration",
		metric.WithDescription("Latency of the outbound refinement call per segment."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.RefineRequests, err = m.Int64Counter("dealscribe.refine.requests",
		metric.WithDescription("Refinement calls by outcome status."),
	); err != nil {
		return nil, err
	}
	if met.RefineRetries, err = m.Int64Counter("dealscribe.refine.retries",
		metric.WithDescription("Schema-violation retries issued by the refinement client."),
	); err != nil {
		return nil, err
	}
	if met.SegmentChanges, err = m.Int64Histogram("dealscribe.stage1.changes",
		metric.WithDescription("Stage-1 substitutions per segment."),
	); err != nil {
		return nil, err
	}
	if met.AuditRows, err = m.Int64Counter("dealscribe.audit.rows",
		metric.WithDescription("Rows appended to the audit trail by destination."),
	); err != nil {
		return nil, err
	}
	if met.GazetteerCollisions, err = m.Int64Counter("dealscribe.gazetteer.collisions",
		metric.WithDescription("Normalized-key collisions observed while building gazetteers."),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// StatusAttr builds the standard status attribute set for RefineRequests.
func StatusAttr(status string) metric.MeasurementOption {
	return metric.WithAttributes(attribute.String("status", status))
}

// DestinationAttr builds the standard destination attribute set for
// AuditRows.
func DestinationAttr(destination string) metric.MeasurementOption {
	return metric.WithAttributes(attribute.String("destination", destination))
}

var (
	defaultMetricsOnce sync.Once
	defaultMetrics     *Metrics
	defaultMetricsErr  error
)

// DefaultMetrics returns the process-wide [Metrics] instance built from the
// global OTel meter provider. The first call wins; subsequent calls return
// the same instance.
func DefaultMetrics() (*Metrics, error) {
	defaultMetricsOnce.Do(func() {
		defaultMetrics, defaultMetricsErr = NewMetrics(otel.GetMeterProvider())
	})
	return defaultMetrics, defaultMetricsErr
}
