// Package metrics wires the engine's evaluation counters and histograms to
// OpenTelemetry. Grounded on the teacher's internal/pkg/metrics package,
// rewritten against the go.opentelemetry.io/otel/sdk/metric API the
// teacher's go.mod actually pins rather than the stale
// controller/processor/global API the teacher's own source still called.
package metrics

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

const (
	meterName = "kubewarden.policy-engine"

	collectPeriod = 2 * time.Second
)

// Recorder holds every instrument the engine emits during policy
// evaluation and host-capability dispatch.
type Recorder struct {
	provider *sdkmetric.MeterProvider

	evaluations    metric.Int64Counter
	evaluationTime metric.Float64Histogram
	busRequests    metric.Int64Counter
	cacheLookups   metric.Int64Counter
}

// New starts an OTLP gRPC metrics exporter against endpoint and returns a
// Recorder bound to it. Call Shutdown to flush and stop the exporter.
func New(ctx context.Context, endpoint string) (*Recorder, error) {
	exporter, err := otlpmetricgrpc.New(ctx,
		otlpmetricgrpc.WithEndpoint(endpoint),
		otlpmetricgrpc.WithInsecure(),
	)
	if err != nil {
		return nil, fmt.Errorf("cannot start metric exporter: %w", err)
	}

	provider := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(collectPeriod))),
	)

	meter := provider.Meter(meterName)

	evaluations, err := meter.Int64Counter(
		"kubewarden_policy_evaluations_total",
		metric.WithDescription("Number of policy evaluations completed, by policy, execution mode and outcome"),
	)
	if err != nil {
		return nil, fmt.Errorf("cannot create evaluations counter: %w", err)
	}

	evaluationTime, err := meter.Float64Histogram(
		"kubewarden_policy_evaluation_seconds",
		metric.WithDescription("Time spent evaluating a single admission request against a policy"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("cannot create evaluation time histogram: %w", err)
	}

	busRequests, err := meter.Int64Counter(
		"kubewarden_host_capability_requests_total",
		metric.WithDescription("Number of host-capability bus requests dispatched, by verb and outcome"),
	)
	if err != nil {
		return nil, fmt.Errorf("cannot create bus requests counter: %w", err)
	}

	cacheLookups, err := meter.Int64Counter(
		"kubewarden_cache_lookups_total",
		metric.WithDescription("Number of memoised lookups, by cache and whether they were served from cache"),
	)
	if err != nil {
		return nil, fmt.Errorf("cannot create cache lookups counter: %w", err)
	}

	return &Recorder{
		provider:       provider,
		evaluations:    evaluations,
		evaluationTime: evaluationTime,
		busRequests:    busRequests,
		cacheLookups:   cacheLookups,
	}, nil
}

// RecordEvaluation records the outcome of a single policy evaluation.
func (r *Recorder) RecordEvaluation(ctx context.Context, policyName, executionMode string, allowed bool, duration time.Duration) {
	attrs := metric.WithAttributes(
		attribute.String("policy", policyName),
		attribute.String("execution_mode", executionMode),
		attribute.Bool("allowed", allowed),
	)
	r.evaluations.Add(ctx, 1, attrs)
	r.evaluationTime.Record(ctx, duration.Seconds(), attrs)
}

// RecordBusRequest records a single host-capability bus dispatch.
func (r *Recorder) RecordBusRequest(ctx context.Context, verb string, err error) {
	r.busRequests.Add(ctx, 1, metric.WithAttributes(
		attribute.String("verb", verb),
		attribute.Bool("error", err != nil),
	))
}

// RecordCacheLookup records whether a memoised lookup was served from cache.
func (r *Recorder) RecordCacheLookup(ctx context.Context, cacheName string, cached bool) {
	r.cacheLookups.Add(ctx, 1, metric.WithAttributes(
		attribute.String("cache", cacheName),
		attribute.Bool("cached", cached),
	))
}

// Shutdown flushes pending metrics and stops the exporter.
func (r *Recorder) Shutdown(ctx context.Context) error {
	if err := r.provider.Shutdown(ctx); err != nil {
		return fmt.Errorf("cannot shut down metrics provider: %w", err)
	}
	return nil
}
