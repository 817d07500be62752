package serve

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

// rpcMetrics holds the OpenTelemetry metric instruments for the endpoint.
// They are created once at server construction and reused for all calls.
type rpcMetrics struct {
	// inflight tracks the number of currently executing calls
	inflight metric.Int64UpDownCounter

	// duration records per-call handling duration in milliseconds
	duration metric.Float64Histogram

	// overloaded counts calls refused because worker pool and queue were full
	overloaded metric.Int64Counter

	// recordOverloads mirrors Config.OverloadMetrics
	recordOverloads bool
}

// newRPCMetrics creates the metric instruments from the given provider.
// A nil provider yields no-op instruments.
func newRPCMetrics(mp metric.MeterProvider, recordOverloads bool) (*rpcMetrics, error) {
	if mp == nil {
		mp = noop.NewMeterProvider()
	}
	meter := mp.Meter("github.com/grpckit/scaffold/serve")

	m := &rpcMetrics{recordOverloads: recordOverloads}
	var err error

	m.inflight, err = meter.Int64UpDownCounter(
		"rpc.server.in_flight",
		metric.WithDescription("Number of calls currently executing"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, fmt.Errorf("create in-flight counter: %w", err)
	}

	m.duration, err = meter.Float64Histogram(
		"rpc.server.duration",
		metric.WithDescription("Call handling duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, fmt.Errorf("create duration histogram: %w", err)
	}

	m.overloaded, err = meter.Int64Counter(
		"rpc.server.overloaded",
		metric.WithDescription("Calls refused because the worker pool and wait queue were full"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, fmt.Errorf("create overloaded counter: %w", err)
	}

	return m, nil
}

// recordOverloaded counts a refused call, unless the operator disabled
// overload accounting.
func (m *rpcMetrics) recordOverloaded(ctx context.Context, fullMethod string) {
	if !m.recordOverloads {
		return
	}
	m.overloaded.Add(ctx, 1, metric.WithAttributes(
		attribute.String("rpc.method", fullMethod),
	))
}

// recordCall records the duration and outcome of a completed call.
func (m *rpcMetrics) recordCall(ctx context.Context, fullMethod string, millis float64, failed bool) {
	m.duration.Record(ctx, millis, metric.WithAttributes(
		attribute.String("rpc.method", fullMethod),
		attribute.Bool("rpc.failed", failed),
	))
}
