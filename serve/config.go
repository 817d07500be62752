package serve

import (
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// Config holds endpoint binder configuration.
type Config struct {
	// Host is the bind address. Default: 0.0.0.0
	Host string

	// Port is the TCP port the gRPC server listens on. Default: 50051.
	// Port 0 selects an available port, which is useful in tests.
	Port int

	// MaxWorkers bounds the number of concurrently executing calls.
	// Default: 10
	MaxWorkers int

	// QueueDepth bounds how many calls may wait for a worker slot once
	// MaxWorkers is reached. Calls beyond the queue depth are refused with
	// ResourceExhausted. Default: 64
	QueueDepth int

	// TLSCertFile is the path to the TLS certificate file.
	// If empty, TLS is disabled.
	TLSCertFile string

	// TLSKeyFile is the path to the TLS private key file.
	// If empty, TLS is disabled.
	TLSKeyFile string

	// OverloadMetrics controls whether refused (overloaded) calls are
	// counted in metrics. Rejection itself always happens; this only
	// affects observability. Default: true
	OverloadMetrics bool

	// DebugPayloads enables debug-level logging of response payloads.
	// Default: false
	DebugPayloads bool

	// Logger is the structured logger for server events.
	// If nil, logging is discarded.
	Logger *slog.Logger

	// TracerProvider supplies the tracer for per-RPC spans.
	// If nil, tracing is a no-op.
	TracerProvider trace.TracerProvider

	// MeterProvider supplies the meter for RPC metrics.
	// If nil, metrics are a no-op.
	MeterProvider metric.MeterProvider
}

// DefaultConfig returns the default binder configuration.
func DefaultConfig() *Config {
	return &Config{
		Host:            "0.0.0.0",
		Port:            50051,
		MaxWorkers:      10,
		QueueDepth:      64,
		OverloadMetrics: true,
	}
}

// validate checks the configuration for values the binder cannot work with.
func (c *Config) validate() error {
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("serve: invalid port %d", c.Port)
	}
	if c.MaxWorkers <= 0 {
		return fmt.Errorf("serve: max workers must be positive, got %d", c.MaxWorkers)
	}
	if c.QueueDepth < 0 {
		return fmt.Errorf("serve: queue depth must be non-negative, got %d", c.QueueDepth)
	}
	return nil
}

// BindError reports a failure to bind the listen address: port in use,
// permission denied, or an invalid address. Always fatal at startup.
type BindError struct {
	// Address is the host:port that could not be bound.
	Address string

	// Cause is the underlying listen error.
	Cause error
}

// Error implements the error interface.
func (e *BindError) Error() string {
	return fmt.Sprintf("serve: failed to bind %s: %v", e.Address, e.Cause)
}

// Unwrap returns the underlying listen error.
func (e *BindError) Unwrap() error {
	return e.Cause
}
