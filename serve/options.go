package serve

import (
	"log/slog"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// Option is a functional option for configuring a Server.
type Option func(*Config)

// WithHost sets the bind address.
//
// Example:
//
//	serve.NewServer(reg, serve.WithHost("127.0.0.1"))
func WithHost(host string) Option {
	return func(c *Config) {
		c.Host = host
	}
}

// WithPort sets the TCP port for the gRPC server.
// Use port 0 to automatically select an available port.
//
// Example:
//
//	serve.NewServer(reg, serve.WithPort(8080))
func WithPort(port int) Option {
	return func(c *Config) {
		c.Port = port
	}
}

// WithMaxWorkers bounds the number of concurrently executing calls.
func WithMaxWorkers(n int) Option {
	return func(c *Config) {
		c.MaxWorkers = n
	}
}

// WithQueueDepth bounds the wait queue used once all workers are busy.
// Calls beyond the queue depth are refused as overloaded.
func WithQueueDepth(n int) Option {
	return func(c *Config) {
		c.QueueDepth = n
	}
}

// WithTLS enables TLS for the gRPC server. Both certFile and keyFile must
// be valid paths to PEM-encoded files; if either is empty, TLS is disabled.
//
// Example:
//
//	serve.NewServer(reg, serve.WithTLS("/etc/certs/server.crt", "/etc/certs/server.key"))
func WithTLS(certFile, keyFile string) Option {
	return func(c *Config) {
		c.TLSCertFile = certFile
		c.TLSKeyFile = keyFile
	}
}

// WithLogger sets the structured logger for server events.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Config) {
		c.Logger = logger
	}
}

// WithTelemetry wires OpenTelemetry providers for per-RPC spans and
// metrics. Either provider may be nil, in which case that signal is a
// no-op.
func WithTelemetry(tp trace.TracerProvider, mp metric.MeterProvider) Option {
	return func(c *Config) {
		c.TracerProvider = tp
		c.MeterProvider = mp
	}
}

// WithOverloadMetrics controls whether overload rejections are counted in
// metrics. The rejection itself always happens.
func WithOverloadMetrics(enabled bool) Option {
	return func(c *Config) {
		c.OverloadMetrics = enabled
	}
}

// WithDebugPayloads enables debug-level logging of response payloads.
// Intended for development; payloads may contain sensitive data.
func WithDebugPayloads(enabled bool) Option {
	return func(c *Config) {
		c.DebugPayloads = enabled
	}
}
