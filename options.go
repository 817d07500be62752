package scaffold

import (
	"log/slog"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/grpckit/scaffold/admission"
	"github.com/grpckit/scaffold/config"
	"github.com/grpckit/scaffold/discovery"
	"github.com/grpckit/scaffold/handler"
	"github.com/grpckit/scaffold/repository"
)

// Option configures an App.
type Option func(*appConfig)

type appConfig struct {
	cfg        *config.Config
	configFile string
	logger     *slog.Logger
	handlers   []handler.Handler
	store      repository.CheckStore
	policy     *admission.Policy
	registry   *discovery.Client
	tracer     trace.TracerProvider
	meter      metric.MeterProvider
}

// WithConfig supplies an explicit configuration, bypassing file and
// environment loading.
func WithConfig(cfg config.Config) Option {
	return func(c *appConfig) {
		c.cfg = &cfg
	}
}

// WithConfigFile loads configuration from a YAML file. Environment
// variables still override the file's values.
func WithConfigFile(path string) Option {
	return func(c *appConfig) {
		c.configFile = path
	}
}

// WithLogger sets the structured logger. Defaults to a logger built
// from the logging configuration, writing JSON to stdout.
func WithLogger(logger *slog.Logger) Option {
	return func(c *appConfig) {
		c.logger = logger
	}
}

// WithHandlers adds application gRPC services to the server. The health
// and reflection services are always registered.
func WithHandlers(handlers ...handler.Handler) Option {
	return func(c *appConfig) {
		c.handlers = append(c.handlers, handlers...)
	}
}

// WithCheckStore overrides the health check store built from the
// repository configuration.
func WithCheckStore(store repository.CheckStore) Option {
	return func(c *appConfig) {
		c.store = store
	}
}

// WithAdmissionPolicy overrides the policy built from the admission
// configuration.
func WithAdmissionPolicy(policy *admission.Policy) Option {
	return func(c *appConfig) {
		c.policy = policy
	}
}

// WithDiscovery supplies a connected discovery client, instead of
// building one from the discovery configuration. The App takes
// ownership and closes it on shutdown.
func WithDiscovery(client *discovery.Client) Option {
	return func(c *appConfig) {
		c.registry = client
	}
}

// WithTelemetry sets the tracer and meter providers used by the server
// interceptors. Either may be nil to use a no-op implementation.
func WithTelemetry(tp trace.TracerProvider, mp metric.MeterProvider) Option {
	return func(c *appConfig) {
		c.tracer = tp
		c.meter = mp
	}
}
