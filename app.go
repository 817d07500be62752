package scaffold

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/grpckit/scaffold/admission"
	"github.com/grpckit/scaffold/config"
	"github.com/grpckit/scaffold/discovery"
	"github.com/grpckit/scaffold/handler"
	"github.com/grpckit/scaffold/healthcheck"
	"github.com/grpckit/scaffold/lifecycle"
	"github.com/grpckit/scaffold/repository"
	"github.com/grpckit/scaffold/serve"
)

// deregisterTimeout bounds how long shutdown waits for the discovery
// deregistration to complete.
const deregisterTimeout = 3 * time.Second

// App wires configuration, the gRPC server, the lifecycle manager,
// health reporting, and service discovery into a runnable unit.
type App struct {
	cfg      config.Config
	logger   *slog.Logger
	handlers []handler.Handler
	store    repository.CheckStore
	policy   *admission.Policy
	registry *discovery.Client
	opts     appConfig

	mu      sync.Mutex
	running bool
	mgr     *lifecycle.Manager
	server  *serve.Server
}

// New builds an App from the provided options. Configuration is loaded
// from the environment (and the optional config file) unless supplied
// explicitly with WithConfig.
func New(opts ...Option) (*App, error) {
	var ac appConfig
	for _, opt := range opts {
		opt(&ac)
	}

	var cfg config.Config
	var err error
	switch {
	case ac.cfg != nil:
		cfg = *ac.cfg
		if err := cfg.Validate(); err != nil {
			return nil, NewConfigurationError("New", fmt.Errorf("%w: %w", ErrInvalidConfig, err))
		}
	case ac.configFile != "":
		cfg, err = config.Load(ac.configFile)
		if err != nil {
			return nil, NewConfigurationError("New", err)
		}
	default:
		cfg, err = config.FromEnv()
		if err != nil {
			return nil, NewConfigurationError("New", err)
		}
	}

	logger := ac.logger
	if logger == nil {
		logger, err = config.NewLogger(cfg.Logging, os.Stdout)
		if err != nil {
			return nil, NewConfigurationError("New", err)
		}
	}
	logger = logger.With("app", cfg.AppName)

	store := ac.store
	if store == nil {
		store, err = repository.New(cfg.Repository.Driver, cfg.Repository.URL)
		if err != nil {
			return nil, NewConfigurationError("New", err)
		}
	}

	policy := ac.policy
	if policy == nil {
		policy, err = admission.NewPolicy(cfg.Admission.Rule, cfg.Admission.MaxChecks)
		if err != nil {
			return nil, NewConfigurationError("New", err)
		}
	}

	return &App{
		cfg:      cfg,
		logger:   logger,
		handlers: ac.handlers,
		store:    store,
		policy:   policy,
		registry: ac.registry,
		opts:     ac,
	}, nil
}

// Config returns the effective configuration.
func (a *App) Config() config.Config {
	return a.cfg
}

// Manager returns the lifecycle manager, or nil before Run is called.
func (a *App) Manager() *lifecycle.Manager {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.mgr
}

// Server returns the gRPC server endpoint, or nil before Run is called.
func (a *App) Server() *serve.Server {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.server
}

// Run binds the server, registers with discovery, and blocks until the
// server reaches a terminal state. SIGINT and SIGTERM trigger a
// graceful drain; a second, different termination signal forces an
// immediate stop.
//
// The returned Report carries the terminal state and process exit code.
// A non-nil error means the server never came up.
func (a *App) Run(ctx context.Context) (lifecycle.Report, error) {
	a.mu.Lock()
	if a.running {
		a.mu.Unlock()
		return lifecycle.Report{}, NewInternalError("App.Run", ErrAlreadyRunning)
	}
	a.running = true
	a.mu.Unlock()

	defer CloseWithLog(a.store, a.logger, "check store")

	mgr := lifecycle.New(a.cfg.Server.GracePeriodDuration(), a.logger)

	health := healthcheck.NewService(mgr, a.store, a.policy, a.logger)
	handlers := append([]handler.Handler{health, handler.Reflection()}, a.handlers...)
	reg, err := handler.NewRegistry(handlers...)
	if err != nil {
		return lifecycle.Report{}, NewValidationError("App.Run", err)
	}

	srv, err := a.buildServer(reg)
	if err != nil {
		return lifecycle.Report{}, NewConfigurationError("App.Run", err)
	}

	a.mu.Lock()
	a.mgr = mgr
	a.server = srv
	a.mu.Unlock()

	if err := mgr.Start(ctx, srv); err != nil {
		return mgr.Report(), NewNetworkError("App.Run", fmt.Errorf("%w: %w", ErrStartupFailed, err))
	}

	a.logger.Info("server started",
		"address", srv.Addr().String(),
		"max_workers", a.cfg.Server.MaxWorkers,
		"grace_period", a.cfg.Server.GracePeriodDuration().String())

	instance := a.registerDiscovery(ctx, srv)

	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go a.handleSignals(mgr, sigCh)

	report := mgr.AwaitStopped(ctx)

	a.deregisterDiscovery(instance)

	a.logger.Info("server stopped",
		"state", report.State.String(),
		"cause", report.Cause.String(),
		"forced", report.Forced,
		"exit_code", report.ExitCode())

	return report, nil
}

// Shutdown requests a graceful drain, recorded with the "request:api"
// cause. It is safe to call from another goroutine and is a no-op
// before Run or after the server stopped.
func (a *App) Shutdown() {
	a.mu.Lock()
	mgr := a.mgr
	a.mu.Unlock()

	if mgr != nil {
		mgr.RequestShutdown(lifecycle.RequestCause("api"))
	}
}

func (a *App) buildServer(reg *handler.Registry) (*serve.Server, error) {
	opts := []serve.Option{
		serve.WithHost(a.cfg.Server.Host),
		serve.WithPort(a.cfg.Server.Port),
		serve.WithMaxWorkers(a.cfg.Server.MaxWorkers),
		serve.WithQueueDepth(a.cfg.Server.QueueDepth),
		serve.WithLogger(a.logger),
		serve.WithOverloadMetrics(a.cfg.Server.OverloadMetrics),
		serve.WithDebugPayloads(a.cfg.Debug),
	}
	if a.cfg.Server.TLSCertFile != "" && a.cfg.Server.TLSKeyFile != "" {
		opts = append(opts, serve.WithTLS(a.cfg.Server.TLSCertFile, a.cfg.Server.TLSKeyFile))
	}
	if a.opts.tracer != nil || a.opts.meter != nil {
		opts = append(opts, serve.WithTelemetry(a.opts.tracer, a.opts.meter))
	}

	return serve.NewServer(reg, opts...)
}

// handleSignals translates termination signals into lifecycle
// transitions. The first signal starts a drain. A repeat of the same
// signal is ignored, while a different termination signal escalates to
// a forced stop.
func (a *App) handleSignals(mgr *lifecycle.Manager, sigCh <-chan os.Signal) {
	var first os.Signal
	for {
		select {
		case <-mgr.Done():
			return
		case sig := <-sigCh:
			if first == nil {
				first = sig
				a.logger.Info("shutdown signal received", "signal", sig.String())
				mgr.RequestShutdown(lifecycle.SignalCause(sig))
				continue
			}
			if sig == first {
				a.logger.Debug("repeated shutdown signal ignored", "signal", sig.String())
				continue
			}
			a.logger.Warn("second termination signal, forcing stop", "signal", sig.String())
			mgr.Kill(lifecycle.SignalCause(sig))
		}
	}
}

// registerDiscovery registers this instance with etcd if discovery is
// configured. Registration failures are logged and tolerated; the
// server still runs, it just is not discoverable.
func (a *App) registerDiscovery(ctx context.Context, srv *serve.Server) *discovery.ServiceInfo {
	client := a.registry
	if client == nil {
		if len(a.cfg.Discovery.Endpoints) == 0 {
			return nil
		}
		var err error
		client, err = discovery.NewClient(discovery.Config{
			Endpoints: a.cfg.Discovery.Endpoints,
			Namespace: a.cfg.Discovery.Namespace,
			TTL:       a.cfg.Discovery.TTL,
		})
		if err != nil {
			a.logger.Warn("discovery unavailable, running unregistered", "error", err)
			return nil
		}
		a.registry = client
	}

	info := &discovery.ServiceInfo{
		Name:        a.cfg.AppName,
		Version:     a.cfg.Version,
		InstanceID:  uuid.New().String(),
		Endpoint:    fmt.Sprintf("%s:%d", a.advertiseHost(), srv.Port()),
		Environment: a.cfg.Environment,
		StartedAt:   time.Now().UTC(),
	}

	if err := client.Register(ctx, *info); err != nil {
		a.logger.Warn("discovery registration failed", "error", err)
		return nil
	}

	a.logger.Info("registered with discovery",
		"instance_id", info.InstanceID,
		"endpoint", info.Endpoint)

	// Drop out of discovery as soon as a drain begins, so peers stop
	// routing to an instance that no longer accepts calls.
	go func() {
		select {
		case <-a.mgr.Draining():
		case <-a.mgr.Done():
		}
		dctx, cancel := context.WithTimeout(context.Background(), deregisterTimeout)
		defer cancel()
		if err := client.Deregister(dctx, *info); err != nil {
			a.logger.Warn("discovery deregistration failed", "error", err)
		}
	}()

	return info
}

// deregisterDiscovery removes this instance from etcd if it is still
// registered and closes the discovery client. Deregistering twice is a
// no-op.
func (a *App) deregisterDiscovery(info *discovery.ServiceInfo) {
	if a.registry == nil {
		return
	}

	if info != nil {
		ctx, cancel := context.WithTimeout(context.Background(), deregisterTimeout)
		defer cancel()
		if err := a.registry.Deregister(ctx, *info); err != nil {
			a.logger.Warn("discovery deregistration failed", "error", err)
		}
	}

	CloseWithLog(a.registry, a.logger, "discovery client")
}

// advertiseHost returns the address peers should dial. A wildcard bind
// address is replaced with the machine hostname.
func (a *App) advertiseHost() string {
	host := a.cfg.Server.Host
	if host != "0.0.0.0" && host != "::" && host != "" {
		return host
	}
	if name, err := os.Hostname(); err == nil {
		return name
	}
	return "localhost"
}
