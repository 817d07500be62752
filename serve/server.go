package serve

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"

	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"

	"github.com/grpckit/scaffold/handler"
)

// Server binds the configured address and runs the gRPC accept loop for the
// handler registry. It implements lifecycle.Endpoint.
type Server struct {
	cfg        *Config
	handlers   *handler.Registry
	grpcServer *grpc.Server
	limiter    *limiter
	logger     *slog.Logger
	tracer     trace.Tracer
	metrics    *rpcMetrics

	mu       sync.Mutex
	listener net.Listener

	errCh     chan error
	stopOnce  sync.Once
	forceOnce sync.Once
	stopped   chan struct{}
}

// NewServer constructs a server for the given handler registry. The listen
// address is not bound until Start.
func NewServer(reg *handler.Registry, opts ...Option) (*Server, error) {
	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if reg == nil {
		return nil, errors.New("serve: handler registry is required")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	logger = logger.With("component", "serve")

	metrics, err := newRPCMetrics(cfg.MeterProvider, cfg.OverloadMetrics)
	if err != nil {
		return nil, err
	}

	tp := cfg.TracerProvider
	if tp == nil {
		tp = tracenoop.NewTracerProvider()
	}

	s := &Server{
		cfg:      cfg,
		handlers: reg,
		limiter:  newLimiter(cfg.MaxWorkers, cfg.QueueDepth),
		logger:   logger,
		tracer:   tp.Tracer("github.com/grpckit/scaffold/serve"),
		metrics:  metrics,
		errCh:    make(chan error, 1),
		stopped:  make(chan struct{}),
	}

	var serverOpts []grpc.ServerOption
	if cfg.TLSCertFile != "" && cfg.TLSKeyFile != "" {
		creds, err := credentials.NewServerTLSFromFile(cfg.TLSCertFile, cfg.TLSKeyFile)
		if err != nil {
			return nil, fmt.Errorf("serve: failed to load TLS credentials: %w", err)
		}
		serverOpts = append(serverOpts, grpc.Creds(creds))
	}
	serverOpts = append(serverOpts,
		grpc.ChainUnaryInterceptor(s.unaryRequestID, s.unaryLimit, s.unaryObserve),
		grpc.ChainStreamInterceptor(s.streamLimit, s.streamObserve),
	)

	s.grpcServer = grpc.NewServer(serverOpts...)
	reg.RegisterAll(s.grpcServer)

	return s, nil
}

// Start binds the listen address and begins accepting connections. A bind
// failure is returned as *BindError and is fatal; the lifecycle manager
// transitions to Failed without retrying.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return &BindError{Address: addr, Cause: err}
	}

	s.mu.Lock()
	s.listener = lis
	s.mu.Unlock()

	s.logger.Info("listening",
		"addr", lis.Addr().String(),
		"max_workers", s.cfg.MaxWorkers,
		"queue_depth", s.cfg.QueueDepth,
		"handlers", s.handlers.Names(),
	)

	go func() {
		err := s.grpcServer.Serve(lis)
		if err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			select {
			case s.errCh <- fmt.Errorf("serve: accept loop: %w", err):
			default:
			}
		}
	}()
	return nil
}

// StopAccepting closes the accept gate and the listening socket. No new
// connections arrive and no new calls are admitted; already-accepted calls
// keep running until they complete or ForceStop. Idempotent.
func (s *Server) StopAccepting() {
	s.stopOnce.Do(func() {
		s.limiter.closeGate()
		go func() {
			// GracefulStop closes the listener immediately, then blocks
			// until in-flight calls finish.
			s.grpcServer.GracefulStop()
			close(s.stopped)
		}()
		s.logger.Info("stopped accepting calls")
	})
}

// Drained returns a channel closed once the in-flight call count reaches
// zero after StopAccepting.
func (s *Server) Drained() <-chan struct{} {
	return s.limiter.drainedCh()
}

// Stopped returns a channel closed once GracefulStop has returned, meaning
// all connections are closed and the accept loop has fully wound down.
// Never closed unless StopAccepting was called.
func (s *Server) Stopped() <-chan struct{} {
	return s.stopped
}

// ForceStop terminates all in-flight work immediately. Every connection,
// stream, and the listener are closed so no resource owned by an abandoned
// call survives. Idempotent, safe before Start.
func (s *Server) ForceStop() {
	s.forceOnce.Do(func() {
		s.grpcServer.Stop()
		s.logger.Info("force stopped")
	})
}

// Err delivers a fatal accept-loop error, if one occurs.
func (s *Server) Err() <-chan error {
	return s.errCh
}

// Addr reports the bound listen address. Valid after Start; nil before.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Port returns the bound TCP port. Useful with port 0 configurations.
func (s *Server) Port() int {
	if addr, ok := s.Addr().(*net.TCPAddr); ok {
		return addr.Port
	}
	return s.cfg.Port
}

// InFlight returns the number of currently executing calls. Exposed for
// accept-loop instrumentation in tests.
func (s *Server) InFlight() int {
	return s.limiter.inFlight()
}
