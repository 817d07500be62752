package healthcheck

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"

	"github.com/grpckit/scaffold/admission"
	"github.com/grpckit/scaffold/lifecycle"
	"github.com/grpckit/scaffold/repository"
)

// ReadinessService is the service name that reports traffic readiness.
const ReadinessService = "readiness"

// watchInterval is how often Watch re-evaluates the status for a stream.
const watchInterval = 250 * time.Millisecond

// StateSource exposes the lifecycle observations the health service needs.
// *lifecycle.Manager satisfies it.
type StateSource interface {
	State() lifecycle.State
	Forced() bool
}

// Service implements grpc.health.v1.Health backed by a StateSource.
// It also satisfies handler.Handler so it can be placed in a Registry.
type Service struct {
	grpc_health_v1.UnimplementedHealthServer

	source StateSource
	store  repository.CheckStore
	policy *admission.Policy
	logger *slog.Logger
}

// NewService builds a health service. store and policy may be nil, in
// which case liveness probes are not recorded or admission-checked.
func NewService(source StateSource, store repository.CheckStore, policy *admission.Policy, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		source: source,
		store:  store,
		policy: policy,
		logger: logger,
	}
}

// Name implements handler.Handler.
func (s *Service) Name() string { return "health" }

// Register implements handler.Handler.
func (s *Service) Register(r grpc.ServiceRegistrar) {
	grpc_health_v1.RegisterHealthServer(r, s)
}

// Check reports liveness for the empty service name and readiness for
// the "readiness" service. Unknown service names return NotFound.
func (s *Service) Check(ctx context.Context, req *grpc_health_v1.HealthCheckRequest) (*grpc_health_v1.HealthCheckResponse, error) {
	switch req.GetService() {
	case "":
		return s.liveness(ctx)
	case ReadinessService:
		return s.readiness(), nil
	default:
		return nil, status.Errorf(codes.NotFound, "unknown health service %q", req.GetService())
	}
}

// Watch streams the status for the requested service, re-evaluating it
// on a fixed interval and sending only on change.
func (s *Service) Watch(req *grpc_health_v1.HealthCheckRequest, stream grpc_health_v1.Health_WatchServer) error {
	ctx := stream.Context()

	current, err := s.Check(ctx, req)
	if err != nil {
		return err
	}
	if err := stream.Send(current); err != nil {
		return err
	}

	ticker := time.NewTicker(watchInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return status.FromContextError(ctx.Err()).Err()
		case <-ticker.C:
			next, err := s.Check(ctx, req)
			if err != nil {
				return err
			}
			if next.GetStatus() != current.GetStatus() {
				if err := stream.Send(next); err != nil {
					return err
				}
				current = next
			}
		}
	}
}

func (s *Service) liveness(ctx context.Context) (*grpc_health_v1.HealthCheckResponse, error) {
	if err := s.recordCheck(ctx); err != nil {
		return nil, err
	}

	st := grpc_health_v1.HealthCheckResponse_SERVING
	state := s.source.State()
	if state == lifecycle.StateFailed || (state == lifecycle.StateStopped && s.source.Forced()) {
		st = grpc_health_v1.HealthCheckResponse_NOT_SERVING
	}
	return &grpc_health_v1.HealthCheckResponse{Status: st}, nil
}

func (s *Service) readiness() *grpc_health_v1.HealthCheckResponse {
	st := grpc_health_v1.HealthCheckResponse_NOT_SERVING
	if s.source.State() == lifecycle.StateRunning {
		st = grpc_health_v1.HealthCheckResponse_SERVING
	}
	return &grpc_health_v1.HealthCheckResponse{Status: st}
}

// recordCheck evaluates the admission policy against the stored check
// count and, if admitted, appends a new check record. Store failures are
// logged and ignored so health reporting never depends on the store.
func (s *Service) recordCheck(ctx context.Context) error {
	if s.store == nil {
		return nil
	}

	count, err := s.store.Count(ctx)
	if err != nil {
		s.logger.Warn("health check count unavailable", "error", err)
		return nil
	}

	if s.policy != nil {
		allowed, err := s.policy.Allow(ctx, count)
		if err != nil {
			s.logger.Warn("admission policy evaluation failed", "error", err)
		} else if !allowed {
			return status.Errorf(codes.ResourceExhausted, "health check limit reached after %d checks", count)
		}
	}

	rec := repository.Record{
		ID:        uuid.New().String(),
		Timestamp: time.Now().UTC(),
	}
	if err := s.store.Create(ctx, rec); err != nil {
		s.logger.Warn("failed to record health check", "error", err, "check_id", rec.ID)
	}
	return nil
}
