package serve

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	otelcodes "go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"
)

const requestIDHeader = "x-request-id"

type requestIDKey struct{}

// RequestID returns the request id assigned to the call, or "" outside an
// RPC context.
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

// exempt reports whether a method bypasses the worker bound and the
// draining gate. Health probes must answer during a drain, and neither
// health nor reflection traffic should occupy application worker slots.
func exempt(fullMethod string) bool {
	return strings.HasPrefix(fullMethod, "/grpc.health.v1.Health/") ||
		strings.HasPrefix(fullMethod, "/grpc.reflection.")
}

// unaryRequestID attaches a request id to the context, honoring an incoming
// x-request-id header when present.
func (s *Server) unaryRequestID(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
	ctx = withRequestID(ctx)
	return handler(ctx, req)
}

func withRequestID(ctx context.Context) context.Context {
	var id string
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		if vals := md.Get(requestIDHeader); len(vals) > 0 && vals[0] != "" {
			id = vals[0]
		}
	}
	if id == "" {
		id = uuid.New().String()
	}
	_ = grpc.SetHeader(ctx, metadata.Pairs(requestIDHeader, id))
	return context.WithValue(ctx, requestIDKey{}, id)
}

// unaryLimit enforces the worker bound and the draining gate.
func (s *Server) unaryLimit(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
	if exempt(info.FullMethod) {
		return handler(ctx, req)
	}
	if err := s.limiter.acquire(ctx); err != nil {
		return nil, s.limitStatus(ctx, info.FullMethod, err)
	}
	defer s.limiter.release()

	s.metrics.inflight.Add(ctx, 1)
	defer s.metrics.inflight.Add(ctx, -1)

	return handler(ctx, req)
}

// streamLimit is the stream counterpart of unaryLimit.
func (s *Server) streamLimit(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
	if exempt(info.FullMethod) {
		return handler(srv, ss)
	}
	ctx := ss.Context()
	if err := s.limiter.acquire(ctx); err != nil {
		return s.limitStatus(ctx, info.FullMethod, err)
	}
	defer s.limiter.release()

	s.metrics.inflight.Add(ctx, 1)
	defer s.metrics.inflight.Add(ctx, -1)

	return handler(srv, ss)
}

// limitStatus maps limiter errors onto wire status codes: overload is
// recoverable per-connection (client should retry), draining is a plain
// unavailable.
func (s *Server) limitStatus(ctx context.Context, fullMethod string, err error) error {
	switch {
	case errors.Is(err, ErrOverloaded):
		s.metrics.recordOverloaded(ctx, fullMethod)
		s.logger.Warn("call refused, overloaded", "method", fullMethod)
		return status.Error(codes.ResourceExhausted, "server overloaded, retry later")
	case errors.Is(err, ErrDraining):
		return status.Error(codes.Unavailable, "server is draining")
	default:
		return status.FromContextError(err).Err()
	}
}

// unaryObserve traces, times, and logs each admitted call. Per-call handler
// failures are reported to the caller only; they never touch the lifecycle.
func (s *Server) unaryObserve(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
	ctx, span := s.tracer.Start(ctx, info.FullMethod,
		trace.WithSpanKind(trace.SpanKindServer),
	)
	defer span.End()

	start := time.Now()
	resp, err := handler(ctx, req)
	elapsed := time.Since(start)

	s.metrics.recordCall(ctx, info.FullMethod, float64(elapsed.Microseconds())/1000.0, err != nil)

	logger := s.logger.With(
		"method", info.FullMethod,
		"request_id", RequestID(ctx),
		"duration", elapsed,
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(otelcodes.Error, err.Error())
		logger.Warn("call failed", "code", status.Code(err).String(), "error", err)
		return nil, err
	}

	logger.Debug("call handled")
	if s.cfg.DebugPayloads {
		if msg, ok := resp.(proto.Message); ok {
			logger.Debug("call response payload", "body", protojson.Format(msg))
		}
	}
	return resp, nil
}

// streamObserve is the stream counterpart of unaryObserve.
func (s *Server) streamObserve(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
	ctx, span := s.tracer.Start(ss.Context(), info.FullMethod,
		trace.WithSpanKind(trace.SpanKindServer),
	)
	defer span.End()

	start := time.Now()
	err := handler(srv, wrappedStream{ServerStream: ss, ctx: ctx})
	elapsed := time.Since(start)

	s.metrics.recordCall(ctx, info.FullMethod, float64(elapsed.Microseconds())/1000.0, err != nil)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(otelcodes.Error, err.Error())
		s.logger.Warn("stream failed",
			"method", info.FullMethod,
			"code", status.Code(err).String(),
			"duration", elapsed,
			"error", err,
		)
	}
	return err
}

// wrappedStream overrides the stream context so handlers observe the span
// context.
type wrappedStream struct {
	grpc.ServerStream
	ctx context.Context
}

func (w wrappedStream) Context() context.Context { return w.ctx }
