package serve

import (
	"context"
	"fmt"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"

	"github.com/grpckit/scaffold/handler"
)

// testEchoServer is a minimal application service used to drive calls
// through the full interceptor chain. It borrows the health check messages
// so no generated code is needed.
type testEchoServer interface {
	Ping(context.Context, *grpc_health_v1.HealthCheckRequest) (*grpc_health_v1.HealthCheckResponse, error)
}

const testPingMethod = "/scaffold.test.Echo/Ping"

func testPingHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(grpc_health_v1.HealthCheckRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(testEchoServer).Ping(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: testPingMethod}
	h := func(ctx context.Context, req any) (any, error) {
		return srv.(testEchoServer).Ping(ctx, req.(*grpc_health_v1.HealthCheckRequest))
	}
	return interceptor(ctx, in, info, h)
}

var testEchoDesc = grpc.ServiceDesc{
	ServiceName: "scaffold.test.Echo",
	HandlerType: (*testEchoServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Ping", Handler: testPingHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "scaffold_test",
}

// echoService implements testEchoServer with a configurable delay.
type echoService struct {
	delay time.Duration
	calls atomic.Int64
}

func (e *echoService) Ping(ctx context.Context, _ *grpc_health_v1.HealthCheckRequest) (*grpc_health_v1.HealthCheckResponse, error) {
	e.calls.Add(1)
	if e.delay > 0 {
		select {
		case <-time.After(e.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return &grpc_health_v1.HealthCheckResponse{
		Status: grpc_health_v1.HealthCheckResponse_SERVING,
	}, nil
}

func echoHandler(svc *echoService) handler.Handler {
	return handler.Func("echo", func(s grpc.ServiceRegistrar) {
		s.RegisterService(&testEchoDesc, svc)
	})
}

func startTestServer(t *testing.T, svc *echoService, opts ...Option) (*Server, *grpc.ClientConn) {
	t.Helper()

	reg, err := handler.NewRegistry(echoHandler(svc))
	require.NoError(t, err)

	opts = append([]Option{WithHost("127.0.0.1"), WithPort(0)}, opts...)
	srv, err := NewServer(reg, opts...)
	require.NoError(t, err)
	require.NoError(t, srv.Start())
	t.Cleanup(srv.ForceStop)

	conn, err := grpc.NewClient(
		fmt.Sprintf("127.0.0.1:%d", srv.Port()),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	return srv, conn
}

func ping(ctx context.Context, conn *grpc.ClientConn) error {
	return conn.Invoke(ctx, testPingMethod,
		&grpc_health_v1.HealthCheckRequest{},
		&grpc_health_v1.HealthCheckResponse{},
	)
}

func TestDefaultConfigValues(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, "0.0.0.0", cfg.Host)
	assert.Equal(t, 50051, cfg.Port)
	assert.Equal(t, 10, cfg.MaxWorkers)
	assert.Equal(t, 64, cfg.QueueDepth)
	assert.True(t, cfg.OverloadMetrics)
}

func TestNewServerValidation(t *testing.T) {
	reg, err := handler.NewRegistry()
	require.NoError(t, err)

	tests := []struct {
		name string
		reg  *handler.Registry
		opts []Option
	}{
		{"nil registry", nil, nil},
		{"negative port", reg, []Option{WithPort(-1)}},
		{"port too high", reg, []Option{WithPort(70000)}},
		{"zero workers", reg, []Option{WithMaxWorkers(0)}},
		{"negative queue", reg, []Option{WithQueueDepth(-1)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, err := NewServer(tt.reg, tt.opts...)
			assert.Error(t, err)
			assert.Nil(t, srv)
		})
	}
}

func TestStartBindError(t *testing.T) {
	// Occupy a port, then try to bind it again.
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer lis.Close()
	port := lis.Addr().(*net.TCPAddr).Port

	reg, err := handler.NewRegistry()
	require.NoError(t, err)
	srv, err := NewServer(reg, WithHost("127.0.0.1"), WithPort(port))
	require.NoError(t, err)

	err = srv.Start()
	require.Error(t, err)

	var bindErr *BindError
	require.ErrorAs(t, err, &bindErr)
	assert.Contains(t, bindErr.Address, fmt.Sprintf(":%d", port))
	assert.Error(t, bindErr.Cause)
}

func TestServeAndInvoke(t *testing.T) {
	svc := &echoService{}
	_, conn := startTestServer(t, svc)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	require.NoError(t, ping(ctx, conn))
	assert.Equal(t, int64(1), svc.calls.Load())
}

func TestStopAcceptingRejectsNewCalls(t *testing.T) {
	svc := &echoService{delay: 300 * time.Millisecond}
	srv, conn := startTestServer(t, svc)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	// Warm the connection so the rejection happens at the call layer, not
	// at dial time.
	require.NoError(t, ping(ctx, conn))

	inFlight := make(chan error, 1)
	go func() {
		inFlight <- ping(ctx, conn)
	}()
	time.Sleep(50 * time.Millisecond)

	srv.StopAccepting()

	// A call arriving after StopAccepting returned is refused.
	err := ping(ctx, conn)
	require.Error(t, err)
	assert.Equal(t, codes.Unavailable, status.Code(err))

	// The in-flight call still completes, then the endpoint drains.
	require.NoError(t, <-inFlight)
	select {
	case <-srv.Drained():
	case <-time.After(2 * time.Second):
		t.Fatal("endpoint did not drain after in-flight call completed")
	}
}

func TestStoppedSignalsGracefulStopCompletion(t *testing.T) {
	svc := &echoService{delay: 200 * time.Millisecond}
	srv, conn := startTestServer(t, svc)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	inFlight := make(chan error, 1)
	go func() {
		inFlight <- ping(ctx, conn)
	}()
	time.Sleep(50 * time.Millisecond)

	srv.StopAccepting()

	// Stopped must not fire while the call is still running.
	select {
	case <-srv.Stopped():
		t.Fatal("Stopped closed with a call in flight")
	case <-time.After(50 * time.Millisecond):
	}

	require.NoError(t, <-inFlight)

	// Once the call finishes, GracefulStop returns and Stopped closes.
	select {
	case <-srv.Stopped():
	case <-time.After(2 * time.Second):
		t.Fatal("Stopped did not close after graceful stop completed")
	}
}

func TestOverloadedCall(t *testing.T) {
	svc := &echoService{delay: 500 * time.Millisecond}
	_, conn := startTestServer(t, svc, WithMaxWorkers(1), WithQueueDepth(0))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	first := make(chan error, 1)
	go func() {
		first <- ping(ctx, conn)
	}()
	time.Sleep(100 * time.Millisecond)

	// Worker busy, queue depth zero: refuse with ResourceExhausted.
	err := ping(ctx, conn)
	require.Error(t, err)
	assert.Equal(t, codes.ResourceExhausted, status.Code(err))

	require.NoError(t, <-first)
}

func TestForceStopTerminatesInFlight(t *testing.T) {
	svc := &echoService{delay: 10 * time.Second}
	srv, conn := startTestServer(t, svc)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	inFlight := make(chan error, 1)
	go func() {
		inFlight <- ping(ctx, conn)
	}()
	time.Sleep(100 * time.Millisecond)
	require.Equal(t, 1, srv.InFlight())

	start := time.Now()
	srv.ForceStop()

	// The abandoned call observes a connection-closed condition, not a
	// clean response.
	err := <-inFlight
	require.Error(t, err)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestPortReportsBoundPort(t *testing.T) {
	svc := &echoService{}
	srv, _ := startTestServer(t, svc)
	assert.Greater(t, srv.Port(), 0)
	assert.NotNil(t, srv.Addr())
}
