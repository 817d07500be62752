package lifecycle

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeEndpoint simulates a bound endpoint with controllable in-flight calls.
type fakeEndpoint struct {
	startErr error

	mu        sync.Mutex
	started   bool
	stopped   int
	forced    int
	inflight  int
	draining  bool
	drainedCh chan struct{}
	errCh     chan error
}

func newFakeEndpoint() *fakeEndpoint {
	return &fakeEndpoint{
		drainedCh: make(chan struct{}),
		errCh:     make(chan error, 1),
	}
}

func (f *fakeEndpoint) Start() error {
	if f.startErr != nil {
		return f.startErr
	}
	f.mu.Lock()
	f.started = true
	f.mu.Unlock()
	return nil
}

func (f *fakeEndpoint) StopAccepting() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped++
	f.draining = true
	f.maybeDrainLocked()
}

func (f *fakeEndpoint) Drained() <-chan struct{} { return f.drainedCh }

func (f *fakeEndpoint) ForceStop() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.forced++
}

func (f *fakeEndpoint) Err() <-chan error { return f.errCh }

func (f *fakeEndpoint) Addr() net.Addr {
	return &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 50051}
}

// beginCall registers an in-flight call; the returned func completes it.
func (f *fakeEndpoint) beginCall() func() {
	f.mu.Lock()
	f.inflight++
	f.mu.Unlock()
	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.inflight--
		f.maybeDrainLocked()
	}
}

func (f *fakeEndpoint) maybeDrainLocked() {
	if f.draining && f.inflight == 0 {
		select {
		case <-f.drainedCh:
		default:
			close(f.drainedCh)
		}
	}
}

func (f *fakeEndpoint) forceStops() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.forced
}

func (f *fakeEndpoint) stopCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stopped
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(testWriter{}, &slog.HandlerOptions{Level: slog.LevelError}))
}

type testWriter struct{}

func (testWriter) Write(p []byte) (int, error) { return len(p), nil }

func TestManagerStart(t *testing.T) {
	m := New(time.Second, testLogger())
	ep := newFakeEndpoint()

	require.Equal(t, StateStarting, m.State())
	require.NoError(t, m.Start(context.Background(), ep))
	assert.Equal(t, StateRunning, m.State())
}

func TestManagerStartTwice(t *testing.T) {
	m := New(time.Second, testLogger())
	ep := newFakeEndpoint()

	require.NoError(t, m.Start(context.Background(), ep))
	err := m.Start(context.Background(), ep)
	assert.Error(t, err)
}

func TestManagerBindFailure(t *testing.T) {
	m := New(time.Second, testLogger())
	ep := newFakeEndpoint()
	ep.startErr = errors.New("bind: address already in use")

	err := m.Start(context.Background(), ep)
	require.Error(t, err)
	assert.Equal(t, StateFailed, m.State())

	// AwaitStopped returns instantly, no drain cycle ever starts.
	start := time.Now()
	report := m.AwaitStopped(context.Background())
	assert.Less(t, time.Since(start), 100*time.Millisecond)
	assert.Equal(t, StateFailed, report.State)
	assert.NotEqual(t, 0, report.ExitCode())
	assert.Equal(t, 0, ep.stopCalls())
}

func TestRequestShutdownIdempotent(t *testing.T) {
	m := New(time.Second, testLogger())
	ep := newFakeEndpoint()
	require.NoError(t, m.Start(context.Background(), ep))

	m.RequestShutdown(SignalCause(syscall.SIGTERM))
	m.RequestShutdown(SignalCause(syscall.SIGTERM))
	m.RequestShutdown(SignalCause(syscall.SIGINT))

	assert.Equal(t, StateDraining, m.State())
	assert.Equal(t, 1, ep.stopCalls())
	assert.Equal(t, "signal:terminated", m.Report().Cause.String())
}

func TestRequestShutdownBeforeRunning(t *testing.T) {
	m := New(time.Second, testLogger())
	m.RequestShutdown(SignalCause(syscall.SIGTERM))
	assert.Equal(t, StateStarting, m.State())
}

func TestCleanDrain(t *testing.T) {
	m := New(5*time.Second, testLogger())
	ep := newFakeEndpoint()
	require.NoError(t, m.Start(context.Background(), ep))

	// One in-flight call that completes well inside the grace period.
	done := ep.beginCall()
	go func() {
		time.Sleep(100 * time.Millisecond)
		done()
	}()

	m.RequestShutdown(SignalCause(syscall.SIGTERM))

	start := time.Now()
	report := m.AwaitStopped(context.Background())
	elapsed := time.Since(start)

	assert.Equal(t, StateStopped, report.State)
	assert.False(t, report.Forced)
	assert.Equal(t, 0, report.ExitCode())
	assert.Less(t, elapsed, 2*time.Second, "should return well before the grace period")
	assert.Equal(t, 0, ep.forceStops())
}

func TestForcedDrain(t *testing.T) {
	m := New(200*time.Millisecond, testLogger())
	ep := newFakeEndpoint()
	require.NoError(t, m.Start(context.Background(), ep))

	// An in-flight call that never completes.
	_ = ep.beginCall()

	m.RequestShutdown(SignalCause(syscall.SIGTERM))

	start := time.Now()
	report := m.AwaitStopped(context.Background())
	elapsed := time.Since(start)

	assert.Equal(t, StateStopped, report.State)
	assert.True(t, report.Forced)
	assert.NotEqual(t, 0, report.ExitCode())
	assert.GreaterOrEqual(t, elapsed, 150*time.Millisecond)
	assert.Less(t, elapsed, time.Second)
	assert.GreaterOrEqual(t, ep.forceStops(), 1, "abandoned work must be force stopped")
}

func TestZeroGracePeriod(t *testing.T) {
	m := New(0, testLogger())
	ep := newFakeEndpoint()
	require.NoError(t, m.Start(context.Background(), ep))

	_ = ep.beginCall()
	m.RequestShutdown(SignalCause(syscall.SIGTERM))

	start := time.Now()
	report := m.AwaitStopped(context.Background())

	assert.Equal(t, StateStopped, report.State)
	assert.True(t, report.Forced)
	assert.Less(t, time.Since(start), 100*time.Millisecond)
	assert.GreaterOrEqual(t, ep.forceStops(), 1)
}

func TestZeroGracePeriodIdle(t *testing.T) {
	m := New(0, testLogger())
	ep := newFakeEndpoint()
	require.NoError(t, m.Start(context.Background(), ep))

	m.RequestShutdown(SignalCause(syscall.SIGTERM))
	report := m.AwaitStopped(context.Background())

	assert.Equal(t, StateStopped, report.State)
	assert.False(t, report.Forced, "idle endpoint drains cleanly even with zero grace")
	assert.Equal(t, 0, report.ExitCode())
}

func TestKillEscalation(t *testing.T) {
	m := New(time.Minute, testLogger())
	ep := newFakeEndpoint()
	require.NoError(t, m.Start(context.Background(), ep))

	_ = ep.beginCall()
	m.RequestShutdown(SignalCause(syscall.SIGTERM))
	require.Equal(t, StateDraining, m.State())

	// A second, distinct signal escalates to an immediate forced stop.
	m.Kill(SignalCause(syscall.SIGINT))

	report := m.AwaitStopped(context.Background())
	assert.Equal(t, StateStopped, report.State)
	assert.True(t, report.Forced)
	assert.GreaterOrEqual(t, ep.forceStops(), 1)
	// The original cause is preserved for diagnostics.
	assert.Equal(t, "signal:terminated", report.Cause.String())
}

func TestKillBeforeRunningIsNoop(t *testing.T) {
	m := New(time.Second, testLogger())
	m.Kill(SignalCause(syscall.SIGINT))
	assert.Equal(t, StateStarting, m.State())
}

func TestFatalEndpointError(t *testing.T) {
	m := New(time.Second, testLogger())
	ep := newFakeEndpoint()
	require.NoError(t, m.Start(context.Background(), ep))

	fatal := errors.New("accept loop: file descriptor exhausted")
	ep.errCh <- fatal

	report := m.AwaitStopped(context.Background())
	assert.Equal(t, StateFailed, report.State)
	assert.ErrorIs(t, report.Err, fatal)
	assert.NotEqual(t, 0, report.ExitCode())
	assert.GreaterOrEqual(t, ep.forceStops(), 1)
}

func TestAwaitStoppedContextCancel(t *testing.T) {
	m := New(time.Minute, testLogger())
	ep := newFakeEndpoint()
	require.NoError(t, m.Start(context.Background(), ep))

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	report := m.AwaitStopped(ctx)
	assert.Equal(t, StateRunning, report.State)
}

func TestConcurrentShutdownRequests(t *testing.T) {
	m := New(time.Second, testLogger())
	ep := newFakeEndpoint()
	require.NoError(t, m.Start(context.Background(), ep))

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.RequestShutdown(SignalCause(syscall.SIGTERM))
		}()
	}
	wg.Wait()

	// At most one drain cycle regardless of how many requests raced.
	assert.Equal(t, 1, ep.stopCalls())
	assert.Equal(t, StateDraining, m.State())
}

func TestStateString(t *testing.T) {
	tests := []struct {
		state State
		want  string
	}{
		{StateStarting, "starting"},
		{StateRunning, "running"},
		{StateDraining, "draining"},
		{StateStopped, "stopped"},
		{StateFailed, "failed"},
		{State(42), "state(42)"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.state.String())
	}
}

func TestReportExitCode(t *testing.T) {
	tests := []struct {
		name   string
		report Report
		want   int
	}{
		{"clean stop", Report{State: StateStopped}, 0},
		{"forced stop", Report{State: StateStopped, Forced: true}, 1},
		{"failed", Report{State: StateFailed}, 1},
		{"still running", Report{State: StateRunning}, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.report.ExitCode())
		})
	}
}

func TestCauseString(t *testing.T) {
	assert.Equal(t, "signal:terminated", SignalCause(syscall.SIGTERM).String())
	assert.Equal(t, "signal:interrupt", SignalCause(syscall.SIGINT).String())
	assert.Equal(t, "error:boom", ErrorCause(errors.New("boom")).String())
	assert.Equal(t, "request:api", RequestCause("api").String())
	assert.Equal(t, "unknown", Cause{}.String())
	assert.True(t, Cause{}.IsZero())
	assert.False(t, RequestCause("api").IsZero())
}
