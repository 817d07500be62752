package lifecycle

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"
	"sync"
	"time"
)

// Endpoint is the narrow contract the Manager requires from a bound
// request-handling endpoint. The Manager exclusively owns the endpoint for
// its entire running lifetime; nothing else may start or stop it.
type Endpoint interface {
	// Start binds the listening resource and begins accepting calls.
	// A failure to bind is fatal and must be returned immediately.
	Start() error

	// StopAccepting closes the listening resource so no new calls arrive,
	// while leaving already-accepted calls running. Idempotent.
	StopAccepting()

	// Drained returns a channel that is closed once the in-flight call
	// count reaches zero after StopAccepting.
	Drained() <-chan struct{}

	// ForceStop terminates all remaining in-flight work and releases every
	// resource the endpoint owns. Idempotent, safe before Start.
	ForceStop()

	// Err delivers at most one fatal endpoint error observed while serving.
	Err() <-chan error

	// Addr reports the bound listen address, valid after Start.
	Addr() net.Addr
}

// Manager owns the lifecycle State and drives all transitions.
//
// All methods are safe for concurrent use. Transitions are serialized by an
// internal mutex, so the Manager can be driven simultaneously from a signal
// listener, the endpoint's fault detector, and an external shutdown call
// without racing.
type Manager struct {
	grace  time.Duration
	logger *slog.Logger

	mu            sync.Mutex
	state         State
	cause         Cause
	forced        bool
	failErr       error
	ep            Endpoint
	drainDeadline time.Time

	draining     chan struct{}
	done         chan struct{}
	onceDraining sync.Once
	onceDone     sync.Once
}

// New creates a Manager in StateStarting with the given shutdown grace
// period. A zero grace period means in-flight calls are forcibly terminated
// as soon as shutdown is requested.
func New(grace time.Duration, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(os.Stderr, nil))
	}
	return &Manager{
		grace:    grace,
		logger:   logger.With("component", "lifecycle"),
		state:    StateStarting,
		draining: make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start binds the endpoint and transitions Starting → Running.
//
// A bind failure is fatal: the Manager transitions directly to StateFailed
// and the error is returned. There is no retry; restart policy belongs to
// the surrounding process supervisor.
func (m *Manager) Start(ctx context.Context, ep Endpoint) error {
	m.mu.Lock()
	if m.state != StateStarting {
		state := m.state
		m.mu.Unlock()
		return fmt.Errorf("lifecycle: start called in %s state", state)
	}
	m.ep = ep
	m.mu.Unlock()

	if err := ctx.Err(); err != nil {
		m.Fail(err)
		return err
	}

	if err := ep.Start(); err != nil {
		m.Fail(err)
		return err
	}

	m.mu.Lock()
	if m.state != StateStarting {
		// Failed concurrently between bind and commit.
		err := m.failErr
		m.mu.Unlock()
		ep.ForceStop()
		return fmt.Errorf("lifecycle: failed during start: %w", err)
	}
	m.state = StateRunning
	m.mu.Unlock()

	m.logger.Info("endpoint running", "addr", ep.Addr().String())

	go m.watchEndpoint(ep)
	return nil
}

// watchEndpoint escalates a fatal endpoint error to StateFailed. Errors
// after the state has left Running are part of normal teardown and are
// dropped.
func (m *Manager) watchEndpoint(ep Endpoint) {
	select {
	case err, ok := <-ep.Err():
		if !ok || err == nil {
			return
		}
		m.mu.Lock()
		running := m.state == StateRunning
		m.mu.Unlock()
		if running {
			m.Fail(err)
		}
	case <-m.done:
	}
}

// RequestShutdown transitions Running → Draining and records the cause.
//
// It is idempotent: a second call while already draining or stopped is a
// no-op. Callable from a signal handler goroutine.
func (m *Manager) RequestShutdown(cause Cause) {
	m.mu.Lock()
	if m.state != StateRunning {
		state := m.state
		m.mu.Unlock()
		m.logger.Debug("shutdown request ignored", "state", state.String(), "cause", cause.String())
		return
	}
	m.state = StateDraining
	m.cause = cause
	m.drainDeadline = time.Now().Add(m.grace)
	ep := m.ep
	m.mu.Unlock()

	m.logger.Info("shutdown requested, draining",
		"cause", cause.String(),
		"grace_period", m.grace,
	)

	m.onceDraining.Do(func() { close(m.draining) })
	ep.StopAccepting()
}

// Kill is the explicit escalation path: it force stops the endpoint
// immediately, abandoning any remaining in-flight work, and transitions to
// StateStopped with the forced flag set.
//
// It is invoked when a second, distinct termination signal arrives during a
// drain. A no-op in Starting and in terminal states.
func (m *Manager) Kill(cause Cause) {
	m.mu.Lock()
	if m.state != StateRunning && m.state != StateDraining {
		m.mu.Unlock()
		return
	}
	if m.cause.IsZero() {
		m.cause = cause
	}
	m.state = StateStopped
	m.forced = true
	ep := m.ep
	m.mu.Unlock()

	m.logger.Warn("kill requested, forcing stop", "cause", cause.String())

	m.onceDraining.Do(func() { close(m.draining) })
	ep.ForceStop()
	m.onceDone.Do(func() { close(m.done) })
}

// Fail transitions to the terminal StateFailed from any non-terminal state
// and force stops the endpoint. Used for bind failures and explicitly
// detected fatal internal errors; per-call handler failures must never
// reach this.
func (m *Manager) Fail(err error) {
	m.mu.Lock()
	if m.state.Terminal() {
		m.mu.Unlock()
		return
	}
	m.state = StateFailed
	m.failErr = err
	if m.cause.IsZero() {
		m.cause = ErrorCause(err)
	}
	ep := m.ep
	m.mu.Unlock()

	// Log the fatal transition before resources are released.
	m.logger.Error("lifecycle failed", "error", err)

	m.onceDraining.Do(func() { close(m.draining) })
	if ep != nil {
		ep.ForceStop()
	}
	m.onceDone.Do(func() { close(m.done) })
}

// AwaitStopped blocks until the state machine reaches a terminal state or,
// once draining has begun, until the grace period elapses, whichever comes
// first. If the grace period elapses with in-flight calls outstanding, the
// endpoint is force stopped, the forced flag is recorded, and the state
// still commits to StateStopped.
//
// The context bounds the wait itself; cancellation returns the current
// report without completing the shutdown.
func (m *Manager) AwaitStopped(ctx context.Context) Report {
	select {
	case <-m.done:
		return m.Report()
	case <-ctx.Done():
		return m.Report()
	case <-m.draining:
	}

	m.mu.Lock()
	ep := m.ep
	deadline := m.drainDeadline
	m.mu.Unlock()

	if m.grace <= 0 {
		// Zero grace period: no drain wait at all.
		m.expireDrain(ep)
		return m.Report()
	}

	timer := time.NewTimer(time.Until(deadline))
	defer timer.Stop()

	select {
	case <-m.done:
	case <-ep.Drained():
		m.completeDrain(false)
	case <-timer.C:
		m.expireDrain(ep)
	case <-ctx.Done():
	}
	return m.Report()
}

// expireDrain handles grace expiry: the stop is forced only when in-flight
// work is actually outstanding at the deadline.
func (m *Manager) expireDrain(ep Endpoint) {
	select {
	case <-ep.Drained():
		m.completeDrain(false)
	default:
		m.completeDrain(true)
	}
}

// completeDrain commits Draining → Stopped. The in-flight count having
// reached zero is observed before the transition commits, except on the
// forced path where the grace timer fired first.
func (m *Manager) completeDrain(forced bool) {
	m.mu.Lock()
	if m.state != StateDraining {
		m.mu.Unlock()
		return
	}
	m.state = StateStopped
	m.forced = forced
	ep := m.ep
	m.mu.Unlock()

	if forced {
		m.logger.Warn("grace period elapsed, forcing stop",
			"grace_period", m.grace,
			"cause", m.cause.String(),
		)
		ep.ForceStop()
	} else {
		m.logger.Info("drain complete, stopped cleanly", "cause", m.cause.String())
	}
	m.onceDone.Do(func() { close(m.done) })
}

// State is the non-blocking read used by the health reporter.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Forced reports whether the shutdown was forced (grace period expiry or
// Kill). Meaningful once the state is terminal.
func (m *Manager) Forced() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.forced
}

// Draining returns a channel closed when the state leaves Running.
// Collaborators such as the discovery announcer use it to deregister at the
// start of a drain.
func (m *Manager) Draining() <-chan struct{} {
	return m.draining
}

// Done returns a channel closed when the state machine reaches a terminal
// state.
func (m *Manager) Done() <-chan struct{} {
	return m.done
}

// Report returns the current outcome snapshot. The report is final once
// Done is closed.
func (m *Manager) Report() Report {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Report{
		State:  m.state,
		Cause:  m.cause,
		Forced: m.forced,
		Err:    m.failErr,
	}
}
