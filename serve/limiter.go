package serve

import (
	"context"
	"errors"
	"sync"
)

// Errors returned by the call limiter.
var (
	// ErrOverloaded is returned when both the worker pool and the wait
	// queue are full. The caller is told to retry.
	ErrOverloaded = errors.New("serve: overloaded, retry later")

	// ErrDraining is returned when the accept gate has closed: the server
	// is shutting down and admits no new calls.
	ErrDraining = errors.New("serve: draining, no new calls accepted")
)

// limiter bounds concurrent call execution and tracks the in-flight count
// for drain observation.
//
// Admission is three-tiered: a free worker slot admits immediately; at
// capacity the call waits in a bounded queue for a slot; with the queue
// full the call is refused. Closing the gate rejects all new admissions and
// arms the drained notification, which fires when the in-flight count
// reaches zero.
type limiter struct {
	slots   chan struct{}
	waiters chan struct{}
	gate    chan struct{}

	mu       sync.Mutex
	closed   bool
	inflight int
	drained  chan struct{}
}

func newLimiter(maxWorkers, queueDepth int) *limiter {
	return &limiter{
		slots:   make(chan struct{}, maxWorkers),
		waiters: make(chan struct{}, queueDepth),
		gate:    make(chan struct{}),
		drained: make(chan struct{}),
	}
}

// acquire admits a call or reports why it cannot run. On success the caller
// must release exactly once.
func (l *limiter) acquire(ctx context.Context) error {
	select {
	case <-l.gate:
		return ErrDraining
	default:
	}

	// Fast path: free worker slot.
	select {
	case l.slots <- struct{}{}:
		return l.admit()
	default:
	}

	// Queue up, bounded by queue depth.
	select {
	case l.waiters <- struct{}{}:
	default:
		return ErrOverloaded
	}
	defer func() { <-l.waiters }()

	select {
	case l.slots <- struct{}{}:
		return l.admit()
	case <-l.gate:
		return ErrDraining
	case <-ctx.Done():
		return ctx.Err()
	}
}

// admit commits the acquired slot unless the gate closed while the call was
// being admitted. Slot release and the in-flight count share one mutex so
// the drained notification can never fire with a call still admitted.
func (l *limiter) admit() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		<-l.slots
		return ErrDraining
	}
	l.inflight++
	l.mu.Unlock()
	return nil
}

// release returns the worker slot and fires the drained notification when
// the last in-flight call of a drain completes.
func (l *limiter) release() {
	<-l.slots
	l.mu.Lock()
	l.inflight--
	if l.closed && l.inflight == 0 {
		l.closeDrainedLocked()
	}
	l.mu.Unlock()
}

// closeGate stops all new admissions. Idempotent.
func (l *limiter) closeGate() {
	l.mu.Lock()
	if !l.closed {
		l.closed = true
		close(l.gate)
		if l.inflight == 0 {
			l.closeDrainedLocked()
		}
	}
	l.mu.Unlock()
}

func (l *limiter) closeDrainedLocked() {
	select {
	case <-l.drained:
	default:
		close(l.drained)
	}
}

// drainedCh is closed once the gate is closed and no calls remain in
// flight.
func (l *limiter) drainedCh() <-chan struct{} {
	return l.drained
}

// inFlight returns the current number of admitted calls.
func (l *limiter) inFlight() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.inflight
}
