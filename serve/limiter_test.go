package serve

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLimiterFastPath(t *testing.T) {
	l := newLimiter(2, 0)

	require.NoError(t, l.acquire(context.Background()))
	require.NoError(t, l.acquire(context.Background()))
	assert.Equal(t, 2, l.inFlight())

	l.release()
	l.release()
	assert.Equal(t, 0, l.inFlight())
}

func TestLimiterOverloaded(t *testing.T) {
	l := newLimiter(1, 1)

	// Occupy the worker slot.
	require.NoError(t, l.acquire(context.Background()))

	// Fill the single queue slot with a blocked waiter.
	waiting := make(chan error, 1)
	go func() {
		waiting <- l.acquire(context.Background())
	}()

	// Give the waiter time to enter the queue.
	time.Sleep(50 * time.Millisecond)

	// Queue full: refuse.
	err := l.acquire(context.Background())
	assert.ErrorIs(t, err, ErrOverloaded)

	// Releasing the slot admits the queued waiter.
	l.release()
	require.NoError(t, <-waiting)
	l.release()
}

func TestLimiterQueueWaitsForSlot(t *testing.T) {
	l := newLimiter(1, 4)
	require.NoError(t, l.acquire(context.Background()))

	done := make(chan error, 1)
	go func() {
		done <- l.acquire(context.Background())
	}()

	select {
	case err := <-done:
		t.Fatalf("queued call admitted while worker busy: %v", err)
	case <-time.After(50 * time.Millisecond):
	}

	l.release()
	require.NoError(t, <-done)
	l.release()
}

func TestLimiterQueuedCallContextCancel(t *testing.T) {
	l := newLimiter(1, 4)
	require.NoError(t, l.acquire(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- l.acquire(ctx)
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
	l.release()
}

func TestLimiterGate(t *testing.T) {
	l := newLimiter(2, 2)
	require.NoError(t, l.acquire(context.Background()))

	l.closeGate()

	// No new admissions after the gate closes.
	assert.ErrorIs(t, l.acquire(context.Background()), ErrDraining)

	// Drained fires only once the in-flight call completes.
	select {
	case <-l.drainedCh():
		t.Fatal("drained before last call finished")
	default:
	}

	l.release()
	select {
	case <-l.drainedCh():
	case <-time.After(time.Second):
		t.Fatal("drained not signalled after last call finished")
	}
}

func TestLimiterGateReleasesQueuedWaiters(t *testing.T) {
	l := newLimiter(1, 4)
	require.NoError(t, l.acquire(context.Background()))

	done := make(chan error, 1)
	go func() {
		done <- l.acquire(context.Background())
	}()
	time.Sleep(20 * time.Millisecond)

	l.closeGate()
	assert.ErrorIs(t, <-done, ErrDraining)

	l.release()
	<-l.drainedCh()
}

func TestLimiterIdleGateDrainsImmediately(t *testing.T) {
	l := newLimiter(4, 4)
	l.closeGate()

	select {
	case <-l.drainedCh():
	case <-time.After(time.Second):
		t.Fatal("idle limiter should drain immediately")
	}
}

func TestLimiterConcurrentAcquireRelease(t *testing.T) {
	l := newLimiter(8, 64)

	var wg sync.WaitGroup
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := l.acquire(context.Background()); err == nil {
				time.Sleep(time.Millisecond)
				l.release()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 0, l.inFlight())
}
