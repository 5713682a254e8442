package worker

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGateLimitsConcurrency(t *testing.T) {
	g := NewGate(1, 1)

	release, err := g.Acquire(context.Background())
	require.NoError(t, err)

	// One waiter fits in the queue.
	acquired := make(chan struct{})
	go func() {
		r, err := g.Acquire(context.Background())
		if err == nil {
			close(acquired)
			r()
		}
	}()

	select {
	case <-acquired:
		t.Fatal("second acquire should wait for the slot")
	case <-time.After(50 * time.Millisecond):
	}

	release()
	select {
	case <-acquired:
	case <-time.After(5 * time.Second):
		t.Fatal("waiter never got the released slot")
	}
}

func TestGateBusyWhenQueueFull(t *testing.T) {
	g := NewGate(1, 1)

	release, err := g.Acquire(context.Background())
	require.NoError(t, err)
	defer release()

	// Fill the single queue position.
	blocked := make(chan struct{})
	go func() {
		close(blocked)
		r, err := g.Acquire(context.Background())
		if err == nil {
			r()
		}
	}()
	<-blocked
	time.Sleep(20 * time.Millisecond)

	_, err = g.Acquire(context.Background())
	assert.ErrorIs(t, err, ErrBusy)
	release()
}

func TestGateAcquireHonorsContext(t *testing.T) {
	g := NewGate(1, 4)

	release, err := g.Acquire(context.Background())
	require.NoError(t, err)
	defer release()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = g.Acquire(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
