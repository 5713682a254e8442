// Package worker bounds how many inference processes run at once.
// Every generation spawns a whole external process, so unbounded
// concurrency would exhaust the host long before the HTTP layer does.
package worker

import (
	"context"
	"errors"
)

// ErrBusy is returned when both the running slots and the wait queue
// are full. Handlers map it to 429.
var ErrBusy = errors.New("generation queue is full")

const (
	DefaultMaxConcurrent = 2
	DefaultQueueSize     = 32
)

// Gate is a counting semaphore with a bounded wait queue. Acquire
// blocks while slots are taken, up to queueSize concurrent waiters;
// past that it fails fast with ErrBusy instead of piling up requests.
type Gate struct {
	slots   chan struct{}
	waiting chan struct{}
}

func NewGate(maxConcurrent, queueSize int) *Gate {
	if maxConcurrent <= 0 {
		maxConcurrent = DefaultMaxConcurrent
	}
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	return &Gate{
		slots:   make(chan struct{}, maxConcurrent),
		waiting: make(chan struct{}, queueSize),
	}
}

// Acquire claims a slot, waiting in the bounded queue if none is free.
// The returned func releases the slot and must always be called. ctx
// cancellation abandons the wait.
func (g *Gate) Acquire(ctx context.Context) (func(), error) {
	select {
	case g.waiting <- struct{}{}:
	default:
		return nil, ErrBusy
	}
	defer func() { <-g.waiting }()

	select {
	case g.slots <- struct{}{}:
		return func() { <-g.slots }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
