// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

package tether

import (
	"context"
	"sync"
)

// A Queue admits tasks one at a time, in the order they arrive. A zero Queue
// is ready for use and must not be copied after first use.
//
// Each caller takes a ticket when it arrives, and its turn begins when the
// holder of the previous ticket releases it. A caller that gives up while
// waiting keeps its place in line, so that later callers still wait for
// everyone who arrived before them.
type Queue struct {
	μ    sync.Mutex
	tail chan struct{} // closed when the most recent ticket is released
	n    int           // tickets not yet released
}

// Acquire blocks until every ticket issued before the caller's has been
// released, or until ctx ends. On success the caller holds the queue and must
// call the returned release function when it is done; additional calls are
// no-ops.
//
// If ctx ends first, Acquire reports its error and the caller does not hold
// the queue.
func (q *Queue) Acquire(ctx context.Context) (func(), error) {
	q.μ.Lock()
	prev := q.tail
	mine := make(chan struct{})
	q.tail = mine
	q.n++
	q.μ.Unlock()
	clientMetrics.queueDepth.Add(1)

	var once sync.Once
	release := func() {
		once.Do(func() {
			q.μ.Lock()
			q.n--
			q.μ.Unlock()
			clientMetrics.queueDepth.Add(-1)
			close(mine)
		})
	}
	if prev == nil {
		return release, nil
	}

	// Prefer taking the turn if it is already available.
	select {
	case <-prev:
		return release, nil
	default:
	}
	select {
	case <-prev:
		return release, nil
	case <-ctx.Done():
		// Keep our place in line, and pass the turn along once it arrives.
		go func() { <-prev; release() }()
		return nil, ctx.Err()
	}
}

// Len reports the number of tickets currently outstanding, including the one
// held by the running task, if any.
func (q *Queue) Len() int {
	q.μ.Lock()
	defer q.μ.Unlock()
	return q.n
}

// Do waits for its turn in q, then calls task with ctx and returns its result.
// If ctx ends before the turn arrives, task is not called and Do reports the
// error from ctx. Whatever task reports, the queue is released for the next
// caller when task returns.
func (q *Queue) Do(ctx context.Context, task func(context.Context) error) error {
	release, err := q.Acquire(ctx)
	if err != nil {
		return err
	}
	defer release()
	return task(ctx)
}

// Enqueue is a typed wrapper for [Queue.Do] that returns the value produced
// by task.
func Enqueue[T any](ctx context.Context, q *Queue, task func(context.Context) (T, error)) (T, error) {
	var out T
	err := q.Do(ctx, func(ctx context.Context) error {
		var err error
		out, err = task(ctx)
		return err
	})
	return out, err
}
