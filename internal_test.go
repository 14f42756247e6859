package tether

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"testing/synctest"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
)

func TestQueueOrder(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		var q Queue
		ctx := context.Background()

		// Hold the queue while the tasks line up, so that the order in which
		// they take tickets is the order in which they are started.
		hold, err := q.Acquire(ctx)
		if err != nil {
			t.Fatalf("Acquire: %v", err)
		}

		const numTasks = 8
		var active, maxActive atomic.Int32
		var order []int
		errc := make(chan error, numTasks)
		for i := range numTasks {
			go func() {
				errc <- q.Do(ctx, func(context.Context) error {
					n := active.Add(1)
					defer active.Add(-1)
					if n > maxActive.Load() {
						maxActive.Store(n)
					}
					order = append(order, i)
					if i%3 == 0 {
						return errors.New("task failed")
					}
					return nil
				})
			}()
			synctest.Wait()
		}
		if got, want := q.Len(), numTasks+1; got != want {
			t.Errorf("Len: got %d, want %d", got, want)
		}

		hold()
		hold() // no-op
		var nerr int
		for range numTasks {
			if err := <-errc; err != nil {
				nerr++
			}
		}

		if diff := cmp.Diff([]int{0, 1, 2, 3, 4, 5, 6, 7}, order); diff != "" {
			t.Errorf("Execution order (-want, +got):\n%s", diff)
		}
		if got := maxActive.Load(); got != 1 {
			t.Errorf("Max concurrent tasks: got %d, want 1", got)
		}
		if nerr != 3 {
			t.Errorf("Failed tasks: got %d, want 3", nerr)
		}
		if q.Len() != 0 {
			t.Errorf("Len after completion: got %d, want 0", q.Len())
		}
	})
}

func TestQueueCancel(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		var q Queue
		hold, err := q.Acquire(context.Background())
		if err != nil {
			t.Fatalf("Acquire: %v", err)
		}

		// A waiter that gives up does not run, and does not let its
		// successor jump ahead of the holder.
		ctx, cancel := context.WithCancel(context.Background())
		quit := make(chan error, 1)
		go func() {
			quit <- q.Do(ctx, func(context.Context) error {
				t.Error("Canceled task was executed")
				return nil
			})
		}()
		synctest.Wait()

		var ran atomic.Bool
		done := make(chan error, 1)
		go func() {
			done <- q.Do(context.Background(), func(context.Context) error {
				ran.Store(true)
				return nil
			})
		}()
		synctest.Wait()

		cancel()
		if err := <-quit; !errors.Is(err, context.Canceled) {
			t.Errorf("Canceled Do: got %v, want %v", err, context.Canceled)
		}
		synctest.Wait()
		if ran.Load() {
			t.Error("Successor ran while the queue was held")
		}

		hold()
		if err := <-done; err != nil {
			t.Errorf("Do: unexpected error: %v", err)
		}
		if !ran.Load() {
			t.Error("Successor did not run")
		}
	})
}

func TestQueueAcquireTimeout(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		var q Queue
		hold, err := q.Acquire(context.Background())
		if err != nil {
			t.Fatalf("Acquire: %v", err)
		}

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
		defer cancel()
		rel, err := q.Acquire(ctx)
		if !errors.Is(err, context.DeadlineExceeded) {
			t.Fatalf("Acquire with timeout: got %v, want %v", err, context.DeadlineExceeded)
		}
		if rel != nil {
			t.Error("Acquire with timeout returned a release function")
		}
		if got := q.Len(); got != 2 {
			t.Errorf("Len with an expired waiter: got %d, want 2", got)
		}

		// Releasing the holder passes the turn through the expired waiter.
		hold()
		synctest.Wait()
		if got := q.Len(); got != 0 {
			t.Errorf("Len after release: got %d, want 0", got)
		}
		next, err := q.Acquire(context.Background())
		if err != nil {
			t.Fatalf("Acquire after release: %v", err)
		}
		next()
	})
}

func TestQueueCancelOrder(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		var q Queue
		hold, err := q.Acquire(context.Background())
		if err != nil {
			t.Fatalf("Acquire: %v", err)
		}

		// Line up: a task that fails, a waiter that gives up, then two more.
		var order []string
		start := func(ctx context.Context, name string, fail bool) <-chan error {
			errc := make(chan error, 1)
			go func() {
				errc <- q.Do(ctx, func(context.Context) error {
					order = append(order, name)
					if fail {
						return errors.New("task failed")
					}
					return nil
				})
			}()
			synctest.Wait()
			return errc
		}
		ctx, cancel := context.WithCancel(context.Background())
		failing := start(context.Background(), "failing", true)
		quit := start(ctx, "canceled", false)
		second := start(context.Background(), "second", false)
		third := start(context.Background(), "third", false)

		cancel()
		if err := <-quit; !errors.Is(err, context.Canceled) {
			t.Errorf("Canceled Do: got %v, want %v", err, context.Canceled)
		}
		synctest.Wait()
		if len(order) != 0 {
			t.Errorf("Tasks ran while the queue was held: %q", order)
		}

		hold()
		if err := <-failing; err == nil {
			t.Error("Failing task: got nil error")
		}
		for _, errc := range []<-chan error{second, third} {
			if err := <-errc; err != nil {
				t.Errorf("Do: unexpected error: %v", err)
			}
		}
		if diff := cmp.Diff([]string{"failing", "second", "third"}, order); diff != "" {
			t.Errorf("Execution order (-want, +got):\n%s", diff)
		}
		if got := q.Len(); got != 0 {
			t.Errorf("Len after completion: got %d, want 0", got)
		}
	})
}

func TestEnqueue(t *testing.T) {
	var q Queue
	got, err := Enqueue(context.Background(), &q, func(context.Context) (string, error) {
		return "ok", nil
	})
	if err != nil || got != "ok" {
		t.Errorf("Enqueue: got %q, %v; want ok, nil", got, err)
	}
}

func TestOptionsFill(t *testing.T) {
	var nilOpts *Options
	if diff := cmp.Diff(DefaultOptions(), nilOpts.fill(), cmpopts.IgnoreFields(Options{}, "Logger")); diff != "" {
		t.Errorf("Nil options (-want, +got):\n%s", diff)
	}

	o := &Options{Namespace: "rov", EmptyReply: "NothingRep"}
	got := o.fill()
	if got.Namespace != "rov" || got.EmptyReply != "NothingRep" {
		t.Errorf("Fill: got %+v", got)
	}
	if got.RequestTimeout != DefaultOptions().RequestTimeout {
		t.Errorf("Fill timeout: got %v, want default", got.RequestTimeout)
	}
}
