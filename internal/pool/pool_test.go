package pool

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestRunAllOneOutcomePerTask(t *testing.T) {
	tasks := make([]Task[int], 10)
	for i := range tasks {
		tasks[i] = Task[int]{
			ID:  fmt.Sprintf("task-%d", i),
			Run: func(context.Context) (int, error) { return i * i, nil },
		}
	}

	outcomes := RunAll(context.Background(), 3, tasks)
	if len(outcomes) != len(tasks) {
		t.Fatalf("got %d outcomes, want %d", len(outcomes), len(tasks))
	}
	for i, o := range outcomes {
		if o.ID != tasks[i].ID {
			t.Errorf("outcome %d: ID %q, want %q", i, o.ID, tasks[i].ID)
		}
		if o.Err != nil || o.Value != i*i {
			t.Errorf("outcome %d: got (%d, %v)", i, o.Value, o.Err)
		}
	}
}

func TestRunAllFailureDoesNotAbortBatch(t *testing.T) {
	boom := errors.New("boom")
	tasks := []Task[string]{
		{ID: "ok-1", Run: func(context.Context) (string, error) { return "a", nil }},
		{ID: "bad", Run: func(context.Context) (string, error) { return "", boom }},
		{ID: "ok-2", Run: func(context.Context) (string, error) { return "b", nil }},
	}

	outcomes := RunAll(context.Background(), 1, tasks)
	if !outcomes[1].Failed() || !errors.Is(outcomes[1].Err, boom) {
		t.Errorf("bad task: got %v", outcomes[1].Err)
	}
	if outcomes[0].Failed() || outcomes[2].Failed() {
		t.Errorf("healthy tasks affected: %v, %v", outcomes[0].Err, outcomes[2].Err)
	}
}

func TestRunAllPanicBecomesTaskError(t *testing.T) {
	tasks := []Task[int]{
		{ID: "panics", Run: func(context.Context) (int, error) { panic("kaboom") }},
		{ID: "fine", Run: func(context.Context) (int, error) { return 1, nil }},
	}

	outcomes := RunAll(context.Background(), 2, tasks)
	if outcomes[0].Err == nil {
		t.Fatal("panicking task should report an error")
	}
	if outcomes[1].Err != nil {
		t.Errorf("sibling task: %v", outcomes[1].Err)
	}
}

func TestRunAllHonorsLimit(t *testing.T) {
	const limit = 2
	var mu sync.Mutex
	inFlight, peak := 0, 0

	tasks := make([]Task[struct{}], 12)
	for i := range tasks {
		tasks[i] = Task[struct{}]{
			ID: fmt.Sprintf("t-%d", i),
			Run: func(context.Context) (struct{}, error) {
				mu.Lock()
				inFlight++
				if inFlight > peak {
					peak = inFlight
				}
				mu.Unlock()
				time.Sleep(5 * time.Millisecond)
				mu.Lock()
				inFlight--
				mu.Unlock()
				return struct{}{}, nil
			},
		}
	}

	RunAll(context.Background(), limit, tasks)
	mu.Lock()
	defer mu.Unlock()
	if peak > limit {
		t.Errorf("peak concurrency %d exceeds limit %d", peak, limit)
	}
}

func TestRunAllCancelledContextStopsDispatch(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var ran atomic.Int32
	tasks := make([]Task[struct{}], 5)
	for i := range tasks {
		tasks[i] = Task[struct{}]{
			ID: fmt.Sprintf("t-%d", i),
			Run: func(context.Context) (struct{}, error) {
				ran.Add(1)
				return struct{}{}, nil
			},
		}
	}

	outcomes := RunAll(ctx, 2, tasks)
	if got := ran.Load(); got != 0 {
		t.Errorf("%d tasks ran after cancellation", got)
	}
	for _, o := range outcomes {
		if !errors.Is(o.Err, context.Canceled) {
			t.Errorf("outcome %s: got %v, want context.Canceled", o.ID, o.Err)
		}
	}
}

func TestRunAllZeroLimitRunsSerially(t *testing.T) {
	outcomes := RunAll(context.Background(), 0, []Task[int]{
		{ID: "only", Run: func(context.Context) (int, error) { return 42, nil }},
	})
	if outcomes[0].Err != nil || outcomes[0].Value != 42 {
		t.Errorf("got (%d, %v)", outcomes[0].Value, outcomes[0].Err)
	}
}
