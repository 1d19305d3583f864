// Package pool runs batches of independent per-issue (or per-issue, per-sample)
// tasks under a bounded concurrency limit. One task failing never aborts the
// batch: every task gets exactly one Outcome, and panics inside a task are
// converted to errors on that task's outcome.
package pool

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"
)

// Task is one unit of work. ID associates the outcome with the unit
// regardless of completion order.
type Task[T any] struct {
	ID  string
	Run func(ctx context.Context) (T, error)
}

// Outcome is the terminal result of one task.
type Outcome[T any] struct {
	ID    string
	Value T
	Err   error
}

// Failed reports whether the task ended in error.
func (o Outcome[T]) Failed() bool { return o.Err != nil }

// RunAll executes all tasks with at most limit running concurrently and
// returns one outcome per task, in task order. When ctx is cancelled no new
// tasks are dispatched; already-running tasks finish (or honor ctx
// themselves) and undispatched tasks report the cancellation error.
func RunAll[T any](ctx context.Context, limit int, tasks []Task[T]) []Outcome[T] {
	if limit <= 0 {
		limit = 1
	}

	outcomes := make([]Outcome[T], len(tasks))

	g := &errgroup.Group{}
	g.SetLimit(limit)
	for i, task := range tasks {
		outcomes[i].ID = task.ID
		if err := ctx.Err(); err != nil {
			outcomes[i].Err = err
			continue
		}
		g.Go(func() error {
			outcomes[i].Value, outcomes[i].Err = runGuarded(ctx, task)
			return nil
		})
	}
	_ = g.Wait() // errors live on the outcomes

	return outcomes
}

// runGuarded invokes the task and converts a panic into an error outcome.
func runGuarded[T any](ctx context.Context, task Task[T]) (value T, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task %s panicked: %v", task.ID, r)
		}
	}()
	if err := ctx.Err(); err != nil {
		return value, err
	}
	return task.Run(ctx)
}
