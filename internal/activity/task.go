package activity

import "context"

// Task is a unit of work run once by a pool worker.
//
// The context passed to Run is canceled only when a pool shutdown deadline
// elapses. Tasks that can block for long should watch it; there is no way to
// cancel a single activity.
type Task interface {
	Run(ctx context.Context) error
}

// TaskFunc adapts a function to the Task interface.
type TaskFunc func(ctx context.Context) error

// Run calls f(ctx).
func (f TaskFunc) Run(ctx context.Context) error {
	return f(ctx)
}
