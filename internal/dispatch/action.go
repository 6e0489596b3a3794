package dispatch

import "context"

// Action is invoked with the payload of every event sent to the topic it is
// subscribed to. Perform runs on the sender's goroutine, possibly at the same
// time as other events are delivered to it from other senders.
type Action[T any] interface {
	Perform(ctx context.Context, payload T) error
}

// ActionFunc adapts a function to the Action interface.
type ActionFunc[T any] func(ctx context.Context, payload T) error

// Perform calls f(ctx, payload).
func (f ActionFunc[T]) Perform(ctx context.Context, payload T) error {
	return f(ctx, payload)
}
