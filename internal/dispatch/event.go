package dispatch

import "context"

// Topic names an event id and binds it to a payload type. Two topics with
// the same name but different payload types cannot share subscribers: the
// registry rejects the second type when it is subscribed.
type Topic[T any] struct {
	name string
}

// NewTopic returns the topic for name carrying payloads of type T.
func NewTopic[T any](name string) Topic[T] {
	return Topic[T]{name: name}
}

// Name returns the event id.
func (t Topic[T]) Name() string {
	return t.name
}

// String implements fmt.Stringer.
func (t Topic[T]) String() string {
	return t.name
}

// Event returns an event for this topic carrying payload.
func (t Topic[T]) Event(payload T) Event[T] {
	return NewEvent(t, payload)
}

// Event is an immutable (id, payload) pair.
type Event[T any] struct {
	id      string
	payload T
}

// NewEvent builds an event for topic.
func NewEvent[T any](topic Topic[T], payload T) Event[T] {
	return Event[T]{id: topic.name, payload: payload}
}

// ID returns the event id.
func (e Event[T]) ID() string {
	return e.id
}

// Payload returns the event payload.
func (e Event[T]) Payload() T {
	return e.payload
}

// Send hands the event to d. Every call is a separate dispatch cycle; sending
// the same event twice delivers it twice.
func (e Event[T]) Send(ctx context.Context, d Dispatcher) error {
	return d.Dispatch(ctx, e.id, e.payload)
}

// Send is shorthand for topic.Event(payload).Send(ctx, d).
func Send[T any](ctx context.Context, d Dispatcher, topic Topic[T], payload T) error {
	return NewEvent(topic, payload).Send(ctx, d)
}
