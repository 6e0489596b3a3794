package robots

import (
	"context"
	"time"

	"github.com/oddcyb/microbots/internal/activity"
	"github.com/oddcyb/microbots/internal/dispatch"
	"github.com/oddcyb/microbots/internal/errors"
	"github.com/oddcyb/microbots/internal/logging"
)

// Option configures a Factory.
type Option func(*Factory)

// WithDispatcher replaces the delivery strategy used by watchers. By default
// watchers send straight to the registry.
func WithDispatcher(d dispatch.Dispatcher) Option {
	return func(f *Factory) { f.dispatcher = d }
}

// WithLogger sets the factory logger.
func WithLogger(logger *logging.Logger) Option {
	return func(f *Factory) { f.logger = logger }
}

// Factory builds watchers and reactors on top of one pool and one registry.
// It owns neither exclusively: the same pool or registry may back several
// factories, and tests can construct isolated ones.
type Factory struct {
	pool       *activity.Pool
	registry   *dispatch.Registry
	dispatcher dispatch.Dispatcher
	logger     *logging.Logger
}

// New creates a Factory. A nil pool or registry is replaced by one built
// with default options.
func New(pool *activity.Pool, registry *dispatch.Registry, opts ...Option) *Factory {
	f := &Factory{
		pool:     pool,
		registry: registry,
	}
	for _, opt := range opts {
		opt(f)
	}

	if f.logger == nil {
		f.logger = logging.NopLogger()
	}
	if f.pool == nil {
		f.pool = activity.New(activity.WithLogger(f.logger))
	}
	if f.registry == nil {
		f.registry = dispatch.NewRegistry(dispatch.WithLogger(f.logger))
	}
	if f.dispatcher == nil {
		f.dispatcher = f.registry
	}
	return f
}

// Pool returns the pool activities run on.
func (f *Factory) Pool() *activity.Pool {
	return f.pool
}

// Registry returns the registry reactors subscribe to.
func (f *Factory) Registry() *dispatch.Registry {
	return f.registry
}

// Dispatcher returns the delivery strategy watchers send through.
func (f *Factory) Dispatcher() dispatch.Dispatcher {
	return f.dispatcher
}

// Activate runs task on the pool.
func (f *Factory) Activate(task activity.Task) (*activity.Activity, error) {
	return f.pool.Activate(task)
}

// Shutdown shuts the pool down. See activity.Pool.Shutdown.
func (f *Factory) Shutdown(timeout time.Duration) error {
	return f.pool.Shutdown(timeout)
}

// Close shuts the pool down with its configured timeout.
func (f *Factory) Close() error {
	return f.pool.Close()
}

// Watch runs produce on the pool and sends the value it returns to topic.
// The activity completes once every subscriber has handled the event. It
// fails with the producer's error, in which case nothing is sent, or with
// the dispatch error if any subscriber failed.
func Watch[T any](f *Factory, topic dispatch.Topic[T], produce func(ctx context.Context) (T, error)) (*activity.Activity, error) {
	if produce == nil {
		return nil, errors.NewValidationError("producer must not be nil").WithField("produce")
	}

	log := f.logger.WithTopic(topic.Name())
	return f.pool.Activate(activity.TaskFunc(func(ctx context.Context) error {
		v, err := produce(ctx)
		if err != nil {
			return err
		}
		if err := topic.Event(v).Send(ctx, f.dispatcher); err != nil {
			return err
		}
		log.Debug("watch delivered")
		return nil
	}))
}

// Stream runs the setup call produce on the pool and hands it an emit
// function bound to topic. Each emit call returns once every subscriber has
// handled the value, along with any dispatch error. produce may call emit
// any number of times, from the worker or from goroutines it starts, for as
// long as the topic should be fed.
//
// The activity tracks produce itself, not the stream: it completes when
// produce returns, successfully or not, even if emissions continue
// afterwards from goroutines produce started. Emissions block on the
// subscribers, so a slow reactor slows the producer down.
func Stream[T any](f *Factory, topic dispatch.Topic[T], produce func(ctx context.Context, emit func(T) error) error) (*activity.Activity, error) {
	if produce == nil {
		return nil, errors.NewValidationError("producer must not be nil").WithField("produce")
	}

	log := f.logger.WithTopic(topic.Name())
	return f.pool.Activate(activity.TaskFunc(func(ctx context.Context) error {
		emit := func(v T) error {
			return topic.Event(v).Send(ctx, f.dispatcher)
		}
		err := produce(ctx, emit)
		log.Debug("stream setup returned", "error", err != nil)
		return err
	}))
}

// React subscribes action to topic. Registration runs on the pool like any
// other activity; the subscription is in place once the returned Reaction
// completes, and Unsubscribe on it removes the action again.
func React[T any](f *Factory, topic dispatch.Topic[T], action dispatch.Action[T]) (*Reaction, error) {
	if action == nil {
		return nil, errors.NewValidationError("action must not be nil").WithField("action")
	}
	return react(f, topic, func() (*dispatch.Subscription, error) {
		return dispatch.Subscribe(f.registry, topic, action)
	})
}

// ReactFunc is React for a plain function.
func ReactFunc[T any](f *Factory, topic dispatch.Topic[T], fn func(ctx context.Context, payload T) error) (*Reaction, error) {
	if fn == nil {
		return nil, errors.NewValidationError("action must not be nil").WithField("action")
	}
	return React[T](f, topic, dispatch.ActionFunc[T](fn))
}

// ReactScoped is React with the subscription removed once ctx is done.
func ReactScoped[T any](ctx context.Context, f *Factory, topic dispatch.Topic[T], action dispatch.Action[T]) (*Reaction, error) {
	if action == nil {
		return nil, errors.NewValidationError("action must not be nil").WithField("action")
	}
	return react(f, topic, func() (*dispatch.Subscription, error) {
		return dispatch.SubscribeScoped(ctx, f.registry, topic, action)
	})
}

func react[T any](f *Factory, topic dispatch.Topic[T], subscribe func() (*dispatch.Subscription, error)) (*Reaction, error) {
	log := f.logger.WithTopic(topic.Name())
	r := &Reaction{}
	a, err := f.pool.Activate(activity.TaskFunc(func(context.Context) error {
		registered, err := r.register(subscribe)
		if err != nil {
			return err
		}
		if !registered {
			log.Debug("reactor removed before registration")
			return nil
		}
		log.Debug("reactor registered", "subscribers", f.registry.Len(topic.Name()))
		return nil
	}))
	if err != nil {
		return nil, err
	}
	r.Activity = a
	return r, nil
}
