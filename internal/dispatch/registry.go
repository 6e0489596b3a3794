package dispatch

import (
	"context"
	"fmt"
	"reflect"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/sourcegraph/conc/panics"

	"github.com/oddcyb/microbots/internal/errors"
	"github.com/oddcyb/microbots/internal/logging"
)

// FailureHandler is told about every action that fails during a dispatch.
type FailureHandler func(*errors.ActionError)

// Option configures a Registry.
type Option func(*Registry)

// WithLogger sets the registry logger.
func WithLogger(logger *logging.Logger) Option {
	return func(r *Registry) { r.logger = logger }
}

// WithFailureHandler sets a handler called for every failing action, in
// addition to the failure being logged and returned to the sender.
func WithFailureHandler(h FailureHandler) Option {
	return func(r *Registry) { r.onFailure = h }
}

// Registry maps event ids to the ordered actions subscribed to them and
// delivers dispatched events to those actions.
//
// Each id has its own entry holding an immutable snapshot of its
// subscriptions. Subscribing or unsubscribing swaps in a new snapshot under
// that entry's lock; dispatching only loads the current snapshot, so
// dispatches never wait for each other or for subscribers, and ids never
// contend with one another.
type Registry struct {
	entries   sync.Map // string -> *entry
	seq       atomic.Uint64
	logger    *logging.Logger
	onFailure FailureHandler
}

// NewRegistry creates an empty Registry.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{}
	for _, opt := range opts {
		opt(r)
	}
	if r.logger == nil {
		r.logger = logging.NopLogger()
	}
	return r
}

type entry struct {
	id          string
	payloadType reflect.Type

	mu   sync.Mutex // serializes writers
	subs atomic.Pointer[[]*Subscription]
}

func (e *entry) snapshot() []*Subscription {
	if p := e.subs.Load(); p != nil {
		return *p
	}
	return nil
}

func (e *entry) add(s *Subscription) {
	e.mu.Lock()
	defer e.mu.Unlock()

	old := e.snapshot()
	next := make([]*Subscription, len(old), len(old)+1)
	copy(next, old)
	next = append(next, s)
	e.subs.Store(&next)
}

func (e *entry) remove(s *Subscription) {
	e.mu.Lock()
	defer e.mu.Unlock()

	old := e.snapshot()
	next := make([]*Subscription, 0, len(old))
	for _, sub := range old {
		if sub != s {
			next = append(next, sub)
		}
	}
	e.subs.Store(&next)
}

// accepts reports whether payload can be delivered to actions of this entry.
func (e *entry) accepts(payload any) bool {
	if payload == nil {
		switch e.payloadType.Kind() {
		case reflect.Interface, reflect.Pointer, reflect.Map, reflect.Slice, reflect.Func, reflect.Chan:
			return true
		}
		return false
	}
	return reflect.TypeOf(payload).AssignableTo(e.payloadType)
}

// Subscription is one action subscribed to one id.
type Subscription struct {
	id      uint64
	topic   string
	entry   *entry
	perform func(ctx context.Context, payload any) error
	active  atomic.Bool

	mu      sync.Mutex
	removed bool
	stop    func() bool
}

// Topic returns the event id the subscription listens to.
func (s *Subscription) Topic() string {
	return s.topic
}

// Active reports whether the subscription still receives events.
func (s *Subscription) Active() bool {
	return s.active.Load()
}

// Unsubscribe removes the action from its topic. Dispatches that start after
// Unsubscribe returns do not reach the action; a dispatch already walking the
// topic skips it from then on. Calling Unsubscribe more than once is a no-op.
func (s *Subscription) Unsubscribe() {
	s.mu.Lock()
	if s.removed {
		s.mu.Unlock()
		return
	}
	s.removed = true
	stop := s.stop
	s.mu.Unlock()

	s.active.Store(false)
	s.entry.remove(s)
	if stop != nil {
		stop()
	}
}

// Subscribe appends action to the subscriptions of topic, creating the
// topic's entry if this is its first subscriber. Actions of a topic are
// performed in the order they were subscribed.
//
// A topic name is bound to the payload type of its first subscriber;
// subscribing with another payload type fails with ErrPayloadType.
func Subscribe[T any](r *Registry, topic Topic[T], action Action[T]) (*Subscription, error) {
	if action == nil {
		return nil, errors.NewValidationError("action must not be nil").WithField("action")
	}

	typ := reflect.TypeFor[T]()
	v, _ := r.entries.LoadOrStore(topic.name, &entry{id: topic.name, payloadType: typ})
	e := v.(*entry)

	if e.payloadType != typ {
		return nil, fmt.Errorf("%w: topic %q carries %v, subscriber expects %v",
			errors.ErrPayloadType, topic.name, e.payloadType, typ)
	}

	s := &Subscription{
		id:    r.seq.Add(1),
		topic: topic.name,
		entry: e,
		perform: func(ctx context.Context, payload any) error {
			value, _ := payload.(T)
			return action.Perform(ctx, value)
		},
	}
	s.active.Store(true)
	e.add(s)

	r.logger.WithTopic(topic.name).Debug("subscribed", "subscription", s.id, "payload_type", typ.String())
	return s, nil
}

// SubscribeFunc is Subscribe for a plain function.
func SubscribeFunc[T any](r *Registry, topic Topic[T], fn func(ctx context.Context, payload T) error) (*Subscription, error) {
	if fn == nil {
		return nil, errors.NewValidationError("action must not be nil").WithField("action")
	}
	return Subscribe[T](r, topic, ActionFunc[T](fn))
}

// SubscribeScoped is Subscribe with the subscription removed as soon as ctx
// is done. It can still be removed earlier with Unsubscribe.
func SubscribeScoped[T any](ctx context.Context, r *Registry, topic Topic[T], action Action[T]) (*Subscription, error) {
	s, err := Subscribe(r, topic, action)
	if err != nil {
		return nil, err
	}

	stop := context.AfterFunc(ctx, s.Unsubscribe)

	s.mu.Lock()
	if s.removed {
		s.mu.Unlock()
		stop()
		return s, nil
	}
	s.stop = stop
	s.mu.Unlock()

	return s, nil
}

// Dispatch delivers payload to every action subscribed to id when the call
// starts, in subscription order, on the calling goroutine. An id nobody has
// subscribed to is a no-op.
//
// A failing action does not stop delivery: its error, or its recovered
// panic, is logged, passed to the failure handler, and delivery moves on to
// the next action. Once every action has run, the failures are returned
// together as a *errors.DispatchError.
//
// A payload that is not assignable to the topic's payload type is rejected
// with ErrPayloadType before any action runs.
func (r *Registry) Dispatch(ctx context.Context, id string, payload any) error {
	v, ok := r.entries.Load(id)
	if !ok {
		return nil
	}
	e := v.(*entry)

	if !e.accepts(payload) {
		return fmt.Errorf("%w: topic %q carries %v, got %T",
			errors.ErrPayloadType, id, e.payloadType, payload)
	}

	subs := e.snapshot()
	var failures []*errors.ActionError
	for i, s := range subs {
		if !s.active.Load() {
			continue
		}
		if err := r.perform(ctx, s, payload); err != nil {
			failure := errors.NewActionError(id, i, err)
			failures = append(failures, failure)
			r.report(failure)
		}
	}

	return errors.NewDispatchError(id, failures)
}

func (r *Registry) perform(ctx context.Context, s *Subscription, payload any) error {
	var err error
	var pc panics.Catcher
	pc.Try(func() { err = s.perform(ctx, payload) })

	if rec := pc.Recovered(); rec != nil {
		return errors.NewPanicError(rec.Value, rec.Stack)
	}
	return err
}

func (r *Registry) report(failure *errors.ActionError) {
	log := r.logger.WithTopic(failure.Topic)

	msg := "action failed"
	if errors.IsPanic(failure) {
		msg = "action panicked"
	}
	log.LogError(msg, failure, "index", failure.Index)

	if r.onFailure == nil {
		return
	}
	var pc panics.Catcher
	pc.Try(func() { r.onFailure(failure) })
	if rec := pc.Recovered(); rec != nil {
		log.Error("failure handler panicked", "panic", fmt.Sprint(rec.Value))
	}
}

// Len returns the number of actions currently subscribed to id.
func (r *Registry) Len(id string) int {
	v, ok := r.entries.Load(id)
	if !ok {
		return 0
	}
	return len(v.(*entry).snapshot())
}

// Topics returns the ids that have ever had a subscriber, sorted.
func (r *Registry) Topics() []string {
	var ids []string
	r.entries.Range(func(key, _ any) bool {
		ids = append(ids, key.(string))
		return true
	})
	slices.Sort(ids)
	return ids
}
