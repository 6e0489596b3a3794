package robots

import (
	"sync"

	"github.com/oddcyb/microbots/internal/activity"
	"github.com/oddcyb/microbots/internal/dispatch"
)

// Reaction is the handle of a reactor. It embeds the activity that registers
// the action, so Wait reports registration failures such as a payload type
// mismatch.
type Reaction struct {
	*activity.Activity

	mu      sync.Mutex
	sub     *dispatch.Subscription
	removed bool
}

// Subscription returns the registered subscription. It is nil until the
// registration has run, and stays nil if it failed or was preempted by
// Unsubscribe.
func (r *Reaction) Subscription() *dispatch.Subscription {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sub
}

// Unsubscribe removes the action from its topic. Called before the
// registration has run, it turns the registration into a no-op. Calling it
// more than once is a no-op.
func (r *Reaction) Unsubscribe() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.removed = true
	if r.sub != nil {
		r.sub.Unsubscribe()
	}
}

// register runs subscribe unless the reaction was already removed. It
// reports whether a subscription was made.
func (r *Reaction) register(subscribe func() (*dispatch.Subscription, error)) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.removed {
		return false, nil
	}
	sub, err := subscribe()
	if err != nil {
		return false, err
	}
	r.sub = sub
	return true, nil
}
