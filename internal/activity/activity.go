package activity

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sourcegraph/conc/panics"

	"github.com/oddcyb/microbots/internal/errors"
)

// State is the lifecycle state of an Activity.
type State int

const (
	// StatePending means the activity is queued and no worker has picked it up.
	StatePending State = iota
	// StateRunning means a worker is executing the task.
	StateRunning
	// StateCompleted means the task returned nil.
	StateCompleted
	// StateFailed means the task returned an error, panicked, or was
	// canceled before it started.
	StateFailed
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateRunning:
		return "running"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// IsTerminal reports whether no further transition can happen.
func (s State) IsTerminal() bool {
	return s == StateCompleted || s == StateFailed
}

// Activity is the observable outcome of one task handed to a Pool.
// It moves from pending to running to exactly one terminal state, and may be
// observed by any number of goroutines. It is safe for concurrent use.
type Activity struct {
	id        string
	task      Task
	report    FaultHandler
	submitted time.Time

	mu        sync.Mutex
	state     State
	worker    string
	err       error
	started   time.Time
	finished  time.Time
	callbacks []func(error)
	done      chan struct{}
}

func newActivity(task Task, report FaultHandler) *Activity {
	return &Activity{
		id:        uuid.NewString(),
		task:      task,
		report:    report,
		submitted: time.Now(),
		state:     StatePending,
		done:      make(chan struct{}),
	}
}

// ID returns the unique activity ID.
func (a *Activity) ID() string {
	return a.id
}

// State returns the current lifecycle state.
func (a *Activity) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// Worker returns the name of the worker that ran the task, or "" if no
// worker has picked it up.
func (a *Activity) Worker() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.worker
}

// Err returns the failure of a terminal activity. It is nil while the
// activity is in flight and after a successful completion. For a task that
// returned an error, Err returns that exact error.
func (a *Activity) Err() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.err
}

// Done returns a channel that is closed once the activity is terminal.
func (a *Activity) Done() <-chan struct{} {
	return a.done
}

// IsDone reports whether the activity is terminal without blocking.
func (a *Activity) IsDone() bool {
	select {
	case <-a.done:
		return true
	default:
		return false
	}
}

// Wait blocks until the activity is terminal and returns its failure, if any.
func (a *Activity) Wait() error {
	<-a.done
	return a.Err()
}

// Await is Wait bounded by ctx. If ctx ends first it returns ctx.Err() and
// the activity keeps running.
func (a *Activity) Await(ctx context.Context) error {
	select {
	case <-a.done:
		return a.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Duration returns how long the task ran, or has been running so far.
// It is zero for an activity that never started.
func (a *Activity) Duration() time.Duration {
	a.mu.Lock()
	defer a.mu.Unlock()

	switch {
	case a.started.IsZero():
		return 0
	case a.finished.IsZero():
		return time.Since(a.started)
	default:
		return a.finished.Sub(a.started)
	}
}

// OnComplete registers fn to be called once with the activity's failure (nil
// on success) after it becomes terminal. Registered before termination, fn
// runs on the worker that finishes the activity, after the terminal state is
// visible. Registered after termination, fn runs immediately on the caller.
// A panic in fn is recovered and reported as a fault.
func (a *Activity) OnComplete(fn func(error)) {
	if fn == nil {
		return
	}

	a.mu.Lock()
	if !a.state.IsTerminal() {
		a.callbacks = append(a.callbacks, fn)
		a.mu.Unlock()
		return
	}
	err := a.err
	a.mu.Unlock()

	a.invoke(fn, err)
}

// start moves a pending activity to running. It returns false if the
// activity was already settled, e.g. canceled during shutdown.
func (a *Activity) start(worker string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.state != StatePending {
		return false
	}
	a.state = StateRunning
	a.worker = worker
	a.started = time.Now()
	return true
}

// finish records the terminal state exactly once and then runs the
// registered callbacks. It returns false if the activity was already terminal.
func (a *Activity) finish(err error) bool {
	a.mu.Lock()
	if a.state.IsTerminal() {
		a.mu.Unlock()
		return false
	}

	if err != nil {
		a.state = StateFailed
	} else {
		a.state = StateCompleted
	}
	a.err = err
	a.finished = time.Now()
	callbacks := a.callbacks
	a.callbacks = nil
	close(a.done)
	a.mu.Unlock()

	for _, fn := range callbacks {
		a.invoke(fn, err)
	}
	return true
}

func (a *Activity) invoke(fn func(error), err error) {
	var pc panics.Catcher
	pc.Try(func() { fn(err) })

	r := pc.Recovered()
	if r == nil || a.report == nil {
		return
	}
	a.report(Fault{
		Worker:   a.Worker(),
		Activity: a.id,
		Err:      errors.NewPanicError(r.Value, r.Stack),
		Stack:    r.Stack,
	})
}
