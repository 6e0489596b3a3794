package activity

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sourcegraph/conc"
	"github.com/sourcegraph/conc/panics"

	"github.com/oddcyb/microbots/internal/errors"
	"github.com/oddcyb/microbots/internal/logging"
)

// Default pool values.
const (
	defaultWorkers         = 2
	defaultNamePrefix      = "robot"
	defaultIdleTimeout     = 30 * time.Second
	defaultShutdownTimeout = 10 * time.Second
)

// Option configures a Pool.
type Option func(*Pool)

// WithWorkers sets the number of workers started by New and kept alive until
// shutdown.
func WithWorkers(n int) Option {
	return func(p *Pool) { p.minWorkers = n }
}

// WithMaxWorkers lets the pool grow up to n workers while queued activities
// outnumber idle workers. Values below the core worker count keep the pool
// fixed.
func WithMaxWorkers(n int) Option {
	return func(p *Pool) { p.maxWorkers = n }
}

// WithIdleTimeout sets how long a worker above the core count waits for work
// before exiting.
func WithIdleTimeout(d time.Duration) Option {
	return func(p *Pool) { p.idleTimeout = d }
}

// WithQueueSize bounds the number of queued activities. Activate fails with
// ErrPoolFull when the bound is reached. Zero means unbounded.
func WithQueueSize(n int) Option {
	return func(p *Pool) { p.queueSize = n }
}

// WithNamePrefix sets the prefix of worker names ("<prefix>-<n>").
func WithNamePrefix(prefix string) Option {
	return func(p *Pool) { p.prefix = prefix }
}

// WithShutdownTimeout sets the timeout used by Close.
func WithShutdownTimeout(d time.Duration) Option {
	return func(p *Pool) { p.shutdownTimeout = d }
}

// WithLogger sets the pool logger.
func WithLogger(logger *logging.Logger) Option {
	return func(p *Pool) { p.logger = logger }
}

// WithFaultHandler replaces the default fault handler, which logs every
// fault through the pool logger.
func WithFaultHandler(h FaultHandler) Option {
	return func(p *Pool) { p.onFault = h }
}

// Stats is a point-in-time snapshot of pool counters.
type Stats struct {
	Submitted   int64
	Completed   int64
	Failed      int64
	Rejected    int64
	Canceled    int64
	Running     int64
	Queued      int
	Workers     int
	PeakWorkers int
}

// Pool runs tasks on a set of named worker goroutines and hands back an
// Activity for each one.
//
// Activities are queued in submission order. Workers never keep the process
// alive: a pool that is not shut down simply stops when main returns, and
// whatever it had queued is lost.
//
// Pool is safe for concurrent use.
type Pool struct {
	prefix          string
	minWorkers      int
	maxWorkers      int
	idleTimeout     time.Duration
	queueSize       int
	shutdownTimeout time.Duration
	logger          *logging.Logger
	onFault         FaultHandler

	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	cond   *sync.Cond
	queue  []*Activity
	closed bool
	live   int
	idle   int
	peak   int
	seq    int

	workers conc.WaitGroup

	shutdownOnce sync.Once
	shutdownErr  error

	submitted atomic.Int64
	completed atomic.Int64
	failed    atomic.Int64
	rejected  atomic.Int64
	canceled  atomic.Int64
	running   atomic.Int64
}

// New creates a Pool and starts its core workers.
func New(opts ...Option) *Pool {
	p := &Pool{
		prefix:          defaultNamePrefix,
		minWorkers:      defaultWorkers,
		idleTimeout:     defaultIdleTimeout,
		shutdownTimeout: defaultShutdownTimeout,
	}
	for _, opt := range opts {
		opt(p)
	}

	if p.minWorkers < 1 {
		p.minWorkers = 1
	}
	if p.maxWorkers < p.minWorkers {
		p.maxWorkers = p.minWorkers
	}
	if p.prefix == "" {
		p.prefix = defaultNamePrefix
	}
	if p.logger == nil {
		p.logger = logging.NopLogger()
	}
	if p.onFault == nil {
		p.onFault = LogFaults(p.logger)
	}

	p.cond = sync.NewCond(&p.mu)
	p.ctx, p.cancel = context.WithCancel(context.Background())

	p.mu.Lock()
	for i := 0; i < p.minWorkers; i++ {
		p.spawn(true)
	}
	p.mu.Unlock()

	p.logger.Debug("pool started",
		"prefix", p.prefix,
		"workers", p.minWorkers,
		"max_workers", p.maxWorkers,
		"queue_size", p.queueSize,
	)
	return p
}

// Activate queues task and returns its Activity. It never waits for a free
// worker. After shutdown it fails with an error matching ErrPoolClosed; with
// a bounded queue that is full it fails with ErrPoolFull.
func (p *Pool) Activate(task Task) (*Activity, error) {
	if task == nil {
		return nil, errors.NewValidationError("task must not be nil")
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		p.rejected.Add(1)
		return nil, errors.NewPoolError("activate rejected", errors.ErrPoolClosed).WithPool(p.prefix)
	}
	if p.queueSize > 0 && len(p.queue) >= p.queueSize {
		p.rejected.Add(1)
		return nil, errors.NewPoolError("activate rejected", errors.ErrPoolFull).
			WithPool(p.prefix).
			WithSeverity(errors.SeverityWarning)
	}

	a := newActivity(task, p.fault)
	p.queue = append(p.queue, a)
	p.submitted.Add(1)

	if len(p.queue) > p.idle && p.live < p.maxWorkers {
		p.spawn(false)
	}
	p.cond.Signal()

	return a, nil
}

// spawn starts a worker. The caller must hold p.mu.
func (p *Pool) spawn(core bool) {
	p.seq++
	name := fmt.Sprintf("%s-%d", p.prefix, p.seq)
	p.live++
	if p.live > p.peak {
		p.peak = p.live
	}
	p.workers.Go(func() { p.work(name, core) })
}

func (p *Pool) work(name string, core bool) {
	log := p.logger.WithWorker(name)
	log.Debug("worker started", "core", core)

	for {
		a := p.next(core)
		if a == nil {
			log.Debug("worker stopped")
			return
		}
		p.run(name, a, log)
	}
}

// next blocks until an activity is queued. It returns nil when the worker
// should exit: the pool is closed and drained, or a non-core worker stayed
// idle past the idle timeout.
func (p *Pool) next(core bool) *Activity {
	p.mu.Lock()
	defer p.mu.Unlock()

	var deadline time.Time
	var timer *time.Timer
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for len(p.queue) == 0 {
		if p.closed {
			p.live--
			return nil
		}
		if !core {
			if timer == nil {
				deadline = time.Now().Add(p.idleTimeout)
				timer = time.AfterFunc(p.idleTimeout, p.wake)
			} else if !time.Now().Before(deadline) {
				p.live--
				return nil
			}
		}
		p.idle++
		p.cond.Wait()
		p.idle--
	}

	a := p.queue[0]
	p.queue[0] = nil
	p.queue = p.queue[1:]
	// Running from here until run has recorded the terminal state.
	p.running.Add(1)
	return a
}

func (p *Pool) wake() {
	p.mu.Lock()
	p.cond.Broadcast()
	p.mu.Unlock()
}

func (p *Pool) run(worker string, a *Activity, log *logging.Logger) {
	defer p.running.Add(-1)
	if !a.start(worker) {
		return
	}

	var err error
	var pc panics.Catcher
	pc.Try(func() { err = a.task.Run(p.ctx) })

	if r := pc.Recovered(); r != nil {
		err = errors.NewPanicError(r.Value, r.Stack)
		p.fault(Fault{Worker: worker, Activity: a.id, Err: err, Stack: r.Stack})
	} else if err != nil {
		p.fault(Fault{Worker: worker, Activity: a.id, Err: err})
	}

	if err != nil {
		p.failed.Add(1)
	} else {
		p.completed.Add(1)
	}

	a.finish(err)
	log.Debug("activity finished",
		"activity_id", a.id,
		"state", a.State().String(),
		"duration_ms", a.Duration().Milliseconds(),
	)
}

// fault hands f to the fault handler. A panicking handler is logged and
// otherwise ignored so it cannot take the worker down.
func (p *Pool) fault(f Fault) {
	var pc panics.Catcher
	pc.Try(func() { p.onFault(f) })

	if r := pc.Recovered(); r != nil {
		p.logger.WithWorker(f.Worker).Error("fault handler panicked",
			"activity_id", f.Activity,
			"panic", fmt.Sprint(r.Value),
			"stack", string(r.Stack),
		)
	}
}

// Shutdown stops accepting activities and waits up to timeout for queued and
// running ones to finish. When the deadline passes, or timeout is not
// positive, the context handed to running tasks is canceled and every
// activity that has not started fails with ErrCanceled; Shutdown then returns
// an error matching ErrShutdownTimeout if anything was canceled or is still
// running. An activity whose fault handler has not returned counts as running.
//
// Shutdown is idempotent: later and concurrent calls wait for the first one
// and return its result.
func (p *Pool) Shutdown(timeout time.Duration) error {
	p.shutdownOnce.Do(func() {
		p.shutdownErr = p.shutdown(timeout)
	})
	return p.shutdownErr
}

// Close shuts the pool down with the configured shutdown timeout.
func (p *Pool) Close() error {
	return p.Shutdown(p.shutdownTimeout)
}

func (p *Pool) shutdown(timeout time.Duration) error {
	p.mu.Lock()
	p.closed = true
	queued := len(p.queue)
	p.cond.Broadcast()
	p.mu.Unlock()

	p.logger.Info("pool shutting down", "timeout", timeout.String(), "queued", queued)

	drained := make(chan struct{})
	go func() {
		p.workers.Wait()
		close(drained)
	}()

	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()

		select {
		case <-drained:
			p.cancel()
			p.logger.Info("pool stopped", "completed", p.completed.Load(), "failed", p.failed.Load())
			return nil
		case <-timer.C:
		}
	}

	p.cancel()

	p.mu.Lock()
	abandoned := p.queue
	p.queue = nil
	p.mu.Unlock()

	for _, a := range abandoned {
		cause := errors.NewPoolError("activity canceled before start", errors.ErrCanceled).
			WithPool(p.prefix).
			WithActivity(a.id).
			WithSeverity(errors.SeverityWarning)
		if a.finish(cause) {
			p.canceled.Add(1)
		}
	}

	stillRunning := p.running.Load()
	if stillRunning == 0 && len(abandoned) == 0 {
		p.logger.Info("pool stopped", "completed", p.completed.Load(), "failed", p.failed.Load())
		return nil
	}

	p.logger.Warn("pool shutdown deadline elapsed",
		"timeout", timeout.String(),
		"running", stillRunning,
		"canceled", len(abandoned),
	)
	return errors.NewPoolError(
		fmt.Sprintf("%d running and %d queued activities outlived %v", stillRunning, len(abandoned), timeout),
		errors.ErrShutdownTimeout,
	).WithPool(p.prefix)
}

// Stats returns a snapshot of the pool counters.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	queued, live, peak := len(p.queue), p.live, p.peak
	p.mu.Unlock()

	return Stats{
		Submitted:   p.submitted.Load(),
		Completed:   p.completed.Load(),
		Failed:      p.failed.Load(),
		Rejected:    p.rejected.Load(),
		Canceled:    p.canceled.Load(),
		Running:     p.running.Load(),
		Queued:      queued,
		Workers:     live,
		PeakWorkers: peak,
	}
}

// NamePrefix returns the prefix used for worker names.
func (p *Pool) NamePrefix() string {
	return p.prefix
}

// IsClosed reports whether Shutdown has been called.
func (p *Pool) IsClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}
