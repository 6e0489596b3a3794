// Package clock emits ticks on a fixed interval.
package clock

import (
	"context"
	"sync"
	"time"

	"github.com/sourcegraph/conc"

	"github.com/oddcyb/microbots/internal/errors"
	"github.com/oddcyb/microbots/internal/logging"
)

// Tick is one clock tick.
type Tick struct {
	// Seq counts ticks from 1.
	Seq  int
	Time time.Time
}

// Option configures a Clock.
type Option func(*Clock)

// WithLimit stops the clock after n ticks. Zero means no limit.
func WithLimit(n int) Option {
	return func(c *Clock) { c.limit = n }
}

// WithLogger sets the clock logger.
func WithLogger(logger *logging.Logger) Option {
	return func(c *Clock) { c.logger = logger }
}

// Clock emits a Tick every interval from a background goroutine.
type Clock struct {
	interval time.Duration
	limit    int
	logger   *logging.Logger

	mu      sync.Mutex
	started bool
	stopCh  chan struct{}
	stopped bool
	done    chan struct{}
	wg      conc.WaitGroup
}

// New creates a Clock ticking every interval.
func New(interval time.Duration, opts ...Option) (*Clock, error) {
	if interval <= 0 {
		return nil, errors.NewValidationError("interval must be positive").
			WithField("interval").
			WithValue(interval)
	}

	c := &Clock{
		interval: interval,
		stopCh:   make(chan struct{}),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.limit < 0 {
		c.limit = 0
	}
	if c.logger == nil {
		c.logger = logging.NopLogger()
	}
	return c, nil
}

// Start begins ticking and returns immediately. Ticks are handed to emit one
// at a time; a slow emit delays the following ticks rather than queueing
// them. The clock stops when ctx is done, Stop is called, or the tick limit
// is reached. An error from emit is logged and does not stop the clock.
func (c *Clock) Start(ctx context.Context, emit func(Tick) error) error {
	if emit == nil {
		return errors.NewValidationError("emit must not be nil").WithField("emit")
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.started || c.stopped {
		return errors.NewValidationError("clock already started")
	}
	c.started = true

	c.wg.Go(func() {
		defer close(c.done)
		c.run(ctx, emit)
	})
	return nil
}

func (c *Clock) run(ctx context.Context, emit func(Tick) error) {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	c.logger.Debug("clock started", "interval", c.interval.String(), "limit", c.limit)
	for seq := 1; c.limit == 0 || seq <= c.limit; seq++ {
		select {
		case <-ctx.Done():
			c.logger.Debug("clock stopped", "reason", ctx.Err().Error(), "ticks", seq-1)
			return
		case <-c.stopCh:
			c.logger.Debug("clock stopped", "reason", "stop", "ticks", seq-1)
			return
		case now := <-ticker.C:
			if err := emit(Tick{Seq: seq, Time: now}); err != nil {
				c.logger.Warn("tick not delivered", "seq", seq, "error", err.Error())
			}
		}
	}
	c.logger.Debug("clock finished", "ticks", c.limit)
}

// Done returns a channel closed when the clock has stopped ticking.
func (c *Clock) Done() <-chan struct{} {
	return c.done
}

// Wait blocks until the clock has stopped ticking.
func (c *Clock) Wait() {
	c.wg.Wait()
}

// Stop stops the clock and waits for the tick in progress, if any.
// Stop is safe to call more than once and before Start.
func (c *Clock) Stop() {
	c.mu.Lock()
	if !c.stopped {
		c.stopped = true
		close(c.stopCh)
	}
	c.mu.Unlock()

	c.wg.Wait()
}
