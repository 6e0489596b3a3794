package activity

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/oddcyb/microbots/internal/errors"
	"github.com/oddcyb/microbots/internal/testutil"
)

// faultRecorder collects faults reported by a pool.
type faultRecorder struct {
	mu     sync.Mutex
	faults []Fault
}

func (r *faultRecorder) handle(f Fault) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.faults = append(r.faults, f)
}

func (r *faultRecorder) all() []Fault {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Fault(nil), r.faults...)
}

func newTestPool(t *testing.T, opts ...Option) *Pool {
	t.Helper()
	p := New(opts...)
	t.Cleanup(func() { _ = p.Shutdown(time.Second) })
	return p
}

func activate(t *testing.T, p *Pool, fn TaskFunc) *Activity {
	t.Helper()
	a, err := p.Activate(fn)
	if err != nil {
		t.Fatalf("Activate() error = %v", err)
	}
	return a
}

func TestState_String(t *testing.T) {
	tests := []struct {
		state    State
		want     string
		terminal bool
	}{
		{StatePending, "pending", false},
		{StateRunning, "running", false},
		{StateCompleted, "completed", true},
		{StateFailed, "failed", true},
		{State(42), "unknown", false},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := tt.state.String(); got != tt.want {
				t.Errorf("String() = %q, want %q", got, tt.want)
			}
			if got := tt.state.IsTerminal(); got != tt.terminal {
				t.Errorf("IsTerminal() = %v, want %v", got, tt.terminal)
			}
		})
	}
}

// -----------------------------------------------------------------------------
// Activation
// -----------------------------------------------------------------------------

func TestPool_ActivateCompletes(t *testing.T) {
	p := newTestPool(t, WithNamePrefix("bot"))

	ran := false
	a := activate(t, p, func(ctx context.Context) error {
		ran = true
		return nil
	})

	if err := a.Wait(); err != nil {
		t.Fatalf("Wait() = %v, want nil", err)
	}
	if !ran {
		t.Error("task did not run")
	}
	if a.State() != StateCompleted {
		t.Errorf("State() = %v, want completed", a.State())
	}
	if !strings.HasPrefix(a.Worker(), "bot-") {
		t.Errorf("Worker() = %q, want bot-<n>", a.Worker())
	}
	if a.ID() == "" {
		t.Error("ID() should not be empty")
	}
	if !a.IsDone() {
		t.Error("IsDone() = false after Wait")
	}
}

func TestPool_ActivateNilTask(t *testing.T) {
	p := newTestPool(t)

	_, err := p.Activate(nil)
	if !errors.Is(err, errors.ErrInvalidInput) {
		t.Errorf("Activate(nil) error = %v, want ErrInvalidInput", err)
	}
}

func TestPool_TaskFailureSurfacesOnHandle(t *testing.T) {
	faults := &faultRecorder{}
	p := newTestPool(t, WithFaultHandler(faults.handle))

	boom := errors.New("boom")
	a := activate(t, p, func(ctx context.Context) error { return boom })

	if err := a.Wait(); err != boom {
		t.Fatalf("Wait() = %v, want %v", err, boom)
	}
	if a.State() != StateFailed {
		t.Errorf("State() = %v, want failed", a.State())
	}
	if a.Err() != boom {
		t.Errorf("Err() = %v, want %v", a.Err(), boom)
	}

	got := faults.all()
	if len(got) != 1 {
		t.Fatalf("fault handler called %d times, want 1", len(got))
	}
	if got[0].Err != boom {
		t.Errorf("fault Err = %v, want %v", got[0].Err, boom)
	}
	if got[0].Worker != a.Worker() || got[0].Activity != a.ID() {
		t.Errorf("fault = %+v, want worker %q activity %q", got[0], a.Worker(), a.ID())
	}
	if got[0].Panicked() || got[0].Stack != nil {
		t.Error("a returned error should not be reported as a panic")
	}
}

func TestPool_PanicIsCapturedAsFault(t *testing.T) {
	faults := &faultRecorder{}
	p := newTestPool(t, WithWorkers(1), WithFaultHandler(faults.handle))

	a := activate(t, p, func(ctx context.Context) error { panic("kaboom") })

	err := a.Wait()
	if !errors.IsPanic(err) {
		t.Fatalf("Wait() = %v, want a panic error", err)
	}
	if !strings.Contains(err.Error(), "kaboom") {
		t.Errorf("Wait() = %q, want it to mention the panic value", err)
	}

	got := faults.all()
	if len(got) != 1 || !got[0].Panicked() || len(got[0].Stack) == 0 {
		t.Fatalf("faults = %+v, want one panic fault with a stack", got)
	}

	// The same single worker keeps serving.
	next := activate(t, p, func(ctx context.Context) error { return nil })
	if err := next.Wait(); err != nil {
		t.Errorf("task after panic: Wait() = %v, want nil", err)
	}
	if next.Worker() != a.Worker() {
		t.Errorf("worker changed from %q to %q; a panic must not kill the worker", a.Worker(), next.Worker())
	}
}

func TestPool_FaultHandlerPanicIsContained(t *testing.T) {
	p := newTestPool(t, WithWorkers(1), WithFaultHandler(func(Fault) { panic("handler") }))

	a := activate(t, p, func(ctx context.Context) error { return errors.New("fail") })
	if err := a.Wait(); err == nil || err.Error() != "fail" {
		t.Fatalf("Wait() = %v, want fail", err)
	}

	b := activate(t, p, func(ctx context.Context) error { return nil })
	if err := b.Wait(); err != nil {
		t.Errorf("pool should keep working after a handler panic, got %v", err)
	}
}

func TestPool_WorkerNamesAreSequential(t *testing.T) {
	const workers = 3
	p := newTestPool(t, WithWorkers(workers), WithNamePrefix("robot"))

	var started sync.WaitGroup
	started.Add(workers)
	release := make(chan struct{})

	acts := make([]*Activity, workers)
	for i := range acts {
		acts[i] = activate(t, p, func(ctx context.Context) error {
			started.Done()
			<-release
			return nil
		})
	}
	started.Wait()
	close(release)

	names := map[string]bool{}
	for _, a := range acts {
		if err := a.Wait(); err != nil {
			t.Fatalf("Wait() = %v", err)
		}
		names[a.Worker()] = true
	}

	for i := 1; i <= workers; i++ {
		name := fmt.Sprintf("robot-%d", i)
		if !names[name] {
			t.Errorf("expected worker %s among %v", name, names)
		}
	}
}

func TestPool_ActivateDoesNotBlock(t *testing.T) {
	p := newTestPool(t, WithWorkers(1))

	release := make(chan struct{})
	defer close(release)

	start := time.Now()
	for i := 0; i < 100; i++ {
		activate(t, p, func(ctx context.Context) error {
			<-release
			return nil
		})
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("100 activations took %v with a busy worker", elapsed)
	}
	if q := p.Stats().Queued; q < 99 {
		t.Errorf("Stats().Queued = %d, want at least 99", q)
	}
}

func TestPool_BoundedQueue(t *testing.T) {
	p := newTestPool(t, WithWorkers(1), WithQueueSize(1))

	started := make(chan struct{})
	release := make(chan struct{})
	defer close(release)

	activate(t, p, func(ctx context.Context) error {
		close(started)
		<-release
		return nil
	})
	<-started

	activate(t, p, func(ctx context.Context) error { return nil })

	_, err := p.Activate(TaskFunc(func(ctx context.Context) error { return nil }))
	if !errors.Is(err, errors.ErrPoolFull) {
		t.Fatalf("Activate() on full queue = %v, want ErrPoolFull", err)
	}
	if !errors.IsRetryable(err) {
		t.Error("a full queue should be retryable")
	}
	if errors.GetSeverity(err) != errors.SeverityWarning {
		t.Errorf("GetSeverity() = %v, want warning", errors.GetSeverity(err))
	}
	if p.Stats().Rejected != 1 {
		t.Errorf("Stats().Rejected = %d, want 1", p.Stats().Rejected)
	}
}

func TestPool_GrowsUpToMaxWorkers(t *testing.T) {
	const max = 4
	p := newTestPool(t, WithWorkers(1), WithMaxWorkers(max))

	var started sync.WaitGroup
	started.Add(max)
	release := make(chan struct{})

	for i := 0; i < max; i++ {
		activate(t, p, func(ctx context.Context) error {
			started.Done()
			<-release
			return nil
		})
	}

	// Only completes if max workers run at once.
	started.Wait()
	close(release)

	if peak := p.Stats().PeakWorkers; peak != max {
		t.Errorf("PeakWorkers = %d, want %d", peak, max)
	}
}

func TestPool_ExtraWorkersExitWhenIdle(t *testing.T) {
	p := newTestPool(t, WithWorkers(1), WithMaxWorkers(3), WithIdleTimeout(10*time.Millisecond))

	var started sync.WaitGroup
	started.Add(3)
	release := make(chan struct{})
	for i := 0; i < 3; i++ {
		activate(t, p, func(ctx context.Context) error {
			started.Done()
			<-release
			return nil
		})
	}
	started.Wait()
	close(release)

	testutil.WaitFor(t, 2*time.Second, func() bool { return p.Stats().Workers == 1 })
}

// -----------------------------------------------------------------------------
// Shutdown
// -----------------------------------------------------------------------------

func TestPool_ShutdownDrainsEverything(t *testing.T) {
	p := New(WithWorkers(4))

	var ran atomic.Int64
	acts := make([]*Activity, 50)
	for i := range acts {
		acts[i] = activate(t, p, func(ctx context.Context) error {
			time.Sleep(time.Millisecond)
			ran.Add(1)
			return nil
		})
	}

	if err := p.Shutdown(5 * time.Second); err != nil {
		t.Fatalf("Shutdown() = %v, want nil", err)
	}

	for i, a := range acts {
		if !a.IsDone() {
			t.Errorf("activity %d not terminal after Shutdown", i)
		}
		if a.State() != StateCompleted {
			t.Errorf("activity %d state = %v, want completed", i, a.State())
		}
	}
	if ran.Load() != 50 {
		t.Errorf("ran %d tasks, want 50", ran.Load())
	}

	stats := p.Stats()
	if stats.Completed != 50 || stats.Submitted != 50 {
		t.Errorf("Stats() = %+v, want 50 submitted and completed", stats)
	}
	if stats.Workers != 0 {
		t.Errorf("Stats().Workers = %d after shutdown, want 0", stats.Workers)
	}

	_, err := p.Activate(TaskFunc(func(ctx context.Context) error { return nil }))
	if !errors.Is(err, errors.ErrPoolClosed) {
		t.Errorf("Activate() after Shutdown = %v, want ErrPoolClosed", err)
	}
	if !p.IsClosed() {
		t.Error("IsClosed() = false after Shutdown")
	}
}

func TestPool_ShutdownIsIdempotent(t *testing.T) {
	p := New(WithWorkers(2))
	activate(t, p, func(ctx context.Context) error { return nil })

	var wg sync.WaitGroup
	results := make([]error, 5)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = p.Shutdown(time.Second)
		}(i)
	}
	wg.Wait()

	for i, err := range results {
		if err != nil {
			t.Errorf("Shutdown() call %d = %v, want nil", i, err)
		}
	}
	if err := p.Close(); err != nil {
		t.Errorf("Close() after Shutdown = %v, want nil", err)
	}
}

func TestPool_ShutdownDeadlineCancels(t *testing.T) {
	p := New(WithWorkers(1))

	started := make(chan struct{})
	release := make(chan struct{})
	var sawCancel atomic.Bool

	running := activate(t, p, func(ctx context.Context) error {
		close(started)
		<-release
		sawCancel.Store(ctx.Err() != nil)
		return nil
	})
	<-started

	queued := []*Activity{
		activate(t, p, func(ctx context.Context) error { return nil }),
		activate(t, p, func(ctx context.Context) error { return nil }),
	}

	err := p.Shutdown(20 * time.Millisecond)
	if !errors.Is(err, errors.ErrShutdownTimeout) {
		t.Fatalf("Shutdown() = %v, want ErrShutdownTimeout", err)
	}

	for i, a := range queued {
		if a.State() != StateFailed {
			t.Errorf("queued activity %d state = %v, want failed", i, a.State())
		}
		if !errors.Is(a.Err(), errors.ErrCanceled) {
			t.Errorf("queued activity %d Err() = %v, want ErrCanceled", i, a.Err())
		}
		if errors.GetSeverity(a.Err()) != errors.SeverityWarning {
			t.Errorf("queued activity %d severity = %v, want warning", i, errors.GetSeverity(a.Err()))
		}
	}
	if p.Stats().Canceled != 2 {
		t.Errorf("Stats().Canceled = %d, want 2", p.Stats().Canceled)
	}

	close(release)
	if err := running.Wait(); err != nil {
		t.Errorf("running activity Wait() = %v, want nil", err)
	}
	if !sawCancel.Load() {
		t.Error("running task should observe a canceled context after the deadline")
	}
}

func TestPool_ShutdownCountsActivitiesInFaultHandler(t *testing.T) {
	p := New(
		WithWorkers(1),
		WithFaultHandler(func(Fault) { time.Sleep(50 * time.Millisecond) }),
	)

	a := activate(t, p, func(ctx context.Context) error {
		time.Sleep(5 * time.Millisecond)
		return fmt.Errorf("boom")
	})

	err := p.Shutdown(20 * time.Millisecond)
	if err == nil {
		if !a.IsDone() {
			t.Fatalf("Shutdown() = nil while activity is %v", a.State())
		}
	} else if !errors.Is(err, errors.ErrShutdownTimeout) {
		t.Fatalf("Shutdown() = %v, want nil or ErrShutdownTimeout", err)
	}

	if err := a.Wait(); err == nil || err.Error() != "boom" {
		t.Errorf("Wait() = %v, want boom", err)
	}
	if a.State() != StateFailed {
		t.Errorf("State() = %v, want failed", a.State())
	}
}

func TestPool_ShutdownZeroTimeoutOnIdlePool(t *testing.T) {
	p := New()
	if err := p.Shutdown(0); err != nil {
		t.Errorf("Shutdown(0) on an idle pool = %v, want nil", err)
	}
}
