// Package activity runs tasks asynchronously on a pool of named workers.
//
// A [Task] is handed to a [Pool] with [Pool.Activate], which queues it and
// returns an [Activity] right away. The Activity is the only way to learn how
// the task went: it settles exactly once, as completed or failed, and the
// task's own error is what [Activity.Wait] returns.
//
// # Workers
//
// Workers are goroutines named "<prefix>-<n>" with n counting up from 1 and
// never reused, so a name in a log line always identifies one goroutine. The
// pool starts its core workers eagerly and, when configured with
// [WithMaxWorkers], adds workers while queued activities outnumber idle ones.
// Extra workers exit after [WithIdleTimeout] without work.
//
// # Faults
//
// Every task failure and every recovered panic is reported once to the
// pool's [FaultHandler] together with the worker name and, for panics, the
// stack. The default handler logs. A panic never takes a worker down.
//
// # Shutdown
//
// [Pool.Shutdown] stops intake, then waits for queued and running activities.
// When the deadline passes the context given to running tasks is canceled and
// activities that never started fail with [errors.ErrCanceled]. Individual
// activities cannot be canceled.
//
// # Basic Usage
//
//	pool := activity.New(activity.WithWorkers(4), activity.WithLogger(logger))
//	defer pool.Close()
//
//	a, err := pool.Activate(activity.TaskFunc(func(ctx context.Context) error {
//	    return doWork(ctx)
//	}))
//	if err != nil {
//	    return err // pool closed or queue full
//	}
//	if err := a.Wait(); err != nil {
//	    log.Printf("activity %s failed on %s: %v", a.ID(), a.Worker(), err)
//	}
package activity
