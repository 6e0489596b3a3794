// Package logging provides structured logging for microbots.
//
// This package wraps Go's log/slog to provide JSON-formatted logs with
// context propagation. Pool workers, activities and dispatched topics each
// get their own child logger so a single log line says which worker ran
// what, and for which event.
//
// # Features
//
//   - JSON-formatted structured logging via slog
//   - Configurable log levels (DEBUG, INFO, WARN, ERROR)
//   - Context propagation (worker, activity ID, topic)
//   - Size-based log rotation with optional gzip compression
//
// # Thread Safety
//
// All types in this package are safe for concurrent use. Child loggers
// created via With* methods share the underlying writer.
//
// # Basic Usage
//
//	logger, err := logging.NewLogger("/var/log/microbots.log", "INFO", logging.DefaultRotationConfig())
//	if err != nil {
//	    return err
//	}
//	defer logger.Close()
//
//	workerLog := logger.WithWorker("robot-1").WithActivity(id)
//	workerLog.Info("activity completed", "duration_ms", 150)
//
// Output:
//
//	{"time":"...","level":"INFO","msg":"activity completed","worker":"robot-1","activity_id":"...","duration_ms":150}
package logging
