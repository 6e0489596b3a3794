package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/oddcyb/microbots/internal/activity"
	"github.com/oddcyb/microbots/internal/config"
	"github.com/oddcyb/microbots/internal/dispatch"
	"github.com/oddcyb/microbots/internal/errors"
	"github.com/oddcyb/microbots/internal/logging"
	"github.com/oddcyb/microbots/internal/robots"
	"github.com/oddcyb/microbots/internal/tracing"
)

const tracingShutdownTimeout = 5 * time.Second

// runtime is the pool, registry and logger shared by one command run.
type runtime struct {
	cfg         *config.Config
	logger      *logging.Logger
	factory     *robots.Factory
	stopTracing func(context.Context) error
}

// newRuntime builds a runtime from the loaded configuration.
func newRuntime() (*runtime, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	logger, err := logging.NewLogger(cfg.Logging.File, cfg.Logging.Level, logging.RotationConfig{
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
		Compress:   cfg.Logging.Compress,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open log: %w", err)
	}

	stopTracing, err := tracing.Setup(context.Background(), cfg.Tracing)
	if err != nil {
		_ = logger.Close()
		return nil, fmt.Errorf("failed to set up tracing: %w", err)
	}

	pool := activity.New(
		activity.WithWorkers(cfg.Pool.Workers),
		activity.WithMaxWorkers(cfg.Pool.EffectiveMaxWorkers()),
		activity.WithIdleTimeout(cfg.Pool.IdleTimeout),
		activity.WithQueueSize(cfg.Pool.QueueSize),
		activity.WithNamePrefix(cfg.Pool.NamePrefix),
		activity.WithShutdownTimeout(cfg.Pool.ShutdownTimeout),
		activity.WithLogger(logger),
	)
	registry := dispatch.NewRegistry(dispatch.WithLogger(logger))

	factory := robots.New(pool, registry,
		robots.WithLogger(logger),
		robots.WithDispatcher(dispatch.Traced(dispatch.Logged(registry, logger), nil)),
	)

	return &runtime{cfg: cfg, logger: logger, factory: factory, stopTracing: stopTracing}, nil
}

// Close shuts the pool down, flushes traces and closes the log.
func (r *runtime) Close() error {
	poolErr := r.factory.Close()

	ctx, cancel := context.WithTimeout(context.Background(), tracingShutdownTimeout)
	defer cancel()
	traceErr := r.stopTracing(ctx)

	logErr := r.logger.Close()
	return errors.Join(poolErr, traceErr, logErr)
}

// signalContext returns a context canceled on SIGINT or SIGTERM.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	if parent == nil {
		parent = context.Background()
	}
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}
