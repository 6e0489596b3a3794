package dispatch

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/oddcyb/microbots/internal/errors"
	"github.com/oddcyb/microbots/internal/logging"
)

const tracerName = "github.com/oddcyb/microbots/internal/dispatch"

// Dispatcher delivers a sent event. Senders only ever see this interface so
// the delivery strategy can change without touching them. A *Registry is the
// direct strategy: it delivers synchronously on the sender's goroutine.
type Dispatcher interface {
	Dispatch(ctx context.Context, id string, payload any) error
}

// DispatcherFunc adapts a function to the Dispatcher interface.
type DispatcherFunc func(ctx context.Context, id string, payload any) error

// Dispatch calls f(ctx, id, payload).
func (f DispatcherFunc) Dispatch(ctx context.Context, id string, payload any) error {
	return f(ctx, id, payload)
}

var _ Dispatcher = (*Registry)(nil)

// Logged wraps next so every dispatch is logged at DEBUG with its duration,
// and failed dispatches at WARN. Delivery semantics are those of next.
func Logged(next Dispatcher, logger *logging.Logger) Dispatcher {
	return DispatcherFunc(func(ctx context.Context, id string, payload any) error {
		start := time.Now()
		err := next.Dispatch(ctx, id, payload)

		log := logger.WithTopic(id)
		if err != nil {
			log.LogError("dispatch failed", err, "duration_ms", time.Since(start).Milliseconds())
			return err
		}
		log.Debug("dispatched", "duration_ms", time.Since(start).Milliseconds())
		return nil
	})
}

// Traced wraps next so every dispatch is recorded as a span named
// "dispatch <id>". The span is the parent of any span started by the actions
// it delivers to, since they receive its context. A nil provider means the
// global one.
func Traced(next Dispatcher, tp trace.TracerProvider) Dispatcher {
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	tracer := tp.Tracer(tracerName)

	return DispatcherFunc(func(ctx context.Context, id string, payload any) error {
		ctx, span := tracer.Start(ctx, "dispatch "+id,
			trace.WithAttributes(
				attribute.String("microbots.topic", id),
				attribute.String("microbots.payload_type", fmt.Sprintf("%T", payload)),
			),
		)
		defer span.End()

		err := next.Dispatch(ctx, id, payload)
		if err != nil {
			var de *errors.DispatchError
			if errors.As(err, &de) {
				span.SetAttributes(attribute.Int("microbots.failed_actions", len(de.Failures)))
			}
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		return err
	})
}
