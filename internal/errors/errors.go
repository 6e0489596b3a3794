// Package errors provides centralized error definitions and error handling utilities
// for microbots. It defines the sentinel errors of the activity pool and the
// dispatch registry, typed errors that carry worker, activity and topic context,
// and classification helpers.
//
// # Error Types
//
// Domain-specific errors represent errors from specific subsystems:
//   - PoolError: errors raised by the activity pool (intake, shutdown)
//   - ActionError: one subscriber failing during a dispatch
//   - DispatchError: every subscriber failure of one dispatch cycle
//   - PanicError: a recovered panic with its stack trace
//
// Semantic errors represent common error conditions:
//   - ValidationError: invalid input or state
//   - TimeoutError: operation timed out
//
// # Usage
//
// Creating errors:
//
//	err := errors.NewPoolError("activate rejected", errors.ErrPoolClosed).WithPool("robot")
//	err := errors.NewTimeoutError("pool shutdown", 5*time.Second)
//
// Checking errors:
//
//	if errors.Is(err, errors.ErrPoolClosed) { ... }
//
//	var dispatchErr *errors.DispatchError
//	if errors.As(err, &dispatchErr) { ... }
//
//	if errors.IsRetryable(err) { ... }
//
// # Error Classification
//
// Errors can be classified by severity and behavior:
//   - Retryable: transient errors that may succeed on retry
//   - UserFacing: errors safe to display to users (vs internal errors)
//   - Severity: Debug, Info, Warning, Error, Critical
package errors

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Re-export standard library functions for convenience.
// This allows callers to import only this package for all error handling.
var (
	Is     = errors.Is
	As     = errors.As
	Unwrap = errors.Unwrap
	New    = errors.New
	Join   = errors.Join
)

// Severity represents the severity level of an error.
type Severity int

const (
	// SeverityDebug is for errors that are useful for debugging but not critical.
	SeverityDebug Severity = iota
	// SeverityInfo is for informational errors that don't indicate a problem.
	SeverityInfo
	// SeverityWarning is for errors that might indicate a problem but aren't critical.
	SeverityWarning
	// SeverityError is for errors that indicate a real problem.
	SeverityError
	// SeverityCritical is for errors that require immediate attention.
	SeverityCritical
)

// String returns the string representation of the severity level.
func (s Severity) String() string {
	switch s {
	case SeverityDebug:
		return "debug"
	case SeverityInfo:
		return "info"
	case SeverityWarning:
		return "warning"
	case SeverityError:
		return "error"
	case SeverityCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// -----------------------------------------------------------------------------
// Sentinel Errors
// -----------------------------------------------------------------------------

// Pool-related sentinel errors
var (
	// ErrPoolClosed indicates that the pool no longer accepts activities.
	ErrPoolClosed = New("pool closed")
	// ErrPoolFull indicates that a bounded pool queue has no free slot.
	ErrPoolFull = New("pool queue full")
	// ErrShutdownTimeout indicates that in-flight activities outlived the shutdown deadline.
	ErrShutdownTimeout = New("pool shutdown timed out")
)

// Dispatch-related sentinel errors
var (
	// ErrPayloadType indicates that a payload does not match the type bound to its topic.
	ErrPayloadType = New("payload type mismatch")
	// ErrActionFailed indicates that a subscribed action failed to perform.
	ErrActionFailed = New("action failed")
)

// General sentinel errors
var (
	// ErrTimeout indicates that an operation timed out.
	ErrTimeout = New("operation timed out")
	// ErrCanceled indicates that an operation was canceled.
	ErrCanceled = New("operation canceled")
	// ErrInvalidInput indicates that input validation failed.
	ErrInvalidInput = New("invalid input")
	// ErrPanic indicates that a panic was recovered.
	ErrPanic = New("panic recovered")
)

// -----------------------------------------------------------------------------
// Base Error Interface
// -----------------------------------------------------------------------------

// MicrobotsError is the base interface for all microbots errors.
// It extends the standard error interface with additional methods for
// error handling and classification.
type MicrobotsError interface {
	error

	// Unwrap returns the underlying error, if any.
	Unwrap() error

	// Is reports whether this error matches the target error.
	Is(target error) bool

	// Severity returns the severity level of this error.
	Severity() Severity

	// IsRetryable returns true if the error is transient and the operation
	// may succeed on retry.
	IsRetryable() bool

	// IsUserFacing returns true if the error message is safe to display
	// to end users.
	IsUserFacing() bool
}

// -----------------------------------------------------------------------------
// Base Error Implementation
// -----------------------------------------------------------------------------

// baseError provides common functionality for all error types.
type baseError struct {
	message    string
	cause      error
	severity   Severity
	retryable  bool
	userFacing bool
}

// Error returns the error message.
func (e *baseError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.message, e.cause)
	}
	return e.message
}

// Unwrap returns the underlying error.
func (e *baseError) Unwrap() error {
	return e.cause
}

// Is checks if this error matches the target.
func (e *baseError) Is(target error) bool {
	if e.cause != nil {
		return errors.Is(e.cause, target)
	}
	return false
}

// Severity returns the error severity.
func (e *baseError) Severity() Severity {
	return e.severity
}

// IsRetryable returns whether the error is retryable.
func (e *baseError) IsRetryable() bool {
	return e.retryable
}

// IsUserFacing returns whether the error is safe to show users.
func (e *baseError) IsUserFacing() bool {
	return e.userFacing
}

// -----------------------------------------------------------------------------
// Domain-Specific Errors
// -----------------------------------------------------------------------------

// PoolError represents errors raised by the activity pool itself, as opposed
// to failures of the tasks it runs.
//
// Example:
//
//	err := errors.NewPoolError("activate rejected", errors.ErrPoolClosed).WithPool("robot")
//	fmt.Println(err) // "pool error [pool=robot]: activate rejected: pool closed"
type PoolError struct {
	baseError
	Pool     string
	Worker   string
	Activity string
}

// NewPoolError creates a new PoolError.
func NewPoolError(message string, cause error) *PoolError {
	return &PoolError{
		baseError: baseError{
			message:    message,
			cause:      cause,
			severity:   SeverityError,
			retryable:  errors.Is(cause, ErrPoolFull),
			userFacing: true,
		},
	}
}

// WithPool adds the pool name (its worker name prefix) to the error context.
func (e *PoolError) WithPool(name string) *PoolError {
	e.Pool = name
	return e
}

// WithWorker adds a worker name to the error context.
func (e *PoolError) WithWorker(name string) *PoolError {
	e.Worker = name
	return e
}

// WithActivity adds an activity ID to the error context.
func (e *PoolError) WithActivity(id string) *PoolError {
	e.Activity = id
	return e
}

// WithSeverity sets the error severity.
func (e *PoolError) WithSeverity(s Severity) *PoolError {
	e.severity = s
	return e
}

// Error returns the formatted error message.
func (e *PoolError) Error() string {
	var parts []string
	if e.Pool != "" {
		parts = append(parts, fmt.Sprintf("pool=%s", e.Pool))
	}
	if e.Worker != "" {
		parts = append(parts, fmt.Sprintf("worker=%s", e.Worker))
	}
	if e.Activity != "" {
		parts = append(parts, fmt.Sprintf("activity=%s", e.Activity))
	}

	prefix := "pool error"
	if len(parts) > 0 {
		prefix = fmt.Sprintf("pool error [%s]", strings.Join(parts, ", "))
	}

	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", prefix, e.message, e.cause)
	}
	return fmt.Sprintf("%s: %s", prefix, e.message)
}

// Is checks if this error matches the target.
func (e *PoolError) Is(target error) bool {
	if _, ok := target.(*PoolError); ok {
		return true
	}
	return e.baseError.Is(target)
}

// PanicError carries a value recovered from a panic together with the stack
// of the goroutine that panicked.
type PanicError struct {
	Value any
	Stack []byte
}

// NewPanicError creates a new PanicError.
func NewPanicError(value any, stack []byte) *PanicError {
	return &PanicError{Value: value, Stack: stack}
}

// Error returns the formatted error message.
func (e *PanicError) Error() string {
	return fmt.Sprintf("panic: %v", e.Value)
}

// Unwrap exposes the panic value when it was itself an error.
func (e *PanicError) Unwrap() error {
	if err, ok := e.Value.(error); ok {
		return err
	}
	return nil
}

// Is matches ErrPanic and any other *PanicError.
func (e *PanicError) Is(target error) bool {
	if target == ErrPanic {
		return true
	}
	_, ok := target.(*PanicError)
	return ok
}

// Severity returns SeverityCritical; a panic is never an expected outcome.
func (e *PanicError) Severity() Severity { return SeverityCritical }

// IsRetryable returns false.
func (e *PanicError) IsRetryable() bool { return false }

// IsUserFacing returns false.
func (e *PanicError) IsUserFacing() bool { return false }

// ActionError represents one subscribed action failing while a topic was
// being dispatched.
//
// Example:
//
//	err := errors.NewActionError("greet", 1, cause)
//	fmt.Println(err) // "action error [topic=greet, index=1]: perform failed: <cause>"
type ActionError struct {
	baseError
	Topic string
	Index int
}

// NewActionError creates a new ActionError. Index is the position of the
// action in the subscription order of the topic at dispatch time.
//
// A returned error is a warning, since the remaining actions still run; a
// recovered panic is critical.
func NewActionError(topic string, index int, cause error) *ActionError {
	severity := SeverityWarning
	if IsPanic(cause) {
		severity = SeverityCritical
	}
	return &ActionError{
		baseError: baseError{
			message:    "perform failed",
			cause:      cause,
			severity:   severity,
			retryable:  false,
			userFacing: false,
		},
		Topic: topic,
		Index: index,
	}
}

// Error returns the formatted error message.
func (e *ActionError) Error() string {
	prefix := fmt.Sprintf("action error [topic=%s, index=%d]", e.Topic, e.Index)
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", prefix, e.message, e.cause)
	}
	return fmt.Sprintf("%s: %s", prefix, e.message)
}

// Is checks if this error matches the target.
func (e *ActionError) Is(target error) bool {
	if target == ErrActionFailed {
		return true
	}
	if _, ok := target.(*ActionError); ok {
		return true
	}
	return e.baseError.Is(target)
}

// DispatchError aggregates every action failure of a single dispatch cycle.
// Delivery is not interrupted by a failing action, so a DispatchError is only
// returned once every subscribed action has had its turn.
type DispatchError struct {
	Topic    string
	Failures []*ActionError
}

// NewDispatchError creates a new DispatchError. It returns nil when there
// are no failures so callers can return the result directly.
func NewDispatchError(topic string, failures []*ActionError) error {
	if len(failures) == 0 {
		return nil
	}
	return &DispatchError{Topic: topic, Failures: failures}
}

// Error returns the formatted error message.
func (e *DispatchError) Error() string {
	if len(e.Failures) == 1 {
		return fmt.Sprintf("dispatch %s: %v", e.Topic, e.Failures[0])
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "dispatch %s: %d actions failed", e.Topic, len(e.Failures))
	for _, f := range e.Failures {
		sb.WriteString("; ")
		sb.WriteString(f.Error())
	}
	return sb.String()
}

// Unwrap returns every action failure so errors.Is and errors.As see each cause.
func (e *DispatchError) Unwrap() []error {
	errs := make([]error, len(e.Failures))
	for i, f := range e.Failures {
		errs[i] = f
	}
	return errs
}

// Severity returns the highest severity among the failures.
func (e *DispatchError) Severity() Severity {
	highest := SeverityDebug
	for _, f := range e.Failures {
		if s := f.Severity(); s > highest {
			highest = s
		}
	}
	return highest
}

// IsRetryable returns false.
func (e *DispatchError) IsRetryable() bool { return false }

// IsUserFacing returns false.
func (e *DispatchError) IsUserFacing() bool { return false }

// -----------------------------------------------------------------------------
// Semantic Errors
// -----------------------------------------------------------------------------

// ValidationError represents invalid input or state.
//
// Example:
//
//	err := errors.NewValidationError("worker count must be positive")
//	err = err.WithField("pool.workers").WithValue(0)
type ValidationError struct {
	baseError
	Field string
	Value any
}

// NewValidationError creates a new ValidationError.
func NewValidationError(message string) *ValidationError {
	return &ValidationError{
		baseError: baseError{
			message:    message,
			severity:   SeverityWarning,
			retryable:  false,
			userFacing: true,
		},
	}
}

// WithField sets the field that failed validation.
func (e *ValidationError) WithField(field string) *ValidationError {
	e.Field = field
	return e
}

// WithValue sets the invalid value.
func (e *ValidationError) WithValue(value any) *ValidationError {
	e.Value = value
	return e
}

// WithCause adds a cause to the error.
func (e *ValidationError) WithCause(cause error) *ValidationError {
	e.cause = cause
	return e
}

// Error returns the formatted error message.
func (e *ValidationError) Error() string {
	msg := e.message
	if e.Field != "" {
		msg = fmt.Sprintf("%s: %s", e.Field, e.message)
	}
	if e.Value != nil {
		msg = fmt.Sprintf("%s (got: %v)", msg, e.Value)
	}
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", msg, e.cause)
	}
	return msg
}

// Is checks if this error matches the target.
func (e *ValidationError) Is(target error) bool {
	if target == ErrInvalidInput {
		return true
	}
	if _, ok := target.(*ValidationError); ok {
		return true
	}
	return e.baseError.Is(target)
}

// TimeoutError represents an operation that did not finish in time.
//
// Example:
//
//	err := errors.NewTimeoutError("pool shutdown", 5*time.Second)
//	fmt.Println(err) // "pool shutdown timed out after 5s"
type TimeoutError struct {
	baseError
	Operation string
	Duration  time.Duration
}

// NewTimeoutError creates a new TimeoutError.
func NewTimeoutError(operation string, duration time.Duration) *TimeoutError {
	return &TimeoutError{
		baseError: baseError{
			message:    fmt.Sprintf("%s timed out after %v", operation, duration),
			severity:   SeverityWarning,
			retryable:  true,
			userFacing: true,
		},
		Operation: operation,
		Duration:  duration,
	}
}

// WithCause adds a cause to the error.
func (e *TimeoutError) WithCause(cause error) *TimeoutError {
	e.cause = cause
	return e
}

// Error returns the formatted error message.
func (e *TimeoutError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s timed out after %v: %v", e.Operation, e.Duration, e.cause)
	}
	return fmt.Sprintf("%s timed out after %v", e.Operation, e.Duration)
}

// Is checks if this error matches the target.
func (e *TimeoutError) Is(target error) bool {
	if target == ErrTimeout {
		return true
	}
	if _, ok := target.(*TimeoutError); ok {
		return true
	}
	return e.baseError.Is(target)
}

// -----------------------------------------------------------------------------
// Error Classification Helpers
// -----------------------------------------------------------------------------

// IsRetryable returns true if the error is transient and the operation may
// succeed on retry. This checks for:
//   - Errors implementing MicrobotsError with IsRetryable() returning true
//   - ErrPoolFull (a queue slot may free up)
//   - Timeouts
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	var mbErr MicrobotsError
	if As(err, &mbErr) && mbErr.IsRetryable() {
		return true
	}

	return Is(err, ErrPoolFull) || Is(err, ErrTimeout)
}

// IsUserFacing returns true if the error message is safe to display to end users.
func IsUserFacing(err error) bool {
	if err == nil {
		return false
	}

	var mbErr MicrobotsError
	if As(err, &mbErr) {
		return mbErr.IsUserFacing()
	}

	var validation *ValidationError
	var timeout *TimeoutError
	return As(err, &validation) || As(err, &timeout)
}

// GetSeverity returns the severity level of the error.
// Returns SeverityError for errors that don't carry a severity.
//
// Example:
//
//	switch errors.GetSeverity(err) {
//	case errors.SeverityCritical:
//	    log.Error("fault", "err", err)
//	case errors.SeverityWarning:
//	    log.Warn("warning", "err", err)
//	}
func GetSeverity(err error) Severity {
	if err == nil {
		return SeverityDebug
	}

	var sev interface{ Severity() Severity }
	if As(err, &sev) {
		return sev.Severity()
	}

	return SeverityError
}

// IsPanic returns true if the error is or wraps a recovered panic.
func IsPanic(err error) bool {
	var panicErr *PanicError
	return As(err, &panicErr)
}

// -----------------------------------------------------------------------------
// Convenience Constructors
// -----------------------------------------------------------------------------

// Wrap wraps an error with additional context message.
//
// Example:
//
//	err := errors.Wrap(baseErr, "failed to run command")
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Wrapf wraps an error with a formatted context message.
//
// Example:
//
//	err := errors.Wrapf(baseErr, "failed to walk %s", root)
func Wrapf(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}
