package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/oddcyb/microbots/internal/errors"
)

// Level names accepted by New and NewLogger, case-insensitively.
const (
	LevelDebug = "DEBUG"
	LevelInfo  = "INFO"
	LevelWarn  = "WARN"
	LevelError = "ERROR"
)

var slogLevels = map[string]slog.Level{
	LevelDebug: slog.LevelDebug,
	LevelInfo:  slog.LevelInfo,
	LevelWarn:  slog.LevelWarn,
	LevelError: slog.LevelError,
}

// Logger writes JSON log lines tagged with the worker, activity and topic
// they concern. Child loggers share the parent's writer.
type Logger struct {
	logger *slog.Logger
	out    io.Closer
	mu     *sync.Mutex // guards out across a logger and its children
	attrs  []slog.Attr
}

// NewLogger opens logFile as a rotating log at the given level. An empty
// logFile logs to stderr and ignores rotation.
func NewLogger(logFile, level string, rotation RotationConfig) (*Logger, error) {
	if logFile == "" {
		return New(os.Stderr, level), nil
	}

	rf, err := OpenRotatingFile(logFile, rotation)
	if err != nil {
		return nil, err
	}

	l := New(rf, level)
	l.out = rf
	return l, nil
}

// New returns a Logger writing to w. Unknown levels mean INFO.
func New(w io.Writer, level string) *Logger {
	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{Level: parseLevel(level)})
	return &Logger{logger: slog.New(handler), mu: &sync.Mutex{}}
}

func parseLevel(level string) slog.Level {
	if l, ok := slogLevels[strings.ToUpper(level)]; ok {
		return l
	}
	return slog.LevelInfo
}

// WithWorker tags entries with a pool worker name.
func (l *Logger) WithWorker(name string) *Logger {
	return l.child(slog.String("worker", name))
}

// WithActivity tags entries with an activity ID.
func (l *Logger) WithActivity(id string) *Logger {
	return l.child(slog.String("activity_id", id))
}

// WithTopic tags entries with an event topic.
func (l *Logger) WithTopic(topic string) *Logger {
	return l.child(slog.String("topic", topic))
}

// With tags entries with key/value pairs. Pairs whose key is not a string
// are skipped.
func (l *Logger) With(args ...any) *Logger {
	var attrs []slog.Attr
	for i := 0; i+1 < len(args); i += 2 {
		if key, ok := args[i].(string); ok {
			attrs = append(attrs, slog.Any(key, args[i+1]))
		}
	}
	if len(attrs) == 0 {
		return l
	}
	return l.child(attrs...)
}

func (l *Logger) child(extra ...slog.Attr) *Logger {
	attrs := make([]slog.Attr, 0, len(l.attrs)+len(extra))
	attrs = append(attrs, l.attrs...)
	attrs = append(attrs, extra...)
	return &Logger{logger: l.logger, out: l.out, mu: l.mu, attrs: attrs}
}

// Debug logs at DEBUG.
func (l *Logger) Debug(msg string, args ...any) { l.log(slog.LevelDebug, msg, args...) }

// Info logs at INFO.
func (l *Logger) Info(msg string, args ...any) { l.log(slog.LevelInfo, msg, args...) }

// Warn logs at WARN.
func (l *Logger) Warn(msg string, args ...any) { l.log(slog.LevelWarn, msg, args...) }

// Error logs at ERROR.
func (l *Logger) Error(msg string, args ...any) { l.log(slog.LevelError, msg, args...) }

// LogError logs err at the level matching its severity. Panics carry their
// stack into the entry.
func (l *Logger) LogError(msg string, err error, args ...any) {
	sev := errors.GetSeverity(err)

	all := make([]any, 0, len(args)+6)
	all = append(all, "error", err.Error(), "severity", sev.String())
	var panicErr *errors.PanicError
	if errors.As(err, &panicErr) && len(panicErr.Stack) > 0 {
		all = append(all, "stack", string(panicErr.Stack))
	}
	all = append(all, args...)
	l.log(severityLevel(sev), msg, all...)
}

func severityLevel(sev errors.Severity) slog.Level {
	switch sev {
	case errors.SeverityDebug:
		return slog.LevelDebug
	case errors.SeverityInfo:
		return slog.LevelInfo
	case errors.SeverityWarning:
		return slog.LevelWarn
	default:
		return slog.LevelError
	}
}

// Enabled reports whether entries at level are written.
func (l *Logger) Enabled(level string) bool {
	return l.logger.Enabled(context.Background(), parseLevel(level))
}

func (l *Logger) log(level slog.Level, msg string, args ...any) {
	if !l.logger.Enabled(context.Background(), level) {
		return
	}
	all := make([]any, 0, len(l.attrs)+len(args))
	for _, a := range l.attrs {
		all = append(all, a)
	}
	l.logger.Log(context.Background(), level, msg, append(all, args...)...)
}

// Close closes the file opened by NewLogger. It is a no-op for any other
// writer.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.out == nil {
		return nil
	}
	err := l.out.Close()
	l.out = nil
	return err
}

// NopLogger discards everything.
func NopLogger() *Logger {
	return New(io.Discard, LevelError)
}
