// Package command runs external programs as activities.
package command

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sort"
	"strings"
	"time"

	"github.com/oddcyb/microbots/internal/errors"
	"github.com/oddcyb/microbots/internal/logging"
)

// waitDelay bounds how long output is drained after the process is killed.
const waitDelay = time.Second

// Option configures a Command.
type Option func(*Command)

// WithEnv sets an environment variable for the command. Later values for
// the same name win, including over inherited ones.
func WithEnv(name, value string) Option {
	return func(c *Command) { c.env[name] = value }
}

// InheritEnv passes the current process environment to the command.
// Without it the command sees only the variables set with WithEnv.
func InheritEnv() Option {
	return func(c *Command) { c.inherit = true }
}

// WithDir sets the working directory of the command.
func WithDir(dir string) Option {
	return func(c *Command) { c.dir = dir }
}

// WithStdin feeds r to the command's standard input.
func WithStdin(r io.Reader) Option {
	return func(c *Command) { c.stdin = r }
}

// WithLogger sets the command logger.
func WithLogger(logger *logging.Logger) Option {
	return func(c *Command) { c.logger = logger }
}

// Result is the outcome of one run.
type Result struct {
	Args     []string
	ExitCode int
	Stdout   []byte
	Stderr   []byte
	Duration time.Duration
}

// ExitError reports a command that ran but exited with a non-zero status.
type ExitError struct {
	Args   []string
	Code   int
	Stderr string
	err    error
}

// Error returns the formatted error message.
func (e *ExitError) Error() string {
	msg := fmt.Sprintf("%s exited with code %d", e.Args[0], e.Code)
	if s := strings.TrimSpace(e.Stderr); s != "" {
		msg += ": " + s
	}
	return msg
}

// Unwrap returns the underlying *exec.ExitError.
func (e *ExitError) Unwrap() error {
	return e.err
}

// Command is a reusable description of an external program invocation.
// Every Run or Output starts a fresh process.
type Command struct {
	args    []string
	env     map[string]string
	inherit bool
	dir     string
	stdin   io.Reader
	logger  *logging.Logger
}

// New describes the program args[0] invoked with args[1:].
func New(args []string, opts ...Option) (*Command, error) {
	if len(args) == 0 || args[0] == "" {
		return nil, errors.NewValidationError("command must not be empty").WithField("args")
	}

	c := &Command{
		args: append([]string(nil), args...),
		env:  make(map[string]string),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = logging.NopLogger()
	}
	return c, nil
}

// Args returns the program and its arguments.
func (c *Command) Args() []string {
	return append([]string(nil), c.args...)
}

// String returns the command line, space separated.
func (c *Command) String() string {
	return strings.Join(c.args, " ")
}

// Environ returns the environment the command will run with, sorted.
func (c *Command) Environ() []string {
	merged := make(map[string]string)
	if c.inherit {
		for _, kv := range os.Environ() {
			if k, v, ok := strings.Cut(kv, "="); ok {
				merged[k] = v
			}
		}
	}
	for k, v := range c.env {
		merged[k] = v
	}

	env := make([]string, 0, len(merged))
	for k, v := range merged {
		env = append(env, k+"="+v)
	}
	sort.Strings(env)
	return env
}

// Run runs the command and discards its output. A non-zero exit status is
// returned as an *ExitError. Run makes a Command usable as a task.
func (c *Command) Run(ctx context.Context) error {
	_, err := c.Output(ctx)
	return err
}

// Output runs the command and returns what it wrote. The result is returned
// even when the command exits with a non-zero status, alongside the
// *ExitError. Canceling ctx kills the process.
func (c *Command) Output(ctx context.Context) (*Result, error) {
	cmd := exec.CommandContext(ctx, c.args[0], c.args[1:]...)
	cmd.Dir = c.dir
	cmd.Env = c.Environ()
	cmd.Stdin = c.stdin
	cmd.WaitDelay = waitDelay

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	log := c.logger.With("command", c.String())
	log.Debug("command starting", "dir", c.dir)

	start := time.Now()
	err := cmd.Run()

	res := &Result{
		Args:     c.Args(),
		ExitCode: -1,
		Stdout:   stdout.Bytes(),
		Stderr:   stderr.Bytes(),
		Duration: time.Since(start),
	}
	if cmd.ProcessState != nil {
		res.ExitCode = cmd.ProcessState.ExitCode()
	}

	if err != nil {
		var exitErr *exec.ExitError
		switch {
		case ctx.Err() != nil:
			err = fmt.Errorf("run %s: %w (%v)", c.args[0], ctx.Err(), err)
		case errors.As(err, &exitErr):
			err = &ExitError{Args: res.Args, Code: res.ExitCode, Stderr: stderr.String(), err: exitErr}
		default:
			err = fmt.Errorf("run %s: %w", c.args[0], err)
		}
		log.Warn("command failed", "exit_code", res.ExitCode, "error", err.Error())
		return res, err
	}

	log.Debug("command finished", "duration_ms", res.Duration.Milliseconds())
	return res, nil
}
