package cmd

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/oddcyb/microbots/internal/dispatch"
	"github.com/oddcyb/microbots/internal/errors"
	"github.com/oddcyb/microbots/internal/robots"
	"github.com/oddcyb/microbots/internal/units/command"
	"github.com/spf13/cobra"
)

var runCmd = &cobra.Command{
	Use:   "run [flags] -- <command> [args...]",
	Short: "Run an external command on the pool",
	Long: `Run an external command as an activity and print its output.

The command inherits the current environment unless --clean-env is set.
Extra variables are passed with --env NAME=VALUE. A non-zero exit status
is reported as an error.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runRun,
}

var (
	runEnv      []string // NAME=VALUE pairs
	runCleanEnv bool     // Do not inherit the environment
	runDir      string   // Working directory
)

func init() {
	runCmd.Flags().StringArrayVarP(&runEnv, "env", "e", nil, "set an environment variable (NAME=VALUE), repeatable")
	runCmd.Flags().BoolVar(&runCleanEnv, "clean-env", false, "do not inherit the current environment")
	runCmd.Flags().StringVarP(&runDir, "dir", "C", "", "working directory of the command")
	rootCmd.AddCommand(runCmd)
}

func runRun(cmd *cobra.Command, args []string) error {
	opts, err := commandOptions(runEnv, runCleanEnv, runDir)
	if err != nil {
		return err
	}

	rt, err := newRuntime()
	if err != nil {
		return err
	}
	defer func() { _ = rt.Close() }()

	c, err := command.New(args, append(opts, command.WithLogger(rt.logger))...)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	errOut := cmd.ErrOrStderr()
	results := dispatch.NewTopic[*command.Result]("command")

	printer, err := robots.ReactFunc(rt.factory, results, func(_ context.Context, res *command.Result) error {
		_, _ = out.Write(res.Stdout)
		_, _ = errOut.Write(res.Stderr)
		fmt.Fprintln(errOut, mutedStyle.Render(fmt.Sprintf("%s finished in %s", res.Args[0], res.Duration.Round(time.Millisecond))))
		return nil
	})
	if err != nil {
		return err
	}
	if err := printer.Wait(); err != nil {
		return err
	}

	ctx, stop := signalContext(cmd.Context())
	defer stop()

	// A non-zero exit still publishes the output; the exit error is
	// returned once the printer has run.
	var exitErr *command.ExitError
	watcher, err := robots.Watch(rt.factory, results, func(context.Context) (*command.Result, error) {
		res, err := c.Output(ctx)
		if errors.As(err, &exitErr) {
			return res, nil
		}
		return res, err
	})
	if err != nil {
		return err
	}

	if err := watcher.Wait(); err != nil {
		return err
	}
	if exitErr != nil {
		fmt.Fprintln(errOut, errorStyle.Render(exitErr.Error()))
		return exitErr
	}
	return nil
}

// commandOptions turns the run flags into command options.
func commandOptions(env []string, clean bool, dir string) ([]command.Option, error) {
	var opts []command.Option
	if !clean {
		opts = append(opts, command.InheritEnv())
	}
	for _, kv := range env {
		name, value, ok := strings.Cut(kv, "=")
		if !ok || name == "" {
			return nil, fmt.Errorf("invalid --env %q: expected NAME=VALUE", kv)
		}
		opts = append(opts, command.WithEnv(name, value))
	}
	if dir != "" {
		opts = append(opts, command.WithDir(dir))
	}
	return opts, nil
}
