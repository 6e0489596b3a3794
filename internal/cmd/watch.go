package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/oddcyb/microbots/internal/dispatch"
	"github.com/oddcyb/microbots/internal/robots"
	"github.com/oddcyb/microbots/internal/units/files"
	"github.com/spf13/cobra"
)

var watchCmd = &cobra.Command{
	Use:   "watch <dir>...",
	Short: "Print filesystem changes under one or more directories",
	Long: `Watch directories recursively and print every change as it is dispatched.
Bursts of events for the same path are merged. Runs until Ctrl-C, or for
the duration given with --for.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runWatch,
}

var watchFor time.Duration // Stop after this long, 0 runs until interrupted

func init() {
	watchCmd.Flags().DurationVar(&watchFor, "for", 0, "stop watching after this long (0 runs until interrupted)")
	watchCmd.Flags().Duration("debounce", 0, "merge events for a path within this window (default from files.debounce)")
	bindFlag("files.debounce", watchCmd.Flags().Lookup("debounce"))
	rootCmd.AddCommand(watchCmd)
}

func runWatch(cmd *cobra.Command, args []string) error {
	rt, err := newRuntime()
	if err != nil {
		return err
	}
	defer func() { _ = rt.Close() }()

	ctx, stop := signalContext(cmd.Context())
	defer stop()
	if watchFor > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, watchFor)
		defer cancel()
	}

	watcher, err := files.NewWatcher(args,
		files.WithDebounce(rt.cfg.Files.Debounce),
		files.WithWatcherLogger(rt.logger),
	)
	if err != nil {
		return err
	}
	defer func() { _ = watcher.Stop() }()

	out := cmd.OutOrStdout()
	changes := dispatch.NewTopic[files.Change]("change")

	printer, err := robots.ReactFunc(rt.factory, changes, func(_ context.Context, c files.Change) error {
		_, err := fmt.Fprintf(out, "%s %s %s\n",
			mutedStyle.Render(c.Time.Format(time.TimeOnly)),
			warningStyle.Render(fmt.Sprintf("%-6s", c.Op.String())),
			c.Path)
		return err
	})
	if err != nil {
		return err
	}
	if err := printer.Wait(); err != nil {
		return err
	}

	setup, err := robots.Stream(rt.factory, changes, func(_ context.Context, emit func(files.Change) error) error {
		return watcher.Start(ctx, emit)
	})
	if err != nil {
		return err
	}
	if err := setup.Wait(); err != nil {
		return err
	}

	fmt.Fprintln(cmd.ErrOrStderr(), titleStyle.Render("watching"), mutedStyle.Render(fmt.Sprint(args)))
	<-ctx.Done()
	return nil
}
