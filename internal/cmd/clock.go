package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/oddcyb/microbots/internal/dispatch"
	"github.com/oddcyb/microbots/internal/robots"
	"github.com/oddcyb/microbots/internal/units/clock"
	"github.com/spf13/cobra"
)

var clockCmd = &cobra.Command{
	Use:   "clock",
	Short: "Print clock ticks as they are dispatched",
	Long: `Start a clock watcher that sends a "tick" event every interval and a
reactor that prints each tick. Stops after --ticks ticks, or on Ctrl-C when
--ticks is 0.`,
	Args: cobra.NoArgs,
	RunE: runClock,
}

func init() {
	clockCmd.Flags().Duration("interval", 0, "time between ticks (default from clock.interval)")
	clockCmd.Flags().Int("ticks", 0, "number of ticks before stopping, 0 for no limit (default from clock.ticks)")
	bindFlag("clock.interval", clockCmd.Flags().Lookup("interval"))
	bindFlag("clock.ticks", clockCmd.Flags().Lookup("ticks"))
	rootCmd.AddCommand(clockCmd)
}

func runClock(cmd *cobra.Command, args []string) error {
	rt, err := newRuntime()
	if err != nil {
		return err
	}
	defer func() { _ = rt.Close() }()

	ctx, stop := signalContext(cmd.Context())
	defer stop()

	c, err := clock.New(rt.cfg.Clock.Interval,
		clock.WithLimit(rt.cfg.Clock.Ticks),
		clock.WithLogger(rt.logger),
	)
	if err != nil {
		return err
	}
	defer c.Stop()

	out := cmd.OutOrStdout()
	ticks := dispatch.NewTopic[clock.Tick]("tick")

	printer, err := robots.ReactFunc(rt.factory, ticks, func(_ context.Context, t clock.Tick) error {
		_, err := fmt.Fprintf(out, "%s %s\n",
			mutedStyle.Render(fmt.Sprintf("#%d", t.Seq)),
			valueStyle.Render(t.Time.Format(time.TimeOnly)))
		return err
	})
	if err != nil {
		return err
	}
	if err := printer.Wait(); err != nil {
		return err
	}

	watcher, err := robots.Stream(rt.factory, ticks, func(_ context.Context, emit func(clock.Tick) error) error {
		return c.Start(ctx, emit)
	})
	if err != nil {
		return err
	}
	if err := watcher.Wait(); err != nil {
		return err
	}

	select {
	case <-c.Done():
	case <-ctx.Done():
		fmt.Fprintln(out, warningStyle.Render("interrupted"))
	}
	return nil
}
