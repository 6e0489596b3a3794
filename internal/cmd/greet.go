package cmd

import (
	"context"
	"fmt"
	"math/rand/v2"

	"github.com/oddcyb/microbots/internal/dispatch"
	"github.com/oddcyb/microbots/internal/robots"
	"github.com/spf13/cobra"
)

var greetCmd = &cobra.Command{
	Use:   "greet <name>...",
	Short: "Greet each name from a reactor",
	Long: `Subscribe a greeter to the "greet" topic and send it one event per name.
Each greeting is printed by the reactor, in the order the names were given.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runGreet,
}

var greetings = []string{"Hello", "Hi", "Hey", "Howdy", "Hej"}

func init() {
	rootCmd.AddCommand(greetCmd)
}

func runGreet(cmd *cobra.Command, args []string) error {
	rt, err := newRuntime()
	if err != nil {
		return err
	}
	defer func() { _ = rt.Close() }()

	out := cmd.OutOrStdout()
	greet := dispatch.NewTopic[string]("greet")

	greeter, err := robots.ReactFunc(rt.factory, greet, func(_ context.Context, name string) error {
		greeting := greetings[rand.IntN(len(greetings))]
		_, err := fmt.Fprintln(out, successStyle.Render(greeting)+" "+valueStyle.Render(name))
		return err
	})
	if err != nil {
		return err
	}
	if err := greeter.Wait(); err != nil {
		return fmt.Errorf("failed to register greeter: %w", err)
	}

	for _, name := range args {
		if err := greet.Event(name).Send(cmd.Context(), rt.factory.Dispatcher()); err != nil {
			return err
		}
	}
	return nil
}
