package cmd

import (
	"context"
	"fmt"
	"sync"

	"github.com/oddcyb/microbots/internal/dispatch"
	"github.com/oddcyb/microbots/internal/robots"
	"github.com/oddcyb/microbots/internal/units/files"
	"github.com/spf13/cobra"
)

var findCmd = &cobra.Command{
	Use:   "find <root>...",
	Short: "List files under one or more roots",
	Long: `Walk every root in parallel and print each regular file found.
Directories that cannot be read are skipped with a warning in the log.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runFind,
}

var (
	findPattern string   // Base name glob
	findSkip    []string // Directory names to skip
)

func init() {
	findCmd.Flags().StringVarP(&findPattern, "pattern", "p", "", "only list files matching this glob; patterns with a slash match the path below the root")
	findCmd.Flags().StringSliceVar(&findSkip, "skip", []string{".git"}, "directory names to skip")
	findCmd.Flags().Int("parallelism", 0, "roots walked at once (default from files.parallelism)")
	bindFlag("files.parallelism", findCmd.Flags().Lookup("parallelism"))
	rootCmd.AddCommand(findCmd)
}

func runFind(cmd *cobra.Command, args []string) error {
	rt, err := newRuntime()
	if err != nil {
		return err
	}
	defer func() { _ = rt.Close() }()

	finder, err := files.NewFinder(args,
		files.WithParallelism(rt.cfg.Files.Parallelism),
		files.WithPattern(findPattern),
		files.WithSkipDirs(findSkip...),
		files.WithFinderLogger(rt.logger),
	)
	if err != nil {
		return err
	}

	ctx, stop := signalContext(cmd.Context())
	defer stop()

	out := cmd.OutOrStdout()
	found := dispatch.NewTopic[files.Entry]("file")

	// Roots are walked concurrently, so entries arrive from several workers.
	var mu sync.Mutex
	count := 0
	printer, err := robots.ReactFunc(rt.factory, found, func(_ context.Context, e files.Entry) error {
		mu.Lock()
		defer mu.Unlock()
		count++
		_, err := fmt.Fprintln(out, e.Path)
		return err
	})
	if err != nil {
		return err
	}
	if err := printer.Wait(); err != nil {
		return err
	}

	walker, err := robots.Stream(rt.factory, found, func(_ context.Context, emit func(files.Entry) error) error {
		return finder.Find(ctx, emit)
	})
	if err != nil {
		return err
	}
	if err := walker.Wait(); err != nil {
		return err
	}

	fmt.Fprintln(cmd.ErrOrStderr(), mutedStyle.Render(fmt.Sprintf("%d files", count)))
	return nil
}
