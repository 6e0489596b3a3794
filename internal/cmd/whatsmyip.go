package cmd

import (
	"context"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/oddcyb/microbots/internal/dispatch"
	"github.com/oddcyb/microbots/internal/robots"
	"github.com/oddcyb/microbots/internal/units/ipdetect"
	"github.com/spf13/cobra"
)

var whatsMyIPCmd = &cobra.Command{
	Use:   "whatsmyip",
	Short: "Print the public IP address of this host",
	Long: `Ask a check-ip web service for the public address of this host.

The service URL and the pattern used to extract the address come from the
ipdetect section of the configuration.`,
	Args: cobra.NoArgs,
	RunE: runWhatsMyIP,
}

var whatsMyIPLookup bool // Reverse-resolve the address

func init() {
	whatsMyIPCmd.Flags().BoolVar(&whatsMyIPLookup, "lookup", true, "look up the host name of the address")
	whatsMyIPCmd.Flags().String("url", "", "check-ip service URL (default from ipdetect.url)")
	bindFlag("ipdetect.url", whatsMyIPCmd.Flags().Lookup("url"))
	rootCmd.AddCommand(whatsMyIPCmd)
}

func runWhatsMyIP(cmd *cobra.Command, args []string) error {
	rt, err := newRuntime()
	if err != nil {
		return err
	}
	defer func() { _ = rt.Close() }()

	detector, err := ipdetect.FromConfig(rt.cfg.IPDetect, ipdetect.WithLogger(rt.logger))
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	addresses := dispatch.NewTopic[ipdetect.Address]("ip")

	printer, err := robots.ReactFunc(rt.factory, addresses, func(ctx context.Context, addr ipdetect.Address) error {
		name := ""
		if whatsMyIPLookup {
			name = lookupName(ctx, addr)
		}

		fmt.Fprintln(out, titleStyle.Render("Your IP address is:"))
		if name != "" {
			fmt.Fprintf(out, "%s %s\n", valueStyle.Render(addr.String()), mutedStyle.Render("["+name+"]"))
		} else {
			fmt.Fprintln(out, valueStyle.Render(addr.String()))
		}
		return nil
	})
	if err != nil {
		return err
	}
	if err := printer.Wait(); err != nil {
		return err
	}

	detect, err := robots.Watch(rt.factory, addresses, detector.Detect)
	if err != nil {
		return err
	}
	if err := detect.Await(cmd.Context()); err != nil {
		return fmt.Errorf("failed to detect address: %w", err)
	}
	return nil
}

// lookupName returns the first reverse DNS name of addr, or "" if there is none.
func lookupName(ctx context.Context, addr ipdetect.Address) string {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	names, err := net.DefaultResolver.LookupAddr(ctx, addr.String())
	if err != nil || len(names) == 0 {
		return ""
	}
	return strings.TrimSuffix(names[0], ".")
}
