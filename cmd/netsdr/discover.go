package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/rjboer/netsdr/internal/mdns"
)

func newDiscoverCmd(c *cli) *cobra.Command {
	var (
		service string
		timeout time.Duration
	)
	cmd := &cobra.Command{
		Use:   "discover",
		Short: "Browse the local network for receivers over mDNS",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !cmd.Flags().Changed("service") {
				service = c.cfg.Discovery.Service
			}
			if !cmd.Flags().Changed("timeout") {
				timeout = c.cfg.Discovery.Timeout
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			start := time.Now()
			hosts, err := mdns.Discover(ctx, service)
			if err != nil {
				return err
			}
			printHosts(cmd, service, hosts, time.Since(start))
			return nil
		},
	}
	cmd.Flags().StringVar(&service, "service", mdns.DefaultService, "DNS-SD service type")
	cmd.Flags().DurationVar(&timeout, "timeout", 5*time.Second, "browse duration")
	return cmd
}

func printHosts(cmd *cobra.Command, service string, hosts []mdns.Host, took time.Duration) {
	out := cmd.OutOrStdout()
	if len(hosts) == 0 {
		fmt.Fprintf(out, "No %s devices found (%s)\n", service, took.Truncate(time.Millisecond))
		return
	}
	fmt.Fprintf(out, "Discovered %d device(s) in %s\n", len(hosts), took.Truncate(time.Millisecond))
	for i, h := range hosts {
		fmt.Fprintf(out, "#%d %s\n", i+1, h.Instance)
		fmt.Fprintf(out, "   hostname: %s\n", h.Hostname)
		fmt.Fprintf(out, "   connect:  --address %s\n", h.Address())
		for _, ip := range h.Addresses {
			fmt.Fprintf(out, "   address:  %s\n", ip)
		}
		for _, txt := range h.TXT {
			fmt.Fprintf(out, "   txt:      %s\n", txt)
		}
	}
}
