package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

func newFreqCmd(c *cli) *cobra.Command {
	var channel uint8
	cmd := &cobra.Command{
		Use:   "freq <hz>",
		Short: "Tune the receiver and disconnect",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			hz, err := strconv.ParseUint(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("frequency %q: %w", args[0], err)
			}
			if !cmd.Flags().Changed("channel") {
				channel = c.cfg.Device.Channel
			}

			s, err := newSession(c.cfg, c.logger, false, nil)
			if err != nil {
				return err
			}
			defer s.Close()

			ctx := cmd.Context()
			if err := s.client.Connect(ctx); err != nil {
				return err
			}
			if err := s.client.ChangeFrequency(ctx, hz, channel); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "tuned channel %d to %d Hz\n", channel, hz)
			return nil
		},
	}
	cmd.Flags().Uint8Var(&channel, "channel", 0, "receiver channel")
	return cmd
}
