package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/rjboer/netsdr/internal/logging"
	"github.com/rjboer/netsdr/internal/telemetry"
)

const stopTimeout = 5 * time.Second

func newStreamCmd(c *cli) *cobra.Command {
	var (
		duration  time.Duration
		frequency uint64
		channel   uint8
		webAddr   string
	)
	cmd := &cobra.Command{
		Use:   "stream",
		Short: "Tune the receiver and record IQ samples until interrupted",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := c.cfg
			flags := cmd.Flags()
			if flags.Changed("frequency") {
				cfg.Device.FrequencyHz = frequency
			}
			if flags.Changed("channel") {
				cfg.Device.Channel = channel
			}
			if flags.Changed("web-addr") {
				cfg.Telemetry.WebAddr = webAddr
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			if duration > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, duration)
				defer cancel()
			}

			reporters := telemetry.MultiReporter{telemetry.NewStdoutReporter(c.logger)}
			if cfg.Telemetry.WebAddr != "" {
				hub := telemetry.NewHub(cfg.TelemetryConfig(), c.logger)
				reporters = append(reporters, hub)
				web := telemetry.NewWebServer(cfg.Telemetry.WebAddr, hub, c.logger)
				go func() {
					if err := web.Start(ctx); err != nil {
						c.logger.Error("web telemetry stopped", logging.F("error", err))
					}
				}()
			}

			s, err := newSession(cfg, c.logger, true, reporters)
			if err != nil {
				return err
			}
			defer s.Close()

			if err := s.client.Connect(ctx); err != nil {
				return err
			}
			if err := s.client.ChangeFrequency(ctx, cfg.Device.FrequencyHz, cfg.Device.Channel); err != nil {
				return err
			}
			if err := s.client.StartIQ(ctx); err != nil {
				return err
			}
			c.logger.Info("streaming",
				logging.F("frequency_hz", cfg.Device.FrequencyHz),
				logging.F("data_address", cfg.Device.DataAddress),
				logging.F("sink", cfg.Sink.Kind),
			)

			<-ctx.Done()

			// ctx is done by now; the stop message still has to reach the device.
			stopCtx, cancelStop := context.WithTimeout(context.WithoutCancel(ctx), stopTimeout)
			defer cancelStop()
			if err := s.client.StopIQ(stopCtx); err != nil {
				return err
			}
			st := s.client.Stats()
			fmt.Fprintf(cmd.OutOrStdout(), "frames=%d samples=%d lost=%d malformed=%d sink_errors=%d\n",
				st.Frames, st.Samples, st.Lost, st.Malformed, st.SinkErrors)
			return nil
		},
	}
	f := cmd.Flags()
	f.DurationVar(&duration, "duration", 0, "stop after this long (0 runs until interrupted)")
	f.Uint64Var(&frequency, "frequency", 0, "receiver frequency in Hz")
	f.Uint8Var(&channel, "channel", 0, "receiver channel")
	f.StringVar(&webAddr, "web-addr", "", "serve web telemetry on this address (e.g. :8080)")
	return cmd
}
