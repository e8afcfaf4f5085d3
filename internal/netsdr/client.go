// Package netsdr is the NetSDR receiver client. It configures the device
// over the TCP control channel and records the IQ stream it sends over UDP.
package netsdr

import (
	"context"
	"fmt"
	"time"

	"github.com/rjboer/netsdr/internal/control"
	"github.com/rjboer/netsdr/internal/logging"
	"github.com/rjboer/netsdr/internal/sink"
	"github.com/rjboer/netsdr/internal/streaming"
	"github.com/rjboer/netsdr/internal/telemetry"
	"github.com/rjboer/netsdr/internal/transport"
)

type options struct {
	logger         logging.Logger
	requestTimeout time.Duration
	sampleBits     int
	sampleRate     uint32
	reporter       telemetry.Reporter
}

// Option configures a Client.
type Option func(*options)

// WithLogger sets the logger shared by the client and its sessions.
func WithLogger(l logging.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithRequestTimeout bounds each control request. Zero waits indefinitely.
func WithRequestTimeout(d time.Duration) Option {
	return func(o *options) { o.requestTimeout = d }
}

// WithSampleBits sets the IQ sample width used to decode datagrams.
func WithSampleBits(bits int) Option {
	return func(o *options) { o.sampleBits = bits }
}

// WithSampleRate sets the IQ output rate configured on connect.
func WithSampleRate(hz uint32) Option {
	return func(o *options) { o.sampleRate = hz }
}

// WithReporter receives each decoded IQ frame.
func WithReporter(r telemetry.Reporter) Option {
	return func(o *options) { o.reporter = r }
}

// Stats combines the control and streaming counters.
type Stats struct {
	streaming.Stats
	Unsolicited uint64 `json:"unsolicited"`
}

// Client drives one NetSDR receiver.
type Client struct {
	control    *control.Session
	streaming  *streaming.Session
	logger     logging.Logger
	sampleRate uint32
}

// New wires a client over the control stream, the IQ datagram listener and
// the sample sink.
func New(tcp transport.Stream, udp transport.Datagram, s sink.Sink, opts ...Option) (*Client, error) {
	o := options{
		sampleBits: streaming.DefaultSampleBits,
		sampleRate: DefaultSampleRate,
	}
	for _, opt := range opts {
		opt(&o)
	}
	logger := logging.OrDefault(o.logger)

	ctrl := control.New(tcp,
		control.WithLogger(logger),
		control.WithRequestTimeout(o.requestTimeout),
	)
	streamOpts := []streaming.Option{
		streaming.WithLogger(logger),
		streaming.WithSampleBits(o.sampleBits),
	}
	if o.reporter != nil {
		streamOpts = append(streamOpts, streaming.WithReporter(o.reporter))
	}
	str, err := streaming.New(ctrl, udp, s, streamOpts...)
	if err != nil {
		return nil, err
	}
	return &Client{
		control:    ctrl,
		streaming:  str,
		logger:     logger.With(logging.F("subsystem", "netsdr")),
		sampleRate: o.sampleRate,
	}, nil
}

// Connected reports whether the control channel is up.
func (c *Client) Connected() bool {
	return c.control.Connected()
}

// IQStarted reports whether IQ capture is running.
func (c *Client) IQStarted() bool {
	return c.streaming.Started()
}

// Stats returns the session counters.
func (c *Client) Stats() Stats {
	return Stats{Stats: c.streaming.Stats(), Unsolicited: c.control.Unsolicited()}
}

// Connect opens the control channel and sends the initial configuration,
// waiting for each reply before the next message. It is a no-op when
// already connected.
func (c *Client) Connect(ctx context.Context) error {
	if c.control.Connected() {
		return nil
	}
	if err := c.control.Connect(ctx); err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	for _, msg := range configurationMessages(c.sampleRate) {
		if _, err := c.control.SendRequest(ctx, msg); err != nil {
			return fmt.Errorf("configure: %w", err)
		}
	}
	c.logger.Info("connected", logging.F("sample_rate", c.sampleRate))
	return nil
}

// Disconnect stops any running capture listener and closes the control
// channel. It is safe to call when never connected.
func (c *Client) Disconnect() error {
	if c.streaming.Started() {
		c.streaming.Halt()
	}
	if err := c.control.Disconnect(); err != nil {
		return err
	}
	c.logger.Info("disconnected")
	return nil
}

// ChangeFrequency tunes channel to hz. It does nothing while disconnected.
func (c *Client) ChangeFrequency(ctx context.Context, hz uint64, channel byte) error {
	if !c.control.Connected() {
		c.logger.Debug("frequency change skipped, not connected")
		return nil
	}
	msg, err := frequencyMessage(hz, channel)
	if err != nil {
		return err
	}
	if _, err := c.control.SendRequest(ctx, msg); err != nil {
		return fmt.Errorf("change frequency: %w", err)
	}
	c.logger.Info("frequency changed", logging.F("hz", hz), logging.F("channel", channel))
	return nil
}

// StartIQ starts IQ capture. It does nothing while disconnected.
func (c *Client) StartIQ(ctx context.Context) error {
	if !c.control.Connected() {
		c.logger.Debug("start iq skipped, not connected")
		return nil
	}
	return c.streaming.StartIQ(ctx)
}

// StopIQ stops IQ capture. While disconnected only the local listener is
// stopped.
func (c *Client) StopIQ(ctx context.Context) error {
	if !c.control.Connected() {
		c.streaming.Halt()
		return nil
	}
	return c.streaming.StopIQ(ctx)
}
