package main

import (
	"fmt"
	"strconv"

	"github.com/rjboer/netsdr/internal/config"
	"github.com/rjboer/netsdr/internal/logging"
	"github.com/rjboer/netsdr/internal/netsdr"
	"github.com/rjboer/netsdr/internal/protocol"
	"github.com/rjboer/netsdr/internal/sink"
	"github.com/rjboer/netsdr/internal/telemetry"
	"github.com/rjboer/netsdr/internal/transport"
)

// session is a wired client plus the resources it holds.
type session struct {
	client *netsdr.Client
	sink   sink.Sink
	ssh    *transport.SSHDialer
}

func (s *session) Close() error {
	err := s.client.Disconnect()
	if s.sink != nil {
		if cerr := s.sink.Close(); err == nil {
			err = cerr
		}
	}
	if s.ssh != nil {
		_ = s.ssh.Close()
	}
	return err
}

// captureMetadata is stored with parquet captures.
func captureMetadata(cfg config.Config) map[string]string {
	return map[string]string{
		"address":      cfg.Device.Address,
		"channel":      strconv.Itoa(int(cfg.Device.Channel)),
		"frequency_hz": strconv.FormatUint(cfg.Device.FrequencyHz, 10),
		"sample_bits":  strconv.Itoa(cfg.Device.SampleBits),
		"sample_rate":  strconv.FormatUint(uint64(cfg.Device.SampleRate), 10),
	}
}

// newSession wires transports, sink and client from cfg. withSink false
// skips opening the sink, for commands that never stream.
func newSession(cfg config.Config, logger logging.Logger, withSink bool, reporter telemetry.Reporter) (*session, error) {
	tcp := transport.NewTCPClient(cfg.Device.Address, logger)
	tcp.Timeout = cfg.Device.DialTimeout
	tcp.ConnectRetries = cfg.Device.ConnectRetries
	tcp.Split = protocol.SplitMessages

	s := &session{}
	if cfg.SSH.Host != "" {
		d, err := transport.NewSSHDialer(transport.SSHConfig{
			Host:       cfg.SSH.Host,
			User:       cfg.SSH.User,
			Password:   cfg.SSH.Password,
			KeyPath:    cfg.SSH.KeyPath,
			Port:       cfg.SSH.Port,
			KnownHosts: cfg.SSH.KnownHosts,
			Timeout:    cfg.Device.DialTimeout,
		})
		if err != nil {
			return nil, fmt.Errorf("ssh: %w", err)
		}
		tcp.Dialer = d
		s.ssh = d
	}

	udp := transport.NewUDPListener(cfg.Device.DataAddress, logger)
	udp.ReuseAddr = cfg.Device.ReuseAddr

	if withSink {
		out, err := sink.Open(cfg.Sink, captureMetadata(cfg))
		if err != nil {
			return nil, fmt.Errorf("open sink: %w", err)
		}
		s.sink = out
	}

	opts := []netsdr.Option{
		netsdr.WithLogger(logger),
		netsdr.WithRequestTimeout(cfg.Device.RequestTimeout),
		netsdr.WithSampleBits(cfg.Device.SampleBits),
		netsdr.WithSampleRate(cfg.Device.SampleRate),
	}
	if reporter != nil {
		opts = append(opts, netsdr.WithReporter(reporter))
	}
	client, err := netsdr.New(tcp, udp, s.sink, opts...)
	if err != nil {
		if s.sink != nil {
			_ = s.sink.Close()
		}
		return nil, err
	}
	s.client = client
	return s, nil
}
