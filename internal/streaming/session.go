// Package streaming runs the UDP side of a NetSDR session: it starts and
// stops IQ capture on the device and feeds decoded samples to a sink.
package streaming

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rjboer/netsdr/internal/logging"
	"github.com/rjboer/netsdr/internal/protocol"
	"github.com/rjboer/netsdr/internal/sink"
	"github.com/rjboer/netsdr/internal/telemetry"
	"github.com/rjboer/netsdr/internal/transport"
)

// DefaultSampleBits is the device's default IQ sample width.
const DefaultSampleBits = 16

// Requester sends control messages. *control.Session satisfies it.
type Requester interface {
	SendRequest(ctx context.Context, payload []byte) ([]byte, error)
}

// Receiver state parameters: [channel/run flag, data type, capture mode, FIFO count].
var (
	startParams = []byte{0x80, 0x02, 0x01, 0x01}
	stopParams  = []byte{0x00, 0x01, 0x00, 0x00}
)

// StartMessage returns the receiver-state message that starts IQ capture.
func StartMessage() []byte {
	b, _ := protocol.EncodeControlItem(protocol.KindSetControlItem, protocol.CodeReceiverState, startParams)
	return b
}

// StopMessage returns the receiver-state message that stops IQ capture.
func StopMessage() []byte {
	b, _ := protocol.EncodeControlItem(protocol.KindSetControlItem, protocol.CodeReceiverState, stopParams)
	return b
}

// Option configures a Session.
type Option func(*Session)

// WithSampleBits sets the width used to decode data items (8, 16 or 32).
func WithSampleBits(bits int) Option {
	return func(s *Session) { s.bits = bits }
}

// WithLogger sets the session logger.
func WithLogger(l logging.Logger) Option {
	return func(s *Session) { s.logger = l }
}

// WithReporter receives every decoded frame after it reached the sink.
func WithReporter(r telemetry.Reporter) Option {
	return func(s *Session) { s.reporter = r }
}

// Stats are the datagram counters since the session was created.
type Stats struct {
	Frames     uint64 `json:"frames"`
	Samples    uint64 `json:"samples"`
	Lost       uint64 `json:"lost"`
	Malformed  uint64 `json:"malformed"`
	Ignored    uint64 `json:"ignored"`
	SinkErrors uint64 `json:"sinkErrors"`
}

// Session owns the datagram transport and the started flag.
type Session struct {
	control   Requester
	transport transport.Datagram
	sink      sink.Sink
	reporter  telemetry.Reporter
	logger    logging.Logger
	bits      int

	// mu serializes StartIQ, StopIQ and Halt.
	mu       sync.Mutex
	started  atomic.Bool
	loopDone chan struct{}

	frames     atomic.Uint64
	samples    atomic.Uint64
	lost       atomic.Uint64
	malformed  atomic.Uint64
	ignored    atomic.Uint64
	sinkErrors atomic.Uint64
}

// New builds a streaming session. The sink may be nil when only the
// reporter consumes frames.
func New(ctrl Requester, dg transport.Datagram, s sink.Sink, opts ...Option) (*Session, error) {
	sess := &Session{
		control:   ctrl,
		transport: dg,
		sink:      s,
		bits:      DefaultSampleBits,
	}
	for _, opt := range opts {
		opt(sess)
	}
	if !protocol.ValidSampleWidth(sess.bits) {
		return nil, fmt.Errorf("streaming: %w: %d", protocol.ErrSampleWidth, sess.bits)
	}
	sess.logger = logging.OrDefault(sess.logger).With(logging.F("subsystem", "streaming"))
	return sess, nil
}

// Started reports whether IQ capture is running.
func (s *Session) Started() bool {
	return s.started.Load()
}

// SampleBits returns the configured sample width.
func (s *Session) SampleBits() int {
	return s.bits
}

// Stats returns a snapshot of the datagram counters.
func (s *Session) Stats() Stats {
	return Stats{
		Frames:     s.frames.Load(),
		Samples:    s.samples.Load(),
		Lost:       s.lost.Load(),
		Malformed:  s.malformed.Load(),
		Ignored:    s.ignored.Load(),
		SinkErrors: s.sinkErrors.Load(),
	}
}

// StartIQ tells the device to start streaming, then starts listening for
// datagrams. It does nothing when already started. If the listener cannot
// bind, a stop message is sent and the bind error returned.
func (s *Session) StartIQ(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started.Load() {
		return nil
	}
	if _, err := s.control.SendRequest(ctx, StartMessage()); err != nil {
		return fmt.Errorf("start iq: %w", err)
	}
	if err := s.transport.StartListening(ctx); err != nil {
		if _, stopErr := s.control.SendRequest(ctx, StopMessage()); stopErr != nil {
			s.logger.Warn("stop after failed listen", logging.F("error", stopErr))
		}
		return fmt.Errorf("start iq: %w", err)
	}

	in := s.transport.Inbound()
	done := make(chan struct{})
	s.loopDone = done
	s.started.Store(true)
	go s.dispatch(in, done)

	s.logger.Info("iq started", logging.F("sample_bits", s.bits))
	return nil
}

// StopIQ tells the device to stop streaming and stops the listener. It is
// safe to call when not started. The listener is stopped even if the stop
// message fails.
func (s *Session) StopIQ(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.control.SendRequest(ctx, StopMessage())
	s.halt()
	if err != nil {
		return fmt.Errorf("stop iq: %w", err)
	}
	s.logger.Info("iq stopped")
	return nil
}

// Halt stops the listener without messaging the device.
func (s *Session) Halt() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.halt()
}

func (s *Session) halt() {
	if err := s.transport.StopListening(); err != nil {
		s.logger.Warn("stop listening", logging.F("error", err))
	}
	if s.loopDone != nil {
		<-s.loopDone
		s.loopDone = nil
	}
	s.started.Store(false)
}

// dispatch is the only reader of the listener's inbound channel, so sink
// appends happen in arrival order on one goroutine.
func (s *Session) dispatch(in <-chan []byte, done chan<- struct{}) {
	defer close(done)
	if in == nil {
		s.started.Store(false)
		return
	}
	var seq sequenceTracker
	for b := range in {
		s.onDatagram(b, &seq)
	}
	// The listener may have ended on its own after a read error.
	s.started.Store(false)
	s.logger.Debug("datagram loop ended")
}

func (s *Session) onDatagram(b []byte, seq *sequenceTracker) {
	msg, ok := protocol.Decode(b)
	if !ok {
		s.malformed.Add(1)
		s.logger.Debug("malformed datagram dropped", logging.F("bytes", len(b)))
		return
	}
	if !msg.Kind.IsDataItem() {
		s.ignored.Add(1)
		s.logger.Debug("non data item datagram ignored", logging.F("kind", msg.Kind))
		return
	}
	samples, err := protocol.DecodeSamples(s.bits, msg.Body)
	if err != nil {
		// Width is validated in New; this only guards against misuse.
		s.malformed.Add(1)
		return
	}

	lost := seq.observe(msg.Sequence)
	if lost > 0 {
		s.lost.Add(uint64(lost))
		s.logger.Debug("sequence gap", logging.F("sequence", msg.Sequence), logging.F("lost", lost))
	}

	if s.sink != nil {
		if err := s.appendSamples(msg.Sequence, samples); err != nil {
			s.sinkErrors.Add(1)
			s.logger.Error("sink append failed", logging.F("error", err))
		}
	}
	s.frames.Add(1)
	s.samples.Add(uint64(len(samples)))

	if s.reporter != nil {
		s.reporter.Report(telemetry.Frame{
			Kind:     msg.Kind,
			Sequence: msg.Sequence,
			Lost:     lost,
			Samples:  samples,
			Received: time.Now(),
		})
	}
}

func (s *Session) appendSamples(sequence uint16, samples []int32) error {
	if fa, ok := s.sink.(sink.FrameAppender); ok {
		return fa.AppendFrame(sequence, samples)
	}
	return s.sink.Append(samples)
}
