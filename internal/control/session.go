// Package control serializes request/response exchanges on the NetSDR TCP
// control channel.
package control

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rjboer/netsdr/internal/logging"
	"github.com/rjboer/netsdr/internal/protocol"
	"github.com/rjboer/netsdr/internal/transport"
)

// maxAbandoned bounds how many abandoned requests are remembered.
const maxAbandoned = 8

// requestKey identifies which replies belong to a request. Requests that are
// well-formed control items match replies echoing the same code; anything
// else matches whatever arrives next.
type requestKey struct {
	code    protocol.ControlItemCode
	tracked bool
}

func keyOf(payload []byte) requestKey {
	msg, ok := protocol.Decode(payload)
	if !ok || msg.Kind == protocol.KindNak || !msg.Kind.IsControlItem() {
		return requestKey{}
	}
	return requestKey{code: msg.Code, tracked: true}
}

// matches reports whether inbound message b can be the reply to k. A NAK
// carries no code and answers any request.
func (k requestKey) matches(b []byte) bool {
	if !k.tracked {
		return true
	}
	msg, ok := protocol.Decode(b)
	if !ok {
		return false
	}
	if msg.Kind == protocol.KindNak {
		return true
	}
	return msg.Kind.IsControlItem() && msg.Code == k.code
}

type request struct {
	key   requestKey
	reply chan []byte
}

// ErrConnectionClosed is returned to a pending request when the connection
// ends before a reply arrives.
var ErrConnectionClosed = errors.New("control: connection closed while awaiting reply")

// Option configures a Session.
type Option func(*Session)

// WithRequestTimeout bounds how long SendRequest waits for a reply.
// Zero (the default) waits until a reply, cancellation or connection loss.
func WithRequestTimeout(d time.Duration) Option {
	return func(s *Session) { s.timeout = d }
}

// WithLogger sets the session logger.
func WithLogger(l logging.Logger) Option {
	return func(s *Session) { s.logger = l }
}

// Session owns the control transport and at most one pending request.
type Session struct {
	transport transport.Stream
	logger    logging.Logger
	timeout   time.Duration

	// sem holds one token per request in flight; callers queue on it.
	sem chan struct{}

	mu      sync.Mutex
	pending *request
	// abandoned lists requests that reached the wire but gave up waiting,
	// oldest first. Their late replies are dropped instead of resolving a
	// newer request.
	abandoned []requestKey

	unsolicited atomic.Uint64
}

// New builds a Session over t.
func New(t transport.Stream, opts ...Option) *Session {
	s := &Session{
		transport: t,
		sem:       make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = logging.OrDefault(s.logger).With(logging.F("subsystem", "control"))
	return s
}

// Connected reports the transport's connection state.
func (s *Session) Connected() bool {
	return s.transport.Connected()
}

// Unsolicited returns how many inbound messages arrived with no request pending.
func (s *Session) Unsolicited() uint64 {
	return s.unsolicited.Load()
}

// Connect opens the transport and starts dispatching inbound messages.
func (s *Session) Connect(ctx context.Context) error {
	if s.transport.Connected() {
		return nil
	}
	if err := s.transport.Connect(ctx); err != nil {
		return err
	}
	in := s.transport.Inbound()
	if in == nil {
		return fmt.Errorf("control: transport has no inbound channel")
	}
	go s.dispatch(in)
	return nil
}

// Disconnect closes the transport. It is safe to call when never connected.
func (s *Session) Disconnect() error {
	return s.transport.Disconnect()
}

// SendRequest sends payload and waits for its reply: the next inbound message
// echoing the request's control item code, or a NAK. Payloads that are not
// control items take the next inbound message. When the transport is not
// connected it returns (nil, nil) without any I/O.
// Concurrent callers are served one at a time in arrival order of the lock.
func (s *Session) SendRequest(ctx context.Context, payload []byte) ([]byte, error) {
	if !s.transport.Connected() {
		s.logger.Debug("request skipped, not connected")
		return nil, nil
	}

	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	select {
	case s.sem <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	defer func() { <-s.sem }()

	req := &request{key: keyOf(payload), reply: make(chan []byte, 1)}
	s.mu.Lock()
	s.pending = req
	s.mu.Unlock()

	if err := s.transport.Send(ctx, payload); err != nil {
		s.release(req, false)
		return nil, err
	}
	s.logger.Debug("request sent", logging.F("bytes", len(payload)))

	select {
	case b, ok := <-req.reply:
		if !ok {
			return nil, ErrConnectionClosed
		}
		return b, nil
	case <-ctx.Done():
	}

	if !s.release(req, true) {
		// The reply was delivered or the connection closed before release.
		if b, ok := <-req.reply; ok {
			return b, nil
		}
		return nil, ErrConnectionClosed
	}
	s.logger.Debug("request abandoned", logging.F("error", ctx.Err()))
	return nil, ctx.Err()
}

// Send writes payload without waiting for a reply.
func (s *Session) Send(ctx context.Context, payload []byte) error {
	if !s.transport.Connected() {
		return nil
	}
	return s.transport.Send(ctx, payload)
}

// release clears req from the pending slot. It reports false when req was
// already resolved or closed by the dispatcher. With abandon set, req is
// remembered so its late reply cannot resolve a later request.
func (s *Session) release(req *request, abandon bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pending != req {
		return false
	}
	s.pending = nil
	if abandon {
		s.abandoned = append(s.abandoned, req.key)
		if len(s.abandoned) > maxAbandoned {
			s.abandoned = s.abandoned[len(s.abandoned)-maxAbandoned:]
		}
	}
	return true
}

// dispatch is the only reader of the transport's inbound channel.
func (s *Session) dispatch(in <-chan []byte) {
	for b := range in {
		s.onInbound(b)
	}

	s.mu.Lock()
	if s.pending != nil {
		close(s.pending.reply)
		s.pending = nil
	}
	s.abandoned = nil
	s.mu.Unlock()
}

func (s *Session) onInbound(b []byte) {
	s.mu.Lock()
	// Replies arrive in request order, so a late reply consumes the first
	// abandoned request it matches and every older one still unanswered.
	for i, key := range s.abandoned {
		if key.matches(b) {
			s.abandoned = s.abandoned[i+1:]
			s.mu.Unlock()
			s.logger.Debug("late reply dropped", logging.F("bytes", len(b)))
			return
		}
	}
	if req := s.pending; req != nil && req.key.matches(b) {
		s.pending = nil
		// reply has room for exactly this value; sending under the lock
		// keeps release from missing it.
		req.reply <- b
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	s.unsolicited.Add(1)
	msg, ok := protocol.Decode(b)
	s.logger.Debug("unsolicited message dropped",
		logging.F("kind", msg.Kind),
		logging.F("code", msg.Code),
		logging.F("valid", ok),
		logging.F("bytes", len(b)),
	)
}
