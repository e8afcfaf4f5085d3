package control

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/rjboer/netsdr/internal/logging"
	"github.com/rjboer/netsdr/internal/protocol"
	"github.com/rjboer/netsdr/internal/transport"
)

// fakeStream is an in-memory transport.Stream. With echo set, every sent
// payload is delivered back as the reply.
type fakeStream struct {
	mu        sync.Mutex
	connected bool
	inbound   chan []byte
	sent      [][]byte
	echo      bool
	connErr   error
	sendErr   error
	afterSend func()
}

func (f *fakeStream) Connect(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.connErr != nil {
		return f.connErr
	}
	f.connected = true
	f.inbound = make(chan []byte, 8)
	return nil
}

func (f *fakeStream) Disconnect() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.connected {
		close(f.inbound)
	}
	f.connected = false
	return nil
}

func (f *fakeStream) Connected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakeStream) Send(_ context.Context, b []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.connected {
		return transport.ErrNotConnected
	}
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, append([]byte(nil), b...))
	if f.echo {
		f.inbound <- append([]byte(nil), b...)
	}
	if f.afterSend != nil {
		f.afterSend()
	}
	return nil
}

func (f *fakeStream) Inbound() <-chan []byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.inbound
}

func (f *fakeStream) push(b []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inbound <- b
}

func (f *fakeStream) sentCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

func newTestSession(f *fakeStream, opts ...Option) *Session {
	opts = append([]Option{WithLogger(logging.New(logging.Debug, logging.Text, io.Discard))}, opts...)
	return New(f, opts...)
}

func TestSendRequestNotConnected(t *testing.T) {
	f := &fakeStream{echo: true}
	s := newTestSession(f)

	reply, err := s.SendRequest(context.Background(), []byte{0x01, 0x02})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if reply != nil {
		t.Fatalf("expected nil reply, got %x", reply)
	}
	if f.sentCount() != 0 {
		t.Fatalf("sent %d messages while disconnected", f.sentCount())
	}
}

func TestSendRequestEcho(t *testing.T) {
	f := &fakeStream{echo: true}
	s := newTestSession(f)
	if err := s.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer s.Disconnect()

	reply, err := s.SendRequest(context.Background(), []byte{0x05, 0x00, 0x18, 0x00, 0x01})
	if err != nil {
		t.Fatalf("SendRequest: %v", err)
	}
	if !bytes.Equal(reply, []byte{0x05, 0x00, 0x18, 0x00, 0x01}) {
		t.Fatalf("reply = %x", reply)
	}
}

func TestConcurrentRequestsAreSerialized(t *testing.T) {
	f := &fakeStream{}
	s := newTestSession(f)
	if err := s.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer s.Disconnect()

	type result struct {
		reply []byte
		err   error
	}
	first := make(chan result, 1)
	second := make(chan result, 1)

	go func() {
		r, err := s.SendRequest(context.Background(), []byte{0xA})
		first <- result{r, err}
	}()
	waitSent(t, f, 1)

	go func() {
		r, err := s.SendRequest(context.Background(), []byte{0xB})
		second <- result{r, err}
	}()

	// The second request must not reach the wire while the first is pending.
	time.Sleep(50 * time.Millisecond)
	if n := f.sentCount(); n != 1 {
		t.Fatalf("second request sent before first resolved: %d sends", n)
	}

	f.push([]byte{0x1})
	r1 := <-first
	if r1.err != nil || !bytes.Equal(r1.reply, []byte{0x1}) {
		t.Fatalf("first result = %x, %v", r1.reply, r1.err)
	}

	waitSent(t, f, 2)
	f.push([]byte{0x2})
	r2 := <-second
	if r2.err != nil || !bytes.Equal(r2.reply, []byte{0x2}) {
		t.Fatalf("second result = %x, %v", r2.reply, r2.err)
	}
}

func TestUnsolicitedMessageDropped(t *testing.T) {
	f := &fakeStream{}
	s := newTestSession(f)
	if err := s.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer s.Disconnect()

	f.push([]byte{0x02, 0x00})
	deadline := time.Now().Add(time.Second)
	for s.Unsolicited() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if s.Unsolicited() != 1 {
		t.Fatalf("unsolicited = %d", s.Unsolicited())
	}

	// A later request still gets its own reply.
	f.mu.Lock()
	f.echo = true
	f.mu.Unlock()
	reply, err := s.SendRequest(context.Background(), []byte{0x7})
	if err != nil || !bytes.Equal(reply, []byte{0x7}) {
		t.Fatalf("reply = %x, %v", reply, err)
	}
}

func TestPendingRequestFailsOnDisconnect(t *testing.T) {
	f := &fakeStream{}
	s := newTestSession(f)
	if err := s.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	done := make(chan error, 1)
	go func() {
		_, err := s.SendRequest(context.Background(), []byte{0x1})
		done <- err
	}()
	waitSent(t, f, 1)
	_ = s.Disconnect()

	select {
	case err := <-done:
		if !errors.Is(err, ErrConnectionClosed) {
			t.Fatalf("expected ErrConnectionClosed, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("pending request not released")
	}
}

func TestRequestTimeout(t *testing.T) {
	f := &fakeStream{}
	s := newTestSession(f, WithRequestTimeout(20*time.Millisecond))
	if err := s.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer s.Disconnect()

	_, err := s.SendRequest(context.Background(), []byte{0x1})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	s.mu.Lock()
	pending := s.pending
	s.mu.Unlock()
	if pending != nil {
		t.Fatal("pending slot not cleared after timeout")
	}
}

func TestSendErrorPropagates(t *testing.T) {
	boom := errors.New("broken pipe")
	f := &fakeStream{sendErr: boom}
	s := newTestSession(f)
	if err := s.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer s.Disconnect()

	if _, err := s.SendRequest(context.Background(), []byte{0x1}); !errors.Is(err, boom) {
		t.Fatalf("expected send error, got %v", err)
	}
}

func TestConnectErrorPropagates(t *testing.T) {
	boom := errors.New("refused")
	s := newTestSession(&fakeStream{connErr: boom})
	if err := s.Connect(context.Background()); !errors.Is(err, boom) {
		t.Fatalf("expected connect error, got %v", err)
	}
	if s.Connected() {
		t.Fatal("connected after failed connect")
	}
}

func TestDisconnectWithoutConnect(t *testing.T) {
	s := newTestSession(&fakeStream{})
	if err := s.Disconnect(); err != nil {
		t.Fatalf("Disconnect: %v", err)
	}
}

func controlItem(t *testing.T, code protocol.ControlItemCode, params ...byte) []byte {
	t.Helper()
	b, err := protocol.EncodeControlItem(protocol.KindSetControlItem, code, params)
	if err != nil {
		t.Fatalf("EncodeControlItem: %v", err)
	}
	return b
}

func TestLateReplyNotGivenToNextRequest(t *testing.T) {
	f := &fakeStream{}
	s := newTestSession(f, WithRequestTimeout(30*time.Millisecond))
	if err := s.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer s.Disconnect()

	if _, err := s.SendRequest(context.Background(), []byte{0x1}); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}

	s.timeout = 2 * time.Second
	got := make(chan []byte, 1)
	go func() {
		reply, _ := s.SendRequest(context.Background(), []byte{0x2})
		got <- reply
	}()
	waitSent(t, f, 2)

	f.push([]byte{0xAA}) // answers the first request
	f.push([]byte{0xBB})
	select {
	case reply := <-got:
		if !bytes.Equal(reply, []byte{0xBB}) {
			t.Fatalf("second request got % x", reply)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("second request not resolved")
	}
}

func TestReplyMatchedByCode(t *testing.T) {
	f := &fakeStream{}
	s := newTestSession(f, WithRequestTimeout(30*time.Millisecond))
	if err := s.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer s.Disconnect()

	freq := controlItem(t, protocol.CodeReceiverFrequency, 0, 1, 2, 3, 4, 5)
	if _, err := s.SendRequest(context.Background(), freq); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}

	s.timeout = 2 * time.Second
	state := controlItem(t, protocol.CodeReceiverState, 0x80, 0x02, 0x01, 0x01)
	got := make(chan []byte, 1)
	go func() {
		reply, _ := s.SendRequest(context.Background(), state)
		got <- reply
	}()
	waitSent(t, f, 2)

	f.push(freq)                                        // late reply to the abandoned request
	f.push(controlItem(t, protocol.CodeRFFilter, 0, 0)) // unrelated
	f.push(state)
	select {
	case reply := <-got:
		if !bytes.Equal(reply, state) {
			t.Fatalf("reply = % x, want % x", reply, state)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("request not resolved")
	}
	if n := s.Unsolicited(); n != 1 {
		t.Fatalf("unsolicited = %d, want 1", n)
	}
}

func TestNakAnswersRequest(t *testing.T) {
	f := &fakeStream{}
	s := newTestSession(f)
	if err := s.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer s.Disconnect()

	got := make(chan []byte, 1)
	go func() {
		reply, _ := s.SendRequest(context.Background(), controlItem(t, protocol.CodeADModes, 0, 3))
		got <- reply
	}()
	waitSent(t, f, 1)
	f.push([]byte{0x02, 0x00})
	select {
	case reply := <-got:
		if !bytes.Equal(reply, []byte{0x02, 0x00}) {
			t.Fatalf("reply = % x", reply)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("NAK did not resolve the request")
	}
}

func TestDeliveredReplyWinsOverCancel(t *testing.T) {
	for i := 0; i < 50; i++ {
		ctx, cancel := context.WithCancel(context.Background())
		f := &fakeStream{echo: true}
		s := newTestSession(f)
		if err := s.Connect(context.Background()); err != nil {
			t.Fatalf("Connect: %v", err)
		}

		// The echo is queued before cancel; wait until dispatch has
		// delivered it so both select cases are ready.
		f.afterSend = func() {
			deadline := time.Now().Add(time.Second)
			for time.Now().Before(deadline) {
				s.mu.Lock()
				done := s.pending == nil
				s.mu.Unlock()
				if done {
					break
				}
				time.Sleep(time.Millisecond)
			}
			cancel()
		}
		reply, err := s.SendRequest(ctx, []byte{0x42})
		if err != nil || !bytes.Equal(reply, []byte{0x42}) {
			t.Fatalf("iteration %d: reply = % x, err = %v", i, reply, err)
		}
		_ = s.Disconnect()
	}
}

func waitSent(t *testing.T, f *fakeStream, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for f.sentCount() < n {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %d sends, have %d", n, f.sentCount())
		}
		time.Sleep(time.Millisecond)
	}
}
