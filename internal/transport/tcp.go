package transport

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff"

	"github.com/rjboer/netsdr/internal/logging"
)

const (
	inboundQueue  = 16
	maxTokenBytes = 64 * 1024
)

// TCPClient is a Stream over a TCP connection.
type TCPClient struct {
	Address string
	// Timeout bounds each dial attempt and each write. Zero disables it.
	Timeout time.Duration
	// ConnectRetries is the number of extra dial attempts after a failure.
	ConnectRetries uint64
	// Split frames inbound bytes. Nil delivers raw read chunks.
	Split  bufio.SplitFunc
	Dialer Dialer
	Logger logging.Logger

	mu        sync.Mutex
	writeMu   sync.Mutex
	conn      net.Conn
	inbound   chan []byte
	done      chan struct{}
	connected atomic.Bool
}

// NewTCPClient returns an unconnected client for addr.
func NewTCPClient(addr string, logger logging.Logger) *TCPClient {
	return &TCPClient{
		Address: addr,
		Timeout: 5 * time.Second,
		Logger:  logging.OrDefault(logger).With(logging.F("subsystem", "tcp")),
	}
}

func (c *TCPClient) logger() logging.Logger {
	if c.Logger == nil {
		return logging.Default()
	}
	return c.Logger
}

// ---------- Construction / lifecycle ----------

// Connect dials Address. It is a no-op when already connected.
func (c *TCPClient) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn != nil {
		return nil
	}
	conn, err := c.dial(ctx)
	if err != nil {
		return fmt.Errorf("connect %s: %w", c.Address, err)
	}
	c.attach(conn)
	c.logger().Info("connected", logging.F("address", c.Address))
	return nil
}

// SetConn injects an established connection (tests, tunnels).
func (c *TCPClient) SetConn(conn net.Conn) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		c.detach()
	}
	c.attach(conn)
}

func (c *TCPClient) dial(ctx context.Context) (net.Conn, error) {
	d := c.Dialer
	if d == nil {
		d = &net.Dialer{Timeout: c.Timeout}
	}

	var conn net.Conn
	op := func() error {
		var err error
		conn, err = d.DialContext(ctx, "tcp", c.Address)
		return err
	}
	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewExponentialBackOff(), c.ConnectRetries),
		ctx,
	)
	notify := func(err error, wait time.Duration) {
		c.logger().Warn("dial failed, retrying",
			logging.F("address", c.Address),
			logging.F("error", err),
			logging.F("wait", wait),
		)
	}
	if err := backoff.RetryNotify(op, policy, notify); err != nil {
		return nil, err
	}
	return conn, nil
}

func (c *TCPClient) attach(conn net.Conn) {
	ch := make(chan []byte, inboundQueue)
	done := make(chan struct{})
	c.conn = conn
	c.inbound = ch
	c.done = done
	c.connected.Store(true)
	go c.readLoop(conn, ch, done)
}

// detach must be called with c.mu held.
func (c *TCPClient) detach() error {
	close(c.done)
	err := c.conn.Close()
	c.conn = nil
	c.connected.Store(false)
	return err
}

// Disconnect closes the connection. It is a no-op when not connected.
func (c *TCPClient) Disconnect() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil
	}
	err := c.detach()
	c.logger().Info("disconnected", logging.F("address", c.Address))
	if errors.Is(err, net.ErrClosed) {
		return nil
	}
	return err
}

// Connected reports whether a connection is currently open.
func (c *TCPClient) Connected() bool {
	return c.connected.Load()
}

// Inbound returns the receive channel of the current connection.
func (c *TCPClient) Inbound() <-chan []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.inbound
}

// ---------- Raw I/O ----------

// Send writes the full buffer, handling short writes.
func (c *TCPClient) Send(ctx context.Context, b []byte) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	deadline := time.Time{}
	if c.Timeout > 0 {
		deadline = time.Now().Add(c.Timeout)
	}
	if d, ok := ctx.Deadline(); ok && (deadline.IsZero() || d.Before(deadline)) {
		deadline = d
	}
	_ = conn.SetWriteDeadline(deadline)

	for len(b) > 0 {
		n, err := conn.Write(b)
		if err != nil {
			return fmt.Errorf("send: %w", err)
		}
		b = b[n:]
	}
	return nil
}

func (c *TCPClient) readLoop(conn net.Conn, ch chan<- []byte, done <-chan struct{}) {
	defer close(ch)
	defer func() {
		c.mu.Lock()
		if c.conn == conn {
			close(c.done)
			_ = c.conn.Close()
			c.conn = nil
			c.connected.Store(false)
			c.logger().Warn("connection closed by peer", logging.F("address", c.Address))
		}
		c.mu.Unlock()
	}()

	sc := bufio.NewScanner(conn)
	sc.Buffer(make([]byte, 0, 4096), maxTokenBytes)
	if c.Split != nil {
		sc.Split(c.Split)
	} else {
		sc.Split(splitChunks)
	}

	for sc.Scan() {
		chunk := append([]byte(nil), sc.Bytes()...)
		select {
		case ch <- chunk:
		case <-done:
			return
		}
	}
	if err := sc.Err(); err != nil && !errors.Is(err, net.ErrClosed) {
		select {
		case <-done:
		default:
			c.logger().Warn("read failed", logging.F("error", err))
		}
	}
}

// splitChunks hands back whatever a read produced.
func splitChunks(data []byte, atEOF bool) (int, []byte, error) {
	if len(data) == 0 {
		return 0, nil, nil
	}
	return len(data), data, nil
}
