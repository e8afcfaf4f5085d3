package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rjboer/netsdr/internal/logging"
)

const maxDatagram = 64 * 1024

// UDPListener is a Datagram port bound to a local UDP address.
type UDPListener struct {
	Address string
	// ReuseAddr sets SO_REUSEADDR before binding where the platform supports it.
	ReuseAddr bool
	Logger    logging.Logger

	mu        sync.Mutex
	conn      *net.UDPConn
	inbound   chan []byte
	done      chan struct{}
	listening atomic.Bool
}

// NewUDPListener returns a listener for addr (e.g. ":60000").
func NewUDPListener(addr string, logger logging.Logger) *UDPListener {
	return &UDPListener{
		Address: addr,
		Logger:  logging.OrDefault(logger).With(logging.F("subsystem", "udp")),
	}
}

func (u *UDPListener) logger() logging.Logger {
	if u.Logger == nil {
		return logging.Default()
	}
	return u.Logger
}

// StartListening binds the socket and starts the receive loop. Bind errors
// are returned and leave the listener stopped.
func (u *UDPListener) StartListening(ctx context.Context) error {
	u.mu.Lock()
	defer u.mu.Unlock()

	if u.conn != nil {
		return nil
	}

	lc := net.ListenConfig{}
	if u.ReuseAddr {
		lc.Control = reuseAddrControl
	}
	pc, err := lc.ListenPacket(ctx, "udp", u.Address)
	if err != nil {
		return fmt.Errorf("listen %s: %w", u.Address, err)
	}
	conn, ok := pc.(*net.UDPConn)
	if !ok {
		_ = pc.Close()
		return fmt.Errorf("listen %s: unexpected packet conn %T", u.Address, pc)
	}

	ch := make(chan []byte, inboundQueue)
	done := make(chan struct{})
	u.conn = conn
	u.inbound = ch
	u.done = done
	u.listening.Store(true)
	go u.readLoop(conn, ch, done)

	u.logger().Info("listening", logging.F("address", conn.LocalAddr().String()))
	return nil
}

// StopListening closes the socket. It is a no-op when not listening.
func (u *UDPListener) StopListening() error {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.conn == nil {
		return nil
	}
	close(u.done)
	err := u.conn.Close()
	u.conn = nil
	u.listening.Store(false)
	u.logger().Info("stopped listening", logging.F("address", u.Address))
	if errors.Is(err, net.ErrClosed) {
		return nil
	}
	return err
}

// Listening reports whether the socket is bound.
func (u *UDPListener) Listening() bool {
	return u.listening.Load()
}

// Inbound returns the receive channel of the current socket.
func (u *UDPListener) Inbound() <-chan []byte {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.inbound
}

// LocalAddr returns the bound address, or nil when not listening.
func (u *UDPListener) LocalAddr() net.Addr {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.conn == nil {
		return nil
	}
	return u.conn.LocalAddr()
}

// Send writes one datagram to dst from the listening socket.
func (u *UDPListener) Send(ctx context.Context, b []byte, dst net.Addr) error {
	u.mu.Lock()
	conn := u.conn
	u.mu.Unlock()
	if conn == nil {
		return ErrNotListening
	}
	if d, ok := ctx.Deadline(); ok {
		_ = conn.SetWriteDeadline(d)
	} else {
		_ = conn.SetWriteDeadline(time.Time{})
	}
	if _, err := conn.WriteTo(b, dst); err != nil {
		return fmt.Errorf("send datagram: %w", err)
	}
	return nil
}

// readLoop ends on the first read error and leaves the listener stopped.
func (u *UDPListener) readLoop(conn *net.UDPConn, ch chan<- []byte, done <-chan struct{}) {
	defer close(ch)
	defer func() {
		u.mu.Lock()
		if u.conn == conn {
			close(u.done)
			_ = u.conn.Close()
			u.conn = nil
			u.listening.Store(false)
		}
		u.mu.Unlock()
	}()

	buf := make([]byte, maxDatagram)
	for {
		n, _, err := conn.ReadFromUDP(buf)
		if err != nil {
			select {
			case <-done:
			default:
				if !errors.Is(err, net.ErrClosed) {
					u.logger().Error("datagram read failed", logging.F("error", err))
				}
			}
			return
		}
		datagram := append([]byte(nil), buf[:n]...)
		select {
		case ch <- datagram:
		case <-done:
			return
		}
	}
}
