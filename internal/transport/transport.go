// Package transport provides the byte-stream and datagram ports used by the
// NetSDR control and streaming sessions.
package transport

import (
	"context"
	"errors"
	"net"
)

var (
	ErrNotConnected = errors.New("transport: not connected")
	ErrNotListening = errors.New("transport: not listening")
)

// Stream is a reliable ordered byte-stream port.
//
// Inbound returns the channel of received chunks for the current connection.
// It is closed when that connection ends, and is nil before the first Connect.
type Stream interface {
	Connect(ctx context.Context) error
	Disconnect() error
	Connected() bool
	Send(ctx context.Context, b []byte) error
	Inbound() <-chan []byte
}

// Datagram is an unreliable datagram port.
//
// StartListening binds synchronously and returns bind errors to the caller.
// Inbound is closed when listening stops.
type Datagram interface {
	StartListening(ctx context.Context) error
	StopListening() error
	Listening() bool
	Send(ctx context.Context, b []byte, dst net.Addr) error
	Inbound() <-chan []byte
}

// Dialer opens stream connections. *net.Dialer and *SSHDialer satisfy it.
type Dialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}
