// Package transport carries one encoded invocation record from the shim to
// a local collector.
//
// There are exactly two channel kinds. KindDatagram sends a single unix
// datagram to a well-known socket path and never waits for a reply.
// KindStream connects to a loopback TCP port, writes the envelope and
// drains whatever the collector sends back until it closes the connection.
// Every phase (dial, send, receive) is bounded by Config.Timeout.
package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/mbrock/shimtrace/internal/dirs"
	"github.com/mbrock/shimtrace/internal/wire"
)

// Kind identifies a channel implementation.
type Kind string

const (
	KindDatagram Kind = "datagram"
	KindStream   Kind = "stream"
)

// DefaultTimeout bounds each transport phase.
const DefaultTimeout = 100 * time.Millisecond

// MaxDatagram is the largest envelope sent as a datagram.
const MaxDatagram = wire.MaxDatagram

// ErrTooLarge is returned by Send for a datagram over MaxDatagram.
var ErrTooLarge = errors.New("envelope exceeds datagram limit")

// ParseKind validates a kind name.
func ParseKind(s string) (Kind, error) {
	switch k := Kind(s); k {
	case KindDatagram, KindStream:
		return k, nil
	}
	return "", fmt.Errorf("unknown transport kind %q (want %q or %q)", s, KindDatagram, KindStream)
}

// Config selects and addresses a channel.
type Config struct {
	Kind Kind

	// SocketPath is the collector's datagram socket (KindDatagram).
	SocketPath string

	// Address is the collector's host:port (KindStream).
	Address string

	// Timeout applies separately to dial, send and receive.
	Timeout time.Duration
}

// DefaultConfig returns the platform's channel kind and the well-known
// collector endpoints.
func DefaultConfig() Config {
	return Config{
		Kind:       DefaultKind,
		SocketPath: dirs.CollectorSocket(),
		Address:    dirs.CollectorAddress,
		Timeout:    DefaultTimeout,
	}
}

// Endpoint returns the address the configured kind dials.
func (c Config) Endpoint() string {
	if c.Kind == KindDatagram {
		return c.SocketPath
	}
	return c.Address
}

func (c Config) network() (string, error) {
	switch c.Kind {
	case KindDatagram:
		return "unixgram", nil
	case KindStream:
		return "tcp", nil
	}
	return "", fmt.Errorf("unknown transport kind %q", c.Kind)
}

// Channel is an open connection to a collector. It is used for one send
// and at most one receive, then closed.
type Channel struct {
	kind     Kind
	endpoint string
	timeout  time.Duration
	conn     net.Conn
}

// Open dials the collector named by cfg within cfg.Timeout.
func Open(ctx context.Context, cfg Config) (*Channel, error) {
	network, err := cfg.network()
	if err != nil {
		return nil, err
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	endpoint := cfg.Endpoint()

	d := net.Dialer{Timeout: timeout}
	conn, err := d.DialContext(ctx, network, endpoint)
	if err != nil {
		return nil, fmt.Errorf("dial %s %s: %w", cfg.Kind, endpoint, err)
	}
	return &Channel{
		kind:     cfg.Kind,
		endpoint: endpoint,
		timeout:  timeout,
		conn:     conn,
	}, nil
}

// Kind reports which channel implementation is open.
func (c *Channel) Kind() Kind {
	return c.kind
}

// Send writes data as one datagram, or in full on a stream.
func (c *Channel) Send(data []byte) error {
	if c.kind == KindDatagram && len(data) > MaxDatagram {
		return fmt.Errorf("send %s %s: %w (%d > %d bytes)", c.kind, c.endpoint, ErrTooLarge, len(data), MaxDatagram)
	}
	if err := c.conn.SetWriteDeadline(time.Now().Add(c.timeout)); err != nil {
		return fmt.Errorf("send %s %s: %w", c.kind, c.endpoint, err)
	}
	n, err := c.conn.Write(data)
	if err != nil {
		return fmt.Errorf("send %s %s: %w", c.kind, c.endpoint, err)
	}
	if n != len(data) {
		return fmt.Errorf("send %s %s: short write (%d of %d bytes)", c.kind, c.endpoint, n, len(data))
	}
	return nil
}

// TryReceive drains up to capacity bytes of response. Datagram channels
// never wait and return 0. Stream channels read until the peer closes,
// capacity is reached, or the timeout elapses; the bytes read so far are
// counted even when the read times out.
func (c *Channel) TryReceive(capacity int) (int, error) {
	if c.kind == KindDatagram || capacity <= 0 {
		return 0, nil
	}
	if err := c.conn.SetReadDeadline(time.Now().Add(c.timeout)); err != nil {
		return 0, fmt.Errorf("receive %s %s: %w", c.kind, c.endpoint, err)
	}
	n, err := io.Copy(io.Discard, io.LimitReader(c.conn, int64(capacity)))
	if err != nil {
		return int(n), fmt.Errorf("receive %s %s: %w", c.kind, c.endpoint, err)
	}
	return int(n), nil
}

// Close releases the connection.
func (c *Channel) Close() error {
	return c.conn.Close()
}
