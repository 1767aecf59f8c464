// Package collect receives invocation records sent by shims.
//
// It is the listening half of the transport package: a Server owns either
// a unix datagram socket (one record per datagram) or a TCP listener (one
// record per connection, acknowledged with "ok\n" before the connection is
// closed). It decodes and hands records to a Handler and does nothing else.
package collect

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/coreos/go-systemd/v22/activation"

	"github.com/mbrock/shimtrace/internal/wire"
)

// MaxDatagram is the largest record accepted on a datagram socket.
const MaxDatagram = wire.MaxDatagram

// Ack is written to stream peers after their record decodes.
var Ack = []byte("ok\n")

// connReadTimeout bounds how long a stream peer may take to send its record.
const connReadTimeout = 5 * time.Second

// Handler receives decoded records. Stream servers call it from one
// goroutine per connection.
type Handler func(wire.InvocationRecord)

// Server accepts records on a single socket.
type Server struct {
	packet   net.PacketConn
	listener net.Listener

	// socketPath is removed on Close when we created it.
	socketPath string

	logger *slog.Logger
}

// ListenDatagram binds a unix datagram socket at path, replacing any stale
// socket file left behind by a previous collector.
func ListenDatagram(path string, logger *slog.Logger) (*Server, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create socket directory: %w", err)
	}
	_ = os.Remove(path)

	conn, err := net.ListenUnixgram("unixgram", &net.UnixAddr{Name: path, Net: "unixgram"})
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", path, err)
	}

	// Shims run as whichever user invoked the wrapped command.
	if err := os.Chmod(path, 0666); err != nil {
		conn.Close()
		return nil, fmt.Errorf("chmod socket: %w", err)
	}

	return &Server{packet: conn, socketPath: path, logger: orDiscard(logger)}, nil
}

// ListenStream binds a TCP listener at addr.
func ListenStream(addr string, logger *slog.Logger) (*Server, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", addr, err)
	}
	return &Server{listener: ln, logger: orDiscard(logger)}, nil
}

// Activated returns a Server for every socket passed by systemd socket
// activation (LISTEN_FDS). It returns no servers when the process was not
// socket-activated.
func Activated(logger *slog.Logger) ([]*Server, error) {
	logger = orDiscard(logger)
	var servers []*Server
	for _, f := range activation.Files(true) {
		if ln, err := net.FileListener(f); err == nil {
			servers = append(servers, &Server{listener: ln, logger: logger})
			f.Close()
			continue
		}
		pc, err := net.FilePacketConn(f)
		f.Close()
		if err != nil {
			for _, s := range servers {
				s.Close()
			}
			return nil, fmt.Errorf("activated socket %s: %w", f.Name(), err)
		}
		servers = append(servers, &Server{packet: pc, logger: logger})
	}
	return servers, nil
}

// Addr returns the bound address.
func (s *Server) Addr() net.Addr {
	if s.packet != nil {
		return s.packet.LocalAddr()
	}
	return s.listener.Addr()
}

// Serve receives records until ctx is cancelled or the server is closed.
// It returns nil in both cases.
func (s *Server) Serve(ctx context.Context, h Handler) error {
	stop := context.AfterFunc(ctx, func() { s.closeSocket() })
	defer stop()

	if s.packet != nil {
		return s.serveDatagrams(h)
	}
	return s.serveStream(h)
}

func (s *Server) serveDatagrams(h Handler) error {
	buf := make([]byte, MaxDatagram)
	for {
		n, _, err := s.packet.ReadFrom(buf)
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			return fmt.Errorf("read datagram: %w", err)
		}
		rec, err := wire.Unmarshal(buf[:n])
		if err != nil {
			s.logger.Debug("dropping datagram", "bytes", n, "error", err)
			continue
		}
		h(rec)
	}
}

func (s *Server) serveStream(h Handler) error {
	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			return fmt.Errorf("accept: %w", err)
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.handleConn(conn, h)
		}()
	}
}

func (s *Server) handleConn(conn net.Conn, h Handler) {
	defer conn.Close()

	_ = conn.SetReadDeadline(time.Now().Add(connReadTimeout))
	rec, err := wire.NewDecoder(conn).Decode()
	if err != nil {
		s.logger.Debug("dropping connection", "remote", conn.RemoteAddr().String(), "error", err)
		return
	}
	h(rec)
	_ = conn.SetWriteDeadline(time.Now().Add(connReadTimeout))
	_, _ = conn.Write(Ack)
}

func (s *Server) closeSocket() error {
	if s.packet != nil {
		return s.packet.Close()
	}
	return s.listener.Close()
}

// Close stops the server and removes a socket file it created.
func (s *Server) Close() error {
	err := s.closeSocket()
	if s.socketPath != "" {
		os.Remove(s.socketPath)
	}
	if errors.Is(err, net.ErrClosed) {
		return nil
	}
	return err
}

func orDiscard(logger *slog.Logger) *slog.Logger {
	if logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return logger
}
