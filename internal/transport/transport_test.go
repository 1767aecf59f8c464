package transport

import (
	"context"
	"errors"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"golang.org/x/net/nettest"

	"github.com/mbrock/shimtrace/internal/collect"
	"github.com/mbrock/shimtrace/internal/wire"
)

// shortSocketPath returns a socket path short enough for sun_path limits.
func shortSocketPath(t *testing.T) string {
	t.Helper()
	dir, err := os.MkdirTemp("", "st")
	if err != nil {
		t.Fatalf("MkdirTemp: %v", err)
	}
	t.Cleanup(func() { os.RemoveAll(dir) })
	return filepath.Join(dir, "c.sock")
}

func startCollector(t *testing.T, srv *collect.Server) <-chan wire.InvocationRecord {
	t.Helper()
	records := make(chan wire.InvocationRecord, 1)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		srv.Serve(ctx, func(rec wire.InvocationRecord) { records <- rec })
	}()
	t.Cleanup(func() {
		cancel()
		<-done
		srv.Close()
	})
	return records
}

func waitRecord(t *testing.T, records <-chan wire.InvocationRecord) wire.InvocationRecord {
	t.Helper()
	select {
	case rec := <-records:
		return rec
	case <-time.After(5 * time.Second):
		t.Fatal("collector received nothing")
		return wire.InvocationRecord{}
	}
}

func mustMarshal(t *testing.T, rec wire.InvocationRecord) []byte {
	t.Helper()
	data, err := wire.Marshal(rec)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	return data
}

func TestDatagramSend(t *testing.T) {
	if !nettest.TestableNetwork("unixgram") {
		t.Skip("unixgram not supported")
	}
	path := shortSocketPath(t)
	srv, err := collect.ListenDatagram(path, nil)
	if err != nil {
		t.Fatalf("ListenDatagram: %v", err)
	}
	records := startCollector(t, srv)

	ch, err := Open(context.Background(), Config{Kind: KindDatagram, SocketPath: path, Timeout: time.Second})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer ch.Close()

	if ch.Kind() != KindDatagram {
		t.Fatalf("Kind() = %q", ch.Kind())
	}
	if err := ch.Send(mustMarshal(t, wire.InvocationRecord{ExecutablePath: "/bin/ls", ExitCode: 3})); err != nil {
		t.Fatalf("Send: %v", err)
	}

	start := time.Now()
	n, err := ch.TryReceive(1024)
	if err != nil || n != 0 {
		t.Fatalf("TryReceive = %d, %v; want 0, nil", n, err)
	}
	if elapsed := time.Since(start); elapsed > 50*time.Millisecond {
		t.Fatalf("datagram TryReceive waited %v", elapsed)
	}

	rec := waitRecord(t, records)
	if rec.ExecutablePath != "/bin/ls" || rec.ExitCode != 3 {
		t.Fatalf("unexpected record: %+v", rec)
	}
}

func TestDatagramTooLarge(t *testing.T) {
	if !nettest.TestableNetwork("unixgram") {
		t.Skip("unixgram not supported")
	}
	path := shortSocketPath(t)
	srv, err := collect.ListenDatagram(path, nil)
	if err != nil {
		t.Fatalf("ListenDatagram: %v", err)
	}
	records := startCollector(t, srv)

	ch, err := Open(context.Background(), Config{Kind: KindDatagram, SocketPath: path, Timeout: time.Second})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer ch.Close()

	if err := ch.Send(make([]byte, MaxDatagram+1)); !errors.Is(err, ErrTooLarge) {
		t.Fatalf("Send error = %v, want ErrTooLarge", err)
	}
	select {
	case rec := <-records:
		t.Fatalf("collector received %+v", rec)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestStreamSendAndAck(t *testing.T) {
	srv, err := collect.ListenStream("127.0.0.1:0", nil)
	if err != nil {
		t.Fatalf("ListenStream: %v", err)
	}
	records := startCollector(t, srv)

	ch, err := Open(context.Background(), Config{Kind: KindStream, Address: srv.Addr().String(), Timeout: time.Second})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer ch.Close()

	if err := ch.Send(mustMarshal(t, wire.InvocationRecord{ExecutablePath: "/usr/bin/make", Arguments: []string{"all"}})); err != nil {
		t.Fatalf("Send: %v", err)
	}
	n, err := ch.TryReceive(1024)
	if err != nil {
		t.Fatalf("TryReceive: %v", err)
	}
	if n != len(collect.Ack) {
		t.Fatalf("TryReceive = %d bytes, want %d", n, len(collect.Ack))
	}

	rec := waitRecord(t, records)
	if rec.ExecutablePath != "/usr/bin/make" || len(rec.Arguments) != 1 || rec.Arguments[0] != "all" {
		t.Fatalf("unexpected record: %+v", rec)
	}
}

func TestStreamReceiveTimesOut(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer ln.Close()

	// A peer that accepts and then never writes or closes.
	held := make(chan net.Conn, 1)
	go func() {
		conn, err := ln.Accept()
		if err == nil {
			held <- conn
		}
	}()
	defer func() {
		select {
		case conn := <-held:
			conn.Close()
		default:
		}
	}()

	timeout := 50 * time.Millisecond
	ch, err := Open(context.Background(), Config{Kind: KindStream, Address: ln.Addr().String(), Timeout: timeout})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer ch.Close()

	start := time.Now()
	_, err = ch.TryReceive(1024)
	elapsed := time.Since(start)
	if !errors.Is(err, os.ErrDeadlineExceeded) {
		t.Fatalf("TryReceive error = %v, want deadline exceeded", err)
	}
	if elapsed < timeout || elapsed > 2*time.Second {
		t.Fatalf("TryReceive returned after %v, want about %v", elapsed, timeout)
	}
}

func TestOpenUnreachable(t *testing.T) {
	t.Run("datagram", func(t *testing.T) {
		if !nettest.TestableNetwork("unixgram") {
			t.Skip("unixgram not supported")
		}
		_, err := Open(context.Background(), Config{Kind: KindDatagram, SocketPath: shortSocketPath(t), Timeout: time.Second})
		if err == nil {
			t.Fatal("expected dial error for missing socket")
		}
	})

	t.Run("stream", func(t *testing.T) {
		ln, err := net.Listen("tcp", "127.0.0.1:0")
		if err != nil {
			t.Fatalf("Listen: %v", err)
		}
		addr := ln.Addr().String()
		ln.Close()

		start := time.Now()
		_, err = Open(context.Background(), Config{Kind: KindStream, Address: addr, Timeout: 100 * time.Millisecond})
		if err == nil {
			t.Fatal("expected dial error for closed port")
		}
		if elapsed := time.Since(start); elapsed > time.Second {
			t.Fatalf("dial took %v", elapsed)
		}
	})
}

func TestOpenUnknownKind(t *testing.T) {
	if _, err := Open(context.Background(), Config{Kind: "carrier-pigeon"}); err == nil {
		t.Fatal("expected error for unknown kind")
	}
}

func TestParseKind(t *testing.T) {
	for _, s := range []string{"datagram", "stream"} {
		k, err := ParseKind(s)
		if err != nil || string(k) != s {
			t.Errorf("ParseKind(%q) = %q, %v", s, k, err)
		}
	}
	if _, err := ParseKind("udp"); err == nil {
		t.Error("ParseKind(udp) should fail")
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.Kind != DefaultKind {
		t.Errorf("Kind = %q, want %q", cfg.Kind, DefaultKind)
	}
	if cfg.Timeout != DefaultTimeout {
		t.Errorf("Timeout = %v, want %v", cfg.Timeout, DefaultTimeout)
	}
	if cfg.Address != "127.0.0.1:13657" {
		t.Errorf("Address = %q", cfg.Address)
	}
	if filepath.Base(cfg.SocketPath) != ".shimtrace.sock" {
		t.Errorf("SocketPath = %q", cfg.SocketPath)
	}
}
