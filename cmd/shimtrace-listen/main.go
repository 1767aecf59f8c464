// shimtrace-listen - print invocation records sent by shimtrace
//
// Usage:
//
//	shimtrace-listen [flags]
//
// By default it listens where shims on this platform report: the unix
// datagram socket in the temp directory, or the loopback TCP port on
// Windows. Under systemd socket activation it serves the passed sockets
// instead.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	flag "github.com/spf13/pflag"

	"github.com/mbrock/shimtrace/internal/collect"
	"github.com/mbrock/shimtrace/internal/dirs"
	"github.com/mbrock/shimtrace/internal/transport"
	"github.com/mbrock/shimtrace/internal/wire"
)

func main() {
	socketFlag := flag.String("socket", dirs.CollectorSocket(), "Datagram socket path")
	addressFlag := flag.String("address", dirs.CollectorAddress, "TCP listen address")
	kindFlag := flag.StringP("kind", "k", "auto", "Channel to listen on: auto, datagram, stream, both")
	jsonFlag := flag.Bool("json", false, "Print records as JSON lines")
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, `shimtrace-listen - print invocation records sent by shimtrace

Usage:
  shimtrace-listen [flags]

Flags:
`)
		flag.PrintDefaults()
	}
	flag.Parse()

	logLevel := slog.LevelInfo
	if os.Getenv("SHIMTRACE_DEBUG") != "" {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	servers, err := listen(*kindFlag, *socketFlag, *addressFlag, logger)
	if err != nil {
		fatal("%v", err)
	}

	printer := &printer{out: os.Stdout, json: *jsonFlag}
	if err := serveAll(ctx, servers, printer.print, logger); err != nil {
		fatal("%v", err)
	}
}

func fatal(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "error: "+format+"\n", args...)
	os.Exit(1)
}

// listen opens the servers for kind, preferring sockets passed by systemd.
func listen(kind, socketPath, address string, logger *slog.Logger) ([]*collect.Server, error) {
	activated, err := collect.Activated(logger)
	if err != nil {
		return nil, err
	}
	if len(activated) > 0 {
		logger.Info("using activated sockets", "count", len(activated))
		return activated, nil
	}

	var kinds []transport.Kind
	switch kind {
	case "auto":
		kinds = []transport.Kind{transport.DefaultKind}
	case "both":
		kinds = []transport.Kind{transport.KindDatagram, transport.KindStream}
	default:
		k, err := transport.ParseKind(kind)
		if err != nil {
			return nil, err
		}
		kinds = []transport.Kind{k}
	}

	var servers []*collect.Server
	for _, k := range kinds {
		var srv *collect.Server
		var err error
		if k == transport.KindDatagram {
			srv, err = collect.ListenDatagram(socketPath, logger)
		} else {
			srv, err = collect.ListenStream(address, logger)
		}
		if err != nil {
			for _, s := range servers {
				s.Close()
			}
			return nil, err
		}
		logger.Info("listening", "kind", k, "addr", srv.Addr().String())
		servers = append(servers, srv)
	}
	return servers, nil
}

// serveAll runs every server until ctx is done and returns the first
// serve error.
func serveAll(ctx context.Context, servers []*collect.Server, h collect.Handler, logger *slog.Logger) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	errs := make(chan error, len(servers))
	for _, srv := range servers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer srv.Close()
			if err := srv.Serve(ctx, h); err != nil {
				errs <- err
				cancel()
			}
		}()
	}
	wg.Wait()
	close(errs)
	logger.Debug("stopped")
	return <-errs
}

// printer writes one line per record. Stream servers call it
// concurrently.
type printer struct {
	mu   sync.Mutex
	out  io.Writer
	json bool
}

func (p *printer) print(rec wire.InvocationRecord) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.json {
		data, err := json.Marshal(rec)
		if err != nil {
			return
		}
		p.out.Write(append(data, '\n'))
		return
	}
	fmt.Fprintf(p.out, "%s %s exit=%d duration=%dms cwd=%s\n",
		rec.ExecutablePath,
		quoteArgs(rec.Arguments),
		rec.ExitCode,
		rec.DurationMS,
		rec.WorkingDirectory)
}

func quoteArgs(args []string) string {
	quoted := make([]string, len(args))
	for i, a := range args {
		if a == "" || strings.ContainsAny(a, " \t\n\"'") {
			quoted[i] = fmt.Sprintf("%q", a)
		} else {
			quoted[i] = a
		}
	}
	return "[" + strings.Join(quoted, " ") + "]"
}
