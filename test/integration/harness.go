// Package integration runs the built shimtrace binary against real tools
// and an in-process collector.
package integration

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/mbrock/shimtrace/internal/collect"
	"github.com/mbrock/shimtrace/internal/dirs"
	"github.com/mbrock/shimtrace/internal/wire"
)

// BuildShim compiles cmd/shimtrace into dir and returns the binary path.
func BuildShim(dir string) (string, error) {
	bin := filepath.Join(dir, "shimtrace")
	cmd := exec.Command("go", "build", "-o", bin, "./cmd/shimtrace/")
	cmd.Dir = "../.."
	if out, err := cmd.CombinedOutput(); err != nil {
		return "", fmt.Errorf("build shimtrace: %v\n%s", err, out)
	}
	return bin, nil
}

// TestEnv is an installed shim: a shims directory of links ahead of a
// tools directory, with TMPDIR pointing at a private directory so the
// shim's datagram socket is ours.
type TestEnv struct {
	TempDir  string
	ShimsDir string
	ToolsDir string
	Shim     string

	// Extra is appended to the shim's environment.
	Extra []string

	collectors []*collect.Server
	records    chan wire.InvocationRecord
}

// NewTestEnv lays out directories around the shim binary.
func NewTestEnv(shim string) (*TestEnv, error) {
	// Kept short: unix socket paths are limited to about 100 bytes.
	tmpDir, err := os.MkdirTemp("", "sti-")
	if err != nil {
		return nil, fmt.Errorf("create temp dir: %w", err)
	}
	e := &TestEnv{
		TempDir:  tmpDir,
		ShimsDir: filepath.Join(tmpDir, "shims"),
		ToolsDir: filepath.Join(tmpDir, "tools"),
		Shim:     shim,
		records:  make(chan wire.InvocationRecord, 16),
	}
	for _, d := range []string{e.ShimsDir, e.ToolsDir} {
		if err := os.MkdirAll(d, 0755); err != nil {
			return nil, fmt.Errorf("create %s: %w", d, err)
		}
	}
	return e, nil
}

// SocketPath is where the shim sends datagrams in this environment.
func (e *TestEnv) SocketPath() string {
	return filepath.Join(e.TempDir, dirs.SocketName)
}

// StartDatagramCollector listens on the shim's datagram socket.
func (e *TestEnv) StartDatagramCollector() error {
	srv, err := collect.ListenDatagram(e.SocketPath(), nil)
	if err != nil {
		return err
	}
	e.serve(srv)
	return nil
}

// StartStreamCollector listens on a loopback port and points the shim at it.
func (e *TestEnv) StartStreamCollector() error {
	srv, err := collect.ListenStream("127.0.0.1:0", nil)
	if err != nil {
		return err
	}
	e.Extra = append(e.Extra, "SHIMTRACE_COLLECTOR_ADDRESS="+srv.Addr().String())
	e.serve(srv)
	return nil
}

func (e *TestEnv) serve(srv *collect.Server) {
	e.collectors = append(e.collectors, srv)
	go srv.Serve(context.Background(), func(rec wire.InvocationRecord) { e.records <- rec })
}

// NextRecord waits for the collector to receive a record.
func (e *TestEnv) NextRecord(timeout time.Duration) (wire.InvocationRecord, error) {
	select {
	case rec := <-e.records:
		return rec, nil
	case <-time.After(timeout):
		return wire.InvocationRecord{}, errors.New("no record received")
	}
}

// Link installs the shim under name.
func (e *TestEnv) Link(name string) error {
	return os.Symlink(e.Shim, filepath.Join(e.ShimsDir, name))
}

// Tool installs a shell script under name in the tools directory.
func (e *TestEnv) Tool(name, body string) (string, error) {
	path := filepath.Join(e.ToolsDir, name)
	return path, os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0755)
}

// Path is the PATH the shim runs with.
func (e *TestEnv) Path() string {
	return strings.Join([]string{e.ShimsDir, e.ToolsDir, os.Getenv("PATH")}, string(filepath.ListSeparator))
}

// Env returns the shim's environment.
func (e *TestEnv) Env() []string {
	env := []string{"PATH=" + e.Path(), "TMPDIR=" + e.TempDir}
	for _, kv := range os.Environ() {
		if !strings.HasPrefix(kv, "PATH=") && !strings.HasPrefix(kv, "TMPDIR=") && !strings.HasPrefix(kv, "SHIMTRACE_") {
			env = append(env, kv)
		}
	}
	return append(env, e.Extra...)
}

// Result is one shim run.
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
	Elapsed  time.Duration
}

// Run invokes the shim the way a shell would after finding name on PATH.
func (e *TestEnv) Run(ctx context.Context, stdin string, name string, args ...string) (Result, error) {
	cmd := exec.CommandContext(ctx, filepath.Join(e.ShimsDir, name), args...)
	cmd.Args[0] = name
	cmd.Dir = e.TempDir
	cmd.Env = e.Env()
	cmd.Stdin = strings.NewReader(stdin)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()
	res := Result{Stdout: stdout.String(), Stderr: stderr.String(), Elapsed: time.Since(start)}

	var exitErr *exec.ExitError
	switch {
	case err == nil:
	case errors.As(err, &exitErr):
		res.ExitCode = exitErr.ExitCode()
	default:
		return res, err
	}
	return res, nil
}

// Cleanup stops collectors and removes the temp directory.
func (e *TestEnv) Cleanup() error {
	for _, srv := range e.collectors {
		srv.Close()
	}
	return os.RemoveAll(e.TempDir)
}
