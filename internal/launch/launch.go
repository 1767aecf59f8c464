// Package launch runs the real binary on behalf of the shim and measures
// it.
//
// The child inherits the shim's standard streams and environment as they
// are; nothing is piped or rewritten, so a command that checks whether its
// stdout is a terminal sees the same answer it would without the shim.
package launch

import (
	"fmt"
	"io"
	"os"
	"os/exec"
	"time"

	"github.com/mbrock/shimtrace/internal/wire"
)

// SentinelExitCode is the exit code recorded for a child that did not
// exit normally.
const SentinelExitCode = wire.SentinelExitCode

// Spec describes one launch.
type Spec struct {
	// Path is the absolute path of the binary to execute.
	Path string
	// Argv0 is passed as the child's argv[0]; empty means Path.
	Argv0 string
	// Args excludes argv0.
	Args []string
	// Dir is the child's working directory; empty means the shim's.
	Dir string

	// Pass *os.File values (normally os.Stdin, os.Stdout, os.Stderr) so
	// the child gets the descriptors themselves rather than a pipe.
	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer
}

// Result is the outcome of a child that ran.
type Result struct {
	// ExitCode is the child's exit status, or SentinelExitCode if it was
	// terminated by a signal.
	ExitCode int
	// Signal is the signal that terminated the child, if any.
	Signal   os.Signal
	Started  time.Time
	Duration time.Duration
}

// DurationMS returns the elapsed time in whole milliseconds.
func (r Result) DurationMS() int64 {
	if ms := r.Duration.Milliseconds(); ms > 0 {
		return ms
	}
	return 0
}

// StatusCode is the code a shell would report for the child: the exit
// status, or 128 plus the signal number for a signalled child.
func (r Result) StatusCode() int {
	if r.Signal != nil {
		if n, ok := signalNumber(r.Signal); ok {
			return 128 + n
		}
	}
	return r.ExitCode
}

// StartError reports that the child could not be started. Nothing ran.
type StartError struct {
	Path string
	Err  error
}

func (e *StartError) Error() string {
	return fmt.Sprintf("start %s: %v", e.Path, e.Err)
}

func (e *StartError) Unwrap() error {
	return e.Err
}

// Run starts the child, waits for it without a deadline, and reports how
// it ended. A nonzero exit is a Result, not an error; the only error is a
// *StartError.
func Run(spec Spec) (Result, error) {
	argv0 := spec.Argv0
	if argv0 == "" {
		argv0 = spec.Path
	}

	cmd := &exec.Cmd{
		Path:   spec.Path,
		Args:   append([]string{argv0}, spec.Args...),
		Dir:    spec.Dir,
		Stdin:  spec.Stdin,
		Stdout: spec.Stdout,
		Stderr: spec.Stderr,
	}

	relay := catchSignals(spec)
	defer relay.stop()

	started := time.Now()
	if err := cmd.Start(); err != nil {
		return Result{}, &StartError{Path: spec.Path, Err: err}
	}
	relay.forward(cmd.Process)

	// Wait also fails on copy errors for non-file streams; the process
	// state is still valid then.
	_ = cmd.Wait()
	res := Result{
		Started:  started,
		Duration: time.Since(started),
	}

	state := cmd.ProcessState
	res.ExitCode = state.ExitCode()
	if sig, ok := terminatingSignal(state); ok {
		res.Signal = sig
	}
	if res.ExitCode < 0 || res.Signal != nil {
		res.ExitCode = SentinelExitCode
	}
	return res, nil
}
