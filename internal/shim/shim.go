// Package shim ties resolution, launch and reporting together for one
// invocation of the shim.
package shim

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/mbrock/shimtrace/internal/launch"
	"github.com/mbrock/shimtrace/internal/resolve"
	"github.com/mbrock/shimtrace/internal/wire"
)

// Exit codes for failures that happen before the real binary runs. On
// every other path the shim exits with the child's status.
const (
	ExitRecursion  = 125
	ExitLaunch     = 126
	ExitResolution = 127
)

// Reporter delivers a record and never fails.
type Reporter interface {
	Report(ctx context.Context, rec wire.InvocationRecord)
}

// Options describes one invocation.
type Options struct {
	// Args is the shim's full argv; Args[0] names the wrapped command.
	Args []string
	// Self is the path of the running shim image.
	Self string
	// SearchPath is PATH as the shim received it.
	SearchPath resolve.SearchPath
	// Dir is the directory the shim was invoked from.
	Dir string

	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer

	Reporter Reporter
	Logger   *slog.Logger
}

// Run resolves the real binary, runs it, reports the invocation and
// returns the exit code the shim process should exit with.
func Run(ctx context.Context, opts Options) int {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	if len(opts.Args) == 0 {
		return fail(opts.Stderr, logger, &resolve.NotFoundError{Path: opts.SearchPath})
	}
	invoked, args := opts.Args[0], opts.Args[1:]

	resolved, err := resolve.Resolve(invoked, opts.Self, opts.SearchPath)
	if err != nil {
		return fail(opts.Stderr, logger, err)
	}
	logger.Debug("resolved",
		"invoked", invoked,
		"target", resolved.Path,
		"excluded_dir", resolved.ExcludedDir,
		"self", opts.Self)

	result, err := launch.Run(launch.Spec{
		Path:   resolved.Path,
		Argv0:  invoked,
		Args:   args,
		Stdin:  opts.Stdin,
		Stdout: opts.Stdout,
		Stderr: opts.Stderr,
	})
	if err != nil {
		return fail(opts.Stderr, logger, err)
	}
	logger.Debug("exited",
		"target", resolved.Path,
		"exit_code", result.ExitCode,
		"signal", result.Signal,
		"duration", result.Duration)

	arguments := make([]string, len(args))
	copy(arguments, args)
	if opts.Reporter != nil {
		opts.Reporter.Report(ctx, wire.InvocationRecord{
			ExecutablePath:   resolved.Path,
			Arguments:        arguments,
			DurationMS:       result.DurationMS(),
			ExitCode:         int32(result.ExitCode),
			WorkingDirectory: opts.Dir,
		})
	}

	return result.StatusCode()
}

// fail prints err the way every fatal shim error is printed and picks the
// exit code for its kind.
func fail(stderr io.Writer, logger *slog.Logger, err error) int {
	logger.Debug("fatal", "error", err)
	if stderr != nil {
		fmt.Fprintf(stderr, "error: %v\n", err)
	}
	return exitCode(err)
}

func exitCode(err error) int {
	var recursion *resolve.RecursionError
	var notFound *resolve.NotFoundError
	var start *launch.StartError
	switch {
	case errors.As(err, &recursion):
		return ExitRecursion
	case errors.As(err, &notFound):
		return ExitResolution
	case errors.As(err, &start):
		return ExitLaunch
	}
	return 1
}
