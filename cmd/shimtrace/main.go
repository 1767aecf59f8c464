// shimtrace - transparent command shim that reports each invocation
//
// Install by linking a command's name to this binary in a directory that
// precedes the real command on PATH:
//
//	ln -s /usr/local/bin/shimtrace ~/.shimtrace/bin/git
//	export PATH=~/.shimtrace/bin:$PATH
//
// Running "git status" then runs the real git with the same arguments,
// streams and environment, exits with git's exit code, and sends one record
// of the invocation to a local collector (see shimtrace-listen).
//
// Environment:
//
//	SHIMTRACE_DEBUG               print diagnostics to stdout when set
//	SHIMTRACE_COLLECTOR_ADDRESS   report over TCP to this host:port
//	SHIMTRACE_COLLECTOR_TIMEOUT   per-phase report timeout (default 100ms)
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/mbrock/shimtrace/internal/config"
	"github.com/mbrock/shimtrace/internal/report"
	"github.com/mbrock/shimtrace/internal/shim"
)

func main() {
	cfg := config.Load()
	logger := cfg.NewLogger(os.Stdout)
	for _, w := range cfg.Warnings {
		logger.Debug(w)
	}

	self, err := os.Executable()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: locating shim executable: %v\n", err)
		os.Exit(shim.ExitResolution)
	}

	os.Exit(shim.Run(context.Background(), shim.Options{
		Args:       os.Args,
		Self:       self,
		SearchPath: cfg.SearchPath,
		Dir:        workingDir(logger),
		Stdin:      os.Stdin,
		Stdout:     os.Stdout,
		Stderr:     os.Stderr,
		Reporter:   report.New(cfg.Transport, logger),
		Logger:     logger,
	}))
}

// workingDir returns the invocation directory. A directory that was
// removed out from under the shell is not a reason to refuse to run.
func workingDir(logger *slog.Logger) string {
	wd, err := os.Getwd()
	if err == nil {
		return wd
	}
	logger.Debug("getwd failed", "error", err)
	return os.Getenv("PWD")
}
