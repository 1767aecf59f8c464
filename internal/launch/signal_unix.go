//go:build !windows

package launch

import (
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sys/unix"
	"golang.org/x/term"
)

// relay keeps the shim alive while the child runs and passes signals sent
// to the shim on to the child. SIGTERM and SIGHUP are always forwarded.
// SIGINT and SIGQUIT are forwarded too, except when the shim is in the
// foreground of a terminal the child shares: keystrokes there already
// signal the whole process group, and a second copy would reach the child
// twice.
type relay struct {
	signals    chan os.Signal
	done       chan struct{}
	interrupts bool
}

func catchSignals(spec Spec) *relay {
	r := &relay{
		signals:    make(chan os.Signal, 4),
		done:       make(chan struct{}),
		interrupts: !inForeground(spec.Stdin, spec.Stdout, spec.Stderr),
	}
	signal.Notify(r.signals, syscall.SIGINT, syscall.SIGQUIT, syscall.SIGTERM, syscall.SIGHUP)
	return r
}

func (r *relay) forward(p *os.Process) {
	go func() {
		for {
			select {
			case sig := <-r.signals:
				if r.passes(sig) {
					_ = p.Signal(sig)
				}
			case <-r.done:
				return
			}
		}
	}()
}

func (r *relay) passes(sig os.Signal) bool {
	switch sig {
	case syscall.SIGTERM, syscall.SIGHUP:
		return true
	case syscall.SIGINT, syscall.SIGQUIT:
		return r.interrupts
	}
	return false
}

func (r *relay) stop() {
	signal.Stop(r.signals)
	close(r.done)
}

// inForeground reports whether one of the streams is a terminal whose
// foreground process group is ours.
func inForeground(streams ...any) bool {
	pgrp := unix.Getpgrp()
	for _, s := range streams {
		f, ok := s.(*os.File)
		if !ok || f == nil {
			continue
		}
		fd := int(f.Fd())
		if !term.IsTerminal(fd) {
			continue
		}
		fg, err := unix.IoctlGetInt(fd, unix.TIOCGPGRP)
		if err == nil && fg == pgrp {
			return true
		}
	}
	return false
}

func terminatingSignal(state *os.ProcessState) (os.Signal, bool) {
	ws, ok := state.Sys().(syscall.WaitStatus)
	if !ok || !ws.Signaled() {
		return nil, false
	}
	return ws.Signal(), true
}

func signalNumber(sig os.Signal) (int, bool) {
	s, ok := sig.(syscall.Signal)
	return int(s), ok
}
