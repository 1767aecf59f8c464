//go:build windows

package launch

import (
	"os"
	"os/signal"
)

// relay swallows console interrupts while the child runs; the console
// delivers them to the child directly.
type relay struct {
	signals chan os.Signal
}

func catchSignals(Spec) *relay {
	r := &relay{signals: make(chan os.Signal, 1)}
	signal.Notify(r.signals, os.Interrupt)
	return r
}

func (r *relay) forward(*os.Process) {}

func (r *relay) stop() {
	signal.Stop(r.signals)
}

func terminatingSignal(*os.ProcessState) (os.Signal, bool) {
	return nil, false
}

func signalNumber(os.Signal) (int, bool) {
	return 0, false
}
