package store

import (
	"os"
	"os/signal"
	"syscall"
)

// redeliver sends a deferred signal back to the current process once the
// shielded write is done. Tests replace it to observe the redelivery.
var redeliver = func(sig os.Signal) {
	p, err := os.FindProcess(os.Getpid())
	if err != nil {
		return
	}
	_ = p.Signal(sig)
}

// shielded runs fn with SIGINT and SIGTERM held back. A signal that arrives
// while fn runs is delivered again once fn returns or panics, so a crash can
// only happen between writes and never in the middle of one.
func shielded(fn func() error) error {
	caught := make(chan os.Signal, 1)
	signal.Notify(caught, os.Interrupt, syscall.SIGTERM)
	defer func() {
		signal.Stop(caught)
		select {
		case sig := <-caught:
			redeliver(sig)
		default:
		}
	}()

	return fn()
}
