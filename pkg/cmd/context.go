package cmd

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/testground/chainbench/pkg/logging"
)

// shutdownGrace is how long the process may take to wind down after the
// first signal before it exits forcefully.
const shutdownGrace = 30 * time.Second

var (
	processContext     context.Context
	processContextOnce sync.Once
)

// ProcessContext returns a context cancelled on the first SIGINT, SIGTERM or
// SIGHUP. A second signal, or the grace period running out, exits the
// process.
func ProcessContext() context.Context {
	processContextOnce.Do(func() {
		var cancel context.CancelFunc
		processContext, cancel = context.WithCancel(context.Background())

		notify := make(chan os.Signal, 2)
		signal.Notify(notify, syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM)
		go func() {
			defer signal.Stop(notify)

			sig := <-notify
			logging.S().Infow("shutting down", "signal", sig.String())
			cancel()

			select {
			case <-time.After(shutdownGrace):
				logging.S().Warn("timed out on shutdown, terminating")
			case <-notify:
				logging.S().Warn("received another signal before graceful shutdown, terminating")
			}
			os.Exit(-1)
		}()
	})
	return processContext
}
