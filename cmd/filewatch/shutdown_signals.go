package main

import (
	"context"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"

	"filewatch/internal/logging"
)

// notifyShutdown returns a context cancelled by the first SIGINT or SIGTERM.
// The stop func releases the signal handler.
func notifyShutdown(parent context.Context, logger *logging.Logger) (context.Context, func()) {
	ctx, cancel := context.WithCancel(parent)
	signalCh := make(chan os.Signal, 1)
	signal.Notify(signalCh, os.Interrupt, syscall.SIGTERM)
	stopWatching := watchShutdownSignals(logger, cancel, signalCh)
	return ctx, func() {
		signal.Stop(signalCh)
		stopWatching()
		cancel()
	}
}

func watchShutdownSignals(logger *logging.Logger, shutdownCancel context.CancelFunc, signalCh <-chan os.Signal) func() {
	if signalCh == nil {
		return func() {}
	}

	done := make(chan struct{})
	var shutdownStarted atomic.Bool
	var loggedRepeat atomic.Bool

	go func() {
		for {
			select {
			case <-done:
				return
			case sig, ok := <-signalCh:
				if !ok {
					return
				}
				fields := map[string]string{}
				if sig != nil {
					fields["signal"] = sig.String()
				}
				if shutdownStarted.CompareAndSwap(false, true) {
					logger.Info("shutdown signal received", fields)
					if shutdownCancel != nil {
						shutdownCancel()
					}
					continue
				}
				if loggedRepeat.CompareAndSwap(false, true) {
					logger.Info("shutdown already in progress; ignoring signal", fields)
				}
			}
		}
	}()

	var once atomic.Bool
	return func() {
		if once.CompareAndSwap(false, true) {
			close(done)
		}
	}
}
