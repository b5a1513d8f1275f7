package core

import (
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"

	"github.com/fluxorio/hellopool/pkg/core/failfast"
)

// ShutdownFlag is a one-shot, process-wide stop signal.
// It starts unset, is set at most once and never resets, so readers poll it without a lock.
type ShutdownFlag struct {
	set atomic.Bool
}

// NewShutdownFlag returns an unset flag.
func NewShutdownFlag() *ShutdownFlag {
	return &ShutdownFlag{}
}

// Set raises the flag. It reports true only for the call that actually flipped it.
func (f *ShutdownFlag) Set() bool {
	return f.set.CompareAndSwap(false, true)
}

// IsSet reports whether the flag has been raised.
func (f *ShutdownFlag) IsSet() bool {
	return f.set.Load()
}

// NotifyShutdown raises flag when the process receives the first of sigs
// (SIGINT and SIGTERM when none are given). The returned stop func unregisters
// the handler; it is safe to call more than once.
func NotifyShutdown(flag *ShutdownFlag, logger Logger, sigs ...os.Signal) (stop func()) {
	failfast.NotNil(flag, "shutdown flag")
	if logger == nil {
		logger = NewNopLogger()
	}
	if len(sigs) == 0 {
		sigs = []os.Signal{os.Interrupt, syscall.SIGTERM}
	}

	ch := make(chan os.Signal, 1)
	signal.Notify(ch, sigs...)
	quit := make(chan struct{})

	go func() {
		select {
		case sig := <-ch:
			if flag.Set() {
				logger.Infof("Received %s. Shutting down...", sig)
			}
		case <-quit:
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			signal.Stop(ch)
			close(quit)
		})
	}
}
