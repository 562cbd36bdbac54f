package cli

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/aretw0/concord/internal/logging"
)

// forceExitCode is used when a second signal arrives during shutdown.
const forceExitCode = 130

// SignalContext is cancelled by the first SIGINT or SIGTERM and remembers which one it was.
// A second signal before Stop exits the process immediately.
type SignalContext struct {
	context.Context
	Cancel context.CancelFunc

	logger   *slog.Logger
	exit     func(code int)
	sigCh    chan os.Signal
	stop     chan struct{}
	stopOnce sync.Once

	mu     sync.Mutex
	sigVal os.Signal
}

// NewSignalContext creates a context that is cancelled on SIGINT or SIGTERM.
// It acts as a drop-in replacement for signal.NotifyContext but allows retrieving the signal.
// Callers must Stop it once shutdown has finished.
func NewSignalContext(parent context.Context, logger *slog.Logger) *SignalContext {
	if logger == nil {
		logger = logging.NewNop()
	}
	ctx, cancel := context.WithCancel(parent)
	sc := &SignalContext{
		Context: ctx,
		Cancel:  cancel,
		logger:  logger,
		exit:    os.Exit,
		sigCh:   make(chan os.Signal, 1),
		stop:    make(chan struct{}),
	}
	signal.Notify(sc.sigCh, os.Interrupt, syscall.SIGTERM)
	go sc.watch()
	return sc
}

func (sc *SignalContext) watch() {
	select {
	case sig := <-sc.sigCh:
		sc.mu.Lock()
		sc.sigVal = sig
		sc.mu.Unlock()
		sc.logger.Info("Shutdown signal received, send it again to force exit", "signal", sig.String())
		sc.Cancel()
	case <-sc.Context.Done():
		// Context cancelled elsewhere
	case <-sc.stop:
		return
	}

	select {
	case sig := <-sc.sigCh:
		sc.logger.Warn("Forced exit", "signal", sig.String())
		sc.exit(forceExitCode)
	case <-sc.stop:
	}
}

// Stop cancels the context and releases the signal handlers.
func (sc *SignalContext) Stop() {
	sc.stopOnce.Do(func() {
		signal.Stop(sc.sigCh)
		close(sc.stop)
		sc.Cancel()
	})
}

// Signal returns the signal that caused the context to be cancelled, or nil.
func (sc *SignalContext) Signal() os.Signal {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	return sc.sigVal
}
