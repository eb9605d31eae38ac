package orchestrator

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
)

// SignalHandler manages OS signals for graceful shutdown
type SignalHandler struct {
	sigChan chan os.Signal
}

// NewSignalHandler creates a new signal handler
func NewSignalHandler() *SignalHandler {
	sh := &SignalHandler{
		sigChan: make(chan os.Signal, 1),
	}

	signal.Notify(sh.sigChan, syscall.SIGINT, syscall.SIGTERM)

	return sh
}

// HandleSignals cancels the context on the first shutdown signal. A second
// signal exits immediately.
func (sh *SignalHandler) HandleSignals(ctx context.Context, cancel context.CancelFunc) {
	go func() {
		select {
		case sig := <-sh.sigChan:
			log.Info().Str("signal", sig.String()).Msg("Received shutdown signal")
			cancel()
		case <-ctx.Done():
			return
		}

		sig := <-sh.sigChan
		log.Warn().Str("signal", sig.String()).Msg("Received second signal, exiting")
		os.Exit(1)
	}()
}

// Stop stops signal delivery
func (sh *SignalHandler) Stop() {
	signal.Stop(sh.sigChan)
}
