package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

// Component is a long-running part of the bot. Run must return once ctx
// is cancelled.
type Component struct {
	Name string
	Run  func(ctx context.Context) error
}

// Runner manages the lifecycle of the bot's components
type Runner struct {
	components []Component
}

// NewRunner creates an empty runner
func NewRunner() *Runner {
	return &Runner{}
}

// Add registers a component
func (r *Runner) Add(name string, run func(ctx context.Context) error) {
	r.components = append(r.components, Component{Name: name, Run: run})
}

// Run starts every component and waits until all stopped. The first
// component to fail stops the others.
func (r *Runner) Run(ctx context.Context) error {
	if len(r.components) == 0 {
		return errors.New("no components to run")
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, c := range r.components {
		c := c
		log.Info().Str("component", c.Name).Msg("Starting component")
		g.Go(func() error {
			err := c.Run(gctx)
			if err != nil && !errors.Is(err, context.Canceled) {
				log.Error().Err(err).Str("component", c.Name).Msg("Component failed")
				return fmt.Errorf("%s: %w", c.Name, err)
			}
			log.Info().Str("component", c.Name).Msg("Component stopped")
			return nil
		})
	}
	return g.Wait()
}

// HTTPServer adapts srv to a component that shuts down gracefully within
// timeout once ctx is cancelled
func HTTPServer(srv *http.Server, timeout time.Duration) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		errCh := make(chan error, 1)
		go func() {
			log.Info().Str("addr", srv.Addr).Msg("Server starting")
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- err
			}
			close(errCh)
		}()

		select {
		case err, ok := <-errCh:
			if ok {
				return fmt.Errorf("failed to start server: %w", err)
			}
			return nil
		case <-ctx.Done():
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server forced to shutdown: %w", err)
		}
		return nil
	}
}
