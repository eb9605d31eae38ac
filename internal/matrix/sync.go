package matrix

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog/log"
)

// syncer is the long-poll part of the gomatrix client
type syncer interface {
	Sync() error
	StopSync()
}

// healthyRun is how long a sync must last before failures back off from
// the initial interval again
const healthyRun = time.Minute

// RunSync runs the sync loop until ctx is cancelled, restarting it with
// exponential backoff after failures
func RunSync(ctx context.Context, client syncer) error {
	stop := context.AfterFunc(ctx, client.StopSync)
	defer stop()

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = time.Second
	b.MaxInterval = 2 * time.Minute
	b.MaxElapsedTime = 0

	op := func() error {
		if ctx.Err() != nil {
			return backoff.Permanent(ctx.Err())
		}
		started := time.Now()
		err := client.Sync()
		if ctx.Err() != nil {
			return backoff.Permanent(ctx.Err())
		}
		if time.Since(started) > healthyRun {
			b.Reset()
		}
		if err == nil {
			err = errors.New("sync stopped unexpectedly")
		}
		return err
	}

	notify := func(err error, wait time.Duration) {
		log.Warn().Err(err).Dur("retry_in", wait).Msg("Matrix sync failed, restarting")
	}

	log.Info().Msg("Matrix sync started")
	err := backoff.RetryNotify(op, backoff.WithContext(b, ctx), notify)
	log.Info().Msg("Matrix sync stopped")

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return nil
	}
	return err
}
