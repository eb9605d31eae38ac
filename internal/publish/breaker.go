package publish

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
	cb "github.com/sony/gobreaker"
	"stealthcompany.com/snsreview/internal/review"
)

// Breaker fails publishes fast while the downstream publisher keeps failing.
// It never retries; a tripped breaker is just another publish failure.
type Breaker struct {
	next review.Publisher
	cb   *cb.CircuitBreaker
}

// NewBreaker wraps next. The breaker opens after failures consecutive
// failures and half-opens after cooldown.
func NewBreaker(next review.Publisher, failures uint32, cooldown time.Duration) *Breaker {
	settings := cb.Settings{
		Name:        "publish",
		MaxRequests: 1,
		Timeout:     cooldown,
		ReadyToTrip: func(counts cb.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		OnStateChange: func(name string, from, to cb.State) {
			log.Warn().
				Str("name", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("Circuit breaker state change")
		},
	}
	return &Breaker{next: next, cb: cb.NewCircuitBreaker(settings)}
}

// Publish forwards p unless the breaker is open
func (b *Breaker) Publish(ctx context.Context, p review.Post) error {
	_, err := b.cb.Execute(func() (interface{}, error) {
		return nil, b.next.Publish(ctx, p)
	})
	return err
}

// State reports the breaker state
func (b *Breaker) State() string {
	return b.cb.State().String()
}
