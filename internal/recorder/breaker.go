package recorder

import (
	"context"
	"log/slog"
	"time"

	"github.com/machioali/LanguageHelp-sub000/internal/domain"
	"github.com/sony/gobreaker"
)

// Breaker wraps a SessionRecorder with a circuit breaker. Once the database
// starts failing, finalize events fail fast instead of stacking up timeouts
// behind session teardown.
type Breaker struct {
	inner domain.SessionRecorder
	cb    *gobreaker.CircuitBreaker
}

// NewBreaker wraps a recorder. Trips after 5 consecutive failures; probes
// again after 30 seconds.
func NewBreaker(inner domain.SessionRecorder) *Breaker {
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "session-recorder",
		MaxRequests: 1,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			slog.Warn("Circuit breaker state changed",
				"component", name, "from", from.String(), "to", to.String())
		},
	})
	return &Breaker{inner: inner, cb: cb}
}

func (b *Breaker) RecordCompletedSession(ctx context.Context, rec domain.CompletedSession) error {
	_, err := b.cb.Execute(func() (any, error) {
		return nil, b.inner.RecordCompletedSession(ctx, rec)
	})
	return err
}
