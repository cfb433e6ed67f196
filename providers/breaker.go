package providers

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

// BreakerConfig tunes the circuit breaker placed in front of an adapter's Pay.
type BreakerConfig struct {
	// ConsecutiveFailures trips the breaker.
	ConsecutiveFailures uint32
	// OpenTimeout is how long the breaker stays open before probing again.
	OpenTimeout time.Duration
	// HalfOpenRequests is how many trial requests pass while half-open.
	HalfOpenRequests uint32
}

func (c BreakerConfig) withDefaults() BreakerConfig {
	if c.ConsecutiveFailures == 0 {
		c.ConsecutiveFailures = 5
	}
	if c.OpenTimeout == 0 {
		c.OpenTimeout = 30 * time.Second
	}
	if c.HalfOpenRequests == 0 {
		c.HalfOpenRequests = 1
	}
	return c
}

// BreakerProvider fails Pay fast while the wrapped provider keeps erroring, so
// the orchestrator moves on to the fallback without waiting on a dead upstream.
// Confirm is never short-circuited: a pending charge must always be queryable.
type BreakerProvider struct {
	BillingProvider
	cb *gobreaker.CircuitBreaker
}

// WithBreaker wraps p.
func WithBreaker(p BillingProvider, cfg BreakerConfig, logger *zap.Logger) *BreakerProvider {
	cfg = cfg.withDefaults()
	settings := gobreaker.Settings{
		Name:        string(p.Name()),
		MaxRequests: cfg.HalfOpenRequests,
		Timeout:     cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.ConsecutiveFailures
		},
		// Requests we could never have sent say nothing about provider health.
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, ErrUnsupportedCategory)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("Provider circuit state changed",
				zap.String("provider", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	}
	return &BreakerProvider{BillingProvider: p, cb: gobreaker.NewCircuitBreaker(settings)}
}

func (b *BreakerProvider) Pay(ctx context.Context, req PayRequest) (Result, error) {
	out, err := b.cb.Execute(func() (interface{}, error) {
		return b.BillingProvider.Pay(ctx, req)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return Result{}, fmt.Errorf("%s Pay: %w", b.Name(), err)
	}
	res, _ := out.(Result)
	return res, err
}

// State reports the breaker state, for diagnostics.
func (b *BreakerProvider) State() string {
	return b.cb.State().String()
}
