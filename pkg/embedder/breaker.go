package embedder

import (
	"context"
	"errors"
	"time"

	"github.com/sony/gobreaker"
)

// ErrCircuitOpen is returned while the breaker rejects calls after repeated
// provider failures.
var ErrCircuitOpen = errors.New("embedder: circuit breaker is open")

// BreakerConfig configures the circuit breaker.
type BreakerConfig struct {
	// MaxFailures is the number of consecutive failures that trips the circuit.
	// Default: 5
	MaxFailures uint32

	// Timeout is how long the circuit stays open before probing again.
	// Default: 30 seconds
	Timeout time.Duration

	// HalfOpenRequests is how many probe calls are let through while half-open.
	// Default: 1
	HalfOpenRequests uint32

	// OnStateChange is called on every state transition.
	OnStateChange func(from, to string)
}

// BreakerProvider fails fast while the wrapped provider is unhealthy.
// Context cancellation by the caller does not count as a provider failure.
type BreakerProvider struct {
	Provider
	breaker *gobreaker.CircuitBreaker
}

// NewBreakerProvider wraps p with a circuit breaker.
func NewBreakerProvider(p Provider, cfg BreakerConfig) *BreakerProvider {
	if cfg.MaxFailures == 0 {
		cfg.MaxFailures = 5
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.HalfOpenRequests == 0 {
		cfg.HalfOpenRequests = 1
	}

	settings := gobreaker.Settings{
		Name:        "embedder:" + p.Model(),
		MaxRequests: cfg.HalfOpenRequests,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.MaxFailures
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled) || errors.Is(err, ErrEmptyText)
		},
	}
	if cfg.OnStateChange != nil {
		settings.OnStateChange = func(_ string, from, to gobreaker.State) {
			cfg.OnStateChange(from.String(), to.String())
		}
	}

	return &BreakerProvider{Provider: p, breaker: gobreaker.NewCircuitBreaker(settings)}
}

// Embed runs the wrapped provider through the breaker.
func (b *BreakerProvider) Embed(ctx context.Context, text string) (*Embedding, error) {
	result, err := b.breaker.Execute(func() (interface{}, error) {
		return b.Provider.Embed(ctx, text)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, ErrCircuitOpen
		}
		return nil, err
	}
	return result.(*Embedding), nil
}

// State returns the breaker state as a string (closed, half-open, open).
func (b *BreakerProvider) State() string {
	return b.breaker.State().String()
}
