// Package retry retries operations with exponential backoff and jitter.
// Only errors classified as transient are retried, and every wait honours the
// caller's context so a fan-out deadline also stops the retries.
package retry

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog/log"

	"github.com/Sternrassler/usersvc/pkg/fanout"
)

// Prometheus metrics for retry operations.
var (
	retriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "retry_attempts_total",
		Help: "Total number of retry attempts by error class",
	}, []string{"error_class"})

	retryBackoffSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "retry_backoff_seconds",
		Help:    "Backoff duration before a retry",
		Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2},
	})

	retryExhaustedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "retry_exhausted_total",
		Help: "Total number of operations that exhausted their retry attempts",
	})
)

// Common errors returned by Do.
var (
	// ErrRetryExhausted is returned when all retry attempts are exhausted.
	ErrRetryExhausted = errors.New("retry attempts exhausted")

	// ErrInterrupted is returned when the context ends during a backoff wait.
	// The context error is wrapped as well.
	ErrInterrupted = errors.New("retry interrupted")
)

// Class is the retry classification of an error.
type Class string

const (
	// ClassTransient errors are retried.
	ClassTransient Class = "transient"

	// ClassPermanent errors are returned immediately.
	ClassPermanent Class = "permanent"
)

// Classifier maps an error to its Class.
type Classifier func(error) Class

// Config holds the configuration for retry logic.
type Config struct {
	// MaxAttempts is the maximum number of attempts (including the first one).
	MaxAttempts int

	// InitialBackoff is the wait before the first retry.
	InitialBackoff time.Duration

	// MaxBackoff caps the wait between attempts.
	MaxBackoff time.Duration

	// Multiplier is the exponential growth factor of the backoff.
	Multiplier float64
}

// DefaultConfig returns a configuration suited to store lookups: short waits,
// so retries fit inside a per-item fetch deadline.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:    3,
		InitialBackoff: 50 * time.Millisecond,
		MaxBackoff:     time.Second,
		Multiplier:     2.0,
	}
}

// Do runs fn until it succeeds, returns a permanent error, the attempts are
// exhausted, or ctx ends.
func Do(ctx context.Context, cfg Config, classify Classifier, fn func(context.Context) error) error {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}

	var lastErr error
	backoff := cfg.InitialBackoff

	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		err := fn(ctx)
		if err == nil {
			if attempt > 1 {
				log.Info().
					Str("component", "retry").
					Int("attempt", attempt).
					Msg("Operation succeeded after retry")
			}
			return nil
		}
		lastErr = err

		class := classify(err)
		if class != ClassTransient {
			return err
		}
		if attempt >= cfg.MaxAttempts {
			break
		}

		retriesTotal.WithLabelValues(string(class)).Inc()

		// ±20% jitter
		wait := time.Duration(float64(backoff) * (0.8 + rand.Float64()*0.4))
		retryBackoffSeconds.Observe(wait.Seconds())

		log.Debug().
			Str("component", "retry").
			Err(err).
			Str("error_class", string(class)).
			Int("attempt", attempt).
			Dur("backoff", wait).
			Msg("Retrying after backoff")

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			log.Warn().
				Str("component", "retry").
				Int("attempt", attempt).
				Msg("Context ended during retry backoff")
			return fmt.Errorf("%w after %d attempts: %w", ErrInterrupted, attempt, ctx.Err())
		case <-timer.C:
		}

		backoff = time.Duration(float64(backoff) * cfg.Multiplier)
		if cfg.MaxBackoff > 0 && backoff > cfg.MaxBackoff {
			backoff = cfg.MaxBackoff
		}
	}

	retryExhaustedTotal.Inc()
	log.Warn().
		Str("component", "retry").
		Err(lastErr).
		Int("max_attempts", cfg.MaxAttempts).
		Msg("Retry attempts exhausted")

	return fmt.Errorf("%w after %d attempts: %w", ErrRetryExhausted, cfg.MaxAttempts, lastErr)
}

// Wrap decorates a fetch capability so transient failures are retried.
func Wrap[K comparable, V any](cfg Config, classify Classifier, fetch fanout.FetchFunc[K, V]) fanout.FetchFunc[K, V] {
	return func(ctx context.Context, key K) (V, error) {
		var value V
		err := Do(ctx, cfg, classify, func(ctx context.Context) error {
			v, err := fetch(ctx, key)
			if err != nil {
				return err
			}
			value = v
			return nil
		})
		return value, err
	}
}
