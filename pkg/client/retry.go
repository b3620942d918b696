package client

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog/log"
)

// Prometheus metrics for retry operations.
var (
	lightcastRetriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lightcast_retries_total",
		Help: "Total number of retry attempts by error class",
	}, []string{"error_class"})

	lightcastRetryBackoffSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "lightcast_retry_backoff_seconds",
		Help:    "Backoff duration for retries by error class",
		Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60},
	}, []string{"error_class"})

	lightcastRetryExhaustedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lightcast_retry_exhausted_total",
		Help: "Total number of times retry attempts were exhausted by error class",
	}, []string{"error_class"})
)

// DefaultMaxAttempts is the number of attempts per request, the first one included.
const DefaultMaxAttempts = 3

// RetryConfig holds the backoff schedule of one error class.
type RetryConfig struct {
	// InitialBackoff is the initial backoff duration.
	InitialBackoff time.Duration

	// MaxBackoff is the maximum backoff duration.
	MaxBackoff time.Duration

	// BackoffMultiplier is the multiplier for exponential backoff.
	BackoffMultiplier float64
}

// DefaultRetryConfig returns the default retry configuration.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		InitialBackoff:    1 * time.Second,
		MaxBackoff:        30 * time.Second,
		BackoffMultiplier: 2.0,
	}
}

// RetryConfigForErrorClass returns the backoff schedule for an error class.
func RetryConfigForErrorClass(errorClass ErrorClass) RetryConfig {
	switch errorClass {
	case ErrorClassServer:
		return RetryConfig{
			InitialBackoff:    1 * time.Second,
			MaxBackoff:        10 * time.Second,
			BackoffMultiplier: 2.0,
		}
	case ErrorClassRateLimit:
		return RetryConfig{
			InitialBackoff:    5 * time.Second,
			MaxBackoff:        60 * time.Second,
			BackoffMultiplier: 2.0,
		}
	case ErrorClassNetwork:
		return RetryConfig{
			InitialBackoff:    2 * time.Second,
			MaxBackoff:        30 * time.Second,
			BackoffMultiplier: 2.0,
		}
	default:
		return DefaultRetryConfig()
	}
}

// classBackOff keeps one exponential schedule per error class and picks the
// schedule of the most recent failure. A server-requested Retry-After wins
// over a shorter computed delay.
type classBackOff struct {
	policy     func(ErrorClass) RetryConfig
	schedules  map[ErrorClass]*backoff.ExponentialBackOff
	class      ErrorClass
	retryAfter time.Duration
}

func newClassBackOff(policy func(ErrorClass) RetryConfig) *classBackOff {
	return &classBackOff{
		policy:    policy,
		schedules: make(map[ErrorClass]*backoff.ExponentialBackOff),
	}
}

func (b *classBackOff) observe(class ErrorClass, err error) {
	b.class = class
	b.retryAfter = 0
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		b.retryAfter = apiErr.RetryAfter
	}
}

func (b *classBackOff) NextBackOff() time.Duration {
	schedule, ok := b.schedules[b.class]
	if !ok {
		cfg := b.policy(b.class)
		schedule = backoff.NewExponentialBackOff()
		schedule.InitialInterval = cfg.InitialBackoff
		schedule.MaxInterval = cfg.MaxBackoff
		schedule.Multiplier = cfg.BackoffMultiplier
		schedule.RandomizationFactor = 0.2
		schedule.MaxElapsedTime = 0
		schedule.Reset()
		b.schedules[b.class] = schedule
	}

	next := schedule.NextBackOff()
	if b.retryAfter > next {
		next = b.retryAfter
	}
	return next
}

func (b *classBackOff) Reset() {
	b.schedules = make(map[ErrorClass]*backoff.ExponentialBackOff)
	b.class = ""
	b.retryAfter = 0
}

// retryWithBackoff runs fn until it succeeds, fails with a non-retriable
// class, maxAttempts is reached, or ctx is done.
func retryWithBackoff(ctx context.Context, maxAttempts int, policy func(ErrorClass) RetryConfig, fn func() error, classify func(error) ErrorClass) error {
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	schedule := newClassBackOff(policy)
	attempts := 0
	permanent := false
	var lastClass ErrorClass

	operation := func() error {
		attempts++
		err := fn()
		if err == nil {
			if attempts > 1 {
				log.Info().
					Str("error_class", string(lastClass)).
					Int("attempt", attempts).
					Msg("Request succeeded after retry")
			}
			return nil
		}

		lastClass = classify(err)
		schedule.observe(lastClass, err)
		if !shouldRetry(lastClass) {
			permanent = true
			return backoff.Permanent(err)
		}
		return err
	}

	notify := func(err error, wait time.Duration) {
		lightcastRetriesTotal.WithLabelValues(string(lastClass)).Inc()
		lightcastRetryBackoffSeconds.WithLabelValues(string(lastClass)).Observe(wait.Seconds())
		log.Warn().
			Err(err).
			Str("error_class", string(lastClass)).
			Int("attempt", attempts).
			Dur("backoff", wait).
			Msg("Retrying request after backoff")
	}

	b := backoff.WithContext(backoff.WithMaxRetries(schedule, uint64(maxAttempts-1)), ctx)
	err := backoff.RetryNotify(operation, b, notify)
	if err == nil || permanent {
		return err
	}

	if ctxErr := ctx.Err(); ctxErr != nil {
		log.Warn().
			Str("error_class", string(lastClass)).
			Int("attempt", attempts).
			Msg("Context cancelled during retry backoff")
		return fmt.Errorf("%w: %v", ErrContextCancelled, ctxErr)
	}

	lightcastRetryExhaustedTotal.WithLabelValues(string(lastClass)).Inc()
	log.Warn().
		Str("error_class", string(lastClass)).
		Int("max_attempts", maxAttempts).
		Msg("Retry attempts exhausted")

	return fmt.Errorf("%w after %d attempts: %w", ErrRetryExhausted, attempts, err)
}
