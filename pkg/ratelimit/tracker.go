package ratelimit

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

// Prometheus metrics for rate limit tracking.
var (
	lightcastRateLimitRemaining = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "lightcast_rate_limit_remaining",
		Help: "Requests remaining in the current Lightcast rate limit window",
	})

	lightcastRateLimitWaitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "lightcast_rate_limit_waits_total",
		Help: "Total number of requests that waited for the rate limit window to reset",
	})

	lightcastRateLimitThrottlesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "lightcast_rate_limit_throttles_total",
		Help: "Total number of requests throttled due to low remaining quota",
	})
)

// DefaultThrottleDelay is the pause applied to requests in the warning range.
const DefaultThrottleDelay = 1 * time.Second

// Tracker holds the quota state of a single tap process and gates requests.
type Tracker struct {
	mu            sync.Mutex
	state         *RateLimitState
	throttleDelay time.Duration
	logger        zerolog.Logger
}

// NewTracker creates a new rate limit tracker starting from a healthy state.
func NewTracker(logger zerolog.Logger) *Tracker {
	return &Tracker{
		throttleDelay: DefaultThrottleDelay,
		logger:        logger,
	}
}

// SetThrottleDelay overrides the pause used in the warning range.
func (t *Tracker) SetThrottleDelay(d time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.throttleDelay = d
}

// GetState returns a copy of the current state. Before any response has been
// seen the state is healthy.
func (t *Tracker) GetState() RateLimitState {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.state == nil {
		return RateLimitState{
			Remaining:  100,
			ResetAt:    time.Now(),
			LastUpdate: time.Now(),
			IsHealthy:  true,
		}
	}
	return *t.state
}

// UpdateFromHeaders parses the quota headers of a response.
// Responses without RateLimit-Remaining leave the state untouched.
func (t *Tracker) UpdateFromHeaders(headers http.Header) error {
	remainStr := headers.Get(HeaderRemaining)
	if remainStr == "" {
		return nil
	}

	remain, err := strconv.Atoi(remainStr)
	if err != nil {
		return fmt.Errorf("parse %s header: %w", HeaderRemaining, err)
	}

	resetSeconds := 0
	if resetStr := headers.Get(HeaderReset); resetStr != "" {
		resetSeconds, err = strconv.Atoi(resetStr)
		if err != nil {
			return fmt.Errorf("parse %s header: %w", HeaderReset, err)
		}
	}

	now := time.Now()
	state := &RateLimitState{
		Remaining:  remain,
		ResetAt:    now.Add(time.Duration(resetSeconds) * time.Second),
		LastUpdate: now,
	}
	state.UpdateHealth()

	t.mu.Lock()
	t.state = state
	t.mu.Unlock()

	lightcastRateLimitRemaining.Set(float64(remain))

	if state.NeedsThrottling() || remain < RemainingThresholdCritical {
		t.logger.Warn().
			Int("remaining", remain).
			Time("reset_at", state.ResetAt).
			Msg("Lightcast rate limit running low")
	} else {
		t.logger.Debug().
			Int("remaining", remain).
			Time("reset_at", state.ResetAt).
			Msg("Lightcast rate limit state updated")
	}

	return nil
}

// BlockFor marks the quota as exhausted for d, as instructed by a
// Retry-After header on a 429 response.
func (t *Tracker) BlockFor(d time.Duration) {
	if d <= 0 {
		return
	}
	now := time.Now()
	state := &RateLimitState{
		Remaining:  0,
		ResetAt:    now.Add(d),
		LastUpdate: now,
	}

	t.mu.Lock()
	t.state = state
	t.mu.Unlock()

	lightcastRateLimitRemaining.Set(0)
	t.logger.Warn().Dur("retry_after", d).Msg("Lightcast rate limit exceeded")
}

// Wait blocks until a request may be sent. It returns early with the
// context's error if ctx is done first.
func (t *Tracker) Wait(ctx context.Context) error {
	state := t.GetState()

	var delay time.Duration
	switch {
	case state.NeedsCriticalBlock():
		delay = state.TimeUntilReset()
		lightcastRateLimitWaitsTotal.Inc()
		t.logger.Warn().
			Int("remaining", state.Remaining).
			Dur("wait_duration", delay).
			Msg("Lightcast quota exhausted - waiting for reset")
	case state.NeedsThrottling():
		t.mu.Lock()
		delay = t.throttleDelay
		t.mu.Unlock()
		lightcastRateLimitThrottlesTotal.Inc()
		t.logger.Debug().
			Int("remaining", state.Remaining).
			Msg("Lightcast quota low - throttling request")
	default:
		return nil
	}

	if delay <= 0 {
		return nil
	}

	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// ParseRetryAfter reads a Retry-After header given in seconds or as an HTTP date.
// It returns 0 when the header is absent or invalid.
func ParseRetryAfter(headers http.Header) time.Duration {
	v := headers.Get(HeaderRetryAfter)
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil {
		if secs < 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(v); err == nil {
		if d := time.Until(at); d > 0 {
			return d
		}
	}
	return 0
}
