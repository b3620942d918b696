// Package client provides the Lightcast HTTP client with bearer
// authentication, rate limiting, response caching and retries.
package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/Sternrassler/tap-lightcast/pkg/cache"
	"github.com/Sternrassler/tap-lightcast/pkg/ratelimit"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/tidwall/gjson"
)

// Prometheus metrics for Lightcast client operations.
var (
	lightcastRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lightcast_requests_total",
		Help: "Total Lightcast requests by endpoint and status",
	}, []string{"endpoint", "status"})

	lightcastRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "lightcast_request_duration_seconds",
		Help:    "Lightcast request duration in seconds by endpoint",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10},
	}, []string{"endpoint"})

	lightcastErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lightcast_errors_total",
		Help: "Total Lightcast errors by class",
	}, []string{"class"})
)

// DefaultBaseURL is the Lightcast skills API root.
const DefaultBaseURL = "https://emsiservices.com/skills"

// Authorizer sets credentials on an outgoing request.
type Authorizer interface {
	Authorize(req *http.Request) error
}

// Client is the Lightcast API client.
type Client struct {
	httpClient  *http.Client
	auth        Authorizer
	rateLimiter *ratelimit.Tracker
	cache       *cache.Manager
	retryPolicy func(ErrorClass) RetryConfig
	config      Config
	logger      zerolog.Logger
}

// Config holds the client configuration.
type Config struct {
	// BaseURL is prefixed to every endpoint passed to Get.
	BaseURL string

	// Auth authorizes every attempt (required).
	Auth Authorizer

	// UserAgent header sent with each request.
	UserAgent string

	// Cache is optional; nil disables response caching.
	Cache *cache.Manager

	// MaxAttempts per request, the first one included.
	MaxAttempts int

	// Timeout per attempt.
	Timeout time.Duration
}

// DefaultConfig returns a safe default configuration.
func DefaultConfig(auth Authorizer, userAgent string) Config {
	return Config{
		BaseURL:     DefaultBaseURL,
		Auth:        auth,
		UserAgent:   userAgent,
		MaxAttempts: DefaultMaxAttempts,
		Timeout:     30 * time.Second,
	}
}

// New creates a new Lightcast client.
func New(cfg Config) (*Client, error) {
	if cfg.Auth == nil {
		return nil, fmt.Errorf("authorizer is required")
	}
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("base url is required")
	}
	if _, err := url.Parse(cfg.BaseURL); err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if cfg.UserAgent == "" {
		return nil, fmt.Errorf("user-agent is required")
	}
	if cfg.MaxAttempts < 1 {
		return nil, fmt.Errorf("max_attempts must be >= 1 (got %d)", cfg.MaxAttempts)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")

	logger := log.With().Str("component", "lightcast-client").Logger()

	return &Client{
		httpClient:  &http.Client{Timeout: cfg.Timeout},
		auth:        cfg.Auth,
		rateLimiter: ratelimit.NewTracker(logger),
		cache:       cfg.Cache,
		retryPolicy: RetryConfigForErrorClass,
		config:      cfg,
		logger:      logger,
	}, nil
}

// Do performs an HTTP request with rate limiting, caching, and error handling.
// Non-2xx answers that are not retried are returned as responses; the
// caller decides what they mean.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	ctx := req.Context()
	endpoint := endpointLabel(req.URL.Path)

	startTime := time.Now()
	defer func() {
		lightcastRequestDuration.WithLabelValues(endpoint).Observe(time.Since(startTime).Seconds())
	}()

	if err := c.rateLimiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit wait: %w", err)
	}

	cacheKey := cache.CacheKey{
		Endpoint:    req.URL.Path,
		QueryParams: req.URL.Query(),
	}

	var cachedEntry *cache.CacheEntry
	if c.cache != nil {
		entry, err := c.cache.Get(ctx, cacheKey)
		switch {
		case err == nil:
			cachedEntry = entry
		case !errors.Is(err, cache.ErrCacheMiss):
			c.logger.Warn().Err(err).Str("endpoint", req.URL.Path).Msg("Cache get error")
		}
	}

	if cachedEntry != nil && cachedEntry.StatusCode == http.StatusOK && cacheKey.IsVersioned() {
		// Version-scoped data never changes; no need to ask the server.
		c.logger.Debug().Str("endpoint", req.URL.Path).Msg("Serving immutable response from cache")
		lightcastRequestsTotal.WithLabelValues(endpoint, "cached").Inc()
		return cache.EntryToResponse(cachedEntry, req), nil
	}

	if cachedEntry != nil && cache.ShouldMakeConditionalRequest(cachedEntry) {
		cache.AddConditionalHeaders(req, cachedEntry)
		cache.ConditionalRequestsSent.Inc()
		c.logger.Debug().
			Str("endpoint", req.URL.Path).
			Str("etag", cachedEntry.ETag).
			Msg("Making conditional request")
	}

	req.Header.Set("User-Agent", c.config.UserAgent)
	req.Header.Set("Accept", "application/json")

	c.logger.Debug().
		Str("endpoint", req.URL.Path).
		Str("query", req.URL.RawQuery).
		Str("method", req.Method).
		Msg("Executing Lightcast request")

	var resp *http.Response
	var errClass ErrorClass

	retryErr := retryWithBackoff(ctx, c.config.MaxAttempts, c.retryPolicy, func() error {
		resp = nil

		if err := c.auth.Authorize(req); err != nil {
			errClass = ErrorClassAuth
			lightcastErrorsTotal.WithLabelValues(string(errClass)).Inc()
			return err
		}

		var reqErr error
		resp, reqErr = c.httpClient.Do(req)
		if reqErr != nil {
			c.logger.Warn().Err(reqErr).Str("endpoint", req.URL.Path).Msg("HTTP request failed")
			errClass = c.classifyError(nil, reqErr)
			lightcastErrorsTotal.WithLabelValues(string(errClass)).Inc()
			lightcastRequestsTotal.WithLabelValues(endpoint, "network_error").Inc()
			return reqErr
		}

		if err := c.rateLimiter.UpdateFromHeaders(resp.Header); err != nil {
			c.logger.Warn().Err(err).Msg("Failed to update rate limit from headers")
		}

		status := strconv.Itoa(resp.StatusCode)
		errClass = c.classifyError(resp, nil)
		if errClass == "" {
			lightcastRequestsTotal.WithLabelValues(endpoint, status).Inc()
			return nil
		}

		lightcastErrorsTotal.WithLabelValues(string(errClass)).Inc()
		lightcastRequestsTotal.WithLabelValues(endpoint, status).Inc()
		c.logger.Warn().
			Str("endpoint", req.URL.Path).
			Int("status_code", resp.StatusCode).
			Str("error_class", string(errClass)).
			Msg("Lightcast request error")

		if !shouldRetry(errClass) {
			return nil
		}

		apiErr := &APIError{
			StatusCode: resp.StatusCode,
			ErrorClass: errClass,
			Endpoint:   req.URL.Path,
			Message:    resp.Status,
		}
		if errClass == ErrorClassRateLimit {
			apiErr.RetryAfter = ratelimit.ParseRetryAfter(resp.Header)
			c.rateLimiter.BlockFor(apiErr.RetryAfter)
		}
		drainAndClose(resp)
		resp = nil
		return apiErr
	}, func(error) ErrorClass {
		return errClass
	})

	if retryErr != nil {
		if resp != nil {
			drainAndClose(resp)
		}
		return nil, retryErr
	}

	if resp.StatusCode == http.StatusNotModified && cachedEntry != nil {
		c.logger.Debug().Str("endpoint", req.URL.Path).Msg("304 Not Modified - using cache")
		cache.NotModifiedResponses.Inc()

		if expiresStr := resp.Header.Get("Expires"); expiresStr != "" {
			if newExpires, err := http.ParseTime(expiresStr); err == nil {
				if err := c.cache.UpdateTTL(ctx, cacheKey, newExpires); err != nil {
					c.logger.Warn().Err(err).Msg("Failed to update cache TTL")
				}
			}
		}

		drainAndClose(resp)
		return cache.EntryToResponse(cachedEntry, req), nil
	}

	if c.cache != nil && resp.StatusCode == http.StatusOK {
		entry, err := cache.ResponseToEntry(resp)
		if err != nil {
			return nil, fmt.Errorf("read response: %w", err)
		}
		if err := c.cache.Set(ctx, cacheKey, entry); err != nil {
			c.logger.Warn().Err(err).Msg("Failed to cache response")
		}
	}

	return resp, nil
}

// classifyError categorizes a failure for observability and retry.
func (c *Client) classifyError(resp *http.Response, err error) ErrorClass {
	if err != nil {
		return ErrorClassNetwork
	}
	return classifyStatus(resp.StatusCode)
}

// Get performs a GET request against BaseURL + endpoint.
func (c *Client) Get(ctx context.Context, endpoint string, query url.Values) (*http.Response, error) {
	u := c.config.BaseURL + "/" + strings.TrimLeft(endpoint, "/")
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	return c.Do(req)
}

// GetJSON performs a GET and returns the body of a 2xx response.
// Any other status yields an *APIError.
func (c *Client) GetJSON(ctx context.Context, endpoint string, query url.Values) ([]byte, error) {
	resp, err := c.Get(ctx, endpoint, query)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &APIError{
			StatusCode: resp.StatusCode,
			ErrorClass: classifyStatus(resp.StatusCode),
			Endpoint:   resp.Request.URL.Path,
			Message:    errorMessage(resp.Status, body),
		}
	}

	return body, nil
}

// Close releases idle connections.
func (c *Client) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}

// RateLimiter returns the rate limit tracker.
func (c *Client) RateLimiter() *ratelimit.Tracker {
	return c.rateLimiter
}

// errorMessage prefers the first error detail of a Lightcast error body
// ({"errors":[{"title":…,"detail":…}]}) over the bare status line.
func errorMessage(status string, body []byte) string {
	if !gjson.ValidBytes(body) {
		return status
	}
	first := gjson.GetBytes(body, "errors.0")
	if !first.Exists() {
		if msg := gjson.GetBytes(body, "message"); msg.Exists() {
			return msg.String()
		}
		return status
	}
	title := first.Get("title").String()
	detail := first.Get("detail").String()
	switch {
	case title != "" && detail != "":
		return title + ": " + detail
	case detail != "":
		return detail
	case title != "":
		return title
	default:
		return status
	}
}

// endpointLabel collapses version and skill ids so the metric label set stays bounded.
func endpointLabel(path string) string {
	segments := strings.Split(strings.Trim(path, "/"), "/")
	for i := 1; i < len(segments); i++ {
		switch {
		case segments[i-1] == "versions":
			segments[i] = ":version"
		case segments[i-1] == "skills" && i >= 2 && segments[i-2] == ":version":
			segments[i] = ":id"
		}
	}
	return "/" + strings.Join(segments, "/")
}

func drainAndClose(resp *http.Response) {
	_, _ = io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
}
