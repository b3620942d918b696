// Package metrics serves the tap's Prometheus metrics while a sync runs.
// All metrics are defined in their respective packages (client, cache,
// ratelimit, auth, tap, singer) and registered via promauto.
package metrics

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

// Registry is the default Prometheus registry used by the tap.
// All metrics are automatically registered via promauto in their respective packages.
var Registry = prometheus.DefaultRegisterer

// Gatherer is the registry the /metrics endpoint exposes.
var Gatherer = prometheus.DefaultGatherer

// ShutdownTimeout bounds the graceful shutdown of the server.
const ShutdownTimeout = 5 * time.Second

// Metrics Documentation
//
// Auth Metrics (pkg/auth):
//   - lightcast_token_requests_total{outcome} (Counter): OAuth token requests
//
// Rate Limit Metrics (pkg/ratelimit):
//   - lightcast_rate_limit_remaining (Gauge): Requests remaining in the current window
//   - lightcast_rate_limit_waits_total (Counter): Requests that waited for the window to reset
//   - lightcast_rate_limit_throttles_total (Counter): Requests throttled due to low quota
//
// Cache Metrics (pkg/cache):
//   - lightcast_cache_hits_total (Counter): Cache hits
//   - lightcast_cache_misses_total (Counter): Cache misses
//   - lightcast_cache_size_bytes (Gauge): Size of the last stored entry
//   - lightcast_304_responses_total (Counter): 304 Not Modified responses
//   - lightcast_conditional_requests_total (Counter): Conditional requests sent
//   - lightcast_cache_errors_total{operation} (Counter): Cache operation errors
//
// Request Metrics (pkg/client):
//   - lightcast_requests_total{endpoint, status} (Counter): Requests by endpoint and HTTP status
//   - lightcast_request_duration_seconds{endpoint} (Histogram): Request duration by endpoint
//   - lightcast_errors_total{class} (Counter): Errors by class (client, server, rate_limit, network, auth)
//
// Retry Metrics (pkg/client):
//   - lightcast_retries_total{error_class} (Counter): Retry attempts by error class
//   - lightcast_retry_backoff_seconds{error_class} (Histogram): Backoff duration by error class
//   - lightcast_retry_exhausted_total{error_class} (Counter): Requests that exhausted their attempts
//
// Sync Metrics (pkg/tap, pkg/singer):
//   - lightcast_tap_records_total{stream} (Counter): Records extracted by stream
//   - lightcast_tap_stream_requests_total{stream} (Counter): Stream requests by stream
//   - lightcast_tap_sync_duration_seconds (Histogram): Duration of a full sync
//   - lightcast_singer_messages_total{type, stream} (Counter): Singer messages written
//
// Example Prometheus Queries:
//
//   # Cache Hit Rate
//   sum(rate(lightcast_cache_hits_total[5m])) /
//   (sum(rate(lightcast_cache_hits_total[5m])) + sum(rate(lightcast_cache_misses_total[5m])))
//
//   # Detail throughput
//   rate(lightcast_tap_records_total{stream="skills_details"}[1m])
//
//   # P95 Request Latency
//   histogram_quantile(0.95, rate(lightcast_request_duration_seconds_bucket[5m]))

// NewHandler returns the mux serving /metrics and /health.
func NewHandler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(Gatherer, promhttp.HandlerOpts{}))
	mux.HandleFunc("/health", healthHandler)
	return mux
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, "OK")
}

// Serve listens on addr until ctx is done, then shuts down gracefully.
// A clean shutdown returns nil.
func Serve(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}
	return serve(ctx, ln)
}

func serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           NewHandler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", ln.Addr().String()).Msg("Serving metrics")
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("metrics server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown metrics server: %w", err)
	}
	return nil
}
