package client

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Sternrassler/tap-lightcast/pkg/cache"
	"github.com/redis/go-redis/v9"
)

// staticAuth authorizes every request with a fixed token.
type staticAuth struct {
	token string
	err   error
	calls int32
}

func (a *staticAuth) Authorize(req *http.Request) error {
	atomic.AddInt32(&a.calls, 1)
	if a.err != nil {
		return a.err
	}
	req.Header.Set("Authorization", "Bearer "+a.token)
	return nil
}

func newTestClient(t *testing.T, baseURL string, auth Authorizer) *Client {
	t.Helper()
	cfg := DefaultConfig(auth, "tap-lightcast-test/1.0")
	cfg.BaseURL = baseURL
	c, err := New(cfg)
	if err != nil {
		t.Fatalf("Failed to create client: %v", err)
	}
	c.retryPolicy = fastPolicy
	return c
}

// setupTestRedis connects to a local Redis on DB 15 or skips.
func setupTestRedis(t *testing.T) *redis.Client {
	t.Helper()

	client := redis.NewClient(&redis.Options{
		Addr: "localhost:6379",
		DB:   15,
	})

	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("Redis not available for testing: %v", err)
	}
	if err := client.FlushDB(ctx).Err(); err != nil {
		t.Fatalf("Failed to flush test DB: %v", err)
	}

	t.Cleanup(func() {
		client.FlushDB(context.Background())
		client.Close()
	})

	return client
}

func TestNew_Validation(t *testing.T) {
	auth := &staticAuth{token: "t"}

	tests := []struct {
		name     string
		config   Config
		errorMsg string
	}{
		{
			name:   "valid config",
			config: DefaultConfig(auth, "TestApp/1.0.0"),
		},
		{
			name:     "nil authorizer",
			config:   DefaultConfig(nil, "TestApp/1.0.0"),
			errorMsg: "authorizer is required",
		},
		{
			name:     "empty user agent",
			config:   DefaultConfig(auth, ""),
			errorMsg: "user-agent is required",
		},
		{
			name: "no base url",
			config: Config{
				Auth:        auth,
				UserAgent:   "TestApp/1.0.0",
				MaxAttempts: 3,
			},
			errorMsg: "base url is required",
		},
		{
			name: "zero attempts",
			config: Config{
				BaseURL:   DefaultBaseURL,
				Auth:      auth,
				UserAgent: "TestApp/1.0.0",
			},
			errorMsg: "max_attempts must be >= 1 (got 0)",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, err := New(tt.config)

			if tt.errorMsg != "" {
				if err == nil {
					t.Fatalf("Expected error but got nil")
				}
				if err.Error() != tt.errorMsg {
					t.Errorf("Error message = %q, want %q", err.Error(), tt.errorMsg)
				}
				return
			}
			if err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}
			if client == nil {
				t.Error("Client is nil")
			}
		})
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig(&staticAuth{}, "TestApp/1.0.0")

	if cfg.BaseURL != DefaultBaseURL {
		t.Errorf("BaseURL = %q, want %q", cfg.BaseURL, DefaultBaseURL)
	}
	if cfg.MaxAttempts != DefaultMaxAttempts {
		t.Errorf("MaxAttempts = %d, want %d", cfg.MaxAttempts, DefaultMaxAttempts)
	}
	if cfg.Cache != nil {
		t.Error("Cache should be disabled by default")
	}
}

func TestGetJSON_SetsHeadersAndPath(t *testing.T) {
	var gotPath, gotQuery, gotAuth, gotUA string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotQuery = r.URL.RawQuery
		gotAuth = r.Header.Get("Authorization")
		gotUA = r.Header.Get("User-Agent")
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"data":{"latestVersion":"9.1"}}`))
	}))
	defer server.Close()

	c := newTestClient(t, server.URL+"/skills", &staticAuth{token: "abc"})

	body, err := c.GetJSON(context.Background(), "/versions/9.1/skills", url.Values{"fields": {"id"}, "limit": {"5"}})
	if err != nil {
		t.Fatalf("GetJSON() error = %v", err)
	}

	if string(body) != `{"data":{"latestVersion":"9.1"}}` {
		t.Errorf("body = %s", body)
	}
	if gotPath != "/skills/versions/9.1/skills" {
		t.Errorf("path = %q", gotPath)
	}
	if gotQuery != "fields=id&limit=5" {
		t.Errorf("query = %q", gotQuery)
	}
	if gotAuth != "Bearer abc" {
		t.Errorf("Authorization = %q", gotAuth)
	}
	if gotUA != "tap-lightcast-test/1.0" {
		t.Errorf("User-Agent = %q", gotUA)
	}
}

func TestGetJSON_RetriesServerErrors(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Write([]byte(`{"data":[]}`))
	}))
	defer server.Close()

	auth := &staticAuth{token: "abc"}
	c := newTestClient(t, server.URL, auth)

	if _, err := c.GetJSON(context.Background(), "/meta", nil); err != nil {
		t.Fatalf("GetJSON() error = %v", err)
	}
	if calls != 3 {
		t.Errorf("server calls = %d, want 3", calls)
	}
	if auth.calls != 3 {
		t.Errorf("Authorize calls = %d, want 3 (once per attempt)", auth.calls)
	}
}

func TestGetJSON_ServerErrorsExhaustRetries(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	c := newTestClient(t, server.URL, &staticAuth{token: "abc"})

	_, err := c.GetJSON(context.Background(), "/meta", nil)
	if !errors.Is(err, ErrRetryExhausted) {
		t.Fatalf("GetJSON() error = %v, want ErrRetryExhausted", err)
	}

	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("Expected wrapped APIError with status 503, got %v", err)
	}
	if calls != DefaultMaxAttempts {
		t.Errorf("server calls = %d, want %d", calls, DefaultMaxAttempts)
	}
}

func TestGetJSON_ClientErrorNotRetried(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"errors":[{"status":404,"title":"Not Found","detail":"Skill 'KS0' does not exist"}]}`))
	}))
	defer server.Close()

	c := newTestClient(t, server.URL, &staticAuth{token: "abc"})

	_, err := c.GetJSON(context.Background(), "/versions/9.1/skills/KS0", nil)

	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("Expected *APIError, got %v", err)
	}
	if apiErr.ErrorClass != ErrorClassClient {
		t.Errorf("ErrorClass = %q, want client", apiErr.ErrorClass)
	}
	if apiErr.Message != "Not Found: Skill 'KS0' does not exist" {
		t.Errorf("Message = %q", apiErr.Message)
	}
	if calls != 1 {
		t.Errorf("server calls = %d, want 1", calls)
	}
}

func TestGetJSON_RateLimitedHonorsRetryAfter(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.Header().Set("Retry-After", "1")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Write([]byte(`{"data":[]}`))
	}))
	defer server.Close()

	c := newTestClient(t, server.URL, &staticAuth{token: "abc"})

	start := time.Now()
	if _, err := c.GetJSON(context.Background(), "/meta", nil); err != nil {
		t.Fatalf("GetJSON() error = %v", err)
	}
	if elapsed := time.Since(start); elapsed < 900*time.Millisecond {
		t.Errorf("request completed after %v, expected to wait for Retry-After", elapsed)
	}
	if calls != 2 {
		t.Errorf("server calls = %d, want 2", calls)
	}
}

func TestGetJSON_AuthFailureIsFatal(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
	}))
	defer server.Close()

	authErr := errors.New("token endpoint said no")
	auth := &staticAuth{err: authErr}
	c := newTestClient(t, server.URL, auth)

	_, err := c.GetJSON(context.Background(), "/meta", nil)
	if !errors.Is(err, authErr) {
		t.Fatalf("GetJSON() error = %v, want auth error", err)
	}
	if auth.calls != 1 {
		t.Errorf("Authorize calls = %d, want 1", auth.calls)
	}
	if calls != 0 {
		t.Errorf("server calls = %d, want 0", calls)
	}
}

func TestDo_UpdatesRateLimitState(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("RateLimit-Remaining", "42")
		w.Header().Set("RateLimit-Reset", "60")
		w.Write([]byte(`{}`))
	}))
	defer server.Close()

	c := newTestClient(t, server.URL, &staticAuth{token: "abc"})

	resp, err := c.Get(context.Background(), "/meta", nil)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	resp.Body.Close()

	if got := c.RateLimiter().GetState().Remaining; got != 42 {
		t.Errorf("Remaining = %d, want 42", got)
	}
}

func TestEndpointLabel(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		{"/skills/meta", "/skills/meta"},
		{"/skills/versions/9.1/skills", "/skills/versions/:version/skills"},
		{"/skills/versions/9.1/skills/KS120076FGP5WGWYMP0F", "/skills/versions/:version/skills/:id"},
	}

	for _, tt := range tests {
		if got := endpointLabel(tt.path); got != tt.want {
			t.Errorf("endpointLabel(%q) = %q, want %q", tt.path, got, tt.want)
		}
	}
}

func TestErrorMessage(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"not json", "<html>", "500 Internal Server Error"},
		{"errors array", `{"errors":[{"title":"Bad Request","detail":"limit must be positive"}]}`, "Bad Request: limit must be positive"},
		{"title only", `{"errors":[{"title":"Unauthorized"}]}`, "Unauthorized"},
		{"message field", `{"message":"quota exceeded"}`, "quota exceeded"},
		{"unrelated json", `{"data":[]}`, "500 Internal Server Error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := errorMessage("500 Internal Server Error", []byte(tt.body)); got != tt.want {
				t.Errorf("errorMessage() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestDo_VersionedResponsesServedFromCache(t *testing.T) {
	redisClient := setupTestRedis(t)

	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"data":{"id":"KS1","name":"Go (Programming Language)"}}`))
	}))
	defer server.Close()

	cfg := DefaultConfig(&staticAuth{token: "abc"}, "tap-lightcast-test/1.0")
	cfg.BaseURL = server.URL + "/skills"
	cfg.Cache = cache.NewManager(redisClient, cache.Options{VersionedTTL: time.Minute})
	c, err := New(cfg)
	if err != nil {
		t.Fatalf("Failed to create client: %v", err)
	}

	for i := 0; i < 2; i++ {
		body, err := c.GetJSON(context.Background(), "/versions/9.1/skills/KS1", nil)
		if err != nil {
			t.Fatalf("GetJSON() #%d error = %v", i+1, err)
		}
		if string(body) != `{"data":{"id":"KS1","name":"Go (Programming Language)"}}` {
			t.Errorf("body #%d = %s", i+1, body)
		}
	}

	if calls != 1 {
		t.Errorf("server calls = %d, want 1", calls)
	}
}

func TestDo_Handle304NotModified(t *testing.T) {
	redisClient := setupTestRedis(t)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("If-None-Match") == `"meta-1"` {
			w.Header().Set("Expires", time.Now().Add(10*time.Minute).UTC().Format(http.TimeFormat))
			w.WriteHeader(http.StatusNotModified)
			return
		}
		w.Header().Set("Expires", time.Now().Add(5*time.Minute).UTC().Format(http.TimeFormat))
		w.Header().Set("ETag", `"meta-1"`)
		w.Write([]byte(`{"data":{"latestVersion":"9.1"}}`))
	}))
	defer server.Close()

	cfg := DefaultConfig(&staticAuth{token: "abc"}, "tap-lightcast-test/1.0")
	cfg.BaseURL = server.URL + "/skills"
	cfg.Cache = cache.NewManager(redisClient, cache.Options{})
	c, err := New(cfg)
	if err != nil {
		t.Fatalf("Failed to create client: %v", err)
	}

	for i := 0; i < 2; i++ {
		resp, err := c.Get(context.Background(), "/meta", nil)
		if err != nil {
			t.Fatalf("Get() #%d error = %v", i+1, err)
		}
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			t.Errorf("status #%d = %d, want 200", i+1, resp.StatusCode)
		}
		if string(body) != `{"data":{"latestVersion":"9.1"}}` {
			t.Errorf("body #%d = %s", i+1, body)
		}
	}
}
