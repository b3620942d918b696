// Package testutil provides a mock Lightcast auth and skills server for tests.
package testutil

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"time"
)

// MockToken is the access token issued by the mock token endpoint.
const MockToken = "mock-access-token"

// MockResponse defines a canned response for a path.
type MockResponse struct {
	StatusCode int
	Body       string
	Headers    map[string]string
	Delay      time.Duration
}

// MockSkill is one skill served by the mock taxonomy.
type MockSkill struct {
	ID          string
	Name        string
	TypeID      string
	TypeName    string
	CategoryID  int
	Category    string
	IsSoftware  bool
	IsLanguage  bool
	Description string
}

// MockLightcast serves /connect/token and the /skills API from memory.
type MockLightcast struct {
	server   *httptest.Server
	mu       sync.RWMutex
	handlers map[string]func(w http.ResponseWriter, r *http.Request)

	version string
	skills  []MockSkill

	// OverDeliver makes the list endpoint ignore the limit parameter.
	OverDeliver bool

	// Tracking
	RequestCount      int
	TokenRequests     int
	DetailRequests    int
	ConditionalCount  int
	LastRequestHeader http.Header
	LastListQuery     string
}

// NewMockLightcast starts a mock server serving version with the given skills.
func NewMockLightcast(version string, skills []MockSkill) *MockLightcast {
	mock := &MockLightcast{
		handlers: make(map[string]func(w http.ResponseWriter, r *http.Request)),
		version:  version,
		skills:   skills,
	}

	mock.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mock.mu.Lock()
		mock.RequestCount++
		mock.LastRequestHeader = r.Header.Clone()
		if r.Header.Get("If-None-Match") != "" || r.Header.Get("If-Modified-Since") != "" {
			mock.ConditionalCount++
		}
		handler, exists := mock.handlers[r.URL.Path]
		mock.mu.Unlock()

		if exists {
			handler(w, r)
			return
		}

		mock.defaultHandler(w, r)
	}))

	return mock
}

// DefaultSkills returns a small fixed taxonomy.
func DefaultSkills() []MockSkill {
	return []MockSkill{
		{ID: "KS120076FGP5WGWYMP0F", Name: "Go (Programming Language)", TypeID: "ST1", TypeName: "Specialized Skill", CategoryID: 5, Category: "Information Technology", IsSoftware: false, IsLanguage: false, Description: "Go is a statically typed, compiled programming language."},
		{ID: "KS1200364C9C1LK3V5Q1", Name: "C (Programming Language)", TypeID: "ST1", TypeName: "Specialized Skill", CategoryID: 5, Category: "Information Technology", Description: "C is a general-purpose programming language."},
		{ID: "KS124JB619VXG6RQ810C", Name: "Spanish Language", TypeID: "ST2", TypeName: "Common Skill", CategoryID: 12, Category: "Language", IsLanguage: true},
		{ID: "KS440W865GC4VRBW6LJP", Name: "SQL (Programming Language)", TypeID: "ST1", TypeName: "Specialized Skill", CategoryID: 5, Category: "Information Technology", IsSoftware: true},
	}
}

// URL returns the mock server root.
func (m *MockLightcast) URL() string {
	return m.server.URL
}

// TokenURL returns the mock token endpoint.
func (m *MockLightcast) TokenURL() string {
	return m.URL() + "/connect/token"
}

// APIURL returns the mock skills API root.
func (m *MockLightcast) APIURL() string {
	return m.URL() + "/skills"
}

// Close shuts down the mock server.
func (m *MockLightcast) Close() {
	m.server.Close()
}

// Reset clears all tracking counters.
func (m *MockLightcast) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.RequestCount = 0
	m.TokenRequests = 0
	m.DetailRequests = 0
	m.ConditionalCount = 0
	m.LastRequestHeader = nil
	m.LastListQuery = ""
}

// SetHandler sets a custom handler for a specific path.
func (m *MockLightcast) SetHandler(path string, handler func(w http.ResponseWriter, r *http.Request)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[path] = handler
}

// SetResponse configures a simple response for a path.
func (m *MockLightcast) SetResponse(path string, resp MockResponse) {
	m.SetHandler(path, func(w http.ResponseWriter, r *http.Request) {
		resp.Write(w)
	})
}

// FailFirst serves resp for the first n requests to path, then the default
// route again.
func (m *MockLightcast) FailFirst(path string, n int, resp MockResponse) {
	var served int
	m.SetHandler(path, func(w http.ResponseWriter, r *http.Request) {
		m.mu.Lock()
		served++
		fail := served <= n
		m.mu.Unlock()

		if fail {
			resp.Write(w)
			return
		}
		m.defaultHandler(w, r)
	})
}

// Write renders the response, sleeping for Delay first.
func (r MockResponse) Write(w http.ResponseWriter) {
	if r.Delay > 0 {
		time.Sleep(r.Delay)
	}
	for key, value := range r.Headers {
		w.Header().Set(key, value)
	}
	w.WriteHeader(r.StatusCode)
	if r.Body != "" {
		w.Write([]byte(r.Body))
	}
}

// GetRequestCount returns the number of requests made to the server.
func (m *MockLightcast) GetRequestCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.RequestCount
}

// GetTokenRequests returns the number of token requests.
func (m *MockLightcast) GetTokenRequests() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.TokenRequests
}

// GetDetailRequests returns the number of skill detail requests.
func (m *MockLightcast) GetDetailRequests() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.DetailRequests
}

// GetLastListQuery returns the raw query of the last list request.
func (m *MockLightcast) GetLastListQuery() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.LastListQuery
}

func (m *MockLightcast) defaultHandler(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path == "/connect/token" {
		m.tokenHandler(w, r)
		return
	}

	if r.Header.Get("Authorization") != "Bearer "+MockToken {
		writeJSON(w, http.StatusUnauthorized, map[string]any{
			"errors": []map[string]any{{"status": 401, "title": "Unauthorized", "detail": "missing or invalid bearer token"}},
		})
		return
	}

	w.Header().Set("RateLimit-Remaining", "100")
	w.Header().Set("RateLimit-Reset", "60")

	segments := strings.Split(strings.Trim(strings.TrimPrefix(r.URL.Path, "/skills"), "/"), "/")
	switch {
	case len(segments) == 1 && segments[0] == "meta":
		writeJSON(w, http.StatusOK, map[string]any{
			"data": map[string]any{
				"attribution":   map[string]any{"body": "Lightcast Open Skills", "title": "Lightcast"},
				"latestVersion": m.version,
			},
		})
	case len(segments) == 3 && segments[0] == "versions" && segments[2] == "skills":
		m.listHandler(w, r, segments[1])
	case len(segments) == 4 && segments[0] == "versions" && segments[2] == "skills":
		m.detailHandler(w, segments[1], segments[3])
	default:
		writeJSON(w, http.StatusNotFound, map[string]any{
			"errors": []map[string]any{{"status": 404, "title": "Not Found", "detail": "no route for " + r.URL.Path}},
		})
	}
}

func (m *MockLightcast) tokenHandler(w http.ResponseWriter, r *http.Request) {
	m.mu.Lock()
	m.TokenRequests++
	m.mu.Unlock()

	if err := r.ParseForm(); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid_request"})
		return
	}
	if r.PostForm.Get("grant_type") != "client_credentials" || r.PostForm.Get("client_id") == "" || r.PostForm.Get("client_secret") == "" {
		writeJSON(w, http.StatusUnauthorized, map[string]any{"error": "invalid_client"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"access_token": MockToken,
		"token_type":   "Bearer",
		"expires_in":   3600,
		"scope":        r.PostForm.Get("scope"),
	})
}

func (m *MockLightcast) listHandler(w http.ResponseWriter, r *http.Request, version string) {
	m.mu.Lock()
	m.LastListQuery = r.URL.RawQuery
	m.mu.Unlock()

	if version != m.version {
		writeJSON(w, http.StatusNotFound, map[string]any{
			"errors": []map[string]any{{"status": 404, "title": "Not Found", "detail": fmt.Sprintf("version %q does not exist", version)}},
		})
		return
	}

	skills := m.skills
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" && !m.OverDeliver {
		limit, err := strconv.Atoi(limitStr)
		if err != nil || limit < 1 {
			writeJSON(w, http.StatusBadRequest, map[string]any{
				"errors": []map[string]any{{"status": 400, "title": "Bad Request", "detail": "limit must be a positive integer"}},
			})
			return
		}
		if limit < len(skills) {
			skills = skills[:limit]
		}
	}

	data := make([]map[string]any, 0, len(skills))
	for _, s := range skills {
		if r.URL.Query().Get("fields") == "id" {
			data = append(data, map[string]any{"id": s.ID})
			continue
		}
		data = append(data, skillJSON(s))
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": data})
}

func (m *MockLightcast) detailHandler(w http.ResponseWriter, version, id string) {
	m.mu.Lock()
	m.DetailRequests++
	m.mu.Unlock()

	if version == m.version {
		for _, s := range m.skills {
			if s.ID == id {
				w.Header().Set("ETag", fmt.Sprintf("%q", version+"-"+id))
				writeJSON(w, http.StatusOK, map[string]any{"data": skillJSON(s)})
				return
			}
		}
	}
	writeJSON(w, http.StatusNotFound, map[string]any{
		"errors": []map[string]any{{"status": 404, "title": "Not Found", "detail": fmt.Sprintf("skill %q does not exist", id)}},
	})
}

func skillJSON(s MockSkill) map[string]any {
	var description, source any
	if s.Description != "" {
		description = s.Description
		source = "Wikipedia"
	}
	return map[string]any{
		"id":                s.ID,
		"name":              s.Name,
		"type":              map[string]any{"id": s.TypeID, "name": s.TypeName},
		"category":          map[string]any{"id": s.CategoryID, "name": s.Category},
		"subcategory":       map[string]any{"id": s.CategoryID*10 + 1, "name": s.Category + " (General)"},
		"isLanguage":        s.IsLanguage,
		"isSoftware":        s.IsSoftware,
		"description":       description,
		"descriptionSource": source,
		"infoUrl":           "https://lightcast.io/open-skills/skills/" + s.ID,
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

// NewRateLimitResponse creates a 429 Too Many Requests response.
func NewRateLimitResponse(retryAfterSeconds int) MockResponse {
	return MockResponse{
		StatusCode: http.StatusTooManyRequests,
		Body:       `{"errors":[{"status":429,"title":"Too Many Requests"}]}`,
		Headers: map[string]string{
			"Retry-After":         strconv.Itoa(retryAfterSeconds),
			"RateLimit-Remaining": "0",
			"Content-Type":        "application/json; charset=utf-8",
		},
	}
}

// NewServerErrorResponse creates a 500 Internal Server Error response.
func NewServerErrorResponse() MockResponse {
	return MockResponse{
		StatusCode: http.StatusInternalServerError,
		Body:       `{"errors":[{"status":500,"title":"Internal Server Error"}]}`,
		Headers: map[string]string{
			"Content-Type": "application/json; charset=utf-8",
		},
	}
}
