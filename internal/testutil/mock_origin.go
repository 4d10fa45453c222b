// Package testutil provides testing utilities for the cache worker.
package testutil

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"time"
)

// MockResponse defines the behavior for a mock origin path.
type MockResponse struct {
	StatusCode int
	Body       string
	Headers    map[string]string
	Delay      time.Duration
}

// MockOrigin is a configurable origin server for testing. Unknown paths
// answer 200 with a small HTML body naming the path.
type MockOrigin struct {
	server   *httptest.Server
	mu       sync.RWMutex
	handlers map[string]http.HandlerFunc
	counts   map[string]int
	total    int
	down     bool

	LastRequestHeader http.Header
}

// NewMockOrigin starts a new mock origin.
func NewMockOrigin() *MockOrigin {
	mock := &MockOrigin{
		handlers: make(map[string]http.HandlerFunc),
		counts:   make(map[string]int),
	}

	mock.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mock.mu.Lock()
		down := mock.down
		if !down {
			mock.total++
			mock.counts[r.URL.Path]++
			mock.LastRequestHeader = r.Header.Clone()
		}
		handler, exists := mock.handlers[r.URL.Path]
		mock.mu.Unlock()

		if down {
			dropConnection(w)
			return
		}
		if exists {
			handler(w, r)
			return
		}
		defaultHandler(w, r)
	}))

	return mock
}

// URL returns the origin base URL.
func (m *MockOrigin) URL() string {
	return m.server.URL
}

// ParsedURL returns the origin base URL parsed.
func (m *MockOrigin) ParsedURL() *url.URL {
	u, _ := url.Parse(m.server.URL)
	return u
}

// Client returns an HTTP client wired to the origin.
func (m *MockOrigin) Client() *http.Client {
	return m.server.Client()
}

// Close shuts down the origin.
func (m *MockOrigin) Close() {
	m.server.Close()
}

// Reset clears all request counters.
func (m *MockOrigin) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.total = 0
	m.counts = make(map[string]int)
	m.LastRequestHeader = nil
}

// SetDown makes every request fail at the connection level, as if the
// network were unreachable. Failed requests are not counted.
func (m *MockOrigin) SetDown(down bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.down = down
}

// SetHandler sets a custom handler for a specific path.
func (m *MockOrigin) SetHandler(path string, handler http.HandlerFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[path] = handler
}

// SetResponse configures a simple response for a path.
func (m *MockOrigin) SetResponse(path string, resp MockResponse) {
	m.SetHandler(path, func(w http.ResponseWriter, r *http.Request) {
		if resp.Delay > 0 {
			select {
			case <-time.After(resp.Delay):
			case <-r.Context().Done():
				return
			}
		}

		for key, value := range resp.Headers {
			w.Header().Set(key, value)
		}

		w.WriteHeader(resp.StatusCode)
		if resp.Body != "" {
			w.Write([]byte(resp.Body))
		}
	})
}

// RequestCount returns the number of requests served for path.
func (m *MockOrigin) RequestCount(path string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.counts[path]
}

// TotalRequests returns the number of requests served for all paths.
func (m *MockOrigin) TotalRequests() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.total
}

func defaultHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Date", time.Now().UTC().Format(http.TimeFormat))
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, "<html><body>%s</body></html>", r.URL.Path)
}

func dropConnection(w http.ResponseWriter) {
	hj, ok := w.(http.Hijacker)
	if !ok {
		panic("testutil: response writer does not support hijacking")
	}
	conn, _, err := hj.Hijack()
	if err != nil {
		return
	}
	conn.Close()
}

// NewOKResponse creates a 200 response with the given body.
func NewOKResponse(body string) MockResponse {
	return MockResponse{
		StatusCode: http.StatusOK,
		Body:       body,
		Headers: map[string]string{
			"Content-Type": "text/plain; charset=utf-8",
		},
	}
}

// NewServerErrorResponse creates a 500 Internal Server Error response.
func NewServerErrorResponse() MockResponse {
	return MockResponse{
		StatusCode: http.StatusInternalServerError,
		Body:       `{"error": "Internal server error"}`,
		Headers: map[string]string{
			"Content-Type": "application/json; charset=utf-8",
		},
	}
}

// NewNotFoundResponse creates a 404 Not Found response.
func NewNotFoundResponse() MockResponse {
	return MockResponse{
		StatusCode: http.StatusNotFound,
		Body:       "not found",
	}
}
