package fetch

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.UserAgent == "" {
		t.Error("UserAgent should have a default")
	}
	if cfg.Timeout != 30*time.Second {
		t.Errorf("Timeout = %v, want 30s", cfg.Timeout)
	}
}

func TestDo_HeadersSet(t *testing.T) {
	var userAgent, requestID string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userAgent = r.Header.Get("User-Agent")
		requestID = r.Header.Get(HeaderRequestID)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := New(Config{UserAgent: "klaus-test/1.0", Timeout: 5 * time.Second})

	req, _ := http.NewRequest(http.MethodGet, server.URL+"/styles.css", nil)
	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("Do() failed: %v", err)
	}
	resp.Body.Close()

	if userAgent != "klaus-test/1.0" {
		t.Errorf("User-Agent = %q, want %q", userAgent, "klaus-test/1.0")
	}
	if requestID == "" {
		t.Error("X-Request-ID should be set on outbound fetches")
	}
}

func TestDo_KeepsCallerUserAgent(t *testing.T) {
	var userAgent string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userAgent = r.Header.Get("User-Agent")
	}))
	defer server.Close()

	client := New(DefaultConfig())
	req, _ := http.NewRequest(http.MethodGet, server.URL, nil)
	req.Header.Set("User-Agent", "Mozilla/5.0")

	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("Do() failed: %v", err)
	}
	resp.Body.Close()

	if userAgent != "Mozilla/5.0" {
		t.Errorf("User-Agent = %q, want caller's value", userAgent)
	}
}

func TestDo_HTTPErrorIsNotAnError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	client := New(DefaultConfig())
	req, _ := http.NewRequest(http.MethodGet, server.URL, nil)

	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("Do() returned error for HTTP 500: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusInternalServerError {
		t.Errorf("StatusCode = %d, want 500", resp.StatusCode)
	}
}

func TestDo_RedirectNotFollowed(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/old" {
			http.Redirect(w, r, "/new", http.StatusMovedPermanently)
			return
		}
		t.Errorf("redirect target %s was fetched", r.URL.Path)
	}))
	defer server.Close()

	client := New(DefaultConfig())
	req, _ := http.NewRequest(http.MethodGet, server.URL+"/old", nil)

	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("Do() returned error for HTTP 301: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusMovedPermanently {
		t.Errorf("StatusCode = %d, want 301", resp.StatusCode)
	}
	if loc := resp.Header.Get("Location"); loc != "/new" {
		t.Errorf("Location = %q, want /new", loc)
	}
}

func TestDo_NetworkError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := server.URL
	server.Close()

	client := New(DefaultConfig())
	req, _ := http.NewRequest(http.MethodGet, url, nil)

	_, err := client.Do(req)
	if err == nil {
		t.Fatal("expected error for closed server")
	}

	var fe *FetchError
	if !errors.As(err, &fe) {
		t.Fatalf("expected *FetchError, got %T", err)
	}
	if fe.Class != ErrorClassNetwork {
		t.Errorf("Class = %q, want network", fe.Class)
	}
}

func TestDo_Timeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-time.After(2 * time.Second):
		case <-r.Context().Done():
		}
	}))
	defer server.Close()

	client := New(DefaultConfig())
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, server.URL, nil)

	_, err := client.Do(req)
	if got := ClassOf(err); got != ErrorClassTimeout {
		t.Errorf("ClassOf(err) = %q, want timeout (err=%v)", got, err)
	}
}
