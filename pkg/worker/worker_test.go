package worker

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/kevohmutwiri9-creator/Klaus/internal/testutil"
	"github.com/kevohmutwiri9-creator/Klaus/pkg/background"
	"github.com/kevohmutwiri9-creator/Klaus/pkg/cache"
	"github.com/kevohmutwiri9-creator/Klaus/pkg/fetch"
	"github.com/kevohmutwiri9-creator/Klaus/pkg/manifest"
	"github.com/kevohmutwiri9-creator/Klaus/pkg/precache"
	"github.com/kevohmutwiri9-creator/Klaus/pkg/strategy"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type harness struct {
	origin  *testutil.MockOrigin
	storage cache.Storage
	clock   *fakeClock
	bg      *background.Group
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	origin := testutil.NewMockOrigin()
	t.Cleanup(origin.Close)

	bg := background.NewGroup(5 * time.Second)
	t.Cleanup(bg.Wait)

	return &harness{
		origin:  origin,
		storage: cache.NewMemoryStorage(),
		clock:   newFakeClock(),
		bg:      bg,
	}
}

func testManifest(version string) *manifest.Manifest {
	return &manifest.Manifest{
		App:             "klaus",
		Version:         version,
		Critical:        []string{"/", "/index.html"},
		Static:          []string{"/styles.css", "/script.js"},
		Images:          []string{"/img/favicon-optimized.png"},
		ImagePrefixes:   []string{"/img/"},
		OfflineFallback: "/index.html",
		CacheBustParams: []string{"nocache"},
	}
}

func (h *harness) newWorker(t *testing.T, version string) *Worker {
	t.Helper()
	w, err := New(Config{
		Manifest:       testManifest(version),
		Origin:         h.origin.ParsedURL(),
		Storage:        h.storage,
		Fetcher:        fetch.New(fetch.Config{Timeout: 5 * time.Second}),
		Background:     h.bg,
		NetworkTimeout: time.Second,
		MaxAge:         24 * time.Hour,
		Precache: precache.Config{
			MaxConcurrency: 4,
			Timeout:        5 * time.Second,
			Retry:          fetch.RetryConfig{MaxAttempts: 1},
		},
		Clock: h.clock.Now,
	})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return w
}

func (h *harness) get(t *testing.T, w *Worker, rawURL string, headers map[string]string) (*http.Response, string, error) {
	t.Helper()
	if u, _ := url.Parse(rawURL); u.Host == "" {
		rawURL = h.origin.URL() + rawURL
	}
	req, _ := http.NewRequest(http.MethodGet, rawURL, nil)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := w.Fetch(context.Background(), req)
	if err != nil {
		return nil, "", err
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	return resp, string(body), nil
}

func (h *harness) keys(t *testing.T, name string) []cache.Key {
	t.Helper()
	p, err := h.storage.Open(context.Background(), name)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	keys, err := p.Keys(context.Background())
	if err != nil {
		t.Fatalf("Keys failed: %v", err)
	}
	return keys
}

func (h *harness) seed(t *testing.T, partition, path, body string, storedAt time.Time) cache.Key {
	t.Helper()
	p, _ := h.storage.Open(context.Background(), partition)
	u, _ := url.Parse(h.origin.URL() + path)
	key := cache.NewKey(http.MethodGet, u)
	if err := p.Put(context.Background(), key, &cache.Entry{
		URL:        u.String(),
		StatusCode: http.StatusOK,
		Body:       []byte(body),
		StoredAt:   storedAt,
	}); err != nil {
		t.Fatalf("seed failed: %v", err)
	}
	return key
}

func (h *harness) installAndActivate(t *testing.T, w *Worker) {
	t.Helper()
	if _, err := w.Install(context.Background()); err != nil {
		t.Fatalf("Install failed: %v", err)
	}
	h.activate(t, w)
}

func (h *harness) activate(t *testing.T, w *Worker) {
	t.Helper()
	if _, err := w.Activate(context.Background()); err != nil {
		t.Fatalf("Activate failed: %v", err)
	}
}

func TestNew_Validation(t *testing.T) {
	origin, _ := url.Parse("https://klaus.example")
	valid := Config{
		Manifest: manifest.Default(),
		Origin:   origin,
		Storage:  cache.NewMemoryStorage(),
		Fetcher:  http.DefaultClient,
	}

	tests := []struct {
		name   string
		mutate func(c *Config)
	}{
		{"no manifest", func(c *Config) { c.Manifest = nil }},
		{"invalid manifest", func(c *Config) { c.Manifest = &manifest.Manifest{} }},
		{"no storage", func(c *Config) { c.Storage = nil }},
		{"no fetcher", func(c *Config) { c.Fetcher = nil }},
		{"no origin", func(c *Config) { c.Origin = nil }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid
			tt.mutate(&cfg)
			if _, err := New(cfg); err == nil {
				t.Error("New() should fail")
			}
		})
	}

	w, err := New(valid)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if w.State() != StateNew {
		t.Errorf("State() = %s, want new", w.State())
	}
	if w.ID() == "" {
		t.Error("worker should have an id")
	}
}

func TestInstall(t *testing.T) {
	h := newHarness(t)
	w := h.newWorker(t, "1")

	report, err := w.Install(context.Background())
	if err != nil {
		t.Fatalf("Install failed: %v", err)
	}
	if w.State() != StateInstalled {
		t.Errorf("State() = %s, want installed", w.State())
	}
	if report.Version != "1" || report.Stored != 5 || report.Failed != 0 {
		t.Errorf("report = %+v", report)
	}

	names, _ := h.storage.Names(context.Background())
	if len(names) != 3 {
		t.Errorf("partitions = %v, want 3", names)
	}
	if got := len(h.keys(t, "klaus-static-v1")); got != 4 {
		t.Errorf("static entries = %d, want 4", got)
	}
	if got := len(h.keys(t, "klaus-images-v1")); got != 1 {
		t.Errorf("image entries = %d, want 1", got)
	}
	if got := len(h.keys(t, "klaus-dynamic-v1")); got != 0 {
		t.Errorf("dynamic entries = %d, want 0", got)
	}
}

func TestInstall_CriticalFailureDoesNotFail(t *testing.T) {
	h := newHarness(t)
	h.origin.SetResponse("/index.html", testutil.NewServerErrorResponse())
	h.origin.SetResponse("/script.js", testutil.NewNotFoundResponse())
	w := h.newWorker(t, "1")

	report, err := w.Install(context.Background())
	if err != nil {
		t.Fatalf("Install failed: %v", err)
	}
	if w.State() != StateInstalled {
		t.Errorf("State() = %s, want installed", w.State())
	}
	if report.OK() {
		t.Error("report should flag the critical failure")
	}
	if report.Stored != 3 || report.Failed != 2 {
		t.Errorf("stored %d failed %d, want 3/2", report.Stored, report.Failed)
	}

	// the missing critical resource is a hard failure at request time
	h.activate(t, w)
	if _, _, err := h.get(t, w, "/index.html", nil); !errors.Is(err, strategy.ErrNotCached) {
		t.Errorf("Fetch(/index.html) error = %v, want ErrNotCached", err)
	}
}

func TestActivate_RequiresInstall(t *testing.T) {
	h := newHarness(t)
	w := h.newWorker(t, "1")

	if _, err := w.Activate(context.Background()); !errors.Is(err, ErrNotInstalled) {
		t.Errorf("Activate() error = %v, want ErrNotInstalled", err)
	}
}

func TestCriticalServedOffline(t *testing.T) {
	h := newHarness(t)
	w := h.newWorker(t, "1")
	h.installAndActivate(t, w)

	h.origin.Reset()
	h.origin.SetDown(true)

	resp, body, err := h.get(t, w, "/index.html", nil)
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Errorf("StatusCode = %d, want 200", resp.StatusCode)
	}
	if body != "<html><body>/index.html</body></html>" {
		t.Errorf("body = %q", body)
	}
	if resp.Header.Get(strategy.HeaderSource) != strategy.SourceCache {
		t.Errorf("source = %q, want cache", resp.Header.Get(strategy.HeaderSource))
	}

	h.origin.SetDown(false)
	if n := h.origin.TotalRequests(); n != 0 {
		t.Errorf("origin saw %d requests, want 0", n)
	}
}

func TestCriticalWithQuery(t *testing.T) {
	h := newHarness(t)
	w := h.newWorker(t, "1")
	h.installAndActivate(t, w)
	nav := map[string]string{"Sec-Fetch-Mode": "navigate"}

	resp, body, err := h.get(t, w, "/index.html?utm_source=twitter", nav)
	if err != nil {
		t.Fatalf("Fetch with network up failed: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Errorf("StatusCode = %d, want 200", resp.StatusCode)
	}
	if resp.Header.Get(strategy.HeaderSource) != strategy.SourceNetwork {
		t.Errorf("source = %q, want network", resp.Header.Get(strategy.HeaderSource))
	}
	if body != "<html><body>/index.html</body></html>" {
		t.Errorf("body = %q", body)
	}

	h.origin.SetDown(true)

	resp, _, err = h.get(t, w, "/?ref=x", nav)
	if err != nil {
		t.Fatalf("offline Fetch failed: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Errorf("offline StatusCode = %d, want 200", resp.StatusCode)
	}
	if src := resp.Header.Get(strategy.HeaderSource); src != strategy.SourceFallback {
		t.Errorf("offline source = %q, want fallback", src)
	}
}

func TestImageCachedOnFirstVisit(t *testing.T) {
	h := newHarness(t)
	h.origin.SetResponse("/img/profile.jpg", testutil.NewOKResponse("jpeg"))
	w := h.newWorker(t, "1")
	h.installAndActivate(t, w)

	for i := 0; i < 3; i++ {
		_, body, err := h.get(t, w, "/img/profile.jpg", nil)
		if err != nil {
			t.Fatalf("Fetch %d failed: %v", i, err)
		}
		if body != "jpeg" {
			t.Errorf("body = %q", body)
		}
	}

	if n := h.origin.RequestCount("/img/profile.jpg"); n != 1 {
		t.Errorf("origin saw %d requests, want 1", n)
	}
	if got := len(h.keys(t, "klaus-images-v1")); got != 2 {
		t.Errorf("image entries = %d, want 2", got)
	}
}

func TestDynamicServerErrorPassesThrough(t *testing.T) {
	h := newHarness(t)
	h.origin.SetResponse("/api/data", testutil.NewServerErrorResponse())
	w := h.newWorker(t, "1")
	h.installAndActivate(t, w)

	resp, _, err := h.get(t, w, "/api/data", nil)
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if resp.StatusCode != http.StatusInternalServerError {
		t.Errorf("StatusCode = %d, want 500", resp.StatusCode)
	}
	if got := len(h.keys(t, "klaus-dynamic-v1")); got != 0 {
		t.Errorf("dynamic entries = %d, want 0", got)
	}
}

func TestCrossOriginStoredInDynamic(t *testing.T) {
	h := newHarness(t)
	thirdParty := testutil.NewMockOrigin()
	defer thirdParty.Close()
	thirdParty.SetResponse("/widget.js", testutil.NewOKResponse("widget()"))

	w := h.newWorker(t, "1")
	h.installAndActivate(t, w)

	resp, body, err := h.get(t, w, thirdParty.URL()+"/widget.js", nil)
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if body != "widget()" || resp.Header.Get(strategy.HeaderSource) != strategy.SourceNetwork {
		t.Errorf("body = %q source = %q", body, resp.Header.Get(strategy.HeaderSource))
	}

	keys := h.keys(t, "klaus-dynamic-v1")
	if len(keys) != 1 || keys[0].URL() != thirdParty.URL()+"/widget.js" {
		t.Errorf("dynamic keys = %v", keys)
	}

	_, body, err = h.get(t, w, thirdParty.URL()+"/widget.js", nil)
	if err != nil || body != "widget()" {
		t.Errorf("second fetch = %q, %v", body, err)
	}
	h.bg.Wait()
}

func TestFetch_RelativeURL(t *testing.T) {
	h := newHarness(t)
	w := h.newWorker(t, "1")
	h.installAndActivate(t, w)

	req, _ := http.NewRequest(http.MethodGet, "/styles.css", nil)
	resp, err := w.Fetch(context.Background(), req)
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	resp.Body.Close()
	if resp.Header.Get(strategy.HeaderSource) != strategy.SourceCache {
		t.Errorf("source = %q, want cache", resp.Header.Get(strategy.HeaderSource))
	}
}

func TestFetch_OfflineNavigationFallback(t *testing.T) {
	h := newHarness(t)
	w := h.newWorker(t, "1")
	h.installAndActivate(t, w)
	h.origin.SetDown(true)

	resp, body, err := h.get(t, w, "/projects/", map[string]string{"Sec-Fetch-Mode": "navigate"})
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if resp.Header.Get(strategy.HeaderSource) != strategy.SourceFallback {
		t.Errorf("source = %q, want fallback", resp.Header.Get(strategy.HeaderSource))
	}
	if body != "<html><body>/index.html</body></html>" {
		t.Errorf("body = %q", body)
	}

	if _, _, err := h.get(t, w, "/api/data", map[string]string{"Accept": "application/json"}); err == nil {
		t.Error("non-navigation request should fail while offline")
	}
}

func TestVersionIsolation(t *testing.T) {
	h := newHarness(t)
	v2 := h.newWorker(t, "2")
	h.installAndActivate(t, v2)
	h.seed(t, "klaus-dynamic-v2", "/api/data", "old", h.clock.Now())
	h.seed(t, "someone-elses-cache", "/x", "x", h.clock.Now())

	v3 := h.newWorker(t, "3")
	if _, err := v3.Install(context.Background()); err != nil {
		t.Fatalf("Install failed: %v", err)
	}
	report, err := v3.Activate(context.Background())
	if err != nil {
		t.Fatalf("Activate failed: %v", err)
	}
	if len(report.Deleted) != 4 {
		t.Errorf("Deleted = %v, want 4 partitions", report.Deleted)
	}

	names, _ := h.storage.Names(context.Background())
	want := []string{"klaus-dynamic-v3", "klaus-images-v3", "klaus-static-v3"}
	if len(names) != len(want) {
		t.Fatalf("Names() = %v, want %v", names, want)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Errorf("Names()[%d] = %q, want %q", i, names[i], want[i])
		}
	}
}

func TestSweep(t *testing.T) {
	h := newHarness(t)
	w := h.newWorker(t, "1")
	h.installAndActivate(t, w)

	now := h.clock.Now()
	old := h.seed(t, "klaus-dynamic-v1", "/api/old", "old", now.Add(-25*time.Hour))
	fresh := h.seed(t, "klaus-dynamic-v1", "/api/fresh", "fresh", now.Add(-time.Hour))
	boundary := h.seed(t, "klaus-dynamic-v1", "/api/boundary", "edge", now.Add(-24*time.Hour))

	evicted, err := w.Sweep(context.Background())
	if err != nil {
		t.Fatalf("Sweep failed: %v", err)
	}
	if evicted != 1 {
		t.Errorf("evicted = %d, want 1", evicted)
	}

	p, _ := h.storage.Open(context.Background(), "klaus-dynamic-v1")
	if _, err := p.Match(context.Background(), old); !errors.Is(err, cache.ErrCacheMiss) {
		t.Errorf("old entry still present: %v", err)
	}
	for _, key := range []cache.Key{fresh, boundary} {
		if _, err := p.Match(context.Background(), key); err != nil {
			t.Errorf("%s evicted: %v", key, err)
		}
	}

	h.clock.Advance(24 * time.Hour)
	if evicted, _ := w.Sweep(context.Background()); evicted != 2 {
		t.Errorf("second sweep evicted %d, want 2", evicted)
	}

	// static entries are never swept
	if got := len(h.keys(t, "klaus-static-v1")); got != 4 {
		t.Errorf("static entries = %d, want 4", got)
	}
}

func TestActivate_Sweeps(t *testing.T) {
	h := newHarness(t)
	h.seed(t, "klaus-dynamic-v1", "/api/old", "old", h.clock.Now().Add(-48*time.Hour))

	w := h.newWorker(t, "1")
	if _, err := w.Install(context.Background()); err != nil {
		t.Fatalf("Install failed: %v", err)
	}
	report, err := w.Activate(context.Background())
	if err != nil {
		t.Fatalf("Activate failed: %v", err)
	}
	if report.Evicted != 1 {
		t.Errorf("Evicted = %d, want 1", report.Evicted)
	}
	if w.State() != StateActivated {
		t.Errorf("State() = %s, want activated", w.State())
	}
}

func TestHandleSync(t *testing.T) {
	h := newHarness(t)
	w := h.newWorker(t, "1")
	h.installAndActivate(t, w)
	h.seed(t, "klaus-dynamic-v1", "/api/old", "old", h.clock.Now().Add(-48*time.Hour))

	for _, tag := range []string{SyncAnalyticsSync, "unknown-tag", ""} {
		if err := w.HandleSync(context.Background(), tag); err != nil {
			t.Errorf("HandleSync(%q) error = %v", tag, err)
		}
	}
	if got := len(h.keys(t, "klaus-dynamic-v1")); got != 1 {
		t.Errorf("only cache-sweep may evict; entries = %d", got)
	}

	if err := w.HandleSync(context.Background(), SyncCacheSweep); err != nil {
		t.Fatalf("HandleSync(cache-sweep) error = %v", err)
	}
	if got := len(h.keys(t, "klaus-dynamic-v1")); got != 0 {
		t.Errorf("entries after sweep = %d, want 0", got)
	}
}

func TestRefresh(t *testing.T) {
	h := newHarness(t)
	w := h.newWorker(t, "1")
	h.installAndActivate(t, w)
	key := h.seed(t, "klaus-dynamic-v1", "/api/data", "old", h.clock.Now().Add(-time.Hour))
	h.origin.SetResponse("/api/data", testutil.NewOKResponse("new"))
	h.clock.Advance(time.Minute)

	if err := w.Refresh(context.Background(), "/api/data"); err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}

	p, _ := h.storage.Open(context.Background(), "klaus-dynamic-v1")
	entry, err := p.Match(context.Background(), key)
	if err != nil {
		t.Fatalf("entry missing after refresh: %v", err)
	}
	if string(entry.Body) != "new" {
		t.Errorf("Body = %q, want new", entry.Body)
	}
	if !entry.StoredAt.Equal(h.clock.Now()) {
		t.Errorf("StoredAt = %v, want %v", entry.StoredAt, h.clock.Now())
	}
}

func TestRefresh_ErrorStatusLeavesEntryDeleted(t *testing.T) {
	h := newHarness(t)
	w := h.newWorker(t, "1")
	h.installAndActivate(t, w)
	key := h.seed(t, "klaus-dynamic-v1", "/api/data", "old", h.clock.Now())
	h.origin.SetResponse("/api/data", testutil.NewServerErrorResponse())

	if err := w.Refresh(context.Background(), "/api/data"); err == nil {
		t.Error("Refresh should report the error status")
	}

	p, _ := h.storage.Open(context.Background(), "klaus-dynamic-v1")
	if _, err := p.Match(context.Background(), key); !errors.Is(err, cache.ErrCacheMiss) {
		t.Errorf("entry should stay deleted, got %v", err)
	}
}

func TestPartitions(t *testing.T) {
	h := newHarness(t)
	h.seed(t, "klaus-dynamic-v0", "/x", "x", h.clock.Now())
	w := h.newWorker(t, "1")
	if _, err := w.Install(context.Background()); err != nil {
		t.Fatalf("Install failed: %v", err)
	}

	infos, err := w.Partitions(context.Background())
	if err != nil {
		t.Fatalf("Partitions failed: %v", err)
	}

	want := map[string]PartitionInfo{
		"klaus-dynamic-v0": {Name: "klaus-dynamic-v0", Entries: 1, Current: false},
		"klaus-dynamic-v1": {Name: "klaus-dynamic-v1", Entries: 0, Current: true},
		"klaus-images-v1":  {Name: "klaus-images-v1", Entries: 1, Current: true},
		"klaus-static-v1":  {Name: "klaus-static-v1", Entries: 4, Current: true},
	}
	if len(infos) != len(want) {
		t.Fatalf("Partitions() = %+v", infos)
	}
	for _, info := range infos {
		if want[info.Name] != info {
			t.Errorf("partition %s = %+v, want %+v", info.Name, info, want[info.Name])
		}
	}

	if err := w.Ping(context.Background()); err != nil {
		t.Errorf("Ping() error = %v", err)
	}
}
