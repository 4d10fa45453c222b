package route

import (
	"net/http"
	"net/url"
	"testing"

	"github.com/kevohmutwiri9-creator/Klaus/pkg/manifest"
)

const fontsURL = "https://fonts.googleapis.com/css2?family=Inter:wght@300;400;500;600;700;800&display=swap"

func newTestSelector(t *testing.T) *Selector {
	t.Helper()
	origin, _ := url.Parse("https://klaus.example")
	s, err := NewSelector(ConfigFromManifest(origin, manifest.Default()))
	if err != nil {
		t.Fatalf("NewSelector() error = %v", err)
	}
	return s
}

func mustParse(t *testing.T, raw string) *url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("parse %q: %v", raw, err)
	}
	return u
}

func TestNewSelector_RequiresOrigin(t *testing.T) {
	tests := []struct {
		name   string
		origin *url.URL
	}{
		{"nil", nil},
		{"relative", &url.URL{Path: "/"}},
		{"no host", &url.URL{Scheme: "https"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewSelector(Config{Origin: tt.origin}); err == nil {
				t.Error("NewSelector() should fail without an absolute origin")
			}
		})
	}
}

func TestSelect(t *testing.T) {
	s := newTestSelector(t)
	names := manifest.Default().Names()

	tests := []struct {
		name      string
		method    string
		url       string
		rule      string
		class     Class
		strategy  Strategy
		partition string
	}{
		{"post bypasses", http.MethodPost, "/api/contact", "non-get", ClassBypass, NetworkOnly, ""},
		{"post to static bypasses", http.MethodPost, "/styles.css", "non-get", ClassBypass, NetworkOnly, ""},
		{"head bypasses", http.MethodHead, "/index.html", "non-get", ClassBypass, NetworkOnly, ""},
		{"cache bust", http.MethodGet, "/styles.css?nocache=1", "cache-bust", ClassBypass, NetworkOnly, ""},
		{"cache bust empty value", http.MethodGet, "/img/a.png?_sw_bust", "cache-bust", ClassBypass, NetworkOnly, ""},
		{"image", http.MethodGet, "/img/profile.jpg", "image", ClassImage, CacheFirst, names.Image},
		{"nested image", http.MethodGet, "/img/projects/a.webp", "image", ClassImage, CacheFirst, names.Image},
		{"cross-origin img path", http.MethodGet, "https://cdn.example/img/a.png", "cross-origin", ClassCrossOrigin, StaleWhileRevalidate, names.Dynamic},
		{"static", http.MethodGet, "/styles.css", "static", ClassStatic, CacheFirst, names.Static},
		{"static with query", http.MethodGet, "/script.js?v=2", "static", ClassStatic, CacheFirst, names.Static},
		{"static absolute", http.MethodGet, "https://klaus.example/ads.txt", "static", ClassStatic, CacheFirst, names.Static},
		{"cross-origin static", http.MethodGet, fontsURL, "static", ClassStatic, CacheFirst, names.Static},
		{"critical root", http.MethodGet, "/", "critical", ClassCritical, CacheOnly, names.Static},
		{"critical index", http.MethodGet, "/index.html", "critical", ClassCritical, CacheOnly, names.Static},
		{"lowercase method", "get", "/index.html", "critical", ClassCritical, CacheOnly, names.Static},
		{"critical with fragment", http.MethodGet, "/index.html#top", "critical", ClassCritical, CacheOnly, names.Static},
		{"critical with query", http.MethodGet, "/index.html?utm_source=twitter", "same-origin", ClassDynamic, NetworkFirst, names.Dynamic},
		{"critical root with query", http.MethodGet, "/?ref=x", "same-origin", ClassDynamic, NetworkFirst, names.Dynamic},
		{"same origin", http.MethodGet, "/api/data", "same-origin", ClassDynamic, NetworkFirst, names.Dynamic},
		{"same origin page", http.MethodGet, "/about.html", "same-origin", ClassDynamic, NetworkFirst, names.Dynamic},
		{"other scheme", http.MethodGet, "http://klaus.example/api/data", "cross-origin", ClassCrossOrigin, StaleWhileRevalidate, names.Dynamic},
		{"cross origin", http.MethodGet, "https://pagead2.googlesyndication.com/pagead/js/adsbygoogle.js", "cross-origin", ClassCrossOrigin, StaleWhileRevalidate, names.Dynamic},
		{"fonts other query", http.MethodGet, "https://fonts.googleapis.com/css2?family=Roboto", "cross-origin", ClassCrossOrigin, StaleWhileRevalidate, names.Dynamic},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := s.Select(tt.method, mustParse(t, tt.url))
			want := Decision{Rule: tt.rule, Class: tt.class, Strategy: tt.strategy, Partition: tt.partition}
			if got != want {
				t.Errorf("Select(%s %s) = %+v, want %+v", tt.method, tt.url, got, want)
			}
		})
	}
}

func TestSelect_Deterministic(t *testing.T) {
	s := newTestSelector(t)
	u := mustParse(t, "/api/data")

	first := s.Select(http.MethodGet, u)
	for i := 0; i < 100; i++ {
		if got := s.Select(http.MethodGet, u); got != first {
			t.Fatalf("Select() changed between calls: %+v != %+v", got, first)
		}
	}
	if u.Host != "" {
		t.Error("Select() mutated its input URL")
	}
}

func TestRules(t *testing.T) {
	s := newTestSelector(t)
	rules := s.Rules()

	want := []string{"non-get", "cache-bust", "image", "static", "critical", "same-origin", "cross-origin"}
	if len(rules) != len(want) {
		t.Fatalf("len(Rules()) = %d, want %d", len(rules), len(want))
	}
	for i, name := range want {
		if rules[i].Name != name {
			t.Errorf("Rules()[%d].Name = %q, want %q", i, rules[i].Name, name)
		}
	}

	rules[0].Name = "changed"
	if s.Rules()[0].Name != "non-get" {
		t.Error("Rules() must return a copy")
	}
}

func TestResolve(t *testing.T) {
	s := newTestSelector(t)

	tests := []struct {
		raw  string
		want string
	}{
		{"/index.html", "https://klaus.example/index.html"},
		{"/api/data?x=1#frag", "https://klaus.example/api/data?x=1"},
		{fontsURL, fontsURL},
	}
	for _, tt := range tests {
		got, err := s.Resolve(tt.raw)
		if err != nil {
			t.Fatalf("Resolve(%q) error = %v", tt.raw, err)
		}
		if got.String() != tt.want {
			t.Errorf("Resolve(%q) = %q, want %q", tt.raw, got.String(), tt.want)
		}
	}
}

func TestIsNavigation(t *testing.T) {
	tests := []struct {
		name    string
		method  string
		headers map[string]string
		want    bool
	}{
		{"sec-fetch navigate", http.MethodGet, map[string]string{"Sec-Fetch-Mode": "navigate"}, true},
		{"sec-fetch cors", http.MethodGet, map[string]string{"Sec-Fetch-Mode": "cors", "Accept": "text/html"}, false},
		{"dest document", http.MethodGet, map[string]string{"Sec-Fetch-Dest": "document"}, true},
		{"dest image", http.MethodGet, map[string]string{"Sec-Fetch-Dest": "image"}, false},
		{"accept html", http.MethodGet, map[string]string{"Accept": "text/html,application/xhtml+xml"}, true},
		{"accept json", http.MethodGet, map[string]string{"Accept": "application/json"}, false},
		{"post", http.MethodPost, map[string]string{"Sec-Fetch-Mode": "navigate"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, _ := http.NewRequest(tt.method, "https://klaus.example/about", nil)
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			if got := IsNavigation(req); got != tt.want {
				t.Errorf("IsNavigation() = %v, want %v", got, tt.want)
			}
		})
	}
}
