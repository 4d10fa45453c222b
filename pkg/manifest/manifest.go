// Package manifest holds the resource lists baked into a worker deployment
// and derives the versioned partition names from them.
package manifest

import (
	"fmt"
	"net/url"
	"os"
	"slices"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	yamlv3 "gopkg.in/yaml.v3"
)

// EnvPrefix is the prefix of environment overrides (SW_MANIFEST_VERSION -> version).
const EnvPrefix = "SW_MANIFEST_"

// Manifest is the deploy-time configuration of the worker's caches.
type Manifest struct {
	// App prefixes every partition name.
	App string `yaml:"app" koanf:"app"`

	// Version is the VersionTag; bumping it invalidates every partition of
	// the previous deployment on the next activate.
	Version string `yaml:"version" koanf:"version"`

	// Critical resources must be cached at install and are served cache-only.
	Critical []string `yaml:"critical" koanf:"critical"`

	// Static resources are pre-cached best-effort and served cache-first.
	Static []string `yaml:"static" koanf:"static"`

	// Images are pre-cached best-effort into the image partition.
	Images []string `yaml:"images" koanf:"images"`

	// ImagePrefixes route any same-origin path below them to the image partition.
	ImagePrefixes []string `yaml:"image_prefixes" koanf:"image_prefixes"`

	// OfflineFallback is served to navigations when network and cache both fail.
	OfflineFallback string `yaml:"offline_fallback" koanf:"offline_fallback"`

	// CacheBustParams are query parameters that force a network-only fetch.
	CacheBustParams []string `yaml:"cache_bust_params" koanf:"cache_bust_params"`
}

// Default returns the portfolio site's manifest.
func Default() *Manifest {
	return &Manifest{
		App:     "klaus",
		Version: "1",
		Critical: []string{
			"/",
			"/index.html",
		},
		Static: []string{
			"/styles.css",
			"/script.js",
			"/ad-styles.css",
			"/ads.txt",
			"/manifest.json",
			"https://fonts.googleapis.com/css2?family=Inter:wght@300;400;500;600;700;800&display=swap",
		},
		Images: []string{
			"/img/favicon-optimized.png",
			"/img/apple-touch-icon.png",
		},
		ImagePrefixes:   []string{"/img/"},
		OfflineFallback: "/index.html",
		CacheBustParams: []string{"nocache", "_sw_bust"},
	}
}

// Load reads the manifest from the given YAML file, then overlays
// environment variable overrides (SW_MANIFEST_*). A missing file yields
// the defaults.
func Load(path string) (*Manifest, error) {
	k := koanf.New(".")
	m := Default()

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
				return nil, fmt.Errorf("reading manifest %s: %w", path, err)
			}
		} else if !os.IsNotExist(err) {
			return nil, fmt.Errorf("accessing manifest %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		return strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	}), nil); err != nil {
		return nil, fmt.Errorf("loading env overrides: %w", err)
	}

	if err := k.Unmarshal("", m); err != nil {
		return nil, fmt.Errorf("unmarshalling manifest: %w", err)
	}

	if err := m.Validate(); err != nil {
		return nil, err
	}
	return m, nil
}

// Validate checks that the manifest is usable.
func (m *Manifest) Validate() error {
	if m.App == "" {
		return fmt.Errorf("app is required")
	}
	if strings.ContainsAny(m.App, " :") {
		return fmt.Errorf("invalid app %q: must not contain spaces or colons", m.App)
	}
	if m.Version == "" {
		return fmt.Errorf("version is required")
	}

	for _, list := range [][]string{m.Critical, m.Static, m.Images} {
		for _, raw := range list {
			if _, err := url.Parse(raw); err != nil {
				return fmt.Errorf("invalid resource %q: %w", raw, err)
			}
			if !strings.HasPrefix(raw, "/") && !strings.Contains(raw, "://") {
				return fmt.Errorf("invalid resource %q: must be a path or absolute URL", raw)
			}
		}
	}

	for _, prefix := range m.ImagePrefixes {
		if !strings.HasPrefix(prefix, "/") {
			return fmt.Errorf("invalid image prefix %q: must start with /", prefix)
		}
	}

	if m.OfflineFallback != "" &&
		!slices.Contains(m.Critical, m.OfflineFallback) &&
		!slices.Contains(m.Static, m.OfflineFallback) {
		return fmt.Errorf("offline_fallback %q must be listed as critical or static so it is installed", m.OfflineFallback)
	}

	return nil
}

// YAML renders the effective manifest.
func (m *Manifest) YAML() ([]byte, error) {
	data, err := yamlv3.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("marshalling manifest: %w", err)
	}
	return data, nil
}

// Names returns the partition names for this deployment.
func (m *Manifest) Names() Names {
	return NewNames(m.App, m.Version)
}
