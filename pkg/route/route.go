// Package route decides, for every intercepted request, which caching
// strategy runs and which partition it targets.
//
// The decision is a pure function of method and URL. Rules live in an
// ordered table evaluated top-down; the first match wins:
//
//  1. non-GET                          network-only
//  2. cache-busting query parameter    network-only
//  3. same-origin image prefix         cache-first, IMAGE
//  4. static manifest resource         cache-first, STATIC
//  5. critical manifest resource       cache-only, STATIC (exact path and query)
//  6. same origin                      network-first, DYNAMIC
//  7. cross origin                     stale-while-revalidate, DYNAMIC
package route

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/kevohmutwiri9-creator/Klaus/pkg/manifest"
)

// Strategy identifies a strategy executor.
type Strategy string

const (
	NetworkOnly          Strategy = "network-only"
	CacheFirst           Strategy = "cache-first"
	NetworkFirst         Strategy = "network-first"
	StaleWhileRevalidate Strategy = "stale-while-revalidate"
	CacheOnly            Strategy = "cache-only"
)

// Class is the resource class of a request.
type Class string

const (
	ClassBypass      Class = "bypass"
	ClassImage       Class = "image"
	ClassStatic      Class = "static"
	ClassCritical    Class = "critical"
	ClassDynamic     Class = "same-origin-dynamic"
	ClassCrossOrigin Class = "cross-origin"
)

// Decision is the outcome of Select. Partition is empty for network-only.
type Decision struct {
	Rule      string
	Class     Class
	Strategy  Strategy
	Partition string
}

// Rule is one row of the routing table.
type Rule struct {
	Name      string
	Match     func(method string, u *url.URL) bool
	Class     Class
	Strategy  Strategy
	Partition string
}

// Config is everything the selector needs; there is no package state.
type Config struct {
	// Origin is the page origin (scheme and host) the worker serves.
	Origin *url.URL

	Names           manifest.Names
	Critical        []string
	Static          []string
	ImagePrefixes   []string
	CacheBustParams []string
}

// ConfigFromManifest builds a selector config from a loaded manifest.
func ConfigFromManifest(origin *url.URL, m *manifest.Manifest) Config {
	return Config{
		Origin:          origin,
		Names:           m.Names(),
		Critical:        m.Critical,
		Static:          m.Static,
		ImagePrefixes:   m.ImagePrefixes,
		CacheBustParams: m.CacheBustParams,
	}
}

// Selector routes requests to strategies.
type Selector struct {
	origin *url.URL
	rules  []Rule
}

// NewSelector builds the routing table from cfg.
func NewSelector(cfg Config) (*Selector, error) {
	if cfg.Origin == nil || cfg.Origin.Scheme == "" || cfg.Origin.Host == "" {
		return nil, fmt.Errorf("origin must be an absolute URL")
	}
	origin := &url.URL{Scheme: strings.ToLower(cfg.Origin.Scheme), Host: strings.ToLower(cfg.Origin.Host)}
	s := &Selector{origin: origin}

	static, err := s.resourceSet(cfg.Static)
	if err != nil {
		return nil, fmt.Errorf("static resources: %w", err)
	}
	critical, err := s.resourceSet(cfg.Critical)
	if err != nil {
		return nil, fmt.Errorf("critical resources: %w", err)
	}

	bust := append([]string(nil), cfg.CacheBustParams...)
	prefixes := append([]string(nil), cfg.ImagePrefixes...)

	s.rules = []Rule{
		{
			Name:     "non-get",
			Match:    func(method string, _ *url.URL) bool { return method != http.MethodGet },
			Class:    ClassBypass,
			Strategy: NetworkOnly,
		},
		{
			Name: "cache-bust",
			Match: func(_ string, u *url.URL) bool {
				q := u.Query()
				for _, p := range bust {
					if q.Has(p) {
						return true
					}
				}
				return false
			},
			Class:    ClassBypass,
			Strategy: NetworkOnly,
		},
		{
			Name: "image",
			Match: func(_ string, u *url.URL) bool {
				if !s.SameOrigin(u) {
					return false
				}
				for _, p := range prefixes {
					if strings.HasPrefix(u.Path, p) {
						return true
					}
				}
				return false
			},
			Class:     ClassImage,
			Strategy:  CacheFirst,
			Partition: cfg.Names.Image,
		},
		{
			Name:      "static",
			Match:     func(_ string, u *url.URL) bool { return static.contains(s, u) },
			Class:     ClassStatic,
			Strategy:  CacheFirst,
			Partition: cfg.Names.Static,
		},
		{
			Name:      "critical",
			Match:     func(_ string, u *url.URL) bool { return critical.containsExact(s, u) },
			Class:     ClassCritical,
			Strategy:  CacheOnly,
			Partition: cfg.Names.Static,
		},
		{
			Name:      "same-origin",
			Match:     func(_ string, u *url.URL) bool { return s.SameOrigin(u) },
			Class:     ClassDynamic,
			Strategy:  NetworkFirst,
			Partition: cfg.Names.Dynamic,
		},
		{
			Name:      "cross-origin",
			Match:     func(_ string, _ *url.URL) bool { return true },
			Class:     ClassCrossOrigin,
			Strategy:  StaleWhileRevalidate,
			Partition: cfg.Names.Dynamic,
		},
	}

	return s, nil
}

// Select returns the decision for the first matching rule. Relative URLs
// are resolved against the origin.
func (s *Selector) Select(method string, u *url.URL) Decision {
	if method == "" {
		method = http.MethodGet
	}
	method = strings.ToUpper(method)
	abs := s.origin.ResolveReference(u)

	for _, r := range s.rules {
		if r.Match(method, abs) {
			return Decision{Rule: r.Name, Class: r.Class, Strategy: r.Strategy, Partition: r.Partition}
		}
	}
	// unreachable: the last rule matches everything
	return Decision{Rule: "cross-origin", Class: ClassCrossOrigin, Strategy: StaleWhileRevalidate}
}

// Rules returns a copy of the routing table in evaluation order.
func (s *Selector) Rules() []Rule {
	return append([]Rule(nil), s.rules...)
}

// Origin returns the page origin.
func (s *Selector) Origin() *url.URL {
	u := *s.origin
	return &u
}

// Resolve parses raw (a path or absolute URL) against the origin.
func (s *Selector) Resolve(raw string) (*url.URL, error) {
	ref, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("parse %q: %w", raw, err)
	}
	abs := s.origin.ResolveReference(ref)
	abs.Fragment = ""
	abs.RawFragment = ""
	return abs, nil
}

// SameOrigin reports whether u has the page's scheme and host.
func (s *Selector) SameOrigin(u *url.URL) bool {
	if u.Host == "" {
		return true
	}
	return strings.EqualFold(u.Scheme, s.origin.Scheme) && strings.EqualFold(u.Host, s.origin.Host)
}

// resources is a manifest list split into same-origin paths (with and
// without their query) and cross-origin absolute URLs.
type resources struct {
	paths    map[string]bool
	requests map[string]bool
	urls     map[string]bool
}

func (s *Selector) resourceSet(list []string) (resources, error) {
	set := resources{
		paths:    make(map[string]bool),
		requests: make(map[string]bool),
		urls:     make(map[string]bool),
	}
	for _, raw := range list {
		u, err := s.Resolve(raw)
		if err != nil {
			return set, err
		}
		if s.SameOrigin(u) {
			set.paths[u.Path] = true
			set.requests[u.RequestURI()] = true
		} else {
			set.urls[u.String()] = true
		}
	}
	return set, nil
}

// contains matches same-origin URLs by path, whatever their query.
func (r resources) contains(s *Selector, u *url.URL) bool {
	if s.SameOrigin(u) {
		return r.paths[u.Path]
	}
	return r.urls[withoutFragment(u)]
}

// containsExact matches same-origin URLs by path and query, so only the
// URL that was pre-populated is matched.
func (r resources) containsExact(s *Selector, u *url.URL) bool {
	if s.SameOrigin(u) {
		return r.requests[u.RequestURI()]
	}
	return r.urls[withoutFragment(u)]
}

func withoutFragment(u *url.URL) string {
	c := *u
	c.Fragment = ""
	c.RawFragment = ""
	return c.String()
}
