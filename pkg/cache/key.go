package cache

import (
	"net/http"
	"net/url"
	"strings"
)

// Key identifies a cached response inside a partition.
// Format: "<METHOD> <absolute URL>"
//
// Example:
//
//	GET https://klaus.dev/styles.css
type Key string

// NewKey builds a request key from a method and an absolute URL.
// The fragment is dropped; it never reaches the network.
func NewKey(method string, u *url.URL) Key {
	if method == "" {
		method = http.MethodGet
	}
	clean := *u
	clean.Fragment = ""
	clean.RawFragment = ""
	return Key(strings.ToUpper(method) + " " + clean.String())
}

// KeyForRequest builds the request key for an outbound request.
func KeyForRequest(req *http.Request) Key {
	return NewKey(req.Method, req.URL)
}

// Method returns the method portion of the key.
func (k Key) Method() string {
	method, _, _ := strings.Cut(string(k), " ")
	return method
}

// URL returns the URL portion of the key.
func (k Key) URL() string {
	_, rawURL, _ := strings.Cut(string(k), " ")
	return rawURL
}

// String implements fmt.Stringer.
func (k Key) String() string {
	return string(k)
}
