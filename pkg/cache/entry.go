package cache

import (
	"net/http"
	"time"
)

// Entry is an immutable snapshot of a successful network response.
type Entry struct {
	// Key is the request key the entry is stored under
	Key Key `json:"key"`

	// URL is the absolute URL the response was fetched from
	URL string `json:"url"`

	// StatusCode is the HTTP status code of the captured response (always 2xx)
	StatusCode int `json:"status_code"`

	// Headers are the response headers at capture time
	Headers http.Header `json:"headers"`

	// Body is the full response body
	Body []byte `json:"body"`

	// StoredAt is when the snapshot was written into its partition
	StoredAt time.Time `json:"stored_at"`
}

// Age returns how long ago the entry was stored, relative to now.
// Returns 0 for entries stored in the future (clock skew).
func (e *Entry) Age(now time.Time) time.Duration {
	age := now.Sub(e.StoredAt)
	if age < 0 {
		return 0
	}
	return age
}

// OlderThan reports whether the entry has been stored for longer than maxAge.
func (e *Entry) OlderThan(maxAge time.Duration, now time.Time) bool {
	return e.Age(now) > maxAge
}

// Size returns the approximate number of bytes the entry occupies.
func (e *Entry) Size() int {
	n := len(e.Body) + len(e.URL) + len(e.Key)
	for k, vs := range e.Headers {
		n += len(k)
		for _, v := range vs {
			n += len(v)
		}
	}
	return n
}
