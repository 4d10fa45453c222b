package cache

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"
)

// HeaderStoredAt is set on responses served from a partition and carries
// the snapshot's capture time.
const HeaderStoredAt = "X-SW-Stored-At"

// IsCacheable reports whether a response status may be written into a partition.
// Only 2xx responses are ever cached; redirects and errors pass through.
func IsCacheable(statusCode int) bool {
	return statusCode >= 200 && statusCode <= 299
}

// BufferBody reads the full response body into memory and replaces it with
// an in-memory reader, so the response survives cancellation of the context
// it was fetched under.
func BufferBody(resp *http.Response) ([]byte, error) {
	if resp == nil {
		return nil, fmt.Errorf("response cannot be nil")
	}
	if resp.Body == nil {
		resp.Body = http.NoBody
		return nil, nil
	}

	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}

	resp.Body = io.NopCloser(bytes.NewReader(body))
	resp.ContentLength = int64(len(body))
	return body, nil
}

// ResponseToEntry converts an HTTP response to an Entry stored under key.
// The response body is read and restored for the caller.
func ResponseToEntry(key Key, resp *http.Response, now time.Time) (*Entry, error) {
	body, err := BufferBody(resp)
	if err != nil {
		return nil, err
	}

	rawURL := key.URL()
	if resp.Request != nil && resp.Request.URL != nil {
		rawURL = resp.Request.URL.String()
	}

	return &Entry{
		Key:        key,
		URL:        rawURL,
		StatusCode: resp.StatusCode,
		Headers:    resp.Header.Clone(),
		Body:       body,
		StoredAt:   now,
	}, nil
}

// EntryToResponse rebuilds an HTTP response from a stored entry.
// Each call returns an independent response; the entry is never mutated.
func EntryToResponse(entry *Entry, req *http.Request) *http.Response {
	headers := entry.Headers.Clone()
	if headers == nil {
		headers = http.Header{}
	}
	headers.Set(HeaderStoredAt, entry.StoredAt.UTC().Format(http.TimeFormat))
	headers.Set("Content-Length", strconv.Itoa(len(entry.Body)))

	return &http.Response{
		Status:        fmt.Sprintf("%d %s", entry.StatusCode, http.StatusText(entry.StatusCode)),
		StatusCode:    entry.StatusCode,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        headers,
		Body:          io.NopCloser(bytes.NewReader(entry.Body)),
		ContentLength: int64(len(entry.Body)),
		Request:       req,
	}
}
