package proxy

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/url"

	"github.com/kevohmutwiri9-creator/Klaus/pkg/strategy"
	"github.com/kevohmutwiri9-creator/Klaus/pkg/worker"
)

// hopHeaders are connection-level headers that are never forwarded.
var hopHeaders = []string{
	"Connection",
	"Proxy-Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

func removeHopHeaders(h http.Header) {
	for _, name := range hopHeaders {
		h.Del(name)
	}
}

// handleIntercept routes a client request through the active worker.
// Absolute-form request URLs (forward proxy) are used as-is; paths are
// resolved against the worker's origin.
func (s *Server) handleIntercept(w http.ResponseWriter, r *http.Request) {
	active := s.registration.Active()
	if active == nil {
		http.Error(w, worker.ErrNoActiveWorker.Error(), http.StatusServiceUnavailable)
		return
	}

	ctx := r.Context()
	if s.cfg.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.RequestTimeout)
		defer cancel()
	}

	target := targetURL(r, active.Selector().Origin())
	out, err := http.NewRequestWithContext(ctx, r.Method, target.String(), r.Body)
	if err != nil {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}
	out.Header = r.Header.Clone()
	removeHopHeaders(out.Header)
	// let the transport negotiate compression so stored bodies are plain
	out.Header.Del("Accept-Encoding")
	out.ContentLength = r.ContentLength

	resp, err := active.Fetch(ctx, out)
	if err != nil {
		status := statusForError(err)
		s.logger.Warn().
			Err(err).
			Str("url", target.String()).
			Int("status_code", status).
			Msg("Request failed")
		http.Error(w, http.StatusText(status), status)
		return
	}
	defer resp.Body.Close()

	header := w.Header()
	for key, values := range resp.Header {
		for _, value := range values {
			header.Add(key, value)
		}
	}
	removeHopHeaders(header)

	w.WriteHeader(resp.StatusCode)
	if _, err := io.Copy(w, resp.Body); err != nil {
		s.logger.Debug().Err(err).Str("url", target.String()).Msg("Client went away while copying body")
	}
}

func targetURL(r *http.Request, origin *url.URL) *url.URL {
	if r.URL.IsAbs() {
		u := *r.URL
		return &u
	}
	return origin.ResolveReference(&url.URL{
		Path:     r.URL.Path,
		RawPath:  r.URL.RawPath,
		RawQuery: r.URL.RawQuery,
	})
}

// statusForError maps a propagated failure to the status the client sees.
func statusForError(err error) int {
	switch {
	case errors.Is(err, strategy.ErrNotCached):
		return http.StatusGatewayTimeout
	case errors.Is(err, worker.ErrNoActiveWorker):
		return http.StatusServiceUnavailable
	default:
		return http.StatusBadGateway
	}
}
