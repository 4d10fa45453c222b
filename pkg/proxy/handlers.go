package proxy

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/kevohmutwiri9-creator/Klaus/pkg/metrics"
	"github.com/kevohmutwiri9-creator/Klaus/pkg/worker"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const maxMessageBytes = 64 << 10

func metricsHandler() http.Handler {
	return promhttp.HandlerFor(metrics.Gatherer, promhttp.HandlerOpts{})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, "OK")
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if err := s.registration.Ready(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "unavailable",
			"error":  err.Error(),
		})
		return
	}

	active := s.registration.Active()
	body := map[string]string{
		"status":  "ready",
		"version": active.Version(),
	}
	if waiting := s.registration.Waiting(); waiting != nil {
		body["waiting"] = waiting.Version()
	}
	writeJSON(w, http.StatusOK, body)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if s.latency == nil {
		writeJSON(w, http.StatusOK, []metrics.Stats{})
		return
	}
	writeJSON(w, http.StatusOK, s.latency.GetAllStats())
}

func (s *Server) handlePartitions(w http.ResponseWriter, r *http.Request) {
	active := s.registration.Active()
	if active == nil {
		http.Error(w, worker.ErrNoActiveWorker.Error(), http.StatusServiceUnavailable)
		return
	}

	infos, err := active.Partitions(r.Context())
	if err != nil {
		s.logger.Error().Err(err).Msg("Listing partitions failed")
		http.Error(w, "listing partitions failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, infos)
}

// handleEvents streams registration events as server-sent events.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	events, unsubscribe := s.registration.Subscribe()
	defer unsubscribe()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			data, err := json.Marshal(ev)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Type, data)
			flusher.Flush()
		}
	}
}

// handleMessage accepts a control message. The sender gets 202 whatever
// the outcome; only an undecodable body is rejected.
func (s *Server) handleMessage(w http.ResponseWriter, r *http.Request) {
	data, err := io.ReadAll(io.LimitReader(r.Body, maxMessageBytes))
	if err != nil {
		http.Error(w, "reading message failed", http.StatusBadRequest)
		return
	}

	msg, err := worker.ParseMessage(data)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	s.registration.PostMessage(r.Context(), msg)
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	tag := chi.URLParam(r, "tag")

	err := s.registration.Sync(r.Context(), tag)
	switch {
	case err == nil:
		w.WriteHeader(http.StatusNoContent)
	case errors.Is(err, worker.ErrNoActiveWorker):
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
	default:
		s.logger.Error().Err(err).Str("tag", tag).Msg("Sync failed")
		http.Error(w, "sync failed", http.StatusInternalServerError)
	}
}
