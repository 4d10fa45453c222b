// Package proxy is the HTTP host of the cache worker. It intercepts every
// request a client sends it, routes it through the active worker, and
// exposes the control surface under /_sw/.
//
// Routes:
//
//	GET  /_sw/health         liveness
//	GET  /_sw/ready          a worker is active and storage answers
//	GET  /_sw/metrics        Prometheus exposition
//	GET  /_sw/stats          per-strategy latency quantiles
//	GET  /_sw/partitions     stored partitions and entry counts
//	GET  /_sw/events         server-sent worker events
//	POST /_sw/message        control channel
//	POST /_sw/sync/{tag}     host wake trigger
//	*    /*                  intercepted request
package proxy

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/kevohmutwiri9-creator/Klaus/pkg/logging"
	"github.com/kevohmutwiri9-creator/Klaus/pkg/metrics"
	"github.com/kevohmutwiri9-creator/Klaus/pkg/worker"
	"github.com/rs/zerolog"
)

// ControlPrefix is the path prefix of the control surface.
const ControlPrefix = "/_sw"

// Config holds server configuration.
type Config struct {
	// Addr is the listen address
	Addr string

	// AllowedOrigins may call the control surface cross-origin (CORS)
	AllowedOrigins []string

	// RequestTimeout bounds one intercepted request (0 = none)
	RequestTimeout time.Duration
}

// Server serves intercepted requests and the control surface.
type Server struct {
	cfg          Config
	registration *worker.Registration
	latency      *metrics.LatencyTracker
	router       chi.Router
	httpServer   *http.Server
	logger       zerolog.Logger
}

// New creates a server for the given registration. latency may be nil.
func New(cfg Config, registration *worker.Registration, latency *metrics.LatencyTracker) *Server {
	s := &Server{
		cfg:          cfg,
		registration: registration,
		latency:      latency,
		logger:       logging.NewLogger("proxy"),
	}
	s.router = s.buildRouter()
	s.httpServer = &http.Server{
		Addr:              cfg.Addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	return s
}

func (s *Server) buildRouter() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)

	r.Route(ControlPrefix, func(r chi.Router) {
		if len(s.cfg.AllowedOrigins) > 0 {
			r.Use(cors.Handler(cors.Options{
				AllowedOrigins: s.cfg.AllowedOrigins,
				AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
				AllowedHeaders: []string{"Accept", "Content-Type"},
				MaxAge:         300,
			}))
		}

		r.Get("/health", s.handleHealth)
		r.Get("/ready", s.handleReady)
		r.Handle("/metrics", metricsHandler())
		r.Get("/stats", s.handleStats)
		r.Get("/partitions", s.handlePartitions)
		r.Get("/events", s.handleEvents)
		r.Post("/message", s.handleMessage)
		r.Post("/sync/{tag}", s.handleSync)
	})

	r.HandleFunc("/*", s.handleIntercept)
	return r
}

// Router returns the chi router.
func (s *Server) Router() chi.Router { return s.router }

// Start listens on the configured address until Shutdown.
func (s *Server) Start() error {
	s.logger.Info().Str("addr", s.cfg.Addr).Msg("Proxy listening")
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// requestLogger logs each request with zerolog.
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		s.logger.Debug().
			Str("request_id", middleware.GetReqID(r.Context())).
			Str("method", r.Method).
			Str("url", r.URL.String()).
			Int("status_code", ww.Status()).
			Int("bytes", ww.BytesWritten()).
			Str("source", ww.Header().Get("X-SW-Source")).
			Dur("duration", time.Since(start)).
			Msg("Request served")
	})
}
