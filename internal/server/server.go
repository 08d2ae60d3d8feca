// Package server exposes the HTTP surface: the WebSocket endpoint, the
// realtime notify API, the profile cache API, health, and metrics.
package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/feedwire/feedwire/internal/pipeline"
	"github.com/feedwire/feedwire/internal/profile"
	"github.com/feedwire/feedwire/internal/registry"
	"github.com/feedwire/feedwire/internal/ws"
)

type Server struct {
	hub        *ws.Hub
	reg        *registry.Registry
	supervisor *pipeline.Supervisor
	dispatcher *pipeline.Dispatcher
	profiles   *profile.Cache
	logger     *zap.Logger
}

func NewServer(
	hub *ws.Hub,
	reg *registry.Registry,
	supervisor *pipeline.Supervisor,
	dispatcher *pipeline.Dispatcher,
	profiles *profile.Cache,
	logger *zap.Logger,
) *Server {
	return &Server{
		hub:        hub,
		reg:        reg,
		supervisor: supervisor,
		dispatcher: dispatcher,
		profiles:   profiles,
		logger:     logger,
	}
}

func NewRouter(s *Server, logger *zap.Logger) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))
	r.Use(corsMiddleware)
	r.Use(zapLoggerMiddleware(logger))

	r.Get("/healthz", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/ws", s.hub.HandleWS)

	r.Route("/api/realtime", func(rt chi.Router) {
		rt.Get("/status", s.handleRealtimeStatus)

		rt.Route("/notify", func(n chi.Router) {
			n.Post("/like", s.handleNotifyLike)
			n.Post("/comment", s.handleNotifyComment)
			n.Post("/poll-vote", s.handleNotifyPollVote)
			n.Post("/follow", s.handleNotifyFollow)
			n.Post("/feed", s.handleNotifyFeed)
			n.Post("/trending", s.handleNotifyTrending)
			n.Post("/maintenance", s.handleNotifyMaintenance)
		})
	})

	r.Route("/api/cache", func(c chi.Router) {
		c.Get("/metrics", s.handleCacheMetrics)
		c.Get("/profile/{userID}", s.handleGetProfile)
		c.Post("/invalidate/{userID}", s.handleInvalidate)
		c.Post("/refresh/{userID}", s.handleRefresh)
		c.Post("/warmup", s.handleWarmUp)
	})

	return r
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "*")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func zapLoggerMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			logger.Debug("request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
			)
			next.ServeHTTP(w, r)
		})
	}
}
