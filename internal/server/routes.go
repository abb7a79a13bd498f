package server

import (
	"context"
	"os"

	"github.com/fulmenhq/gofulmen/signals"
	"go.uber.org/zap"

	"github.com/qrandom/qrandom/internal/appid"
	"github.com/qrandom/qrandom/internal/observability"
	"github.com/qrandom/qrandom/internal/server/handlers"
)

// registerRoutes registers all HTTP routes
func (s *Server) registerRoutes() {
	health := s.opts.Health
	s.router.Get("/health", health.HealthHandler)
	s.router.Get("/health/live", health.LivenessHandler)
	s.router.Get("/health/ready", health.ReadinessHandler)
	s.router.Get("/health/startup", health.StartupHandler)

	s.router.Get("/version", handlers.NewVersionHandler(s.sourceNames))
	s.router.Get("/metrics", s.metricsHandler)

	s.router.Get("/", handlers.IndexHandler)
	s.router.Get("/visualize", handlers.VisualizeHandler)

	if s.opts.Service != nil {
		api := handlers.NewRandomAPI(s.opts.Service, s.opts.RequestTimeout)
		s.router.Get("/random", api.Random)
		s.router.Get("/random/batch", api.Batch)
		s.router.Method("GET", "/random/stream",
			handlers.NewStreamHandler(s.opts.Service, s.opts.StreamInterval, s.opts.RequestTimeout, s.opts.CORSOrigins))
		s.router.Get("/stats", api.Stats)
		s.router.Get("/quality", api.Quality)
		s.router.Get("/sources", api.Sources)
		s.router.Post("/sources/{name}/probe", api.Probe)
	}

	// Admin signal endpoint (optional, requires QRANDOM_ADMIN_TOKEN)
	s.registerAdminEndpoint()
}

// sourceNames lists the rotation in priority order.
func (s *Server) sourceNames() []string {
	if s.opts.Service == nil {
		return nil
	}
	sources := s.opts.Service.Rotation().Sources()
	names := make([]string, 0, len(sources))
	for _, src := range sources {
		names = append(names, src.Name())
	}
	return names
}

// registerAdminEndpoint optionally registers the admin signal endpoint
func (s *Server) registerAdminEndpoint() {
	identity, _ := appid.Get(context.Background())
	envPrefix := appid.EnvPrefix
	if identity != nil && identity.EnvPrefix != "" {
		envPrefix = identity.EnvPrefix
	}

	adminToken := os.Getenv(envPrefix + "ADMIN_TOKEN")
	logger := observability.ServerLogger

	if adminToken == "" {
		if logger != nil {
			logger.Debug("Admin signal endpoint disabled (no " + envPrefix + "ADMIN_TOKEN set)")
		}
		return
	}

	handler := signals.NewHTTPHandler(signals.HTTPConfig{
		TokenAuth: adminToken,
		RateLimit: 10,
		RateBurst: 5,
		Manager:   nil,
	})

	s.router.Post("/admin/signal", handler.ServeHTTP)

	if logger != nil {
		logger.Info("Admin signal endpoint enabled",
			zap.String("path", "/admin/signal"),
			zap.String("rate_limit", "10/min, burst 5"))
	}
}
