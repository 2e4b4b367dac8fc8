package server

import (
	"github.com/strata-ai/model-registry/internal/server/middleware"
	v1 "github.com/strata-ai/model-registry/internal/server/v1"
)

const serviceName = "model-registry"

func (s *Server) SetupRoutes() {
	s.router.Use(middleware.CORS())
	s.router.Use(middleware.ErrorHandler(s.logger))

	// Health check (public)
	healthHandler := v1.NewHealthHandler()
	s.router.GET("/health", healthHandler.Health)

	api := s.router.Group("/v1")
	api.Use(middleware.Tracing(serviceName))
	api.Use(middleware.Auth(s.config.Server.APIKeys))

	limiter := middleware.NewRateLimiter(s.config.RateLimit.RequestsPerSecond, s.config.RateLimit.Burst, s.logger)
	api.Use(limiter.Middleware())

	{
		resolveHandler := v1.NewResolveHandler(s.engine)
		api.POST("/resolve", resolveHandler.Resolve)

		usageHandler := v1.NewUsageHandler(s.aggregator)
		api.POST("/usage", usageHandler.Ingest)

		reconcileHandler := v1.NewReconcileHandler(s.reconciler, s.repo)
		api.POST("/reconcile", reconcileHandler.Trigger)
		api.GET("/reconcile/logs", reconcileHandler.Logs)

		modelHandler := v1.NewModelHandler(s.repo)
		api.GET("/models", modelHandler.ListModels)
	}
}
