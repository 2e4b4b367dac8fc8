package server

import (
	"net/http"

	ginzap "github.com/gin-contrib/zap"
	"github.com/gin-gonic/gin"
	"github.com/strata-ai/model-registry/internal/config"
	"github.com/strata-ai/model-registry/internal/core/reconciler"
	"github.com/strata-ai/model-registry/internal/core/resolver"
	"github.com/strata-ai/model-registry/internal/core/usage"
	"github.com/strata-ai/model-registry/internal/server/middleware"
	"github.com/strata-ai/model-registry/internal/server/validator"
	"github.com/strata-ai/model-registry/internal/store"
	"go.uber.org/zap"
)

type Server struct {
	router *gin.Engine
	config *config.Config
	logger *zap.Logger

	engine     *resolver.Engine
	aggregator *usage.Aggregator
	reconciler *reconciler.Reconciler
	repo       store.Repository
}

func New(cfg *config.Config, logger *zap.Logger, engine *resolver.Engine, aggregator *usage.Aggregator, rec *reconciler.Reconciler, repo store.Repository) *Server {

	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	validator.InitValidator()

	router := gin.New()

	router.Use(ginzap.RecoveryWithZap(logger, true))
	router.Use(middleware.Logger(logger))

	s := &Server{
		router:     router,
		config:     cfg,
		logger:     logger,
		engine:     engine,
		aggregator: aggregator,
		reconciler: rec,
		repo:       repo,
	}

	s.SetupRoutes()
	return s
}

func (s *Server) Handler() http.Handler {
	return s.router
}
