package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/nulzo/prism-gateway/internal/config"
	"github.com/nulzo/prism-gateway/internal/gateway"
	"github.com/nulzo/prism-gateway/internal/server/middleware"
	"github.com/nulzo/prism-gateway/internal/server/validator"
	"go.uber.org/zap"
)

const ServiceName = "prism-gateway"

type Server struct {
	router  *gin.Engine
	config  *config.Config
	logger  *zap.Logger
	service gateway.Service
	version string
}

func New(cfg *config.Config, logger *zap.Logger, service gateway.Service, version string) *Server {
	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	validator.InitValidator()

	engine := gin.New()
	engine.Use(middleware.Recovery(logger))
	engine.Use(middleware.Tracing(ServiceName))
	engine.Use(middleware.Logger(logger))

	s := &Server{
		router:  engine,
		config:  cfg,
		logger:  logger,
		service: service,
		version: version,
	}

	s.SetupRoutes()
	return s
}

func (s *Server) Handler() http.Handler {
	return s.router
}
