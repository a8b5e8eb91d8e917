package server

import (
	"github.com/nulzo/prism-gateway/internal/server/middleware"
	v1 "github.com/nulzo/prism-gateway/internal/server/v1"
)

func (s *Server) SetupRoutes() {
	s.router.Use(middleware.ErrorHandler(s.logger))

	healthHandler := v1.NewHealthHandler(s.version)
	s.router.GET("/health", healthHandler.Health)

	api := s.router.Group("/v1")
	{
		chatHandler := v1.NewChatHandler(s.service)
		api.POST("/chat/completions", chatHandler.CreateCompletion)

		providerHandler := v1.NewProviderHandler(s.service)
		api.GET("/providers", providerHandler.List)
		api.GET("/providers/:id", providerHandler.Get)
	}
}
