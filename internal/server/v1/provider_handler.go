package v1

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/nulzo/prism-gateway/internal/gateway"
)

type ProviderHandler struct {
	service gateway.Service
}

func NewProviderHandler(service gateway.Service) *ProviderHandler {
	return &ProviderHandler{service: service}
}

// List returns the registered providers and what each can do.
//
// GET /v1/providers
func (h *ProviderHandler) List(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"object": "list",
		"data":   h.service.Providers(),
	})
}

// Get returns one provider.
//
// GET /v1/providers/:id
func (h *ProviderHandler) Get(c *gin.Context) {
	id := c.Param("id")
	for _, p := range h.service.Providers() {
		if p.ID == id {
			c.JSON(http.StatusOK, p)
			return
		}
	}
	// Capabilities reports the canonical unknown-provider error.
	if _, err := h.service.Capabilities(id); err != nil {
		_ = c.Error(err)
		return
	}
	c.Status(http.StatusNotFound)
}

type HealthHandler struct {
	version string
}

func NewHealthHandler(version string) *HealthHandler {
	return &HealthHandler{version: version}
}

// GET /health
func (h *HealthHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "version": h.version})
}
