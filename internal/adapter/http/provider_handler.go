package http

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/jnsystems/sms-gateway/internal/adapter/provider"
)

type ProviderHandler struct {
	registry *provider.Registry
}

func NewProviderHandler(registry *provider.Registry) *ProviderHandler {
	return &ProviderHandler{registry: registry}
}

func (h *ProviderHandler) List(c *gin.Context) {
	active := h.registry.ActiveName()

	providers := h.registry.All()
	resp := make([]ProviderResponse, len(providers))
	for i, p := range providers {
		resp[i] = ProviderResponse{
			Name:      p.Name(),
			Active:    p.Name() == active,
			Available: p.Available(),
		}
	}

	c.JSON(http.StatusOK, gin.H{"providers": resp})
}

func (h *ProviderHandler) Switch(c *gin.Context) {
	var req SwitchProviderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}

	if err := h.registry.Switch(req.Provider); err != nil {
		handleDomainError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"active": h.registry.ActiveName()})
}
