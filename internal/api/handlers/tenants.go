package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/leozw/hotspot-guardian/internal/core"
)

type CreateTenantRequest struct {
	Name           string `json:"name" binding:"required"`
	RouterHost     string `json:"router_host" binding:"required"`
	RouterPort     int    `json:"router_port" binding:"min=0,max=65535"`
	RouterUser     string `json:"router_user" binding:"required"`
	RouterPassword string `json:"router_password" binding:"required"`
	Transport      string `json:"transport" binding:"omitempty,oneof=api rest"`
	UseTLS         bool   `json:"use_tls"`
}

// CreateTenant registers a location. The router password is stored sealed.
func (h *Handler) CreateTenant(c *gin.Context) {
	var req CreateTenantRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body")
		return
	}

	sealed, err := h.vault.Encrypt(req.RouterPassword)
	if err != nil {
		h.logger.Error("Failed to encrypt router password", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "failed to create tenant"})
		return
	}

	transport := req.Transport
	if transport == "" {
		transport = core.TransportAPI
	}

	now := time.Now().UTC()
	tenant := &core.Tenant{
		ID:             uuid.New().String(),
		Name:           req.Name,
		RouterHost:     req.RouterHost,
		RouterPort:     req.RouterPort,
		RouterUser:     req.RouterUser,
		RouterPassword: sealed,
		Transport:      transport,
		UseTLS:         req.UseTLS,
		IsActive:       true,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := h.store.CreateTenant(c.Request.Context(), tenant); err != nil {
		h.logger.Error("Failed to create tenant", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "failed to create tenant"})
		return
	}

	c.JSON(http.StatusCreated, gin.H{"success": true, "tenant": tenant})
}
