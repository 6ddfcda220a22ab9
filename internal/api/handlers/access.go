package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/leozw/hotspot-guardian/internal/access"
	"github.com/leozw/hotspot-guardian/internal/core"
	"github.com/leozw/hotspot-guardian/internal/identity"
)

const routerTestTTL = 30 * time.Second

type GrantAccessRequest struct {
	HardwareID    string `json:"hardware_id"`
	Address       string `json:"address" binding:"required"`
	SessionID     string `json:"session_id" binding:"required"`
	DurationHours int    `json:"duration_hours" binding:"min=0"`
	DataCapMB     *int64 `json:"data_cap_mb"`
	SpeedLimit    string `json:"speed_limit"`
}

type RevokeAccessRequest struct {
	Address   string `json:"address"`
	SessionID string `json:"session_id"`
}

func badRequest(c *gin.Context, message string) {
	c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": message})
}

func (h *Handler) GrantAccess(c *gin.Context) {
	var req GrantAccessRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body")
		return
	}

	res := h.access.GrantAccess(c.Request.Context(), access.GrantRequest{
		TenantID:      c.GetString("tenant_id"),
		HardwareID:    req.HardwareID,
		Address:       req.Address,
		SessionID:     req.SessionID,
		DurationHours: req.DurationHours,
		DataCapMB:     req.DataCapMB,
		SpeedLimit:    req.SpeedLimit,
	})
	c.JSON(http.StatusOK, res)
}

func (h *Handler) RevokeAccess(c *gin.Context) {
	var req RevokeAccessRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body")
		return
	}
	if req.Address == "" && req.SessionID == "" {
		badRequest(c, "address or session_id required")
		return
	}

	res := h.access.RevokeAccess(c.Request.Context(), c.GetString("tenant_id"), req.Address, req.SessionID)
	c.JSON(http.StatusOK, res)
}

func (h *Handler) GetUsage(c *gin.Context) {
	rec := h.usage.GetUsage(c.Request.Context(), c.GetString("tenant_id"), c.Param("key"))
	message := "ok"
	if rec.Source == core.UsageSourceNone {
		message = "no usage counters found"
	}
	c.JSON(http.StatusOK, gin.H{
		"success": rec.Source != core.UsageSourceNone,
		"message": message,
		"usage":   rec,
	})
}

func (h *Handler) ResolveIdentity(c *gin.Context) {
	address := c.Query("address")
	if !identity.ValidAddress(address) {
		badRequest(c, "valid address required")
		return
	}

	mac := h.identity.ResolveHardwareID(c.Request.Context(), c.GetString("tenant_id"), address)
	c.JSON(http.StatusOK, gin.H{
		"success":     mac != identity.Unknown,
		"address":     address,
		"hardware_id": mac,
	})
}

func (h *Handler) TestRouter(c *gin.Context) {
	tenantID := c.GetString("tenant_id")
	key := "hotspot:router-test:" + tenantID
	ctx := c.Request.Context()

	if h.cache != nil && c.Query("fresh") != "true" {
		var cached core.ConnectionResult
		if err := h.cache.GetJSON(ctx, key, &cached); err == nil {
			c.JSON(http.StatusOK, cached)
			return
		}
	}

	res := h.access.TestConnection(ctx, tenantID)
	if h.cache != nil && res.Success {
		if err := h.cache.SetJSON(ctx, key, res, routerTestTTL); err != nil {
			h.logger.Debug("Failed to cache router test", zap.String("tenant_id", tenantID), zap.Error(err))
		}
	}
	c.JSON(http.StatusOK, res)
}

func (h *Handler) ListClients(c *gin.Context) {
	tenantID := c.GetString("tenant_id")
	clients, err := h.usage.ListActiveClients(c.Request.Context(), tenantID)
	if err != nil {
		h.logger.Error("Failed to list clients", zap.String("tenant_id", tenantID), zap.Error(err))
		c.JSON(http.StatusBadGateway, gin.H{"success": false, "message": "failed to list clients"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "clients": clients})
}

func (h *Handler) FindActiveSession(c *gin.Context) {
	mac, address := c.Query("mac"), c.Query("address")
	if mac == "" && address == "" {
		badRequest(c, "mac or address required")
		return
	}
	if mac != "" {
		mac = identity.Normalize(mac)
	}

	sess, err := h.store.FindActiveSession(c.Request.Context(), c.GetString("tenant_id"), mac, address)
	if errors.Is(err, core.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"success": false, "message": "no active session"})
		return
	}
	if err != nil {
		h.logger.Error("Failed to find session", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "failed to find session"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "session": sess})
}

type DisconnectRequest struct {
	MACAddress string `json:"mac_address"`
	Address    string `json:"address"`
}

// DisconnectSession ends the client's active session: access is revoked on
// the router and the session is marked TERMINATED. A failed revoke leaves
// the session ACTIVE.
func (h *Handler) DisconnectSession(c *gin.Context) {
	var req DisconnectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body")
		return
	}
	if req.MACAddress == "" && req.Address == "" {
		badRequest(c, "mac_address or address required")
		return
	}
	mac := req.MACAddress
	if mac != "" {
		mac = identity.Normalize(mac)
	}

	tenantID := c.GetString("tenant_id")
	ctx := c.Request.Context()

	sess, err := h.store.FindActiveSession(ctx, tenantID, mac, req.Address)
	if errors.Is(err, core.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"success": false, "message": "no active session"})
		return
	}
	if err != nil {
		h.logger.Error("Failed to find session", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "failed to find session"})
		return
	}

	logger := h.logger.With(
		zap.String("tenant_id", tenantID),
		zap.String("session_id", sess.ID),
		zap.String("address", sess.CurrentIP),
	)

	res := h.access.RevokeAccess(ctx, tenantID, sess.CurrentIP, sess.ID)
	if !res.Success {
		logger.Warn("Disconnect revoke failed", zap.String("message", res.Message))
		c.JSON(http.StatusBadGateway, gin.H{"success": false, "message": res.Message, "session_id": sess.ID})
		return
	}

	if err := h.store.UpdateSessionStatus(ctx, sess.ID, core.StatusTerminated, access.DisconnectReason, nil); err != nil {
		logger.Error("Failed to mark session terminated", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "failed to update session"})
		return
	}

	logger.Info("Session disconnected", zap.Bool("revoked", res.Revoked))
	c.JSON(http.StatusOK, gin.H{
		"success":    true,
		"message":    "session terminated",
		"session_id": sess.ID,
		"revoked":    res.Revoked,
	})
}

func (h *Handler) ListCappedSessions(c *gin.Context) {
	sessions, err := h.store.ListSessionsWithCap(c.Request.Context(), c.GetString("tenant_id"))
	if err != nil {
		h.logger.Error("Failed to list sessions", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "failed to list sessions"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "sessions": sessions})
}
