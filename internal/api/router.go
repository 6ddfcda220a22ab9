package api

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/leozw/hotspot-guardian/internal/api/handlers"
	"github.com/leozw/hotspot-guardian/internal/api/middleware"
	"github.com/leozw/hotspot-guardian/internal/config"
)

type Server struct {
	Config *config.Config
	Router *gin.Engine
}

func NewServer(cfg *config.Config, h *handlers.Handler, gatherer prometheus.Gatherer, logger *zap.Logger) *Server {
	if cfg.Server.Mode != "" {
		gin.SetMode(cfg.Server.Mode)
	}
	router := gin.New()

	router.Use(middleware.Logger(logger))
	router.Use(gin.Recovery())
	router.Use(middleware.CORS())

	server := &Server{
		Config: cfg,
		Router: router,
	}

	server.setupRoutes(h, gatherer)
	return server
}

func (s *Server) setupRoutes(h *handlers.Handler, gatherer prometheus.Gatherer) {
	s.Router.GET("/health", h.Health)
	s.Router.GET("/ready", h.Ready)
	if gatherer != nil {
		s.Router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	}

	// Called by the payment provider, authenticated by checkout id only.
	s.Router.POST("/api/v1/payments/callback", h.PaymentCallback)

	api := s.Router.Group("/api/v1")
	api.Use(middleware.AuthRequired(s.Config.Auth.JWTSecret, s.Config.Auth.Issuer))

	api.POST("/tenants", middleware.AdminOnly(), h.CreateTenant)

	tenant := api.Group("/tenants/:tenant_id")
	tenant.Use(middleware.Tenant())
	{
		tenant.POST("/access/grant", h.GrantAccess)
		tenant.POST("/access/revoke", h.RevokeAccess)
		tenant.GET("/usage/:key", h.GetUsage)
		tenant.GET("/identity", h.ResolveIdentity)
		tenant.GET("/router/test", h.TestRouter)
		tenant.GET("/clients", h.ListClients)
		tenant.GET("/sessions/active", h.FindActiveSession)
		tenant.GET("/sessions/capped", h.ListCappedSessions)
		tenant.POST("/sessions/disconnect", h.DisconnectSession)
	}
}
