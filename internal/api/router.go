package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/jafarshop/webhookgw/internal/api/handlers"
	"github.com/jafarshop/webhookgw/internal/api/middleware"
	"github.com/jafarshop/webhookgw/internal/config"
	"github.com/jafarshop/webhookgw/internal/metrics"
	"github.com/jafarshop/webhookgw/internal/repository"
	"github.com/jafarshop/webhookgw/internal/service"
	"github.com/jafarshop/webhookgw/internal/webhook"
)

// Dependencies are the collaborators the HTTP layer needs
type Dependencies struct {
	Repos   *repository.Repositories
	Gateway *webhook.Gateway
	Guard   *webhook.Guard
	Stores  *service.StoreService
}

// NewRouter creates and configures the Gin router
func NewRouter(cfg *config.Config, deps Dependencies, logger *zap.Logger) *gin.Engine {
	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()

	// Middleware
	router.Use(gin.Recovery())
	router.Use(middleware.RequestLogger(logger))

	metrics.Register()
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Health check
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	// Shopify callbacks. The path suffix is only a hint; the topic header
	// decides routing.
	router.POST("/webhooks/*topic", handlers.HandleWebhook(deps.Gateway, cfg.Webhook.MaxBodyBytes, logger))

	v1 := router.Group("/v1")
	{
		adminRoutes := v1.Group("/admin")
		adminRoutes.Use(middleware.AdminAuth(cfg.API.AdminKeyHash, logger))
		{
			adminRoutes.GET("/deliveries/:store/:delivery", handlers.HandleGetDelivery(deps.Repos, logger))
			adminRoutes.POST("/deliveries/prune", handlers.HandlePruneDeliveries(deps.Guard, logger))
			adminRoutes.GET("/stores/:store", handlers.HandleGetStore(deps.Repos, logger))
			adminRoutes.POST("/stores/:store/rotate-secret", handlers.HandleRotateSecret(deps.Stores, logger))
			adminRoutes.GET("/orders/:store/:external_id", handlers.HandleGetOrder(deps.Repos, logger))
		}
	}

	return router
}
