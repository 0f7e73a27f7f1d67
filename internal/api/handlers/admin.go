package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/jafarshop/webhookgw/internal/domain"
	"github.com/jafarshop/webhookgw/internal/repository"
	"github.com/jafarshop/webhookgw/internal/service"
	"github.com/jafarshop/webhookgw/internal/webhook"
	"github.com/jafarshop/webhookgw/pkg/errors"
)

// RotateSecretRequest represents rotate secret request
type RotateSecretRequest struct {
	// Secret is optional; a random one is generated when empty
	Secret string `json:"secret"`
}

// DeliveryResponse represents a recorded webhook delivery
type DeliveryResponse struct {
	ID           string                    `json:"id"`
	StoreID      string                    `json:"store_id"`
	DeliveryID   string                    `json:"delivery_id"`
	Topic        domain.Topic              `json:"topic"`
	PayloadHash  string                    `json:"payload_hash"`
	Verification domain.VerificationResult `json:"verification"`
	Result       domain.ProcessingResult   `json:"result"`
	Attempts     int                       `json:"attempts"`
	LastError    *string                   `json:"last_error,omitempty"`
	ReceivedAt   string                    `json:"received_at"`
	CompletedAt  *string                   `json:"completed_at,omitempty"`
}

// StoreResponse represents a store connection. Secrets are never returned.
type StoreResponse struct {
	StoreID         string                  `json:"store_id"`
	Status          domain.ConnectionStatus `json:"status"`
	AutoSyncOrders  bool                    `json:"auto_sync_orders"`
	SecretRotatedAt *string                 `json:"secret_rotated_at,omitempty"`
	LastSeenAt      *string                 `json:"last_seen_at,omitempty"`
	InstalledAt     string                  `json:"installed_at"`
	DisconnectedAt  *string                 `json:"disconnected_at,omitempty"`
}

// HandleGetDelivery handles GET /v1/admin/deliveries/:store/:delivery
func HandleGetDelivery(repos *repository.Repositories, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		d, err := repos.Delivery.Get(c.Request.Context(), c.Param("store"), c.Param("delivery"))
		if err != nil {
			if errors.IsNotFound(err) {
				c.JSON(http.StatusNotFound, gin.H{"error": "delivery not found"})
				return
			}
			logger.Error("Failed to get delivery", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
			return
		}

		c.JSON(http.StatusOK, DeliveryResponse{
			ID:           d.ID.String(),
			StoreID:      d.StoreID,
			DeliveryID:   d.DeliveryID,
			Topic:        d.Topic,
			PayloadHash:  d.PayloadHash,
			Verification: d.Verification,
			Result:       d.Result,
			Attempts:     d.Attempts,
			LastError:    d.LastError,
			ReceivedAt:   d.ReceivedAt.Format(timeLayout),
			CompletedAt:  formatTime(d.CompletedAt),
		})
	}
}

// HandleGetStore handles GET /v1/admin/stores/:store
func HandleGetStore(repos *repository.Repositories, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		s, err := repos.Store.GetByID(c.Request.Context(), c.Param("store"))
		if err != nil {
			if errors.IsNotFound(err) {
				c.JSON(http.StatusNotFound, gin.H{"error": "store not found"})
				return
			}
			logger.Error("Failed to get store", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
			return
		}

		c.JSON(http.StatusOK, StoreResponse{
			StoreID:         s.StoreID,
			Status:          s.Status,
			AutoSyncOrders:  s.AutoSyncOrders,
			SecretRotatedAt: formatTime(s.SecretRotatedAt),
			LastSeenAt:      formatTime(s.LastSeenAt),
			InstalledAt:     s.InstalledAt.Format(timeLayout),
			DisconnectedAt:  formatTime(s.DisconnectedAt),
		})
	}
}

// HandleRotateSecret handles POST /v1/admin/stores/:store/rotate-secret
func HandleRotateSecret(stores *service.StoreService, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req RotateSecretRequest
		if c.Request.ContentLength > 0 {
			if err := c.ShouldBindJSON(&req); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request", "details": err.Error()})
				return
			}
		}

		storeID := c.Param("store")
		secret, err := stores.RotateSecret(c.Request.Context(), storeID, req.Secret)
		if err != nil && secret != "" {
			c.JSON(http.StatusInternalServerError, gin.H{
				"error":    "secret rotated but cache invalidation failed",
				"store_id": storeID,
				"secret":   secret,
			})
			return
		}
		if err != nil {
			if errors.IsNotFound(err) {
				c.JSON(http.StatusNotFound, gin.H{"error": "store not found"})
				return
			}
			logger.Error("Failed to rotate secret", zap.String("store_id", storeID), zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"store_id": storeID,
			"secret":   secret,
		})
	}
}

// HandlePruneDeliveries handles POST /v1/admin/deliveries/prune
func HandlePruneDeliveries(guard *webhook.Guard, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		n, err := guard.Prune(c.Request.Context())
		if err != nil {
			logger.Error("Failed to prune deliveries", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
			return
		}

		logger.Info("Pruned deliveries", zap.Int64("deleted", n))
		c.JSON(http.StatusOK, gin.H{
			"deleted":   n,
			"retention": guard.Retention().String(),
		})
	}
}
