package handlers

import (
	stderrors "errors"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/jafarshop/webhookgw/internal/webhook"
)

// HandleWebhook handles POST /webhooks/*topic. The body is read raw so the
// signature is checked against the exact bytes that were sent.
func HandleWebhook(gateway *webhook.Gateway, maxBodyBytes int64, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBodyBytes)
		body, err := io.ReadAll(c.Request.Body)
		if err != nil {
			var tooLarge *http.MaxBytesError
			if stderrors.As(err, &tooLarge) {
				logger.Warn("Webhook body too large",
					zap.String("shop_domain", c.GetHeader(webhook.HeaderShopDomain)),
					zap.Int64("limit", maxBodyBytes),
				)
				c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "payload too large"})
				return
			}
			logger.Warn("Failed to read webhook body", zap.Error(err))
			c.JSON(http.StatusBadRequest, gin.H{"error": "bad request"})
			return
		}

		in := webhook.Inbound{
			StoreID:     strings.ToLower(c.GetHeader(webhook.HeaderShopDomain)),
			DeliveryID:  c.GetHeader(webhook.HeaderWebhookID),
			Topic:       c.GetHeader(webhook.HeaderTopic),
			TopicHint:   strings.Trim(c.Param("topic"), "/"),
			Signature:   c.GetHeader(webhook.HeaderHMAC),
			TriggeredAt: c.GetHeader(webhook.HeaderTriggeredAt),
			RemoteAddr:  c.ClientIP(),
			Body:        body,
		}

		outcome := gateway.Process(c.Request.Context(), in)

		switch outcome.StatusCode {
		case http.StatusOK:
			if outcome.Duplicate {
				c.JSON(http.StatusOK, gin.H{"ok": true, "duplicate": true})
				return
			}
			c.JSON(http.StatusOK, gin.H{"ok": true})
		case http.StatusUnauthorized:
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		case http.StatusBadRequest:
			c.JSON(http.StatusBadRequest, gin.H{"error": "bad request"})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		}
	}
}
