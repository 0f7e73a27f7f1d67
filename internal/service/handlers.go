package service

import (
	"context"

	"go.uber.org/zap"

	"github.com/jafarshop/webhookgw/internal/domain"
	"github.com/jafarshop/webhookgw/internal/repository"
	"github.com/jafarshop/webhookgw/internal/secrets"
	"github.com/jafarshop/webhookgw/internal/webhook"
	"github.com/jafarshop/webhookgw/pkg/errors"
)

// WebhookHandlers applies verified Shopify deliveries to local state
type WebhookHandlers struct {
	repos   *repository.Repositories
	secrets secrets.Store
	logger  *zap.Logger
}

// NewWebhookHandlers creates the domain handlers
func NewWebhookHandlers(repos *repository.Repositories, secretStore secrets.Store, logger *zap.Logger) *WebhookHandlers {
	return &WebhookHandlers{
		repos:   repos,
		secrets: secretStore,
		logger:  logger,
	}
}

// Register binds one handler per supported topic
func (h *WebhookHandlers) Register(d *webhook.Dispatcher) error {
	routes := map[domain.Topic]webhook.HandlerFunc{
		domain.TopicOrderCreate:     h.OrderCreate,
		domain.TopicOrderUpdate:     h.OrderUpdate,
		domain.TopicOrderCancel:     h.OrderCancel,
		domain.TopicInventoryUpdate: h.InventoryUpdate,
		domain.TopicProductUpdate:   h.ProductUpdate,
		domain.TopicProductDelete:   h.ProductDelete,
		domain.TopicRefundCreate:    h.RefundCreate,
		domain.TopicAppUninstalled:  h.AppUninstalled,
	}
	for _, topic := range domain.Topics {
		fn, ok := routes[topic]
		if !ok {
			continue
		}
		if err := d.Register(topic, fn); err != nil {
			return err
		}
	}
	return nil
}

func (h *WebhookHandlers) log(env webhook.Envelope) *zap.Logger {
	return h.logger.With(
		zap.String("store_id", env.StoreID),
		zap.String("delivery_id", env.DeliveryID),
		zap.String("topic", string(env.Topic)),
	)
}

// AppUninstalled disconnects the store and deactivates its mappings
func (h *WebhookHandlers) AppUninstalled(ctx context.Context, env webhook.Envelope) error {
	var payload ShopPayload
	if err := decode(env.Payload, &payload); err != nil {
		return err
	}

	if err := h.repos.Store.MarkDisconnected(ctx, env.StoreID, env.EventTime()); err != nil {
		return err
	}

	deactivated, err := h.repos.Inventory.DeactivateStore(ctx, env.StoreID)
	if err != nil {
		return err
	}

	if err := h.secrets.Invalidate(ctx, env.StoreID); err != nil {
		// Failing the delivery makes the sender retry; disconnect and
		// deactivation are idempotent.
		return errors.Transient("invalidate secret", err)
	}

	h.log(env).Info("Store disconnected",
		zap.String("shop_domain", payload.Domain),
		zap.Int64("mappings_deactivated", deactivated),
	)
	return nil
}
