package service

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/jafarshop/webhookgw/internal/domain"
	"github.com/jafarshop/webhookgw/internal/webhook"
	"github.com/jafarshop/webhookgw/pkg/errors"
)

// InventoryUpdate writes an available quantity to the matching mapping.
// Only events newer than the last applied one change the stock level.
func (h *WebhookHandlers) InventoryUpdate(ctx context.Context, env webhook.Envelope) error {
	var payload InventoryLevelPayload
	if err := decode(env.Payload, &payload); err != nil {
		return err
	}
	if payload.VariantID == nil && payload.InventoryItemID == nil {
		return &errors.ErrValidation{Field: "inventory_item_id", Message: "variant or inventory item id is required"}
	}

	update := domain.StockUpdate{
		StoreID:         env.StoreID,
		VariantID:       payload.VariantID,
		InventoryItemID: payload.InventoryItemID,
		EventAt:         env.EventTime(),
	}
	if payload.Available != nil {
		update.Available = *payload.Available
	}
	if payload.UpdatedAt != nil {
		update.EventAt = payload.UpdatedAt.UTC()
	}

	result, err := h.repos.Inventory.ApplyStock(ctx, update)
	if err != nil {
		return err
	}

	log := h.log(env).With(
		zap.Int("available", update.Available),
		zap.Time("event_at", update.EventAt),
	)
	switch result {
	case domain.StockNoTarget:
		return &errors.ErrNotFound{Resource: "inventory mapping", ID: stockTarget(update)}
	case domain.StockStale:
		log.Info("Ignoring stale inventory update", zap.String("target", stockTarget(update)))
	default:
		log.Info("Stock level updated", zap.String("target", stockTarget(update)))
	}
	return nil
}

// ProductUpdate refreshes one mapping per variant, creating missing ones
func (h *WebhookHandlers) ProductUpdate(ctx context.Context, env webhook.Envelope) error {
	var payload ProductPayload
	if err := decode(env.Payload, &payload); err != nil {
		return err
	}
	if payload.ID == 0 {
		return &errors.ErrValidation{Field: "id", Message: "product id is required"}
	}

	for _, variant := range payload.Variants {
		if variant.ID == 0 {
			continue
		}
		mapping := &domain.InventoryMapping{
			StoreID:                 env.StoreID,
			ExternalProductID:       payload.ID,
			ExternalVariantID:       variant.ID,
			ExternalInventoryItemID: variant.InventoryItemID,
			SKU:                     variant.SKU,
			ProductTitle:            payload.Title,
			VariantTitle:            variant.Title,
		}
		if err := h.repos.Inventory.UpsertVariant(ctx, mapping); err != nil {
			return err
		}
	}

	h.log(env).Info("Product mappings refreshed",
		zap.Int64("product_id", payload.ID),
		zap.Int("variants", len(payload.Variants)),
	)
	return nil
}

// ProductDelete deactivates every mapping of the product. Orders keep
// their line items.
func (h *WebhookHandlers) ProductDelete(ctx context.Context, env webhook.Envelope) error {
	var payload ProductPayload
	if err := decode(env.Payload, &payload); err != nil {
		return err
	}
	if payload.ID == 0 {
		return &errors.ErrValidation{Field: "id", Message: "product id is required"}
	}

	n, err := h.repos.Inventory.DeactivateProduct(ctx, env.StoreID, payload.ID)
	if err != nil {
		return err
	}

	h.log(env).Info("Product mappings deactivated",
		zap.Int64("product_id", payload.ID),
		zap.Int64("mappings", n),
	)
	return nil
}

func stockTarget(u domain.StockUpdate) string {
	if u.VariantID != nil {
		return fmt.Sprintf("%s/variant/%d", u.StoreID, *u.VariantID)
	}
	return fmt.Sprintf("%s/inventory_item/%d", u.StoreID, *u.InventoryItemID)
}
