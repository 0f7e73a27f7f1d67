package service

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/jafarshop/webhookgw/internal/domain"
	"github.com/jafarshop/webhookgw/internal/webhook"
	"github.com/jafarshop/webhookgw/pkg/errors"
)

const (
	defaultCurrency    = "EUR"
	defaultCountryCode = "NL"
)

// OrderCreate imports a new order and reserves stock for mapped variants.
// Stores with order sync turned off are acknowledged without changes.
func (h *WebhookHandlers) OrderCreate(ctx context.Context, env webhook.Envelope) error {
	var payload OrderPayload
	if err := decode(env.Payload, &payload); err != nil {
		return err
	}
	if payload.ID == 0 {
		return &errors.ErrValidation{Field: "id", Message: "order id is required"}
	}

	log := h.log(env).With(zap.Int64("order_id", payload.ID))

	store, err := h.repos.Store.GetByID(ctx, env.StoreID)
	if err != nil {
		return err
	}
	if !store.AutoSyncOrders {
		log.Info("Order sync disabled for store, skipping")
		return nil
	}

	order := buildOrder(env, payload)
	inserted, err := h.repos.Order.Upsert(ctx, order)
	if err != nil {
		return err
	}

	reserved := 0
	for _, item := range order.LineItems {
		reserved += item.ReservedQuantity
	}
	log.Info("Order imported",
		zap.String("order_name", order.OrderName),
		zap.Bool("inserted", inserted),
		zap.Int("line_items", len(order.LineItems)),
		zap.Int("reserved_units", reserved),
	)
	return nil
}

// OrderUpdate refreshes status, payment and totals of an imported order
func (h *WebhookHandlers) OrderUpdate(ctx context.Context, env webhook.Envelope) error {
	var payload OrderPayload
	if err := decode(env.Payload, &payload); err != nil {
		return err
	}
	if payload.ID == 0 {
		return &errors.ErrValidation{Field: "id", Message: "order id is required"}
	}

	existing, err := h.repos.Order.GetByExternalID(ctx, env.StoreID, payload.ID)
	if err != nil {
		return err
	}

	log := h.log(env).With(zap.Int64("order_id", payload.ID))

	next := domain.FulfillmentStatusToOrderStatus(payload.FulfillmentStatus)
	if existing.Status.CanTransitionTo(next) {
		existing.Status = next
	} else {
		log.Info("Keeping order status",
			zap.String("status", string(existing.Status)),
			zap.String("requested", string(next)),
		)
	}
	existing.PaymentStatus = domain.FinancialStatusToPayment(payload.FinancialStatus)
	existing.Subtotal = float64(payload.SubtotalPrice)
	existing.TaxAmount = float64(payload.TotalTax)
	existing.DiscountAmount = float64(payload.TotalDiscounts)
	existing.ShippingCost = payload.ShippingCost()
	existing.Total = float64(payload.TotalPrice)

	if err := h.repos.Order.Update(ctx, existing); err != nil {
		return err
	}

	log.Info("Order updated",
		zap.String("status", string(existing.Status)),
		zap.String("payment_status", string(existing.PaymentStatus)),
	)
	return nil
}

// OrderCancel cancels an imported order and releases its reservations
func (h *WebhookHandlers) OrderCancel(ctx context.Context, env webhook.Envelope) error {
	var payload OrderPayload
	if err := decode(env.Payload, &payload); err != nil {
		return err
	}
	if payload.ID == 0 {
		return &errors.ErrValidation{Field: "id", Message: "order id is required"}
	}

	at := env.EventTime()
	if payload.CancelledAt != nil {
		at = payload.CancelledAt.UTC()
	}

	result, err := h.repos.Order.Cancel(ctx, env.StoreID, payload.ID, at)
	if err != nil {
		return err
	}
	if !result.Found {
		return &errors.ErrNotFound{Resource: "order", ID: fmt.Sprintf("%s/%d", env.StoreID, payload.ID)}
	}

	h.log(env).Info("Order cancelled",
		zap.Int64("order_id", payload.ID),
		zap.Bool("already_cancelled", result.AlreadyCancelled),
		zap.Int("released_units", result.ReleasedUnits),
		zap.String("cancel_reason", payload.CancelReason),
	)
	return nil
}

// RefundCreate registers a return for a refunded order
func (h *WebhookHandlers) RefundCreate(ctx context.Context, env webhook.Envelope) error {
	var payload RefundPayload
	if err := decode(env.Payload, &payload); err != nil {
		return err
	}
	if payload.ID == 0 {
		return &errors.ErrValidation{Field: "id", Message: "refund id is required"}
	}
	if payload.OrderID == 0 {
		return &errors.ErrValidation{Field: "order_id", Message: "order id is required"}
	}

	order, err := h.repos.Order.GetByExternalID(ctx, env.StoreID, payload.OrderID)
	if err != nil {
		return err
	}

	variants := make(map[int64]domain.OrderLineItem, len(order.LineItems))
	for _, item := range order.LineItems {
		variants[item.ExternalLineItemID] = item
	}

	ret := &domain.ReturnRecord{
		StoreID:          env.StoreID,
		ReturnCode:       fmt.Sprintf("RET-SHP-%d", payload.ID),
		OrderID:          order.ID,
		ExternalRefundID: payload.ID,
		Status:           domain.ReturnStatusRegistered,
		Amount:           payload.RefundedAmount(),
		Currency:         order.Currency,
		Note:             fmt.Sprintf("Shopify refund #%d", payload.ID),
		RegisteredAt:     env.EventTime(),
	}
	if payload.CreatedAt != nil {
		ret.RegisteredAt = payload.CreatedAt.UTC()
	}
	if payload.Note != "" {
		ret.Note = ret.Note + ": " + payload.Note
	}

	for _, line := range payload.RefundLineItems {
		item := domain.ReturnItem{
			Quantity: line.Quantity,
			Amount:   float64(line.Subtotal),
			Reason:   domain.RestockTypeToReason(line.RestockType),
		}
		if line.LineItem != nil {
			item.ExternalVariantID = line.LineItem.VariantID
			item.SKU = line.LineItem.SKU
		}
		if known, ok := variants[line.LineItemID]; ok {
			if item.ExternalVariantID == nil {
				item.ExternalVariantID = known.ExternalVariantID
			}
			if item.SKU == "" {
				item.SKU = known.SKU
			}
		}
		ret.Items = append(ret.Items, item)
	}

	if err := h.repos.Return.Create(ctx, ret); err != nil {
		return err
	}

	h.log(env).Info("Return registered",
		zap.String("return_code", ret.ReturnCode),
		zap.Int64("order_id", payload.OrderID),
		zap.Float64("amount", ret.Amount),
		zap.Int("items", len(ret.Items)),
	)
	return nil
}

func buildOrder(env webhook.Envelope, payload OrderPayload) *domain.OrderRecord {
	order := &domain.OrderRecord{
		StoreID:         env.StoreID,
		ExternalOrderID: payload.ID,
		OrderName:       payload.DisplayName(),
		Status:          domain.OrderStatusCreated,
		PaymentStatus:   domain.FinancialStatusToPayment(payload.FinancialStatus),
		CustomerEmail:   payload.Email,
		CustomerName:    payload.CustomerName(),
		Subtotal:        float64(payload.SubtotalPrice),
		TaxAmount:       float64(payload.TotalTax),
		DiscountAmount:  float64(payload.TotalDiscounts),
		ShippingCost:    payload.ShippingCost(),
		Total:           float64(payload.TotalPrice),
		Currency:        payload.Currency,
		Shipping:        payload.Shipping(),
		OrderedAt:       env.EventTime(),
	}
	if order.Currency == "" {
		order.Currency = defaultCurrency
	}
	if payload.CreatedAt != nil {
		order.OrderedAt = payload.CreatedAt.UTC()
	}

	order.LineItems = make([]domain.OrderLineItem, 0, len(payload.LineItems))
	for _, li := range payload.LineItems {
		price := float64(li.Price)
		discount := float64(li.TotalDiscount)
		order.LineItems = append(order.LineItems, domain.OrderLineItem{
			ExternalLineItemID: li.ID,
			ExternalVariantID:  li.VariantID,
			SKU:                li.SKU,
			Title:              li.Title,
			Quantity:           li.Quantity,
			UnitPrice:          price,
			DiscountAmount:     discount,
			Total:              price*float64(li.Quantity) - discount,
		})
	}
	return order
}
