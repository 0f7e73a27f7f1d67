package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/jafarshop/webhookgw/internal/domain"
	"github.com/jafarshop/webhookgw/internal/repository"
	"github.com/jafarshop/webhookgw/pkg/errors"
)

const timeLayout = "2006-01-02T15:04:05Z07:00"

// OrderResponse represents the order response
type OrderResponse struct {
	ID              string                `json:"id"`
	StoreID         string                `json:"store_id"`
	ExternalOrderID int64                 `json:"external_order_id"`
	OrderName       string                `json:"order_name"`
	Status          domain.OrderStatus    `json:"status"`
	PaymentStatus   domain.PaymentStatus  `json:"payment_status"`
	CustomerName    string                `json:"customer_name,omitempty"`
	CustomerEmail   string                `json:"customer_email,omitempty"`
	Subtotal        float64               `json:"subtotal"`
	TaxAmount       float64               `json:"tax_amount"`
	DiscountAmount  float64               `json:"discount_amount"`
	ShippingCost    float64               `json:"shipping_cost"`
	Total           float64               `json:"total"`
	Currency        string                `json:"currency"`
	Shipping        ShippingResponse      `json:"shipping_address"`
	Items           []OrderItemResponse   `json:"items"`
	Returns         []ReturnResponse      `json:"returns"`
	OrderedAt       string                `json:"ordered_at"`
	CancelledAt     *string               `json:"cancelled_at,omitempty"`
	UpdatedAt       string                `json:"updated_at"`
}

type ShippingResponse struct {
	Name        string `json:"name"`
	Address1    string `json:"address1"`
	Address2    string `json:"address2,omitempty"`
	City        string `json:"city"`
	Province    string `json:"province,omitempty"`
	Zip         string `json:"zip"`
	CountryCode string `json:"country_code"`
}

type OrderItemResponse struct {
	ExternalLineItemID int64   `json:"external_line_item_id"`
	ExternalVariantID  *int64  `json:"external_variant_id,omitempty"`
	SKU                string  `json:"sku"`
	Title              string  `json:"title"`
	Quantity           int     `json:"quantity"`
	UnitPrice          float64 `json:"unit_price"`
	Total              float64 `json:"total"`
	ReservedQuantity   int     `json:"reserved_quantity"`
}

type ReturnResponse struct {
	ReturnCode string              `json:"return_code"`
	Status     domain.ReturnStatus `json:"status"`
	Amount     float64             `json:"amount"`
	Currency   string              `json:"currency"`
	Items      int                 `json:"items"`
	CreatedAt  string              `json:"registered_at"`
}

// HandleGetOrder handles GET /v1/admin/orders/:store/:external_id
func HandleGetOrder(repos *repository.Repositories, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		storeID := c.Param("store")
		externalID, err := strconv.ParseInt(c.Param("external_id"), 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid order ID"})
			return
		}

		order, err := repos.Order.GetByExternalID(c.Request.Context(), storeID, externalID)
		if err != nil {
			if errors.IsNotFound(err) {
				c.JSON(http.StatusNotFound, gin.H{"error": "order not found"})
				return
			}
			logger.Error("Failed to get order", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
			return
		}

		returns, err := repos.Return.ListByOrder(c.Request.Context(), order.ID)
		if err != nil {
			logger.Error("Failed to list returns", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
			return
		}

		c.JSON(http.StatusOK, toOrderResponse(order, returns))
	}
}

func toOrderResponse(order *domain.OrderRecord, returns []*domain.ReturnRecord) OrderResponse {
	items := make([]OrderItemResponse, len(order.LineItems))
	for i, item := range order.LineItems {
		items[i] = OrderItemResponse{
			ExternalLineItemID: item.ExternalLineItemID,
			ExternalVariantID:  item.ExternalVariantID,
			SKU:                item.SKU,
			Title:              item.Title,
			Quantity:           item.Quantity,
			UnitPrice:          item.UnitPrice,
			Total:              item.Total,
			ReservedQuantity:   item.ReservedQuantity,
		}
	}

	returnResponses := make([]ReturnResponse, len(returns))
	for i, ret := range returns {
		returnResponses[i] = ReturnResponse{
			ReturnCode: ret.ReturnCode,
			Status:     ret.Status,
			Amount:     ret.Amount,
			Currency:   ret.Currency,
			Items:      len(ret.Items),
			CreatedAt:  ret.RegisteredAt.Format(timeLayout),
		}
	}

	return OrderResponse{
		ID:              order.ID.String(),
		StoreID:         order.StoreID,
		ExternalOrderID: order.ExternalOrderID,
		OrderName:       order.OrderName,
		Status:          order.Status,
		PaymentStatus:   order.PaymentStatus,
		CustomerName:    order.CustomerName,
		CustomerEmail:   order.CustomerEmail,
		Subtotal:        order.Subtotal,
		TaxAmount:       order.TaxAmount,
		DiscountAmount:  order.DiscountAmount,
		ShippingCost:    order.ShippingCost,
		Total:           order.Total,
		Currency:        order.Currency,
		Shipping:        ShippingResponse(order.Shipping),
		Items:           items,
		Returns:         returnResponses,
		OrderedAt:       order.OrderedAt.Format(timeLayout),
		CancelledAt:     formatTime(order.CancelledAt),
		UpdatedAt:       order.UpdatedAt.Format(timeLayout),
	}
}

func formatTime(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := t.Format(timeLayout)
	return &s
}
