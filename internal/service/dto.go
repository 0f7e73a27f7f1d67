package service

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jafarshop/webhookgw/internal/domain"
	"github.com/jafarshop/webhookgw/pkg/errors"
)

// Money is a decimal amount. Shopify sends prices as JSON strings, but
// plain numbers are accepted too.
type Money float64

func (m *Money) UnmarshalJSON(data []byte) error {
	raw := strings.Trim(string(bytes.TrimSpace(data)), `"`)
	if raw == "" || raw == "null" {
		*m = 0
		return nil
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return fmt.Errorf("invalid amount %q: %w", raw, err)
	}
	*m = Money(f)
	return nil
}

// OrderPayload is the body of orders/create, orders/updated and orders/cancelled
type OrderPayload struct {
	ID                    int64              `json:"id"`
	Name                  string             `json:"name"`
	OrderNumber           int64              `json:"order_number"`
	Email                 string             `json:"email"`
	Phone                 string             `json:"phone"`
	Customer              *CustomerPayload   `json:"customer"`
	ShippingAddress       *AddressPayload    `json:"shipping_address"`
	CreatedAt             *time.Time         `json:"created_at"`
	CancelledAt           *time.Time         `json:"cancelled_at"`
	CancelReason          string             `json:"cancel_reason"`
	Currency              string             `json:"currency"`
	SubtotalPrice         Money              `json:"subtotal_price"`
	TotalTax              Money              `json:"total_tax"`
	TotalDiscounts        Money              `json:"total_discounts"`
	TotalPrice            Money              `json:"total_price"`
	TotalShippingPriceSet *PriceSet          `json:"total_shipping_price_set"`
	FinancialStatus       string             `json:"financial_status"`
	FulfillmentStatus     string             `json:"fulfillment_status"`
	LineItems             []LineItemPayload  `json:"line_items"`
}

type CustomerPayload struct {
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Email     string `json:"email"`
}

type AddressPayload struct {
	Name        string `json:"name"`
	Address1    string `json:"address1"`
	Address2    string `json:"address2"`
	City        string `json:"city"`
	Province    string `json:"province"`
	Zip         string `json:"zip"`
	CountryCode string `json:"country_code"`
}

type PriceSet struct {
	ShopMoney struct {
		Amount       Money  `json:"amount"`
		CurrencyCode string `json:"currency_code"`
	} `json:"shop_money"`
}

type LineItemPayload struct {
	ID            int64  `json:"id"`
	VariantID     *int64 `json:"variant_id"`
	ProductID     *int64 `json:"product_id"`
	SKU           string `json:"sku"`
	Title         string `json:"title"`
	Quantity      int    `json:"quantity"`
	Price         Money  `json:"price"`
	TotalDiscount Money  `json:"total_discount"`
}

// DisplayName returns the order name, falling back to #<order_number>
func (p OrderPayload) DisplayName() string {
	if p.Name != "" {
		return p.Name
	}
	return fmt.Sprintf("#%d", p.OrderNumber)
}

// CustomerName returns the customer's full name, or the email when unnamed
func (p OrderPayload) CustomerName() string {
	if p.Customer != nil {
		name := strings.TrimSpace(p.Customer.FirstName + " " + p.Customer.LastName)
		if name != "" {
			return name
		}
	}
	return p.Email
}

// Shipping returns the shipping address; the country defaults to
// defaultCountryCode when the payload carries none.
func (p OrderPayload) Shipping() domain.ShippingAddress {
	address := domain.ShippingAddress{CountryCode: defaultCountryCode}
	if p.ShippingAddress == nil {
		return address
	}
	a := p.ShippingAddress
	address.Name = a.Name
	address.Address1 = a.Address1
	address.Address2 = a.Address2
	address.City = a.City
	address.Province = a.Province
	address.Zip = a.Zip
	if a.CountryCode != "" {
		address.CountryCode = strings.ToUpper(a.CountryCode)
	}
	return address
}

func (p OrderPayload) ShippingCost() float64 {
	if p.TotalShippingPriceSet == nil {
		return 0
	}
	return float64(p.TotalShippingPriceSet.ShopMoney.Amount)
}

// InventoryLevelPayload is the body of inventory_levels/update
type InventoryLevelPayload struct {
	InventoryItemID *int64     `json:"inventory_item_id"`
	VariantID       *int64     `json:"variant_id"`
	LocationID      *int64     `json:"location_id"`
	Available       *int       `json:"available"`
	UpdatedAt       *time.Time `json:"updated_at"`
}

// ProductPayload is the body of products/update and products/delete
type ProductPayload struct {
	ID       int64            `json:"id"`
	Title    string           `json:"title"`
	Variants []VariantPayload `json:"variants"`
}

type VariantPayload struct {
	ID              int64  `json:"id"`
	Title           string `json:"title"`
	SKU             string `json:"sku"`
	InventoryItemID *int64 `json:"inventory_item_id"`
}

// RefundPayload is the body of refunds/create
type RefundPayload struct {
	ID              int64                   `json:"id"`
	OrderID         int64                   `json:"order_id"`
	Note            string                  `json:"note"`
	CreatedAt       *time.Time              `json:"created_at"`
	RefundLineItems []RefundLineItemPayload `json:"refund_line_items"`
	Transactions    []TransactionPayload    `json:"transactions"`
}

type RefundLineItemPayload struct {
	ID          int64            `json:"id"`
	LineItemID  int64            `json:"line_item_id"`
	Quantity    int              `json:"quantity"`
	RestockType string           `json:"restock_type"`
	Subtotal    Money            `json:"subtotal"`
	LineItem    *LineItemPayload `json:"line_item"`
}

type TransactionPayload struct {
	ID       int64  `json:"id"`
	Kind     string `json:"kind"`
	Status   string `json:"status"`
	Amount   Money  `json:"amount"`
	Currency string `json:"currency"`
}

// RefundedAmount sums successful refund transactions, falling back to the
// line subtotals when the payload carries none.
func (p RefundPayload) RefundedAmount() float64 {
	var total float64
	var found bool
	for _, tx := range p.Transactions {
		if strings.EqualFold(tx.Kind, "refund") && strings.EqualFold(tx.Status, "success") {
			total += float64(tx.Amount)
			found = true
		}
	}
	if found {
		return total
	}
	for _, line := range p.RefundLineItems {
		total += float64(line.Subtotal)
	}
	return total
}

// ShopPayload is the body of app/uninstalled
type ShopPayload struct {
	ID     int64  `json:"id"`
	Domain string `json:"domain"`
	Name   string `json:"name"`
}

func decode(payload []byte, v interface{}) error {
	if err := json.Unmarshal(payload, v); err != nil {
		return &errors.ErrValidation{Field: "body", Message: err.Error()}
	}
	return nil
}
