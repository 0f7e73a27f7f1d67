package domain

import (
	"time"

	"github.com/google/uuid"
)

// WebhookDelivery represents one inbound callback attempt
type WebhookDelivery struct {
	ID           uuid.UUID
	StoreID      string
	DeliveryID   string
	Topic        Topic
	TopicHint    string
	PayloadHash  string
	Payload      []byte
	ReceivedAt   time.Time
	Verification VerificationResult
	Result       ProcessingResult
	Attempts     int
	ClaimedAt    time.Time
	CompletedAt  *time.Time
	LastError    *string
}

// StoreConnection represents a linked external store
type StoreConnection struct {
	StoreID         string
	Secret          string
	PreviousSecret  *string
	SecretRotatedAt *time.Time
	Status          ConnectionStatus
	AutoSyncOrders  bool
	LastSeenAt      *time.Time
	InstalledAt     time.Time
	DisconnectedAt  *time.Time
	UpdatedAt       time.Time
}

// IsActive reports whether webhooks from this store are accepted
func (s *StoreConnection) IsActive() bool {
	return s != nil && s.Status == ConnectionActive
}

// OrderRecord is an order imported from a store
type OrderRecord struct {
	ID              uuid.UUID
	StoreID         string
	ExternalOrderID int64
	OrderName       string
	Status          OrderStatus
	PaymentStatus   PaymentStatus
	CustomerEmail   string
	CustomerName    string
	Subtotal        float64
	TaxAmount       float64
	DiscountAmount  float64
	ShippingCost    float64
	Total           float64
	Currency        string
	Shipping        ShippingAddress
	LineItems       []OrderLineItem
	OrderedAt       time.Time
	CancelledAt     *time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// ShippingAddress is where an imported order ships to
type ShippingAddress struct {
	Name        string
	Address1    string
	Address2    string
	City        string
	Province    string
	Zip         string
	CountryCode string
}

// OrderLineItem is one line of an imported order
type OrderLineItem struct {
	ID                 uuid.UUID
	OrderID            uuid.UUID
	ExternalLineItemID int64
	ExternalVariantID  *int64
	SKU                string
	Title              string
	Quantity           int
	UnitPrice          float64
	DiscountAmount     float64
	Total              float64
	ReservedQuantity   int
}

// InventoryMapping links an external variant to a stock record
type InventoryMapping struct {
	ID                      uuid.UUID
	StoreID                 string
	ExternalProductID       int64
	ExternalVariantID       int64
	ExternalInventoryItemID *int64
	SKU                     string
	ProductTitle            string
	VariantTitle            string
	StockLevel              int
	ReservedQuantity        int
	StockUpdatedAt          *time.Time
	IsActive                bool
	CreatedAt               time.Time
	UpdatedAt               time.Time
}

// ReturnRecord is created from a refund against an imported order
type ReturnRecord struct {
	ID               uuid.UUID
	StoreID          string
	ReturnCode       string
	OrderID          uuid.UUID
	ExternalRefundID int64
	Status           ReturnStatus
	Amount           float64
	Currency         string
	Note             string
	Items            []ReturnItem
	RegisteredAt     time.Time
	CreatedAt        time.Time
}

// ReturnItem is one refunded line
type ReturnItem struct {
	ID                uuid.UUID
	ReturnID          uuid.UUID
	ExternalVariantID *int64
	SKU               string
	Quantity          int
	Amount            float64
	Reason            ReturnReason
}

// StockUpdate is an inventory level change stamped with its event time
type StockUpdate struct {
	StoreID         string
	VariantID       *int64
	InventoryItemID *int64
	Available       int
	EventAt         time.Time
}

// StockUpdateResult describes what an inventory write did
type StockUpdateResult string

const (
	StockApplied  StockUpdateResult = "applied"
	StockStale    StockUpdateResult = "stale"
	StockNoTarget StockUpdateResult = "no_mapping"
)

// CancelResult describes what an order cancellation did
type CancelResult struct {
	Found            bool
	AlreadyCancelled bool
	ReleasedUnits    int
}
