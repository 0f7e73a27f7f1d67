package repository

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/jafarshop/webhookgw/internal/domain"
)

// Repositories groups every persistence collaborator
type Repositories struct {
	Delivery  DeliveryRepository
	Store     StoreRepository
	Order     OrderRepository
	Inventory InventoryRepository
	Return    ReturnRepository
}

// DeliveryRepository records webhook deliveries for deduplication
type DeliveryRepository interface {
	// Claim inserts the delivery if absent in one atomic statement. An
	// existing row is taken over only when its result is error or its
	// processing lease started before leaseCutoff. Returns false for a
	// duplicate.
	Claim(ctx context.Context, delivery *domain.WebhookDelivery, leaseCutoff time.Time) (bool, error)
	Complete(ctx context.Context, storeID, deliveryID string, result domain.ProcessingResult, lastError *string, at time.Time) error
	Get(ctx context.Context, storeID, deliveryID string) (*domain.WebhookDelivery, error)
	PruneBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// StoreRepository manages store connections
type StoreRepository interface {
	// Create inserts a connection or reactivates a disconnected one.
	// An active connection for the same store is ErrAlreadyExists.
	Create(ctx context.Context, store *domain.StoreConnection) error
	GetByID(ctx context.Context, storeID string) (*domain.StoreConnection, error)
	RotateSecret(ctx context.Context, storeID, newSecret string, at time.Time) error
	MarkDisconnected(ctx context.Context, storeID string, at time.Time) error
	// TouchLastSeen stamps an active connection; a missing or disconnected
	// one is ErrNotFound.
	TouchLastSeen(ctx context.Context, storeID string, at time.Time) error
}

// OrderRepository manages imported orders
type OrderRepository interface {
	// Upsert inserts the order with its line items and reserves stock on
	// active mappings, or updates header fields of an existing order.
	// Returns true when a new row was inserted.
	Upsert(ctx context.Context, order *domain.OrderRecord) (bool, error)
	GetByExternalID(ctx context.Context, storeID string, externalOrderID int64) (*domain.OrderRecord, error)
	Update(ctx context.Context, order *domain.OrderRecord) error
	// Cancel marks the order cancelled and releases every reservation once.
	Cancel(ctx context.Context, storeID string, externalOrderID int64, at time.Time) (domain.CancelResult, error)
}

// InventoryRepository manages variant mappings and stock levels
type InventoryRepository interface {
	ApplyStock(ctx context.Context, update domain.StockUpdate) (domain.StockUpdateResult, error)
	UpsertVariant(ctx context.Context, mapping *domain.InventoryMapping) error
	GetByVariant(ctx context.Context, storeID string, variantID int64) (*domain.InventoryMapping, error)
	DeactivateProduct(ctx context.Context, storeID string, productID int64) (int64, error)
	DeactivateStore(ctx context.Context, storeID string) (int64, error)
}

// ReturnRepository manages return records
type ReturnRepository interface {
	Create(ctx context.Context, ret *domain.ReturnRecord) error
	ListByOrder(ctx context.Context, orderID uuid.UUID) ([]*domain.ReturnRecord, error)
}
