// Package memory is an in-process implementation of the repositories with
// the same atomicity guarantees as the Postgres one. It backs local runs
// (DB_DRIVER=memory) and tests.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jafarshop/webhookgw/internal/domain"
	"github.com/jafarshop/webhookgw/internal/repository"
	"github.com/jafarshop/webhookgw/pkg/errors"
)

// DB holds every table behind a single lock, so multi-row writes are
// atomic the way a database transaction would make them.
type DB struct {
	mu         sync.Mutex
	deliveries map[string]*domain.WebhookDelivery
	stores     map[string]*domain.StoreConnection
	orders     map[string]*domain.OrderRecord
	mappings   map[string]*domain.InventoryMapping
	returns    []*domain.ReturnRecord
	// Fail, when set, is returned by every call. Tests use it to simulate
	// an unavailable database.
	Fail error
}

// NewDB creates an empty store
func NewDB() *DB {
	return &DB{
		deliveries: make(map[string]*domain.WebhookDelivery),
		stores:     make(map[string]*domain.StoreConnection),
		orders:     make(map[string]*domain.OrderRecord),
		mappings:   make(map[string]*domain.InventoryMapping),
	}
}

// NewRepositories builds every repository over one shared DB
func NewRepositories(db *DB) *repository.Repositories {
	return &repository.Repositories{
		Delivery:  &deliveryRepository{db: db},
		Store:     &storeRepository{db: db},
		Order:     &orderRepository{db: db},
		Inventory: &inventoryRepository{db: db},
		Return:    &returnRepository{db: db},
	}
}

// SetFail makes every subsequent call return err; nil restores normal operation
func (db *DB) SetFail(err error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.Fail = err
}

func (db *DB) lock(ctx context.Context, op string) error {
	if err := ctx.Err(); err != nil {
		return errors.Transient(op, err)
	}
	db.mu.Lock()
	if db.Fail != nil {
		err := db.Fail
		db.mu.Unlock()
		return errors.Transient(op, err)
	}
	return nil
}

func key(storeID string, id interface{}) string {
	return fmt.Sprintf("%s\x00%v", storeID, id)
}

type deliveryRepository struct{ db *DB }

func (r *deliveryRepository) Claim(ctx context.Context, delivery *domain.WebhookDelivery, leaseCutoff time.Time) (bool, error) {
	if err := r.db.lock(ctx, "claim delivery"); err != nil {
		return false, err
	}
	defer r.db.mu.Unlock()

	k := key(delivery.StoreID, delivery.DeliveryID)
	existing, ok := r.db.deliveries[k]
	if ok {
		reclaimable := existing.Result == domain.ResultError ||
			(existing.Result == domain.ResultProcessing && existing.ClaimedAt.Before(leaseCutoff))
		if !reclaimable {
			return false, nil
		}
		existing.Result = domain.ResultProcessing
		existing.Attempts++
		existing.ClaimedAt = delivery.ClaimedAt
		existing.Topic = delivery.Topic
		existing.PayloadHash = delivery.PayloadHash
		existing.Payload = append([]byte(nil), delivery.Payload...)
		existing.CompletedAt = nil
		existing.LastError = nil
		delivery.ID = existing.ID
		delivery.Attempts = existing.Attempts
		delivery.Result = domain.ResultProcessing
		return true, nil
	}

	if delivery.ID == uuid.Nil {
		delivery.ID = uuid.New()
	}
	delivery.Attempts = 1
	delivery.Result = domain.ResultProcessing
	stored := *delivery
	stored.Payload = append([]byte(nil), delivery.Payload...)
	r.db.deliveries[k] = &stored
	return true, nil
}

func (r *deliveryRepository) Complete(
	ctx context.Context,
	storeID, deliveryID string,
	result domain.ProcessingResult,
	lastError *string,
	at time.Time,
) error {
	if err := r.db.lock(ctx, "complete delivery"); err != nil {
		return err
	}
	defer r.db.mu.Unlock()

	if d, ok := r.db.deliveries[key(storeID, deliveryID)]; ok {
		d.Result = result
		d.LastError = lastError
		completed := at
		d.CompletedAt = &completed
	}
	return nil
}

func (r *deliveryRepository) Get(ctx context.Context, storeID, deliveryID string) (*domain.WebhookDelivery, error) {
	if err := r.db.lock(ctx, "get delivery"); err != nil {
		return nil, err
	}
	defer r.db.mu.Unlock()

	d, ok := r.db.deliveries[key(storeID, deliveryID)]
	if !ok {
		return nil, &errors.ErrNotFound{Resource: "delivery", ID: storeID + "/" + deliveryID}
	}
	cp := *d
	return &cp, nil
}

func (r *deliveryRepository) PruneBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	if err := r.db.lock(ctx, "prune deliveries"); err != nil {
		return 0, err
	}
	defer r.db.mu.Unlock()

	var n int64
	for k, d := range r.db.deliveries {
		if d.ReceivedAt.Before(cutoff) && d.Result != domain.ResultProcessing {
			delete(r.db.deliveries, k)
			n++
		}
	}
	return n, nil
}

type storeRepository struct{ db *DB }

func (r *storeRepository) Create(ctx context.Context, store *domain.StoreConnection) error {
	if err := r.db.lock(ctx, "create store"); err != nil {
		return err
	}
	defer r.db.mu.Unlock()

	existing, ok := r.db.stores[store.StoreID]
	if ok && existing.IsActive() {
		return &errors.ErrAlreadyExists{Resource: "store", ID: store.StoreID}
	}
	now := time.Now().UTC()
	if store.InstalledAt.IsZero() {
		store.InstalledAt = now
	}
	store.Status = domain.ConnectionActive
	store.PreviousSecret = nil
	store.SecretRotatedAt = nil
	store.DisconnectedAt = nil
	store.UpdatedAt = now
	if ok {
		store.LastSeenAt = existing.LastSeenAt
	}
	cp := *store
	r.db.stores[store.StoreID] = &cp
	return nil
}

func (r *storeRepository) GetByID(ctx context.Context, storeID string) (*domain.StoreConnection, error) {
	if err := r.db.lock(ctx, "get store"); err != nil {
		return nil, err
	}
	defer r.db.mu.Unlock()

	s, ok := r.db.stores[storeID]
	if !ok {
		return nil, &errors.ErrNotFound{Resource: "store", ID: storeID}
	}
	cp := *s
	return &cp, nil
}

func (r *storeRepository) RotateSecret(ctx context.Context, storeID, newSecret string, at time.Time) error {
	return r.update(ctx, "rotate secret", storeID, func(s *domain.StoreConnection) {
		previous := s.Secret
		s.PreviousSecret = &previous
		s.Secret = newSecret
		rotated := at
		s.SecretRotatedAt = &rotated
		s.UpdatedAt = at
	})
}

func (r *storeRepository) MarkDisconnected(ctx context.Context, storeID string, at time.Time) error {
	return r.update(ctx, "mark store disconnected", storeID, func(s *domain.StoreConnection) {
		s.Status = domain.ConnectionDisconnected
		if s.DisconnectedAt == nil {
			disconnected := at
			s.DisconnectedAt = &disconnected
		}
		s.UpdatedAt = at
	})
}

func (r *storeRepository) TouchLastSeen(ctx context.Context, storeID string, at time.Time) error {
	if err := r.db.lock(ctx, "touch store"); err != nil {
		return err
	}
	defer r.db.mu.Unlock()

	s, ok := r.db.stores[storeID]
	if !ok || !s.IsActive() {
		return &errors.ErrNotFound{Resource: "store", ID: storeID}
	}
	seen := at
	s.LastSeenAt = &seen
	return nil
}

func (r *storeRepository) update(ctx context.Context, op, storeID string, fn func(*domain.StoreConnection)) error {
	if err := r.db.lock(ctx, op); err != nil {
		return err
	}
	defer r.db.mu.Unlock()

	s, ok := r.db.stores[storeID]
	if !ok {
		return &errors.ErrNotFound{Resource: "store", ID: storeID}
	}
	fn(s)
	return nil
}

type orderRepository struct{ db *DB }

func (r *orderRepository) Upsert(ctx context.Context, order *domain.OrderRecord) (bool, error) {
	if err := r.db.lock(ctx, "upsert order"); err != nil {
		return false, err
	}
	defer r.db.mu.Unlock()

	now := time.Now().UTC()
	k := key(order.StoreID, order.ExternalOrderID)
	if existing, ok := r.db.orders[k]; ok {
		existing.OrderName = order.OrderName
		existing.PaymentStatus = order.PaymentStatus
		existing.CustomerEmail = order.CustomerEmail
		existing.CustomerName = order.CustomerName
		existing.Subtotal = order.Subtotal
		existing.TaxAmount = order.TaxAmount
		existing.DiscountAmount = order.DiscountAmount
		existing.ShippingCost = order.ShippingCost
		existing.Total = order.Total
		existing.Currency = order.Currency
		existing.Shipping = order.Shipping
		existing.UpdatedAt = now
		order.ID = existing.ID
		order.Status = existing.Status
		return false, nil
	}

	if order.ID == uuid.Nil {
		order.ID = uuid.New()
	}
	order.CreatedAt = now
	order.UpdatedAt = now
	for i := range order.LineItems {
		item := &order.LineItems[i]
		item.OrderID = order.ID
		if item.ID == uuid.Nil {
			item.ID = uuid.New()
		}
		if item.ExternalVariantID == nil {
			continue
		}
		if m, ok := r.db.mappings[key(order.StoreID, *item.ExternalVariantID)]; ok && m.IsActive {
			m.ReservedQuantity += item.Quantity
			m.UpdatedAt = now
			item.ReservedQuantity = item.Quantity
		}
	}
	r.db.orders[k] = copyOrder(order)
	return true, nil
}

func (r *orderRepository) GetByExternalID(ctx context.Context, storeID string, externalOrderID int64) (*domain.OrderRecord, error) {
	if err := r.db.lock(ctx, "get order"); err != nil {
		return nil, err
	}
	defer r.db.mu.Unlock()

	o, ok := r.db.orders[key(storeID, externalOrderID)]
	if !ok {
		return nil, &errors.ErrNotFound{Resource: "order", ID: fmt.Sprintf("%s/%d", storeID, externalOrderID)}
	}
	return copyOrder(o), nil
}

func (r *orderRepository) Update(ctx context.Context, order *domain.OrderRecord) error {
	if err := r.db.lock(ctx, "update order"); err != nil {
		return err
	}
	defer r.db.mu.Unlock()

	for _, o := range r.db.orders {
		if o.ID != order.ID {
			continue
		}
		order.UpdatedAt = time.Now().UTC()
		o.Status = order.Status
		o.PaymentStatus = order.PaymentStatus
		o.Subtotal = order.Subtotal
		o.TaxAmount = order.TaxAmount
		o.DiscountAmount = order.DiscountAmount
		o.ShippingCost = order.ShippingCost
		o.Total = order.Total
		o.UpdatedAt = order.UpdatedAt
		return nil
	}
	return nil
}

func (r *orderRepository) Cancel(ctx context.Context, storeID string, externalOrderID int64, at time.Time) (domain.CancelResult, error) {
	if err := r.db.lock(ctx, "cancel order"); err != nil {
		return domain.CancelResult{}, err
	}
	defer r.db.mu.Unlock()

	var result domain.CancelResult
	o, ok := r.db.orders[key(storeID, externalOrderID)]
	if !ok {
		return result, nil
	}
	result.Found = true
	if o.Status == domain.OrderStatusCancelled {
		result.AlreadyCancelled = true
		return result, nil
	}

	o.Status = domain.OrderStatusCancelled
	cancelled := at
	o.CancelledAt = &cancelled
	o.UpdatedAt = at
	for i := range o.LineItems {
		item := &o.LineItems[i]
		if item.ReservedQuantity == 0 || item.ExternalVariantID == nil {
			continue
		}
		if m, ok := r.db.mappings[key(storeID, *item.ExternalVariantID)]; ok {
			m.ReservedQuantity -= item.ReservedQuantity
			if m.ReservedQuantity < 0 {
				m.ReservedQuantity = 0
			}
			m.UpdatedAt = at
		}
		result.ReleasedUnits += item.ReservedQuantity
		item.ReservedQuantity = 0
	}
	return result, nil
}

func copyOrder(o *domain.OrderRecord) *domain.OrderRecord {
	cp := *o
	cp.LineItems = append([]domain.OrderLineItem(nil), o.LineItems...)
	return &cp
}

type inventoryRepository struct{ db *DB }

func (r *inventoryRepository) ApplyStock(ctx context.Context, update domain.StockUpdate) (domain.StockUpdateResult, error) {
	if err := r.db.lock(ctx, "apply stock"); err != nil {
		return "", err
	}
	defer r.db.mu.Unlock()

	var target *domain.InventoryMapping
	for _, m := range r.db.mappings {
		if m.StoreID != update.StoreID || !m.IsActive {
			continue
		}
		if update.VariantID != nil {
			if m.ExternalVariantID == *update.VariantID {
				target = m
				break
			}
			continue
		}
		if update.InventoryItemID != nil && m.ExternalInventoryItemID != nil &&
			*m.ExternalInventoryItemID == *update.InventoryItemID {
			target = m
			break
		}
	}
	if target == nil {
		return domain.StockNoTarget, nil
	}
	if target.StockUpdatedAt != nil && !target.StockUpdatedAt.Before(update.EventAt) {
		return domain.StockStale, nil
	}

	target.StockLevel = update.Available
	eventAt := update.EventAt
	target.StockUpdatedAt = &eventAt
	target.UpdatedAt = time.Now().UTC()
	return domain.StockApplied, nil
}

func (r *inventoryRepository) UpsertVariant(ctx context.Context, mapping *domain.InventoryMapping) error {
	if err := r.db.lock(ctx, "upsert mapping"); err != nil {
		return err
	}
	defer r.db.mu.Unlock()

	now := time.Now().UTC()
	k := key(mapping.StoreID, mapping.ExternalVariantID)
	if existing, ok := r.db.mappings[k]; ok {
		existing.ExternalProductID = mapping.ExternalProductID
		if mapping.ExternalInventoryItemID != nil {
			itemID := *mapping.ExternalInventoryItemID
			existing.ExternalInventoryItemID = &itemID
		}
		existing.SKU = mapping.SKU
		existing.ProductTitle = mapping.ProductTitle
		existing.VariantTitle = mapping.VariantTitle
		existing.IsActive = true
		existing.UpdatedAt = now
		mapping.ID = existing.ID
		mapping.IsActive = true
		mapping.UpdatedAt = now
		return nil
	}

	if mapping.ID == uuid.Nil {
		mapping.ID = uuid.New()
	}
	mapping.IsActive = true
	mapping.CreatedAt = now
	mapping.UpdatedAt = now
	cp := *mapping
	r.db.mappings[k] = &cp
	return nil
}

func (r *inventoryRepository) GetByVariant(ctx context.Context, storeID string, variantID int64) (*domain.InventoryMapping, error) {
	if err := r.db.lock(ctx, "get mapping"); err != nil {
		return nil, err
	}
	defer r.db.mu.Unlock()

	m, ok := r.db.mappings[key(storeID, variantID)]
	if !ok {
		return nil, &errors.ErrNotFound{Resource: "inventory mapping", ID: fmt.Sprintf("%s/%d", storeID, variantID)}
	}
	cp := *m
	return &cp, nil
}

func (r *inventoryRepository) DeactivateProduct(ctx context.Context, storeID string, productID int64) (int64, error) {
	return r.deactivate(ctx, "deactivate product", func(m *domain.InventoryMapping) bool {
		return m.StoreID == storeID && m.ExternalProductID == productID
	})
}

func (r *inventoryRepository) DeactivateStore(ctx context.Context, storeID string) (int64, error) {
	return r.deactivate(ctx, "deactivate store mappings", func(m *domain.InventoryMapping) bool {
		return m.StoreID == storeID
	})
}

func (r *inventoryRepository) deactivate(ctx context.Context, op string, match func(*domain.InventoryMapping) bool) (int64, error) {
	if err := r.db.lock(ctx, op); err != nil {
		return 0, err
	}
	defer r.db.mu.Unlock()

	now := time.Now().UTC()
	var n int64
	for _, m := range r.db.mappings {
		if m.IsActive && match(m) {
			m.IsActive = false
			m.UpdatedAt = now
			n++
		}
	}
	return n, nil
}

type returnRepository struct{ db *DB }

func (r *returnRepository) Create(ctx context.Context, ret *domain.ReturnRecord) error {
	if err := r.db.lock(ctx, "create return"); err != nil {
		return err
	}
	defer r.db.mu.Unlock()

	now := time.Now().UTC()
	if ret.ID == uuid.Nil {
		ret.ID = uuid.New()
	}
	if ret.RegisteredAt.IsZero() {
		ret.RegisteredAt = now
	}
	ret.CreatedAt = now
	for i := range ret.Items {
		ret.Items[i].ReturnID = ret.ID
		if ret.Items[i].ID == uuid.Nil {
			ret.Items[i].ID = uuid.New()
		}
	}
	cp := *ret
	cp.Items = append([]domain.ReturnItem(nil), ret.Items...)
	r.db.returns = append(r.db.returns, &cp)
	return nil
}

func (r *returnRepository) ListByOrder(ctx context.Context, orderID uuid.UUID) ([]*domain.ReturnRecord, error) {
	if err := r.db.lock(ctx, "list returns"); err != nil {
		return nil, err
	}
	defer r.db.mu.Unlock()

	var out []*domain.ReturnRecord
	for _, ret := range r.db.returns {
		if ret.OrderID == orderID {
			cp := *ret
			cp.Items = append([]domain.ReturnItem(nil), ret.Items...)
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}
