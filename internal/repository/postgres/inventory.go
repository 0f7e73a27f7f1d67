package postgres

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/jafarshop/webhookgw/internal/domain"
	"github.com/jafarshop/webhookgw/pkg/errors"
)

type inventoryRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewInventoryRepository creates a new inventory mapping repository
func NewInventoryRepository(db *sql.DB, logger *zap.Logger) *inventoryRepository {
	return &inventoryRepository{
		db:     db,
		logger: logger,
	}
}

// ApplyStock writes the stock level only if the event is newer than the
// one already stored, so out-of-order deliveries cannot roll it back.
func (r *inventoryRepository) ApplyStock(ctx context.Context, update domain.StockUpdate) (domain.StockUpdateResult, error) {
	column, key := "external_inventory_item_id", update.InventoryItemID
	if update.VariantID != nil {
		column, key = "external_variant_id", update.VariantID
	}
	if key == nil {
		return domain.StockNoTarget, nil
	}

	query := `
		UPDATE inventory_mappings
		SET stock_level = $3, stock_updated_at = $4, updated_at = $5
		WHERE store_id = $1 AND ` + column + ` = $2 AND is_active = true
			AND (stock_updated_at IS NULL OR stock_updated_at < $4)
	`

	res, err := r.db.ExecContext(ctx, query, update.StoreID, *key, update.Available, update.EventAt, time.Now().UTC())
	if err != nil {
		r.logger.Error("Failed to apply stock level", zap.Error(err))
		return "", errors.Transient("apply stock", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return "", errors.Transient("apply stock", err)
	}
	if n > 0 {
		return domain.StockApplied, nil
	}

	var exists bool
	err = r.db.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM inventory_mappings
			WHERE store_id = $1 AND `+column+` = $2 AND is_active = true
		)
	`, update.StoreID, *key).Scan(&exists)
	if err != nil {
		return "", errors.Transient("check mapping", err)
	}
	if exists {
		return domain.StockStale, nil
	}

	return domain.StockNoTarget, nil
}

func (r *inventoryRepository) UpsertVariant(ctx context.Context, mapping *domain.InventoryMapping) error {
	query := `
		INSERT INTO inventory_mappings (
			id, store_id, external_product_id, external_variant_id, external_inventory_item_id,
			sku, product_title, variant_title, stock_level, is_active, created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, true, $10, $10)
		ON CONFLICT (store_id, external_variant_id) DO UPDATE
		SET external_product_id = EXCLUDED.external_product_id,
			external_inventory_item_id = COALESCE(EXCLUDED.external_inventory_item_id, inventory_mappings.external_inventory_item_id),
			sku = EXCLUDED.sku,
			product_title = EXCLUDED.product_title,
			variant_title = EXCLUDED.variant_title,
			is_active = true,
			updated_at = EXCLUDED.updated_at
		RETURNING id, is_active
	`

	now := time.Now().UTC()
	if mapping.ID == uuid.Nil {
		mapping.ID = uuid.New()
	}

	err := r.db.QueryRowContext(ctx, query,
		mapping.ID,
		mapping.StoreID,
		mapping.ExternalProductID,
		mapping.ExternalVariantID,
		mapping.ExternalInventoryItemID,
		mapping.SKU,
		mapping.ProductTitle,
		mapping.VariantTitle,
		mapping.StockLevel,
		now,
	).Scan(&mapping.ID, &mapping.IsActive)

	if err != nil {
		r.logger.Error("Failed to upsert inventory mapping",
			zap.Int64("variant_id", mapping.ExternalVariantID),
			zap.Error(err),
		)
		return errors.Transient("upsert mapping", err)
	}

	mapping.UpdatedAt = now
	return nil
}

func (r *inventoryRepository) GetByVariant(ctx context.Context, storeID string, variantID int64) (*domain.InventoryMapping, error) {
	query := `
		SELECT id, store_id, external_product_id, external_variant_id, external_inventory_item_id,
			sku, product_title, variant_title, stock_level, reserved_quantity, stock_updated_at,
			is_active, created_at, updated_at
		FROM inventory_mappings
		WHERE store_id = $1 AND external_variant_id = $2
	`

	var m domain.InventoryMapping
	var itemID sql.NullInt64
	var stockUpdatedAt sql.NullTime

	err := r.db.QueryRowContext(ctx, query, storeID, variantID).Scan(
		&m.ID,
		&m.StoreID,
		&m.ExternalProductID,
		&m.ExternalVariantID,
		&itemID,
		&m.SKU,
		&m.ProductTitle,
		&m.VariantTitle,
		&m.StockLevel,
		&m.ReservedQuantity,
		&stockUpdatedAt,
		&m.IsActive,
		&m.CreatedAt,
		&m.UpdatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, &errors.ErrNotFound{Resource: "inventory mapping", ID: formatExternalID(storeID, variantID)}
	}
	if err != nil {
		r.logger.Error("Failed to get inventory mapping", zap.Error(err))
		return nil, errors.Transient("get mapping", err)
	}

	m.ExternalInventoryItemID = nullInt64(itemID)
	m.StockUpdatedAt = nullTime(stockUpdatedAt)

	return &m, nil
}

func (r *inventoryRepository) DeactivateProduct(ctx context.Context, storeID string, productID int64) (int64, error) {
	query := `
		UPDATE inventory_mappings
		SET is_active = false, updated_at = $3
		WHERE store_id = $1 AND external_product_id = $2 AND is_active = true
	`

	return r.deactivate(ctx, "deactivate product", query, storeID, productID, time.Now().UTC())
}

func (r *inventoryRepository) DeactivateStore(ctx context.Context, storeID string) (int64, error) {
	query := `
		UPDATE inventory_mappings
		SET is_active = false, updated_at = $2
		WHERE store_id = $1 AND is_active = true
	`

	return r.deactivate(ctx, "deactivate store mappings", query, storeID, time.Now().UTC())
}

func (r *inventoryRepository) deactivate(ctx context.Context, op, query string, args ...interface{}) (int64, error) {
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		r.logger.Error("Failed to "+op, zap.Error(err))
		return 0, errors.Transient(op, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return 0, errors.Transient(op, err)
	}

	return n, nil
}
