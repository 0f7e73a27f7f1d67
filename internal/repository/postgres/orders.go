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

type orderRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewOrderRepository creates a new order repository
func NewOrderRepository(db *sql.DB, logger *zap.Logger) *orderRepository {
	return &orderRepository{
		db:     db,
		logger: logger,
	}
}

func (r *orderRepository) Upsert(ctx context.Context, order *domain.OrderRecord) (bool, error) {
	// Status is only written on insert; a repeated create must not undo
	// an update or a cancellation that already happened.
	query := `
		INSERT INTO orders (
			id, store_id, external_order_id, order_name, status, payment_status,
			customer_email, customer_name, subtotal, tax_amount, discount_amount,
			shipping_cost, total, currency, ordered_at, created_at, updated_at,
			shipping_name, shipping_address1, shipping_address2, shipping_city,
			shipping_province, shipping_zip, shipping_country
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $16,
			$17, $18, $19, $20, $21, $22, $23)
		ON CONFLICT (store_id, external_order_id) DO UPDATE
		SET order_name = EXCLUDED.order_name,
			payment_status = EXCLUDED.payment_status,
			customer_email = EXCLUDED.customer_email,
			customer_name = EXCLUDED.customer_name,
			subtotal = EXCLUDED.subtotal,
			tax_amount = EXCLUDED.tax_amount,
			discount_amount = EXCLUDED.discount_amount,
			shipping_cost = EXCLUDED.shipping_cost,
			total = EXCLUDED.total,
			currency = EXCLUDED.currency,
			shipping_name = EXCLUDED.shipping_name,
			shipping_address1 = EXCLUDED.shipping_address1,
			shipping_address2 = EXCLUDED.shipping_address2,
			shipping_city = EXCLUDED.shipping_city,
			shipping_province = EXCLUDED.shipping_province,
			shipping_zip = EXCLUDED.shipping_zip,
			shipping_country = EXCLUDED.shipping_country,
			updated_at = EXCLUDED.updated_at
		RETURNING id, status, (xmax = 0) AS inserted
	`

	now := time.Now().UTC()
	if order.ID == uuid.Nil {
		order.ID = uuid.New()
	}
	order.CreatedAt = now
	order.UpdatedAt = now

	var inserted bool
	err := withTx(ctx, r.db, func(tx *sql.Tx) error {
		var status string
		err := tx.QueryRowContext(ctx, query,
			order.ID,
			order.StoreID,
			order.ExternalOrderID,
			order.OrderName,
			string(order.Status),
			string(order.PaymentStatus),
			order.CustomerEmail,
			order.CustomerName,
			order.Subtotal,
			order.TaxAmount,
			order.DiscountAmount,
			order.ShippingCost,
			order.Total,
			order.Currency,
			order.OrderedAt,
			now,
			order.Shipping.Name,
			order.Shipping.Address1,
			order.Shipping.Address2,
			order.Shipping.City,
			order.Shipping.Province,
			order.Shipping.Zip,
			order.Shipping.CountryCode,
		).Scan(&order.ID, &status, &inserted)
		if err != nil {
			return err
		}
		order.Status = domain.OrderStatus(status)

		if !inserted {
			return nil
		}

		for i := range order.LineItems {
			item := &order.LineItems[i]
			item.OrderID = order.ID
			if item.ID == uuid.Nil {
				item.ID = uuid.New()
			}
			if item.ExternalVariantID != nil {
				reserved, err := reserveStock(ctx, tx, order.StoreID, *item.ExternalVariantID, item.Quantity, now)
				if err != nil {
					return err
				}
				if reserved {
					item.ReservedQuantity = item.Quantity
				}
			}
			if err := insertLineItem(ctx, tx, item); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		r.logger.Error("Failed to upsert order",
			zap.String("store_id", order.StoreID),
			zap.Int64("external_order_id", order.ExternalOrderID),
			zap.Error(err),
		)
		return false, errors.Transient("upsert order", err)
	}

	return inserted, nil
}

func reserveStock(ctx context.Context, tx *sql.Tx, storeID string, variantID int64, quantity int, at time.Time) (bool, error) {
	query := `
		UPDATE inventory_mappings
		SET reserved_quantity = reserved_quantity + $3, updated_at = $4
		WHERE store_id = $1 AND external_variant_id = $2 AND is_active = true
	`

	res, err := tx.ExecContext(ctx, query, storeID, variantID, quantity, at)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func insertLineItem(ctx context.Context, tx *sql.Tx, item *domain.OrderLineItem) error {
	query := `
		INSERT INTO order_line_items (
			id, order_id, external_line_item_id, external_variant_id, sku, title,
			quantity, unit_price, discount_amount, total, reserved_quantity
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`

	_, err := tx.ExecContext(ctx, query,
		item.ID,
		item.OrderID,
		item.ExternalLineItemID,
		item.ExternalVariantID,
		item.SKU,
		item.Title,
		item.Quantity,
		item.UnitPrice,
		item.DiscountAmount,
		item.Total,
		item.ReservedQuantity,
	)
	return err
}

func (r *orderRepository) GetByExternalID(ctx context.Context, storeID string, externalOrderID int64) (*domain.OrderRecord, error) {
	query := `
		SELECT id, store_id, external_order_id, order_name, status, payment_status,
			customer_email, customer_name, subtotal, tax_amount, discount_amount,
			shipping_cost, total, currency, ordered_at, cancelled_at, created_at, updated_at,
			shipping_name, shipping_address1, shipping_address2, shipping_city,
			shipping_province, shipping_zip, shipping_country
		FROM orders
		WHERE store_id = $1 AND external_order_id = $2
	`

	var order domain.OrderRecord
	var status, paymentStatus string
	var cancelledAt sql.NullTime

	err := r.db.QueryRowContext(ctx, query, storeID, externalOrderID).Scan(
		&order.ID,
		&order.StoreID,
		&order.ExternalOrderID,
		&order.OrderName,
		&status,
		&paymentStatus,
		&order.CustomerEmail,
		&order.CustomerName,
		&order.Subtotal,
		&order.TaxAmount,
		&order.DiscountAmount,
		&order.ShippingCost,
		&order.Total,
		&order.Currency,
		&order.OrderedAt,
		&cancelledAt,
		&order.CreatedAt,
		&order.UpdatedAt,
		&order.Shipping.Name,
		&order.Shipping.Address1,
		&order.Shipping.Address2,
		&order.Shipping.City,
		&order.Shipping.Province,
		&order.Shipping.Zip,
		&order.Shipping.CountryCode,
	)

	if err == sql.ErrNoRows {
		return nil, &errors.ErrNotFound{Resource: "order", ID: formatExternalID(storeID, externalOrderID)}
	}
	if err != nil {
		r.logger.Error("Failed to get order", zap.Error(err))
		return nil, errors.Transient("get order", err)
	}

	order.Status = domain.OrderStatus(status)
	order.PaymentStatus = domain.PaymentStatus(paymentStatus)
	order.CancelledAt = nullTime(cancelledAt)

	items, err := r.getLineItems(ctx, order.ID)
	if err != nil {
		return nil, err
	}
	order.LineItems = items

	return &order, nil
}

func (r *orderRepository) getLineItems(ctx context.Context, orderID uuid.UUID) ([]domain.OrderLineItem, error) {
	query := `
		SELECT id, order_id, external_line_item_id, external_variant_id, sku, title,
			quantity, unit_price, discount_amount, total, reserved_quantity
		FROM order_line_items
		WHERE order_id = $1
		ORDER BY external_line_item_id
	`

	rows, err := r.db.QueryContext(ctx, query, orderID)
	if err != nil {
		r.logger.Error("Failed to query order line items", zap.Error(err))
		return nil, errors.Transient("get line items", err)
	}
	defer rows.Close()

	var items []domain.OrderLineItem
	for rows.Next() {
		var item domain.OrderLineItem
		var variantID sql.NullInt64
		if err := rows.Scan(
			&item.ID,
			&item.OrderID,
			&item.ExternalLineItemID,
			&variantID,
			&item.SKU,
			&item.Title,
			&item.Quantity,
			&item.UnitPrice,
			&item.DiscountAmount,
			&item.Total,
			&item.ReservedQuantity,
		); err != nil {
			return nil, errors.Transient("scan line item", err)
		}
		item.ExternalVariantID = nullInt64(variantID)
		items = append(items, item)
	}

	if err := rows.Err(); err != nil {
		return nil, errors.Transient("iterate line items", err)
	}

	return items, nil
}

func (r *orderRepository) Update(ctx context.Context, order *domain.OrderRecord) error {
	query := `
		UPDATE orders
		SET status = $2, payment_status = $3, subtotal = $4, tax_amount = $5,
			discount_amount = $6, shipping_cost = $7, total = $8, updated_at = $9
		WHERE id = $1
	`

	order.UpdatedAt = time.Now().UTC()

	_, err := r.db.ExecContext(ctx, query,
		order.ID,
		string(order.Status),
		string(order.PaymentStatus),
		order.Subtotal,
		order.TaxAmount,
		order.DiscountAmount,
		order.ShippingCost,
		order.Total,
		order.UpdatedAt,
	)

	if err != nil {
		r.logger.Error("Failed to update order", zap.Error(err))
		return errors.Transient("update order", err)
	}

	return nil
}

func (r *orderRepository) Cancel(ctx context.Context, storeID string, externalOrderID int64, at time.Time) (domain.CancelResult, error) {
	var result domain.CancelResult

	err := withTx(ctx, r.db, func(tx *sql.Tx) error {
		var orderID uuid.UUID
		var status string
		err := tx.QueryRowContext(ctx, `
			SELECT id, status FROM orders
			WHERE store_id = $1 AND external_order_id = $2
			FOR UPDATE
		`, storeID, externalOrderID).Scan(&orderID, &status)
		if err == sql.ErrNoRows {
			return nil
		}
		if err != nil {
			return err
		}
		result.Found = true

		if domain.OrderStatus(status) == domain.OrderStatusCancelled {
			result.AlreadyCancelled = true
			return nil
		}

		if _, err := tx.ExecContext(ctx, `
			UPDATE orders SET status = $2, cancelled_at = $3, updated_at = $3 WHERE id = $1
		`, orderID, string(domain.OrderStatusCancelled), at); err != nil {
			return err
		}

		released, err := releaseLineItems(ctx, tx, orderID)
		if err != nil {
			return err
		}

		for variantID, quantity := range released {
			if _, err := tx.ExecContext(ctx, `
				UPDATE inventory_mappings
				SET reserved_quantity = GREATEST(0, reserved_quantity - $3), updated_at = $4
				WHERE store_id = $1 AND external_variant_id = $2
			`, storeID, variantID, quantity, at); err != nil {
				return err
			}
			result.ReleasedUnits += quantity
		}
		return nil
	})
	if err != nil {
		r.logger.Error("Failed to cancel order",
			zap.String("store_id", storeID),
			zap.Int64("external_order_id", externalOrderID),
			zap.Error(err),
		)
		return domain.CancelResult{}, errors.Transient("cancel order", err)
	}

	return result, nil
}

// releaseLineItems zeroes line item reservations and returns the released
// quantity per variant.
func releaseLineItems(ctx context.Context, tx *sql.Tx, orderID uuid.UUID) (map[int64]int, error) {
	query := `
		WITH released AS (
			SELECT id, external_variant_id, reserved_quantity
			FROM order_line_items
			WHERE order_id = $1 AND reserved_quantity > 0 AND external_variant_id IS NOT NULL
			FOR UPDATE
		)
		UPDATE order_line_items li
		SET reserved_quantity = 0
		FROM released
		WHERE li.id = released.id
		RETURNING released.external_variant_id, released.reserved_quantity
	`

	rows, err := tx.QueryContext(ctx, query, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	released := make(map[int64]int)
	for rows.Next() {
		var variantID int64
		var quantity int
		if err := rows.Scan(&variantID, &quantity); err != nil {
			return nil, err
		}
		released[variantID] += quantity
	}

	return released, rows.Err()
}
