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

type returnRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewReturnRepository creates a new return record repository
func NewReturnRepository(db *sql.DB, logger *zap.Logger) *returnRepository {
	return &returnRepository{
		db:     db,
		logger: logger,
	}
}

func (r *returnRepository) Create(ctx context.Context, ret *domain.ReturnRecord) error {
	now := time.Now().UTC()
	if ret.ID == uuid.Nil {
		ret.ID = uuid.New()
	}
	if ret.RegisteredAt.IsZero() {
		ret.RegisteredAt = now
	}
	ret.CreatedAt = now

	err := withTx(ctx, r.db, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO returns (
				id, store_id, return_code, order_id, external_refund_id, status,
				amount, currency, note, registered_at, created_at
			)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		`,
			ret.ID,
			ret.StoreID,
			ret.ReturnCode,
			ret.OrderID,
			ret.ExternalRefundID,
			string(ret.Status),
			ret.Amount,
			ret.Currency,
			ret.Note,
			ret.RegisteredAt,
			ret.CreatedAt,
		)
		if err != nil {
			return err
		}

		for i := range ret.Items {
			item := &ret.Items[i]
			item.ReturnID = ret.ID
			if item.ID == uuid.Nil {
				item.ID = uuid.New()
			}
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO return_items (id, return_id, external_variant_id, sku, quantity, amount, reason)
				VALUES ($1, $2, $3, $4, $5, $6, $7)
			`,
				item.ID,
				item.ReturnID,
				item.ExternalVariantID,
				item.SKU,
				item.Quantity,
				item.Amount,
				string(item.Reason),
			); err != nil {
				return err
			}
		}
		return nil
	})

	if err != nil {
		r.logger.Error("Failed to create return", zap.String("return_code", ret.ReturnCode), zap.Error(err))
		return errors.Transient("create return", err)
	}

	return nil
}

func (r *returnRepository) ListByOrder(ctx context.Context, orderID uuid.UUID) ([]*domain.ReturnRecord, error) {
	query := `
		SELECT id, store_id, return_code, order_id, external_refund_id, status,
			amount, currency, note, registered_at, created_at
		FROM returns
		WHERE order_id = $1
		ORDER BY created_at
	`

	rows, err := r.db.QueryContext(ctx, query, orderID)
	if err != nil {
		r.logger.Error("Failed to query returns", zap.Error(err))
		return nil, errors.Transient("list returns", err)
	}
	defer rows.Close()

	var returns []*domain.ReturnRecord
	for rows.Next() {
		var ret domain.ReturnRecord
		var status string
		if err := rows.Scan(
			&ret.ID,
			&ret.StoreID,
			&ret.ReturnCode,
			&ret.OrderID,
			&ret.ExternalRefundID,
			&status,
			&ret.Amount,
			&ret.Currency,
			&ret.Note,
			&ret.RegisteredAt,
			&ret.CreatedAt,
		); err != nil {
			return nil, errors.Transient("scan return", err)
		}
		ret.Status = domain.ReturnStatus(status)
		returns = append(returns, &ret)
	}

	if err := rows.Err(); err != nil {
		return nil, errors.Transient("iterate returns", err)
	}

	return returns, nil
}
