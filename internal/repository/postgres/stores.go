package postgres

import (
	"context"
	"database/sql"
	"time"

	"go.uber.org/zap"

	"github.com/jafarshop/webhookgw/internal/domain"
	"github.com/jafarshop/webhookgw/pkg/errors"
)

type storeRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewStoreRepository creates a new store connection repository
func NewStoreRepository(db *sql.DB, logger *zap.Logger) *storeRepository {
	return &storeRepository{
		db:     db,
		logger: logger,
	}
}

// Create inserts a store connection. A disconnected row for the same store
// is reactivated in place with the new secret; an active one is
// ErrAlreadyExists.
func (r *storeRepository) Create(ctx context.Context, store *domain.StoreConnection) error {
	query := `
		INSERT INTO store_connections (
			store_id, secret, previous_secret, secret_rotated_at, status,
			auto_sync_orders, installed_at, updated_at
		)
		VALUES ($1, $2, NULL, NULL, $3, $4, $5, $6)
		ON CONFLICT (store_id) DO UPDATE
		SET secret = EXCLUDED.secret,
			previous_secret = NULL,
			secret_rotated_at = NULL,
			status = EXCLUDED.status,
			auto_sync_orders = EXCLUDED.auto_sync_orders,
			installed_at = EXCLUDED.installed_at,
			disconnected_at = NULL,
			updated_at = EXCLUDED.updated_at
		WHERE store_connections.status = $7
		RETURNING store_id
	`

	now := time.Now().UTC()
	if store.InstalledAt.IsZero() {
		store.InstalledAt = now
	}
	store.Status = domain.ConnectionActive
	store.PreviousSecret = nil
	store.SecretRotatedAt = nil
	store.DisconnectedAt = nil
	store.UpdatedAt = now

	var storeID string
	err := r.db.QueryRowContext(ctx, query,
		store.StoreID,
		store.Secret,
		string(store.Status),
		store.AutoSyncOrders,
		store.InstalledAt,
		store.UpdatedAt,
		string(domain.ConnectionDisconnected),
	).Scan(&storeID)

	if err == sql.ErrNoRows || isUniqueViolation(err) {
		return &errors.ErrAlreadyExists{Resource: "store", ID: store.StoreID}
	}
	if err != nil {
		r.logger.Error("Failed to create store connection", zap.Error(err))
		return errors.Transient("create store", err)
	}

	return nil
}

func (r *storeRepository) GetByID(ctx context.Context, storeID string) (*domain.StoreConnection, error) {
	query := `
		SELECT store_id, secret, previous_secret, secret_rotated_at, status, auto_sync_orders,
			last_seen_at, installed_at, disconnected_at, updated_at
		FROM store_connections
		WHERE store_id = $1
	`

	var store domain.StoreConnection
	var status string
	var previousSecret sql.NullString
	var rotatedAt, lastSeenAt, disconnectedAt sql.NullTime

	err := r.db.QueryRowContext(ctx, query, storeID).Scan(
		&store.StoreID,
		&store.Secret,
		&previousSecret,
		&rotatedAt,
		&status,
		&store.AutoSyncOrders,
		&lastSeenAt,
		&store.InstalledAt,
		&disconnectedAt,
		&store.UpdatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, &errors.ErrNotFound{Resource: "store", ID: storeID}
	}
	if err != nil {
		r.logger.Error("Failed to get store connection", zap.Error(err))
		return nil, errors.Transient("get store", err)
	}

	store.Status = domain.ConnectionStatus(status)
	store.PreviousSecret = nullString(previousSecret)
	store.SecretRotatedAt = nullTime(rotatedAt)
	store.LastSeenAt = nullTime(lastSeenAt)
	store.DisconnectedAt = nullTime(disconnectedAt)

	return &store, nil
}

func (r *storeRepository) RotateSecret(ctx context.Context, storeID, newSecret string, at time.Time) error {
	query := `
		UPDATE store_connections
		SET previous_secret = secret, secret = $2, secret_rotated_at = $3, updated_at = $3
		WHERE store_id = $1
	`

	return r.execOne(ctx, "rotate secret", storeID, query, storeID, newSecret, at)
}

func (r *storeRepository) MarkDisconnected(ctx context.Context, storeID string, at time.Time) error {
	query := `
		UPDATE store_connections
		SET status = $2, disconnected_at = COALESCE(disconnected_at, $3), updated_at = $3
		WHERE store_id = $1
	`

	return r.execOne(ctx, "mark store disconnected", storeID, query, storeID, string(domain.ConnectionDisconnected), at)
}

func (r *storeRepository) TouchLastSeen(ctx context.Context, storeID string, at time.Time) error {
	query := `UPDATE store_connections SET last_seen_at = $2 WHERE store_id = $1 AND status = $3`

	return r.execOne(ctx, "touch store", storeID, query, storeID, at, string(domain.ConnectionActive))
}

func (r *storeRepository) execOne(ctx context.Context, op, storeID, query string, args ...interface{}) error {
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		r.logger.Error("Failed to "+op, zap.String("store_id", storeID), zap.Error(err))
		return errors.Transient(op, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return errors.Transient(op, err)
	}
	if n == 0 {
		return &errors.ErrNotFound{Resource: "store", ID: storeID}
	}

	return nil
}
