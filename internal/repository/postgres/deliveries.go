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

type deliveryRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewDeliveryRepository creates a new webhook delivery repository
func NewDeliveryRepository(db *sql.DB, logger *zap.Logger) *deliveryRepository {
	return &deliveryRepository{
		db:     db,
		logger: logger,
	}
}

func (r *deliveryRepository) Claim(ctx context.Context, delivery *domain.WebhookDelivery, leaseCutoff time.Time) (bool, error) {
	// A single statement: concurrent claims on the same key serialize on the
	// unique index and only one of them gets a row back.
	query := `
		INSERT INTO webhook_deliveries (
			id, store_id, delivery_id, topic, topic_hint, payload_hash, payload,
			received_at, verification, result, attempts, claimed_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, 1, $11)
		ON CONFLICT (store_id, delivery_id) DO UPDATE
		SET result = EXCLUDED.result,
			attempts = webhook_deliveries.attempts + 1,
			claimed_at = EXCLUDED.claimed_at,
			topic = EXCLUDED.topic,
			payload_hash = EXCLUDED.payload_hash,
			payload = EXCLUDED.payload,
			completed_at = NULL,
			last_error = NULL
		WHERE webhook_deliveries.result = $12
			OR (webhook_deliveries.result = $13 AND webhook_deliveries.claimed_at < $14)
		RETURNING id, attempts
	`

	if delivery.ID == uuid.Nil {
		delivery.ID = uuid.New()
	}

	err := r.db.QueryRowContext(ctx, query,
		delivery.ID,
		delivery.StoreID,
		delivery.DeliveryID,
		string(delivery.Topic),
		delivery.TopicHint,
		delivery.PayloadHash,
		delivery.Payload,
		delivery.ReceivedAt,
		string(delivery.Verification),
		string(domain.ResultProcessing),
		delivery.ClaimedAt,
		string(domain.ResultError),
		string(domain.ResultProcessing),
		leaseCutoff,
	).Scan(&delivery.ID, &delivery.Attempts)

	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		r.logger.Error("Failed to claim delivery",
			zap.String("store_id", delivery.StoreID),
			zap.String("delivery_id", delivery.DeliveryID),
			zap.Error(err),
		)
		return false, errors.Transient("claim delivery", err)
	}

	delivery.Result = domain.ResultProcessing
	return true, nil
}

func (r *deliveryRepository) Complete(
	ctx context.Context,
	storeID, deliveryID string,
	result domain.ProcessingResult,
	lastError *string,
	at time.Time,
) error {
	query := `
		UPDATE webhook_deliveries
		SET result = $3, last_error = $4, completed_at = $5
		WHERE store_id = $1 AND delivery_id = $2
	`

	_, err := r.db.ExecContext(ctx, query, storeID, deliveryID, string(result), lastError, at)
	if err != nil {
		r.logger.Error("Failed to complete delivery", zap.String("delivery_id", deliveryID), zap.Error(err))
		return errors.Transient("complete delivery", err)
	}

	return nil
}

func (r *deliveryRepository) Get(ctx context.Context, storeID, deliveryID string) (*domain.WebhookDelivery, error) {
	query := `
		SELECT id, store_id, delivery_id, topic, topic_hint, payload_hash, payload,
			received_at, verification, result, attempts, claimed_at, completed_at, last_error
		FROM webhook_deliveries
		WHERE store_id = $1 AND delivery_id = $2
	`

	var d domain.WebhookDelivery
	var topic, verification, result string
	var completedAt sql.NullTime
	var lastError sql.NullString

	err := r.db.QueryRowContext(ctx, query, storeID, deliveryID).Scan(
		&d.ID,
		&d.StoreID,
		&d.DeliveryID,
		&topic,
		&d.TopicHint,
		&d.PayloadHash,
		&d.Payload,
		&d.ReceivedAt,
		&verification,
		&result,
		&d.Attempts,
		&d.ClaimedAt,
		&completedAt,
		&lastError,
	)

	if err == sql.ErrNoRows {
		return nil, &errors.ErrNotFound{Resource: "delivery", ID: storeID + "/" + deliveryID}
	}
	if err != nil {
		r.logger.Error("Failed to get delivery", zap.Error(err))
		return nil, errors.Transient("get delivery", err)
	}

	d.Topic = domain.Topic(topic)
	d.Verification = domain.VerificationResult(verification)
	d.Result = domain.ProcessingResult(result)
	d.CompletedAt = nullTime(completedAt)
	d.LastError = nullString(lastError)

	return &d, nil
}

func (r *deliveryRepository) PruneBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	query := `DELETE FROM webhook_deliveries WHERE received_at < $1 AND result <> $2`

	res, err := r.db.ExecContext(ctx, query, cutoff, string(domain.ResultProcessing))
	if err != nil {
		r.logger.Error("Failed to prune deliveries", zap.Error(err))
		return 0, errors.Transient("prune deliveries", err)
	}

	return res.RowsAffected()
}
