package webhook

import (
	"context"
	"time"

	"github.com/jafarshop/webhookgw/internal/domain"
	"github.com/jafarshop/webhookgw/internal/repository"
)

// Guard makes side effects happen at most once per (store, delivery id)
type Guard struct {
	deliveries repository.DeliveryRepository
	lease      time.Duration
	retention  time.Duration
	now        func() time.Time
}

// NewGuard creates an idempotency guard. A delivery stuck in processing
// longer than lease may be claimed again; completed deliveries are kept for
// retention before Prune removes them.
func NewGuard(deliveries repository.DeliveryRepository, lease, retention time.Duration) *Guard {
	if lease <= 0 {
		lease = time.Minute
	}
	if retention <= 0 {
		retention = 30 * 24 * time.Hour
	}
	return &Guard{
		deliveries: deliveries,
		lease:      lease,
		retention:  retention,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// Claim records the delivery if it was never seen. It returns false for a
// duplicate, which the caller must still acknowledge with success.
func (g *Guard) Claim(ctx context.Context, delivery *domain.WebhookDelivery) (bool, error) {
	now := g.now()
	delivery.ClaimedAt = now
	if delivery.ReceivedAt.IsZero() {
		delivery.ReceivedAt = now
	}
	return g.deliveries.Claim(ctx, delivery, now.Add(-g.lease))
}

// Complete stores the final result of a claimed delivery
func (g *Guard) Complete(ctx context.Context, delivery *domain.WebhookDelivery, result domain.ProcessingResult, cause error) error {
	var lastError *string
	if cause != nil {
		msg := cause.Error()
		lastError = &msg
	}
	delivery.Result = result
	delivery.LastError = lastError
	return g.deliveries.Complete(ctx, delivery.StoreID, delivery.DeliveryID, result, lastError, g.now())
}

// Prune deletes delivery records older than the retention window
func (g *Guard) Prune(ctx context.Context) (int64, error) {
	return g.deliveries.PruneBefore(ctx, g.now().Add(-g.retention))
}

// Retention returns the configured retention window
func (g *Guard) Retention() time.Duration {
	return g.retention
}
