package service

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/jafarshop/webhookgw/internal/domain"
	"github.com/jafarshop/webhookgw/internal/repository"
	"github.com/jafarshop/webhookgw/internal/secrets"
	"github.com/jafarshop/webhookgw/internal/shopify"
	"github.com/jafarshop/webhookgw/pkg/errors"
)

// Subscriber manages webhook subscriptions on the store side
type Subscriber interface {
	ListWebhookSubscriptions(ctx context.Context) ([]shopify.WebhookSubscription, error)
	SubscribeWebhooks(ctx context.Context, callbackURL string, topics []domain.Topic) ([]shopify.WebhookSubscription, error)
}

// RegisterStoreInput describes a store to link
type RegisterStoreInput struct {
	StoreID        string
	Secret         string
	AutoSyncOrders bool
	// CallbackURL, when set, subscribes every handled topic to it
	CallbackURL string
}

// StoreService links stores and manages their signing secrets
type StoreService struct {
	repos      *repository.Repositories
	secrets    secrets.Store
	subscriber Subscriber
	logger     *zap.Logger
}

// NewStoreService creates a store service; subscriber may be nil when no
// Admin API credentials are configured.
func NewStoreService(repos *repository.Repositories, secretStore secrets.Store, subscriber Subscriber, logger *zap.Logger) *StoreService {
	return &StoreService{
		repos:      repos,
		secrets:    secretStore,
		subscriber: subscriber,
		logger:     logger,
	}
}

// Register creates an active store connection and optionally subscribes
// its webhooks
func (s *StoreService) Register(ctx context.Context, in RegisterStoreInput) (*domain.StoreConnection, error) {
	storeID := shopify.NormalizeShopDomain(in.StoreID)
	if storeID == "" {
		return nil, &errors.ErrValidation{Field: "store_id", Message: "store id is required"}
	}
	if in.Secret == "" {
		return nil, &errors.ErrValidation{Field: "secret", Message: "signing secret is required"}
	}

	store := &domain.StoreConnection{
		StoreID:        storeID,
		Secret:         in.Secret,
		Status:         domain.ConnectionActive,
		AutoSyncOrders: in.AutoSyncOrders,
		InstalledAt:    time.Now().UTC(),
	}
	if err := s.repos.Store.Create(ctx, store); err != nil {
		return nil, err
	}
	// A reinstall reuses the row; drop anything cached for the old install.
	if err := s.secrets.Invalidate(ctx, storeID); err != nil {
		return store, errors.Transient("invalidate secret", err)
	}

	s.logger.Info("Store registered",
		zap.String("store_id", storeID),
		zap.Bool("auto_sync_orders", in.AutoSyncOrders),
	)

	if in.CallbackURL == "" {
		return store, nil
	}
	if s.subscriber == nil {
		return store, fmt.Errorf("cannot subscribe webhooks for %s: no Admin API client configured", storeID)
	}

	existing, err := s.subscriber.ListWebhookSubscriptions(ctx)
	if err != nil {
		return store, fmt.Errorf("failed to list webhook subscriptions: %w", err)
	}
	missing := missingTopics(existing, in.CallbackURL)
	if len(missing) == 0 {
		s.logger.Info("Webhooks already subscribed", zap.String("store_id", storeID))
		return store, nil
	}

	subs, err := s.subscriber.SubscribeWebhooks(ctx, in.CallbackURL, missing)
	if err != nil {
		return store, fmt.Errorf("failed to subscribe webhooks: %w", err)
	}
	s.logger.Info("Webhooks subscribed",
		zap.String("store_id", storeID),
		zap.Int("subscriptions", len(subs)),
		zap.Int("already_present", len(domain.Topics)-len(missing)),
	)
	return store, nil
}

// missingTopics lists handled topics with no subscription to callbackURL yet
func missingTopics(existing []shopify.WebhookSubscription, callbackURL string) []domain.Topic {
	have := make(map[string]bool, len(existing))
	for _, sub := range existing {
		if sub.Endpoint.CallbackURL == callbackURL {
			have[sub.Topic] = true
		}
	}
	var missing []domain.Topic
	for _, topic := range domain.Topics {
		if !have[topic.GraphQLName()] {
			missing = append(missing, topic)
		}
	}
	return missing
}

// RotateSecret replaces the store's signing secret. The old secret keeps
// verifying for the configured grace period. An empty newSecret generates
// a random one, which is returned. When the rotation is committed but the
// cache could not be flushed, the new secret is returned with a transient
// error.
func (s *StoreService) RotateSecret(ctx context.Context, storeID, newSecret string) (string, error) {
	if newSecret == "" {
		generated, err := GenerateSecret()
		if err != nil {
			return "", err
		}
		newSecret = generated
	}

	if err := s.repos.Store.RotateSecret(ctx, storeID, newSecret, time.Now().UTC()); err != nil {
		return "", err
	}
	if err := s.secrets.Invalidate(ctx, storeID); err != nil {
		s.logger.Error("Failed to invalidate cached secret", zap.String("store_id", storeID), zap.Error(err))
		return newSecret, errors.Transient("invalidate secret", err)
	}

	s.logger.Info("Store secret rotated", zap.String("store_id", storeID))
	return newSecret, nil
}

// GenerateSecret returns a random 32-byte hex secret
func GenerateSecret() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate secret: %w", err)
	}
	return hex.EncodeToString(buf), nil
}
