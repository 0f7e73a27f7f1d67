package secrets

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const cacheKeyPrefix = "webhookgw:secrets:"

// Connect initializes a Redis client from URL or host:port input.
func Connect(ctx context.Context, redisURL string) (*redis.Client, error) {
	var client *redis.Client
	if strings.HasPrefix(redisURL, "redis://") || strings.HasPrefix(redisURL, "rediss://") {
		opt, err := redis.ParseURL(redisURL)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		client = redis.NewClient(opt)
	} else {
		client = redis.NewClient(&redis.Options{Addr: redisURL})
	}

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

// CachedStore fronts another Store with a Redis cache. Only successful
// lookups are cached, so a freshly registered store is visible at once.
type CachedStore struct {
	next   Store
	client *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

// NewCachedStore wraps next with a Redis cache
func NewCachedStore(next Store, client *redis.Client, ttl time.Duration, logger *zap.Logger) *CachedStore {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &CachedStore{
		next:   next,
		client: client,
		ttl:    ttl,
		logger: logger,
	}
}

func (s *CachedStore) Lookup(ctx context.Context, storeID string) (Secrets, error) {
	raw, err := s.client.Get(ctx, cacheKeyPrefix+storeID).Bytes()
	switch {
	case err == nil:
		var cached Secrets
		if jsonErr := json.Unmarshal(raw, &cached); jsonErr == nil {
			return cached, nil
		}
		s.logger.Warn("Discarding unreadable cached secret", zap.String("store_id", storeID))
	case err != redis.Nil:
		// Cache trouble must not block verification.
		s.logger.Warn("Secret cache read failed", zap.String("store_id", storeID), zap.Error(err))
	}

	secrets, err := s.next.Lookup(ctx, storeID)
	if err != nil {
		return Secrets{}, err
	}

	if payload, jsonErr := json.Marshal(secrets); jsonErr == nil {
		if setErr := s.client.Set(ctx, cacheKeyPrefix+storeID, payload, s.ttl).Err(); setErr != nil {
			s.logger.Warn("Secret cache write failed", zap.String("store_id", storeID), zap.Error(setErr))
		}
	}

	return secrets, nil
}

func (s *CachedStore) Invalidate(ctx context.Context, storeID string) error {
	if err := s.client.Del(ctx, cacheKeyPrefix+storeID).Err(); err != nil {
		return fmt.Errorf("invalidate cached secret: %w", err)
	}
	return s.next.Invalidate(ctx, storeID)
}
