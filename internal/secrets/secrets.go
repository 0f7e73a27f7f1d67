package secrets

import (
	"context"
	"time"

	"github.com/jafarshop/webhookgw/internal/repository"
	"github.com/jafarshop/webhookgw/pkg/errors"
)

// Secrets are the signing keys currently valid for one store
type Secrets struct {
	StoreID   string     `json:"store_id"`
	Current   string     `json:"current"`
	Previous  *string    `json:"previous,omitempty"`
	RotatedAt *time.Time `json:"rotated_at,omitempty"`
}

// Candidates returns the keys a signature may be checked against: the
// current secret, plus the previous one while the rotation grace lasts.
func (s Secrets) Candidates(now time.Time, grace time.Duration) []string {
	keys := make([]string, 0, 2)
	if s.Current != "" {
		keys = append(keys, s.Current)
	}
	if s.Previous != nil && *s.Previous != "" && s.RotatedAt != nil && now.Sub(*s.RotatedAt) < grace {
		keys = append(keys, *s.Previous)
	}
	return keys
}

// Store resolves a store identifier to its signing secrets
type Store interface {
	// Lookup returns ErrNotFound for unknown or disconnected stores
	Lookup(ctx context.Context, storeID string) (Secrets, error)
	Invalidate(ctx context.Context, storeID string) error
}

// RepositoryStore reads secrets from store connections
type RepositoryStore struct {
	stores repository.StoreRepository
}

// NewRepositoryStore creates a secret store backed by the store repository
func NewRepositoryStore(stores repository.StoreRepository) *RepositoryStore {
	return &RepositoryStore{stores: stores}
}

func (s *RepositoryStore) Lookup(ctx context.Context, storeID string) (Secrets, error) {
	conn, err := s.stores.GetByID(ctx, storeID)
	if err != nil {
		return Secrets{}, err
	}
	if !conn.IsActive() {
		return Secrets{}, &errors.ErrNotFound{Resource: "store", ID: storeID}
	}

	return Secrets{
		StoreID:   conn.StoreID,
		Current:   conn.Secret,
		Previous:  conn.PreviousSecret,
		RotatedAt: conn.SecretRotatedAt,
	}, nil
}

// Invalidate is a no-op: every lookup reads the repository.
func (s *RepositoryStore) Invalidate(ctx context.Context, storeID string) error {
	return nil
}
