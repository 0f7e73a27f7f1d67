package webhook

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"strings"
	"time"

	"github.com/jafarshop/webhookgw/internal/secrets"
	"github.com/jafarshop/webhookgw/pkg/errors"
)

// Headers sent by Shopify with every webhook
const (
	HeaderHMAC        = "X-Shopify-Hmac-Sha256"
	HeaderShopDomain  = "X-Shopify-Shop-Domain"
	HeaderWebhookID   = "X-Shopify-Webhook-Id"
	HeaderTopic       = "X-Shopify-Topic"
	HeaderTriggeredAt = "X-Shopify-Triggered-At"
)

// Sign returns the base64 HMAC-SHA256 of body keyed by secret
func Sign(body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// VerifySignature checks signature against the raw body in constant time.
// The body must be the exact bytes received.
func VerifySignature(body []byte, secret, signature string) bool {
	if secret == "" || signature == "" {
		return false
	}
	given, err := base64.StdEncoding.DecodeString(strings.TrimSpace(signature))
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hmac.Equal(mac.Sum(nil), given)
}

// Verifier authenticates deliveries against the claimed store's secrets
type Verifier struct {
	secrets secrets.Store
	grace   time.Duration
	now     func() time.Time
}

// NewVerifier creates a verifier; grace is how long a rotated-out secret
// keeps verifying.
func NewVerifier(store secrets.Store, grace time.Duration) *Verifier {
	return &Verifier{
		secrets: store,
		grace:   grace,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Verify returns ErrUnauthorized when the store is unknown or the
// signature does not match; both cases are indistinguishable to the caller.
// Secret store failures are returned as transient.
func (v *Verifier) Verify(ctx context.Context, storeID string, body []byte, signature string) error {
	keys, err := v.secrets.Lookup(ctx, storeID)
	if err != nil {
		if errors.IsNotFound(err) {
			return &errors.ErrUnauthorized{Message: "unknown store"}
		}
		return errors.Transient("lookup secret", err)
	}

	for _, secret := range keys.Candidates(v.now(), v.grace) {
		if VerifySignature(body, secret, signature) {
			return nil
		}
	}

	return &errors.ErrUnauthorized{Message: "signature mismatch"}
}
