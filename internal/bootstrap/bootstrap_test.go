package bootstrap

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/jafarshop/webhookgw/internal/config"
	"github.com/jafarshop/webhookgw/internal/domain"
	"github.com/jafarshop/webhookgw/internal/events"
	"github.com/jafarshop/webhookgw/internal/secrets"
)

func memoryConfig() *config.Config {
	return &config.Config{
		Database: config.DatabaseConfig{Driver: config.DriverMemory},
		Kafka:    config.KafkaConfig{Topic: "shop.webhooks.handled"},
		Webhook: config.WebhookConfig{
			PersistenceTimeout:  time.Second,
			ClaimLease:          time.Minute,
			DeliveryRetention:   time.Hour,
			SecretRotationGrace: time.Hour,
			MaxBodyBytes:        1 << 20,
		},
	}
}

func TestOpen_Memory(t *testing.T) {
	app, err := Open(context.Background(), memoryConfig(), zap.NewNop())
	require.NoError(t, err)
	defer app.Close()

	assert.ElementsMatch(t, domain.Topics, app.Dispatcher.Topics())
	assert.IsType(t, events.NoopPublisher{}, app.Publisher)
	assert.IsType(t, &secrets.RepositoryStore{}, app.Secrets)
	assert.NotNil(t, app.Gateway)
	assert.Equal(t, time.Hour, app.Guard.Retention())
}

func TestNewPublisher(t *testing.T) {
	cfg := memoryConfig()

	p, err := NewPublisher(cfg, zap.NewNop())
	require.NoError(t, err)
	assert.IsType(t, events.NoopPublisher{}, p)

	cfg.Kafka.Brokers = []string{"localhost:9092"}
	p, err = NewPublisher(cfg, zap.NewNop())
	require.NoError(t, err)
	assert.IsType(t, &events.KafkaPublisher{}, p)
	assert.NoError(t, p.Close())

	cfg.Kafka.Topic = ""
	_, err = NewPublisher(cfg, zap.NewNop())
	assert.Error(t, err)
}
