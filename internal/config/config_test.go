package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("DB_DRIVER", "memory")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, DriverMemory, cfg.Database.Driver)
	assert.Equal(t, 5*time.Second, cfg.Webhook.PersistenceTimeout)
	assert.Equal(t, time.Minute, cfg.Webhook.ClaimLease)
	assert.Equal(t, 30*24*time.Hour, cfg.Webhook.DeliveryRetention)
	assert.Equal(t, 24*time.Hour, cfg.Webhook.SecretRotationGrace)
	assert.Equal(t, int64(5<<20), cfg.Webhook.MaxBodyBytes)
	assert.Equal(t, 5*time.Minute, cfg.Redis.SecretCacheTTL)
	assert.Equal(t, "shop.webhooks.handled", cfg.Kafka.Topic)
	assert.Empty(t, cfg.Kafka.Brokers)
	assert.True(t, cfg.Database.AutoMigrate)
}

func TestLoad_FromEnvironment(t *testing.T) {
	t.Setenv("DB_DRIVER", "Postgres")
	t.Setenv("PORT", "9090")
	t.Setenv("PERSISTENCE_TIMEOUT", "2s")
	t.Setenv("CLAIM_LEASE", "30s")
	t.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092,")
	t.Setenv("MAX_BODY_BYTES", "1024")
	t.Setenv("DB_AUTO_MIGRATE", "false")
	t.Setenv("ADMIN_API_KEY_HASH", "$2a$10$hash")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, DriverPostgres, cfg.Database.Driver)
	assert.Equal(t, 2*time.Second, cfg.Webhook.PersistenceTimeout)
	assert.Equal(t, 30*time.Second, cfg.Webhook.ClaimLease)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, int64(1024), cfg.Webhook.MaxBodyBytes)
	assert.False(t, cfg.Database.AutoMigrate)
	assert.Equal(t, "$2a$10$hash", cfg.API.AdminKeyHash)
}

func TestLoad_Invalid(t *testing.T) {
	testCases := []struct {
		name  string
		key   string
		value string
	}{
		{name: "unknown_driver", key: "DB_DRIVER", value: "mysql"},
		{name: "bad_duration", key: "CLAIM_LEASE", value: "soon"},
		{name: "zero_timeout", key: "PERSISTENCE_TIMEOUT", value: "0s"},
		{name: "bad_int", key: "MAX_BODY_BYTES", value: "lots"},
		{name: "negative_body", key: "MAX_BODY_BYTES", value: "-1"},
		{name: "bad_bool", key: "DB_AUTO_MIGRATE", value: "maybe"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Setenv("DB_DRIVER", "memory")
			t.Setenv(tc.key, tc.value)

			_, err := Load()
			assert.Error(t, err)
		})
	}
}
