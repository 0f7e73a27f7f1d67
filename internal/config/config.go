package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Port        string
	Environment string
	Database    DatabaseConfig
	Redis       RedisConfig
	Kafka       KafkaConfig
	Shopify     ShopifyConfig
	Webhook     WebhookConfig
	API         APIConfig
	LogLevel    string
}

type DatabaseConfig struct {
	Driver       string
	Host         string
	Port         string
	User         string
	Password     string
	DBName       string
	SSLMode      string
	MaxOpenConns int
	AutoMigrate  bool
}

type RedisConfig struct {
	URL            string
	SecretCacheTTL time.Duration
}

type KafkaConfig struct {
	Brokers []string
	Topic   string
}

type ShopifyConfig struct {
	ShopDomain  string
	AccessToken string
	APISecret   string
	CallbackURL string
}

type WebhookConfig struct {
	PersistenceTimeout  time.Duration
	ClaimLease          time.Duration
	DeliveryRetention   time.Duration
	SecretRotationGrace time.Duration
	MaxBodyBytes        int64
}

type APIConfig struct {
	AdminKeyHash string
}

const (
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

func Load() (*Config, error) {
	viper.SetConfigType("env")
	viper.SetConfigName(".env")
	viper.AddConfigPath(".")
	viper.AddConfigPath("..")
	viper.AddConfigPath("../..")

	// Set defaults
	viper.SetDefault("PORT", "8080")
	viper.SetDefault("ENVIRONMENT", "development")
	viper.SetDefault("DB_PORT", "5432")
	viper.SetDefault("DB_SSLMODE", "disable")
	viper.SetDefault("LOG_LEVEL", "info")

	// Read from environment variables
	viper.AutomaticEnv()

	// Try to read .env file (optional)
	if err := viper.ReadInConfig(); err != nil {
		// It's okay if .env doesn't exist, we'll use env vars
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	cfg := &Config{
		Port:        getEnvOrViper("PORT", "8080"),
		Environment: getEnvOrViper("ENVIRONMENT", "development"),
		Database: DatabaseConfig{
			Driver:   strings.ToLower(getEnvOrViper("DB_DRIVER", DriverPostgres)),
			Host:     getEnvOrViper("DB_HOST", "localhost"),
			Port:     getEnvOrViper("DB_PORT", "5432"),
			User:     getEnvOrViper("DB_USER", "postgres"),
			Password: getEnvOrViper("DB_PASSWORD", "postgres"),
			DBName:   getEnvOrViper("DB_NAME", "webhookgw"),
			SSLMode:  getEnvOrViper("DB_SSLMODE", "disable"),
		},
		Redis: RedisConfig{
			URL: getEnvOrViper("REDIS_URL", ""),
		},
		Kafka: KafkaConfig{
			Brokers: splitList(getEnvOrViper("KAFKA_BROKERS", "")),
			Topic:   getEnvOrViper("KAFKA_TOPIC", "shop.webhooks.handled"),
		},
		Shopify: ShopifyConfig{
			ShopDomain:  getEnvOrViper("SHOPIFY_SHOP_DOMAIN", ""),
			AccessToken: getEnvOrViper("SHOPIFY_ACCESS_TOKEN", ""),
			APISecret:   getEnvOrViper("SHOPIFY_API_SECRET", ""),
			CallbackURL: getEnvOrViper("WEBHOOK_CALLBACK_URL", ""),
		},
		API: APIConfig{
			AdminKeyHash: getEnvOrViper("ADMIN_API_KEY_HASH", ""),
		},
		LogLevel: getEnvOrViper("LOG_LEVEL", "info"),
	}

	var err error
	if cfg.Database.MaxOpenConns, err = getInt("DB_MAX_OPEN_CONNS", 20); err != nil {
		return nil, err
	}
	if cfg.Database.AutoMigrate, err = getBool("DB_AUTO_MIGRATE", true); err != nil {
		return nil, err
	}
	if cfg.Redis.SecretCacheTTL, err = getDuration("SECRET_CACHE_TTL", 5*time.Minute); err != nil {
		return nil, err
	}
	if cfg.Webhook.PersistenceTimeout, err = getDuration("PERSISTENCE_TIMEOUT", 5*time.Second); err != nil {
		return nil, err
	}
	if cfg.Webhook.ClaimLease, err = getDuration("CLAIM_LEASE", time.Minute); err != nil {
		return nil, err
	}
	if cfg.Webhook.DeliveryRetention, err = getDuration("DELIVERY_RETENTION", 30*24*time.Hour); err != nil {
		return nil, err
	}
	if cfg.Webhook.SecretRotationGrace, err = getDuration("SECRET_ROTATION_GRACE", 24*time.Hour); err != nil {
		return nil, err
	}
	maxBody, err := getInt("MAX_BODY_BYTES", 5<<20)
	if err != nil {
		return nil, err
	}
	cfg.Webhook.MaxBodyBytes = int64(maxBody)

	// Validate required fields
	if cfg.Database.Driver != DriverPostgres && cfg.Database.Driver != DriverMemory {
		return nil, fmt.Errorf("DB_DRIVER must be %q or %q", DriverPostgres, DriverMemory)
	}
	if cfg.Webhook.PersistenceTimeout <= 0 {
		return nil, fmt.Errorf("PERSISTENCE_TIMEOUT must be positive")
	}
	if cfg.Webhook.MaxBodyBytes <= 0 {
		return nil, fmt.Errorf("MAX_BODY_BYTES must be positive")
	}

	return cfg, nil
}

func getEnvOrViper(key, defaultValue string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	if viper.IsSet(key) {
		return viper.GetString(key)
	}
	return defaultValue
}

func getDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	raw := getEnvOrViper(key, "")
	if raw == "" {
		return defaultValue, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}

func getInt(key string, defaultValue int) (int, error) {
	raw := getEnvOrViper(key, "")
	if raw == "" {
		return defaultValue, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}

func getBool(key string, defaultValue bool) (bool, error) {
	raw := getEnvOrViper(key, "")
	if raw == "" {
		return defaultValue, nil
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("invalid %s: %w", key, err)
	}
	return b, nil
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
