// Package bootstrap wires storage, secret lookup, event publishing and the
// webhook pipeline from configuration. Every command builds on it.
package bootstrap

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/jafarshop/webhookgw/internal/config"
	"github.com/jafarshop/webhookgw/internal/events"
	"github.com/jafarshop/webhookgw/internal/repository"
	"github.com/jafarshop/webhookgw/internal/repository/memory"
	"github.com/jafarshop/webhookgw/internal/repository/postgres"
	"github.com/jafarshop/webhookgw/internal/secrets"
	"github.com/jafarshop/webhookgw/internal/service"
	"github.com/jafarshop/webhookgw/internal/webhook"
)

// App holds every long-lived collaborator
type App struct {
	Repos      *repository.Repositories
	Secrets    secrets.Store
	Publisher  events.Publisher
	Guard      *webhook.Guard
	Dispatcher *webhook.Dispatcher
	Gateway    *webhook.Gateway
	Handlers   *service.WebhookHandlers

	closers []func() error
}

// OpenRepositories opens the configured storage driver, migrating the
// Postgres schema when enabled.
func OpenRepositories(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*repository.Repositories, func() error, error) {
	if cfg.Database.Driver == config.DriverMemory {
		logger.Warn("Using in-memory storage; state is lost on restart")
		return memory.NewRepositories(memory.NewDB()), func() error { return nil }, nil
	}

	db, err := postgres.NewConnection(cfg.Database)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if cfg.Database.AutoMigrate {
		if err := postgres.Migrate(ctx, db); err != nil {
			db.Close()
			return nil, nil, fmt.Errorf("failed to migrate database: %w", err)
		}
	}
	return postgres.NewRepositories(db, logger), db.Close, nil
}

// NewSecretStore returns the repository-backed secret store, cached in
// Redis when REDIS_URL is set.
func NewSecretStore(ctx context.Context, cfg *config.Config, repos *repository.Repositories, logger *zap.Logger) (secrets.Store, func() error, error) {
	var store secrets.Store = secrets.NewRepositoryStore(repos.Store)
	if cfg.Redis.URL == "" {
		return store, func() error { return nil }, nil
	}

	client, err := secrets.Connect(ctx, cfg.Redis.URL)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	logger.Info("Secret cache enabled", zap.Duration("ttl", cfg.Redis.SecretCacheTTL))
	return secrets.NewCachedStore(store, client, cfg.Redis.SecretCacheTTL, logger), client.Close, nil
}

// NewPublisher returns a Kafka publisher, or a no-op one when no brokers
// are configured.
func NewPublisher(cfg *config.Config, logger *zap.Logger) (events.Publisher, error) {
	if len(cfg.Kafka.Brokers) == 0 {
		return events.NoopPublisher{}, nil
	}
	p, err := events.NewKafkaPublisher(cfg.Kafka.Brokers, cfg.Kafka.Topic)
	if err != nil {
		return nil, err
	}
	logger.Info("Publishing delivery events",
		zap.Strings("brokers", cfg.Kafka.Brokers),
		zap.String("topic", cfg.Kafka.Topic),
	)
	return p, nil
}

// Build assembles the webhook pipeline over repos
func Build(cfg *config.Config, repos *repository.Repositories, store secrets.Store, publisher events.Publisher, logger *zap.Logger) (*App, error) {
	guard := webhook.NewGuard(repos.Delivery, cfg.Webhook.ClaimLease, cfg.Webhook.DeliveryRetention)
	dispatcher := webhook.NewDispatcher()
	handlers := service.NewWebhookHandlers(repos, store, logger)
	if err := handlers.Register(dispatcher); err != nil {
		return nil, err
	}

	verifier := webhook.NewVerifier(store, cfg.Webhook.SecretRotationGrace)
	gateway := webhook.NewGateway(verifier, guard, dispatcher, repos.Store, publisher, cfg.Webhook.PersistenceTimeout, logger)

	return &App{
		Repos:      repos,
		Secrets:    store,
		Publisher:  publisher,
		Guard:      guard,
		Dispatcher: dispatcher,
		Gateway:    gateway,
		Handlers:   handlers,
	}, nil
}

// Open builds the whole application from configuration
func Open(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*App, error) {
	repos, closeDB, err := OpenRepositories(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	store, closeRedis, err := NewSecretStore(ctx, cfg, repos, logger)
	if err != nil {
		closeDB()
		return nil, err
	}

	publisher, err := NewPublisher(cfg, logger)
	if err != nil {
		closeRedis()
		closeDB()
		return nil, err
	}

	app, err := Build(cfg, repos, store, publisher, logger)
	if err != nil {
		publisher.Close()
		closeRedis()
		closeDB()
		return nil, err
	}
	app.closers = []func() error{publisher.Close, closeRedis, closeDB}
	return app, nil
}

// Close releases every resource in reverse order of opening
func (a *App) Close() error {
	var first error
	for _, fn := range a.closers {
		if err := fn(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
