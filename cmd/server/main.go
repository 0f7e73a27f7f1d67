package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/jafarshop/webhookgw/internal/api"
	"github.com/jafarshop/webhookgw/internal/bootstrap"
	"github.com/jafarshop/webhookgw/internal/config"
	"github.com/jafarshop/webhookgw/internal/logger"
	"github.com/jafarshop/webhookgw/internal/service"
	"github.com/jafarshop/webhookgw/internal/shopify"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log, err := logger.New(cfg.Environment, cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap.Open(ctx, cfg, log)
	if err != nil {
		log.Fatal("Failed to start", zap.Error(err))
	}
	defer app.Close()

	var subscriber service.Subscriber
	if cfg.Shopify.ShopDomain != "" && cfg.Shopify.AccessToken != "" {
		subscriber = shopify.NewClient(cfg.Shopify, log)
	}
	stores := service.NewStoreService(app.Repos, app.Secrets, subscriber, log)

	router := api.NewRouter(cfg, api.Dependencies{
		Repos:   app.Repos,
		Gateway: app.Gateway,
		Guard:   app.Guard,
		Stores:  stores,
	}, log)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info("Webhook gateway listening",
			zap.String("addr", srv.Addr),
			zap.String("environment", cfg.Environment),
			zap.String("db_driver", cfg.Database.Driver),
			zap.Int("topics", len(app.Dispatcher.Topics())),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("Server stopped unexpectedly", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	log.Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("Graceful shutdown failed", zap.Error(err))
	}
}
