package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/jafarshop/webhookgw/internal/bootstrap"
	"github.com/jafarshop/webhookgw/internal/config"
	"github.com/jafarshop/webhookgw/internal/webhook"
)

func main() {
	retention := flag.Duration("retention", 0, "override DELIVERY_RETENTION, e.g. 168h")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	if *retention > 0 {
		cfg.Webhook.DeliveryRetention = *retention
	}

	// Initialize logger
	logger, _ := zap.NewDevelopment()
	defer logger.Sync()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	repos, closeDB, err := bootstrap.OpenRepositories(ctx, cfg, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
	defer closeDB()

	guard := webhook.NewGuard(repos.Delivery, cfg.Webhook.ClaimLease, cfg.Webhook.DeliveryRetention)
	n, err := guard.Prune(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to prune deliveries: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Deleted %d delivery records older than %s\n", n, guard.Retention())
}
