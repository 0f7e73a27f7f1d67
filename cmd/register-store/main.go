package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/jafarshop/webhookgw/internal/bootstrap"
	"github.com/jafarshop/webhookgw/internal/config"
	"github.com/jafarshop/webhookgw/internal/service"
	"github.com/jafarshop/webhookgw/internal/shopify"
)

func main() {
	secret := flag.String("secret", "", "webhook signing secret (defaults to SHOPIFY_API_SECRET)")
	autoSync := flag.Bool("auto-sync-orders", true, "import orders from this store")
	subscribe := flag.Bool("subscribe", false, "create webhook subscriptions through the Admin API")
	flag.Usage = func() {
		fmt.Println("Usage: go run cmd/register-store/main.go [flags] <shop-domain>")
		fmt.Println("Example: go run cmd/register-store/main.go -subscribe my-shop.myshopify.com")
		flag.PrintDefaults()
	}
	flag.Parse()

	if flag.NArg() < 1 {
		flag.Usage()
		os.Exit(1)
	}
	storeID := flag.Arg(0)

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	if cfg.Database.Driver == config.DriverMemory {
		fmt.Fprintln(os.Stderr, "register-store needs a persistent database; set DB_DRIVER=postgres")
		os.Exit(1)
	}

	// Initialize logger
	logger, _ := zap.NewDevelopment()
	defer logger.Sync()

	ctx := context.Background()

	repos, closeDB, err := bootstrap.OpenRepositories(ctx, cfg, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
	defer closeDB()

	store, closeRedis, err := bootstrap.NewSecretStore(ctx, cfg, repos, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
	defer closeRedis()

	if *secret == "" {
		*secret = cfg.Shopify.APISecret
	}

	input := service.RegisterStoreInput{
		StoreID:        storeID,
		Secret:         *secret,
		AutoSyncOrders: *autoSync,
	}

	var subscriber service.Subscriber
	if *subscribe {
		if cfg.Shopify.CallbackURL == "" {
			fmt.Fprintln(os.Stderr, "WEBHOOK_CALLBACK_URL is required with -subscribe")
			os.Exit(1)
		}
		shopCfg := cfg.Shopify
		shopCfg.ShopDomain = storeID
		subscriber = shopify.NewClient(shopCfg, logger)
		input.CallbackURL = cfg.Shopify.CallbackURL
	}

	stores := service.NewStoreService(repos, store, subscriber, logger)
	conn, err := stores.Register(ctx, input)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to register store: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Store registered successfully!\n\n")
	fmt.Printf("Store ID: %s\n", conn.StoreID)
	fmt.Printf("Auto sync orders: %t\n", conn.AutoSyncOrders)
	if input.CallbackURL != "" {
		fmt.Printf("Webhooks subscribed to: %s\n", input.CallbackURL)
	}
}
