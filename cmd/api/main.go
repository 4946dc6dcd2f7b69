package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/hogansalley/storefront/api/controllers"
	"github.com/hogansalley/storefront/api/routes"
	"github.com/hogansalley/storefront/internal/cart"
	"github.com/hogansalley/storefront/internal/inventory"
	"github.com/hogansalley/storefront/pkg/config"
	"github.com/hogansalley/storefront/pkg/db"
	"github.com/hogansalley/storefront/pkg/instance"
	"github.com/hogansalley/storefront/pkg/kvstore"
	"github.com/hogansalley/storefront/pkg/logger"
	"github.com/hogansalley/storefront/pkg/metrics"
	"github.com/hogansalley/storefront/pkg/migrate"
	"github.com/hogansalley/storefront/pkg/pubsub"
	"github.com/hogansalley/storefront/pkg/realtime"
	"github.com/hogansalley/storefront/pkg/redis"
)

func main() {
	logg := logger.New(logger.Options{ServiceName: "api"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: "api",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	pingers := map[string]controllers.Pinger{}

	var redisClient *redis.Client
	if cfg.Redis.Configured() {
		redisClient, err = redis.New(ctx, cfg.Redis, logg)
		requireResource(ctx, logg, "redis", err)
		defer func() {
			if err := redisClient.Close(); err != nil {
				logg.Error(context.Background(), "error closing redis", err)
			}
		}()
		pingers["redis"] = redisClient
	}

	var dbClient *db.Client
	if cfg.Cart.StorageDriver == config.StorageDriverSQL {
		dbClient, err = db.New(ctx, cfg.DB, logg)
		requireResource(ctx, logg, "database", err)
		defer func() {
			if err := dbClient.Close(); err != nil {
				logg.Error(context.Background(), "error closing database", err)
			}
		}()
		pingers["db"] = dbClient

		if err := migrate.MaybeAutoRun(ctx, cfg, logg, dbClient); err != nil {
			logg.Error(ctx, "failed to run migrations", err)
			os.Exit(1)
		}
	}

	kv, err := kvstore.New(cfg.Cart.StorageDriver, redisClient, dbClient)
	requireResource(ctx, logg, "cart storage", err)

	cartStore, err := cart.NewStore(ctx, kv, cart.Options{
		StorageKey:    cfg.Cart.StorageKey,
		SchemaVersion: cfg.Cart.SchemaVersion,
		MaxQuantity:   cfg.Cart.MaxQuantity,
		Logger:        logg,
		Metrics:       metrics.NewCartMetrics(registry),
	})
	requireResource(ctx, logg, "cart store", err)

	transport, publisher, closeTransport, err := buildRealtime(ctx, cfg, logg, redisClient)
	requireResource(ctx, logg, "realtime transport", err)
	defer closeTransport()
	if p, ok := transport.(controllers.Pinger); ok && cfg.Realtime.Driver == config.RealtimeDriverPubSub {
		pingers["pubsub"] = p
	}

	inventorySvc := inventory.NewService(
		inventory.NewHTTPFetcher(cfg.Inventory.BaseURL, cfg.Inventory.RequestTimeout),
		transport,
		inventory.Options{
			CacheTTL:    cfg.Inventory.CacheTTL,
			OpenTimeout: cfg.Inventory.OpenTimeout,
			Table:       cfg.Inventory.Table,
			Logger:      logg,
			Metrics:     metrics.NewInventoryMetrics(registry),
		},
	)
	defer func() {
		if err := inventorySvc.Destroy(); err != nil {
			logg.Error(context.Background(), "error closing inventory subscriptions", err)
		}
	}()

	addr := ":" + cfg.App.Port
	logCtx := logg.WithFields(ctx, map[string]any{
		"env":              cfg.App.Env,
		"addr":             addr,
		"instance":         instance.GetID(),
		"cart_storage":     cfg.Cart.StorageDriver,
		"realtime_driver":  cfg.Realtime.Driver,
		"inventory_source": cfg.Inventory.BaseURL,
	})
	logg.Info(logCtx, "starting api server")

	server := newServer(ctx, addr, routes.NewRouter(cfg, logg, routes.Deps{
		Cart:      cartStore,
		Inventory: inventorySvc,
		Publisher: publisher,
		Redis:     redisClient,
		Registry:  registry,
		Pingers:   pingers,
	}))

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- server.ListenAndServe()
	}()

	select {
	case err := <-serveErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logg.Error(logCtx, "api server stopped unexpectedly", err)
			os.Exit(1)
		}
	case <-ctx.Done():
		logg.Info(logCtx, "shutting down api server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.App.ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logg.Error(logCtx, "graceful shutdown failed", err)
		}
	}
}

// newServer derives every request context from ctx, so long-lived event
// streams end when ctx is cancelled instead of holding Shutdown open.
func newServer(ctx context.Context, addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:        addr,
		Handler:     handler,
		BaseContext: func(net.Listener) context.Context { return ctx },
	}
}

// buildRealtime selects the push transport and the publisher behind the
// admin event route. The none driver yields nil for both.
func buildRealtime(ctx context.Context, cfg *config.Config, logg *logger.Logger, redisClient *redis.Client) (realtime.Transport, realtime.Publisher, func(), error) {
	noop := func() {}
	switch cfg.Realtime.Driver {
	case config.RealtimeDriverMemory:
		broker := realtime.NewMemory()
		return broker, broker.Publisher(), func() { _ = broker.Close() }, nil
	case config.RealtimeDriverRedis:
		if redisClient == nil {
			return nil, nil, noop, errors.New("redis realtime driver requires a redis connection")
		}
		redisClient.WithChannelPrefix(cfg.Realtime.ChannelPrefix)
		return redisClient, redisClient, noop, nil
	case config.RealtimeDriverPubSub:
		client, err := pubsub.NewClient(ctx, cfg.GCP, cfg.PubSub, logg)
		if err != nil {
			return nil, nil, noop, err
		}
		return client, client, func() {
			if err := client.Close(); err != nil {
				logg.Error(context.Background(), "error closing pubsub", err)
			}
		}, nil
	default:
		return nil, nil, noop, nil
	}
}

func requireResource(ctx context.Context, logg *logger.Logger, resource string, err error) {
	if err == nil {
		return
	}
	logg.Error(ctx, "resource not working: "+resource, err)
	os.Exit(1)
}
