package main

import (
	"context"
	"errors"

	"github.com/angelmondragon/flashmart-backend/internal/notifications"
	"github.com/angelmondragon/flashmart-backend/internal/orders"
	"github.com/angelmondragon/flashmart-backend/pkg/bootstrap"
	"github.com/angelmondragon/flashmart-backend/pkg/db"
	"github.com/angelmondragon/flashmart-backend/pkg/migrate"
	"github.com/angelmondragon/flashmart-backend/pkg/outbox/idempotency"
	"github.com/angelmondragon/flashmart-backend/pkg/pubsub"
	"github.com/angelmondragon/flashmart-backend/pkg/redis"
)

const serviceKind = "worker"

func main() {
	boot := context.Background()
	cfg, logg, err := bootstrap.Load(serviceKind)
	bootstrap.Must(boot, logg, "load config", err)

	dbClient, err := db.New(boot, cfg.DB, logg)
	bootstrap.Must(boot, logg, "bootstrap database", err)
	defer bootstrap.Close(logg, "database", dbClient.Close)()
	bootstrap.Must(boot, logg, "run dev migrations", migrate.MaybeRunDev(boot, cfg, logg, dbClient))

	redisClient, err := redis.New(boot, cfg.Redis, logg)
	bootstrap.Must(boot, logg, "bootstrap redis", err)
	defer bootstrap.Close(logg, "redis", redisClient.Close)()

	pubsubClient, err := pubsub.NewClient(boot, cfg.GCP, cfg.PubSub, logg)
	bootstrap.Must(boot, logg, "bootstrap pubsub", err)
	defer bootstrap.Close(logg, "pubsub client", pubsubClient.Close)()

	subscription := pubsubClient.OrdersSubscription()
	if subscription == nil {
		bootstrap.Must(boot, logg, "resolve orders subscription", errors.New("FLASHMART_PUBSUB_ORDERS_SUBSCRIPTION is empty"))
	}

	guard, err := idempotency.NewManager(redisClient, cfg.Outbox.DedupeTTL)
	bootstrap.Must(boot, logg, "create idempotency manager", err)

	reg := bootstrap.NewRegistry()
	bootstrap.Must(boot, logg, "instrument stores", bootstrap.InstrumentStores(reg, dbClient, redisClient))

	gdb := dbClient.DB()
	notificationConsumer, err := notifications.NewConsumer(
		notifications.NewRepository(gdb),
		orders.NewRepository(gdb),
		subscription,
		guard,
		logg,
	)
	bootstrap.Must(boot, logg, "create notification consumer", err)

	service, err := NewService(ServiceParams{
		Config:               cfg,
		Logger:               logg,
		DB:                   dbClient,
		Redis:                redisClient,
		PubSub:               pubsubClient,
		NotificationConsumer: notificationConsumer,
	})
	bootstrap.Must(boot, logg, "create worker service", err)

	ctx, stop := bootstrap.SignalContext()
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":          cfg.App.Env,
		"serviceKind":  serviceKind,
		"subscription": cfg.PubSub.OrdersSubscription,
	})
	bootstrap.ServeMetrics(ctx, logg, cfg.App.MetricsAddr, reg)
	logg.Info(ctx, "starting worker")

	if err := service.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		bootstrap.Must(ctx, logg, "keep worker running", err)
	}
	logg.Info(ctx, "worker shutting down gracefully")
}
