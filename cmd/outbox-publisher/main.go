package main

import (
	"context"
	"errors"

	"github.com/angelmondragon/flashmart-backend/pkg/bootstrap"
	"github.com/angelmondragon/flashmart-backend/pkg/db"
	"github.com/angelmondragon/flashmart-backend/pkg/metrics"
	"github.com/angelmondragon/flashmart-backend/pkg/migrate"
	"github.com/angelmondragon/flashmart-backend/pkg/outbox"
	"github.com/angelmondragon/flashmart-backend/pkg/outbox/idempotency"
	"github.com/angelmondragon/flashmart-backend/pkg/outbox/registry"
	"github.com/angelmondragon/flashmart-backend/pkg/pubsub"
	"github.com/angelmondragon/flashmart-backend/pkg/redis"
)

const serviceKind = "outbox-publisher"

func main() {
	boot := context.Background()
	cfg, logg, err := bootstrap.Load(serviceKind)
	bootstrap.Must(boot, logg, "load config", err)

	dbClient, err := db.New(boot, cfg.DB, logg)
	bootstrap.Must(boot, logg, "bootstrap database", err)
	defer bootstrap.Close(logg, "database", dbClient.Close)()
	bootstrap.Must(boot, logg, "run dev migrations", migrate.MaybeRunDev(boot, cfg, logg, dbClient))

	pubsubClient, err := pubsub.NewClient(boot, cfg.GCP, cfg.PubSub, logg)
	bootstrap.Must(boot, logg, "bootstrap pubsub", err)
	defer bootstrap.Close(logg, "pubsub client", pubsubClient.Close)()

	redisClient, err := redis.New(boot, cfg.Redis, logg)
	bootstrap.Must(boot, logg, "bootstrap redis", err)
	defer bootstrap.Close(logg, "redis", redisClient.Close)()

	guard, err := idempotency.NewManager(redisClient, cfg.Outbox.DedupeTTL)
	bootstrap.Must(boot, logg, "create delivery guard", err)
	eventRegistry, err := registry.NewEventRegistry(cfg.PubSub)
	bootstrap.Must(boot, logg, "build event registry", err)

	reg := bootstrap.NewRegistry()
	bootstrap.Must(boot, logg, "instrument stores", bootstrap.InstrumentStores(reg, dbClient, redisClient))
	gdb := dbClient.DB()
	service, err := NewService(ServiceParams{
		Config:        cfg,
		Logger:        logg,
		DB:            dbClient,
		PubSub:        pubsubClient,
		Repository:    outbox.NewRepository(gdb),
		Registry:      eventRegistry,
		DLQRepository: outbox.NewDLQRepository(gdb),
		Idempotency:   guard,
		Metrics:       metrics.NewMarketplaceMetrics(reg),
	})
	bootstrap.Must(boot, logg, "create outbox publisher", err)

	ctx, stop := bootstrap.SignalContext()
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":         cfg.App.Env,
		"serviceKind": serviceKind,
	})
	bootstrap.ServeMetrics(ctx, logg, cfg.App.MetricsAddr, reg)
	logg.Info(ctx, "starting outbox publisher")

	if err := service.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		bootstrap.Must(ctx, logg, "keep outbox publisher running", err)
	}
	logg.Info(ctx, "outbox publisher shutting down gracefully")
}
