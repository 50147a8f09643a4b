package main

import (
	"context"
	"errors"

	"github.com/angelmondragon/flashmart-backend/internal/cron"
	"github.com/angelmondragon/flashmart-backend/internal/deals"
	"github.com/angelmondragon/flashmart-backend/internal/escrow"
	"github.com/angelmondragon/flashmart-backend/internal/orders"
	product "github.com/angelmondragon/flashmart-backend/internal/products"
	"github.com/angelmondragon/flashmart-backend/pkg/bootstrap"
	"github.com/angelmondragon/flashmart-backend/pkg/config"
	"github.com/angelmondragon/flashmart-backend/pkg/db"
	"github.com/angelmondragon/flashmart-backend/pkg/logger"
	"github.com/angelmondragon/flashmart-backend/pkg/metrics"
	"github.com/angelmondragon/flashmart-backend/pkg/migrate"
	"github.com/angelmondragon/flashmart-backend/pkg/outbox"
	"github.com/angelmondragon/flashmart-backend/pkg/redis"
)

const serviceKind = "cron-worker"

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

	reg := bootstrap.NewRegistry()
	bootstrap.Must(boot, logg, "instrument stores", bootstrap.InstrumentStores(reg, dbClient, redisClient))
	lock, err := cron.NewRedisLock(redisClient, redisClient.LockKey(serviceKind+":"+lockEnv(cfg.App.Env)), cfg.Cron.LockTTL)
	bootstrap.Must(boot, logg, "create cron lock", err)

	jobs, err := buildRegistry(cfg, logg, dbClient, metrics.NewMarketplaceMetrics(reg))
	bootstrap.Must(boot, logg, "register cron jobs", err)

	service, err := cron.NewService(cron.ServiceParams{
		Logger:     logg,
		Registry:   jobs,
		Lock:       lock,
		Metrics:    metrics.NewCronJobMetrics(reg),
		Interval:   cfg.Cron.Interval,
		JobTimeout: cfg.Cron.JobTimeout,
	})
	bootstrap.Must(boot, logg, "create cron service", err)

	ctx, stop := bootstrap.SignalContext()
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":         cfg.App.Env,
		"serviceKind": cfg.Service.Kind,
		"jobs":        jobs.Names(),
	})
	bootstrap.ServeMetrics(ctx, logg, cfg.App.MetricsAddr, reg)
	logg.Info(ctx, "starting cron worker")

	if err := service.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		bootstrap.Must(ctx, logg, "keep cron worker running", err)
	}
	logg.Info(ctx, "cron worker shutting down gracefully")
}

func buildRegistry(cfg *config.Config, logg *logger.Logger, dbClient *db.Client, m *metrics.MarketplaceMetrics) (*cron.Registry, error) {
	gdb := dbClient.DB()
	outboxRepo := outbox.NewRepository(gdb)
	emitter := outbox.NewService(outboxRepo, logg)

	catalog, err := product.NewService(product.NewRepository(gdb))
	if err != nil {
		return nil, err
	}
	ledger, err := escrow.NewService(escrow.NewRepository(gdb), emitter, m, logg)
	if err != nil {
		return nil, err
	}
	dealSvc, err := deals.NewService(deals.NewRepository(gdb), dbClient, catalog, emitter, m, logg, cfg.Deals.MaxWindow)
	if err != nil {
		return nil, err
	}
	orderSvc, err := orders.NewService(orders.NewRepository(gdb), dbClient, catalog, dealSvc, ledger, emitter, logg, orders.Options{
		MaxQuantity: cfg.Orders.MaxQty,
		PendingTTL:  cfg.Orders.PendingTTL,
	})
	if err != nil {
		return nil, err
	}

	dealJob, err := cron.NewDealExpiryJob(logg, dealSvc)
	if err != nil {
		return nil, err
	}
	orderJob, err := cron.NewStaleOrderJob(logg, orderSvc)
	if err != nil {
		return nil, err
	}
	retentionJob, err := cron.NewOutboxRetentionJob(cron.OutboxRetentionJobParams{
		Logger:      logg,
		DB:          dbClient,
		Repository:  outboxRepo,
		Retention:   cfg.Outbox.Retention,
		MinAttempts: cfg.Outbox.MaxAttempts,
	})
	if err != nil {
		return nil, err
	}

	registry := cron.NewRegistry()
	for _, job := range []cron.Job{dealJob, orderJob, retentionJob} {
		if err := registry.Register(job); err != nil {
			return nil, err
		}
	}
	return registry, nil
}

func lockEnv(env string) string {
	if env == "" {
		return "local"
	}
	return env
}
