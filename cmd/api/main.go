package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"time"

	"github.com/angelmondragon/flashmart-backend/api/routes"
	"github.com/angelmondragon/flashmart-backend/internal/checkout"
	"github.com/angelmondragon/flashmart-backend/internal/deals"
	"github.com/angelmondragon/flashmart-backend/internal/delivery"
	"github.com/angelmondragon/flashmart-backend/internal/disputes"
	"github.com/angelmondragon/flashmart-backend/internal/escrow"
	"github.com/angelmondragon/flashmart-backend/internal/notifications"
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

const shutdownTimeout = 15 * time.Second

func main() {
	boot := context.Background()
	cfg, logg, err := bootstrap.Load("api")
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
	services, err := buildServices(cfg, logg, dbClient, metrics.NewMarketplaceMetrics(reg))
	bootstrap.Must(boot, logg, "wire services", err)

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	addr := ":" + port
	id := os.Getenv("DYNO")
	if id == "" {
		id = "local"
	}

	ctx, stop := bootstrap.SignalContext()
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":      cfg.App.Env,
		"addr":     addr,
		"instance": id,
	})
	logg.Info(ctx, "starting api server")

	server := &http.Server{
		Addr:              addr,
		Handler:           routes.NewRouter(cfg, logg, dbClient, redisClient, reg, services),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			bootstrap.Must(ctx, logg, "keep api server running", err)
		}
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logg.Error(shutdownCtx, "api server shutdown failed", err)
		}
		logg.Info(shutdownCtx, "api server shut down gracefully")
	}
}

func buildServices(cfg *config.Config, logg *logger.Logger, dbClient *db.Client, m *metrics.MarketplaceMetrics) (routes.Services, error) {
	gdb := dbClient.DB()
	emitter := outbox.NewService(outbox.NewRepository(gdb), logg)

	catalog, err := product.NewService(product.NewRepository(gdb))
	if err != nil {
		return routes.Services{}, err
	}
	ledger, err := escrow.NewService(escrow.NewRepository(gdb), emitter, m, logg)
	if err != nil {
		return routes.Services{}, err
	}
	dealSvc, err := deals.NewService(deals.NewRepository(gdb), dbClient, catalog, emitter, m, logg, cfg.Deals.MaxWindow)
	if err != nil {
		return routes.Services{}, err
	}

	orderRepo := orders.NewRepository(gdb)
	orderSvc, err := orders.NewService(orderRepo, dbClient, catalog, dealSvc, ledger, emitter, logg, orders.Options{
		MaxQuantity: cfg.Orders.MaxQty,
		PendingTTL:  cfg.Orders.PendingTTL,
	})
	if err != nil {
		return routes.Services{}, err
	}
	deliverySvc, err := delivery.NewService(delivery.NewRepository(gdb), orderRepo, dbClient, ledger, emitter, m, logg, cfg.FeatureFlags.StrictSignatureImages)
	if err != nil {
		return routes.Services{}, err
	}
	disputeSvc, err := disputes.NewService(disputes.NewRepository(gdb), orderRepo, dbClient, ledger, catalog, dealSvc, emitter, logg)
	if err != nil {
		return routes.Services{}, err
	}
	checkoutSvc, err := checkout.NewService(dbClient, checkout.NewRepository(orderRepo), catalog, orderSvc, emitter, logg, cfg.Orders.MaxQty)
	if err != nil {
		return routes.Services{}, err
	}

	notificationSvc, err := notifications.NewService(notifications.NewRepository(gdb))
	if err != nil {
		return routes.Services{}, err
	}

	return routes.Services{
		Orders:        orderSvc,
		Checkout:      checkoutSvc,
		Deals:         dealSvc,
		Delivery:      deliverySvc,
		Disputes:      disputeSvc,
		Notifications: notificationSvc,
		DLQ:           outbox.NewDLQRepository(gdb),
	}, nil
}
