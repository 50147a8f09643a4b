// Package bootstrap holds the startup steps every binary repeats: environment and config
// loading, logger construction, signal handling and the worker metrics listener.
package bootstrap

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/angelmondragon/flashmart-backend/pkg/config"
	"github.com/angelmondragon/flashmart-backend/pkg/db"
	"github.com/angelmondragon/flashmart-backend/pkg/logger"
	"github.com/angelmondragon/flashmart-backend/pkg/metrics"
	"github.com/angelmondragon/flashmart-backend/pkg/redis"
)

const metricsShutdownTimeout = 5 * time.Second

// Load reads .env when present, parses the config and returns a logger tagged with service.
// A config failure is returned alongside a default logger so the caller can still report it.
func Load(service string) (*config.Config, *logger.Logger, error) {
	logg := logger.New(logger.Options{ServiceName: service})
	if err := godotenv.Load(); err != nil {
		logg.Debug(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		return nil, logg, err
	}
	cfg.Service.Kind = service
	logg = logger.New(logger.Options{
		ServiceName: service,
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
		Format:      cfg.App.LogFormat,
	})
	return cfg, logg, nil
}

// Must logs and exits when err is non-nil.
func Must(ctx context.Context, logg *logger.Logger, step string, err error) {
	if err == nil {
		return
	}
	logg.Error(ctx, "failed to "+step, err)
	os.Exit(1)
}

// Close returns a func suitable for defer that logs a failed close of resource.
func Close(logg *logger.Logger, resource string, closeFn func() error) func() {
	return func() {
		if err := closeFn(); err != nil {
			logg.Error(context.Background(), "error closing "+resource, err)
		}
	}
}

// SignalContext is cancelled on SIGINT or SIGTERM.
func SignalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// NewRegistry returns a registry carrying the Go runtime and process collectors.
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	return reg
}

// InstrumentStores registers sql pool stats for dbClient and, when given, redis pool stats.
func InstrumentStores(reg prometheus.Registerer, dbClient *db.Client, redisClient *redis.Client) error {
	sqlDB, err := dbClient.DB().DB()
	if err != nil {
		return err
	}
	if err := reg.Register(collectors.NewDBStatsCollector(sqlDB, "flashmart")); err != nil {
		return err
	}
	if redisClient == nil {
		return nil
	}
	return reg.Register(metrics.NewRedisPoolCollector(redisClient.PoolStats))
}

// ServeMetrics exposes g on addr/metrics until ctx is done. An empty addr disables the listener.
func ServeMetrics(ctx context.Context, logg *logger.Logger, addr string, g prometheus.Gatherer) {
	if addr == "" {
		return
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           metricsMux(g),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logg.Error(ctx, "metrics listener stopped", err)
		}
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), metricsShutdownTimeout)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	logg.Info(logg.WithField(ctx, "addr", addr), "metrics listener started")
}

func metricsMux(g prometheus.Gatherer) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", promhttp.HandlerFor(g, promhttp.HandlerOpts{}))
	mux.HandleFunc("GET /health/live", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	return mux
}
