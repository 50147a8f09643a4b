package routes

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/angelmondragon/flashmart-backend/api/controllers"
	"github.com/angelmondragon/flashmart-backend/api/middleware"
	"github.com/angelmondragon/flashmart-backend/internal/checkout"
	"github.com/angelmondragon/flashmart-backend/internal/deals"
	"github.com/angelmondragon/flashmart-backend/internal/delivery"
	"github.com/angelmondragon/flashmart-backend/internal/disputes"
	"github.com/angelmondragon/flashmart-backend/internal/notifications"
	"github.com/angelmondragon/flashmart-backend/internal/orders"
	"github.com/angelmondragon/flashmart-backend/pkg/config"
	"github.com/angelmondragon/flashmart-backend/pkg/enums"
	"github.com/angelmondragon/flashmart-backend/pkg/logger"
	pkgredis "github.com/angelmondragon/flashmart-backend/pkg/redis"
)

type redisClient interface {
	pkgredis.IdempotencyStore
	controllers.Pinger
	FixedWindowAllow(ctx context.Context, scope string, limit int64, window time.Duration) (bool, int64, error)
}

// Services bundles everything the HTTP surface calls into.
type Services struct {
	Orders        orders.Service
	Checkout      checkout.Service
	Deals         deals.Service
	Delivery      delivery.Service
	Disputes      disputes.Service
	Notifications notifications.Service
	DLQ           controllers.DLQReader
}

func NewRouter(
	cfg *config.Config,
	logg *logger.Logger,
	dbP controllers.Pinger,
	redis redisClient,
	gatherer prometheus.Gatherer,
	svc Services,
) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
		middleware.CORS(cfg.App.CORSOrigins),
	)

	claimPolicy := middleware.NewRateLimitPolicy("claim", cfg.RateLimit.Window, cfg.RateLimit.ClaimLimit)
	checkoutPolicy := middleware.NewRateLimitPolicy("checkout", cfg.RateLimit.Window, cfg.RateLimit.CheckoutLimit)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, map[string]controllers.Pinger{
			"db":    dbP,
			"redis": redis,
		}))
	})
	if gatherer != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWT, logg))
		r.Use(middleware.Idempotency(redis, logg))

		r.Route("/deals", func(r chi.Router) {
			r.Get("/", controllers.ListDeals(svc.Deals, logg))
			r.Get("/{dealId}", controllers.GetDeal(svc.Deals, logg))
		})

		r.Route("/orders", func(r chi.Router) {
			r.Get("/", controllers.ListOrders(svc.Orders, logg))
			r.Get("/{orderNumber}", controllers.GetOrder(svc.Orders, logg))
			r.Get("/{orderNumber}/dispute", controllers.GetDispute(svc.Disputes, logg))

			r.Group(func(r chi.Router) {
				r.Use(middleware.RequireRole(logg, enums.MemberRoleBuyer))
				r.Post("/", controllers.CreateOrder(svc.Orders, logg))
				r.Post("/{orderNumber}/confirm", controllers.ConfirmReceived(svc.Delivery, logg))
				r.Post("/{orderNumber}/issues", controllers.ReportIssue(svc.Disputes, logg))
			})
		})

		r.Route("/notifications", func(r chi.Router) {
			r.Get("/", controllers.ListNotifications(svc.Notifications, logg))
			r.Get("/unread-count", controllers.UnreadNotificationCount(svc.Notifications, logg))
			r.Post("/read-all", controllers.MarkAllNotificationsRead(svc.Notifications, logg))
			r.Post("/{notificationId}/read", controllers.MarkNotificationRead(svc.Notifications, logg))
		})

		r.Route("/checkout", func(r chi.Router) {
			r.Use(middleware.RequireRole(logg, enums.MemberRoleBuyer))
			r.With(middleware.RateLimit(checkoutPolicy, redis, logg)).Post("/", controllers.Checkout(svc.Checkout, logg))
			r.Get("/{checkoutGroupId}", controllers.GetCheckout(svc.Checkout, logg))
		})

		r.Route("/seller", func(r chi.Router) {
			r.Use(middleware.RequireRole(logg, enums.MemberRoleSeller))
			r.Post("/orders/{orderNumber}/status", controllers.UpdateOrderStatus(svc.Orders, logg))
			r.Post("/orders/{orderNumber}/ready-for-pickup", controllers.MarkReadyForPickup(svc.Delivery, logg))
			r.Post("/deals", controllers.CreateDeal(svc.Deals, logg))
			r.Patch("/deals/{dealId}", controllers.UpdateDeal(svc.Deals, logg))
			r.Delete("/deals/{dealId}", controllers.DeleteDeal(svc.Deals, logg))
		})

		r.Route("/agent/orders", func(r chi.Router) {
			r.Use(middleware.RequireRole(logg, enums.MemberRoleAgent))
			r.Get("/claimable", controllers.ClaimableOrders(svc.Delivery, logg))
			r.With(middleware.RateLimit(claimPolicy, redis, logg)).Post("/{orderNumber}/claim", controllers.ClaimOrder(svc.Delivery, logg))
			r.Post("/{orderNumber}/proof", controllers.UploadDeliveryProof(svc.Delivery, logg))
		})

		r.Route("/admin", func(r chi.Router) {
			r.Use(middleware.RequireRole(logg, enums.MemberRoleAdmin))
			r.Post("/orders/{orderNumber}/resolve", controllers.ResolveDispute(svc.Disputes, logg))
			r.Get("/disputes", controllers.ListOpenDisputes(svc.Disputes, logg))
			r.Get("/outbox/dlq", controllers.AdminOutboxDLQ(svc.DLQ, logg))
			r.Get("/outbox/dlq/{eventId}", controllers.AdminOutboxDLQEntry(svc.DLQ, logg))
		})
	})

	return r
}
