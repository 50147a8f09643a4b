package routes

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/flashmart-backend/internal/delivery"
	"github.com/angelmondragon/flashmart-backend/internal/orders"
	pkgAuth "github.com/angelmondragon/flashmart-backend/pkg/auth"
	"github.com/angelmondragon/flashmart-backend/pkg/config"
	"github.com/angelmondragon/flashmart-backend/pkg/enums"
	"github.com/angelmondragon/flashmart-backend/pkg/logger"
	"github.com/angelmondragon/flashmart-backend/pkg/metrics"
	"github.com/angelmondragon/flashmart-backend/pkg/pagination"
)

type stubPinger struct{}

func (stubPinger) Ping(context.Context) error { return nil }

type stubDelivery struct {
	delivery.Service
}

func (stubDelivery) ListClaimable(context.Context, pkgAuth.Principal, pagination.Params) (*pagination.Page[orders.OrderDTO], error) {
	return &pagination.Page[orders.OrderDTO]{Items: []orders.OrderDTO{}}, nil
}

func testConfig() *config.Config {
	return &config.Config{
		App: config.AppConfig{Env: "dev"},
		JWT: config.JWTConfig{Secret: "router-secret", Issuer: "flashmart-test", ExpirationMinutes: 30},
	}
}

func newTestRouter(t *testing.T, reg *prometheus.Registry) http.Handler {
	t.Helper()
	var gatherer prometheus.Gatherer
	if reg != nil {
		gatherer = reg
	}
	return NewRouter(testConfig(), logger.Nop(), stubPinger{}, nil, gatherer, Services{Delivery: stubDelivery{}})
}

func tokenFor(t *testing.T, role enums.MemberRole) string {
	t.Helper()
	codec, err := pkgAuth.NewTokenCodec(testConfig().JWT)
	require.NoError(t, err)
	token, err := codec.Mint(time.Now(), pkgAuth.AccessTokenPayload{UserID: uuid.New(), Role: role})
	require.NoError(t, err)
	return token
}

func do(t *testing.T, h http.Handler, method, path, token string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(`{}`))
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHealthLiveIsPublic(t *testing.T) {
	rec := do(t, newTestRouter(t, nil), http.MethodGet, "/health/live", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("X-Request-Id"))
}

func TestHealthReadyWithoutRedisStillChecksDB(t *testing.T) {
	rec := do(t, newTestRouter(t, nil), http.MethodGet, "/health/ready", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAPIRejectsMissingJWT(t *testing.T) {
	rec := do(t, newTestRouter(t, nil), http.MethodGet, "/api/v1/orders", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRoleGates(t *testing.T) {
	router := newTestRouter(t, nil)
	cases := []struct {
		name   string
		method string
		path   string
		role   enums.MemberRole
		want   int
	}{
		{"seller cannot place orders", http.MethodPost, "/api/v1/orders", enums.MemberRoleSeller, http.StatusForbidden},
		{"buyer cannot claim", http.MethodPost, "/api/v1/agent/orders/ORD-20260101-ABCDEFGH/claim", enums.MemberRoleBuyer, http.StatusForbidden},
		{"agent cannot resolve", http.MethodPost, "/api/v1/admin/orders/ORD-20260101-ABCDEFGH/resolve", enums.MemberRoleAgent, http.StatusForbidden},
		{"buyer cannot create deals", http.MethodPost, "/api/v1/seller/deals", enums.MemberRoleBuyer, http.StatusForbidden},
		{"agent cannot checkout", http.MethodPost, "/api/v1/checkout", enums.MemberRoleAgent, http.StatusForbidden},
		{"agent sees claimable queue", http.MethodGet, "/api/v1/agent/orders/claimable", enums.MemberRoleAgent, http.StatusOK},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := do(t, router, tc.method, tc.path, tokenFor(t, tc.role))
			assert.Equal(t, tc.want, rec.Code)
		})
	}
}

func TestUnwiredServiceReturnsInternalError(t *testing.T) {
	rec := do(t, newTestRouter(t, nil), http.MethodGet, "/api/v1/deals", tokenFor(t, enums.MemberRoleBuyer))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestMetricsEndpointServesRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.NewMarketplaceMetrics(reg)
	m.ObserveClaim("won")

	rec := do(t, newTestRouter(t, reg), http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "flashmart_")
}
