package middleware

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/flashmart-backend/pkg/auth"
	"github.com/angelmondragon/flashmart-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/flashmart-backend/pkg/errors"
)

type fakeStore struct {
	data map[string]string
}

func newFakeStore() *fakeStore {
	return &fakeStore{data: make(map[string]string)}
}

func (f *fakeStore) Get(_ context.Context, key string) (string, error) {
	if v, ok := f.data[key]; ok {
		return v, nil
	}
	return "", redis.Nil
}

func (f *fakeStore) SetNX(_ context.Context, key string, value any, _ time.Duration) (bool, error) {
	if _, ok := f.data[key]; ok {
		return false, nil
	}
	str, _ := value.(string)
	f.data[key] = str
	return true, nil
}

func (f *fakeStore) IdempotencyKey(scope, id string) string {
	return fmt.Sprintf("fake:%s:%s", scope, id)
}

func (f *fakeStore) Del(_ context.Context, keys ...string) error {
	for _, k := range keys {
		delete(f.data, k)
	}
	return nil
}

func buyerRequest(method, url, body string) *http.Request {
	req := httptest.NewRequest(method, url, strings.NewReader(body))
	ctx := WithPrincipal(req.Context(), auth.Principal{UserID: uuid.New(), Role: enums.MemberRoleBuyer})
	return req.WithContext(ctx)
}

func TestRouteTTLSelection(t *testing.T) {
	tests := []struct {
		name   string
		method string
		path   string
		want   time.Duration
		ok     bool
	}{
		{"checkout", http.MethodPost, "/api/v1/checkout", criticalIdempotencyTTL, true},
		{"create order", http.MethodPost, "/api/v1/orders", criticalIdempotencyTTL, true},
		{"confirm", http.MethodPost, "/api/v1/orders/ORD-20260101-ABCDEFGH/confirm", criticalIdempotencyTTL, true},
		{"admin resolve", http.MethodPost, "/api/v1/admin/orders/ORD-20260101-ABCDEFGH/resolve", criticalIdempotencyTTL, true},
		{"deal edit", http.MethodPatch, "/api/v1/seller/deals/" + uuid.NewString(), defaultIdempotencyTTL, true},
		{"deal edit nested path", http.MethodPatch, "/api/v1/seller/deals/a/b", 0, false},
		{"agent claim", http.MethodPost, "/api/v1/agent/orders/ORD-20260101-ABCDEFGH/claim", defaultIdempotencyTTL, true},
		{"reads are skipped", http.MethodGet, "/api/v1/orders", 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ttl, ok := routeTTL(tt.method, tt.path)
			require.Equal(t, tt.ok, ok)
			if ok {
				assert.Equal(t, tt.want, ttl)
			}
		})
	}
}

func TestIdempotencyMiddlewareRequiresHeader(t *testing.T) {
	mw := Idempotency(newFakeStore(), nil)
	handlerCalled := false
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handlerCalled = true
		w.WriteHeader(http.StatusCreated)
	})

	resp := httptest.NewRecorder()
	mw(handler).ServeHTTP(resp, buyerRequest(http.MethodPost, "/api/v1/checkout", `{"lines":[]}`))

	assert.Equal(t, http.StatusBadRequest, resp.Code)
	assert.False(t, handlerCalled)
}

func TestIdempotencyMiddlewareReplaysStoredResponse(t *testing.T) {
	mw := Idempotency(newFakeStore(), nil)
	var calls int
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"ok":true}`))
	})

	first := buyerRequest(http.MethodPost, "/api/v1/orders", `{"quantity":1}`)
	first.Header.Set("Idempotency-Key", "abc")
	resp := httptest.NewRecorder()
	mw(handler).ServeHTTP(resp, first)
	require.Equal(t, http.StatusCreated, resp.Code)

	replay := buyerRequest(http.MethodPost, "/api/v1/orders", `{"quantity":1}`)
	replay = replay.WithContext(WithPrincipal(replay.Context(), mustPrincipal(t, first)))
	replay.Header.Set("Idempotency-Key", "abc")
	rec := httptest.NewRecorder()
	mw(handler).ServeHTTP(rec, replay)

	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.Equal(t, `{"ok":true}`, strings.TrimSpace(rec.Body.String()))
	assert.Equal(t, "true", rec.Header().Get(IdempotencyReplayed))
	assert.Equal(t, 1, calls)
}

func TestIdempotencyMiddlewareDetectsBodyChange(t *testing.T) {
	mw := Idempotency(newFakeStore(), nil)
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	first := buyerRequest(http.MethodPost, "/api/v1/checkout", `{"foo":"bar"}`)
	first.Header.Set("Idempotency-Key", "xyz")
	mw(handler).ServeHTTP(httptest.NewRecorder(), first)

	replay := buyerRequest(http.MethodPost, "/api/v1/checkout", `{"foo":"diff"}`)
	replay = replay.WithContext(WithPrincipal(replay.Context(), mustPrincipal(t, first)))
	replay.Header.Set("Idempotency-Key", "xyz")
	resp := httptest.NewRecorder()
	mw(handler).ServeHTTP(resp, replay)

	require.Equal(t, http.StatusConflict, resp.Code)
	var payload struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &payload))
	assert.Equal(t, string(pkgerrors.CodeIdempotency), payload.Error.Code)
}

func TestIdempotencyMiddlewareDoesNotStoreServerErrors(t *testing.T) {
	store := newFakeStore()
	mw := Idempotency(store, nil)
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})

	req := buyerRequest(http.MethodPost, "/api/v1/checkout", `{}`)
	req.Header.Set("Idempotency-Key", "retry-me")
	mw(handler).ServeHTTP(httptest.NewRecorder(), req)

	assert.Empty(t, store.data)
}

func TestIdempotencyKeysAreScopedPerUser(t *testing.T) {
	mw := Idempotency(newFakeStore(), nil)
	var calls int
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusCreated)
	})

	for i := 0; i < 2; i++ {
		req := buyerRequest(http.MethodPost, "/api/v1/orders", `{}`)
		req.Header.Set("Idempotency-Key", "shared")
		mw(handler).ServeHTTP(httptest.NewRecorder(), req)
	}
	assert.Equal(t, 2, calls)
}

func TestIdempotencyMiddlewareRejectsConcurrentDuplicate(t *testing.T) {
	store := newFakeStore()
	mw := Idempotency(store, nil)
	principal := auth.Principal{UserID: uuid.New(), Role: enums.MemberRoleBuyer}

	var inner *httptest.ResponseRecorder
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// a second delivery of the same request lands while this one is still running
		dup := httptest.NewRequest(http.MethodPost, "/api/v1/checkout", strings.NewReader(`{}`))
		dup = dup.WithContext(WithPrincipal(dup.Context(), principal))
		dup.Header.Set(IdempotencyKeyHeader, "once")
		inner = httptest.NewRecorder()
		mw(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
			t.Fatal("duplicate must not reach the handler")
		})).ServeHTTP(inner, dup)
		w.WriteHeader(http.StatusCreated)
	})

	req := httptest.NewRequest(http.MethodPost, "/api/v1/checkout", strings.NewReader(`{}`))
	req = req.WithContext(WithPrincipal(req.Context(), principal))
	req.Header.Set(IdempotencyKeyHeader, "once")
	resp := httptest.NewRecorder()
	mw(handler).ServeHTTP(resp, req)

	assert.Equal(t, http.StatusCreated, resp.Code)
	require.NotNil(t, inner)
	assert.Equal(t, http.StatusConflict, inner.Code)
	assert.Len(t, store.data, 1, "only the stored result remains once the lock is released")
}

func TestIdempotencyMiddlewareRejectsOversizedKey(t *testing.T) {
	mw := Idempotency(newFakeStore(), nil)
	req := buyerRequest(http.MethodPost, "/api/v1/orders", `{}`)
	req.Header.Set(IdempotencyKeyHeader, strings.Repeat("k", maxIdempotencyKeyLen+1))
	resp := httptest.NewRecorder()
	mw(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		t.Fatal("handler must not run")
	})).ServeHTTP(resp, req)

	assert.Equal(t, http.StatusBadRequest, resp.Code)
}

func mustPrincipal(t *testing.T, r *http.Request) auth.Principal {
	t.Helper()
	p, ok := PrincipalFromContext(r.Context())
	require.True(t, ok)
	return p
}
