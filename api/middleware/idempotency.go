package middleware

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/angelmondragon/flashmart-backend/api/responses"
	pkgerrors "github.com/angelmondragon/flashmart-backend/pkg/errors"
	"github.com/angelmondragon/flashmart-backend/pkg/logger"
	pkgredis "github.com/angelmondragon/flashmart-backend/pkg/redis"
)

const (
	IdempotencyKeyHeader = "Idempotency-Key"
	IdempotencyReplayed  = "Idempotent-Replayed"

	defaultIdempotencyTTL  = 24 * time.Hour
	criticalIdempotencyTTL = 7 * 24 * time.Hour
	// An in-flight marker outlives any sane request but frees the key if the process dies.
	inFlightTTL          = time.Minute
	maxIdempotencyKeyLen = 255
)

// idempotencyRule binds a method and a path pattern to a replay window. Pattern segments in
// braces match any one segment, and a trailing "*" matches one or more further segments.
type idempotencyRule struct {
	method  string
	pattern []string
	ttl     time.Duration
}

func rule(method, pattern string, ttl time.Duration) idempotencyRule {
	return idempotencyRule{method: method, pattern: splitPath(pattern), ttl: ttl}
}

var idempotencyRules = []idempotencyRule{
	rule(http.MethodPost, "/api/v1/seller/deals", defaultIdempotencyTTL),
	rule(http.MethodPatch, "/api/v1/seller/deals/{dealId}", defaultIdempotencyTTL),
	rule(http.MethodDelete, "/api/v1/seller/deals/{dealId}", defaultIdempotencyTTL),
	rule(http.MethodPost, "/api/v1/seller/orders/*", defaultIdempotencyTTL),
	rule(http.MethodPost, "/api/v1/agent/orders/*", defaultIdempotencyTTL),

	rule(http.MethodPost, "/api/v1/orders", criticalIdempotencyTTL),
	rule(http.MethodPost, "/api/v1/checkout", criticalIdempotencyTTL),
	rule(http.MethodPost, "/api/v1/orders/{orderNumber}/confirm", criticalIdempotencyTTL),
	rule(http.MethodPost, "/api/v1/orders/{orderNumber}/issues", criticalIdempotencyTTL),
	rule(http.MethodPost, "/api/v1/admin/orders/{orderNumber}/resolve", criticalIdempotencyTTL),
}

func (r idempotencyRule) matches(method string, path []string) bool {
	if r.method != method {
		return false
	}
	for i, want := range r.pattern {
		if want == "*" {
			return len(path) > i
		}
		if i >= len(path) || path[i] == "" {
			return false
		}
		if !strings.HasPrefix(want, "{") && path[i] != want {
			return false
		}
	}
	return len(path) == len(r.pattern)
}

func splitPath(p string) []string {
	return strings.Split(strings.Trim(p, "/"), "/")
}

// routeTTL matches the request path rather than the chi route pattern because group middleware
// runs before chi has resolved the full pattern.
func routeTTL(method, path string) (time.Duration, bool) {
	if path == "" {
		return 0, false
	}
	segments := splitPath(path)
	for _, r := range idempotencyRules {
		if r.matches(method, segments) {
			return r.ttl, true
		}
	}
	return 0, false
}

type storedResponse struct {
	Status      int    `json:"status"`
	ContentType string `json:"content_type,omitempty"`
	Body        []byte `json:"body"`
	RequestHash string `json:"request_hash"`
}

// Idempotency replays the first non-5xx response for a (principal, method, path, key) tuple.
// A repeat with a different body, or one that arrives while the first is still running, is a 409.
func Idempotency(store pkgredis.IdempotencyStore, logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ttl, ok := routeTTL(r.Method, r.URL.Path)
			if !ok || store == nil {
				next.ServeHTTP(w, r)
				return
			}
			ctx := r.Context()
			fail := func(err error) { responses.WriteError(ctx, logg, w, err) }

			clientKey := strings.TrimSpace(r.Header.Get(IdempotencyKeyHeader))
			switch {
			case clientKey == "":
				fail(pkgerrors.New(pkgerrors.CodeValidation, "Idempotency-Key header required"))
				return
			case len(clientKey) > maxIdempotencyKeyLen:
				fail(pkgerrors.New(pkgerrors.CodeValidation, "Idempotency-Key header too long"))
				return
			}

			body, err := io.ReadAll(r.Body)
			if err != nil {
				fail(pkgerrors.Wrap(pkgerrors.CodeValidation, err, "read request body"))
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(body))
			digest := sha256.Sum256(body)
			requestHash := hex.EncodeToString(digest[:])

			scope := strings.Join([]string{userIDFromContext(ctx), r.Method, r.URL.Path}, "|")
			resultKey := store.IdempotencyKey(scope, clientKey)
			lockKey := store.IdempotencyKey(scope+"|inflight", clientKey)

			prior, err := lookup(ctx, store, resultKey)
			if err != nil {
				fail(err)
				return
			}
			if prior != nil {
				if prior.RequestHash != requestHash {
					fail(pkgerrors.New(pkgerrors.CodeIdempotency, "idempotency key reused with different request body"))
					return
				}
				replay(w, prior)
				return
			}

			acquired, err := store.SetNX(ctx, lockKey, requestHash, inFlightTTL)
			if err != nil {
				fail(pkgerrors.Wrap(pkgerrors.CodeDependency, err, "reserve idempotency key"))
				return
			}
			if !acquired {
				fail(pkgerrors.New(pkgerrors.CodeIdempotency, "a request with this idempotency key is still in progress"))
				return
			}
			defer func() {
				if err := store.Del(context.WithoutCancel(ctx), lockKey); err != nil {
					logError(ctx, logg, "release idempotency key", err)
				}
			}()

			rec := &responseCapture{ResponseWriter: w}
			next.ServeHTTP(rec, r)

			status := rec.statusOrOK()
			// Server-side failures are not replayed so the client can retry with the same key.
			if status >= http.StatusInternalServerError {
				return
			}
			payload, err := json.Marshal(storedResponse{
				Status:      status,
				ContentType: rec.Header().Get("Content-Type"),
				Body:        rec.body.Bytes(),
				RequestHash: requestHash,
			})
			if err != nil {
				logError(ctx, logg, "marshal idempotency record", err)
				return
			}
			if _, err := store.SetNX(context.WithoutCancel(ctx), resultKey, string(payload), ttl); err != nil {
				logError(ctx, logg, "persist idempotency record", err)
			}
		})
	}
}

func lookup(ctx context.Context, store pkgredis.IdempotencyStore, key string) (*storedResponse, error) {
	raw, err := store.Get(ctx, key)
	if errors.Is(err, redis.Nil) || (err == nil && raw == "") {
		return nil, nil
	}
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "check idempotency")
	}
	var stored storedResponse
	if err := json.Unmarshal([]byte(raw), &stored); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "decode idempotency record")
	}
	return &stored, nil
}

func replay(w http.ResponseWriter, stored *storedResponse) {
	if stored.ContentType != "" {
		w.Header().Set("Content-Type", stored.ContentType)
	}
	w.Header().Set(IdempotencyReplayed, "true")
	w.WriteHeader(stored.Status)
	_, _ = w.Write(stored.Body)
}

type responseCapture struct {
	http.ResponseWriter
	body   bytes.Buffer
	status int
}

func (r *responseCapture) WriteHeader(code int) {
	if r.status == 0 {
		r.status = code
	}
	r.ResponseWriter.WriteHeader(code)
}

func (r *responseCapture) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	r.body.Write(b)
	return r.ResponseWriter.Write(b)
}

func (r *responseCapture) statusOrOK() int {
	if r.status == 0 {
		return http.StatusOK
	}
	return r.status
}

func logError(ctx context.Context, logg *logger.Logger, msg string, err error) {
	if logg == nil || err == nil {
		return
	}
	logg.Error(ctx, msg, err)
}
