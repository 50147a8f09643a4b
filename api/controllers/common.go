package controllers

import (
	"context"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/angelmondragon/flashmart-backend/api/middleware"
	"github.com/angelmondragon/flashmart-backend/api/responses"
	"github.com/angelmondragon/flashmart-backend/pkg/auth"
	pkgerrors "github.com/angelmondragon/flashmart-backend/pkg/errors"
	"github.com/angelmondragon/flashmart-backend/pkg/logger"
)

// requirePrincipal returns the caller or writes a 401 and reports false.
func requirePrincipal(w http.ResponseWriter, r *http.Request, logg *logger.Logger) (auth.Principal, bool) {
	principal, ok := middleware.PrincipalFromContext(r.Context())
	if !ok {
		responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "missing credentials"))
		return auth.Principal{}, false
	}
	return principal, true
}

// orderNumberParam reads {orderNumber} and tags the request log context with it.
func orderNumberParam(r *http.Request, logg *logger.Logger) (string, context.Context, error) {
	orderNumber := strings.ToUpper(strings.TrimSpace(chi.URLParam(r, "orderNumber")))
	if orderNumber == "" {
		return "", r.Context(), pkgerrors.New(pkgerrors.CodeValidation, "order number is required")
	}
	ctx := r.Context()
	if logg != nil {
		ctx = logg.WithOrderNumber(ctx, orderNumber)
	}
	return orderNumber, ctx, nil
}

func unavailable(ctx context.Context, w http.ResponseWriter, logg *logger.Logger, what string) {
	responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, what+" unavailable"))
}
