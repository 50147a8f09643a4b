package middleware

import (
	"net/http"

	"github.com/angelmondragon/flashmart-backend/api/responses"
	pkgAuth "github.com/angelmondragon/flashmart-backend/pkg/auth"
	"github.com/angelmondragon/flashmart-backend/pkg/config"
	pkgerrors "github.com/angelmondragon/flashmart-backend/pkg/errors"
	"github.com/angelmondragon/flashmart-backend/pkg/logger"
)

// Auth verifies the bearer token and seeds the request context with the principal. A codec
// that cannot be built from cfg fails every request closed.
func Auth(cfg config.JWTConfig, logg *logger.Logger) func(http.Handler) http.Handler {
	codec, codecErr := pkgAuth.NewTokenCodec(cfg)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if codecErr != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeInternal, codecErr, "token verification unavailable"))
				return
			}
			token, ok := pkgAuth.BearerToken(r.Header.Get("Authorization"))
			if !ok {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "missing credentials"))
				return
			}
			claims, err := codec.Parse(token)
			if err != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeUnauthorized, err, "invalid token"))
				return
			}

			principal := claims.Principal()
			ctx := WithPrincipal(r.Context(), principal)
			if logg != nil {
				ctx = logg.WithActorRole(logg.WithUserID(ctx, principal.UserID.String()), string(principal.Role))
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
