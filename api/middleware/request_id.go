package middleware

import (
	"net/http"
	"regexp"

	"github.com/google/uuid"

	"github.com/angelmondragon/flashmart-backend/pkg/logger"
	"github.com/angelmondragon/flashmart-backend/pkg/types"
)

const (
	requestIDHeader     = "X-Request-Id"
	correlationIDHeader = "X-Correlation-Id"
)

var requestIDPattern = regexp.MustCompile(`^[A-Za-z0-9._-]{8,128}$`)

// RequestID stamps every request with an id that is echoed on the response and carried on each
// log line. An upstream X-Request-Id (or X-Correlation-Id) is kept when it is an opaque token.
func RequestID(logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := incomingRequestID(r)
			w.Header().Set(requestIDHeader, id)

			ctx := types.ContextWithRequestID(r.Context(), id)
			if logg != nil {
				ctx = logg.WithRequestID(ctx, id)
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func incomingRequestID(r *http.Request) string {
	for _, header := range []string{requestIDHeader, correlationIDHeader} {
		if v := r.Header.Get(header); requestIDPattern.MatchString(v) {
			return v
		}
	}
	return uuid.NewString()
}
