package responses

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	pkgerrors "github.com/angelmondragon/flashmart-backend/pkg/errors"
	"github.com/angelmondragon/flashmart-backend/pkg/logger"
	"github.com/angelmondragon/flashmart-backend/pkg/types"
)

func WriteSuccess(w http.ResponseWriter, data any) {
	WriteSuccessStatus(w, http.StatusOK, data)
}

func WriteSuccessStatus(w http.ResponseWriter, status int, data any) {
	writeJSON(w, status, types.SuccessEnvelope{Data: data})
}

// WriteError renders err as an ErrorEnvelope. Untyped errors become INTERNAL_ERROR and never leak
// their text. Client faults are logged at warn, everything else at error with the Postgres dump.
func WriteError(ctx context.Context, logg *logger.Logger, w http.ResponseWriter, err error) {
	if err == nil {
		err = errors.New("unknown error")
	}
	typed := pkgerrors.As(err)
	if typed == nil {
		typed = pkgerrors.Wrap(pkgerrors.CodeInternal, err, "unexpected error")
	}
	meta := pkgerrors.MetadataFor(typed.Code())

	payload := types.ErrorEnvelope{
		Error: types.APIError{
			Code:      string(typed.Code()),
			Reason:    string(typed.Reason()),
			Message:   publicMessage(typed, meta),
			RequestID: types.RequestIDFromContext(ctx),
		},
	}
	if meta.DetailsAllowed && typed.Details() != nil {
		payload.Error.Details = typed.Details()
	}

	logError(ctx, logg, meta.HTTPStatus, typed, err)
	writeJSON(w, meta.HTTPStatus, payload)
}

// publicMessage only echoes the error's own message for 4xx codes.
func publicMessage(typed *pkgerrors.Error, meta pkgerrors.Metadata) string {
	if meta.HTTPStatus >= http.StatusInternalServerError || typed.Message() == "" {
		return meta.PublicMessage
	}
	return typed.Message()
}

func logError(ctx context.Context, logg *logger.Logger, status int, typed *pkgerrors.Error, err error) {
	if logg == nil {
		return
	}
	fields := map[string]any{
		"status":       status,
		"error_code":   string(typed.Code()),
		"error_reason": string(typed.Reason()),
	}
	if details, ok := typed.Details().(map[string]any); ok {
		for _, key := range []string{"order_number", "deal_id", "product_id"} {
			if v, ok := details[key]; ok {
				fields[key] = v
			}
		}
	}

	if status < http.StatusInternalServerError {
		fields["error"] = err.Error()
		logg.Warn(logg.WithFields(ctx, fields), "request.rejected")
		return
	}

	for key, value := range pkgerrors.Dump(err).Fields() {
		fields[key] = value
	}
	logg.Error(logg.WithFields(ctx, fields), "request.error", err)
}

// writeJSON encodes before writing the header so an unencodable payload still yields a clean 500.
func writeJSON(w http.ResponseWriter, status int, payload any) {
	body, err := json.Marshal(payload)
	if err != nil {
		http.Error(w, `{"error":{"code":"INTERNAL_ERROR","message":"internal server error"}}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(append(body, '\n'))
}
