package controllers

import (
	"net/http"

	"github.com/angelmondragon/flashmart-backend/api/responses"
	"github.com/angelmondragon/flashmart-backend/api/validators"
	"github.com/angelmondragon/flashmart-backend/internal/notifications"
	"github.com/angelmondragon/flashmart-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/flashmart-backend/pkg/errors"
	"github.com/angelmondragon/flashmart-backend/pkg/logger"
)

// ListNotifications pages through the caller's notifications, newest first. ?unread=true hides
// read ones and ?type= (repeatable or comma separated) narrows by notification type.
func ListNotifications(svc notifications.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			unavailable(r.Context(), w, logg, "notifications service")
			return
		}
		principal, ok := requirePrincipal(w, r, logg)
		if !ok {
			return
		}
		params, err := validators.ParsePagination(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		unreadOnly, err := validators.ParseQueryBool(r, "unread")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var types []enums.NotificationType
		for _, raw := range validators.ParseQueryList(r, "type") {
			kind, err := enums.ParseNotificationType(raw)
			if err != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid type filter"))
				return
			}
			types = append(types, kind)
		}

		page, err := svc.List(r.Context(), principal, notifications.ListParams{Params: params, UnreadOnly: unreadOnly, Types: types})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, page)
	}
}

func UnreadNotificationCount(svc notifications.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			unavailable(r.Context(), w, logg, "notifications service")
			return
		}
		principal, ok := requirePrincipal(w, r, logg)
		if !ok {
			return
		}
		count, err := svc.UnreadCount(r.Context(), principal)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]int64{"unread": count})
	}
}

func MarkNotificationRead(svc notifications.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			unavailable(r.Context(), w, logg, "notifications service")
			return
		}
		principal, ok := requirePrincipal(w, r, logg)
		if !ok {
			return
		}
		id, err := validators.ParseUUIDParam(r, "notificationId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if err := svc.MarkRead(r.Context(), principal, id); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func MarkAllNotificationsRead(svc notifications.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			unavailable(r.Context(), w, logg, "notifications service")
			return
		}
		principal, ok := requirePrincipal(w, r, logg)
		if !ok {
			return
		}
		count, err := svc.MarkAllRead(r.Context(), principal)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]int64{"updated": count})
	}
}
