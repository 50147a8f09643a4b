package controllers

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/flashmart-backend/api/responses"
	"github.com/angelmondragon/flashmart-backend/api/validators"
	"github.com/angelmondragon/flashmart-backend/pkg/db/models"
	"github.com/angelmondragon/flashmart-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/flashmart-backend/pkg/errors"
	"github.com/angelmondragon/flashmart-backend/pkg/logger"
	"github.com/angelmondragon/flashmart-backend/pkg/outbox"
	"github.com/angelmondragon/flashmart-backend/pkg/pagination"
)

// DLQReader is the admin view onto dead-lettered outbox events.
type DLQReader interface {
	List(ctx context.Context, filter outbox.DLQFilter) (*pagination.Page[models.OutboxDLQ], error)
	FindByEventID(ctx context.Context, eventID uuid.UUID) (*models.OutboxDLQ, error)
}

type dlqEntry struct {
	ID            uuid.UUID `json:"id"`
	EventID       uuid.UUID `json:"event_id"`
	EventType     string    `json:"event_type"`
	AggregateType string    `json:"aggregate_type"`
	AggregateID   uuid.UUID `json:"aggregate_id"`
	Topic         *string   `json:"topic,omitempty"`
	ErrorReason   string    `json:"error_reason"`
	Retryable     bool      `json:"retryable"`
	ErrorMessage  *string   `json:"error_message,omitempty"`
	AttemptCount  int       `json:"attempt_count"`
	FailedAt      time.Time `json:"failed_at"`
}

func toDLQEntry(row models.OutboxDLQ) dlqEntry {
	return dlqEntry{
		ID:            row.ID,
		EventID:       row.EventID,
		EventType:     string(row.EventType),
		AggregateType: string(row.AggregateType),
		AggregateID:   row.AggregateID,
		Topic:         row.Topic,
		ErrorReason:   string(row.ErrorReason),
		Retryable:     row.ErrorReason.Retryable(),
		ErrorMessage:  row.ErrorMessage,
		AttemptCount:  row.AttemptCount,
		FailedAt:      row.FailedAt,
	}
}

// AdminOutboxDLQ pages through events the publisher gave up on. Optional ?event_type=, ?reason=
// and ?aggregate_id= narrow the listing, e.g. to every lost event of one order.
func AdminOutboxDLQ(repo DLQReader, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if repo == nil {
			unavailable(r.Context(), w, logg, "outbox dlq repository")
			return
		}
		params, err := validators.ParsePagination(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		aggregateID, err := validators.ParseQueryUUID(r, "aggregate_id")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		filter := outbox.DLQFilter{AggregateID: aggregateID, Params: params}
		if raw := strings.TrimSpace(r.URL.Query().Get("event_type")); raw != "" {
			filter.EventType, err = enums.ParseOutboxEventType(raw)
			if err != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid event_type"))
				return
			}
		}
		if raw := strings.TrimSpace(r.URL.Query().Get("reason")); raw != "" {
			filter.Reason, err = enums.ParseOutboxDLQErrorReason(raw)
			if err != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid reason"))
				return
			}
		}

		page, err := repo.List(r.Context(), filter)
		if errors.Is(err, pagination.ErrInvalidCursor) {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor"))
			return
		}
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list outbox dlq"))
			return
		}
		entries := make([]dlqEntry, 0, len(page.Items))
		for _, row := range page.Items {
			entries = append(entries, toDLQEntry(row))
		}
		responses.WriteSuccess(w, pagination.Page[dlqEntry]{Items: entries, NextCursor: page.NextCursor})
	}
}

// AdminOutboxDLQEntry looks up the dead letter for one event id.
func AdminOutboxDLQEntry(repo DLQReader, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if repo == nil {
			unavailable(r.Context(), w, logg, "outbox dlq repository")
			return
		}
		eventID, err := validators.ParseUUIDParam(r, "eventId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		row, err := repo.FindByEventID(r.Context(), eventID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load outbox dlq entry"))
			return
		}
		if row == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeNotFound, "event is not dead-lettered"))
			return
		}
		responses.WriteSuccess(w, toDLQEntry(*row))
	}
}
