package notifications

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/flashmart-backend/pkg/auth"
	"github.com/angelmondragon/flashmart-backend/pkg/db/models"
	"github.com/angelmondragon/flashmart-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/flashmart-backend/pkg/errors"
	"github.com/angelmondragon/flashmart-backend/pkg/pagination"
)

// Service is the signed-in participant's view of their in-app notifications.
type Service interface {
	List(ctx context.Context, principal auth.Principal, params ListParams) (*pagination.Page[models.Notification], error)
	UnreadCount(ctx context.Context, principal auth.Principal) (int64, error)
	MarkRead(ctx context.Context, principal auth.Principal, notificationID uuid.UUID) error
	MarkAllRead(ctx context.Context, principal auth.Principal) (int64, error)
}

type ListParams struct {
	Params     pagination.Params
	UnreadOnly bool
	// Empty means every type.
	Types []enums.NotificationType
}

type service struct {
	repo Repository
	now  func() time.Time
}

func NewService(repo Repository) (Service, error) {
	if repo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "notifications repository required")
	}
	return &service{repo: repo, now: time.Now}, nil
}

func requireParticipant(principal auth.Principal) error {
	if !principal.Valid() {
		return pkgerrors.New(pkgerrors.CodeUnauthorized, "principal required")
	}
	return nil
}

func (s *service) List(ctx context.Context, principal auth.Principal, params ListParams) (*pagination.Page[models.Notification], error) {
	if err := requireParticipant(principal); err != nil {
		return nil, err
	}
	for _, t := range params.Types {
		if !t.IsValid() {
			return nil, pkgerrors.Newf(pkgerrors.CodeValidation, "unknown notification type %q", t)
		}
	}
	cursor, err := pagination.ParseCursor(params.Params.Cursor)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
	}

	rows, err := s.repo.List(ctx, listFilter{
		RecipientID: principal.UserID,
		Types:       params.Types,
		UnreadOnly:  params.UnreadOnly,
		Cursor:      cursor,
		Limit:       pagination.LimitWithBuffer(params.Params.Limit),
	})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list notifications")
	}
	page := pagination.Trim(rows, params.Params.Limit, func(n models.Notification) pagination.Cursor {
		return pagination.Cursor{At: n.CreatedAt, ID: n.ID}
	})
	return &page, nil
}

func (s *service) UnreadCount(ctx context.Context, principal auth.Principal) (int64, error) {
	if err := requireParticipant(principal); err != nil {
		return 0, err
	}
	n, err := s.repo.CountUnread(ctx, principal.UserID)
	if err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "count unread notifications")
	}
	return n, nil
}

// MarkRead is idempotent for the owner. Someone else's notification reads as not found.
func (s *service) MarkRead(ctx context.Context, principal auth.Principal, notificationID uuid.UUID) error {
	if err := requireParticipant(principal); err != nil {
		return err
	}
	if notificationID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "notification id required")
	}
	found, err := s.repo.MarkRead(ctx, principal.UserID, notificationID, s.now().UTC())
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "mark notification read")
	}
	if !found {
		return pkgerrors.New(pkgerrors.CodeNotFound, "notification not found")
	}
	return nil
}

func (s *service) MarkAllRead(ctx context.Context, principal auth.Principal) (int64, error) {
	if err := requireParticipant(principal); err != nil {
		return 0, err
	}
	n, err := s.repo.MarkAllRead(ctx, principal.UserID, s.now().UTC())
	if err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "mark notifications read")
	}
	return n, nil
}
