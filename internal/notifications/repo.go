package notifications

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/flashmart-backend/pkg/db/models"
	"github.com/angelmondragon/flashmart-backend/pkg/enums"
	"github.com/angelmondragon/flashmart-backend/pkg/pagination"
)

type Repository interface {
	// CreateOnce inserts the row unless the recipient was already notified about the same event.
	CreateOnce(ctx context.Context, notification *models.Notification) (bool, error)
	List(ctx context.Context, filter listFilter) ([]models.Notification, error)
	CountUnread(ctx context.Context, recipientID uuid.UUID) (int64, error)
	// MarkRead reports whether the recipient owns the notification. Already-read rows keep their read_at.
	MarkRead(ctx context.Context, recipientID, notificationID uuid.UUID, now time.Time) (bool, error)
	MarkAllRead(ctx context.Context, recipientID uuid.UUID, now time.Time) (int64, error)
}

type repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

type listFilter struct {
	RecipientID uuid.UUID
	Types       []enums.NotificationType
	UnreadOnly  bool
	Cursor      *pagination.Cursor
	Limit       int
}

func (r *repository) mine(ctx context.Context, recipientID uuid.UUID) *gorm.DB {
	return r.db.WithContext(ctx).Model(&models.Notification{}).Where("recipient_id = ?", recipientID)
}

func (r *repository) CreateOnce(ctx context.Context, n *models.Notification) (bool, error) {
	if n.ID == uuid.Nil {
		n.ID = uuid.New()
	}
	res := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "event_id"}, {Name: "recipient_id"}},
			DoNothing: true,
		}).
		Create(n)
	return res.RowsAffected == 1, res.Error
}

func (r *repository) List(ctx context.Context, f listFilter) ([]models.Notification, error) {
	q := r.mine(ctx, f.RecipientID)
	if f.UnreadOnly {
		q = q.Where("read_at IS NULL")
	}
	if len(f.Types) > 0 {
		q = q.Where("type IN ?", f.Types)
	}
	q = f.Cursor.Before(q, "created_at", "id")

	var rows []models.Notification
	err := q.Order("created_at DESC, id DESC").Limit(f.Limit).Find(&rows).Error
	return rows, err
}

func (r *repository) CountUnread(ctx context.Context, recipientID uuid.UUID) (int64, error) {
	var n int64
	err := r.mine(ctx, recipientID).Where("read_at IS NULL").Count(&n).Error
	return n, err
}

func (r *repository) MarkRead(ctx context.Context, recipientID, notificationID uuid.UUID, now time.Time) (bool, error) {
	var row models.Notification
	err := r.mine(ctx, recipientID).Select("id", "read_at").Where("id = ?", notificationID).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false, nil
	}
	if err != nil || row.ReadAt != nil {
		return err == nil, err
	}
	err = r.mine(ctx, recipientID).
		Where("id = ? AND read_at IS NULL", notificationID).
		UpdateColumn("read_at", now).Error
	return err == nil, err
}

func (r *repository) MarkAllRead(ctx context.Context, recipientID uuid.UUID, now time.Time) (int64, error) {
	res := r.mine(ctx, recipientID).Where("read_at IS NULL").UpdateColumn("read_at", now)
	return res.RowsAffected, res.Error
}
