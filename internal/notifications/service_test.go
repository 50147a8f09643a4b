package notifications

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/angelmondragon/flashmart-backend/pkg/auth"
	"github.com/angelmondragon/flashmart-backend/pkg/db/dbtest"
	"github.com/angelmondragon/flashmart-backend/pkg/db/models"
	"github.com/angelmondragon/flashmart-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/flashmart-backend/pkg/errors"
	"github.com/angelmondragon/flashmart-backend/pkg/pagination"
)

func buyerPrincipal() auth.Principal {
	return auth.Principal{UserID: uuid.New(), Role: enums.MemberRoleBuyer}
}

func seedNotifications(t *testing.T, conn *gorm.DB, recipient uuid.UUID, n int) []models.Notification {
	t.Helper()
	repo := NewRepository(conn)
	base := time.Now().UTC().Add(-time.Hour)
	rows := make([]models.Notification, 0, n)
	for i := 0; i < n; i++ {
		row := models.Notification{
			RecipientID: recipient,
			EventID:     uuid.New(),
			Type:        enums.NotificationTypeOrderUpdate,
			Title:       "Order update",
			Message:     "something happened",
			CreatedAt:   base.Add(time.Duration(i) * time.Minute),
		}
		created, err := repo.CreateOnce(context.Background(), &row)
		require.NoError(t, err)
		require.True(t, created)
		rows = append(rows, row)
	}
	return rows
}

func TestListNotificationsPagesNewestFirst(t *testing.T) {
	conn := dbtest.Open(t)
	principal := buyerPrincipal()
	seeded := seedNotifications(t, conn, principal.UserID, 3)
	seedNotifications(t, conn, uuid.New(), 2)

	svc, err := NewService(NewRepository(conn))
	require.NoError(t, err)

	first, err := svc.List(context.Background(), principal, ListParams{Params: pagination.Params{Limit: 2}})
	require.NoError(t, err)
	require.Len(t, first.Items, 2)
	assert.Equal(t, seeded[2].ID, first.Items[0].ID)
	assert.Equal(t, seeded[1].ID, first.Items[1].ID)
	require.NotEmpty(t, first.NextCursor)

	second, err := svc.List(context.Background(), principal, ListParams{Params: pagination.Params{Limit: 2, Cursor: first.NextCursor}})
	require.NoError(t, err)
	require.Len(t, second.Items, 1)
	assert.Equal(t, seeded[0].ID, second.Items[0].ID)
	assert.Empty(t, second.NextCursor)
}

func TestMarkReadAndUnreadFilter(t *testing.T) {
	conn := dbtest.Open(t)
	principal := buyerPrincipal()
	seeded := seedNotifications(t, conn, principal.UserID, 2)

	svc, err := NewService(NewRepository(conn))
	require.NoError(t, err)

	require.NoError(t, svc.MarkRead(context.Background(), principal, seeded[0].ID))
	// marking twice is harmless
	require.NoError(t, svc.MarkRead(context.Background(), principal, seeded[0].ID))

	unread, err := svc.List(context.Background(), principal, ListParams{UnreadOnly: true})
	require.NoError(t, err)
	require.Len(t, unread.Items, 1)
	assert.Equal(t, seeded[1].ID, unread.Items[0].ID)

	count, err := svc.MarkAllRead(context.Background(), principal)
	require.NoError(t, err)
	assert.EqualValues(t, 1, count)
}

func TestListFiltersByTypeAndCountsUnread(t *testing.T) {
	conn := dbtest.Open(t)
	principal := buyerPrincipal()
	seeded := seedNotifications(t, conn, principal.UserID, 2)
	repo := NewRepository(conn)
	dispute := models.Notification{
		RecipientID: principal.UserID,
		EventID:     uuid.New(),
		Type:        enums.NotificationTypeDisputeUpdate,
		Title:       "Dispute resolved",
		Message:     "refunded",
		CreatedAt:   time.Now().UTC(),
	}
	_, err := repo.CreateOnce(context.Background(), &dispute)
	require.NoError(t, err)

	svc, err := NewService(repo)
	require.NoError(t, err)

	page, err := svc.List(context.Background(), principal, ListParams{Types: []enums.NotificationType{enums.NotificationTypeDisputeUpdate}})
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	assert.Equal(t, dispute.ID, page.Items[0].ID)

	_, err = svc.List(context.Background(), principal, ListParams{Types: []enums.NotificationType{"marketing"}})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))

	unread, err := svc.UnreadCount(context.Background(), principal)
	require.NoError(t, err)
	assert.EqualValues(t, 3, unread)

	require.NoError(t, svc.MarkRead(context.Background(), principal, seeded[0].ID))
	unread, err = svc.UnreadCount(context.Background(), principal)
	require.NoError(t, err)
	assert.EqualValues(t, 2, unread)
}

func TestMarkReadKeepsFirstReadTime(t *testing.T) {
	conn := dbtest.Open(t)
	principal := buyerPrincipal()
	seeded := seedNotifications(t, conn, principal.UserID, 1)

	svc, err := NewService(NewRepository(conn))
	require.NoError(t, err)
	first := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	svc.(*service).now = func() time.Time { return first }
	require.NoError(t, svc.MarkRead(context.Background(), principal, seeded[0].ID))
	svc.(*service).now = func() time.Time { return first.Add(time.Hour) }
	require.NoError(t, svc.MarkRead(context.Background(), principal, seeded[0].ID))

	var row models.Notification
	require.NoError(t, conn.First(&row, "id = ?", seeded[0].ID).Error)
	require.NotNil(t, row.ReadAt)
	assert.True(t, row.ReadAt.Equal(first))
}

func TestMarkReadIsScopedToRecipient(t *testing.T) {
	conn := dbtest.Open(t)
	owner := buyerPrincipal()
	seeded := seedNotifications(t, conn, owner.UserID, 1)

	svc, err := NewService(NewRepository(conn))
	require.NoError(t, err)

	err = svc.MarkRead(context.Background(), buyerPrincipal(), seeded[0].ID)
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound))
}

func TestNotificationServiceValidation(t *testing.T) {
	svc, err := NewService(NewRepository(dbtest.Open(t)))
	require.NoError(t, err)

	_, err = svc.List(context.Background(), auth.Principal{}, ListParams{})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeUnauthorized))

	_, err = svc.List(context.Background(), buyerPrincipal(), ListParams{Params: pagination.Params{Cursor: "%%%"}})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))

	err = svc.MarkRead(context.Background(), buyerPrincipal(), uuid.Nil)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))

	_, err = NewService(nil)
	require.Error(t, err)
}

type failingRepo struct {
	Repository
}

func (failingRepo) MarkAllRead(context.Context, uuid.UUID, time.Time) (int64, error) {
	return 0, errors.New("db down")
}

func TestMarkAllReadWrapsStorageErrors(t *testing.T) {
	svc, err := NewService(failingRepo{})
	require.NoError(t, err)

	_, err = svc.MarkAllRead(context.Background(), buyerPrincipal())
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeDependency))
}
