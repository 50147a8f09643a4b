package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/angelmondragon/flashmart-backend/pkg/db/dbtest"
	"github.com/angelmondragon/flashmart-backend/pkg/db/models"
	"github.com/angelmondragon/flashmart-backend/pkg/enums"
	"github.com/angelmondragon/flashmart-backend/pkg/logger"
	"github.com/angelmondragon/flashmart-backend/pkg/pagination"
)

func TestEmitWritesEnvelopeInsideTransaction(t *testing.T) {
	conn := dbtest.Open(t)
	svc := NewService(NewRepository(conn), logger.Nop())
	aggregateID := uuid.New()
	actor := &ActorRef{UserID: uuid.New(), Role: "buyer"}

	err := conn.Transaction(func(tx *gorm.DB) error {
		return svc.Emit(context.Background(), tx, DomainEvent{
			EventType:     enums.EventOrderCreated,
			AggregateType: enums.AggregateOrder,
			AggregateID:   aggregateID,
			Actor:         actor,
			Data:          map[string]any{"order_number": "ORD-1"},
		})
	})
	require.NoError(t, err)

	var rows []models.OutboxEvent
	require.NoError(t, conn.Find(&rows).Error)
	require.Len(t, rows, 1)
	require.Equal(t, aggregateID, rows[0].AggregateID)

	var envelope PayloadEnvelope
	require.NoError(t, json.Unmarshal(rows[0].Payload, &envelope))
	require.Equal(t, 1, envelope.Version)
	require.NotEmpty(t, envelope.EventID)
	require.Equal(t, actor.UserID, envelope.Actor.UserID)
	require.JSONEq(t, `{"order_number":"ORD-1"}`, string(envelope.Data))
}

func TestEmitRolledBackWithTransaction(t *testing.T) {
	conn := dbtest.Open(t)
	svc := NewService(NewRepository(conn), nil)

	boom := errors.New("boom")
	err := conn.Transaction(func(tx *gorm.DB) error {
		require.NoError(t, svc.Emit(context.Background(), tx, DomainEvent{
			EventType:     enums.EventDealCreated,
			AggregateType: enums.AggregateDeal,
			AggregateID:   uuid.New(),
			Data:          struct{}{},
		}))
		return boom
	})
	require.ErrorIs(t, err, boom)

	var count int64
	require.NoError(t, conn.Model(&models.OutboxEvent{}).Count(&count).Error)
	require.Zero(t, count)
}

func TestEmitRequiresTransactionAndKnownTypes(t *testing.T) {
	conn := dbtest.Open(t)
	svc := NewService(NewRepository(conn), nil)

	require.Error(t, svc.Emit(context.Background(), nil, DomainEvent{}))
	require.Error(t, svc.Emit(context.Background(), conn, DomainEvent{
		EventType:     enums.OutboxEventType("nope"),
		AggregateType: enums.AggregateOrder,
		AggregateID:   uuid.New(),
	}))
}

func TestEmitIfNotExistsDeduplicatesPerAggregate(t *testing.T) {
	conn := dbtest.Open(t)
	svc := NewService(NewRepository(conn), nil)
	dealID := uuid.New()
	event := DomainEvent{
		EventType:     enums.EventDealExpired,
		AggregateType: enums.AggregateDeal,
		AggregateID:   dealID,
		Data:          map[string]any{"deal_id": dealID},
	}

	for i := 0; i < 3; i++ {
		require.NoError(t, conn.Transaction(func(tx *gorm.DB) error {
			return svc.EmitIfNotExists(context.Background(), tx, event)
		}))
	}

	var count int64
	require.NoError(t, conn.Model(&models.OutboxEvent{}).Where("aggregate_id = ?", dealID).Count(&count).Error)
	require.EqualValues(t, 1, count)
}

func TestRepositoryPublishLifecycle(t *testing.T) {
	conn := dbtest.Open(t)
	repo := NewRepository(conn)
	svc := NewService(repo, nil)

	for i := 0; i < 3; i++ {
		require.NoError(t, conn.Transaction(func(tx *gorm.DB) error {
			return svc.Emit(context.Background(), tx, DomainEvent{
				EventType:     enums.EventOrderStatusChanged,
				AggregateType: enums.AggregateOrder,
				AggregateID:   uuid.New(),
				Data:          map[string]int{"i": i},
			})
		}))
	}

	var batch []models.OutboxEvent
	require.NoError(t, conn.Transaction(func(tx *gorm.DB) error {
		var err error
		batch, err = repo.FetchUnpublishedForPublish(tx, 10, 3)
		return err
	}))
	require.Len(t, batch, 3)

	require.NoError(t, conn.Transaction(func(tx *gorm.DB) error {
		if err := repo.MarkPublishedTx(tx, batch[0].ID); err != nil {
			return err
		}
		if err := repo.MarkFailedTx(tx, batch[1].ID, errors.New("transient")); err != nil {
			return err
		}
		return repo.MarkTerminalTx(tx, batch[2].ID, errors.New("poison"), 3)
	}))

	var remaining []models.OutboxEvent
	require.NoError(t, conn.Transaction(func(tx *gorm.DB) error {
		var err error
		remaining, err = repo.FetchUnpublishedForPublish(tx, 10, 3)
		return err
	}))
	require.Len(t, remaining, 1)
	require.Equal(t, batch[1].ID, remaining[0].ID)
	require.Equal(t, 1, remaining[0].AttemptCount)
	require.NotNil(t, remaining[0].LastError)
	require.Equal(t, "transient", *remaining[0].LastError)
}

func TestDeletePublishedBeforeKeepsLiveRows(t *testing.T) {
	conn := dbtest.Open(t)
	repo := NewRepository(conn)
	old := time.Now().UTC().Add(-30 * 24 * time.Hour)
	recent := time.Now().UTC().Add(-time.Hour)
	cutoff := time.Now().UTC().Add(-14 * 24 * time.Hour)

	rows := []models.OutboxEvent{
		{CreatedAt: old, PublishedAt: &old},       // relayed long ago
		{CreatedAt: old, PublishedAt: &old},       // relayed long ago
		{CreatedAt: old, AttemptCount: 10},        // parked
		{CreatedAt: old, AttemptCount: 3},         // still retrying
		{CreatedAt: recent, PublishedAt: &recent}, // too young
	}
	for i := range rows {
		rows[i].ID = uuid.New()
		rows[i].EventType = enums.EventOrderCreated
		rows[i].AggregateType = enums.AggregateOrder
		rows[i].AggregateID = uuid.New()
		rows[i].Payload = json.RawMessage(`{}`)
		require.NoError(t, conn.Create(&rows[i]).Error)
	}

	var first, second int64
	require.NoError(t, conn.Transaction(func(tx *gorm.DB) error {
		var err error
		first, err = repo.DeletePublishedBefore(context.Background(), tx, cutoff, 10, 2)
		return err
	}))
	require.NoError(t, conn.Transaction(func(tx *gorm.DB) error {
		var err error
		second, err = repo.DeletePublishedBefore(context.Background(), tx, cutoff, 10, 2)
		return err
	}))
	assert.EqualValues(t, 2, first)
	assert.EqualValues(t, 1, second)

	var left []models.OutboxEvent
	require.NoError(t, conn.Find(&left).Error)
	ids := []uuid.UUID{}
	for _, row := range left {
		ids = append(ids, row.ID)
	}
	assert.ElementsMatch(t, []uuid.UUID{rows[3].ID, rows[4].ID}, ids)
}

func TestDLQRepositoryTruncatesAndFinds(t *testing.T) {
	conn := dbtest.Open(t)
	dlq := NewDLQRepository(conn)
	eventID := uuid.New()
	long := make([]byte, maxDLQErrorLen+50)
	for i := range long {
		long[i] = 'x'
	}
	msg := string(long)

	require.NoError(t, dlq.InsertTx(conn, models.OutboxDLQ{
		EventID:       eventID,
		EventType:     enums.EventOrderCreated,
		AggregateType: enums.AggregateOrder,
		AggregateID:   uuid.New(),
		Payload:       json.RawMessage(`{}`),
		ErrorReason:   enums.OutboxDLQReasonNonRetryable,
		ErrorMessage:  &msg,
	}))

	found, err := dlq.FindByEventID(context.Background(), eventID)
	require.NoError(t, err)
	require.NotNil(t, found)
	require.Len(t, *found.ErrorMessage, maxDLQErrorLen)

	missing, err := dlq.FindByEventID(context.Background(), uuid.New())
	require.NoError(t, err)
	require.Nil(t, missing)

	page, err := dlq.List(context.Background(), DLQFilter{})
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
}

func TestDLQRepositoryListFiltersAndPages(t *testing.T) {
	conn := dbtest.Open(t)
	dlq := NewDLQRepository(conn)
	orderID := uuid.New()
	base := time.Now().UTC().Add(-time.Hour)
	for i, eventType := range []enums.OutboxEventType{enums.EventOrderCreated, enums.EventOrderCompleted, enums.EventDealCreated} {
		aggregate, reason := orderID, enums.OutboxDLQReasonMaxAttempts
		if eventType == enums.EventDealCreated {
			aggregate, reason = uuid.New(), enums.OutboxDLQReasonUnroutable
		}
		require.NoError(t, dlq.InsertTx(conn, models.OutboxDLQ{
			EventID:       uuid.New(),
			EventType:     eventType,
			AggregateType: enums.AggregateOrder,
			AggregateID:   aggregate,
			Payload:       json.RawMessage(`{}`),
			ErrorReason:   reason,
			FailedAt:      base.Add(time.Duration(i) * time.Minute),
		}))
	}

	first, err := dlq.List(context.Background(), DLQFilter{AggregateID: &orderID, Params: pagination.Params{Limit: 1}})
	require.NoError(t, err)
	require.Len(t, first.Items, 1)
	assert.Equal(t, enums.EventOrderCompleted, first.Items[0].EventType)
	require.NotEmpty(t, first.NextCursor)

	second, err := dlq.List(context.Background(), DLQFilter{AggregateID: &orderID, Params: pagination.Params{Limit: 1, Cursor: first.NextCursor}})
	require.NoError(t, err)
	require.Len(t, second.Items, 1)
	assert.Equal(t, enums.EventOrderCreated, second.Items[0].EventType)
	assert.Empty(t, second.NextCursor)

	deals, err := dlq.List(context.Background(), DLQFilter{EventType: enums.EventDealCreated})
	require.NoError(t, err)
	assert.Len(t, deals.Items, 1)

	unroutable, err := dlq.List(context.Background(), DLQFilter{Reason: enums.OutboxDLQReasonUnroutable})
	require.NoError(t, err)
	require.Len(t, unroutable.Items, 1)
	assert.Equal(t, enums.EventDealCreated, unroutable.Items[0].EventType)
}

func TestTruncateDLQErrorKeepsRunesWhole(t *testing.T) {
	msg := strings.Repeat("a", maxDLQErrorLen-1) + "é"
	got := truncateDLQError(msg)
	assert.True(t, utf8.ValidString(got))
	assert.Len(t, got, maxDLQErrorLen-1)
}

func TestEmitStampsRowIDIntoEnvelope(t *testing.T) {
	conn := dbtest.Open(t)
	svc := NewService(NewRepository(conn), nil)
	fixed := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return fixed }

	require.NoError(t, conn.Transaction(func(tx *gorm.DB) error {
		return svc.Emit(context.Background(), tx, DomainEvent{
			EventType:     enums.EventOrderCompleted,
			AggregateType: enums.AggregateOrder,
			AggregateID:   uuid.New(),
			Data:          map[string]string{"order_number": "ORD-2"},
		})
	}))

	var row models.OutboxEvent
	require.NoError(t, conn.First(&row).Error)
	env, err := DecodeEnvelope(row.Payload)
	require.NoError(t, err)
	id, err := env.ID()
	require.NoError(t, err)
	assert.Equal(t, row.ID, id)
	assert.Equal(t, enums.EventOrderCompleted, env.EventType)
	assert.Equal(t, row.AggregateID.String(), env.AggregateID)
	assert.True(t, row.CreatedAt.Equal(fixed))
}

func TestEmitRejectsMissingAggregate(t *testing.T) {
	conn := dbtest.Open(t)
	svc := NewService(NewRepository(conn), nil)

	err := svc.Emit(context.Background(), conn, DomainEvent{
		EventType:     enums.EventDealCreated,
		AggregateType: enums.AggregateDeal,
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no aggregate id")
	assert.ErrorIs(t, svc.EmitIfNotExists(context.Background(), nil, DomainEvent{}), ErrTxRequired)
}

func TestDecodeEnvelopeRejectsMalformedInput(t *testing.T) {
	cases := map[string]string{
		"not json":       `nope`,
		"future version": `{"version":2,"eventId":"` + uuid.NewString() + `","data":{}}`,
		"zero version":   `{"version":0,"data":{}}`,
		"null data":      `{"version":1,"data":null}`,
		"missing data":   `{"version":1}`,
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := DecodeEnvelope([]byte(raw))
			assert.ErrorIs(t, err, ErrMalformedEnvelope)
		})
	}

	env, err := DecodeEnvelope([]byte(`{"version":1,"eventId":"not-a-uuid","data":{}}`))
	require.NoError(t, err)
	_, err = env.ID()
	assert.ErrorIs(t, err, ErrMalformedEnvelope)
}
