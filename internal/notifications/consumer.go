package notifications

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	pubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/flashmart-backend/pkg/db/models"
	"github.com/angelmondragon/flashmart-backend/pkg/enums"
	"github.com/angelmondragon/flashmart-backend/pkg/logger"
	"github.com/angelmondragon/flashmart-backend/pkg/outbox"
)

const orderNotificationConsumer = "order-notifications"

type receiver interface {
	Receive(ctx context.Context, f func(context.Context, *pubsub.Message)) error
}

type orderLoader interface {
	FindByID(ctx context.Context, id uuid.UUID) (*models.Order, error)
}

type deliveryGuard interface {
	CheckAndMarkProcessed(ctx context.Context, consumer string, eventID uuid.UUID) (bool, error)
	Forget(ctx context.Context, consumer string, eventID uuid.UUID) error
}

// Consumer turns order lifecycle events from the orders topic into buyer and seller notifications.
type Consumer struct {
	repo         Repository
	orders       orderLoader
	subscription receiver
	idempotency  deliveryGuard
	logg         *logger.Logger
}

// NewConsumer builds the order notification consumer.
func NewConsumer(repo Repository, orders orderLoader, subscription receiver, guard deliveryGuard, logg *logger.Logger) (*Consumer, error) {
	if repo == nil {
		return nil, fmt.Errorf("notifications repository required")
	}
	if orders == nil {
		return nil, fmt.Errorf("order loader required")
	}
	if subscription == nil {
		return nil, fmt.Errorf("orders subscription required")
	}
	if guard == nil {
		return nil, fmt.Errorf("idempotency manager required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &Consumer{
		repo:         repo,
		orders:       orders,
		subscription: subscription,
		idempotency:  guard,
		logg:         logg,
	}, nil
}

// Run starts the consumer loop until the context is canceled.
func (c *Consumer) Run(ctx context.Context) error {
	return c.subscription.Receive(ctx, func(ctx context.Context, msg *pubsub.Message) {
		result := c.process(ctx, msg)
		if result.nack {
			msg.Nack()
			return
		}
		msg.Ack()
	})
}

type processResult struct {
	ack  bool
	nack bool
}

func (c *Consumer) process(ctx context.Context, msg *pubsub.Message) processResult {
	eventType := enums.OutboxEventType(msg.Attributes["event_type"])
	logCtx := c.logg.WithFields(ctx, map[string]any{
		"message_id": msg.ID,
		"event_type": eventType,
	})

	if _, ok := notifiableEvents[eventType]; !ok {
		return processResult{ack: true}
	}

	envelope, err := outbox.DecodeEnvelope(msg.Data)
	if err != nil {
		c.logg.Error(logCtx, "failed to decode envelope", err)
		return processResult{ack: true}
	}
	eventID, err := envelope.ID()
	if err != nil {
		c.logg.Error(logCtx, "invalid event id", err)
		return processResult{ack: true}
	}

	var ref orderRef
	if err := json.Unmarshal(envelope.Data, &ref); err != nil || ref.OrderID == uuid.Nil {
		c.logg.Error(logCtx, "payload carries no order id", err)
		return processResult{ack: true}
	}
	logCtx = c.logg.WithOrderNumber(logCtx, ref.OrderNumber)

	already, err := c.idempotency.CheckAndMarkProcessed(ctx, orderNotificationConsumer, eventID)
	if err != nil {
		c.logg.Error(logCtx, "idempotency check failed", err)
		return processResult{nack: true}
	}
	if already {
		c.logg.Info(logCtx, "event already processed")
		return processResult{ack: true}
	}

	order, err := c.orders.FindByID(ctx, ref.OrderID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.logg.Warn(logCtx, "order for event not found; dropping")
			return processResult{ack: true}
		}
		c.logg.Error(logCtx, "failed to load order", err)
		c.forget(logCtx, eventID)
		return processResult{nack: true}
	}

	rows, err := buildNotifications(eventType, envelope.Data, order)
	if err != nil {
		c.logg.Error(logCtx, "failed to parse payload", err)
		return processResult{ack: true}
	}

	created := 0
	for i := range rows {
		rows[i].EventID = eventID
		ok, err := c.repo.CreateOnce(ctx, &rows[i])
		if err != nil {
			c.logg.Error(logCtx, "notification insert failed", err)
			c.forget(logCtx, eventID)
			return processResult{nack: true}
		}
		if ok {
			created++
		}
	}
	c.logg.Info(c.logg.WithField(logCtx, "notifications", created), "order participants notified")
	return processResult{ack: true}
}

func (c *Consumer) forget(ctx context.Context, eventID uuid.UUID) {
	if err := c.idempotency.Forget(ctx, orderNotificationConsumer, eventID); err != nil {
		c.logg.Error(ctx, "failed to clear idempotency marker", err)
	}
}

type orderRef struct {
	OrderID     uuid.UUID `json:"order_id"`
	OrderNumber string    `json:"order_number"`
}
