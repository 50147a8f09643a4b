package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	gcppubsub "cloud.google.com/go/pubsub/v2"
	"gorm.io/gorm"

	"github.com/angelmondragon/flashmart-backend/pkg/db/models"
	"github.com/angelmondragon/flashmart-backend/pkg/enums"
	"github.com/angelmondragon/flashmart-backend/pkg/outbox"
	"github.com/angelmondragon/flashmart-backend/pkg/outbox/registry"
)

type relayResult string

const (
	resultPublished    relayResult = "published"
	resultDuplicate    relayResult = "duplicate"
	resultFailed       relayResult = "failed"
	resultDeadLettered relayResult = "dead_lettered"
)

type relayOutcome struct {
	topic  string
	result relayResult
}

// relay moves one event to its terminal or retry state. A returned error aborts the whole batch
// and rolls back every mark made in it.
func (s *Service) relay(ctx context.Context, tx *gorm.DB, event models.OutboxEvent) (relayOutcome, error) {
	resolved, err := s.registry.Resolve(event)
	if err != nil {
		return relayOutcome{result: resultDeadLettered},
			s.deadLetter(ctx, tx, event, "", enums.OutboxDLQReasonUnroutable, err, s.eventFields(event, outbox.PayloadEnvelope{}, ""))
	}

	topic := resolved.Descriptor.Topic
	out := relayOutcome{topic: topic}
	fields := s.eventFields(event, resolved.Envelope, topic)

	duplicate, err := s.alreadyDelivered(ctx, event)
	if err != nil {
		return out, err
	}
	if duplicate {
		if err := s.repo.MarkPublishedTx(tx, event.ID); err != nil {
			return out, fmt.Errorf("mark published %s: %w", event.ID, err)
		}
		s.logg.Info(s.logg.WithFields(ctx, fields), "outbox event already delivered; marking published")
		out.result = resultDuplicate
		return out, nil
	}

	publishErr := s.publishResolved(ctx, event, resolved)
	if publishErr == nil {
		if err := s.repo.MarkPublishedTx(tx, event.ID); err != nil {
			return out, fmt.Errorf("mark published %s: %w", event.ID, err)
		}
		s.logg.Info(s.logg.WithFields(ctx, fields), "outbox event published")
		out.result = resultPublished
		return out, nil
	}

	s.forgetDelivery(ctx, event)
	attempt := event.AttemptCount + 1
	fields["attempt_count"] = attempt

	var nonRetry registry.NonRetryableError
	switch {
	case errors.As(publishErr, &nonRetry):
		out.result = resultDeadLettered
		return out, s.deadLetter(ctx, tx, event, topic, enums.OutboxDLQReasonNonRetryable, publishErr, fields)
	case attempt >= s.maxAttempts:
		out.result = resultDeadLettered
		return out, s.deadLetter(ctx, tx, event, topic, enums.OutboxDLQReasonMaxAttempts,
			fmt.Errorf("max publish attempts reached: %w", publishErr), fields)
	}

	s.logg.Warn(s.logg.WithField(s.logg.WithFields(ctx, fields), "error", publishErr.Error()), "outbox publish failed")
	if err := s.repo.MarkFailedTx(tx, event.ID, publishErr); err != nil {
		return out, fmt.Errorf("mark failure %s: %w", event.ID, err)
	}
	out.result = resultFailed
	return out, nil
}

func (s *Service) deadLetter(ctx context.Context, tx *gorm.DB, event models.OutboxEvent, topic string, reason enums.OutboxDLQErrorReason, cause error, fields map[string]any) error {
	fields["error_reason"] = reason
	s.logg.Warn(s.logg.WithField(s.logg.WithFields(ctx, fields), "error", cause.Error()), "outbox event will not be retried")

	msg := cause.Error()
	entry := models.OutboxDLQ{
		EventID:       event.ID,
		EventType:     event.EventType,
		AggregateType: event.AggregateType,
		AggregateID:   event.AggregateID,
		Payload:       event.Payload,
		ErrorReason:   reason,
		ErrorMessage:  &msg,
		AttemptCount:  event.AttemptCount,
		FailedAt:      s.now().UTC(),
	}
	if topic != "" {
		entry.Topic = &topic
	}
	if err := s.dlq.InsertTx(tx, entry); err != nil {
		return fmt.Errorf("insert dlq %s: %w", event.ID, err)
	}
	if err := s.repo.MarkTerminalTx(tx, event.ID, cause, s.maxAttempts); err != nil {
		return fmt.Errorf("mark terminal %s: %w", event.ID, err)
	}
	return nil
}

func (s *Service) alreadyDelivered(ctx context.Context, event models.OutboxEvent) (bool, error) {
	if s.guard == nil {
		return false, nil
	}
	seen, err := s.guard.CheckAndMarkProcessed(ctx, consumerName, event.ID)
	if err != nil {
		return false, fmt.Errorf("check delivery %s: %w", event.ID, err)
	}
	return seen, nil
}

func (s *Service) forgetDelivery(ctx context.Context, event models.OutboxEvent) {
	if s.guard == nil {
		return
	}
	if err := s.guard.Forget(ctx, consumerName, event.ID); err != nil {
		s.logg.Error(s.logg.WithField(ctx, "outbox_id", event.ID.String()), "failed to clear delivery marker", err)
	}
}

// publishResolved sends the stored payload untouched. The aggregate id doubles as the ordering
// key so subscribers see one order's lifecycle in sequence.
func (s *Service) publishResolved(ctx context.Context, event models.OutboxEvent, resolved *registry.ResolvedEvent) error {
	topic := resolved.Descriptor.Topic
	pub := s.publisherFor(topic)
	if pub == nil {
		return registry.NewNonRetryableError(fmt.Errorf("publisher not configured for topic %s", topic))
	}

	msg := &gcppubsub.Message{
		Data:        event.Payload,
		OrderingKey: event.OrderingKey(),
		Attributes: map[string]string{
			"event_id":       resolved.Envelope.EventID,
			"event_type":     string(event.EventType),
			"aggregate_type": string(event.AggregateType),
			"aggregate_id":   event.AggregateID.String(),
			"created_at":     event.CreatedAt.Format(time.RFC3339Nano),
		},
	}

	publishCtx, cancel := context.WithTimeout(ctx, defaultPublishTimeout)
	defer cancel()
	result := pub.Publish(publishCtx, msg)
	if result == nil {
		return registry.NewNonRetryableError(fmt.Errorf("publisher returned nil for topic %s", topic))
	}
	_, err := result.Get(publishCtx)
	return err
}

func (s *Service) eventFields(event models.OutboxEvent, envelope outbox.PayloadEnvelope, topic string) map[string]any {
	fields := map[string]any{
		"outbox_id":      event.ID.String(),
		"event_type":     event.EventType,
		"aggregate_type": event.AggregateType,
		"aggregate_id":   event.AggregateID.String(),
		"attempt_count":  event.AttemptCount,
	}
	if envelope.EventID != "" {
		fields["event_id"] = envelope.EventID
		fields["occurred_at"] = envelope.OccurredAt.Format(time.RFC3339Nano)
	}
	if topic != "" {
		fields["topic"] = topic
	}
	if event.LastError != nil {
		fields["last_error"] = *event.LastError
	}
	return fields
}
