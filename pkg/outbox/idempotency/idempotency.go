// Package idempotency records which domain events a consumer has already handled.
//
// Both the outbox relay and the order notification consumer see at-least-once delivery: the
// relay can publish and then lose its published_at update, and Pub/Sub can redeliver after an
// ack is lost. Each marks the event id here before acting and forgets it when the action fails.
package idempotency

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/flashmart-backend/pkg/redis"
)

// DefaultTTL bounds how long a marker outlives the event. Redeliveries after this window are
// caught by the consumers' own storage constraints.
const DefaultTTL = 24 * time.Hour

var consumerNameRe = regexp.MustCompile(`^[a-z][a-z0-9-]{1,62}$`)

// Manager keys markers as fm:idempotency:evt:<consumer>:<event_id>; the value is the unix time
// the event was first seen.
type Manager struct {
	store redis.IdempotencyStore
	ttl   time.Duration
	now   func() time.Time
}

// NewManager falls back to DefaultTTL when ttl is zero. Markers never live forever.
func NewManager(store redis.IdempotencyStore, ttl time.Duration) (*Manager, error) {
	if store == nil {
		return nil, errors.New("idempotency store is required")
	}
	if ttl < 0 {
		return nil, errors.New("ttl must be non-negative")
	}
	if ttl == 0 {
		ttl = DefaultTTL
	}
	return &Manager{store: store, ttl: ttl, now: time.Now}, nil
}

// CheckAndMarkProcessed reports whether consumer already saw eventID, marking it when not.
func (m *Manager) CheckAndMarkProcessed(ctx context.Context, consumer string, eventID uuid.UUID) (bool, error) {
	key, err := m.key(consumer, eventID)
	if err != nil {
		return false, err
	}
	fresh, err := m.store.SetNX(ctx, key, strconv.FormatInt(m.now().Unix(), 10), m.ttl)
	if err != nil {
		return false, fmt.Errorf("mark %s for %s: %w", eventID, consumer, err)
	}
	return !fresh, nil
}

// Forget drops the marker so a retried delivery is not mistaken for a duplicate.
func (m *Manager) Forget(ctx context.Context, consumer string, eventID uuid.UUID) error {
	key, err := m.key(consumer, eventID)
	if err != nil {
		return err
	}
	return m.store.Del(ctx, key)
}

func (m *Manager) key(consumer string, eventID uuid.UUID) (string, error) {
	if !consumerNameRe.MatchString(consumer) {
		return "", fmt.Errorf("invalid consumer name %q", consumer)
	}
	if eventID == uuid.Nil {
		return "", errors.New("event id is required")
	}
	return m.store.IdempotencyKey("evt:"+consumer, eventID.String()), nil
}
