package outbox

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/flashmart-backend/pkg/enums"
)

// EnvelopeVersion is written on every new event. Readers accept anything up to it.
const EnvelopeVersion = 1

var ErrMalformedEnvelope = errors.New("malformed outbox envelope")

// ActorRef identifies who produced the event.
type ActorRef struct {
	UserID uuid.UUID `json:"userId"`
	Role   string    `json:"role,omitempty"`
}

// PayloadEnvelope is stored in outbox_events.payload and published verbatim as the message body.
// EventID equals the outbox row id, so consumers, the DLQ and the relay share one identity.
type PayloadEnvelope struct {
	Version     int                   `json:"version"`
	EventID     string                `json:"eventId"`
	EventType   enums.OutboxEventType `json:"eventType,omitempty"`
	AggregateID string                `json:"aggregateId,omitempty"`
	OccurredAt  time.Time             `json:"occurredAt"`
	Actor       *ActorRef             `json:"actor,omitempty"`
	Data        json.RawMessage       `json:"data"`
}

// ID parses EventID.
func (e PayloadEnvelope) ID() (uuid.UUID, error) {
	id, err := uuid.Parse(e.EventID)
	if err != nil || id == uuid.Nil {
		return uuid.Nil, fmt.Errorf("%w: event id %q", ErrMalformedEnvelope, e.EventID)
	}
	return id, nil
}

// DecodeEnvelope parses raw and rejects envelopes from a newer writer or without data.
func DecodeEnvelope(raw []byte) (PayloadEnvelope, error) {
	var env PayloadEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return env, fmt.Errorf("%w: %v", ErrMalformedEnvelope, err)
	}
	if env.Version < 1 || env.Version > EnvelopeVersion {
		return env, fmt.Errorf("%w: unsupported version %d", ErrMalformedEnvelope, env.Version)
	}
	data := bytes.TrimSpace(env.Data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return env, fmt.Errorf("%w: data missing", ErrMalformedEnvelope)
	}
	return env, nil
}
