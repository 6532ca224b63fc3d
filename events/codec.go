package events

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// envelope is the JSON wire form of an Event.
type envelope struct {
	EventID       uuid.UUID       `json:"eventId"`
	EventName     string          `json:"eventName"`
	OccurredAt    time.Time       `json:"occurredAt"`
	CorrelationID string          `json:"correlationId,omitempty"`
	Payload       json.RawMessage `json:"payload"`
}

// Encode serializes an event into its JSON envelope.
func Encode(evt Event) ([]byte, error) {
	if evt.Name == "" {
		return nil, ErrEventNameRequired
	}

	if evt.Payload == nil {
		return nil, ErrPayloadRequired
	}

	if evt.Payload.EventName() != evt.Name {
		return nil, fmt.Errorf("%w: envelope %q, payload %q", ErrEventNameMismatch, evt.Name, evt.Payload.EventName())
	}

	payload, err := json.Marshal(evt.Payload)
	if err != nil {
		return nil, fmt.Errorf("encode event payload: %w", err)
	}

	body, err := json.Marshal(envelope{
		EventID:       evt.ID,
		EventName:     evt.Name,
		OccurredAt:    evt.OccurredAt,
		CorrelationID: evt.CorrelationID,
		Payload:       payload,
	})
	if err != nil {
		return nil, fmt.Errorf("encode event envelope: %w", err)
	}

	return body, nil
}

// Decode parses a JSON envelope into an Event with a concrete payload type.
// Event names outside the closed payload set are rejected.
func Decode(body []byte) (Event, error) {
	var env envelope

	if err := json.Unmarshal(body, &env); err != nil {
		return Event{}, fmt.Errorf("decode event envelope: %w", err)
	}

	if env.EventName == "" {
		return Event{}, ErrEventNameRequired
	}

	payload, err := decodePayload(env.EventName, env.Payload)
	if err != nil {
		return Event{}, err
	}

	return Event{
		ID:            env.EventID,
		Name:          env.EventName,
		OccurredAt:    env.OccurredAt,
		CorrelationID: env.CorrelationID,
		Payload:       payload,
	}, nil
}

func decodePayload(name string, raw json.RawMessage) (Payload, error) {
	if len(raw) == 0 {
		return nil, ErrPayloadRequired
	}

	switch name {
	case EventOrderCreated:
		var payload OrderCreated
		if err := json.Unmarshal(raw, &payload); err != nil {
			return nil, fmt.Errorf("decode %s payload: %w", name, err)
		}

		return payload, nil

	case EventOrderStatusChanged:
		var payload OrderStatusChanged
		if err := json.Unmarshal(raw, &payload); err != nil {
			return nil, fmt.Errorf("decode %s payload: %w", name, err)
		}

		return payload, nil

	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEventName, name)
	}
}
