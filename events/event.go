package events

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/ovenworks/bakeops/order"
)

// Event names routed by the bus. Routing keys on the broker reuse these
// verbatim, so they must stay stable across deploys.
const (
	EventOrderCreated       = "order.created"
	EventOrderStatusChanged = "order.statusChanged"
)

// Payload is the closed set of domain event payloads. Payloads are decoded
// once at the bus boundary; handlers receive a concrete type, never a
// string-keyed map.
type Payload interface {
	EventName() string
}

// OrderCreated is published by the order-creation path, including every order
// materialized by a recurring batch.
type OrderCreated struct {
	OrderID          uuid.UUID       `json:"orderId"`
	StoreID          uuid.UUID       `json:"storeId"`
	CustomerID       uuid.UUID       `json:"customerId"`
	TotalAmount      decimal.Decimal `json:"totalAmount"`
	RecurringGroupID *uuid.UUID      `json:"recurringGroupId,omitempty"`
}

// EventName implements Payload.
func (OrderCreated) EventName() string { return EventOrderCreated }

// OrderStatusChanged is published by the lifecycle state machine after a
// transition has been persisted.
type OrderStatusChanged struct {
	OrderID        uuid.UUID    `json:"orderId"`
	StoreID        uuid.UUID    `json:"storeId"`
	PreviousStatus order.Status `json:"previousStatus"`
	NewStatus      order.Status `json:"newStatus"`
}

// EventName implements Payload.
func (OrderStatusChanged) EventName() string { return EventOrderStatusChanged }

// Event is the canonical published message. It is immutable once published;
// OccurredAt is set by the publisher at construction time, never by a bus.
// ID is unique per publication and survives redelivery, so a consumer can
// deduplicate on (event id, consumer name); delivery is at-least-once and
// redelivered side effects are otherwise not distinguishable.
type Event struct {
	ID            uuid.UUID
	Name          string
	OccurredAt    time.Time
	CorrelationID string
	Payload       Payload
}

// Option configures an Event at construction time.
type Option func(*Event)

// WithCorrelationID attaches a correlation id to the event envelope.
func WithCorrelationID(id string) Option {
	return func(evt *Event) {
		evt.CorrelationID = strings.TrimSpace(id)
	}
}

// New builds an event around payload, stamping the publication time.
func New(payload Payload, opts ...Option) (Event, error) {
	if payload == nil {
		return Event{}, ErrPayloadRequired
	}

	evt := Event{
		ID:         uuid.New(),
		Name:       payload.EventName(),
		OccurredAt: time.Now().UTC(),
		Payload:    payload,
	}

	for _, opt := range opts {
		if opt != nil {
			opt(&evt)
		}
	}

	return evt, nil
}
