package stream

import (
	"context"
	"fmt"

	"github.com/ovenworks/bakeops/events"
	"github.com/ovenworks/bakeops/internal/nilcheck"
)

// RegisterFanout subscribes the live fan-out to the order events. Each
// delivered event is re-broadcast to every connection of the order's store,
// the tenant of the streaming channel.
//
// Must be called during boot, before the bus starts consuming.
func RegisterFanout(bus events.Bus, manager *Manager) error {
	if nilcheck.Interface(bus) {
		return events.ErrBusRequired
	}

	if manager == nil {
		return ErrManagerRequired
	}

	for _, name := range []string{events.EventOrderCreated, events.EventOrderStatusChanged} {
		if err := bus.Subscribe(name, fanoutHandler(manager)); err != nil {
			return fmt.Errorf("subscribe fan-out to %s: %w", name, err)
		}
	}

	return nil
}

func fanoutHandler(manager *Manager) events.Handler {
	return func(ctx context.Context, evt events.Event) error {
		tenantID, ok := tenantOf(evt)
		if !ok {
			return fmt.Errorf("fan-out: event %s carries no tenant", evt.Name)
		}

		return manager.Broadcast(ctx, tenantID, evt.Name, evt.Payload)
	}
}

func tenantOf(evt events.Event) (string, bool) {
	switch payload := evt.Payload.(type) {
	case events.OrderCreated:
		return payload.StoreID.String(), true
	case events.OrderStatusChanged:
		return payload.StoreID.String(), true
	default:
		return "", false
	}
}
