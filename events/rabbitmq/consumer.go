package rabbitmq

import (
	"context"

	libLog "github.com/LerianStudio/lib-uncommons/v2/uncommons/log"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/ovenworks/bakeops/events"
)

// consumeLoop drains one event-name queue until the context ends or the bus
// stops. A closed delivery channel means the broker channel died; the loop
// exits and leaves recovery to the connection layer.
func (bus *Bus) consumeLoop(ctx context.Context, eventName string, deliveries <-chan amqp.Delivery) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-bus.stop:
			return
		case msg, ok := <-deliveries:
			if !ok {
				bus.logger.Log(ctx, libLog.LevelWarn, "event delivery channel closed",
					libLog.String("event", eventName),
				)

				return
			}

			bus.handleDelivery(ctx, eventName, msg)
		}
	}
}

// handleDelivery decodes one message, fans it out to every registered
// handler, and acknowledges according to the bounded-retry contract:
//
//   - all handlers settled without error: ack (done);
//   - anything failed and the accumulated redelivery count is below the
//     ceiling: nack without requeue, routing the message through the
//     dead-letter exchange into the TTL retry queue;
//   - ceiling reached: ack anyway and log the drop. Accepted data loss,
//     never retried forever.
//
// Undecodable payloads ride the same path, so a poison message is bounded by
// the same ceiling.
func (bus *Bus) handleDelivery(ctx context.Context, eventName string, msg amqp.Delivery) {
	handleErr := bus.dispatch(ctx, msg.Body)
	if handleErr == nil {
		if err := msg.Ack(false); err != nil {
			bus.logger.Log(ctx, libLog.LevelWarn, "ack event delivery",
				libLog.String("event", eventName),
				libLog.Err(err),
			)
		}

		return
	}

	count := redeliveryCount(msg.Headers)

	if count >= bus.maxRedeliveries {
		bus.logger.Log(ctx, libLog.LevelError, "dropping event after max redeliveries",
			libLog.String("event", eventName),
			libLog.Int("redeliveries", count),
			libLog.Int("max", bus.maxRedeliveries),
			libLog.Err(handleErr),
		)

		if err := msg.Ack(false); err != nil {
			bus.logger.Log(ctx, libLog.LevelWarn, "ack dropped event", libLog.Err(err))
		}

		return
	}

	bus.logger.Log(ctx, libLog.LevelWarn, "event handling failed, routing to retry",
		libLog.String("event", eventName),
		libLog.Int("redeliveries", count),
		libLog.Err(handleErr),
	)

	if err := msg.Nack(false, false); err != nil {
		bus.logger.Log(ctx, libLog.LevelWarn, "nack event delivery", libLog.Err(err))
	}
}

// dispatch decodes the envelope and runs every registered handler with
// independent failure isolation.
func (bus *Bus) dispatch(ctx context.Context, body []byte) error {
	evt, err := events.Decode(body)
	if err != nil {
		return err
	}

	return bus.registry.Dispatch(ctx, evt)
}

// redeliveryCount sums the delivery counts across every dead-letter history
// entry the broker attached to the message. It is recomputed from broker
// state on each delivery, monotonically non-decreasing for a message
// instance, and zero for a first delivery.
func redeliveryCount(headers amqp.Table) int {
	raw, ok := headers["x-death"]
	if !ok {
		return 0
	}

	entries, ok := raw.([]any)
	if !ok {
		return 0
	}

	total := 0

	for _, entry := range entries {
		table, ok := entry.(amqp.Table)
		if !ok {
			continue
		}

		switch count := table["count"].(type) {
		case int64:
			total += int(count)
		case int32:
			total += int(count)
		case int:
			total += count
		}
	}

	return total
}
