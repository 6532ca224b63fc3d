package rabbitmq

import (
	"fmt"
	"time"

	libRabbitmq "github.com/LerianStudio/lib-uncommons/v2/uncommons/rabbitmq"
	amqp "github.com/rabbitmq/amqp091-go"
)

// Broker topology names. They are part of the wire contract and must stay
// stable across deploys.
const (
	// ExchangeEvents receives every published domain event, routed by
	// event name.
	ExchangeEvents = "events"
	// ExchangeDeadLetter collects failed deliveries from every event queue.
	ExchangeDeadLetter = "events.dlx"
	// QueueRetry parks dead-lettered messages until their TTL expires and
	// the broker republishes them to ExchangeEvents.
	QueueRetry = "retry"

	// eventQueuePrefix prefixes the per-event-name consumer queues.
	eventQueuePrefix = "evt."
)

// Channel is the AMQP channel surface the bus needs. *amqp.Channel satisfies
// it; tests substitute a fake.
type Channel interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	QueueBind(name, key, exchange string, noWait bool, args amqp.Table) error
	Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error)
}

// EventQueueName returns the durable queue name for one subscribed event name.
func EventQueueName(eventName string) string {
	return eventQueuePrefix + eventName
}

// declareTopology declares the fixed exchanges and the retry queue. Messages
// landing in the retry queue are republished to the main exchange by the
// broker once retryTTL elapses, with no polling or timer code here.
func declareTopology(ch Channel, retryTTL time.Duration) error {
	if err := ch.ExchangeDeclare(ExchangeEvents, "topic", true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare %s exchange: %w", ExchangeEvents, err)
	}

	if err := ch.ExchangeDeclare(ExchangeDeadLetter, "fanout", true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare %s exchange: %w", ExchangeDeadLetter, err)
	}

	ttlMillis := retryTTL.Milliseconds()
	if ttlMillis <= 0 {
		ttlMillis = 1
	}

	if _, err := ch.QueueDeclare(QueueRetry, true, false, false, false, amqp.Table{
		"x-message-ttl":          ttlMillis,
		"x-dead-letter-exchange": ExchangeEvents,
	}); err != nil {
		return fmt.Errorf("declare %s queue: %w", QueueRetry, err)
	}

	if err := ch.QueueBind(QueueRetry, "", ExchangeDeadLetter, false, nil); err != nil {
		return fmt.Errorf("bind %s to %s: %w", QueueRetry, ExchangeDeadLetter, err)
	}

	return nil
}

// declareEventQueue declares and binds the durable queue for one event name,
// dead-lettering its failures into the dead-letter exchange.
func declareEventQueue(ch Channel, eventName string) (string, error) {
	queue := EventQueueName(eventName)

	if _, err := ch.QueueDeclare(queue, true, false, false, false, libRabbitmq.GetDLXArgs(ExchangeDeadLetter)); err != nil {
		return "", fmt.Errorf("declare %s queue: %w", queue, err)
	}

	if err := ch.QueueBind(queue, eventName, ExchangeEvents, false, nil); err != nil {
		return "", fmt.Errorf("bind %s to %s: %w", queue, ExchangeEvents, err)
	}

	return queue, nil
}
