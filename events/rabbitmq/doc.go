// Package rabbitmq implements the durable, broker-backed event bus.
//
// All domain events flow through one durable topic exchange routed by event
// name. Failed deliveries dead-letter into a fanout exchange feeding a
// TTL-bound retry queue whose own dead-letter target points back at the main
// exchange, so redelivery is delayed by broker configuration alone; the
// application runs no timers. Redelivery is bounded: once the accumulated
// dead-letter count reaches the maximum, the message is dropped with an error
// log. This yields at-least-once, bounded-retry delivery.
package rabbitmq
