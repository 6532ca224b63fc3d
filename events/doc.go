// Package events defines the domain event vocabulary and the bus contract the
// rest of the application programs against: the event envelope, the closed set
// of typed payloads, the handler registry, and the in-process fallback bus.
//
// The durable, broker-backed bus lives in the rabbitmq subpackage.
package events
