package events

import "errors"

var (
	ErrEventNameRequired   = errors.New("event name is required")
	ErrPayloadRequired     = errors.New("event payload is required")
	ErrUnknownEventName    = errors.New("unknown event name")
	ErrRegistryRequired    = errors.New("handler registry is required")
	ErrHandlerRequired     = errors.New("event handler is required")
	ErrRegistryFrozen      = errors.New("handler registry is frozen: subscriptions must complete during boot")
	ErrHandlerPanic        = errors.New("event handler panicked")
	ErrEventNameMismatch   = errors.New("event name does not match payload")
	ErrBusRequired         = errors.New("event bus is required")
)
