package events

import (
	"context"

	libLog "github.com/LerianStudio/lib-uncommons/v2/uncommons/log"

	"github.com/ovenworks/bakeops/internal/nilcheck"
)

// InProcessBus is the zero-dependency fallback bus: synchronous fan-out to
// registered handlers, no durability, no cross-process visibility. It exists
// for degraded-mode operation when the broker is unreachable at boot.
//
// Unlike the durable bus, Publish here is coupled to consumer latency: it
// returns only after every handler has settled, so a stuck handler can delay
// the publisher indefinitely. That asymmetry is the known cost of the
// fallback path.
type InProcessBus struct {
	registry *Registry
	logger   libLog.Logger
}

// Compile-time assertion: *InProcessBus implements Bus.
var _ Bus = (*InProcessBus)(nil)

// NewInProcessBus creates the fallback bus around a shared registry.
func NewInProcessBus(registry *Registry, logger libLog.Logger) (*InProcessBus, error) {
	if registry == nil {
		return nil, ErrRegistryRequired
	}

	if nilcheck.Interface(logger) {
		logger = libLog.NewNop()
	}

	return &InProcessBus{registry: registry, logger: logger}, nil
}

// Publish fans evt out to every subscribed handler and waits for all of them
// to settle. Handler failures are logged and swallowed: Publish never fails
// because of a handler. Publishing with zero subscribers is a successful
// no-op.
func (bus *InProcessBus) Publish(ctx context.Context, evt Event) error {
	if bus == nil {
		return ErrBusRequired
	}

	if evt.Name == "" {
		return ErrEventNameRequired
	}

	if err := bus.registry.Dispatch(ctx, evt); err != nil {
		bus.logger.Log(ctx, libLog.LevelError, "in-process event handler failure",
			libLog.String("event", evt.Name),
			libLog.Err(err),
		)
	}

	return nil
}

// Subscribe registers handler for eventName on the shared registry.
func (bus *InProcessBus) Subscribe(eventName string, handler Handler) error {
	if bus == nil {
		return ErrBusRequired
	}

	return bus.registry.Subscribe(eventName, handler)
}
