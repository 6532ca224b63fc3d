package events

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Registry maps event names to their subscribed handlers. It is constructed
// at boot, populated by feature modules during synchronous startup, and then
// frozen before any bus starts delivering: write-once-at-boot,
// read-many-thereafter.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string][]Handler
	frozen   bool
}

// NewRegistry creates an empty handler registry.
func NewRegistry() *Registry {
	return &Registry{handlers: map[string][]Handler{}}
}

// Subscribe appends a handler for eventName. Multiple handlers may register
// for the same name; registration order carries no invocation-order promise.
func (registry *Registry) Subscribe(eventName string, handler Handler) error {
	if registry == nil {
		return ErrRegistryRequired
	}

	name := strings.TrimSpace(eventName)
	if name == "" {
		return ErrEventNameRequired
	}

	if handler == nil {
		return ErrHandlerRequired
	}

	registry.mu.Lock()
	defer registry.mu.Unlock()

	if registry.frozen {
		return fmt.Errorf("%w: %s", ErrRegistryFrozen, name)
	}

	if registry.handlers == nil {
		registry.handlers = make(map[string][]Handler)
	}

	registry.handlers[name] = append(registry.handlers[name], handler)

	return nil
}

// Freeze closes the registration window. Subsequent Subscribe calls fail.
func (registry *Registry) Freeze() {
	if registry == nil {
		return
	}

	registry.mu.Lock()
	registry.frozen = true
	registry.mu.Unlock()
}

// EventNames returns the sorted set of event names with at least one handler.
func (registry *Registry) EventNames() []string {
	if registry == nil {
		return nil
	}

	registry.mu.RLock()
	defer registry.mu.RUnlock()

	names := make([]string, 0, len(registry.handlers))
	for name := range registry.handlers {
		names = append(names, name)
	}

	sort.Strings(names)

	return names
}

// HandlersFor returns a copy of the handler list for eventName.
func (registry *Registry) HandlersFor(eventName string) []Handler {
	if registry == nil {
		return nil
	}

	registry.mu.RLock()
	defer registry.mu.RUnlock()

	subscribed := registry.handlers[eventName]
	if len(subscribed) == 0 {
		return nil
	}

	out := make([]Handler, len(subscribed))
	copy(out, subscribed)

	return out
}

// Dispatch invokes every handler subscribed to evt.Name concurrently and
// waits for all of them to settle. A failing or panicking handler never
// prevents siblings from running; all failures are joined into the returned
// error so callers can decide what failure means (the in-process bus logs and
// swallows it, the broker bus converts it into a negative acknowledgement).
// Dispatching an event with no subscribers succeeds as a no-op.
func (registry *Registry) Dispatch(ctx context.Context, evt Event) error {
	if registry == nil {
		return ErrRegistryRequired
	}

	handlers := registry.HandlersFor(evt.Name)
	if len(handlers) == 0 {
		return nil
	}

	results := make([]error, len(handlers))

	var wg sync.WaitGroup

	for i, handler := range handlers {
		wg.Add(1)

		go func() {
			defer wg.Done()
			results[i] = invoke(ctx, handler, evt)
		}()
	}

	wg.Wait()

	return errors.Join(results...)
}

// invoke runs one handler, converting a panic into an error so that one
// misbehaving subscriber cannot take down the delivery goroutine.
func invoke(ctx context.Context, handler Handler, evt Event) (err error) {
	defer func() {
		if recovered := recover(); recovered != nil {
			err = fmt.Errorf("%w: %s: %v", ErrHandlerPanic, evt.Name, recovered)
		}
	}()

	return handler(ctx, evt)
}
