package events

import "context"

// Handler reacts to one delivered event. A handler error is isolated from
// sibling handlers of the same event and never reaches the publisher.
type Handler func(ctx context.Context, evt Event) error

// Bus is the publish/subscribe contract every feature module programs
// against. Subscribe calls must complete during synchronous startup, before
// the selected bus starts delivering.
type Bus interface {
	Publish(ctx context.Context, evt Event) error
	Subscribe(eventName string, handler Handler) error
}
