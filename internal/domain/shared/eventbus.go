package shared

import "context"

// EventHandler reacts to events published after a usage transaction commits,
// such as CostRecalculationRequested feeding the Redis cost queue.
type EventHandler interface {
	Handle(ctx context.Context, event DomainEvent) error
	// EventTypes lists the types used when Subscribe is given none.
	// An empty slice subscribes to every event.
	EventTypes() []string
}

// EventPublisher is what the usage service and cost trigger depend on.
// Publish runs only after commit, so a failure never undoes allocations.
type EventPublisher interface {
	Publish(ctx context.Context, events ...DomainEvent) error
}

// EventBus is wired once in cmd/server. Handlers are subscribed at startup
// and stay subscribed for the life of the process.
type EventBus interface {
	EventPublisher
	Subscribe(handler EventHandler, eventTypes ...string)
	Start(ctx context.Context) error
	// Stop makes later Publish calls fail
	Stop(ctx context.Context) error
}
