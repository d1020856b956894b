package event

import "context"

// Store is the append-only audit log. Events are grouped by the item they
// concern.
type Store interface {
	// Append persists the events atomically, in order.
	Append(ctx context.Context, events ...Event) error
	// Load returns an item's events in append order. When types are given,
	// only events of those types are returned.
	Load(ctx context.Context, itemID string, types ...Type) ([]Event, error)
}
