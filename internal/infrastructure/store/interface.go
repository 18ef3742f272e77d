package store

import "context"

// EventStoreInterface is the write-side contract shared by the in-memory,
// PostgreSQL, and DynamoDB event stores.
type EventStoreInterface interface {
	// Append durably writes an event for an aggregate and publishes it to
	// the event bus. The returned event carries the assigned version.
	Append(ctx context.Context, aggregateID, aggregateType, eventType string, data any) (*Event, error)

	// GetEvents returns all events for an aggregate in version order.
	GetEvents(aggregateID string) []Event

	// GetEventsFromVersion returns the events after the given version.
	GetEventsFromVersion(ctx context.Context, aggregateID string, afterVersion int) []Event

	// GetAllEvents returns every stored event, for replay.
	GetAllEvents() []Event

	// GetSnapshot returns the latest snapshot for an aggregate, or nil.
	GetSnapshot(ctx context.Context, aggregateID string) (*Snapshot, error)

	// SaveSnapshot stores a point-in-time aggregate state.
	SaveSnapshot(ctx context.Context, snapshot *Snapshot) error
}
