package store

import (
	"encoding/json"
	"time"
)

// SnapshotThreshold is the number of events after which a snapshot is taken.
const SnapshotThreshold = 10

// Snapshot is a point-in-time state of an aggregate, used to bound replay
// cost for long-lived aggregates such as subscriptions.
type Snapshot struct {
	AggregateID   string          `json:"aggregate_id"`
	AggregateType string          `json:"aggregate_type"`
	Version       int             `json:"version"`
	State         json.RawMessage `json:"state"`
	CreatedAt     time.Time       `json:"created_at"`
}
