package scan

import (
	"context"
	"time"
)

// Event types emitted by the orchestrator.
const (
	EventScanCompleted  = "scan.completed"
	EventEntityPromoted = "entity.promoted"
	EventEntityMerged   = "entity.merged"
)

// Event is one engine occurrence published to the event bus.
type Event struct {
	Type       string                 `json:"type"`
	DocumentID string                 `json:"document_id,omitempty"`
	EntityID   string                 `json:"entity_id,omitempty"`
	Payload    map[string]interface{} `json:"payload,omitempty"`
	At         time.Time              `json:"at"`
}

// EventSink receives engine events. The Kafka-backed implementation lives
// in infrastructure/eventbus; publish failures are logged by the caller and
// never fail a scan.
type EventSink interface {
	Publish(ctx context.Context, event Event) error
}
