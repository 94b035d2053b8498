package licensing

import (
	"context"
	"time"
)

// EventType names a license domain event.
type EventType string

const (
	EventKeyProvisioned EventType = "license_key.provisioned"
	EventStatusChanged  EventType = "license.status_changed"
	EventActivated      EventType = "license.activated"
)

// Event is emitted after the transaction that caused it has committed.
type Event struct {
	Type       EventType      `json:"type"`
	BrandID    string         `json:"brandId"`
	OccurredAt time.Time      `json:"occurredAt"`
	Data       map[string]any `json:"data"`
}

// EventEmitter receives domain events. Implementations must not block.
type EventEmitter interface {
	EmitLicenseEvent(ctx context.Context, e Event)
}

type noopEmitter struct{}

func (noopEmitter) EmitLicenseEvent(context.Context, Event) {}
