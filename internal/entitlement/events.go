package entitlement

import (
	"context"
	"time"

	"scriptgate/pkg/contracts/events"
)

// Event types published for observers of the entitlement lifecycle.
const (
	EventTrialEnded   = events.MessageTypeTrialEnded
	EventLicenseEnded = events.MessageTypeLicenseEnded
	EventActivated    = events.MessageTypeLicenseActivated
)

// Event describes a lifecycle change that was actually persisted.
type Event struct {
	Type   string
	UserID string
	At     time.Time
	Data   map[string]interface{}
}

// EventPublisher receives lifecycle events. Publishing must not block the
// request path.
type EventPublisher interface {
	Publish(ctx context.Context, ev Event)
}

// NopPublisher discards events.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, Event) {}
