package shared

import (
	"strconv"
	"time"
)

// EventType represents the type of domain event.
type EventType string

// Domain event types.
const (
	EventBadgeAwarded EventType = "badge.awarded"
	EventBadgeRevoked EventType = "badge.revoked"
)

// Event is the base interface for all domain events.
type Event interface {
	// EventType returns the type of the event.
	EventType() EventType

	// OccurredAt returns when the event occurred.
	OccurredAt() time.Time

	// AggregateID returns the ID of the aggregate that produced this event.
	AggregateID() string

	// Payload returns the event data as a map for serialization.
	Payload() map[string]interface{}
}

// BaseEvent provides common event functionality.
type BaseEvent struct {
	Type          EventType `json:"type"`
	Timestamp     time.Time `json:"timestamp"`
	AggregateId   string    `json:"aggregate_id"`
	Version       int       `json:"version"`
	CorrelationID string    `json:"correlation_id,omitempty"`
}

// EventType implements Event interface.
func (e BaseEvent) EventType() EventType {
	return e.Type
}

// OccurredAt implements Event interface.
func (e BaseEvent) OccurredAt() time.Time {
	return e.Timestamp
}

// AggregateID implements Event interface.
func (e BaseEvent) AggregateID() string {
	return e.AggregateId
}

// NewBaseEvent creates a new base event.
func NewBaseEvent(eventType EventType, aggregateID string) BaseEvent {
	return BaseEvent{
		Type:        eventType,
		Timestamp:   time.Now().UTC(),
		AggregateId: aggregateID,
		Version:     1,
	}
}

// WithCorrelationID sets the correlation ID for tracing.
func (e BaseEvent) WithCorrelationID(id string) BaseEvent {
	e.CorrelationID = id
	return e
}

// Correlation returns the correlation ID.
func (e BaseEvent) Correlation() string {
	return e.CorrelationID
}

// CorrelationOf returns the correlation ID of an event, or "" when it has none.
func CorrelationOf(e Event) string {
	if c, ok := e.(interface{ Correlation() string }); ok {
		return c.Correlation()
	}
	return ""
}

// ═══════════════════════════════════════════════════════════════════════════
// Badge Events
// ═══════════════════════════════════════════════════════════════════════════

// BadgeAwardedEvent is emitted when a manual award record is created.
type BadgeAwardedEvent struct {
	BaseEvent
	BadgeID      int64 `json:"badge_id"`
	RecipientID  int64 `json:"recipient_id"`
	IssuerID     int64 `json:"issuer_id"`
	IssuerRoleID int64 `json:"issuer_role_id"`
}

// Payload implements Event interface.
func (e BadgeAwardedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"badge_id":       e.BadgeID,
		"recipient_id":   e.RecipientID,
		"issuer_id":      e.IssuerID,
		"issuer_role_id": e.IssuerRoleID,
	}
}

// NewBadgeAwardedEvent creates a new BadgeAwardedEvent.
func NewBadgeAwardedEvent(badgeID, recipientID, issuerID, issuerRoleID int64) BadgeAwardedEvent {
	return BadgeAwardedEvent{
		BaseEvent:    NewBaseEvent(EventBadgeAwarded, strconv.FormatInt(badgeID, 10)),
		BadgeID:      badgeID,
		RecipientID:  recipientID,
		IssuerID:     issuerID,
		IssuerRoleID: issuerRoleID,
	}
}

// BadgeRevokedEvent is emitted once per successful revocation.
// ContextID is zero when the badge context could not be resolved.
type BadgeRevokedEvent struct {
	BaseEvent
	BadgeID     int64 `json:"badge_id"`
	RecipientID int64 `json:"recipient_id"`
	ContextID   int64 `json:"context_id,omitempty"`
}

// Payload implements Event interface.
func (e BadgeRevokedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"badge_id":     e.BadgeID,
		"recipient_id": e.RecipientID,
		"context_id":   e.ContextID,
	}
}

// NewBadgeRevokedEvent creates a new BadgeRevokedEvent.
func NewBadgeRevokedEvent(badgeID, recipientID, contextID int64) BadgeRevokedEvent {
	return BadgeRevokedEvent{
		BaseEvent:   NewBaseEvent(EventBadgeRevoked, strconv.FormatInt(badgeID, 10)),
		BadgeID:     badgeID,
		RecipientID: recipientID,
		ContextID:   contextID,
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Event Bus contracts
// ═══════════════════════════════════════════════════════════════════════════

// EventHandler is a function that handles an event.
type EventHandler func(event Event) error

// EventPublisher defines the interface for publishing events.
type EventPublisher interface {
	// Publish sends an event to subscribers.
	Publish(event Event) error
}

// EventSubscriber defines the interface for subscribing to events.
type EventSubscriber interface {
	// Subscribe registers a handler for an event type.
	Subscribe(eventType EventType, handler EventHandler) error

	// SubscribeAll registers a handler for all events.
	SubscribeAll(handler EventHandler) error
}

// EventBus combines publishing and subscribing.
type EventBus interface {
	EventPublisher
	EventSubscriber
}

// PayloadInt64 reads an integer field from an event payload. Payloads that
// went through JSON carry float64 numbers.
func PayloadInt64(payload map[string]interface{}, key string) (int64, bool) {
	switch v := payload[key].(type) {
	case int64:
		return v, true
	case int:
		return int64(v), true
	case float64:
		return int64(v), true
	default:
		return 0, false
	}
}
