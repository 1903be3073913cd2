// Package eventhandler contains domain event handlers.
package eventhandler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/alem-hub/alem-badges/internal/domain/badge"
	"github.com/alem-hub/alem-badges/internal/domain/shared"
)

// ═══════════════════════════════════════════════════════════════════════════
// ON BADGE EVENT HANDLER
// Appends awarded and revoked badge events to the audit log. Events may come
// from this process or, through Redis, from another one, so only the
// payload is read.
// ═══════════════════════════════════════════════════════════════════════════

// OnBadgeEventHandler writes badge events to the audit log.
type OnBadgeEventHandler struct {
	audit   badge.AuditRepository
	logger  *slog.Logger
	timeout time.Duration
}

// NewOnBadgeEventHandler creates a new audit handler.
func NewOnBadgeEventHandler(audit badge.AuditRepository, logger *slog.Logger) *OnBadgeEventHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &OnBadgeEventHandler{
		audit:   audit,
		logger:  logger.With("handler", "on_badge_event"),
		timeout: 5 * time.Second,
	}
}

// EventTypes returns the event types the handler understands.
func (h *OnBadgeEventHandler) EventTypes() []shared.EventType {
	return []shared.EventType{shared.EventBadgeAwarded, shared.EventBadgeRevoked}
}

// Handle implements shared.EventHandler.
func (h *OnBadgeEventHandler) Handle(event shared.Event) error {
	switch event.EventType() {
	case shared.EventBadgeAwarded, shared.EventBadgeRevoked:
	default:
		h.logger.Warn("received unsupported event", "event_type", event.EventType())
		return nil
	}

	entry, err := auditEntryFrom(event)
	if err != nil {
		// Retrying a malformed payload cannot help.
		h.logger.Error("dropping malformed badge event",
			"event_type", event.EventType(),
			"aggregate_id", event.AggregateID(),
			"error", err,
		)
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), h.timeout)
	defer cancel()

	if err := h.audit.Append(ctx, entry); err != nil {
		return fmt.Errorf("append audit entry: %w", err)
	}

	h.logger.Debug("badge event audited",
		"event_type", entry.EventType,
		"badge_id", int64(entry.BadgeID),
		"recipient_id", int64(entry.RecipientID),
	)
	return nil
}

func auditEntryFrom(event shared.Event) (*badge.AuditEntry, error) {
	payload := event.Payload()

	badgeID, ok := shared.PayloadInt64(payload, "badge_id")
	if !ok {
		return nil, fmt.Errorf("payload has no badge_id")
	}
	recipientID, ok := shared.PayloadInt64(payload, "recipient_id")
	if !ok {
		return nil, fmt.Errorf("payload has no recipient_id")
	}
	contextID, _ := shared.PayloadInt64(payload, "context_id")

	occurred := event.OccurredAt()
	if occurred.IsZero() {
		occurred = time.Now()
	}

	return &badge.AuditEntry{
		CorrelationID: shared.CorrelationOf(event),
		EventType:     string(event.EventType()),
		BadgeID:       shared.BadgeID(badgeID),
		RecipientID:   shared.UserID(recipientID),
		ContextID:     shared.ContextID(contextID),
		OccurredAt:    occurred.UTC(),
	}, nil
}
