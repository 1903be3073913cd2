// Package command contains write operations (CQRS - Commands).
package command

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/alem-hub/alem-badges/internal/domain/badge"
	"github.com/alem-hub/alem-badges/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// AWARD BADGE COMMAND
// Grants a badge manually. A duplicate grant is a no-op, not an error.
// ══════════════════════════════════════════════════════════════════════════════

// AwardBadgeCommand contains the data to award a badge.
type AwardBadgeCommand struct {
	RecipientID  shared.UserID
	IssuerID     shared.UserID
	IssuerRoleID shared.RoleID
	BadgeID      shared.BadgeID

	// CorrelationID for tracing.
	CorrelationID string
}

// Key returns the natural key of the award.
func (c AwardBadgeCommand) Key() badge.AwardKey {
	return badge.AwardKey{
		BadgeID:      c.BadgeID,
		IssuerID:     c.IssuerID,
		IssuerRoleID: c.IssuerRoleID,
		RecipientID:  c.RecipientID,
	}
}

// Validate validates the command.
func (c AwardBadgeCommand) Validate() error {
	return c.Key().Validate()
}

// ══════════════════════════════════════════════════════════════════════════════
// HANDLER
// ══════════════════════════════════════════════════════════════════════════════

// AwardBadgeHandler handles the AwardBadgeCommand.
type AwardBadgeHandler struct {
	awards         badge.AwardRepository
	eventPublisher shared.EventPublisher
	logger         *slog.Logger
	now            func() time.Time
}

// NewAwardBadgeHandler creates a new AwardBadgeHandler.
// eventPublisher and logger may be nil.
func NewAwardBadgeHandler(
	awards badge.AwardRepository,
	eventPublisher shared.EventPublisher,
	logger *slog.Logger,
) *AwardBadgeHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &AwardBadgeHandler{
		awards:         awards,
		eventPublisher: eventPublisher,
		logger:         logger,
		now:            time.Now,
	}
}

// Handle awards the badge. It returns true when a new award was recorded and
// false when an identical award already exists.
func (h *AwardBadgeHandler) Handle(ctx context.Context, cmd AwardBadgeCommand) (bool, error) {
	if err := cmd.Validate(); err != nil {
		return false, fmt.Errorf("award_badge: validation failed: %w", err)
	}

	key := cmd.Key()

	exists, err := h.awards.Exists(ctx, key)
	if err != nil {
		return false, shared.WrapError("badge", "Award", shared.ErrStorage, "failed to check existing award", err)
	}
	if exists {
		return false, nil
	}

	record := badge.NewAwardRecord(key, h.now())
	if err := h.awards.Create(ctx, record); err != nil {
		// A concurrent identical award won the race; the store constraint caught it.
		if errors.Is(err, shared.ErrAwardAlreadyExists) {
			h.logger.Debug("concurrent duplicate award folded",
				"badge_id", int64(cmd.BadgeID),
				"recipient_id", int64(cmd.RecipientID),
			)
			return false, nil
		}
		return false, shared.WrapError("badge", "Award", shared.ErrStorage, "failed to create award", err)
	}

	h.logger.Info("badge awarded",
		"badge_id", int64(cmd.BadgeID),
		"recipient_id", int64(cmd.RecipientID),
		"issuer_id", int64(cmd.IssuerID),
		"issuer_role_id", int64(cmd.IssuerRoleID),
	)

	if h.eventPublisher != nil {
		event := shared.NewBadgeAwardedEvent(
			int64(cmd.BadgeID), int64(cmd.RecipientID), int64(cmd.IssuerID), int64(cmd.IssuerRoleID),
		)
		event.BaseEvent = event.WithCorrelationID(cmd.CorrelationID)
		if err := h.eventPublisher.Publish(event); err != nil {
			h.logger.Warn("failed to publish badge awarded event", "error", err)
		}
	}

	return true, nil
}
