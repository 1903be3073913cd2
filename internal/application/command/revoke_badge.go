package command

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/alem-hub/alem-badges/internal/domain/badge"
	"github.com/alem-hub/alem-badges/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// REVOKE BADGE COMMAND
// Undoes a manual award: award rows first, then issued badges, then one event.
// ══════════════════════════════════════════════════════════════════════════════

// RevokeBadgeCommand contains the data to revoke a badge.
type RevokeBadgeCommand struct {
	RecipientID  shared.UserID
	IssuerID     shared.UserID
	IssuerRoleID shared.RoleID
	BadgeID      shared.BadgeID

	// CorrelationID for tracing.
	CorrelationID string
}

// Key returns the natural key checked before revoking.
func (c RevokeBadgeCommand) Key() badge.AwardKey {
	return badge.AwardKey{
		BadgeID:      c.BadgeID,
		IssuerID:     c.IssuerID,
		IssuerRoleID: c.IssuerRoleID,
		RecipientID:  c.RecipientID,
	}
}

// Validate validates the command.
func (c RevokeBadgeCommand) Validate() error {
	return c.Key().Validate()
}

// ══════════════════════════════════════════════════════════════════════════════
// HANDLER
// ══════════════════════════════════════════════════════════════════════════════

// RevokeBadgeHandler handles the RevokeBadgeCommand.
type RevokeBadgeHandler struct {
	awards         badge.AwardRepository
	issued         badge.IssuedRepository
	badges         badge.BadgeRepository
	eventPublisher shared.EventPublisher
	logger         *slog.Logger
}

// NewRevokeBadgeHandler creates a new RevokeBadgeHandler.
// badges, eventPublisher and logger may be nil; without badges the revoked
// event carries no context.
func NewRevokeBadgeHandler(
	awards badge.AwardRepository,
	issued badge.IssuedRepository,
	badges badge.BadgeRepository,
	eventPublisher shared.EventPublisher,
	logger *slog.Logger,
) *RevokeBadgeHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &RevokeBadgeHandler{
		awards:         awards,
		issued:         issued,
		badges:         badges,
		eventPublisher: eventPublisher,
		logger:         logger,
	}
}

// Handle revokes the badge and returns true on success.
//
// The existence check uses the full key, but the delete removes the issuer's
// awards for (badge, recipient) under every role. Returns
// shared.ErrAwardNotFound when nothing matched.
func (h *RevokeBadgeHandler) Handle(ctx context.Context, cmd RevokeBadgeCommand) (bool, error) {
	if err := cmd.Validate(); err != nil {
		return false, fmt.Errorf("revoke_badge: validation failed: %w", err)
	}

	exists, err := h.awards.Exists(ctx, cmd.Key())
	if err != nil {
		return false, shared.WrapError("badge", "Revoke", shared.ErrStorage, "failed to check award", err)
	}
	if !exists {
		return false, shared.ErrAwardNotFound
	}

	deleted, err := h.awards.DeleteByIssuer(ctx, cmd.BadgeID, cmd.IssuerID, cmd.RecipientID)
	if err != nil {
		return false, shared.WrapError("badge", "Revoke", shared.ErrStorage, "failed to delete award", err)
	}
	if deleted == 0 {
		// A concurrent revoke removed the rows between check and delete.
		return false, shared.ErrAwardNotFound
	}

	log := h.logger.With(
		"badge_id", int64(cmd.BadgeID),
		"recipient_id", int64(cmd.RecipientID),
		"issuer_id", int64(cmd.IssuerID),
	)

	// Zero issued rows is fine: the badge may never have been issued.
	removed, err := h.issued.DeleteByRecipient(ctx, cmd.BadgeID, cmd.RecipientID)
	if err != nil {
		return false, shared.WrapError("badge", "Revoke", shared.ErrStorage, "failed to delete issued badge", err)
	}

	log.Info("badge revoked", "awards_deleted", deleted, "issued_deleted", removed)

	h.publish(ctx, cmd, log)

	return true, nil
}

func (h *RevokeBadgeHandler) publish(ctx context.Context, cmd RevokeBadgeCommand, log *slog.Logger) {
	if h.eventPublisher == nil {
		return
	}

	var contextID shared.ContextID
	if h.badges != nil {
		b, err := h.badges.GetByID(ctx, cmd.BadgeID)
		if err != nil {
			log.Warn("failed to resolve badge context", "error", err)
		} else {
			contextID = b.ContextID
		}
	}

	event := shared.NewBadgeRevokedEvent(int64(cmd.BadgeID), int64(cmd.RecipientID), int64(contextID))
	event.BaseEvent = event.WithCorrelationID(cmd.CorrelationID)
	if err := h.eventPublisher.Publish(event); err != nil {
		log.Warn("failed to publish badge revoked event", "error", err)
	}
}
