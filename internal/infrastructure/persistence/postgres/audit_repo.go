package postgres

import (
	"context"
	"fmt"

	"github.com/alem-hub/alem-badges/internal/domain/badge"
	"github.com/alem-hub/alem-badges/internal/domain/shared"
)

// AuditRepository implements badge.AuditRepository for PostgreSQL.
type AuditRepository struct {
	conn Querier
}

// NewAuditRepository creates a new AuditRepository.
func NewAuditRepository(conn Querier) *AuditRepository {
	return &AuditRepository{conn: conn}
}

// Append inserts an audit entry.
func (r *AuditRepository) Append(ctx context.Context, e *badge.AuditEntry) error {
	err := r.conn.QueryRow(ctx, `
		INSERT INTO badge_audit_log (correlation_id, event_type, badge_id, recipient_id, context_id, occurred_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id`,
		e.CorrelationID, e.EventType, int64(e.BadgeID), int64(e.RecipientID), int64(e.ContextID), e.OccurredAt,
	).Scan(&e.ID)
	if err != nil {
		return fmt.Errorf("failed to append audit entry: %w", err)
	}
	return nil
}

// ListByBadge returns the latest entries for a badge.
func (r *AuditRepository) ListByBadge(ctx context.Context, badgeID shared.BadgeID, limit int) ([]*badge.AuditEntry, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := r.conn.Query(ctx, `
		SELECT id, correlation_id, event_type, badge_id, recipient_id, context_id, occurred_at
		FROM badge_audit_log
		WHERE badge_id = $1
		ORDER BY occurred_at DESC, id DESC
		LIMIT $2`,
		int64(badgeID), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list audit entries: %w", err)
	}
	defer rows.Close()

	var out []*badge.AuditEntry
	for rows.Next() {
		var (
			e             badge.AuditEntry
			bID, rID, cID int64
		)
		if err := rows.Scan(&e.ID, &e.CorrelationID, &e.EventType, &bID, &rID, &cID, &e.OccurredAt); err != nil {
			return nil, fmt.Errorf("failed to scan audit entry: %w", err)
		}
		e.BadgeID = shared.BadgeID(bID)
		e.RecipientID = shared.UserID(rID)
		e.ContextID = shared.ContextID(cID)
		out = append(out, &e)
	}
	return out, rows.Err()
}
