package postgres

import (
	"context"
	"fmt"

	"github.com/alem-hub/alem-badges/internal/domain/badge"
	"github.com/alem-hub/alem-badges/internal/domain/shared"
)

// AwardRepository implements badge.AwardRepository for PostgreSQL.
type AwardRepository struct {
	conn Querier
}

// NewAwardRepository creates a new AwardRepository.
func NewAwardRepository(conn Querier) *AwardRepository {
	return &AwardRepository{conn: conn}
}

// Exists checks for a record with the full natural key.
func (r *AwardRepository) Exists(ctx context.Context, key badge.AwardKey) (bool, error) {
	var exists bool
	err := r.conn.QueryRow(ctx, `
		SELECT EXISTS(
			SELECT 1 FROM badge_manual_awards
			WHERE badge_id = $1 AND issuer_id = $2 AND issuer_role_id = $3 AND recipient_id = $4
		)`,
		int64(key.BadgeID), int64(key.IssuerID), int64(key.IssuerRoleID), int64(key.RecipientID),
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check award existence: %w", err)
	}
	return exists, nil
}

// Create inserts a manual award.
func (r *AwardRepository) Create(ctx context.Context, rec *badge.AwardRecord) error {
	err := r.conn.QueryRow(ctx, `
		INSERT INTO badge_manual_awards (badge_id, issuer_id, issuer_role_id, recipient_id, date_met)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id`,
		int64(rec.BadgeID), int64(rec.IssuerID), int64(rec.IssuerRoleID), int64(rec.RecipientID), rec.DateMet,
	).Scan(&rec.ID)
	if err != nil {
		if IsUniqueViolation(err) {
			return shared.ErrAwardAlreadyExists
		}
		return fmt.Errorf("failed to create award: %w", err)
	}
	return nil
}

// DeleteByIssuer removes all records for (badge, issuer, recipient) under any role.
func (r *AwardRepository) DeleteByIssuer(ctx context.Context, badgeID shared.BadgeID, issuerID, recipientID shared.UserID) (int64, error) {
	tag, err := r.conn.Exec(ctx, `
		DELETE FROM badge_manual_awards
		WHERE badge_id = $1 AND issuer_id = $2 AND recipient_id = $3`,
		int64(badgeID), int64(issuerID), int64(recipientID),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to delete awards: %w", err)
	}
	return tag.RowsAffected(), nil
}
