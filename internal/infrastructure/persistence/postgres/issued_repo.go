package postgres

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/alem-hub/alem-badges/internal/domain/badge"
	"github.com/alem-hub/alem-badges/internal/domain/shared"
	"github.com/alem-hub/alem-badges/internal/infrastructure/directory"
)

// IssuedRepository implements badge.IssuedRepository for PostgreSQL.
type IssuedRepository struct {
	conn Querier
}

// NewIssuedRepository creates a new IssuedRepository.
func NewIssuedRepository(conn Querier) *IssuedRepository {
	return &IssuedRepository{conn: conn}
}

// Create inserts an issued badge.
func (r *IssuedRepository) Create(ctx context.Context, b *badge.IssuedBadge) error {
	err := r.conn.QueryRow(ctx, `
		INSERT INTO badge_issued (badge_id, user_id, unique_hash, date_issued, date_expire, visible)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id`,
		int64(b.BadgeID), int64(b.UserID), b.UniqueHash, b.DateIssued, b.DateExpire, b.Visible,
	).Scan(&b.ID)
	if err != nil {
		if IsUniqueViolation(err) {
			return shared.WrapError("badge", "Issue", shared.ErrAlreadyExists, "issued badge hash collision", err)
		}
		return fmt.Errorf("failed to create issued badge: %w", err)
	}
	return nil
}

// DeleteByRecipient removes every issued badge for (badge, user).
func (r *IssuedRepository) DeleteByRecipient(ctx context.Context, badgeID shared.BadgeID, userID shared.UserID) (int64, error) {
	tag, err := r.conn.Exec(ctx,
		"DELETE FROM badge_issued WHERE badge_id = $1 AND user_id = $2",
		int64(badgeID), int64(userID),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to delete issued badges: %w", err)
	}
	return tag.RowsAffected(), nil
}

// ListByUser returns a user's issued badges joined with their definitions.
func (r *IssuedRepository) ListByUser(ctx context.Context, f badge.UserBadgeFilter) ([]*badge.IssuedBadge, error) {
	var (
		where = []string{"bi.user_id = $1"}
		args  = []any{int64(f.UserID)}
	)
	arg := func(v any) string {
		args = append(args, v)
		return "$" + strconv.Itoa(len(args))
	}

	if f.ContextID.IsValid() {
		where = append(where, "b.context_id = "+arg(int64(f.ContextID)))
	}
	if f.OnlyVisible {
		where = append(where, "bi.visible")
	}
	if s := strings.TrimSpace(f.Search); s != "" {
		where = append(where, "LOWER(b.name) LIKE "+arg("%"+directory.EscapeLike(strings.ToLower(s))+"%")+` ESCAPE '\'`)
	}

	query := `
		SELECT bi.id, bi.badge_id, bi.user_id, bi.unique_hash, bi.date_issued, bi.date_expire,
		       bi.visible, b.name, b.context_id
		FROM badge_issued bi
		JOIN badges b ON b.id = bi.badge_id
		WHERE ` + strings.Join(where, " AND ") + `
		ORDER BY bi.date_issued DESC, bi.id DESC`

	if f.PerPage > 0 {
		query += " LIMIT " + arg(f.PerPage) + " OFFSET " + arg(f.Offset())
	}

	rows, err := r.conn.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list user badges: %w", err)
	}
	defer rows.Close()

	return scanIssued(rows)
}

func scanIssued(rows pgx.Rows) ([]*badge.IssuedBadge, error) {
	var out []*badge.IssuedBadge
	for rows.Next() {
		var (
			b                      badge.IssuedBadge
			badgeID, userID, ctxID int64
		)
		if err := rows.Scan(&b.ID, &badgeID, &userID, &b.UniqueHash, &b.DateIssued, &b.DateExpire,
			&b.Visible, &b.BadgeName, &ctxID); err != nil {
			return nil, fmt.Errorf("failed to scan issued badge: %w", err)
		}
		b.BadgeID = shared.BadgeID(badgeID)
		b.UserID = shared.UserID(userID)
		b.ContextID = shared.ContextID(ctxID)
		out = append(out, &b)
	}
	return out, rows.Err()
}
