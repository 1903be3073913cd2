package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/alem-hub/alem-badges/internal/domain/badge"
	"github.com/alem-hub/alem-badges/internal/domain/recipient"
	"github.com/alem-hub/alem-badges/internal/domain/shared"
	"github.com/alem-hub/alem-badges/internal/infrastructure/directory"
	"github.com/alem-hub/alem-badges/pkg/sqlfrag"
)

// ══════════════════════════════════════════════════════════════════════════════
// MANUAL AWARDS
// ══════════════════════════════════════════════════════════════════════════════

// AwardRepository implements badge.AwardRepository.
type AwardRepository struct {
	db *sql.DB
}

// Exists checks for a record with the full natural key.
func (r *AwardRepository) Exists(ctx context.Context, key badge.AwardKey) (bool, error) {
	var found int
	err := r.db.QueryRowContext(ctx, `
		SELECT 1 FROM badge_manual_awards
		WHERE badge_id = ? AND issuer_id = ? AND issuer_role_id = ? AND recipient_id = ?
		LIMIT 1`,
		int64(key.BadgeID), int64(key.IssuerID), int64(key.IssuerRoleID), int64(key.RecipientID),
	).Scan(&found)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("check award existence: %w", err)
	}
	return true, nil
}

// Create inserts a manual award.
func (r *AwardRepository) Create(ctx context.Context, rec *badge.AwardRecord) error {
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO badge_manual_awards (badge_id, issuer_id, issuer_role_id, recipient_id, date_met)
		VALUES (?, ?, ?, ?, ?)`,
		int64(rec.BadgeID), int64(rec.IssuerID), int64(rec.IssuerRoleID), int64(rec.RecipientID), toMillis(rec.DateMet),
	)
	if err != nil {
		if IsUniqueViolation(err) {
			return shared.ErrAwardAlreadyExists
		}
		return fmt.Errorf("create award: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("create award: %w", err)
	}
	rec.ID = id
	return nil
}

// DeleteByIssuer removes all records for (badge, issuer, recipient) under any role.
func (r *AwardRepository) DeleteByIssuer(ctx context.Context, badgeID shared.BadgeID, issuerID, recipientID shared.UserID) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		"DELETE FROM badge_manual_awards WHERE badge_id = ? AND issuer_id = ? AND recipient_id = ?",
		int64(badgeID), int64(issuerID), int64(recipientID),
	)
	if err != nil {
		return 0, fmt.Errorf("delete awards: %w", err)
	}
	return res.RowsAffected()
}

// ══════════════════════════════════════════════════════════════════════════════
// ISSUED BADGES
// ══════════════════════════════════════════════════════════════════════════════

// IssuedRepository implements badge.IssuedRepository.
type IssuedRepository struct {
	db *sql.DB
}

// Create inserts an issued badge.
func (r *IssuedRepository) Create(ctx context.Context, b *badge.IssuedBadge) error {
	var expire sql.NullInt64
	if b.DateExpire != nil {
		expire = sql.NullInt64{Int64: toMillis(*b.DateExpire), Valid: true}
	}

	res, err := r.db.ExecContext(ctx, `
		INSERT INTO badge_issued (badge_id, user_id, unique_hash, date_issued, date_expire, visible)
		VALUES (?, ?, ?, ?, ?, ?)`,
		int64(b.BadgeID), int64(b.UserID), b.UniqueHash, toMillis(b.DateIssued), expire, b.Visible,
	)
	if err != nil {
		if IsUniqueViolation(err) {
			return shared.WrapError("badge", "Issue", shared.ErrAlreadyExists, "issued badge hash collision", err)
		}
		return fmt.Errorf("create issued badge: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("create issued badge: %w", err)
	}
	b.ID = id
	return nil
}

// DeleteByRecipient removes every issued badge for (badge, user).
func (r *IssuedRepository) DeleteByRecipient(ctx context.Context, badgeID shared.BadgeID, userID shared.UserID) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		"DELETE FROM badge_issued WHERE badge_id = ? AND user_id = ?",
		int64(badgeID), int64(userID),
	)
	if err != nil {
		return 0, fmt.Errorf("delete issued badges: %w", err)
	}
	return res.RowsAffected()
}

// ListByUser returns a user's issued badges joined with their definitions.
func (r *IssuedRepository) ListByUser(ctx context.Context, f badge.UserBadgeFilter) ([]*badge.IssuedBadge, error) {
	where := []string{"bi.user_id = ?"}
	args := []any{int64(f.UserID)}

	if f.ContextID.IsValid() {
		where = append(where, "b.context_id = ?")
		args = append(args, int64(f.ContextID))
	}
	if f.OnlyVisible {
		where = append(where, "bi.visible")
	}
	if s := strings.TrimSpace(f.Search); s != "" {
		where = append(where, FoldFunc+`(b.name) LIKE ? ESCAPE '\'`)
		args = append(args, "%"+directory.EscapeLike(strings.ToLower(s))+"%")
	}

	query := `
		SELECT bi.id, bi.badge_id, bi.user_id, bi.unique_hash, bi.date_issued, bi.date_expire,
		       bi.visible, b.name, b.context_id
		FROM badge_issued bi
		JOIN badges b ON b.id = bi.badge_id
		WHERE ` + strings.Join(where, " AND ") + `
		ORDER BY bi.date_issued DESC, bi.id DESC`
	if f.PerPage > 0 {
		query += " LIMIT ? OFFSET ?"
		args = append(args, f.PerPage, f.Offset())
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list user badges: %w", err)
	}
	defer rows.Close()

	var out []*badge.IssuedBadge
	for rows.Next() {
		var (
			b                      badge.IssuedBadge
			badgeID, userID, ctxID int64
			issued                 int64
			expire                 sql.NullInt64
		)
		if err := rows.Scan(&b.ID, &badgeID, &userID, &b.UniqueHash, &issued, &expire,
			&b.Visible, &b.BadgeName, &ctxID); err != nil {
			return nil, fmt.Errorf("scan issued badge: %w", err)
		}
		b.BadgeID = shared.BadgeID(badgeID)
		b.UserID = shared.UserID(userID)
		b.ContextID = shared.ContextID(ctxID)
		b.DateIssued = fromMillis(issued)
		if expire.Valid {
			t := fromMillis(expire.Int64)
			b.DateExpire = &t
		}
		out = append(out, &b)
	}
	return out, rows.Err()
}

// ══════════════════════════════════════════════════════════════════════════════
// BADGES
// ══════════════════════════════════════════════════════════════════════════════

// BadgeRepository implements badge.BadgeRepository.
type BadgeRepository struct {
	db *sql.DB
}

// Create inserts a badge definition.
func (r *BadgeRepository) Create(ctx context.Context, b *badge.Badge) error {
	res, err := r.db.ExecContext(ctx,
		"INSERT INTO badges (context_id, name) VALUES (?, ?)",
		int64(b.ContextID), b.Name,
	)
	if err != nil {
		return fmt.Errorf("create badge: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("create badge: %w", err)
	}
	b.ID = shared.BadgeID(id)
	return nil
}

// GetByID loads a badge definition.
func (r *BadgeRepository) GetByID(ctx context.Context, id shared.BadgeID) (*badge.Badge, error) {
	var (
		b     badge.Badge
		ctxID int64
	)
	err := r.db.QueryRowContext(ctx,
		"SELECT name, context_id FROM badges WHERE id = ?", int64(id),
	).Scan(&b.Name, &ctxID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, shared.ErrBadgeNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get badge: %w", err)
	}
	b.ID = id
	b.ContextID = shared.ContextID(ctxID)
	return &b, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// RECIPIENTS
// ══════════════════════════════════════════════════════════════════════════════

// RecipientStore implements recipient.Store.
type RecipientStore struct {
	db *sql.DB
}

// CountRecipients runs a composed COUNT statement.
func (s *RecipientStore) CountRecipients(ctx context.Context, stmt sqlfrag.Fragment) (int, error) {
	query, args, err := sqlfrag.Bind(sqlfrag.SQLite, stmt)
	if err != nil {
		return 0, err
	}

	var n int
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("count recipients: %w", err)
	}
	return n, nil
}

// ListRecipients runs a composed SELECT statement.
func (s *RecipientStore) ListRecipients(ctx context.Context, stmt sqlfrag.Fragment) ([]recipient.Recipient, error) {
	query, args, err := sqlfrag.Bind(sqlfrag.SQLite, stmt)
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list recipients: %w", err)
	}
	defer rows.Close()

	var out []recipient.Recipient
	for rows.Next() {
		var (
			r  recipient.Recipient
			id int64
		)
		if err := rows.Scan(&id, &r.Username, &r.FirstName, &r.LastName, &r.Email); err != nil {
			return nil, fmt.Errorf("scan recipient: %w", err)
		}
		r.ID = shared.UserID(id)
		out = append(out, r)
	}
	return out, rows.Err()
}

// ══════════════════════════════════════════════════════════════════════════════
// AUDIT
// ══════════════════════════════════════════════════════════════════════════════

// AuditRepository implements badge.AuditRepository.
type AuditRepository struct {
	db *sql.DB
}

// Append inserts an audit entry.
func (r *AuditRepository) Append(ctx context.Context, e *badge.AuditEntry) error {
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO badge_audit_log (correlation_id, event_type, badge_id, recipient_id, context_id, occurred_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		e.CorrelationID, e.EventType, int64(e.BadgeID), int64(e.RecipientID), int64(e.ContextID), toMillis(e.OccurredAt),
	)
	if err != nil {
		return fmt.Errorf("append audit entry: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("append audit entry: %w", err)
	}
	e.ID = id
	return nil
}

// ListByBadge returns the latest entries for a badge.
func (r *AuditRepository) ListByBadge(ctx context.Context, badgeID shared.BadgeID, limit int) ([]*badge.AuditEntry, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT id, correlation_id, event_type, badge_id, recipient_id, context_id, occurred_at
		FROM badge_audit_log
		WHERE badge_id = ?
		ORDER BY occurred_at DESC, id DESC
		LIMIT ?`,
		int64(badgeID), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list audit entries: %w", err)
	}
	defer rows.Close()

	var out []*badge.AuditEntry
	for rows.Next() {
		var (
			e                     badge.AuditEntry
			bID, rID, cID, occurs int64
		)
		if err := rows.Scan(&e.ID, &e.CorrelationID, &e.EventType, &bID, &rID, &cID, &occurs); err != nil {
			return nil, fmt.Errorf("scan audit entry: %w", err)
		}
		e.BadgeID = shared.BadgeID(bID)
		e.RecipientID = shared.UserID(rID)
		e.ContextID = shared.ContextID(cID)
		e.OccurredAt = fromMillis(occurs)
		out = append(out, &e)
	}
	return out, rows.Err()
}
