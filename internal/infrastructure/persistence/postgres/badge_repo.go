package postgres

import (
	"context"
	"fmt"

	"github.com/alem-hub/alem-badges/internal/domain/badge"
	"github.com/alem-hub/alem-badges/internal/domain/shared"
)

// BadgeRepository implements badge.BadgeRepository for PostgreSQL.
type BadgeRepository struct {
	conn Querier
}

// NewBadgeRepository creates a new BadgeRepository.
func NewBadgeRepository(conn Querier) *BadgeRepository {
	return &BadgeRepository{conn: conn}
}

// Create inserts a badge definition.
func (r *BadgeRepository) Create(ctx context.Context, b *badge.Badge) error {
	var id int64
	err := r.conn.QueryRow(ctx,
		"INSERT INTO badges (context_id, name) VALUES ($1, $2) RETURNING id",
		int64(b.ContextID), b.Name,
	).Scan(&id)
	if err != nil {
		return fmt.Errorf("failed to create badge: %w", err)
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
	err := r.conn.QueryRow(ctx,
		"SELECT name, context_id FROM badges WHERE id = $1",
		int64(id),
	).Scan(&b.Name, &ctxID)
	if err != nil {
		if IsNoRows(err) {
			return nil, shared.ErrBadgeNotFound
		}
		return nil, fmt.Errorf("failed to get badge: %w", err)
	}
	b.ID = id
	b.ContextID = shared.ContextID(ctxID)
	return &b, nil
}
