package postgres

import (
	"context"
	"fmt"

	"github.com/alem-hub/alem-badges/internal/domain/recipient"
	"github.com/alem-hub/alem-badges/internal/domain/shared"
	"github.com/alem-hub/alem-badges/pkg/sqlfrag"
)

// RecipientStore implements recipient.Store for PostgreSQL.
type RecipientStore struct {
	conn Querier
}

// NewRecipientStore creates a new RecipientStore.
func NewRecipientStore(conn Querier) *RecipientStore {
	return &RecipientStore{conn: conn}
}

// CountRecipients runs a composed COUNT statement.
func (s *RecipientStore) CountRecipients(ctx context.Context, stmt sqlfrag.Fragment) (int, error) {
	sql, args, err := sqlfrag.Bind(sqlfrag.Postgres, stmt)
	if err != nil {
		return 0, err
	}

	var n int
	if err := s.conn.QueryRow(ctx, sql, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count recipients: %w", err)
	}
	return n, nil
}

// ListRecipients runs a composed SELECT statement.
func (s *RecipientStore) ListRecipients(ctx context.Context, stmt sqlfrag.Fragment) ([]recipient.Recipient, error) {
	sql, args, err := sqlfrag.Bind(sqlfrag.Postgres, stmt)
	if err != nil {
		return nil, err
	}

	rows, err := s.conn.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list recipients: %w", err)
	}
	defer rows.Close()

	var out []recipient.Recipient
	for rows.Next() {
		var (
			r  recipient.Recipient
			id int64
		)
		if err := rows.Scan(&id, &r.Username, &r.FirstName, &r.LastName, &r.Email); err != nil {
			return nil, fmt.Errorf("failed to scan recipient: %w", err)
		}
		r.ID = shared.UserID(id)
		out = append(out, r)
	}
	return out, rows.Err()
}
