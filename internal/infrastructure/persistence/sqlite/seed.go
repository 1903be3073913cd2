package sqlite

import (
	"context"
	"fmt"

	"github.com/alem-hub/alem-badges/internal/domain/shared"
)

// DirectoryUser is a row of the users table.
type DirectoryUser struct {
	ID        shared.UserID
	Username  string
	FirstName string
	LastName  string
	Email     string
	Deleted   bool
	Suspended bool
}

// AddUser inserts a directory user and fills its ID when unset.
func (s *Store) AddUser(ctx context.Context, u *DirectoryUser) error {
	var id any
	if u.ID.IsValid() {
		id = int64(u.ID)
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, username, firstname, lastname, email, deleted, suspended)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		id, u.Username, u.FirstName, u.LastName, u.Email, u.Deleted, u.Suspended,
	)
	if err != nil {
		return fmt.Errorf("add user %q: %w", u.Username, err)
	}
	if !u.ID.IsValid() {
		n, err := res.LastInsertId()
		if err != nil {
			return fmt.Errorf("add user %q: %w", u.Username, err)
		}
		u.ID = shared.UserID(n)
	}
	return nil
}

// Enrol gives userID an active enrolment in contextID with the capabilities.
func (s *Store) Enrol(ctx context.Context, contextID shared.ContextID, userID shared.UserID, capabilities ...string) error {
	if _, err := s.db.ExecContext(ctx,
		"INSERT OR REPLACE INTO enrolments (context_id, user_id, active) VALUES (?, ?, 1)",
		int64(contextID), int64(userID),
	); err != nil {
		return fmt.Errorf("enrol user %d: %w", userID, err)
	}

	for _, c := range capabilities {
		if _, err := s.db.ExecContext(ctx,
			"INSERT OR IGNORE INTO user_capabilities (context_id, user_id, capability) VALUES (?, ?, ?)",
			int64(contextID), int64(userID), c,
		); err != nil {
			return fmt.Errorf("grant %s to user %d: %w", c, userID, err)
		}
	}
	return nil
}

// AddGroupMember adds userID to groupID.
func (s *Store) AddGroupMember(ctx context.Context, groupID shared.GroupID, userID shared.UserID) error {
	if _, err := s.db.ExecContext(ctx,
		"INSERT OR IGNORE INTO group_members (group_id, user_id) VALUES (?, ?)",
		int64(groupID), int64(userID),
	); err != nil {
		return fmt.Errorf("add user %d to group %d: %w", userID, groupID, err)
	}
	return nil
}
