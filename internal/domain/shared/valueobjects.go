package shared

import (
	"fmt"
	"strconv"
	"strings"
)

// ═══════════════════════════════════════════════════════════════════════════
// ID Value Objects
// ═══════════════════════════════════════════════════════════════════════════

// BadgeID identifies an awardable badge.
type BadgeID int64

// UserID identifies a platform user (issuer or recipient).
type UserID int64

// RoleID identifies the role under which an issuer grants a badge.
type RoleID int64

// GroupID identifies a course group. Zero means "no group restriction".
type GroupID int64

// ContextID identifies the course (or site) context a badge belongs to.
type ContextID int64

// IsValid reports whether the id is set.
func (id BadgeID) IsValid() bool { return id > 0 }

// IsValid reports whether the id is set.
func (id UserID) IsValid() bool { return id > 0 }

// IsValid reports whether the id is set.
func (id RoleID) IsValid() bool { return id > 0 }

// IsValid reports whether the id is set.
func (id GroupID) IsValid() bool { return id > 0 }

// IsValid reports whether the id is set.
func (id ContextID) IsValid() bool { return id > 0 }

// String returns the decimal form of the id.
func (id BadgeID) String() string { return strconv.FormatInt(int64(id), 10) }

// String returns the decimal form of the id.
func (id UserID) String() string { return strconv.FormatInt(int64(id), 10) }

// ParseUserID parses a decimal user id.
func ParseUserID(s string) (UserID, error) {
	v, err := parsePositive(s)
	return UserID(v), err
}

// ParseBadgeID parses a decimal badge id.
func ParseBadgeID(s string) (BadgeID, error) {
	v, err := parsePositive(s)
	return BadgeID(v), err
}

// ParseUserIDs parses a comma-separated list of user ids, skipping blanks.
func ParseUserIDs(s string) ([]UserID, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}

	parts := strings.Split(s, ",")
	ids := make([]UserID, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		id, err := ParseUserID(p)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func parsePositive(s string) (int64, error) {
	v, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil || v <= 0 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidID, s)
	}
	return v, nil
}
